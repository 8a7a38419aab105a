package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/sawpanic/stablerisk/internal/persistence"
)

// Schema creates the score history table; applied by `stablerisk migrate`
const Schema = `
CREATE TABLE IF NOT EXISTS risk_scores (
	id          UUID PRIMARY KEY,
	ts          TIMESTAMPTZ NOT NULL,
	symbol      TEXT NOT NULL,
	volatility  DOUBLE PRECISION NOT NULL,
	market_cap  DOUBLE PRECISION NOT NULL,
	raw_score   DOUBLE PRECISION NOT NULL,
	score       DOUBLE PRECISION NOT NULL CHECK (score BETWEEN 50 AND 150),
	clamped     BOOLEAN NOT NULL,
	source      TEXT NOT NULL DEFAULT '',
	created_at  TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS risk_scores_symbol_ts_idx ON risk_scores (symbol, ts DESC);`

type scoreRepo struct {
	db      *sqlx.DB
	timeout time.Duration
}

// NewScoreRepo creates a PostgreSQL score repository
func NewScoreRepo(db *sqlx.DB, timeout time.Duration) persistence.ScoreRepo {
	return &scoreRepo{db: db, timeout: timeout}
}

func (r *scoreRepo) Insert(ctx context.Context, rec *persistence.ScoreRecord) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	if rec.Symbol == "" {
		return errors.New("symbol cannot be empty")
	}
	if rec.Timestamp.IsZero() {
		return errors.New("timestamp cannot be zero")
	}
	if rec.ID == uuid.Nil {
		rec.ID = uuid.New()
	}

	query := `
		INSERT INTO risk_scores
		(id, ts, symbol, volatility, market_cap, raw_score, score, clamped, source)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING created_at`

	err := r.db.QueryRowxContext(ctx, query,
		rec.ID, rec.Timestamp, strings.ToLower(rec.Symbol), rec.Volatility, rec.MarketCap,
		rec.RawScore, rec.Score, rec.Clamped, rec.Source).
		Scan(&rec.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert risk score: %w", err)
	}
	return nil
}

func (r *scoreRepo) Latest(ctx context.Context, symbol string) (*persistence.ScoreRecord, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	query := `
		SELECT id, ts, symbol, volatility, market_cap, raw_score, score, clamped, source, created_at
		FROM risk_scores
		WHERE symbol = $1
		ORDER BY ts DESC
		LIMIT 1`

	var rec persistence.ScoreRecord
	if err := r.db.GetContext(ctx, &rec, query, strings.ToLower(symbol)); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get latest risk score: %w", err)
	}
	return &rec, nil
}

func (r *scoreRepo) ListBySymbol(ctx context.Context, symbol string, tr persistence.TimeRange, limit int) ([]persistence.ScoreRecord, error) {
	if err := tr.Validate(); err != nil {
		return nil, err
	}
	if limit <= 0 || limit > persistence.MaxListLimit {
		limit = persistence.MaxListLimit
	}

	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	from, to := tr.From, tr.To
	if to.IsZero() {
		to = time.Now().UTC()
	}

	query := `
		SELECT id, ts, symbol, volatility, market_cap, raw_score, score, clamped, source, created_at
		FROM risk_scores
		WHERE symbol = $1 AND ts >= $2 AND ts <= $3
		ORDER BY ts DESC
		LIMIT $4`

	var recs []persistence.ScoreRecord
	if err := r.db.SelectContext(ctx, &recs, query, strings.ToLower(symbol), from, to, limit); err != nil {
		return nil, fmt.Errorf("failed to list risk scores: %w", err)
	}
	return recs, nil
}
