package postgres

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sawpanic/stablerisk/internal/persistence"
)

var scoreColumns = []string{"id", "ts", "symbol", "volatility", "market_cap", "raw_score", "score", "clamped", "source", "created_at"}

func newMockRepo(t *testing.T) (persistence.ScoreRepo, sqlmock.Sqlmock) {
	t.Helper()
	mockDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { mockDB.Close() })

	return NewScoreRepo(sqlx.NewDb(mockDB, "postgres"), 5*time.Second), mock
}

func TestScoreRepo_Insert(t *testing.T) {
	repo, mock := newMockRepo(t)
	ts := time.Date(2025, 9, 7, 12, 0, 0, 0, time.UTC)
	created := ts.Add(time.Second)

	rec := &persistence.ScoreRecord{
		Timestamp:  ts,
		Symbol:     "USD-Coin",
		Volatility: 0.0004,
		MarketCap:  3.5e10,
		RawScore:   0.016,
		Score:      50,
		Clamped:    true,
		Source:     "coingecko",
	}

	mock.ExpectQuery("INSERT INTO risk_scores").
		WithArgs(sqlmock.AnyArg(), ts, "usd-coin", 0.0004, 3.5e10, 0.016, 50.0, true, "coingecko").
		WillReturnRows(sqlmock.NewRows([]string{"created_at"}).AddRow(created))

	require.NoError(t, repo.Insert(context.Background(), rec))
	assert.NotEqual(t, uuid.Nil, rec.ID)
	assert.Equal(t, created, rec.CreatedAt)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestScoreRepo_InsertValidation(t *testing.T) {
	repo, mock := newMockRepo(t)

	err := repo.Insert(context.Background(), &persistence.ScoreRecord{Timestamp: time.Now()})
	assert.ErrorContains(t, err, "symbol")

	err = repo.Insert(context.Background(), &persistence.ScoreRecord{Symbol: "dai"})
	assert.ErrorContains(t, err, "timestamp")

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestScoreRepo_InsertError(t *testing.T) {
	repo, mock := newMockRepo(t)

	mock.ExpectQuery("INSERT INTO risk_scores").WillReturnError(errors.New("check constraint violated"))

	err := repo.Insert(context.Background(), &persistence.ScoreRecord{Symbol: "dai", Timestamp: time.Now()})
	assert.ErrorContains(t, err, "failed to insert risk score")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestScoreRepo_Latest(t *testing.T) {
	repo, mock := newMockRepo(t)
	id := uuid.New()
	ts := time.Date(2025, 9, 7, 12, 0, 0, 0, time.UTC)

	mock.ExpectQuery("SELECT (.+) FROM risk_scores WHERE symbol = \\$1").
		WithArgs("tether").
		WillReturnRows(sqlmock.NewRows(scoreColumns).
			AddRow(id.String(), ts, "tether", 0.001, 1.1e11, 0.04, 50.0, true, "coingecko", ts))

	rec, err := repo.Latest(context.Background(), "tether")
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, id, rec.ID)
	assert.Equal(t, 50.0, rec.Score)
	assert.True(t, rec.Clamped)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestScoreRepo_LatestNotFound(t *testing.T) {
	repo, mock := newMockRepo(t)

	mock.ExpectQuery("SELECT (.+) FROM risk_scores").
		WithArgs("frax").
		WillReturnRows(sqlmock.NewRows(scoreColumns))

	rec, err := repo.Latest(context.Background(), "frax")
	require.NoError(t, err)
	assert.Nil(t, rec)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestScoreRepo_ListBySymbol(t *testing.T) {
	repo, mock := newMockRepo(t)
	from := time.Date(2025, 9, 1, 0, 0, 0, 0, time.UTC)
	to := time.Date(2025, 9, 8, 0, 0, 0, 0, time.UTC)

	rows := sqlmock.NewRows(scoreColumns).
		AddRow(uuid.NewString(), to.Add(-time.Hour), "dai", 0.002, 5e9, 0.08, 50.0, true, "coingecko", to).
		AddRow(uuid.NewString(), to.Add(-2*time.Hour), "dai", 0.003, 5e9, 0.12, 50.0, true, "coingecko", to)

	mock.ExpectQuery("SELECT (.+) FROM risk_scores WHERE symbol = \\$1 AND ts >= \\$2 AND ts <= \\$3").
		WithArgs("dai", from, to, 10).
		WillReturnRows(rows)

	recs, err := repo.ListBySymbol(context.Background(), "dai", persistence.TimeRange{From: from, To: to}, 10)
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.True(t, recs[0].Timestamp.After(recs[1].Timestamp))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestScoreRepo_ListBySymbolDefaultsAndValidation(t *testing.T) {
	repo, mock := newMockRepo(t)

	mock.ExpectQuery("SELECT (.+) FROM risk_scores").
		WithArgs("dai", time.Time{}, sqlmock.AnyArg(), persistence.MaxListLimit).
		WillReturnRows(sqlmock.NewRows(scoreColumns))

	recs, err := repo.ListBySymbol(context.Background(), "dai", persistence.TimeRange{}, 0)
	require.NoError(t, err)
	assert.Empty(t, recs)

	now := time.Now()
	_, err = repo.ListBySymbol(context.Background(), "dai", persistence.TimeRange{From: now, To: now.Add(-time.Hour)}, 10)
	assert.ErrorIs(t, err, persistence.ErrInvalidTimeRange)

	assert.NoError(t, mock.ExpectationsWereMet())
}
