package main

import (
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/sawpanic/stablerisk/internal/domain/risk"
)

func newScoreCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "score",
		Short: "Score raw inputs offline",
		Long: `Compute a risk score without any network access, either from a pre-computed
volatility or from a CSV of daily closing prices (oldest first, last column used).`,
		Example: `  stablerisk score --volatility 2 --market-cap 1
  stablerisk score --prices usdc.csv --market-cap 3.2e10`,
		RunE: runScore,
	}
	cmd.Flags().Float64("volatility", -1, "Pre-computed volatility")
	cmd.Flags().Float64("market-cap", 0, "Market capitalization (must be positive)")
	cmd.Flags().String("prices", "", "CSV file of daily closing prices")
	cmd.Flags().Bool("json", false, "Print the assessment as JSON")
	cmd.MarkFlagsMutuallyExclusive("volatility", "prices")
	_ = cmd.MarkFlagRequired("market-cap")
	return cmd
}

func runScore(cmd *cobra.Command, _ []string) error {
	marketCap, _ := cmd.Flags().GetFloat64("market-cap")
	pricesPath, _ := cmd.Flags().GetString("prices")
	asJSON, _ := cmd.Flags().GetBool("json")

	var (
		a   risk.Assessment
		err error
	)
	switch {
	case pricesPath != "":
		prices, perr := readPricesFile(pricesPath)
		if perr != nil {
			return perr
		}
		a, err = newScorer(cfg.Scoring).Assess(risk.Snapshot{MarketCap: marketCap, Prices: prices})
	case cmd.Flags().Changed("volatility"):
		vol, _ := cmd.Flags().GetFloat64("volatility")
		a, err = risk.Evaluate(vol, marketCap)
	default:
		return errors.New("one of --volatility or --prices is required")
	}
	if err != nil {
		return err
	}

	return printAssessment(cmd.OutOrStdout(), a, asJSON)
}

func printAssessment(w io.Writer, a risk.Assessment, asJSON bool) error {
	if asJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(a)
	}
	fmt.Fprintf(w, "score:      %.2f\n", a.Score)
	fmt.Fprintf(w, "raw score:  %.6g\n", a.RawScore)
	fmt.Fprintf(w, "volatility: %.6g\n", a.Volatility)
	fmt.Fprintf(w, "market cap: %.6g\n", a.MarketCap)
	if bound := a.Bound(); bound != "" {
		fmt.Fprintf(w, "clamped:    %s\n", bound)
	}
	return nil
}

func readPricesFile(path string) ([]float64, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open prices: %w", err)
	}
	defer f.Close()
	return parsePrices(f)
}

// parsePrices reads the last column of each CSV row. A non-numeric first row is
// treated as a header; blank lines are skipped.
func parsePrices(r io.Reader) ([]float64, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	var prices []float64
	for line := 1; ; line++ {
		rec, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read prices: %w", err)
		}
		if len(rec) == 0 {
			continue
		}

		field := strings.TrimSpace(rec[len(rec)-1])
		p, err := strconv.ParseFloat(field, 64)
		if err != nil {
			if line == 1 {
				continue
			}
			return nil, fmt.Errorf("line %d: invalid price %q", line, field)
		}
		prices = append(prices, p)
	}

	if len(prices) == 0 {
		return nil, errors.New("no prices found")
	}
	return prices, nil
}
