package main

import (
	"encoding/json"
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/sawpanic/stablerisk/internal/application"
)

func newAssessCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "assess <coin-id>...",
		Short:   "Fetch live market data and score one or more coins",
		Example: `  stablerisk assess usd-coin tether dai`,
		Args:    cobra.MinimumNArgs(1),
		RunE:    runAssess,
	}
	cmd.Flags().Bool("json", false, "Print results as JSON lines")
	return cmd
}

func runAssess(cmd *cobra.Command, args []string) error {
	asJSON, _ := cmd.Flags().GetBool("json")
	ctx := cmd.Context()

	rt, err := buildRuntime(ctx, cfg)
	if err != nil {
		return err
	}
	defer rt.Close()

	out := cmd.OutOrStdout()
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	if !asJSON {
		fmt.Fprintln(tw, "COIN\tSCORE\tRAW\tVOLATILITY\tMARKET CAP\tPRICE\tCLAMPED")
	}

	var results []application.Result
	failed := 0
	for _, coin := range args {
		res, err := rt.service.Assess(ctx, strings.ToLower(coin))
		if err != nil {
			failed++
			log.Error().Err(err).Str("coin", coin).Msg("assessment failed")
			continue
		}
		results = append(results, res)
	}

	for _, res := range results {
		if asJSON {
			if err := json.NewEncoder(out).Encode(res); err != nil {
				return err
			}
			continue
		}
		fmt.Fprintf(tw, "%s\t%.2f\t%.4g\t%.6f\t%.4g\t%.4f\t%s\n",
			res.Symbol, res.Score, res.RawScore, res.Volatility, res.MarketCap, res.Price, res.Bound())
	}
	if !asJSON {
		if err := tw.Flush(); err != nil {
			return err
		}
	}

	if failed > 0 {
		return fmt.Errorf("%d of %d assessments failed", failed, len(args))
	}
	return nil
}
