package main

import (
	"fmt"
	"os"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/sawpanic/stablerisk/internal/config"
	logsetup "github.com/sawpanic/stablerisk/internal/log"
)

const (
	appName = "stablerisk"
	version = "v0.4.0"
)

// cfg is loaded once per invocation by the root PersistentPreRunE
var cfg *config.Config

func main() {
	if err := newRootCmd().Execute(); err != nil {
		log.Error().Err(err).Msg("command failed")
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:     appName,
		Short:   "Bounded stablecoin risk scores from volatility and market cap",
		Version: version,
		Long: `stablerisk computes a bounded risk score in [50, 150] for stablecoins:

    score = clamp((volatility*0.4 + (1/market_cap)*0.6) * 100, 50, 150)

Volatility is the sample standard deviation of daily returns over a trailing
price window. Scores can be computed offline from raw inputs, fetched live from
CoinGecko, served over HTTP or recomputed on a schedule.`,
		SilenceUsage:      true,
		SilenceErrors:     true,
		PersistentPreRunE: loadConfig,
	}

	config.BindFlags(rootCmd.PersistentFlags())

	rootCmd.AddCommand(
		newScoreCmd(),
		newAssessCmd(),
		newServeCmd(),
		newWatchCmd(),
		newMigrateCmd(),
	)
	return rootCmd
}

func loadConfig(cmd *cobra.Command, _ []string) error {
	path, _ := cmd.Flags().GetString("config")

	loaded, err := config.Load(path)
	if err != nil {
		return err
	}
	if err := loaded.ApplyFlags(cmd.Flags()); err != nil {
		return fmt.Errorf("invalid flags: %w", err)
	}
	if err := logsetup.Setup(loaded.Log.Level, loaded.Log.Format); err != nil {
		return err
	}

	cfg = loaded
	log.Debug().Str("config", path).Msg("configuration loaded")
	return nil
}
