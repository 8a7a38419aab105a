package main

import (
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/sawpanic/stablerisk/internal/infrastructure/db"
)

func newMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create the score history schema in PostgreSQL",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if !cfg.Database.Enabled {
				return errors.New("database disabled: set database.enabled or PG_DSN")
			}

			manager, err := db.NewManager(cmd.Context(), cfg.Database)
			if err != nil {
				return err
			}
			defer manager.Close()

			if err := manager.Migrate(cmd.Context()); err != nil {
				return err
			}
			log.Info().Msg("schema up to date")
			fmt.Fprintln(cmd.OutOrStdout(), "ok")
			return nil
		},
	}
}
