package main

import (
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/jrsteele09/go-session-keeper/internal/config"
	"github.com/jrsteele09/go-session-keeper/internal/database/migrate"
)

func newMigrateCommand(c config.Config) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Manage the PostgreSQL schema",
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "up",
			Short: "Apply pending migrations",
			RunE: func(cmd *cobra.Command, args []string) error {
				db, err := openDB(cmd.Context(), c)
				if err != nil {
					return err
				}
				defer db.Close()
				return migrate.Run(db)
			},
		},
		&cobra.Command{
			Use:   "down",
			Short: "Roll back every migration",
			RunE: func(cmd *cobra.Command, args []string) error {
				db, err := openDB(cmd.Context(), c)
				if err != nil {
					return err
				}
				defer db.Close()
				if err := migrate.Down(db); err != nil {
					return err
				}
				log.Info().Msg("migrations rolled back")
				return nil
			},
		},
	)
	return cmd
}
