package main

import (
	"encoding/json"
	"os"

	"github.com/spf13/cobra"

	"github.com/jrsteele09/go-session-keeper/internal/config"
)

func newReapCommand(c config.Config) *cobra.Command {
	return &cobra.Command{
		Use:   "reap",
		Short: "Delete sessions and credentials of tenants the directory no longer knows",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd.Context(), c)
			if err != nil {
				return err
			}
			defer a.Close()

			report, err := a.keeper.Reap(cmd.Context())
			if err != nil {
				return err
			}
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(report)
		},
	}
}
