package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newMigrateCmd(a *app) *cobra.Command {
	f := &ingestFlags{}
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Create or update the database schema",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := effectiveConfig(cmd, a.cfg, f)
			if err != nil {
				return err
			}
			db, err := openStore(cmd.Context(), cfg.Database)
			if err != nil {
				return err
			}
			defer db.Close()
			fmt.Fprintf(cmd.OutOrStdout(), "Schema is up to date (%s)\n", cfg.Database.Driver)
			return nil
		},
	}
	cmd.Flags().StringVar(&f.dbDriver, "db-driver", "", "database driver (postgres or sqlite3)")
	cmd.Flags().StringVar(&f.dbURL, "db-url", "", "database connection string or sqlite file path")
	return cmd
}
