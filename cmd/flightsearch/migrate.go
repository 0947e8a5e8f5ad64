package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/bher20/flightsearch/internal/migrate"
)

func newMigrateCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Manage the SQL schema (sqlite, postgres, postgrespool)",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cmd.Root().PersistentPreRun(cmd, args)
			if !migrate.Supported(a.cfg.DBDriver) {
				return fmt.Errorf("driver %q has no SQL schema to migrate", a.cfg.DBDriver)
			}
			return nil
		},
	}

	cmd.AddCommand(
		&cobra.Command{
			Use:   "up",
			Short: "Apply all pending migrations",
			RunE: func(cmd *cobra.Command, args []string) error {
				return migrate.Up(cmd.Context(), a.cfg.DBDriver, a.cfg.DBDSN)
			},
		},
		&cobra.Command{
			Use:   "down",
			Short: "Roll back the latest migration",
			RunE: func(cmd *cobra.Command, args []string) error {
				return migrate.Down(cmd.Context(), a.cfg.DBDriver, a.cfg.DBDSN)
			},
		},
		&cobra.Command{
			Use:   "status",
			Short: "Print applied and pending migrations",
			RunE: func(cmd *cobra.Command, args []string) error {
				return migrate.Status(cmd.Context(), a.cfg.DBDriver, a.cfg.DBDSN)
			},
		},
		&cobra.Command{
			Use:   "version",
			Short: "Print the current schema version",
			RunE: func(cmd *cobra.Command, args []string) error {
				v, err := migrate.Version(cmd.Context(), a.cfg.DBDriver, a.cfg.DBDSN)
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), v)
				return nil
			},
		},
	)
	return cmd
}
