package main

import (
	"database/sql"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/txn2/karaoke-live/pkg/database/migrate"
	"github.com/txn2/karaoke-live/pkg/platform"
)

func newMigrateCommand(ctx *commandContext) *cobra.Command {
	migrateCmd := &cobra.Command{
		Use:   "migrate",
		Short: "Manage the database schema",
	}

	migrateCmd.AddCommand(&cobra.Command{
		Use:   "up",
		Short: "Apply pending migrations",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withDatabase(ctx, func(db *sql.DB) error {
				if err := migrate.Run(db); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), "Migrations applied")
				return nil
			})
		},
	})

	var confirm bool
	downCmd := &cobra.Command{
		Use:   "down",
		Short: "Roll back every migration, dropping all data",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if !confirm {
				return errors.New("refusing to drop the schema without --yes")
			}
			return withDatabase(ctx, func(db *sql.DB) error {
				if err := migrate.Down(db); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), "Migrations rolled back")
				return nil
			})
		},
	}
	downCmd.Flags().BoolVar(&confirm, "yes", false, "Confirm dropping all data")
	migrateCmd.AddCommand(downCmd)

	migrateCmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Show the applied schema version",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withDatabase(ctx, func(db *sql.DB) error {
				version, dirty, err := migrate.Version(db)
				if err != nil {
					return fmt.Errorf("reading schema version: %w", err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "version %d (dirty: %t)\n", version, dirty)
				return nil
			})
		},
	})

	return migrateCmd
}

func withDatabase(ctx *commandContext, fn func(*sql.DB) error) error {
	cfg, err := ctx.loadConfig()
	if err != nil {
		return err
	}
	db, err := platform.OpenDatabase(cfg.Database)
	if err != nil {
		return err
	}
	defer func() { _ = db.Close() }()
	return fn(db)
}
