package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/musebar/legaljournal/internal/database"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Manage the database schema",
}

var migrateDownSteps int

func withMigrator(fn func(*database.Migrator) error) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger, err := cfg.NewLogger()
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck
	mg, err := database.NewMigrator(cfg.Database.URL, logger)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := mg.Close(); cerr != nil {
			logger.Warn("close migrator", zap.Error(cerr))
		}
	}()
	return fn(mg)
}

func init() {
	migrateCmd.AddCommand(
		&cobra.Command{
			Use:   "up",
			Short: "Apply every pending migration",
			RunE: func(cmd *cobra.Command, args []string) error {
				return withMigrator(func(mg *database.Migrator) error { return mg.Up() })
			},
		},
		&cobra.Command{
			Use:   "version",
			Short: "Print the applied schema version",
			RunE: func(cmd *cobra.Command, args []string) error {
				return withMigrator(func(mg *database.Migrator) error {
					v, dirty, err := mg.Version()
					if err != nil {
						return err
					}
					fmt.Printf("version %d (dirty: %t)\n", v, dirty)
					return nil
				})
			},
		},
	)

	down := &cobra.Command{
		Use:   "down",
		Short: "Roll back migrations",
		Long: `down rolls back the given number of migrations. Migrations that
own append-only tables (journal, closure bulletins, audit trail) refuse to
roll back while their table holds rows, so down only unwinds an empty
installation.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withMigrator(func(mg *database.Migrator) error { return mg.Down(migrateDownSteps) })
		},
	}
	down.Flags().IntVar(&migrateDownSteps, "steps", 1, "Number of migrations to roll back")
	migrateCmd.AddCommand(down)
}
