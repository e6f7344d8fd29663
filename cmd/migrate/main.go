// cmd/migrate applies the embedded schema migrations and exits. It is the
// container entrypoint for one-shot schema jobs; journalctl migrate offers the
// same operations interactively.
//
// Usage:
//
//	go run ./cmd/migrate
//	DATABASE_URL=postgres://... go run ./cmd/migrate
package main

import (
	"fmt"
	"os"

	"go.uber.org/zap"

	"github.com/musebar/legaljournal/internal/config"
	"github.com/musebar/legaljournal/internal/database"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "migrate: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load("journald")
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
	defer mg.Close()

	if err := mg.Up(); err != nil {
		return err
	}
	v, dirty, err := mg.Version()
	if err != nil {
		return err
	}
	logger.Info("schema up to date", zap.Uint("version", v), zap.Bool("dirty", dirty))
	return nil
}
