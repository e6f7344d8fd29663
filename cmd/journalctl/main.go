// Command journalctl is the operator CLI for the legal journal. It talks to
// PostgreSQL directly and shares the server's configuration.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/musebar/legaljournal/internal/audit"
	"github.com/musebar/legaljournal/internal/clock"
	"github.com/musebar/legaljournal/internal/closure"
	"github.com/musebar/legaljournal/internal/config"
	"github.com/musebar/legaljournal/internal/database"
	"github.com/musebar/legaljournal/internal/export"
	"github.com/musebar/legaljournal/internal/journal"
	"github.com/musebar/legaljournal/internal/settings"
)

// version is overridden via -ldflags "-X main.version=...".
var version = "dev"

var (
	configName   string
	databaseURL  string
	outputFormat string
	actor        string
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "journalctl",
	Short: "MuseBar legal journal operator CLI",
	Long: `journalctl inspects and maintains the NF525 legal journal.

It verifies the hash chain, creates closure bulletins, produces signed
archive exports and manages the automatic closure settings.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configName, "config", "journald", "config file base name, searched in configs/ and .")
	rootCmd.PersistentFlags().StringVar(&databaseURL, "database-url", "", "PostgreSQL URL (overrides database.url)")
	rootCmd.PersistentFlags().StringVarP(&outputFormat, "output", "o", "text", "Output format: text or json")
	rootCmd.PersistentFlags().StringVar(&actor, "actor", "journalctl", "Name recorded as closed_by / created_by")

	rootCmd.AddCommand(verifyCmd, statusCmd, closeCmd, bulletinsCmd, exportCmd,
		verifyExportCmd, exportsCmd, settingsCmd, migrateCmd, versionCmd)
}

// env is the service graph a command runs against.
type env struct {
	cfg      *config.Config
	logger   *zap.Logger
	close    func()
	journal  *journal.Service
	verifier *journal.Verifier
	closures *closure.Service
	settings *settings.Service
	exports  *export.Service
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(configName)
	if err != nil {
		return nil, err
	}
	if databaseURL != "" {
		cfg.Database.URL = databaseURL
	}
	return cfg, nil
}

// newEnv connects to the database and builds the services. Exports are only
// wired when a signing secret is configured.
func newEnv(ctx context.Context) (*env, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	// Command output goes to stdout; logs stay quiet unless asked for.
	if cfg.Log.Level == "info" {
		cfg.Log.Level = "warn"
	}
	logger, err := cfg.NewLogger()
	if err != nil {
		return nil, err
	}
	db, err := database.Connect(ctx, cfg.Database.URL)
	if err != nil {
		return nil, err
	}

	clk := clock.Real{}
	trail := audit.NewTrail(audit.NewPostgresRecorder(db), logger)
	store := journal.NewPostgresStore(db, cfg.Journal.RegisterID, logger)
	e := &env{
		cfg:    cfg,
		logger: logger,
		close: func() {
			db.Close()
			_ = logger.Sync()
		},
		journal: journal.NewService(store, journal.Config{
			RegisterID:    cfg.Journal.RegisterID,
			AppendRetries: cfg.Journal.AppendRetries,
		}, clk, trail, logger),
		verifier: journal.NewVerifier(store, clk, trail, logger),
		closures: closure.NewService(closure.NewPostgresRepository(db), clk, trail, logger),
		settings: settings.NewService(settings.NewPostgresProvider(db), trail, logger),
	}

	if cfg.Export.SigningSecret != "" {
		signer, err := export.NewSigner(cfg.Export.SigningSecret)
		if err != nil {
			e.close()
			return nil, err
		}
		e.exports = export.NewService(export.NewPostgresRepository(db), export.Sources{
			Entries:   store,
			Bulletins: e.closures,
			Verifier:  e.verifier,
			Journal:   e.journal,
		}, signer, export.Config{
			Dir:             cfg.Export.Dir,
			RegisterID:      cfg.Journal.RegisterID,
			SoftwareName:    cfg.Software.Name,
			SoftwareVersion: cfg.Software.Version,
			Location:        e.settings.Location,
		}, clk, trail, logger)
	}
	return e, nil
}

// withEnv runs fn against a fresh env and releases it afterwards.
func withEnv(cmd *cobra.Command, fn func(ctx context.Context, e *env) error) error {
	ctx := cmd.Context()
	e, err := newEnv(ctx)
	if err != nil {
		return err
	}
	defer e.close()
	return fn(ctx, e)
}

func (e *env) requireExports() (*export.Service, error) {
	if e.exports == nil {
		return nil, fmt.Errorf("export.signing_secret (EXPORT_SIGNING_SECRET) is not set")
	}
	return e.exports, nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the CLI version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println("journalctl", version)
	},
}
