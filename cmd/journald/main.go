// Command journald serves the legal journal HTTP API and runs the automatic
// closure scheduler.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/musebar/legaljournal/internal/api"
	"github.com/musebar/legaljournal/internal/audit"
	"github.com/musebar/legaljournal/internal/clock"
	"github.com/musebar/legaljournal/internal/closure"
	"github.com/musebar/legaljournal/internal/config"
	"github.com/musebar/legaljournal/internal/database"
	"github.com/musebar/legaljournal/internal/export"
	"github.com/musebar/legaljournal/internal/health"
	"github.com/musebar/legaljournal/internal/journal"
	"github.com/musebar/legaljournal/internal/scheduler"
	"github.com/musebar/legaljournal/internal/settings"
)

func main() {
	cfg, err := config.Load("journald")
	if err != nil {
		fmt.Fprintf(os.Stderr, "journald: %v\n", err)
		os.Exit(1)
	}
	logger, err := cfg.NewLogger()
	if err != nil {
		fmt.Fprintf(os.Stderr, "journald: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync() //nolint:errcheck

	if err := run(cfg, logger); err != nil {
		logger.Fatal("journald exited with error", zap.Error(err))
	}
}

func run(cfg *config.Config, logger *zap.Logger) error {
	if cfg.File != "" {
		logger.Info("loaded config", zap.String("file", cfg.File))
	}
	if !cfg.Log.Development {
		gin.SetMode(gin.ReleaseMode)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Database ─────────────────────────────────────────────────────────────
	if cfg.Database.MigrateOnStart {
		if err := database.Migrate(cfg.Database.URL, logger); err != nil {
			return err
		}
	}
	db, err := database.Connect(ctx, cfg.Database.URL)
	if err != nil {
		return err
	}
	defer db.Close()
	logger.Info("connected to postgres")

	// ── Services ─────────────────────────────────────────────────────────────
	clk := clock.Real{}
	trail := audit.NewTrail(audit.NewPostgresRecorder(db), logger)

	store := journal.NewPostgresStore(db, cfg.Journal.RegisterID, logger)
	journalSvc := journal.NewService(store, journal.Config{
		RegisterID:    cfg.Journal.RegisterID,
		AppendRetries: cfg.Journal.AppendRetries,
	}, clk, trail, logger)
	verifier := journal.NewVerifier(store, clk, trail, logger)

	if first, created, err := journalSvc.EnsureInitialized(ctx); err != nil {
		return fmt.Errorf("initialize journal: %w", err)
	} else if created {
		logger.Info("journal initialized", zap.Int64("sequence", first.SequenceNumber))
	}
	monitor := health.New(verifier, clk, health.Config{CheckInterval: cfg.Integrity.CheckInterval}, logger)
	switch st := monitor.CheckNow(ctx); st.State {
	case health.StateHealthy:
		logger.Info("journal integrity verified", zap.Int64("entries", st.LastReport.Checked))
	case health.StateCompromised:
		// Serving continues so the operator can inspect and export the journal.
		logger.Error("journal integrity check failed",
			zap.Int64("first_break", st.LastReport.FirstBreak),
			zap.Int("compromised", len(st.LastReport.Compromised)),
		)
	default:
		return fmt.Errorf("startup integrity check: %s", st.LastError)
	}
	go monitor.Run(ctx)

	settingsProvider := settings.NewCachedProvider(settings.NewPostgresProvider(db), cfg.Scheduler.SettingsCacheTTL)
	settingsSvc := settings.NewService(settingsProvider, trail, logger)
	current, err := settingsSvc.Get(ctx)
	if err != nil {
		return fmt.Errorf("load closure settings: %w", err)
	}
	if _, err := current.Location(); err != nil {
		return fmt.Errorf("closure settings: %w", err)
	}

	closureSvc := closure.NewService(closure.NewPostgresRepository(db), clk, trail, logger)

	if cfg.Export.SigningSecret == "" {
		return errors.New("export.signing_secret (EXPORT_SIGNING_SECRET) is required")
	}
	signer, err := export.NewSigner(cfg.Export.SigningSecret)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(cfg.Export.Dir, 0o750); err != nil {
		return fmt.Errorf("create export dir: %w", err)
	}
	exportSvc := export.NewService(export.NewPostgresRepository(db), export.Sources{
		Entries:   store,
		Bulletins: closureSvc,
		Verifier:  verifier,
		Journal:   journalSvc,
	}, signer, export.Config{
		Dir:             cfg.Export.Dir,
		RegisterID:      cfg.Journal.RegisterID,
		SoftwareName:    cfg.Software.Name,
		SoftwareVersion: cfg.Software.Version,
		Location:        settingsSvc.Location,
	}, clk, trail, logger)

	sched := scheduler.New(closureSvc, settingsProvider, clk, trail, scheduler.Config{
		Interval: cfg.Scheduler.Interval,
	}, logger)
	if cfg.Scheduler.Autostart {
		sched.Start(ctx)
	}

	// ── HTTP ─────────────────────────────────────────────────────────────────
	router := api.NewRouter(ctx, api.Options{
		CORSOrigins:  cfg.Server.CORSOrigins,
		RateLimitRPS: cfg.Server.RateLimitRPS,
		DB:           db,
		Integrity:    monitor,
		Logger:       logger,
	},
		api.NewJournalHandler(journalSvc, verifier, logger),
		api.NewClosureHandler(closureSvc, settingsSvc, logger),
		api.NewExportHandler(exportSvc, settingsSvc, logger),
		api.NewSchedulerHandler(ctx, sched, settingsSvc, logger),
	)

	httpSrv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		logger.Info("journald listening", zap.Int("port", cfg.Server.Port))
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	// ── Graceful shutdown ────────────────────────────────────────────────────
	select {
	case <-ctx.Done():
	case err := <-errCh:
		sched.Stop()
		return fmt.Errorf("http listen: %w", err)
	}
	logger.Info("shutting down journald...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP shutdown error", zap.Error(err))
	}
	// Waits for an in-flight closure to commit.
	sched.Stop()

	logger.Info("journald stopped")
	return nil
}
