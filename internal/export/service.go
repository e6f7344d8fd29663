package export

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/musebar/legaljournal/internal/audit"
	"github.com/musebar/legaljournal/internal/clock"
	"github.com/musebar/legaljournal/internal/closure"
	"github.com/musebar/legaljournal/internal/journal"
	"github.com/musebar/legaljournal/internal/metrics"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Appender records the ARCHIVE entry for a completed export.
// journal.Service satisfies it.
type Appender interface {
	AddEntry(ctx context.Context, in journal.EntryInput) (*journal.Entry, error)
}

// Sources are the read and write collaborators of a Service.
type Sources struct {
	Entries   EntrySource
	Bulletins BulletinSource
	Verifier  ChainVerifier
	Journal   Appender // nil disables ARCHIVE entries
}

// Config holds export configuration.
type Config struct {
	Dir             string
	RegisterID      string
	SoftwareName    string
	SoftwareVersion string
	// Location resolves the timezone for period boundaries on every export,
	// so a settings change applies without a restart. nil means UTC.
	Location LocationFunc
}

// LocationFunc returns the current closure timezone.
// settings.Service.Location satisfies it.
type LocationFunc func(ctx context.Context) (*time.Location, error)

// Service generates and verifies archive exports.
type Service struct {
	repo    Repository
	build   builder
	journal Appender
	signer  *Signer
	cfg     Config
	clock   clock.Clock
	trail   *audit.Trail
	logger  *zap.Logger
}

// NewService creates a new Service.
func NewService(repo Repository, src Sources, signer *Signer, cfg Config, clk clock.Clock, trail *audit.Trail, logger *zap.Logger) *Service {
	if cfg.Location == nil {
		cfg.Location = func(context.Context) (*time.Location, error) { return time.UTC, nil }
	}
	if cfg.Dir == "" {
		cfg.Dir = "exports"
	}
	if clk == nil {
		clk = clock.Real{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		repo:    repo,
		build:   builder{entries: src.Entries, bulletins: src.Bulletins, verifier: src.Verifier},
		journal: src.Journal,
		signer:  signer,
		cfg:     cfg,
		clock:   clk,
		trail:   trail,
		logger:  logger,
	}
}

// ExportData generates, writes and signs an export. The PENDING record is
// stored before any content is built, so a failure always leaves a FAILED
// record behind.
func (s *Service) ExportData(ctx context.Context, req Request) (*Export, error) {
	loc, err := s.cfg.Location(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: resolve timezone: %w", ErrExportFailed, err)
	}
	start, end, err := s.period(req, loc)
	if err != nil {
		return nil, err
	}
	if req.CreatedBy == "" {
		req.CreatedBy = "system"
	}

	rec := &Export{
		ID:           uuid.New(),
		ExportType:   req.Type,
		Format:       req.Format,
		ExportStatus: StatusPending,
		CreatedBy:    req.CreatedBy,
		CreatedAt:    s.clock.Now().UTC(),
	}
	if !start.IsZero() {
		su, eu := start.UTC(), end.UTC()
		rec.PeriodStart, rec.PeriodEnd = &su, &eu
	}
	if err := s.repo.Create(ctx, rec); err != nil {
		metrics.RecordExport(string(req.Type), string(req.Format), string(StatusFailed))
		return nil, fmt.Errorf("%w: %w", ErrExportFailed, err)
	}

	if err := s.generate(ctx, rec, loc); err != nil {
		s.markFailed(ctx, rec, err)
		return rec, fmt.Errorf("%w: %w", ErrExportFailed, err)
	}

	metrics.RecordExport(string(rec.ExportType), string(rec.Format), string(StatusCompleted))
	s.trail.Record(ctx, audit.EventExportCompleted, audit.SeverityInfo, "archive export completed", map[string]any{
		"export_id":   rec.ID.String(),
		"export_type": string(rec.ExportType),
		"format":      string(rec.Format),
		"file_hash":   rec.FileHash,
		"file_size":   rec.FileSize,
	})
	s.logger.Info("export completed",
		zap.String("id", rec.ID.String()),
		zap.String("type", string(rec.ExportType)),
		zap.String("format", string(rec.Format)),
		zap.Int64("size", rec.FileSize),
	)
	s.appendArchiveEntry(ctx, rec)
	return rec, nil
}

func (s *Service) generate(ctx context.Context, rec *Export, loc *time.Location) error {
	meta := Compliance{
		Standard:        Standard,
		SoftwareName:    s.cfg.SoftwareName,
		SoftwareVersion: s.cfg.SoftwareVersion,
		RegisterID:      s.cfg.RegisterID,
		ExportID:        rec.ID.String(),
		ExportType:      rec.ExportType,
		GeneratedAt:     rec.CreatedAt,
		PeriodStart:     rec.PeriodStart,
		PeriodEnd:       rec.PeriodEnd,
	}
	doc, err := s.build.build(ctx, rec, meta)
	if err != nil {
		return err
	}
	data, err := encode(doc, rec.Format)
	if err != nil {
		return err
	}

	path, err := writeAtomic(s.cfg.Dir, fileName(rec, loc), data)
	if err != nil {
		return err
	}
	rec.FilePath = path
	rec.FileSize = int64(len(data))
	rec.FileHash = s.signer.Digest(data)
	rec.DigitalSignature = s.signer.Sign(data)
	rec.ExportStatus = StatusCompleted

	if err := s.repo.Update(ctx, rec); err != nil {
		// A file without a COMPLETED record would be unverifiable.
		_ = os.Remove(path)
		rec.FilePath, rec.FileSize, rec.FileHash, rec.DigitalSignature = "", 0, "", ""
		return fmt.Errorf("finalise export record: %w", err)
	}
	return nil
}

func (s *Service) markFailed(ctx context.Context, rec *Export, cause error) {
	rec.ExportStatus = StatusFailed
	rec.ErrorMessage = cause.Error()
	// The caller's context may be the reason we failed.
	if err := s.repo.Update(context.WithoutCancel(ctx), rec); err != nil {
		s.logger.Error("mark export failed", zap.String("id", rec.ID.String()), zap.Error(err))
	}
	metrics.RecordExport(string(rec.ExportType), string(rec.Format), string(StatusFailed))
	s.trail.Record(ctx, audit.EventExportFailed, audit.SeverityWarning, "archive export failed", map[string]any{
		"export_id":   rec.ID.String(),
		"export_type": string(rec.ExportType),
		"format":      string(rec.Format),
		"error":       cause.Error(),
	})
	s.logger.Warn("export failed", zap.String("id", rec.ID.String()), zap.Error(cause))
}

func (s *Service) appendArchiveEntry(ctx context.Context, rec *Export) {
	if s.journal == nil {
		return
	}
	_, err := s.journal.AddEntry(ctx, journal.EntryInput{
		Type:          journal.TypeArchive,
		Amount:        decimal.Zero,
		VATAmount:     decimal.Zero,
		PaymentMethod: journal.PaymentSystem,
		Metadata: map[string]any{
			"export_id":   rec.ID.String(),
			"export_type": string(rec.ExportType),
			"format":      string(rec.Format),
			"file_hash":   rec.FileHash,
		},
	})
	if err != nil {
		s.logger.Error("append archive entry", zap.String("export_id", rec.ID.String()), zap.Error(err))
		s.trail.Record(ctx, audit.EventExportFailed, audit.SeverityWarning,
			"export completed but its ARCHIVE journal entry could not be appended",
			map[string]any{"export_id": rec.ID.String(), "error": err.Error()})
	}
}

// VerifyExport re-reads the export file and checks its hash, signature and
// size. All three checks always run.
func (s *Service) VerifyExport(ctx context.Context, id uuid.UUID) (*VerifyResult, error) {
	rec, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if rec.FilePath == "" {
		return nil, fmt.Errorf("export %s has no file (status %s): %w", id, rec.ExportStatus, ErrNotFound)
	}
	data, err := os.ReadFile(rec.FilePath)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("export file %s: %w", rec.FilePath, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("read export file: %w", err)
	}

	res := &VerifyResult{
		ExportID:       id,
		HashValid:      s.signer.CheckDigest(data, rec.FileHash),
		SignatureValid: s.signer.CheckSignature(data, rec.DigitalSignature),
		SizeValid:      int64(len(data)) == rec.FileSize,
		Errors:         []string{},
		VerifiedAt:     s.clock.Now().UTC(),
	}
	if !res.HashValid {
		res.Errors = append(res.Errors, "file hash does not match the recorded hash")
	}
	if !res.SignatureValid {
		res.Errors = append(res.Errors, "digital signature is invalid")
	}
	if !res.SizeValid {
		res.Errors = append(res.Errors, fmt.Sprintf("file size %d does not match the recorded %d", len(data), rec.FileSize))
	}
	res.IsValid = len(res.Errors) == 0
	metrics.RecordExportVerification(res.IsValid)

	details := map[string]any{"export_id": id.String(), "errors": res.Errors}
	if !res.IsValid {
		s.trail.Record(ctx, audit.EventExportVerificationFailed, audit.SeverityCritical,
			"archive export failed verification", details)
		return res, nil
	}

	at := res.VerifiedAt
	rec.ExportStatus = StatusVerified
	rec.VerifiedAt = &at
	if err := s.repo.Update(ctx, rec); err != nil {
		return nil, fmt.Errorf("mark export verified: %w", err)
	}
	s.trail.Record(ctx, audit.EventExportVerified, audit.SeverityInfo, "archive export verified", details)
	return res, nil
}

// GetExportByID returns one export record.
func (s *Service) GetExportByID(ctx context.Context, id uuid.UUID) (*Export, error) {
	return s.repo.Get(ctx, id)
}

// ListExports returns the newest export records first.
func (s *Service) ListExports(ctx context.Context, limit int) ([]*Export, error) {
	return s.repo.List(ctx, limit)
}

// Open returns the record and an open handle on its file. The caller closes it.
func (s *Service) Open(ctx context.Context, id uuid.UUID) (*Export, io.ReadCloser, error) {
	rec, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	if rec.FilePath == "" {
		return nil, nil, fmt.Errorf("export %s has no file: %w", id, ErrNotFound)
	}
	f, err := os.Open(rec.FilePath)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil, fmt.Errorf("export file %s: %w", rec.FilePath, ErrNotFound)
	}
	if err != nil {
		return nil, nil, fmt.Errorf("open export file: %w", err)
	}
	return rec, f, nil
}

func (s *Service) period(req Request, loc *time.Location) (time.Time, time.Time, error) {
	if !req.Type.valid() {
		return time.Time{}, time.Time{}, fmt.Errorf("export type %q: %w", req.Type, ErrInvalidRequest)
	}
	if !req.Format.valid() {
		return time.Time{}, time.Time{}, fmt.Errorf("format %q: %w", req.Format, ErrInvalidRequest)
	}
	if req.Type == TypeFull {
		return time.Time{}, time.Time{}, nil
	}
	if req.PeriodStart.IsZero() {
		return time.Time{}, time.Time{}, fmt.Errorf("%s export needs period_start: %w", req.Type, ErrInvalidRequest)
	}
	if req.PeriodEnd.IsZero() {
		start, end, err := closure.PeriodFor(closure.Type(req.Type), req.PeriodStart, loc)
		if err != nil {
			return time.Time{}, time.Time{}, fmt.Errorf("%w: %w", ErrInvalidRequest, err)
		}
		return start, end, nil
	}
	if !req.PeriodStart.Before(req.PeriodEnd) {
		return time.Time{}, time.Time{}, fmt.Errorf("period_end must follow period_start: %w", ErrInvalidRequest)
	}
	return req.PeriodStart, req.PeriodEnd, nil
}

func fileName(rec *Export, loc *time.Location) string {
	label := "all"
	if rec.PeriodStart != nil {
		label = rec.PeriodStart.In(loc).Format("20060102")
	}
	return fmt.Sprintf("%s_%s_%s.%s", strings.ToLower(string(rec.ExportType)), label, rec.ID, rec.Format.Extension())
}

// writeAtomic writes data to dir/name through a synced temp file and a
// rename, so a crash never leaves a partial export under the final name.
func writeAtomic(dir, name string, data []byte) (path string, err error) {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return "", fmt.Errorf("create export dir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, "."+name+".*.tmp")
	if err != nil {
		return "", fmt.Errorf("create temp file: %w", err)
	}
	closed := false
	defer func() {
		if !closed {
			tmp.Close()
		}
		if err != nil {
			os.Remove(tmp.Name())
		}
	}()

	if _, err := tmp.Write(data); err != nil {
		return "", fmt.Errorf("write export: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		return "", fmt.Errorf("sync export: %w", err)
	}
	closed = true
	if err := tmp.Close(); err != nil {
		return "", fmt.Errorf("close export: %w", err)
	}
	path = filepath.Join(dir, name)
	if err := os.Rename(tmp.Name(), path); err != nil {
		return "", fmt.Errorf("rename export: %w", err)
	}
	return path, nil
}
