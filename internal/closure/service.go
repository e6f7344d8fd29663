package closure

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/musebar/legaljournal/internal/audit"
	"github.com/musebar/legaljournal/internal/clock"
	"github.com/musebar/legaljournal/internal/metrics"
	"go.uber.org/zap"
)

// Service creates and reads closure bulletins.
type Service struct {
	repo   Repository
	clock  clock.Clock
	trail  *audit.Trail
	logger *zap.Logger
}

// NewService creates a new Service.
func NewService(repo Repository, clk clock.Clock, trail *audit.Trail, logger *zap.Logger) *Service {
	if clk == nil {
		clk = clock.Real{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{repo: repo, clock: clk, trail: trail, logger: logger}
}

// CreateClosure closes [start, end) for typ, aggregating every SALE entry
// whose timestamp falls in the period. closedBy identifies the actor
// ("scheduler", "manual", a user id).
func (s *Service) CreateClosure(ctx context.Context, typ Type, start, end time.Time, closedBy string) (*Bulletin, error) {
	if !typ.Valid() {
		return nil, fmt.Errorf("closure type %q: %w", typ, ErrInvalidPeriod)
	}
	if !start.Before(end) {
		return nil, fmt.Errorf("period %s..%s: %w", start.Format(time.RFC3339), end.Format(time.RFC3339), ErrInvalidPeriod)
	}
	if closedBy == "" {
		closedBy = "manual"
	}

	b := &Bulletin{
		ID:          uuid.New(),
		ClosureType: typ,
		PeriodStart: start.UTC(),
		PeriodEnd:   end.UTC(),
		ClosedBy:    closedBy,
		CreatedAt:   s.clock.Now().UTC(),
	}
	details := map[string]any{
		"closure_type": string(typ),
		"period_start": b.PeriodStart,
		"period_end":   b.PeriodEnd,
		"closed_by":    closedBy,
	}

	err := s.repo.Close(ctx, b)
	switch {
	case errors.Is(err, ErrDuplicateClosure):
		metrics.RecordClosure(string(typ), "duplicate")
		s.trail.Record(ctx, audit.EventClosureDuplicateRejected, audit.SeverityWarning,
			"closure rejected: period already closed", details)
		return nil, fmt.Errorf("%s closure %s: %w", typ, b.PeriodStart.Format(time.RFC3339), ErrDuplicateClosure)
	case err != nil:
		metrics.RecordClosure(string(typ), "error")
		return nil, fmt.Errorf("create %s closure: %w", typ, err)
	}

	metrics.RecordClosure(string(typ), "created")
	details["bulletin_id"] = b.ID.String()
	details["total_transactions"] = b.TotalTransactions
	details["total_amount"] = b.TotalAmount.StringFixed(2)
	details["total_vat"] = b.TotalVAT.StringFixed(2)
	s.trail.Record(ctx, audit.EventClosureCreated, audit.SeverityInfo, "closure bulletin created", details)
	s.logger.Info("closure created",
		zap.String("type", string(typ)),
		zap.Time("period_start", b.PeriodStart),
		zap.Int64("transactions", b.TotalTransactions),
		zap.String("total", b.TotalAmount.StringFixed(2)),
	)
	return b, nil
}

// GetBulletins lists bulletins most recent first. An empty typ lists all types.
func (s *Service) GetBulletins(ctx context.Context, typ Type) ([]*Bulletin, error) {
	if typ != "" && !typ.Valid() {
		return nil, fmt.Errorf("closure type %q: %w", typ, ErrInvalidPeriod)
	}
	return s.repo.List(ctx, typ)
}

// FindBulletin returns the bulletin for an exact (type, period) pair.
func (s *Service) FindBulletin(ctx context.Context, typ Type, start, end time.Time) (*Bulletin, error) {
	return s.repo.Find(ctx, typ, start.UTC(), end.UTC())
}

// IsClosed reports whether the (type, period) pair already has a bulletin.
func (s *Service) IsClosed(ctx context.Context, typ Type, start, end time.Time) (bool, error) {
	_, err := s.FindBulletin(ctx, typ, start, end)
	switch {
	case errors.Is(err, ErrNotFound):
		return false, nil
	case err != nil:
		return false, err
	}
	return true, nil
}
