// Package scheduler runs the automatic daily closure.
//
// Each tick loads the closure settings, works out the business day in the
// configured time zone, and closes it once the configured closure time has
// passed, provided the grace window has not elapsed. A day missed entirely
// (process down for longer than the grace window) is not closed
// retroactively; it is left for an operator.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/musebar/legaljournal/internal/audit"
	"github.com/musebar/legaljournal/internal/clock"
	"github.com/musebar/legaljournal/internal/closure"
	"github.com/musebar/legaljournal/internal/metrics"
	"github.com/musebar/legaljournal/internal/settings"
	"go.uber.org/zap"
)

// ClosedBy is recorded on bulletins created by the scheduler.
const ClosedBy = "scheduler"

// Closer is the subset of closure.Service the scheduler needs.
type Closer interface {
	IsClosed(ctx context.Context, t closure.Type, start, end time.Time) (bool, error)
	CreateClosure(ctx context.Context, t closure.Type, start, end time.Time, closedBy string) (*closure.Bulletin, error)
}

// Outcome summarises one tick.
type Outcome string

const (
	OutcomeDisabled      Outcome = "disabled"
	OutcomeAlreadyClosed Outcome = "already_closed"
	OutcomeTooEarly      Outcome = "too_early"
	OutcomeGraceElapsed  Outcome = "grace_elapsed"
	OutcomeExecuted      Outcome = "executed"
	OutcomeFailed        Outcome = "failed"
	OutcomeError         Outcome = "error"
)

// TickResult describes what a tick did.
type TickResult struct {
	Outcome     Outcome           `json:"outcome"`
	At          time.Time         `json:"at"`
	PeriodStart time.Time         `json:"period_start,omitzero"`
	PeriodEnd   time.Time         `json:"period_end,omitzero"`
	Target      time.Time         `json:"target,omitzero"`
	Bulletin    *closure.Bulletin `json:"bulletin,omitempty"`
	Error       string            `json:"error,omitempty"`
}

// Status is a snapshot of the scheduler state.
type Status struct {
	Running  bool          `json:"running"`
	Interval time.Duration `json:"interval"`
	Ticks    int64         `json:"ticks"`
	LastTick *TickResult   `json:"last_tick,omitempty"`
}

// Config holds scheduler configuration.
type Config struct {
	Interval time.Duration // default 5m
}

// Scheduler is the Stopped/Running closure loop.
//
// Thread-safety: all methods are safe for concurrent use. Ticks are
// serialised, so a manual check never overlaps a timed one.
type Scheduler struct {
	closer   Closer
	settings settings.Provider
	clock    clock.Clock
	trail    *audit.Trail
	logger   *zap.Logger
	interval time.Duration

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	done    chan struct{}
	ticks   int64
	last    *TickResult

	tickMu sync.Mutex
}

// New creates a stopped Scheduler.
func New(closer Closer, provider settings.Provider, clk clock.Clock, trail *audit.Trail, cfg Config, logger *zap.Logger) *Scheduler {
	if cfg.Interval <= 0 {
		cfg.Interval = 5 * time.Minute
	}
	if clk == nil {
		clk = clock.Real{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Scheduler{
		closer:   closer,
		settings: provider,
		clock:    clk,
		trail:    trail,
		logger:   logger,
		interval: cfg.Interval,
	}
}

// Start moves the scheduler to Running and checks once immediately, then
// every interval. It returns false if the scheduler was already running.
func (s *Scheduler) Start(ctx context.Context) bool {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return false
	}
	loopCtx, cancel := context.WithCancel(ctx)
	s.running = true
	s.cancel = cancel
	s.done = make(chan struct{})
	done := s.done
	s.mu.Unlock()

	go s.loop(loopCtx, done)

	s.logger.Info("closure scheduler started", zap.Duration("interval", s.interval))
	s.trail.Record(ctx, audit.EventSchedulerStarted, audit.SeverityInfo, "closure scheduler started",
		map[string]any{"interval": s.interval.String()})
	return true
}

// Stop cancels the loop and waits for it to exit. A tick already in flight
// is allowed to finish. It returns false if the scheduler was not running.
func (s *Scheduler) Stop() bool {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return false
	}
	cancel, done := s.cancel, s.done
	s.running = false
	s.cancel = nil
	s.mu.Unlock()

	cancel()
	<-done

	s.logger.Info("closure scheduler stopped")
	s.trail.Record(context.Background(), audit.EventSchedulerStopped, audit.SeverityInfo,
		"closure scheduler stopped", nil)
	return true
}

// TriggerManualCheck runs one tick synchronously.
func (s *Scheduler) TriggerManualCheck(ctx context.Context) TickResult {
	return s.tick(ctx)
}

// Status returns a snapshot of the scheduler state.
func (s *Scheduler) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := Status{Running: s.running, Interval: s.interval, Ticks: s.ticks}
	if s.last != nil {
		last := *s.last
		st.LastTick = &last
	}
	return st
}

func (s *Scheduler) loop(ctx context.Context, done chan struct{}) {
	defer func() {
		// The caller's ctx ended without Stop: fall back to Stopped so a
		// later Start can run again.
		s.mu.Lock()
		if s.running && s.done == done {
			s.running = false
			s.cancel()
			s.cancel = nil
			s.logger.Info("closure scheduler stopped by context")
		}
		s.mu.Unlock()
		close(done)
	}()

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	// Ticks do not observe the loop's cancellation so Stop never interrupts
	// a closure mid-transaction.
	tickCtx := context.WithoutCancel(ctx)
	s.tick(tickCtx)
	for {
		select {
		case <-ticker.C:
			s.tick(tickCtx)
		case <-ctx.Done():
			return
		}
	}
}

// tick never panics and never returns an error; the outcome is recorded.
func (s *Scheduler) tick(ctx context.Context) (res TickResult) {
	s.tickMu.Lock()
	defer s.tickMu.Unlock()

	res.At = s.clock.Now()
	defer func() {
		if r := recover(); r != nil {
			res.Outcome = OutcomeError
			res.Bulletin = nil
			res.Error = fmt.Sprintf("panic: %v", r)
			s.logger.Error("closure tick panicked", zap.Any("panic", r))
			s.trail.Record(ctx, audit.EventAutoClosureError, audit.SeverityCritical,
				"automatic closure tick panicked", map[string]any{"error": res.Error})
		}
		s.finish(res)
	}()

	s.evaluate(ctx, &res)
	return res
}

func (s *Scheduler) evaluate(ctx context.Context, res *TickResult) {
	cfg, err := s.settings.Load(ctx)
	if err == nil {
		err = cfg.Validate()
	}
	if err != nil {
		s.fail(ctx, res, OutcomeError, audit.EventAutoClosureError, "load closure settings", err)
		return
	}
	if !cfg.AutoClosureEnabled {
		res.Outcome = OutcomeDisabled
		return
	}

	loc, _ := cfg.Location()
	res.PeriodStart, res.PeriodEnd = closure.DailyPeriod(res.At, loc)
	res.Target, _ = cfg.TargetOn(res.At)

	closed, err := s.closer.IsClosed(ctx, closure.TypeDaily, res.PeriodStart, res.PeriodEnd)
	if err != nil {
		s.fail(ctx, res, OutcomeError, audit.EventAutoClosureError, "look up today's closure", err)
		return
	}
	if closed {
		res.Outcome = OutcomeAlreadyClosed
		return
	}

	switch late := res.At.Sub(res.Target); {
	case late < 0:
		res.Outcome = OutcomeTooEarly
		return
	case late > cfg.Grace():
		res.Outcome = OutcomeGraceElapsed
		return
	}

	b, err := s.closer.CreateClosure(ctx, closure.TypeDaily, res.PeriodStart, res.PeriodEnd, ClosedBy)
	if errors.Is(err, closure.ErrDuplicateClosure) {
		// Closed manually between the lookup and the insert.
		res.Outcome = OutcomeAlreadyClosed
		return
	}
	if err != nil {
		s.fail(ctx, res, OutcomeFailed, audit.EventAutoClosureFailed, "create daily closure", err)
		return
	}

	res.Outcome = OutcomeExecuted
	res.Bulletin = b
	s.trail.Record(ctx, audit.EventAutoClosureExecuted, audit.SeverityInfo, "automatic daily closure executed",
		map[string]any{
			"bulletin_id":        b.ID.String(),
			"period_start":       b.PeriodStart,
			"total_transactions": b.TotalTransactions,
			"total_amount":       b.TotalAmount.StringFixed(2),
		})
}

func (s *Scheduler) fail(ctx context.Context, res *TickResult, o Outcome, ev audit.EventType, what string, err error) {
	res.Outcome = o
	res.Error = fmt.Sprintf("%s: %v", what, err)
	s.logger.Error("closure tick", zap.String("outcome", string(o)), zap.Error(err))
	s.trail.Record(ctx, ev, audit.SeverityCritical, res.Error, map[string]any{
		"period_start": res.PeriodStart,
		"error":        err.Error(),
	})
}

func (s *Scheduler) finish(res TickResult) {
	metrics.RecordSchedulerTick(string(res.Outcome))
	s.mu.Lock()
	s.ticks++
	s.last = &res
	s.mu.Unlock()
	s.logger.Debug("closure tick", zap.String("outcome", string(res.Outcome)), zap.Time("at", res.At))
}
