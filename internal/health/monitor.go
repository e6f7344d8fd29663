// Package health runs the background journal integrity check and reports
// its verdict to /healthz and Prometheus.
package health

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/musebar/legaljournal/internal/clock"
	"github.com/musebar/legaljournal/internal/journal"
	"github.com/musebar/legaljournal/internal/metrics"
)

// Config holds monitor configuration.
type Config struct {
	CheckInterval time.Duration
	CheckTimeout  time.Duration
	// FailThreshold is the number of consecutive failed checks (errors, not
	// breaks) before the monitor reports itself degraded.
	FailThreshold int
}

// ChainVerifier is satisfied by *journal.Verifier.
type ChainVerifier interface {
	Verify(ctx context.Context, r journal.Range) (*journal.Report, error)
}

// State is the monitor's current verdict.
type State string

const (
	StateUnknown     State = "unknown"
	StateHealthy     State = "healthy"
	StateCompromised State = "compromised"
	StateDegraded    State = "degraded"
)

// Status is a snapshot of the monitor.
type Status struct {
	State       State           `json:"state"`
	LastCheck   time.Time       `json:"last_check,omitzero"`
	LastReport  *journal.Report `json:"last_report,omitempty"`
	LastError   string          `json:"last_error,omitempty"`
	FailedTries int             `json:"failed_tries"`
}

// Monitor periodically verifies the whole chain.
type Monitor struct {
	verifier ChainVerifier
	clock    clock.Clock
	cfg      Config
	logger   *zap.Logger

	mu     sync.Mutex
	status Status
}

// New creates a new Monitor.
func New(verifier ChainVerifier, clk clock.Clock, cfg Config, logger *zap.Logger) *Monitor {
	if cfg.CheckInterval == 0 {
		cfg.CheckInterval = time.Hour
	}
	if cfg.CheckTimeout == 0 {
		cfg.CheckTimeout = 5 * time.Minute
	}
	if cfg.FailThreshold == 0 {
		cfg.FailThreshold = 3
	}
	return &Monitor{
		verifier: verifier,
		clock:    clk,
		cfg:      cfg,
		logger:   logger,
		status:   Status{State: StateUnknown},
	}
}

// Run checks the chain every CheckInterval until ctx is done. Callers wanting
// a verdict at startup call CheckNow first.
func (m *Monitor) Run(ctx context.Context) {
	ticker := time.NewTicker(m.cfg.CheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			m.CheckNow(ctx)
		case <-ctx.Done():
			return
		}
	}
}

// CheckNow verifies the chain and updates the status.
func (m *Monitor) CheckNow(ctx context.Context) Status {
	ctx, cancel := context.WithTimeout(ctx, m.cfg.CheckTimeout)
	defer cancel()

	rep, err := m.verifier.Verify(ctx, journal.Range{})
	now := m.clock.Now().UTC()

	m.mu.Lock()
	defer m.mu.Unlock()
	prev := m.status.State
	m.status.LastCheck = now

	if err != nil {
		m.status.FailedTries++
		m.status.LastError = err.Error()
		m.logger.Warn("health: integrity check failed to run",
			zap.Int("failed_tries", m.status.FailedTries), zap.Error(err))
		// A compromised verdict stands until a successful check clears it.
		if m.status.FailedTries >= m.cfg.FailThreshold && prev != StateCompromised {
			m.status.State = StateDegraded
		}
		return m.status
	}

	m.status.FailedTries = 0
	m.status.LastError = ""
	m.status.LastReport = rep
	if rep.IsValid {
		m.status.State = StateHealthy
	} else {
		m.status.State = StateCompromised
	}
	metrics.SetIntegrityHealthy(rep.IsValid)

	switch {
	case m.status.State == StateCompromised && prev != StateCompromised:
		m.logger.Error("health: journal compromised",
			zap.Int64("first_break", rep.FirstBreak),
			zap.Int("compromised", len(rep.Compromised)),
		)
	case m.status.State == StateHealthy && prev == StateCompromised:
		m.logger.Info("health: journal verifies again", zap.Int64("checked", rep.Checked))
	}
	return m.status
}

// Status returns the last verdict.
func (m *Monitor) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.status
}
