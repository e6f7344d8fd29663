package scheduler_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/musebar/legaljournal/internal/audit"
	"github.com/musebar/legaljournal/internal/clock"
	"github.com/musebar/legaljournal/internal/closure"
	"github.com/musebar/legaljournal/internal/journal"
	"github.com/musebar/legaljournal/internal/scheduler"
	"github.com/musebar/legaljournal/internal/settings"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

var ctx = context.Background()

func paris(t *testing.T) *time.Location {
	t.Helper()
	loc, err := time.LoadLocation("Europe/Paris")
	require.NoError(t, err)
	return loc
}

type fixture struct {
	clk      *clock.Fake
	journal  *journal.Service
	closures *closure.Service
	settings *settings.StaticProvider
	rec      *audit.MemoryRecorder
	sched    *scheduler.Scheduler
}

func newFixture(t *testing.T, now time.Time) *fixture {
	t.Helper()
	clk := clock.NewFake(now)
	rec := audit.NewMemoryRecorder()
	trail := audit.NewTrail(rec, zap.NewNop())
	store := journal.NewMemoryStore()
	f := &fixture{
		clk:      clk,
		journal:  journal.NewService(store, journal.Config{}, clk, trail, zap.NewNop()),
		closures: closure.NewService(closure.NewMemoryRepository(store), clk, trail, zap.NewNop()),
		settings: settings.NewStaticProvider(settings.Defaults()),
		rec:      rec,
	}
	f.sched = scheduler.New(f.closures, f.settings, clk, trail, scheduler.Config{Interval: 10 * time.Millisecond}, zap.NewNop())
	return f
}

func TestTick_withinGraceTriggersClosure(t *testing.T) {
	loc := paris(t)
	f := newFixture(t, time.Date(2026, 3, 14, 0, 30, 0, 0, loc))
	_, err := f.journal.AddEntry(ctx, journal.EntryInput{
		Type: journal.TypeSale, Amount: decimal.RequireFromString("12.50"),
		VATAmount: decimal.RequireFromString("2.50"), PaymentMethod: journal.PaymentCash,
	})
	require.NoError(t, err)

	f.clk.Set(time.Date(2026, 3, 14, 2, 15, 0, 0, loc))
	res := f.sched.TriggerManualCheck(ctx)

	require.Equal(t, scheduler.OutcomeExecuted, res.Outcome, res.Error)
	require.NotNil(t, res.Bulletin)
	assert.Equal(t, closure.TypeDaily, res.Bulletin.ClosureType)
	assert.Equal(t, time.Date(2026, 3, 14, 0, 0, 0, 0, loc).UTC(), res.Bulletin.PeriodStart)
	assert.Equal(t, time.Date(2026, 3, 15, 0, 0, 0, 0, loc).UTC(), res.Bulletin.PeriodEnd)
	assert.Equal(t, int64(1), res.Bulletin.TotalTransactions)
	assert.Equal(t, scheduler.ClosedBy, res.Bulletin.ClosedBy)

	events := f.rec.ByType(audit.EventAutoClosureExecuted)
	require.Len(t, events, 1)
	assert.Equal(t, int64(1), events[0].Details["total_transactions"])
	assert.Equal(t, "12.50", events[0].Details["total_amount"])
}

func TestTick_graceElapsedDoesNotTrigger(t *testing.T) {
	f := newFixture(t, time.Date(2026, 3, 14, 2, 45, 0, 0, paris(t)))

	res := f.sched.TriggerManualCheck(ctx)

	assert.Equal(t, scheduler.OutcomeGraceElapsed, res.Outcome)
	bulletins, err := f.closures.GetBulletins(ctx, closure.TypeDaily)
	require.NoError(t, err)
	assert.Empty(t, bulletins)
}

func TestTick_outcomes(t *testing.T) {
	loc := paris(t)
	tests := []struct {
		name   string
		at     time.Time
		mutate func(*settings.Settings)
		want   scheduler.Outcome
	}{
		{"before target", time.Date(2026, 3, 14, 1, 59, 0, 0, loc), nil, scheduler.OutcomeTooEarly},
		{"exactly at target", time.Date(2026, 3, 14, 2, 0, 0, 0, loc), nil, scheduler.OutcomeExecuted},
		{"grace boundary", time.Date(2026, 3, 14, 2, 30, 0, 0, loc), nil, scheduler.OutcomeExecuted},
		{"after grace", time.Date(2026, 3, 14, 2, 31, 0, 0, loc), nil, scheduler.OutcomeGraceElapsed},
		{"disabled", time.Date(2026, 3, 14, 2, 15, 0, 0, loc),
			func(s *settings.Settings) { s.AutoClosureEnabled = false }, scheduler.OutcomeDisabled},
		{"other timezone", time.Date(2026, 3, 14, 2, 15, 0, 0, time.UTC),
			func(s *settings.Settings) { s.Timezone = "UTC" }, scheduler.OutcomeExecuted},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture(t, tc.at)
			if tc.mutate != nil {
				s := settings.Defaults()
				tc.mutate(&s)
				require.NoError(t, f.settings.Save(ctx, s))
			}
			res := f.sched.TriggerManualCheck(ctx)
			assert.Equal(t, tc.want, res.Outcome, res.Error)
		})
	}
}

func TestTick_alreadyClosedDoesNotTriggerAgain(t *testing.T) {
	loc := paris(t)
	f := newFixture(t, time.Date(2026, 3, 14, 2, 10, 0, 0, loc))

	first := f.sched.TriggerManualCheck(ctx)
	require.Equal(t, scheduler.OutcomeExecuted, first.Outcome)

	f.clk.Advance(5 * time.Minute)
	second := f.sched.TriggerManualCheck(ctx)
	assert.Equal(t, scheduler.OutcomeAlreadyClosed, second.Outcome)
	assert.Len(t, f.rec.ByType(audit.EventAutoClosureExecuted), 1)
}

type stubCloser struct {
	createErr error
	lookupErr error
	panicMsg  string
}

func (s *stubCloser) IsClosed(context.Context, closure.Type, time.Time, time.Time) (bool, error) {
	if s.panicMsg != "" {
		panic(s.panicMsg)
	}
	return false, s.lookupErr
}

func (s *stubCloser) CreateClosure(context.Context, closure.Type, time.Time, time.Time, string) (*closure.Bulletin, error) {
	return nil, s.createErr
}

func stubScheduler(t *testing.T, c scheduler.Closer, p settings.Provider) (*scheduler.Scheduler, *audit.MemoryRecorder) {
	t.Helper()
	rec := audit.NewMemoryRecorder()
	clk := clock.NewFake(time.Date(2026, 3, 14, 2, 15, 0, 0, paris(t)))
	return scheduler.New(c, p, clk, audit.NewTrail(rec, zap.NewNop()), scheduler.Config{}, zap.NewNop()), rec
}

func TestTick_closureFailureIsAuditedNotFatal(t *testing.T) {
	s, rec := stubScheduler(t, &stubCloser{createErr: errors.New("disk full")}, settings.NewStaticProvider(settings.Defaults()))

	res := s.TriggerManualCheck(ctx)

	assert.Equal(t, scheduler.OutcomeFailed, res.Outcome)
	assert.Contains(t, res.Error, "disk full")
	assert.Len(t, rec.ByType(audit.EventAutoClosureFailed), 1)
	assert.Equal(t, int64(1), s.Status().Ticks)
}

func TestTick_concurrentManualClosureCountsAsAlreadyClosed(t *testing.T) {
	s, rec := stubScheduler(t, &stubCloser{createErr: closure.ErrDuplicateClosure}, settings.NewStaticProvider(settings.Defaults()))

	res := s.TriggerManualCheck(ctx)

	assert.Equal(t, scheduler.OutcomeAlreadyClosed, res.Outcome)
	assert.Empty(t, rec.ByType(audit.EventAutoClosureFailed))
}

type brokenProvider struct{}

func (brokenProvider) Load(context.Context) (settings.Settings, error) {
	return settings.Settings{}, errors.New("settings table missing")
}
func (brokenProvider) Save(context.Context, settings.Settings) error { return nil }

func TestTick_settingsErrorIsRecorded(t *testing.T) {
	s, rec := stubScheduler(t, &stubCloser{}, brokenProvider{})

	res := s.TriggerManualCheck(ctx)

	assert.Equal(t, scheduler.OutcomeError, res.Outcome)
	assert.Len(t, rec.ByType(audit.EventAutoClosureError), 1)
}

func TestTick_panicIsRecovered(t *testing.T) {
	s, rec := stubScheduler(t, &stubCloser{panicMsg: "boom"}, settings.NewStaticProvider(settings.Defaults()))

	var res scheduler.TickResult
	require.NotPanics(t, func() { res = s.TriggerManualCheck(ctx) })

	assert.Equal(t, scheduler.OutcomeError, res.Outcome)
	assert.Contains(t, res.Error, "boom")
	assert.Len(t, rec.ByType(audit.EventAutoClosureError), 1)
	require.NotNil(t, s.Status().LastTick)
	assert.Equal(t, scheduler.OutcomeError, s.Status().LastTick.Outcome)
}

func TestStartStop_lifecycle(t *testing.T) {
	f := newFixture(t, time.Date(2026, 3, 14, 2, 5, 0, 0, paris(t)))

	require.True(t, f.sched.Start(ctx))
	assert.False(t, f.sched.Start(ctx), "second Start is a no-op")
	assert.True(t, f.sched.Status().Running)

	require.Eventually(t, func() bool { return f.sched.Status().Ticks >= 3 }, 2*time.Second, 5*time.Millisecond)

	require.True(t, f.sched.Stop())
	assert.False(t, f.sched.Stop())

	st := f.sched.Status()
	assert.False(t, st.Running)
	require.NotNil(t, st.LastTick)
	assert.Equal(t, scheduler.OutcomeAlreadyClosed, st.LastTick.Outcome)

	bulletins, err := f.closures.GetBulletins(ctx, closure.TypeDaily)
	require.NoError(t, err)
	assert.Len(t, bulletins, 1, "repeated ticks close the day once")

	ticks := st.Ticks
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, ticks, f.sched.Status().Ticks, "no ticks after Stop returns")

	assert.Len(t, f.rec.ByType(audit.EventSchedulerStarted), 1)
	assert.Len(t, f.rec.ByType(audit.EventSchedulerStopped), 1)
}

func TestStart_cancelledContextReturnsToStopped(t *testing.T) {
	f := newFixture(t, time.Date(2026, 3, 14, 2, 5, 0, 0, paris(t)))
	runCtx, cancel := context.WithCancel(ctx)

	require.True(t, f.sched.Start(runCtx))
	cancel()
	require.Eventually(t, func() bool { return !f.sched.Status().Running }, 2*time.Second, 5*time.Millisecond)

	assert.False(t, f.sched.Stop(), "already stopped")
	require.True(t, f.sched.Start(ctx), "Start works again after the context ended")
	assert.True(t, f.sched.Status().Running)
	require.True(t, f.sched.Stop())
}

func TestStop_waitsForInFlightTick(t *testing.T) {
	gate := make(chan struct{})
	entered := make(chan struct{})
	c := &blockingCloser{gate: gate, entered: entered}
	s, _ := stubScheduler(t, c, settings.NewStaticProvider(settings.Defaults()))

	s.Start(ctx)
	<-entered

	stopped := make(chan struct{})
	go func() {
		s.Stop()
		close(stopped)
	}()

	select {
	case <-stopped:
		t.Fatal("Stop returned while a tick was in flight")
	case <-time.After(30 * time.Millisecond):
	}
	close(gate)
	<-stopped

	c.mu.Lock()
	defer c.mu.Unlock()
	assert.NoError(t, c.ctxErr, "in-flight tick must not observe Stop's cancellation")
}

type blockingCloser struct {
	gate    chan struct{}
	entered chan struct{}
	once    sync.Once
	mu      sync.Mutex
	ctxErr  error
}

func (b *blockingCloser) IsClosed(ctx context.Context, _ closure.Type, _, _ time.Time) (bool, error) {
	b.once.Do(func() {
		close(b.entered)
		<-b.gate
		b.mu.Lock()
		b.ctxErr = ctx.Err()
		b.mu.Unlock()
	})
	return true, nil
}

func (b *blockingCloser) CreateClosure(context.Context, closure.Type, time.Time, time.Time, string) (*closure.Bulletin, error) {
	return nil, nil
}
