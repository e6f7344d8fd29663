package settings

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/musebar/legaljournal/internal/audit"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestDefaults_areValid(t *testing.T) {
	s := Defaults()
	require.NoError(t, s.Validate())
	assert.True(t, s.AutoClosureEnabled)
	assert.Equal(t, "02:00", s.DailyClosureTime)
	assert.Equal(t, "Europe/Paris", s.Timezone)
	assert.Equal(t, 30*time.Minute, s.Grace())
}

func TestValidate_rejectsBadFields(t *testing.T) {
	tests := map[string]func(*Settings){
		"time format":    func(s *Settings) { s.DailyClosureTime = "2am" },
		"hour range":     func(s *Settings) { s.DailyClosureTime = "25:00" },
		"unknown zone":   func(s *Settings) { s.Timezone = "Mars/Olympus" },
		"empty zone":     func(s *Settings) { s.Timezone = "" },
		"negative grace": func(s *Settings) { s.GracePeriodMinutes = -1 },
	}
	for name, mutate := range tests {
		t.Run(name, func(t *testing.T) {
			s := Defaults()
			mutate(&s)
			assert.ErrorIs(t, s.Validate(), ErrInvalid)
		})
	}
}

func TestTargetOn_usesLocalBusinessDay(t *testing.T) {
	s := Defaults()
	// 23:30 UTC on March 14 is 00:30 on March 15 in Paris.
	target, err := s.TargetOn(time.Date(2026, 3, 14, 23, 30, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, 3, 15, 1, 0, 0, 0, time.UTC), target.UTC())
}

func TestFromRows_overlaysDefaults(t *testing.T) {
	s, err := fromRows(map[string]string{
		KeyAutoClosureEnabled: "false",
		KeyGracePeriodMinutes: "45",
		"legacy_key":          "ignored",
	})
	require.NoError(t, err)
	assert.False(t, s.AutoClosureEnabled)
	assert.Equal(t, 45, s.GracePeriodMinutes)
	assert.Equal(t, "02:00", s.DailyClosureTime)

	_, err = fromRows(map[string]string{KeyGracePeriodMinutes: "soon"})
	assert.ErrorIs(t, err, ErrInvalid)

	round, err := fromRows(s.rows())
	require.NoError(t, err)
	assert.Equal(t, s, round)
}

type countingProvider struct {
	StaticProvider
	loads int
	fail  error
}

func (p *countingProvider) Load(ctx context.Context) (Settings, error) {
	p.loads++
	if p.fail != nil {
		return Settings{}, p.fail
	}
	return p.StaticProvider.Load(ctx)
}

func TestCachedProvider_servesWithinTTL(t *testing.T) {
	ctx := context.Background()
	inner := &countingProvider{StaticProvider: StaticProvider{s: Defaults()}}
	c := NewCachedProvider(inner, time.Minute)
	now := time.Date(2026, 3, 14, 0, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return now }

	for i := 0; i < 3; i++ {
		_, err := c.Load(ctx)
		require.NoError(t, err)
	}
	assert.Equal(t, 1, inner.loads)

	now = now.Add(2 * time.Minute)
	_, err := c.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, inner.loads)

	c.Invalidate()
	_, err = c.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, inner.loads)
}

func TestCachedProvider_saveRefreshesCache(t *testing.T) {
	ctx := context.Background()
	inner := &countingProvider{StaticProvider: StaticProvider{s: Defaults()}}
	c := NewCachedProvider(inner, time.Hour)

	_, err := c.Load(ctx)
	require.NoError(t, err)

	next := Defaults()
	next.AutoClosureEnabled = false
	require.NoError(t, c.Save(ctx, next))

	got, err := c.Load(ctx)
	require.NoError(t, err)
	assert.False(t, got.AutoClosureEnabled)
	assert.Equal(t, 1, inner.loads)
}

func TestCachedProvider_errorsAreNotCached(t *testing.T) {
	ctx := context.Background()
	inner := &countingProvider{StaticProvider: StaticProvider{s: Defaults()}, fail: errors.New("db down")}
	c := NewCachedProvider(inner, time.Hour)

	_, err := c.Load(ctx)
	require.Error(t, err)

	inner.fail = nil
	_, err = c.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, inner.loads)
}

func TestService_updateAuditsAndPersists(t *testing.T) {
	ctx := context.Background()
	rec := audit.NewMemoryRecorder()
	p := NewStaticProvider(Defaults())
	svc := NewService(p, audit.NewTrail(rec, zap.NewNop()), zap.NewNop())

	next := Defaults()
	next.DailyClosureTime = "03:30"
	_, err := svc.Update(ctx, next, "admin")
	require.NoError(t, err)

	got, err := svc.Get(ctx)
	require.NoError(t, err)
	assert.Equal(t, "03:30", got.DailyClosureTime)
	assert.Len(t, rec.ByType(audit.EventSettingsUpdated), 1)

	bad := Defaults()
	bad.Timezone = "nowhere"
	_, err = svc.Update(ctx, bad, "admin")
	assert.ErrorIs(t, err, ErrInvalid)
	assert.Len(t, rec.ByType(audit.EventSettingsUpdated), 1)
}

func TestService_locationTracksUpdates(t *testing.T) {
	ctx := context.Background()
	svc := NewService(NewStaticProvider(Defaults()), nil, zap.NewNop())

	loc, err := svc.Location(ctx)
	require.NoError(t, err)
	assert.Equal(t, "Europe/Paris", loc.String())

	next := Defaults()
	next.Timezone = "America/New_York"
	_, err = svc.Update(ctx, next, "manager")
	require.NoError(t, err)

	loc, err = svc.Location(ctx)
	require.NoError(t, err)
	assert.Equal(t, "America/New_York", loc.String())
}
