package settings

import (
	"context"
	"time"

	"github.com/musebar/legaljournal/internal/audit"
	"go.uber.org/zap"
)

// Service reads and updates closure settings, auditing every change.
type Service struct {
	provider Provider
	trail    *audit.Trail
	logger   *zap.Logger
}

// NewService creates a new Service.
func NewService(p Provider, trail *audit.Trail, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{provider: p, trail: trail, logger: logger}
}

// Get returns the current settings.
func (s *Service) Get(ctx context.Context) (Settings, error) {
	return s.provider.Load(ctx)
}

// Location returns the configured closure timezone as currently stored.
func (s *Service) Location(ctx context.Context) (*time.Location, error) {
	st, err := s.provider.Load(ctx)
	if err != nil {
		return nil, err
	}
	return st.Location()
}

// Update validates and persists next.
func (s *Service) Update(ctx context.Context, next Settings, actor string) (Settings, error) {
	if err := next.Validate(); err != nil {
		return Settings{}, err
	}
	prev, err := s.provider.Load(ctx)
	if err != nil {
		return Settings{}, err
	}
	if err := s.provider.Save(ctx, next); err != nil {
		return Settings{}, err
	}
	s.trail.Record(ctx, audit.EventSettingsUpdated, audit.SeverityInfo, "closure settings updated", map[string]any{
		"actor":    actor,
		"previous": prev,
		"current":  next,
	})
	s.logger.Info("closure settings updated",
		zap.String("actor", actor),
		zap.Bool("enabled", next.AutoClosureEnabled),
		zap.String("time", next.DailyClosureTime),
		zap.String("timezone", next.Timezone),
		zap.Int("grace_minutes", next.GracePeriodMinutes),
	)
	return next, nil
}
