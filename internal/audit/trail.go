package audit

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Trail stamps, logs and persists audit events. A nil *Trail is valid and
// discards everything, so components can treat auditing as optional.
type Trail struct {
	rec    Recorder
	now    func() time.Time
	logger *zap.Logger
}

// NewTrail creates a Trail writing to rec.
func NewTrail(rec Recorder, logger *zap.Logger) *Trail {
	return &Trail{rec: rec, now: time.Now, logger: logger}
}

// Record builds an event and hands it to the recorder. Recorder failures are
// logged and swallowed: the audit trail must never abort the operation it
// describes.
func (t *Trail) Record(ctx context.Context, typ EventType, sev Severity, msg string, details map[string]any) {
	if t == nil {
		return
	}

	e := Event{
		ID:         uuid.New(),
		Type:       typ,
		Severity:   sev,
		Message:    msg,
		Details:    details,
		OccurredAt: t.now().UTC(),
	}

	fields := []zap.Field{
		zap.String("audit_event", string(typ)),
		zap.Any("details", details),
	}
	switch sev {
	case SeverityCritical:
		t.logger.Error(msg, fields...)
	case SeverityWarning:
		t.logger.Warn(msg, fields...)
	default:
		t.logger.Info(msg, fields...)
	}

	if t.rec == nil {
		return
	}
	if err := t.rec.Record(ctx, e); err != nil {
		t.logger.Warn("audit: record event", zap.String("audit_event", string(typ)), zap.Error(err))
	}
}
