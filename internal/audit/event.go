// Package audit records forensic events emitted by the legal journal
// subsystem: scheduler outcomes, closure and export lifecycle, chain
// conflicts and integrity violations.
package audit

import (
	"time"

	"github.com/google/uuid"
)

// EventType identifies the kind of audit record.
type EventType string

const (
	EventAutoClosureExecuted      EventType = "AUTO_CLOSURE_EXECUTED"
	EventAutoClosureFailed        EventType = "AUTO_CLOSURE_FAILED"
	EventAutoClosureError         EventType = "AUTO_CLOSURE_ERROR"
	EventSchedulerStarted         EventType = "SCHEDULER_STARTED"
	EventSchedulerStopped         EventType = "SCHEDULER_STOPPED"
	EventClosureCreated           EventType = "CLOSURE_CREATED"
	EventClosureDuplicateRejected EventType = "CLOSURE_DUPLICATE_REJECTED"
	EventChainStateConflict       EventType = "CHAIN_STATE_CONFLICT"
	EventJournalInitialized       EventType = "JOURNAL_INITIALIZED"
	EventIntegrityViolation       EventType = "INTEGRITY_VIOLATION"
	EventExportCompleted          EventType = "EXPORT_COMPLETED"
	EventExportFailed             EventType = "EXPORT_FAILED"
	EventExportVerified           EventType = "EXPORT_VERIFIED"
	EventExportVerificationFailed EventType = "EXPORT_VERIFICATION_FAILED"
	EventSettingsUpdated          EventType = "SETTINGS_UPDATED"
)

// Severity ranks an event for operators.
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// Event is a single audit-trail record.
type Event struct {
	ID         uuid.UUID      `json:"id"          db:"id"`
	Type       EventType      `json:"event_type"  db:"event_type"`
	Severity   Severity       `json:"severity"    db:"severity"`
	Message    string         `json:"message"     db:"message"`
	Details    map[string]any `json:"details"     db:"details"`
	OccurredAt time.Time      `json:"occurred_at" db:"occurred_at"`
}
