// Package closure produces closure bulletins: immutable aggregates of the
// legal journal's SALE activity over a daily, monthly or annual period.
package closure

import (
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

var (
	// ErrDuplicateClosure is returned when a bulletin already exists for the
	// same closure type and period. Closed periods are never overwritten.
	ErrDuplicateClosure = errors.New("period already closed")

	// ErrInvalidPeriod is returned for an empty or inverted period or an
	// unknown closure type.
	ErrInvalidPeriod = errors.New("invalid closure period")

	// ErrNotFound is returned when no bulletin matches.
	ErrNotFound = errors.New("closure bulletin not found")
)

// Type is the closure granularity.
type Type string

const (
	TypeDaily   Type = "DAILY"
	TypeMonthly Type = "MONTHLY"
	TypeAnnual  Type = "ANNUAL"
)

// Valid reports whether t is a known closure type.
func (t Type) Valid() bool {
	switch t {
	case TypeDaily, TypeMonthly, TypeAnnual:
		return true
	}
	return false
}

// Bulletin is a closed aggregate over [PeriodStart, PeriodEnd).
type Bulletin struct {
	ID                uuid.UUID       `json:"id"                 db:"id"`
	ClosureType       Type            `json:"closure_type"       db:"closure_type"`
	PeriodStart       time.Time       `json:"period_start"       db:"period_start"`
	PeriodEnd         time.Time       `json:"period_end"         db:"period_end"`
	TotalAmount       decimal.Decimal `json:"total_amount"       db:"total_amount"`
	TotalVAT          decimal.Decimal `json:"total_vat"          db:"total_vat"`
	TotalTransactions int64           `json:"total_transactions" db:"total_transactions"`
	FirstSequence     *int64          `json:"first_sequence,omitempty" db:"first_sequence"`
	LastSequence      *int64          `json:"last_sequence,omitempty"  db:"last_sequence"`
	IsClosed          bool            `json:"is_closed"          db:"is_closed"`
	ClosedBy          string          `json:"closed_by"          db:"closed_by"`
	CreatedAt         time.Time       `json:"created_at"         db:"created_at"`
}
