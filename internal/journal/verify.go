package journal

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/musebar/legaljournal/internal/audit"
	"github.com/musebar/legaljournal/internal/clock"
	"github.com/musebar/legaljournal/internal/metrics"
	"go.uber.org/zap"
)

// Status is the operator-facing integrity state of the journal.
type Status string

const (
	StatusValid       Status = "VALID"
	StatusCompromised Status = "COMPROMISED"
)

// Range bounds a verification by sequence number, inclusive. Zero leaves a
// bound open.
type Range struct {
	From int64 `json:"from,omitempty"`
	To   int64 `json:"to,omitempty"`
}

// Report is the outcome of a verification pass. An integrity violation is
// reported here, never returned as an error.
type Report struct {
	IsValid     bool      `json:"is_valid"`
	Status      Status    `json:"status"`
	Errors      []string  `json:"errors"`
	Compromised []int64   `json:"compromised,omitempty"`
	FirstBreak  int64     `json:"first_break,omitempty"`
	Checked     int64     `json:"checked"`
	TipHash     string    `json:"tip_hash"`
	Range       Range     `json:"range"`
	VerifiedAt  time.Time `json:"verified_at"`
}

// Verifier walks the chain and reports every break. It never writes.
type Verifier struct {
	store  Store
	clock  clock.Clock
	trail  *audit.Trail
	logger *zap.Logger
}

// NewVerifier creates a new Verifier.
func NewVerifier(store Store, clk clock.Clock, trail *audit.Trail, logger *zap.Logger) *Verifier {
	return &Verifier{store: store, clock: clk, trail: trail, logger: logger}
}

// Verify checks sequence continuity, hash linkage and hash reproducibility of
// every entry in r. Scanning never stops at a break: each entry's own faults
// are listed, and every entry at or after the first break is marked
// compromised.
func (v *Verifier) Verify(ctx context.Context, r Range) (*Report, error) {
	rep := &Report{
		Errors:     []string{},
		TipHash:    GenesisHash,
		Range:      r,
		VerifiedAt: v.clock.Now().UTC(),
	}

	expectedSeq := int64(1)
	prevHash := GenesisHash
	if r.From > 1 {
		expectedSeq = r.From
		pred, err := v.store.Get(ctx, r.From-1)
		switch {
		case errors.Is(err, ErrNotFound):
			rep.Errors = append(rep.Errors,
				fmt.Sprintf("entry %d: predecessor of range is missing", r.From-1))
			rep.FirstBreak = r.From
		case err != nil:
			return nil, fmt.Errorf("load range predecessor: %w", err)
		default:
			prevHash = pred.CurrentHash
		}
	}

	err := v.store.Scan(ctx, Query{From: r.From, To: r.To}, func(e *Entry) error {
		var faults []string

		switch {
		case e.SequenceNumber > expectedSeq:
			faults = append(faults, fmt.Sprintf("entry %d: sequence gap, expected %d", e.SequenceNumber, expectedSeq))
		case e.SequenceNumber < expectedSeq:
			faults = append(faults, fmt.Sprintf("entry %d: duplicate or out-of-order sequence, expected %d", e.SequenceNumber, expectedSeq))
		}
		if e.PreviousHash != prevHash {
			faults = append(faults, fmt.Sprintf("entry %d: previous_hash does not link to the preceding entry", e.SequenceNumber))
		}
		if HashEntry(e, prevHash) != e.CurrentHash {
			faults = append(faults, fmt.Sprintf("entry %d: hash mismatch", e.SequenceNumber))
		}

		if len(faults) > 0 && rep.FirstBreak == 0 {
			rep.FirstBreak = e.SequenceNumber
		}
		if rep.FirstBreak != 0 {
			rep.Compromised = append(rep.Compromised, e.SequenceNumber)
			if len(faults) == 0 {
				faults = append(faults, fmt.Sprintf("entry %d: compromised, follows break at %d", e.SequenceNumber, rep.FirstBreak))
			}
		}
		rep.Errors = append(rep.Errors, faults...)

		prevHash = e.CurrentHash
		if e.SequenceNumber >= expectedSeq {
			expectedSeq = e.SequenceNumber + 1
		}
		rep.Checked++
		rep.TipHash = e.CurrentHash
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("scan journal: %w", err)
	}

	rep.IsValid = len(rep.Errors) == 0
	rep.Status = StatusValid
	if !rep.IsValid {
		rep.Status = StatusCompromised
	}

	metrics.RecordIntegrityCheck(rep.IsValid)
	if !rep.IsValid {
		v.trail.Record(ctx, audit.EventIntegrityViolation, audit.SeverityCritical,
			"legal journal integrity check failed",
			map[string]any{
				"first_break": rep.FirstBreak,
				"compromised": len(rep.Compromised),
				"errors":      len(rep.Errors),
			},
		)
	} else {
		v.logger.Debug("journal verified", zap.Int64("checked", rep.Checked), zap.String("tip", rep.TipHash))
	}
	return rep, nil
}
