package journal

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/musebar/legaljournal/internal/audit"
	"github.com/musebar/legaljournal/internal/clock"
	"github.com/musebar/legaljournal/internal/metrics"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// DefaultRegisterID is used when no register id is configured.
const DefaultRegisterID = "MUSEBAR-REG-001"

var errAlreadyInitialized = errors.New("journal already initialized")

// Config holds append-path configuration.
type Config struct {
	RegisterID    string
	AppendRetries int // total attempts per AddEntry; 0 means 3
}

// EntryInput is the caller-supplied part of a new entry. Sequence number,
// timestamp, register id and hashes are assigned by the Service.
type EntryInput struct {
	Type          TransactionType
	OrderID       *string
	Amount        decimal.Decimal
	VATAmount     decimal.Decimal
	PaymentMethod PaymentMethod
	Metadata      map[string]any
}

// Overview summarises the current chain.
type Overview struct {
	Entries      int64  `json:"entries"`
	LastSequence int64  `json:"last_sequence"`
	TipHash      string `json:"tip_hash"`
	RegisterID   string `json:"register_id"`
}

// Service is the only write path into the journal.
type Service struct {
	store       Store
	clock       clock.Clock
	registerID  string
	maxAttempts int
	trail       *audit.Trail // nil = no audit records
	logger      *zap.Logger
}

// NewService creates a new Service.
func NewService(store Store, cfg Config, clk clock.Clock, trail *audit.Trail, logger *zap.Logger) *Service {
	if cfg.RegisterID == "" {
		cfg.RegisterID = DefaultRegisterID
	}
	if cfg.AppendRetries <= 0 {
		cfg.AppendRetries = 3
	}
	return &Service{
		store:       store,
		clock:       clk,
		registerID:  cfg.RegisterID,
		maxAttempts: cfg.AppendRetries,
		trail:       trail,
		logger:      logger,
	}
}

// RegisterID returns the register this service writes for.
func (s *Service) RegisterID() string { return s.registerID }

// Store exposes the underlying read surface for collaborators that aggregate
// or export entries.
func (s *Service) Store() Store { return s.store }

// AddEntry appends a new entry to the chain. On a chain-state conflict the
// whole read-compute-append step is retried from a fresh tail; a hash computed
// against one tail is never reused against another.
func (s *Service) AddEntry(ctx context.Context, in EntryInput) (*Entry, error) {
	if err := validateInput(&in); err != nil {
		return nil, err
	}

	for attempt := 1; ; attempt++ {
		entry, err := s.store.Append(ctx, func(tail *Entry) (*Entry, error) {
			return s.next(tail, in), nil
		})
		if err == nil {
			metrics.RecordAppend(string(entry.TransactionType), entry.SequenceNumber)
			s.logger.Debug("journal entry added",
				zap.Int64("sequence", entry.SequenceNumber),
				zap.String("type", string(entry.TransactionType)),
				zap.String("hash", entry.CurrentHash),
			)
			return entry, nil
		}
		if !errors.Is(err, ErrChainState) {
			return nil, fmt.Errorf("append journal entry: %w", err)
		}

		metrics.RecordAppendConflict()
		s.trail.Record(ctx, audit.EventChainStateConflict, audit.SeverityWarning,
			"journal append conflicted with a concurrent writer",
			map[string]any{"attempt": attempt, "type": string(in.Type), "error": err.Error()},
		)
		if attempt >= s.maxAttempts {
			return nil, fmt.Errorf("append journal entry after %d attempts: %w", attempt, err)
		}
	}
}

// EnsureInitialized appends an INIT system entry when the journal is empty.
// It reports whether an entry was written.
func (s *Service) EnsureInitialized(ctx context.Context) (*Entry, bool, error) {
	in := EntryInput{
		Type:          TypeInit,
		PaymentMethod: PaymentSystem,
		Metadata:      map[string]any{"event": "journal_initialization"},
	}

	entry, err := s.store.Append(ctx, func(tail *Entry) (*Entry, error) {
		if tail != nil {
			return nil, errAlreadyInitialized
		}
		return s.next(nil, in), nil
	})
	if errors.Is(err, errAlreadyInitialized) || errors.Is(err, ErrChainState) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("initialize journal: %w", err)
	}

	metrics.RecordAppend(string(entry.TransactionType), entry.SequenceNumber)
	s.trail.Record(ctx, audit.EventJournalInitialized, audit.SeverityInfo,
		"legal journal initialized",
		map[string]any{"register_id": s.registerID, "hash": entry.CurrentHash},
	)
	return entry, true, nil
}

// GetEntry returns a single entry by sequence number.
func (s *Service) GetEntry(ctx context.Context, seq int64) (*Entry, error) {
	return s.store.Get(ctx, seq)
}

// Overview returns the chain length and tip.
func (s *Service) Overview(ctx context.Context) (*Overview, error) {
	n, err := s.store.Count(ctx)
	if err != nil {
		return nil, err
	}
	ov := &Overview{Entries: n, TipHash: GenesisHash, RegisterID: s.registerID}
	tail, err := s.store.Last(ctx)
	switch {
	case errors.Is(err, ErrNotFound):
	case err != nil:
		return nil, err
	default:
		ov.LastSequence = tail.SequenceNumber
		ov.TipHash = tail.CurrentHash
	}
	return ov, nil
}

// ListEntries collects the entries matching q. limit <= 0 means no limit.
func (s *Service) ListEntries(ctx context.Context, q Query, limit int) ([]*Entry, error) {
	var out []*Entry
	errStop := errors.New("stop")
	err := s.store.Scan(ctx, q, func(e *Entry) error {
		out = append(out, e)
		if limit > 0 && len(out) >= limit {
			return errStop
		}
		return nil
	})
	if err != nil && !errors.Is(err, errStop) {
		return nil, err
	}
	return out, nil
}

// next builds the successor of tail. It is pure apart from reading the clock.
func (s *Service) next(tail *Entry, in EntryInput) *Entry {
	seq := int64(1)
	prev := GenesisHash
	if tail != nil {
		seq = tail.SequenceNumber + 1
		prev = tail.CurrentHash
	}

	e := &Entry{
		SequenceNumber:  seq,
		TransactionType: in.Type,
		OrderID:         in.OrderID,
		Amount:          in.Amount,
		VATAmount:       in.VATAmount,
		PaymentMethod:   in.PaymentMethod,
		Timestamp:       s.clock.Now().UTC().Truncate(time.Millisecond),
		RegisterID:      s.registerID,
		PreviousHash:    prev,
		Metadata:        in.Metadata,
	}
	e.CurrentHash = HashEntry(e, prev)
	return e
}

// maxAmount bounds amounts to what a NUMERIC(12,2) column holds.
var maxAmount = decimal.New(1, 10)

func validateInput(in *EntryInput) error {
	if !in.Type.Valid() {
		return fmt.Errorf("unknown transaction type %q: %w", in.Type, ErrInvalidEntry)
	}
	if !in.PaymentMethod.Valid() {
		return fmt.Errorf("unknown payment method %q: %w", in.PaymentMethod, ErrInvalidEntry)
	}
	if !in.Amount.Equal(in.Amount.Round(2)) || !in.VATAmount.Equal(in.VATAmount.Round(2)) {
		return fmt.Errorf("amounts carry more than two decimals: %w", ErrInvalidEntry)
	}
	if in.Amount.Abs().GreaterThanOrEqual(maxAmount) || in.VATAmount.Abs().GreaterThanOrEqual(maxAmount) {
		return fmt.Errorf("amounts must stay below %s in magnitude: %w", maxAmount, ErrInvalidEntry)
	}
	if in.Type == TypeSale && (in.Amount.IsNegative() || in.VATAmount.IsNegative()) {
		return fmt.Errorf("sale amounts must be non-negative: %w", ErrInvalidEntry)
	}
	if in.OrderID != nil && *in.OrderID == "" {
		in.OrderID = nil
	}
	in.Amount = in.Amount.Round(2)
	in.VATAmount = in.VATAmount.Round(2)
	return nil
}
