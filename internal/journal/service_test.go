package journal_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/musebar/legaljournal/internal/audit"
	"github.com/musebar/legaljournal/internal/clock"
	"github.com/musebar/legaljournal/internal/journal"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

var ctx = context.Background()

var t0 = time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)

func newService(store journal.Store) (*journal.Service, *clock.Fake, *audit.MemoryRecorder) {
	clk := clock.NewFake(t0)
	rec := audit.NewMemoryRecorder()
	svc := journal.NewService(store, journal.Config{RegisterID: "MUSEBAR-REG-001"}, clk,
		audit.NewTrail(rec, zap.NewNop()), zap.NewNop())
	return svc, clk, rec
}

func sale(amount, vat string) journal.EntryInput {
	return journal.EntryInput{
		Type:          journal.TypeSale,
		OrderID:       strPtr("ORD-" + amount),
		Amount:        decimal.RequireFromString(amount),
		VATAmount:     decimal.RequireFromString(vat),
		PaymentMethod: journal.PaymentCard,
	}
}

// conflictingStore reports a chain-state conflict for the first n appends.
type conflictingStore struct {
	*journal.MemoryStore
	mu        sync.Mutex
	conflicts int
	calls     int
}

func (s *conflictingStore) Append(ctx context.Context, build journal.BuildFunc) (*journal.Entry, error) {
	s.mu.Lock()
	s.calls++
	fail := s.calls <= s.conflicts
	s.mu.Unlock()
	if fail {
		return nil, journal.ErrChainState
	}
	return s.MemoryStore.Append(ctx, build)
}

func TestAddEntry_firstEntryChainsFromGenesis(t *testing.T) {
	svc, _, _ := newService(journal.NewMemoryStore())

	e, err := svc.AddEntry(ctx, sale("10.00", "2.00"))
	if err != nil {
		t.Fatal(err)
	}
	if e.SequenceNumber != 1 {
		t.Errorf("sequence = %d, want 1", e.SequenceNumber)
	}
	if e.PreviousHash != journal.GenesisHash {
		t.Errorf("previous hash = %q, want GenesisHash", e.PreviousHash)
	}
	if e.RegisterID != "MUSEBAR-REG-001" {
		t.Errorf("register id = %q", e.RegisterID)
	}
	if e.CurrentHash != journal.HashEntry(e, journal.GenesisHash) {
		t.Error("current hash is not reproducible from the entry")
	}
	if !e.Timestamp.Equal(t0) {
		t.Errorf("timestamp = %v, want %v", e.Timestamp, t0)
	}
}

func TestAddEntry_chainsCorrectly(t *testing.T) {
	svc, clk, _ := newService(journal.NewMemoryStore())

	e1, err := svc.AddEntry(ctx, sale("10.00", "2.00"))
	if err != nil {
		t.Fatal(err)
	}
	clk.Advance(time.Minute)
	e2, err := svc.AddEntry(ctx, sale("20.00", "4.00"))
	if err != nil {
		t.Fatal(err)
	}

	if e2.PreviousHash != e1.CurrentHash {
		t.Errorf("chain broken: e2.PreviousHash=%q, want e1.CurrentHash=%q", e2.PreviousHash, e1.CurrentHash)
	}
	if e2.SequenceNumber != 2 {
		t.Errorf("e2 sequence = %d, want 2", e2.SequenceNumber)
	}
}

func TestAddEntry_truncatesTimestampToMillis(t *testing.T) {
	svc, clk, _ := newService(journal.NewMemoryStore())
	clk.Set(t0.Add(123_456_789 * time.Nanosecond))

	e, err := svc.AddEntry(ctx, sale("1.00", "0.20"))
	if err != nil {
		t.Fatal(err)
	}
	if e.Timestamp.Nanosecond() != 123_000_000 {
		t.Errorf("timestamp nanos = %d, want 123000000", e.Timestamp.Nanosecond())
	}
}

func TestAddEntry_concurrentAppendsAreContiguous(t *testing.T) {
	store := journal.NewMemoryStore()
	svc, _, _ := newService(store)

	const n = 50
	var wg sync.WaitGroup
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := svc.AddEntry(ctx, sale("1.00", "0.20")); err != nil {
				errs <- err
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Fatalf("concurrent append: %v", err)
	}

	var prev *journal.Entry
	seen := 0
	err := store.Scan(ctx, journal.Query{}, func(e *journal.Entry) error {
		seen++
		if e.SequenceNumber != int64(seen) {
			t.Errorf("sequence %d at position %d", e.SequenceNumber, seen)
		}
		if prev != nil && e.PreviousHash != prev.CurrentHash {
			t.Errorf("entry %d does not link to %d", e.SequenceNumber, prev.SequenceNumber)
		}
		prev = e
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
	if seen != n {
		t.Errorf("entries = %d, want %d", seen, n)
	}
}

func TestAddEntry_retriesChainStateConflict(t *testing.T) {
	store := &conflictingStore{MemoryStore: journal.NewMemoryStore(), conflicts: 2}
	svc, _, rec := newService(store)

	e, err := svc.AddEntry(ctx, sale("3.00", "0.60"))
	if err != nil {
		t.Fatalf("expected success after retries, got %v", err)
	}
	if e.SequenceNumber != 1 {
		t.Errorf("sequence = %d, want 1", e.SequenceNumber)
	}
	if got := len(rec.ByType(audit.EventChainStateConflict)); got != 2 {
		t.Errorf("conflict audit events = %d, want 2", got)
	}
}

func TestAddEntry_givesUpAfterMaxAttempts(t *testing.T) {
	store := &conflictingStore{MemoryStore: journal.NewMemoryStore(), conflicts: 10}
	svc, _, _ := newService(store)

	_, err := svc.AddEntry(ctx, sale("3.00", "0.60"))
	if !errors.Is(err, journal.ErrChainState) {
		t.Fatalf("expected ErrChainState, got %v", err)
	}
	if store.calls != 3 {
		t.Errorf("append attempts = %d, want 3", store.calls)
	}
	if n, _ := store.Count(ctx); n != 0 {
		t.Errorf("entries = %d, want 0", n)
	}
}

func TestAddEntry_rejectsStaleBuild(t *testing.T) {
	store := journal.NewMemoryStore()
	svc, _, _ := newService(store)
	if _, err := svc.AddEntry(ctx, sale("1.00", "0.20")); err != nil {
		t.Fatal(err)
	}

	// A build computed against an empty journal must not land on a non-empty one.
	_, err := store.Append(ctx, func(*journal.Entry) (*journal.Entry, error) {
		e := &journal.Entry{SequenceNumber: 1, PreviousHash: journal.GenesisHash}
		return e, nil
	})
	if !errors.Is(err, journal.ErrChainState) {
		t.Fatalf("expected ErrChainState, got %v", err)
	}
}

func TestAddEntry_validation(t *testing.T) {
	svc, _, _ := newService(journal.NewMemoryStore())

	cases := map[string]journal.EntryInput{
		"unknown type":    {Type: "GIFT", PaymentMethod: journal.PaymentCash},
		"unknown payment": {Type: journal.TypeSale, PaymentMethod: "barter"},
		"negative sale":   sale("-1.00", "0.00"),
		"negative vat":    sale("1.00", "-0.20"),
		"sub-cent amount": sale("1.005", "0.20"),
		"amount overflow": sale("10000000000.00", "0.00"),
		"vat overflow":    sale("1.00", "10000000000.00"),
		"refund overflow": {Type: journal.TypeRefund, Amount: decimal.RequireFromString("-10000000000.00"), PaymentMethod: journal.PaymentCash},
	}
	for name, in := range cases {
		if _, err := svc.AddEntry(ctx, in); !errors.Is(err, journal.ErrInvalidEntry) {
			t.Errorf("%s: expected ErrInvalidEntry, got %v", name, err)
		}
	}

	refund := journal.EntryInput{
		Type:          journal.TypeRefund,
		Amount:        decimal.RequireFromString("-5.00"),
		VATAmount:     decimal.RequireFromString("-1.00"),
		PaymentMethod: journal.PaymentCash,
	}
	if _, err := svc.AddEntry(ctx, refund); err != nil {
		t.Errorf("negative refund should be accepted: %v", err)
	}
	if _, err := svc.AddEntry(ctx, sale("9999999999.99", "1666666666.67")); err != nil {
		t.Errorf("largest storable amount should be accepted: %v", err)
	}
}

func TestEnsureInitialized_idempotent(t *testing.T) {
	store := journal.NewMemoryStore()
	svc, _, rec := newService(store)

	e, created, err := svc.EnsureInitialized(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if !created || e.TransactionType != journal.TypeInit || e.OrderID != nil {
		t.Fatalf("unexpected init entry: created=%v entry=%+v", created, e)
	}
	if e.PaymentMethod != journal.PaymentSystem {
		t.Errorf("payment method = %q, want system", e.PaymentMethod)
	}

	_, created, err = svc.EnsureInitialized(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if created {
		t.Error("second EnsureInitialized should be a no-op")
	}
	if n, _ := store.Count(ctx); n != 1 {
		t.Errorf("entries = %d, want 1", n)
	}
	if len(rec.ByType(audit.EventJournalInitialized)) != 1 {
		t.Error("expected exactly one JOURNAL_INITIALIZED audit event")
	}
}

func TestOverview(t *testing.T) {
	svc, _, _ := newService(journal.NewMemoryStore())

	ov, err := svc.Overview(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if ov.Entries != 0 || ov.TipHash != journal.GenesisHash {
		t.Errorf("empty overview = %+v", ov)
	}

	e, _ := svc.AddEntry(ctx, sale("1.00", "0.20"))
	ov, err = svc.Overview(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if ov.Entries != 1 || ov.LastSequence != 1 || ov.TipHash != e.CurrentHash {
		t.Errorf("overview = %+v", ov)
	}
}

func TestListEntries_filtersAndLimits(t *testing.T) {
	svc, clk, _ := newService(journal.NewMemoryStore())
	for i := 0; i < 5; i++ {
		if _, err := svc.AddEntry(ctx, sale("1.00", "0.20")); err != nil {
			t.Fatal(err)
		}
		clk.Advance(time.Hour)
	}
	if _, err := svc.AddEntry(ctx, journal.EntryInput{Type: journal.TypeRefund, PaymentMethod: journal.PaymentCash}); err != nil {
		t.Fatal(err)
	}

	got, err := svc.ListEntries(ctx, journal.Query{Type: journal.TypeSale, Since: t0.Add(time.Hour), Until: t0.Add(3 * time.Hour)}, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 || got[0].SequenceNumber != 2 || got[1].SequenceNumber != 3 {
		t.Errorf("time-filtered sales = %v", seqs(got))
	}

	got, err = svc.ListEntries(ctx, journal.Query{From: 2}, 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 || got[0].SequenceNumber != 2 {
		t.Errorf("limited list = %v", seqs(got))
	}

	if _, err := svc.GetEntry(ctx, 99); !errors.Is(err, journal.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func seqs(es []*journal.Entry) []int64 {
	out := make([]int64, len(es))
	for i, e := range es {
		out[i] = e.SequenceNumber
	}
	return out
}
