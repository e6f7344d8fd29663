package journal_test

import (
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/musebar/legaljournal/internal/audit"
	"github.com/musebar/legaljournal/internal/clock"
	"github.com/musebar/legaljournal/internal/journal"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

func seededStore(t *testing.T, n int) (*journal.MemoryStore, *audit.MemoryRecorder, *journal.Verifier) {
	t.Helper()
	store := journal.NewMemoryStore()
	svc, clk, _ := newService(store)
	for i := 0; i < n; i++ {
		if _, err := svc.AddEntry(ctx, sale("10.00", "2.00")); err != nil {
			t.Fatal(err)
		}
		clk.Advance(time.Minute)
	}
	rec := audit.NewMemoryRecorder()
	v := journal.NewVerifier(store, clock.NewFake(t0), audit.NewTrail(rec, zap.NewNop()), zap.NewNop())
	return store, rec, v
}

func TestVerify_emptyJournal(t *testing.T) {
	_, _, v := seededStore(t, 0)
	rep, err := v.Verify(ctx, journal.Range{})
	if err != nil {
		t.Fatal(err)
	}
	if !rep.IsValid || rep.Checked != 0 || rep.TipHash != journal.GenesisHash {
		t.Errorf("empty journal report = %+v", rep)
	}
}

func TestVerify_valid(t *testing.T) {
	_, rec, v := seededStore(t, 5)

	rep, err := v.Verify(ctx, journal.Range{})
	if err != nil {
		t.Fatal(err)
	}
	if !rep.IsValid || rep.Status != journal.StatusValid {
		t.Errorf("Verify() failed on valid chain: %v", rep.Errors)
	}
	if rep.Checked != 5 {
		t.Errorf("checked = %d, want 5", rep.Checked)
	}
	if len(rec.ByType(audit.EventIntegrityViolation)) != 0 {
		t.Error("valid chain must not raise an integrity violation")
	}
}

func TestVerify_idempotent(t *testing.T) {
	store, _, v := seededStore(t, 4)
	store.TamperForTest(2, func(e *journal.Entry) { e.PaymentMethod = journal.PaymentCash })

	a, err := v.Verify(ctx, journal.Range{})
	if err != nil {
		t.Fatal(err)
	}
	b, err := v.Verify(ctx, journal.Range{})
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(a, b) {
		t.Errorf("reports differ:\n%+v\n%+v", a, b)
	}
}

func TestVerify_tamperedFieldMarksEntryAndSuccessors(t *testing.T) {
	store, rec, v := seededStore(t, 5)
	store.TamperForTest(3, func(e *journal.Entry) { e.Amount = decimal.RequireFromString("99.00") })

	rep, err := v.Verify(ctx, journal.Range{})
	if err != nil {
		t.Fatal(err)
	}
	if rep.IsValid || rep.Status != journal.StatusCompromised {
		t.Fatal("expected compromised report")
	}
	if rep.FirstBreak != 3 {
		t.Errorf("first break = %d, want 3", rep.FirstBreak)
	}
	if !reflect.DeepEqual(rep.Compromised, []int64{3, 4, 5}) {
		t.Errorf("compromised = %v, want [3 4 5]", rep.Compromised)
	}

	mentioned := map[int64]bool{}
	for _, msg := range rep.Errors {
		for seq := int64(1); seq <= 5; seq++ {
			if strings.HasPrefix(msg, "entry "+itoa(seq)+":") {
				mentioned[seq] = true
			}
		}
	}
	for seq := int64(1); seq <= 5; seq++ {
		if want := seq >= 3; mentioned[seq] != want {
			t.Errorf("entry %d mentioned=%v, want %v (errors: %v)", seq, mentioned[seq], want, rep.Errors)
		}
	}
	if !strings.Contains(strings.Join(rep.Errors, "\n"), "entry 3: hash mismatch") {
		t.Errorf("missing hash mismatch for entry 3: %v", rep.Errors)
	}
	if len(rec.ByType(audit.EventIntegrityViolation)) != 1 {
		t.Error("expected one INTEGRITY_VIOLATION audit event")
	}
}

func TestVerify_downstreamBreaksReportedIndividually(t *testing.T) {
	store, _, v := seededStore(t, 6)
	store.TamperForTest(2, func(e *journal.Entry) { e.RegisterID = "ROGUE" })
	store.TamperForTest(5, func(e *journal.Entry) { e.VATAmount = decimal.Zero })

	rep, err := v.Verify(ctx, journal.Range{})
	if err != nil {
		t.Fatal(err)
	}
	joined := strings.Join(rep.Errors, "\n")
	for _, want := range []string{"entry 2: hash mismatch", "entry 5: hash mismatch"} {
		if !strings.Contains(joined, want) {
			t.Errorf("missing %q in %v", want, rep.Errors)
		}
	}
	if rep.FirstBreak != 2 || len(rep.Compromised) != 5 {
		t.Errorf("first break = %d compromised = %v", rep.FirstBreak, rep.Compromised)
	}
}

func TestVerify_brokenLinkage(t *testing.T) {
	store, _, v := seededStore(t, 3)
	store.TamperForTest(2, func(e *journal.Entry) {
		e.PreviousHash = strings.Repeat("f", 64)
		e.CurrentHash = journal.HashEntry(e, e.PreviousHash)
	})

	rep, err := v.Verify(ctx, journal.Range{})
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(strings.Join(rep.Errors, "\n"), "entry 2: previous_hash does not link") {
		t.Errorf("linkage break not reported: %v", rep.Errors)
	}
	if rep.FirstBreak != 2 {
		t.Errorf("first break = %d, want 2", rep.FirstBreak)
	}
}

func TestVerify_sequenceGap(t *testing.T) {
	store, _, v := seededStore(t, 4)
	store.DeleteForTest(2)

	rep, err := v.Verify(ctx, journal.Range{})
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(strings.Join(rep.Errors, "\n"), "entry 3: sequence gap, expected 2") {
		t.Errorf("gap not reported: %v", rep.Errors)
	}
	if rep.FirstBreak != 3 {
		t.Errorf("first break = %d, want 3", rep.FirstBreak)
	}
}

func TestVerify_subrangeSeedsFromPredecessor(t *testing.T) {
	store, _, v := seededStore(t, 6)

	rep, err := v.Verify(ctx, journal.Range{From: 3, To: 5})
	if err != nil {
		t.Fatal(err)
	}
	if !rep.IsValid || rep.Checked != 3 {
		t.Errorf("subrange report = %+v", rep)
	}

	store.TamperForTest(2, func(e *journal.Entry) { e.Amount = decimal.NewFromInt(1) })
	rep, err = v.Verify(ctx, journal.Range{From: 4})
	if err != nil {
		t.Fatal(err)
	}
	if !rep.IsValid {
		t.Errorf("tamper before the range must not be reported: %v", rep.Errors)
	}
}

func itoa(n int64) string {
	return decimal.NewFromInt(n).String()
}
