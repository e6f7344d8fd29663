//go:build integration

package audit_test

import (
	"context"
	"testing"

	"github.com/musebar/legaljournal/internal/audit"
	"github.com/musebar/legaljournal/internal/database/dbtest"
	"go.uber.org/zap"
)

func TestPostgresRecorder_appendOnly(t *testing.T) {
	ctx := context.Background()
	db := dbtest.New(t)
	trail := audit.NewTrail(audit.NewPostgresRecorder(db), zap.NewNop())

	trail.Record(ctx, audit.EventJournalInitialized, audit.SeverityInfo, "journal initialized", map[string]any{"sequence": 1})

	var n int
	if err := db.QueryRow(ctx, "SELECT COUNT(*) FROM audit_trail WHERE event_type = $1", audit.EventJournalInitialized).Scan(&n); err != nil {
		t.Fatalf("count: %v", err)
	}
	if n != 1 {
		t.Fatalf("audit rows = %d, want 1", n)
	}
	if _, err := db.Exec(ctx, "DELETE FROM audit_trail"); err == nil {
		t.Error("DELETE on audit_trail succeeded, want rejection")
	}
}
