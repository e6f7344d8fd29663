//go:build integration

package export_test

import (
	"testing"
	"time"

	"github.com/musebar/legaljournal/internal/audit"
	"github.com/musebar/legaljournal/internal/clock"
	"github.com/musebar/legaljournal/internal/closure"
	"github.com/musebar/legaljournal/internal/database/dbtest"
	"github.com/musebar/legaljournal/internal/export"
	"github.com/musebar/legaljournal/internal/journal"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestPostgresRepository_exportLifecycle(t *testing.T) {
	db := dbtest.New(t)
	clk := clock.NewFake(day.Add(10 * time.Hour))
	rec := audit.NewMemoryRecorder()
	trail := audit.NewTrail(rec, zap.NewNop())
	store := journal.NewPostgresStore(db, "MUSEBAR-REG-001", zap.NewNop())
	jsvc := journal.NewService(store, journal.Config{RegisterID: "MUSEBAR-REG-001"}, clk, trail, zap.NewNop())
	csvc := closure.NewService(closure.NewPostgresRepository(db), clk, trail, zap.NewNop())
	verifier := journal.NewVerifier(store, clk, trail, zap.NewNop())
	signer, err := export.NewSigner("test-secret")
	require.NoError(t, err)
	repo := export.NewPostgresRepository(db)
	svc := export.NewService(repo, export.Sources{
		Entries: store, Bulletins: csvc, Verifier: verifier, Journal: jsvc,
	}, signer, export.Config{Dir: t.TempDir(), RegisterID: "MUSEBAR-REG-001"}, clk, trail, zap.NewNop())

	_, err = jsvc.AddEntry(ctx, journal.EntryInput{
		Type:          journal.TypeSale,
		Amount:        decimal.RequireFromString("10.00"),
		VATAmount:     decimal.RequireFromString("2.00"),
		PaymentMethod: journal.PaymentCash,
	})
	require.NoError(t, err)
	clk.Set(day.Add(26 * time.Hour))
	_, err = csvc.CreateClosure(ctx, closure.TypeDaily, day, day.AddDate(0, 0, 1), "manual")
	require.NoError(t, err)

	rec1, err := svc.ExportData(ctx, export.Request{
		Type: export.TypeDaily, Format: export.FormatCSV, PeriodStart: day, CreatedBy: "it",
	})
	require.NoError(t, err)
	assert.Equal(t, export.StatusCompleted, rec1.ExportStatus)

	stored, err := repo.Get(ctx, rec1.ID)
	require.NoError(t, err)
	assert.Equal(t, rec1.FileHash, stored.FileHash)
	assert.Equal(t, rec1.FileSize, stored.FileSize)
	require.NotNil(t, stored.PeriodStart)
	assert.True(t, stored.PeriodStart.Equal(day))

	res, err := svc.VerifyExport(ctx, rec1.ID)
	require.NoError(t, err)
	assert.True(t, res.IsValid, res.Errors)

	stored, err = repo.Get(ctx, rec1.ID)
	require.NoError(t, err)
	assert.Equal(t, export.StatusVerified, stored.ExportStatus)
	assert.NotNil(t, stored.VerifiedAt)

	clk.Advance(time.Minute)
	_, err = svc.ExportData(ctx, export.Request{
		Type: export.TypeDaily, Format: export.FormatJSON, PeriodStart: day.AddDate(0, 0, 5),
	})
	require.ErrorIs(t, err, export.ErrExportFailed)

	list, err := svc.ListExports(ctx, 10)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, export.StatusFailed, list[0].ExportStatus)
	assert.NotEmpty(t, list[0].ErrorMessage)
}
