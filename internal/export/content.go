package export

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/musebar/legaljournal/internal/closure"
	"github.com/musebar/legaljournal/internal/journal"
	"github.com/shopspring/decimal"
)

// Standard is the compliance tag written into every export.
const Standard = "NF525"

// EntrySource streams journal entries. journal.Store satisfies it.
type EntrySource interface {
	Scan(ctx context.Context, q journal.Query, fn func(*journal.Entry) error) error
}

// BulletinSource reads closure bulletins. closure.Service satisfies it.
type BulletinSource interface {
	FindBulletin(ctx context.Context, t closure.Type, start, end time.Time) (*closure.Bulletin, error)
	GetBulletins(ctx context.Context, t closure.Type) ([]*closure.Bulletin, error)
}

// ChainVerifier produces an integrity report. journal.Verifier satisfies it.
type ChainVerifier interface {
	Verify(ctx context.Context, r journal.Range) (*journal.Report, error)
}

// Compliance identifies the producing system and the exported scope.
type Compliance struct {
	Standard        string     `json:"standard"               xml:"standard"`
	SoftwareName    string     `json:"software_name"          xml:"software_name"`
	SoftwareVersion string     `json:"software_version"       xml:"software_version"`
	RegisterID      string     `json:"register_id"            xml:"register_id"`
	ExportID        string     `json:"export_id"              xml:"export_id"`
	ExportType      Type       `json:"export_type"            xml:"export_type"`
	GeneratedAt     time.Time  `json:"generated_at"           xml:"generated_at"`
	PeriodStart     *time.Time `json:"period_start,omitempty" xml:"period_start,omitempty"`
	PeriodEnd       *time.Time `json:"period_end,omitempty"   xml:"period_end,omitempty"`
}

// Summary totals the SALE entries of an export.
type Summary struct {
	TotalTransactions int64           `json:"total_transactions"`
	TotalAmount       decimal.Decimal `json:"total_amount"`
	TotalVAT          decimal.Decimal `json:"total_vat"`
}

func (s *Summary) add(e *journal.Entry) {
	if e.TransactionType != journal.TypeSale {
		return
	}
	s.TotalTransactions++
	s.TotalAmount = s.TotalAmount.Add(e.Amount)
	s.TotalVAT = s.TotalVAT.Add(e.VATAmount)
}

// Document is the format-independent content of an export.
type Document struct {
	Compliance Compliance          `json:"compliance"`
	Summary    *Summary            `json:"summary,omitempty"`
	Bulletins  []*closure.Bulletin `json:"bulletins,omitempty"`
	Entries    []*journal.Entry    `json:"entries,omitempty"`
	Integrity  *journal.Report     `json:"integrity,omitempty"`
}

type builder struct {
	entries   EntrySource
	bulletins BulletinSource
	verifier  ChainVerifier
}

func (b *builder) build(ctx context.Context, rec *Export, meta Compliance) (*Document, error) {
	doc := &Document{Compliance: meta}
	var start, end time.Time
	if rec.PeriodStart != nil {
		start, end = *rec.PeriodStart, *rec.PeriodEnd
	}

	switch rec.ExportType {
	case TypeDaily:
		bl, err := b.bulletins.FindBulletin(ctx, closure.TypeDaily, start, end)
		if errors.Is(err, closure.ErrNotFound) {
			return nil, fmt.Errorf("no DAILY closure bulletin for %s", start.Format(time.DateOnly))
		}
		if err != nil {
			return nil, fmt.Errorf("load daily bulletin: %w", err)
		}
		doc.Bulletins = []*closure.Bulletin{bl}
		doc.Summary = &Summary{
			TotalTransactions: bl.TotalTransactions,
			TotalAmount:       bl.TotalAmount,
			TotalVAT:          bl.TotalVAT,
		}

	case TypeMonthly, TypeAnnual:
		sum := &Summary{}
		q := journal.Query{Type: journal.TypeSale, Since: start, Until: end}
		if err := b.entries.Scan(ctx, q, func(e *journal.Entry) error {
			doc.Entries = append(doc.Entries, e)
			sum.add(e)
			return nil
		}); err != nil {
			return nil, fmt.Errorf("read sales: %w", err)
		}
		doc.Summary = sum
		if rec.ExportType == TypeAnnual {
			all, err := b.bulletins.GetBulletins(ctx, "")
			if err != nil {
				return nil, fmt.Errorf("read bulletins: %w", err)
			}
			for _, bl := range all {
				if !bl.PeriodStart.Before(start) && !bl.PeriodEnd.After(end) {
					doc.Bulletins = append(doc.Bulletins, bl)
				}
			}
		}

	case TypeFull:
		sum := &Summary{}
		if err := b.entries.Scan(ctx, journal.Query{}, func(e *journal.Entry) error {
			doc.Entries = append(doc.Entries, e)
			sum.add(e)
			return nil
		}); err != nil {
			return nil, fmt.Errorf("read journal: %w", err)
		}
		doc.Summary = sum
		all, err := b.bulletins.GetBulletins(ctx, "")
		if err != nil {
			return nil, fmt.Errorf("read bulletins: %w", err)
		}
		doc.Bulletins = all
		report, err := b.verifier.Verify(ctx, journal.Range{})
		if err != nil {
			return nil, fmt.Errorf("verify chain: %w", err)
		}
		doc.Integrity = report
	}
	return doc, nil
}
