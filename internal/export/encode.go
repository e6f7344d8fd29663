package export

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"encoding/xml"
	"fmt"
	"strconv"
	"time"

	"github.com/go-pdf/fpdf"
	"github.com/musebar/legaljournal/internal/closure"
	"github.com/musebar/legaljournal/internal/journal"
)

func encode(doc *Document, f Format) ([]byte, error) {
	switch f {
	case FormatJSON:
		return encodeJSON(doc)
	case FormatXML:
		return encodeXML(doc)
	case FormatCSV:
		return encodeCSV(doc)
	case FormatPDF:
		return encodePDF(doc)
	}
	return nil, fmt.Errorf("format %q: %w", f, ErrInvalidRequest)
}

func encodeJSON(doc *Document) ([]byte, error) {
	b, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encode json: %w", err)
	}
	return append(b, '\n'), nil
}

// Flat projections shared by the XML and CSV encoders. Amounts are always
// rendered with two decimals.

type entryRecord struct {
	Sequence     int64  `xml:"sequence,attr"`
	Type         string `xml:"transaction_type"`
	OrderID      string `xml:"order_id"`
	Amount       string `xml:"amount"`
	VAT          string `xml:"vat_amount"`
	Payment      string `xml:"payment_method"`
	Timestamp    string `xml:"timestamp"`
	RegisterID   string `xml:"register_id"`
	PreviousHash string `xml:"previous_hash"`
	CurrentHash  string `xml:"current_hash"`
}

var entryHeader = []string{
	"sequence_number", "transaction_type", "order_id", "amount", "vat_amount",
	"payment_method", "timestamp", "register_id", "previous_hash", "current_hash",
}

func newEntryRecord(e *journal.Entry) entryRecord {
	r := entryRecord{
		Sequence:     e.SequenceNumber,
		Type:         string(e.TransactionType),
		Amount:       e.Amount.StringFixed(2),
		VAT:          e.VATAmount.StringFixed(2),
		Payment:      string(e.PaymentMethod),
		Timestamp:    journal.FormatTimestamp(e.Timestamp),
		RegisterID:   e.RegisterID,
		PreviousHash: e.PreviousHash,
		CurrentHash:  e.CurrentHash,
	}
	if e.OrderID != nil {
		r.OrderID = *e.OrderID
	}
	return r
}

func (r entryRecord) fields() []string {
	return []string{
		strconv.FormatInt(r.Sequence, 10), r.Type, r.OrderID, r.Amount, r.VAT,
		r.Payment, r.Timestamp, r.RegisterID, r.PreviousHash, r.CurrentHash,
	}
}

type bulletinRecord struct {
	ID                string `xml:"id,attr"`
	ClosureType       string `xml:"closure_type"`
	PeriodStart       string `xml:"period_start"`
	PeriodEnd         string `xml:"period_end"`
	TotalTransactions int64  `xml:"total_transactions"`
	TotalAmount       string `xml:"total_amount"`
	TotalVAT          string `xml:"total_vat"`
	FirstSequence     string `xml:"first_sequence,omitempty"`
	LastSequence      string `xml:"last_sequence,omitempty"`
	ClosedBy          string `xml:"closed_by"`
	CreatedAt         string `xml:"created_at"`
}

var bulletinHeader = []string{
	"id", "closure_type", "period_start", "period_end", "total_transactions",
	"total_amount", "total_vat", "first_sequence", "last_sequence", "closed_by", "created_at",
}

func newBulletinRecord(b *closure.Bulletin) bulletinRecord {
	return bulletinRecord{
		ID:                b.ID.String(),
		ClosureType:       string(b.ClosureType),
		PeriodStart:       b.PeriodStart.UTC().Format(time.RFC3339),
		PeriodEnd:         b.PeriodEnd.UTC().Format(time.RFC3339),
		TotalTransactions: b.TotalTransactions,
		TotalAmount:       b.TotalAmount.StringFixed(2),
		TotalVAT:          b.TotalVAT.StringFixed(2),
		FirstSequence:     optSeq(b.FirstSequence),
		LastSequence:      optSeq(b.LastSequence),
		ClosedBy:          b.ClosedBy,
		CreatedAt:         b.CreatedAt.UTC().Format(time.RFC3339),
	}
}

func (r bulletinRecord) fields() []string {
	return []string{
		r.ID, r.ClosureType, r.PeriodStart, r.PeriodEnd, strconv.FormatInt(r.TotalTransactions, 10),
		r.TotalAmount, r.TotalVAT, r.FirstSequence, r.LastSequence, r.ClosedBy, r.CreatedAt,
	}
}

func optSeq(p *int64) string {
	if p == nil {
		return ""
	}
	return strconv.FormatInt(*p, 10)
}

type summaryRecord struct {
	TotalTransactions int64  `xml:"total_transactions"`
	TotalAmount       string `xml:"total_amount"`
	TotalVAT          string `xml:"total_vat"`
}

type integrityRecord struct {
	Status     string   `xml:"status,attr"`
	Checked    int64    `xml:"checked"`
	FirstBreak int64    `xml:"first_break,omitempty"`
	TipHash    string   `xml:"tip_hash"`
	VerifiedAt string   `xml:"verified_at"`
	Errors     []string `xml:"errors>error"`
}

type xmlDocument struct {
	XMLName    xml.Name         `xml:"legal_archive"`
	Compliance Compliance       `xml:"compliance"`
	Summary    *summaryRecord   `xml:"summary,omitempty"`
	Bulletins  []bulletinRecord `xml:"bulletins>bulletin"`
	Entries    []entryRecord    `xml:"entries>entry"`
	Integrity  *integrityRecord `xml:"integrity,omitempty"`
}

func encodeXML(doc *Document) ([]byte, error) {
	x := xmlDocument{Compliance: doc.Compliance}
	if doc.Summary != nil {
		x.Summary = &summaryRecord{
			TotalTransactions: doc.Summary.TotalTransactions,
			TotalAmount:       doc.Summary.TotalAmount.StringFixed(2),
			TotalVAT:          doc.Summary.TotalVAT.StringFixed(2),
		}
	}
	for _, b := range doc.Bulletins {
		x.Bulletins = append(x.Bulletins, newBulletinRecord(b))
	}
	for _, e := range doc.Entries {
		x.Entries = append(x.Entries, newEntryRecord(e))
	}
	if r := doc.Integrity; r != nil {
		x.Integrity = &integrityRecord{
			Status:     string(r.Status),
			Checked:    r.Checked,
			FirstBreak: r.FirstBreak,
			TipHash:    r.TipHash,
			VerifiedAt: r.VerifiedAt.UTC().Format(time.RFC3339),
			Errors:     r.Errors,
		}
	}

	var buf bytes.Buffer
	buf.WriteString(xml.Header)
	enc := xml.NewEncoder(&buf)
	enc.Indent("", "  ")
	if err := enc.Encode(x); err != nil {
		return nil, fmt.Errorf("encode xml: %w", err)
	}
	buf.WriteByte('\n')
	return buf.Bytes(), nil
}

// encodeCSV writes a sectioned CSV: compliance key/value rows, the summary,
// then the bulletin and entry tables. Sections are separated by a row whose
// first field starts with '#'.
func encodeCSV(doc *Document) ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)

	c := doc.Compliance
	rows := [][]string{
		{"# compliance"},
		{"standard", c.Standard},
		{"software_name", c.SoftwareName},
		{"software_version", c.SoftwareVersion},
		{"register_id", c.RegisterID},
		{"export_id", c.ExportID},
		{"export_type", string(c.ExportType)},
		{"generated_at", c.GeneratedAt.UTC().Format(time.RFC3339)},
	}
	if c.PeriodStart != nil {
		rows = append(rows,
			[]string{"period_start", c.PeriodStart.UTC().Format(time.RFC3339)},
			[]string{"period_end", c.PeriodEnd.UTC().Format(time.RFC3339)},
		)
	}
	if s := doc.Summary; s != nil {
		rows = append(rows,
			[]string{"# summary"},
			[]string{"total_transactions", strconv.FormatInt(s.TotalTransactions, 10)},
			[]string{"total_amount", s.TotalAmount.StringFixed(2)},
			[]string{"total_vat", s.TotalVAT.StringFixed(2)},
		)
	}
	if len(doc.Bulletins) > 0 {
		rows = append(rows, []string{"# bulletins"}, bulletinHeader)
		for _, b := range doc.Bulletins {
			rows = append(rows, newBulletinRecord(b).fields())
		}
	}
	if len(doc.Entries) > 0 {
		rows = append(rows, []string{"# entries"}, entryHeader)
		for _, e := range doc.Entries {
			rows = append(rows, newEntryRecord(e).fields())
		}
	}
	if r := doc.Integrity; r != nil {
		rows = append(rows,
			[]string{"# integrity"},
			[]string{"status", string(r.Status)},
			[]string{"checked", strconv.FormatInt(r.Checked, 10)},
			[]string{"tip_hash", r.TipHash},
		)
		for _, e := range r.Errors {
			rows = append(rows, []string{"error", e})
		}
	}

	if err := w.WriteAll(rows); err != nil {
		return nil, fmt.Errorf("encode csv: %w", err)
	}
	return buf.Bytes(), nil
}

// encodePDF renders a printable report. Hash columns are shortened; the
// machine-readable formats carry them in full.
func encodePDF(doc *Document) ([]byte, error) {
	c := doc.Compliance
	pdf := fpdf.New("P", "mm", "A4", "")
	pdf.SetCreationDate(c.GeneratedAt)
	pdf.SetTitle(fmt.Sprintf("%s %s archive", c.SoftwareName, c.ExportType), false)
	pdf.SetCreator(c.SoftwareName+" "+c.SoftwareVersion, false)
	pdf.AddPage()

	pdf.SetFont("Helvetica", "B", 14)
	pdf.CellFormat(0, 8, fmt.Sprintf("Legal archive - %s", c.ExportType), "", 1, "L", false, 0, "")
	pdf.SetFont("Helvetica", "", 9)
	line := func(k, v string) {
		pdf.CellFormat(45, 5, k, "", 0, "L", false, 0, "")
		pdf.CellFormat(0, 5, v, "", 1, "L", false, 0, "")
	}
	line("Standard", c.Standard)
	line("Software", c.SoftwareName+" "+c.SoftwareVersion)
	line("Register", c.RegisterID)
	line("Export", c.ExportID)
	line("Generated at", c.GeneratedAt.UTC().Format(time.RFC3339))
	if c.PeriodStart != nil {
		line("Period", c.PeriodStart.UTC().Format(time.RFC3339)+" to "+c.PeriodEnd.UTC().Format(time.RFC3339))
	}
	if s := doc.Summary; s != nil {
		pdf.Ln(3)
		line("Sales", strconv.FormatInt(s.TotalTransactions, 10))
		line("Total amount", s.TotalAmount.StringFixed(2))
		line("Total VAT", s.TotalVAT.StringFixed(2))
	}
	if r := doc.Integrity; r != nil {
		pdf.Ln(3)
		line("Chain status", fmt.Sprintf("%s (%d entries checked)", r.Status, r.Checked))
		line("Tip hash", r.TipHash)
	}

	table := func(title string, widths []float64, header []string, rows [][]string) {
		if len(rows) == 0 {
			return
		}
		pdf.Ln(4)
		pdf.SetFont("Helvetica", "B", 11)
		pdf.CellFormat(0, 7, title, "", 1, "L", false, 0, "")
		pdf.SetFont("Helvetica", "B", 7)
		for i, h := range header {
			pdf.CellFormat(widths[i], 5, h, "1", 0, "L", false, 0, "")
		}
		pdf.Ln(-1)
		pdf.SetFont("Helvetica", "", 7)
		for _, row := range rows {
			for i, v := range row {
				pdf.CellFormat(widths[i], 5, v, "1", 0, "L", false, 0, "")
			}
			pdf.Ln(-1)
		}
	}

	var brows [][]string
	for _, b := range doc.Bulletins {
		brows = append(brows, []string{
			string(b.ClosureType),
			b.PeriodStart.UTC().Format(time.DateOnly),
			b.PeriodEnd.UTC().Format(time.DateOnly),
			strconv.FormatInt(b.TotalTransactions, 10),
			b.TotalAmount.StringFixed(2),
			b.TotalVAT.StringFixed(2),
			b.ClosedBy,
		})
	}
	table("Closure bulletins", []float64{22, 28, 28, 20, 28, 28, 36},
		[]string{"Type", "Start", "End", "Sales", "Amount", "VAT", "Closed by"}, brows)

	var erows [][]string
	for _, e := range doc.Entries {
		order := ""
		if e.OrderID != nil {
			order = *e.OrderID
		}
		erows = append(erows, []string{
			strconv.FormatInt(e.SequenceNumber, 10),
			string(e.TransactionType),
			order,
			e.Amount.StringFixed(2),
			e.VATAmount.StringFixed(2),
			string(e.PaymentMethod),
			journal.FormatTimestamp(e.Timestamp),
			shortHash(e.CurrentHash),
		})
	}
	table("Journal entries", []float64{12, 20, 24, 18, 16, 16, 42, 42},
		[]string{"Seq", "Type", "Order", "Amount", "VAT", "Payment", "Timestamp", "Hash"}, erows)

	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, fmt.Errorf("encode pdf: %w", err)
	}
	return buf.Bytes(), nil
}

func shortHash(h string) string {
	if len(h) <= 16 {
		return h
	}
	return h[:16] + "..."
}
