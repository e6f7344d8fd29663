// Package export produces signed, verifiable archive files of the legal
// journal and closure bulletins.
package export

import (
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
)

var (
	// ErrExportFailed wraps any failure while generating an export. The
	// export record is left FAILED with the message.
	ErrExportFailed = errors.New("export failed")

	// ErrNotFound is returned when an export record or its file is missing.
	ErrNotFound = errors.New("export not found")

	// ErrInvalidRequest is returned for an unknown type or format or an
	// unusable period.
	ErrInvalidRequest = errors.New("invalid export request")
)

// Type selects the content of an export.
type Type string

const (
	TypeDaily   Type = "DAILY"
	TypeMonthly Type = "MONTHLY"
	TypeAnnual  Type = "ANNUAL"
	TypeFull    Type = "FULL"
)

func (t Type) valid() bool {
	switch t {
	case TypeDaily, TypeMonthly, TypeAnnual, TypeFull:
		return true
	}
	return false
}

// Format is the file encoding of an export.
type Format string

const (
	FormatJSON Format = "JSON"
	FormatXML  Format = "XML"
	FormatCSV  Format = "CSV"
	FormatPDF  Format = "PDF"
)

func (f Format) valid() bool {
	switch f {
	case FormatJSON, FormatXML, FormatCSV, FormatPDF:
		return true
	}
	return false
}

// Extension returns the file extension, without the dot.
func (f Format) Extension() string { return strings.ToLower(string(f)) }

// ContentType returns the MIME type served on download.
func (f Format) ContentType() string {
	switch f {
	case FormatJSON:
		return "application/json"
	case FormatXML:
		return "application/xml"
	case FormatCSV:
		return "text/csv"
	case FormatPDF:
		return "application/pdf"
	}
	return "application/octet-stream"
}

// Status is the lifecycle state of an export record.
type Status string

const (
	StatusPending   Status = "PENDING"
	StatusCompleted Status = "COMPLETED"
	StatusFailed    Status = "FAILED"
	StatusVerified  Status = "VERIFIED"
)

// Export is an archive_exports record.
type Export struct {
	ID               uuid.UUID  `json:"id"                    db:"id"`
	ExportType       Type       `json:"export_type"           db:"export_type"`
	Format           Format     `json:"format"                db:"format"`
	PeriodStart      *time.Time `json:"period_start,omitempty" db:"period_start"`
	PeriodEnd        *time.Time `json:"period_end,omitempty"   db:"period_end"`
	FilePath         string     `json:"file_path"             db:"file_path"`
	FileHash         string     `json:"file_hash"             db:"file_hash"`
	FileSize         int64      `json:"file_size"             db:"file_size"`
	DigitalSignature string     `json:"digital_signature"     db:"digital_signature"`
	ExportStatus     Status     `json:"export_status"         db:"export_status"`
	CreatedBy        string     `json:"created_by"            db:"created_by"`
	CreatedAt        time.Time  `json:"created_at"            db:"created_at"`
	VerifiedAt       *time.Time `json:"verified_at,omitempty" db:"verified_at"`
	ErrorMessage     string     `json:"error_message,omitempty" db:"error_message"`
}

// Request asks for a new export. PeriodStart is required for every type but
// FULL; a zero PeriodEnd is derived from the type (one day, month or year).
type Request struct {
	Type        Type      `json:"type"`
	Format      Format    `json:"format"`
	PeriodStart time.Time `json:"period_start"`
	PeriodEnd   time.Time `json:"period_end"`
	CreatedBy   string    `json:"created_by"`
}

// VerifyResult reports the three independent checks run on an export file.
type VerifyResult struct {
	ExportID       uuid.UUID `json:"export_id"`
	IsValid        bool      `json:"is_valid"`
	HashValid      bool      `json:"hash_valid"`
	SignatureValid bool      `json:"signature_valid"`
	SizeValid      bool      `json:"size_valid"`
	Errors         []string  `json:"errors"`
	VerifiedAt     time.Time `json:"verified_at"`
}
