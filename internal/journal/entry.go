package journal

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// GenesisHash is the previous_hash of the first entry in every journal.
const GenesisHash = "0000000000000000000000000000000000000000000000000000000000000000"

// TimestampLayout is the ISO-8601 rendering used in the canonical form:
// millisecond precision, always UTC, literal Z suffix.
const TimestampLayout = "2006-01-02T15:04:05.000Z"

var (
	// ErrChainState is returned when the chain tail moved between reading it and
	// appending to it. The whole append must be retried from a fresh tail.
	ErrChainState = errors.New("journal chain state conflict")

	// ErrNotFound is returned when an entry does not exist.
	ErrNotFound = errors.New("journal entry not found")

	// ErrInvalidEntry is returned when append input fails validation.
	ErrInvalidEntry = errors.New("invalid journal entry")
)

// TransactionType classifies a journal entry.
type TransactionType string

const (
	TypeSale       TransactionType = "SALE"
	TypeRefund     TransactionType = "REFUND"
	TypeCorrection TransactionType = "CORRECTION"
	TypeAdjustment TransactionType = "ADJUSTMENT"
	TypeArchive    TransactionType = "ARCHIVE"
	TypeClosure    TransactionType = "CLOSURE"
	TypeInit       TransactionType = "INIT"
)

// Valid reports whether t is a known transaction type.
func (t TransactionType) Valid() bool {
	switch t {
	case TypeSale, TypeRefund, TypeCorrection, TypeAdjustment, TypeArchive, TypeClosure, TypeInit:
		return true
	}
	return false
}

// PaymentMethod tags how an entry was settled.
type PaymentMethod string

const (
	PaymentCash   PaymentMethod = "cash"
	PaymentCard   PaymentMethod = "card"
	PaymentSplit  PaymentMethod = "split"
	PaymentSystem PaymentMethod = "system"
	PaymentOther  PaymentMethod = "other"
)

// Valid reports whether m is a known payment method.
func (m PaymentMethod) Valid() bool {
	switch m {
	case PaymentCash, PaymentCard, PaymentSplit, PaymentSystem, PaymentOther:
		return true
	}
	return false
}

// Entry is a single immutable record in the legal journal.
type Entry struct {
	SequenceNumber  int64           `json:"sequence_number"`
	TransactionType TransactionType `json:"transaction_type"`
	OrderID         *string         `json:"order_id"`
	Amount          decimal.Decimal `json:"amount"`
	VATAmount       decimal.Decimal `json:"vat_amount"`
	PaymentMethod   PaymentMethod   `json:"payment_method"`
	Timestamp       time.Time       `json:"timestamp"`
	RegisterID      string          `json:"register_id"`
	PreviousHash    string          `json:"previous_hash"`
	CurrentHash     string          `json:"current_hash"`
	Metadata        map[string]any  `json:"metadata,omitempty"` // not covered by the hash
}

func (e *Entry) clone() *Entry {
	cp := *e
	if e.OrderID != nil {
		id := *e.OrderID
		cp.OrderID = &id
	}
	if e.Metadata != nil {
		cp.Metadata = make(map[string]any, len(e.Metadata))
		for k, v := range e.Metadata {
			cp.Metadata[k] = v
		}
	}
	return &cp
}

// FormatTimestamp renders t in the canonical timestamp layout.
func FormatTimestamp(t time.Time) string {
	return t.UTC().Format(TimestampLayout)
}

// Canonicalize returns previousHash followed by the pipe-joined canonical
// fields of e. The output is the exact preimage of the entry hash.
func Canonicalize(e *Entry, previousHash string) []byte {
	orderID := ""
	if e.OrderID != nil {
		orderID = *e.OrderID
	}

	var b strings.Builder
	b.WriteString(previousHash)
	fmt.Fprintf(&b, "%d|%s|%s|%s|%s|%s|%s|%s",
		e.SequenceNumber, e.TransactionType, orderID,
		e.Amount.StringFixed(2), e.VATAmount.StringFixed(2),
		e.PaymentMethod, FormatTimestamp(e.Timestamp), e.RegisterID,
	)
	return []byte(b.String())
}

// HashEntry returns the hex-encoded SHA-256 of Canonicalize(e, previousHash).
func HashEntry(e *Entry, previousHash string) string {
	sum := sha256.Sum256(Canonicalize(e, previousHash))
	return hex.EncodeToString(sum[:])
}
