package journal

import (
	"context"
	"time"
)

// BuildFunc computes the next entry from the current chain tail. tail is nil
// when the journal is empty. Stores call it while holding their append lock.
type BuildFunc func(tail *Entry) (*Entry, error)

// Query selects entries for Scan. Zero values leave a bound open.
type Query struct {
	From  int64 // first sequence number, inclusive
	To    int64 // last sequence number, inclusive
	Since time.Time
	Until time.Time // exclusive
	Type  TransactionType
}

func (q Query) matches(e *Entry) bool {
	if q.From > 0 && e.SequenceNumber < q.From {
		return false
	}
	if q.To > 0 && e.SequenceNumber > q.To {
		return false
	}
	if !q.Since.IsZero() && e.Timestamp.Before(q.Since) {
		return false
	}
	if !q.Until.IsZero() && !e.Timestamp.Before(q.Until) {
		return false
	}
	if q.Type != "" && e.TransactionType != q.Type {
		return false
	}
	return true
}

// Store is the durable append-only table of journal entries.
// Both MemoryStore and PostgresStore implement this interface.
type Store interface {
	// Append reads the tail, calls build, and persists the returned entry as one
	// serialised step. It returns ErrChainState if the built entry does not
	// extend the tail or a concurrent writer claimed the same sequence number.
	Append(ctx context.Context, build BuildFunc) (*Entry, error)

	// Get returns the entry with the given sequence number.
	Get(ctx context.Context, seq int64) (*Entry, error)

	// Last returns the chain tail, or ErrNotFound when the journal is empty.
	Last(ctx context.Context) (*Entry, error)

	// Count returns the number of entries.
	Count(ctx context.Context) (int64, error)

	// Scan streams entries matching q in ascending sequence order.
	// Iteration stops at the first error returned by fn.
	Scan(ctx context.Context, q Query, fn func(*Entry) error) error
}

// extendsTail reports whether e is a valid successor of tail.
func extendsTail(tail, e *Entry) bool {
	if tail == nil {
		return e.SequenceNumber == 1 && e.PreviousHash == GenesisHash
	}
	return e.SequenceNumber == tail.SequenceNumber+1 && e.PreviousHash == tail.CurrentHash
}
