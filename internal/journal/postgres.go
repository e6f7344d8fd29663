package journal

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

const entryColumns = `sequence_number, transaction_type, order_id, amount, vat_amount,
	payment_method, timestamp, register_id, previous_hash, current_hash, metadata`

// PostgresStore persists the legal journal to the legal_journal table.
// It implements the Store interface. UPDATE and DELETE on that table are
// rejected by a trigger installed by the migrations.
type PostgresStore struct {
	pool       *pgxpool.Pool
	registerID string
	logger     *zap.Logger
}

// NewPostgresStore creates a PostgresStore backed by the given connection pool.
// registerID keys the advisory lock that serialises appends.
func NewPostgresStore(pool *pgxpool.Pool, registerID string, logger *zap.Logger) *PostgresStore {
	return &PostgresStore{pool: pool, registerID: registerID, logger: logger}
}

// Append implements Store.
// It acquires a transaction-scoped advisory lock keyed by the register id,
// reads the chain tail, builds the new entry, and inserts it, all within a
// single transaction.
func (s *PostgresStore) Append(ctx context.Context, build BuildFunc) (*Entry, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	// Released automatically when the transaction commits or rolls back.
	if _, err := tx.Exec(ctx, "SELECT pg_advisory_xact_lock(hashtext($1))", s.registerID); err != nil {
		return nil, fmt.Errorf("acquire advisory lock: %w", err)
	}

	tail, err := scanEntry(tx.QueryRow(ctx,
		`SELECT `+entryColumns+` FROM legal_journal ORDER BY sequence_number DESC LIMIT 1`,
	))
	switch {
	case errors.Is(err, pgx.ErrNoRows):
		tail = nil
	case err != nil:
		return nil, fmt.Errorf("read journal tail: %w", err)
	}

	entry, err := build(tail)
	if err != nil {
		return nil, err
	}
	if !extendsTail(tail, entry) {
		return nil, fmt.Errorf("entry %d does not extend tail: %w", entry.SequenceNumber, ErrChainState)
	}

	var meta []byte
	if entry.Metadata != nil {
		if meta, err = json.Marshal(entry.Metadata); err != nil {
			return nil, fmt.Errorf("marshal metadata: %w", err)
		}
	}

	if _, err := tx.Exec(ctx,
		`INSERT INTO legal_journal (`+entryColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		entry.SequenceNumber, entry.TransactionType, entry.OrderID,
		entry.Amount, entry.VATAmount, entry.PaymentMethod,
		entry.Timestamp, entry.RegisterID, entry.PreviousHash,
		entry.CurrentHash, meta,
	); err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return nil, fmt.Errorf("sequence %d already taken: %w", entry.SequenceNumber, ErrChainState)
		}
		return nil, fmt.Errorf("insert journal entry: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit journal tx: %w", err)
	}

	s.logger.Debug("journal entry appended",
		zap.Int64("sequence", entry.SequenceNumber),
		zap.String("type", string(entry.TransactionType)),
	)
	return entry, nil
}

// Get implements Store.
func (s *PostgresStore) Get(ctx context.Context, seq int64) (*Entry, error) {
	e, err := scanEntry(s.pool.QueryRow(ctx,
		`SELECT `+entryColumns+` FROM legal_journal WHERE sequence_number = $1`, seq,
	))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("sequence %d: %w", seq, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get journal entry %d: %w", seq, err)
	}
	return e, nil
}

// Last implements Store.
func (s *PostgresStore) Last(ctx context.Context) (*Entry, error) {
	e, err := scanEntry(s.pool.QueryRow(ctx,
		`SELECT `+entryColumns+` FROM legal_journal ORDER BY sequence_number DESC LIMIT 1`,
	))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get journal tail: %w", err)
	}
	return e, nil
}

// Count implements Store.
func (s *PostgresStore) Count(ctx context.Context) (int64, error) {
	var n int64
	if err := s.pool.QueryRow(ctx, "SELECT COUNT(*) FROM legal_journal").Scan(&n); err != nil {
		return 0, fmt.Errorf("count journal entries: %w", err)
	}
	return n, nil
}

// Scan implements Store. Rows are streamed, so memory use is constant in the
// journal length.
func (s *PostgresStore) Scan(ctx context.Context, q Query, fn func(*Entry) error) error {
	rows, err := s.pool.Query(ctx,
		`SELECT `+entryColumns+` FROM legal_journal
		 WHERE ($1::bigint = 0 OR sequence_number >= $1)
		   AND ($2::bigint = 0 OR sequence_number <= $2)
		   AND ($3::timestamptz IS NULL OR timestamp >= $3)
		   AND ($4::timestamptz IS NULL OR timestamp < $4)
		   AND ($5::text = '' OR transaction_type = $5)
		 ORDER BY sequence_number ASC`,
		q.From, q.To, nullTime(q.Since), nullTime(q.Until), string(q.Type),
	)
	if err != nil {
		return fmt.Errorf("query journal: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return fmt.Errorf("scan journal row: %w", err)
		}
		if err := fn(e); err != nil {
			return err
		}
	}
	return rows.Err()
}

func scanEntry(row pgx.Row) (*Entry, error) {
	var e Entry
	var meta []byte
	if err := row.Scan(
		&e.SequenceNumber, &e.TransactionType, &e.OrderID,
		&e.Amount, &e.VATAmount, &e.PaymentMethod,
		&e.Timestamp, &e.RegisterID, &e.PreviousHash,
		&e.CurrentHash, &meta,
	); err != nil {
		return nil, err
	}
	e.Timestamp = e.Timestamp.UTC()
	if len(meta) > 0 {
		if err := json.Unmarshal(meta, &e.Metadata); err != nil {
			return nil, fmt.Errorf("unmarshal metadata: %w", err)
		}
	}
	return &e, nil
}

// nullTime maps the zero time to SQL NULL.
func nullTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t
}
