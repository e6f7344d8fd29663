package closure

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/musebar/legaljournal/internal/journal"
	"github.com/shopspring/decimal"
)

// Repository persists closure bulletins.
type Repository interface {
	// Close aggregates the SALE entries in b's period, fills b's totals, and
	// inserts b as closed, all against one consistent snapshot. It returns
	// ErrDuplicateClosure when the (type, period) pair already exists.
	Close(ctx context.Context, b *Bulletin) error

	// Find returns the bulletin for the exact (type, period) pair.
	Find(ctx context.Context, t Type, start, end time.Time) (*Bulletin, error)

	// List returns bulletins most recent first, filtered by t unless t is empty.
	List(ctx context.Context, t Type) ([]*Bulletin, error)
}

// MemoryRepository is an in-memory Repository aggregating over a journal Store.
type MemoryRepository struct {
	mu        sync.Mutex
	entries   journal.Store
	bulletins []*Bulletin
}

// NewMemoryRepository creates a MemoryRepository reading from entries.
func NewMemoryRepository(entries journal.Store) *MemoryRepository {
	return &MemoryRepository{entries: entries}
}

// Close implements Repository.
func (r *MemoryRepository) Close(ctx context.Context, b *Bulletin) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, existing := range r.bulletins {
		if existing.ClosureType == b.ClosureType &&
			existing.PeriodStart.Equal(b.PeriodStart) && existing.PeriodEnd.Equal(b.PeriodEnd) {
			return ErrDuplicateClosure
		}
	}

	agg := aggregate{amount: decimal.Zero, vat: decimal.Zero}
	q := journal.Query{Type: journal.TypeSale, Since: b.PeriodStart, Until: b.PeriodEnd}
	if err := r.entries.Scan(ctx, q, func(e *journal.Entry) error {
		agg.add(e)
		return nil
	}); err != nil {
		return fmt.Errorf("aggregate sales: %w", err)
	}
	agg.apply(b)

	cp := *b
	r.bulletins = append(r.bulletins, &cp)
	return nil
}

// Find implements Repository.
func (r *MemoryRepository) Find(_ context.Context, t Type, start, end time.Time) (*Bulletin, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, b := range r.bulletins {
		if b.ClosureType == t && b.PeriodStart.Equal(start) && b.PeriodEnd.Equal(end) {
			cp := *b
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

// List implements Repository.
func (r *MemoryRepository) List(_ context.Context, t Type) ([]*Bulletin, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*Bulletin
	for _, b := range r.bulletins {
		if t == "" || b.ClosureType == t {
			cp := *b
			out = append(out, &cp)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].PeriodStart.Equal(out[j].PeriodStart) {
			return out[i].PeriodStart.After(out[j].PeriodStart)
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}

type aggregate struct {
	count       int64
	amount, vat decimal.Decimal
	first, last *int64
}

func (a *aggregate) add(e *journal.Entry) {
	a.count++
	a.amount = a.amount.Add(e.Amount)
	a.vat = a.vat.Add(e.VATAmount)
	seq := e.SequenceNumber
	if a.first == nil {
		a.first = &seq
	}
	a.last = &seq
}

func (a *aggregate) apply(b *Bulletin) {
	b.TotalTransactions = a.count
	b.TotalAmount = a.amount
	b.TotalVAT = a.vat
	b.FirstSequence = a.first
	b.LastSequence = a.last
	b.IsClosed = true
}

const bulletinColumns = `id, closure_type, period_start, period_end, total_amount, total_vat,
	total_transactions, first_sequence, last_sequence, is_closed, closed_by, created_at`

// PostgresRepository stores bulletins in closure_bulletins. Closed rows are
// protected from UPDATE and DELETE by a trigger installed by the migrations.
type PostgresRepository struct {
	db *pgxpool.Pool
}

// NewPostgresRepository creates a new PostgresRepository.
func NewPostgresRepository(db *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// Close implements Repository. The aggregation and the insert share one
// REPEATABLE READ transaction so totals reflect a single snapshot.
func (r *PostgresRepository) Close(ctx context.Context, b *Bulletin) error {
	tx, err := r.db.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.RepeatableRead})
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	var exists bool
	if err := tx.QueryRow(ctx,
		`SELECT EXISTS(SELECT 1 FROM closure_bulletins
		               WHERE closure_type = $1 AND period_start = $2 AND period_end = $3)`,
		b.ClosureType, b.PeriodStart, b.PeriodEnd,
	).Scan(&exists); err != nil {
		return fmt.Errorf("check existing closure: %w", err)
	}
	if exists {
		return ErrDuplicateClosure
	}

	agg := aggregate{}
	if err := tx.QueryRow(ctx,
		`SELECT COUNT(*), COALESCE(SUM(amount), 0), COALESCE(SUM(vat_amount), 0),
		        MIN(sequence_number), MAX(sequence_number)
		 FROM legal_journal
		 WHERE transaction_type = 'SALE' AND timestamp >= $1 AND timestamp < $2`,
		b.PeriodStart, b.PeriodEnd,
	).Scan(&agg.count, &agg.amount, &agg.vat, &agg.first, &agg.last); err != nil {
		return fmt.Errorf("aggregate sales: %w", err)
	}
	agg.apply(b)

	if _, err := tx.Exec(ctx,
		`INSERT INTO closure_bulletins (`+bulletinColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		b.ID, b.ClosureType, b.PeriodStart, b.PeriodEnd, b.TotalAmount, b.TotalVAT,
		b.TotalTransactions, b.FirstSequence, b.LastSequence, b.IsClosed, b.ClosedBy, b.CreatedAt,
	); err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return ErrDuplicateClosure
		}
		return fmt.Errorf("insert closure bulletin: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		var pgErr *pgconn.PgError
		// 40001: a concurrent closure of the same period won the race.
		if errors.As(err, &pgErr) && pgErr.Code == "40001" {
			return ErrDuplicateClosure
		}
		return fmt.Errorf("commit closure tx: %w", err)
	}
	return nil
}

// Find implements Repository.
func (r *PostgresRepository) Find(ctx context.Context, t Type, start, end time.Time) (*Bulletin, error) {
	b, err := scanBulletin(r.db.QueryRow(ctx,
		`SELECT `+bulletinColumns+` FROM closure_bulletins
		 WHERE closure_type = $1 AND period_start = $2 AND period_end = $3`,
		t, start, end,
	))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find closure bulletin: %w", err)
	}
	return b, nil
}

// List implements Repository.
func (r *PostgresRepository) List(ctx context.Context, t Type) ([]*Bulletin, error) {
	rows, err := r.db.Query(ctx,
		`SELECT `+bulletinColumns+` FROM closure_bulletins
		 WHERE ($1 = '' OR closure_type = $1)
		 ORDER BY period_start DESC, created_at DESC`,
		string(t),
	)
	if err != nil {
		return nil, fmt.Errorf("list closure bulletins: %w", err)
	}
	defer rows.Close()

	var out []*Bulletin
	for rows.Next() {
		b, err := scanBulletin(rows)
		if err != nil {
			return nil, fmt.Errorf("scan closure bulletin: %w", err)
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

func scanBulletin(row pgx.Row) (*Bulletin, error) {
	var b Bulletin
	if err := row.Scan(
		&b.ID, &b.ClosureType, &b.PeriodStart, &b.PeriodEnd, &b.TotalAmount, &b.TotalVAT,
		&b.TotalTransactions, &b.FirstSequence, &b.LastSequence, &b.IsClosed, &b.ClosedBy, &b.CreatedAt,
	); err != nil {
		return nil, err
	}
	b.PeriodStart = b.PeriodStart.UTC()
	b.PeriodEnd = b.PeriodEnd.UTC()
	b.CreatedAt = b.CreatedAt.UTC()
	return &b, nil
}
