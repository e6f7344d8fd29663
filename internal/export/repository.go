package export

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Repository persists export records.
type Repository interface {
	Create(ctx context.Context, e *Export) error
	// Update rewrites the mutable fields: file, hash, signature, size,
	// status, verified_at and error_message.
	Update(ctx context.Context, e *Export) error
	Get(ctx context.Context, id uuid.UUID) (*Export, error)
	// List returns the newest records first; limit <= 0 means no limit.
	List(ctx context.Context, limit int) ([]*Export, error)
}

// MemoryRepository is an in-memory Repository.
type MemoryRepository struct {
	mu      sync.RWMutex
	records map[uuid.UUID]*Export
}

// NewMemoryRepository creates an empty MemoryRepository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{records: make(map[uuid.UUID]*Export)}
}

// Create implements Repository.
func (r *MemoryRepository) Create(_ context.Context, e *Export) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.records[e.ID]; ok {
		return fmt.Errorf("export %s already exists", e.ID)
	}
	cp := *e
	r.records[e.ID] = &cp
	return nil
}

// Update implements Repository.
func (r *MemoryRepository) Update(_ context.Context, e *Export) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.records[e.ID]; !ok {
		return ErrNotFound
	}
	cp := *e
	r.records[e.ID] = &cp
	return nil
}

// Get implements Repository.
func (r *MemoryRepository) Get(_ context.Context, id uuid.UUID) (*Export, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.records[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *e
	return &cp, nil
}

// List implements Repository.
func (r *MemoryRepository) List(_ context.Context, limit int) ([]*Export, error) {
	r.mu.RLock()
	out := make([]*Export, 0, len(r.records))
	for _, e := range r.records {
		cp := *e
		out = append(out, &cp)
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

const exportColumns = `id, export_type, format, period_start, period_end, file_path, file_hash,
	file_size, digital_signature, export_status, created_by, created_at, verified_at, error_message`

// PostgresRepository stores records in archive_exports.
type PostgresRepository struct {
	db *pgxpool.Pool
}

// NewPostgresRepository creates a new PostgresRepository.
func NewPostgresRepository(db *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// Create implements Repository.
func (r *PostgresRepository) Create(ctx context.Context, e *Export) error {
	_, err := r.db.Exec(ctx,
		`INSERT INTO archive_exports (`+exportColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`,
		e.ID, e.ExportType, e.Format, e.PeriodStart, e.PeriodEnd, e.FilePath, e.FileHash,
		e.FileSize, e.DigitalSignature, e.ExportStatus, e.CreatedBy, e.CreatedAt, e.VerifiedAt, e.ErrorMessage,
	)
	if err != nil {
		return fmt.Errorf("insert export: %w", err)
	}
	return nil
}

// Update implements Repository.
func (r *PostgresRepository) Update(ctx context.Context, e *Export) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE archive_exports
		 SET file_path = $2, file_hash = $3, file_size = $4, digital_signature = $5,
		     export_status = $6, verified_at = $7, error_message = $8
		 WHERE id = $1`,
		e.ID, e.FilePath, e.FileHash, e.FileSize, e.DigitalSignature, e.ExportStatus, e.VerifiedAt, e.ErrorMessage,
	)
	if err != nil {
		return fmt.Errorf("update export: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// Get implements Repository.
func (r *PostgresRepository) Get(ctx context.Context, id uuid.UUID) (*Export, error) {
	e, err := scanExport(r.db.QueryRow(ctx, `SELECT `+exportColumns+` FROM archive_exports WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get export: %w", err)
	}
	return e, nil
}

// List implements Repository.
func (r *PostgresRepository) List(ctx context.Context, limit int) ([]*Export, error) {
	q := `SELECT ` + exportColumns + ` FROM archive_exports ORDER BY created_at DESC`
	args := []any{}
	if limit > 0 {
		q += ` LIMIT $1`
		args = append(args, limit)
	}
	rows, err := r.db.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("list exports: %w", err)
	}
	defer rows.Close()

	var out []*Export
	for rows.Next() {
		e, err := scanExport(rows)
		if err != nil {
			return nil, fmt.Errorf("scan export: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func scanExport(row pgx.Row) (*Export, error) {
	var e Export
	if err := row.Scan(
		&e.ID, &e.ExportType, &e.Format, &e.PeriodStart, &e.PeriodEnd, &e.FilePath, &e.FileHash,
		&e.FileSize, &e.DigitalSignature, &e.ExportStatus, &e.CreatedBy, &e.CreatedAt, &e.VerifiedAt, &e.ErrorMessage,
	); err != nil {
		return nil, err
	}
	return &e, nil
}
