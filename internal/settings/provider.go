package settings

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Provider loads and persists closure settings.
type Provider interface {
	Load(ctx context.Context) (Settings, error)
	Save(ctx context.Context, s Settings) error
}

// StaticProvider holds settings in memory.
type StaticProvider struct {
	mu sync.RWMutex
	s  Settings
}

// NewStaticProvider creates a StaticProvider seeded with s.
func NewStaticProvider(s Settings) *StaticProvider {
	return &StaticProvider{s: s}
}

// Load implements Provider.
func (p *StaticProvider) Load(context.Context) (Settings, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.s, nil
}

// Save implements Provider.
func (p *StaticProvider) Save(_ context.Context, s Settings) error {
	if err := s.Validate(); err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.s = s
	return nil
}

// PostgresProvider reads closure_settings rows.
type PostgresProvider struct {
	db *pgxpool.Pool
}

// NewPostgresProvider creates a new PostgresProvider.
func NewPostgresProvider(db *pgxpool.Pool) *PostgresProvider {
	return &PostgresProvider{db: db}
}

// Load implements Provider. Missing keys fall back to Defaults.
func (p *PostgresProvider) Load(ctx context.Context) (Settings, error) {
	rows, err := p.db.Query(ctx, `SELECT setting_key, setting_value FROM closure_settings`)
	if err != nil {
		return Settings{}, fmt.Errorf("load closure settings: %w", err)
	}
	kv := make(map[string]string)
	var k, v string
	if _, err := pgx.ForEachRow(rows, []any{&k, &v}, func() error {
		kv[k] = v
		return nil
	}); err != nil {
		return Settings{}, fmt.Errorf("scan closure settings: %w", err)
	}
	return fromRows(kv)
}

// Save implements Provider. All keys are upserted in one transaction.
func (p *PostgresProvider) Save(ctx context.Context, s Settings) error {
	if err := s.Validate(); err != nil {
		return err
	}
	return pgx.BeginFunc(ctx, p.db, func(tx pgx.Tx) error {
		for k, v := range s.rows() {
			if _, err := tx.Exec(ctx,
				`INSERT INTO closure_settings (setting_key, setting_value, updated_at)
				 VALUES ($1, $2, NOW())
				 ON CONFLICT (setting_key) DO UPDATE
				 SET setting_value = EXCLUDED.setting_value, updated_at = NOW()`,
				k, v,
			); err != nil {
				return fmt.Errorf("upsert %s: %w", k, err)
			}
		}
		return nil
	})
}

// CachedProvider keeps the last loaded settings for a TTL so the scheduler
// does not hit the database every tick. Save writes through and refreshes
// the cached value.
type CachedProvider struct {
	next Provider
	ttl  time.Duration
	now  func() time.Time

	mu        sync.RWMutex
	cached    Settings
	expiresAt time.Time
	valid     bool
}

// NewCachedProvider wraps next with a TTL cache.
func NewCachedProvider(next Provider, ttl time.Duration) *CachedProvider {
	return &CachedProvider{next: next, ttl: ttl, now: time.Now}
}

// Load implements Provider.
func (c *CachedProvider) Load(ctx context.Context) (Settings, error) {
	c.mu.RLock()
	if c.valid && c.now().Before(c.expiresAt) {
		s := c.cached
		c.mu.RUnlock()
		return s, nil
	}
	c.mu.RUnlock()

	s, err := c.next.Load(ctx)
	if err != nil {
		return Settings{}, err
	}
	c.set(s)
	return s, nil
}

// Save implements Provider.
func (c *CachedProvider) Save(ctx context.Context, s Settings) error {
	if err := c.next.Save(ctx, s); err != nil {
		c.Invalidate()
		return err
	}
	c.set(s)
	return nil
}

// Invalidate drops the cached value.
func (c *CachedProvider) Invalidate() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.valid = false
}

func (c *CachedProvider) set(s Settings) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cached = s
	c.expiresAt = c.now().Add(c.ttl)
	c.valid = true
}
