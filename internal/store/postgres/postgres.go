package postgres

import (
	"context"
	"database/sql"
	"errors"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/loykin/orchestral/internal/store"
)

// DB implements store.KV on PostgreSQL through the pgx stdlib driver.
type DB struct {
	db  *sql.DB
	now func() time.Time
}

var _ store.KV = (*DB)(nil)

func New(dsn string) (*DB, error) {
	d, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	return &DB{db: d, now: time.Now}, nil
}

func (p *DB) EnsureSchema(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS orchestral_cache(
			key TEXT PRIMARY KEY,
			value BYTEA NOT NULL,
			expires_at BIGINT NOT NULL DEFAULT 0,
			updated_at TIMESTAMPTZ NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_orchestral_cache_expires ON orchestral_cache(expires_at);`,
	}
	for _, q := range stmts {
		if _, err := p.db.ExecContext(ctx, q); err != nil {
			return err
		}
	}
	return nil
}

func (p *DB) Ping(ctx context.Context) error { return p.db.PingContext(ctx) }

func (p *DB) Close() error { return p.db.Close() }

func (p *DB) Put(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	now := p.now()
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO orchestral_cache(key, value, expires_at, updated_at)
		VALUES($1, $2, $3, $4)
		ON CONFLICT(key) DO UPDATE SET
			value=EXCLUDED.value,
			expires_at=EXCLUDED.expires_at,
			updated_at=EXCLUDED.updated_at;`,
		key, value, store.ExpiresAt(now, ttl), now.UTC())
	return err
}

func (p *DB) Get(ctx context.Context, key string) ([]byte, bool, error) {
	var (
		value     []byte
		expiresAt int64
	)
	err := p.db.QueryRowContext(ctx, `SELECT value, expires_at FROM orchestral_cache WHERE key = $1`, key).Scan(&value, &expiresAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	if store.Expired(p.now(), expiresAt) {
		_, _ = p.db.ExecContext(ctx, `DELETE FROM orchestral_cache WHERE key = $1 AND expires_at = $2`, key, expiresAt)
		return nil, false, nil
	}
	return value, true, nil
}

func (p *DB) Forget(ctx context.Context, key string) error {
	_, err := p.db.ExecContext(ctx, `DELETE FROM orchestral_cache WHERE key = $1`, key)
	return err
}

func (p *DB) Has(ctx context.Context, key string) (bool, error) {
	_, ok, err := p.Get(ctx, key)
	return ok, err
}
