package factory

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/loykin/orchestral/internal/store"
	fs "github.com/loykin/orchestral/internal/store/file"
	"github.com/loykin/orchestral/internal/store/memory"
	pg "github.com/loykin/orchestral/internal/store/postgres"
	sq "github.com/loykin/orchestral/internal/store/sqlite"
)

type schemaEnsurer interface {
	EnsureSchema(ctx context.Context) error
}

// NewFromDSN selects a store implementation based on DSN and prepares its schema.
// Supported:
//   - memory:   "memory://"
//   - file:     "file:///<dir>"
//   - postgres: DSN starting with "postgres://" or "postgresql://"
//   - sqlite:   "sqlite:///<path>" or bare filepath (treated as sqlite)
func NewFromDSN(ctx context.Context, dsn string) (store.KV, error) {
	d := strings.TrimSpace(dsn)
	ld := strings.ToLower(d)
	if ld == "" {
		return nil, errors.New("empty DSN")
	}
	var (
		kv  store.KV
		err error
	)
	switch {
	case strings.HasPrefix(ld, "memory://"):
		return memory.New(), nil
	case strings.HasPrefix(ld, "file://"):
		return fs.New(strings.TrimPrefix(d, "file://"))
	case strings.HasPrefix(ld, "postgres://"), strings.HasPrefix(ld, "postgresql://"):
		kv, err = pg.New(d)
	case strings.HasPrefix(ld, "sqlite://"):
		kv, err = sq.New(strings.TrimPrefix(d, "sqlite://"))
	default:
		kv, err = sq.New(d)
	}
	if err != nil {
		return nil, err
	}
	if se, ok := kv.(schemaEnsurer); ok {
		if err := se.EnsureSchema(ctx); err != nil {
			_ = kv.Close()
			return nil, fmt.Errorf("ensure schema: %w", err)
		}
	}
	return kv, nil
}
