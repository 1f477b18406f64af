package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	_ "modernc.org/sqlite"

	"github.com/loykin/orchestral/internal/history"
)

// Sink writes audit events to a SQLite table.
type Sink struct {
	db    *sql.DB
	table string
}

// New creates a new SQLite audit sink.
// DSN format:
//   - "sqlite:///path/to/file.db"
//   - "sqlite://:memory:"
//   - "/path/to/file.db" (without prefix)
//   - ":memory:" (in-memory database)
func New(dsn string) (*Sink, error) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		return nil, errors.New("empty SQLite DSN")
	}
	if strings.HasPrefix(strings.ToLower(dsn), "sqlite://") {
		dsn = dsn[len("sqlite://"):]
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	_, _ = db.Exec("PRAGMA busy_timeout=3000;")

	sink := &Sink{db: db, table: history.DefaultTable}
	if err := sink.ensureSchema(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return sink, nil
}

func (s *Sink) ensureSchema(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS ` + s.table + `(
			id TEXT PRIMARY KEY,
			event TEXT NOT NULL,
			performer_name TEXT NOT NULL,
			environment TEXT NOT NULL,
			data TEXT NOT NULL DEFAULT '{}',
			occurred_at TIMESTAMP NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_` + s.table + `_performer ON ` + s.table + `(performer_name, event);`,
	}
	for _, q := range stmts {
		if _, err := s.db.ExecContext(ctx, q); err != nil {
			return err
		}
	}
	return nil
}

func (s *Sink) Send(ctx context.Context, e history.Event) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO `+s.table+`(id, event, performer_name, environment, data, occurred_at)
		VALUES(?, ?, ?, ?, ?, ?);`,
		e.ID, string(e.Kind), e.PerformerName, e.Environment, e.PayloadJSON(), e.OccurredAt.UTC())
	return err
}

// Count returns how many events of kind exist for performer.
func (s *Sink) Count(ctx context.Context, performer string, kind history.Kind) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM `+s.table+` WHERE performer_name = ? AND event = ?`, performer, string(kind)).Scan(&n)
	return n, err
}

func (s *Sink) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}
