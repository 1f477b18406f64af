// Package file stores each key as a JSON document in a directory. Writers and
// readers from separate invocations coordinate through an flock(2) lock file.
package file

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/gofrs/flock"

	"github.com/loykin/orchestral/internal/store"
)

type document struct {
	Value     []byte `json:"value"`
	ExpiresAt int64  `json:"expires_at"`
}

// Store implements store.KV on a directory of JSON files. mu serializes
// goroutines of this process; the flock only coordinates between processes
// since one handle cannot be held twice.
type Store struct {
	dir  string
	mu   sync.Mutex
	lock *flock.Flock
	now  func() time.Time
}

var _ store.KV = (*Store)(nil)

// New creates dir if needed and returns a store rooted there.
func New(dir string) (*Store, error) {
	if dir == "" {
		return nil, errors.New("empty state directory")
	}
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("create state dir: %w", err)
	}
	return &Store{dir: dir, lock: flock.New(filepath.Join(dir, ".lock")), now: time.Now}, nil
}

func (s *Store) path(key string) string {
	return filepath.Join(s.dir, url.PathEscape(key)+".json")
}

func (s *Store) Put(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := s.acquire(ctx, false); err != nil {
		return err
	}
	defer s.release()

	b, err := json.Marshal(document{Value: value, ExpiresAt: store.ExpiresAt(s.now(), ttl)})
	if err != nil {
		return err
	}
	tmp, err := os.CreateTemp(s.dir, ".put-*")
	if err != nil {
		return fmt.Errorf("create temp: %w", err)
	}
	if _, err := tmp.Write(b); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
		return fmt.Errorf("write temp: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmp.Name())
		return err
	}
	if err := os.Rename(tmp.Name(), s.path(key)); err != nil {
		_ = os.Remove(tmp.Name())
		return fmt.Errorf("rename: %w", err)
	}
	return nil
}

func (s *Store) Get(ctx context.Context, key string) ([]byte, bool, error) {
	if err := s.acquire(ctx, true); err != nil {
		return nil, false, err
	}
	defer s.release()

	b, err := os.ReadFile(s.path(key))
	if errors.Is(err, os.ErrNotExist) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	var doc document
	if err := json.Unmarshal(b, &doc); err != nil {
		return nil, false, fmt.Errorf("decode %s: %w", key, err)
	}
	if store.Expired(s.now(), doc.ExpiresAt) {
		return nil, false, nil
	}
	return doc.Value, true, nil
}

func (s *Store) Forget(ctx context.Context, key string) error {
	if err := s.acquire(ctx, false); err != nil {
		return err
	}
	defer s.release()
	if err := os.Remove(s.path(key)); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}

func (s *Store) Has(ctx context.Context, key string) (bool, error) {
	_, ok, err := s.Get(ctx, key)
	return ok, err
}

func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lock.Close()
}

// acquire takes mu and then the file lock; release undoes both.
func (s *Store) acquire(ctx context.Context, shared bool) error {
	s.mu.Lock()
	var (
		ok  bool
		err error
	)
	if shared {
		ok, err = s.lock.TryRLockContext(ctx, 20*time.Millisecond)
	} else {
		ok, err = s.lock.TryLockContext(ctx, 20*time.Millisecond)
	}
	if err != nil {
		s.mu.Unlock()
		return fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		s.mu.Unlock()
		return errors.New("acquire lock: not acquired")
	}
	return nil
}

func (s *Store) release() {
	_ = s.lock.Unlock()
	s.mu.Unlock()
}
