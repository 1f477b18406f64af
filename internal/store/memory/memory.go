package memory

import (
	"context"
	"sync"
	"time"

	"github.com/loykin/orchestral/internal/store"
)

type entry struct {
	value     []byte
	expiresAt int64
}

// Store is a process-local store.KV. Useful for tests and one-shot runs.
type Store struct {
	mu     sync.Mutex
	data   map[string]entry
	now    func() time.Time
	closed bool
}

var _ store.KV = (*Store)(nil)

func New() *Store { return &Store{data: map[string]entry{}, now: time.Now} }

// WithClock replaces the time source used for expiry.
func (s *Store) WithClock(now func() time.Time) *Store {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
	return s
}

func (s *Store) Put(_ context.Context, key string, value []byte, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return store.ErrClosed
	}
	v := make([]byte, len(value))
	copy(v, value)
	s.data[key] = entry{value: v, expiresAt: store.ExpiresAt(s.now(), ttl)}
	return nil
}

func (s *Store) Get(_ context.Context, key string) ([]byte, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, false, store.ErrClosed
	}
	e, ok := s.data[key]
	if !ok {
		return nil, false, nil
	}
	if store.Expired(s.now(), e.expiresAt) {
		delete(s.data, key)
		return nil, false, nil
	}
	v := make([]byte, len(e.value))
	copy(v, e.value)
	return v, true, nil
}

func (s *Store) Forget(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return store.ErrClosed
	}
	delete(s.data, key)
	return nil
}

func (s *Store) Has(ctx context.Context, key string) (bool, error) {
	_, ok, err := s.Get(ctx, key)
	return ok, err
}

func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}
