// Package store defines the durable key/value contract the Registry is built on.
package store

import (
	"context"
	"errors"
	"time"
)

// ErrClosed is returned by operations on a closed store.
var ErrClosed = errors.New("store closed")

// KV is a durable key/value store with per-key expiry.
// A ttl <= 0 means the entry never expires. Expired entries read as absent.
type KV interface {
	Put(ctx context.Context, key string, value []byte, ttl time.Duration) error
	// Get returns the value and whether it was present.
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Forget(ctx context.Context, key string) error
	Has(ctx context.Context, key string) (bool, error)
	Close() error
}

// ExpiresAt converts a ttl to an absolute unix-millisecond deadline, 0 for none.
func ExpiresAt(now time.Time, ttl time.Duration) int64 {
	if ttl <= 0 {
		return 0
	}
	return now.Add(ttl).UnixMilli()
}

// Expired reports whether a deadline produced by ExpiresAt has passed.
func Expired(now time.Time, expiresAt int64) bool {
	return expiresAt > 0 && now.UnixMilli() >= expiresAt
}
