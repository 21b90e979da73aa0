// Package coord is the only state shared between worker processes: liveness,
// user assignment, locks, quota counters and small read-through caches.
//
// Every call is network I/O against a single key-value service. A returned
// error means the state is unknown; callers must not read it as "absent".
// There are no multi-key transactions and writes are last-writer-wins.
package coord

import (
	"context"
	"time"
)

type Store interface {
	Get(ctx context.Context, key string) (value string, found bool, err error)
	// Set writes value; ttl <= 0 means no expiry.
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
	// Increment adds amount and returns the new value. ttlOnCreate is applied
	// only when the key had no expiry yet, so later increments keep the
	// original deadline.
	Increment(ctx context.Context, key string, amount int64, ttlOnCreate time.Duration) (int64, error)
	// SetIfAbsent creates key only if it does not exist and reports whether it did.
	SetIfAbsent(ctx context.Context, key, value string, ttl time.Duration) (bool, error)
	KeysWithPrefix(ctx context.Context, prefix string) ([]string, error)
	// CompareAndDelete deletes key only while it still holds expected.
	CompareAndDelete(ctx context.Context, key, expected string) (bool, error)
	// CompareAndExpire resets the ttl of key only while it still holds expected.
	CompareAndExpire(ctx context.Context, key, expected string, ttl time.Duration) (bool, error)
	Close() error
}
