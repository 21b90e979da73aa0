package coord

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

var ErrLockNotHeld = errors.New("coord: lock not held")

// Lock is a named mutual-exclusion lease. The holder's uuid token is the
// stored value, so only the holder can release or extend it. A crashed
// holder's lease expires on its own.
type Lock struct {
	store Store
	key   string
	token string
	ttl   time.Duration
}

// Acquire tries once; ok=false means someone else holds the lock.
func Acquire(ctx context.Context, store Store, name string, ttl time.Duration) (*Lock, bool, error) {
	if ttl <= 0 {
		ttl = DefaultLockTTL
	}
	l := &Lock{store: store, key: LockKey(name), token: uuid.NewString(), ttl: ttl}
	ok, err := store.SetIfAbsent(ctx, l.key, l.token, ttl)
	if err != nil {
		return nil, false, err
	}
	if !ok {
		return nil, false, nil
	}
	return l, true, nil
}

// AcquireWait retries Acquire every retry interval until it succeeds or ctx ends.
func AcquireWait(ctx context.Context, store Store, name string, ttl, retry time.Duration) (*Lock, error) {
	if retry <= 0 {
		retry = 100 * time.Millisecond
	}
	for {
		l, ok, err := Acquire(ctx, store, name, ttl)
		if err != nil {
			return nil, err
		}
		if ok {
			return l, nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(retry):
		}
	}
}

func (l *Lock) Key() string   { return l.key }
func (l *Lock) Token() string { return l.token }

// Release deletes the lock only if this holder still owns it.
func (l *Lock) Release(ctx context.Context) error {
	ok, err := l.store.CompareAndDelete(ctx, l.key, l.token)
	if err != nil {
		return err
	}
	if !ok {
		return ErrLockNotHeld
	}
	return nil
}

// Refresh extends the lease by the original ttl if still held.
func (l *Lock) Refresh(ctx context.Context) error {
	ok, err := l.store.CompareAndExpire(ctx, l.key, l.token, l.ttl)
	if err != nil {
		return err
	}
	if !ok {
		return ErrLockNotHeld
	}
	return nil
}
