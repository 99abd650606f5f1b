// Package lease keeps one scheduler step per Operation running at a time, within one process
// or across processes sharing a Redis instance.
package lease

import (
	"context"
	"errors"
	"sync"
)

// ErrNotHeld is returned by Release when the lease expired or was taken over.
var ErrNotHeld = errors.New("lease not held")

// Locker hands out exclusive, expiring leases by key.
type Locker interface {
	// TryAcquire takes the lease on key without waiting. ok is false when someone else holds it.
	TryAcquire(ctx context.Context, key string) (l Lease, ok bool, err error)
}

// Lease is a held lease.
type Lease interface {
	Release(ctx context.Context) error
}

// LocalLocker is an in-process Locker. Leases never expire.
type LocalLocker struct {
	mu   sync.Mutex
	held map[string]struct{}
}

// NewLocalLocker creates a LocalLocker.
func NewLocalLocker() *LocalLocker {
	return &LocalLocker{held: make(map[string]struct{})}
}

func (l *LocalLocker) TryAcquire(ctx context.Context, key string) (Lease, bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.held[key]; ok {
		return nil, false, nil
	}
	l.held[key] = struct{}{}
	return &localLease{locker: l, key: key}, true, nil
}

type localLease struct {
	locker *LocalLocker
	key    string
	once   sync.Once
}

func (l *localLease) Release(ctx context.Context) error {
	released := false
	l.once.Do(func() {
		l.locker.mu.Lock()
		delete(l.locker.held, l.key)
		l.locker.mu.Unlock()
		released = true
	})
	if !released {
		return ErrNotHeld
	}
	return nil
}
