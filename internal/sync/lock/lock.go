// Package lock guards each sweep type against overlapping invocations. The
// in-process guard covers the single-instance deployment; the Redis lease
// extends the same guarantee across replicas.
package lock

import (
	"context"
	"sync"
)

// SweepLock serializes invocations of one sweep type. TryAcquire returns
// false when the previous invocation of the same sweep still holds the lock;
// the caller skips that firing instead of queueing it.
type SweepLock interface {
	TryAcquire(ctx context.Context, sweep string) (bool, error)
	Release(ctx context.Context, sweep string)
}

// InProcess implements SweepLock with per-sweep booleans under one mutex.
type InProcess struct {
	mu   sync.Mutex
	held map[string]bool
}

// NewInProcess creates the single-instance sweep lock.
func NewInProcess() *InProcess {
	return &InProcess{held: make(map[string]bool)}
}

func (l *InProcess) TryAcquire(_ context.Context, sweep string) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.held[sweep] {
		return false, nil
	}
	l.held[sweep] = true
	return true, nil
}

func (l *InProcess) Release(_ context.Context, sweep string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.held, sweep)
}
