// Package lock provides the exclusive per-saga lease that guarantees a
// single worker drives an instance at a time.
package lock

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ErrNotAcquired indicates another holder currently owns the lease.
var ErrNotAcquired = errors.New("lock not acquired")

// Locker grants exclusive, time-bounded leases on a key. Acquire returns a
// release function on success and ErrNotAcquired when the lease is held
// elsewhere. The TTL bounds how long a crashed holder can block others.
type Locker interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (func(), error)
}

// MemoryLocker is the in-process Locker used by tests and single-node
// deployments.
type MemoryLocker struct {
	mu     sync.Mutex
	leases map[string]memoryLease
}

type memoryLease struct {
	token  string
	expiry time.Time
}

func NewMemoryLocker() *MemoryLocker {
	return &MemoryLocker{
		leases: make(map[string]memoryLease),
	}
}

func (l *MemoryLocker) Acquire(_ context.Context, key string, ttl time.Duration) (func(), error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if lease, held := l.leases[key]; held && time.Now().Before(lease.expiry) {
		return nil, ErrNotAcquired
	}

	token := uuid.NewString()
	l.leases[key] = memoryLease{token: token, expiry: time.Now().Add(ttl)}

	return func() {
		l.mu.Lock()
		defer l.mu.Unlock()

		// Compare-and-delete, as the Redis locker does: an expired holder
		// must not drop a successor's lease.
		if lease, held := l.leases[key]; held && lease.token == token {
			delete(l.leases, key)
		}
	}, nil
}
