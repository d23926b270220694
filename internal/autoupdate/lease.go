package autoupdate

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"
)

// Leases serializes applies per package inside one process.
type Leases struct {
	wait time.Duration

	mu    sync.Mutex
	locks map[string]*semaphore.Weighted
}

// NewLeases creates a lease table. Acquire waits at most wait for a busy
// package; a zero wait fails immediately.
func NewLeases(wait time.Duration) *Leases {
	return &Leases{
		wait:  wait,
		locks: make(map[string]*semaphore.Weighted),
	}
}

func (l *Leases) lock(id string) *semaphore.Weighted {
	l.mu.Lock()
	defer l.mu.Unlock()

	sem, ok := l.locks[id]
	if !ok {
		sem = semaphore.NewWeighted(1)
		l.locks[id] = sem
	}
	return sem
}

// Acquire takes the lease for id. The returned release func must be called
// exactly once. A lease still held after the wait yields an ApplyBusy error.
func (l *Leases) Acquire(ctx context.Context, id string) (func(), error) {
	sem := l.lock(id)

	if sem.TryAcquire(1) {
		return func() { sem.Release(1) }, nil
	}
	if l.wait <= 0 {
		return nil, newApplyError(ApplyBusy, id, nil)
	}

	waitCtx, cancel := context.WithTimeout(ctx, l.wait)
	defer cancel()

	if err := sem.Acquire(waitCtx, 1); err != nil {
		// Caller cancellation is reported as such, not as a busy package
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, newApplyError(ApplyBusy, id, nil)
	}
	return func() { sem.Release(1) }, nil
}
