// Implements a FIFO reader/writer lock with bounded waits.

package recordstore

import (
	"context"
	"errors"
	"time"

	"golang.org/x/sync/semaphore"
)

// maxReaders bounds concurrent shared holders; an exclusive holder acquires all
// of them.
const maxReaders = 1 << 20

// rwLock is a reader/writer lock whose waiters are served in arrival order.
// sync.RWMutex cannot bound the wait, which we need to surface ErrLockTimeout
// instead of blocking a request forever.
type rwLock struct {
	sem *semaphore.Weighted
}

func newRWLock() *rwLock {
	return &rwLock{sem: semaphore.NewWeighted(maxReaders)}
}

func (l *rwLock) lock(ctx context.Context, timeout time.Duration) error {
	return l.acquire(ctx, timeout, maxReaders)
}

func (l *rwLock) unlock() {
	l.sem.Release(maxReaders)
}

func (l *rwLock) rlock(ctx context.Context, timeout time.Duration) error {
	return l.acquire(ctx, timeout, 1)
}

func (l *rwLock) runlock() {
	l.sem.Release(1)
}

func (l *rwLock) acquire(ctx context.Context, timeout time.Duration, n int64) error {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	if err := l.sem.Acquire(ctx, n); err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return ErrLockTimeout
		}
		return err
	}
	return nil
}
