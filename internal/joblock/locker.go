// Package joblock keeps scheduled jobs from overlapping, within one process
// and across instances sharing a Redis.
package joblock

import (
	"context"
	"sync"
	"time"
)

// Unlock releases a lock obtained from TryLock.
type Unlock func(ctx context.Context) error

// Locker grants a named lock for at most ttl. TryLock never blocks: ok is
// false when someone else holds the lock.
type Locker interface {
	TryLock(ctx context.Context, name string, ttl time.Duration) (unlock Unlock, ok bool, err error)
}

// LocalLocker is a Locker for a single process.
type LocalLocker struct {
	mu    sync.Mutex
	held  map[string]time.Time
	clock func() time.Time
}

func NewLocalLocker() *LocalLocker {
	return &LocalLocker{held: map[string]time.Time{}, clock: time.Now}
}

func (l *LocalLocker) TryLock(_ context.Context, name string, ttl time.Duration) (Unlock, bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.clock()
	if expires, ok := l.held[name]; ok && now.Before(expires) {
		return nil, false, nil
	}
	expires := now.Add(ttl)
	l.held[name] = expires

	return func(context.Context) error {
		l.mu.Lock()
		defer l.mu.Unlock()
		// a lock that expired and was taken over is not ours to release
		if l.held[name].Equal(expires) {
			delete(l.held, name)
		}
		return nil
	}, true, nil
}
