package distribution

import (
	"context"
	"sync"
	"time"
)

// LocalLocker is an in-process keyed mutex. Waiters block until the holder
// releases or their context ends; ttl is ignored.
type LocalLocker struct {
	mu    sync.Mutex
	locks map[string]chan struct{}
}

func NewLocalLocker() *LocalLocker {
	return &LocalLocker{locks: make(map[string]chan struct{})}
}

func (l *LocalLocker) Acquire(ctx context.Context, key string, _ time.Duration) (func(), error) {
	for {
		l.mu.Lock()
		held, busy := l.locks[key]
		if !busy {
			ch := make(chan struct{})
			l.locks[key] = ch
			l.mu.Unlock()

			var once sync.Once
			return func() {
				once.Do(func() {
					l.mu.Lock()
					delete(l.locks, key)
					l.mu.Unlock()
					close(ch)
				})
			}, nil
		}
		l.mu.Unlock()

		select {
		case <-held:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}
