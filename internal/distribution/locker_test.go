package distribution

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocalLocker_MutualExclusion(t *testing.T) {
	l := NewLocalLocker()
	ctx := context.Background()

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		inside  int
		maxSeen int
	)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			release, err := l.Acquire(ctx, "k", time.Second)
			if !assert.NoError(t, err) {
				return
			}
			mu.Lock()
			inside++
			if inside > maxSeen {
				maxSeen = inside
			}
			mu.Unlock()

			time.Sleep(time.Millisecond)

			mu.Lock()
			inside--
			mu.Unlock()
			release()
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, maxSeen)
}

func TestLocalLocker_IndependentKeys(t *testing.T) {
	l := NewLocalLocker()
	ctx := context.Background()

	r1, err := l.Acquire(ctx, "a", 0)
	require.NoError(t, err)
	r2, err := l.Acquire(ctx, "b", 0)
	require.NoError(t, err)
	r1()
	r2()
}

func TestLocalLocker_ContextCancel(t *testing.T) {
	l := NewLocalLocker()
	release, err := l.Acquire(context.Background(), "k", 0)
	require.NoError(t, err)
	defer release()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err = l.Acquire(ctx, "k", 0)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestLocalLocker_ReleaseTwice(t *testing.T) {
	l := NewLocalLocker()
	ctx := context.Background()

	release, err := l.Acquire(ctx, "k", 0)
	require.NoError(t, err)
	release()
	release()

	again, err := l.Acquire(ctx, "k", 0)
	require.NoError(t, err)
	again()
}
