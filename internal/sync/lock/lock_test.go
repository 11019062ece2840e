package lock

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInProcessLock(t *testing.T) {
	ctx := context.Background()

	t.Run("second acquire of a held sweep fails", func(t *testing.T) {
		l := NewInProcess()
		ok, err := l.TryAcquire(ctx, "pending")
		require.NoError(t, err)
		require.True(t, ok)

		ok, err = l.TryAcquire(ctx, "pending")
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("sweeps lock independently", func(t *testing.T) {
		l := NewInProcess()
		ok, err := l.TryAcquire(ctx, "pending")
		require.NoError(t, err)
		require.True(t, ok)

		ok, err = l.TryAcquire(ctx, "retry")
		require.NoError(t, err)
		assert.True(t, ok)
	})

	t.Run("release makes the sweep acquirable again", func(t *testing.T) {
		l := NewInProcess()
		ok, err := l.TryAcquire(ctx, "stats")
		require.NoError(t, err)
		require.True(t, ok)

		l.Release(ctx, "stats")
		ok, err = l.TryAcquire(ctx, "stats")
		require.NoError(t, err)
		assert.True(t, ok)
	})

	t.Run("concurrent acquirers yield one winner", func(t *testing.T) {
		l := NewInProcess()
		var wg sync.WaitGroup
		var winners atomic.Int64
		for range 50 {
			wg.Go(func() {
				ok, err := l.TryAcquire(ctx, "pending")
				require.NoError(t, err)
				if ok {
					winners.Add(1)
				}
			})
		}
		wg.Wait()
		assert.Equal(t, int64(1), winners.Load())
	})
}
