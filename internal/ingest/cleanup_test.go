package ingest

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ============================================================================
// CleanupRegistry
// ============================================================================

func TestCleanupRegistry_RunAllOnce(t *testing.T) {
	var reg CleanupRegistry
	var calls []int
	var detached int

	reg.Add(func() { calls = append(calls, 1) })
	reg.Add(func() { calls = append(calls, 2) })
	reg.SetDetach(func() bool { detached++; return true })
	assert.Equal(t, 2, reg.Len())

	assert.True(t, reg.RunAll())
	assert.False(t, reg.RunAll())

	assert.Equal(t, []int{1, 2}, calls)
	assert.Equal(t, 1, detached)
	assert.True(t, reg.Fired())
	assert.Zero(t, reg.Len())
}

func TestCleanupRegistry_AddAfterFire(t *testing.T) {
	var reg CleanupRegistry
	reg.RunAll()

	ran := false
	reg.Add(func() { ran = true })
	assert.True(t, ran, "callback added after RunAll must run immediately")
}

func TestCleanupRegistry_ConcurrentRunAll(t *testing.T) {
	var reg CleanupRegistry
	var count atomic.Int32
	for i := 0; i < 10; i++ {
		reg.Add(func() { count.Add(1) })
	}

	var wg sync.WaitGroup
	var winners atomic.Int32
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if reg.RunAll() {
				winners.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(10), count.Load())
	assert.Equal(t, int32(1), winners.Load())
}

// ============================================================================
// Guard
// ============================================================================

func TestGuard(t *testing.T) {
	g := NewGuard(250)

	require.NoError(t, g.Add(100))
	require.NoError(t, g.Add(150))

	err := g.Add(1)
	assert.ErrorIs(t, err, ErrAggregateLimit)
	assert.True(t, IsLimit(err))
	assert.Equal(t, int64(251), g.Total())
}

func TestGuard_Disabled(t *testing.T) {
	g := NewGuard(0)
	assert.NoError(t, g.Add(1<<30))
	assert.NoError(t, g.Add(1<<30))
}

// ============================================================================
// Completion
// ============================================================================

func TestCompletion_SettlesOnce(t *testing.T) {
	c := newCompletion()
	assert.NoError(t, c.Err())

	boom := errors.New("boom")
	assert.True(t, c.settle(boom))
	assert.False(t, c.settle(nil))

	assert.ErrorIs(t, c.Err(), boom)
	assert.ErrorIs(t, c.Wait(context.Background()), boom)

	select {
	case <-c.Done():
	default:
		t.Fatal("Done should be closed")
	}
}

func TestCompletion_WaitTimeout(t *testing.T) {
	c := newCompletion()
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	assert.ErrorIs(t, c.Wait(ctx), context.DeadlineExceeded)

	c.settle(nil)
	assert.NoError(t, c.Wait(context.Background()))
}
