package bus

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPublishAndConsume(t *testing.T) {
	q := NewQueue[int](4)
	require.NoError(t, q.TryPublish(1))
	require.NoError(t, q.TryPublish(2))

	assert.Equal(t, 1, <-q.Chan())
	assert.Equal(t, 2, <-q.Chan())
}

func TestFullQueueDropsInsteadOfBlocking(t *testing.T) {
	q := NewQueue[int](2)
	require.NoError(t, q.TryPublish(1))
	require.NoError(t, q.TryPublish(2))

	err := q.TryPublish(3)
	require.ErrorIs(t, err, ErrQueueFull)
	assert.Equal(t, uint64(1), q.Drops())

	// The consumer still sees only what fit.
	assert.Equal(t, 1, <-q.Chan())
	assert.Equal(t, 2, <-q.Chan())
}

func TestClosedQueueRejectsPublish(t *testing.T) {
	q := NewQueue[int](2)
	require.NoError(t, q.TryPublish(1))
	q.Close()
	q.Close() // idempotent

	require.ErrorIs(t, q.TryPublish(2), ErrQueueClosed)

	// What was queued before Close drains normally.
	v, ok := <-q.Chan()
	assert.True(t, ok)
	assert.Equal(t, 1, v)
	_, ok = <-q.Chan()
	assert.False(t, ok)
}

func TestRunConsumesUntilClosed(t *testing.T) {
	q := NewQueue[int](8)
	for i := 1; i <= 3; i++ {
		require.NoError(t, q.TryPublish(i))
	}
	q.Close()

	var got []int
	q.Run(context.Background(), func(v int) { got = append(got, v) })
	assert.Equal(t, []int{1, 2, 3}, got)
}

func TestRunStopsOnContextCancel(t *testing.T) {
	q := NewQueue[int](8)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		defer close(done)
		q.Run(ctx, func(int) {})
	}()

	cancel()
	select {
	case <-done:
	case <-time.After(3 * time.Second):
		t.Fatal("run did not stop on cancel")
	}
}

func TestZeroCapacityGetsMinimum(t *testing.T) {
	q := NewQueue[int](0)
	require.NoError(t, q.TryPublish(1))
	require.ErrorIs(t, q.TryPublish(2), ErrQueueFull)
}
