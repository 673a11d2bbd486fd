package netasio

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBlockingQueue_FIFOOrder(t *testing.T) {
	q := NewBlockingQueue[int]()
	q.PushBack(1)
	q.PushBack(2)
	q.PushBack(3)

	assert.Equal(t, 3, q.Count())

	v, ok := q.PopFront()
	require.True(t, ok)
	assert.Equal(t, 1, v)

	v, ok = q.PopFront()
	require.True(t, ok)
	assert.Equal(t, 2, v)
}

func TestBlockingQueue_PushFront(t *testing.T) {
	q := NewBlockingQueue[int]()
	q.PushBack(1)
	q.PushFront(0)

	v, ok := q.PopFront()
	require.True(t, ok)
	assert.Equal(t, 0, v)
}

func TestBlockingQueue_FrontBackEmpty(t *testing.T) {
	q := NewBlockingQueue[string]()
	_, ok := q.Front()
	assert.False(t, ok)
	_, ok = q.Back()
	assert.False(t, ok)
	assert.True(t, q.Empty())

	q.PushBack("a")
	q.PushBack("b")

	f, ok := q.Front()
	require.True(t, ok)
	assert.Equal(t, "a", f)

	b, ok := q.Back()
	require.True(t, ok)
	assert.Equal(t, "b", b)
}

func TestBlockingQueue_PopEmptyReturnsFalse(t *testing.T) {
	q := NewBlockingQueue[int]()
	_, ok := q.PopFront()
	assert.False(t, ok)
	_, ok = q.PopBack()
	assert.False(t, ok)
}

func TestBlockingQueue_Clear(t *testing.T) {
	q := NewBlockingQueue[int]()
	q.PushBack(1)
	q.PushBack(2)
	q.Clear()
	assert.True(t, q.Empty())
	assert.Equal(t, 0, q.Count())
}

func TestBlockingQueue_WaitUnblocksOnPush(t *testing.T) {
	q := NewBlockingQueue[int]()
	done := make(chan error, 1)

	go func() {
		done <- q.Wait(context.Background())
	}()

	// Give the waiter a moment to actually park in Wait before pushing,
	// without making the test depend on exact timing for correctness.
	time.Sleep(20 * time.Millisecond)
	q.PushBack(42)

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Wait did not unblock after PushBack")
	}

	v, ok := q.PopFront()
	require.True(t, ok)
	assert.Equal(t, 42, v)
}

func TestBlockingQueue_WaitRespectsContextCancellation(t *testing.T) {
	q := NewBlockingQueue[int]()
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	err := q.Wait(ctx)
	assert.Error(t, err)
}

func TestBlockingQueue_ClearWakesNoWaiters(t *testing.T) {
	q := NewBlockingQueue[int]()
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		done <- q.Wait(ctx)
	}()

	time.Sleep(10 * time.Millisecond)
	q.Clear() // must not wake the waiter; only the context deadline should

	err := <-done
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestBlockingQueue_ReturnsImmediatelyWhenNonEmpty(t *testing.T) {
	q := NewBlockingQueue[int]()
	q.PushBack(1)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	assert.NoError(t, q.Wait(ctx))
}
