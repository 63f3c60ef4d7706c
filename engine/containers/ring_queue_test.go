package containers

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRingQueue(t *testing.T) {
	rq := NewRingQueue[int](2)
	assert.True(t, rq.IsEmpty())

	require.NoError(t, rq.Enqueue(1))
	require.NoError(t, rq.Enqueue(2))
	assert.True(t, rq.IsFull())
	assert.ErrorIs(t, rq.Enqueue(3), ErrQueueFull)

	v, err := rq.Peek()
	require.NoError(t, err)
	assert.Equal(t, 1, v)

	v, err = rq.Dequeue()
	require.NoError(t, err)
	assert.Equal(t, 1, v)
	assert.Equal(t, 1, rq.Len())

	require.NoError(t, rq.Enqueue(3))
	v, _ = rq.Dequeue()
	assert.Equal(t, 2, v)
	v, _ = rq.Dequeue()
	assert.Equal(t, 3, v)

	_, err = rq.Dequeue()
	assert.ErrorIs(t, err, ErrQueueEmpty)
}

func TestRingQueueRotate(t *testing.T) {
	rq := NewRingQueue[string](3)
	for _, s := range []string{"a", "b", "c"} {
		require.NoError(t, rq.Enqueue(s))
	}
	var seen []string
	for i := 0; i < 5; i++ {
		v, err := rq.Rotate()
		require.NoError(t, err)
		seen = append(seen, v)
	}
	assert.Equal(t, []string{"a", "b", "c", "a", "b"}, seen)
	assert.Equal(t, 3, rq.Len())
}
