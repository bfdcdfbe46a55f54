package queue_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/parrot-audio/voice-service/internal/queue"
)

func TestMemory_FIFOOrderAndDedup(t *testing.T) {
	t.Parallel()

	fifo := queue.NewMemory()
	ctx := context.Background()

	require.NoError(t, fifo.Publish(ctx, "voice-1", "a", []byte("one")))
	require.NoError(t, fifo.Publish(ctx, "voice-1", "b", []byte("two")))
	require.NoError(t, fifo.Publish(ctx, "voice-1", "a", []byte("duplicate")))

	assert.Equal(t, 2, fifo.Len())

	deliveries, err := fifo.Fetch(ctx, 10)
	require.NoError(t, err)
	require.Len(t, deliveries, 2)
	assert.Equal(t, []byte("one"), deliveries[0].Payload())
	assert.Equal(t, []byte("two"), deliveries[1].Payload())
}

func TestMemory_NakRequeuesAtFront(t *testing.T) {
	t.Parallel()

	fifo := queue.NewMemory()
	ctx := context.Background()

	require.NoError(t, fifo.Publish(ctx, "voice-1", "a", []byte("one")))
	require.NoError(t, fifo.Publish(ctx, "voice-1", "b", []byte("two")))

	deliveries, err := fifo.Fetch(ctx, 1)
	require.NoError(t, err)
	require.Len(t, deliveries, 1)
	require.NoError(t, deliveries[0].Nak())

	redelivered, err := fifo.Fetch(ctx, 2)
	require.NoError(t, err)
	require.Len(t, redelivered, 2)
	assert.Equal(t, []byte("one"), redelivered[0].Payload())
	assert.Equal(t, []byte("two"), redelivered[1].Payload())
}
