package memory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

// TestPublisherStoresMessages verifies IDs are sequential and Messages returns a copy.
func TestPublisherStoresMessages(t *testing.T) {
	t.Parallel()

	pub := New()
	id1, err := pub.Publish(context.Background(), "working-links", map[string]string{"url": "a"})
	require.NoError(t, err)
	require.Equal(t, "memory-1", id1)
	id2, err := pub.Publish(context.Background(), "other", "payload")
	require.NoError(t, err)
	require.Equal(t, "memory-2", id2)

	msgs := pub.Messages()
	require.Len(t, msgs, 2)
	require.Equal(t, "working-links", msgs[0].Topic)
	require.Equal(t, "other", msgs[1].Topic)

	msgs[0].Topic = "modified"
	require.Equal(t, "working-links", pub.Messages()[0].Topic)
}

// TestPublisherHonorsCanceledContext refuses to record after cancellation.
func TestPublisherHonorsCanceledContext(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := New().Publish(ctx, "t", "x")
	require.ErrorIs(t, err, context.Canceled)
}
