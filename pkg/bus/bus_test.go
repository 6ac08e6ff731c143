package bus

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryPublisher_RecordsInOrder(t *testing.T) {
	pub := NewMemoryPublisher()
	ctx := context.Background()

	require.NoError(t, pub.Publish(ctx, Message{Topic: "probes", Key: "agent-1", Value: []byte("batch-1")}))
	require.NoError(t, pub.Publish(ctx, Message{Topic: "probes", Key: "agent-2", Value: []byte("batch-2")}))

	got := pub.Messages()
	require.Len(t, got, 2)
	assert.Equal(t, "agent-1", got[0].Key)
	assert.Equal(t, "agent-2", got[1].Key)
}

func TestMemoryPublisher_Messages_ReturnsCopy(t *testing.T) {
	pub := NewMemoryPublisher()
	ctx := context.Background()
	require.NoError(t, pub.Publish(ctx, Message{Key: "agent-1", Value: []byte("batch-1")}))

	got := pub.Messages()
	got[0].Key = "mutated"

	again := pub.Messages()
	assert.Equal(t, "agent-1", again[0].Key)
}

func TestMemoryPublisher_FailNextPublish(t *testing.T) {
	pub := NewMemoryPublisher()
	ctx := context.Background()
	boom := errors.New("boom")

	pub.FailNextPublish(boom)
	err := pub.Publish(ctx, Message{Key: "agent-1", Value: []byte("batch-1")})
	assert.ErrorIs(t, err, boom)
	assert.Empty(t, pub.Messages(), "a failed publish must not be recorded")

	require.NoError(t, pub.Publish(ctx, Message{Key: "agent-2", Value: []byte("batch-2")}))
	assert.Len(t, pub.Messages(), 1, "failure only applies to the next call")
}

func TestMemoryPublisher_SatisfiesPublisher(t *testing.T) {
	var _ Publisher = NewMemoryPublisher()
}
