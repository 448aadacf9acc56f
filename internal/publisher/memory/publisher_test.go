package memory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPublisherRecordsEncodedMessages(t *testing.T) {
	t.Parallel()

	pub := New()
	ctx := context.Background()
	id1, err := pub.Publish(ctx, "ir-changes", map[string]any{"company_id": 1, "severity": "Minor"})
	require.NoError(t, err)
	assert.Equal(t, "memory-1", id1)
	id2, err := pub.Publish(ctx, "ir-audit", "payload")
	require.NoError(t, err)
	assert.Equal(t, "memory-2", id2)

	msgs := pub.Messages()
	require.Len(t, msgs, 2)
	assert.Equal(t, "ir-changes", msgs[0].Topic)
	assert.JSONEq(t, `{"company_id":1,"severity":"Minor"}`, string(msgs[0].Data))
	assert.Equal(t, `"payload"`, string(msgs[1].Data))

	msgs[0].Topic = "modified"
	assert.Equal(t, "ir-changes", pub.Messages()[0].Topic)
}

func TestPublisherDropsOldestBeyondCapacity(t *testing.T) {
	t.Parallel()

	pub := NewBounded(2)
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		_, err := pub.Publish(ctx, "t", i)
		require.NoError(t, err)
	}
	msgs := pub.Messages()
	require.Len(t, msgs, 2)
	assert.Equal(t, "memory-2", msgs[0].ID)
	assert.Equal(t, "memory-3", msgs[1].ID)
}

func TestPublisherRejectsUnencodablePayload(t *testing.T) {
	t.Parallel()

	pub := New()
	_, err := pub.Publish(context.Background(), "t", map[string]any{"ch": make(chan int)})
	require.Error(t, err)
	assert.Empty(t, pub.Messages())
}
