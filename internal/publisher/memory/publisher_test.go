package memory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPublishRecordsInOrder(t *testing.T) {
	pub := New()

	id, err := pub.Publish(context.Background(), "pages.scraped", map[string]any{
		"session_id": "sess-1",
		"url":        "https://example.com/catalog",
	})
	require.NoError(t, err)
	assert.Equal(t, "memory-1", id)

	id, err = pub.Publish(context.Background(), "sessions.finished", map[string]any{
		"session_id": "sess-1",
		"status":     "completed",
	})
	require.NoError(t, err)
	assert.Equal(t, "memory-2", id)

	msgs := pub.Messages()
	require.Len(t, msgs, 2)
	assert.Equal(t, "pages.scraped", msgs[0].Topic)
	assert.Equal(t, "sessions.finished", msgs[1].Topic)
}

func TestMessagesReturnsACopy(t *testing.T) {
	pub := New()
	_, err := pub.Publish(context.Background(), "pages.scraped", nil)
	require.NoError(t, err)

	pub.Messages()[0].Topic = "tampered"
	assert.Equal(t, "pages.scraped", pub.Messages()[0].Topic)
}
