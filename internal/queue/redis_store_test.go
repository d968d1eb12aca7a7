package queue

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/psds-microservice/conversation-router/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Runs against a real server when QUEUE_TEST_REDIS_ADDR is set.
func TestRedisStore(t *testing.T) {
	addr := os.Getenv("QUEUE_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("QUEUE_TEST_REDIS_ADDR not set")
	}
	ctx := context.Background()
	c := redis.NewClient(&redis.Options{Addr: addr})
	t.Cleanup(func() { _ = c.Close() })
	require.NoError(t, c.Ping(ctx).Err())

	key := "test:deferred:" + time.Now().Format("150405.000000")
	s := NewRedisStore(c, key)
	t.Cleanup(func() { c.Del(ctx, s.keys()...) })

	base := time.Date(2024, 1, 8, 9, 0, 0, 0, time.UTC)
	require.NoError(t, s.Enqueue(ctx, &model.QueueEntry{ID: "e1", ConversationID: "c1", ProcessAfter: base}))
	require.NoError(t, s.Enqueue(ctx, &model.QueueEntry{ID: "e2", ConversationID: "c2", ProcessAfter: base.Add(time.Hour)}))
	// replaces e1
	require.NoError(t, s.Enqueue(ctx, &model.QueueEntry{ID: "e3", ConversationID: "c1", ProcessAfter: base.Add(-time.Minute)}))

	pending, err := s.Pending(ctx, 0)
	require.NoError(t, err)
	require.Len(t, pending, 2)
	assert.Equal(t, "e3", pending[0].ID)

	due, err := s.Due(ctx, base, 10)
	require.NoError(t, err)
	require.Len(t, due, 1)
	assert.Equal(t, "c1", due[0].ConversationID)

	claimed, err := s.Claim(ctx, due[0])
	require.NoError(t, err)
	assert.True(t, claimed)
	claimed, err = s.Claim(ctx, due[0])
	require.NoError(t, err)
	assert.False(t, claimed)

	claimed, err = s.Claim(ctx, model.QueueEntry{ID: "e1", ConversationID: "c1"})
	require.NoError(t, err)
	assert.False(t, claimed)
}
