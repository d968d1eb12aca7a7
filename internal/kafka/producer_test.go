package kafka

import (
	"context"
	"testing"

	"github.com/psds-microservice/conversation-router/internal/events"
	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
)

func TestProducer_DisabledIsNoop(t *testing.T) {
	for _, p := range []*Producer{
		NewProducer(nil, "routing", zap.NewNop()),
		NewProducer([]string{"localhost:9092"}, "", zap.NewNop()),
	} {
		assert.False(t, p.Enabled())
		assert.NoError(t, p.Send(context.Background(), events.Event{Payload: events.ConversationCreatedPayload{ConversationID: "c1"}}))
		assert.NoError(t, p.Close())
	}
}

func TestProducer_Enabled(t *testing.T) {
	p := NewProducer([]string{"localhost:9092"}, "routing", zap.NewNop())
	assert.True(t, p.Enabled())
	assert.Equal(t, "routing", p.writer.Topic)
}
