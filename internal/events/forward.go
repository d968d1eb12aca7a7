package events

import (
	"context"
	"time"

	"github.com/psds-microservice/conversation-router/internal/deadline"
)

// Sink receives a copy of every published event, e.g. a message broker.
type Sink interface {
	Send(ctx context.Context, evt Event) error
}

// Forward зеркалирует каждое событие шины в sink. Каждая отправка
// ограничена timeout, чтобы медленный брокер не задерживал Publish.
// Ошибки sink логирует шина.
func Forward(b *Bus, sink Sink, timeout time.Duration) func() {
	return b.SubscribeAll(func(ctx context.Context, evt Event) error {
		cctx, cancel := deadline.With(ctx, timeout)
		defer cancel()
		return sink.Send(cctx, evt)
	})
}

// ConversationIDOf returns the conversation an event payload refers to.
func ConversationIDOf(p Payload) string {
	switch v := p.(type) {
	case ConversationCreatedPayload:
		return v.ConversationID
	case MessageCreatedPayload:
		return v.ConversationID
	case ConversationAssignedPayload:
		return v.ConversationID
	case ConversationClosedPayload:
		return v.ConversationID
	default:
		return ""
	}
}
