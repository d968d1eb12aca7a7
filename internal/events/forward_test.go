package events

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type recordingSink struct {
	mu   sync.Mutex
	got  []Event
	fail bool
}

func (s *recordingSink) Send(_ context.Context, evt Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.got = append(s.got, evt)
	if s.fail {
		return errors.New("broker unavailable")
	}
	return nil
}

func TestForward(t *testing.T) {
	bus := NewBus(zap.NewNop())
	sink := &recordingSink{fail: true}
	stop := Forward(bus, sink, time.Second)

	bus.Publish(context.Background(), ConversationCreatedPayload{ConversationID: "c1"}, "test")
	bus.Publish(context.Background(), ConversationClosedPayload{ConversationID: "c1"}, "test")
	require.Len(t, sink.got, 2)
	assert.Equal(t, ConversationClosed, sink.got[1].Type)

	stop()
	bus.Publish(context.Background(), ConversationCreatedPayload{ConversationID: "c2"}, "test")
	assert.Len(t, sink.got, 2)
}

type stalledSink struct{ err chan error }

func (s *stalledSink) Send(ctx context.Context, _ Event) error {
	<-ctx.Done()
	s.err <- ctx.Err()
	return ctx.Err()
}

func TestForward_BoundsSlowSink(t *testing.T) {
	bus := NewBus(zap.NewNop())
	sink := &stalledSink{err: make(chan error, 1)}
	Forward(bus, sink, 50*time.Millisecond)

	done := make(chan struct{})
	go func() {
		bus.Publish(context.Background(), ConversationCreatedPayload{ConversationID: "c1"}, "test")
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Publish blocked on a stalled sink")
	}
	assert.ErrorIs(t, <-sink.err, context.DeadlineExceeded)
}

func TestConversationIDOf(t *testing.T) {
	assert.Equal(t, "c1", ConversationIDOf(ConversationCreatedPayload{ConversationID: "c1"}))
	assert.Equal(t, "c2", ConversationIDOf(MessageCreatedPayload{ConversationID: "c2", ID: "m"}))
	assert.Equal(t, "c3", ConversationIDOf(ConversationAssignedPayload{ConversationID: "c3"}))
	assert.Equal(t, "c4", ConversationIDOf(ConversationClosedPayload{ConversationID: "c4"}))
}
