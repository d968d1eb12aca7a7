package events

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/psds-microservice/conversation-router/internal/errs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestBus_PublishWaitsForAllHandlers(t *testing.T) {
	bus := NewBus(zap.NewNop())
	var done int32
	for i := 0; i < 3; i++ {
		bus.Subscribe(ConversationCreated, func(ctx context.Context, evt Event) error {
			time.Sleep(20 * time.Millisecond)
			atomic.AddInt32(&done, 1)
			return nil
		})
	}

	bus.Publish(context.Background(), ConversationCreatedPayload{ConversationID: "c1"}, "test")
	assert.Equal(t, int32(3), atomic.LoadInt32(&done))
}

func TestBus_HandlersRunConcurrently(t *testing.T) {
	bus := NewBus(zap.NewNop())
	var wg sync.WaitGroup
	wg.Add(2)
	release := make(chan struct{})
	for i := 0; i < 2; i++ {
		bus.Subscribe(MessageCreated, func(ctx context.Context, evt Event) error {
			wg.Done()
			<-release
			return nil
		})
	}
	go func() {
		wg.Wait()
		close(release)
	}()

	finished := make(chan struct{})
	go func() {
		bus.Publish(context.Background(), MessageCreatedPayload{ConversationID: "c1", ID: "m1"}, "")
		close(finished)
	}()
	select {
	case <-finished:
	case <-time.After(2 * time.Second):
		t.Fatal("handlers did not run concurrently")
	}
}

func TestBus_FailingHandlerIsIsolated(t *testing.T) {
	bus := NewBus(zap.NewNop())
	var ok int32
	bus.Subscribe(ConversationClosed, func(ctx context.Context, evt Event) error {
		return errors.New("boom")
	})
	bus.Subscribe(ConversationClosed, func(ctx context.Context, evt Event) error {
		panic("handler exploded")
	})
	bus.Subscribe(ConversationClosed, func(ctx context.Context, evt Event) error {
		atomic.AddInt32(&ok, 1)
		return nil
	})

	require.NotPanics(t, func() {
		bus.Publish(context.Background(), ConversationClosedPayload{ConversationID: "c1"}, "")
	})
	assert.Equal(t, int32(1), atomic.LoadInt32(&ok))
}

func TestBus_DispatchesOnlyMatchingType(t *testing.T) {
	bus := NewBus(zap.NewNop())
	var created, closed int32
	bus.Subscribe(ConversationCreated, func(ctx context.Context, evt Event) error {
		atomic.AddInt32(&created, 1)
		return nil
	})
	bus.Subscribe(ConversationClosed, func(ctx context.Context, evt Event) error {
		atomic.AddInt32(&closed, 1)
		return nil
	})

	bus.Publish(context.Background(), ConversationCreatedPayload{ConversationID: "c1"}, "")
	assert.Equal(t, int32(1), created)
	assert.Equal(t, int32(0), closed)
}

func TestBus_Unsubscribe(t *testing.T) {
	bus := NewBus(zap.NewNop())
	var calls int32
	unsubscribe := bus.Subscribe(ConversationCreated, func(ctx context.Context, evt Event) error {
		atomic.AddInt32(&calls, 1)
		return nil
	})

	bus.Publish(context.Background(), ConversationCreatedPayload{ConversationID: "c1"}, "")
	unsubscribe()
	bus.Publish(context.Background(), ConversationCreatedPayload{ConversationID: "c2"}, "")
	assert.Equal(t, int32(1), calls)
}

func TestBus_SubscribeAllSeesEveryType(t *testing.T) {
	bus := NewBus(zap.NewNop())
	var mu sync.Mutex
	var seen []Type
	unsubscribe := bus.SubscribeAll(func(ctx context.Context, evt Event) error {
		mu.Lock()
		defer mu.Unlock()
		seen = append(seen, evt.Type)
		return nil
	})

	bus.Publish(context.Background(), ConversationCreatedPayload{ConversationID: "c1"}, "")
	bus.Publish(context.Background(), ConversationAssignedPayload{ConversationID: "c1", AssignedTo: "user-1", Status: "open"}, "")
	unsubscribe()
	bus.Publish(context.Background(), ConversationClosedPayload{ConversationID: "c1"}, "")

	assert.Equal(t, []Type{ConversationCreated, ConversationAssigned}, seen)
}

func TestBus_PublishFillsEnvelope(t *testing.T) {
	bus := NewBus(zap.NewNop())
	var got Event
	bus.Subscribe(MessageCreated, func(ctx context.Context, evt Event) error {
		got = evt
		return nil
	})

	evt := bus.Publish(context.Background(), MessageCreatedPayload{ConversationID: "c1", ID: "m1"}, "webhook")
	assert.NotEmpty(t, evt.ID)
	assert.Equal(t, evt.ID, got.ID)
	assert.Equal(t, MessageCreated, got.Type)
	assert.Equal(t, "webhook", got.Source)
	assert.False(t, got.Timestamp.IsZero())
}

func TestDispatch_KeepsCallerID(t *testing.T) {
	bus := NewBus(zap.NewNop())
	var got Event
	bus.Subscribe(ConversationClosed, func(ctx context.Context, evt Event) error {
		got = evt
		return nil
	})

	bus.Dispatch(context.Background(), Event{ID: "evt-1", Payload: ConversationClosedPayload{ConversationID: "c1"}})
	assert.Equal(t, "evt-1", got.ID)
	assert.Equal(t, ConversationClosed, got.Type)
}

func TestOn_TypedHandler(t *testing.T) {
	bus := NewBus(zap.NewNop())
	var got ConversationCreatedPayload
	On(bus, func(ctx context.Context, p ConversationCreatedPayload, evt Event) error {
		got = p
		return nil
	})

	bus.Publish(context.Background(), ConversationCreatedPayload{ConversationID: "c1", ChannelID: "whatsapp-1"}, "")
	assert.Equal(t, "whatsapp-1", got.ChannelID)
}

func TestDecodePayload(t *testing.T) {
	p, err := DecodePayload(MessageCreated, json.RawMessage(`{"conversationId":"c1","id":"m1"}`))
	require.NoError(t, err)
	assert.Equal(t, MessageCreatedPayload{ConversationID: "c1", ID: "m1"}, p)

	_, err = DecodePayload("conversation.deleted", json.RawMessage(`{}`))
	assert.ErrorIs(t, err, errs.ErrUnknownEventType)

	_, err = DecodePayload(ConversationCreated, json.RawMessage(`{"channelId":"x"}`))
	assert.ErrorIs(t, err, errs.ErrInvalidPayload)

	_, err = DecodePayload(ConversationClosed, json.RawMessage(`not json`))
	assert.ErrorIs(t, err, errs.ErrInvalidPayload)

	_, err = DecodePayload(ConversationAssigned, nil)
	assert.ErrorIs(t, err, errs.ErrInvalidPayload)
}
