package autoreply

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/psds-microservice/conversation-router/internal/errs"
	"github.com/psds-microservice/conversation-router/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeStore struct {
	mu        sync.Mutex
	messages  []model.Message
	template  *model.AutoResponseTemplate
	flagged   map[string]bool
	insertErr error
	lookupErr error
}

func newFakeStore(tpl *model.AutoResponseTemplate) *fakeStore {
	return &fakeStore{template: tpl, flagged: make(map[string]bool)}
}

func (f *fakeStore) HasAutoResponseSince(ctx context.Context, conversationID string, since time.Time) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.lookupErr != nil {
		return false, f.lookupErr
	}
	return f.recentLocked(conversationID, since), nil
}

func (f *fakeStore) recentLocked(conversationID string, since time.Time) bool {
	for _, m := range f.messages {
		if m.ConversationID == conversationID && m.SenderType == model.SenderSystem && m.AutoResponse && !m.CreatedAt.Before(since) {
			return true
		}
	}
	return false
}

func (f *fakeStore) EnabledTemplate(ctx context.Context, kind string) (*model.AutoResponseTemplate, error) {
	if f.template == nil || f.template.Kind != kind {
		return nil, errs.ErrTemplateNotFound
	}
	return f.template, nil
}

func (f *fakeStore) InsertAutoResponse(ctx context.Context, msg *model.Message, since time.Time) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.insertErr != nil {
		return false, f.insertErr
	}
	if f.recentLocked(msg.ConversationID, since) {
		return false, nil
	}
	f.messages = append(f.messages, *msg)
	return true, nil
}

func (f *fakeStore) MarkScheduledResponse(ctx context.Context, conversationID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.flagged[conversationID] = true
	return nil
}

type clock struct{ t time.Time }

func (c *clock) now() time.Time { return c.t }

func outsideTemplate() *model.AutoResponseTemplate {
	return &model.AutoResponseTemplate{ID: 3, Kind: model.TemplateOutsideBusinessHours, Content: "We are closed, back at 9.", Enabled: true}
}

func TestGuard_SendsOnceInsideWindow(t *testing.T) {
	store := newFakeStore(outsideTemplate())
	c := &clock{t: time.Date(2024, 1, 6, 22, 0, 0, 0, time.UTC)}
	g := NewGuard(store, 0, time.Second, c.now, zap.NewNop())
	conv := &model.Conversation{ID: "c1"}

	sent, err := g.MaybeSendOutOfHoursReply(context.Background(), conv)
	require.NoError(t, err)
	assert.True(t, sent)
	assert.True(t, conv.ScheduledResponse)
	assert.True(t, store.flagged["c1"])

	c.t = c.t.Add(40 * time.Minute)
	sent, err = g.MaybeSendOutOfHoursReply(context.Background(), conv)
	require.NoError(t, err)
	assert.False(t, sent)

	require.Len(t, store.messages, 1)
	assert.Equal(t, "We are closed, back at 9.", store.messages[0].Content)
	assert.Equal(t, model.SenderSystem, store.messages[0].SenderType)
	assert.True(t, store.messages[0].AutoResponse)
}

func TestGuard_SendsAgainAfterWindow(t *testing.T) {
	store := newFakeStore(outsideTemplate())
	c := &clock{t: time.Date(2024, 1, 6, 22, 0, 0, 0, time.UTC)}
	g := NewGuard(store, 24*time.Hour, time.Second, c.now, zap.NewNop())
	conv := &model.Conversation{ID: "c1"}

	_, err := g.MaybeSendOutOfHoursReply(context.Background(), conv)
	require.NoError(t, err)

	c.t = c.t.Add(24*time.Hour + time.Minute)
	sent, err := g.MaybeSendOutOfHoursReply(context.Background(), conv)
	require.NoError(t, err)
	assert.True(t, sent)
	assert.Len(t, store.messages, 2)
}

func TestGuard_WindowIsPerConversation(t *testing.T) {
	store := newFakeStore(outsideTemplate())
	g := NewGuard(store, 0, time.Second, nil, zap.NewNop())

	for _, id := range []string{"c1", "c2"} {
		sent, err := g.MaybeSendOutOfHoursReply(context.Background(), &model.Conversation{ID: id})
		require.NoError(t, err)
		assert.True(t, sent, id)
	}
}

func TestGuard_MissingTemplateIsNotAnError(t *testing.T) {
	store := newFakeStore(nil)
	g := NewGuard(store, 0, time.Second, nil, zap.NewNop())
	conv := &model.Conversation{ID: "c1"}

	sent, err := g.MaybeSendOutOfHoursReply(context.Background(), conv)
	require.NoError(t, err)
	assert.False(t, sent)
	assert.False(t, conv.ScheduledResponse)
	assert.Empty(t, store.messages)
}

func TestGuard_StoreErrors(t *testing.T) {
	store := newFakeStore(outsideTemplate())
	store.lookupErr = errors.New("db down")
	g := NewGuard(store, 0, time.Second, nil, zap.NewNop())
	_, err := g.MaybeSendOutOfHoursReply(context.Background(), &model.Conversation{ID: "c1"})
	require.Error(t, err)

	store = newFakeStore(outsideTemplate())
	store.insertErr = errors.New("write failed")
	g = NewGuard(store, 0, time.Second, nil, zap.NewNop())
	conv := &model.Conversation{ID: "c1"}
	_, err = g.MaybeSendOutOfHoursReply(context.Background(), conv)
	require.Error(t, err)
	assert.False(t, conv.ScheduledResponse)
}

// racingStore lets n callers pass the recent-reply check before any of them
// inserts.
type racingStore struct {
	*fakeStore
	checked sync.WaitGroup
}

func (r *racingStore) HasAutoResponseSince(ctx context.Context, conversationID string, since time.Time) (bool, error) {
	recent, err := r.fakeStore.HasAutoResponseSince(ctx, conversationID, since)
	r.checked.Done()
	r.checked.Wait()
	return recent, err
}

func TestGuard_ConcurrentCallersSendOnce(t *testing.T) {
	store := &racingStore{fakeStore: newFakeStore(outsideTemplate())}
	store.checked.Add(2)
	g := NewGuard(store, 0, time.Second, nil, zap.NewNop())

	var wg sync.WaitGroup
	results := make([]bool, 2)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			sent, err := g.MaybeSendOutOfHoursReply(context.Background(), &model.Conversation{ID: "c1"})
			assert.NoError(t, err)
			results[i] = sent
		}(i)
	}
	wg.Wait()

	assert.ElementsMatch(t, []bool{true, false}, results)
	assert.Len(t, store.messages, 1)
}
