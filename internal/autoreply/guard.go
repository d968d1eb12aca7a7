package autoreply

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/psds-microservice/conversation-router/internal/deadline"
	"github.com/psds-microservice/conversation-router/internal/errs"
	"github.com/psds-microservice/conversation-router/internal/model"
	"go.uber.org/zap"
)

const DefaultWindow = 24 * time.Hour

type Store interface {
	// HasAutoResponseSince reports whether a system auto-response was written
	// to the conversation at or after since.
	HasAutoResponseSince(ctx context.Context, conversationID string, since time.Time) (bool, error)
	// EnabledTemplate returns errs.ErrTemplateNotFound when none is enabled.
	EnabledTemplate(ctx context.Context, kind string) (*model.AutoResponseTemplate, error)
	// InsertAutoResponse writes msg unless an auto-response was written at or
	// after since. The check and the write are atomic per conversation.
	InsertAutoResponse(ctx context.Context, msg *model.Message, since time.Time) (inserted bool, err error)
	MarkScheduledResponse(ctx context.Context, conversationID string) error
}

// Guard sends at most one out-of-hours reply per conversation per window.
type Guard struct {
	store   Store
	window  time.Duration
	timeout time.Duration
	now     func() time.Time
	logger  *zap.Logger
}

func NewGuard(store Store, window, timeout time.Duration, now func() time.Time, logger *zap.Logger) *Guard {
	if window <= 0 {
		window = DefaultWindow
	}
	if now == nil {
		now = time.Now
	}
	return &Guard{store: store, window: window, timeout: timeout, now: now, logger: logger}
}

// MaybeSendOutOfHoursReply writes the out-of-hours template as a system
// message unless one was already sent inside the window. sent reports whether
// a message was written. A missing template is not an error.
func (g *Guard) MaybeSendOutOfHoursReply(ctx context.Context, conv *model.Conversation) (sent bool, err error) {
	now := g.now().UTC()
	since := now.Add(-g.window)
	log := g.logger.With(zap.String("conversation_id", conv.ID))

	cctx, cancel := deadline.With(ctx, g.timeout)
	recent, err := g.store.HasAutoResponseSince(cctx, conv.ID, since)
	cancel()
	if err != nil {
		return false, fmt.Errorf("check recent auto-response: %w", err)
	}
	if recent {
		log.Debug("autoreply: reply already sent inside window")
		return false, nil
	}

	cctx, cancel = deadline.With(ctx, g.timeout)
	tpl, err := g.store.EnabledTemplate(cctx, model.TemplateOutsideBusinessHours)
	cancel()
	if errors.Is(err, errs.ErrTemplateNotFound) {
		log.Warn("autoreply: no enabled outside_business_hours template, conversation stays unanswered")
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("load template: %w", err)
	}

	msg := &model.Message{
		ID:             uuid.NewString(),
		ConversationID: conv.ID,
		SenderType:     model.SenderSystem,
		Content:        tpl.Content,
		AutoResponse:   true,
		CreatedAt:      now,
	}
	cctx, cancel = deadline.With(ctx, g.timeout)
	inserted, err := g.store.InsertAutoResponse(cctx, msg, since)
	cancel()
	if err != nil {
		return false, fmt.Errorf("insert auto-response: %w", err)
	}
	if !inserted {
		log.Debug("autoreply: concurrent reply won inside window")
		return false, nil
	}

	cctx, cancel = deadline.With(ctx, g.timeout)
	err = g.store.MarkScheduledResponse(cctx, conv.ID)
	cancel()
	if err != nil {
		// the reply is out; the flag is informational
		log.Warn("autoreply: failed to flag scheduled response", zap.Error(err))
	} else {
		conv.ScheduledResponse = true
	}

	log.Info("autoreply: out-of-hours reply sent", zap.Uint64("template_id", tpl.ID), zap.String("message_id", msg.ID))
	return true, nil
}
