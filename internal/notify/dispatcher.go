package notify

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/psds-microservice/conversation-router/internal/deadline"
	"github.com/psds-microservice/conversation-router/internal/model"
	"go.uber.org/zap"
)

type Store interface {
	InsertNotification(ctx context.Context, n *model.Notification) error
}

// Dispatcher records assignment notifications. Failures are logged, never returned.
type Dispatcher struct {
	store   Store
	webhook *WebhookClient
	timeout time.Duration
	now     func() time.Time
	logger  *zap.Logger
}

func NewDispatcher(store Store, webhook *WebhookClient, timeout time.Duration, now func() time.Time, logger *zap.Logger) *Dispatcher {
	if now == nil {
		now = time.Now
	}
	return &Dispatcher{store: store, webhook: webhook, timeout: timeout, now: now, logger: logger}
}

func (d *Dispatcher) NotifyAssignee(ctx context.Context, userID, conversationID string) {
	n := &model.Notification{
		ID:             uuid.NewString(),
		UserID:         userID,
		Type:           model.NotificationConversationAssigned,
		ConversationID: conversationID,
		Title:          "New conversation assigned",
		Body:           fmt.Sprintf("Conversation %s has been assigned to you.", conversationID),
		Read:           false,
		CreatedAt:      d.now().UTC(),
	}

	cctx, cancel := deadline.With(ctx, d.timeout)
	defer cancel()
	if err := d.store.InsertNotification(cctx, n); err != nil {
		d.logger.Error("notify: failed to store notification",
			zap.String("user_id", userID),
			zap.String("conversation_id", conversationID),
			zap.Error(err),
		)
		return
	}
	d.webhook.SendAsync(n)
}
