package queue

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/psds-microservice/conversation-router/internal/deadline"
	"github.com/psds-microservice/conversation-router/internal/model"
	"go.uber.org/zap"
)

// Store persists deferred entries. A conversation has at most one pending entry.
type Store interface {
	// Enqueue replaces any pending entry of the same conversation.
	Enqueue(ctx context.Context, entry *model.QueueEntry) error
	// Due returns entries with ProcessAfter <= now, oldest first.
	Due(ctx context.Context, now time.Time, limit int) ([]model.QueueEntry, error)
	// Claim removes exactly this entry. claimed is false if it was already
	// removed or replaced.
	Claim(ctx context.Context, entry model.QueueEntry) (claimed bool, err error)
	// Pending lists every entry ordered by ProcessAfter.
	Pending(ctx context.Context, limit int) ([]model.QueueEntry, error)
}

type NextOpener interface {
	NextBusinessHoursOpening(ctx context.Context, now time.Time) time.Time
}

// DefaultMaxRetries bounds no-assignee retries when none is configured.
const DefaultMaxRetries = 5

type Scheduler struct {
	store      Store
	hours      NextOpener
	retryDelay time.Duration
	maxRetries int
	timeout    time.Duration
	now        func() time.Time
	logger     *zap.Logger
}

// NewScheduler creates a scheduler. retryDelay <= 0 disables ScheduleRetry;
// maxRetries <= 0 means DefaultMaxRetries.
func NewScheduler(store Store, hours NextOpener, retryDelay time.Duration, maxRetries int, timeout time.Duration, now func() time.Time, logger *zap.Logger) *Scheduler {
	if now == nil {
		now = time.Now
	}
	if maxRetries <= 0 {
		maxRetries = DefaultMaxRetries
	}
	return &Scheduler{store: store, hours: hours, retryDelay: retryDelay, maxRetries: maxRetries, timeout: timeout, now: now, logger: logger}
}

// ScheduleForBusinessHours defers conv until the next opening.
func (s *Scheduler) ScheduleForBusinessHours(ctx context.Context, conv *model.Conversation) (*model.QueueEntry, error) {
	now := s.now()
	return s.enqueue(ctx, conv, model.QueueReasonOutsideBusinessHours, 0, s.hours.NextBusinessHoursOpening(ctx, now), now)
}

func (s *Scheduler) RetryEnabled() bool { return s.retryDelay > 0 }

// ScheduleRetry defers conv by the fixed retry delay. attempt is 1 for the
// first retry; past maxRetries nothing is enqueued and the entry is nil.
func (s *Scheduler) ScheduleRetry(ctx context.Context, conv *model.Conversation, reason string, attempt int) (*model.QueueEntry, error) {
	if !s.RetryEnabled() {
		return nil, nil
	}
	if attempt > s.maxRetries {
		s.logger.Warn("queue: retries exhausted, conversation stays unassigned",
			zap.String("conversation_id", conv.ID),
			zap.String("reason", reason),
			zap.Int("max_retries", s.maxRetries),
		)
		return nil, nil
	}
	now := s.now()
	return s.enqueue(ctx, conv, reason, attempt, now.Add(s.retryDelay), now)
}

func (s *Scheduler) enqueue(ctx context.Context, conv *model.Conversation, reason string, attempt int, processAfter, now time.Time) (*model.QueueEntry, error) {
	if processAfter.Before(now) {
		processAfter = now
	}
	entry := &model.QueueEntry{
		ID:             uuid.NewString(),
		ConversationID: conv.ID,
		Reason:         reason,
		Priority:       string(conv.Priority),
		Attempt:        attempt,
		CreatedAt:      now.UTC(),
		ProcessAfter:   processAfter.UTC(),
	}
	cctx, cancel := deadline.With(ctx, s.timeout)
	defer cancel()
	if err := s.store.Enqueue(cctx, entry); err != nil {
		return nil, fmt.Errorf("enqueue conversation %s: %w", conv.ID, err)
	}
	s.logger.Info("queue: conversation deferred",
		zap.String("conversation_id", conv.ID),
		zap.String("reason", reason),
		zap.Int("attempt", attempt),
		zap.Time("process_after", entry.ProcessAfter),
	)
	return entry, nil
}
