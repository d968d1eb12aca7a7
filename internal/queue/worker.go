package queue

import (
	"context"
	"fmt"
	"time"

	"github.com/psds-microservice/conversation-router/internal/events"
	"go.uber.org/zap"
)

const WorkerSource = "deferred-queue"

type Publisher interface {
	Publish(ctx context.Context, payload events.Payload, source string) events.Event
}

// Worker re-publishes due entries as conversation.created events.
type Worker struct {
	store     Store
	publisher Publisher
	interval  time.Duration
	batchSize int
	now       func() time.Time
	logger    *zap.Logger
}

func NewWorker(store Store, publisher Publisher, interval time.Duration, batchSize int, now func() time.Time, logger *zap.Logger) *Worker {
	if now == nil {
		now = time.Now
	}
	if batchSize <= 0 {
		batchSize = 50
	}
	return &Worker{store: store, publisher: publisher, interval: interval, batchSize: batchSize, now: now, logger: logger}
}

// Run polls until ctx is cancelled, backing off exponentially on store errors.
func (w *Worker) Run(ctx context.Context) error {
	w.logger.Info("queue worker started", zap.Duration("interval", w.interval), zap.Int("batch_size", w.batchSize))

	backoff := w.interval
	maxBackoff := 10 * w.interval
	for {
		wait := w.interval
		if _, err := w.ProcessDue(ctx); err != nil {
			w.logger.Error("queue worker: failed to process due entries", zap.Error(err), zap.Duration("backoff", backoff))
			wait = backoff
			backoff *= 2
			if backoff > maxBackoff {
				backoff = maxBackoff
			}
		} else {
			backoff = w.interval
		}

		select {
		case <-ctx.Done():
			w.logger.Info("queue worker stopped")
			return nil
		case <-time.After(wait):
		}
	}
}

// ProcessDue handles one batch and returns how many entries were re-published.
func (w *Worker) ProcessDue(ctx context.Context) (int, error) {
	now := w.now()
	entries, err := w.store.Due(ctx, now, w.batchSize)
	if err != nil {
		return 0, fmt.Errorf("load due entries: %w", err)
	}

	processed := 0
	for _, entry := range entries {
		if entry.ProcessAfter.After(now) {
			continue
		}
		claimed, err := w.store.Claim(ctx, entry)
		if err != nil {
			w.logger.Warn("queue worker: failed to claim entry", zap.String("entry_id", entry.ID), zap.Error(err))
			continue
		}
		if !claimed {
			continue
		}
		w.publisher.Publish(ctx, events.ConversationCreatedPayload{
			ConversationID: entry.ConversationID,
			Attempt:        entry.Attempt,
		}, WorkerSource)
		processed++
	}
	if processed > 0 {
		w.logger.Info("queue worker: re-published deferred conversations", zap.Int("count", processed))
	}
	return processed, nil
}
