// Package metrics records resolution times and keeps the per-day rolling averages.
package metrics

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/psds-microservice/conversation-router/internal/deadline"
	"github.com/psds-microservice/conversation-router/internal/model"
	"go.uber.org/zap"
)

const DateLayout = "2006-01-02"

type Store interface {
	// RecordResolution sets closed_at and resolution_time_minutes only if the
	// resolution time is still unset and, in the same transaction, adds one
	// resolved conversation to the day and to the day's channel row.
	// recorded is false when the resolution time was already set.
	RecordResolution(ctx context.Context, conversationID string, closedAt time.Time, minutes int, date, channelID string) (recorded bool, err error)
}

// ResolutionMinutes is the elapsed time rounded to whole minutes.
func ResolutionMinutes(createdAt, closedAt time.Time) int {
	return int(math.Round(closedAt.Sub(createdAt).Minutes()))
}

// Average is total/count rounded half away from zero; 0 when count is 0.
func Average(total, count int) int {
	if count == 0 {
		return 0
	}
	return int(math.Round(float64(total) / float64(count)))
}

type Aggregator struct {
	store   Store
	loc     *time.Location
	timeout time.Duration
	logger  *zap.Logger
}

func NewAggregator(store Store, loc *time.Location, timeout time.Duration, logger *zap.Logger) *Aggregator {
	if loc == nil {
		loc = time.UTC
	}
	return &Aggregator{store: store, loc: loc, timeout: timeout, logger: logger}
}

// RecordClose persists the resolution time of conv and folds it into the
// metrics of the closing day. A conversation is counted at most once.
func (a *Aggregator) RecordClose(ctx context.Context, conv *model.Conversation, closedAt time.Time) (recorded bool, err error) {
	minutes := ResolutionMinutes(conv.CreatedAt, closedAt)
	date := closedAt.In(a.loc).Format(DateLayout)

	cctx, cancel := deadline.With(ctx, a.timeout)
	defer cancel()
	recorded, err = a.store.RecordResolution(cctx, conv.ID, closedAt, minutes, date, conv.ChannelID)
	if err != nil {
		return false, fmt.Errorf("record resolution of %s for %s: %w", conv.ID, date, err)
	}
	if !recorded {
		a.logger.Debug("metrics: resolution already recorded", zap.String("conversation_id", conv.ID))
		return false, nil
	}
	conv.ResolutionTimeMinutes = &minutes

	a.logger.Info("metrics: conversation resolved",
		zap.String("conversation_id", conv.ID),
		zap.String("channel_id", conv.ChannelID),
		zap.String("date", date),
		zap.Int("resolution_minutes", minutes),
	)
	return true, nil
}
