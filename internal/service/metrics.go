package service

import (
	"context"
	"errors"
	"time"

	"github.com/psds-microservice/conversation-router/internal/errs"
	"github.com/psds-microservice/conversation-router/internal/model"
	"gorm.io/gorm"
)

// Среднее пересчитывается из уже увеличенных сумм внутри upsert, поэтому
// параллельные закрытия за один день не теряют инкремент.
const upsertDailyMetricSQL = `
INSERT INTO daily_metrics (date, total_conversations, resolved_conversations, total_resolution_time, avg_resolution_time, updated_at)
VALUES (?, 1, 1, ?, ?, ?)
ON CONFLICT (date) DO UPDATE SET
	total_conversations = daily_metrics.total_conversations + 1,
	resolved_conversations = daily_metrics.resolved_conversations + 1,
	total_resolution_time = daily_metrics.total_resolution_time + excluded.total_resolution_time,
	avg_resolution_time = CAST(ROUND((daily_metrics.total_resolution_time + excluded.total_resolution_time) * 1.0 / (daily_metrics.resolved_conversations + 1)) AS INTEGER),
	updated_at = excluded.updated_at`

const upsertChannelMetricSQL = `
INSERT INTO daily_channel_metrics (date, channel_id, resolved, total_resolution_time, avg_resolution_time, updated_at)
VALUES (?, ?, 1, ?, ?, ?)
ON CONFLICT (date, channel_id) DO UPDATE SET
	resolved = daily_channel_metrics.resolved + 1,
	total_resolution_time = daily_channel_metrics.total_resolution_time + excluded.total_resolution_time,
	avg_resolution_time = CAST(ROUND((daily_channel_metrics.total_resolution_time + excluded.total_resolution_time) * 1.0 / (daily_channel_metrics.resolved + 1)) AS INTEGER),
	updated_at = excluded.updated_at`

func (s *Store) UpsertDailyMetric(ctx context.Context, date string, minutes int, channelID string) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return upsertDailyMetric(tx, date, minutes, channelID)
	})
}

// RecordResolution выполняет MarkResolved и UpsertDailyMetric в одной
// транзакции. recorded=false, если время решения уже было записано.
func (s *Store) RecordResolution(ctx context.Context, conversationID string, closedAt time.Time, minutes int, date, channelID string) (recorded bool, err error) {
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		updated, err := markResolved(tx, conversationID, closedAt, minutes)
		if err != nil || !updated {
			return err
		}
		if err := upsertDailyMetric(tx, date, minutes, channelID); err != nil {
			return err
		}
		recorded = true
		return nil
	})
	return recorded, err
}

func upsertDailyMetric(tx *gorm.DB, date string, minutes int, channelID string) error {
	now := time.Now().UTC()
	if err := tx.Exec(upsertDailyMetricSQL, date, minutes, minutes, now).Error; err != nil {
		return err
	}
	if channelID == "" {
		return nil
	}
	return tx.Exec(upsertChannelMetricSQL, date, channelID, minutes, minutes, now).Error
}

func (s *Store) DailyMetric(ctx context.Context, date string) (*model.DailyMetric, error) {
	var m model.DailyMetric
	err := s.db.WithContext(ctx).
		Preload("ChannelMetrics", func(db *gorm.DB) *gorm.DB { return db.Order("channel_id ASC") }).
		First(&m, "date = ?", date).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, errs.ErrMetricNotFound
		}
		return nil, err
	}
	return &m, nil
}
