package service

import (
	"context"
	"time"

	"github.com/psds-microservice/conversation-router/internal/model"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// QueueStore хранит отложенные записи в таблице queue_entries.
type QueueStore struct {
	db *gorm.DB
}

func NewQueueStore(db *gorm.DB) *QueueStore {
	return &QueueStore{db: db}
}

func (q *QueueStore) Enqueue(ctx context.Context, e *model.QueueEntry) error {
	return q.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "conversation_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"id", "reason", "priority", "attempt", "created_at", "process_after"}),
		}).
		Create(e).Error
}

func (q *QueueStore) Due(ctx context.Context, now time.Time, limit int) ([]model.QueueEntry, error) {
	var out []model.QueueEntry
	err := q.db.WithContext(ctx).
		Where("process_after <= ?", now.UTC()).
		Order("process_after ASC").Order("id ASC").
		Limit(limit).
		Find(&out).Error
	return out, err
}

// Claim удаляет запись по id. Заменённая или уже забранная запись не найдётся.
func (q *QueueStore) Claim(ctx context.Context, e model.QueueEntry) (bool, error) {
	res := q.db.WithContext(ctx).Where("id = ?", e.ID).Delete(&model.QueueEntry{})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (q *QueueStore) Pending(ctx context.Context, limit int) ([]model.QueueEntry, error) {
	var out []model.QueueEntry
	tx := q.db.WithContext(ctx).Order("process_after ASC").Order("id ASC")
	if limit > 0 {
		tx = tx.Limit(limit)
	}
	err := tx.Find(&out).Error
	return out, err
}
