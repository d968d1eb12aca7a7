// Package service — хранилище состояния маршрутизации на GORM.
package service

import (
	"context"
	"errors"
	"time"

	"github.com/psds-microservice/conversation-router/internal/errs"
	"github.com/psds-microservice/conversation-router/internal/model"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type Store struct {
	db *gorm.DB
}

func NewStore(db *gorm.DB) *Store {
	return &Store{db: db}
}

func (s *Store) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

func (s *Store) CreateConversation(ctx context.Context, c *model.Conversation) error {
	return s.db.WithContext(ctx).Create(c).Error
}

func (s *Store) GetConversation(ctx context.Context, id string) (*model.Conversation, error) {
	var c model.Conversation
	if err := s.db.WithContext(ctx).First(&c, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, errs.ErrConversationNotFound
		}
		return nil, err
	}
	return &c, nil
}

// MarkHoursEvaluation пишет received_outside_business_hours, только пока там NULL.
// updated сообщает, записал ли значение именно этот вызов.
func (s *Store) MarkHoursEvaluation(ctx context.Context, id string, outside bool) (updated bool, err error) {
	res := s.db.WithContext(ctx).Model(&model.Conversation{}).
		Where("id = ? AND received_outside_business_hours IS NULL", id).
		Updates(map[string]interface{}{
			"received_outside_business_hours": outside,
			"updated_at":                      time.Now().UTC(),
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (s *Store) MarkScheduledResponse(ctx context.Context, id string) error {
	return s.db.WithContext(ctx).Model(&model.Conversation{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"scheduled_response": true,
			"updated_at":         time.Now().UTC(),
		}).Error
}

// AssignConversation ставит assigned_to, только если беседа ещё не назначена,
// и в любом случае возвращает сохранённую строку.
func (s *Store) AssignConversation(ctx context.Context, id, userID string) (*model.Conversation, bool, error) {
	res := s.db.WithContext(ctx).Model(&model.Conversation{}).
		Where("id = ? AND (assigned_to IS NULL OR assigned_to = '')", id).
		Updates(map[string]interface{}{
			"assigned_to": userID,
			"updated_at":  time.Now().UTC(),
		})
	if res.Error != nil {
		return nil, false, res.Error
	}
	c, err := s.GetConversation(ctx, id)
	if err != nil {
		return nil, false, err
	}
	return c, res.RowsAffected == 1, nil
}

// MarkResolved записывает время решения один раз.
func (s *Store) MarkResolved(ctx context.Context, id string, closedAt time.Time, minutes int) (bool, error) {
	return markResolved(s.db.WithContext(ctx), id, closedAt, minutes)
}

func markResolved(db *gorm.DB, id string, closedAt time.Time, minutes int) (bool, error) {
	res := db.Model(&model.Conversation{}).
		Where("id = ? AND resolution_time_minutes IS NULL", id).
		Updates(map[string]interface{}{
			"closed_at":               closedAt.UTC(),
			"resolution_time_minutes": minutes,
			"updated_at":              time.Now().UTC(),
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

// CountOpenByAssignee — один GROUP BY по переданным пользователям.
func (s *Store) CountOpenByAssignee(ctx context.Context, userIDs []string) (map[string]int, error) {
	out := make(map[string]int, len(userIDs))
	if len(userIDs) == 0 {
		return out, nil
	}
	var rows []struct {
		AssignedTo string
		Total      int
	}
	err := s.db.WithContext(ctx).Model(&model.Conversation{}).
		Select("assigned_to, COUNT(*) AS total").
		Where("status = ? AND assigned_to IN ?", model.ConversationStatusOpen, userIDs).
		Group("assigned_to").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	for _, r := range rows {
		out[r.AssignedTo] = r.Total
	}
	return out, nil
}

// MarkEventProcessed запоминает eventID. first=false, если он уже был записан.
func (s *Store) MarkEventProcessed(ctx context.Context, eventID, eventType string) (first bool, err error) {
	res := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&model.ProcessedEvent{EventID: eventID, Type: eventType, ProcessedAt: time.Now().UTC()})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}
