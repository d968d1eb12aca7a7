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

func (s *Store) InsertMessage(ctx context.Context, m *model.Message) error {
	return s.db.WithContext(ctx).Create(m).Error
}

func (s *Store) GetMessage(ctx context.Context, id string) (*model.Message, error) {
	var m model.Message
	if err := s.db.WithContext(ctx).First(&m, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, errs.ErrMessageNotFound
		}
		return nil, err
	}
	return &m, nil
}

// LastMessage возвращает nil, nil, если в беседе нет сообщений.
func (s *Store) LastMessage(ctx context.Context, conversationID string) (*model.Message, error) {
	var m model.Message
	err := s.db.WithContext(ctx).
		Where("conversation_id = ?", conversationID).
		Order("created_at DESC").Order("id DESC").
		First(&m).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &m, nil
}

func (s *Store) HasAutoResponseSince(ctx context.Context, conversationID string, since time.Time) (bool, error) {
	return autoResponseSince(s.db.WithContext(ctx), conversationID, since)
}

// InsertAutoResponse пишет m, только если с момента since в беседу не
// отправлялся автоответ. Строка беседы блокируется на время проверки.
func (s *Store) InsertAutoResponse(ctx context.Context, m *model.Message, since time.Time) (inserted bool, err error) {
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var conv model.Conversation
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Select("id").
			First(&conv, "id = ?", m.ConversationID).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return errs.ErrConversationNotFound
		}
		if err != nil {
			return err
		}
		recent, err := autoResponseSince(tx, m.ConversationID, since)
		if err != nil || recent {
			return err
		}
		if err := tx.Create(m).Error; err != nil {
			return err
		}
		inserted = true
		return nil
	})
	return inserted, err
}

func autoResponseSince(db *gorm.DB, conversationID string, since time.Time) (bool, error) {
	var n int64
	err := db.Model(&model.Message{}).
		Where("conversation_id = ? AND sender_type = ? AND auto_response = ? AND created_at >= ?",
			conversationID, model.SenderSystem, true, since.UTC()).
		Count(&n).Error
	return n > 0, err
}

func (s *Store) EnabledTemplate(ctx context.Context, kind string) (*model.AutoResponseTemplate, error) {
	var t model.AutoResponseTemplate
	err := s.db.WithContext(ctx).
		Where("kind = ? AND enabled = ?", kind, true).
		Order("id ASC").
		First(&t).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, errs.ErrTemplateNotFound
		}
		return nil, err
	}
	return &t, nil
}
