package service

import (
	"context"
	"errors"

	"github.com/psds-microservice/conversation-router/internal/errs"
	"github.com/psds-microservice/conversation-router/internal/model"
	"gorm.io/gorm"
)

// EnabledRules — включённые правила: сначала по убыванию priority, затем по id.
func (s *Store) EnabledRules(ctx context.Context) ([]model.AssignmentRule, error) {
	var rules []model.AssignmentRule
	err := s.db.WithContext(ctx).
		Where("enabled = ?", true).
		Order("priority DESC").Order("id ASC").
		Find(&rules).Error
	return rules, err
}

// TeamMembers возвращает id участников в порядке добавления.
func (s *Store) TeamMembers(ctx context.Context, teamID string) ([]string, error) {
	var ids []string
	err := s.db.WithContext(ctx).Model(&model.TeamMember{}).
		Where("team_id = ?", teamID).
		Order("id ASC").
		Pluck("user_id", &ids).Error
	return ids, err
}

// ActiveSchedule возвращает активное расписание, обновлённое последним.
func (s *Store) ActiveSchedule(ctx context.Context) (*model.BusinessHours, error) {
	var bh model.BusinessHours
	err := s.db.WithContext(ctx).
		Where("active = ?", true).
		Order("updated_at DESC").Order("id DESC").
		First(&bh).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, errs.ErrScheduleNotFound
		}
		return nil, err
	}
	return &bh, nil
}

func (s *Store) InsertNotification(ctx context.Context, n *model.Notification) error {
	return s.db.WithContext(ctx).Create(n).Error
}
