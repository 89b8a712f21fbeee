package repo

import (
	"context"
	"errors"

	"gorm.io/gorm"

	"otahub/internal/models"
	"otahub/internal/ota"
)

// GroupStore — реестр групп поверх gorm (реализует ota.GroupStore).
type GroupStore struct{ db *gorm.DB }

func NewGroupStore(db *gorm.DB) *GroupStore { return &GroupStore{db: db} }

func (s *GroupStore) Find(ctx context.Context, groupID string) (*models.Group, error) {
	var g models.Group
	err := s.db.WithContext(ctx).Where(&models.Group{GroupID: groupID}).First(&g).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &g, nil
}

func (s *GroupStore) FindByName(ctx context.Context, name string) (*models.Group, error) {
	var g models.Group
	err := s.db.WithContext(ctx).Where(&models.Group{Name: name}).First(&g).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &g, nil
}

// Create проверяет уникальность имени (плюс uniqueIndex в схеме как страховка).
func (s *GroupStore) Create(ctx context.Context, g *models.Group) error {
	have, err := s.FindByName(ctx, g.Name)
	if err != nil {
		return err
	}
	if have != nil {
		return ota.ErrDuplicateName
	}
	return s.db.WithContext(ctx).Create(g).Error
}

func (s *GroupStore) List(ctx context.Context) ([]models.Group, error) {
	var rows []models.Group
	err := s.db.WithContext(ctx).Order("name asc").Find(&rows).Error
	return rows, err
}

// Delete удаляет группу окончательно — мёртвая строка не должна держать
// uniqueIndex по имени и мешать пересозданию.
func (s *GroupStore) Delete(ctx context.Context, groupID string) error {
	return s.db.WithContext(ctx).Where("group_id = ?", groupID).Delete(&models.Group{}).Error
}

func (s *GroupStore) Save(ctx context.Context, g *models.Group) error {
	return s.db.WithContext(ctx).Save(g).Error
}
