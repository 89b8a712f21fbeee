package repo

import (
	"context"

	"gorm.io/gorm"

	"otahub/internal/models"
)

// ActivityStore — журнал активности поверх gorm (реализует ota.ActivityStore).
type ActivityStore struct{ db *gorm.DB }

func NewActivityStore(db *gorm.DB) *ActivityStore { return &ActivityStore{db: db} }

// Append пишет запись и срезает журнал до последних ActivityLogLimit записей
// в одной транзакции — параллельные Append не теряют записи и не раздувают
// журнал за лимит. Старые вытесняются по порядку вставки (по id).
func (s *ActivityStore) Append(ctx context.Context, e models.ActivityEntry) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&e).Error; err != nil {
			return err
		}
		var keep []uint
		if err := tx.Model(&models.ActivityEntry{}).
			Order("id desc").
			Offset(models.ActivityLogLimit - 1).Limit(1).
			Pluck("id", &keep).Error; err != nil {
			return err
		}
		if len(keep) == 1 {
			if err := tx.Unscoped().
				Where("id < ?", keep[0]).
				Delete(&models.ActivityEntry{}).Error; err != nil {
				return err
			}
		}
		return nil
	})
}

// List — новые записи первыми; deviceID == "" — без фильтра.
func (s *ActivityStore) List(ctx context.Context, deviceID string, limit int) ([]models.ActivityEntry, error) {
	q := s.db.WithContext(ctx).Order("id desc")
	if deviceID != "" {
		q = q.Where("device_id = ?", deviceID)
	}
	if limit > 0 {
		q = q.Limit(limit)
	}
	var rows []models.ActivityEntry
	err := q.Find(&rows).Error
	return rows, err
}
