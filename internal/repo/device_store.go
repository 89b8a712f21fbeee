package repo

import (
	"context"
	"errors"

	"gorm.io/gorm"

	"otahub/internal/models"
)

// DeviceStore — реестр устройств поверх gorm (реализует ota.DeviceStore).
type DeviceStore struct{ db *gorm.DB }

func NewDeviceStore(db *gorm.DB) *DeviceStore { return &DeviceStore{db: db} }

// Find возвращает (nil, nil), если устройства нет.
func (s *DeviceStore) Find(ctx context.Context, deviceID string) (*models.Device, error) {
	var d models.Device
	err := s.db.WithContext(ctx).Where(&models.Device{DeviceID: deviceID}).First(&d).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &d, nil
}

func (s *DeviceStore) Create(ctx context.Context, d *models.Device) error {
	return s.db.WithContext(ctx).Create(d).Error
}

func (s *DeviceStore) Save(ctx context.Context, d *models.Device) error {
	return s.db.WithContext(ctx).Save(d).Error
}

func (s *DeviceStore) List(ctx context.Context) ([]models.Device, error) {
	var rows []models.Device
	err := s.db.WithContext(ctx).Order("last_seen desc").Find(&rows).Error
	return rows, err
}

// DetachGroup отвязывает устройства удалённой группы. Сами устройства
// не удаляются — только ссылка на группу.
func (s *DeviceStore) DetachGroup(ctx context.Context, groupID string) error {
	return s.db.WithContext(ctx).Model(&models.Device{}).
		Where("group_id = ?", groupID).
		Update("group_id", nil).Error
}
