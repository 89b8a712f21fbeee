package ota

import (
	"context"

	"otahub/internal/models"
)

// Контракты хранилищ — минимум, который нужен движку и админке.
// Реализации: internal/repo (gorm) и in-memory (store_memory.go, режим без БД).
//
// Сериализацию read-modify-write по ключу (device/group) обеспечивает движок,
// хранилища её не гарантируют.

type DeviceStore interface {
	// Find возвращает (nil, nil), если устройство неизвестно.
	Find(ctx context.Context, deviceID string) (*models.Device, error)
	Create(ctx context.Context, d *models.Device) error
	Save(ctx context.Context, d *models.Device) error
	List(ctx context.Context) ([]models.Device, error)
	// DetachGroup отвязывает все устройства группы (group_id → nil).
	DetachGroup(ctx context.Context, groupID string) error
}

type GroupStore interface {
	// Find возвращает (nil, nil), если группы нет.
	Find(ctx context.Context, groupID string) (*models.Group, error)
	FindByName(ctx context.Context, name string) (*models.Group, error)
	Create(ctx context.Context, g *models.Group) error
	List(ctx context.Context) ([]models.Group, error)
	Delete(ctx context.Context, groupID string) error
	Save(ctx context.Context, g *models.Group) error
}

type ActivityStore interface {
	// Append добавляет запись и срезает журнал до models.ActivityLogLimit
	// атомарно относительно других Append.
	Append(ctx context.Context, e models.ActivityEntry) error
	// List — новые записи первыми; deviceID == "" — без фильтра.
	List(ctx context.Context, deviceID string, limit int) ([]models.ActivityEntry, error)
}
