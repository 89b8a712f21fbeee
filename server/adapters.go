package server

import (
	"gorm.io/gorm"

	"otahub/internal/ota"
	"otahub/internal/repo"
)

// storeSet — реестры за интерфейсами движка: gorm при настроенной БД,
// in-memory без неё.
type storeSet struct {
	devices ota.DeviceStore
	groups  ota.GroupStore
	alog    ota.ActivityStore
}

func newStores(db *gorm.DB) storeSet {
	if db == nil {
		return storeSet{
			devices: ota.NewMemDeviceStore(),
			groups:  ota.NewMemGroupStore(),
			alog:    ota.NewMemActivityStore(),
		}
	}
	return storeSet{
		devices: repo.NewDeviceStore(db),
		groups:  repo.NewGroupStore(db),
		alog:    repo.NewActivityStore(db),
	}
}
