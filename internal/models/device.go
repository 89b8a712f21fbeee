package models

import (
	"time"

	"gorm.io/gorm"
)

// Device — запись об устройстве. Идентификатор придумывает само устройство
// (сервер его не выдаёт), сервер только регистрирует первое появление.
type Device struct {
	ID        uint           `gorm:"primaryKey" json:"-"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"-"`

	DeviceID string  `gorm:"uniqueIndex;size:128;not null" json:"id"`
	GroupID  *string `gorm:"index;size:64" json:"groupId"` // nil до одобрения / после отвязки

	Approved   bool       `json:"approved"`
	ApprovedAt *time.Time `json:"approvedAt,omitempty"`

	Blacklisted     bool       `json:"blacklisted"`
	BlacklistReason *string    `json:"blacklistReason,omitempty"`
	BlacklistUntil  *time.Time `json:"blacklistUntil,omitempty"` // nil = бессрочно

	FirstSeen       time.Time `json:"firstSeen"`
	LastSeen        time.Time `json:"lastSeen"`
	ConnectionCount int64     `json:"connectionCount"`

	// Ключ, который устройство предъявило при первом появлении.
	// Хранится только для аудита, в решениях не участвует.
	ProvidedAPIKey string `gorm:"size:255" json:"providedApiKey,omitempty"`
}

// BlacklistExpired — бан с истёкшим сроком (nil BlacklistUntil = бессрочный).
func (d *Device) BlacklistExpired(now time.Time) bool {
	return d.Blacklisted && d.BlacklistUntil != nil && now.After(*d.BlacklistUntil)
}
