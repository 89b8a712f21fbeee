package models

import "time"

// Group — административная корзина устройств: один API-ключ, одна прошивка.
// Удаление окончательное (без soft delete): имя сразу освобождается для
// повторного создания, аудиторский след остаётся в журнале активности.
type Group struct {
	ID        uint      `gorm:"primaryKey" json:"-"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"-"`

	GroupID     string `gorm:"uniqueIndex;size:64;not null" json:"id"` // серверный uuid
	Name        string `gorm:"uniqueIndex;size:255;not null" json:"name"`
	Description string `gorm:"size:1024" json:"description"`
	APIKey      string `gorm:"size:64;not null" json:"apiKey"`

	// Метаданные текущей прошивки (сами байты лежат в artifact store).
	FirmwareVersion    *string    `json:"firmwareVersion,omitempty"`
	FirmwareSize       *int64     `json:"firmwareSize,omitempty"`
	FirmwareUploadedAt *time.Time `json:"firmwareUploadedAt,omitempty"`
}

// HasFirmware — загружена ли для группы хоть одна прошивка.
func (g *Group) HasFirmware() bool { return g.FirmwareVersion != nil }
