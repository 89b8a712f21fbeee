package models

import (
	"encoding/json"
	"time"

	"gorm.io/datatypes"
)

// Действия журнала активности устройств.
const (
	ActionConnectionAttempt = "connection_attempt"
	ActionFirmwareCheck     = "firmware_check"
	ActionDownloadStart     = "download_start"
	ActionDownloadProgress  = "download_progress"
	ActionDownloadComplete  = "download_complete"
	ActionApproved          = "approved"
	ActionBlacklisted       = "blacklisted"
	ActionUnblacklisted     = "unblacklisted"
)

// Журнал ограничен последними 1000 записями (FIFO по порядку вставки).
const ActivityLogLimit = 1000

// ActivityEntry — неизменяемая запись журнала активности.
type ActivityEntry struct {
	ID        uint           `gorm:"primaryKey" json:"-"`
	DeviceID  string         `gorm:"index;size:128;not null" json:"deviceId"`
	Action    string         `gorm:"size:32;not null" json:"action"`
	Timestamp time.Time      `gorm:"index" json:"timestamp"`
	Details   datatypes.JSON `json:"details,omitempty"`
}

// NewActivity — конструктор записи; details сериализуется best-effort
// (ошибка сериализации не должна ронять основную операцию).
func NewActivity(deviceID, action string, details map[string]any) ActivityEntry {
	e := ActivityEntry{
		DeviceID:  deviceID,
		Action:    action,
		Timestamp: time.Now().UTC(),
	}
	if len(details) > 0 {
		if b, err := json.Marshal(details); err == nil {
			e.Details = datatypes.JSON(b)
		}
	}
	return e
}
