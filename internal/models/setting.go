package models

import "time"

const (
	// SettingFetchTimeoutSeconds overrides the default fetch timeout for every
	// poller started after it changes.
	SettingFetchTimeoutSeconds = "fetch_timeout_seconds"
)

type Setting struct {
	Key       string    `gorm:"primaryKey;column:setting_key"`
	Value     string    `gorm:"column:value"`
	UpdatedAt time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

func (Setting) TableName() string {
	return "settings"
}
