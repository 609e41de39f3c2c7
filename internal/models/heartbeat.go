package models

import "time"

// HeartbeatID is the primary key of the single liveness row.
const HeartbeatID = 1

// Heartbeat records the time of the last reconciliation tick.
type Heartbeat struct {
	ID         int64     `gorm:"primaryKey;column:id"`
	LastTickAt time.Time `gorm:"column:last_tick_at"`
	UpdatedAt  time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

func (Heartbeat) TableName() string {
	return "heartbeats"
}
