package dto

import "time"

type HealthResponse struct {
	Status        string     `json:"status"`
	Running       []string   `json:"running"`
	LastHeartbeat *time.Time `json:"last_heartbeat,omitempty"`
	Timestamp     string     `json:"timestamp"`
}
