package models

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/Alwanly/service-source-ingest/pkg/poll"
)

// Source is one configured HTTP endpoint to poll.
type Source struct {
	ID                int64      `gorm:"primaryKey;autoIncrement;column:id"`
	Name              string     `gorm:"column:name;uniqueIndex;not null"`
	Enabled           bool       `gorm:"column:enabled"`
	RestartRequested  bool       `gorm:"column:restart_requested"`
	// RestartGeneration is bumped every time the restart flag is asserted.
	RestartGeneration int64      `gorm:"column:restart_generation;not null;default:0"`
	Endpoint          string     `gorm:"column:endpoint"`
	Headers           string     `gorm:"column:headers"`
	APIKeyHeader      string     `gorm:"column:api_key_header"`
	APIKey            string     `gorm:"column:api_key"`
	Proxy             string     `gorm:"column:proxy"`
	IntervalMinutes   int        `gorm:"column:interval_minutes"`
	TimeoutSeconds    int        `gorm:"column:timeout_seconds"`
	OutputDir         string     `gorm:"column:output_dir"`
	LastProcessedAt   *time.Time `gorm:"column:last_processed_at"`
	CreatedAt         time.Time  `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt         time.Time  `gorm:"column:updated_at;autoUpdateTime"`
}

func (Source) TableName() string {
	return "sources"
}

// Interval returns the polling interval, never less than one minute.
func (s Source) Interval() time.Duration {
	if s.IntervalMinutes < 1 {
		return time.Minute
	}
	return time.Duration(s.IntervalMinutes) * time.Minute
}

// HeaderMap decodes the stored header blob and adds the static key header.
func (s Source) HeaderMap() (map[string]string, error) {
	headers := make(map[string]string)
	if raw := strings.TrimSpace(s.Headers); raw != "" {
		if err := json.Unmarshal([]byte(raw), &headers); err != nil {
			return nil, fmt.Errorf("failed to decode headers of source %s: %w", s.Name, err)
		}
	}
	if s.APIKey != "" {
		header := s.APIKeyHeader
		if header == "" {
			header = "X-API-Key"
		}
		headers[header] = s.APIKey
	}
	return headers, nil
}

// PollSource builds the snapshot a poller runs with. fallbackTimeout is used
// when the source has no timeout of its own.
func (s Source) PollSource(fallbackTimeout time.Duration) (poll.Source, error) {
	headers, err := s.HeaderMap()
	if err != nil {
		return poll.Source{}, fmt.Errorf("%w: %v", poll.ErrInvalidConfig, err)
	}

	timeout := fallbackTimeout
	if s.TimeoutSeconds > 0 {
		timeout = time.Duration(s.TimeoutSeconds) * time.Second
	}

	return poll.Source{
		ID:        s.ID,
		Name:      s.Name,
		Endpoint:  strings.TrimSpace(s.Endpoint),
		Headers:   headers,
		Proxy:     s.Proxy,
		Interval:  s.Interval(),
		Timeout:   timeout,
		OutputDir: s.OutputDir,
	}, nil
}
