package dto

import "time"

// CreateSourceRequest registers a new source to poll.
type CreateSourceRequest struct {
	Name            string            `json:"name" validate:"required,source_name,max=128"`
	Endpoint        string            `json:"endpoint" validate:"required,url"`
	Enabled         *bool             `json:"enabled"`
	Headers         map[string]string `json:"headers"`
	APIKeyHeader    string            `json:"api_key_header" validate:"omitempty,max=128"`
	APIKey          string            `json:"api_key"`
	Proxy           string            `json:"proxy" validate:"omitempty,proxy"`
	IntervalMinutes int               `json:"interval_minutes" validate:"omitempty,min=1,max=10080"`
	TimeoutSeconds  int               `json:"timeout_seconds" validate:"omitempty,min=1,max=3600"`
	OutputDir       string            `json:"output_dir" validate:"omitempty,max=512"`
}

// UpdateSourceRequest changes the fields that are set. Applying it requests a
// restart of the source.
type UpdateSourceRequest struct {
	Endpoint        *string            `json:"endpoint" validate:"omitempty,url"`
	Headers         *map[string]string `json:"headers"`
	APIKeyHeader    *string            `json:"api_key_header" validate:"omitempty,max=128"`
	APIKey          *string            `json:"api_key"`
	Proxy           *string            `json:"proxy" validate:"omitempty,proxy"`
	IntervalMinutes *int               `json:"interval_minutes" validate:"omitempty,min=1,max=10080"`
	TimeoutSeconds  *int               `json:"timeout_seconds" validate:"omitempty,min=0,max=3600"`
	OutputDir       *string            `json:"output_dir" validate:"omitempty,max=512"`
}

type SetEnabledRequest struct {
	Enabled *bool `json:"enabled" validate:"required"`
}

// SourceResponse never includes the API key itself.
type SourceResponse struct {
	ID               int64             `json:"id"`
	Name             string            `json:"name"`
	Enabled          bool              `json:"enabled"`
	RestartRequested bool              `json:"restart_requested"`
	Running          bool              `json:"running"`
	Endpoint         string            `json:"endpoint"`
	Headers          map[string]string `json:"headers,omitempty"`
	APIKeyHeader     string            `json:"api_key_header,omitempty"`
	APIKeySet        bool              `json:"api_key_set"`
	Proxy            string            `json:"proxy,omitempty"`
	IntervalMinutes  int               `json:"interval_minutes"`
	TimeoutSeconds   int               `json:"timeout_seconds,omitempty"`
	OutputDir        string            `json:"output_dir,omitempty"`
	LastProcessedAt  *time.Time        `json:"last_processed_at"`
	CreatedAt        time.Time         `json:"created_at"`
	UpdatedAt        time.Time         `json:"updated_at"`
}

type ListSourcesResponse struct {
	Sources []SourceResponse `json:"sources"`
	Total   int              `json:"total"`
}
