package usecase

import (
	"context"
	"time"

	"github.com/Alwanly/service-source-ingest/internal/models"
	"github.com/Alwanly/service-source-ingest/internal/server/admin/dto"
	"github.com/Alwanly/service-source-ingest/pkg/wrapper"
)

// Repository is the store surface the admin API needs. *store.Store
// implements it.
type Repository interface {
	ListSources(ctx context.Context) ([]models.Source, error)
	GetSource(ctx context.Context, name string) (*models.Source, error)
	CreateSource(ctx context.Context, src *models.Source) error
	UpdateSource(ctx context.Context, name string, fields map[string]interface{}) error
	DeleteSource(ctx context.Context, name string) error
	SetEnabled(ctx context.Context, name string, enabled bool) error
	SetRestartFlag(ctx context.Context, name string, requested bool) error
	GetSetting(ctx context.Context, key string) (string, bool, error)
	SetSetting(ctx context.Context, key, value string) error
	LastHeartbeat(ctx context.Context) (time.Time, bool, error)
}

type UseCaseInterface interface {
	Health(ctx context.Context) wrapper.JSONResult
	ListSources(ctx context.Context) wrapper.JSONResult
	GetSource(ctx context.Context, name string) wrapper.JSONResult
	CreateSource(ctx context.Context, req *dto.CreateSourceRequest) wrapper.JSONResult
	UpdateSource(ctx context.Context, name string, req *dto.UpdateSourceRequest) wrapper.JSONResult
	SetEnabled(ctx context.Context, name string, enabled bool) wrapper.JSONResult
	RequestRestart(ctx context.Context, name string) wrapper.JSONResult
	DeleteSource(ctx context.Context, name string) wrapper.JSONResult
	GetSetting(ctx context.Context, key string) wrapper.JSONResult
	SetSetting(ctx context.Context, key, value string) wrapper.JSONResult
}
