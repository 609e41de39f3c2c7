package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/Alwanly/service-source-ingest/internal/models"
	"github.com/Alwanly/service-source-ingest/internal/server/admin/dto"
	"github.com/Alwanly/service-source-ingest/internal/store"
	"github.com/Alwanly/service-source-ingest/pkg/logger"
	"github.com/Alwanly/service-source-ingest/pkg/pubsub"
	"github.com/Alwanly/service-source-ingest/pkg/wrapper"
)

const defaultIntervalMinutes = 1

type UseCase struct {
	Repo   Repository
	Logger *logger.CanonicalLogger
	// Running lists live pollers; may be nil.
	Running func() []string
	// Pub announces changes; when nil, Wake is called instead.
	Pub  pubsub.Publisher
	Wake func()
	// StaleAfter marks the heartbeat as stale in Health. Zero disables the check.
	StaleAfter time.Duration
	Now        func() time.Time
}

func NewUseCase(uc UseCase) *UseCase {
	if uc.Logger == nil {
		uc.Logger = logger.NewNop()
	}
	if uc.Now == nil {
		uc.Now = time.Now
	}
	uc.Logger = uc.Logger.Component("admin")
	return &uc
}

func (uc *UseCase) Health(ctx context.Context) wrapper.JSONResult {
	res := dto.HealthResponse{
		Status:    "ok",
		Running:   uc.running(),
		Timestamp: uc.Now().UTC().Format(time.RFC3339),
	}

	last, ok, err := uc.Repo.LastHeartbeat(ctx)
	if err != nil {
		logger.AddToContext(ctx, logger.Error(err))
		res.Status = "unavailable"
		return wrapper.ResponseFailed(http.StatusServiceUnavailable, "heartbeat unavailable", res)
	}
	if !ok {
		res.Status = "starting"
		return wrapper.ResponseSuccess(http.StatusOK, res)
	}

	res.LastHeartbeat = &last
	if uc.StaleAfter > 0 && uc.Now().Sub(last) > uc.StaleAfter {
		res.Status = "stale"
		return wrapper.ResponseFailed(http.StatusServiceUnavailable, "reconciliation loop is stale", res)
	}
	return wrapper.ResponseSuccess(http.StatusOK, res)
}

func (uc *UseCase) ListSources(ctx context.Context) wrapper.JSONResult {
	sources, err := uc.Repo.ListSources(ctx)
	if err != nil {
		return uc.failure(ctx, err)
	}

	running := uc.runningSet()
	out := make([]dto.SourceResponse, 0, len(sources))
	for _, src := range sources {
		out = append(out, toResponse(src, running[src.Name]))
	}
	return wrapper.ResponseSuccess(http.StatusOK, dto.ListSourcesResponse{Sources: out, Total: len(out)})
}

func (uc *UseCase) GetSource(ctx context.Context, name string) wrapper.JSONResult {
	src, err := uc.Repo.GetSource(ctx, name)
	if err != nil {
		return uc.failure(ctx, err)
	}
	return wrapper.ResponseSuccess(http.StatusOK, toResponse(*src, uc.runningSet()[name]))
}

func (uc *UseCase) CreateSource(ctx context.Context, req *dto.CreateSourceRequest) wrapper.JSONResult {
	headers, err := encodeHeaders(req.Headers)
	if err != nil {
		return wrapper.ResponseFailed(http.StatusBadRequest, "invalid headers", nil)
	}

	src := &models.Source{
		Name:            req.Name,
		Enabled:         req.Enabled == nil || *req.Enabled,
		Endpoint:        req.Endpoint,
		Headers:         headers,
		APIKeyHeader:    req.APIKeyHeader,
		APIKey:          req.APIKey,
		Proxy:           req.Proxy,
		IntervalMinutes: req.IntervalMinutes,
		TimeoutSeconds:  req.TimeoutSeconds,
		OutputDir:       req.OutputDir,
	}
	if src.IntervalMinutes == 0 {
		src.IntervalMinutes = defaultIntervalMinutes
	}

	if err := uc.Repo.CreateSource(ctx, src); err != nil {
		return uc.failure(ctx, err)
	}

	logger.AddToContext(ctx, logger.String(logger.FieldSource, src.Name))
	if src.Enabled {
		uc.notify(ctx, src.Name, pubsub.ReasonEnabled)
	}
	return wrapper.ResponseSuccess(http.StatusCreated, toResponse(*src, false))
}

func (uc *UseCase) UpdateSource(ctx context.Context, name string, req *dto.UpdateSourceRequest) wrapper.JSONResult {
	fields := map[string]interface{}{}
	if req.Endpoint != nil {
		fields["endpoint"] = *req.Endpoint
	}
	if req.Headers != nil {
		headers, err := encodeHeaders(*req.Headers)
		if err != nil {
			return wrapper.ResponseFailed(http.StatusBadRequest, "invalid headers", nil)
		}
		fields["headers"] = headers
	}
	if req.APIKeyHeader != nil {
		fields["api_key_header"] = *req.APIKeyHeader
	}
	if req.APIKey != nil {
		fields["api_key"] = *req.APIKey
	}
	if req.Proxy != nil {
		fields["proxy"] = *req.Proxy
	}
	if req.IntervalMinutes != nil {
		fields["interval_minutes"] = *req.IntervalMinutes
	}
	if req.TimeoutSeconds != nil {
		fields["timeout_seconds"] = *req.TimeoutSeconds
	}
	if req.OutputDir != nil {
		fields["output_dir"] = *req.OutputDir
	}
	if len(fields) == 0 {
		return wrapper.ResponseFailed(http.StatusBadRequest, "nothing to update", nil)
	}
	fields["restart_requested"] = true

	if err := uc.Repo.UpdateSource(ctx, name, fields); err != nil {
		return uc.failure(ctx, err)
	}

	logger.AddToContext(ctx, logger.String(logger.FieldSource, name))
	uc.notify(ctx, name, pubsub.ReasonUpdate)
	return uc.GetSource(ctx, name)
}

func (uc *UseCase) SetEnabled(ctx context.Context, name string, enabled bool) wrapper.JSONResult {
	if err := uc.Repo.SetEnabled(ctx, name, enabled); err != nil {
		return uc.failure(ctx, err)
	}

	logger.AddToContext(ctx, logger.String(logger.FieldSource, name), logger.Bool("enabled", enabled))
	uc.notify(ctx, name, pubsub.ReasonEnabled)
	return uc.GetSource(ctx, name)
}

func (uc *UseCase) RequestRestart(ctx context.Context, name string) wrapper.JSONResult {
	if err := uc.Repo.SetRestartFlag(ctx, name, true); err != nil {
		return uc.failure(ctx, err)
	}

	logger.AddToContext(ctx, logger.String(logger.FieldSource, name))
	uc.notify(ctx, name, pubsub.ReasonRestart)
	return wrapper.ResponseSuccess(http.StatusAccepted, map[string]interface{}{"source": name, "restart_requested": true})
}

func (uc *UseCase) DeleteSource(ctx context.Context, name string) wrapper.JSONResult {
	if err := uc.Repo.DeleteSource(ctx, name); err != nil {
		return uc.failure(ctx, err)
	}

	logger.AddToContext(ctx, logger.String(logger.FieldSource, name))
	uc.notify(ctx, name, pubsub.ReasonDeleted)
	return wrapper.ResponseSuccess(http.StatusOK, map[string]interface{}{"source": name, "deleted": true})
}

func (uc *UseCase) GetSetting(ctx context.Context, key string) wrapper.JSONResult {
	value, ok, err := uc.Repo.GetSetting(ctx, key)
	if err != nil {
		return uc.failure(ctx, err)
	}
	if !ok {
		return wrapper.ResponseFailed(http.StatusNotFound, "setting not found", nil)
	}
	return wrapper.ResponseSuccess(http.StatusOK, dto.SettingResponse{Key: key, Value: value})
}

func (uc *UseCase) SetSetting(ctx context.Context, key, value string) wrapper.JSONResult {
	if key == models.SettingFetchTimeoutSeconds {
		if n, err := strconv.Atoi(value); err != nil || n <= 0 {
			return wrapper.ResponseInvalid(http.StatusBadRequest, map[string]string{"Value": "positive_integer"})
		}
	}

	if err := uc.Repo.SetSetting(ctx, key, value); err != nil {
		return uc.failure(ctx, err)
	}

	logger.AddToContext(ctx, logger.String("setting", key))
	return wrapper.ResponseSuccess(http.StatusOK, dto.SettingResponse{Key: key, Value: value})
}

// notify wakes the reconciliation loop. Failures only delay the change until
// the next regular tick.
func (uc *UseCase) notify(ctx context.Context, name, reason string) {
	if uc.Pub != nil {
		if err := pubsub.PublishRestart(ctx, uc.Pub, name, reason, uc.Now()); err != nil {
			uc.Logger.WithSource(name).WithError(err).Warn("failed to publish change notice")
		}
		return
	}
	if uc.Wake != nil {
		uc.Wake()
	}
}

func (uc *UseCase) failure(ctx context.Context, err error) wrapper.JSONResult {
	switch {
	case errors.Is(err, store.ErrNotFound):
		return wrapper.ResponseFailed(http.StatusNotFound, "source not found", nil)
	case errors.Is(err, store.ErrDuplicate):
		return wrapper.ResponseFailed(http.StatusConflict, "source already exists", nil)
	}
	logger.AddToContext(ctx, logger.Error(err))
	uc.Logger.WithError(err).Error("admin operation failed")
	return wrapper.ResponseFailed(http.StatusInternalServerError, "Internal server error", nil)
}

func (uc *UseCase) running() []string {
	if uc.Running == nil {
		return []string{}
	}
	names := uc.Running()
	if names == nil {
		return []string{}
	}
	return names
}

func (uc *UseCase) runningSet() map[string]bool {
	set := make(map[string]bool)
	for _, name := range uc.running() {
		set[name] = true
	}
	return set
}

func encodeHeaders(headers map[string]string) (string, error) {
	if len(headers) == 0 {
		return "", nil
	}
	b, err := json.Marshal(headers)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func toResponse(src models.Source, running bool) dto.SourceResponse {
	var headers map[string]string
	if src.Headers != "" {
		// stored headers were validated on write
		_ = json.Unmarshal([]byte(src.Headers), &headers)
	}
	return dto.SourceResponse{
		ID:               src.ID,
		Name:             src.Name,
		Enabled:          src.Enabled,
		RestartRequested: src.RestartRequested,
		Running:          running,
		Endpoint:         src.Endpoint,
		Headers:          headers,
		APIKeyHeader:     src.APIKeyHeader,
		APIKeySet:        src.APIKey != "",
		Proxy:            src.Proxy,
		IntervalMinutes:  src.IntervalMinutes,
		TimeoutSeconds:   src.TimeoutSeconds,
		OutputDir:        src.OutputDir,
		LastProcessedAt:  src.LastProcessedAt,
		CreatedAt:        src.CreatedAt,
		UpdatedAt:        src.UpdatedAt,
	}
}
