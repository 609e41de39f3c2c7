package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/Alwanly/service-source-ingest/internal/models"
)

var (
	ErrNotFound  = errors.New("source not found")
	ErrDuplicate = errors.New("source already exists")
)

// Store is the gorm backed configuration store. It serves the orchestrator
// (LoadAll, ClearRestartFlag, UpdateLastProcessed, RecordNow, settings) and
// the admin API.
type Store struct {
	db  *gorm.DB
	now func() time.Time
}

func New(db *gorm.DB) *Store {
	return &Store{db: db, now: time.Now}
}

// LoadAll returns every source in insertion order.
func (s *Store) LoadAll(ctx context.Context) ([]models.Source, error) {
	var sources []models.Source
	if err := s.db.WithContext(ctx).Order("id ASC").Find(&sources).Error; err != nil {
		return nil, fmt.Errorf("failed to load sources: %w", err)
	}
	return sources, nil
}

// ClearRestartFlag clears the flag only if it was not asserted again since
// generation was loaded. It reports whether the flag was cleared.
func (s *Store) ClearRestartFlag(ctx context.Context, name string, generation int64) (bool, error) {
	result := s.db.WithContext(ctx).Model(&models.Source{}).
		Where("name = ? AND restart_generation = ?", name, generation).
		Update("restart_requested", false)
	if result.Error != nil {
		return false, fmt.Errorf("failed to clear restart flag of source %s: %w", name, result.Error)
	}
	return result.RowsAffected > 0, nil
}

func (s *Store) SetRestartFlag(ctx context.Context, name string, requested bool) error {
	if !requested {
		return s.updateColumn(ctx, name, "restart_requested", false)
	}
	return s.UpdateSource(ctx, name, map[string]interface{}{"restart_requested": true})
}

func (s *Store) SetEnabled(ctx context.Context, name string, enabled bool) error {
	return s.updateColumn(ctx, name, "enabled", enabled)
}

func (s *Store) UpdateLastProcessed(ctx context.Context, name string, at time.Time) error {
	return s.updateColumn(ctx, name, "last_processed_at", at.UTC())
}

func (s *Store) updateColumn(ctx context.Context, name, column string, value interface{}) error {
	result := s.db.WithContext(ctx).Model(&models.Source{}).
		Where("name = ?", name).
		Update(column, value)
	if result.Error != nil {
		return fmt.Errorf("failed to update %s of source %s: %w", column, name, result.Error)
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	return nil
}

// RecordNow upserts the liveness row.
func (s *Store) RecordNow(ctx context.Context) error {
	hb := models.Heartbeat{ID: models.HeartbeatID, LastTickAt: s.now().UTC()}
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{"last_tick_at", "updated_at"}),
	}).Create(&hb).Error
	if err != nil {
		return fmt.Errorf("failed to record heartbeat: %w", err)
	}
	return nil
}

// LastHeartbeat returns the last recorded tick, false when none was recorded.
func (s *Store) LastHeartbeat(ctx context.Context) (time.Time, bool, error) {
	var hb models.Heartbeat
	err := s.db.WithContext(ctx).Where("id = ?", models.HeartbeatID).First(&hb).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, fmt.Errorf("failed to read heartbeat: %w", err)
	}
	return hb.LastTickAt, true, nil
}

// GetSetting returns the value of key, false when it is not set.
func (s *Store) GetSetting(ctx context.Context, key string) (string, bool, error) {
	var setting models.Setting
	err := s.db.WithContext(ctx).Where("setting_key = ?", key).First(&setting).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("failed to read setting %s: %w", key, err)
	}
	return setting.Value, true, nil
}

func (s *Store) SetSetting(ctx context.Context, key, value string) error {
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "setting_key"}},
		DoUpdates: clause.AssignmentColumns([]string{"value", "updated_at"}),
	}).Create(&models.Setting{Key: key, Value: value}).Error
	if err != nil {
		return fmt.Errorf("failed to write setting %s: %w", key, err)
	}
	return nil
}

func (s *Store) ListSources(ctx context.Context) ([]models.Source, error) {
	return s.LoadAll(ctx)
}

func (s *Store) GetSource(ctx context.Context, name string) (*models.Source, error) {
	var src models.Source
	err := s.db.WithContext(ctx).Where("name = ?", name).First(&src).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get source %s: %w", name, err)
	}
	return &src, nil
}

func (s *Store) CreateSource(ctx context.Context, src *models.Source) error {
	var count int64
	if err := s.db.WithContext(ctx).Model(&models.Source{}).Where("name = ?", src.Name).Count(&count).Error; err != nil {
		return fmt.Errorf("failed to check source %s: %w", src.Name, err)
	}
	if count > 0 {
		return fmt.Errorf("%w: %s", ErrDuplicate, src.Name)
	}
	if err := s.db.WithContext(ctx).Create(src).Error; err != nil {
		return fmt.Errorf("failed to create source %s: %w", src.Name, err)
	}
	return nil
}

// UpdateSource applies column updates to one source. Keys are column names.
// Setting restart_requested to true also bumps restart_generation.
func (s *Store) UpdateSource(ctx context.Context, name string, fields map[string]interface{}) error {
	if len(fields) == 0 {
		return nil
	}
	updates := make(map[string]interface{}, len(fields)+1)
	for k, v := range fields {
		updates[k] = v
	}
	if requested, ok := updates["restart_requested"].(bool); ok && requested {
		updates["restart_generation"] = gorm.Expr("restart_generation + 1")
	}
	result := s.db.WithContext(ctx).Model(&models.Source{}).Where("name = ?", name).Updates(updates)
	if result.Error != nil {
		return fmt.Errorf("failed to update source %s: %w", name, result.Error)
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	return nil
}

func (s *Store) DeleteSource(ctx context.Context, name string) error {
	result := s.db.WithContext(ctx).Where("name = ?", name).Delete(&models.Source{})
	if result.Error != nil {
		return fmt.Errorf("failed to delete source %s: %w", name, result.Error)
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	return nil
}
