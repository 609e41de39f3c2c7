package database

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/Alwanly/service-source-ingest/internal/models"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
)

// NewSQLiteDB opens the database at path. Pollers write progress
// concurrently, so the file is opened in WAL mode with a busy timeout.
func NewSQLiteDB(path string) (*gorm.DB, error) {
	dsn := ":memory:"
	if path != "" && path != ":memory:" {
		if dir := filepath.Dir(path); dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("failed to create database directory: %w", err)
			}
		}
		sep := "?"
		if strings.Contains(path, "?") {
			sep = "&"
		}
		dsn = path + sep + "_busy_timeout=5000&_journal_mode=WAL"
	}

	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	return db, nil
}

func RunMigrations(db *gorm.DB) error {
	tables := []interface{}{
		&models.Source{},
		&models.Heartbeat{},
		&models.Setting{},
	}
	if err := db.AutoMigrate(tables...); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}
	return nil
}

// SeedDefaultSettings inserts settings that are missing; existing values are kept.
func SeedDefaultSettings(db *gorm.DB, defaults map[string]string) error {
	for key, value := range defaults {
		err := db.Clauses(clause.OnConflict{DoNothing: true}).
			Create(&models.Setting{Key: key, Value: value}).Error
		if err != nil {
			return fmt.Errorf("failed to seed setting %s: %w", key, err)
		}
	}
	return nil
}

func Close(db *gorm.DB) error {
	conn, err := db.DB()
	if err != nil {
		return fmt.Errorf("failed to get database connection: %w", err)
	}
	return conn.Close()
}
