package orchestrator

import (
	"context"

	"github.com/Alwanly/service-source-ingest/internal/models"
	"github.com/Alwanly/service-source-ingest/pkg/poll"
)

// ConfigStore is the part of the configuration store the reconciliation loop
// reads and writes.
type ConfigStore interface {
	LoadAll(ctx context.Context) ([]models.Source, error)
	// ClearRestartFlag clears the restart flag only if its generation still
	// matches the loaded one, and reports whether it did.
	ClearRestartFlag(ctx context.Context, name string, generation int64) (bool, error)
}

type HeartbeatRecorder interface {
	RecordNow(ctx context.Context) error
}

// SettingsReader gives access to global key/value settings.
type SettingsReader interface {
	GetSetting(ctx context.Context, key string) (string, bool, error)
}

// Poller is the lifecycle surface of one source poller. *poll.Poller
// implements it.
type Poller interface {
	Start(src poll.Source, onError poll.ErrorHandler)
	Stop()
	Close()
	Running() bool
	Name() string
}

// PollerFactory builds a fresh, stopped Poller for the named source.
type PollerFactory func(name string) Poller
