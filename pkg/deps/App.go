package deps

import (
	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"

	"github.com/Alwanly/service-source-ingest/internal/store"
	"github.com/Alwanly/service-source-ingest/pkg/logger"
	"github.com/Alwanly/service-source-ingest/pkg/middleware"
	"github.com/Alwanly/service-source-ingest/pkg/pubsub"
)

// RunningPollers is the read-only view of the live poller set.
type RunningPollers interface {
	Running() []string
}

type App struct {
	Fiber      *fiber.App
	Logger     *logger.CanonicalLogger
	Database   *gorm.DB
	Store      *store.Store
	Middleware *middleware.AuthMiddleware
	Pollers    RunningPollers
	// Pub is nil when Redis is not configured; Wake is used instead.
	Pub  pubsub.Publisher
	Wake func()
}
