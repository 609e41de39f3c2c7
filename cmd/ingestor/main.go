package main

import (
	"context"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/fiber/v2/middleware/requestid"

	"github.com/Alwanly/service-source-ingest/internal/config"
	"github.com/Alwanly/service-source-ingest/internal/models"
	"github.com/Alwanly/service-source-ingest/internal/orchestrator"
	"github.com/Alwanly/service-source-ingest/internal/server/admin/handler"
	"github.com/Alwanly/service-source-ingest/internal/store"
	authentication "github.com/Alwanly/service-source-ingest/pkg/auth"
	"github.com/Alwanly/service-source-ingest/pkg/database"
	"github.com/Alwanly/service-source-ingest/pkg/deps"
	"github.com/Alwanly/service-source-ingest/pkg/fetch"
	"github.com/Alwanly/service-source-ingest/pkg/logger"
	"github.com/Alwanly/service-source-ingest/pkg/middleware"
	"github.com/Alwanly/service-source-ingest/pkg/poll"
	"github.com/Alwanly/service-source-ingest/pkg/pubsub"
	"github.com/Alwanly/service-source-ingest/pkg/retry"
	"github.com/Alwanly/service-source-ingest/pkg/sink"
)

func main() {
	log, err := logger.NewLoggerFromEnv("ingestor")
	if err != nil {
		panic(err)
	}
	defer log.Sync()

	log.Info("starting ingestor service")

	cfg, err := config.LoadIngestorConfig()
	if err != nil {
		log.WithError(err).Fatal("failed to load configuration")
	}

	log.Info("configuration loaded",
		logger.String("server_addr", cfg.ServerAddr),
		logger.String("database_path", cfg.DatabasePath),
		logger.String("output_dir", cfg.OutputDir),
		logger.Duration("reconcile_interval", cfg.ReconcileInterval),
		logger.Duration("fetch_timeout", cfg.FetchTimeout),
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	db, err := openDatabase(ctx, cfg, log)
	if err != nil {
		log.WithError(err).Fatal("failed to initialize database")
	}
	log.Info("database ready", logger.String("path", cfg.DatabasePath))

	st := store.New(db)

	fetcher := fetch.NewClient(cfg.FetchTimeout, log)
	defer fetcher.Close()
	fileSink := sink.NewFileSink(cfg.OutputDir, log)

	newPoller := func(name string) orchestrator.Poller {
		return poll.New(name, fetcher, fileSink, st, log)
	}

	orch := orchestrator.New(orchestrator.Config{
		Interval:     cfg.ReconcileInterval,
		FetchTimeout: cfg.FetchTimeout,
	}, st, newPoller, log,
		orchestrator.WithHeartbeat(st),
		orchestrator.WithSettings(st),
		orchestrator.WithStartErrorHandler(func(sourceID int64, err error) {
			log.WithError(err).Warn("source will be retried on the next tick", logger.Int64(logger.FieldSourceID, sourceID))
		}),
	)

	app := fiber.New(fiber.Config{
		AppName:               "Ingestor Service",
		DisableStartupMessage: true,
		ErrorHandler:          middleware.ErrorHandler(log),
	})

	app.Use(recover.New())
	app.Use(requestid.New())
	app.Use(middleware.CanonicalLoggerMiddleware(log))

	mid := middleware.NewAuthMiddleware(middleware.SetBasicAuth(&authentication.BasicAuthTConfig{
		AdminUsername: cfg.AdminUsername,
		AdminPassword: cfg.AdminPassword,
	}))

	d := deps.App{
		Fiber:      app,
		Logger:     log,
		Database:   db,
		Store:      st,
		Middleware: mid,
		Pollers:    orch,
		Wake:       orch.Trigger,
	}

	var redisPS pubsub.PubSub
	if cfg.Redis != nil {
		redisPS, err = pubsub.NewRedisPubSub(ctx, *cfg.Redis, log)
		if err != nil {
			log.WithError(err).Error("failed to initialize redis pub/sub, continuing in poll-only mode",
				logger.String("mode", "poll-only"))
			redisPS = nil
		} else {
			d.Pub = redisPS
			defer redisPS.Close()
			log.Info("redis pub/sub initialized",
				logger.String("addr", cfg.Redis.Addr()),
				logger.String("mode", "hybrid_push_pull"))
		}
	} else {
		log.Info("no redis configuration provided, changes are picked up on the next tick")
	}

	handler.NewHandler(d, handler.Options{StaleAfter: 3 * cfg.ReconcileInterval})

	gErr, gCtx := errgroup.WithContext(ctx)
	orchDone := make(chan struct{})

	gErr.Go(func() error {
		defer close(orchDone)
		return orch.Run(gCtx)
	})

	if redisPS != nil {
		gErr.Go(func() error {
			err := pubsub.ListenRestarts(gCtx, redisPS, func(n pubsub.RestartNotice) {
				orch.Trigger()
			}, log)
			if err != nil {
				// polling still converges without push notifications
				log.WithError(err).Error("restart listener stopped")
			}
			return nil
		})
	}

	gErr.Go(func() error {
		log.Info("ingestor service is running", logger.String("address", cfg.ServerAddr))
		if err := app.Listen(cfg.ServerAddr); err != nil {
			cancel()
			return err
		}
		return nil
	})

	gErr.Go(func() error {
		<-gCtx.Done()

		if err := app.ShutdownWithTimeout(10 * time.Second); err != nil {
			log.WithError(err).Error("failed to shutdown fiber app")
		}

		// pollers write progress until the orchestrator has stopped them
		<-orchDone

		if err := database.Close(db); err != nil {
			log.WithError(err).Error("failed to close database")
			return err
		}
		return nil
	})

	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
		log.Info("listening for shutdown signals")
		<-sigChan
		log.Info("shutdown signal received")
		cancel()
	}()

	if err := gErr.Wait(); err != nil {
		log.WithError(err).Fatal("ingestor service encountered an error")
	}

	log.Info("ingestor service stopped gracefully")
}

// openDatabase opens, migrates and seeds the store, retrying while the file
// is locked or the volume is not mounted yet. Migration errors are permanent.
func openDatabase(ctx context.Context, cfg *config.IngestorConfig, log *logger.CanonicalLogger) (*gorm.DB, error) {
	retryCfg := retry.Config{
		MaxRetries:     cfg.StartupMaxRetries,
		InitialBackoff: cfg.StartupInitialBackoff,
		MaxBackoff:     cfg.StartupMaxBackoff,
		Jitter:         true,
		OnRetry: func(attempt int, err error, wait time.Duration) {
			log.WithError(err).Warn("database not ready, retrying",
				logger.Int("attempt", attempt),
				logger.Duration("backoff", wait),
			)
		},
	}

	return retry.Do(ctx, retryCfg, func(ctx context.Context) (*gorm.DB, error) {
		db, err := database.NewSQLiteDB(cfg.DatabasePath)
		if err != nil {
			return nil, err
		}
		if err := db.WithContext(ctx).Exec("SELECT 1").Error; err != nil {
			_ = database.Close(db)
			return nil, err
		}
		if err := database.RunMigrations(db); err != nil {
			_ = database.Close(db)
			return nil, retry.Permanent(err)
		}
		defaults := map[string]string{
			models.SettingFetchTimeoutSeconds: strconv.Itoa(int(cfg.FetchTimeout / time.Second)),
		}
		if err := database.SeedDefaultSettings(db, defaults); err != nil {
			_ = database.Close(db)
			return nil, retry.Permanent(err)
		}
		return db, nil
	})
}
