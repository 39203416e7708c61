package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/Luna-leo/seriesd/internal/api"
	"github.com/Luna-leo/seriesd/internal/bridge"
	"github.com/Luna-leo/seriesd/internal/config"
	"github.com/Luna-leo/seriesd/internal/engine"
	"github.com/Luna-leo/seriesd/internal/logger"
	"github.com/Luna-leo/seriesd/internal/persist"
	"github.com/Luna-leo/seriesd/internal/registry"
	"github.com/Luna-leo/seriesd/internal/shutdown"
	"github.com/Luna-leo/seriesd/internal/storage"
)

// Version is set at build time.
var Version = "dev"

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger.Setup(cfg.Log.Level, cfg.Log.Format)
	log.Info().Str("version", Version).Msg("Starting seriesd...")

	coordinator := shutdown.New(30*time.Second, logger.Get("shutdown"))

	// Storage backend
	backend, err := newBackend(cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize storage backend")
	}
	coordinator.Register("storage", backend, shutdown.PriorityStorage)
	log.Info().Str("backend", backend.Type()).Msg("Storage backend ready")

	// Persistence bridge, registry, query engine
	br := bridge.NewParquetBridge(backend, cfg.Persist.Compression, logger.Get("bridge"))
	reg := registry.New(
		int64(cfg.Cache.MaxSizeMB)<<20,
		cfg.Cache.WarnThresholds,
		logger.Get("registry"),
	)
	eng := engine.New(reg, br, logger.Get("engine"))

	// Auto-persist scheduler
	var scheduler *persist.Scheduler
	if cfg.Persist.Enabled {
		scheduler, err = persist.NewScheduler(&persist.SchedulerConfig{
			Registry: reg,
			Bridge:   br,
			Schedule: cfg.Persist.Schedule,
			MinAge:   time.Duration(cfg.Persist.MinAgeSeconds) * time.Second,
			Logger:   logger.Get("persist"),
		})
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to initialize persist scheduler")
		}
		if err := scheduler.Start(); err != nil {
			log.Fatal().Err(err).Msg("Failed to start persist scheduler")
		}
		coordinator.RegisterHook("persist-scheduler", func(ctx context.Context) error {
			scheduler.Stop()
			return nil
		}, shutdown.PriorityScheduler)
		// One last sweep so aged datasets survive the restart.
		coordinator.RegisterHook("final-persist-sweep", func(ctx context.Context) error {
			return scheduler.TriggerNow(ctx)
		}, shutdown.PriorityFinalSweep)
	}

	// HTTP server
	server := api.NewServer(&api.ServerConfig{
		Host:            cfg.Server.Host,
		Port:            cfg.Server.Port,
		ReadTimeout:     time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout:    time.Duration(cfg.Server.WriteTimeout) * time.Second,
		IdleTimeout:     120 * time.Second,
		BodyLimit:       cfg.Server.MaxPayloadSize,
		ShutdownTimeout: 30 * time.Second,
	}, logger.Get("api"))
	server.RegisterRoutes()

	app := server.GetApp()
	api.NewDatasetHandler(&api.DatasetHandlerConfig{
		Registry:        reg,
		Bridge:          br,
		DefaultEncoding: cfg.Import.DefaultEncoding,
		TieBreak:        cfg.Import.TieBreak,
		Logger:          logger.Get("api"),
	}).RegisterRoutes(app)
	api.NewQueryHandler(eng, logger.Get("api")).RegisterRoutes(app)
	api.NewCacheHandler(reg, scheduler, logger.Get("api")).RegisterRoutes(app)

	if err := server.Start(); err != nil {
		log.Fatal().Err(err).Msg("Failed to start HTTP server")
	}
	coordinator.RegisterHook("http-server", func(ctx context.Context) error {
		return server.Shutdown(15 * time.Second)
	}, shutdown.PriorityHTTPServer)

	log.Info().
		Str("host", cfg.Server.Host).
		Int("port", cfg.Server.Port).
		Int("cache_mb", cfg.Cache.MaxSizeMB).
		Bool("auto_persist", cfg.Persist.Enabled).
		Msg("seriesd ready")

	coordinator.WaitForSignal()
	if err := coordinator.Shutdown(); err != nil {
		log.Error().Err(err).Msg("Shutdown finished with errors")
		os.Exit(1)
	}
}

// newBackend builds the configured storage backend.
func newBackend(cfg *config.Config) (storage.Backend, error) {
	switch cfg.Storage.Backend {
	case "s3":
		return storage.NewS3Backend(&storage.S3Config{
			Bucket:    cfg.Storage.S3Bucket,
			Region:    cfg.Storage.S3Region,
			Endpoint:  cfg.Storage.S3Endpoint,
			AccessKey: cfg.Storage.S3AccessKey,
			SecretKey: cfg.Storage.S3SecretKey,
			UseSSL:    cfg.Storage.S3UseSSL,
			PathStyle: cfg.Storage.S3PathStyle,
		}, logger.Get("storage"))
	default:
		return storage.NewLocalBackend(cfg.Storage.LocalPath, logger.Get("storage"))
	}
}
