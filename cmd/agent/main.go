package main

import (
	"context"
	"io"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"masterok/internal/api"
	"masterok/internal/config"
	"masterok/internal/connectivity"
	"masterok/internal/database"
	"masterok/internal/domain"
	"masterok/internal/logging"
	"masterok/internal/metrics"
	"masterok/internal/queue"
	"masterok/internal/remote"
	"masterok/internal/repository"
	"masterok/internal/service"
	"masterok/internal/syncer"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

func main() {
	if err := run(); err != nil {
		log.Fatalf("Fatal error: %v", err)
	}
}

func run() error {
	cfg, logger, closer, err := loadConfigAndLogger()
	if err != nil {
		return err
	}
	if closer != nil {
		defer (func(c io.Closer) { _ = c.Close() })(closer)
	}

	if cfg.Monitoring.PrometheusEnabled {
		metrics.Register()
	}

	db, err := database.NewDB(cfg.Database.Path, &logger)
	if err != nil {
		logger.Error().Err(err).Msg("Failed to open offline store")
		return err
	}
	defer db.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	redisClient, catalogCache := initCatalogCache(ctx, cfg, &logger)
	if redisClient != nil {
		defer func() { _ = repository.Close(redisClient) }()
	}

	q := queue.New(db, cfg.Sync.MaxRetries, &logger)
	if redisClient != nil {
		q.SetDeadLetterSink(repository.NewRedisDeadLetterSink(redisClient))
	}
	client := remote.NewClient(cfg.Remote, &logger)
	engine := syncer.NewEngine(q, db, client, &logger)

	offlineService := service.NewOfflineService(db, q, catalogCache, &logger)
	catalogService := service.NewCatalogService(db, client, catalogCache, &logger)

	monitor := connectivity.NewMonitor(engine, cfg.Sync.Debounce(), &logger)
	defer monitor.Stop()
	monitor.OnOnline(func(ctx context.Context) {
		if err := catalogService.Refresh(ctx); err != nil {
			logger.Warn().Err(err).Msg("Catalog refresh after reconnect failed")
		}
	})

	go monitor.RunProbe(ctx, client, probeInterval(cfg))
	go runCacheSweeper(ctx, cfg, offlineService, &logger)
	// Refresh on the same cadence the reference data expires, so the sweep
	// never leaves the catalog empty while online.
	go catalogService.RunPeriodicRefresh(ctx, cfg.Sync.MaxAge())

	if cfg.Backup.Enabled {
		backupService := database.NewBackupService(cfg.Database.Path, cfg.Backup, &logger)
		go backupService.Start(ctx)
	}

	return startControlAPI(ctx, cfg, engine, monitor, offlineService, catalogService, client, &logger)
}

func loadConfigAndLogger() (*config.Config, zerolog.Logger, io.Closer, error) {
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "configs/config.yaml"
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, zerolog.Logger{}, nil, err
	}

	baseLogger, closer, err := logging.New(cfg.Logging, cfg.App)
	if err != nil {
		return nil, zerolog.Logger{}, nil, err
	}
	logger := logging.Component(baseLogger, "agent-main")

	return cfg, logger, closer, nil
}

// initCatalogCache builds the hot reference-data cache: redis when
// configured and reachable, always backed by an in-memory fallback.
func initCatalogCache(ctx context.Context, cfg *config.Config, logger *zerolog.Logger) (*redis.Client, domain.CatalogCache) {
	ttl := cfg.Sync.MaxAge()
	fallback := repository.NewMemoryCatalogCache(ttl)

	if !cfg.Redis.Enabled || cfg.Redis.Address == "" {
		return nil, fallback
	}

	redisClient := repository.NewRedisClient(cfg.Redis)
	if err := repository.Ping(ctx, redisClient); err != nil {
		logger.Warn().Err(err).Msg("Redis unavailable, starting on memory cache")
	}

	primary := repository.NewRedisCatalogCache(redisClient, ttl)
	return redisClient, repository.NewFailoverCatalogCache(primary, fallback, logger)
}

func probeInterval(cfg *config.Config) time.Duration {
	d, err := time.ParseDuration(cfg.Sync.ProbeInterval)
	if err != nil {
		return 30 * time.Second
	}
	return d
}

// runCacheSweeper periodically expires stale reference data. Bookings are
// exempt from the sweep.
func runCacheSweeper(ctx context.Context, cfg *config.Config, offline *service.OfflineService, logger *zerolog.Logger) {
	interval, err := time.ParseDuration(cfg.Sync.CleanupInterval)
	if err != nil || interval <= 0 {
		interval = time.Hour
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := offline.CleanupCache(ctx, cfg.Sync.MaxAge()); err != nil {
				logger.Warn().Err(err).Msg("Cache sweep failed")
			}
		}
	}
}

func startControlAPI(
	ctx context.Context,
	cfg *config.Config,
	engine *syncer.Engine,
	monitor *connectivity.Monitor,
	offlineService *service.OfflineService,
	catalogService *service.CatalogService,
	client *remote.Client,
	logger *zerolog.Logger,
) error {
	if !cfg.API.Enabled {
		logger.Info().Msg("Control API disabled, running headless")
		<-ctx.Done()
		return nil
	}

	server := api.NewServer(*cfg, engine, monitor, offlineService, catalogService, client, logger)

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Start()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("Control API shutdown error")
	}

	logger.Info().Msg("Shutdown complete.")
	return nil
}
