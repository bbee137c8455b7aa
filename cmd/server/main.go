package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"trekkr/internal/api"
	"trekkr/internal/api/handlers"
	"trekkr/internal/config"
	"trekkr/internal/geo"
	"trekkr/internal/logger"
	"trekkr/internal/repository"
	"trekkr/internal/repository/gormrepo"
	"trekkr/internal/repository/memory"
	"trekkr/internal/repository/redisstore"
	"trekkr/internal/services"
	"trekkr/internal/telemetry"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid configuration: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.New(cfg.Log.Mode)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to init logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil {
		log.Error("server exited", "error", err)
		log.Sync()
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, log *logger.Logger) error {
	shutdownTracing := telemetry.Init(ctx, log, cfg.Env, cfg.Telemetry)
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(flushCtx); err != nil {
			log.Warn("otel shutdown failed", "error", err)
		}
	}()

	// Connect database
	db, err := gormrepo.Open(cfg.Database, log)
	if err != nil {
		return err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	defer sqlDB.Close()
	if cfg.Database.AutoMigrate {
		if err := gormrepo.AutoMigrate(db); err != nil {
			return err
		}
	}

	// Initialize repositories
	cellStore := gormrepo.NewCellStore(db, log)
	deviceRepo := gormrepo.NewDeviceRepo(db, log)
	catalogRepo := gormrepo.NewCatalogRepo(db, log)
	achievementRepo := gormrepo.NewAchievementRepo(db, log)
	statsRepo := gormrepo.NewStatsRepo(db, log)
	batchRepo := gormrepo.NewIngestBatchRepo(db, log)

	// Initialize services
	achievementService := services.NewAchievementService(db, achievementRepo, statsRepo, log)
	defs, err := services.LoadAchievementCatalog(cfg.Achievements.CatalogFile)
	if err != nil {
		return err
	}
	if err := achievementService.SeedCatalog(ctx, defs); err != nil {
		return err
	}

	notificationService := services.NewNotificationService(log)
	ingestService := services.NewIngestService(services.IngestDeps{
		DB:           db,
		Grid:         geo.NewGrid(),
		Geocoder:     services.NewGeocoder(ctx, cfg.Geo, db, catalogRepo, log),
		Cells:        cellStore,
		Devices:      deviceRepo,
		Catalog:      catalogRepo,
		Batches:      batchRepo,
		Achievements: achievementService,
		Notifier:     notificationService,
	}, cfg, log)

	// Rate limit counters are shared through Redis when configured.
	var counter repository.WindowCounter
	if client := redisstore.Open(cfg.Redis); client != nil {
		defer client.Close()
		if err := client.Ping(ctx).Err(); err != nil {
			log.Warn("redis unreachable, rate limiting will fail open until it recovers", "addr", cfg.Redis.Addr, "error", err)
		}
		counter = redisstore.NewWindowCounter(client, "trekkr:ratelimit:")
	} else {
		mem := memory.NewWindowCounter(cfg.RateLimit.Window)
		defer mem.Stop()
		counter = mem
	}

	// Initialize handlers
	locationHandler := handlers.NewLocationHandler(ingestService)
	achievementHandler := handlers.NewAchievementHandler(achievementService)

	// Setup router
	router := api.NewRouter(locationHandler, achievementHandler, counter, sqlDB.PingContext, cfg, log)

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}
	engine := gin.New()
	engine.Use(gin.Recovery())
	router.Setup(engine)

	srv := &http.Server{
		Addr:         cfg.Server.Port,
		Handler:      engine,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	// Start server
	errCh := make(chan error, 1)
	go func() {
		log.Info("starting trekkr server", "addr", cfg.Server.Port, "env", cfg.Env)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
