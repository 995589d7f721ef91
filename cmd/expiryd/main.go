package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/carstingaxion/gatherpress-cache-invalidation-hooks/internal/api"
	"github.com/carstingaxion/gatherpress-cache-invalidation-hooks/internal/app"
	"github.com/carstingaxion/gatherpress-cache-invalidation-hooks/internal/cache"
	"github.com/carstingaxion/gatherpress-cache-invalidation-hooks/internal/database"
	"github.com/carstingaxion/gatherpress-cache-invalidation-hooks/internal/expiry"
	"github.com/carstingaxion/gatherpress-cache-invalidation-hooks/internal/services"
	"github.com/carstingaxion/gatherpress-cache-invalidation-hooks/internal/timerq"
	"github.com/carstingaxion/gatherpress-cache-invalidation-hooks/pkg/logger"
)

const shutdownTimeout = 15 * time.Second

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)
	defer stop()

	if err := run(ctx, os.Args[1:]); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			os.Exit(0)
		}
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("expiryd", flag.ContinueOnError)
	fs.SetOutput(os.Stdout)

	var configPath string
	fs.StringVar(&configPath, "config", "", "Path to configuration directory or file")

	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, err := loadApplicationConfig(configPath)
	if err != nil {
		return err
	}

	if err := app.ConfigureLogging(cfg.Server.LogLevel); err != nil {
		return fmt.Errorf("configure logging: %w", err)
	}
	defer logger.Sync() // best effort

	log := logger.WithModule("bootstrap")

	db, err := initialiseDatabase(cfg)
	if err != nil {
		return err
	}
	defer closeDatabase(db, log)

	cacheStore := buildCacheStore(cfg, db, log)

	svc, err := services.NewEventService(db)
	if err != nil {
		return fmt.Errorf("initialise event service: %w", err)
	}

	queue := timerq.NewMemoryQueue()
	bus := expiry.NewBus()

	// Construction order defines the cleanup chain: residual-timer
	// cancellation (scheduler), cache invalidation, tracked-set removal,
	// audit recording.
	sched := expiry.NewScheduler(queue, svc, bus)
	queue.Register(expiry.HookEventExpired, sched.HandleExpiry)

	expiry.NewInvalidator(cacheStore, bus,
		expiry.WithKeyPrefix(cfg.Cache.KeyPrefix),
		expiry.WithNamespace(cfg.Cache.Namespace),
	)

	svc.OnLifecycle(sched)
	svc.OnEndTimeChange(sched)

	if cfg.Tracker.Enabled {
		tracker := expiry.NewTracker(db, svc, bus, queue,
			expiry.WithSweepInterval(cfg.Tracker.SweepInterval),
		)
		queue.Register(expiry.HookTrackedSweep, func(ctx context.Context, _ uint) {
			if err := tracker.Sweep(ctx); err != nil {
				log.Warn("tracked-set sweep failed", zap.Error(err))
			}
		})
		if err := tracker.Start(); err != nil {
			return fmt.Errorf("start redundancy tracker: %w", err)
		}
		svc.OnLifecycle(tracker)
		log.Info("redundancy tracker enabled", zap.Duration("sweep_interval", cfg.Tracker.SweepInterval))
	}

	expiry.NewRecorder(db, bus)

	queue.Start()
	defer func() {
		<-queue.Stop().Done()
	}()

	router, err := api.NewRouter(cfg, svc, sched)
	if err != nil {
		return fmt.Errorf("build api router: %w", err)
	}

	server := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Server.Port),
		Handler: router,
	}

	serverErr := make(chan error, 1)
	go func() {
		log.Info("server listening", zap.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	select {
	case <-ctx.Done():
		log.Info("shutdown signal received")
	case err := <-serverErr:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("graceful shutdown: %w", err)
	}

	if err, ok := <-serverErr; ok && err != nil {
		return fmt.Errorf("server error: %w", err)
	}

	log.Info("server stopped gracefully")
	return nil
}

func loadApplicationConfig(path string) (*app.Config, error) {
	switch {
	case strings.TrimSpace(path) == "":
		return app.LoadConfig()
	default:
		info, err := os.Stat(path)
		if err == nil {
			if info.IsDir() {
				return app.LoadConfig(path)
			}
			return app.LoadConfig(filepath.Dir(path))
		}
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("config path %q does not exist", path)
		}
		return nil, fmt.Errorf("stat config path: %w", err)
	}
}

func buildCacheStore(cfg *app.Config, db *gorm.DB, log *zap.Logger) cache.Store {
	switch strings.ToLower(strings.TrimSpace(cfg.Cache.Backend)) {
	case "database":
		log.Info("using database-backed cache store")
		return cache.NewDatabaseStore(db)
	default:
		log.Info("using in-memory cache store")
		return cache.NewMemoryStore()
	}
}

func initialiseDatabase(cfg *app.Config) (*gorm.DB, error) {
	dbCfg := convertDatabaseConfig(cfg)
	db, err := database.Open(dbCfg)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if err := database.AutoMigrate(db); err != nil {
		return nil, fmt.Errorf("auto-migrate database: %w", err)
	}

	log := logger.WithModule("database")
	log.Info("database connected", zap.String("driver", strings.ToLower(strings.TrimSpace(dbCfg.Driver))))

	return db, nil
}

func convertDatabaseConfig(cfg *app.Config) database.Config {
	dbCfg := database.Config{
		Driver: strings.ToLower(strings.TrimSpace(cfg.Database.Driver)),
		Path:   strings.TrimSpace(cfg.Database.Path),
		DSN:    strings.TrimSpace(cfg.Database.DSN),
	}

	switch dbCfg.Driver {
	case "", "sqlite":
		dbCfg.Driver = "sqlite"
	case "postgres", "postgresql":
		dbCfg.Driver = "postgres"
		dbCfg.Host = strings.TrimSpace(cfg.Database.Postgres.Host)
		dbCfg.Port = cfg.Database.Postgres.Port
		dbCfg.Name = strings.TrimSpace(cfg.Database.Postgres.Database)
		dbCfg.User = strings.TrimSpace(cfg.Database.Postgres.Username)
		dbCfg.Password = strings.TrimSpace(cfg.Database.Postgres.Password)
	case "mysql":
		dbCfg.Host = strings.TrimSpace(cfg.Database.MySQL.Host)
		dbCfg.Port = cfg.Database.MySQL.Port
		dbCfg.Name = strings.TrimSpace(cfg.Database.MySQL.Database)
		dbCfg.User = strings.TrimSpace(cfg.Database.MySQL.Username)
		dbCfg.Password = strings.TrimSpace(cfg.Database.MySQL.Password)
	default:
		// Leave driver as-is to surface unsupported driver error during open.
	}

	return dbCfg
}

func closeDatabase(db *gorm.DB, log *zap.Logger) {
	if db == nil {
		return
	}

	sqlDB, err := db.DB()
	if err != nil {
		log.Warn("failed to obtain underlying sql DB for closing", zap.Error(err))
		return
	}

	if err := sqlDB.Close(); err != nil {
		log.Warn("failed to close database", zap.Error(err))
	}
}
