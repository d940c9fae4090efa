package main

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/lib/pq" // PostgreSQL driver
	"github.com/redis/go-redis/v9"

	"github.com/ignite/signals-agent/internal/api"
	"github.com/ignite/signals-agent/internal/catalog"
	"github.com/ignite/signals-agent/internal/config"
	"github.com/ignite/signals-agent/internal/liveramp"
	"github.com/ignite/signals-agent/internal/pkg/distlock"
	"github.com/ignite/signals-agent/internal/pkg/logger"
	"github.com/ignite/signals-agent/internal/repository/postgres"
	syncer "github.com/ignite/signals-agent/internal/sync"
)

func main() {
	configPath := "config/config.yaml"
	if len(os.Args) > 1 {
		configPath = os.Args[1]
	}

	cfg, err := config.LoadFromEnv(configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid config: %v", err)
	}
	logger.SetLevel(logger.ParseLevel(cfg.LogLevel))

	db, err := sql.Open("postgres", cfg.Database.URL)
	if err != nil {
		log.Fatalf("Failed to open database: %v", err)
	}
	defer db.Close()
	db.SetMaxOpenConns(cfg.Database.MaxOpenConns)
	db.SetMaxIdleConns(cfg.Database.MaxIdleConns)

	pingCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	if err := db.PingContext(pingCtx); err != nil {
		cancel()
		log.Fatalf("Failed to reach database: %v", err)
	}
	cancel()
	logger.Info("connected to database")

	var redisClient *redis.Client
	if cfg.Redis.Addr != "" {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err := redisClient.Ping(context.Background()).Err(); err != nil {
			logger.Warn("redis unreachable, sync lock falls back to advisory lock", "error", err)
			redisClient = nil
		}
	}

	repo := postgres.NewCatalogRepo(db)

	norm := liveramp.NewNormalizer(cfg.Sync.CoveragePopulation, cfg.Sync.CoverageCapPct)
	newProvider := func() catalog.Provider {
		return liveramp.NewClient(cfg.LiveRamp, norm)
	}
	newLock := func() distlock.Lock {
		return distlock.New(redisClient, db, "catalog-sync", cfg.Sync.LockTTL())
	}

	var snapshots syncer.Snapshotter
	if cfg.Snapshot.Enabled {
		ss, err := syncer.NewS3SnapshotStore(context.Background(), cfg.Snapshot.S3Bucket, cfg.Snapshot.S3Region)
		if err != nil {
			log.Fatalf("Failed to init snapshot store: %v", err)
		}
		snapshots = ss
	}

	orch := syncer.NewOrchestrator(syncer.NewStore(repo), newProvider, newLock, snapshots, cfg.Sync)

	var scheduler *syncer.Scheduler
	if cfg.Sync.Enabled {
		scheduler = syncer.NewScheduler(orch, cfg.Sync.Interval())
		scheduler.Start()
	}

	svc := api.NewSignalsService(repo, orch, db.PingContext, cfg.Sync.MaxAge())
	router := api.NewRouter(svc)

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	server := api.NewServer(addr, router)

	errCh := make(chan error, 1)
	go func() {
		logger.Info("http server listening", "addr", addr)
		errCh <- server.ListenAndServe()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		logger.Info("shutting down", "signal", sig.String())
	case err := <-errCh:
		log.Fatalf("HTTP server failed: %v", err)
	}

	if scheduler != nil {
		scheduler.Stop()
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown incomplete", "error", err)
	}
	logger.Info("stopped")
}
