// One-shot catalog sync for cron jobs and manual refreshes. Exits non-zero
// when the sync fails so schedulers can alert on it.
package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/lib/pq" // PostgreSQL driver
	"github.com/redis/go-redis/v9"

	"github.com/ignite/signals-agent/internal/catalog"
	"github.com/ignite/signals-agent/internal/config"
	"github.com/ignite/signals-agent/internal/liveramp"
	"github.com/ignite/signals-agent/internal/pkg/distlock"
	"github.com/ignite/signals-agent/internal/pkg/logger"
	"github.com/ignite/signals-agent/internal/repository/postgres"
	syncer "github.com/ignite/signals-agent/internal/sync"
)

func main() {
	var (
		configPath = flag.String("config", "config/config.yaml", "path to config file")
		force      = flag.Bool("force", false, "sync even when the catalog is fresh")
		limit      = flag.Int("limit", 0, "cap the number of records fetched (0 = full catalog)")
	)
	flag.Parse()

	cfg, err := config.LoadFromEnv(*configPath)
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

	if err := db.Ping(); err != nil {
		log.Fatalf("Failed to reach database: %v", err)
	}

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

	var snapshots syncer.Snapshotter
	if cfg.Snapshot.Enabled {
		ss, err := syncer.NewS3SnapshotStore(context.Background(), cfg.Snapshot.S3Bucket, cfg.Snapshot.S3Region)
		if err != nil {
			log.Fatalf("Failed to init snapshot store: %v", err)
		}
		snapshots = ss
	}

	orch := syncer.NewOrchestrator(
		syncer.NewStore(repo),
		func() catalog.Provider { return liveramp.NewClient(cfg.LiveRamp, norm) },
		func() distlock.Lock { return distlock.New(redisClient, db, "catalog-sync", cfg.Sync.LockTTL()) },
		snapshots,
		cfg.Sync,
	)

	// Ctrl-C rolls the run back and seals it as cancelled.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	res, err := orch.Run(ctx, syncer.Options{Force: *force, Limit: *limit})
	if err != nil {
		log.Fatalf("Sync failed: %v", err)
	}

	if res.Skipped {
		fmt.Printf("Catalog is fresh (last sync %s), nothing to do. Use --force to resync.\n",
			res.Run.CompletedAt.UTC().Format(time.RFC3339))
		return
	}
	fmt.Printf("Sync %s: %d segments in %.1fs\n",
		res.Run.Status, res.Run.TotalSegments, res.Run.DurationSeconds)
	if res.Run.Status != catalog.StatusSuccess {
		os.Exit(1)
	}
}
