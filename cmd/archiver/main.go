package main

import (
	"context"
	"database/sql"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	_ "github.com/lib/pq"
	"github.com/redis/go-redis/v9"

	"github.com/V4T54L/killwatch/internal/adapter/repository/postgres"
	redisrepo "github.com/V4T54L/killwatch/internal/adapter/repository/redis"
	"github.com/V4T54L/killwatch/internal/pkg/config"
	"github.com/V4T54L/killwatch/internal/pkg/logger"
	"github.com/V4T54L/killwatch/internal/usecase"
)

const consumerGroup = "killwatch-archivers"

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	log := logger.New(cfg.LogLevel)
	log.Info("starting summary archiver")

	if cfg.RedisAddr == "" || cfg.PostgresURL == "" {
		log.Error("archiver needs both REDIS_ADDR and POSTGRES_URL")
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Connect to Redis
	redisOpts, err := redis.ParseURL(cfg.RedisAddr)
	if err != nil {
		log.Error("failed to parse redis url", "error", err)
		os.Exit(1)
	}
	redisClient := redis.NewClient(redisOpts)
	defer redisClient.Close()
	if err := redisClient.Ping(ctx).Err(); err != nil {
		log.Error("failed to connect to redis", "error", err)
		os.Exit(1)
	}
	log.Info("connected to redis")

	// Connect to PostgreSQL
	db, err := sql.Open("postgres", cfg.PostgresURL)
	if err != nil {
		log.Error("failed to open postgres connection", "error", err)
		os.Exit(1)
	}
	defer db.Close()
	if err := db.PingContext(ctx); err != nil {
		log.Error("failed to connect to postgres", "error", err)
		os.Exit(1)
	}
	log.Info("connected to postgres")

	// Create a unique consumer name for this instance
	consumerName := cfg.ArchiveConsumerTag
	if consumerName == "" {
		consumerName, err = os.Hostname()
		if err != nil {
			log.Warn("could not get hostname for consumer name, using default", "error", err)
			consumerName = "archiver-default"
		}
	}

	buffer := redisrepo.NewSummaryRepository(redisClient, log, redisrepo.SummaryRepositoryOptions{
		StreamKey:    cfg.SummaryStream,
		DLQStreamKey: cfg.RedisDLQStream,
	})
	if err := buffer.SetupConsumerGroup(ctx, consumerGroup); err != nil {
		log.Error("failed to set up consumer group", "error", err)
		os.Exit(1)
	}

	archive := postgres.NewSummaryArchive(db, log)
	if err := archive.EnsureSchema(ctx); err != nil {
		log.Error("failed to prepare archive schema", "error", err)
		os.Exit(1)
	}

	archiveUseCase := usecase.NewArchiveSummariesUseCase(buffer, archive, log, consumerGroup, consumerName,
		cfg.ArchiveBatchSize, cfg.ArchiveRetryCount, cfg.ArchiveRetryDelay)

	log.Info("archiver started", "group", consumerGroup, "consumer", consumerName)
	archiveUseCase.Run(ctx, cfg.ArchiveInterval)
	log.Info("archiver shut down gracefully")
}
