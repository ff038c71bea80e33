package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/V4T54L/killwatch/internal/adapter/api"
	"github.com/V4T54L/killwatch/internal/adapter/api/handler"
	"github.com/V4T54L/killwatch/internal/adapter/catalog"
	"github.com/V4T54L/killwatch/internal/adapter/feed"
	"github.com/V4T54L/killwatch/internal/adapter/identity"
	"github.com/V4T54L/killwatch/internal/adapter/metrics"
	redisrepo "github.com/V4T54L/killwatch/internal/adapter/repository/redis"
	"github.com/V4T54L/killwatch/internal/adapter/repository/wal"
	"github.com/V4T54L/killwatch/internal/adapter/sink"
	"github.com/V4T54L/killwatch/internal/adapter/standing"
	"github.com/V4T54L/killwatch/internal/domain"
	"github.com/V4T54L/killwatch/internal/pkg/config"
	"github.com/V4T54L/killwatch/internal/pkg/logger"
	"github.com/V4T54L/killwatch/internal/usecase"
)

const (
	redisHealthInterval = 5 * time.Second
	cacheJanitorPeriod  = 10 * time.Minute
	drainGracePeriod    = 5 * time.Second
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger := logger.New(cfg.LogLevel)
	slog.SetDefault(logger)

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.NewPipelineMetrics(reg)

	// --- Graceful Shutdown Context ---
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Correlation and sinks outlive the feeds so in-flight kills can finish on shutdown.
	procCtx, cancelProc := context.WithCancel(context.Background())
	defer cancelProc()
	sinkCtx, cancelSinks := context.WithCancel(context.Background())
	defer cancelSinks()

	// --- Lookups ---
	systems, err := catalog.LoadSystems(cfg.SystemCatalogPath)
	if err != nil {
		logger.Error("failed to load system catalog", "error", err)
		os.Exit(1)
	}
	book, err := standing.Load(cfg.StandingsPath)
	if err != nil {
		logger.Error("failed to load standings", "error", err)
		os.Exit(1)
	}
	logger.Info("loaded lookups", "systems", systems.Len(), "contacts", book.Len())

	esi := identity.NewESIResolver(identity.ESIOptions{
		BaseURL:       cfg.ESIBaseURL,
		UserAgent:     cfg.ESIUserAgent,
		Timeout:       cfg.ESITimeout,
		RatePerSecond: cfg.ESIRatePerSecond,
		Burst:         cfg.ESIBurst,
	}, book, logger)
	identities := identity.NewCachedResolver(esi, cfg.IdentityCacheTTL, m)
	go identities.StartJanitor(ctx, cacheJanitorPeriod)

	// --- Dedup Ledger ---
	journal, err := wal.NewJournal(cfg.LedgerPath, cfg.LedgerSegmentSize, cfg.LedgerMaxDiskSize, logger)
	if err != nil {
		logger.Error("failed to open ledger journal", "error", err)
		os.Exit(1)
	}
	defer journal.Close()

	ledger := usecase.NewLedger(cfg.DedupWindow, time.Now)
	if _, err := usecase.RestoreLedger(ctx, ledger, journal, logger); err != nil {
		logger.Error("failed to restore dedup ledger", "error", err)
		os.Exit(1)
	}

	// --- Sinks ---
	var background sync.WaitGroup
	broker := handler.NewSSEBroker(sinkCtx, logger, time.Second, m)
	sinks := []domain.SummarySink{sink.NewLogSink(logger), broker}

	var summaryRepo *redisrepo.SummaryRepository
	if cfg.RedisAddr != "" {
		redisOpts, err := redis.ParseURL(cfg.RedisAddr)
		if err != nil {
			logger.Error("failed to parse redis url", "error", err)
			os.Exit(1)
		}
		redisClient := redis.NewClient(redisOpts)
		defer redisClient.Close()
		if err := redisClient.Ping(ctx).Err(); err != nil {
			logger.Warn("could not connect to redis, summaries will be retried per write", "error", err)
		}

		summaryRepo = redisrepo.NewSummaryRepository(redisClient, logger, redisrepo.SummaryRepositoryOptions{
			StreamKey:    cfg.SummaryStream,
			DLQStreamKey: cfg.RedisDLQStream,
			MaxLen:       cfg.SummaryStreamMax,
			SystemTTL:    cfg.SummaryTTL,
			Metrics:      m,
		})
		background.Add(2)
		go func() {
			defer background.Done()
			summaryRepo.Run(sinkCtx)
		}()
		go func() {
			defer background.Done()
			summaryRepo.StartHealthCheck(sinkCtx, redisHealthInterval)
		}()
		sinks = append(sinks, summaryRepo)
	}

	// --- Correlation ---
	correlator := usecase.NewKillCorrelator(procCtx, systems, identities, sink.NewFanout(sinks...), ledger, logger, usecase.CorrelatorOptions{
		EnrichmentTimeout: cfg.EnrichmentTimeout,
		Journal:           journal,
		Metrics:           m,
	})

	background.Add(1)
	go func() {
		defer background.Done()
		usecase.RunJournalCompaction(sinkCtx, ledger, journal, cfg.LedgerCompaction, logger)
	}()

	// --- Feeds ---
	connectors, err := buildConnectors(cfg, correlator, m, logger)
	if err != nil {
		logger.Error("failed to configure feeds", "error", err)
		os.Exit(1)
	}
	var feeds sync.WaitGroup
	reporters := make([]handler.FeedStatusReporter, 0, len(connectors))
	for _, c := range connectors {
		reporters = append(reporters, c)
		feeds.Add(1)
		go func(c *feed.Connector) {
			defer feeds.Done()
			c.Start(ctx)
		}(c)
	}

	// --- Admin and Metrics Server ---
	var latest handler.SystemLatestReader
	var bufferAvailable func() bool
	if summaryRepo != nil {
		latest = summaryRepo
		bufferAvailable = summaryRepo.Available
	}
	statusHandler := handler.NewStatusHandler(reporters, correlator, broker, latest, bufferAvailable, logger)
	adminServer := &http.Server{
		Addr:              cfg.AdminServerAddr,
		Handler:           api.NewRouter(logger, statusHandler, broker, promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg})),
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	go func() {
		logger.Info("starting admin & metrics server", "addr", adminServer.Addr)
		if err := adminServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("admin & metrics server failed", "error", err)
			stop() // Trigger shutdown on server error
		}
	}()

	// --- Wait for shutdown signal ---
	<-ctx.Done()
	logger.Info("shutting down...")

	feeds.Wait()
	logger.Info("feeds stopped, waiting for in-flight kills", "in_flight", correlator.InFlight())

	done := make(chan struct{})
	go func() {
		correlator.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(cfg.EnrichmentTimeout + drainGracePeriod):
		logger.Warn("in-flight kills did not finish in time, abandoning them", "in_flight", correlator.InFlight())
		cancelProc()
		<-done
	}

	// Stopping the sinks also ends open SSE streams, which lets the admin server drain.
	cancelSinks()
	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelShutdown()
	if err := adminServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("admin server shutdown failed", "error", err)
	}

	background.Wait()
	logger.Info("shut down gracefully", "ledger_size", correlator.LedgerSize())
}

func buildConnectors(cfg *config.Config, correlator *usecase.KillCorrelator, m *metrics.PipelineMetrics, logger *slog.Logger) ([]*feed.Connector, error) {
	type feedConfig struct {
		provider domain.Provider
		enabled  bool
		url      string
	}
	feedConfigs := []feedConfig{
		{domain.ProviderZKillboard, cfg.ZKillboardEnabled, cfg.ZKillboardURL},
		{domain.ProviderEveKill, cfg.EveKillEnabled, cfg.EveKillURL},
	}

	var connectors []*feed.Connector
	for _, fc := range feedConfigs {
		if !fc.enabled {
			logger.Info("feed disabled", "provider", fc.provider)
			continue
		}
		normalizer, err := feed.NewNormalizer(fc.provider, logger, m)
		if err != nil {
			return nil, err
		}
		subscribe, err := feed.SubscribeMessage(fc.provider)
		if err != nil {
			return nil, err
		}
		connectors = append(connectors, feed.NewConnector(fc.provider, feed.ConnectorOptions{
			URL:           fc.url,
			Subscribe:     subscribe,
			CheckInterval: cfg.FeedReconnectInterval,
			IdleTimeout:   cfg.FeedIdleTimeout,
			UserAgent:     cfg.ESIUserAgent,
			Metrics:       m,
		}, normalizer.Forward(correlator.Submit), logger))
	}
	return connectors, nil
}
