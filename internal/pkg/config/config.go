package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v10"
	"github.com/joho/godotenv"
)

// Config holds all application configuration.
type Config struct {
	LogLevel        string `env:"LOG_LEVEL" envDefault:"info"`
	AdminServerAddr string `env:"ADMIN_SERVER_ADDR" envDefault:":9091"`

	// Feeds
	ZKillboardEnabled     bool          `env:"ZKILLBOARD_ENABLED" envDefault:"true"`
	ZKillboardURL         string        `env:"ZKILLBOARD_URL" envDefault:"wss://zkillboard.com/websocket/"`
	EveKillEnabled        bool          `env:"EVEKILL_ENABLED" envDefault:"true"`
	EveKillURL            string        `env:"EVEKILL_URL" envDefault:"wss://ws.eve-kill.com/kills"`
	FeedReconnectInterval time.Duration `env:"FEED_RECONNECT_INTERVAL" envDefault:"1s"`
	FeedIdleTimeout       time.Duration `env:"FEED_IDLE_TIMEOUT" envDefault:"10m"`

	// Correlation
	EnrichmentTimeout time.Duration `env:"ENRICHMENT_TIMEOUT" envDefault:"30s"`
	DedupWindow       time.Duration `env:"DEDUP_WINDOW" envDefault:"2h"`
	LedgerPath        string        `env:"LEDGER_PATH" envDefault:"./data/ledger"`
	LedgerSegmentSize int64         `env:"LEDGER_SEGMENT_SIZE_BYTES" envDefault:"8388608"`    // 8MB
	LedgerMaxDiskSize int64         `env:"LEDGER_MAX_DISK_SIZE_BYTES" envDefault:"268435456"` // 256MB
	LedgerCompaction  time.Duration `env:"LEDGER_COMPACT_INTERVAL" envDefault:"10m"`

	// Lookups
	SystemCatalogPath string        `env:"SYSTEM_CATALOG_PATH,notEmpty"`
	StandingsPath     string        `env:"STANDINGS_PATH"`
	ESIBaseURL        string        `env:"ESI_BASE_URL" envDefault:"https://esi.evetech.net/latest"`
	ESIUserAgent      string        `env:"ESI_USER_AGENT" envDefault:"killwatch"`
	ESIRatePerSecond  float64       `env:"ESI_RATE_PER_SECOND" envDefault:"20"`
	ESIBurst          int           `env:"ESI_BURST" envDefault:"40"`
	ESITimeout        time.Duration `env:"ESI_TIMEOUT" envDefault:"10s"`
	IdentityCacheTTL  time.Duration `env:"IDENTITY_CACHE_TTL" envDefault:"6h"`

	// Summary buffer and archive
	RedisAddr          string        `env:"REDIS_ADDR"`
	SummaryStream      string        `env:"SUMMARY_STREAM" envDefault:"killwatch:summaries"`
	RedisDLQStream     string        `env:"SUMMARY_DLQ_STREAM" envDefault:"killwatch:summaries:dlq"`
	SummaryTTL         time.Duration `env:"SUMMARY_TTL" envDefault:"24h"`
	SummaryStreamMax   int64         `env:"SUMMARY_STREAM_MAX_LEN" envDefault:"100000"`
	PostgresURL        string        `env:"POSTGRES_URL"`
	ArchiveBatchSize   int           `env:"ARCHIVE_BATCH_SIZE" envDefault:"500"`
	ArchiveRetryCount  int           `env:"ARCHIVE_RETRY_COUNT" envDefault:"3"`
	ArchiveRetryDelay  time.Duration `env:"ARCHIVE_RETRY_BACKOFF" envDefault:"500ms"`
	ArchiveInterval    time.Duration `env:"ARCHIVE_INTERVAL" envDefault:"1s"`
	ArchiveConsumerTag string        `env:"ARCHIVE_CONSUMER"`
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	// Attempt to load .env file for local development.
	_ = godotenv.Load()

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks settings that env tags cannot express.
func (c *Config) Validate() error {
	if !c.ZKillboardEnabled && !c.EveKillEnabled {
		return fmt.Errorf("at least one feed must be enabled")
	}
	if c.FeedReconnectInterval <= 0 {
		return fmt.Errorf("FEED_RECONNECT_INTERVAL must be positive, got %s", c.FeedReconnectInterval)
	}
	if c.EnrichmentTimeout <= 0 {
		return fmt.Errorf("ENRICHMENT_TIMEOUT must be positive, got %s", c.EnrichmentTimeout)
	}
	if c.DedupWindow < 0 {
		return fmt.Errorf("DEDUP_WINDOW must not be negative, got %s", c.DedupWindow)
	}
	if c.LedgerCompaction <= 0 {
		return fmt.Errorf("LEDGER_COMPACT_INTERVAL must be positive, got %s", c.LedgerCompaction)
	}
	if c.ArchiveBatchSize <= 0 {
		return fmt.Errorf("ARCHIVE_BATCH_SIZE must be positive, got %d", c.ArchiveBatchSize)
	}
	return nil
}
