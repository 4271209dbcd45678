// Package config loads and validates service configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Render modes.
const (
	RenderStatic   = "static"
	RenderHeadless = "headless"
	RenderAuto     = "auto"
)

// Backend names shared by export, archive and publisher sections.
const (
	BackendNone     = "none"
	BackendMemory   = "memory"
	BackendLocal    = "local"
	BackendGCS      = "gcs"
	BackendPostgres = "postgres"
	BackendRedis    = "redis"
	BackendSQLite   = "sqlite"
	BackendPubSub   = "pubsub"
	BackendKafka    = "kafka"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Auth      AuthConfig      `mapstructure:"auth"`
	Crawler   CrawlerConfig   `mapstructure:"crawler"`
	Render    RenderConfig    `mapstructure:"render"`
	Export    ExportConfig    `mapstructure:"export"`
	Archive   ArchiveConfig   `mapstructure:"archive"`
	Publisher PublisherConfig `mapstructure:"publisher"`
	Logging   LoggingConfig   `mapstructure:"logging"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port            int           `mapstructure:"port"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	RequestTimeout  time.Duration `mapstructure:"request_timeout"`
}

// AuthConfig defines API authentication toggles.
type AuthConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	APIKey  string `mapstructure:"api_key"`
}

// CrawlerConfig governs job admission and the crawl loop.
type CrawlerConfig struct {
	Workers               int           `mapstructure:"workers"`
	QueueDepth            int           `mapstructure:"queue_depth"`
	UserAgent             string        `mapstructure:"user_agent"`
	RespectRobots         bool          `mapstructure:"respect_robots"`
	DefaultMaxPages       int           `mapstructure:"default_max_pages"`
	MaxPagesCap           int           `mapstructure:"max_pages_cap"`
	DefaultRateLimitDelay time.Duration `mapstructure:"default_rate_limit_delay"`
	FetchTimeout          time.Duration `mapstructure:"fetch_timeout"`
	FetchRetries          int           `mapstructure:"fetch_retries"`
	RetryBackoff          time.Duration `mapstructure:"retry_backoff"`
	PreviewRunes          int           `mapstructure:"preview_runes"`
	MaxBodyBytes          int           `mapstructure:"max_body_bytes"`
}

// RenderConfig selects the render capability.
type RenderConfig struct {
	Mode              string        `mapstructure:"mode"`
	MaxParallel       int           `mapstructure:"max_parallel"`
	NavTimeout        time.Duration `mapstructure:"nav_timeout"`
	SettleDelay       time.Duration `mapstructure:"settle_delay"`
	PromotionMinBytes int           `mapstructure:"promotion_min_bytes"`
}

// ExportConfig chooses where per-page documents are written.
type ExportConfig struct {
	Backend      string `mapstructure:"backend"`
	LocalDir     string `mapstructure:"local_dir"`
	GCSBucket    string `mapstructure:"gcs_bucket"`
	GCSPrefix    string `mapstructure:"gcs_prefix"`
	CacheControl string `mapstructure:"cache_control"`
	Parallelism  int    `mapstructure:"parallelism"`
}

// ArchiveConfig chooses where finished jobs are snapshotted.
type ArchiveConfig struct {
	Backend  string         `mapstructure:"backend"`
	Postgres PostgresConfig `mapstructure:"postgres"`
	Redis    RedisConfig    `mapstructure:"redis"`
	SQLite   SQLiteConfig   `mapstructure:"sqlite"`
}

// PostgresConfig controls the Postgres archive pool.
type PostgresConfig struct {
	DSN             string        `mapstructure:"dsn"`
	Table           string        `mapstructure:"table"`
	MaxConns        int32         `mapstructure:"max_conns"`
	MinConns        int32         `mapstructure:"min_conns"`
	MaxConnLifetime time.Duration `mapstructure:"max_conn_lifetime"`
}

// RedisConfig controls the Redis archive client.
type RedisConfig struct {
	Addr     string        `mapstructure:"addr"`
	Password string        `mapstructure:"password"`
	DB       int           `mapstructure:"db"`
	Prefix   string        `mapstructure:"prefix"`
	TTL      time.Duration `mapstructure:"ttl"`
}

// SQLiteConfig points at the archive database file.
type SQLiteConfig struct {
	Path string `mapstructure:"path"`
}

// PublisherConfig chooses where completion events go.
type PublisherConfig struct {
	Backend       string        `mapstructure:"backend"`
	Topic         string        `mapstructure:"topic"`
	ProjectID     string        `mapstructure:"project_id"`
	KafkaBrokers  []string      `mapstructure:"kafka_brokers"`
	KafkaBatchDur time.Duration `mapstructure:"kafka_batch_timeout"`
}

// LoggingConfig toggles zap development features and job event logging.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
	// Events logs one line per job start, page and finish through the event hub.
	Events bool `mapstructure:"events"`
}

// Load builds a Config from defaults, an optional file and SCHEMACRAWLER_* env vars.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("SCHEMACRAWLER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.shutdown_timeout", "15s")
	v.SetDefault("server.request_timeout", "60s")
	v.SetDefault("auth.enabled", false)
	v.SetDefault("auth.api_key", "")
	v.SetDefault("crawler.workers", 4)
	v.SetDefault("crawler.queue_depth", 64)
	v.SetDefault("crawler.user_agent", "schema-crawler/0.1")
	v.SetDefault("crawler.respect_robots", true)
	v.SetDefault("crawler.default_max_pages", 20)
	v.SetDefault("crawler.max_pages_cap", 50)
	v.SetDefault("crawler.default_rate_limit_delay", "1.5s")
	v.SetDefault("crawler.fetch_timeout", "30s")
	v.SetDefault("crawler.fetch_retries", 2)
	v.SetDefault("crawler.retry_backoff", "1s")
	v.SetDefault("crawler.preview_runes", 1000)
	v.SetDefault("crawler.max_body_bytes", 10<<20)
	v.SetDefault("render.mode", RenderStatic)
	v.SetDefault("render.max_parallel", 2)
	v.SetDefault("render.nav_timeout", "45s")
	v.SetDefault("render.settle_delay", "500ms")
	v.SetDefault("render.promotion_min_bytes", 2048)
	v.SetDefault("export.backend", BackendMemory)
	v.SetDefault("export.local_dir", "./schema_output")
	v.SetDefault("export.gcs_bucket", "")
	v.SetDefault("export.gcs_prefix", "")
	v.SetDefault("export.cache_control", "public, max-age=3600")
	v.SetDefault("export.parallelism", 4)
	v.SetDefault("archive.backend", BackendNone)
	v.SetDefault("archive.postgres.dsn", "")
	v.SetDefault("archive.postgres.table", "crawl_jobs")
	v.SetDefault("archive.redis.addr", "")
	v.SetDefault("archive.redis.prefix", "schemacrawler:job:")
	v.SetDefault("archive.redis.ttl", "0s")
	v.SetDefault("archive.sqlite.path", "./data/archive.db")
	v.SetDefault("publisher.backend", BackendNone)
	v.SetDefault("publisher.topic", "crawl-complete")
	v.SetDefault("publisher.project_id", "")
	v.SetDefault("publisher.kafka_brokers", []string{})
	v.SetDefault("publisher.kafka_batch_timeout", "100ms")
	v.SetDefault("logging.development", false)
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.events", false)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Crawler.Workers <= 0 {
		return fmt.Errorf("crawler.workers must be > 0")
	}
	if c.Crawler.QueueDepth <= 0 {
		return fmt.Errorf("crawler.queue_depth must be > 0")
	}
	if c.Crawler.MaxPagesCap <= 0 {
		return fmt.Errorf("crawler.max_pages_cap must be > 0")
	}
	if c.Crawler.DefaultMaxPages <= 0 || c.Crawler.DefaultMaxPages > c.Crawler.MaxPagesCap {
		return fmt.Errorf("crawler.default_max_pages must be in 1..%d", c.Crawler.MaxPagesCap)
	}
	if c.Crawler.DefaultRateLimitDelay < 0 {
		return fmt.Errorf("crawler.default_rate_limit_delay must be >= 0")
	}
	if c.Crawler.FetchTimeout <= 0 {
		return fmt.Errorf("crawler.fetch_timeout must be > 0")
	}
	if c.Crawler.FetchRetries < 0 {
		return fmt.Errorf("crawler.fetch_retries must be >= 0")
	}
	if c.Crawler.FetchRetries > 0 && c.Crawler.RetryBackoff <= 0 {
		return fmt.Errorf("crawler.retry_backoff must be > 0 when retries are enabled")
	}
	if c.Auth.Enabled && c.Auth.APIKey == "" {
		return fmt.Errorf("auth.api_key must be set when auth is enabled")
	}
	switch c.Render.Mode {
	case RenderStatic:
	case RenderHeadless, RenderAuto:
		if c.Render.MaxParallel <= 0 {
			return fmt.Errorf("render.max_parallel must be > 0 when render.mode is %s", c.Render.Mode)
		}
	default:
		return fmt.Errorf("render.mode %q is not one of static, headless, auto", c.Render.Mode)
	}
	if err := c.validateExport(); err != nil {
		return err
	}
	if err := c.validateArchive(); err != nil {
		return err
	}
	return c.validatePublisher()
}

func (c Config) validateExport() error {
	switch c.Export.Backend {
	case BackendNone, BackendMemory:
	case BackendLocal:
		if c.Export.LocalDir == "" {
			return fmt.Errorf("export.local_dir must be set for the local backend")
		}
	case BackendGCS:
		if c.Export.GCSBucket == "" {
			return fmt.Errorf("export.gcs_bucket must be set for the gcs backend")
		}
	default:
		return fmt.Errorf("export.backend %q is not supported", c.Export.Backend)
	}
	return nil
}

func (c Config) validateArchive() error {
	switch c.Archive.Backend {
	case BackendNone:
	case BackendPostgres:
		if c.Archive.Postgres.DSN == "" {
			return fmt.Errorf("archive.postgres.dsn must be set for the postgres backend")
		}
	case BackendRedis:
		if c.Archive.Redis.Addr == "" {
			return fmt.Errorf("archive.redis.addr must be set for the redis backend")
		}
	case BackendSQLite:
		if c.Archive.SQLite.Path == "" {
			return fmt.Errorf("archive.sqlite.path must be set for the sqlite backend")
		}
	default:
		return fmt.Errorf("archive.backend %q is not supported", c.Archive.Backend)
	}
	return nil
}

func (c Config) validatePublisher() error {
	switch c.Publisher.Backend {
	case BackendNone, BackendMemory:
	case BackendPubSub:
		if c.Publisher.ProjectID == "" {
			return fmt.Errorf("publisher.project_id must be set for the pubsub backend")
		}
	case BackendKafka:
		if len(c.Publisher.KafkaBrokers) == 0 {
			return fmt.Errorf("publisher.kafka_brokers must be set for the kafka backend")
		}
	default:
		return fmt.Errorf("publisher.backend %q is not supported", c.Publisher.Backend)
	}
	if c.Publisher.Backend != BackendNone && c.Publisher.Topic == "" {
		return fmt.Errorf("publisher.topic must be set when a publisher is enabled")
	}
	return nil
}
