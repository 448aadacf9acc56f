// Package config loads and validates watcher configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	Auth       AuthConfig       `mapstructure:"auth"`
	Logging    LoggingConfig    `mapstructure:"logging"`
	HTTP       HTTPConfig       `mapstructure:"http"`
	RateLimit  RateLimitConfig  `mapstructure:"rate_limit"`
	Crawler    CrawlerConfig    `mapstructure:"crawler"`
	PDF        PDFConfig        `mapstructure:"pdf"`
	Scan       ScanConfig       `mapstructure:"scan"`
	Lock       LockConfig       `mapstructure:"lock"`
	Redis      RedisConfig      `mapstructure:"redis"`
	Worker     WorkerConfig     `mapstructure:"worker"`
	Scheduler  SchedulerConfig  `mapstructure:"scheduler"`
	Thresholds ThresholdsConfig `mapstructure:"thresholds"`
	Storage    StorageConfig    `mapstructure:"storage"`
	Database   DatabaseConfig   `mapstructure:"database"`
	LLM        LLMConfig        `mapstructure:"llm"`
	PubSub     PubSubConfig     `mapstructure:"pubsub"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port int `mapstructure:"port"`
}

// AuthConfig defines API authentication toggles.
type AuthConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	APIKey  string `mapstructure:"api_key"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// HTTPConfig configures the outbound fetcher.
type HTTPConfig struct {
	UserAgent      string `mapstructure:"user_agent"`
	TimeoutSeconds int    `mapstructure:"timeout_seconds"`
	MaxRetries     int    `mapstructure:"max_retries"`
	BackoffMinMs   int    `mapstructure:"backoff_min_ms"`
	BackoffMaxMs   int    `mapstructure:"backoff_max_ms"`
	MaxBodyMB      int    `mapstructure:"max_body_mb"`
	RespectRobots  bool   `mapstructure:"respect_robots"`
}

// RateLimitConfig sets the per-domain request budget.
type RateLimitConfig struct {
	PerMinute int `mapstructure:"per_minute"`
}

// CrawlerConfig bounds targeted crawls.
type CrawlerConfig struct {
	MaxDepth int `mapstructure:"max_depth"`
	MaxPages int `mapstructure:"max_pages"`
}

// PDFConfig limits document downloads.
type PDFConfig struct {
	MaxFileSizeMB int `mapstructure:"max_file_size_mb"`
}

// ScanConfig governs orchestrator scheduling.
type ScanConfig struct {
	IntervalMinutes          int  `mapstructure:"interval_minutes"`
	IdempotencyWindowMinutes int  `mapstructure:"idempotency_window_minutes"`
	DiscoverIR               bool `mapstructure:"discover_ir"`
}

// LockConfig controls company scan locks.
type LockConfig struct {
	TTLSeconds     int `mapstructure:"ttl_seconds"`
	PingTimeoutMs int `mapstructure:"ping_timeout_ms"`
}

// RedisConfig points at the shared lock service.
type RedisConfig struct {
	URL string `mapstructure:"url"`
}

// WorkerConfig sizes the scan worker pool.
type WorkerConfig struct {
	Concurrency int `mapstructure:"concurrency"`
	QueueDepth  int `mapstructure:"queue_depth"`
}

// SchedulerConfig controls the recurring due-company tick.
type SchedulerConfig struct {
	Enabled         bool `mapstructure:"enabled"`
	IntervalSeconds int  `mapstructure:"interval_seconds"`
}

// ThresholdsConfig holds the product-tuned scoring constants.
type ThresholdsConfig struct {
	FinancialChange float64 `mapstructure:"financial_change"`
	Minor           float64 `mapstructure:"minor"`
	Moderate        float64 `mapstructure:"moderate"`
	Significant     float64 `mapstructure:"significant"`
	Critical        float64 `mapstructure:"critical"`
}

// StorageConfig selects and configures the blob backend.
type StorageConfig struct {
	Backend          string   `mapstructure:"backend"`
	BaseDownloadPath string   `mapstructure:"base_download_path"`
	Bucket           string   `mapstructure:"bucket"`
	S3               S3Config `mapstructure:"s3"`
}

// S3Config configures S3-compatible object storage.
type S3Config struct {
	Endpoint  string `mapstructure:"endpoint"`
	Region    string `mapstructure:"region"`
	AccessKey string `mapstructure:"access_key"`
	SecretKey string `mapstructure:"secret_key"`
	Bucket    string `mapstructure:"bucket"`
	UseSSL    bool   `mapstructure:"use_ssl"`
}

// DatabaseConfig controls access to the relational database.
type DatabaseConfig struct {
	DSN             string        `mapstructure:"dsn"`
	MaxConns        int32         `mapstructure:"max_conns"`
	MinConns        int32         `mapstructure:"min_conns"`
	MaxConnLifetime time.Duration `mapstructure:"max_conn_lifetime"`
	AutoMigrate     bool          `mapstructure:"auto_migrate"`
}

// LLMConfig configures the optional validation oracle.
type LLMConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Endpoint string `mapstructure:"endpoint"`
	APIKey   string `mapstructure:"api_key"`
	Model    string `mapstructure:"model"`
	MaxChars int    `mapstructure:"max_chars"`
}

// PubSubConfig holds metadata for change notifications.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	TopicName string `mapstructure:"topic_name"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("WEBWATCHER")
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
	v.SetDefault("auth.enabled", false)
	v.SetDefault("logging.development", true)
	v.SetDefault("http.user_agent", "webwatcher-agent/0.1")
	v.SetDefault("http.timeout_seconds", 20)
	v.SetDefault("http.max_retries", 3)
	v.SetDefault("http.backoff_min_ms", 1000)
	v.SetDefault("http.backoff_max_ms", 8000)
	v.SetDefault("http.max_body_mb", 64)
	v.SetDefault("http.respect_robots", false)
	v.SetDefault("rate_limit.per_minute", 12)
	v.SetDefault("crawler.max_depth", 2)
	v.SetDefault("crawler.max_pages", 50)
	v.SetDefault("pdf.max_file_size_mb", 40)
	v.SetDefault("scan.interval_minutes", 90)
	v.SetDefault("scan.idempotency_window_minutes", 30)
	v.SetDefault("scan.discover_ir", true)
	v.SetDefault("lock.ttl_seconds", 900)
	v.SetDefault("lock.ping_timeout_ms", 250)
	v.SetDefault("redis.url", "")
	v.SetDefault("worker.concurrency", 4)
	v.SetDefault("worker.queue_depth", 256)
	v.SetDefault("scheduler.enabled", true)
	v.SetDefault("scheduler.interval_seconds", 300)
	v.SetDefault("thresholds.financial_change", 0.02)
	v.SetDefault("thresholds.minor", 0.2)
	v.SetDefault("thresholds.moderate", 0.4)
	v.SetDefault("thresholds.significant", 0.7)
	v.SetDefault("thresholds.critical", 0.9)
	v.SetDefault("storage.backend", "local")
	v.SetDefault("storage.base_download_path", "downloads")
	v.SetDefault("storage.s3.region", "us-east-1")
	v.SetDefault("storage.s3.use_ssl", true)
	v.SetDefault("database.max_conns", 10)
	v.SetDefault("database.auto_migrate", false)
	v.SetDefault("llm.enabled", false)
	v.SetDefault("llm.model", "gpt-4o-mini")
	v.SetDefault("llm.max_chars", 12000)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Auth.Enabled && c.Auth.APIKey == "" {
		return fmt.Errorf("auth.api_key must be set when auth is enabled")
	}
	if c.HTTP.TimeoutSeconds <= 0 {
		return fmt.Errorf("http.timeout_seconds must be > 0")
	}
	if c.HTTP.MaxRetries <= 0 {
		return fmt.Errorf("http.max_retries must be > 0")
	}
	if c.HTTP.BackoffMaxMs < c.HTTP.BackoffMinMs {
		return fmt.Errorf("http.backoff_max_ms must be >= http.backoff_min_ms")
	}
	if c.RateLimit.PerMinute <= 0 {
		return fmt.Errorf("rate_limit.per_minute must be > 0")
	}
	if c.Crawler.MaxDepth < 0 || c.Crawler.MaxPages <= 0 {
		return fmt.Errorf("crawler.max_depth must be >= 0 and crawler.max_pages > 0")
	}
	if c.Scan.IntervalMinutes <= 0 {
		return fmt.Errorf("scan.interval_minutes must be > 0")
	}
	if c.Scan.IdempotencyWindowMinutes <= 0 || 60%c.Scan.IdempotencyWindowMinutes != 0 {
		return fmt.Errorf("scan.idempotency_window_minutes must divide 60")
	}
	if c.Lock.TTLSeconds <= 0 {
		return fmt.Errorf("lock.ttl_seconds must be > 0")
	}
	if c.Worker.Concurrency <= 0 {
		return fmt.Errorf("worker.concurrency must be > 0")
	}
	if c.Scheduler.Enabled && c.Scheduler.IntervalSeconds <= 0 {
		return fmt.Errorf("scheduler.interval_seconds must be > 0 when the scheduler is enabled")
	}
	if err := c.Thresholds.validate(); err != nil {
		return err
	}
	switch c.Storage.Backend {
	case "local", "memory":
	case "gcs":
		if c.Storage.Bucket == "" {
			return fmt.Errorf("storage.bucket must be set for the gcs backend")
		}
	case "s3":
		if c.Storage.S3.Bucket == "" {
			return fmt.Errorf("storage.s3.bucket must be set for the s3 backend")
		}
	default:
		return fmt.Errorf("storage.backend %q is not supported", c.Storage.Backend)
	}
	if c.LLM.Enabled && (c.LLM.Endpoint == "" || c.LLM.Model == "") {
		return fmt.Errorf("llm.endpoint and llm.model must be set when llm is enabled")
	}
	return nil
}

func (t ThresholdsConfig) validate() error {
	if t.FinancialChange < 0 {
		return fmt.Errorf("thresholds.financial_change must be >= 0")
	}
	if !(t.Minor <= t.Moderate && t.Moderate <= t.Significant && t.Significant <= t.Critical) {
		return fmt.Errorf("thresholds must ascend minor <= moderate <= significant <= critical")
	}
	if t.Minor < 0 || t.Critical > 1 {
		return fmt.Errorf("thresholds must lie within [0,1]")
	}
	return nil
}

// RequestTimeout converts the HTTP timeout into a duration.
func (c Config) RequestTimeout() time.Duration {
	return time.Duration(c.HTTP.TimeoutSeconds) * time.Second
}

// RateInterval is the minimum spacing between requests to one domain:
// 60/per_minute whole seconds, never less than one second.
func (c Config) RateInterval() time.Duration {
	seconds := 60 / c.RateLimit.PerMinute
	if seconds < 1 {
		seconds = 1
	}
	return time.Duration(seconds) * time.Second
}

// LockTTL returns the company lock lifetime.
func (c Config) LockTTL() time.Duration {
	return time.Duration(c.Lock.TTLSeconds) * time.Second
}

// MaxPDFBytes returns the document size ceiling in bytes.
func (c Config) MaxPDFBytes() int64 {
	return int64(c.PDF.MaxFileSizeMB) * 1024 * 1024
}
