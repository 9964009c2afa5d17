// Package config loads service configuration from the environment via viper.
// An optional .env or config.env file in the working directory is read first;
// environment variables take precedence.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Storage drivers.
const (
	DriverPostgres = "postgres"
	DriverMemory   = "memory"
)

// Config groups all settings of the server, worker and seed commands.
type Config struct {
	App    AppConfig
	HTTP   HTTPConfig
	DB     DBConfig
	Redis  RedisConfig
	Recalc RecalcConfig
	Ledger LedgerConfig
	Worker WorkerConfig
	Seed   SeedConfig
}

// AppConfig holds general settings.
type AppConfig struct {
	Env      string // development, staging, production
	LogLevel string
}

// IsDevelopment reports whether the development logger should be used.
func (c AppConfig) IsDevelopment() bool {
	return c.Env == "development"
}

// HTTPConfig configures the API server.
type HTTPConfig struct {
	Host            string
	Port            int
	ShutdownTimeout time.Duration

	// CORSOrigins is a comma-separated HTTP_CORS_ORIGINS; "*" allows any origin.
	CORSOrigins []string
}

// Addr returns host:port.
func (c HTTPConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// DBConfig selects and configures the storage backend.
type DBConfig struct {
	Driver      string
	DatabaseURL string
	MaxConns    int

	// ItemCacheTTL bounds how long item master rows are cached; zero disables the cache.
	ItemCacheTTL time.Duration
}

// RedisConfig enables the distributed cascade locker when Address is set.
type RedisConfig struct {
	Address  string
	Password string
}

// Enabled reports whether a redis address was configured.
func (c RedisConfig) Enabled() bool {
	return c.Address != ""
}

// RecalcConfig tunes the cascade and its dispatcher.
type RecalcConfig struct {
	Workers        int
	MaxRetries     int
	RetryBackoff   time.Duration
	CascadeTimeout time.Duration
	MaxChainDays   int
	// AdvisoryLock serializes cascades with PostgreSQL advisory locks when
	// redis is not configured.
	AdvisoryLock bool
}

// LedgerConfig holds posting rules.
type LedgerConfig struct {
	AllowNegativeStock bool
	IdempotencyTTL     time.Duration

	// StockCountPrefix numbers stock counts posted without a document number.
	StockCountPrefix string
}

// WorkerConfig tunes the backlog replay worker.
type WorkerConfig struct {
	PollInterval     time.Duration
	BatchSize        int
	BacklogRetry     time.Duration
	JournalRetention time.Duration
}

// SeedConfig points at CSV files imported by the seed command. The memory
// driver loads them at startup.
type SeedConfig struct {
	ItemsFile  string
	LedgerFile string
}

// Load reads configuration from the environment and optional env files.
func Load() (*Config, error) {
	v := viper.New()

	v.SetConfigName(".env")
	v.SetConfigType("env")
	v.AddConfigPath(".")
	_ = v.ReadInConfig()

	v.SetConfigName("config")
	v.AddConfigPath("./config")
	_ = v.ReadInConfig()

	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	setDefaults(v)

	cfg := &Config{
		App: AppConfig{
			Env:      v.GetString("APP_ENV"),
			LogLevel: v.GetString("LOG_LEVEL"),
		},
		HTTP: HTTPConfig{
			Host:            v.GetString("HTTP_HOST"),
			Port:            v.GetInt("HTTP_PORT"),
			ShutdownTimeout: v.GetDuration("HTTP_SHUTDOWN_TIMEOUT"),
			CORSOrigins:     splitList(v.GetString("HTTP_CORS_ORIGINS")),
		},
		DB: DBConfig{
			Driver:       strings.ToLower(v.GetString("STORAGE_DRIVER")),
			DatabaseURL:  v.GetString("DATABASE_URL"),
			MaxConns:     v.GetInt("DB_MAX_CONNS"),
			ItemCacheTTL: v.GetDuration("ITEM_CACHE_TTL"),
		},
		Redis: RedisConfig{
			Address:  v.GetString("REDIS_ADDRESS"),
			Password: v.GetString("REDIS_PASSWORD"),
		},
		Recalc: RecalcConfig{
			Workers:        v.GetInt("RECALC_WORKERS"),
			MaxRetries:     v.GetInt("RECALC_MAX_RETRIES"),
			RetryBackoff:   v.GetDuration("RECALC_RETRY_BACKOFF"),
			CascadeTimeout: v.GetDuration("RECALC_CASCADE_TIMEOUT"),
			MaxChainDays:   v.GetInt("RECALC_MAX_CHAIN_DAYS"),
			AdvisoryLock:   v.GetBool("RECALC_ADVISORY_LOCK"),
		},
		Ledger: LedgerConfig{
			AllowNegativeStock: v.GetBool("ALLOW_NEGATIVE_STOCK"),
			IdempotencyTTL:     v.GetDuration("IDEMPOTENCY_TTL"),
			StockCountPrefix:   v.GetString("STOCK_COUNT_PREFIX"),
		},
		Worker: WorkerConfig{
			PollInterval:     v.GetDuration("WORKER_POLL_INTERVAL"),
			BatchSize:        v.GetInt("WORKER_BATCH_SIZE"),
			BacklogRetry:     v.GetDuration("BACKLOG_RETRY_DELAY"),
			JournalRetention: v.GetDuration("JOURNAL_RETENTION"),
		},
		Seed: SeedConfig{
			ItemsFile:  v.GetString("SEED_ITEMS_FILE"),
			LedgerFile: v.GetString("SEED_LEDGER_FILE"),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("APP_ENV", "development")
	v.SetDefault("LOG_LEVEL", "info")

	v.SetDefault("HTTP_HOST", "0.0.0.0")
	v.SetDefault("HTTP_PORT", 8080)
	v.SetDefault("HTTP_SHUTDOWN_TIMEOUT", 30*time.Second)

	v.SetDefault("STORAGE_DRIVER", DriverPostgres)
	v.SetDefault("DB_MAX_CONNS", 25)
	v.SetDefault("ITEM_CACHE_TTL", 10*time.Minute)

	v.SetDefault("RECALC_WORKERS", 4)
	v.SetDefault("RECALC_MAX_RETRIES", 3)
	v.SetDefault("RECALC_RETRY_BACKOFF", 500*time.Millisecond)
	v.SetDefault("RECALC_CASCADE_TIMEOUT", 2*time.Minute)
	v.SetDefault("RECALC_MAX_CHAIN_DAYS", 3660)
	v.SetDefault("RECALC_ADVISORY_LOCK", true)

	v.SetDefault("ALLOW_NEGATIVE_STOCK", false)
	v.SetDefault("IDEMPOTENCY_TTL", 24*time.Hour)
	v.SetDefault("STOCK_COUNT_PREFIX", "SO")

	v.SetDefault("WORKER_POLL_INTERVAL", 30*time.Second)
	v.SetDefault("WORKER_BATCH_SIZE", 50)
	v.SetDefault("BACKLOG_RETRY_DELAY", time.Minute)
	v.SetDefault("JOURNAL_RETENTION", 90*24*time.Hour)
}

// Validate checks settings that have no safe fallback.
func (c *Config) Validate() error {
	switch c.DB.Driver {
	case DriverPostgres:
		if c.DB.DatabaseURL == "" {
			return fmt.Errorf("DATABASE_URL is required for storage driver %q", DriverPostgres)
		}
	case DriverMemory:
	default:
		return fmt.Errorf("unknown STORAGE_DRIVER %q", c.DB.Driver)
	}

	if c.Recalc.Workers <= 0 {
		return fmt.Errorf("RECALC_WORKERS must be positive, got %d", c.Recalc.Workers)
	}
	// the redis lock TTL is derived from the cascade timeout
	if c.Recalc.CascadeTimeout <= 0 {
		return fmt.Errorf("RECALC_CASCADE_TIMEOUT must be positive, got %s", c.Recalc.CascadeTimeout)
	}
	if c.Recalc.MaxRetries < 0 {
		return fmt.Errorf("RECALC_MAX_RETRIES must not be negative, got %d", c.Recalc.MaxRetries)
	}
	return nil
}
