package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/vipul43/ledgersync/internal/models"
)

type Config struct {
	DatabaseURL     string
	PollInterval    time.Duration
	MaxRetries      int
	ShutdownTimeout time.Duration
	HTTPAddr        string
	LogLevel        string
	RedisURL        string
	KafkaBrokers    []string
	KafkaTopic      string

	Xero     XeroConfig
	Token    TokenConfig
	Provider ProviderConfig
	Import   ImportConfig
	Sync     SyncConfig
	Queues   []QueueConfig

	// Warnings collected while loading; the binary logs them once a logger exists.
	Warnings []string
}

type XeroConfig struct {
	ClientID     string
	ClientSecret string
	TokenURL     string
	APIBaseURL   string
	HTTPTimeout  time.Duration
}

type TokenConfig struct {
	RefreshBuffer          time.Duration
	MaxConsecutiveFailures int
	LockTTL                time.Duration
}

type ProviderConfig struct {
	RequestsPerSecond   int
	RequestsPerMinute   int
	RateLimitRetryDelay time.Duration
	MaxAttempts         int
	PageSize            int
	MaxPages            int
}

type ImportConfig struct {
	ChunkSize         int
	MaxRecordedIssues int
}

type SyncConfig struct {
	JobTimeout        time.Duration
	ReconcileInterval time.Duration
}

type QueueConfig struct {
	Name        string        `yaml:"name"`
	Concurrency int           `yaml:"concurrency"`
	MaxAttempts int           `yaml:"max_attempts"`
	BaseDelay   time.Duration `yaml:"base_delay"`
}

// Default returns a configuration with every limit at its documented default.
// DatabaseURL is left empty.
func Default() *Config {
	return &Config{
		PollInterval:    2 * time.Second,
		MaxRetries:      3,
		ShutdownTimeout: 30 * time.Second,
		HTTPAddr:        ":8080",
		LogLevel:        "info",
		KafkaTopic:      "ledgersync.events",
		Xero: XeroConfig{
			TokenURL:    "https://identity.xero.com/connect/token",
			APIBaseURL:  "https://api.xero.com/api.xro/2.0",
			HTTPTimeout: 30 * time.Second,
		},
		Token: TokenConfig{
			RefreshBuffer:          300 * time.Second,
			MaxConsecutiveFailures: 10,
			LockTTL:                30 * time.Second,
		},
		Provider: ProviderConfig{
			RequestsPerSecond:   5,
			RequestsPerMinute:   60,
			RateLimitRetryDelay: 500 * time.Millisecond,
			MaxAttempts:         3,
			PageSize:            100,
			MaxPages:            100,
		},
		Import: ImportConfig{
			ChunkSize:         50,
			MaxRecordedIssues: 200,
		},
		Sync: SyncConfig{
			JobTimeout:        60 * time.Minute,
			ReconcileInterval: 5 * time.Minute,
		},
		Queues: []QueueConfig{
			{Name: models.QueueOrchestrator, Concurrency: 3, MaxAttempts: 3, BaseDelay: 2 * time.Second},
			{Name: models.QueueAccounts, Concurrency: 2, MaxAttempts: 3, BaseDelay: 1 * time.Second},
			{Name: models.QueueSuppliers, Concurrency: 2, MaxAttempts: 3, BaseDelay: 1 * time.Second},
			{Name: models.QueueInvoices, Concurrency: 3, MaxAttempts: 5, BaseDelay: 5 * time.Second},
			{Name: models.QueueBankTransactions, Concurrency: 2, MaxAttempts: 5, BaseDelay: 5 * time.Second},
			{Name: models.QueueManualJournals, Concurrency: 2, MaxAttempts: 3, BaseDelay: 5 * time.Second},
		},
	}
}

// Load reads configuration from environment variables
func Load() (*Config, error) {
	// Load .env file if exists (ignore error in production)
	_ = godotenv.Load()

	dbURL := os.Getenv("DATABASE_URL")
	if dbURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}

	cfg := Default()
	cfg.DatabaseURL = dbURL
	cfg.PollInterval = getDuration("POLL_INTERVAL", cfg.PollInterval)
	cfg.MaxRetries = getIntEnv("MAX_RETRIES", cfg.MaxRetries)
	cfg.ShutdownTimeout = getDuration("SHUTDOWN_TIMEOUT", cfg.ShutdownTimeout)
	cfg.HTTPAddr = getEnv("HTTP_ADDR", cfg.HTTPAddr)
	cfg.LogLevel = getEnv("LOG_LEVEL", cfg.LogLevel)
	cfg.RedisURL = getEnv("REDIS_URL", "")
	cfg.KafkaBrokers = getStringSliceEnv("KAFKA_BROKERS", nil)
	cfg.KafkaTopic = getEnv("KAFKA_TOPIC", cfg.KafkaTopic)

	cfg.Xero.ClientID = os.Getenv("XERO_CLIENT_ID")
	cfg.Xero.ClientSecret = os.Getenv("XERO_CLIENT_SECRET")
	cfg.Xero.TokenURL = getEnv("XERO_TOKEN_URL", cfg.Xero.TokenURL)
	cfg.Xero.APIBaseURL = getEnv("XERO_API_BASE_URL", cfg.Xero.APIBaseURL)
	cfg.Xero.HTTPTimeout = getDuration("XERO_HTTP_TIMEOUT", cfg.Xero.HTTPTimeout)
	if cfg.Xero.ClientID == "" || cfg.Xero.ClientSecret == "" {
		cfg.Warnings = append(cfg.Warnings, "XERO_CLIENT_ID or XERO_CLIENT_SECRET not set, token refresh will not work")
	}

	cfg.Token.RefreshBuffer = getDuration("TOKEN_REFRESH_BUFFER", cfg.Token.RefreshBuffer)
	cfg.Token.MaxConsecutiveFailures = getIntEnv("TOKEN_MAX_CONSECUTIVE_FAILURES", cfg.Token.MaxConsecutiveFailures)
	cfg.Token.LockTTL = getDuration("TOKEN_LOCK_TTL", cfg.Token.LockTTL)

	cfg.Provider.RequestsPerSecond = getIntEnv("PROVIDER_REQUESTS_PER_SECOND", cfg.Provider.RequestsPerSecond)
	cfg.Provider.RequestsPerMinute = getIntEnv("PROVIDER_REQUESTS_PER_MINUTE", cfg.Provider.RequestsPerMinute)
	cfg.Provider.RateLimitRetryDelay = getDuration("PROVIDER_RATE_LIMIT_RETRY_DELAY", cfg.Provider.RateLimitRetryDelay)
	cfg.Provider.MaxAttempts = getIntEnv("PROVIDER_MAX_ATTEMPTS", cfg.Provider.MaxAttempts)
	cfg.Provider.PageSize = getIntEnv("PROVIDER_PAGE_SIZE", cfg.Provider.PageSize)
	cfg.Provider.MaxPages = getIntEnv("PROVIDER_MAX_PAGES", cfg.Provider.MaxPages)

	cfg.Import.ChunkSize = getIntEnv("IMPORT_CHUNK_SIZE", cfg.Import.ChunkSize)
	cfg.Import.MaxRecordedIssues = getIntEnv("IMPORT_MAX_RECORDED_ISSUES", cfg.Import.MaxRecordedIssues)

	cfg.Sync.JobTimeout = getDuration("SYNC_JOB_TIMEOUT", cfg.Sync.JobTimeout)
	cfg.Sync.ReconcileInterval = getDuration("SYNC_RECONCILE_INTERVAL", cfg.Sync.ReconcileInterval)

	if path := os.Getenv("SYNC_CONFIG_FILE"); path != "" {
		if err := cfg.applyFile(path); err != nil {
			return nil, err
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// fileOverrides is the YAML shape accepted by SYNC_CONFIG_FILE.
type fileOverrides struct {
	Queues []QueueConfig `yaml:"queues"`
}

func (c *Config) applyFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}
	return c.applyOverrides(data)
}

func (c *Config) applyOverrides(data []byte) error {
	var overrides fileOverrides
	if err := yaml.Unmarshal(data, &overrides); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}

	for _, override := range overrides.Queues {
		q := c.queueRef(override.Name)
		if q == nil {
			return fmt.Errorf("unknown queue in config file: %q", override.Name)
		}
		if override.Concurrency > 0 {
			q.Concurrency = override.Concurrency
		}
		if override.MaxAttempts > 0 {
			q.MaxAttempts = override.MaxAttempts
		}
		if override.BaseDelay > 0 {
			q.BaseDelay = override.BaseDelay
		}
	}
	return nil
}

// Validate rejects limits that would stall or spin the sync engine.
func (c *Config) Validate() error {
	switch {
	case c.Token.RefreshBuffer < 0:
		return fmt.Errorf("token refresh buffer must not be negative")
	case c.Token.MaxConsecutiveFailures <= 0:
		return fmt.Errorf("token max consecutive failures must be positive")
	case c.Provider.RequestsPerSecond <= 0 || c.Provider.RequestsPerMinute <= 0:
		return fmt.Errorf("provider request limits must be positive")
	case c.Provider.MaxAttempts <= 0:
		return fmt.Errorf("provider max attempts must be positive")
	case c.Provider.PageSize <= 0 || c.Provider.MaxPages <= 0:
		return fmt.Errorf("provider page size and max pages must be positive")
	case c.Import.ChunkSize <= 0:
		return fmt.Errorf("import chunk size must be positive")
	case c.Sync.JobTimeout <= 0:
		return fmt.Errorf("sync job timeout must be positive")
	}

	for _, q := range c.Queues {
		if q.Concurrency <= 0 || q.MaxAttempts <= 0 {
			return fmt.Errorf("queue %s: concurrency and max attempts must be positive", q.Name)
		}
	}
	return nil
}

// Queue returns the settings for the named queue. Unknown names get a
// single-worker, single-attempt configuration.
func (c *Config) Queue(name string) QueueConfig {
	if q := c.queueRef(name); q != nil {
		return *q
	}
	return QueueConfig{Name: name, Concurrency: 1, MaxAttempts: 1, BaseDelay: time.Second}
}

func (c *Config) queueRef(name string) *QueueConfig {
	for i := range c.Queues {
		if c.Queues[i].Name == name {
			return &c.Queues[i]
		}
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getStringSliceEnv(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func getDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}
