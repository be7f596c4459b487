package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/platinummonkey/abacus/pkg/observability"
	"github.com/platinummonkey/abacus/pkg/storage"
)

// Config holds all application configuration
type Config struct {
	// Server configuration
	Server ServerConfig

	// Storage configuration
	Storage storage.Config

	// Billing configuration
	Billing BillingConfig

	// Observability configuration
	Observability ObservabilityConfig
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host            string
	Port            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration

	// Health/metrics server (separate port for k8s probes)
	HealthPort string
}

// BillingConfig holds billing-platform settings
type BillingConfig struct {
	// DefaultProviderOrgID is the platform's own organization, the provider
	// of record for plans created without an explicit owner. It must be set
	// explicitly; there is no magic broker row.
	DefaultProviderOrgID int64

	// RenewalSchedule is the cron expression of the renewal sweep
	RenewalSchedule string
	// CompletionSchedule is the cron expression of the charge-completion sweep
	CompletionSchedule string
	// RenewalBatchSize caps the subscriptions picked up per sweep
	RenewalBatchSize int
	// CompletionConcurrency bounds parallel processor lookups
	CompletionConcurrency int

	// CatalogPath optionally points at a YAML plan catalog to load and watch
	CatalogPath string

	// Processor settings. Mode "fake" runs the in-memory backend.
	ProcessorMode string
	ProcessorURL  string
	ProcessorKey  string
}

// ObservabilityConfig holds observability settings
type ObservabilityConfig struct {
	// Logging
	LogLevel observability.LogLevel

	// Metrics
	MetricsEnabled bool

	// OpenTelemetry
	OTelEnabled        bool
	OTelEndpoint       string
	OTelServiceName    string
	OTelServiceVersion string
	OTelInsecure       bool // Use insecure gRPC connection
}

// LoadConfig loads configuration from environment variables
func LoadConfig() (*Config, error) {
	cfg := &Config{
		Server:        loadServerConfig(),
		Storage:       loadStorageConfig(),
		Billing:       loadBillingConfig(),
		Observability: loadObservabilityConfig(),
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// loadServerConfig loads server configuration from environment
func loadServerConfig() ServerConfig {
	return ServerConfig{
		Host:            getEnv("ABACUS_HOST", "0.0.0.0"),
		Port:            getEnv("ABACUS_PORT", "8080"),
		ReadTimeout:     getEnvDuration("ABACUS_READ_TIMEOUT", 15*time.Second),
		WriteTimeout:    getEnvDuration("ABACUS_WRITE_TIMEOUT", 15*time.Second),
		IdleTimeout:     getEnvDuration("ABACUS_IDLE_TIMEOUT", 60*time.Second),
		ShutdownTimeout: getEnvDuration("ABACUS_SHUTDOWN_TIMEOUT", 30*time.Second),
		HealthPort:      getEnv("ABACUS_HEALTH_PORT", "9090"),
	}
}

// loadStorageConfig loads storage configuration from environment
func loadStorageConfig() storage.Config {
	cfg := storage.DefaultConfig()

	if pgURL := getEnv("ABACUS_POSTGRES_URL", ""); pgURL != "" {
		cfg.PostgresURL = pgURL
	}
	if replicaURLs := getEnv("ABACUS_POSTGRES_REPLICA_URLS", ""); replicaURLs != "" {
		cfg.PostgresReplicaURLs = replicaURLs
	}
	if maxConns := getEnvInt("ABACUS_POSTGRES_MAX_CONNS", 0); maxConns > 0 {
		cfg.PostgresMaxConns = maxConns
	}
	if minConns := getEnvInt("ABACUS_POSTGRES_MIN_CONNS", 0); minConns > 0 {
		cfg.PostgresMinConns = minConns
	}
	if timeout := getEnvDuration("ABACUS_POSTGRES_TIMEOUT", 0); timeout > 0 {
		cfg.PostgresTimeout = timeout
	}

	if redisURL := getEnv("ABACUS_REDIS_URL", ""); redisURL != "" {
		cfg.RedisURL = redisURL
	}
	if ttl := getEnvDuration("ABACUS_SNAPSHOT_TTL", 0); ttl > 0 {
		cfg.SnapshotTTL = ttl
	}
	if size := getEnvInt("ABACUS_PLAN_CACHE_SIZE", 0); size > 0 {
		cfg.PlanCacheSize = size
	}

	return cfg
}

// loadBillingConfig loads billing configuration from environment
func loadBillingConfig() BillingConfig {
	return BillingConfig{
		DefaultProviderOrgID:  getEnvInt64("ABACUS_DEFAULT_PROVIDER_ORG", 0),
		RenewalSchedule:       getEnv("ABACUS_RENEWAL_SCHEDULE", "*/15 * * * *"),
		CompletionSchedule:    getEnv("ABACUS_COMPLETION_SCHEDULE", "*/5 * * * *"),
		RenewalBatchSize:      getEnvInt("ABACUS_RENEWAL_BATCH_SIZE", 500),
		CompletionConcurrency: getEnvInt("ABACUS_COMPLETION_CONCURRENCY", 8),
		CatalogPath:           getEnv("ABACUS_CATALOG_PATH", ""),
		ProcessorMode:         getEnv("ABACUS_PROCESSOR_MODE", "fake"),
		ProcessorURL:          getEnv("ABACUS_PROCESSOR_URL", ""),
		ProcessorKey:          getEnv("ABACUS_PROCESSOR_KEY", ""),
	}
}

// loadObservabilityConfig loads observability configuration from environment
func loadObservabilityConfig() ObservabilityConfig {
	return ObservabilityConfig{
		LogLevel:           parseLogLevel(getEnv("ABACUS_LOG_LEVEL", "info")),
		MetricsEnabled:     getEnvBool("ABACUS_METRICS_ENABLED", true),
		OTelEnabled:        getEnvBool("ABACUS_OTEL_ENABLED", false),
		OTelEndpoint:       getEnv("ABACUS_OTEL_ENDPOINT", "localhost:4317"),
		OTelServiceName:    getEnv("ABACUS_OTEL_SERVICE_NAME", "abacus-biller"),
		OTelServiceVersion: getEnv("ABACUS_OTEL_SERVICE_VERSION", "1.0.0"),
		OTelInsecure:       getEnvBool("ABACUS_OTEL_INSECURE", true),
	}
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Server.Port == "" {
		return fmt.Errorf("server port is required")
	}
	if c.Server.HealthPort == "" {
		return fmt.Errorf("health port is required")
	}
	if c.Server.Port == c.Server.HealthPort {
		return fmt.Errorf("server port and health port must be different")
	}

	if c.Storage.PostgresURL == "" {
		return fmt.Errorf("postgres URL is required")
	}

	if c.Billing.DefaultProviderOrgID <= 0 {
		return fmt.Errorf("default provider organization is required")
	}
	switch c.Billing.ProcessorMode {
	case "fake":
	case "gateway":
		if c.Billing.ProcessorURL == "" {
			return fmt.Errorf("processor URL is required in gateway mode")
		}
		if c.Billing.ProcessorKey == "" {
			return fmt.Errorf("processor key is required in gateway mode")
		}
	default:
		return fmt.Errorf("invalid processor mode: %s (must be fake or gateway)", c.Billing.ProcessorMode)
	}

	if c.Observability.OTelEnabled {
		if c.Observability.OTelEndpoint == "" {
			return fmt.Errorf("OpenTelemetry endpoint is required when OTel is enabled")
		}
		if c.Observability.OTelServiceName == "" {
			return fmt.Errorf("OpenTelemetry service name is required when OTel is enabled")
		}
	}

	return nil
}

// parseLogLevel parses a log level string
func parseLogLevel(level string) observability.LogLevel {
	switch strings.ToLower(level) {
	case "debug":
		return observability.DebugLevel
	case "info":
		return observability.InfoLevel
	case "warn", "warning":
		return observability.WarnLevel
	case "error":
		return observability.ErrorLevel
	default:
		return observability.InfoLevel
	}
}

// getEnv returns an environment variable value or a default
func getEnv(key, defaultValue string) string {
	// Set-but-empty is an explicit value, not an invitation to fall back;
	// Validate decides whether empty is acceptable.
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return defaultValue
}

// getEnvBool returns a boolean environment variable or a default
func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		return strings.ToLower(value) == "true" || value == "1"
	}
	return defaultValue
}

// getEnvInt returns an integer environment variable or a default
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

// getEnvInt64 returns an int64 environment variable or a default
func getEnvInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.ParseInt(value, 10, 64); err == nil {
			return intVal
		}
	}
	return defaultValue
}

// getEnvDuration returns a duration environment variable or a default
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}
