package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/abacus/pkg/observability"
)

// setValidEnv sets the minimum environment for LoadConfig to pass validation.
func setValidEnv(t *testing.T) {
	t.Helper()
	t.Setenv("ABACUS_POSTGRES_URL", "postgres://localhost/abacus_test")
	t.Setenv("ABACUS_DEFAULT_PROVIDER_ORG", "1")
}

func TestLoadConfigDefaults(t *testing.T) {
	setValidEnv(t)

	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, "0.0.0.0", cfg.Server.Host)
	assert.Equal(t, "8080", cfg.Server.Port)
	assert.Equal(t, "9090", cfg.Server.HealthPort)
	assert.Equal(t, 15*time.Second, cfg.Server.ReadTimeout)
	assert.Equal(t, 30*time.Second, cfg.Server.ShutdownTimeout)

	assert.Equal(t, 25, cfg.Storage.PostgresMaxConns)
	assert.Equal(t, 24*time.Hour, cfg.Storage.SnapshotTTL)
	assert.Equal(t, 512, cfg.Storage.PlanCacheSize)

	assert.Equal(t, "*/15 * * * *", cfg.Billing.RenewalSchedule)
	assert.Equal(t, "*/5 * * * *", cfg.Billing.CompletionSchedule)
	assert.Equal(t, 500, cfg.Billing.RenewalBatchSize)
	assert.Equal(t, 8, cfg.Billing.CompletionConcurrency)
	assert.Equal(t, "fake", cfg.Billing.ProcessorMode)

	assert.Equal(t, observability.InfoLevel, cfg.Observability.LogLevel)
	assert.True(t, cfg.Observability.MetricsEnabled)
	assert.False(t, cfg.Observability.OTelEnabled)
}

func TestLoadConfigOverrides(t *testing.T) {
	setValidEnv(t)
	t.Setenv("ABACUS_HEALTH_PORT", "9999")
	t.Setenv("ABACUS_READ_TIMEOUT", "45s")
	t.Setenv("ABACUS_POSTGRES_MAX_CONNS", "50")
	t.Setenv("ABACUS_REDIS_URL", "redis://localhost:6379")
	t.Setenv("ABACUS_SNAPSHOT_TTL", "1h")
	t.Setenv("ABACUS_DEFAULT_PROVIDER_ORG", "42")
	t.Setenv("ABACUS_RENEWAL_SCHEDULE", "0 * * * *")
	t.Setenv("ABACUS_LOG_LEVEL", "debug")

	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, "9999", cfg.Server.HealthPort)
	assert.Equal(t, 45*time.Second, cfg.Server.ReadTimeout)
	assert.Equal(t, 50, cfg.Storage.PostgresMaxConns)
	assert.Equal(t, "redis://localhost:6379", cfg.Storage.RedisURL)
	assert.Equal(t, time.Hour, cfg.Storage.SnapshotTTL)
	assert.Equal(t, int64(42), cfg.Billing.DefaultProviderOrgID)
	assert.Equal(t, "0 * * * *", cfg.Billing.RenewalSchedule)
	assert.Equal(t, observability.DebugLevel, cfg.Observability.LogLevel)
}

func TestLoadConfigBadValuesFallBack(t *testing.T) {
	setValidEnv(t)
	t.Setenv("ABACUS_READ_TIMEOUT", "not-a-duration")
	t.Setenv("ABACUS_RENEWAL_BATCH_SIZE", "not-a-number")
	t.Setenv("ABACUS_LOG_LEVEL", "shouting")

	cfg, err := LoadConfig()
	require.NoError(t, err)
	assert.Equal(t, 15*time.Second, cfg.Server.ReadTimeout)
	assert.Equal(t, 500, cfg.Billing.RenewalBatchSize)
	assert.Equal(t, observability.InfoLevel, cfg.Observability.LogLevel)
}

func TestValidateMissingPostgresURL(t *testing.T) {
	t.Setenv("ABACUS_DEFAULT_PROVIDER_ORG", "1")
	t.Setenv("ABACUS_POSTGRES_URL", "")

	_, err := LoadConfig()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "postgres URL")
}

func TestValidateMissingProviderOrg(t *testing.T) {
	t.Setenv("ABACUS_POSTGRES_URL", "postgres://localhost/abacus_test")
	t.Setenv("ABACUS_DEFAULT_PROVIDER_ORG", "")

	_, err := LoadConfig()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "default provider organization")
}

func TestValidatePortClash(t *testing.T) {
	setValidEnv(t)
	t.Setenv("ABACUS_PORT", "8080")
	t.Setenv("ABACUS_HEALTH_PORT", "8080")

	_, err := LoadConfig()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "must be different")
}

func TestValidateProcessorModes(t *testing.T) {
	setValidEnv(t)

	t.Setenv("ABACUS_PROCESSOR_MODE", "gateway")
	_, err := LoadConfig()
	require.Error(t, err, "gateway mode without URL and key must be rejected")

	t.Setenv("ABACUS_PROCESSOR_URL", "https://payments.example.com")
	t.Setenv("ABACUS_PROCESSOR_KEY", "sk_test")
	cfg, err := LoadConfig()
	require.NoError(t, err)
	assert.Equal(t, "gateway", cfg.Billing.ProcessorMode)

	t.Setenv("ABACUS_PROCESSOR_MODE", "paypal")
	_, err = LoadConfig()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid processor mode")
}

func TestValidateOTel(t *testing.T) {
	setValidEnv(t)
	t.Setenv("ABACUS_OTEL_ENABLED", "true")
	t.Setenv("ABACUS_OTEL_ENDPOINT", "")

	_, err := LoadConfig()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "OpenTelemetry endpoint")
}

func TestSetButEmptyEnvIsNotDefaulted(t *testing.T) {
	setValidEnv(t)
	t.Setenv("ABACUS_HOST", "")

	cfg, err := LoadConfig()
	require.NoError(t, err)
	assert.Empty(t, cfg.Server.Host, "an explicitly empty value must not fall back to the default")
}

func TestParseLogLevel(t *testing.T) {
	tests := []struct {
		in   string
		want observability.LogLevel
	}{
		{"debug", observability.DebugLevel},
		{"info", observability.InfoLevel},
		{"warn", observability.WarnLevel},
		{"warning", observability.WarnLevel},
		{"ERROR", observability.ErrorLevel},
		{"", observability.InfoLevel},
		{"garbage", observability.InfoLevel},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, parseLogLevel(tt.in), "level %q", tt.in)
	}
}
