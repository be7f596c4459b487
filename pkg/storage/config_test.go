package storage

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.Empty(t, cfg.PostgresURL, "connection URLs have no default")
	assert.Equal(t, 25, cfg.PostgresMaxConns)
	assert.Equal(t, 5, cfg.PostgresMinConns)
	assert.Equal(t, 10*time.Second, cfg.PostgresTimeout)
	assert.Equal(t, 30*time.Minute, cfg.PostgresMaxLifetime)
	assert.Equal(t, 5*time.Minute, cfg.PostgresMaxIdleTime)
	assert.Equal(t, 24*time.Hour, cfg.SnapshotTTL)
	assert.Equal(t, 512, cfg.PlanCacheSize)
}
