// Package storage holds the persistence configuration shared by every
// binary: the PostgreSQL primary and replicas all services write and read
// through, and the Redis instance backing the statement snapshot cache.
package storage

import "time"

// Config holds storage configuration
type Config struct {
	// PostgreSQL
	PostgresURL         string
	PostgresReplicaURLs string
	PostgresMaxConns    int
	PostgresMinConns    int
	PostgresTimeout     time.Duration
	PostgresMaxLifetime time.Duration
	PostgresMaxIdleTime time.Duration

	// Redis (statement snapshot cache)
	RedisURL    string
	SnapshotTTL time.Duration

	// In-process plan cache
	PlanCacheSize int
}

// DefaultConfig returns the default storage configuration
func DefaultConfig() Config {
	return Config{
		PostgresMaxConns:    25,
		PostgresMinConns:    5,
		PostgresTimeout:     10 * time.Second,
		PostgresMaxLifetime: 30 * time.Minute,
		PostgresMaxIdleTime: 5 * time.Minute,
		SnapshotTTL:         24 * time.Hour,
		PlanCacheSize:       512,
	}
}
