// Package config provides application configuration management from environment variables.
//
// # Overview
//
// This package loads and validates configuration from environment variables with
// sensible defaults for all settings. All variables are prefixed ABACUS_.
//
// # Configuration Structure
//
// Server settings:
//
//	ABACUS_HOST="0.0.0.0"
//	ABACUS_PORT="8080"
//	ABACUS_HEALTH_PORT="9090"
//	ABACUS_READ_TIMEOUT="15s"
//	ABACUS_WRITE_TIMEOUT="15s"
//
// Storage settings:
//
//	ABACUS_POSTGRES_URL="postgres://localhost/abacus"
//	ABACUS_POSTGRES_REPLICA_URLS="postgres://replica1/abacus,postgres://replica2/abacus"
//	ABACUS_POSTGRES_MAX_CONNS="20"
//	ABACUS_REDIS_URL="redis://localhost:6379"
//	ABACUS_SNAPSHOT_TTL="24h"
//	ABACUS_PLAN_CACHE_SIZE="1024"
//
// Billing settings:
//
//	ABACUS_DEFAULT_PROVIDER_ORG="1"
//	ABACUS_RENEWAL_SCHEDULE="*/15 * * * *"
//	ABACUS_COMPLETION_SCHEDULE="*/5 * * * *"
//	ABACUS_CATALOG_PATH="/etc/abacus/catalog.yaml"
//	ABACUS_PROCESSOR_MODE="fake"  # fake, gateway
//	ABACUS_PROCESSOR_URL="https://payments.example.com"
//	ABACUS_PROCESSOR_KEY="sk_live_..."
//
// Observability settings:
//
//	ABACUS_LOG_LEVEL="info"  # debug, info, warn, error
//	ABACUS_METRICS_ENABLED="true"
//	ABACUS_OTEL_ENABLED="false"
//	ABACUS_OTEL_ENDPOINT="otel-collector:4317"
//
// # Usage Example
//
// Load configuration:
//
//	cfg, err := config.LoadConfig()
//	if err != nil {
//		log.Fatal(err)
//	}
//
//	fmt.Printf("Health server: %s:%s\n", cfg.Server.Host, cfg.Server.HealthPort)
//	fmt.Printf("Renewal schedule: %s\n", cfg.Billing.RenewalSchedule)
//
// # Related Packages
//
//   - pkg/storage: Uses storage configuration
//   - pkg/observability: Uses observability configuration
package config
