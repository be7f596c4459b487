// Package observability provides structured logging, Prometheus metrics, and OpenTelemetry tracing.
//
// # Overview
//
// This package centralizes observability infrastructure: JSON logging over
// slog, Prometheus metrics for the billing pipeline, health checks, graceful
// shutdown, and OTLP trace export.
//
// # Structured Logging
//
// Create logger:
//
//	logger := observability.NewLogger(observability.InfoLevel, os.Stdout)
//	logger.Info("biller started")
//
// Context-aware logging:
//
//	logger.WithField("charge_id", id).WithError(err).Warn("processor declined charge")
//
// # Prometheus Metrics
//
// Initialize metrics:
//
//	registry := prometheus.NewRegistry()
//	metrics := observability.NewMetrics(registry)
//	metrics.ChargesTotal.WithLabelValues("done").Inc()
//	metrics.StatementDivergenceTotal.WithLabelValues(providerOrg).Inc()
//
// # Health Checks
//
// Configure health checker:
//
//	checker := observability.NewHealthChecker(db, redisClient)
//	status := checker.Check(ctx)
//
// A dead Redis degrades the service (statement snapshots are a cache); a dead
// database makes it unhealthy.
//
// # OpenTelemetry
//
// Initialize tracing (metrics stay on Prometheus):
//
//	tp, err := observability.InitTracing(ctx, observability.OTelConfig{
//		Enabled:     true,
//		ServiceName: "abacus-biller",
//		Endpoint:    "otel-collector:4317",
//	}, logger)
//	defer observability.ShutdownTracing(ctx, tp, logger)
//
// # Related Packages
//
//   - pkg/config: Observability configuration
package observability
