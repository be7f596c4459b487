package observability

import (
	"context"
	"database/sql"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-redis/redis/v8"
)

const (
	StatusHealthy   = "healthy"
	StatusDegraded  = "degraded"
	StatusUnhealthy = "unhealthy"
)

// Version is stamped at build time via -ldflags
var Version = "dev"

// HealthChecker reports whether the billing service can do its job. Postgres
// holds the ledger and is authoritative: losing it means not ready. The redis
// snapshot cache only accelerates statement reads, so losing it degrades.
type HealthChecker struct {
	ledgerDB      *sql.DB
	snapshotCache *redis.Client
}

// NewHealthChecker creates a checker over the ledger database and the
// optional snapshot cache client (nil when redis is not configured).
func NewHealthChecker(ledgerDB *sql.DB, snapshotCache *redis.Client) *HealthChecker {
	return &HealthChecker{
		ledgerDB:      ledgerDB,
		snapshotCache: snapshotCache,
	}
}

// HealthStatus is the readiness report served on /health
type HealthStatus struct {
	Status     string                     `json:"status"`
	Timestamp  time.Time                  `json:"timestamp"`
	Version    string                     `json:"version,omitempty"`
	Components map[string]ComponentHealth `json:"components,omitempty"`
}

// ComponentHealth is the state of one backing component
type ComponentHealth struct {
	Status  string        `json:"status"`
	Message string        `json:"message,omitempty"`
	Latency time.Duration `json:"latency_ms,omitempty"`
}

// Liveness answers 200 whenever the process is up
func (h *HealthChecker) Liveness(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(map[string]interface{}{
		"status":    StatusHealthy,
		"timestamp": time.Now(),
	})
}

// Readiness runs the component checks and answers 503 only when the service
// cannot bill: a degraded snapshot cache still returns 200.
func (h *HealthChecker) Readiness(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	status := h.Check(ctx)

	w.Header().Set("Content-Type", "application/json")
	if status.Status == StatusUnhealthy {
		w.WriteHeader(http.StatusServiceUnavailable)
	} else {
		w.WriteHeader(http.StatusOK)
	}
	json.NewEncoder(w).Encode(status)
}

// Check probes every backing component and folds the results into one
// overall status.
func (h *HealthChecker) Check(ctx context.Context) HealthStatus {
	status := HealthStatus{
		Status:     StatusHealthy,
		Timestamp:  time.Now(),
		Version:    Version,
		Components: make(map[string]ComponentHealth),
	}

	if h.ledgerDB != nil {
		ledger := h.checkLedgerDB(ctx)
		status.Components["postgres"] = ledger
		status.Status = worseOf(status.Status, ledger.Status)
	}

	if h.snapshotCache != nil {
		cache := h.checkSnapshotCache(ctx)
		status.Components["snapshot_cache"] = cache
		if cache.Status == StatusUnhealthy {
			// Statement reads fall back to the ledger; degrade, never down.
			status.Status = worseOf(status.Status, StatusDegraded)
		}
	}

	return status
}

func worseOf(a, b string) string {
	if a == StatusUnhealthy || b == StatusUnhealthy {
		return StatusUnhealthy
	}
	if a == StatusDegraded || b == StatusDegraded {
		return StatusDegraded
	}
	return StatusHealthy
}

func (h *HealthChecker) checkLedgerDB(ctx context.Context) ComponentHealth {
	start := time.Now()

	if err := h.ledgerDB.PingContext(ctx); err != nil {
		return ComponentHealth{
			Status:  StatusUnhealthy,
			Message: err.Error(),
			Latency: time.Since(start),
		}
	}

	var one int
	if err := h.ledgerDB.QueryRowContext(ctx, "SELECT 1").Scan(&one); err != nil {
		return ComponentHealth{
			Status:  StatusUnhealthy,
			Message: "query failed: " + err.Error(),
			Latency: time.Since(start),
		}
	}

	component := ComponentHealth{
		Status:  StatusHealthy,
		Latency: time.Since(start),
	}

	// MaxOpenConnections == 0 means the pool is unlimited, not exhausted.
	stats := h.ledgerDB.Stats()
	if stats.MaxOpenConnections > 0 && stats.OpenConnections >= stats.MaxOpenConnections {
		component.Status = StatusDegraded
		component.Message = "ledger connection pool exhausted"
	}
	return component
}

func (h *HealthChecker) checkSnapshotCache(ctx context.Context) ComponentHealth {
	start := time.Now()

	if err := h.snapshotCache.Ping(ctx).Err(); err != nil {
		return ComponentHealth{
			Status:  StatusUnhealthy,
			Message: "statement snapshots unavailable: " + err.Error(),
			Latency: time.Since(start),
		}
	}
	return ComponentHealth{
		Status:  StatusHealthy,
		Latency: time.Since(start),
	}
}

// RegisterHealthRoutes registers the health endpoints on a plain mux
func RegisterHealthRoutes(mux *http.ServeMux, checker *HealthChecker) {
	mux.HandleFunc("/health", checker.Readiness)
	mux.HandleFunc("/health/live", checker.Liveness)
	mux.HandleFunc("/health/ready", checker.Readiness)
}
