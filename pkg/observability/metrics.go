package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics
type Metrics struct {
	// HTTP metrics
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	// Ledger metrics
	LedgerTransactionsTotal    *prometheus.CounterVec
	StatementDivergenceTotal   *prometheus.CounterVec
	BalanceComputationDuration *prometheus.HistogramVec

	// Checkout and charge metrics
	ChargesTotal         *prometheus.CounterVec
	ChargeAmount         *prometheus.HistogramVec
	CheckoutDuration     *prometheus.HistogramVec
	RefundsTotal         *prometheus.CounterVec
	ProcessorErrorsTotal *prometheus.CounterVec

	// Reconciler metrics
	RenewalsTotal        *prometheus.CounterVec
	WriteOffsTotal       prometheus.Counter
	OfflinePaymentsTotal prometheus.Counter

	// Snapshot cache metrics
	CacheHitsTotal   *prometheus.CounterVec
	CacheMissesTotal *prometheus.CounterVec

	// Database metrics
	DBConnectionsActive prometheus.Gauge
	DBConnectionsIdle   prometheus.Gauge
}

// NewMetrics creates and registers all Prometheus metrics
func NewMetrics(registry *prometheus.Registry) *Metrics {
	m := &Metrics{
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "abacus_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "abacus_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "path"},
		),

		LedgerTransactionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "abacus_ledger_transactions_total",
				Help: "Total number of ledger transactions appended",
			},
			[]string{"kind"},
		),
		StatementDivergenceTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "abacus_statement_divergence_total",
				Help: "Times a balance-due statement had to be synthesized because order lines no longer summed to the outstanding balance",
			},
			[]string{"provider_org"},
		),
		BalanceComputationDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "abacus_balance_computation_duration_seconds",
				Help:    "Ledger balance computation duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"query"},
		),

		ChargesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "abacus_charges_total",
				Help: "Total number of charges by final state",
			},
			[]string{"state"},
		),
		ChargeAmount: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "abacus_charge_amount",
				Help:    "Charge amounts in minor currency units",
				Buckets: prometheus.ExponentialBuckets(100, 10, 6),
			},
			[]string{"unit"},
		),
		CheckoutDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "abacus_checkout_duration_seconds",
				Help:    "Checkout duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"status"},
		),
		RefundsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "abacus_refunds_total",
				Help: "Total number of refunds by status",
			},
			[]string{"status"},
		),
		ProcessorErrorsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "abacus_processor_errors_total",
				Help: "Total number of payment processor errors",
			},
			[]string{"operation"},
		),

		RenewalsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "abacus_renewals_total",
				Help: "Total number of subscription renewals by outcome",
			},
			[]string{"outcome"},
		),
		WriteOffsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "abacus_write_offs_total",
				Help: "Total number of balance write-offs",
			},
		),
		OfflinePaymentsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "abacus_offline_payments_total",
				Help: "Total number of out-of-band payments recorded",
			},
		),

		CacheHitsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "abacus_cache_hits_total",
				Help: "Total number of cache hits",
			},
			[]string{"cache_type"},
		),
		CacheMissesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "abacus_cache_misses_total",
				Help: "Total number of cache misses",
			},
			[]string{"cache_type"},
		),

		DBConnectionsActive: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "abacus_db_connections_active",
				Help: "Number of active database connections",
			},
		),
		DBConnectionsIdle: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "abacus_db_connections_idle",
				Help: "Number of idle database connections",
			},
		),
	}

	// Register all metrics
	registry.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.LedgerTransactionsTotal,
		m.StatementDivergenceTotal,
		m.BalanceComputationDuration,
		m.ChargesTotal,
		m.ChargeAmount,
		m.CheckoutDuration,
		m.RefundsTotal,
		m.ProcessorErrorsTotal,
		m.RenewalsTotal,
		m.WriteOffsTotal,
		m.OfflinePaymentsTotal,
		m.CacheHitsTotal,
		m.CacheMissesTotal,
		m.DBConnectionsActive,
		m.DBConnectionsIdle,
	)

	return m
}

// responseWriter wraps http.ResponseWriter to capture status code and size
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// HTTPMetricsMiddleware instruments HTTP requests with Prometheus metrics
func HTTPMetricsMiddleware(metrics *Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			rw := &responseWriter{
				ResponseWriter: w,
				statusCode:     http.StatusOK,
			}

			next.ServeHTTP(rw, r)

			duration := time.Since(start).Seconds()
			status := strconv.Itoa(rw.statusCode)

			metrics.HTTPRequestsTotal.WithLabelValues(r.Method, r.URL.Path, status).Inc()
			metrics.HTTPRequestDuration.WithLabelValues(r.Method, r.URL.Path).Observe(duration)
		})
	}
}

// RegisterMetricsEndpoint registers the /metrics endpoint
func RegisterMetricsEndpoint(mux *http.ServeMux, registry *prometheus.Registry) {
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
}
