// Package observability provides Prometheus metrics for monitoring.
package observability

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the application.
type Metrics struct {
	// Operation metrics
	OperationsTotal    *prometheus.CounterVec
	OperationDuration  *prometheus.HistogramVec
	OperationErrors    *prometheus.CounterVec
	GuardFailures      *prometheus.CounterVec
	ProtocolFeesTotal  *prometheus.CounterVec
	ReferralFeesTotal  prometheus.Counter
	CompensationErrors prometheus.Counter

	// Ledger state
	LastPrice       prometheus.Gauge
	TokenSupply     prometheus.Gauge
	TotalBorrowed   prometheus.Gauge
	TotalCollateral prometheus.Gauge
	ReserveBalance  prometheus.Gauge
	LedgerVersion   prometheus.Gauge

	// Sweep metrics
	SweepDaysTotal         prometheus.Counter
	ForfeitedBorrowedTotal prometheus.Counter
	ForfeitedCollateral    prometheus.Counter
	SweepLagDays           prometheus.Gauge

	// Database metrics
	DBQueryDuration    *prometheus.HistogramVec
	DBQueryErrors      *prometheus.CounterVec
	PricePointsDropped prometheus.Counter

	// API and feed metrics
	HTTPRequests     *prometheus.CounterVec
	HTTPDuration     *prometheus.HistogramVec
	FeedClients      prometheus.Gauge
	FeedDroppedTotal prometheus.Counter

	// Health metrics
	LastSuccessfulSweep prometheus.Gauge
	UptimeSeconds       prometheus.Counter
}

// NewMetrics creates a new Metrics instance with all metrics registered.
func NewMetrics(namespace string) *Metrics {
	if namespace == "" {
		namespace = "bondcurve_ledger"
	}

	return &Metrics{
		// Operation metrics
		OperationsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "engine",
			Name:      "operations_total",
			Help:      "Total number of ledger operations by kind and status",
		}, []string{"kind", "status"}),
		OperationDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "engine",
			Name:      "operation_duration_seconds",
			Help:      "Ledger operation duration including commit",
			Buckets:   prometheus.ExponentialBuckets(0.0001, 2, 16),
		}, []string{"kind"}),
		OperationErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "engine",
			Name:      "operation_errors_total",
			Help:      "Total number of aborted operations by kind and error category",
		}, []string{"kind", "category"}),
		GuardFailures: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "guard",
			Name:      "failures_total",
			Help:      "Total number of safety check failures by reason",
		}, []string{"reason"}),
		ProtocolFeesTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "engine",
			Name:      "protocol_fees_total",
			Help:      "Base units routed to the fee receiver by operation kind",
		}, []string{"kind"}),
		ReferralFeesTotal: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "engine",
			Name:      "referral_fees_total",
			Help:      "Base units routed to referrers",
		}),
		CompensationErrors: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "engine",
			Name:      "compensation_errors_total",
			Help:      "Custody effects that could not be reverted after a failed commit",
		}),

		// Ledger state
		LastPrice: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "ledger",
			Name:      "last_price",
			Help:      "Last observed price scaled by 1e9",
		}),
		TokenSupply: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "ledger",
			Name:      "token_supply",
			Help:      "Issued token units outstanding",
		}),
		TotalBorrowed: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "ledger",
			Name:      "total_borrowed",
			Help:      "Base units borrowed across open loans",
		}),
		TotalCollateral: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "ledger",
			Name:      "total_collateral",
			Help:      "Token units held as collateral across open loans",
		}),
		ReserveBalance: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "ledger",
			Name:      "reserve_balance",
			Help:      "Base units held by the reserve",
		}),
		LedgerVersion: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "ledger",
			Name:      "version",
			Help:      "Committed global ledger version",
		}),

		// Sweep metrics
		SweepDaysTotal: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "sweeper",
			Name:      "days_processed_total",
			Help:      "Total number of bucket days swept",
		}),
		ForfeitedBorrowedTotal: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "sweeper",
			Name:      "forfeited_borrowed_total",
			Help:      "Base units of debt written off by the sweep",
		}),
		ForfeitedCollateral: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "sweeper",
			Name:      "forfeited_collateral_total",
			Help:      "Token units of collateral burned by the sweep",
		}),
		SweepLagDays: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "sweeper",
			Name:      "lag_days",
			Help:      "Bucket days pending behind the current time",
		}),

		// Database metrics
		DBQueryDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "database",
			Name:      "query_duration_seconds",
			Help:      "Database query duration",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2, 12),
		}, []string{"database", "operation"}),
		DBQueryErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "database",
			Name:      "query_errors_total",
			Help:      "Total number of database query errors",
		}, []string{"database", "operation"}),

		// API and feed metrics
		HTTPRequests: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "api",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests by route and status code",
		}, []string{"route", "code"}),
		HTTPDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "api",
			Name:      "request_duration_seconds",
			Help:      "HTTP request duration by route",
			Buckets:   prometheus.DefBuckets,
		}, []string{"route"}),
		PricePointsDropped: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "db",
			Name:      "price_points_dropped_total",
			Help:      "Price points dropped because the write queue was full or the insert failed",
		}),
		FeedClients: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "feed",
			Name:      "clients",
			Help:      "Connected websocket feed clients",
		}),
		FeedDroppedTotal: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "feed",
			Name:      "dropped_messages_total",
			Help:      "Feed messages dropped for slow clients",
		}),

		// Health metrics
		LastSuccessfulSweep: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "health",
			Name:      "last_successful_sweep_timestamp",
			Help:      "Unix timestamp of last successful background sweep",
		}),
		UptimeSeconds: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "health",
			Name:      "uptime_seconds_total",
			Help:      "Total uptime in seconds",
		}),
	}
}

// Handler returns an HTTP handler for the /metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// DefaultMetrics is the default metrics instance.
var DefaultMetrics = NewMetrics("")

// RecordOperation records a finished operation.
func RecordOperation(kind, status string, seconds float64) {
	DefaultMetrics.OperationsTotal.WithLabelValues(kind, status).Inc()
	DefaultMetrics.OperationDuration.WithLabelValues(kind).Observe(seconds)
}

// RecordOperationError records an aborted operation.
func RecordOperationError(kind, category string) {
	DefaultMetrics.OperationErrors.WithLabelValues(kind, category).Inc()
}

// RecordGuardFailure records a safety check failure.
func RecordGuardFailure(reason string) {
	DefaultMetrics.GuardFailures.WithLabelValues(reason).Inc()
}

// RecordFees records fees routed out of the reserve.
func RecordFees(kind string, protocol, referral uint64) {
	if protocol > 0 {
		DefaultMetrics.ProtocolFeesTotal.WithLabelValues(kind).Add(float64(protocol))
	}
	if referral > 0 {
		DefaultMetrics.ReferralFeesTotal.Add(float64(referral))
	}
}

// RecordCompensationError records a custody effect that could not be reverted.
func RecordCompensationError() {
	DefaultMetrics.CompensationErrors.Inc()
}

// UpdateLedgerState updates the ledger gauges.
func UpdateLedgerState(price, supply, borrowed, collateral, reserve, version uint64) {
	DefaultMetrics.LastPrice.Set(float64(price))
	DefaultMetrics.TokenSupply.Set(float64(supply))
	DefaultMetrics.TotalBorrowed.Set(float64(borrowed))
	DefaultMetrics.TotalCollateral.Set(float64(collateral))
	DefaultMetrics.ReserveBalance.Set(float64(reserve))
	DefaultMetrics.LedgerVersion.Set(float64(version))
}

// RecordSweep records swept bucket days.
func RecordSweep(days int, borrowed, collateral uint64) {
	if days == 0 {
		return
	}
	DefaultMetrics.SweepDaysTotal.Add(float64(days))
	DefaultMetrics.ForfeitedBorrowedTotal.Add(float64(borrowed))
	DefaultMetrics.ForfeitedCollateral.Add(float64(collateral))
}

// UpdateSweepLag updates the pending sweep days gauge.
func UpdateSweepLag(days int64) {
	DefaultMetrics.SweepLagDays.Set(float64(days))
}

// RecordSuccessfulSweep stamps the last successful background sweep.
func RecordSuccessfulSweep(unix int64) {
	DefaultMetrics.LastSuccessfulSweep.Set(float64(unix))
}

// RecordDBQuery records database query metrics.
func RecordDBQuery(database, operation string, seconds float64, err error) {
	DefaultMetrics.DBQueryDuration.WithLabelValues(database, operation).Observe(seconds)
	if err != nil {
		DefaultMetrics.DBQueryErrors.WithLabelValues(database, operation).Inc()
	}
}

// RecordPricePointsDropped records price points that were never written.
func RecordPricePointsDropped(n int) {
	DefaultMetrics.PricePointsDropped.Add(float64(n))
}

// RecordHTTPRequest records an API request.
func RecordHTTPRequest(route, code string, seconds float64) {
	DefaultMetrics.HTTPRequests.WithLabelValues(route, code).Inc()
	DefaultMetrics.HTTPDuration.WithLabelValues(route).Observe(seconds)
}

// UpdateFeedClients sets the connected feed client gauge.
func UpdateFeedClients(n int) {
	DefaultMetrics.FeedClients.Set(float64(n))
}

// RecordFeedDropped records a message dropped for a slow client.
func RecordFeedDropped() {
	DefaultMetrics.FeedDroppedTotal.Inc()
}
