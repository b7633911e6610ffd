package proxy

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the proxy
type Metrics struct {
	// Client-facing request metrics
	RequestsTotal   prometheus.Counter
	RequestErrors   *prometheus.CounterVec
	RequestDuration prometheus.Histogram

	// Per-endpoint upstream metrics
	UpstreamRequestsTotal *prometheus.CounterVec
	UpstreamFailures      *prometheus.CounterVec
	UpstreamLatency       *prometheus.HistogramVec
	RaceWins              *prometheus.CounterVec

	// Health / quarantine metrics
	ActiveEndpoints     prometheus.Gauge
	CanonicalSlot       prometheus.Gauge
	EndpointSlot        *prometheus.GaugeVec
	EndpointLagSlots    *prometheus.GaugeVec
	QuarantinesTotal    *prometheus.CounterVec
	ReinstatementsTotal *prometheus.CounterVec
	ProbesTotal         *prometheus.CounterVec
}

var (
	metrics     *Metrics
	metricsOnce sync.Once
)

// GetMetrics returns the singleton Metrics instance
func GetMetrics() *Metrics {
	metricsOnce.Do(func() {
		metrics = NewMetrics()
	})
	return metrics
}

// NewMetrics creates a new Metrics instance
func NewMetrics() *Metrics {
	return &Metrics{
		RequestsTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name: "proxy_requests_total",
			Help: "Total number of client requests received",
		}),
		RequestErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "proxy_request_errors_total",
			Help: "Total number of client requests that failed, by reason",
		}, []string{"reason"}),
		RequestDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "proxy_request_duration_seconds",
			Help:    "Client-observed request latency (first winning response)",
			Buckets: prometheus.DefBuckets,
		}),

		UpstreamRequestsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "proxy_upstream_requests_total",
			Help: "Total number of upstream calls by endpoint",
		}, []string{"endpoint"}),
		UpstreamFailures: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "proxy_upstream_failures_total",
			Help: "Total number of failed upstream calls by endpoint",
		}, []string{"endpoint"}),
		UpstreamLatency: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "proxy_upstream_latency_seconds",
			Help:    "Upstream call latency by endpoint",
			Buckets: prometheus.DefBuckets,
		}, []string{"endpoint"}),
		RaceWins: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "proxy_race_wins_total",
			Help: "Number of rounds won by endpoint",
		}, []string{"endpoint"}),

		ActiveEndpoints: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "proxy_active_endpoints",
			Help: "Number of endpoints currently eligible for dispatch",
		}),
		CanonicalSlot: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "proxy_canonical_slot",
			Help: "Highest slot observed in the most recent analyzed round",
		}),
		EndpointSlot: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Name: "proxy_endpoint_last_known_slot",
			Help: "Highest slot ever observed per endpoint",
		}, []string{"endpoint"}),
		EndpointLagSlots: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Name: "proxy_endpoint_lag_slots",
			Help: "Slot deviation from the canonical slot per endpoint (last observation)",
		}, []string{"endpoint"}),
		QuarantinesTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "proxy_quarantines_total",
			Help: "Number of quarantine transitions by endpoint",
		}, []string{"endpoint"}),
		ReinstatementsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "proxy_reinstatements_total",
			Help: "Number of reinstatements by endpoint",
		}, []string{"endpoint"}),
		ProbesTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "proxy_probes_total",
			Help: "Number of recovery probes by endpoint and result",
		}, []string{"endpoint", "result"}),
	}
}
