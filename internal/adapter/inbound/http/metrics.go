package http

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/Sentinel-Gate/querygate/internal/domain/audit"
)

// Metrics holds all Prometheus metrics for querygate.
// It is also the gateway's decision observer and the policy reload observer.
type Metrics struct {
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
	DecisionsTotal      *prometheus.CounterVec
	RequestDuration     *prometheus.HistogramVec
	RowsReturned        prometheus.Histogram
	PolicyReloadsTotal  *prometheus.CounterVec
	PolicyRevision      prometheus.Gauge
	AuditDropsTotal     prometheus.Counter
	RateLimitedTotal    prometheus.Counter
}

// NewMetrics creates and registers all metrics with the given registry.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	return &Metrics{
		HTTPRequestsTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "querygate",
				Name:      "http_requests_total",
				Help:      "Total number of HTTP API requests",
			},
			[]string{"method", "status"}, // status=ok/error
		),
		HTTPRequestDuration: promauto.With(reg).NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "querygate",
				Name:      "http_request_duration_seconds",
				Help:      "HTTP API request duration in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"method"},
		),
		DecisionsTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "querygate",
				Name:      "decisions_total",
				Help:      "Authorization decisions by outcome and reason",
			},
			[]string{"outcome", "reason"},
		),
		RequestDuration: promauto.With(reg).NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "querygate",
				Name:      "request_duration_seconds",
				Help:      "Gateway pipeline latency in seconds",
				Buckets:   []float64{.0005, .001, .0025, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
			},
			[]string{"operation"},
		),
		RowsReturned: promauto.With(reg).NewHistogram(
			prometheus.HistogramOpts{
				Namespace: "querygate",
				Name:      "rows_returned",
				Help:      "Rows returned or affected per allowed request",
				Buckets:   prometheus.ExponentialBuckets(1, 4, 8),
			},
		),
		PolicyReloadsTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "querygate",
				Name:      "policy_reloads_total",
				Help:      "Policy reload attempts by result",
			},
			[]string{"result"}, // result=applied/unchanged/failed
		),
		PolicyRevision: promauto.With(reg).NewGauge(
			prometheus.GaugeOpts{
				Namespace: "querygate",
				Name:      "policy_revision",
				Help:      "Revision of the active policy snapshot",
			},
		),
		AuditDropsTotal: promauto.With(reg).NewCounter(
			prometheus.CounterOpts{
				Namespace: "querygate",
				Name:      "audit_drops_total",
				Help:      "Total decision records dropped due to backpressure",
			},
		),
		RateLimitedTotal: promauto.With(reg).NewCounter(
			prometheus.CounterOpts{
				Namespace: "querygate",
				Name:      "rate_limited_total",
				Help:      "Requests rejected by the rate limiter",
			},
		),
	}
}

// ObserveDecision records one gateway decision.
func (m *Metrics) ObserveDecision(rec audit.DecisionRecord) {
	m.DecisionsTotal.WithLabelValues(rec.Outcome, rec.Reason).Inc()
	m.RequestDuration.WithLabelValues(rec.Operation).Observe(float64(rec.LatencyMicros) / 1e6)
	if rec.Allowed() {
		m.RowsReturned.Observe(float64(rec.RowCount))
	}
}

// ObserveReload records one policy reload attempt. The revision gauge
// always reflects the active snapshot, including after a failed reload.
func (m *Metrics) ObserveReload(result string, revision uint64) {
	m.PolicyReloadsTotal.WithLabelValues(result).Inc()
	m.PolicyRevision.Set(float64(revision))
}

// AuditDropped counts one dropped decision record.
func (m *Metrics) AuditDropped() {
	m.AuditDropsTotal.Inc()
}
