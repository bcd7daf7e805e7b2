package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics provides observability for the casting pipeline.
type Metrics struct {
	// Cast outcomes by terminal result
	CastOutcome *prometheus.CounterVec

	// End-to-end cast latency
	CastLatency prometheus.Histogram

	// Fraud risk score distribution over evaluated attempts
	RiskScore prometheus.Histogram

	// Idempotency resolutions by tier ("cache", "durable", "race")
	IdempotencyHits *prometheus.CounterVec

	// Geolocation degraded-mode passes
	GeoFailOpen prometheus.Counter
}

// New creates a Metrics instance with all pipeline metrics registered.
func New() *Metrics {
	return &Metrics{
		CastOutcome: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "provote_cast_outcomes_total",
			Help: "Total cast outcomes by terminal result",
		}, []string{"outcome"}), // outcome: "created", "duplicate", "rejected_fraud", "rejected_geo", "rejected_state", "rejected_auth", "rejected_duplicate", "invalid", "error"

		CastLatency: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "provote_cast_duration_seconds",
			Help:    "Duration of full cast handling including fraud evaluation and the write transaction",
			Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
		}),

		RiskScore: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "provote_fraud_risk_score",
			Help:    "Distribution of fraud risk scores over evaluated attempts",
			Buckets: []float64{0, 10, 20, 30, 40, 50, 60, 70, 80, 90, 100},
		}),

		IdempotencyHits: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "provote_idempotency_hits_total",
			Help: "Idempotent replay resolutions by tier",
		}, []string{"tier"}), // tier: "cache", "durable", "race"

		GeoFailOpen: promauto.NewCounter(prometheus.CounterOpts{
			Name: "provote_geo_fail_open_total",
			Help: "Geolocation lookups that failed or timed out and passed the voter through",
		}),
	}
}

// IncrementOutcome records a terminal cast outcome.
func (m *Metrics) IncrementOutcome(outcome string) {
	if m != nil {
		m.CastOutcome.WithLabelValues(outcome).Inc()
	}
}

// ObserveCastLatency records the total cast duration.
func (m *Metrics) ObserveCastLatency(d time.Duration) {
	if m != nil {
		m.CastLatency.Observe(d.Seconds())
	}
}

// ObserveRiskScore records one evaluated risk score.
func (m *Metrics) ObserveRiskScore(score int) {
	if m != nil {
		m.RiskScore.Observe(float64(score))
	}
}

// IncrementIdempotencyHit records a replay resolution by tier.
func (m *Metrics) IncrementIdempotencyHit(tier string) {
	if m != nil {
		m.IdempotencyHits.WithLabelValues(tier).Inc()
	}
}

// IncrementGeoFailOpen records a degraded-mode geolocation pass.
func (m *Metrics) IncrementGeoFailOpen() {
	if m != nil {
		m.GeoFailOpen.Inc()
	}
}
