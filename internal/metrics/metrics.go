// Package metrics exposes Prometheus collectors for the gateway pipeline.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics contains the gateway's Prometheus collectors.
type Metrics struct {
	requests         *prometheus.CounterVec
	throttleHits     *prometheus.CounterVec
	tokensConsumed   *prometheus.CounterVec
	upstreamDuration *prometheus.HistogramVec
}

// New creates the collectors and registers them with reg.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		requests: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "chatbot_gateway_requests_total",
				Help: "Total pipeline requests by client and outcome",
			},
			[]string{"client_id", "outcome"},
		),

		throttleHits: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "chatbot_gateway_throttle_hits_total",
				Help: "Total requests rejected by the rate limiter",
			},
			[]string{"client_id"},
		),

		tokensConsumed: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "chatbot_gateway_tokens_consumed_total",
				Help: "Tokens consumed upstream as reported by the provider",
			},
			[]string{"client_id", "direction"},
		),

		upstreamDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "chatbot_gateway_upstream_duration_seconds",
				Help:    "Latency of upstream completion calls",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"outcome"},
		),
	}
}

// ObserveRequest records one finished pipeline request.
func (m *Metrics) ObserveRequest(clientID, outcome string) {
	m.requests.WithLabelValues(clientID, outcome).Inc()
}

// ObserveThrottle records a rate-limit rejection.
func (m *Metrics) ObserveThrottle(clientID string) {
	m.throttleHits.WithLabelValues(clientID).Inc()
}

// ObserveTokens records upstream token consumption.
func (m *Metrics) ObserveTokens(clientID string, input, output int) {
	m.tokensConsumed.WithLabelValues(clientID, "input").Add(float64(input))
	m.tokensConsumed.WithLabelValues(clientID, "output").Add(float64(output))
}

// ObserveUpstream records the latency of one upstream call.
func (m *Metrics) ObserveUpstream(outcome string, d time.Duration) {
	m.upstreamDuration.WithLabelValues(outcome).Observe(d.Seconds())
}
