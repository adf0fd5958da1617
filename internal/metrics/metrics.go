// Package metrics holds the Prometheus collectors of the server.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics groups the collectors. A nil *Metrics records nothing.
type Metrics struct {
	reg *prometheus.Registry

	rpcTotal          *prometheus.CounterVec
	rpcLatency        *prometheus.HistogramVec
	integrityFailures *prometheus.CounterVec
	challenges        *prometheus.CounterVec
	refreshRotations  *prometheus.CounterVec
}

// New registers all collectors on reg.
func New(reg *prometheus.Registry) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		reg: reg,
		rpcTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "safefolder_rpc_total",
			Help: "Total number of RPCs by method and status code",
		}, []string{"method", "code"}),
		rpcLatency: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "safefolder_rpc_latency_ms",
			Help:    "RPC latency in milliseconds",
			Buckets: prometheus.ExponentialBuckets(1, 2, 15), // 1ms to 16s
		}, []string{"method"}),
		integrityFailures: f.NewCounterVec(prometheus.CounterOpts{
			Name: "safefolder_integrity_failures_total",
			Help: "AEAD tag verification failures by object kind",
		}, []string{"kind"}),
		challenges: f.NewCounterVec(prometheus.CounterOpts{
			Name: "safefolder_challenges_total",
			Help: "One-time code events by purpose and outcome",
		}, []string{"purpose", "outcome"}),
		refreshRotations: f.NewCounterVec(prometheus.CounterOpts{
			Name: "safefolder_refresh_total",
			Help: "Refresh token redemptions by outcome",
		}, []string{"outcome"}),
	}
}

// RecordRPC counts one finished RPC.
func (m *Metrics) RecordRPC(method, code string, d time.Duration) {
	if m == nil {
		return
	}
	m.rpcTotal.WithLabelValues(method, code).Inc()
	m.rpcLatency.WithLabelValues(method).Observe(float64(d) / float64(time.Millisecond))
}

// IntegrityFailure counts a failed tag check; kind is "body" or "dek".
func (m *Metrics) IntegrityFailure(kind string) {
	if m == nil {
		return
	}
	m.integrityFailures.WithLabelValues(kind).Inc()
}

// Challenge counts an issue or redeem outcome ("issued", "redeemed", "rejected").
func (m *Metrics) Challenge(purpose, outcome string) {
	if m == nil {
		return
	}
	m.challenges.WithLabelValues(purpose, outcome).Inc()
}

// Refresh counts a refresh token redemption ("rotated", "rejected").
func (m *Metrics) Refresh(outcome string) {
	if m == nil {
		return
	}
	m.refreshRotations.WithLabelValues(outcome).Inc()
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{})
}
