// Package metrics exposes the service's Prometheus instrumentation.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics bundles the service collectors on a private registry so tests can
// run many instances without duplicate-registration panics.
type Metrics struct {
	registry *prometheus.Registry

	Requests        *prometheus.CounterVec
	RateLimitDenied *prometheus.CounterVec
	QuotaDenied     *prometheus.CounterVec
	IPBlocked       prometheus.Counter
}

// New builds the registry. onlineFn feeds the online-users gauge from the
// session tracker.
func New(onlineFn func() int) *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		Requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "heymatch_http_requests_total",
			Help: "HTTP requests by method, route and status class.",
		}, []string{"method", "route", "status"}),
		RateLimitDenied: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "heymatch_ratelimit_denied_total",
			Help: "Requests denied by the rate limiter, by class.",
		}, []string{"class"}),
		QuotaDenied: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "heymatch_quota_denied_total",
			Help: "Actions denied by the quota engine, by action kind.",
		}, []string{"action"}),
		IPBlocked: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "heymatch_ip_blocks_total",
			Help: "IP blocks recorded by the abuse gate.",
		}),
	}

	reg.MustRegister(m.Requests, m.RateLimitDenied, m.QuotaDenied, m.IPBlocked)
	reg.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "heymatch_online_users",
		Help: "Distinct users with a session active in the idle window.",
	}, func() float64 { return float64(onlineFn()) }))
	reg.MustRegister(collectors.NewGoCollector())

	return m
}

// Handler serves the /metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
