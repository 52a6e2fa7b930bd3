package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// HTTPRequestDuration tracks HTTP request latency. Shared across all routes.
var HTTPRequestDuration = prometheus.NewHistogramVec(
	prometheus.HistogramOpts{
		Namespace: "passport",
		Subsystem: "api",
		Name:      "request_duration_seconds",
		Help:      "HTTP request duration in seconds.",
		Buckets:   prometheus.DefBuckets,
	},
	[]string{"method", "path", "status"},
)

// TokensMintedTotal counts identity tokens successfully minted.
var TokensMintedTotal = prometheus.NewCounter(prometheus.CounterOpts{
	Namespace: "passport",
	Subsystem: "tokens",
	Name:      "minted_total",
	Help:      "Total identity tokens minted.",
})

// TokensRevokedTotal counts identity tokens revoked.
var TokensRevokedTotal = prometheus.NewCounter(prometheus.CounterOpts{
	Namespace: "passport",
	Subsystem: "tokens",
	Name:      "revoked_total",
	Help:      "Total identity tokens revoked.",
})

// VerificationsTotal counts verification attempts by outcome.
var VerificationsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
	Namespace: "passport",
	Subsystem: "verification",
	Name:      "attempts_total",
	Help:      "Total verification attempts by outcome.",
}, []string{"outcome"})

// RateLimitDeniedTotal counts rate-limit denials by endpoint.
var RateLimitDeniedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
	Namespace: "passport",
	Subsystem: "ratelimit",
	Name:      "denied_total",
	Help:      "Total rate-limit denials by endpoint.",
}, []string{"endpoint"})

// RiskScoreObserved tracks the distribution of computed risk scores.
var RiskScoreObserved = prometheus.NewHistogram(prometheus.HistogramOpts{
	Namespace: "passport",
	Subsystem: "risk",
	Name:      "score",
	Help:      "Distribution of computed risk scores.",
	Buckets:   []float64{0, 10, 20, 30, 40, 50, 60, 70, 80, 90, 100},
})

// DomainCollectors returns the service-specific collectors to register
// alongside the shared HTTPRequestDuration metric.
func DomainCollectors() []prometheus.Collector {
	return []prometheus.Collector{
		TokensMintedTotal,
		TokensRevokedTotal,
		VerificationsTotal,
		RateLimitDeniedTotal,
		RiskScoreObserved,
	}
}

// NewMetricsRegistry creates a Prometheus registry with Go/process collectors,
// the shared HTTPRequestDuration metric, and any additional service-specific
// collectors passed as arguments.
func NewMetricsRegistry(extra ...prometheus.Collector) *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		HTTPRequestDuration,
	)
	for _, c := range extra {
		reg.MustRegister(c)
	}
	return reg
}
