// Package metrics holds the Prometheus collectors of the client runtime. They
// register with the default registry on import and stay separate from the API
// server's metrics so the CLI does not link the HTTP layer.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	namespace = "agency"
	subsystem = "client"
)

// SessionRefreshTotal counts refresh outcomes seen by callers.
// Labels:
//   - result: "success" or "failure"
//   - shared: "true" when the caller joined a refresh already in flight
var SessionRefreshTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      "session_refresh_total",
		Help:      "Total number of session refresh calls, by result and whether the call was shared.",
	},
	[]string{"result", "shared"},
)

// SafeFetchAttemptsTotal counts safe-fetch attempts.
// Labels:
//   - key: fetcher key
//   - outcome: "success", "failure", "rejected", "rate_limited" or "blocked"
var SafeFetchAttemptsTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      "safefetch_attempts_total",
		Help:      "Total number of safe-fetch attempts, by key and outcome.",
	},
	[]string{"key", "outcome"},
)

// SafeFetchBreakerFailures mirrors the shared breaker failure counter.
var SafeFetchBreakerFailures = promauto.NewGauge(
	prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      "safefetch_breaker_failures",
		Help:      "Current value of the shared safe-fetch failure counter.",
	},
)
