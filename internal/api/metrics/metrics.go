// Package metrics defines and registers all custom Prometheus metrics for the
// agency platform. It is the single source of truth for metric names, labels,
// and help strings. Metrics register with the default registry on import.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "agency"

// ── Checkout & webhook metrics ────────────────────────────────────────────────

// CheckoutSessionsTotal counts create-session calls.
// Label:
//   - result: "created" or "error"
var CheckoutSessionsTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "checkout_sessions_total",
		Help:      "Total number of hosted checkout sessions requested, by result.",
	},
	[]string{"result"},
)

// WebhookEventsTotal counts verified webhook deliveries.
// Labels:
//   - type: provider event type (e.g. "checkout.session.completed")
//   - outcome: "processed", "duplicate", "ignored" or "error"
var WebhookEventsTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "webhook_events_total",
		Help:      "Total number of payment webhook events, by type and outcome.",
	},
	[]string{"type", "outcome"},
)

// WebhookRejectedTotal counts deliveries rejected at the HTTP boundary.
var WebhookRejectedTotal = promauto.NewCounter(
	prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "webhook_rejected_total",
		Help:      "Total number of webhook deliveries rejected for an invalid signature or payload.",
	},
)

// WebhookDedupTotal counts deduplication decisions.
// Label:
//   - result: "hit" (duplicate, skipped) or "miss" (new event, processed)
var WebhookDedupTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "webhook_dedup_total",
		Help:      "Total number of webhook deduplication checks, labelled by result (hit/miss).",
	},
	[]string{"result"},
)

// ── Project metrics ───────────────────────────────────────────────────────────

// ProjectsReconciledTotal counts reconciliation attempts of a checkout into a
// project.
// Labels:
//   - source: "webhook" or "fallback"
//   - result: "created", "existing" or "error"
var ProjectsReconciledTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "projects_reconciled_total",
		Help:      "Total number of checkout reconciliations, by writer and result.",
	},
	[]string{"source", "result"},
)

// ReconcileDuration measures how long a reconciliation takes, queueing included.
var ReconcileDuration = promauto.NewHistogramVec(
	prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "project_reconcile_duration_seconds",
		Help:      "Duration of checkout reconciliation from submit to persistence.",
		Buckets:   prometheus.DefBuckets,
	},
	[]string{"source"},
)

// DispatchQueueDepth tracks jobs waiting in each dispatcher worker channel.
var DispatchQueueDepth = promauto.NewGaugeVec(
	prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "dispatch_queue_depth",
		Help:      "Current number of jobs pending in each dispatcher worker channel.",
	},
	[]string{"worker_id"},
)
