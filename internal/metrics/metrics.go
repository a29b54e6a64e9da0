package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// HTTP metrics
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "merchantguard_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "route", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "merchantguard_http_request_duration_seconds",
			Help:    "HTTP request latency in seconds",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
		},
		[]string{"method", "route"},
	)

	// Event log
	EventsIngested = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "merchantguard_events_ingested_total",
			Help: "Events appended to the event log",
		},
		[]string{"event_type", "source"},
	)

	EventsRejected = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "merchantguard_events_rejected_total",
			Help: "Events rejected before append",
		},
		[]string{"source", "reason"},
	)

	// Rule engine
	RuleEvaluations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "merchantguard_rule_evaluations_total",
			Help: "Rule evaluations by outcome",
		},
		[]string{"rule_type", "outcome"}, // outcome: triggered, quiet, error
	)

	RulesDisabled = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "merchantguard_rules_disabled_total",
			Help: "Rules disabled by the lifecycle review",
		},
		[]string{"rule_type"},
	)

	// Alerts
	AlertsCreated = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "merchantguard_alerts_created_total",
			Help: "Alerts created from rule triggers",
		},
		[]string{"rule_type", "severity"},
	)

	AlertsDeduplicated = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "merchantguard_alerts_deduplicated_total",
			Help: "Rule triggers suppressed by an already active alert",
		},
		[]string{"rule_type"},
	)

	AlertsClosed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "merchantguard_alerts_closed_total",
			Help: "Alerts resolved or dismissed",
		},
		[]string{"rule_type", "status"},
	)

	// Actions
	ActionsCreated = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "merchantguard_actions_created_total",
			Help: "Remediation actions created",
		},
		[]string{"action_type"},
	)

	ActionsFinished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "merchantguard_actions_finished_total",
			Help: "Remediation actions reaching a terminal status",
		},
		[]string{"action_type", "status"},
	)

	ActionDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "merchantguard_action_duration_seconds",
			Help:    "Time from processing to a terminal status",
			Buckets: []float64{.01, .05, .1, .25, .5, 1, 2.5, 5, 10, 30},
		},
		[]string{"action_type"},
	)

	WorkerQueueSize = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "merchantguard_worker_queue_size",
			Help: "Current size of the action queue",
		},
	)

	WorkerQueueCapacity = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "merchantguard_worker_queue_capacity",
			Help: "Capacity of the action queue",
		},
	)

	// Notifications
	NotificationsSent = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "merchantguard_notifications_total",
			Help: "Alert notifications by channel and outcome",
		},
		[]string{"channel", "status"}, // status: sent, failed, skipped
	)

	// Panic recovery
	PanicsRecovered = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "merchantguard_panics_recovered_total",
			Help: "Total number of panics recovered",
		},
		[]string{"component"},
	)
)
