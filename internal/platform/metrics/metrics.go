// Package metrics holds the process-wide Prometheus collectors.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "accounting_http_requests_total",
		Help: "Total HTTP requests",
	}, []string{"method", "route", "status"})

	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "accounting_http_request_duration_seconds",
		Help:    "HTTP request latency",
		Buckets: []float64{0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
	}, []string{"method", "route"})

	HTTPPanics = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "accounting_http_panics_total",
		Help: "Handler panics turned into 500 responses",
	}, []string{"route"})

	SettlementSubmissions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "settlement_submissions_total",
		Help: "Transactions submitted to the settlement ledger by outcome",
	}, []string{"outcome"})

	SettlementRetries = promauto.NewCounter(prometheus.CounterOpts{
		Name: "settlement_submission_retries_total",
		Help: "Submission attempts retried after a retryable ledger failure",
	})

	SettlementDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "settlement_submission_duration_seconds",
		Help:    "Time from signing to final ledger response, retries included",
		Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
	})

	RateLimitWaits = promauto.NewCounter(prometheus.CounterOpts{
		Name: "settlement_rate_limit_waits_total",
		Help: "Submissions that had to wait for the next rate limit window",
	})

	ChannelSubmissions = promauto.NewCounter(prometheus.CounterOpts{
		Name: "settlement_channel_submissions_total",
		Help: "Payments routed through a channel account because the source was busy",
	})

	TransferTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "transfer_state_transitions_total",
		Help: "Persisted transfer state changes",
	}, []string{"currency", "state"})
)

var (
	OutboxRelayed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "outbox_messages_relayed_total",
		Help: "Outbox messages handled by the relay by outcome",
	}, []string{"outcome"})

	NotificationsDelivered = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "notifications_delivered_total",
		Help: "Transfer events forwarded to the notifications service by outcome",
	}, []string{"outcome"})
)
