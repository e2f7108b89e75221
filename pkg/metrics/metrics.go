package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "tierkit"

var (
	// ConfirmationsTotal counts subscription confirmations by source and outcome
	// (applied, stale, unknown_tenant, error).
	ConfirmationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "subscription",
		Name:      "confirmations_total",
		Help:      "Subscription confirmations by source and outcome.",
	}, []string{"source", "outcome"})

	// TransitionsTotal counts committed status transitions.
	TransitionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "subscription",
		Name:      "transitions_total",
		Help:      "Committed subscription status transitions.",
	}, []string{"from", "to"})

	// OrphanedReferencesTotal counts upstream references cancelled after a lost write race.
	OrphanedReferencesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "subscription",
		Name:      "orphaned_references_total",
		Help:      "Upstream references cancelled because the local write lost a race.",
	})

	// ReservationsTotal counts ledger reservation outcomes (reserved, insufficient, finalized, refunded, expired).
	ReservationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "tokens",
		Name:      "reservations_total",
		Help:      "Token reservations by outcome.",
	}, []string{"outcome"})

	// TokensTotal counts token volume by flow (reserved, used, returned, purchased, granted, included).
	TokensTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "tokens",
		Name:      "volume_total",
		Help:      "Token volume moved through the ledger by flow.",
	}, []string{"flow"})

	// UnbilledTokensTotal counts usage above the reserved amount that was not charged.
	UnbilledTokensTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "tokens",
		Name:      "unbilled_total",
		Help:      "Actual usage above the reservation that was absorbed without charge.",
	})

	// SettlementRetriesTotal counts finalize/refund retries in metered runners.
	SettlementRetriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "tokens",
		Name:      "settlement_retries_total",
		Help:      "Finalize or refund retries after a failed settlement.",
	}, []string{"op"})

	// WebhookRequestsTotal counts inbound billing webhooks by provider and HTTP status.
	WebhookRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "api",
		Name:      "webhook_requests_total",
		Help:      "Inbound billing webhook requests by provider and HTTP status.",
	}, []string{"provider", "status"})

	// WebhookDuration tracks webhook processing latency.
	WebhookDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "api",
		Name:      "webhook_duration_seconds",
		Help:      "Billing webhook processing duration in seconds.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"provider"})
)
