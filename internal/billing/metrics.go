package billing

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics
var (
	chargesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "credits_charges_total",
		Help: "Total posted charges by reason",
	}, []string{"reason"})

	duplicateChargesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "credits_duplicate_charges_total",
		Help: "Charge requests resolved as idempotent no-ops",
	})

	insufficientTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "credits_insufficient_total",
		Help: "Charge requests rejected for insufficient balance",
	})

	refundsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "credits_refunds_total",
		Help: "Total posted refund credits",
	})

	awardsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "credits_awards_total",
		Help: "Total posted award credits",
	})

	reconcileEventsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "credits_reconcile_events_total",
		Help: "Processed billing lifecycle events by type and outcome",
	}, []string{"type", "outcome"})
)
