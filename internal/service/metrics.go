package service

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	eventsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "claimrelay_events_total",
		Help: "Inbound chat events by room kind",
	}, []string{"room_kind"})

	claimsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "claimrelay_claims_total",
		Help: "Claim attempts by outcome",
	}, []string{"result"})

	allocationAttempts = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "claimrelay_allocation_attempts",
		Help:    "Draws needed to allocate an asset",
		Buckets: []float64{1, 2, 3, 4, 5},
	})

	classificationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "claimrelay_classifications_total",
		Help: "Target-room messages by classification",
	}, []string{"kind"})

	finalizationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "claimrelay_finalizations_total",
		Help: "Finalized exchanges by path",
	}, []string{"path"})

	approvalsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "claimrelay_approvals_total",
		Help: "Custom-amount approvals by outcome",
	}, []string{"result"})

	relayFailuresTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "claimrelay_relay_failures_total",
		Help: "Answers that could not be relayed to the Source room",
	})
)
