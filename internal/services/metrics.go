// Package services – Prometheus collectors for the bounty domain.
//
// Labels are bounded enums (activity names, outcomes, placements) so series
// cardinality stays flat no matter how many bounties or workspaces exist.
package services

import "github.com/prometheus/client_golang/prometheus"

var (
	// transitionsTotal counts handled activities by outcome.
	transitionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bounty_transitions_total",
			Help: "Bounty activities handled, by activity and result.",
		},
		[]string{"activity", "result"},
	)

	// changeFeedEvents counts change notifications by router decision.
	changeFeedEvents = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "changefeed_events_total",
			Help: "Change-feed events seen by the sync guard, by outcome.",
		},
		[]string{"outcome"},
	)

	// reconcilerRuns counts reconcile passes.
	reconcilerRuns = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "reconciler_runs_total",
			Help: "Repeat-template reconcile passes, by outcome.",
		},
		[]string{"outcome"},
	)

	// cardProjections counts card placements.
	cardProjections = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "card_projections_total",
			Help: "Bounty card renderings, by placement decision.",
		},
		[]string{"placement"},
	)
)

func init() {
	prometheus.MustRegister(transitionsTotal, changeFeedEvents, reconcilerRuns, cardProjections)
}

func resultLabel(err error) string {
	switch {
	case err == nil:
		return "ok"
	case IsUserError(err):
		return "rejected"
	default:
		return "error"
	}
}
