// Package services – engine metrics
//
// Prometheus collectors for the sync engine, kept to low-cardinality labels:
// event kind, notification kind, and nothing per-case.
package services

import "github.com/prometheus/client_golang/prometheus"

var (
	// eventsReceived counts push events by kind, after JSON decoding.
	eventsReceived = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "casesync_events_received_total",
			Help: "Total number of push events received, by kind.",
		},
		[]string{"kind"},
	)

	// eventsDeduplicated counts events dropped by the dedup window.
	eventsDeduplicated = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "casesync_events_deduplicated_total",
			Help: "Total number of push events dropped as duplicates.",
		},
	)

	// notificationsSent counts delivered notifications by kind.
	notificationsSent = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "casesync_notifications_sent_total",
			Help: "Total number of chat notifications sent, by kind.",
		},
		[]string{"kind"},
	)

	// deliveriesRejected counts deliveries the chat platform refused for an
	// expected reason (absorbed, not errors).
	deliveriesRejected = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "casesync_deliveries_rejected_total",
			Help: "Total number of notifications rejected by the chat platform as stale.",
		},
	)

	// pollCycles counts completed reconciliation runs.
	pollCycles = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "casesync_poll_cycles_total",
			Help: "Total number of reconciliation poller runs.",
		},
	)

	// pollCaseFailures counts cases skipped inside a poll run. One remote
	// outage shows up here, not as an aborted batch.
	pollCaseFailures = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "casesync_poll_case_failures_total",
			Help: "Total number of cases that failed processing during poll runs.",
		},
	)

	// channelsDissolved counts dedicated channels deleted by the janitor.
	channelsDissolved = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "casesync_channels_dissolved_total",
			Help: "Total number of case channels dissolved after the grace period.",
		},
	)
)

func init() {
	prometheus.MustRegister(
		eventsReceived,
		eventsDeduplicated,
		notificationsSent,
		deliveriesRejected,
		pollCycles,
		pollCaseFailures,
		channelsDissolved,
	)
}
