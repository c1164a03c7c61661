package services

import "github.com/prometheus/client_golang/prometheus"

var (
	// doseTransitions counts applied lifecycle transitions by target state
	// and source (local, remote, sweep).
	doseTransitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dosed_dose_transitions_total",
			Help: "Dose lifecycle transitions applied.",
		},
		[]string{"to", "source"},
	)

	// notificationsScheduled counts payloads handed to a channel.
	notificationsScheduled = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dosed_notifications_scheduled_total",
			Help: "Notifications handed to a delivery channel.",
		},
		[]string{"channel", "profile"},
	)

	// notificationsSuppressed counts deliveries skipped (quiet hours, permission).
	notificationsSuppressed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dosed_notifications_suppressed_total",
			Help: "Notifications not delivered, by reason.",
		},
		[]string{"reason"},
	)

	// escalationRefires counts "still pending" re-fires.
	escalationRefires = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dosed_escalation_refires_total",
			Help: "Escalation re-fires by profile.",
		},
		[]string{"profile"},
	)

	// offlinePending gauges queued actions not yet synced.
	offlinePending = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "dosed_offline_actions_pending",
			Help: "Offline actions awaiting replay.",
		},
	)

	// offlineReplays counts replay outcomes per record.
	offlineReplays = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dosed_offline_replays_total",
			Help: "Offline action replays by result.",
		},
		[]string{"result"},
	)

	// scheduleConflicts counts same-minute doses of one item from two schedules.
	scheduleConflicts = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "dosed_schedule_conflicts_total",
			Help: "Schedule conflicts detected during materialization.",
		},
	)
)

func init() {
	prometheus.MustRegister(
		doseTransitions,
		notificationsScheduled,
		notificationsSuppressed,
		escalationRefires,
		offlinePending,
		offlineReplays,
		scheduleConflicts,
	)
}
