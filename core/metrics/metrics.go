package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	IssuesCreated = promauto.NewCounter(prometheus.CounterOpts{
		Name: "hexascan_escalation_issues_created_total",
		Help: "Escalation issues opened from check results.",
	})
	Escalations = promauto.NewCounter(prometheus.CounterOpts{
		Name: "hexascan_escalations_total",
		Help: "Level escalations performed by the timeout sweeper.",
	})
	Exhaustions = promauto.NewCounter(prometheus.CounterOpts{
		Name: "hexascan_escalation_exhaustions_total",
		Help: "Issues that timed out at their highest configured level.",
	})
	Resolutions = promauto.NewCounter(prometheus.CounterOpts{
		Name: "hexascan_escalation_resolutions_total",
		Help: "Issues resolved by a contact.",
	})
	MailsSent = promauto.NewCounter(prometheus.CounterOpts{
		Name: "hexascan_escalation_mails_sent_total",
		Help: "Escalation mails handed to the relay.",
	})
	MailsFailed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "hexascan_escalation_mails_failed_total",
		Help: "Escalation mails the relay rejected.",
	})
	EventWriteErrors = promauto.NewCounter(prometheus.CounterOpts{
		Name: "hexascan_escalation_event_write_errors_total",
		Help: "Timeline event writes that failed after a committed transition.",
	})
	AlertsSuppressed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "hexascan_alerts_suppressed_total",
		Help: "Channel alerts skipped by the cooldown gate.",
	})
	SweepErrors = promauto.NewCounter(prometheus.CounterOpts{
		Name: "hexascan_sweep_errors_total",
		Help: "Per-issue failures during timeout sweeps.",
	})
)
