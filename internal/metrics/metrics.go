package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	TelemetryReceived = promauto.NewCounter(prometheus.CounterOpts{
		Name: "sentinel_telemetry_received_total",
		Help: "Telemetry snapshots accepted by the HTTP API.",
	})

	ChannelDrops = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sentinel_channel_drops_total",
		Help: "Snapshots dropped because a pipeline channel was full.",
	}, []string{"channel"})

	HistoryWrites = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sentinel_history_writes_total",
		Help: "Snapshots written to telemetry history, by result.",
	}, []string{"result"})

	RulesTriggered = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sentinel_rules_triggered_total",
		Help: "Rule matches, by rule id.",
	}, []string{"rule"})

	RulePanics = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sentinel_rule_panics_total",
		Help: "Rule conditions that panicked during evaluation.",
	}, []string{"rule"})

	ExceptionsRecorded = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sentinel_exceptions_recorded_total",
		Help: "Exception writes, by result.",
	}, []string{"result"})

	Notifications = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sentinel_notifications_total",
		Help: "Notification sends, by channel and result.",
	}, []string{"channel", "result"})

	AutoActionFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sentinel_auto_action_failures_total",
		Help: "Auto-actions that returned an error or panicked.",
	}, []string{"kind"})

	OutboxEnqueued = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sentinel_outbox_enqueued_total",
		Help: "Actions accepted into the outbox.",
	}, []string{"type", "priority"})

	OutboxSynced = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sentinel_outbox_synced_total",
		Help: "Actions delivered to the backend.",
	}, []string{"type"})

	OutboxFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sentinel_outbox_failures_total",
		Help: "Failed delivery attempts.",
	}, []string{"type"})

	OutboxQuarantined = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sentinel_outbox_quarantined_total",
		Help: "Actions moved to quarantine after exhausting retries.",
	}, []string{"type"})

	OutboxDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "sentinel_outbox_depth",
		Help: "Actions waiting in the active queue.",
	})

	QuarantineDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "sentinel_outbox_quarantine_depth",
		Help: "Actions held in quarantine.",
	})

	SyncDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "sentinel_sync_duration_seconds",
		Help:    "Duration of outbox sync passes.",
		Buckets: prometheus.ExponentialBuckets(0.005, 2, 12),
	})

	Online = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "sentinel_backend_online",
		Help: "1 when the backend probe succeeds, 0 otherwise.",
	})
)

func Handler() http.Handler {
	return promhttp.Handler()
}
