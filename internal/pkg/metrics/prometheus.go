package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Pipeline metrics
	alarmsProcessedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "alarmd",
			Subsystem: "pipeline",
			Name:      "alarms_processed_total",
			Help:      "Total number of alarms pulled off the dispatch queue",
		},
		[]string{"outcome"},
	)

	alarmProcessDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "alarmd",
			Subsystem: "pipeline",
			Name:      "alarm_process_duration_seconds",
			Help:      "Duration of one alarm's suppression/matching/dispatch pass",
			Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
		},
	)

	dispatchQueueDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "alarmd",
			Subsystem: "pipeline",
			Name:      "dispatch_queue_depth",
			Help:      "Number of alarm events waiting in the dispatch queue",
		},
	)

	dispatchQueueDropped = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "alarmd",
			Subsystem: "pipeline",
			Name:      "dispatch_queue_dropped_total",
			Help:      "Alarm events rejected because the dispatch queue was full",
		},
	)

	// Correlation metrics
	duplicatesMergedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "alarmd",
			Subsystem: "correlation",
			Name:      "duplicates_merged_total",
			Help:      "Total number of alarms merged as duplicates",
		},
	)

	correlationGroupsFound = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "alarmd",
			Subsystem: "correlation",
			Name:      "groups_last_pass",
			Help:      "Correlation groups found on the last analysis pass",
		},
	)

	correlationPassDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "alarmd",
			Subsystem: "correlation",
			Name:      "pass_duration_seconds",
			Help:      "Duration of one correlation analysis pass",
			Buckets:   []float64{.01, .05, .1, .5, 1, 5, 10, 30},
		},
	)

	// Suppression metrics
	suppressionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "alarmd",
			Subsystem: "suppression",
			Name:      "matches_total",
			Help:      "Total number of alarms suppressed, by rule type",
		},
		[]string{"rule_type"},
	)

	// Notification metrics
	notificationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "alarmd",
			Subsystem: "notify",
			Name:      "deliveries_total",
			Help:      "Notification delivery attempts by channel and status",
		},
		[]string{"channel", "status"},
	)

	notificationsRetried = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "alarmd",
			Subsystem: "notify",
			Name:      "retries_total",
			Help:      "Notification tasks re-queued by the retry sweep",
		},
	)
)

// RecordAlarmProcessed records the terminal outcome of one alarm pass
// (delivered, suppressed, duplicate, dropped, error).
func RecordAlarmProcessed(outcome string, duration time.Duration) {
	alarmsProcessedTotal.WithLabelValues(outcome).Inc()
	alarmProcessDuration.Observe(duration.Seconds())
}

// SetQueueDepth updates the dispatch queue depth gauge
func SetQueueDepth(n int) {
	dispatchQueueDepth.Set(float64(n))
}

// RecordQueueDrop records a rejected enqueue
func RecordQueueDrop() {
	dispatchQueueDropped.Inc()
}

// RecordDuplicateMerged records a dedup merge
func RecordDuplicateMerged() {
	duplicatesMergedTotal.Inc()
}

// RecordCorrelationPass records the result of one analysis pass
func RecordCorrelationPass(groups int, duration time.Duration) {
	correlationGroupsFound.Set(float64(groups))
	correlationPassDuration.Observe(duration.Seconds())
}

// RecordSuppression records a suppression match
func RecordSuppression(ruleType string) {
	suppressionsTotal.WithLabelValues(ruleType).Inc()
}

// RecordNotification records a delivery attempt result
func RecordNotification(channel, status string) {
	notificationsTotal.WithLabelValues(channel, status).Inc()
}

// RecordRetrySweep records n tasks re-queued for retry
func RecordRetrySweep(n int) {
	notificationsRetried.Add(float64(n))
}

// Handler returns the prometheus scrape handler
func Handler() http.Handler {
	return promhttp.Handler()
}
