// Package telemetry holds the Prometheus collectors shared by the engine and the
// remote data service.
package telemetry

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	dto "github.com/prometheus/client_model/go"
)

var (
	// Change queue
	outboxEnqueuedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "repsession_outbox_enqueued_total",
			Help: "Total number of change queue items enqueued",
		},
		[]string{"kind"},
	)

	outboxDeliveredTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "repsession_outbox_delivered_total",
			Help: "Total number of change queue items acknowledged by the remote service",
		},
		[]string{"kind"},
	)

	outboxFailuresTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "repsession_outbox_failures_total",
			Help: "Total number of failed remote upsert attempts",
		},
		[]string{"kind"},
	)

	outboxDroppedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "repsession_outbox_dropped_total",
			Help: "Total number of change queue items dropped after exhausting retries",
		},
		[]string{"kind"},
	)

	outboxPending = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "repsession_outbox_pending",
			Help: "Number of change queue items awaiting delivery",
		},
	)

	// Snapshots
	snapshotWritesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "repsession_snapshot_writes_total",
			Help: "Total number of snapshot writes",
		},
		[]string{"backend", "status"},
	)

	snapshotRecoveriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "repsession_snapshot_recoveries_total",
			Help: "Total number of snapshot reads at startup by outcome",
		},
		[]string{"outcome"},
	)

	// Session controller
	sessionEventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "repsession_session_events_total",
			Help: "Total number of session events by kind and whether they changed state",
		},
		[]string{"event", "accepted"},
	)

	activeSessions = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "repsession_active_sessions",
			Help: "Number of sessions currently open in the engine",
		},
	)

	// Remote data service
	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "repsession_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "route", "status"},
	)

	httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "repsession_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)

	upsertsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "repsession_upserts_total",
			Help: "Total number of records upserted by the remote data service",
		},
		[]string{"kind"},
	)

	initOnce sync.Once
)

// Init registers all collectors with the default registry. Safe to call more than once.
func Init() {
	initOnce.Do(func() {
		prometheus.MustRegister(
			outboxEnqueuedTotal,
			outboxDeliveredTotal,
			outboxFailuresTotal,
			outboxDroppedTotal,
			outboxPending,
			snapshotWritesTotal,
			snapshotRecoveriesTotal,
			sessionEventsTotal,
			activeSessions,
			httpRequestsTotal,
			httpRequestDuration,
			upsertsTotal,
		)
	})
}

// Handler returns the Prometheus scrape handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

func RecordEnqueued(kind string) {
	outboxEnqueuedTotal.WithLabelValues(kind).Inc()
}

func RecordDelivered(kind string) {
	outboxDeliveredTotal.WithLabelValues(kind).Inc()
}

func RecordDeliveryFailure(kind string) {
	outboxFailuresTotal.WithLabelValues(kind).Inc()
}

// RecordDropped counts an item discarded after its last retry. This counter is
// the only durable trace a dropped item leaves.
func RecordDropped(kind string) {
	outboxDroppedTotal.WithLabelValues(kind).Inc()
}

// DroppedCount returns the current value of the dropped counter for kind.
func DroppedCount(kind string) float64 {
	return counterValue(outboxDroppedTotal.WithLabelValues(kind))
}

func SetPending(n int) {
	outboxPending.Set(float64(n))
}

// RecordSnapshotWrite records a snapshot write; status is "ok" or "error".
func RecordSnapshotWrite(backend, status string) {
	snapshotWritesTotal.WithLabelValues(backend, status).Inc()
}

// RecordRecovery records a startup snapshot read: "restored", "missing", "stale" or "corrupt".
func RecordRecovery(outcome string) {
	snapshotRecoveriesTotal.WithLabelValues(outcome).Inc()
}

func RecordSessionEvent(event string, accepted bool) {
	a := "false"
	if accepted {
		a = "true"
	}
	sessionEventsTotal.WithLabelValues(event, a).Inc()
}

func SetActiveSessions(n int) {
	activeSessions.Set(float64(n))
}

// RecordHTTPRequest records HTTP request metrics.
func RecordHTTPRequest(method, route, status string, duration time.Duration) {
	httpRequestsTotal.WithLabelValues(method, route, status).Inc()
	httpRequestDuration.WithLabelValues(method, route).Observe(duration.Seconds())
}

func RecordUpsert(kind string) {
	upsertsTotal.WithLabelValues(kind).Inc()
}

func counterValue(c prometheus.Counter) float64 {
	var m dto.Metric
	if err := c.Write(&m); err != nil {
		return 0
	}
	return m.GetCounter().GetValue()
}
