package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chime_http_requests_total",
			Help: "Total HTTP requests by method, path, and status",
		},
		[]string{"method", "path", "status"},
	)

	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "chime_http_request_duration_seconds",
			Help:    "HTTP request latency distribution",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1},
		},
		[]string{"method", "path"},
	)

	batchesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "chime_scheduler_batches_total",
			Help: "Total scheduler batches executed",
		},
	)

	batchDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "chime_scheduler_batch_duration_seconds",
			Help:    "Time to process one scheduler batch",
			Buckets: []float64{.01, .05, .1, .5, 1, 5, 15, 60},
		},
	)

	remindersClaimed = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "chime_reminders_claimed_total",
			Help: "Reminders successfully claimed for dispatch",
		},
	)

	claimConflicts = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "chime_claim_conflicts_total",
			Help: "Claims lost to a concurrent batch (expected, not an error)",
		},
	)

	dispatchAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chime_dispatch_attempts_total",
			Help: "Per-target delivery attempts by channel and outcome",
		},
		[]string{"channel", "outcome"},
	)

	remindersDeactivated = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chime_reminders_deactivated_total",
			Help: "Reminders retired, by reason",
		},
		[]string{"reason"},
	)

	recoveryRequeued = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "chime_recovery_requeued_total",
			Help: "Stuck in-flight reminders re-queued by the recovery sweep",
		},
	)

	dueBacklog = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "chime_due_backlog",
			Help: "Due reminders seen in the most recent batch query",
		},
	)
)

// Handler returns the Prometheus metrics HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}

// RecordRequest records HTTP request metrics
func RecordRequest(method, path string, status int, duration time.Duration) {
	httpRequestsTotal.WithLabelValues(method, path, strconv.Itoa(status)).Inc()
	httpRequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

// RecordBatch records one completed scheduler batch.
func RecordBatch(duration time.Duration) {
	batchesTotal.Inc()
	batchDuration.Observe(duration.Seconds())
}

// RecordClaimed records a successful claim.
func RecordClaimed() {
	remindersClaimed.Inc()
}

// RecordClaimConflict records a lost claim race.
func RecordClaimConflict() {
	claimConflicts.Inc()
}

// RecordDispatchAttempt records one per-target delivery attempt.
// outcome is one of "success", "transient", "permanent".
func RecordDispatchAttempt(channel, outcome string) {
	dispatchAttempts.WithLabelValues(channel, outcome).Inc()
}

// RecordDeactivated records a reminder retirement.
// reason is one of "single_shot", "config_error", "subject_gone", "stale".
func RecordDeactivated(reason string) {
	remindersDeactivated.WithLabelValues(reason).Inc()
}

// RecordRecovered records re-queued in-flight reminders.
func RecordRecovered(count int) {
	recoveryRequeued.Add(float64(count))
}

// SetDueBacklog sets the size of the last due-reminder page.
func SetDueBacklog(count int) {
	dueBacklog.Set(float64(count))
}

// responseWriter wraps http.ResponseWriter to capture status code
type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

// Middleware returns HTTP middleware that records request metrics
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapped := &responseWriter{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(wrapped, r)

		RecordRequest(r.Method, r.URL.Path, wrapped.status, time.Since(start))
	})
}
