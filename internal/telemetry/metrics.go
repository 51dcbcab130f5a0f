package telemetry

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	once sync.Once

	JobsEnqueued  = prometheus.NewCounterVec(prometheus.CounterOpts{Name: "coursejobs_enqueued_total", Help: "Jobs enqueued per queue"}, []string{"queue"})
	JobsCompleted = prometheus.NewCounterVec(prometheus.CounterOpts{Name: "coursejobs_completed_total", Help: "Job attempts that completed"}, []string{"queue"})
	JobsRetried   = prometheus.NewCounterVec(prometheus.CounterOpts{Name: "coursejobs_retried_total", Help: "Job attempts that failed and were rescheduled"}, []string{"queue"})
	JobsExhausted = prometheus.NewCounterVec(prometheus.CounterOpts{Name: "coursejobs_exhausted_total", Help: "Jobs that failed on their final attempt"}, []string{"queue"})
	JobsReclaimed = prometheus.NewCounterVec(prometheus.CounterOpts{Name: "coursejobs_reclaimed_total", Help: "In-flight jobs returned to ready after their lease expired"}, []string{"queue"})
	JobDuration   = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "coursejobs_job_duration_seconds",
		Help:    "Wall-clock duration of job attempts",
		Buckets: []float64{0.05, 0.1, 0.5, 1, 5, 15, 60, 300, 900, 1800},
	}, []string{"queue", "status"})
	QueueDepth    = prometheus.NewGaugeVec(prometheus.GaugeOpts{Name: "coursejobs_queue_depth", Help: "Ready jobs per queue"}, []string{"queue"})
	InFlight      = prometheus.NewGaugeVec(prometheus.GaugeOpts{Name: "coursejobs_inflight", Help: "Job attempts currently running per queue"}, []string{"queue"})
	StuckPending  = prometheus.NewGauge(prometheus.GaugeOpts{Name: "coursejobs_stuck_pending", Help: "History records pending longer than the audit threshold"})
	WebhookEvents = prometheus.NewCounterVec(prometheus.CounterOpts{Name: "coursejobs_webhook_events_total", Help: "Webhook deliveries by endpoint and outcome"}, []string{"endpoint", "outcome"})
	MediaOutcomes = prometheus.NewCounterVec(prometheus.CounterOpts{Name: "coursejobs_media_pipeline_total", Help: "Media artifact pipeline runs by kind and result"}, []string{"kind", "result"})
	RateLimited   = prometheus.NewCounter(prometheus.CounterOpts{Name: "coursejobs_rate_limit_rejects_total", Help: "Requests rejected by the rate limiter"})
)

// Handler exposes /metrics HTTP handler with a singleton registry.
func Handler() http.Handler {
	once.Do(func() {
		prometheus.MustRegister(
			JobsEnqueued,
			JobsCompleted,
			JobsRetried,
			JobsExhausted,
			JobsReclaimed,
			JobDuration,
			QueueDepth,
			InFlight,
			StuckPending,
			WebhookEvents,
			MediaOutcomes,
			RateLimited,
		)
	})
	return promhttp.Handler()
}
