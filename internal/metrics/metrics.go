// Package metrics exposes Prometheus collectors for both the admin
// HTTP surface and the job-orchestration core: request counters and
// latency histograms plus per-queue job outcome counters and depth
// gauges.
package metrics

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/jobforge/jobforge/internal/worker"
)

var (
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "jobforge_http_requests_total",
			Help: "Total number of admin surface HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "jobforge_http_request_duration_seconds",
			Help:    "Admin surface HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)

	jobsSubmittedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "jobforge_jobs_submitted_total",
			Help: "Total number of jobs submitted per queue",
		},
		[]string{"queue"},
	)

	jobsCompletedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "jobforge_jobs_completed_total",
			Help: "Total number of jobs completed per queue",
		},
		[]string{"queue"},
	)

	jobsFailedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "jobforge_jobs_failed_total",
			Help: "Total number of jobs failed per queue",
		},
		[]string{"queue"},
	)

	jobsRetriedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "jobforge_jobs_retried_total",
			Help: "Total number of jobs requeued for retry per queue",
		},
		[]string{"queue"},
	)

	jobsStalledTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "jobforge_jobs_stalled_total",
			Help: "Total number of jobs observed stalled per queue",
		},
		[]string{"queue"},
	)

	handlerDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "jobforge_handler_duration_seconds",
			Help:    "Handler invocation duration in seconds",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30, 60},
		},
		[]string{"queue"},
	)

	queueDepth = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "jobforge_queue_depth",
			Help: "Current number of jobs in a queue's ready/delayed/active sets",
		},
		[]string{"queue", "placement"},
	)

	queueHealth = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "jobforge_queue_health",
			Help: "Queue health status: 0=healthy, 1=warning, 2=error",
		},
		[]string{"queue"},
	)
)

// HTTPMiddleware records request count and latency for every admin
// surface route.
func HTTPMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.FullPath()
		if path == "" {
			path = c.Request.URL.Path
		}
		method := c.Request.Method

		c.Next()

		status := strconv.Itoa(c.Writer.Status())
		httpRequestsTotal.WithLabelValues(method, path, status).Inc()
		httpRequestDuration.WithLabelValues(method, path, status).Observe(time.Since(start).Seconds())
	}
}

// EventListener adapts worker.Event notifications into the job-domain
// Prometheus counters and histogram.
type EventListener struct{}

// NewEventListener builds a worker.Listener backed by the package's
// Prometheus collectors.
func NewEventListener() *EventListener {
	return &EventListener{}
}

func (l *EventListener) OnEvent(event worker.Event) {
	switch event.Type {
	case worker.EventStarted:
		jobsSubmittedTotal.WithLabelValues(event.Queue).Inc()
	case worker.EventCompleted:
		jobsCompletedTotal.WithLabelValues(event.Queue).Inc()
		if ms, ok := event.Data["duration_ms"].(int64); ok {
			handlerDuration.WithLabelValues(event.Queue).Observe(float64(ms) / 1000.0)
		}
	case worker.EventFailed:
		jobsFailedTotal.WithLabelValues(event.Queue).Inc()
	case worker.EventRetried:
		jobsRetriedTotal.WithLabelValues(event.Queue).Inc()
	case worker.EventStalled:
		jobsStalledTotal.WithLabelValues(event.Queue).Inc()
	}
}

// SetQueueDepth publishes a queue's live set sizes, called by the
// Scheduler's metrics refresh task.
func SetQueueDepth(queue string, waiting, active, delayed int64) {
	queueDepth.WithLabelValues(queue, "waiting").Set(float64(waiting))
	queueDepth.WithLabelValues(queue, "active").Set(float64(active))
	queueDepth.WithLabelValues(queue, "delayed").Set(float64(delayed))
}

// SetQueueHealth publishes a queue's health evaluation as a numeric
// gauge (0=healthy, 1=warning, 2=error).
func SetQueueHealth(queue string, value float64) {
	queueHealth.WithLabelValues(queue).Set(value)
}
