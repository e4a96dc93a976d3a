package worker

import (
	"context"
	"time"

	"github.com/jobforge/jobforge/internal/jobforge"
	"github.com/jobforge/jobforge/internal/logger"
)

// Middleware wraps every handler invocation with a Before/After pair
// around job handling.
type Middleware interface {
	Before(ctx context.Context, job jobforge.Job) error
	After(ctx context.Context, job jobforge.Job, err error)
}

// LoggingMiddleware logs the start and outcome of every handler call.
type LoggingMiddleware struct {
	log *logger.Logger
}

// NewLoggingMiddleware builds a middleware that logs through log.
func NewLoggingMiddleware(log *logger.Logger) *LoggingMiddleware {
	return &LoggingMiddleware{log: log}
}

func (m *LoggingMiddleware) Before(ctx context.Context, job jobforge.Job) error {
	m.log.Infow("job started", "job_id", job.ID, "queue", job.Queue, "type", job.Type, "attempt", job.Attempts)
	return nil
}

func (m *LoggingMiddleware) After(ctx context.Context, job jobforge.Job, err error) {
	if err != nil {
		m.log.Warnw("job attempt failed", "job_id", job.ID, "queue", job.Queue, "type", job.Type, "error", err)
		return
	}
	m.log.Infow("job completed", "job_id", job.ID, "queue", job.Queue, "type", job.Type)
}

// EventType identifies what happened to a job, fed to the metrics
// middleware and any registered listeners.
type EventType string

const (
	EventEnqueued  EventType = "enqueued"
	EventStarted   EventType = "started"
	EventCompleted EventType = "completed"
	EventFailed    EventType = "failed"
	EventRetried   EventType = "retried"
	EventStalled   EventType = "stalled"
)

// Event is an observability record, never a delivery of job results
// to producers — producers still only learn outcomes via Inspect.
type Event struct {
	JobID     string
	Queue     string
	Type      EventType
	Timestamp time.Time
	Data      map[string]interface{}
}

// Listener receives Events. The package keeps no listener registry:
// MetricsMiddleware calls the single emit function it was built with.
type Listener interface {
	OnEvent(event Event)
}

// ListenerFunc adapts a function to the Listener interface.
type ListenerFunc func(event Event)

func (f ListenerFunc) OnEvent(event Event) { f(event) }

// MetricsMiddleware records handler duration and emits an Event for
// every outcome, consumed by internal/metrics collectors.
type MetricsMiddleware struct {
	startTimes map[string]time.Time
	emit       func(Event)
}

// NewMetricsMiddleware builds a middleware that calls emit on every
// job outcome.
func NewMetricsMiddleware(emit func(Event)) *MetricsMiddleware {
	return &MetricsMiddleware{startTimes: make(map[string]time.Time), emit: emit}
}

func (m *MetricsMiddleware) Before(ctx context.Context, job jobforge.Job) error {
	m.startTimes[job.ID] = time.Now()
	m.emit(Event{JobID: job.ID, Queue: job.Queue, Type: EventStarted, Timestamp: time.Now()})
	return nil
}

func (m *MetricsMiddleware) After(ctx context.Context, job jobforge.Job, err error) {
	started, ok := m.startTimes[job.ID]
	if ok {
		delete(m.startTimes, job.ID)
	}
	var duration time.Duration
	if ok {
		duration = time.Since(started)
	}
	evtType := EventCompleted
	if err != nil {
		evtType = EventFailed
	}
	m.emit(Event{
		JobID:     job.ID,
		Queue:     job.Queue,
		Type:      evtType,
		Timestamp: time.Now(),
		Data:      map[string]interface{}{"duration_ms": duration.Milliseconds()},
	})
}
