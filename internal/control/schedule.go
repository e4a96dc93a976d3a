package control

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jobforge/jobforge/internal/jobforge"
)

// ScheduleDelayed submits a job to fire after delayMS, capped at 7
// days, via the same path Submit uses.
func (c *Control) ScheduleDelayed(ctx context.Context, queue, jobType string, payload json.RawMessage, delayMS int64, owner string) (string, error) {
	return c.Submit(ctx, queue, jobType, payload, jobforge.SubmitOptions{Owner: owner, DelayMS: delayMS})
}

// ScheduleRepeating registers a recurring cron entry with the
// Scheduler under a system-generated name, returned to the caller.
func (c *Control) ScheduleRepeating(ctx context.Context, queue, jobType string, payload json.RawMessage, cronExpr, owner string) (string, error) {
	return c.scheduler.Schedule(ctx, queue, jobType, payload, cronExpr, owner)
}

// UnscheduleRepeating cancels a registered cron entry by name.
func (c *Control) UnscheduleRepeating(ctx context.Context, name string) error {
	return c.scheduler.Unschedule(ctx, name)
}

// ListSchedules returns every registered cron entry and its next run time.
func (c *Control) ListSchedules(ctx context.Context) ([]interface{}, error) {
	views, err := c.scheduler.ListSchedules(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]interface{}, len(views))
	for i, v := range views {
		out[i] = v
	}
	return out, nil
}

// TriggerScheduled manually fires a registered cron entry, admin-only.
func (c *Control) TriggerScheduled(ctx context.Context, name string) (string, error) {
	id, err := c.scheduler.TriggerScheduled(ctx, name)
	if err != nil {
		if jobforge.HasCode(err, jobforge.CodeNotFound) {
			return "", jobforge.NewError(jobforge.CodeNotTriggerable, fmt.Sprintf("no cron entry named %q", name), err)
		}
		return "", err
	}
	return id, nil
}

// Metrics aggregates completed/failed counts and mean processing time
// into hourly buckets over the last windowHours, optionally scoped to
// one queue.
func (c *Control) Metrics(ctx context.Context, queue string, windowHours int) (*jobforge.MetricsReport, error) {
	if windowHours <= 0 {
		windowHours = 24
	}
	since := time.Now().Add(-time.Duration(windowHours) * time.Hour)
	filter := jobforge.Filter{CreatedAfter: &since}
	if queue != "" {
		filter.Queue = queue
	}
	page, err := c.store.Query(ctx, filter, "created_at asc", jobforge.Page{Limit: 100000})
	if err != nil {
		return nil, err
	}

	buckets := make(map[time.Time]*jobforge.MetricsBucket)
	var overallCompleted, overallFailed int64
	var overallMS, overallWeighted float64

	for _, job := range page.Jobs {
		if job.Status != jobforge.StatusCompleted && job.Status != jobforge.StatusFailed {
			continue
		}
		hour := job.CreatedAt.Truncate(time.Hour)
		b, ok := buckets[hour]
		if !ok {
			b = &jobforge.MetricsBucket{HourStart: hour}
			buckets[hour] = b
		}
		if job.Status == jobforge.StatusCompleted {
			b.Completed++
			overallCompleted++
			b.AvgMS = (b.AvgMS*float64(b.Completed-1) + float64(job.ProcessingTimeMS)) / float64(b.Completed)
			overallMS += float64(job.ProcessingTimeMS)
			overallWeighted++
		} else {
			b.Failed++
			overallFailed++
		}
	}

	hourly := make([]jobforge.MetricsBucket, 0, len(buckets))
	for _, b := range buckets {
		hourly = append(hourly, *b)
	}

	overall := jobforge.MetricsBucket{Completed: overallCompleted, Failed: overallFailed}
	if overallWeighted > 0 {
		overall.AvgMS = overallMS / overallWeighted
	}

	return &jobforge.MetricsReport{Queue: queue, Hourly: hourly, Overall: overall}, nil
}

// HealthSummary reports overall and per-queue health, derived from the
// queue descriptors the Scheduler's metrics refresh keeps current.
func (c *Control) HealthSummary(ctx context.Context) (*jobforge.HealthSummary, error) {
	descs, err := c.store.ListQueueDescriptors(ctx)
	if err != nil {
		return nil, err
	}
	summary := &jobforge.HealthSummary{Overall: jobforge.HealthHealthy}
	for _, d := range descs {
		summary.PerQueue = append(summary.PerQueue, jobforge.QueueHealth{Queue: d.Name, Status: d.HealthStatus})
		if d.HealthStatus == jobforge.HealthError {
			summary.Overall = jobforge.HealthError
		} else if d.HealthStatus == jobforge.HealthWarning && summary.Overall != jobforge.HealthError {
			summary.Overall = jobforge.HealthWarning
		}
	}
	return summary, nil
}
