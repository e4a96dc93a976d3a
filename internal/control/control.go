// Package control implements the Control Plane: the thin set of
// administrative and producer operations over the Job Store and
// Queue Broker, built around explicit owner/is_admin parameters
// passed in by the caller rather than pulled from request state.
package control

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/jobforge/jobforge/internal/broker"
	"github.com/jobforge/jobforge/internal/jobforge"
	"github.com/jobforge/jobforge/internal/logger"
	"github.com/jobforge/jobforge/internal/scheduler"
	"github.com/jobforge/jobforge/internal/store"
)

const maxPayloadBytes = 1 << 20
const maxDelay = 7 * 24 * time.Hour

// Control is the Control Plane: every admin and producer operation
// from the component design lives as a method on it.
type Control struct {
	store     *store.Store
	broker    broker.Broker
	scheduler *scheduler.Scheduler
	types     *jobforge.TypeRegistry
	startedAt time.Time
	log       *logger.Logger
}

// New builds the Control Plane over an already-running Store, Broker,
// and Scheduler.
func New(st *store.Store, brk broker.Broker, sched *scheduler.Scheduler, types *jobforge.TypeRegistry, log *logger.Logger) *Control {
	return &Control{
		store:     st,
		broker:    brk,
		scheduler: sched,
		types:     types,
		startedAt: time.Now(),
		log:       log.With("component", "control"),
	}
}

// Submit validates and persists a new job, then enqueues it. It
// satisfies scheduler.Submitter so cron fires route through the same
// validation path producers do.
func (c *Control) Submit(ctx context.Context, queue, jobType string, payload json.RawMessage, opts jobforge.SubmitOptions) (string, error) {
	if !jobforge.IsRegisteredQueue(queue) {
		return "", jobforge.NewError(jobforge.CodeInvalidQueue, fmt.Sprintf("queue %q is not registered", queue), nil)
	}
	def, ok := c.types.Lookup(queue, jobType)
	if !ok {
		return "", jobforge.NewError(jobforge.CodeInvalidJobType, fmt.Sprintf("type %q is not registered on queue %q", jobType, queue), nil)
	}
	if len(payload) > maxPayloadBytes {
		return "", jobforge.NewError(jobforge.CodePayloadTooLarge, fmt.Sprintf("payload exceeds %d bytes", maxPayloadBytes), nil)
	}
	if def.SchemaFunc != nil {
		if err := def.SchemaFunc(payload); err != nil {
			return "", jobforge.Wrap(jobforge.CodeValidation, err, "payload failed schema validation")
		}
	}
	if opts.DelayMS < 0 || time.Duration(opts.DelayMS)*time.Millisecond > maxDelay {
		return "", jobforge.NewError(jobforge.CodeInvalidDelay, "delay_ms must be between 0 and 7 days", nil)
	}

	id := opts.ID
	if id == "" {
		id = uuid.New().String()
	}
	maxAttempts := opts.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = 3
	}

	var delayUntil *time.Time
	now := time.Now()
	if opts.DelayMS > 0 {
		t := now.Add(time.Duration(opts.DelayMS) * time.Millisecond)
		delayUntil = &t
	}

	job := &jobforge.Job{
		ID:          id,
		Queue:       queue,
		Type:        jobType,
		Payload:     payload,
		Owner:       opts.Owner,
		Status:      jobforge.StatusWaiting,
		Priority:    opts.Priority,
		MaxAttempts: maxAttempts,
		DelayUntil:  delayUntil,
		CreatedAt:   now,
	}

	if err := c.store.Create(ctx, job); err != nil {
		return "", err
	}
	if err := c.broker.Enqueue(ctx, queue, id, job.Priority, delayUntil); err != nil {
		return "", err
	}
	return id, nil
}

// Inspect merges the Store record with its live Broker placement,
// enforcing that non-admins only see their own jobs.
func (c *Control) Inspect(ctx context.Context, id, owner string, isAdmin bool) (*jobforge.JobView, error) {
	job, err := c.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !isAdmin && job.Owner != owner {
		return nil, jobforge.NewError(jobforge.CodeForbidden, "job belongs to a different owner", nil)
	}
	placement, err := c.broker.Placement(ctx, job.Queue, id)
	if err != nil {
		return nil, err
	}
	return &jobforge.JobView{Job: *job, Placement: placement}, nil
}

// Cancel removes a waiting/delayed job from the Broker and marks it
// failed with error "cancelled"; active jobs are refused.
func (c *Control) Cancel(ctx context.Context, id, owner string, isAdmin bool) error {
	job, err := c.store.Get(ctx, id)
	if err != nil {
		return err
	}
	if !isAdmin && job.Owner != owner {
		return jobforge.NewError(jobforge.CodeForbidden, "job belongs to a different owner", nil)
	}
	return c.cancelJob(ctx, job)
}

func (c *Control) cancelJob(ctx context.Context, job *jobforge.Job) error {
	switch job.Status {
	case jobforge.StatusCompleted, jobforge.StatusFailed:
		return nil
	case jobforge.StatusActive:
		return jobforge.NewError(jobforge.CodeRefusedActive, "job is currently active and cannot be cancelled", nil)
	}

	if _, err := c.broker.Remove(ctx, job.Queue, job.ID); err != nil {
		return err
	}
	now := time.Now()
	_, err := c.store.Update(ctx, job.ID, map[string]interface{}{
		"status":    jobforge.StatusFailed,
		"failed_at": &now,
		"error":     "cancelled",
	})
	return err
}

// Retry creates a new job cloning queue/type/payload/max_attempts/
// priority from a failed job, with a fresh id, and links the original
// via retried_as.
func (c *Control) Retry(ctx context.Context, id, owner string, isAdmin bool) (string, error) {
	job, err := c.store.Get(ctx, id)
	if err != nil {
		return "", err
	}
	if !isAdmin && job.Owner != owner {
		return "", jobforge.NewError(jobforge.CodeForbidden, "job belongs to a different owner", nil)
	}
	if job.Status != jobforge.StatusFailed {
		return "", jobforge.NewError(jobforge.CodeNotRetriable, "only failed jobs can be retried", nil)
	}

	newID := uuid.New().String()
	newJob := &jobforge.Job{
		ID:          newID,
		Queue:       job.Queue,
		Type:        job.Type,
		Payload:     job.Payload,
		Owner:       job.Owner,
		Status:      jobforge.StatusWaiting,
		Priority:    job.Priority,
		MaxAttempts: job.MaxAttempts,
		CreatedAt:   time.Now(),
	}
	if err := c.store.Create(ctx, newJob); err != nil {
		return "", err
	}
	if err := c.broker.Enqueue(ctx, job.Queue, newID, job.Priority, nil); err != nil {
		return "", err
	}
	if _, err := c.store.Update(ctx, job.ID, map[string]interface{}{"retried_as": newID}); err != nil {
		c.log.Warnw("failed to link retried_as", "job_id", job.ID, "new_id", newID, "error", err)
	}
	return newID, nil
}

// BulkOutcome is one id's result from BulkCancel.
type BulkOutcome struct {
	ID     string `json:"id"`
	Status string `json:"status"`
}

// BulkCancel cancels every id in the list, reporting a per-id outcome
// instead of failing the whole batch on the first error.
func (c *Control) BulkCancel(ctx context.Context, ids []string, owner string, isAdmin bool) []BulkOutcome {
	outcomes := make([]BulkOutcome, 0, len(ids))
	for _, id := range ids {
		job, err := c.store.Get(ctx, id)
		if err != nil {
			outcomes = append(outcomes, BulkOutcome{ID: id, Status: "not_found"})
			continue
		}
		if !isAdmin && job.Owner != owner {
			outcomes = append(outcomes, BulkOutcome{ID: id, Status: "forbidden"})
			continue
		}
		if job.Status == jobforge.StatusActive {
			outcomes = append(outcomes, BulkOutcome{ID: id, Status: "refused_active"})
			continue
		}
		if job.Status == jobforge.StatusCompleted || job.Status == jobforge.StatusFailed {
			outcomes = append(outcomes, BulkOutcome{ID: id, Status: "skipped"})
			continue
		}
		if err := c.cancelJob(ctx, job); err != nil {
			outcomes = append(outcomes, BulkOutcome{ID: id, Status: "error"})
			continue
		}
		outcomes = append(outcomes, BulkOutcome{ID: id, Status: "cancelled"})
	}
	return outcomes
}

// ListForOwner lists jobs belonging to owner, the only listing a
// non-admin may call.
func (c *Control) ListForOwner(ctx context.Context, owner string, filter jobforge.Filter, page jobforge.Page) (jobforge.PageResult, error) {
	filter.Owner = owner
	return c.store.Query(ctx, filter, "", page)
}

// ListForQueue lists jobs in a queue, admin-only.
func (c *Control) ListForQueue(ctx context.Context, queue string, filter jobforge.Filter, page jobforge.Page) (jobforge.PageResult, error) {
	filter.Queue = queue
	return c.store.Query(ctx, filter, "", page)
}
