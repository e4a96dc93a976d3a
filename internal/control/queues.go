package control

import (
	"context"
	"fmt"
	"time"

	"github.com/jobforge/jobforge/internal/jobforge"
)

// QueueEntry is one row of QueueList's result: the descriptor merged
// with live Broker sizes.
type QueueEntry struct {
	jobforge.QueueDescriptor
	Sizes jobforge.QueueSizes `json:"sizes"`
}

// QueueList returns every registered queue's descriptor with live
// sizes, admin-only.
func (c *Control) QueueList(ctx context.Context) ([]QueueEntry, error) {
	entries := make([]QueueEntry, 0, len(jobforge.Registry))
	for _, name := range jobforge.Registry {
		entry, err := c.queueEntry(ctx, name)
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

func (c *Control) queueEntry(ctx context.Context, name string) (QueueEntry, error) {
	desc, err := c.store.GetQueueDescriptor(ctx, name)
	if err != nil {
		return QueueEntry{}, err
	}
	waiting, active, delayed, err := c.broker.Sizes(ctx, name)
	if err != nil {
		return QueueEntry{}, err
	}
	rows, err := c.store.Aggregate(ctx, name)
	if err != nil {
		return QueueEntry{}, err
	}
	var completed, failed int64
	for _, r := range rows {
		switch r.Status {
		case jobforge.StatusCompleted:
			completed = r.Count
		case jobforge.StatusFailed:
			failed = r.Count
		}
	}
	return QueueEntry{
		QueueDescriptor: *desc,
		Sizes: jobforge.QueueSizes{
			Waiting:   waiting,
			Active:    active,
			Delayed:   delayed,
			Completed: completed,
			Failed:    failed,
		},
	}, nil
}

// QueueDetailResult is QueueDetail's response: the descriptor, live
// sizes, recent jobs, and a per-type count rollup.
type QueueDetailResult struct {
	QueueEntry
	RecentJobs []jobforge.Job `json:"recent_jobs"`
	PerType    map[string]int64 `json:"per_type"`
}

// QueueDetail returns one queue's descriptor, recent jobs, and a
// per-type rollup, admin-only.
func (c *Control) QueueDetail(ctx context.Context, queue string) (*QueueDetailResult, error) {
	if !jobforge.IsRegisteredQueue(queue) {
		return nil, jobforge.NewError(jobforge.CodeNotFound, fmt.Sprintf("queue %q not found", queue), nil)
	}
	entry, err := c.queueEntry(ctx, queue)
	if err != nil {
		return nil, err
	}
	page, err := c.store.Query(ctx, jobforge.Filter{Queue: queue}, "created_at desc", jobforge.Page{Limit: 25})
	if err != nil {
		return nil, err
	}
	rows, err := c.store.Aggregate(ctx, queue)
	if err != nil {
		return nil, err
	}
	perType := make(map[string]int64, len(rows))
	for _, r := range rows {
		perType[r.Type] += r.Count
	}
	return &QueueDetailResult{QueueEntry: entry, RecentJobs: page.Jobs, PerType: perType}, nil
}

// PauseQueue stops workers from reserving new jobs on queue; in-flight
// jobs continue to run.
func (c *Control) PauseQueue(ctx context.Context, queue string) error {
	if !jobforge.IsRegisteredQueue(queue) {
		return jobforge.NewError(jobforge.CodeNotFound, fmt.Sprintf("queue %q not found", queue), nil)
	}
	if err := c.broker.SetPaused(ctx, queue, true); err != nil {
		return err
	}
	return c.setActive(ctx, queue, false)
}

// ResumeQueue re-enables reservation on queue.
func (c *Control) ResumeQueue(ctx context.Context, queue string) error {
	if !jobforge.IsRegisteredQueue(queue) {
		return jobforge.NewError(jobforge.CodeNotFound, fmt.Sprintf("queue %q not found", queue), nil)
	}
	if err := c.broker.SetPaused(ctx, queue, false); err != nil {
		return err
	}
	return c.setActive(ctx, queue, true)
}

func (c *Control) setActive(ctx context.Context, queue string, active bool) error {
	desc, err := c.store.GetQueueDescriptor(ctx, queue)
	if err != nil {
		return err
	}
	desc.IsActive = active
	return c.store.SaveQueueDescriptor(ctx, desc)
}

// CleanQueue hard-deletes terminal jobs in queue older than olderThan
// and (optionally) matching status, admin-only.
func (c *Control) CleanQueue(ctx context.Context, queue string, olderThan time.Time, status jobforge.Status) (int64, error) {
	if !jobforge.IsRegisteredQueue(queue) {
		return 0, jobforge.NewError(jobforge.CodeNotFound, fmt.Sprintf("queue %q not found", queue), nil)
	}
	filter := jobforge.Filter{Queue: queue, CreatedBefore: &olderThan}
	if status != "" {
		filter.Status = status
	}
	page, err := c.store.Query(ctx, filter, "", jobforge.Page{Limit: 10000})
	if err != nil {
		return 0, err
	}
	ids := make([]string, 0, len(page.Jobs))
	for _, job := range page.Jobs {
		if job.Status != jobforge.StatusCompleted && job.Status != jobforge.StatusFailed {
			continue
		}
		ids = append(ids, job.ID)
	}
	return c.store.DeleteIDs(ctx, ids)
}

// UpdateQueueConfig overwrites a queue's mutable configuration,
// admin-only.
func (c *Control) UpdateQueueConfig(ctx context.Context, queue string, cfg jobforge.QueueConfig) (*jobforge.QueueDescriptor, error) {
	if !jobforge.IsRegisteredQueue(queue) {
		return nil, jobforge.NewError(jobforge.CodeNotFound, fmt.Sprintf("queue %q not found", queue), nil)
	}
	if cfg.Concurrency <= 0 || cfg.RetryAttempts <= 0 {
		return nil, jobforge.NewError(jobforge.CodeInvalidConfig, "concurrency and retry_attempts must be positive", nil)
	}
	desc, err := c.store.GetQueueDescriptor(ctx, queue)
	if err != nil {
		return nil, err
	}
	desc.Configuration = cfg
	if err := c.store.SaveQueueDescriptor(ctx, desc); err != nil {
		return nil, err
	}
	return desc, nil
}
