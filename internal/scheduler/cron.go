package scheduler

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"

	"github.com/jobforge/jobforge/internal/jobforge"
)

// Schedule validates expr, persists a CronEntry under a freshly
// generated name, and registers it with the cron driver so each fire
// submits a fresh job. Registering the same (queue, type, expr) twice
// yields two independent entries, each firing on its own.
func (s *Scheduler) Schedule(ctx context.Context, queue, jobType string, payload json.RawMessage, expr, owner string) (string, error) {
	name := uuid.New().String()
	if err := s.scheduleWithName(ctx, name, queue, jobType, payload, expr, owner); err != nil {
		return "", err
	}
	return name, nil
}

// EnsureSchedule registers name if it isn't already present, for the
// orchestrator's own bootstrap maintenance schedules: re-running it on
// every startup must not pile up duplicate entries.
func (s *Scheduler) EnsureSchedule(ctx context.Context, name, queue, jobType string, payload json.RawMessage, expr, owner string) error {
	if _, err := s.store.GetCronEntry(ctx, name); err == nil {
		return nil
	} else if !jobforge.HasCode(err, jobforge.CodeNotFound) {
		return err
	}
	return s.scheduleWithName(ctx, name, queue, jobType, payload, expr, owner)
}

func (s *Scheduler) scheduleWithName(ctx context.Context, name, queue, jobType string, payload json.RawMessage, expr, owner string) error {
	if !jobforge.IsRegisteredQueue(queue) {
		return jobforge.NewError(jobforge.CodeInvalidQueue, fmt.Sprintf("queue %q is not registered", queue), nil)
	}
	if _, err := s.cron.Parser().Parse(expr); err != nil {
		return jobforge.Wrap(jobforge.CodeInvalidCron, err, "invalid cron expression %q", expr)
	}

	entry := &jobforge.CronEntry{
		Name:       name,
		Queue:      queue,
		Type:       jobType,
		Payload:    payload,
		Expression: expr,
		Owner:      owner,
	}
	if err := s.store.CreateCronEntry(ctx, entry); err != nil {
		return err
	}
	return s.addCronFunc(*entry)
}

// Unschedule removes a registered cron entry from both the driver and
// the Store.
func (s *Scheduler) Unschedule(ctx context.Context, name string) error {
	s.mu.Lock()
	id, ok := s.entryIDs[name]
	if ok {
		s.cron.Remove(id)
		delete(s.entryIDs, name)
	}
	s.mu.Unlock()

	return s.store.DeleteCronEntry(ctx, name)
}

// ListSchedules returns every registered cron entry with its next run
// time, where still tracked by the live driver.
func (s *Scheduler) ListSchedules(ctx context.Context) ([]ScheduleView, error) {
	entries, err := s.store.ListCronEntries(ctx)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	views := make([]ScheduleView, 0, len(entries))
	for _, e := range entries {
		view := ScheduleView{CronEntry: e}
		if id, ok := s.entryIDs[e.Name]; ok {
			view.NextRun = s.cron.Entry(id).Next
		}
		views = append(views, view)
	}
	return views, nil
}

// ScheduleView is one entry in ListSchedules's result.
type ScheduleView struct {
	jobforge.CronEntry
	NextRun time.Time `json:"next_run"`
}

// TriggerScheduled fires a registered entry immediately, outside its
// normal cron cadence, for admin-initiated manual runs.
func (s *Scheduler) TriggerScheduled(ctx context.Context, name string) (string, error) {
	entry, err := s.store.GetCronEntry(ctx, name)
	if err != nil {
		return "", err
	}
	return s.fire(ctx, *entry)
}

func (s *Scheduler) addCronFunc(entry jobforge.CronEntry) error {
	id, err := s.cron.AddFunc(entry.Expression, func() {
		ctx := context.Background()
		if _, err := s.fire(ctx, entry); err != nil {
			s.log.Errorw("scheduled fire failed", "name", entry.Name, "error", err)
		}
	})
	if err != nil {
		return jobforge.Wrap(jobforge.CodeInvalidCron, err, "register cron entry %s", entry.Name)
	}
	s.mu.Lock()
	s.entryIDs[entry.Name] = id
	s.mu.Unlock()
	return nil
}

// fire submits a fresh job for a cron entry, always with a new id:
// scheduled jobs never reuse an id across fires.
func (s *Scheduler) fire(ctx context.Context, entry jobforge.CronEntry) (string, error) {
	s.mu.Lock()
	sub := s.submitter
	s.mu.Unlock()
	if sub == nil {
		return "", jobforge.NewError(jobforge.CodeInvalidConfig, "scheduler has no submitter attached", nil)
	}
	opts := jobforge.SubmitOptions{ID: uuid.New().String(), Owner: entry.Owner}
	return sub.Submit(ctx, entry.Queue, entry.Type, entry.Payload, opts)
}
