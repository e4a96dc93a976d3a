package control

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/jobforge/jobforge/internal/jobforge"
)

func TestScheduleRepeatingRegistersAndTriggers(t *testing.T) {
	c := newTestControl(t)
	ctx := context.Background()

	name, err := c.ScheduleRepeating(ctx, "notifications", "send-notification", json.RawMessage(`{}`), "0 0 * * * *", "admin")
	if err != nil {
		t.Fatalf("schedule repeating: %v", err)
	}
	if name == "" {
		t.Fatal("expected a generated schedule name")
	}

	views, err := c.ListSchedules(ctx)
	if err != nil {
		t.Fatalf("list schedules: %v", err)
	}
	if len(views) != 1 {
		t.Fatalf("expected 1 schedule, got %d", len(views))
	}

	id, err := c.TriggerScheduled(ctx, name)
	if err != nil {
		t.Fatalf("trigger scheduled: %v", err)
	}
	view, err := c.Inspect(ctx, id, "admin", false)
	if err != nil {
		t.Fatalf("inspect fired job: %v", err)
	}
	if view.Queue != "notifications" {
		t.Fatalf("expected fired job on notifications queue, got %s", view.Queue)
	}
}

func TestScheduleRepeatingTwiceRegistersIndependentEntries(t *testing.T) {
	c := newTestControl(t)
	ctx := context.Background()

	name1, err := c.ScheduleRepeating(ctx, "cleanup", "cleanup-expired-jobs", json.RawMessage(`{}`), "0 2 * * *", "admin")
	if err != nil {
		t.Fatalf("schedule repeating (1): %v", err)
	}
	name2, err := c.ScheduleRepeating(ctx, "cleanup", "cleanup-expired-jobs", json.RawMessage(`{}`), "0 2 * * *", "admin")
	if err != nil {
		t.Fatalf("schedule repeating (2): %v", err)
	}
	if name1 == name2 {
		t.Fatalf("expected independent names, got %s twice", name1)
	}

	views, err := c.ListSchedules(ctx)
	if err != nil {
		t.Fatalf("list schedules: %v", err)
	}
	if len(views) != 2 {
		t.Fatalf("expected 2 independent schedules, got %d", len(views))
	}
}

func TestTriggerScheduledUnknownNameIsNotTriggerable(t *testing.T) {
	c := newTestControl(t)
	_, err := c.TriggerScheduled(context.Background(), "does-not-exist")
	if !jobforge.HasCode(err, jobforge.CodeNotTriggerable) {
		t.Fatalf("expected CodeNotTriggerable, got %v", err)
	}
}

func TestScheduleRepeatingRejectsBadCron(t *testing.T) {
	c := newTestControl(t)
	_, err := c.ScheduleRepeating(context.Background(), "notifications", "send-notification", json.RawMessage(`{}`), "not a cron expression", "admin")
	if !jobforge.HasCode(err, jobforge.CodeInvalidCron) {
		t.Fatalf("expected CodeInvalidCron, got %v", err)
	}
}

func TestUnscheduleRemovesEntry(t *testing.T) {
	c := newTestControl(t)
	ctx := context.Background()
	name, err := c.ScheduleRepeating(ctx, "notifications", "send-notification", json.RawMessage(`{}`), "0 0 0 * * *", "admin")
	if err != nil {
		t.Fatalf("schedule repeating: %v", err)
	}
	if err := c.UnscheduleRepeating(ctx, name); err != nil {
		t.Fatalf("unschedule: %v", err)
	}
	views, err := c.ListSchedules(ctx)
	if err != nil {
		t.Fatalf("list schedules: %v", err)
	}
	if len(views) != 0 {
		t.Fatalf("expected no schedules after unschedule, got %d", len(views))
	}
}

func TestHealthSummaryDefaultsHealthy(t *testing.T) {
	c := newTestControl(t)
	ctx := context.Background()
	if _, err := c.Submit(ctx, "notifications", "send-notification", json.RawMessage(`{}`), jobforge.SubmitOptions{Owner: "u1"}); err != nil {
		t.Fatalf("submit: %v", err)
	}
	// force the descriptor to exist
	if _, err := c.store.GetQueueDescriptor(ctx, "notifications"); err != nil {
		t.Fatalf("get descriptor: %v", err)
	}

	summary, err := c.HealthSummary(ctx)
	if err != nil {
		t.Fatalf("health summary: %v", err)
	}
	if summary.Overall != jobforge.HealthHealthy {
		t.Fatalf("expected healthy overall status by default, got %s", summary.Overall)
	}
}
