package worker

import (
	"context"
	"testing"
	"time"

	"github.com/jobforge/jobforge/internal/jobforge"
	"github.com/jobforge/jobforge/internal/logger"
)

func TestSweepStallsRequeuesWithinAttemptBudget(t *testing.T) {
	st, brk := newHarness(t)
	ctx := context.Background()

	submitTestJob(t, ctx, st, brk, "j1", "notifications", "send-notification", 3)
	id, _, ok, err := brk.Reserve(ctx, "notifications", time.Millisecond)
	if err != nil || !ok || id != "j1" {
		t.Fatalf("reserve: id=%s ok=%v err=%v", id, ok, err)
	}
	if _, err := st.Update(ctx, "j1", map[string]interface{}{"status": jobforge.StatusActive, "attempts": 1}); err != nil {
		t.Fatalf("update to active: %v", err)
	}

	n, err := SweepStalls(ctx, "notifications", st, brk, 5*time.Millisecond, time.Second, logger.New("error", "test"))
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected 1 stalled job reaped, got %d", n)
	}

	job, err := st.Get(ctx, "j1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if job.Status != jobforge.StatusWaiting {
		t.Fatalf("expected stalled-but-retriable job to return to waiting, got %s", job.Status)
	}
	if job.StalledAt == nil {
		t.Fatal("expected stalled_at to be set")
	}
}

func TestSweepStallsFailsOnExhaustion(t *testing.T) {
	st, brk := newHarness(t)
	ctx := context.Background()

	submitTestJob(t, ctx, st, brk, "j1", "notifications", "send-notification", 1)
	id, _, ok, err := brk.Reserve(ctx, "notifications", time.Millisecond)
	if err != nil || !ok || id != "j1" {
		t.Fatalf("reserve: id=%s ok=%v err=%v", id, ok, err)
	}
	if _, err := st.Update(ctx, "j1", map[string]interface{}{"status": jobforge.StatusActive, "attempts": 1}); err != nil {
		t.Fatalf("update to active: %v", err)
	}

	n, err := SweepStalls(ctx, "notifications", st, brk, 5*time.Millisecond, time.Second, logger.New("error", "test"))
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected 1 stalled job reaped, got %d", n)
	}

	job, err := st.Get(ctx, "j1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if job.Status != jobforge.StatusFailed {
		t.Fatalf("expected a stall at max attempts to fail, got %s", job.Status)
	}
}
