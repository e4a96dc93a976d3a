package integration

import (
	"context"
	"encoding/json"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/jobforge/jobforge/internal/broker"
	"github.com/jobforge/jobforge/internal/control"
	"github.com/jobforge/jobforge/internal/handler"
	"github.com/jobforge/jobforge/internal/jobforge"
	"github.com/jobforge/jobforge/internal/logger"
	"github.com/jobforge/jobforge/internal/scheduler"
	"github.com/jobforge/jobforge/internal/store"
	"github.com/jobforge/jobforge/internal/worker"
)

// harness wires a Store, MemoryBroker, Scheduler, and Control Plane
// together the way cmd/jobforged does, minus the HTTP surface, so
// these tests exercise the same object graph end to end.
type harness struct {
	st    *store.Store
	brk   *broker.MemoryBroker
	sched *scheduler.Scheduler
	ctrl  *control.Control
	types *jobforge.TypeRegistry
	log   *logger.Logger
}

func newE2EHarness(t *testing.T, schedCfg scheduler.Config) *harness {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := store.Migrate(db); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	log := logger.New("error", "test")
	st := store.New(db, log)
	brk := broker.NewMemoryBroker()
	types := jobforge.NewTypeRegistry()

	sched := scheduler.New(schedCfg, st, brk, nil, log)
	ctrl := control.New(st, brk, sched, types, log)
	sched.SetSubmitter(ctrl)

	return &harness{st: st, brk: brk, sched: sched, ctrl: ctrl, types: types, log: log}
}

func waitForStatus(t *testing.T, ctx context.Context, st *store.Store, id string, want jobforge.Status, timeout time.Duration) *jobforge.Job {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		job, err := st.Get(ctx, id)
		if err != nil {
			t.Fatalf("get job %s: %v", id, err)
		}
		if job.Status == want {
			return job
		}
		time.Sleep(5 * time.Millisecond)
	}
	job, _ := st.Get(ctx, id)
	t.Fatalf("job %s did not reach status %s within %v, last seen %+v", id, want, timeout, job)
	return nil
}

// TestHappyPath submits j1 against notifications/send-notification; the
// handler succeeds immediately. Expect completed, attempts=1, and a
// processing time close to the handler's own delay.
func TestHappyPath(t *testing.T) {
	h := newE2EHarness(t, scheduler.Config{
		DelayPromotionInterval: 20 * time.Millisecond,
		StallSweepInterval:     20 * time.Millisecond,
		MetricsRefreshInterval: time.Minute,
		RetentionTrimInterval:  time.Minute,
		RetryBaseDelay:         50 * time.Millisecond,
		RetryCeiling:           time.Second,
	})
	h.types.Register(jobforge.JobTypeDef{Queue: "notifications", Type: "send-notification", URL: "http://example.invalid", Method: "POST"})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ip := handler.NewInProcessHandler()
	ip.Register("notifications", "send-notification", func(ctx context.Context, job jobforge.Job) ([]byte, error) {
		time.Sleep(40 * time.Millisecond)
		return []byte(`{"sent":true}`), nil
	})
	pool := worker.New(worker.Config{
		Queue:          "notifications",
		Concurrency:    1,
		LeaseDuration:  time.Second,
		RetryBaseDelay: 50 * time.Millisecond,
		RetryCeiling:   time.Second,
		HandlerTimeout: time.Second,
	}, h.st, h.brk, ip, h.log)
	pool.Start(ctx)
	defer pool.Stop(context.Background())

	id, err := h.ctrl.Submit(ctx, "notifications", "send-notification", json.RawMessage(`{"user":"u1","msg":"hi"}`), jobforge.SubmitOptions{ID: "j1", MaxAttempts: 3})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if id != "j1" {
		t.Fatalf("expected id j1, got %s", id)
	}

	job := waitForStatus(t, ctx, h.st, "j1", jobforge.StatusCompleted, time.Second)
	if job.Attempts != 1 {
		t.Fatalf("expected 1 attempt, got %d", job.Attempts)
	}
	if job.ProcessingTimeMS < 30 || job.ProcessingTimeMS > 500 {
		t.Fatalf("expected processing time near 40ms, got %d", job.ProcessingTimeMS)
	}
}

// TestRetryThenSuccess has j2 fail once with a retriable error, then
// succeed on the second attempt after the configured retry delay.
func TestRetryThenSuccess(t *testing.T) {
	h := newE2EHarness(t, scheduler.Config{
		DelayPromotionInterval: 10 * time.Millisecond,
		StallSweepInterval:     20 * time.Millisecond,
		MetricsRefreshInterval: time.Minute,
		RetentionTrimInterval:  time.Minute,
		RetryBaseDelay:         2 * time.Second,
		RetryCeiling:           10 * time.Second,
	})
	h.types.Register(jobforge.JobTypeDef{Queue: "notifications", Type: "send-notification", URL: "http://example.invalid", Method: "POST"})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var attempts int32
	ip := handler.NewInProcessHandler()
	ip.Register("notifications", "send-notification", func(ctx context.Context, job jobforge.Job) ([]byte, error) {
		if atomic.AddInt32(&attempts, 1) == 1 {
			return nil, jobforge.NewError(jobforge.CodeHandlerRetriable, "upstream returned 503", nil)
		}
		return []byte(`{"sent":true}`), nil
	})
	pool := worker.New(worker.Config{
		Queue:          "notifications",
		Concurrency:    1,
		LeaseDuration:  time.Second,
		RetryBaseDelay: 2 * time.Second,
		RetryCeiling:   10 * time.Second,
		HandlerTimeout: time.Second,
	}, h.st, h.brk, ip, h.log)
	pool.Start(ctx)
	defer pool.Stop(context.Background())
	if err := h.sched.Start(ctx); err != nil {
		t.Fatalf("start scheduler: %v", err)
	}
	defer h.sched.Stop(context.Background())

	started := time.Now()
	id, err := h.ctrl.Submit(ctx, "notifications", "send-notification", json.RawMessage(`{}`), jobforge.SubmitOptions{ID: "j2", MaxAttempts: 3})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}

	job := waitForStatus(t, ctx, h.st, id, jobforge.StatusCompleted, 6*time.Second)
	if job.Attempts != 2 {
		t.Fatalf("expected 2 attempts, got %d", job.Attempts)
	}
	if job.CompletedAt == nil {
		t.Fatal("expected completed_at to be set")
	}
	if job.CompletedAt.Sub(started) < 2*time.Second {
		t.Fatalf("expected completion at least 2s after submit, got %v", job.CompletedAt.Sub(started))
	}
}

// TestExhaustion has the handler fail twice against max_attempts=2; the
// job ends failed with both attempts recorded and is gone from every
// broker set.
func TestExhaustion(t *testing.T) {
	h := newE2EHarness(t, scheduler.Config{
		DelayPromotionInterval: 10 * time.Millisecond,
		StallSweepInterval:     20 * time.Millisecond,
		MetricsRefreshInterval: time.Minute,
		RetentionTrimInterval:  time.Minute,
		RetryBaseDelay:         30 * time.Millisecond,
		RetryCeiling:           time.Second,
	})
	h.types.Register(jobforge.JobTypeDef{Queue: "notifications", Type: "send-notification", URL: "http://example.invalid", Method: "POST"})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ip := handler.NewInProcessHandler()
	ip.Register("notifications", "send-notification", func(ctx context.Context, job jobforge.Job) ([]byte, error) {
		return nil, jobforge.NewError(jobforge.CodeHandlerRetriable, "upstream returned 500", nil)
	})
	pool := worker.New(worker.Config{
		Queue:          "notifications",
		Concurrency:    1,
		LeaseDuration:  time.Second,
		RetryBaseDelay: 30 * time.Millisecond,
		RetryCeiling:   time.Second,
		HandlerTimeout: time.Second,
	}, h.st, h.brk, ip, h.log)
	pool.Start(ctx)
	defer pool.Stop(context.Background())
	if err := h.sched.Start(ctx); err != nil {
		t.Fatalf("start scheduler: %v", err)
	}
	defer h.sched.Stop(context.Background())

	id, err := h.ctrl.Submit(ctx, "notifications", "send-notification", json.RawMessage(`{}`), jobforge.SubmitOptions{ID: "j3", MaxAttempts: 2})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}

	job := waitForStatus(t, ctx, h.st, id, jobforge.StatusFailed, 3*time.Second)
	if job.Attempts != 2 {
		t.Fatalf("expected 2 attempts, got %d", job.Attempts)
	}
	if job.Error == "" {
		t.Fatal("expected a non-empty error")
	}

	waiting, active, delayed, err := h.brk.Sizes(ctx, "notifications")
	if err != nil {
		t.Fatalf("sizes: %v", err)
	}
	if waiting != 0 || active != 0 || delayed != 0 {
		t.Fatalf("expected the job absent from every broker set, got waiting=%d active=%d delayed=%d", waiting, active, delayed)
	}
}

// TestCancelWaiting cancels j4 while it still sits in the delayed set;
// it ends failed with error "cancelled" and the delayed count drops.
func TestCancelWaiting(t *testing.T) {
	h := newE2EHarness(t, scheduler.Config{
		DelayPromotionInterval: time.Hour,
		StallSweepInterval:     time.Hour,
		MetricsRefreshInterval: time.Hour,
		RetentionTrimInterval:  time.Hour,
	})
	h.types.Register(jobforge.JobTypeDef{Queue: "notifications", Type: "send-notification", URL: "http://example.invalid", Method: "POST"})
	ctx := context.Background()

	id, err := h.ctrl.Submit(ctx, "notifications", "send-notification", json.RawMessage(`{}`), jobforge.SubmitOptions{ID: "j4", DelayMS: 60000, Owner: "u1"})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}

	_, _, before, err := h.brk.Sizes(ctx, "notifications")
	if err != nil {
		t.Fatalf("sizes: %v", err)
	}

	if err := h.ctrl.Cancel(ctx, id, "u1", false); err != nil {
		t.Fatalf("cancel: %v", err)
	}

	job, err := h.st.Get(ctx, id)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if job.Status != jobforge.StatusFailed {
		t.Fatalf("expected failed, got %s", job.Status)
	}
	if job.Error != "cancelled" {
		t.Fatalf("expected error \"cancelled\", got %q", job.Error)
	}

	_, _, after, err := h.brk.Sizes(ctx, "notifications")
	if err != nil {
		t.Fatalf("sizes: %v", err)
	}
	if after != before-1 {
		t.Fatalf("expected delayed count to drop by 1, before=%d after=%d", before, after)
	}
}

// TestStall has the handler hang past its lease; the scheduler's stall
// sweep observes the expired lease and requeues the job for another
// attempt, and the late handler's own ack is ignored once its token is
// stale.
func TestStall(t *testing.T) {
	h := newE2EHarness(t, scheduler.Config{
		DelayPromotionInterval: 20 * time.Millisecond,
		StallSweepInterval:     20 * time.Millisecond,
		MetricsRefreshInterval: time.Minute,
		RetentionTrimInterval:  time.Minute,
		RetryBaseDelay:         10 * time.Millisecond,
		RetryCeiling:           time.Second,
	})
	h.types.Register(jobforge.JobTypeDef{Queue: "notifications", Type: "send-notification", URL: "http://example.invalid", Method: "POST"})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	unblock := make(chan struct{})
	var calls int32
	ip := handler.NewInProcessHandler()
	ip.Register("notifications", "send-notification", func(ctx context.Context, job jobforge.Job) ([]byte, error) {
		if atomic.AddInt32(&calls, 1) == 1 {
			<-unblock
			return []byte(`{}`), nil
		}
		return []byte(`{}`), nil
	})
	pool := worker.New(worker.Config{
		Queue:          "notifications",
		Concurrency:    1,
		LeaseDuration:  60 * time.Millisecond,
		RetryBaseDelay: 10 * time.Millisecond,
		RetryCeiling:   time.Second,
		HandlerTimeout: time.Minute,
	}, h.st, h.brk, ip, h.log)
	pool.Start(ctx)
	defer pool.Stop(context.Background())
	if err := h.sched.Start(ctx); err != nil {
		t.Fatalf("start scheduler: %v", err)
	}
	defer h.sched.Stop(context.Background())

	id, err := h.ctrl.Submit(ctx, "notifications", "send-notification", json.RawMessage(`{}`), jobforge.SubmitOptions{ID: "j5", MaxAttempts: 3})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}

	waitForStatus(t, ctx, h.st, id, jobforge.StatusWaiting, 2*time.Second)
	close(unblock)

	job := waitForStatus(t, ctx, h.st, id, jobforge.StatusCompleted, 3*time.Second)
	if job.Attempts < 1 {
		t.Fatalf("expected at least 1 recorded attempt, got %d", job.Attempts)
	}
}

// TestCron registers a recurring cleanup entry and fires it twice via
// manual trigger (standing in for the scheduler's own clock), each
// producing an independent job.
func TestCron(t *testing.T) {
	h := newE2EHarness(t, scheduler.Config{
		DelayPromotionInterval: time.Hour,
		StallSweepInterval:     time.Hour,
		MetricsRefreshInterval: time.Hour,
		RetentionTrimInterval:  time.Hour,
	})
	h.types.Register(jobforge.JobTypeDef{Queue: "cleanup", Type: "cleanup-expired-jobs", URL: "http://example.invalid", Method: "POST"})
	ctx := context.Background()

	name1, err := h.ctrl.ScheduleRepeating(ctx, "cleanup", "cleanup-expired-jobs", json.RawMessage(`{"older_than_days":30}`), "0 2 * * *", "")
	if err != nil {
		t.Fatalf("schedule repeating: %v", err)
	}
	name2, err := h.ctrl.ScheduleRepeating(ctx, "cleanup", "cleanup-expired-jobs", json.RawMessage(`{"older_than_days":30}`), "0 2 * * *", "")
	if err != nil {
		t.Fatalf("schedule repeating a second time: %v", err)
	}
	if name1 == name2 {
		t.Fatalf("expected independent entry names, got %s twice", name1)
	}

	id1, err := h.ctrl.TriggerScheduled(ctx, name1)
	if err != nil {
		t.Fatalf("trigger 1: %v", err)
	}
	id2, err := h.ctrl.TriggerScheduled(ctx, name2)
	if err != nil {
		t.Fatalf("trigger 2: %v", err)
	}
	if id1 == id2 {
		t.Fatalf("expected independent ids per fire, got %s twice", id1)
	}

	for _, id := range []string{id1, id2} {
		job, err := h.st.Get(ctx, id)
		if err != nil {
			t.Fatalf("get %s: %v", id, err)
		}
		if job.Queue != "cleanup" || job.Type != "cleanup-expired-jobs" {
			t.Fatalf("unexpected job for fire %s: %+v", id, job)
		}
	}
}
