package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	brokerpkg "github.com/jobforge/jobforge/internal/broker"
	"github.com/jobforge/jobforge/internal/handler"
	"github.com/jobforge/jobforge/internal/jobforge"
	"github.com/jobforge/jobforge/internal/logger"
	"github.com/jobforge/jobforge/internal/store"
)

func newHarness(t *testing.T) (*store.Store, *brokerpkg.MemoryBroker) {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := store.Migrate(db); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	st := store.New(db, logger.New("error", "test"))
	return st, brokerpkg.NewMemoryBroker()
}

func submitTestJob(t *testing.T, ctx context.Context, st *store.Store, brk *brokerpkg.MemoryBroker, id, queue, jobType string, maxAttempts int) {
	t.Helper()
	job := &jobforge.Job{
		ID:          id,
		Queue:       queue,
		Type:        jobType,
		Payload:     json.RawMessage(`{}`),
		Status:      jobforge.StatusWaiting,
		MaxAttempts: maxAttempts,
	}
	if err := st.Create(ctx, job); err != nil {
		t.Fatalf("create job: %v", err)
	}
	if err := brk.Enqueue(ctx, queue, id, 0, nil); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
}

func waitForStatus(t *testing.T, st *store.Store, id string, want jobforge.Status, timeout time.Duration) *jobforge.Job {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		job, err := st.Get(context.Background(), id)
		if err != nil {
			t.Fatalf("get job: %v", err)
		}
		if job.Status == want {
			return job
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("job %s did not reach status %s within %v", id, want, timeout)
	return nil
}

func TestPoolHappyPath(t *testing.T) {
	st, brk := newHarness(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ip := handler.NewInProcessHandler()
	ip.Register("notifications", "send-notification", func(ctx context.Context, job jobforge.Job) ([]byte, error) {
		return []byte(`{"sent":true}`), nil
	})

	pool := New(Config{
		Queue:          "notifications",
		Concurrency:    1,
		LeaseDuration:  time.Second,
		RetryBaseDelay: 10 * time.Millisecond,
		RetryCeiling:   time.Second,
		HandlerTimeout: time.Second,
	}, st, brk, ip, logger.New("error", "test"))

	submitTestJob(t, ctx, st, brk, "j1", "notifications", "send-notification", 3)

	pool.Start(ctx)
	defer pool.Stop(context.Background())

	job := waitForStatus(t, st, "j1", jobforge.StatusCompleted, 2*time.Second)
	if job.Attempts != 1 {
		t.Fatalf("expected 1 attempt on the happy path, got %d", job.Attempts)
	}
}

func TestPoolRetriesThenSucceeds(t *testing.T) {
	st, brk := newHarness(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var calls int32
	ip := handler.NewInProcessHandler()
	ip.Register("notifications", "flaky", func(ctx context.Context, job jobforge.Job) ([]byte, error) {
		n := atomic.AddInt32(&calls, 1)
		if n < 2 {
			return nil, jobforge.NewError(jobforge.CodeHandlerRetriable, "transient failure", nil)
		}
		return []byte(`{"ok":true}`), nil
	})

	pool := New(Config{
		Queue:          "notifications",
		Concurrency:    1,
		LeaseDuration:  time.Second,
		RetryBaseDelay: 5 * time.Millisecond,
		RetryCeiling:   time.Second,
		HandlerTimeout: time.Second,
	}, st, brk, ip, logger.New("error", "test"))

	submitTestJob(t, ctx, st, brk, "j2", "notifications", "flaky", 3)

	pool.Start(ctx)
	defer pool.Stop(context.Background())

	// the failed attempt requeues into delayed; give the scheduler's
	// promotion job a substitute here by promoting manually after the delay.
	go func() {
		deadline := time.Now().Add(2 * time.Second)
		for time.Now().Before(deadline) {
			brk.PromoteDue(ctx, "notifications", time.Now())
			time.Sleep(5 * time.Millisecond)
		}
	}()

	job := waitForStatus(t, st, "j2", jobforge.StatusCompleted, 3*time.Second)
	if job.Attempts != 2 {
		t.Fatalf("expected 2 attempts before success, got %d", job.Attempts)
	}
}

func TestPoolExhaustsRetriesAndFails(t *testing.T) {
	st, brk := newHarness(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ip := handler.NewInProcessHandler()
	ip.Register("notifications", "always-fails", func(ctx context.Context, job jobforge.Job) ([]byte, error) {
		return nil, jobforge.NewError(jobforge.CodeHandlerRetriable, "still failing", nil)
	})

	pool := New(Config{
		Queue:          "notifications",
		Concurrency:    1,
		LeaseDuration:  time.Second,
		RetryBaseDelay: 5 * time.Millisecond,
		RetryCeiling:   50 * time.Millisecond,
		HandlerTimeout: time.Second,
	}, st, brk, ip, logger.New("error", "test"))

	submitTestJob(t, ctx, st, brk, "j3", "notifications", "always-fails", 2)

	pool.Start(ctx)
	defer pool.Stop(context.Background())

	go func() {
		deadline := time.Now().Add(2 * time.Second)
		for time.Now().Before(deadline) {
			brk.PromoteDue(ctx, "notifications", time.Now())
			time.Sleep(5 * time.Millisecond)
		}
	}()

	job := waitForStatus(t, st, "j3", jobforge.StatusFailed, 3*time.Second)
	if job.Attempts != 2 {
		t.Fatalf("expected exhaustion at max_attempts=2, got %d attempts", job.Attempts)
	}
}

func TestPoolHandlerFatalSkipsRetry(t *testing.T) {
	st, brk := newHarness(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ip := handler.NewInProcessHandler()
	ip.Register("notifications", "bad-payload", func(ctx context.Context, job jobforge.Job) ([]byte, error) {
		return nil, jobforge.NewError(jobforge.CodeHandlerFatal, "unrecoverable", nil)
	})

	pool := New(Config{
		Queue:          "notifications",
		Concurrency:    1,
		LeaseDuration:  time.Second,
		RetryBaseDelay: 5 * time.Millisecond,
		RetryCeiling:   time.Second,
		HandlerTimeout: time.Second,
	}, st, brk, ip, logger.New("error", "test"))

	submitTestJob(t, ctx, st, brk, "j4", "notifications", "bad-payload", 5)

	pool.Start(ctx)
	defer pool.Stop(context.Background())

	job := waitForStatus(t, st, "j4", jobforge.StatusFailed, 2*time.Second)
	if job.Attempts != 1 {
		t.Fatalf("expected a fatal handler error to fail after 1 attempt, got %d", job.Attempts)
	}
}
