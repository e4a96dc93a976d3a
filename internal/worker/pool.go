// Package worker implements the Worker Pool: one pool per queue,
// owning a fixed number of concurrent slots that reserve jobs from
// the Broker, invoke the registered handler, and report outcome back
// to both Broker and Store, with dequeue/ack/nack lifted onto the
// Broker/Store split instead of a single combined queue.
package worker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/jobforge/jobforge/internal/broker"
	"github.com/jobforge/jobforge/internal/jobforge"
	"github.com/jobforge/jobforge/internal/logger"
	"github.com/jobforge/jobforge/internal/store"
)

// Config tunes one queue's pool.
type Config struct {
	Queue          string
	Concurrency    int
	LeaseDuration  time.Duration
	RetryBaseDelay time.Duration
	RetryCeiling   time.Duration
	HandlerTimeout time.Duration
}

// Pool is a bounded-concurrency executor for a single queue.
type Pool struct {
	cfg        Config
	store      *store.Store
	broker     broker.Broker
	handler    jobforge.Handler
	middleware []Middleware
	log        *logger.Logger

	wg     sync.WaitGroup
	cancel context.CancelFunc
}

// New constructs a pool for one queue.
func New(cfg Config, st *store.Store, brk broker.Broker, h jobforge.Handler, log *logger.Logger, middleware ...Middleware) *Pool {
	return &Pool{
		cfg:        cfg,
		store:      st,
		broker:     brk,
		handler:    h,
		middleware: middleware,
		log:        log.With("queue", cfg.Queue),
	}
}

// Start launches cfg.Concurrency slot goroutines.
func (p *Pool) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	p.cancel = cancel
	for i := 0; i < p.cfg.Concurrency; i++ {
		p.wg.Add(1)
		go p.slot(ctx, i)
	}
}

// Stop signals every slot to exit and waits for in-flight handler
// calls to return or ctx to expire.
func (p *Pool) Stop(ctx context.Context) error {
	if p.cancel != nil {
		p.cancel()
	}
	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *Pool) slot(ctx context.Context, slotID int) {
	defer p.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		id, token, ok, err := p.broker.Reserve(ctx, p.cfg.Queue, p.cfg.LeaseDuration)
		if err != nil {
			p.log.Warnw("reserve failed", "slot", slotID, "error", err)
			time.Sleep(time.Second)
			continue
		}
		if !ok {
			time.Sleep(100 * time.Millisecond)
			continue
		}

		p.process(ctx, id, token)
	}
}

func (p *Pool) process(ctx context.Context, id, token string) {
	job, err := p.store.Get(ctx, id)
	if err != nil {
		p.log.Errorw("reserved job missing from store", "job_id", id, "error", err)
		_ = p.broker.Nack(ctx, p.cfg.Queue, id, token, nil)
		return
	}

	now := time.Now()
	updated, err := p.store.Update(ctx, id, map[string]interface{}{
		"status":     jobforge.StatusActive,
		"started_at": &now,
		"attempts":   job.Attempts + 1,
	})
	if err != nil {
		p.log.Errorw("failed to mark job active", "job_id", id, "error", err)
		_ = p.broker.Nack(ctx, p.cfg.Queue, id, token, nil)
		return
	}
	job = updated

	handlerCtx, cancel := context.WithTimeout(ctx, p.effectiveTimeout())
	defer cancel()

	for _, mw := range p.middleware {
		if err := mw.Before(handlerCtx, *job); err != nil {
			p.log.Warnw("middleware before error", "job_id", id, "error", err)
		}
	}

	result, handleErr := p.invoke(handlerCtx, *job)

	for i := len(p.middleware) - 1; i >= 0; i-- {
		p.middleware[i].After(handlerCtx, *job, handleErr)
	}

	if handleErr == nil {
		p.onSuccess(ctx, job, token, result)
		return
	}
	p.onFailure(ctx, job, token, handleErr)
}

func (p *Pool) effectiveTimeout() time.Duration {
	if p.cfg.HandlerTimeout > 0 {
		return p.cfg.HandlerTimeout
	}
	return p.cfg.LeaseDuration
}

// invoke calls the handler, converting a panic into a retriable error
// instead of crashing the slot goroutine.
func (p *Pool) invoke(ctx context.Context, job jobforge.Job) (result []byte, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = jobforge.NewError(jobforge.CodeHandlerRetriable, fmt.Sprintf("handler panicked: %v", r), nil)
		}
	}()
	return p.handler.Handle(ctx, job)
}

func (p *Pool) onSuccess(ctx context.Context, job *jobforge.Job, token string, result []byte) {
	if err := p.broker.Ack(ctx, p.cfg.Queue, job.ID, token); err != nil {
		if !jobforge.HasCode(err, jobforge.CodeBadToken) {
			p.log.Warnw("ack failed", "job_id", job.ID, "error", err)
		}
		return
	}

	now := time.Now()
	var processingMS int64
	if job.StartedAt != nil {
		processingMS = now.Sub(*job.StartedAt).Milliseconds()
	}
	_, err := p.store.Update(ctx, job.ID, map[string]interface{}{
		"status":             jobforge.StatusCompleted,
		"result":             result,
		"completed_at":       &now,
		"processing_time_ms": processingMS,
		"error":              "",
	})
	if err != nil {
		p.log.Errorw("failed to record completion", "job_id", job.ID, "error", err)
	}
}

func (p *Pool) onFailure(ctx context.Context, job *jobforge.Job, token string, handleErr error) {
	fatal := jobforge.HasCode(handleErr, jobforge.CodeHandlerFatal)
	exhausted := fatal || job.Attempts >= job.MaxAttempts

	if exhausted {
		if err := p.broker.Nack(ctx, p.cfg.Queue, job.ID, token, nil); err != nil && !jobforge.HasCode(err, jobforge.CodeBadToken) {
			p.log.Warnw("nack failed", "job_id", job.ID, "error", err)
		}
		now := time.Now()
		_, err := p.store.Update(ctx, job.ID, map[string]interface{}{
			"status":    jobforge.StatusFailed,
			"failed_at": &now,
			"error":     handleErr.Error(),
		})
		if err != nil {
			p.log.Errorw("failed to record failure", "job_id", job.ID, "error", err)
		}
		return
	}

	delay := Backoff(p.cfg.RetryBaseDelay, job.Attempts, p.cfg.RetryCeiling)
	if err := p.broker.Nack(ctx, p.cfg.Queue, job.ID, token, &delay); err != nil && !jobforge.HasCode(err, jobforge.CodeBadToken) {
		p.log.Warnw("nack requeue failed", "job_id", job.ID, "error", err)
	}
	dueAt := time.Now().Add(delay)
	_, err := p.store.Update(ctx, job.ID, map[string]interface{}{
		"status":      jobforge.StatusWaiting,
		"delay_until": &dueAt,
		"error":       handleErr.Error(),
	})
	if err != nil {
		p.log.Errorw("failed to record retry", "job_id", job.ID, "error", err)
	}
}
