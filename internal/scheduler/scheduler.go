// Package scheduler implements the Scheduler: the only component that
// makes wall-clock decisions. It runs delay promotion, stall sweep,
// metrics refresh, and retention trim on independent timers, and
// drives cron-registered recurring submissions via robfig/cron/v3.
package scheduler

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/jobforge/jobforge/internal/broker"
	"github.com/jobforge/jobforge/internal/jobforge"
	"github.com/jobforge/jobforge/internal/logger"
	"github.com/jobforge/jobforge/internal/metrics"
	"github.com/jobforge/jobforge/internal/store"
	"github.com/jobforge/jobforge/internal/worker"
)

// Submitter is the narrow slice of the Control Plane the Scheduler
// needs to fire cron-produced jobs; it is satisfied by
// internal/control.Control, injected here to avoid a package cycle.
type Submitter interface {
	Submit(ctx context.Context, queue, jobType string, payload json.RawMessage, opts jobforge.SubmitOptions) (string, error)
}

// Config tunes the four periodic tasks.
type Config struct {
	Timezone               string
	DelayPromotionInterval time.Duration
	StallSweepInterval     time.Duration
	MetricsRefreshInterval time.Duration
	RetentionTrimInterval  time.Duration
	RetentionCutoff        time.Duration
	RetryBaseDelay         time.Duration
	RetryCeiling           time.Duration
}

// Scheduler owns the periodic housekeeping tasks and the cron entry
// registry.
type Scheduler struct {
	cfg       Config
	store     *store.Store
	broker    broker.Broker
	submitter Submitter
	log       *logger.Logger

	cron *cron.Cron
	mu   sync.Mutex
	entryIDs map[string]cron.EntryID

	stop chan struct{}
	wg   sync.WaitGroup
}

// New constructs a Scheduler. Submitter may be attached after
// construction via SetSubmitter if the Control Plane isn't built yet.
func New(cfg Config, st *store.Store, brk broker.Broker, sub Submitter, log *logger.Logger) *Scheduler {
	loc, err := time.LoadLocation(cfg.Timezone)
	if err != nil {
		loc = time.UTC
	}
	return &Scheduler{
		cfg:       cfg,
		store:     st,
		broker:    brk,
		submitter: sub,
		log:       log.With("component", "scheduler"),
		cron: cron.New(
			cron.WithParser(cron.NewParser(cron.SecondOptional|cron.Minute|cron.Hour|cron.Dom|cron.Month|cron.Dow|cron.Descriptor)),
			cron.WithLocation(loc),
		),
		entryIDs:  make(map[string]cron.EntryID),
		stop:      make(chan struct{}),
	}
}

// SetSubmitter attaches the Control Plane once it exists.
func (s *Scheduler) SetSubmitter(sub Submitter) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.submitter = sub
}

// Start loads persisted cron entries, starts the cron driver, and
// launches the four periodic tasks.
func (s *Scheduler) Start(ctx context.Context) error {
	entries, err := s.store.ListCronEntries(ctx)
	if err != nil {
		return fmt.Errorf("load cron entries: %w", err)
	}
	for _, e := range entries {
		if err := s.addCronFunc(e); err != nil {
			s.log.Warnw("failed to register persisted cron entry", "name", e.Name, "error", err)
		}
	}
	s.cron.Start()

	s.runPeriodic(ctx, s.cfg.DelayPromotionInterval, s.promoteDue)
	s.runPeriodic(ctx, s.cfg.StallSweepInterval, s.sweepStalls)
	s.runPeriodic(ctx, s.cfg.MetricsRefreshInterval, s.refreshMetrics)
	s.runPeriodic(ctx, s.cfg.RetentionTrimInterval, s.trimRetention)

	return nil
}

// Stop halts the cron driver and every periodic task.
func (s *Scheduler) Stop(ctx context.Context) error {
	close(s.stop)
	cronCtx := s.cron.Stop()
	select {
	case <-cronCtx.Done():
	case <-ctx.Done():
		return ctx.Err()
	}
	s.wg.Wait()
	return nil
}

// runPeriodic ticks fn every interval; a tick that is still running
// when the next fires is skipped rather than stacked, via the guard
// channel.
func (s *Scheduler) runPeriodic(ctx context.Context, interval time.Duration, fn func(context.Context)) {
	if interval <= 0 {
		interval = time.Minute
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		guard := make(chan struct{}, 1)
		guard <- struct{}{}
		for {
			select {
			case <-ctx.Done():
				return
			case <-s.stop:
				return
			case <-ticker.C:
				select {
				case <-guard:
					fn(ctx)
					guard <- struct{}{}
				default:
					// previous tick still running; skip this one
				}
			}
		}
	}()
}

func (s *Scheduler) promoteDue(ctx context.Context) {
	now := time.Now()
	for _, q := range jobforge.Registry {
		if _, err := s.broker.PromoteDue(ctx, q, now); err != nil {
			s.log.Warnw("promote due failed", "queue", q, "error", err)
		}
	}
}

func (s *Scheduler) sweepStalls(ctx context.Context) {
	for _, q := range jobforge.Registry {
		n, err := worker.SweepStalls(ctx, q, s.store, s.broker, s.cfg.RetryBaseDelay, s.cfg.RetryCeiling, s.log)
		if err != nil {
			s.log.Warnw("stall sweep failed", "queue", q, "error", err)
			continue
		}
		if n > 0 {
			s.log.Infow("stall sweep reaped leases", "queue", q, "count", n)
		}
	}
}

func (s *Scheduler) refreshMetrics(ctx context.Context) {
	for _, q := range jobforge.Registry {
		rows, err := s.store.Aggregate(ctx, q)
		if err != nil {
			s.log.Warnw("aggregate failed", "queue", q, "error", err)
			continue
		}

		var completed, failed int64
		var totalMS, weighted float64
		for _, r := range rows {
			switch r.Status {
			case jobforge.StatusCompleted:
				completed += r.Count
			case jobforge.StatusFailed:
				failed += r.Count
			}
			totalMS += r.AvgProcessingTimeMS * float64(r.Count)
			weighted += float64(r.Count)
		}

		desc, err := s.store.GetQueueDescriptor(ctx, q)
		if err != nil {
			s.log.Warnw("get descriptor failed", "queue", q, "error", err)
			continue
		}

		now := time.Now()
		desc.ProcessingRatePerMin = float64(completed) / 60.0
		if weighted > 0 {
			desc.AvgProcessingTimeMS = totalMS / weighted
		}
		if completed > 0 {
			desc.LastProcessedAt = &now
		}
		desc.HealthStatus = evaluateHealth(completed, failed)
		desc.LastHealthCheck = &now

		if err := s.store.SaveQueueDescriptor(ctx, desc); err != nil {
			s.log.Warnw("save descriptor failed", "queue", q, "error", err)
		}

		if waiting, active, delayed, sizeErr := s.broker.Sizes(ctx, q); sizeErr == nil {
			metrics.SetQueueDepth(q, waiting, active, delayed)
		}
		metrics.SetQueueHealth(q, healthGaugeValue(desc.HealthStatus))
	}
}

func healthGaugeValue(status jobforge.HealthStatus) float64 {
	switch status {
	case jobforge.HealthWarning:
		return 1
	case jobforge.HealthError:
		return 2
	default:
		return 0
	}
}

// evaluateHealth classifies a queue's recent completed/failed counts.
func evaluateHealth(completed, failed int64) jobforge.HealthStatus {
	if failed > completed {
		return jobforge.HealthError
	}
	if failed > 10 && float64(failed) > 0.1*float64(completed) {
		return jobforge.HealthWarning
	}
	return jobforge.HealthHealthy
}

func (s *Scheduler) trimRetention(ctx context.Context) {
	for _, q := range jobforge.Registry {
		desc, err := s.store.GetQueueDescriptor(ctx, q)
		if err != nil {
			s.log.Warnw("get descriptor for retention failed", "queue", q, "error", err)
			continue
		}
		removed, err := s.store.TrimRetention(ctx, q, desc.Configuration.RetainCompleted, desc.Configuration.RetainFailed)
		if err != nil {
			s.log.Warnw("trim retention failed", "queue", q, "error", err)
			continue
		}
		if removed > 0 {
			s.log.Infow("trimmed retention", "queue", q, "removed", removed)
		}
	}

	cutoff := time.Now().Add(-s.cfg.RetentionCutoff)
	removed, err := s.store.ExpireOlderThan(ctx, cutoff, true)
	if err != nil {
		s.log.Warnw("expire older than failed", "error", err)
		return
	}
	if removed > 0 {
		s.log.Infow("expired terminal jobs past retention cutoff", "removed", removed)
	}
}
