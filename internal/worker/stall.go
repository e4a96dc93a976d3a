package worker

import (
	"context"
	"time"

	"github.com/jobforge/jobforge/internal/broker"
	"github.com/jobforge/jobforge/internal/jobforge"
	"github.com/jobforge/jobforge/internal/logger"
	"github.com/jobforge/jobforge/internal/store"
)

// SweepStalls reaps expired leases for one queue and, for each
// formerly in-flight job, either requeues it with backoff or marks it
// failed. It is driven by the Scheduler but lives beside Pool because
// it shares the same retry/backoff decision the pool's onFailure path
// makes.
func SweepStalls(ctx context.Context, queue string, st *store.Store, brk broker.Broker, retryBase, retryCeil time.Duration, log *logger.Logger) (int, error) {
	expired, err := brk.ReapExpiredLeases(ctx, queue, time.Now())
	if err != nil {
		return 0, err
	}

	for _, id := range expired {
		job, getErr := st.Get(ctx, id)
		if getErr != nil {
			log.Warnw("stalled job missing from store", "job_id", id, "error", getErr)
			continue
		}

		now := time.Now()
		if job.Attempts < job.MaxAttempts {
			delay := Backoff(retryBase, job.Attempts, retryCeil)
			due := now.Add(delay)
			if err := brk.Enqueue(ctx, queue, id, job.Priority, &due); err != nil {
				log.Warnw("failed to requeue stalled job", "job_id", id, "error", err)
			}
			_, err := st.Update(ctx, id, map[string]interface{}{
				"status":      jobforge.StatusWaiting,
				"stalled_at":  &now,
				"delay_until": &due,
				"error":       "stalled: lease expired",
			})
			if err != nil {
				log.Warnw("failed to record stall-then-retry", "job_id", id, "error", err)
			}
			continue
		}

		_, err := st.Update(ctx, id, map[string]interface{}{
			"status":     jobforge.StatusFailed,
			"stalled_at": &now,
			"failed_at":  &now,
			"error":      "stalled: lease expired after reaching max attempts",
		})
		if err != nil {
			log.Warnw("failed to record stall-then-fail", "job_id", id, "error", err)
		}
	}

	return len(expired), nil
}
