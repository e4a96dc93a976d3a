// Package broker implements the Queue Broker: the runtime, per-queue
// ready/delayed/in-flight sets described in the component design. An
// in-memory double satisfies the same interface as the Redis-backed
// implementation for tests, so callers program against the Broker
// interface rather than a concrete client.
package broker

import (
	"context"
	"time"

	"github.com/jobforge/jobforge/internal/jobforge"
)

// Broker is the per-queue multiset the Worker Pool and Scheduler
// operate on. Every method is linearizable on a single queue;
// operations on distinct queues never contend.
type Broker interface {
	// Enqueue places id in ready (delayUntil nil or due) or delayed
	// (delayUntil in the future). Idempotent: re-enqueuing an id
	// already present in any set is a no-op.
	Enqueue(ctx context.Context, queue, id string, priority int, delayUntil *time.Time) error

	// Reserve atomically pops the highest-priority, oldest-enqueued
	// ready job and leases it. Returns ok=false if ready is empty or
	// the queue is paused.
	Reserve(ctx context.Context, queue string, lease time.Duration) (id, token string, ok bool, err error)

	// Ack releases a reservation on success. BAD_TOKEN if token is
	// stale.
	Ack(ctx context.Context, queue, id, token string) error

	// Nack releases a reservation on failure, optionally re-queuing
	// into delayed at now+requeueAfter. BAD_TOKEN if token is stale.
	Nack(ctx context.Context, queue, id, token string, requeueAfter *time.Duration) error

	// Remove drops id from whichever set holds it. Used by cancel.
	Remove(ctx context.Context, queue, id string) (bool, error)

	// PromoteDue moves delayed entries whose due time has passed into
	// ready.
	PromoteDue(ctx context.Context, queue string, now time.Time) (int, error)

	// ReapExpiredLeases returns in-flight ids whose lease elapsed,
	// removing them from in-flight so they become stall candidates.
	ReapExpiredLeases(ctx context.Context, queue string, now time.Time) ([]string, error)

	// Sizes reports live set cardinalities.
	Sizes(ctx context.Context, queue string) (waiting, active, delayed int64, err error)

	// Placement reports which set currently holds id, or
	// PlacementTerminal if it holds none.
	Placement(ctx context.Context, queue, id string) (jobforge.Placement, error)

	// Peek lists up to limit ids from the given placement without
	// removing them; the order of the ids is implementation-specific.
	Peek(ctx context.Context, queue string, placement jobforge.Placement, limit int) ([]string, error)

	// SetPaused toggles whether Reserve yields jobs for this queue.
	SetPaused(ctx context.Context, queue string, paused bool) error

	// IsPaused reports the current pause flag for this queue.
	IsPaused(ctx context.Context, queue string) (bool, error)

	// Purge clears every set for a queue, used by admin Clean.
	Purge(ctx context.Context, queue string) error

	Close() error
}
