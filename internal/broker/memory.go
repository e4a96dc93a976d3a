package broker

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/jobforge/jobforge/internal/jobforge"
)

type memoryEntry struct {
	id         string
	priority   int
	enqueuedAt time.Time
	dueAt      time.Time
}

type memoryQueue struct {
	ready    []memoryEntry
	delayed  []memoryEntry
	inFlight map[string]string // id -> token
	leaseAt  map[string]time.Time
	paused   bool
}

// MemoryBroker is an in-process Broker double used by tests that do
// not need a real Redis instance, satisfying the same interface as
// RedisBroker.
type MemoryBroker struct {
	mu     sync.Mutex
	queues map[string]*memoryQueue
}

// NewMemoryBroker constructs an empty in-memory broker.
func NewMemoryBroker() *MemoryBroker {
	return &MemoryBroker{queues: make(map[string]*memoryQueue)}
}

func (b *MemoryBroker) queueFor(queue string) *memoryQueue {
	q, ok := b.queues[queue]
	if !ok {
		q = &memoryQueue{inFlight: make(map[string]string), leaseAt: make(map[string]time.Time)}
		b.queues[queue] = q
	}
	return q
}

func (b *MemoryBroker) placementLocked(q *memoryQueue, id string) jobforge.Placement {
	for _, e := range q.ready {
		if e.id == id {
			return jobforge.PlacementWaiting
		}
	}
	for _, e := range q.delayed {
		if e.id == id {
			return jobforge.PlacementDelayed
		}
	}
	if _, ok := q.inFlight[id]; ok {
		return jobforge.PlacementInFlight
	}
	return jobforge.PlacementTerminal
}

func (b *MemoryBroker) Enqueue(ctx context.Context, queue, id string, priority int, delayUntil *time.Time) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	q := b.queueFor(queue)
	if b.placementLocked(q, id) != jobforge.PlacementTerminal {
		return nil
	}
	now := time.Now()
	if delayUntil != nil && delayUntil.After(now) {
		q.delayed = append(q.delayed, memoryEntry{id: id, priority: priority, enqueuedAt: now, dueAt: *delayUntil})
		return nil
	}
	q.ready = append(q.ready, memoryEntry{id: id, priority: priority, enqueuedAt: now})
	return nil
}

func (b *MemoryBroker) Reserve(ctx context.Context, queue string, lease time.Duration) (string, string, bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	q := b.queueFor(queue)
	if q.paused || len(q.ready) == 0 {
		return "", "", false, nil
	}

	best := 0
	for i := 1; i < len(q.ready); i++ {
		if q.ready[i].priority > q.ready[best].priority {
			best = i
		} else if q.ready[i].priority == q.ready[best].priority && q.ready[i].enqueuedAt.Before(q.ready[best].enqueuedAt) {
			best = i
		}
	}

	entry := q.ready[best]
	q.ready = append(q.ready[:best], q.ready[best+1:]...)

	token := uuid.New().String()
	q.inFlight[entry.id] = token
	q.leaseAt[entry.id] = time.Now().Add(lease)
	return entry.id, token, true, nil
}

func (b *MemoryBroker) checkTokenLocked(q *memoryQueue, id, token string) error {
	stored, ok := q.inFlight[id]
	if !ok || stored != token {
		return jobforge.NewError(jobforge.CodeBadToken, "stale or missing reservation for "+id, nil)
	}
	return nil
}

func (b *MemoryBroker) Ack(ctx context.Context, queue, id, token string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	q := b.queueFor(queue)
	if err := b.checkTokenLocked(q, id, token); err != nil {
		return err
	}
	delete(q.inFlight, id)
	delete(q.leaseAt, id)
	return nil
}

func (b *MemoryBroker) Nack(ctx context.Context, queue, id, token string, requeueAfter *time.Duration) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	q := b.queueFor(queue)
	if err := b.checkTokenLocked(q, id, token); err != nil {
		return err
	}
	delete(q.inFlight, id)
	delete(q.leaseAt, id)
	if requeueAfter != nil {
		due := time.Now().Add(*requeueAfter)
		q.delayed = append(q.delayed, memoryEntry{id: id, enqueuedAt: time.Now(), dueAt: due})
	}
	return nil
}

func (b *MemoryBroker) Remove(ctx context.Context, queue, id string) (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	q := b.queueFor(queue)
	removed := false
	for i, e := range q.ready {
		if e.id == id {
			q.ready = append(q.ready[:i], q.ready[i+1:]...)
			removed = true
			break
		}
	}
	for i, e := range q.delayed {
		if e.id == id {
			q.delayed = append(q.delayed[:i], q.delayed[i+1:]...)
			removed = true
			break
		}
	}
	delete(q.inFlight, id)
	delete(q.leaseAt, id)
	return removed, nil
}

func (b *MemoryBroker) PromoteDue(ctx context.Context, queue string, now time.Time) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	q := b.queueFor(queue)
	var remaining []memoryEntry
	promoted := 0
	for _, e := range q.delayed {
		if !e.dueAt.After(now) {
			q.ready = append(q.ready, memoryEntry{id: e.id, priority: e.priority, enqueuedAt: now})
			promoted++
		} else {
			remaining = append(remaining, e)
		}
	}
	q.delayed = remaining
	return promoted, nil
}

func (b *MemoryBroker) ReapExpiredLeases(ctx context.Context, queue string, now time.Time) ([]string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	q := b.queueFor(queue)
	var expired []string
	for id, at := range q.leaseAt {
		if !at.After(now) {
			expired = append(expired, id)
		}
	}
	for _, id := range expired {
		delete(q.inFlight, id)
		delete(q.leaseAt, id)
	}
	return expired, nil
}

func (b *MemoryBroker) Sizes(ctx context.Context, queue string) (int64, int64, int64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	q := b.queueFor(queue)
	return int64(len(q.ready)), int64(len(q.inFlight)), int64(len(q.delayed)), nil
}

func (b *MemoryBroker) Placement(ctx context.Context, queue, id string) (jobforge.Placement, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.placementLocked(b.queueFor(queue), id), nil
}

func (b *MemoryBroker) Peek(ctx context.Context, queue string, placement jobforge.Placement, limit int) ([]string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	q := b.queueFor(queue)
	var out []string
	switch placement {
	case jobforge.PlacementWaiting:
		for _, e := range q.ready {
			out = append(out, e.id)
		}
	case jobforge.PlacementDelayed:
		for _, e := range q.delayed {
			out = append(out, e.id)
		}
	case jobforge.PlacementInFlight:
		for id := range q.inFlight {
			out = append(out, id)
		}
	}
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (b *MemoryBroker) SetPaused(ctx context.Context, queue string, paused bool) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.queueFor(queue).paused = paused
	return nil
}

func (b *MemoryBroker) IsPaused(ctx context.Context, queue string) (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.queueFor(queue).paused, nil
}

func (b *MemoryBroker) Purge(ctx context.Context, queue string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.queues, queue)
	return nil
}

func (b *MemoryBroker) Close() error { return nil }
