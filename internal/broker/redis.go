package broker

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/jobforge/jobforge/internal/config"
	"github.com/jobforge/jobforge/internal/jobforge"
	"github.com/jobforge/jobforge/internal/logger"
)

// RedisBroker implements Broker over sorted sets and hashes, one
// ready/delayed/in-flight/leases family of keys per queue. Most
// multi-key transitions run through a pipeline; Reserve pops the ready
// set before its pipeline, and Nack re-adds the job after its release
// pipeline, so those steps are not applied as one unit.
type RedisBroker struct {
	client    *redis.Client
	keyPrefix string
	log       *logger.Logger
}

// Connect opens the Redis connection backing the Broker.
func Connect(cfg *config.Config) (*redis.Client, error) {
	var opts *redis.Options
	var err error
	if cfg.Broker.URL != "" {
		opts, err = redis.ParseURL(cfg.Broker.URL)
		if err != nil {
			return nil, fmt.Errorf("parse broker redis url: %w", err)
		}
	} else {
		opts = &redis.Options{
			Addr:         fmt.Sprintf("%s:%s", cfg.Broker.Host, cfg.Broker.Port),
			Password:     cfg.Broker.Password,
			DB:           cfg.Broker.DB,
			MaxRetries:   cfg.Broker.MaxRetries,
			PoolSize:     cfg.Broker.PoolSize,
			MinIdleConns: cfg.Broker.MinIdleConns,
		}
	}

	client := redis.NewClient(opts)
	if err := client.Ping(context.Background()).Err(); err != nil {
		return nil, fmt.Errorf("connect to broker redis: %w", err)
	}
	return client, nil
}

// NewRedisBroker wraps an already-connected client.
func NewRedisBroker(client *redis.Client, keyPrefix string, log *logger.Logger) *RedisBroker {
	return &RedisBroker{client: client, keyPrefix: keyPrefix, log: log}
}

func (b *RedisBroker) readyKey(queue string) string   { return fmt.Sprintf("%s:ready:%s", b.keyPrefix, queue) }
func (b *RedisBroker) delayedKey(queue string) string { return fmt.Sprintf("%s:delayed:%s", b.keyPrefix, queue) }
func (b *RedisBroker) inflightKey(queue string) string {
	return fmt.Sprintf("%s:inflight:%s", b.keyPrefix, queue)
}
func (b *RedisBroker) leasesKey(queue string) string { return fmt.Sprintf("%s:leases:%s", b.keyPrefix, queue) }
func (b *RedisBroker) pausedKey(queue string) string { return fmt.Sprintf("%s:paused:%s", b.keyPrefix, queue) }

// score orders ready entries by priority first, then by enqueue time
// (older first) within a priority level — ZPopMax pops the maximum,
// so older jobs need a larger score, hence the subtraction.
func score(priority int, enqueuedAt time.Time) float64 {
	return float64(priority)*1e15 - float64(enqueuedAt.UnixNano())/1e6
}

func (b *RedisBroker) Enqueue(ctx context.Context, queue, id string, priority int, delayUntil *time.Time) error {
	placement, err := b.Placement(ctx, queue, id)
	if err != nil {
		return jobforge.Wrap(jobforge.CodeBrokerUnavailable, err, "enqueue %s placement check", id)
	}
	if placement != jobforge.PlacementTerminal {
		return nil
	}

	now := time.Now()
	if delayUntil != nil && delayUntil.After(now) {
		err := b.client.ZAdd(ctx, b.delayedKey(queue), redis.Z{Score: float64(delayUntil.UnixNano()), Member: id}).Err()
		if err != nil {
			return jobforge.Wrap(jobforge.CodeBrokerUnavailable, err, "enqueue delayed %s", id)
		}
		return nil
	}

	if err := b.client.ZAdd(ctx, b.readyKey(queue), redis.Z{Score: score(priority, now), Member: id}).Err(); err != nil {
		return jobforge.Wrap(jobforge.CodeBrokerUnavailable, err, "enqueue ready %s", id)
	}
	return nil
}

func (b *RedisBroker) Reserve(ctx context.Context, queue string, lease time.Duration) (string, string, bool, error) {
	paused, err := b.IsPaused(ctx, queue)
	if err != nil {
		return "", "", false, err
	}
	if paused {
		return "", "", false, nil
	}

	result, err := b.client.ZPopMax(ctx, b.readyKey(queue), 1).Result()
	if err != nil {
		return "", "", false, jobforge.Wrap(jobforge.CodeBrokerUnavailable, err, "reserve from %s", queue)
	}
	if len(result) == 0 {
		return "", "", false, nil
	}

	id := result[0].Member.(string)
	token := uuid.New().String()
	expiry := time.Now().Add(lease)

	pipe := b.client.Pipeline()
	pipe.HSet(ctx, b.inflightKey(queue), id, token)
	pipe.ZAdd(ctx, b.leasesKey(queue), redis.Z{Score: float64(expiry.UnixNano()), Member: id})
	if _, err := pipe.Exec(ctx); err != nil {
		return "", "", false, jobforge.Wrap(jobforge.CodeBrokerUnavailable, err, "reserve lease %s", id)
	}
	return id, token, true, nil
}

func (b *RedisBroker) checkToken(ctx context.Context, queue, id, token string) error {
	stored, err := b.client.HGet(ctx, b.inflightKey(queue), id).Result()
	if err == redis.Nil {
		return jobforge.NewError(jobforge.CodeBadToken, fmt.Sprintf("no reservation for %s", id), nil)
	}
	if err != nil {
		return jobforge.Wrap(jobforge.CodeBrokerUnavailable, err, "check token %s", id)
	}
	if stored != token {
		return jobforge.NewError(jobforge.CodeBadToken, fmt.Sprintf("stale token for %s", id), nil)
	}
	return nil
}

func (b *RedisBroker) releaseReservation(ctx context.Context, queue, id string) error {
	pipe := b.client.Pipeline()
	pipe.HDel(ctx, b.inflightKey(queue), id)
	pipe.ZRem(ctx, b.leasesKey(queue), id)
	_, err := pipe.Exec(ctx)
	return err
}

func (b *RedisBroker) Ack(ctx context.Context, queue, id, token string) error {
	if err := b.checkToken(ctx, queue, id, token); err != nil {
		return err
	}
	if err := b.releaseReservation(ctx, queue, id); err != nil {
		return jobforge.Wrap(jobforge.CodeBrokerUnavailable, err, "ack %s", id)
	}
	return nil
}

func (b *RedisBroker) Nack(ctx context.Context, queue, id, token string, requeueAfter *time.Duration) error {
	if err := b.checkToken(ctx, queue, id, token); err != nil {
		return err
	}
	if err := b.releaseReservation(ctx, queue, id); err != nil {
		return jobforge.Wrap(jobforge.CodeBrokerUnavailable, err, "nack release %s", id)
	}
	if requeueAfter == nil {
		return nil
	}
	due := time.Now().Add(*requeueAfter)
	if err := b.client.ZAdd(ctx, b.delayedKey(queue), redis.Z{Score: float64(due.UnixNano()), Member: id}).Err(); err != nil {
		return jobforge.Wrap(jobforge.CodeBrokerUnavailable, err, "nack requeue %s", id)
	}
	return nil
}

func (b *RedisBroker) Remove(ctx context.Context, queue, id string) (bool, error) {
	pipe := b.client.Pipeline()
	readyCmd := pipe.ZRem(ctx, b.readyKey(queue), id)
	delayedCmd := pipe.ZRem(ctx, b.delayedKey(queue), id)
	pipe.HDel(ctx, b.inflightKey(queue), id)
	pipe.ZRem(ctx, b.leasesKey(queue), id)
	if _, err := pipe.Exec(ctx); err != nil {
		return false, jobforge.Wrap(jobforge.CodeBrokerUnavailable, err, "remove %s", id)
	}
	removed := readyCmd.Val() > 0 || delayedCmd.Val() > 0
	return removed, nil
}

func (b *RedisBroker) PromoteDue(ctx context.Context, queue string, now time.Time) (int, error) {
	due, err := b.client.ZRangeByScoreWithScores(ctx, b.delayedKey(queue), &redis.ZRangeBy{
		Min: "-inf",
		Max: fmt.Sprintf("%d", now.UnixNano()),
	}).Result()
	if err != nil {
		return 0, jobforge.Wrap(jobforge.CodeBrokerUnavailable, err, "promote due scan %s", queue)
	}
	if len(due) == 0 {
		return 0, nil
	}

	pipe := b.client.Pipeline()
	for _, z := range due {
		id := z.Member.(string)
		pipe.ZRem(ctx, b.delayedKey(queue), id)
		pipe.ZAdd(ctx, b.readyKey(queue), redis.Z{Score: score(0, now), Member: id})
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, jobforge.Wrap(jobforge.CodeBrokerUnavailable, err, "promote due apply %s", queue)
	}
	return len(due), nil
}

func (b *RedisBroker) ReapExpiredLeases(ctx context.Context, queue string, now time.Time) ([]string, error) {
	expired, err := b.client.ZRangeByScore(ctx, b.leasesKey(queue), &redis.ZRangeBy{
		Min: "-inf",
		Max: fmt.Sprintf("%d", now.UnixNano()),
	}).Result()
	if err != nil {
		return nil, jobforge.Wrap(jobforge.CodeBrokerUnavailable, err, "reap expired leases %s", queue)
	}
	if len(expired) == 0 {
		return nil, nil
	}

	pipe := b.client.Pipeline()
	for _, id := range expired {
		pipe.ZRem(ctx, b.leasesKey(queue), id)
		pipe.HDel(ctx, b.inflightKey(queue), id)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, jobforge.Wrap(jobforge.CodeBrokerUnavailable, err, "reap expired leases apply %s", queue)
	}
	return expired, nil
}

func (b *RedisBroker) Sizes(ctx context.Context, queue string) (int64, int64, int64, error) {
	pipe := b.client.Pipeline()
	readyCmd := pipe.ZCard(ctx, b.readyKey(queue))
	activeCmd := pipe.ZCard(ctx, b.leasesKey(queue))
	delayedCmd := pipe.ZCard(ctx, b.delayedKey(queue))
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, 0, 0, jobforge.Wrap(jobforge.CodeBrokerUnavailable, err, "sizes %s", queue)
	}
	return readyCmd.Val(), activeCmd.Val(), delayedCmd.Val(), nil
}

func (b *RedisBroker) Placement(ctx context.Context, queue, id string) (jobforge.Placement, error) {
	pipe := b.client.Pipeline()
	readyScore := pipe.ZScore(ctx, b.readyKey(queue), id)
	delayedScore := pipe.ZScore(ctx, b.delayedKey(queue), id)
	leaseScore := pipe.ZScore(ctx, b.leasesKey(queue), id)
	_, _ = pipe.Exec(ctx)

	if readyScore.Err() == nil {
		return jobforge.PlacementWaiting, nil
	}
	if delayedScore.Err() == nil {
		return jobforge.PlacementDelayed, nil
	}
	if leaseScore.Err() == nil {
		return jobforge.PlacementInFlight, nil
	}
	return jobforge.PlacementTerminal, nil
}

func (b *RedisBroker) Peek(ctx context.Context, queue string, placement jobforge.Placement, limit int) ([]string, error) {
	var key string
	switch placement {
	case jobforge.PlacementWaiting:
		key = b.readyKey(queue)
	case jobforge.PlacementDelayed:
		key = b.delayedKey(queue)
	case jobforge.PlacementInFlight:
		key = b.leasesKey(queue)
	default:
		return nil, nil
	}
	ids, err := b.client.ZRange(ctx, key, 0, int64(limit-1)).Result()
	if err != nil {
		return nil, jobforge.Wrap(jobforge.CodeBrokerUnavailable, err, "peek %s", queue)
	}
	return ids, nil
}

func (b *RedisBroker) SetPaused(ctx context.Context, queue string, paused bool) error {
	if paused {
		return b.client.Set(ctx, b.pausedKey(queue), "1", 0).Err()
	}
	return b.client.Del(ctx, b.pausedKey(queue)).Err()
}

func (b *RedisBroker) IsPaused(ctx context.Context, queue string) (bool, error) {
	exists, err := b.client.Exists(ctx, b.pausedKey(queue)).Result()
	if err != nil {
		return false, jobforge.Wrap(jobforge.CodeBrokerUnavailable, err, "check paused %s", queue)
	}
	return exists > 0, nil
}

func (b *RedisBroker) Purge(ctx context.Context, queue string) error {
	pipe := b.client.Pipeline()
	pipe.Del(ctx, b.readyKey(queue))
	pipe.Del(ctx, b.delayedKey(queue))
	pipe.Del(ctx, b.inflightKey(queue))
	pipe.Del(ctx, b.leasesKey(queue))
	_, err := pipe.Exec(ctx)
	if err != nil {
		return jobforge.Wrap(jobforge.CodeBrokerUnavailable, err, "purge %s", queue)
	}
	return nil
}

func (b *RedisBroker) Close() error {
	return b.client.Close()
}
