package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/PauFou/form-builder-sub001/pkg/logger"
	"github.com/PauFou/form-builder-sub001/pkg/metrics"
	"github.com/PauFou/form-builder-sub001/pkg/queue"
)

const (
	popTimeout = 5 * time.Second
	keyPrefix  = "q:"
)

type Config struct {
	URL          string
	MaxRetries   int
	RetryBackoff time.Duration
	PoolSize     int
	MinIdleConns int
}

// RedisQueue is a durable list-backed job queue. Enqueue is LPUSH; consumers
// BRPOPLPUSH into a per-queue processing list and LREM only after the
// handler succeeds, which gives acknowledge-after-success semantics.
type RedisQueue struct {
	client  *redis.Client
	logger  *logger.Logger
	metrics *metrics.Metrics
}

func NewRedisQueue(config Config, log *logger.Logger, m *metrics.Metrics) (*RedisQueue, error) {
	opts, err := redis.ParseURL(config.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}

	opts.MaxRetries = config.MaxRetries
	opts.MinRetryBackoff = config.RetryBackoff
	opts.PoolSize = config.PoolSize
	opts.MinIdleConns = config.MinIdleConns

	client := redis.NewClient(opts)

	if err := client.Ping(context.Background()).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return &RedisQueue{client: client, logger: log, metrics: m}, nil
}

// Client exposes the underlying connection for stores sharing the pool.
func (q *RedisQueue) Client() *redis.Client {
	return q.client
}

func (q *RedisQueue) Enqueue(ctx context.Context, name string, job *queue.Job) error {
	raw, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("failed to marshal job: %w", err)
	}
	if err := q.client.LPush(ctx, keyPrefix+name, raw).Err(); err != nil {
		return fmt.Errorf("failed to enqueue job: %w", err)
	}
	return nil
}

// Consume blocks until ctx is cancelled. Jobs left on the processing list by
// a crashed consumer are requeued before consumption starts.
func (q *RedisQueue) Consume(ctx context.Context, name string, handler queue.Handler) error {
	main := keyPrefix + name
	processing := main + ":processing"

	if err := q.requeueOrphans(ctx, main, processing); err != nil {
		q.logger.Error(err, "failed to requeue orphaned jobs", "queue", name)
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		raw, err := q.client.BRPopLPush(ctx, main, processing, popTimeout).Result()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				continue
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}
			q.logger.Error(err, "failed to pop job", "queue", name)
			time.Sleep(time.Second)
			continue
		}

		var job queue.Job
		if err := json.Unmarshal([]byte(raw), &job); err != nil {
			// Poison entry: drop it, there is nothing to retry.
			q.logger.Error(err, "dropping unparseable job", "queue", name)
			q.client.LRem(ctx, processing, 1, raw)
			q.metrics.JobsConsumed.WithLabelValues(name, "dropped").Inc()
			continue
		}

		if err := handler(ctx, &job); err != nil {
			q.logger.Error(err, "job handler failed, requeueing",
				"queue", name, "job_id", job.ID.String(), "job_type", job.Type)
			pipe := q.client.TxPipeline()
			pipe.LRem(ctx, processing, 1, raw)
			pipe.LPush(ctx, main, raw)
			if _, perr := pipe.Exec(ctx); perr != nil {
				q.logger.Error(perr, "failed to requeue job", "queue", name)
			}
			q.metrics.JobsConsumed.WithLabelValues(name, "error").Inc()
			continue
		}

		if err := q.client.LRem(ctx, processing, 1, raw).Err(); err != nil {
			q.logger.Error(err, "failed to ack job", "queue", name, "job_id", job.ID.String())
		}
		q.metrics.JobsConsumed.WithLabelValues(name, "ok").Inc()
	}
}

func (q *RedisQueue) requeueOrphans(ctx context.Context, main, processing string) error {
	for {
		if err := q.client.RPopLPush(ctx, processing, main).Err(); err != nil {
			if errors.Is(err, redis.Nil) {
				return nil
			}
			return err
		}
	}
}

func (q *RedisQueue) Close() error {
	return q.client.Close()
}
