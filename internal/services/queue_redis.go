package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	redisPopTimeout    = time.Second
	redisPromoteEvery  = time.Second
	redisPromoteBatch  = 100
	defaultVisibility  = 10 * time.Minute
	defaultRedisPrefix = "cv-screening:queue:"
)

// promoteDue moves members of a zset whose score is due onto the ready list.
var promoteDue = redis.NewScript(`
local due = redis.call('ZRANGEBYSCORE', KEYS[1], '-inf', ARGV[1], 'LIMIT', 0, tonumber(ARGV[2]))
for _, id in ipairs(due) do
  redis.call('ZREM', KEYS[1], id)
  redis.call('LPUSH', KEYS[2], id)
end
return #due
`)

type RedisQueueOptions struct {
	KeyPrefix string
	// VisibilityTimeout is how long a dequeued task stays leased before it is redelivered.
	VisibilityTimeout time.Duration
}

type redisQueue struct {
	client     redis.UniversalClient
	tasksKey   string
	readyKey   string
	delayedKey string
	leasesKey  string
	visibility time.Duration
	logger     *zap.Logger

	stop      chan struct{}
	wg        sync.WaitGroup
	closeOnce sync.Once
}

// NewRedisQueue returns a Queue backed by redis. Task bodies live in a hash; the
// ready list, delayed zset and lease zset hold job ids only.
func NewRedisQueue(client redis.UniversalClient, opts RedisQueueOptions, logger *zap.Logger) Queue {
	if opts.KeyPrefix == "" {
		opts.KeyPrefix = defaultRedisPrefix
	}
	if opts.VisibilityTimeout <= 0 {
		opts.VisibilityTimeout = defaultVisibility
	}

	q := &redisQueue{
		client:     client,
		tasksKey:   opts.KeyPrefix + "tasks",
		readyKey:   opts.KeyPrefix + "ready",
		delayedKey: opts.KeyPrefix + "delayed",
		leasesKey:  opts.KeyPrefix + "leases",
		visibility: opts.VisibilityTimeout,
		logger:     logger,
		stop:       make(chan struct{}),
	}

	q.wg.Add(1)
	go q.promoteLoop()

	return q
}

// Enqueue implements Queue.
func (q *redisQueue) Enqueue(ctx context.Context, task Task) error {
	data, err := json.Marshal(task)
	if err != nil {
		return fmt.Errorf("failed to marshal task: %w", err)
	}
	id := task.JobID.String()

	added, err := q.client.HSetNX(ctx, q.tasksKey, id, data).Result()
	if err != nil {
		return fmt.Errorf("failed to store task: %w", err)
	}
	if !added {
		tracked, err := q.tracked(ctx, id)
		if err != nil {
			return err
		}
		if tracked {
			q.logger.Debug("job already queued", zap.String("job_id", id))
			return nil
		}
		// Body without any list or zset entry: a crash between writes. Deliver it again.
		if err := q.client.HSet(ctx, q.tasksKey, id, data).Err(); err != nil {
			return fmt.Errorf("failed to store task: %w", err)
		}
	}

	if err := q.client.LPush(ctx, q.readyKey, id).Err(); err != nil {
		return fmt.Errorf("failed to push task: %w", err)
	}
	return nil
}

// Schedule implements Queue.
func (q *redisQueue) Schedule(ctx context.Context, task Task, delay time.Duration) error {
	data, err := json.Marshal(task)
	if err != nil {
		return fmt.Errorf("failed to marshal task: %w", err)
	}
	id := task.JobID.String()
	due := time.Now().Add(delay).UnixMilli()

	_, err = q.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, q.tasksKey, id, data)
		pipe.ZRem(ctx, q.leasesKey, id)
		pipe.ZAdd(ctx, q.delayedKey, redis.Z{Score: float64(due), Member: id})
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to schedule task: %w", err)
	}
	return nil
}

// Dequeue implements Queue. The task is leased until Ack, Schedule, or the visibility
// timeout, whichever comes first.
func (q *redisQueue) Dequeue(ctx context.Context) (*Task, error) {
	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-q.stop:
			return nil, ErrQueueClosed
		default:
		}

		popped, err := q.client.BRPop(ctx, redisPopTimeout, q.readyKey).Result()
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return nil, fmt.Errorf("failed to pop task: %w", err)
		}
		id := popped[1]

		deadline := time.Now().Add(q.visibility).UnixMilli()
		if err := q.client.ZAdd(ctx, q.leasesKey, redis.Z{Score: float64(deadline), Member: id}).Err(); err != nil {
			return nil, fmt.Errorf("failed to lease task: %w", err)
		}

		data, err := q.client.HGet(ctx, q.tasksKey, id).Bytes()
		if errors.Is(err, redis.Nil) {
			// Acked while still listed as ready.
			q.client.ZRem(ctx, q.leasesKey, id)
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("failed to load task: %w", err)
		}

		var task Task
		if err := json.Unmarshal(data, &task); err != nil {
			q.logger.Error("dropping undecodable task", zap.String("job_id", id), zap.Error(err))
			q.client.ZRem(ctx, q.leasesKey, id)
			q.client.HDel(ctx, q.tasksKey, id)
			continue
		}
		return &task, nil
	}
}

// Ack implements Queue.
func (q *redisQueue) Ack(ctx context.Context, task Task) error {
	id := task.JobID.String()

	// A rescheduled job is waiting in the delayed set and must keep its body.
	if _, err := q.client.ZScore(ctx, q.delayedKey, id).Result(); err == nil {
		return nil
	} else if !errors.Is(err, redis.Nil) {
		return fmt.Errorf("failed to ack task: %w", err)
	}

	_, err := q.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.ZRem(ctx, q.leasesKey, id)
		pipe.HDel(ctx, q.tasksKey, id)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to ack task: %w", err)
	}
	return nil
}

// Close implements Queue. The redis client is owned by the caller.
func (q *redisQueue) Close() error {
	q.closeOnce.Do(func() {
		close(q.stop)
		q.wg.Wait()
	})
	return nil
}

func (q *redisQueue) tracked(ctx context.Context, id string) (bool, error) {
	for _, key := range []string{q.delayedKey, q.leasesKey} {
		_, err := q.client.ZScore(ctx, key, id).Result()
		if err == nil {
			return true, nil
		}
		if !errors.Is(err, redis.Nil) {
			return false, fmt.Errorf("failed to inspect queue: %w", err)
		}
	}

	_, err := q.client.LPos(ctx, q.readyKey, id, redis.LPosArgs{}).Result()
	if err == nil {
		return true, nil
	}
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	return false, fmt.Errorf("failed to inspect queue: %w", err)
}

func (q *redisQueue) promoteLoop() {
	defer q.wg.Done()
	ticker := time.NewTicker(redisPromoteEvery)
	defer ticker.Stop()

	for {
		select {
		case <-q.stop:
			return
		case <-ticker.C:
			q.promote(q.delayedKey, "delayed")
			q.promote(q.leasesKey, "lease expired")
		}
	}
}

func (q *redisQueue) promote(key, reason string) {
	ctx, cancel := context.WithTimeout(context.Background(), redisPromoteEvery)
	defer cancel()

	now := strconv.FormatInt(time.Now().UnixMilli(), 10)
	moved, err := promoteDue.Run(ctx, q.client, []string{key, q.readyKey}, now, redisPromoteBatch).Int()
	if err != nil {
		q.logger.Warn("failed to promote tasks", zap.String("reason", reason), zap.Error(err))
		return
	}
	if moved > 0 {
		q.logger.Info("tasks made ready", zap.String("reason", reason), zap.Int("count", moved))
	}
}
