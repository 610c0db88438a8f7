package runner

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

// Queue consumes run triggers from a Redis list and cancel requests from a
// pub/sub channel, feeding both into a Runner.
type Queue struct {
	rdb           *redis.Client
	triggerQueue  string
	cancelChannel string
	runner        *Runner
	logger        *slog.Logger
}

// NewQueue builds the Redis consumer.
func NewQueue(redisURL, triggerQueue, cancelChannel string, r *Runner, logger *slog.Logger) (*Queue, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Queue{
		rdb:           redis.NewClient(opts),
		triggerQueue:  triggerQueue,
		cancelChannel: cancelChannel,
		runner:        r,
		logger:        logger,
	}, nil
}

// Run blocks on the trigger queue until ctx is done. Triggers execute
// sequentially; cancellation arrives on its own goroutine.
func (q *Queue) Run(ctx context.Context) error {
	go q.watchCancels(ctx)

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		res, err := q.rdb.BLPop(ctx, 5*time.Second, q.triggerQueue).Result()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				continue
			}
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return err
			}
			q.logger.Error("trigger queue read failed", slog.String("error", err.Error()))
			time.Sleep(time.Second)
			continue
		}
		// BLPop returns [key, value].
		if len(res) != 2 {
			continue
		}

		var trig Trigger
		if err := json.Unmarshal([]byte(res[1]), &trig); err != nil {
			q.logger.Error("malformed trigger dropped",
				slog.String("payload", res[1]),
				slog.String("error", err.Error()),
			)
			continue
		}
		if trig.SkillRunID == "" || trig.SkillID == "" {
			q.logger.Error("trigger missing ids, dropped", slog.String("payload", res[1]))
			continue
		}

		// Process reports its own status; queue consumption continues
		// regardless of the run outcome.
		_ = q.runner.Process(ctx, trig)
	}
}

// watchCancels forwards cancel requests. The message payload is the run id.
func (q *Queue) watchCancels(ctx context.Context) {
	pubsub := q.rdb.Subscribe(ctx, q.cancelChannel)
	defer pubsub.Close()

	if _, err := pubsub.Receive(ctx); err != nil {
		q.logger.Error("cancel channel subscribe failed", slog.String("error", err.Error()))
		return
	}

	ch := pubsub.Channel()
	for {
		select {
		case msg, ok := <-ch:
			if !ok {
				return
			}
			q.runner.Cancel(msg.Payload)
		case <-ctx.Done():
			return
		}
	}
}

// Close releases the Redis connection.
func (q *Queue) Close() error {
	return q.rdb.Close()
}

// Healthy reports whether Redis answers pings.
func (q *Queue) Healthy(ctx context.Context) bool {
	return q.rdb.Ping(ctx).Err() == nil
}

// RedisStatusPublisher publishes run status transitions on a pub/sub
// channel for the backend and watching clients.
type RedisStatusPublisher struct {
	rdb     *redis.Client
	channel string
}

// NewRedisStatusPublisher builds the publisher on its own connection.
func NewRedisStatusPublisher(redisURL, channel string) (*RedisStatusPublisher, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, err
	}
	return &RedisStatusPublisher{rdb: redis.NewClient(opts), channel: channel}, nil
}

func (p *RedisStatusPublisher) Publish(ctx context.Context, status Status) error {
	payload, err := json.Marshal(status)
	if err != nil {
		return err
	}
	return p.rdb.Publish(ctx, p.channel, payload).Err()
}

// Close releases the Redis connection.
func (p *RedisStatusPublisher) Close() error {
	return p.rdb.Close()
}
