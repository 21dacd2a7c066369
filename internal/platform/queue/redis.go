package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/wra13107/digital-memorial-landing/internal/domain/model"
)

// ErrEmpty is returned by Dequeue when the wait timed out with nothing queued.
var ErrEmpty = errors.New("queue is empty")

// ErrMalformedJob marks a payload that can never be delivered.
var ErrMalformedJob = errors.New("malformed mail job")

// Connect creates a client and checks it with PING.
func Connect(ctx context.Context, addr, password string, db int) (*redis.Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("could not connect to Redis at %s: %w", addr, err)
	}
	slog.Info("connected to Redis", "addr", addr)
	return rdb, nil
}

func Close(rdb *redis.Client) {
	if rdb != nil {
		rdb.Close()
		slog.Info("redis connection closed")
	}
}

// RedisMailQueue is a FIFO of mail jobs on a Redis list: LPUSH in, BRPOP out.
type RedisMailQueue struct {
	rdb  redis.Cmdable
	name string
	now  func() time.Time
}

func NewRedisMailQueue(rdb redis.Cmdable, name string) *RedisMailQueue {
	return &RedisMailQueue{rdb: rdb, name: name, now: time.Now}
}

func (q *RedisMailQueue) Name() string { return q.name }

// Enqueue assigns an ID and timestamp when missing and pushes the job.
func (q *RedisMailQueue) Enqueue(ctx context.Context, job model.MailJob) error {
	if job.ID == "" {
		job.ID = uuid.NewString()
	}
	if job.EnqueuedAt.IsZero() {
		job.EnqueuedAt = q.now().UTC()
	}
	payload, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("marshal mail job: %w", err)
	}
	if err := q.rdb.LPush(ctx, q.name, payload).Err(); err != nil {
		return fmt.Errorf("push mail job to %s: %w", q.name, err)
	}
	return nil
}

// Dequeue blocks for up to timeout (0 waits forever) and returns the oldest job.
func (q *RedisMailQueue) Dequeue(ctx context.Context, timeout time.Duration) (*model.MailJob, error) {
	res, err := q.rdb.BRPop(ctx, timeout, q.name).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrEmpty
		}
		return nil, err
	}
	// res is [queueName, value]
	if len(res) < 2 || res[1] == "" {
		return nil, ErrEmpty
	}
	return DecodeMailJob([]byte(res[1]))
}

// Requeue puts a job back at the head so it is the next one popped.
func (q *RedisMailQueue) Requeue(ctx context.Context, job model.MailJob) error {
	payload, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("marshal mail job: %w", err)
	}
	return q.rdb.RPush(ctx, q.name, payload).Err()
}

func DecodeMailJob(payload []byte) (*model.MailJob, error) {
	var job model.MailJob
	if err := json.Unmarshal(payload, &job); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedJob, err)
	}
	if job.To == "" {
		return nil, fmt.Errorf("%w: missing recipient", ErrMalformedJob)
	}
	return &job, nil
}
