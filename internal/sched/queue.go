package sched

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const (
	keyPending  = "agentd:queue:pending"
	keyInflight = "agentd:queue:inflight"
	keyDelayed  = "agentd:queue:delayed"
	leasePrefix = "agentd:queue:lease:"

	// visibilityTimeout bounds how long a popped task may sit unacked
	// before it is considered abandoned and redelivered.
	visibilityTimeout = 15 * time.Minute
)

// ErrEmpty is returned by Dequeue when no task became available.
var ErrEmpty = errors.New("queue empty")

// Task is one run-agent request. Retries keep the original ID so the
// attempt counter is bounded per enqueue identity.
type Task struct {
	ID         string `json:"id"`
	AgentName  string `json:"agent_name"`
	Entry      string `json:"entry"`
	Attempt    int    `json:"attempt"`
	EnqueuedAt string `json:"enqueued_at"`
}

// Queue is the durable task queue shared by the beat and the workers.
// Pending tasks live in a list; popped tasks move atomically to an in-flight
// list guarded by a lease key, so a worker crash redelivers rather than
// loses them. Retries wait in a sorted set until their delay elapses.
type Queue struct {
	rdb        *redis.Client
	visibility time.Duration
}

// NewQueue connects to Redis at url (redis:// syntax).
func NewQueue(url string) (*Queue, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	return &Queue{rdb: redis.NewClient(opts), visibility: visibilityTimeout}, nil
}

// NewQueueWithClient wraps an existing client (tests).
func NewQueueWithClient(rdb *redis.Client) *Queue {
	return &Queue{rdb: rdb, visibility: visibilityTimeout}
}

// Close releases the Redis connection.
func (q *Queue) Close() error { return q.rdb.Close() }

// Ping verifies connectivity.
func (q *Queue) Ping(ctx context.Context) error { return q.rdb.Ping(ctx).Err() }

// Enqueue adds a new task for agentName with a fresh identity.
func (q *Queue) Enqueue(ctx context.Context, entry, agentName string) (Task, error) {
	task := Task{
		ID:         uuid.NewString(),
		AgentName:  agentName,
		Entry:      entry,
		EnqueuedAt: time.Now().UTC().Format(time.RFC3339Nano),
	}
	raw, err := json.Marshal(task)
	if err != nil {
		return Task{}, fmt.Errorf("marshal task: %w", err)
	}
	if err := q.rdb.LPush(ctx, keyPending, raw).Err(); err != nil {
		return Task{}, fmt.Errorf("enqueue: %w", err)
	}
	return task, nil
}

// Dequeue blocks up to wait for a pending task, moving it to the in-flight
// list and starting its lease. Returns ErrEmpty on timeout.
func (q *Queue) Dequeue(ctx context.Context, wait time.Duration) (Task, string, error) {
	raw, err := q.rdb.BLMove(ctx, keyPending, keyInflight, "RIGHT", "LEFT", wait).Result()
	if errors.Is(err, redis.Nil) {
		return Task{}, "", ErrEmpty
	}
	if err != nil {
		return Task{}, "", fmt.Errorf("dequeue: %w", err)
	}

	var task Task
	if err := json.Unmarshal([]byte(raw), &task); err != nil {
		// Unparseable payloads are dropped, not redelivered forever.
		q.rdb.LRem(ctx, keyInflight, 1, raw)
		return Task{}, "", fmt.Errorf("decode task: %w", err)
	}
	if err := q.rdb.Set(ctx, leasePrefix+task.ID, "1", q.visibility).Err(); err != nil {
		return Task{}, "", fmt.Errorf("start lease: %w", err)
	}
	return task, raw, nil
}

// Ack removes a completed task from the in-flight list.
func (q *Queue) Ack(ctx context.Context, task Task, raw string) error {
	if err := q.rdb.LRem(ctx, keyInflight, 1, raw).Err(); err != nil {
		return fmt.Errorf("ack: %w", err)
	}
	return q.rdb.Del(ctx, leasePrefix+task.ID).Err()
}

// Retry re-queues a failed task after delay, preserving its identity and
// incrementing the attempt counter.
func (q *Queue) Retry(ctx context.Context, task Task, raw string, delay time.Duration) (Task, error) {
	next := task
	next.Attempt++
	return next, q.reschedule(ctx, next, raw, delay)
}

// Requeue puts a task back without counting an attempt (e.g. the agent's
// per-name lock was held by another worker).
func (q *Queue) Requeue(ctx context.Context, task Task, raw string, delay time.Duration) error {
	return q.reschedule(ctx, task, raw, delay)
}

func (q *Queue) reschedule(ctx context.Context, task Task, raw string, delay time.Duration) error {
	newRaw, err := json.Marshal(task)
	if err != nil {
		return fmt.Errorf("marshal task: %w", err)
	}
	readyAt := float64(time.Now().Add(delay).UnixMilli())
	if err := q.rdb.ZAdd(ctx, keyDelayed, redis.Z{Score: readyAt, Member: newRaw}).Err(); err != nil {
		return fmt.Errorf("schedule retry: %w", err)
	}
	if err := q.rdb.LRem(ctx, keyInflight, 1, raw).Err(); err != nil {
		return fmt.Errorf("remove inflight: %w", err)
	}
	return q.rdb.Del(ctx, leasePrefix+task.ID).Err()
}

// PromoteDelayed moves every delayed task whose delay has elapsed back to
// the pending list. Returns the number promoted.
func (q *Queue) PromoteDelayed(ctx context.Context, now time.Time) (int, error) {
	max := fmt.Sprintf("%d", now.UnixMilli())
	members, err := q.rdb.ZRangeByScore(ctx, keyDelayed, &redis.ZRangeBy{Min: "-inf", Max: max}).Result()
	if err != nil {
		return 0, fmt.Errorf("scan delayed: %w", err)
	}
	promoted := 0
	for _, raw := range members {
		removed, err := q.rdb.ZRem(ctx, keyDelayed, raw).Result()
		if err != nil {
			return promoted, fmt.Errorf("promote: %w", err)
		}
		if removed == 0 {
			continue // another beat got it first
		}
		if err := q.rdb.LPush(ctx, keyPending, raw).Err(); err != nil {
			return promoted, fmt.Errorf("promote: %w", err)
		}
		promoted++
	}
	return promoted, nil
}

// ReapExpired redelivers in-flight tasks whose lease has expired (worker
// crash or hang past the visibility timeout).
func (q *Queue) ReapExpired(ctx context.Context) (int, error) {
	raws, err := q.rdb.LRange(ctx, keyInflight, 0, -1).Result()
	if err != nil {
		return 0, fmt.Errorf("scan inflight: %w", err)
	}
	reaped := 0
	for _, raw := range raws {
		var task Task
		if err := json.Unmarshal([]byte(raw), &task); err != nil {
			q.rdb.LRem(ctx, keyInflight, 1, raw)
			continue
		}
		alive, err := q.rdb.Exists(ctx, leasePrefix+task.ID).Result()
		if err != nil {
			return reaped, fmt.Errorf("check lease: %w", err)
		}
		if alive > 0 {
			continue
		}
		removed, err := q.rdb.LRem(ctx, keyInflight, 1, raw).Result()
		if err != nil {
			return reaped, fmt.Errorf("reap: %w", err)
		}
		if removed == 0 {
			continue
		}
		if err := q.rdb.RPush(ctx, keyPending, raw).Err(); err != nil {
			return reaped, fmt.Errorf("reap: %w", err)
		}
		reaped++
	}
	return reaped, nil
}

// PendingLen reports the pending list length.
func (q *Queue) PendingLen(ctx context.Context) (int64, error) {
	return q.rdb.LLen(ctx, keyPending).Result()
}
