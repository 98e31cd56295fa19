// Package queue is the Redis task transport for automation work: a
// scheduled set for deferred tasks, a ready list, an in-flight lease set
// with visibility timeouts, and a dead-letter list for tasks that exhaust
// their retries.
package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Task is one self-contained unit of automation work. The payload travels
// with the task; handlers never need the enqueuer's database row.
type Task struct {
	ID       string         `json:"id"`
	Type     string         `json:"type"`
	Payload  map[string]any `json:"payload,omitempty"`
	Attempts int            `json:"attempts"`
}

// RedisQueue coordinates ready, in-flight, and scheduled task sets in Redis.
type RedisQueue struct {
	client        *redis.Client
	readyKey      string
	inflightKey   string
	scheduledKey  string
	taskKeyPrefix string
	visibilityTTL time.Duration
	dlqKey        string
}

// Options configures a queue client.
type Options struct {
	Addr              string
	Password          string
	DB                int
	VisibilityTimeout time.Duration
	DLQName           string
}

func NewRedisQueue(opts Options) *RedisQueue {
	client := redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	})
	visibility := opts.VisibilityTimeout
	if visibility == 0 {
		visibility = 30 * time.Second
	}
	dlq := opts.DLQName
	if dlq == "" {
		dlq = "automation:dlq"
	}
	return &RedisQueue{
		client:        client,
		readyKey:      "automation:ready",
		inflightKey:   "automation:inflight",
		scheduledKey:  "automation:scheduled",
		taskKeyPrefix: "automation:task:",
		visibilityTTL: visibility,
		dlqKey:        dlq,
	}
}

func (q *RedisQueue) taskKey(id string) string {
	return q.taskKeyPrefix + id
}

func (q *RedisQueue) storeTask(ctx context.Context, pipe redis.Pipeliner, task Task) error {
	body, err := json.Marshal(task)
	if err != nil {
		return fmt.Errorf("marshal task: %w", err)
	}
	pipe.Set(ctx, q.taskKey(task.ID), body, 0)
	return nil
}

// Enqueue inserts a task into either the scheduled set or the ready list,
// depending on runAt.
func (q *RedisQueue) Enqueue(ctx context.Context, task Task, runAt time.Time) error {
	pipe := q.client.TxPipeline()
	if err := q.storeTask(ctx, pipe, task); err != nil {
		return err
	}
	if runAt.After(time.Now()) {
		pipe.ZAdd(ctx, q.scheduledKey, redis.Z{Score: float64(runAt.UnixMilli()), Member: task.ID})
	} else {
		pipe.RPush(ctx, q.readyKey, task.ID)
	}
	_, err := pipe.Exec(ctx)
	return err
}

// Schedule places a task in the scheduled set for deferred execution. Used
// both for recurring sweeps and for retry backoff.
func (q *RedisQueue) Schedule(ctx context.Context, task Task, runAt time.Time) error {
	pipe := q.client.TxPipeline()
	if err := q.storeTask(ctx, pipe, task); err != nil {
		return err
	}
	pipe.ZAdd(ctx, q.scheduledKey, redis.Z{Score: float64(runAt.UnixMilli()), Member: task.ID})
	_, err := pipe.Exec(ctx)
	return err
}

// PromoteScheduled moves due tasks into the ready list. Returns how many
// were promoted.
func (q *RedisQueue) PromoteScheduled(ctx context.Context, now time.Time, limit int64) (int, error) {
	ids, err := q.client.ZRangeByScore(ctx, q.scheduledKey, &redis.ZRangeBy{
		Min:    "-inf",
		Max:    fmt.Sprintf("%d", now.UnixMilli()),
		Offset: 0,
		Count:  limit,
	}).Result()
	if err != nil {
		return 0, err
	}
	if len(ids) == 0 {
		return 0, nil
	}

	pipe := q.client.TxPipeline()
	for _, id := range ids {
		pipe.ZRem(ctx, q.scheduledKey, id)
		pipe.RPush(ctx, q.readyKey, id)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, err
	}
	return len(ids), nil
}

// DequeueWithLease pops the next ready task and places it in-flight with a
// visibility deadline. Returns a zero-ID task when nothing is ready.
func (q *RedisQueue) DequeueWithLease(ctx context.Context) (Task, error) {
	res, err := dequeueScript.Run(ctx, q.client,
		[]string{q.readyKey, q.inflightKey},
		time.Now().Add(q.visibilityTTL).UnixMilli(),
	).Result()
	if err == redis.Nil {
		return Task{}, nil
	}
	if err != nil {
		return Task{}, err
	}
	id, ok := res.(string)
	if !ok {
		return Task{}, fmt.Errorf("unexpected type from dequeue script: %T", res)
	}
	return q.getTask(ctx, id)
}

func (q *RedisQueue) getTask(ctx context.Context, id string) (Task, error) {
	body, err := q.client.Get(ctx, q.taskKey(id)).Bytes()
	if err == redis.Nil {
		// Body expired or was acked out from under us; drop the lease.
		_ = q.client.ZRem(ctx, q.inflightKey, id).Err()
		return Task{}, nil
	}
	if err != nil {
		return Task{}, err
	}
	var task Task
	if err := json.Unmarshal(body, &task); err != nil {
		return Task{}, fmt.Errorf("unmarshal task %s: %w", id, err)
	}
	return task, nil
}

// ExtendLease pushes the visibility deadline forward for an in-flight task.
func (q *RedisQueue) ExtendLease(ctx context.Context, taskID string, extension time.Duration) error {
	return q.client.ZAdd(ctx, q.inflightKey, redis.Z{
		Score:  float64(time.Now().Add(extension).UnixMilli()),
		Member: taskID,
	}).Err()
}

// Ack removes a task from in-flight tracking and deletes its body.
func (q *RedisQueue) Ack(ctx context.Context, taskID string) error {
	pipe := q.client.TxPipeline()
	pipe.ZRem(ctx, q.inflightKey, taskID)
	pipe.Del(ctx, q.taskKey(taskID))
	_, err := pipe.Exec(ctx)
	return err
}

// RequeueExpired reclaims leases that timed out, pushing the tasks back to
// ready. Returns the reclaimed ids.
func (q *RedisQueue) RequeueExpired(ctx context.Context, now time.Time, limit int64) ([]string, error) {
	ids, err := q.client.ZRangeByScore(ctx, q.inflightKey, &redis.ZRangeBy{
		Min:    "-inf",
		Max:    fmt.Sprintf("%d", now.UnixMilli()),
		Offset: 0,
		Count:  limit,
	}).Result()
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return nil, nil
	}

	pipe := q.client.TxPipeline()
	for _, id := range ids {
		pipe.ZRem(ctx, q.inflightKey, id)
		pipe.RPush(ctx, q.readyKey, id)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, err
	}
	return ids, nil
}

// DLQPush appends a task to the dead-letter list along with its body for
// operational inspection.
func (q *RedisQueue) DLQPush(ctx context.Context, task Task) error {
	body, err := json.Marshal(task)
	if err != nil {
		return fmt.Errorf("marshal task: %w", err)
	}
	pipe := q.client.TxPipeline()
	pipe.RPush(ctx, q.dlqKey, body)
	pipe.ZRem(ctx, q.inflightKey, task.ID)
	pipe.Del(ctx, q.taskKey(task.ID))
	_, err = pipe.Exec(ctx)
	return err
}

// DLQPeek reads the oldest dead-lettered tasks without removing them.
func (q *RedisQueue) DLQPeek(ctx context.Context, count int64) ([]Task, error) {
	bodies, err := q.client.LRange(ctx, q.dlqKey, 0, count-1).Result()
	if err != nil {
		return nil, err
	}
	tasks := make([]Task, 0, len(bodies))
	for _, b := range bodies {
		var t Task
		if err := json.Unmarshal([]byte(b), &t); err != nil {
			continue
		}
		tasks = append(tasks, t)
	}
	return tasks, nil
}

// ReadyDepth returns the length of the ready list.
func (q *RedisQueue) ReadyDepth(ctx context.Context) (int64, error) {
	return q.client.LLen(ctx, q.readyKey).Result()
}

// Close releases the underlying client.
func (q *RedisQueue) Close() error {
	return q.client.Close()
}

var dequeueScript = redis.NewScript(`
local ready = KEYS[1]
local inflight = KEYS[2]
local task = redis.call('LPOP', ready)
if task then
  redis.call('ZADD', inflight, ARGV[1], task)
  return task
end
return nil
`)
