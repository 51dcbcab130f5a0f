package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"coursejobs/internal/config"
	"coursejobs/internal/models"
)

// Delivery is one leased attempt of a queued job.
type Delivery struct {
	ID       string
	Type     models.JobType
	Payload  map[string]any
	Attempts int
}

// HistoryID returns the history record id carried in the payload, falling back to the queue id.
func (d *Delivery) HistoryID() string {
	if v, ok := d.Payload[models.PayloadHistoryID].(string); ok && v != "" {
		return v
	}
	return d.ID
}

// RedisQueue is one family's at-least-once channel: a ready list, an in-flight
// lease set, a scheduled retry set, and trimmed completed/failed lists.
type RedisQueue struct {
	client *redis.Client
	desc   Descriptor
	lease  time.Duration

	readyKey     string
	inflightKey  string
	scheduledKey string
	completedKey string
	failedKey    string
	jobPrefix    string
}

// NewRedisClient builds the shared Redis client from config.
func NewRedisClient(cfg *config.Config) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
}

// NewRedisQueue binds a descriptor to Redis. The lease is the descriptor's
// timeout plus grace, so a healthy attempt never loses its lease.
func NewRedisQueue(client *redis.Client, desc Descriptor, grace time.Duration) *RedisQueue {
	if grace <= 0 {
		grace = 30 * time.Second
	}
	prefix := fmt.Sprintf("jobs:%s:", desc.Name)
	return &RedisQueue{
		client:       client,
		desc:         desc,
		lease:        desc.Timeout + grace,
		readyKey:     prefix + "ready",
		inflightKey:  prefix + "inflight",
		scheduledKey: prefix + "scheduled",
		completedKey: prefix + "completed",
		failedKey:    prefix + "failed",
		jobPrefix:    prefix + "job:",
	}
}

// Descriptor returns the queue's policy.
func (q *RedisQueue) Descriptor() Descriptor {
	return q.desc
}

// Lease returns the visibility timeout of an in-flight attempt.
func (q *RedisQueue) Lease() time.Duration {
	return q.lease
}

func (q *RedisQueue) jobKey(id string) string {
	return q.jobPrefix + id
}

// Push stores the job body and appends it to the ready list.
func (q *RedisQueue) Push(ctx context.Context, id string, job models.Job) error {
	payload, err := json.Marshal(job.Payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}
	pipe := q.client.TxPipeline()
	pipe.HSet(ctx, q.jobKey(id), "type", string(job.Type), "payload", payload, "attempts", 0)
	pipe.RPush(ctx, q.readyKey, id)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("push %s: %w", q.desc.Name, err)
	}
	return nil
}

// Dequeue leases the next ready job. It returns nil when the queue is empty.
func (q *RedisQueue) Dequeue(ctx context.Context) (*Delivery, error) {
	deadline := time.Now().Add(q.lease).UnixMilli()
	res, err := dequeueScript.Run(ctx, q.client, []string{q.readyKey, q.inflightKey}, deadline).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("dequeue %s: %w", q.desc.Name, err)
	}
	id, ok := res.(string)
	if !ok {
		return nil, fmt.Errorf("unexpected type from dequeue script: %T", res)
	}

	fields, err := q.client.HGetAll(ctx, q.jobKey(id)).Result()
	if err != nil {
		return nil, fmt.Errorf("load job %s: %w", id, err)
	}
	if len(fields) == 0 {
		// Body already gone (completed or exhausted); drop the stray lease.
		_ = q.client.ZRem(ctx, q.inflightKey, id).Err()
		return nil, nil
	}

	d := &Delivery{ID: id, Type: models.JobType(fields["type"])}
	if raw := fields["payload"]; raw != "" {
		if err := json.Unmarshal([]byte(raw), &d.Payload); err != nil {
			return nil, fmt.Errorf("decode payload of %s: %w", id, err)
		}
	}
	if d.Payload == nil {
		d.Payload = map[string]any{}
	}
	if n, err := strconv.Atoi(fields["attempts"]); err == nil {
		d.Attempts = n
	}
	return d, nil
}

// ExtendLease pushes the visibility deadline of an in-flight job forward.
func (q *RedisQueue) ExtendLease(ctx context.Context, id string) error {
	return q.client.ZAddXX(ctx, q.inflightKey, redis.Z{
		Score:  float64(time.Now().Add(q.lease).UnixMilli()),
		Member: id,
	}).Err()
}

// Complete drops the lease and body and records the id in the completed list.
func (q *RedisQueue) Complete(ctx context.Context, id string) error {
	return q.finish(ctx, id, q.completedKey, q.desc.RetentionCompleted)
}

// Fail drops the lease and body of an exhausted job and records it in the failed list.
func (q *RedisQueue) Fail(ctx context.Context, id string) error {
	return q.finish(ctx, id, q.failedKey, q.desc.RetentionFailed)
}

func (q *RedisQueue) finish(ctx context.Context, id, listKey string, keep int64) error {
	pipe := q.client.TxPipeline()
	pipe.ZRem(ctx, q.inflightKey, id)
	pipe.Del(ctx, q.jobKey(id))
	pipe.LPush(ctx, listKey, id)
	if keep > 0 {
		pipe.LTrim(ctx, listKey, 0, keep-1)
	} else {
		pipe.Del(ctx, listKey)
	}
	_, err := pipe.Exec(ctx)
	return err
}

// Retry records the attempt count and schedules the job for runAt.
func (q *RedisQueue) Retry(ctx context.Context, id string, attempts int, runAt time.Time) error {
	pipe := q.client.TxPipeline()
	pipe.ZRem(ctx, q.inflightKey, id)
	pipe.HSet(ctx, q.jobKey(id), "attempts", attempts)
	pipe.ZAdd(ctx, q.scheduledKey, redis.Z{Score: float64(runAt.UnixMilli()), Member: id})
	_, err := pipe.Exec(ctx)
	return err
}

// PromoteScheduled moves due retries to the ready list and returns how many moved.
func (q *RedisQueue) PromoteScheduled(ctx context.Context, now time.Time, limit int64) (int, error) {
	moved, err := moveDueScript.Run(ctx, q.client, []string{q.scheduledKey, q.readyKey}, now.UnixMilli(), limit).StringSlice()
	if err != nil && !errors.Is(err, redis.Nil) {
		return 0, err
	}
	return len(moved), nil
}

// RequeueExpired returns jobs whose lease ran out to the ready list.
func (q *RedisQueue) RequeueExpired(ctx context.Context, now time.Time, limit int64) ([]string, error) {
	moved, err := moveDueScript.Run(ctx, q.client, []string{q.inflightKey, q.readyKey}, now.UnixMilli(), limit).StringSlice()
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, err
	}
	return moved, nil
}

// Depth returns the number of ready jobs.
func (q *RedisQueue) Depth(ctx context.Context) (int64, error) {
	return q.client.LLen(ctx, q.readyKey).Result()
}

// Recent returns up to n ids from the completed or failed retention list.
func (q *RedisQueue) Recent(ctx context.Context, failed bool, n int64) ([]string, error) {
	key := q.completedKey
	if failed {
		key = q.failedKey
	}
	return q.client.LRange(ctx, key, 0, n-1).Result()
}

var dequeueScript = redis.NewScript(`
local job = redis.call('LPOP', KEYS[1])
if job then
  redis.call('ZADD', KEYS[2], ARGV[1], job)
  return job
end
return nil
`)

// moveDueScript moves members scored at or below ARGV[1] from the set KEYS[1]
// to the list KEYS[2]. ZREM guards against two callers moving the same id.
var moveDueScript = redis.NewScript(`
local ids = redis.call('ZRANGEBYSCORE', KEYS[1], '-inf', ARGV[1], 'LIMIT', 0, ARGV[2])
local moved = {}
for _, id in ipairs(ids) do
  if redis.call('ZREM', KEYS[1], id) == 1 then
    redis.call('RPUSH', KEYS[2], id)
    table.insert(moved, id)
  end
end
return moved
`)
