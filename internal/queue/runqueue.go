package queue

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"webhook-scheduler/internal/config"
)

// RunQueue coordinates pending load test runs between the API and the
// worker through Redis. Dequeued run IDs move into an in-flight set with a
// lease deadline; runs whose lease expires without an ack are handed back
// to the ready list so a crashed worker cannot strand them.
type RunQueue struct {
	client      *redis.Client
	readyKey    string
	inflightKey string
	leaseTTL    time.Duration
}

// NewRunQueue builds a queue client from config.
func NewRunQueue(client *redis.Client, cfg config.Config) *RunQueue {
	lease := cfg.RunLeaseTimeout
	if lease <= 0 {
		lease = 10 * time.Minute
	}
	name := cfg.RunQueueName
	if name == "" {
		name = "loadtest:runs"
	}
	return &RunQueue{
		client:      client,
		readyKey:    name + ":ready",
		inflightKey: name + ":inflight",
		leaseTTL:    lease,
	}
}

// Enqueue appends a run to the ready list.
func (q *RunQueue) Enqueue(ctx context.Context, runID string) error {
	return q.client.RPush(ctx, q.readyKey, runID).Err()
}

// DequeueWithLease pops the oldest ready run and records it as in-flight
// with a lease deadline. Returns "" when the queue is empty.
func (q *RunQueue) DequeueWithLease(ctx context.Context) (string, error) {
	deadline := time.Now().Add(q.leaseTTL).UnixMilli()
	res, err := dequeueScript.Run(ctx, q.client, []string{q.readyKey, q.inflightKey}, deadline).Result()
	if err == redis.Nil {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	runID, ok := res.(string)
	if !ok {
		return "", fmt.Errorf("unexpected type from dequeue script: %T", res)
	}
	return runID, nil
}

// ExtendLease pushes the lease deadline forward for an in-flight run.
func (q *RunQueue) ExtendLease(ctx context.Context, runID string, extension time.Duration) error {
	return q.client.ZAdd(ctx, q.inflightKey, redis.Z{
		Score:  float64(time.Now().Add(extension).UnixMilli()),
		Member: runID,
	}).Err()
}

// Ack removes a finished run from in-flight tracking.
func (q *RunQueue) Ack(ctx context.Context, runID string) error {
	return q.client.ZRem(ctx, q.inflightKey, runID).Err()
}

// RequeueExpired reclaims in-flight runs whose lease passed, pushing them
// back onto the ready list. It returns the reclaimed IDs.
func (q *RunQueue) RequeueExpired(ctx context.Context, now time.Time, limit int64) ([]string, error) {
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

// Remove drops a run from both the ready list and the in-flight set, for
// runs cancelled before a worker picks them up.
func (q *RunQueue) Remove(ctx context.Context, runID string) error {
	pipe := q.client.TxPipeline()
	pipe.LRem(ctx, q.readyKey, 0, runID)
	pipe.ZRem(ctx, q.inflightKey, runID)
	_, err := pipe.Exec(ctx)
	return err
}

// Depth returns the number of runs waiting on the ready list.
func (q *RunQueue) Depth(ctx context.Context) (int64, error) {
	return q.client.LLen(ctx, q.readyKey).Result()
}

var dequeueScript = redis.NewScript(`
local run = redis.call('LPOP', KEYS[1])
if run then
  redis.call('ZADD', KEYS[2], ARGV[1], run)
  return run
end
return nil
`)
