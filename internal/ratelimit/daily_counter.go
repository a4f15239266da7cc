package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Resource kinds used to compose counter keys.
const (
	KindExecution = "execution"
	KindEndpoint  = "endpoint"
)

// DefaultWindow is the counter lifetime: 24 hours from the first increment.
const DefaultWindow = 24 * time.Hour

// Decision is the outcome of an admission check. A denial is data, not an
// error: Count and Limit let callers render a too-many-requests response.
type Decision struct {
	Allowed bool
	Count   int64
	Limit   int64
}

// DailyCounter is a sliding-window rate limit counter backed by Redis.
// The first increment for a key establishes the window expiry; later
// increments add to the counter without touching it, so the window slides
// forward only when the key fully expires.
type DailyCounter struct {
	client *redis.Client
	window time.Duration
}

func NewDailyCounter(client *redis.Client, window time.Duration) *DailyCounter {
	if window <= 0 {
		window = DefaultWindow
	}
	return &DailyCounter{client: client, window: window}
}

func counterKey(kind, resourceID string) string {
	return fmt.Sprintf("ratelimit:%s:%s", kind, resourceID)
}

// Check reads the current count for a resource and compares it against the
// caller-supplied plan limit. It performs no writes; call Increment after
// the protected action succeeds.
func (c *DailyCounter) Check(ctx context.Context, kind, resourceID string, limit int) (Decision, error) {
	count, err := c.client.Get(ctx, counterKey(kind, resourceID)).Int64()
	if err == redis.Nil {
		count = 0
	} else if err != nil {
		return Decision{}, fmt.Errorf("read counter: %w", err)
	}
	return Decision{
		Allowed: count < int64(limit),
		Count:   count,
		Limit:   int64(limit),
	}, nil
}

// Increment adds one to the resource counter, starting a fresh window when
// the key did not exist. Returns the count after the increment.
func (c *DailyCounter) Increment(ctx context.Context, kind, resourceID string) (int64, error) {
	res, err := incrementScript.Run(ctx, c.client, []string{counterKey(kind, resourceID)}, c.window.Milliseconds()).Result()
	if err != nil {
		return 0, fmt.Errorf("increment counter: %w", err)
	}
	count, ok := res.(int64)
	if !ok {
		return 0, fmt.Errorf("unexpected type from increment script: %T", res)
	}
	return count, nil
}

// TTLRemaining reports how long until the resource's window expires.
// Returns zero when no window is active.
func (c *DailyCounter) TTLRemaining(ctx context.Context, kind, resourceID string) (time.Duration, error) {
	ttl, err := c.client.PTTL(ctx, counterKey(kind, resourceID)).Result()
	if err != nil {
		return 0, fmt.Errorf("read counter ttl: %w", err)
	}
	if ttl < 0 {
		return 0, nil
	}
	return ttl, nil
}

// The expiry is set only when INCR created the key, so increments within an
// open window never push the window forward.
var incrementScript = redis.NewScript(`
local count = redis.call('INCR', KEYS[1])
if count == 1 then
  redis.call('PEXPIRE', KEYS[1], ARGV[1])
end
return count
`)
