package ratelimit

import (
	"context"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestCounter(t *testing.T, window time.Duration) (*DailyCounter, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	t.Cleanup(mr.Close)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	return NewDailyCounter(client, window), mr
}

func TestCheckDeniesAtLimit(t *testing.T) {
	ctx := context.Background()
	counter, _ := newTestCounter(t, time.Hour)
	const limit = 5

	for i := 0; i < limit; i++ {
		dec, err := counter.Check(ctx, KindEndpoint, "ep-1", limit)
		if err != nil {
			t.Fatalf("check %d: %v", i, err)
		}
		if !dec.Allowed {
			t.Fatalf("check %d denied below limit (count=%d)", i, dec.Count)
		}
		if _, err := counter.Increment(ctx, KindEndpoint, "ep-1"); err != nil {
			t.Fatalf("increment %d: %v", i, err)
		}
	}

	dec, err := counter.Check(ctx, KindEndpoint, "ep-1", limit)
	if err != nil {
		t.Fatalf("check after limit: %v", err)
	}
	if dec.Allowed {
		t.Fatalf("expected denial at limit, got allowed with count=%d", dec.Count)
	}
	if dec.Count != limit || dec.Limit != limit {
		t.Fatalf("expected count=%d limit=%d, got count=%d limit=%d", limit, limit, dec.Count, dec.Limit)
	}
}

func TestWindowResetsAfterExpiry(t *testing.T) {
	ctx := context.Background()
	counter, mr := newTestCounter(t, time.Hour)

	if _, err := counter.Increment(ctx, KindEndpoint, "ep-1"); err != nil {
		t.Fatalf("increment: %v", err)
	}
	if _, err := counter.Increment(ctx, KindEndpoint, "ep-1"); err != nil {
		t.Fatalf("increment: %v", err)
	}

	mr.FastForward(time.Hour + time.Second)

	count, err := counter.Increment(ctx, KindEndpoint, "ep-1")
	if err != nil {
		t.Fatalf("increment after expiry: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected fresh window count=1, got %d", count)
	}
	ttl, err := counter.TTLRemaining(ctx, KindEndpoint, "ep-1")
	if err != nil {
		t.Fatalf("ttl: %v", err)
	}
	if ttl <= 0 {
		t.Fatalf("expected active window after new increment, ttl=%s", ttl)
	}
}

func TestIncrementDoesNotResetExpiry(t *testing.T) {
	ctx := context.Background()
	counter, mr := newTestCounter(t, time.Hour)

	if _, err := counter.Increment(ctx, KindExecution, "wh-1"); err != nil {
		t.Fatalf("increment: %v", err)
	}

	mr.FastForward(30 * time.Minute)

	if _, err := counter.Increment(ctx, KindExecution, "wh-1"); err != nil {
		t.Fatalf("second increment: %v", err)
	}
	ttl, err := counter.TTLRemaining(ctx, KindExecution, "wh-1")
	if err != nil {
		t.Fatalf("ttl: %v", err)
	}
	if ttl > 30*time.Minute {
		t.Fatalf("second increment reset the window, ttl=%s", ttl)
	}
}

func TestCountersAreIndependentPerKey(t *testing.T) {
	ctx := context.Background()
	counter, _ := newTestCounter(t, time.Hour)

	if _, err := counter.Increment(ctx, KindEndpoint, "ep-1"); err != nil {
		t.Fatalf("increment: %v", err)
	}
	dec, err := counter.Check(ctx, KindEndpoint, "ep-2", 1)
	if err != nil {
		t.Fatalf("check: %v", err)
	}
	if !dec.Allowed || dec.Count != 0 {
		t.Fatalf("expected untouched counter for ep-2, got allowed=%v count=%d", dec.Allowed, dec.Count)
	}
	// Same id under a different kind is a different key.
	dec, err = counter.Check(ctx, KindExecution, "ep-1", 1)
	if err != nil {
		t.Fatalf("check: %v", err)
	}
	if dec.Count != 0 {
		t.Fatalf("kinds share a counter, count=%d", dec.Count)
	}
}
