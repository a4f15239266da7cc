package queue

import (
	"context"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"webhook-scheduler/internal/config"
)

func newTestQueue(t *testing.T, lease time.Duration) (*RunQueue, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	t.Cleanup(mr.Close)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	cfg := config.Config{RunQueueName: "loadtest:runs", RunLeaseTimeout: lease}
	return NewRunQueue(client, cfg), mr
}

func TestEnqueueDequeueOrder(t *testing.T) {
	ctx := context.Background()
	q, _ := newTestQueue(t, time.Minute)

	for _, id := range []string{"run-1", "run-2", "run-3"} {
		if err := q.Enqueue(ctx, id); err != nil {
			t.Fatalf("enqueue %s: %v", id, err)
		}
	}
	depth, err := q.Depth(ctx)
	if err != nil {
		t.Fatalf("depth: %v", err)
	}
	if depth != 3 {
		t.Fatalf("depth = %d, want 3", depth)
	}

	for _, want := range []string{"run-1", "run-2", "run-3"} {
		got, err := q.DequeueWithLease(ctx)
		if err != nil {
			t.Fatalf("dequeue: %v", err)
		}
		if got != want {
			t.Fatalf("dequeue = %q, want %q", got, want)
		}
	}

	got, err := q.DequeueWithLease(ctx)
	if err != nil {
		t.Fatalf("dequeue empty: %v", err)
	}
	if got != "" {
		t.Fatalf("dequeue from empty queue = %q, want empty", got)
	}
}

func TestAckClearsInflight(t *testing.T) {
	ctx := context.Background()
	q, _ := newTestQueue(t, time.Minute)

	if err := q.Enqueue(ctx, "run-1"); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if _, err := q.DequeueWithLease(ctx); err != nil {
		t.Fatalf("dequeue: %v", err)
	}
	if err := q.Ack(ctx, "run-1"); err != nil {
		t.Fatalf("ack: %v", err)
	}

	// An acked run must not come back, even long past its lease.
	ids, err := q.RequeueExpired(ctx, time.Now().Add(time.Hour), 10)
	if err != nil {
		t.Fatalf("requeue expired: %v", err)
	}
	if len(ids) != 0 {
		t.Fatalf("acked run reclaimed: %v", ids)
	}
}

func TestRequeueExpiredReclaimsLease(t *testing.T) {
	ctx := context.Background()
	q, _ := newTestQueue(t, time.Minute)

	if err := q.Enqueue(ctx, "run-1"); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if _, err := q.DequeueWithLease(ctx); err != nil {
		t.Fatalf("dequeue: %v", err)
	}

	// Before the lease passes the run stays in-flight.
	ids, err := q.RequeueExpired(ctx, time.Now(), 10)
	if err != nil {
		t.Fatalf("requeue expired: %v", err)
	}
	if len(ids) != 0 {
		t.Fatalf("live lease reclaimed: %v", ids)
	}

	ids, err = q.RequeueExpired(ctx, time.Now().Add(2*time.Minute), 10)
	if err != nil {
		t.Fatalf("requeue expired: %v", err)
	}
	if len(ids) != 1 || ids[0] != "run-1" {
		t.Fatalf("reclaimed = %v, want [run-1]", ids)
	}

	got, err := q.DequeueWithLease(ctx)
	if err != nil {
		t.Fatalf("dequeue reclaimed: %v", err)
	}
	if got != "run-1" {
		t.Fatalf("dequeue reclaimed = %q, want run-1", got)
	}
}

func TestRemoveDropsPendingRun(t *testing.T) {
	ctx := context.Background()
	q, _ := newTestQueue(t, time.Minute)

	if err := q.Enqueue(ctx, "run-1"); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if err := q.Enqueue(ctx, "run-2"); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if err := q.Remove(ctx, "run-1"); err != nil {
		t.Fatalf("remove: %v", err)
	}

	got, err := q.DequeueWithLease(ctx)
	if err != nil {
		t.Fatalf("dequeue: %v", err)
	}
	if got != "run-2" {
		t.Fatalf("dequeue after remove = %q, want run-2", got)
	}
}

func TestExtendLeaseDelaysReclaim(t *testing.T) {
	ctx := context.Background()
	q, _ := newTestQueue(t, time.Minute)

	if err := q.Enqueue(ctx, "run-1"); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if _, err := q.DequeueWithLease(ctx); err != nil {
		t.Fatalf("dequeue: %v", err)
	}
	if err := q.ExtendLease(ctx, "run-1", time.Hour); err != nil {
		t.Fatalf("extend lease: %v", err)
	}

	ids, err := q.RequeueExpired(ctx, time.Now().Add(2*time.Minute), 10)
	if err != nil {
		t.Fatalf("requeue expired: %v", err)
	}
	if len(ids) != 0 {
		t.Fatalf("extended lease reclaimed: %v", ids)
	}
}
