package worker

import (
	"context"
	"log"
	"sync"
	"time"

	"webhook-scheduler/internal/config"
	"webhook-scheduler/internal/telemetry"
)

// RunQueue is the queue surface the consumer needs. *queue.RunQueue
// satisfies it.
type RunQueue interface {
	DequeueWithLease(ctx context.Context) (string, error)
	Ack(ctx context.Context, runID string) error
	ExtendLease(ctx context.Context, runID string, extension time.Duration) error
	RequeueExpired(ctx context.Context, now time.Time, limit int64) ([]string, error)
	Depth(ctx context.Context) (int64, error)
}

// RunExecutor carries one load test run to a terminal state.
type RunExecutor interface {
	Execute(ctx context.Context, runID string) error
}

// Consumer pulls queued load test runs and drives them through the
// executor. Leases are extended for the lifetime of each run and expired
// leases from dead workers are swept back onto the ready list.
type Consumer struct {
	cfg      config.Config
	queue    RunQueue
	executor RunExecutor

	pollInterval time.Duration
	leaseTTL     time.Duration
}

// NewConsumer constructs a run consumer.
func NewConsumer(cfg config.Config, q RunQueue, executor RunExecutor) *Consumer {
	poll := cfg.RunPollInterval
	if poll <= 0 {
		poll = time.Second
	}
	lease := cfg.RunLeaseTimeout
	if lease <= 0 {
		lease = 10 * time.Minute
	}
	return &Consumer{
		cfg:          cfg,
		queue:        q,
		executor:     executor,
		pollInterval: poll,
		leaseTTL:     lease,
	}
}

// Run polls until the context is cancelled. One run executes at a time per
// consumer; horizontal scale comes from running more worker processes.
func (c *Consumer) Run(ctx context.Context) error {
	ticker := time.NewTicker(c.pollInterval)
	defer ticker.Stop()

	sweep := time.NewTicker(c.leaseTTL / 2)
	defer sweep.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-sweep.C:
			reclaimed, err := c.queue.RequeueExpired(ctx, time.Now(), 100)
			if err != nil {
				log.Printf("worker: requeue expired leases: %v", err)
				continue
			}
			for _, id := range reclaimed {
				log.Printf("worker: reclaimed expired lease for run %s", id)
			}
		case <-ticker.C:
			if depth, err := c.queue.Depth(ctx); err == nil {
				telemetry.RunQueueDepthGauge.Set(float64(depth))
			}
			runID, err := c.queue.DequeueWithLease(ctx)
			if err != nil {
				log.Printf("worker: dequeue run: %v", err)
				continue
			}
			if runID == "" {
				continue
			}
			c.process(ctx, runID)
		}
	}
}

// process executes one run while keeping its lease alive, acking on any
// outcome. Execute owns failure handling; a returned error here means the
// run record already reflects the failure.
func (c *Consumer) process(ctx context.Context, runID string) {
	telemetry.RunsInFlightGauge.Inc()
	defer telemetry.RunsInFlightGauge.Dec()

	heartbeatCtx, stopHeartbeat := context.WithCancel(ctx)
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		ticker := time.NewTicker(c.leaseTTL / 2)
		defer ticker.Stop()
		for {
			select {
			case <-heartbeatCtx.Done():
				return
			case <-ticker.C:
				if err := c.queue.ExtendLease(heartbeatCtx, runID, c.leaseTTL); err != nil {
					log.Printf("worker: extend lease for run %s: %v", runID, err)
				}
			}
		}
	}()

	if err := c.executor.Execute(ctx, runID); err != nil {
		log.Printf("worker: run %s: %v", runID, err)
	}
	stopHeartbeat()
	wg.Wait()

	if err := c.queue.Ack(context.WithoutCancel(ctx), runID); err != nil {
		log.Printf("worker: ack run %s: %v", runID, err)
	}
}
