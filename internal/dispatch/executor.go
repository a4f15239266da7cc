package dispatch

import (
	"context"
	"log"
	"net/http"
	"time"

	"webhook-scheduler/internal/config"
	"webhook-scheduler/internal/models"
	"webhook-scheduler/internal/ratelimit"
	"webhook-scheduler/internal/schedule"
	"webhook-scheduler/internal/telemetry"
)

// JobStore is the persistence surface the executor needs.
type JobStore interface {
	DueJobs(ctx context.Context, now time.Time, limit int) ([]models.Job, error)
	ClaimJob(ctx context.Context, id string, prevNextRun, newNextRun time.Time) (bool, error)
	FinishJobRun(ctx context.Context, id string, lastRun, nextRun time.Time) error
	GetWebhookByJob(ctx context.Context, jobID string) (models.Webhook, error)
	CreateJobExecution(ctx context.Context, jobID string, startedAt time.Time) (models.JobExecution, error)
	FinishJobExecution(ctx context.Context, id, status string, finishedAt time.Time) error
	InsertDispatchResult(ctx context.Context, r models.DispatchResult) (models.DispatchResult, error)
}

// Limiter is the admission control surface for execution counting.
type Limiter interface {
	Check(ctx context.Context, kind, resourceID string, limit int) (ratelimit.Decision, error)
	Increment(ctx context.Context, kind, resourceID string) (int64, error)
}

// PlanResolver maps an account to its plan tier. Account records live
// outside this core, so the mapping is injected.
type PlanResolver func(accountID string) string

// Executor polls for due jobs, claims each via a compare-and-swap on
// next_run_at, and dispatches the associated webhook. Failures are recorded
// and never retried; the schedule advances regardless of outcome.
type Executor struct {
	cfg     config.Config
	store   JobStore
	limiter Limiter
	client  *http.Client
	planFor PlanResolver
}

// New constructs an executor. The shared HTTP client carries no timeout;
// deadlines come from the request context when callers want them.
func New(cfg config.Config, store JobStore, limiter Limiter, planFor PlanResolver) *Executor {
	if planFor == nil {
		planFor = func(string) string { return models.PlanFree }
	}
	return &Executor{
		cfg:     cfg,
		store:   store,
		limiter: limiter,
		client:  &http.Client{},
		planFor: planFor,
	}
}

// Run polls for due jobs until context cancellation.
func (e *Executor) Run(ctx context.Context) error {
	interval := e.cfg.DispatchPollInterval
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			e.Tick(ctx, time.Now().UTC())
		}
	}
}

// Tick performs one poll pass: fetch due jobs and dispatch every one this
// instance manages to claim. Safe to call from multiple executor instances;
// the claim guarantees at most one dispatch per due occurrence.
func (e *Executor) Tick(ctx context.Context, now time.Time) {
	batch := e.cfg.DispatchBatchSize
	if batch <= 0 {
		batch = 50
	}
	jobs, err := e.store.DueJobs(ctx, now, batch)
	if err != nil {
		log.Printf("dispatch: query due jobs: %v", err)
		return
	}
	for _, job := range jobs {
		select {
		case <-ctx.Done():
			return
		default:
		}
		e.dispatchDue(ctx, job, now)
	}
}

func (e *Executor) dispatchDue(ctx context.Context, job models.Job, now time.Time) {
	next, err := schedule.Next(job.Schedule, now, job.Timezone)
	if err != nil {
		// Stored schedules are validated on write, so this means the row
		// was corrupted out of band. Leave the job alone and log.
		log.Printf("dispatch: job %s has unusable schedule %q: %v", job.ID, job.Schedule, err)
		return
	}

	claimed, err := e.store.ClaimJob(ctx, job.ID, job.NextRunAt, next)
	if err != nil {
		log.Printf("dispatch: claim job %s: %v", job.ID, err)
		return
	}
	if !claimed {
		// Another executor won this occurrence.
		return
	}

	webhook, err := e.store.GetWebhookByJob(ctx, job.ID)
	if err != nil {
		log.Printf("dispatch: job %s has no webhook: %v", job.ID, err)
		return
	}

	exec, err := e.store.CreateJobExecution(ctx, job.ID, now)
	if err != nil {
		log.Printf("dispatch: open execution for job %s: %v", job.ID, err)
		return
	}

	result := e.execute(ctx, job, webhook, exec, now)

	if _, err := e.store.InsertDispatchResult(ctx, result); err != nil {
		log.Printf("dispatch: record result for job %s: %v", job.ID, err)
	}

	completed := time.Now().UTC()
	status := models.ExecutionStatusFailure
	if result.Success {
		status = models.ExecutionStatusSuccess
		telemetry.DispatchSuccess.Inc()
	} else {
		telemetry.DispatchFailures.Inc()
	}
	if err := e.store.FinishJobExecution(ctx, exec.ID, status, completed); err != nil {
		log.Printf("dispatch: close execution %s: %v", exec.ID, err)
	}

	// Recompute from completion time so a call that overran its own next
	// occurrence does not fire immediately again for a stale tick.
	if recomputed, err := schedule.Next(job.Schedule, completed, job.Timezone); err == nil && recomputed.After(next) {
		next = recomputed
	}
	if err := e.store.FinishJobRun(ctx, job.ID, completed, next); err != nil {
		log.Printf("dispatch: finish job run %s: %v", job.ID, err)
	}
}

// execute performs the single webhook call for one claimed occurrence and
// shapes the dispatch result. It never returns an error: failures are data.
func (e *Executor) execute(ctx context.Context, job models.Job, webhook models.Webhook, exec models.JobExecution, triggeredAt time.Time) models.DispatchResult {
	result := models.DispatchResult{
		WebhookID:      webhook.ID,
		JobExecutionID: exec.ID,
		TriggeredAt:    triggeredAt,
		RequestURL:     webhook.URL,
		RequestMethod:  webhook.Method,
		RequestHeaders: webhook.Headers,
	}

	plan := e.planFor(job.AccountID)
	dec, err := e.limiter.Check(ctx, ratelimit.KindExecution, webhook.ID, models.ExecutionLimit(plan))
	if err != nil {
		log.Printf("dispatch: rate limit check for webhook %s: %v", webhook.ID, err)
	} else if !dec.Allowed {
		telemetry.DispatchRateLimited.Inc()
		result.ErrorMessage = "execution rate limit exceeded"
		return result
	}

	values := map[string]string{
		"job_id":       job.ID,
		"job_name":     job.Name,
		"execution_id": exec.ID,
		"timestamp":    triggeredAt.Format(time.RFC3339),
	}
	req, body, err := BuildRequest(webhook, values)
	if err != nil {
		result.ErrorMessage = err.Error()
		return result
	}
	result.RequestURL = req.URL.String()
	result.RequestBody = body

	out := Send(e.client, req)
	if _, err := e.limiter.Increment(ctx, ratelimit.KindExecution, webhook.ID); err != nil {
		log.Printf("dispatch: rate limit increment for webhook %s: %v", webhook.ID, err)
	}

	result.DurationMs = out.DurationMs
	result.ResponseStatus = out.Status
	result.ResponseHeaders = out.Headers
	result.ResponseBody = out.Body
	result.Success = out.Success()
	if out.Err != nil {
		result.ErrorMessage = out.Err.Error()
	} else if !result.Success {
		result.ErrorMessage = "non-2xx response"
	}
	return result
}
