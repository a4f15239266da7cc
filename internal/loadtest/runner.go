package loadtest

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"sync"
	"time"

	"webhook-scheduler/internal/dispatch"
	"webhook-scheduler/internal/models"
	"webhook-scheduler/internal/telemetry"
)

// RunStore is the persistence surface the runner needs.
type RunStore interface {
	GetLoadTestRun(ctx context.Context, id string) (models.LoadTestRun, error)
	GetLoadTestConfiguration(ctx context.Context, id string) (models.LoadTestConfiguration, error)
	GetWebhook(ctx context.Context, id string) (models.Webhook, error)
	TransitionRun(ctx context.Context, id, from, to string) (bool, error)
	InsertLoadTestReport(ctx context.Context, r models.LoadTestReport) (models.LoadTestReport, error)
	InsertCollectionResults(ctx context.Context, reportID string, results []models.CollectionResult) error
}

// Archiver receives completed reports for long-term storage. Optional.
type Archiver interface {
	ArchiveReport(ctx context.Context, report models.LoadTestReport) error
}

// Runner executes load test runs: it spawns the configured number of
// workers against the target webhook for the configured duration, honoring
// a shared requests-per-second cap, and aggregates per-request outcomes
// into one report.
type Runner struct {
	store      RunStore
	client     *http.Client
	archiver   Archiver
	cancelPoll time.Duration
}

// NewRunner constructs a runner. archiver may be nil.
func NewRunner(st RunStore, archiver Archiver, cancelPoll time.Duration) *Runner {
	if cancelPoll <= 0 {
		cancelPoll = time.Second
	}
	return &Runner{
		store:      st,
		client:     &http.Client{},
		archiver:   archiver,
		cancelPoll: cancelPoll,
	}
}

// Execute drives one run through pending -> running -> terminal state.
// A startup failure (missing configuration or webhook) transitions the run
// straight to failed with no report; request-level failures are recorded
// as data and never abort the remaining workers.
func (r *Runner) Execute(ctx context.Context, runID string) error {
	run, err := r.store.GetLoadTestRun(ctx, runID)
	if err != nil {
		return fmt.Errorf("load run: %w", err)
	}
	if run.Status != models.RunStatusPending {
		// Already handled (or cancelled before start); nothing to do.
		return nil
	}

	cfg, err := r.store.GetLoadTestConfiguration(ctx, run.ConfigurationID)
	if err != nil {
		r.markFailed(ctx, runID, models.RunStatusPending)
		return fmt.Errorf("load configuration: %w", err)
	}
	webhook, err := r.store.GetWebhook(ctx, cfg.WebhookID)
	if err != nil {
		r.markFailed(ctx, runID, models.RunStatusPending)
		return fmt.Errorf("load target webhook: %w", err)
	}
	if cfg.ConcurrentUsers < 1 || cfg.DurationSeconds < 1 {
		r.markFailed(ctx, runID, models.RunStatusPending)
		return fmt.Errorf("configuration %s has invalid parameters", cfg.ID)
	}

	ok, err := r.store.TransitionRun(ctx, runID, models.RunStatusPending, models.RunStatusRunning)
	if err != nil {
		return fmt.Errorf("start run: %w", err)
	}
	if !ok {
		// Lost the transition race; someone else owns this run now.
		return nil
	}

	results, cancelled := r.drive(ctx, runID, cfg, webhook)

	stats := Aggregate(results)
	report := models.LoadTestReport{
		RunID:              runID,
		TotalRequests:      stats.Total,
		SuccessfulRequests: stats.Successful,
		FailedRequests:     stats.Failed,
		AvgResponseTimeMs:  stats.AvgMs,
		MinResponseTimeMs:  stats.MinMs,
		MaxResponseTimeMs:  stats.MaxMs,
		P95ResponseTimeMs:  stats.P95Ms,
		P99ResponseTimeMs:  stats.P99Ms,
	}
	if cancelled {
		report.Notes = "run cancelled; report covers partial results"
	}
	report, err = r.store.InsertLoadTestReport(ctx, report)
	if err != nil {
		r.markFailed(ctx, runID, models.RunStatusRunning)
		return fmt.Errorf("persist report: %w", err)
	}
	if err := r.store.InsertCollectionResults(ctx, report.ID, results); err != nil {
		return fmt.Errorf("persist collection results: %w", err)
	}

	if !cancelled {
		if _, err := r.store.TransitionRun(ctx, runID, models.RunStatusRunning, models.RunStatusCompleted); err != nil {
			return fmt.Errorf("complete run: %w", err)
		}
	}

	if r.archiver != nil {
		if err := r.archiver.ArchiveReport(ctx, report); err != nil {
			log.Printf("loadtest: archive report for run %s: %v", runID, err)
		}
	}
	return nil
}

// drive runs the worker pool for the configured duration and merges
// per-worker result buffers. It reports whether the run was cancelled.
func (r *Runner) drive(ctx context.Context, runID string, cfg models.LoadTestConfiguration, webhook models.Webhook) ([]models.CollectionResult, bool) {
	start := time.Now()
	deadline := start.Add(time.Duration(cfg.DurationSeconds) * time.Second)

	issueCtx, stopIssuing := context.WithDeadline(ctx, deadline)
	defer stopIssuing()

	// Watch for an external cancellation of the run record. Workers stop
	// issuing new requests once observed; in-flight calls finish.
	watchDone := make(chan struct{})
	cancelledExternally := false
	go func() {
		defer close(watchDone)
		ticker := time.NewTicker(r.cancelPoll)
		defer ticker.Stop()
		for {
			select {
			case <-issueCtx.Done():
				return
			case <-ticker.C:
				run, err := r.store.GetLoadTestRun(ctx, runID)
				if err != nil {
					continue
				}
				if run.Status == models.RunStatusCancelled {
					cancelledExternally = true
					stopIssuing()
					return
				}
			}
		}
	}()

	rps := 0
	if cfg.RequestsPerSecond != nil {
		rps = *cfg.RequestsPerSecond
	}
	limiter := NewRateLimiter(start, rps)

	values := map[string]string{
		"configuration_id": cfg.ID,
		"run_id":           runID,
		"timestamp":        start.UTC().Format(time.RFC3339),
	}

	// Per-worker buffers merged at the end keep the hot path free of
	// shared mutable state.
	buffers := make([][]models.CollectionResult, cfg.ConcurrentUsers)
	var wg sync.WaitGroup
	for i := 0; i < cfg.ConcurrentUsers; i++ {
		wg.Add(1)
		go func(worker int) {
			defer wg.Done()
			buffers[worker] = r.work(issueCtx, webhook, limiter, values)
		}(i)
	}
	wg.Wait()
	<-watchDone

	var all []models.CollectionResult
	for _, buf := range buffers {
		all = append(all, buf...)
	}
	return all, cancelledExternally
}

// work issues requests until the issue context expires. Each outcome is
// appended to a private buffer; transport failures become failed results.
func (r *Runner) work(ctx context.Context, webhook models.Webhook, limiter *RateLimiter, values map[string]string) []models.CollectionResult {
	var results []models.CollectionResult
	for {
		if ctx.Err() != nil {
			return results
		}
		if wait := limiter.Reserve(time.Now()); wait > 0 {
			select {
			case <-ctx.Done():
				return results
			case <-time.After(wait):
			}
		}
		if ctx.Err() != nil {
			return results
		}

		req, body, err := dispatch.BuildRequest(webhook, values)
		if err != nil {
			results = append(results, models.CollectionResult{
				EndpointPath: webhook.URL,
				Method:       webhook.Method,
				Success:      false,
				ErrorMessage: err.Error(),
			})
			return results
		}

		out := dispatch.Send(r.client, req)
		telemetry.LoadTestRequests.Inc()
		result := models.CollectionResult{
			EndpointPath:   req.URL.String(),
			Method:         req.Method,
			RequestBody:    body,
			ResponseStatus: out.Status,
			ResponseBody:   out.Body,
			ResponseTimeMs: out.DurationMs,
			Success:        out.Success(),
		}
		if out.Err != nil {
			result.ErrorMessage = out.Err.Error()
		}
		results = append(results, result)
	}
}

func (r *Runner) markFailed(ctx context.Context, runID, from string) {
	if _, err := r.store.TransitionRun(ctx, runID, from, models.RunStatusFailed); err != nil {
		log.Printf("loadtest: mark run %s failed: %v", runID, err)
	}
}
