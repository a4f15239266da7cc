package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"webhook-scheduler/internal/config"
	"webhook-scheduler/internal/ingest"
	"webhook-scheduler/internal/models"
	"webhook-scheduler/internal/ratelimit"
	"webhook-scheduler/internal/store"
)

type fakeStore struct {
	jobs      map[string]models.Job
	webhooks  map[string]models.Webhook
	endpoints map[string]models.Endpoint
	logs      []models.EndpointLog
	configs   map[string]models.LoadTestConfiguration
	runs      map[string]models.LoadTestRun
	reports   map[string]models.LoadTestReport
	seq       int
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		jobs:      map[string]models.Job{},
		webhooks:  map[string]models.Webhook{},
		endpoints: map[string]models.Endpoint{},
		configs:   map[string]models.LoadTestConfiguration{},
		runs:      map[string]models.LoadTestRun{},
		reports:   map[string]models.LoadTestReport{},
	}
}

func (f *fakeStore) nextID(prefix string) string {
	f.seq++
	return fmt.Sprintf("%s-%d", prefix, f.seq)
}

func (f *fakeStore) CreateJob(ctx context.Context, p store.CreateJobParams) (models.Job, error) {
	job := models.Job{
		ID:        f.nextID("job"),
		AccountID: p.AccountID,
		Name:      p.Name,
		Schedule:  p.Schedule,
		Type:      p.Type,
		Timezone:  p.Timezone,
		Enabled:   p.Enabled,
		NextRunAt: p.NextRunAt,
	}
	f.jobs[job.ID] = job
	return job, nil
}

func (f *fakeStore) GetJob(ctx context.Context, id string) (models.Job, error) {
	job, ok := f.jobs[id]
	if !ok {
		return models.Job{}, store.ErrNotFound
	}
	return job, nil
}

func (f *fakeStore) ListJobsByAccount(ctx context.Context, accountID string) ([]models.Job, error) {
	var out []models.Job
	for _, j := range f.jobs {
		if j.AccountID == accountID {
			out = append(out, j)
		}
	}
	return out, nil
}

func (f *fakeStore) CountJobsByAccount(ctx context.Context, accountID string) (int, error) {
	jobs, _ := f.ListJobsByAccount(ctx, accountID)
	return len(jobs), nil
}

func (f *fakeStore) UpdateJob(ctx context.Context, id string, p store.UpdateJobParams) (models.Job, error) {
	job, ok := f.jobs[id]
	if !ok {
		return models.Job{}, store.ErrNotFound
	}
	if p.Name != nil {
		job.Name = *p.Name
	}
	if p.Schedule != nil {
		job.Schedule = *p.Schedule
	}
	if p.Type != nil {
		job.Type = *p.Type
	}
	if p.Timezone != nil {
		job.Timezone = *p.Timezone
	}
	if p.Enabled != nil {
		job.Enabled = *p.Enabled
	}
	if p.NextRunAt != nil {
		job.NextRunAt = *p.NextRunAt
	}
	f.jobs[id] = job
	return job, nil
}

func (f *fakeStore) DeleteJob(ctx context.Context, id string) error {
	if _, ok := f.jobs[id]; !ok {
		return store.ErrNotFound
	}
	delete(f.jobs, id)
	return nil
}

func (f *fakeStore) CreateWebhook(ctx context.Context, p store.CreateWebhookParams) (models.Webhook, error) {
	wh := models.Webhook{ID: f.nextID("wh"), JobID: p.JobID, URL: p.URL, Method: p.Method, ContentType: p.ContentType}
	f.webhooks[wh.ID] = wh
	return wh, nil
}

func (f *fakeStore) GetWebhook(ctx context.Context, id string) (models.Webhook, error) {
	wh, ok := f.webhooks[id]
	if !ok {
		return models.Webhook{}, store.ErrNotFound
	}
	return wh, nil
}

func (f *fakeStore) UpdateWebhook(ctx context.Context, id string, p store.UpdateWebhookParams) (models.Webhook, error) {
	wh, ok := f.webhooks[id]
	if !ok {
		return models.Webhook{}, store.ErrNotFound
	}
	if p.URL != nil {
		wh.URL = *p.URL
	}
	f.webhooks[id] = wh
	return wh, nil
}

func (f *fakeStore) DeleteWebhook(ctx context.Context, id string) error {
	delete(f.webhooks, id)
	return nil
}

func (f *fakeStore) ListDispatchResults(ctx context.Context, webhookID string, limit int) ([]models.DispatchResult, error) {
	return nil, nil
}

func (f *fakeStore) CreateEndpoint(ctx context.Context, accountID, identifier string) (models.Endpoint, error) {
	ep := models.Endpoint{ID: f.nextID("ep"), AccountID: accountID, Identifier: identifier}
	f.endpoints[ep.ID] = ep
	return ep, nil
}

func (f *fakeStore) GetEndpoint(ctx context.Context, id string) (models.Endpoint, error) {
	ep, ok := f.endpoints[id]
	if !ok {
		return models.Endpoint{}, store.ErrNotFound
	}
	return ep, nil
}

func (f *fakeStore) GetEndpointByIdentifier(ctx context.Context, identifier string) (models.Endpoint, error) {
	for _, ep := range f.endpoints {
		if ep.Identifier == identifier {
			return ep, nil
		}
	}
	return models.Endpoint{}, store.ErrNotFound
}

func (f *fakeStore) ListEndpointsByAccount(ctx context.Context, accountID string) ([]models.Endpoint, error) {
	var out []models.Endpoint
	for _, ep := range f.endpoints {
		if ep.AccountID == accountID {
			out = append(out, ep)
		}
	}
	return out, nil
}

func (f *fakeStore) CountEndpointsByAccount(ctx context.Context, accountID string) (int, error) {
	eps, _ := f.ListEndpointsByAccount(ctx, accountID)
	return len(eps), nil
}

func (f *fakeStore) DeleteEndpoint(ctx context.Context, id string) error {
	delete(f.endpoints, id)
	return nil
}

func (f *fakeStore) InsertEndpointLog(ctx context.Context, l models.EndpointLog) (models.EndpointLog, error) {
	l.ID = f.nextID("log")
	f.logs = append(f.logs, l)
	return l, nil
}

func (f *fakeStore) ListEndpointLogs(ctx context.Context, endpointID string, limit, offset int) ([]models.EndpointLog, error) {
	var out []models.EndpointLog
	for _, l := range f.logs {
		if l.EndpointID == endpointID {
			out = append(out, l)
		}
	}
	return out, nil
}

func (f *fakeStore) CountEndpointLogs(ctx context.Context, endpointID string) (int64, error) {
	logs, _ := f.ListEndpointLogs(ctx, endpointID, 0, 0)
	return int64(len(logs)), nil
}

func (f *fakeStore) CreateLoadTestConfiguration(ctx context.Context, p store.CreateLoadTestConfigurationParams) (models.LoadTestConfiguration, error) {
	cfg := models.LoadTestConfiguration{
		ID:                f.nextID("cfg"),
		ProjectID:         p.ProjectID,
		WebhookID:         p.WebhookID,
		Name:              p.Name,
		ConcurrentUsers:   p.ConcurrentUsers,
		DurationSeconds:   p.DurationSeconds,
		RequestsPerSecond: p.RequestsPerSecond,
	}
	f.configs[cfg.ID] = cfg
	return cfg, nil
}

func (f *fakeStore) GetLoadTestConfiguration(ctx context.Context, id string) (models.LoadTestConfiguration, error) {
	cfg, ok := f.configs[id]
	if !ok {
		return models.LoadTestConfiguration{}, store.ErrNotFound
	}
	return cfg, nil
}

func (f *fakeStore) ListLoadTestConfigurationsByProject(ctx context.Context, projectID string) ([]models.LoadTestConfiguration, error) {
	var out []models.LoadTestConfiguration
	for _, c := range f.configs {
		if c.ProjectID == projectID {
			out = append(out, c)
		}
	}
	return out, nil
}

func (f *fakeStore) DeleteLoadTestConfiguration(ctx context.Context, id string) error {
	delete(f.configs, id)
	return nil
}

func (f *fakeStore) CreateLoadTestRun(ctx context.Context, configurationID string) (models.LoadTestRun, error) {
	run := models.LoadTestRun{ID: f.nextID("run"), ConfigurationID: configurationID, Status: models.RunStatusPending}
	f.runs[run.ID] = run
	return run, nil
}

func (f *fakeStore) GetLoadTestRun(ctx context.Context, id string) (models.LoadTestRun, error) {
	run, ok := f.runs[id]
	if !ok {
		return models.LoadTestRun{}, store.ErrNotFound
	}
	return run, nil
}

func (f *fakeStore) TransitionRun(ctx context.Context, id, from, to string) (bool, error) {
	run, ok := f.runs[id]
	if !ok || run.Status != from {
		return false, nil
	}
	run.Status = to
	f.runs[id] = run
	return true, nil
}

func (f *fakeStore) GetLoadTestReportByRun(ctx context.Context, runID string) (models.LoadTestReport, error) {
	report, ok := f.reports[runID]
	if !ok {
		return models.LoadTestReport{}, store.ErrNotFound
	}
	return report, nil
}

type fakeQueue struct {
	enqueued []string
	removed  []string
}

func (q *fakeQueue) Enqueue(ctx context.Context, runID string) error {
	q.enqueued = append(q.enqueued, runID)
	return nil
}

func (q *fakeQueue) Remove(ctx context.Context, runID string) error {
	q.removed = append(q.removed, runID)
	return nil
}

type allowAllLimiter struct{}

func (allowAllLimiter) Check(ctx context.Context, kind, resourceID string, limit int) (ratelimit.Decision, error) {
	return ratelimit.Decision{Allowed: true, Limit: int64(limit)}, nil
}

func (allowAllLimiter) Increment(ctx context.Context, kind, resourceID string) (int64, error) {
	return 1, nil
}

type denyAllLimiter struct{}

func (denyAllLimiter) Check(ctx context.Context, kind, resourceID string, limit int) (ratelimit.Decision, error) {
	return ratelimit.Decision{Allowed: false, Count: int64(limit), Limit: int64(limit)}, nil
}

func (denyAllLimiter) Increment(ctx context.Context, kind, resourceID string) (int64, error) {
	return 0, nil
}

func newTestServer(st *fakeStore, q *fakeQueue, limiter ingest.Limiter) *httptest.Server {
	if limiter == nil {
		limiter = allowAllLimiter{}
	}
	receiver := ingest.NewReceiver(st, limiter, nil)
	srv := New(config.Config{}, st, q, receiver, nil)
	return httptest.NewServer(srv.Router())
}

func postJSON(t *testing.T, url string, payload any) *http.Response {
	t.Helper()
	body, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	resp, err := http.Post(url, "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatalf("post %s: %v", url, err)
	}
	return resp
}

func decodeBody(t *testing.T, resp *http.Response, into any) {
	t.Helper()
	defer resp.Body.Close()
	if err := json.NewDecoder(resp.Body).Decode(into); err != nil {
		t.Fatalf("decode response: %v", err)
	}
}

func TestCreateJobComputesNextRun(t *testing.T) {
	st := newFakeStore()
	server := newTestServer(st, &fakeQueue{}, nil)
	defer server.Close()

	before := time.Now()
	resp := postJSON(t, server.URL+"/jobs", map[string]any{
		"name":     "hourly ping",
		"schedule": "0 * * * *",
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("status = %d, want 201", resp.StatusCode)
	}
	var job models.Job
	decodeBody(t, resp, &job)
	if !job.NextRunAt.After(before) {
		t.Fatalf("next_run_at %s not after creation time", job.NextRunAt)
	}
	if job.NextRunAt.Minute() != 0 {
		t.Fatalf("hourly schedule produced next run at minute %d", job.NextRunAt.Minute())
	}
	if !job.Enabled {
		t.Fatal("jobs default to enabled")
	}
}

func TestUpdateJobTypeRecomputesNextRun(t *testing.T) {
	st := newFakeStore()
	server := newTestServer(st, &fakeQueue{}, nil)
	defer server.Close()

	job, err := st.CreateJob(context.Background(), store.CreateJobParams{
		AccountID: "default",
		Name:      "nightly sync",
		Schedule:  "0 9 * * *",
		Enabled:   true,
		NextRunAt: time.Now().Add(-48 * time.Hour),
	})
	if err != nil {
		t.Fatalf("seed job: %v", err)
	}

	req, err := http.NewRequest(http.MethodPatch, server.URL+"/jobs/"+job.ID, strings.NewReader(`{"type":2}`))
	if err != nil {
		t.Fatalf("build patch: %v", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("patch: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	var updated models.Job
	decodeBody(t, resp, &updated)

	if updated.Type != 2 {
		t.Fatalf("type = %d, want 2", updated.Type)
	}
	if !updated.NextRunAt.After(time.Now()) {
		t.Fatalf("type-only update left next_run_at stale at %s", updated.NextRunAt)
	}
	if updated.NextRunAt.Minute() != 0 || updated.NextRunAt.Hour() != 9 {
		t.Fatalf("next_run_at %s does not match the daily 09:00 schedule", updated.NextRunAt.UTC())
	}
}

func TestCreateJobRejectsInvalidSchedule(t *testing.T) {
	st := newFakeStore()
	server := newTestServer(st, &fakeQueue{}, nil)
	defer server.Close()

	resp := postJSON(t, server.URL+"/jobs", map[string]any{
		"name":     "broken",
		"schedule": "not a cron line",
	})
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", resp.StatusCode)
	}
}

func TestCreateJobEnforcesPlanQuota(t *testing.T) {
	st := newFakeStore()
	server := newTestServer(st, &fakeQueue{}, nil)
	defer server.Close()

	limit := models.JobCreationLimit(models.PlanFree)
	for i := 0; i < limit; i++ {
		resp := postJSON(t, server.URL+"/jobs", map[string]any{
			"name":     fmt.Sprintf("job %d", i),
			"schedule": "* * * * *",
		})
		resp.Body.Close()
		if resp.StatusCode != http.StatusCreated {
			t.Fatalf("job %d: status = %d", i, resp.StatusCode)
		}
	}

	resp := postJSON(t, server.URL+"/jobs", map[string]any{
		"name":     "one too many",
		"schedule": "* * * * *",
	})
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusTooManyRequests {
		t.Fatalf("status above quota = %d, want 429", resp.StatusCode)
	}
}

func TestCreateEndpointReturnsGeneratedURL(t *testing.T) {
	st := newFakeStore()
	server := newTestServer(st, &fakeQueue{}, nil)
	defer server.Close()

	resp := postJSON(t, server.URL+"/endpoints", map[string]any{})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("status = %d, want 201", resp.StatusCode)
	}
	var out struct {
		Endpoint models.Endpoint `json:"endpoint"`
		URL      string          `json:"url"`
	}
	decodeBody(t, resp, &out)
	if out.Endpoint.Identifier == "" {
		t.Fatal("endpoint created without identifier")
	}
	if ingest.IsCanonicalID(out.Endpoint.Identifier) {
		t.Fatalf("identifier %q collides with the canonical id shape", out.Endpoint.Identifier)
	}
	if !strings.HasSuffix(out.URL, out.Endpoint.Identifier) {
		t.Fatalf("url %q does not end in identifier", out.URL)
	}
}

func TestIngestRoutesEveryMethod(t *testing.T) {
	st := newFakeStore()
	server := newTestServer(st, &fakeQueue{}, nil)
	defer server.Close()

	ep, err := st.CreateEndpoint(context.Background(), "default", "abc123token")
	if err != nil {
		t.Fatalf("seed endpoint: %v", err)
	}

	for _, method := range []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete} {
		req, err := http.NewRequest(method, server.URL+"/r/abc123token?source=test", strings.NewReader(`{"ping":true}`))
		if err != nil {
			t.Fatalf("build %s: %v", method, err)
		}
		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			t.Fatalf("%s: %v", method, err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("%s status = %d, want 200", method, resp.StatusCode)
		}
	}

	if len(st.logs) != 5 {
		t.Fatalf("logged %d requests, want 5", len(st.logs))
	}
	for _, l := range st.logs {
		if l.EndpointID != ep.ID {
			t.Fatalf("log bound to endpoint %q, want %q", l.EndpointID, ep.ID)
		}
		if l.QueryParams["source"] != "test" {
			t.Fatalf("query params not captured: %v", l.QueryParams)
		}
	}
}

func TestIngestUnknownIdentifierIs404(t *testing.T) {
	st := newFakeStore()
	server := newTestServer(st, &fakeQueue{}, nil)
	defer server.Close()

	resp, err := http.Get(server.URL + "/r/no-such-identifier")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", resp.StatusCode)
	}
}

func TestIngestRateLimitedIs429(t *testing.T) {
	st := newFakeStore()
	server := newTestServer(st, &fakeQueue{}, denyAllLimiter{})
	defer server.Close()

	if _, err := st.CreateEndpoint(context.Background(), "default", "abc123token"); err != nil {
		t.Fatalf("seed endpoint: %v", err)
	}

	resp, err := http.Get(server.URL + "/r/abc123token")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if resp.StatusCode != http.StatusTooManyRequests {
		t.Fatalf("status = %d, want 429", resp.StatusCode)
	}
	var out struct {
		Count int64 `json:"count"`
		Limit int64 `json:"limit"`
	}
	decodeBody(t, resp, &out)
	if out.Limit == 0 {
		t.Fatal("429 response missing limit")
	}
	if len(st.logs) != 0 {
		t.Fatal("rate-limited request must not be logged")
	}
}

func TestStartRunEnqueues(t *testing.T) {
	st := newFakeStore()
	q := &fakeQueue{}
	server := newTestServer(st, q, nil)
	defer server.Close()

	wh, _ := st.CreateWebhook(context.Background(), store.CreateWebhookParams{URL: "http://example.com"})
	cfg, _ := st.CreateLoadTestConfiguration(context.Background(), store.CreateLoadTestConfigurationParams{
		WebhookID:       wh.ID,
		Name:            "smoke",
		ConcurrentUsers: 2,
		DurationSeconds: 5,
	})

	resp := postJSON(t, server.URL+"/loadtest/configurations/"+cfg.ID+"/runs", map[string]any{})
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("status = %d, want 202", resp.StatusCode)
	}
	var run models.LoadTestRun
	decodeBody(t, resp, &run)
	if run.Status != models.RunStatusPending {
		t.Fatalf("run status = %q, want pending", run.Status)
	}
	if len(q.enqueued) != 1 || q.enqueued[0] != run.ID {
		t.Fatalf("enqueued = %v, want [%s]", q.enqueued, run.ID)
	}
}

func TestCancelPendingRunRemovesFromQueue(t *testing.T) {
	st := newFakeStore()
	q := &fakeQueue{}
	server := newTestServer(st, q, nil)
	defer server.Close()

	run, _ := st.CreateLoadTestRun(context.Background(), "cfg-x")

	resp := postJSON(t, server.URL+"/loadtest/runs/"+run.ID+"/cancel", map[string]any{})
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	if got, _ := st.GetLoadTestRun(context.Background(), run.ID); got.Status != models.RunStatusCancelled {
		t.Fatalf("run status = %q, want cancelled", got.Status)
	}
	if len(q.removed) != 1 || q.removed[0] != run.ID {
		t.Fatalf("removed = %v, want [%s]", q.removed, run.ID)
	}
}

func TestCancelCompletedRunConflicts(t *testing.T) {
	st := newFakeStore()
	server := newTestServer(st, &fakeQueue{}, nil)
	defer server.Close()

	run, _ := st.CreateLoadTestRun(context.Background(), "cfg-x")
	st.TransitionRun(context.Background(), run.ID, models.RunStatusPending, models.RunStatusRunning)
	st.TransitionRun(context.Background(), run.ID, models.RunStatusRunning, models.RunStatusCompleted)

	resp := postJSON(t, server.URL+"/loadtest/runs/"+run.ID+"/cancel", map[string]any{})
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("status = %d, want 409", resp.StatusCode)
	}
}

func TestGetReportNotFound(t *testing.T) {
	st := newFakeStore()
	server := newTestServer(st, &fakeQueue{}, nil)
	defer server.Close()

	run, _ := st.CreateLoadTestRun(context.Background(), "cfg-x")
	resp, err := http.Get(server.URL + "/loadtest/runs/" + run.ID + "/report")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", resp.StatusCode)
	}
}
