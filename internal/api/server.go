package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"webhook-scheduler/internal/config"
	"webhook-scheduler/internal/ingest"
	"webhook-scheduler/internal/models"
	"webhook-scheduler/internal/schedule"
	"webhook-scheduler/internal/store"
	"webhook-scheduler/internal/telemetry"
)

// Store is the persistence surface the HTTP handlers need. *store.Store
// satisfies it.
type Store interface {
	CreateJob(ctx context.Context, p store.CreateJobParams) (models.Job, error)
	GetJob(ctx context.Context, id string) (models.Job, error)
	ListJobsByAccount(ctx context.Context, accountID string) ([]models.Job, error)
	CountJobsByAccount(ctx context.Context, accountID string) (int, error)
	UpdateJob(ctx context.Context, id string, p store.UpdateJobParams) (models.Job, error)
	DeleteJob(ctx context.Context, id string) error

	CreateWebhook(ctx context.Context, p store.CreateWebhookParams) (models.Webhook, error)
	GetWebhook(ctx context.Context, id string) (models.Webhook, error)
	UpdateWebhook(ctx context.Context, id string, p store.UpdateWebhookParams) (models.Webhook, error)
	DeleteWebhook(ctx context.Context, id string) error
	ListDispatchResults(ctx context.Context, webhookID string, limit int) ([]models.DispatchResult, error)

	CreateEndpoint(ctx context.Context, accountID, identifier string) (models.Endpoint, error)
	GetEndpoint(ctx context.Context, id string) (models.Endpoint, error)
	ListEndpointsByAccount(ctx context.Context, accountID string) ([]models.Endpoint, error)
	CountEndpointsByAccount(ctx context.Context, accountID string) (int, error)
	DeleteEndpoint(ctx context.Context, id string) error
	ListEndpointLogs(ctx context.Context, endpointID string, limit, offset int) ([]models.EndpointLog, error)
	CountEndpointLogs(ctx context.Context, endpointID string) (int64, error)

	CreateLoadTestConfiguration(ctx context.Context, p store.CreateLoadTestConfigurationParams) (models.LoadTestConfiguration, error)
	GetLoadTestConfiguration(ctx context.Context, id string) (models.LoadTestConfiguration, error)
	ListLoadTestConfigurationsByProject(ctx context.Context, projectID string) ([]models.LoadTestConfiguration, error)
	DeleteLoadTestConfiguration(ctx context.Context, id string) error
	CreateLoadTestRun(ctx context.Context, configurationID string) (models.LoadTestRun, error)
	GetLoadTestRun(ctx context.Context, id string) (models.LoadTestRun, error)
	TransitionRun(ctx context.Context, id, from, to string) (bool, error)
	GetLoadTestReportByRun(ctx context.Context, runID string) (models.LoadTestReport, error)
}

// RunQueue hands pending load test runs to the worker. *queue.RunQueue
// satisfies it.
type RunQueue interface {
	Enqueue(ctx context.Context, runID string) error
	Remove(ctx context.Context, runID string) error
}

// Server wires HTTP handlers for the management API and the generated
// endpoint receiver.
type Server struct {
	cfg      config.Config
	store    Store
	queue    RunQueue
	receiver *ingest.Receiver
	planFor  ingest.PlanResolver
}

// New constructs the API server. planFor may be nil; every account then
// resolves to the free plan.
func New(cfg config.Config, st Store, q RunQueue, receiver *ingest.Receiver, planFor ingest.PlanResolver) *Server {
	if planFor == nil {
		planFor = func(string) string { return models.PlanFree }
	}
	return &Server{
		cfg:      cfg,
		store:    st,
		queue:    q,
		receiver: receiver,
		planFor:  planFor,
	}
}

// Router builds the HTTP router.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	r.Mount("/metrics", telemetry.Handler())

	r.Post("/jobs", s.handleCreateJob)
	r.Get("/jobs", s.handleListJobs)
	r.Get("/jobs/{id}", s.handleGetJob)
	r.Patch("/jobs/{id}", s.handleUpdateJob)
	r.Delete("/jobs/{id}", s.handleDeleteJob)

	r.Post("/webhooks", s.handleCreateWebhook)
	r.Get("/webhooks/{id}", s.handleGetWebhook)
	r.Patch("/webhooks/{id}", s.handleUpdateWebhook)
	r.Delete("/webhooks/{id}", s.handleDeleteWebhook)
	r.Get("/webhooks/{id}/results", s.handleListDispatchResults)

	r.Post("/endpoints", s.handleCreateEndpoint)
	r.Get("/endpoints", s.handleListEndpoints)
	r.Get("/endpoints/{id}", s.handleGetEndpoint)
	r.Delete("/endpoints/{id}", s.handleDeleteEndpoint)
	r.Get("/endpoints/{id}/logs", s.handleListEndpointLogs)

	r.Post("/loadtest/configurations", s.handleCreateConfiguration)
	r.Get("/loadtest/configurations", s.handleListConfigurations)
	r.Get("/loadtest/configurations/{id}", s.handleGetConfiguration)
	r.Delete("/loadtest/configurations/{id}", s.handleDeleteConfiguration)
	r.Post("/loadtest/configurations/{id}/runs", s.handleStartRun)
	r.Get("/loadtest/runs/{id}", s.handleGetRun)
	r.Post("/loadtest/runs/{id}/cancel", s.handleCancelRun)
	r.Get("/loadtest/runs/{id}/report", s.handleGetReport)

	// Generated endpoints answer on every method; the handler rejects
	// anything outside the supported set.
	r.HandleFunc("/r/{identifier}", s.handleIngest)

	return r
}

func accountFromRequest(r *http.Request) string {
	if v := r.Header.Get("X-Account-ID"); v != "" {
		return v
	}
	return "default"
}

func writeJSON(w http.ResponseWriter, code int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}

// notFoundOr500 maps missing rows to 404 and everything else to 500.
func notFoundOr500(w http.ResponseWriter, err error) {
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "not found")
		return
	}
	writeError(w, http.StatusInternalServerError, err.Error())
}

// nextOccurrence validates the schedule and computes the first run strictly
// after now.
func nextOccurrence(expr, timezone string, now time.Time) (time.Time, error) {
	return schedule.Next(expr, now, timezone)
}
