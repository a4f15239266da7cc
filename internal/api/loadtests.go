package api

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"webhook-scheduler/internal/models"
	"webhook-scheduler/internal/store"
)

type createConfigurationRequest struct {
	ProjectID         string `json:"project_id"`
	WebhookID         string `json:"webhook_id"`
	Name              string `json:"name"`
	ConcurrentUsers   int    `json:"concurrent_users"`
	DurationSeconds   int    `json:"duration_seconds"`
	RequestsPerSecond *int   `json:"requests_per_second"`
}

func (s *Server) handleCreateConfiguration(w http.ResponseWriter, r *http.Request) {
	var req createConfigurationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}
	if req.WebhookID == "" || req.Name == "" {
		writeError(w, http.StatusBadRequest, "webhook_id and name are required")
		return
	}
	if req.ConcurrentUsers < 1 || req.DurationSeconds < 1 {
		writeError(w, http.StatusBadRequest, "concurrent_users and duration_seconds must be positive")
		return
	}
	if req.RequestsPerSecond != nil && *req.RequestsPerSecond < 1 {
		writeError(w, http.StatusBadRequest, "requests_per_second must be positive when set")
		return
	}
	if _, err := s.store.GetWebhook(r.Context(), req.WebhookID); err != nil {
		notFoundOr500(w, err)
		return
	}

	cfg, err := s.store.CreateLoadTestConfiguration(r.Context(), store.CreateLoadTestConfigurationParams{
		ProjectID:         req.ProjectID,
		WebhookID:         req.WebhookID,
		Name:              req.Name,
		ConcurrentUsers:   req.ConcurrentUsers,
		DurationSeconds:   req.DurationSeconds,
		RequestsPerSecond: req.RequestsPerSecond,
	})
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, cfg)
}

func (s *Server) handleListConfigurations(w http.ResponseWriter, r *http.Request) {
	configs, err := s.store.ListLoadTestConfigurationsByProject(r.Context(), r.URL.Query().Get("project_id"))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"configurations": configs})
}

func (s *Server) handleGetConfiguration(w http.ResponseWriter, r *http.Request) {
	cfg, err := s.store.GetLoadTestConfiguration(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		notFoundOr500(w, err)
		return
	}
	writeJSON(w, http.StatusOK, cfg)
}

func (s *Server) handleDeleteConfiguration(w http.ResponseWriter, r *http.Request) {
	if err := s.store.DeleteLoadTestConfiguration(r.Context(), chi.URLParam(r, "id")); err != nil {
		notFoundOr500(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleStartRun records a pending run and hands it to the worker queue.
func (s *Server) handleStartRun(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if _, err := s.store.GetLoadTestConfiguration(r.Context(), id); err != nil {
		notFoundOr500(w, err)
		return
	}

	run, err := s.store.CreateLoadTestRun(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if err := s.queue.Enqueue(r.Context(), run.ID); err != nil {
		if _, terr := s.store.TransitionRun(r.Context(), run.ID, models.RunStatusPending, models.RunStatusFailed); terr != nil {
			writeError(w, http.StatusInternalServerError, terr.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, "enqueue run")
		return
	}
	writeJSON(w, http.StatusAccepted, run)
}

func (s *Server) handleGetRun(w http.ResponseWriter, r *http.Request) {
	run, err := s.store.GetLoadTestRun(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		notFoundOr500(w, err)
		return
	}
	writeJSON(w, http.StatusOK, run)
}

// handleCancelRun flips a pending or running run to cancelled. The worker
// polls the run record and stops issuing requests once it observes the
// change; results gathered so far still produce a partial report.
func (s *Server) handleCancelRun(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if _, err := s.store.GetLoadTestRun(r.Context(), id); err != nil {
		notFoundOr500(w, err)
		return
	}

	ok, err := s.store.TransitionRun(r.Context(), id, models.RunStatusPending, models.RunStatusCancelled)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if ok {
		// Never picked up; drop it from the queue as well.
		if err := s.queue.Remove(r.Context(), id); err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": models.RunStatusCancelled})
		return
	}

	ok, err = s.store.TransitionRun(r.Context(), id, models.RunStatusRunning, models.RunStatusCancelled)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if !ok {
		writeError(w, http.StatusConflict, "run is not pending or running")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": models.RunStatusCancelled})
}

func (s *Server) handleGetReport(w http.ResponseWriter, r *http.Request) {
	report, err := s.store.GetLoadTestReportByRun(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		notFoundOr500(w, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}
