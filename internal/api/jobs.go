package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"webhook-scheduler/internal/models"
	"webhook-scheduler/internal/schedule"
	"webhook-scheduler/internal/store"
)

type createJobRequest struct {
	Name     string `json:"name"`
	Schedule string `json:"schedule"`
	Type     int    `json:"type"`
	Timezone string `json:"timezone"`
	Enabled  *bool  `json:"enabled"`
}

func (s *Server) handleCreateJob(w http.ResponseWriter, r *http.Request) {
	var req createJobRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}
	if req.Name == "" || req.Schedule == "" {
		writeError(w, http.StatusBadRequest, "name and schedule are required")
		return
	}

	account := accountFromRequest(r)
	count, err := s.store.CountJobsByAccount(r.Context(), account)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if limit := models.JobCreationLimit(s.planFor(account)); count >= limit {
		writeError(w, http.StatusTooManyRequests, "job creation limit reached")
		return
	}

	next, err := nextOccurrence(req.Schedule, req.Timezone, time.Now())
	if err != nil {
		if errors.Is(err, schedule.ErrInvalidSchedule) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	enabled := true
	if req.Enabled != nil {
		enabled = *req.Enabled
	}
	job, err := s.store.CreateJob(r.Context(), store.CreateJobParams{
		AccountID: account,
		Name:      req.Name,
		Schedule:  req.Schedule,
		Type:      req.Type,
		Timezone:  req.Timezone,
		Enabled:   enabled,
		NextRunAt: next,
	})
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, job)
}

func (s *Server) handleListJobs(w http.ResponseWriter, r *http.Request) {
	jobs, err := s.store.ListJobsByAccount(r.Context(), accountFromRequest(r))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"jobs": jobs})
}

func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	job, err := s.store.GetJob(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		notFoundOr500(w, err)
		return
	}
	writeJSON(w, http.StatusOK, job)
}

type updateJobRequest struct {
	Name     *string `json:"name"`
	Schedule *string `json:"schedule"`
	Type     *int    `json:"type"`
	Timezone *string `json:"timezone"`
	Enabled  *bool   `json:"enabled"`
}

func (s *Server) handleUpdateJob(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var req updateJobRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}

	current, err := s.store.GetJob(r.Context(), id)
	if err != nil {
		notFoundOr500(w, err)
		return
	}

	params := store.UpdateJobParams{
		Name:     req.Name,
		Schedule: req.Schedule,
		Type:     req.Type,
		Timezone: req.Timezone,
		Enabled:  req.Enabled,
	}

	// A changed schedule, type, or timezone moves the next occurrence,
	// recomputed from the current time.
	if req.Schedule != nil || req.Type != nil || req.Timezone != nil {
		expr := current.Schedule
		if req.Schedule != nil {
			expr = *req.Schedule
		}
		tz := current.Timezone
		if req.Timezone != nil {
			tz = *req.Timezone
		}
		next, err := nextOccurrence(expr, tz, time.Now())
		if err != nil {
			if errors.Is(err, schedule.ErrInvalidSchedule) {
				writeError(w, http.StatusBadRequest, err.Error())
				return
			}
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		params.NextRunAt = &next
	}

	job, err := s.store.UpdateJob(r.Context(), id, params)
	if err != nil {
		notFoundOr500(w, err)
		return
	}
	writeJSON(w, http.StatusOK, job)
}

func (s *Server) handleDeleteJob(w http.ResponseWriter, r *http.Request) {
	if err := s.store.DeleteJob(r.Context(), chi.URLParam(r, "id")); err != nil {
		notFoundOr500(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type createWebhookRequest struct {
	JobID        *string           `json:"job_id"`
	URL          string            `json:"url"`
	Method       string            `json:"method"`
	Headers      map[string]string `json:"headers"`
	QueryParams  map[string]string `json:"query_params"`
	BodyTemplate string            `json:"body_template"`
	ContentType  string            `json:"content_type"`
}

func (s *Server) handleCreateWebhook(w http.ResponseWriter, r *http.Request) {
	var req createWebhookRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}
	if req.URL == "" {
		writeError(w, http.StatusBadRequest, "url is required")
		return
	}
	if req.JobID != nil {
		if _, err := s.store.GetJob(r.Context(), *req.JobID); err != nil {
			notFoundOr500(w, err)
			return
		}
	}

	webhook, err := s.store.CreateWebhook(r.Context(), store.CreateWebhookParams{
		JobID:        req.JobID,
		URL:          req.URL,
		Method:       req.Method,
		Headers:      req.Headers,
		QueryParams:  req.QueryParams,
		BodyTemplate: req.BodyTemplate,
		ContentType:  req.ContentType,
	})
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, webhook)
}

func (s *Server) handleGetWebhook(w http.ResponseWriter, r *http.Request) {
	webhook, err := s.store.GetWebhook(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		notFoundOr500(w, err)
		return
	}
	writeJSON(w, http.StatusOK, webhook)
}

type updateWebhookRequest struct {
	URL          *string           `json:"url"`
	Method       *string           `json:"method"`
	Headers      map[string]string `json:"headers"`
	QueryParams  map[string]string `json:"query_params"`
	BodyTemplate *string           `json:"body_template"`
	ContentType  *string           `json:"content_type"`
}

func (s *Server) handleUpdateWebhook(w http.ResponseWriter, r *http.Request) {
	var req updateWebhookRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}
	webhook, err := s.store.UpdateWebhook(r.Context(), chi.URLParam(r, "id"), store.UpdateWebhookParams{
		URL:          req.URL,
		Method:       req.Method,
		Headers:      req.Headers,
		QueryParams:  req.QueryParams,
		BodyTemplate: req.BodyTemplate,
		ContentType:  req.ContentType,
	})
	if err != nil {
		notFoundOr500(w, err)
		return
	}
	writeJSON(w, http.StatusOK, webhook)
}

func (s *Server) handleDeleteWebhook(w http.ResponseWriter, r *http.Request) {
	if err := s.store.DeleteWebhook(r.Context(), chi.URLParam(r, "id")); err != nil {
		notFoundOr500(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleListDispatchResults(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= 500 {
			limit = n
		}
	}
	results, err := s.store.ListDispatchResults(r.Context(), chi.URLParam(r, "id"), limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"results": results})
}
