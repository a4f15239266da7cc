package api

import (
	"errors"
	"io"
	"net"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"webhook-scheduler/internal/ingest"
	"webhook-scheduler/internal/models"
)

// maxIngestBody caps how much of an inbound request body gets logged.
const maxIngestBody = 64 * 1024

func (s *Server) handleCreateEndpoint(w http.ResponseWriter, r *http.Request) {
	account := accountFromRequest(r)
	count, err := s.store.CountEndpointsByAccount(r.Context(), account)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if limit := models.EndpointCreationLimit(s.planFor(account)); count >= limit {
		writeError(w, http.StatusTooManyRequests, "endpoint creation limit reached")
		return
	}

	identifier, err := ingest.NewIdentifier()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	endpoint, err := s.store.CreateEndpoint(r.Context(), account, identifier)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{
		"endpoint": endpoint,
		"url":      "/r/" + endpoint.Identifier,
	})
}

func (s *Server) handleListEndpoints(w http.ResponseWriter, r *http.Request) {
	endpoints, err := s.store.ListEndpointsByAccount(r.Context(), accountFromRequest(r))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"endpoints": endpoints})
}

func (s *Server) handleGetEndpoint(w http.ResponseWriter, r *http.Request) {
	endpoint, err := s.store.GetEndpoint(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		notFoundOr500(w, err)
		return
	}
	writeJSON(w, http.StatusOK, endpoint)
}

func (s *Server) handleDeleteEndpoint(w http.ResponseWriter, r *http.Request) {
	if err := s.store.DeleteEndpoint(r.Context(), chi.URLParam(r, "id")); err != nil {
		notFoundOr500(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleListEndpointLogs(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	limit, offset := 50, 0
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= 500 {
			limit = n
		}
	}
	if v := r.URL.Query().Get("offset"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			offset = n
		}
	}

	logs, err := s.store.ListEndpointLogs(r.Context(), id, limit, offset)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	total, err := s.store.CountEndpointLogs(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"logs":   logs,
		"total":  total,
		"limit":  limit,
		"offset": offset,
	})
}

var ingestMethods = map[string]bool{
	http.MethodGet:    true,
	http.MethodPost:   true,
	http.MethodPut:    true,
	http.MethodPatch:  true,
	http.MethodDelete: true,
}

// handleIngest accepts any request to a generated endpoint, logging it and
// answering 200 regardless of method or payload shape.
func (s *Server) handleIngest(w http.ResponseWriter, r *http.Request) {
	if !ingestMethods[r.Method] {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxIngestBody))
	if err != nil {
		writeError(w, http.StatusBadRequest, "read body")
		return
	}

	headers := make(map[string]string, len(r.Header))
	for name := range r.Header {
		headers[name] = r.Header.Get(name)
	}
	query := make(map[string]string)
	for name := range r.URL.Query() {
		query[name] = r.URL.Query().Get(name)
	}
	ip := r.RemoteAddr
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		ip = host
	}

	logEntry, err := s.receiver.Receive(r.Context(), ingest.Request{
		Identifier:  chi.URLParam(r, "identifier"),
		Method:      r.Method,
		Headers:     headers,
		QueryParams: query,
		Body:        string(body),
		IPAddress:   ip,
		UserAgent:   r.UserAgent(),
	})
	if err != nil {
		var limited *ingest.RateLimitedError
		switch {
		case errors.Is(err, ingest.ErrEndpointNotFound):
			writeError(w, http.StatusNotFound, "endpoint not found")
		case errors.As(err, &limited):
			writeJSON(w, http.StatusTooManyRequests, map[string]any{
				"error": "daily request limit exceeded",
				"count": limited.Count,
				"limit": limited.Limit,
			})
		default:
			writeError(w, http.StatusInternalServerError, err.Error())
		}
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"status": "received",
		"log_id": logEntry.ID,
	})
}
