package ingest

import (
	"context"
	"errors"
	"fmt"

	"webhook-scheduler/internal/models"
	"webhook-scheduler/internal/ratelimit"
	"webhook-scheduler/internal/store"
	"webhook-scheduler/internal/telemetry"
)

// ErrEndpointNotFound reports an identifier that does not resolve.
var ErrEndpointNotFound = errors.New("endpoint not found")

// RateLimitedError is a denial outcome. It carries the current count and
// limit so callers can render a too-many-requests response.
type RateLimitedError struct {
	Count int64
	Limit int64
}

func (e *RateLimitedError) Error() string {
	return fmt.Sprintf("rate limit exceeded: %d of %d requests in the current window", e.Count, e.Limit)
}

// EndpointStore is the persistence surface the receiver needs.
type EndpointStore interface {
	GetEndpointByIdentifier(ctx context.Context, identifier string) (models.Endpoint, error)
	InsertEndpointLog(ctx context.Context, l models.EndpointLog) (models.EndpointLog, error)
}

// Limiter is the admission control surface for inbound request counting.
type Limiter interface {
	Check(ctx context.Context, kind, resourceID string, limit int) (ratelimit.Decision, error)
	Increment(ctx context.Context, kind, resourceID string) (int64, error)
}

// PlanResolver maps an account to its plan tier.
type PlanResolver func(accountID string) string

// Request is the shape of one inbound call to a generated endpoint. All
// five primary HTTP methods are treated identically; only the method value
// differs in the persisted log.
type Request struct {
	Identifier  string
	Method      string
	Headers     map[string]string
	QueryParams map[string]string
	Body        string
	IPAddress   string
	UserAgent   string
}

// Receiver resolves generated endpoints, applies admission control, and
// persists request logs.
type Receiver struct {
	store   EndpointStore
	limiter Limiter
	planFor PlanResolver
}

func NewReceiver(st EndpointStore, limiter Limiter, planFor PlanResolver) *Receiver {
	if planFor == nil {
		planFor = func(string) string { return models.PlanFree }
	}
	return &Receiver{store: st, limiter: limiter, planFor: planFor}
}

// Receive handles one inbound request. Identifiers matching the canonical
// id shape are rejected before lookup, reserving that namespace for other
// resource routing. On admission the log is written first and the counter
// incremented after, so a failed write never consumes quota.
func (r *Receiver) Receive(ctx context.Context, req Request) (models.EndpointLog, error) {
	if IsCanonicalID(req.Identifier) {
		return models.EndpointLog{}, ErrEndpointNotFound
	}

	endpoint, err := r.store.GetEndpointByIdentifier(ctx, req.Identifier)
	if errors.Is(err, store.ErrNotFound) {
		return models.EndpointLog{}, ErrEndpointNotFound
	}
	if err != nil {
		return models.EndpointLog{}, fmt.Errorf("resolve endpoint: %w", err)
	}

	plan := r.planFor(endpoint.AccountID)
	dec, err := r.limiter.Check(ctx, ratelimit.KindEndpoint, endpoint.ID, models.ExecutionLimit(plan))
	if err != nil {
		return models.EndpointLog{}, fmt.Errorf("rate limit check: %w", err)
	}
	if !dec.Allowed {
		telemetry.IngestRejected.Inc()
		return models.EndpointLog{}, &RateLimitedError{Count: dec.Count, Limit: dec.Limit}
	}

	logEntry, err := r.store.InsertEndpointLog(ctx, models.EndpointLog{
		EndpointID:  endpoint.ID,
		Method:      req.Method,
		Headers:     req.Headers,
		QueryParams: req.QueryParams,
		Body:        req.Body,
		IPAddress:   req.IPAddress,
		UserAgent:   req.UserAgent,
	})
	if err != nil {
		return models.EndpointLog{}, fmt.Errorf("persist endpoint log: %w", err)
	}

	if _, err := r.limiter.Increment(ctx, ratelimit.KindEndpoint, endpoint.ID); err != nil {
		// The request is already logged; a failed increment only loosens
		// the window by one and is not worth failing the caller over.
		return logEntry, nil
	}
	telemetry.IngestAccepted.Inc()
	return logEntry, nil
}
