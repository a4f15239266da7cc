package models

import (
	"time"
)

// RunStatus enumerates load test run lifecycle states persisted in Postgres.
const (
	RunStatusPending   = "pending"
	RunStatusRunning   = "running"
	RunStatusCompleted = "completed"
	RunStatusFailed    = "failed"
	RunStatusCancelled = "cancelled"
)

// ExecutionStatus enumerates job execution states.
const (
	ExecutionStatusPending = "pending"
	ExecutionStatusSuccess = "success"
	ExecutionStatusFailure = "failure"
)

// Job is a recurring schedule that fires a webhook.
// next_run_at is always the earliest instant consistent with the cron
// expression and timezone; it is advanced on claim and recomputed after
// every dispatch.
type Job struct {
	ID        string     `json:"id"`
	AccountID string     `json:"account_id"`
	Name      string     `json:"name"`
	Schedule  string     `json:"schedule"`
	Type      int        `json:"type"`
	Timezone  string     `json:"timezone"`
	Enabled   bool       `json:"enabled"`
	LastRunAt *time.Time `json:"last_run_at,omitempty"`
	NextRunAt time.Time  `json:"next_run_at"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
}

// Webhook describes an outbound HTTP call. JobID is nil for standalone
// webhooks that exist only as load test targets.
type Webhook struct {
	ID           string            `json:"id"`
	JobID        *string           `json:"job_id,omitempty"`
	URL          string            `json:"url"`
	Method       string            `json:"method"`
	Headers      map[string]string `json:"headers,omitempty"`
	QueryParams  map[string]string `json:"query_params,omitempty"`
	BodyTemplate string            `json:"body_template,omitempty"`
	ContentType  string            `json:"content_type"`
	CreatedAt    time.Time         `json:"created_at"`
	UpdatedAt    time.Time         `json:"updated_at"`
}

// JobExecution groups the dispatch results produced by one due occurrence.
type JobExecution struct {
	ID         string     `json:"id"`
	JobID      string     `json:"job_id"`
	Status     string     `json:"status"`
	StartedAt  time.Time  `json:"started_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
}

// DispatchResult is the append-only record of a single webhook call.
type DispatchResult struct {
	ID              string            `json:"id"`
	WebhookID       string            `json:"webhook_id"`
	JobExecutionID  string            `json:"job_execution_id"`
	TriggeredAt     time.Time         `json:"triggered_at"`
	RequestURL      string            `json:"request_url"`
	RequestMethod   string            `json:"request_method"`
	RequestHeaders  map[string]string `json:"request_headers,omitempty"`
	RequestBody     string            `json:"request_body,omitempty"`
	ResponseStatus  *int              `json:"response_status,omitempty"`
	ResponseHeaders map[string]string `json:"response_headers,omitempty"`
	ResponseBody    string            `json:"response_body,omitempty"`
	ErrorMessage    string            `json:"error_message,omitempty"`
	DurationMs      int64             `json:"duration_ms"`
	Success         bool              `json:"success"`
	CreatedAt       time.Time         `json:"created_at"`
}

// Endpoint is a generated inbound URL. Identifier is the secret public path
// component: 32 random bytes, URL-safe base64, never UUID-shaped.
type Endpoint struct {
	ID         string    `json:"id"`
	AccountID  string    `json:"account_id"`
	Identifier string    `json:"identifier"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// EndpointLog is the append-only record of one inbound request.
type EndpointLog struct {
	ID              string            `json:"id"`
	EndpointID      string            `json:"endpoint_id"`
	Method          string            `json:"method"`
	Headers         map[string]string `json:"headers,omitempty"`
	QueryParams     map[string]string `json:"query_params,omitempty"`
	Body            string            `json:"body,omitempty"`
	ResponseStatus  *int              `json:"response_status,omitempty"`
	ResponseHeaders map[string]string `json:"response_headers,omitempty"`
	ResponseBody    string            `json:"response_body,omitempty"`
	IPAddress       string            `json:"ip_address,omitempty"`
	UserAgent       string            `json:"user_agent,omitempty"`
	CreatedAt       time.Time         `json:"created_at"`
}

// LoadTestConfiguration holds the immutable parameters of a load test.
type LoadTestConfiguration struct {
	ID                string    `json:"id"`
	ProjectID         string    `json:"project_id"`
	WebhookID         string    `json:"webhook_id"`
	Name              string    `json:"name"`
	ConcurrentUsers   int       `json:"concurrent_users"`
	DurationSeconds   int       `json:"duration_seconds"`
	RequestsPerSecond *int      `json:"requests_per_second,omitempty"`
	CreatedAt         time.Time `json:"created_at"`
	UpdatedAt         time.Time `json:"updated_at"`
}

// LoadTestRun is one execution of a configuration.
type LoadTestRun struct {
	ID              string     `json:"id"`
	ConfigurationID string     `json:"configuration_id"`
	Status          string     `json:"status"`
	StartedAt       *time.Time `json:"started_at,omitempty"`
	CompletedAt     *time.Time `json:"completed_at,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
}

// LoadTestReport aggregates one run's results. One report per completed run.
type LoadTestReport struct {
	ID                 string    `json:"id"`
	RunID              string    `json:"run_id"`
	TotalRequests      int64     `json:"total_requests"`
	SuccessfulRequests int64     `json:"successful_requests"`
	FailedRequests     int64     `json:"failed_requests"`
	AvgResponseTimeMs  *int64    `json:"avg_response_time_ms,omitempty"`
	MinResponseTimeMs  *int64    `json:"min_response_time_ms,omitempty"`
	MaxResponseTimeMs  *int64    `json:"max_response_time_ms,omitempty"`
	P95ResponseTimeMs  *int64    `json:"p95_response_time_ms,omitempty"`
	P99ResponseTimeMs  *int64    `json:"p99_response_time_ms,omitempty"`
	Notes              string    `json:"notes,omitempty"`
	CreatedAt          time.Time `json:"created_at"`
}

// CollectionResult is the append-only record of one synthetic request.
type CollectionResult struct {
	ID             string `json:"id"`
	ReportID       string `json:"report_id"`
	EndpointPath   string `json:"endpoint_path"`
	Method         string `json:"method"`
	RequestBody    string `json:"request_body,omitempty"`
	ResponseStatus *int   `json:"response_status,omitempty"`
	ResponseBody   string `json:"response_body,omitempty"`
	ResponseTimeMs int64  `json:"response_time_ms"`
	Success        bool   `json:"success"`
	ErrorMessage   string `json:"error_message,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
}
