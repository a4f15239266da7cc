package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"

	"webhook-scheduler/internal/models"
)

// CreateJobParams collects inputs required to insert a job. NextRunAt must
// already be computed from the schedule and timezone.
type CreateJobParams struct {
	AccountID string
	Name      string
	Schedule  string
	Type      int
	Timezone  string
	Enabled   bool
	NextRunAt time.Time
}

func (s *Store) CreateJob(ctx context.Context, p CreateJobParams) (models.Job, error) {
	if p.Timezone == "" {
		p.Timezone = "UTC"
	}
	id := uuid.New().String()
	now := time.Now().UTC()

	_, err := s.pool.Exec(ctx, `
		INSERT INTO jobs (id, account_id, name, schedule, type, timezone, enabled, next_run_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $9)
	`, id, p.AccountID, p.Name, p.Schedule, p.Type, p.Timezone, p.Enabled, p.NextRunAt, now)
	if err != nil {
		return models.Job{}, fmt.Errorf("insert job: %w", err)
	}

	return models.Job{
		ID:        id,
		AccountID: p.AccountID,
		Name:      p.Name,
		Schedule:  p.Schedule,
		Type:      p.Type,
		Timezone:  p.Timezone,
		Enabled:   p.Enabled,
		NextRunAt: p.NextRunAt,
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}

const jobColumns = `id, account_id, name, schedule, type, timezone, enabled, last_run_at, next_run_at, created_at, updated_at`

func scanJob(row pgx.Row) (models.Job, error) {
	var job models.Job
	var lastRun pgtype.Timestamptz
	if err := row.Scan(&job.ID, &job.AccountID, &job.Name, &job.Schedule, &job.Type, &job.Timezone, &job.Enabled, &lastRun, &job.NextRunAt, &job.CreatedAt, &job.UpdatedAt); err != nil {
		return models.Job{}, err
	}
	if lastRun.Valid {
		t := lastRun.Time
		job.LastRunAt = &t
	}
	return job, nil
}

func (s *Store) GetJob(ctx context.Context, id string) (models.Job, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = $1`, id)
	job, err := scanJob(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.Job{}, fmt.Errorf("job %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return models.Job{}, fmt.Errorf("scan job: %w", err)
	}
	return job, nil
}

func (s *Store) ListJobsByAccount(ctx context.Context, accountID string) ([]models.Job, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+jobColumns+` FROM jobs WHERE account_id = $1 ORDER BY created_at DESC
	`, accountID)
	if err != nil {
		return nil, fmt.Errorf("query jobs: %w", err)
	}
	defer rows.Close()

	var jobs []models.Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("scan job: %w", err)
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}

func (s *Store) CountJobsByAccount(ctx context.Context, accountID string) (int, error) {
	var n int
	if err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM jobs WHERE account_id = $1`, accountID).Scan(&n); err != nil {
		return 0, fmt.Errorf("count jobs: %w", err)
	}
	return n, nil
}

// UpdateJobParams carries optional field updates; nil means unchanged.
// NextRunAt must be recomputed by the caller whenever Schedule, Timezone,
// or Type changes.
type UpdateJobParams struct {
	Name      *string
	Schedule  *string
	Type      *int
	Timezone  *string
	Enabled   *bool
	NextRunAt *time.Time
}

func (s *Store) UpdateJob(ctx context.Context, id string, p UpdateJobParams) (models.Job, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE jobs SET
			name        = COALESCE($2, name),
			schedule    = COALESCE($3, schedule),
			type        = COALESCE($4, type),
			timezone    = COALESCE($5, timezone),
			enabled     = COALESCE($6, enabled),
			next_run_at = COALESCE($7, next_run_at),
			updated_at  = NOW()
		WHERE id = $1
	`, id, p.Name, p.Schedule, p.Type, p.Timezone, p.Enabled, p.NextRunAt)
	if err != nil {
		return models.Job{}, fmt.Errorf("update job: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return models.Job{}, fmt.Errorf("job %s: %w", id, ErrNotFound)
	}
	return s.GetJob(ctx, id)
}

// DeleteJob removes a job; webhooks and execution history cascade.
func (s *Store) DeleteJob(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM jobs WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete job: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("job %s: %w", id, ErrNotFound)
	}
	return nil
}

// DueJobs returns enabled jobs whose next_run_at has passed.
func (s *Store) DueJobs(ctx context.Context, now time.Time, limit int) ([]models.Job, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+jobColumns+` FROM jobs
		WHERE enabled AND next_run_at <= $1
		ORDER BY next_run_at
		LIMIT $2
	`, now, limit)
	if err != nil {
		return nil, fmt.Errorf("query due jobs: %w", err)
	}
	defer rows.Close()

	var jobs []models.Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("scan due job: %w", err)
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}

// ClaimJob advances next_run_at only if it still holds the value the caller
// read. Exactly one of several concurrent claimants wins a given due
// occurrence; the compare-and-swap doubles as the lease.
func (s *Store) ClaimJob(ctx context.Context, id string, prevNextRun, newNextRun time.Time) (bool, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE jobs SET next_run_at = $3, updated_at = NOW()
		WHERE id = $1 AND next_run_at = $2 AND enabled
	`, id, prevNextRun, newNextRun)
	if err != nil {
		return false, fmt.Errorf("claim job: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// FinishJobRun records the completed occurrence and the next one computed
// from completion time.
func (s *Store) FinishJobRun(ctx context.Context, id string, lastRun, nextRun time.Time) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE jobs SET last_run_at = $2, next_run_at = $3, updated_at = NOW()
		WHERE id = $1
	`, id, lastRun, nextRun)
	if err != nil {
		return fmt.Errorf("finish job run: %w", err)
	}
	return nil
}

// CreateJobExecution opens an execution record for one due occurrence.
func (s *Store) CreateJobExecution(ctx context.Context, jobID string, startedAt time.Time) (models.JobExecution, error) {
	id := uuid.New().String()
	_, err := s.pool.Exec(ctx, `
		INSERT INTO job_executions (id, job_id, status, started_at)
		VALUES ($1, $2, $3, $4)
	`, id, jobID, models.ExecutionStatusPending, startedAt)
	if err != nil {
		return models.JobExecution{}, fmt.Errorf("insert job execution: %w", err)
	}
	return models.JobExecution{ID: id, JobID: jobID, Status: models.ExecutionStatusPending, StartedAt: startedAt}, nil
}

func (s *Store) FinishJobExecution(ctx context.Context, id, status string, finishedAt time.Time) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE job_executions SET status = $2, finished_at = $3 WHERE id = $1
	`, id, status, finishedAt)
	if err != nil {
		return fmt.Errorf("finish job execution: %w", err)
	}
	return nil
}

// InsertDispatchResult appends one dispatch outcome. Rows are never mutated.
func (s *Store) InsertDispatchResult(ctx context.Context, r models.DispatchResult) (models.DispatchResult, error) {
	if r.ID == "" {
		r.ID = uuid.New().String()
	}
	reqHeaders, err := marshalMap(r.RequestHeaders)
	if err != nil {
		return models.DispatchResult{}, err
	}
	respHeaders, err := marshalMap(r.ResponseHeaders)
	if err != nil {
		return models.DispatchResult{}, err
	}
	r.CreatedAt = time.Now().UTC()
	_, err = s.pool.Exec(ctx, `
		INSERT INTO dispatch_results (
			id, webhook_id, job_execution_id, triggered_at,
			request_url, request_method, request_headers, request_body,
			response_status, response_headers, response_body,
			error_message, duration_ms, is_success, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
	`, r.ID, r.WebhookID, r.JobExecutionID, r.TriggeredAt,
		r.RequestURL, r.RequestMethod, reqHeaders, r.RequestBody,
		r.ResponseStatus, respHeaders, r.ResponseBody,
		r.ErrorMessage, r.DurationMs, r.Success, r.CreatedAt)
	if err != nil {
		return models.DispatchResult{}, fmt.Errorf("insert dispatch result: %w", err)
	}
	return r, nil
}

func (s *Store) ListDispatchResults(ctx context.Context, webhookID string, limit int) ([]models.DispatchResult, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, webhook_id, job_execution_id, triggered_at,
		       request_url, request_method, request_headers, request_body,
		       response_status, response_headers, response_body,
		       error_message, duration_ms, is_success, created_at
		FROM dispatch_results
		WHERE webhook_id = $1
		ORDER BY created_at DESC
		LIMIT $2
	`, webhookID, limit)
	if err != nil {
		return nil, fmt.Errorf("query dispatch results: %w", err)
	}
	defer rows.Close()

	var results []models.DispatchResult
	for rows.Next() {
		var r models.DispatchResult
		var reqHeaders, respHeaders []byte
		var reqBody, respBody, errMsg pgtype.Text
		var status pgtype.Int4
		if err := rows.Scan(&r.ID, &r.WebhookID, &r.JobExecutionID, &r.TriggeredAt,
			&r.RequestURL, &r.RequestMethod, &reqHeaders, &reqBody,
			&status, &respHeaders, &respBody,
			&errMsg, &r.DurationMs, &r.Success, &r.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan dispatch result: %w", err)
		}
		if r.RequestHeaders, err = unmarshalMap(reqHeaders); err != nil {
			return nil, err
		}
		if r.ResponseHeaders, err = unmarshalMap(respHeaders); err != nil {
			return nil, err
		}
		r.RequestBody = textValue(reqBody)
		r.ResponseBody = textValue(respBody)
		r.ErrorMessage = textValue(errMsg)
		r.ResponseStatus = int4Ptr(status)
		results = append(results, r)
	}
	return results, rows.Err()
}
