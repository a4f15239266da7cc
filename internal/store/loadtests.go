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

// CreateLoadTestConfigurationParams collects inputs for a new configuration.
type CreateLoadTestConfigurationParams struct {
	ProjectID         string
	WebhookID         string
	Name              string
	ConcurrentUsers   int
	DurationSeconds   int
	RequestsPerSecond *int
}

func (s *Store) CreateLoadTestConfiguration(ctx context.Context, p CreateLoadTestConfigurationParams) (models.LoadTestConfiguration, error) {
	id := uuid.New().String()
	now := time.Now().UTC()
	_, err := s.pool.Exec(ctx, `
		INSERT INTO load_test_configurations (id, project_id, webhook_id, name, concurrent_users, duration_seconds, requests_per_second, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $8)
	`, id, p.ProjectID, p.WebhookID, p.Name, p.ConcurrentUsers, p.DurationSeconds, p.RequestsPerSecond, now)
	if err != nil {
		return models.LoadTestConfiguration{}, fmt.Errorf("insert load test configuration: %w", err)
	}
	return models.LoadTestConfiguration{
		ID:                id,
		ProjectID:         p.ProjectID,
		WebhookID:         p.WebhookID,
		Name:              p.Name,
		ConcurrentUsers:   p.ConcurrentUsers,
		DurationSeconds:   p.DurationSeconds,
		RequestsPerSecond: p.RequestsPerSecond,
		CreatedAt:         now,
		UpdatedAt:         now,
	}, nil
}

func (s *Store) GetLoadTestConfiguration(ctx context.Context, id string) (models.LoadTestConfiguration, error) {
	var cfg models.LoadTestConfiguration
	var rps pgtype.Int4
	err := s.pool.QueryRow(ctx, `
		SELECT id, project_id, webhook_id, name, concurrent_users, duration_seconds, requests_per_second, created_at, updated_at
		FROM load_test_configurations WHERE id = $1
	`, id).Scan(&cfg.ID, &cfg.ProjectID, &cfg.WebhookID, &cfg.Name, &cfg.ConcurrentUsers, &cfg.DurationSeconds, &rps, &cfg.CreatedAt, &cfg.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.LoadTestConfiguration{}, fmt.Errorf("load test configuration %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return models.LoadTestConfiguration{}, fmt.Errorf("scan load test configuration: %w", err)
	}
	cfg.RequestsPerSecond = int4Ptr(rps)
	return cfg, nil
}

func (s *Store) ListLoadTestConfigurationsByProject(ctx context.Context, projectID string) ([]models.LoadTestConfiguration, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, project_id, webhook_id, name, concurrent_users, duration_seconds, requests_per_second, created_at, updated_at
		FROM load_test_configurations WHERE project_id = $1 ORDER BY created_at DESC
	`, projectID)
	if err != nil {
		return nil, fmt.Errorf("query load test configurations: %w", err)
	}
	defer rows.Close()

	var configs []models.LoadTestConfiguration
	for rows.Next() {
		var cfg models.LoadTestConfiguration
		var rps pgtype.Int4
		if err := rows.Scan(&cfg.ID, &cfg.ProjectID, &cfg.WebhookID, &cfg.Name, &cfg.ConcurrentUsers, &cfg.DurationSeconds, &rps, &cfg.CreatedAt, &cfg.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan load test configuration: %w", err)
		}
		cfg.RequestsPerSecond = int4Ptr(rps)
		configs = append(configs, cfg)
	}
	return configs, rows.Err()
}

func (s *Store) DeleteLoadTestConfiguration(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM load_test_configurations WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete load test configuration: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("load test configuration %s: %w", id, ErrNotFound)
	}
	return nil
}

// CreateLoadTestRun inserts a pending run for a configuration.
func (s *Store) CreateLoadTestRun(ctx context.Context, configurationID string) (models.LoadTestRun, error) {
	id := uuid.New().String()
	now := time.Now().UTC()
	_, err := s.pool.Exec(ctx, `
		INSERT INTO load_test_runs (id, configuration_id, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $4)
	`, id, configurationID, models.RunStatusPending, now)
	if err != nil {
		return models.LoadTestRun{}, fmt.Errorf("insert load test run: %w", err)
	}
	return models.LoadTestRun{ID: id, ConfigurationID: configurationID, Status: models.RunStatusPending, CreatedAt: now, UpdatedAt: now}, nil
}

func (s *Store) GetLoadTestRun(ctx context.Context, id string) (models.LoadTestRun, error) {
	var run models.LoadTestRun
	var started, completed pgtype.Timestamptz
	err := s.pool.QueryRow(ctx, `
		SELECT id, configuration_id, status, started_at, completed_at, created_at, updated_at
		FROM load_test_runs WHERE id = $1
	`, id).Scan(&run.ID, &run.ConfigurationID, &run.Status, &started, &completed, &run.CreatedAt, &run.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.LoadTestRun{}, fmt.Errorf("load test run %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return models.LoadTestRun{}, fmt.Errorf("scan load test run: %w", err)
	}
	if started.Valid {
		t := started.Time
		run.StartedAt = &t
	}
	if completed.Valid {
		t := completed.Time
		run.CompletedAt = &t
	}
	return run, nil
}

// TransitionRun moves a run from one status to another, guarding the state
// machine: the update applies only if the run still holds the expected
// status. Terminal states are final.
func (s *Store) TransitionRun(ctx context.Context, id, from, to string) (bool, error) {
	var tagSQL string
	switch to {
	case models.RunStatusRunning:
		tagSQL = `UPDATE load_test_runs SET status = $3, started_at = NOW(), updated_at = NOW() WHERE id = $1 AND status = $2`
	case models.RunStatusCompleted, models.RunStatusFailed, models.RunStatusCancelled:
		tagSQL = `UPDATE load_test_runs SET status = $3, completed_at = NOW(), updated_at = NOW() WHERE id = $1 AND status = $2`
	default:
		return false, fmt.Errorf("invalid run status %q", to)
	}
	tag, err := s.pool.Exec(ctx, tagSQL, id, from, to)
	if err != nil {
		return false, fmt.Errorf("transition run: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// InsertLoadTestReport persists one aggregated report for a run.
func (s *Store) InsertLoadTestReport(ctx context.Context, r models.LoadTestReport) (models.LoadTestReport, error) {
	if r.ID == "" {
		r.ID = uuid.New().String()
	}
	r.CreatedAt = time.Now().UTC()
	_, err := s.pool.Exec(ctx, `
		INSERT INTO load_test_reports (
			id, run_id, total_requests, successful_requests, failed_requests,
			avg_response_time_ms, min_response_time_ms, max_response_time_ms,
			p95_response_time_ms, p99_response_time_ms, notes, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`, r.ID, r.RunID, r.TotalRequests, r.SuccessfulRequests, r.FailedRequests,
		r.AvgResponseTimeMs, r.MinResponseTimeMs, r.MaxResponseTimeMs,
		r.P95ResponseTimeMs, r.P99ResponseTimeMs, r.Notes, r.CreatedAt)
	if err != nil {
		return models.LoadTestReport{}, fmt.Errorf("insert load test report: %w", err)
	}
	return r, nil
}

func (s *Store) GetLoadTestReportByRun(ctx context.Context, runID string) (models.LoadTestReport, error) {
	var r models.LoadTestReport
	var avg, min, max, p95, p99 pgtype.Int8
	var notes pgtype.Text
	err := s.pool.QueryRow(ctx, `
		SELECT id, run_id, total_requests, successful_requests, failed_requests,
		       avg_response_time_ms, min_response_time_ms, max_response_time_ms,
		       p95_response_time_ms, p99_response_time_ms, notes, created_at
		FROM load_test_reports WHERE run_id = $1
		ORDER BY created_at DESC LIMIT 1
	`, runID).Scan(&r.ID, &r.RunID, &r.TotalRequests, &r.SuccessfulRequests, &r.FailedRequests,
		&avg, &min, &max, &p95, &p99, &notes, &r.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.LoadTestReport{}, fmt.Errorf("report for run %s: %w", runID, ErrNotFound)
	}
	if err != nil {
		return models.LoadTestReport{}, fmt.Errorf("scan load test report: %w", err)
	}
	r.AvgResponseTimeMs = int8Ptr(avg)
	r.MinResponseTimeMs = int8Ptr(min)
	r.MaxResponseTimeMs = int8Ptr(max)
	r.P95ResponseTimeMs = int8Ptr(p95)
	r.P99ResponseTimeMs = int8Ptr(p99)
	r.Notes = textValue(notes)
	return r, nil
}

// InsertCollectionResults appends per-request rows for a report in one batch.
func (s *Store) InsertCollectionResults(ctx context.Context, reportID string, results []models.CollectionResult) error {
	if len(results) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	now := time.Now().UTC()
	for _, r := range results {
		id := r.ID
		if id == "" {
			id = uuid.New().String()
		}
		batch.Queue(`
			INSERT INTO collection_results (
				id, report_id, endpoint_path, method, request_body,
				response_status, response_body, response_time_ms, success, error_message, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		`, id, reportID, r.EndpointPath, r.Method, r.RequestBody,
			r.ResponseStatus, r.ResponseBody, r.ResponseTimeMs, r.Success, r.ErrorMessage, now)
	}
	br := s.pool.SendBatch(ctx, batch)
	defer br.Close()
	for range results {
		if _, err := br.Exec(); err != nil {
			return fmt.Errorf("insert collection result: %w", err)
		}
	}
	return nil
}

func (s *Store) CountCollectionResults(ctx context.Context, reportID string) (int64, error) {
	var n int64
	if err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM collection_results WHERE report_id = $1`, reportID).Scan(&n); err != nil {
		return 0, fmt.Errorf("count collection results: %w", err)
	}
	return n, nil
}
