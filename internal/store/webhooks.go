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

// CreateWebhookParams collects inputs required to insert a webhook.
// JobID is nil for standalone load test targets.
type CreateWebhookParams struct {
	JobID        *string
	URL          string
	Method       string
	Headers      map[string]string
	QueryParams  map[string]string
	BodyTemplate string
	ContentType  string
}

func (s *Store) CreateWebhook(ctx context.Context, p CreateWebhookParams) (models.Webhook, error) {
	if p.Method == "" {
		p.Method = "POST"
	}
	if p.ContentType == "" {
		p.ContentType = "application/json"
	}
	headers, err := marshalMap(p.Headers)
	if err != nil {
		return models.Webhook{}, err
	}
	query, err := marshalMap(p.QueryParams)
	if err != nil {
		return models.Webhook{}, err
	}

	id := uuid.New().String()
	now := time.Now().UTC()
	_, err = s.pool.Exec(ctx, `
		INSERT INTO webhooks (id, job_id, url, method, headers, query_params, body_template, content_type, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $9)
	`, id, p.JobID, p.URL, p.Method, headers, query, p.BodyTemplate, p.ContentType, now)
	if err != nil {
		return models.Webhook{}, fmt.Errorf("insert webhook: %w", err)
	}

	return models.Webhook{
		ID:           id,
		JobID:        p.JobID,
		URL:          p.URL,
		Method:       p.Method,
		Headers:      p.Headers,
		QueryParams:  p.QueryParams,
		BodyTemplate: p.BodyTemplate,
		ContentType:  p.ContentType,
		CreatedAt:    now,
		UpdatedAt:    now,
	}, nil
}

const webhookColumns = `id, job_id, url, method, headers, query_params, body_template, content_type, created_at, updated_at`

func scanWebhook(row pgx.Row) (models.Webhook, error) {
	var w models.Webhook
	var jobID pgtype.Text
	var headers, query []byte
	var bodyTemplate pgtype.Text
	if err := row.Scan(&w.ID, &jobID, &w.URL, &w.Method, &headers, &query, &bodyTemplate, &w.ContentType, &w.CreatedAt, &w.UpdatedAt); err != nil {
		return models.Webhook{}, err
	}
	var err error
	if w.Headers, err = unmarshalMap(headers); err != nil {
		return models.Webhook{}, err
	}
	if w.QueryParams, err = unmarshalMap(query); err != nil {
		return models.Webhook{}, err
	}
	w.JobID = textPtr(jobID)
	w.BodyTemplate = textValue(bodyTemplate)
	return w, nil
}

func (s *Store) GetWebhook(ctx context.Context, id string) (models.Webhook, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+webhookColumns+` FROM webhooks WHERE id = $1`, id)
	w, err := scanWebhook(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.Webhook{}, fmt.Errorf("webhook %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return models.Webhook{}, fmt.Errorf("scan webhook: %w", err)
	}
	return w, nil
}

// GetWebhookByJob returns the webhook attached to a job.
func (s *Store) GetWebhookByJob(ctx context.Context, jobID string) (models.Webhook, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+webhookColumns+` FROM webhooks WHERE job_id = $1`, jobID)
	w, err := scanWebhook(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.Webhook{}, fmt.Errorf("webhook for job %s: %w", jobID, ErrNotFound)
	}
	if err != nil {
		return models.Webhook{}, fmt.Errorf("scan webhook: %w", err)
	}
	return w, nil
}

// UpdateWebhookParams carries optional field updates; nil means unchanged.
type UpdateWebhookParams struct {
	URL          *string
	Method       *string
	Headers      map[string]string
	QueryParams  map[string]string
	BodyTemplate *string
	ContentType  *string
}

func (s *Store) UpdateWebhook(ctx context.Context, id string, p UpdateWebhookParams) (models.Webhook, error) {
	headers, err := marshalMap(p.Headers)
	if err != nil {
		return models.Webhook{}, err
	}
	query, err := marshalMap(p.QueryParams)
	if err != nil {
		return models.Webhook{}, err
	}
	tag, err := s.pool.Exec(ctx, `
		UPDATE webhooks SET
			url           = COALESCE($2, url),
			method        = COALESCE($3, method),
			headers       = COALESCE($4, headers),
			query_params  = COALESCE($5, query_params),
			body_template = COALESCE($6, body_template),
			content_type  = COALESCE($7, content_type),
			updated_at    = NOW()
		WHERE id = $1
	`, id, p.URL, p.Method, headers, query, p.BodyTemplate, p.ContentType)
	if err != nil {
		return models.Webhook{}, fmt.Errorf("update webhook: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return models.Webhook{}, fmt.Errorf("webhook %s: %w", id, ErrNotFound)
	}
	return s.GetWebhook(ctx, id)
}

func (s *Store) DeleteWebhook(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM webhooks WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete webhook: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("webhook %s: %w", id, ErrNotFound)
	}
	return nil
}
