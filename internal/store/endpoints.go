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

// CreateEndpoint inserts a generated endpoint. The identifier must already
// be generated and checked against the canonical id shape.
func (s *Store) CreateEndpoint(ctx context.Context, accountID, identifier string) (models.Endpoint, error) {
	id := uuid.New().String()
	now := time.Now().UTC()
	_, err := s.pool.Exec(ctx, `
		INSERT INTO endpoints (id, account_id, identifier, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $4)
	`, id, accountID, identifier, now)
	if err != nil {
		return models.Endpoint{}, fmt.Errorf("insert endpoint: %w", err)
	}
	return models.Endpoint{ID: id, AccountID: accountID, Identifier: identifier, CreatedAt: now, UpdatedAt: now}, nil
}

func scanEndpoint(row pgx.Row) (models.Endpoint, error) {
	var ep models.Endpoint
	err := row.Scan(&ep.ID, &ep.AccountID, &ep.Identifier, &ep.CreatedAt, &ep.UpdatedAt)
	return ep, err
}

func (s *Store) GetEndpoint(ctx context.Context, id string) (models.Endpoint, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, account_id, identifier, created_at, updated_at FROM endpoints WHERE id = $1
	`, id)
	ep, err := scanEndpoint(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.Endpoint{}, fmt.Errorf("endpoint %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return models.Endpoint{}, fmt.Errorf("scan endpoint: %w", err)
	}
	return ep, nil
}

func (s *Store) GetEndpointByIdentifier(ctx context.Context, identifier string) (models.Endpoint, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, account_id, identifier, created_at, updated_at FROM endpoints WHERE identifier = $1
	`, identifier)
	ep, err := scanEndpoint(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.Endpoint{}, fmt.Errorf("endpoint identifier: %w", ErrNotFound)
	}
	if err != nil {
		return models.Endpoint{}, fmt.Errorf("scan endpoint: %w", err)
	}
	return ep, nil
}

func (s *Store) ListEndpointsByAccount(ctx context.Context, accountID string) ([]models.Endpoint, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, account_id, identifier, created_at, updated_at
		FROM endpoints WHERE account_id = $1 ORDER BY created_at DESC
	`, accountID)
	if err != nil {
		return nil, fmt.Errorf("query endpoints: %w", err)
	}
	defer rows.Close()

	var endpoints []models.Endpoint
	for rows.Next() {
		ep, err := scanEndpoint(rows)
		if err != nil {
			return nil, fmt.Errorf("scan endpoint: %w", err)
		}
		endpoints = append(endpoints, ep)
	}
	return endpoints, rows.Err()
}

func (s *Store) CountEndpointsByAccount(ctx context.Context, accountID string) (int, error) {
	var n int
	if err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM endpoints WHERE account_id = $1`, accountID).Scan(&n); err != nil {
		return 0, fmt.Errorf("count endpoints: %w", err)
	}
	return n, nil
}

func (s *Store) DeleteEndpoint(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM endpoints WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete endpoint: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("endpoint %s: %w", id, ErrNotFound)
	}
	return nil
}

// InsertEndpointLog appends one inbound request record.
func (s *Store) InsertEndpointLog(ctx context.Context, l models.EndpointLog) (models.EndpointLog, error) {
	if l.ID == "" {
		l.ID = uuid.New().String()
	}
	headers, err := marshalMap(l.Headers)
	if err != nil {
		return models.EndpointLog{}, err
	}
	query, err := marshalMap(l.QueryParams)
	if err != nil {
		return models.EndpointLog{}, err
	}
	respHeaders, err := marshalMap(l.ResponseHeaders)
	if err != nil {
		return models.EndpointLog{}, err
	}
	l.CreatedAt = time.Now().UTC()
	_, err = s.pool.Exec(ctx, `
		INSERT INTO endpoint_logs (
			id, endpoint_id, method, headers, query_params, body,
			response_status, response_headers, response_body,
			ip_address, user_agent, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`, l.ID, l.EndpointID, l.Method, headers, query, l.Body,
		l.ResponseStatus, respHeaders, l.ResponseBody,
		l.IPAddress, l.UserAgent, l.CreatedAt)
	if err != nil {
		return models.EndpointLog{}, fmt.Errorf("insert endpoint log: %w", err)
	}
	return l, nil
}

func (s *Store) ListEndpointLogs(ctx context.Context, endpointID string, limit, offset int) ([]models.EndpointLog, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, endpoint_id, method, headers, query_params, body,
		       response_status, response_headers, response_body,
		       ip_address, user_agent, created_at
		FROM endpoint_logs
		WHERE endpoint_id = $1
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3
	`, endpointID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("query endpoint logs: %w", err)
	}
	defer rows.Close()

	var logs []models.EndpointLog
	for rows.Next() {
		var l models.EndpointLog
		var headers, query, respHeaders []byte
		var body, respBody, ip, ua pgtype.Text
		var status pgtype.Int4
		if err := rows.Scan(&l.ID, &l.EndpointID, &l.Method, &headers, &query, &body,
			&status, &respHeaders, &respBody, &ip, &ua, &l.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan endpoint log: %w", err)
		}
		if l.Headers, err = unmarshalMap(headers); err != nil {
			return nil, err
		}
		if l.QueryParams, err = unmarshalMap(query); err != nil {
			return nil, err
		}
		if l.ResponseHeaders, err = unmarshalMap(respHeaders); err != nil {
			return nil, err
		}
		l.Body = textValue(body)
		l.ResponseBody = textValue(respBody)
		l.IPAddress = textValue(ip)
		l.UserAgent = textValue(ua)
		l.ResponseStatus = int4Ptr(status)
		logs = append(logs, l)
	}
	return logs, rows.Err()
}

func (s *Store) CountEndpointLogs(ctx context.Context, endpointID string) (int64, error) {
	var n int64
	if err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM endpoint_logs WHERE endpoint_id = $1`, endpointID).Scan(&n); err != nil {
		return 0, fmt.Errorf("count endpoint logs: %w", err)
	}
	return n, nil
}
