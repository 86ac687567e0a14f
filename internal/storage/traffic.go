package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// TrafficRecord is one row of the traffic_log table, describing a single
// handled gateway request.
type TrafficRecord struct {
	ID                     string
	ServerID               sql.NullString
	Timestamp              time.Time
	MCPMethod              string
	MCPRequestID           sql.NullString
	SourceIP               string
	RequestSizeBytes       int64
	ResponseSizeBytes      int64
	HTTPStatus             int
	TargetServerHTTPStatus sql.NullInt64
	IsSuccess              bool
	DurationMs             int64
	APIKeyID               sql.NullString
	ErrorMessage           sql.NullString
}

// InsertTraffic writes one traffic row. The audit recorder batches calls to
// this from its worker; handlers never call it directly.
func (s *Store) InsertTraffic(ctx context.Context, record *TrafficRecord) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO traffic_log
			(id, server_id, timestamp, mcp_method, mcp_request_id, source_ip,
			 request_size_bytes, response_size_bytes, http_status,
			 target_server_http_status, is_success, duration_ms, api_key_id, error_message)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`,
		record.ID, record.ServerID, record.Timestamp.UTC(), record.MCPMethod,
		record.MCPRequestID, record.SourceIP, record.RequestSizeBytes,
		record.ResponseSizeBytes, record.HTTPStatus, record.TargetServerHTTPStatus,
		record.IsSuccess, record.DurationMs, record.APIKeyID, record.ErrorMessage)
	if err != nil {
		return fmt.Errorf("inserting traffic record: %w", err)
	}
	return nil
}

// InsertTrafficBatch writes a batch of traffic rows in one transaction.
func (s *Store) InsertTrafficBatch(ctx context.Context, records []*TrafficRecord) error {
	if len(records) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning traffic batch: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO traffic_log
			(id, server_id, timestamp, mcp_method, mcp_request_id, source_ip,
			 request_size_bytes, response_size_bytes, http_status,
			 target_server_http_status, is_success, duration_ms, api_key_id, error_message)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`)
	if err != nil {
		return fmt.Errorf("preparing traffic batch: %w", err)
	}
	defer stmt.Close()

	for _, record := range records {
		_, err := stmt.ExecContext(ctx,
			record.ID, record.ServerID, record.Timestamp.UTC(), record.MCPMethod,
			record.MCPRequestID, record.SourceIP, record.RequestSizeBytes,
			record.ResponseSizeBytes, record.HTTPStatus, record.TargetServerHTTPStatus,
			record.IsSuccess, record.DurationMs, record.APIKeyID, record.ErrorMessage)
		if err != nil {
			return fmt.Errorf("inserting traffic record %s: %w", record.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing traffic batch: %w", err)
	}
	return nil
}

// ListRecentTraffic returns up to limit rows, newest first.
func (s *Store) ListRecentTraffic(ctx context.Context, limit int) ([]*TrafficRecord, error) {
	if limit <= 0 {
		limit = 100
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, server_id, timestamp, mcp_method, mcp_request_id, source_ip,
			request_size_bytes, response_size_bytes, http_status,
			target_server_http_status, is_success, duration_ms, api_key_id, error_message
		 FROM traffic_log ORDER BY timestamp DESC LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("querying traffic log: %w", err)
	}
	defer rows.Close()

	var records []*TrafficRecord
	for rows.Next() {
		var record TrafficRecord
		err := rows.Scan(&record.ID, &record.ServerID, &record.Timestamp,
			&record.MCPMethod, &record.MCPRequestID, &record.SourceIP,
			&record.RequestSizeBytes, &record.ResponseSizeBytes, &record.HTTPStatus,
			&record.TargetServerHTTPStatus, &record.IsSuccess, &record.DurationMs,
			&record.APIKeyID, &record.ErrorMessage)
		if err != nil {
			return nil, fmt.Errorf("scanning traffic record: %w", err)
		}
		records = append(records, &record)
	}
	return records, rows.Err()
}
