// Package audit implements the Audit Log subsystem: an append-only,
// cryptographically signed event ledger with Elasticsearch-backed search
// and S3 cold archival, adapted from the teacher's
// internal/service/audit_service.go and its postgres/elasticsearch/s3
// repositories.
package audit

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/otrix/occam-agents/internal/config"
	"github.com/otrix/occam-agents/internal/domain"
)

// Ledger is the Postgres-backed immutable event store. Only INSERT is ever
// issued against audit_events; no code path updates or deletes a row.
type Ledger struct {
	pool *pgxpool.Pool
}

func NewLedger(ctx context.Context, cfg config.DatabaseConfig) (*Ledger, error) {
	poolConfig, err := pgxpool.ParseConfig(cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("audit: parse pool config: %w", err)
	}
	poolConfig.MaxConns = int32(cfg.MaxOpenConns)
	poolConfig.MinConns = int32(cfg.MaxIdleConns)
	poolConfig.MaxConnLifetime = cfg.ConnMaxLifetime
	poolConfig.MaxConnIdleTime = cfg.ConnMaxIdleTime

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("audit: create pool: %w", err)
	}
	return &Ledger{pool: pool}, nil
}

func (l *Ledger) Close() { l.pool.Close() }

// Append inserts one event. Append-only: the table has no UPDATE/DELETE
// grants in the deployment migrations, and this is the only write path.
func (l *Ledger) Append(ctx context.Context, event *domain.AuditEvent, signature string) error {
	const query = `
		INSERT INTO audit_events (
			event_id, trace_id, workflow_id, entity_id, actor, action,
			severity, status, payload, timestamp, retention_deadline, signature
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)
	`
	payload, err := json.Marshal(event.Payload)
	if err != nil {
		return fmt.Errorf("audit: marshal payload: %w", err)
	}
	_, err = l.pool.Exec(ctx, query,
		event.EventID, event.TraceID, event.WorkflowID, event.EntityID, event.Actor, event.Action,
		event.Severity, event.Status, payload, event.Timestamp, event.RetentionDeadline, signature,
	)
	if err != nil {
		return fmt.Errorf("audit: insert event: %w", err)
	}
	return nil
}

// Query runs a filtered read against the ledger, ordered newest-first.
func (l *Ledger) Query(ctx context.Context, filter domain.AuditEventFilter) ([]*domain.AuditEvent, error) {
	query := `
		SELECT event_id, trace_id, workflow_id, entity_id, actor, action,
		       severity, status, payload, timestamp, retention_deadline, signature
		FROM audit_events
		WHERE 1=1
	`
	var args []interface{}
	argIdx := 1

	if filter.TraceID != "" {
		query += fmt.Sprintf(" AND trace_id = $%d", argIdx)
		args = append(args, filter.TraceID)
		argIdx++
	}
	if filter.EntityID != "" {
		query += fmt.Sprintf(" AND entity_id = $%d", argIdx)
		args = append(args, filter.EntityID)
		argIdx++
	}
	if filter.WorkflowID != "" {
		query += fmt.Sprintf(" AND workflow_id = $%d", argIdx)
		args = append(args, filter.WorkflowID)
		argIdx++
	}
	if filter.Action != "" {
		query += fmt.Sprintf(" AND action = $%d", argIdx)
		args = append(args, filter.Action)
		argIdx++
	}
	if filter.StartTime != nil {
		query += fmt.Sprintf(" AND timestamp >= $%d", argIdx)
		args = append(args, *filter.StartTime)
		argIdx++
	}
	if filter.EndTime != nil {
		query += fmt.Sprintf(" AND timestamp <= $%d", argIdx)
		args = append(args, *filter.EndTime)
		argIdx++
	}

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	query += fmt.Sprintf(" ORDER BY timestamp DESC, event_id DESC LIMIT $%d OFFSET $%d", argIdx, argIdx+1)
	args = append(args, limit, filter.Offset)

	rows, err := l.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("audit: query events: %w", err)
	}
	defer rows.Close()

	var events []*domain.AuditEvent
	for rows.Next() {
		var e domain.AuditEvent
		var payload []byte
		var sig string
		if err := rows.Scan(
			&e.EventID, &e.TraceID, &e.WorkflowID, &e.EntityID, &e.Actor, &e.Action,
			&e.Severity, &e.Status, &payload, &e.Timestamp, &e.RetentionDeadline, &sig,
		); err != nil {
			return nil, fmt.Errorf("audit: scan event: %w", err)
		}
		if len(payload) > 0 {
			_ = json.Unmarshal(payload, &e.Payload)
		}
		events = append(events, &e)
	}
	return events, nil
}

// SignatureFor retrieves the stored HMAC signature for one event, used by
// Log.Query to detect tampering.
func (l *Ledger) SignatureFor(ctx context.Context, eventID string) (string, error) {
	var sig string
	err := l.pool.QueryRow(ctx, `SELECT signature FROM audit_events WHERE event_id = $1`, eventID).Scan(&sig)
	if err != nil {
		if err == pgx.ErrNoRows {
			return "", fmt.Errorf("audit: event %s not found", eventID)
		}
		return "", err
	}
	return sig, nil
}

// RecordAccess appends to the audit-of-audits trail: every Query call is
// itself logged so access to compliance history is itself reviewable.
func (l *Ledger) RecordAccess(ctx context.Context, access domain.AuditAccessLog) error {
	const query = `
		INSERT INTO audit_access_log (access_id, accessor_id, access_type, query_filter, records_viewed, timestamp)
		VALUES ($1,$2,$3,$4,$5,$6)
	`
	_, err := l.pool.Exec(ctx, query,
		access.AccessID, access.AccessorID, access.AccessType, access.QueryFilter, access.RecordsViewed, access.Timestamp,
	)
	return err
}
