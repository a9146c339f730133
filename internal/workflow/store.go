// Package workflow implements the Workflow State Machine (spec.md section
// 4.6): persistence of domain.Workflow with write-ahead stage-history
// append, idempotent submission, and the legal-transition table enforced
// in internal/domain/workflow.go.
package workflow

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/otrix/occam-agents/internal/config"
	"github.com/otrix/occam-agents/internal/domain"
	"github.com/otrix/occam-agents/internal/occamerr"
)

// Store is the Postgres-backed persistence layer for workflows and their
// append-only stage history, mirroring internal/audit/postgres.go's
// pgxpool setup.
type Store struct {
	pool *pgxpool.Pool
}

func NewStore(ctx context.Context, cfg config.DatabaseConfig) (*Store, error) {
	poolConfig, err := pgxpool.ParseConfig(cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("workflow: parse pool config: %w", err)
	}
	poolConfig.MaxConns = int32(cfg.MaxOpenConns)
	poolConfig.MinConns = int32(cfg.MaxIdleConns)
	poolConfig.MaxConnLifetime = cfg.ConnMaxLifetime
	poolConfig.MaxConnIdleTime = cfg.ConnMaxIdleTime

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("workflow: create pool: %w", err)
	}
	return &Store{pool: pool}, nil
}

func (s *Store) Close() { s.pool.Close() }

// Insert persists a newly-created workflow, its first stage-history entry,
// and the idempotency key that lets submitRequest dedupe resubmission, all
// in one transaction.
func (s *Store) Insert(ctx context.Context, w *domain.Workflow) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("workflow: begin insert tx: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := insertWorkflowRow(ctx, tx, w); err != nil {
		return err
	}
	if err := insertIdempotencyRow(ctx, tx, w.EntityID, w.IdempotencyKey, w.WorkflowID); err != nil {
		return err
	}
	if len(w.StageHistory) > 0 {
		if err := appendHistoryRows(ctx, tx, w.WorkflowID, w.StageHistory); err != nil {
			return err
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("workflow: commit insert tx: %w", err)
	}
	return nil
}

func insertWorkflowRow(ctx context.Context, tx pgx.Tx, w *domain.Workflow) error {
	payload, err := json.Marshal(w.Payload)
	if err != nil {
		return fmt.Errorf("workflow: marshal payload: %w", err)
	}
	_, err = tx.Exec(ctx, `
		INSERT INTO workflows (
			workflow_id, entity_id, parent_workflow_id, current_stage, status,
			created_at, updated_at, completed_at, stage_entered_at, pending_actions,
			priority_score, estimated_completion_at, idempotency_key,
			failure_reason, last_attempted_stage, kind, payload
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17)
	`, w.WorkflowID, w.EntityID, w.ParentWorkflowID, w.CurrentStage, w.Status,
		w.CreatedAt, w.UpdatedAt, w.CompletedAt, w.StageEnteredAt, w.PendingActions,
		w.PriorityScore, w.EstimatedCompletionAt, w.IdempotencyKey,
		w.FailureReason, w.LastAttemptedStage, w.Kind, payload)
	if err != nil {
		return fmt.Errorf("workflow: insert workflow row: %w", err)
	}
	return nil
}

func insertIdempotencyRow(ctx context.Context, tx pgx.Tx, entityID, key, workflowID string) error {
	if key == "" {
		return nil
	}
	_, err := tx.Exec(ctx, `
		INSERT INTO workflow_submissions (entity_id, idempotency_key, workflow_id)
		VALUES ($1,$2,$3)
	`, entityID, key, workflowID)
	if err != nil {
		return fmt.Errorf("workflow: insert idempotency row: %w", err)
	}
	return nil
}

func appendHistoryRows(ctx context.Context, tx pgx.Tx, workflowID string, entries []domain.StageTransition) error {
	for _, e := range entries {
		_, err := tx.Exec(ctx, `
			INSERT INTO workflow_stage_history (workflow_id, from_stage, to_stage, actor, at, duration_ms)
			VALUES ($1,$2,$3,$4,$5,$6)
		`, workflowID, e.From, e.To, e.Actor, e.At, e.Duration.Milliseconds())
		if err != nil {
			return fmt.Errorf("workflow: append stage history row: %w", err)
		}
	}
	return nil
}

// FindByIdempotencyKey returns the workflow-id already created for
// (entityID, key), or "" if none exists — spec.md section 6's resubmission
// rule.
func (s *Store) FindByIdempotencyKey(ctx context.Context, entityID, key string) (string, error) {
	if key == "" {
		return "", nil
	}
	var workflowID string
	err := s.pool.QueryRow(ctx, `
		SELECT workflow_id FROM workflow_submissions WHERE entity_id = $1 AND idempotency_key = $2
	`, entityID, key).Scan(&workflowID)
	if err != nil {
		if err == pgx.ErrNoRows {
			return "", nil
		}
		return "", fmt.Errorf("workflow: lookup idempotency key: %w", err)
	}
	return workflowID, nil
}

// Get loads a workflow and its full append-only stage history.
func (s *Store) Get(ctx context.Context, workflowID string) (*domain.Workflow, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT workflow_id, entity_id, parent_workflow_id, current_stage, status,
		       created_at, updated_at, completed_at, stage_entered_at, pending_actions,
		       priority_score, estimated_completion_at, idempotency_key,
		       failure_reason, last_attempted_stage, kind, payload
		FROM workflows WHERE workflow_id = $1
	`, workflowID)

	w := &domain.Workflow{}
	var payload []byte
	err := row.Scan(&w.WorkflowID, &w.EntityID, &w.ParentWorkflowID, &w.CurrentStage, &w.Status,
		&w.CreatedAt, &w.UpdatedAt, &w.CompletedAt, &w.StageEnteredAt, &w.PendingActions,
		&w.PriorityScore, &w.EstimatedCompletionAt, &w.IdempotencyKey,
		&w.FailureReason, &w.LastAttemptedStage, &w.Kind, &payload)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, occamerr.NotFound("workflow.get", fmt.Errorf("workflow %s not found", workflowID))
		}
		return nil, fmt.Errorf("workflow: get workflow: %w", err)
	}
	if len(payload) > 0 {
		if err := json.Unmarshal(payload, &w.Payload); err != nil {
			return nil, fmt.Errorf("workflow: unmarshal payload: %w", err)
		}
	}

	history, err := s.history(ctx, workflowID)
	if err != nil {
		return nil, err
	}
	w.StageHistory = history
	return w, nil
}

func (s *Store) history(ctx context.Context, workflowID string) ([]domain.StageTransition, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT from_stage, to_stage, actor, at, duration_ms
		FROM workflow_stage_history WHERE workflow_id = $1 ORDER BY at ASC, id ASC
	`, workflowID)
	if err != nil {
		return nil, fmt.Errorf("workflow: query stage history: %w", err)
	}
	defer rows.Close()

	var entries []domain.StageTransition
	for rows.Next() {
		var e domain.StageTransition
		var durationMs int64
		if err := rows.Scan(&e.From, &e.To, &e.Actor, &e.At, &durationMs); err != nil {
			return nil, fmt.Errorf("workflow: scan stage history row: %w", err)
		}
		e.Duration = msToDuration(durationMs)
		entries = append(entries, e)
	}
	return entries, nil
}

// AppendTransition is the write-ahead persistence step: it durably stores
// w's new stage, status, and the just-appended StageHistory entry before
// the Orchestrator invokes any side-effecting agent for the new stage
// (spec.md section 4.6: "persistence is write-ahead").
func (s *Store) AppendTransition(ctx context.Context, w *domain.Workflow) error {
	if len(w.StageHistory) == 0 {
		return fmt.Errorf("workflow: AppendTransition called with empty stage history")
	}
	latest := w.StageHistory[len(w.StageHistory)-1]

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return occamerr.Transient("workflow.append_transition", err)
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx, `
		UPDATE workflows
		SET current_stage = $2, status = $3, updated_at = $4, completed_at = $5,
		    stage_entered_at = $6, failure_reason = $7, last_attempted_stage = $8
		WHERE workflow_id = $1
	`, w.WorkflowID, w.CurrentStage, w.Status, w.UpdatedAt, w.CompletedAt,
		w.StageEnteredAt, w.FailureReason, w.LastAttemptedStage)
	if err != nil {
		return occamerr.Transient("workflow.append_transition", fmt.Errorf("update workflow row: %w", err))
	}

	if err := appendHistoryRows(ctx, tx, w.WorkflowID, []domain.StageTransition{latest}); err != nil {
		return occamerr.Transient("workflow.append_transition", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return occamerr.Transient("workflow.append_transition", fmt.Errorf("commit: %w", err))
	}
	return nil
}

// RecordIdempotentAttempt records (workflow-id, target-stage, attempt) so
// a duplicate delivery is detected and yields the earlier result instead
// of re-invoking agents that had side effects (spec.md section 4.6). The
// row insert is the atomicity boundary: only the first caller for a given
// key inserts a row; a later caller, whose insert affects no row, is the
// duplicate and gets the stored payload back.
func (s *Store) RecordIdempotentAttempt(ctx context.Context, key string, resultPayload map[string]any) (isDuplicate bool, stored map[string]any, err error) {
	offered, err := json.Marshal(resultPayload)
	if err != nil {
		return false, nil, fmt.Errorf("workflow: marshal idempotent result: %w", err)
	}

	tag, err := s.pool.Exec(ctx, `
		INSERT INTO workflow_attempt_results (idempotency_key, result_payload)
		VALUES ($1,$2)
		ON CONFLICT (idempotency_key) DO NOTHING
	`, key, offered)
	if err != nil {
		return false, nil, fmt.Errorf("workflow: record idempotent attempt: %w", err)
	}
	if tag.RowsAffected() == 1 {
		return false, resultPayload, nil
	}

	var raw []byte
	if err := s.pool.QueryRow(ctx, `
		SELECT result_payload FROM workflow_attempt_results WHERE idempotency_key = $1
	`, key).Scan(&raw); err != nil {
		return false, nil, fmt.Errorf("workflow: read back idempotent attempt: %w", err)
	}
	var existing map[string]any
	if err := json.Unmarshal(raw, &existing); err != nil {
		return false, nil, fmt.Errorf("workflow: unmarshal idempotent attempt: %w", err)
	}
	return true, existing, nil
}

func msToDuration(ms int64) time.Duration {
	return time.Duration(ms) * time.Millisecond
}

// ListByEntity returns every workflow for entityID, most recent first, for
// the Status & Alert Engine's generateSummary (spec.md section 4.8).
func (s *Store) ListByEntity(ctx context.Context, entityID string) ([]*domain.Workflow, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT workflow_id FROM workflows WHERE entity_id = $1 ORDER BY created_at DESC
	`, entityID)
	if err != nil {
		return nil, fmt.Errorf("workflow: list by entity: %w", err)
	}
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, fmt.Errorf("workflow: scan workflow id: %w", err)
		}
		ids = append(ids, id)
	}
	rows.Close()

	workflows := make([]*domain.Workflow, 0, len(ids))
	for _, id := range ids {
		w, err := s.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		workflows = append(workflows, w)
	}
	return workflows, nil
}
