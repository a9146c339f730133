package workflow

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/otrix/occam-agents/internal/audit"
	"github.com/otrix/occam-agents/internal/clock"
	"github.com/otrix/occam-agents/internal/domain"
	"github.com/otrix/occam-agents/internal/occamerr"
)

// store is the persistence surface Service needs, narrowed from *Store so
// tests can back it with an in-memory fake instead of Postgres.
type store interface {
	Insert(ctx context.Context, w *domain.Workflow) error
	FindByIdempotencyKey(ctx context.Context, entityID, key string) (string, error)
	Get(ctx context.Context, workflowID string) (*domain.Workflow, error)
	AppendTransition(ctx context.Context, w *domain.Workflow) error
	RecordIdempotentAttempt(ctx context.Context, key string, resultPayload map[string]any) (bool, map[string]any, error)
	ListByEntity(ctx context.Context, entityID string) ([]*domain.Workflow, error)
}

// Service is the Workflow State Machine component (spec.md section 4.6):
// it owns workflow creation, legal-transition enforcement, and the
// write-ahead persist-then-audit ordering every stage advance must follow.
type Service struct {
	store    store
	auditLog *audit.Log
	clock    clock.Clock
	logger   *zap.Logger
}

func New(store *Store, auditLog *audit.Log, clk clock.Clock, logger *zap.Logger) *Service {
	return &Service{store: store, auditLog: auditLog, clock: clk, logger: logger}
}

// SubmitRequest creates a workflow for entityID carrying kind/payload, or
// returns the already-created workflow-id if idempotencyKey was seen before
// (spec.md section 6, testable property 4). payload becomes the workflow's
// ontology seed: the Orchestrator reads it back into agent.Context.Ontology
// when driving this workflow's stages.
func (s *Service) SubmitRequest(ctx context.Context, entityID, kind string, payload map[string]any, idempotencyKey string) (string, error) {
	if existing, err := s.store.FindByIdempotencyKey(ctx, entityID, idempotencyKey); err != nil {
		return "", occamerr.Transient("workflow.submit_request", err)
	} else if existing != "" {
		return existing, nil
	}

	now := s.clock.Now().UTC()
	w := &domain.Workflow{
		WorkflowID:     uuid.NewString(),
		EntityID:       entityID,
		CurrentStage:   domain.StagePending,
		Status:         domain.StatusPending,
		CreatedAt:      now,
		UpdatedAt:      now,
		StageEnteredAt: now,
		IdempotencyKey: idempotencyKey,
		Kind:           kind,
		Payload:        payload,
	}
	w.AppendTransition(domain.StageApply, "orchestrator", now)
	w.Status = domain.StatusInProgress

	if err := s.store.Insert(ctx, w); err != nil {
		// A unique-constraint violation on idempotency_key means a
		// concurrent submitter won the race; resolve to their workflow
		// rather than surface a spurious duplicate-creation error.
		if existing, findErr := s.store.FindByIdempotencyKey(ctx, entityID, idempotencyKey); findErr == nil && existing != "" {
			return existing, nil
		}
		return "", occamerr.Transient("workflow.submit_request", err)
	}

	s.emit(ctx, w, "workflow.submitted", domain.SeverityInfo, nil)
	return w.WorkflowID, nil
}

// Get loads a workflow by id.
func (s *Service) Get(ctx context.Context, workflowID string) (*domain.Workflow, error) {
	return s.store.Get(ctx, workflowID)
}

// ListByEntity loads every workflow belonging to entityID, for
// generateSummary (spec.md section 4.8).
func (s *Service) ListByEntity(ctx context.Context, entityID string) ([]*domain.Workflow, error) {
	return s.store.ListByEntity(ctx, entityID)
}

// AdvanceStage is the sole mutator of a workflow's stage: it validates the
// transition against internal/domain.CanTransition, enforces at-most-one-
// open-stage and idempotent-resubmission invariants, persists the new
// stage-history entry (write-ahead), and only then lets the Orchestrator
// proceed to invoke agents for the new stage.
func (s *Service) AdvanceStage(ctx context.Context, workflowID string, to domain.Stage, actor string, attempt int) (*domain.Workflow, error) {
	w, err := s.store.Get(ctx, workflowID)
	if err != nil {
		return nil, err
	}

	key := domain.IdempotencyKeyFor(workflowID, to, attempt)
	if w.CurrentStage == to {
		// A redelivered advance whose transition already landed: a stage
		// cannot move to itself, so the attempt record decides.
		isDuplicate, _, err := s.store.RecordIdempotentAttempt(ctx, key, map[string]any{"to": string(to), "attempt": attempt})
		if err != nil {
			return nil, occamerr.Transient("workflow.advance_stage", err)
		}
		if isDuplicate {
			return w, nil
		}
	}

	if domain.IsTerminal(w.CurrentStage) && !(w.CurrentStage == domain.StageCompleted && to == domain.StageRenew) {
		return nil, occamerr.Validation("workflow.advance_stage",
			fmt.Errorf("workflow %s is in terminal stage %s", workflowID, w.CurrentStage))
	}
	if !domain.CanTransition(w.CurrentStage, to) {
		return nil, occamerr.Validation("workflow.advance_stage",
			fmt.Errorf("illegal transition %s -> %s for workflow %s", w.CurrentStage, to, workflowID))
	}

	isDuplicate, _, err := s.store.RecordIdempotentAttempt(ctx, key, map[string]any{"to": string(to), "attempt": attempt})
	if err != nil {
		return nil, occamerr.Transient("workflow.advance_stage", err)
	}
	if isDuplicate {
		// Duplicate delivery: return the workflow's current state without
		// re-invoking the transition (spec.md section 4.6).
		return w, nil
	}

	now := s.clock.Now().UTC()
	fromStage := w.CurrentStage
	w.LastAttemptedStage = &fromStage
	w.AppendTransition(to, actor, now)
	w.Status = statusForStage(to)

	// Persist before any side-effecting agent for the new stage runs
	// (spec.md section 4.6: "persistence is write-ahead").
	if err := s.store.AppendTransition(ctx, w); err != nil {
		return nil, err
	}

	s.emit(ctx, w, "workflow.stage_transition", domain.SeverityInfo, map[string]any{
		"from": w.StageHistory[len(w.StageHistory)-1].From,
		"to":   to,
	})
	return w, nil
}

// Fail transitions a workflow to the failed stage, recording the reason
// and any uncompensated residue the Orchestrator's compensation pass left
// behind (spec.md section 7).
func (s *Service) Fail(ctx context.Context, workflowID, reason string, residue []string) (*domain.Workflow, error) {
	w, err := s.store.Get(ctx, workflowID)
	if err != nil {
		return nil, err
	}
	if domain.IsTerminal(w.CurrentStage) {
		return w, nil
	}

	now := s.clock.Now().UTC()
	last := w.CurrentStage
	w.LastAttemptedStage = &last
	w.FailureReason = &reason
	w.UncompensatedResidue = residue
	w.AppendTransition(domain.StageFailed, "orchestrator", now)
	w.Status = domain.StatusFailed

	if err := s.store.AppendTransition(ctx, w); err != nil {
		return nil, err
	}

	severity := domain.SeverityWarning
	if len(residue) > 0 {
		severity = domain.SeverityCritical
	}
	s.emit(ctx, w, "workflow.failed", severity, map[string]any{
		"reason":  reason,
		"residue": residue,
	})
	return w, nil
}

// Renew completes the renewal transition from a completed workflow,
// creating a fresh workflow-id linked via ParentWorkflowID
// (spec.md section 4.6).
func (s *Service) Renew(ctx context.Context, workflowID string) (*domain.Workflow, error) {
	parent, err := s.store.Get(ctx, workflowID)
	if err != nil {
		return nil, err
	}
	if parent.CurrentStage != domain.StageCompleted {
		return nil, occamerr.Validation("workflow.renew",
			fmt.Errorf("workflow %s must be completed before renewal, is %s", workflowID, parent.CurrentStage))
	}

	now := s.clock.Now().UTC()
	parentID := parent.WorkflowID
	next := &domain.Workflow{
		WorkflowID:       uuid.NewString(),
		EntityID:         parent.EntityID,
		ParentWorkflowID: &parentID,
		CurrentStage:     domain.StagePending,
		Status:           domain.StatusPending,
		CreatedAt:        now,
		UpdatedAt:        now,
		StageEnteredAt:   now,
		IdempotencyKey:   uuid.NewString(),
	}
	next.AppendTransition(domain.StageRenew, "orchestrator", now)
	next.Status = domain.StatusInProgress

	if err := s.store.Insert(ctx, next); err != nil {
		return nil, occamerr.Transient("workflow.renew", err)
	}

	s.emit(ctx, next, "workflow.renewed", domain.SeverityInfo, map[string]any{"parent_workflow_id": parentID})
	return next, nil
}

func statusForStage(stage domain.Stage) domain.WorkflowStatus {
	switch stage {
	case domain.StageAwaitingApproval:
		return domain.StatusAwaitingApproval
	case domain.StageFailed:
		return domain.StatusFailed
	case domain.StageCompleted:
		return domain.StatusCompleted
	default:
		return domain.StatusInProgress
	}
}

func (s *Service) emit(ctx context.Context, w *domain.Workflow, action string, severity domain.Severity, payload map[string]any) {
	if s.auditLog == nil {
		return
	}
	workflowID, entityID := w.WorkflowID, w.EntityID
	event := &domain.AuditEvent{
		WorkflowID: &workflowID,
		EntityID:   &entityID,
		Actor:      "workflow",
		Action:     action,
		Severity:   severity,
		Status:     domain.EventSuccess,
		Payload:    payload,
	}
	if err := s.auditLog.Log(ctx, event); err != nil {
		s.logger.Error("workflow failed to emit audit event", zap.String("action", action), zap.Error(err))
	}
}
