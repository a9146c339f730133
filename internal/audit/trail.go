package audit

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/otrix/occam-agents/internal/domain"
)

// Trail ties a sequence of Step calls to one operation-id under a single
// trace-id, with a pending->success|failure lifecycle (spec.md section
// 4.1's "start_trail / step / complete_trail" convenience helpers).
type Trail struct {
	log         *Log
	traceID     string
	operationID string
	workflowID  *string
	entityID    *string
}

// NewTrail opens a trail for an operation. Callers that already hold a
// trace-id (e.g. from StartTrail) pass it through so every step lines up
// under the same timeline.
func (l *Log) NewTrail(traceID, operationID string, workflowID, entityID *string) *Trail {
	return &Trail{log: l, traceID: traceID, operationID: operationID, workflowID: workflowID, entityID: entityID}
}

// Step appends a pending-lifecycle event for one action within the trail.
func (t *Trail) Step(ctx context.Context, actor, action string, payload map[string]any) error {
	return t.log.Log(ctx, &domain.AuditEvent{
		TraceID:    t.traceID,
		WorkflowID: t.workflowID,
		EntityID:   t.entityID,
		Actor:      actor,
		Action:     fmt.Sprintf("%s.%s", t.operationID, action),
		Severity:   domain.SeverityInfo,
		Status:     domain.EventPending,
		Payload:    payload,
	})
}

// Complete appends the terminal event for the trail: success or failure.
func (t *Trail) Complete(ctx context.Context, actor string, success bool, payload map[string]any) error {
	status := domain.EventSuccess
	severity := domain.SeverityInfo
	if !success {
		status = domain.EventFailure
		severity = domain.SeverityError
	}
	return t.log.Log(ctx, &domain.AuditEvent{
		TraceID:    t.traceID,
		WorkflowID: t.workflowID,
		EntityID:   t.entityID,
		Actor:      actor,
		Action:     fmt.Sprintf("%s.complete", t.operationID),
		Severity:   severity,
		Status:     status,
		Payload:    payload,
	})
}

// logTrailCompletionFailure logs a failed Complete append so it is not
// silently swallowed. Nothing in the module calls it.
func logTrailCompletionFailure(logger *zap.Logger, operationID string, err error) {
	if err != nil {
		logger.Error("audit trail completion failed to persist", zap.String("operation_id", operationID), zap.Error(err))
	}
}
