// Package governance implements the Governance component (spec.md section
// 4.4): policy-gating of monetary and rate-sensitive actions, grounded on
// the teacher's internal/domain/aml.go threshold-table style.
package governance

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

// Governance ties thresholds, counters, and the approval store together
// into validateTransaction / processApproval / recordTransaction.
type Governance struct {
	thresholds Thresholds
	counters   *Counters
	approvals  *ApprovalStore
	auditLog   *audit.Log
	clock      clock.Clock
	logger     *zap.Logger
}

func New(thresholds Thresholds, counters *Counters, approvals *ApprovalStore, auditLog *audit.Log, clk clock.Clock, logger *zap.Logger) *Governance {
	return &Governance{
		thresholds: thresholds,
		counters:   counters,
		approvals:  approvals,
		auditLog:   auditLog,
		clock:      clk,
		logger:     logger,
	}
}

// ValidateTransaction runs the five ordered rules from spec.md section 4.4,
// collecting every blocking violation before returning rather than
// short-circuiting at the first.
func (g *Governance) ValidateTransaction(ctx context.Context, t Transaction) (ValidationResult, error) {
	result := ValidationResult{Allowed: true}

	// Rule 1: single-transaction ceiling.
	if t.Amount.GreaterThan(g.thresholds.MaxTransactionAmount) {
		result.Violations = append(result.Violations,
			fmt.Sprintf("amount %s exceeds max transaction amount %s", t.Amount, g.thresholds.MaxTransactionAmount))
	}

	// Rule 2: daily running total (since local UTC midnight) + amount.
	dailyTotal, err := g.counters.DailyTotal(ctx, t.EntityID, t.At)
	if err != nil {
		return ValidationResult{}, occamerr.Transient("governance.validate_transaction", err)
	}
	if dailyTotal.Add(t.Amount).GreaterThan(g.thresholds.DailySpendLimit) {
		result.Violations = append(result.Violations,
			fmt.Sprintf("daily total %s plus amount %s would exceed daily limit %s", dailyTotal, t.Amount, g.thresholds.DailySpendLimit))
	}

	// Rule 3: sliding rate-limit window.
	windowCount, err := g.counters.WindowCount(ctx, t.EntityID, g.thresholds.RateLimitWindow, t.At)
	if err != nil {
		return ValidationResult{}, occamerr.Transient("governance.validate_transaction", err)
	}
	if windowCount+1 > int64(g.thresholds.MaxTransactionsPerWindow) {
		result.Violations = append(result.Violations,
			fmt.Sprintf("transaction count %d in window would exceed limit %d", windowCount+1, g.thresholds.MaxTransactionsPerWindow))
	}

	// Rule 4: approval threshold — not a violation, an escalation.
	if t.Amount.GreaterThanOrEqual(g.thresholds.ApprovalThreshold) {
		result.RequiresApproval = true
		result.Warnings = append(result.Warnings,
			fmt.Sprintf("amount %s meets or exceeds approval threshold %s", t.Amount, g.thresholds.ApprovalThreshold))
	}

	// Rule 5: anomaly checks — only high severity escalates to approval.
	history, err := g.counters.History(ctx, t.EntityID)
	if err != nil {
		return ValidationResult{}, occamerr.Transient("governance.validate_transaction", err)
	}
	anomalies := detectAnomalies(t, history, g.thresholds.RapidTransactionCount, g.thresholds.RapidTransactionWindow)
	for _, a := range anomalies {
		result.Warnings = append(result.Warnings, fmt.Sprintf("%s: %s (%s)", a.Rule, a.Detail, a.Severity))
	}
	if anyHighSeverity(anomalies) {
		result.RequiresApproval = true
	}

	if len(result.Violations) > 0 {
		result.Allowed = false
		result.RequiresApproval = false
		g.emit(ctx, "governance.transaction_blocked", t, result)
		return result, nil
	}

	if result.RequiresApproval {
		approval := &domain.ApprovalRequest{
			ApprovalID:      uuid.NewString(),
			WorkflowID:      t.WorkflowID,
			Amount:          t.Amount.String(),
			ThresholdReason: joinWarnings(result.Warnings),
			RequestedBy:     "governance",
			RequestedAt:     t.At,
			ExpiresAt:       t.At.Add(g.thresholds.ApprovalExpiry),
			Status:          domain.ApprovalPending,
		}
		if err := g.approvals.Insert(ctx, approval); err != nil {
			return ValidationResult{}, occamerr.Transient("governance.validate_transaction", err)
		}
		result.ApprovalRequestID = approval.ApprovalID
		g.emit(ctx, "governance.approval_requested", t, result)
		return result, nil
	}

	g.emit(ctx, "governance.transaction_allowed", t, result)
	return result, nil
}

// GetApproval is the Query interface's getApproval(id) (spec.md section 6).
func (g *Governance) GetApproval(ctx context.Context, approvalID string) (*domain.ApprovalRequest, error) {
	return g.approvals.Get(ctx, approvalID)
}

// ProcessApproval decides a pending ApprovalRequest. Expired requests can
// never be approved (spec.md section 4.4).
func (g *Governance) ProcessApproval(ctx context.Context, approvalID string, decision Decision) (*domain.ApprovalRequest, error) {
	approval, err := g.approvals.Get(ctx, approvalID)
	if err != nil {
		return nil, err
	}

	decided, procErr := processApproval(approval, decision, g.clock)
	if procErr != nil && !occamerr.Is(procErr, occamerr.KindExpired) {
		return nil, procErr
	}

	if updateErr := g.approvals.Update(ctx, decided); updateErr != nil {
		return nil, occamerr.Transient("governance.process_approval", updateErr)
	}

	if g.auditLog != nil {
		workflowID := decided.WorkflowID
		event := &domain.AuditEvent{
			WorkflowID: &workflowID,
			Actor:      "governance",
			Action:     "governance.approval_" + string(decided.Status),
			Severity:   domain.SeverityInfo,
			Status:     domain.EventSuccess,
			Payload: map[string]any{
				"approval_id": decided.ApprovalID,
				"amount":      decided.Amount,
			},
		}
		if logErr := g.auditLog.Log(ctx, event); logErr != nil {
			g.logger.Error("governance failed to emit audit event", zap.Error(logErr))
		}
	}

	return decided, procErr
}

// RecordTransaction appends the transaction to every counter that future
// validateTransaction calls will read: daily total, rate-limit window, and
// bounded rolling history.
func (g *Governance) RecordTransaction(ctx context.Context, t Transaction) error {
	if err := g.counters.AddToDailyTotal(ctx, t.EntityID, t.Amount, t.At); err != nil {
		return occamerr.Transient("governance.record_transaction", err)
	}
	if err := g.counters.RecordInWindow(ctx, t.EntityID, t.At); err != nil {
		return occamerr.Transient("governance.record_transaction", err)
	}
	if err := g.counters.RecordTransaction(ctx, t.EntityID, HistoryEntry{Amount: t.Amount, At: t.At}); err != nil {
		return occamerr.Transient("governance.record_transaction", err)
	}
	return nil
}

func (g *Governance) emit(ctx context.Context, action string, t Transaction, result ValidationResult) {
	if g.auditLog == nil {
		return
	}
	workflowID, entityID := t.WorkflowID, t.EntityID
	event := &domain.AuditEvent{
		WorkflowID: &workflowID,
		EntityID:   &entityID,
		Actor:      "governance",
		Action:     action,
		Severity:   domain.SeverityInfo,
		Status:     domain.EventSuccess,
		Payload: map[string]any{
			"amount":            t.Amount.String(),
			"allowed":           result.Allowed,
			"requires_approval": result.RequiresApproval,
			"violations":        result.Violations,
		},
	}
	if !result.Allowed {
		event.Severity = domain.SeverityWarning
		event.Status = domain.EventFailure
	}
	if err := g.auditLog.Log(ctx, event); err != nil {
		g.logger.Error("governance failed to emit audit event", zap.String("action", action), zap.Error(err))
	}
}

func joinWarnings(warnings []string) string {
	if len(warnings) == 0 {
		return ""
	}
	s := warnings[0]
	for _, w := range warnings[1:] {
		s += "; " + w
	}
	return s
}
