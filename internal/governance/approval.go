package governance

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/otrix/occam-agents/internal/clock"
	"github.com/otrix/occam-agents/internal/config"
	"github.com/otrix/occam-agents/internal/domain"
	"github.com/otrix/occam-agents/internal/occamerr"
)

// ApprovalStore is the Postgres-backed store for ApprovalRequests.
type ApprovalStore struct {
	pool *pgxpool.Pool
}

func NewApprovalStore(ctx context.Context, cfg config.DatabaseConfig) (*ApprovalStore, error) {
	pool, err := pgxpool.New(ctx, cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("governance: connect approval store: %w", err)
	}
	return &ApprovalStore{pool: pool}, nil
}

func (s *ApprovalStore) Close() { s.pool.Close() }

func (s *ApprovalStore) Insert(ctx context.Context, a *domain.ApprovalRequest) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO approval_requests
			(approval_id, workflow_id, amount, threshold_reason, requested_by,
			 requested_at, expires_at, status, decider, decided_at, reason)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
	`, a.ApprovalID, a.WorkflowID, a.Amount, a.ThresholdReason, a.RequestedBy,
		a.RequestedAt, a.ExpiresAt, a.Status, a.Decider, a.DecidedAt, a.Reason)
	if err != nil {
		return fmt.Errorf("governance: insert approval request: %w", err)
	}
	return nil
}

func (s *ApprovalStore) Get(ctx context.Context, approvalID string) (*domain.ApprovalRequest, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT approval_id, workflow_id, amount, threshold_reason, requested_by,
		       requested_at, expires_at, status, decider, decided_at, reason
		FROM approval_requests WHERE approval_id = $1
	`, approvalID)
	a := &domain.ApprovalRequest{}
	err := row.Scan(&a.ApprovalID, &a.WorkflowID, &a.Amount, &a.ThresholdReason, &a.RequestedBy,
		&a.RequestedAt, &a.ExpiresAt, &a.Status, &a.Decider, &a.DecidedAt, &a.Reason)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, occamerr.NotFound("governance.get_approval", err)
		}
		return nil, fmt.Errorf("governance: get approval request: %w", err)
	}
	return a, nil
}

func (s *ApprovalStore) Update(ctx context.Context, a *domain.ApprovalRequest) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE approval_requests
		SET status = $2, decider = $3, decided_at = $4, reason = $5
		WHERE approval_id = $1
	`, a.ApprovalID, a.Status, a.Decider, a.DecidedAt, a.Reason)
	if err != nil {
		return fmt.Errorf("governance: update approval request: %w", err)
	}
	return nil
}

// Decision is the human input to processApproval.
type Decision struct {
	Approve bool
	Decider string
	Reason  string
}

// processApproval is the deterministic pending -> approved|denied state
// machine from spec.md section 4.4: an expired request can never be
// approved, and once decided the request never moves again.
func processApproval(a *domain.ApprovalRequest, decision Decision, clk clock.Clock) (*domain.ApprovalRequest, error) {
	now := clk.Now()

	if a.IsTerminal() {
		return nil, occamerr.PolicyViolation("governance.process_approval",
			fmt.Errorf("approval request %s already decided as %s", a.ApprovalID, a.Status))
	}

	if a.IsExpired(now) {
		a.Status = domain.ApprovalExpired
		return a, occamerr.Expired("governance.process_approval",
			fmt.Errorf("approval request %s expired at %s", a.ApprovalID, a.ExpiresAt))
	}

	decider := decision.Decider
	reason := decision.Reason
	a.Decider = &decider
	a.DecidedAt = &now
	if reason != "" {
		a.Reason = &reason
	}
	if decision.Approve {
		a.Status = domain.ApprovalApproved
	} else {
		a.Status = domain.ApprovalDenied
	}
	return a, nil
}
