package domain

import "time"

// ApprovalStatus is the Approval Request's terminal-or-pending state.
type ApprovalStatus string

const (
	ApprovalPending  ApprovalStatus = "pending"
	ApprovalApproved ApprovalStatus = "approved"
	ApprovalDenied   ApprovalStatus = "denied"
	ApprovalExpired  ApprovalStatus = "expired"
)

// ApprovalRequest gates a monetary or rate-sensitive action behind a human
// decision (spec.md section 3/4.4).
type ApprovalRequest struct {
	ApprovalID     string         `json:"approval_id" db:"approval_id"`
	WorkflowID     string         `json:"workflow_id" db:"workflow_id"`
	Amount         string         `json:"amount" db:"amount"` // decimal.Decimal serialized
	ThresholdReason string        `json:"threshold_reason" db:"threshold_reason"`
	RequestedBy    string         `json:"requested_by" db:"requested_by"`
	RequestedAt    time.Time      `json:"requested_at" db:"requested_at"`
	ExpiresAt      time.Time      `json:"expires_at" db:"expires_at"`
	Status         ApprovalStatus `json:"status" db:"status"`
	Decider        *string        `json:"decider,omitempty" db:"decider"`
	DecidedAt      *time.Time     `json:"decided_at,omitempty" db:"decided_at"`
	Reason         *string        `json:"reason,omitempty" db:"reason"`
}

// IsExpired reports whether now has crossed ExpiresAt while still pending.
func (a *ApprovalRequest) IsExpired(now time.Time) bool {
	return a.Status == ApprovalPending && !now.Before(a.ExpiresAt)
}

// IsTerminal reports whether the request has reached its one allowed
// terminal transition (spec.md property 8).
func (a *ApprovalRequest) IsTerminal() bool {
	return a.Status != ApprovalPending
}
