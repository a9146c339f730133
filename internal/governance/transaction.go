package governance

import (
	"time"

	"github.com/shopspring/decimal"
)

// Transaction is one monetary action Governance is asked to gate.
type Transaction struct {
	WorkflowID string
	EntityID   string
	Amount     decimal.Decimal
	At         time.Time
}

// ValidationResult is the outcome of validateTransaction (spec.md section
// 4.4).
type ValidationResult struct {
	Allowed           bool
	RequiresApproval  bool
	Violations        []string
	Warnings          []string
	ApprovalRequestID string
}
