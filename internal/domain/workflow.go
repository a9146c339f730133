package domain

import "time"

// Stage is one of the nine workflow states of spec.md section 4.6, plus the
// two extra lifecycle states (pending, awaiting_approval) listed there.
type Stage string

const (
	StageApply            Stage = "apply"
	StageVerify           Stage = "verify"
	StagePay              Stage = "pay"
	StageSubmit           Stage = "submit"
	StageConfirm          Stage = "confirm"
	StageArchive          Stage = "archive"
	StageRenew            Stage = "renew"
	StagePending          Stage = "pending"
	StageAwaitingApproval Stage = "awaiting_approval"
	StageFailed           Stage = "failed"
	StageCompleted        Stage = "completed"
)

// WorkflowStatus mirrors spec.md's Workflow.status enum.
type WorkflowStatus string

const (
	StatusPending           WorkflowStatus = "pending"
	StatusInProgress        WorkflowStatus = "in_progress"
	StatusAwaitingApproval  WorkflowStatus = "awaiting_approval"
	StatusFailed            WorkflowStatus = "failed"
	StatusCompleted         WorkflowStatus = "completed"
)

// ProgressByStage is the deterministic progress percentage table from
// spec.md section 4.6.
var ProgressByStage = map[Stage]int{
	StagePending:          5,
	StageApply:            10,
	StageRenew:            15,
	StageVerify:           25,
	StagePay:              40,
	StageSubmit:           60,
	StageConfirm:          80,
	StageArchive:          90,
	StageCompleted:        100,
	StageFailed:           0,
	StageAwaitingApproval: 40,
}

// terminalStages forbid further transitions except a controlled re-open.
var terminalStages = map[Stage]bool{
	StageCompleted: true,
	StageFailed:    true,
}

// IsTerminal reports whether s is a terminal stage.
func IsTerminal(s Stage) bool { return terminalStages[s] }

// legalTransitions encodes spec.md section 4.6's transition table. "any
// non-terminal -> failed" is handled separately in CanTransition.
var legalTransitions = map[Stage][]Stage{
	StageApply:            {StageVerify},
	StageVerify:           {StagePay, StageSubmit},
	StagePay:              {StageAwaitingApproval, StageSubmit},
	StageAwaitingApproval: {StageSubmit, StageFailed},
	StageSubmit:           {StageConfirm},
	StageConfirm:          {StageArchive},
	StageArchive:          {StageCompleted},
	StageCompleted:        {StageRenew},
}

// CanTransition reports whether moving from -> to is legal.
func CanTransition(from, to Stage) bool {
	if to == StageFailed && !IsTerminal(from) {
		return true
	}
	for _, allowed := range legalTransitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

// StageTransition is one append-only entry in a Workflow's stage history.
type StageTransition struct {
	From     Stage         `json:"from" db:"from_stage"`
	To       Stage         `json:"to" db:"to_stage"`
	Actor    string        `json:"actor" db:"actor"`
	At       time.Time     `json:"at" db:"at"`
	Duration time.Duration `json:"duration" db:"duration"`
}

// Workflow is a single entity's traversal of the stage lifecycle.
type Workflow struct {
	WorkflowID            string            `json:"workflow_id" db:"workflow_id"`
	EntityID              string            `json:"entity_id" db:"entity_id"`
	ParentWorkflowID      *string           `json:"parent_workflow_id,omitempty" db:"parent_workflow_id"`
	CurrentStage          Stage             `json:"current_stage" db:"current_stage"`
	Status                WorkflowStatus    `json:"status" db:"status"`
	CreatedAt             time.Time         `json:"created_at" db:"created_at"`
	UpdatedAt             time.Time         `json:"updated_at" db:"updated_at"`
	CompletedAt           *time.Time        `json:"completed_at,omitempty" db:"completed_at"`
	StageEnteredAt        time.Time         `json:"-" db:"stage_entered_at"`
	StageHistory          []StageTransition `json:"stage_history" db:"-"`
	PendingActions        int               `json:"pending_actions" db:"pending_actions"`
	PriorityScore         int               `json:"priority_score" db:"priority_score"`
	EstimatedCompletionAt *time.Time        `json:"estimated_completion_at,omitempty" db:"estimated_completion_at"`
	IdempotencyKey        string            `json:"idempotency_key" db:"idempotency_key"`
	FailureReason         *string           `json:"failure_reason,omitempty" db:"failure_reason"`
	LastAttemptedStage    *Stage            `json:"last_attempted_stage,omitempty" db:"last_attempted_stage"`
	UncompensatedResidue  []string          `json:"uncompensated_residue,omitempty" db:"-"`
	Kind                  string            `json:"kind,omitempty" db:"kind"`
	Payload               map[string]any    `json:"payload,omitempty" db:"payload"`
}

// Progress returns the deterministic progress percentage for the workflow's
// current stage.
func (w *Workflow) Progress() int {
	return ProgressByStage[w.CurrentStage]
}

// AppendTransition appends a new stage-history entry, computing duration
// from the time the previous stage was entered. Stage-history is
// append-only: callers must never truncate or rewrite w.StageHistory.
func (w *Workflow) AppendTransition(to Stage, actor string, now time.Time) {
	entry := StageTransition{
		From:     w.CurrentStage,
		To:       to,
		Actor:    actor,
		At:       now,
		Duration: now.Sub(w.StageEnteredAt),
	}
	w.StageHistory = append(w.StageHistory, entry)
	w.CurrentStage = to
	w.StageEnteredAt = now
	w.UpdatedAt = now
	if IsTerminal(to) {
		w.CompletedAt = &now
	}
}

// IdempotencyKeyFor builds the (workflow-id, target-stage, attempt) triple
// from spec.md's glossary as a single comparable string key.
func IdempotencyKeyFor(workflowID string, target Stage, attempt int) string {
	return workflowID + "|" + string(target) + "|" + itoa(attempt)
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	neg := n < 0
	if neg {
		n = -n
	}
	var buf [20]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	if neg {
		i--
		buf[i] = '-'
	}
	return string(buf[i:])
}
