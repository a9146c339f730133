// Package status implements the Status & Alert Engine (spec.md section
// 4.8): workflow progress snapshots, per-entity risk summaries, and the
// periodic renewal sweep that alerts on expiring licenses.
package status

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/otrix/occam-agents/internal/audit"
	"github.com/otrix/occam-agents/internal/clock"
	"github.com/otrix/occam-agents/internal/config"
	"github.com/otrix/occam-agents/internal/domain"
	"github.com/otrix/occam-agents/internal/factbox"
	"github.com/otrix/occam-agents/internal/workflow"
)

// stageStaleAfter flags a workflow as delayed once it has sat in its
// current non-terminal stage this long without advancing.
const stageStaleAfter = 24 * time.Hour

// RiskLevel is generateSummary's risk-scored output (spec.md section 4.8).
type RiskLevel string

const (
	RiskLow      RiskLevel = "low"
	RiskMedium   RiskLevel = "medium"
	RiskCritical RiskLevel = "critical"
	RiskHigh     RiskLevel = "high"
)

// ProgressSnapshot is trackProgress's return value.
type ProgressSnapshot struct {
	WorkflowID            string
	Stage                 domain.Stage
	PercentComplete       int
	TimeInStage           time.Duration
	Delayed               bool
	EstimatedCompletionAt time.Time
}

// EntitySummary is generateSummary's return value.
type EntitySummary struct {
	EntityID         string
	TotalWorkflows   int
	FailedWorkflows  int
	ActiveWorkflows  int
	AwaitingApproval int
	RiskLevel        RiskLevel
	GeneratedAt      time.Time
}

// Engine ties the Workflow and FactBox read surfaces together with the
// renewal sweep's delivery fan-out.
type Engine struct {
	workflows *workflow.Service
	factBox   *factbox.FactBox
	auditLog  *audit.Log
	clock     clock.Clock
	logger    *zap.Logger
	cfg       config.AlertingConfig
	channels  []Channel
}

func New(workflows *workflow.Service, fb *factbox.FactBox, auditLog *audit.Log, clk clock.Clock, logger *zap.Logger, cfg config.AlertingConfig, channels ...Channel) *Engine {
	return &Engine{
		workflows: workflows,
		factBox:   fb,
		auditLog:  auditLog,
		clock:     clk,
		logger:    logger,
		cfg:       cfg,
		channels:  channels,
	}
}

// TrackProgress reports a workflow's percent-complete, whether it has
// stalled in its current stage, and an estimated completion time of
// now + 3 days per pending action (spec.md section 4.8).
func (e *Engine) TrackProgress(ctx context.Context, workflowID string) (*ProgressSnapshot, error) {
	w, err := e.workflows.Get(ctx, workflowID)
	if err != nil {
		return nil, err
	}

	now := e.clock.Now().UTC()
	timeInStage := now.Sub(w.StageEnteredAt)
	delayed := !domain.IsTerminal(w.CurrentStage) && w.CurrentStage != domain.StageAwaitingApproval && timeInStage > stageStaleAfter

	estimated := now.Add(3 * 24 * time.Hour * time.Duration(w.PendingActions))

	return &ProgressSnapshot{
		WorkflowID:            w.WorkflowID,
		Stage:                 w.CurrentStage,
		PercentComplete:       w.Progress(),
		TimeInStage:           timeInStage,
		Delayed:               delayed,
		EstimatedCompletionAt: estimated,
	}, nil
}

// GenerateSummary aggregates every workflow for entityID into a single
// risk-scored summary (spec.md section 4.8's exact risk formula: critical
// if >30% of workflows failed, high if >10%, medium if an active workflow
// is awaiting_approval, else low).
func (e *Engine) GenerateSummary(ctx context.Context, entityID string) (*EntitySummary, error) {
	workflows, err := e.workflows.ListByEntity(ctx, entityID)
	if err != nil {
		return nil, err
	}

	summary := &EntitySummary{
		EntityID:    entityID,
		GeneratedAt: e.clock.Now().UTC(),
	}
	summary.TotalWorkflows = len(workflows)

	for _, w := range workflows {
		switch w.CurrentStage {
		case domain.StageFailed:
			summary.FailedWorkflows++
		case domain.StageAwaitingApproval:
			summary.AwaitingApproval++
			summary.ActiveWorkflows++
		case domain.StageCompleted:
			// neither active nor failed
		default:
			summary.ActiveWorkflows++
		}
	}

	summary.RiskLevel = riskLevelFor(summary)
	return summary, nil
}

func riskLevelFor(s *EntitySummary) RiskLevel {
	if s.TotalWorkflows == 0 {
		return RiskLow
	}
	failedRatio := float64(s.FailedWorkflows) / float64(s.TotalWorkflows)
	switch {
	case failedRatio > 0.3:
		return RiskCritical
	case failedRatio > 0.1:
		return RiskHigh
	case s.AwaitingApproval > 0:
		return RiskMedium
	default:
		return RiskLow
	}
}
