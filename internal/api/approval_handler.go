package api

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/otrix/occam-agents/internal/domain"
	"github.com/otrix/occam-agents/internal/governance"
	"github.com/otrix/occam-agents/internal/occamerr"
	"github.com/otrix/occam-agents/internal/orchestrator"
)

// ApprovalHandler exposes the Query interface's getApproval and the
// Approval interface's decideApproval (spec.md section 6.2/6.3).
type ApprovalHandler struct {
	governance   *governance.Governance
	orchestrator *orchestrator.Orchestrator
}

func NewApprovalHandler(gov *governance.Governance, orch *orchestrator.Orchestrator) *ApprovalHandler {
	return &ApprovalHandler{governance: gov, orchestrator: orch}
}

// GetApproval handles GET /approvals/:id.
func (h *ApprovalHandler) GetApproval(c echo.Context) error {
	approval, err := h.governance.GetApproval(c.Request().Context(), c.Param("id"))
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, approval)
}

type decisionBody struct {
	Decider  string `json:"decider"`
	Decision string `json:"decision"` // "approve" | "deny"
	Reason   string `json:"reason,omitempty"`
}

// Decide handles POST /approvals/:id/decision: decideApproval(requestId,
// decider, decision, reason?). On approve, the gated workflow resumes to
// submit; on deny it transitions to failed with reason approval_denied.
func (h *ApprovalHandler) Decide(c echo.Context) error {
	ctx := c.Request().Context()
	approvalID := c.Param("id")

	var body decisionBody
	if err := c.Bind(&body); err != nil {
		return writeError(c, occamerr.Validation("api.decide_approval", err))
	}
	if body.Decider == "" {
		return writeError(c, occamerr.Validation("api.decide_approval", missingFieldError("decider")))
	}

	approve := body.Decision == "approve"
	decided, err := h.governance.ProcessApproval(ctx, approvalID, governance.Decision{
		Approve: approve,
		Decider: body.Decider,
		Reason:  body.Reason,
	})
	if err != nil {
		return writeError(c, err)
	}

	w, err := h.orchestrator.ResumeAfterApproval(ctx, decided.WorkflowID, decided.Status == domain.ApprovalApproved)
	if err != nil {
		return writeError(c, err)
	}

	return c.JSON(http.StatusOK, map[string]any{"approval": decided, "workflow": w})
}

func (h *ApprovalHandler) RegisterRoutes(g *echo.Group) {
	g.GET("/approvals/:id", h.GetApproval)
	g.POST("/approvals/:id/decision", h.Decide)
}
