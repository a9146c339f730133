package api

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/otrix/occam-agents/internal/factbox"
	"github.com/otrix/occam-agents/internal/status"
	"github.com/otrix/occam-agents/internal/workflow"
)

// WorkflowHandler exposes the Query interface's getWorkflow and
// getEntityStatus operations (spec.md section 6.2).
type WorkflowHandler struct {
	workflows *workflow.Service
	factBox   *factbox.FactBox
	status    *status.Engine
}

func NewWorkflowHandler(workflows *workflow.Service, fb *factbox.FactBox, st *status.Engine) *WorkflowHandler {
	return &WorkflowHandler{workflows: workflows, factBox: fb, status: st}
}

// GetWorkflow handles GET /workflows/:id.
func (h *WorkflowHandler) GetWorkflow(c echo.Context) error {
	w, err := h.workflows.Get(c.Request().Context(), c.Param("id"))
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, w)
}

// GetProgress handles GET /workflows/:id/progress.
func (h *WorkflowHandler) GetProgress(c echo.Context) error {
	snapshot, err := h.status.TrackProgress(c.Request().Context(), c.Param("id"))
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, snapshot)
}

// GetEntityStatus handles GET /entities/:id/status: getEntityStatus(entityId),
// composing FactBox's compliance-score snapshot with the Status Engine's
// risk-scored summary.
func (h *WorkflowHandler) GetEntityStatus(c echo.Context) error {
	ctx := c.Request().Context()
	entityID := c.Param("id")

	summary, err := h.status.GenerateSummary(ctx, entityID)
	if err != nil {
		return writeError(c, err)
	}
	entityStatus, err := h.factBox.GetEntityStatus(ctx, entityID, summary.ActiveWorkflows)
	if err != nil {
		return writeError(c, err)
	}

	return c.JSON(http.StatusOK, map[string]any{
		"entity":  entityStatus,
		"summary": summary,
	})
}

func (h *WorkflowHandler) RegisterRoutes(g *echo.Group) {
	g.GET("/workflows/:id", h.GetWorkflow)
	g.GET("/workflows/:id/progress", h.GetProgress)
	g.GET("/entities/:id/status", h.GetEntityStatus)
}
