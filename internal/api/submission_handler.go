package api

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/otrix/occam-agents/internal/occamerr"
	"github.com/otrix/occam-agents/internal/orchestrator"
)

// SubmissionHandler exposes the Submission interface (spec.md section 6.1).
type SubmissionHandler struct {
	orchestrator *orchestrator.Orchestrator
}

func NewSubmissionHandler(orch *orchestrator.Orchestrator) *SubmissionHandler {
	return &SubmissionHandler{orchestrator: orch}
}

type submitRequestBody struct {
	EntityID       string         `json:"entity_id"`
	Kind           string         `json:"kind"`
	Payload        map[string]any `json:"payload"`
	IdempotencyKey string         `json:"idempotency_key"`
}

// Submit handles POST /workflows: submitRequest(entityId, kind, payload,
// idempotencyKey) -> workflowId. Resubmitting the same idempotency key
// returns the already-created workflow-id rather than creating a duplicate.
func (h *SubmissionHandler) Submit(c echo.Context) error {
	var body submitRequestBody
	if err := c.Bind(&body); err != nil {
		return writeError(c, occamerr.Validation("api.submit", err))
	}
	if body.EntityID == "" {
		return writeError(c, occamerr.Validation("api.submit", errMissingEntityID))
	}

	workflowID, err := h.orchestrator.SubmitRequest(c.Request().Context(), body.EntityID, body.Kind, body.Payload, body.IdempotencyKey)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusAccepted, map[string]string{"workflow_id": workflowID})
}

// Cancel handles POST /workflows/:id/cancel.
func (h *SubmissionHandler) Cancel(c echo.Context) error {
	workflowID := c.Param("id")
	w, err := h.orchestrator.Cancel(c.Request().Context(), workflowID)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, w)
}

// Renew handles POST /workflows/:id/renew: the external trigger for the
// completed -> renew transition of spec.md section 4.6, since nothing else
// in the tree ever calls workflow.Service.Renew on a live workflow.
func (h *SubmissionHandler) Renew(c echo.Context) error {
	workflowID := c.Param("id")
	w, err := h.orchestrator.Renew(c.Request().Context(), workflowID)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusAccepted, w)
}

func (h *SubmissionHandler) RegisterRoutes(g *echo.Group) {
	g.POST("/workflows", h.Submit)
	g.POST("/workflows/:id/cancel", h.Cancel)
	g.POST("/workflows/:id/renew", h.Renew)
}

var errMissingEntityID = missingFieldError("entity_id")

type missingFieldError string

func (e missingFieldError) Error() string { return "missing required field: " + string(e) }
