package api

import (
	"net/http"
	"strconv"

	"github.com/golang-jwt/jwt/v5"
	"github.com/labstack/echo/v4"

	"github.com/otrix/occam-agents/internal/audit"
	"github.com/otrix/occam-agents/internal/domain"
)

// AuditHandler exposes the Query interface's queryAudit operation (spec.md
// section 6.2), adapted from the teacher's AuditHandler.
type AuditHandler struct {
	auditLog *audit.Log
}

func NewAuditHandler(auditLog *audit.Log) *AuditHandler {
	return &AuditHandler{auditLog: auditLog}
}

// QueryAudit handles GET /audit: queryAudit(filter). The accessor-id comes
// from the authenticated JWT subject set by echo-jwt middleware upstream.
func (h *AuditHandler) QueryAudit(c echo.Context) error {
	filter := domain.AuditEventFilter{
		TraceID:    c.QueryParam("trace_id"),
		EntityID:   c.QueryParam("entity_id"),
		WorkflowID: c.QueryParam("workflow_id"),
	}
	if limit, err := strconv.Atoi(c.QueryParam("limit")); err == nil {
		filter.Limit = limit
	}
	if offset, err := strconv.Atoi(c.QueryParam("offset")); err == nil {
		filter.Offset = offset
	}

	events, err := h.auditLog.Query(c.Request().Context(), accessorID(c), filter)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, events)
}

// SearchAudit handles GET /audit/search.
func (h *AuditHandler) SearchAudit(c echo.Context) error {
	query := c.QueryParam("q")
	from, _ := strconv.Atoi(c.QueryParam("from"))
	size, _ := strconv.Atoi(c.QueryParam("size"))
	if size == 0 {
		size = 20
	}

	events, err := h.auditLog.Search(c.Request().Context(), query, from, size)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, events)
}

func (h *AuditHandler) RegisterRoutes(g *echo.Group) {
	g.GET("/audit", h.QueryAudit)
	g.GET("/audit/search", h.SearchAudit)
}

// accessorID extracts the authenticated caller's subject claim set by
// echojwt.WithConfig, falling back to "anonymous" when auth is disabled.
func accessorID(c echo.Context) string {
	token, ok := c.Get("user").(*jwt.Token)
	if !ok || token == nil {
		return "anonymous"
	}
	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return "anonymous"
	}
	sub, _ := claims["sub"].(string)
	if sub == "" {
		return "anonymous"
	}
	return sub
}
