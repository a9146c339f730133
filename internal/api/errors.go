// Package api implements the HTTP transport for the Submission, Query, and
// Approval external interfaces (spec.md section 6), adapted from the
// teacher's internal/api/audit_handler.go handler-per-resource convention.
package api

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/otrix/occam-agents/internal/occamerr"
)

// writeError maps an occamerr.Kind to the HTTP status spec.md section 7's
// propagation policy implies: validation/not-found/etc. surface verbatim to
// the caller, transient and integrity failures are server errors.
func writeError(c echo.Context, err error) error {
	status := http.StatusInternalServerError
	switch occamerr.KindOf(err) {
	case occamerr.KindValidation, occamerr.KindPolicyViolation:
		status = http.StatusBadRequest
	case occamerr.KindNotFound:
		status = http.StatusNotFound
	case occamerr.KindExpired:
		status = http.StatusGone
	case occamerr.KindUnauthorized:
		status = http.StatusUnauthorized
	case occamerr.KindTransient:
		status = http.StatusServiceUnavailable
	case occamerr.KindIntegrity:
		status = http.StatusInternalServerError
	case occamerr.KindIndeterminate:
		status = http.StatusAccepted
	}
	return c.JSON(status, map[string]string{"error": err.Error()})
}
