package api

import (
	"os"

	"github.com/golang-jwt/jwt/v5"
	echojwt "github.com/labstack/echo-jwt/v4"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"go.uber.org/zap"

	"github.com/otrix/occam-agents/internal/audit"
	"github.com/otrix/occam-agents/internal/config"
	"github.com/otrix/occam-agents/internal/factbox"
	"github.com/otrix/occam-agents/internal/governance"
	"github.com/otrix/occam-agents/internal/orchestrator"
	"github.com/otrix/occam-agents/internal/status"
	"github.com/otrix/occam-agents/internal/workflow"
)

// NewServer builds the echo.Echo wiring every handler under one JWT-guarded
// group, following the teacher's cmd/server/main.go setup.
func NewServer(
	cfg config.AuthConfig,
	workflows *workflow.Service,
	fb *factbox.FactBox,
	st *status.Engine,
	gov *governance.Governance,
	orch *orchestrator.Orchestrator,
	auditLog *audit.Log,
	logger *zap.Logger,
) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.Use(middleware.Logger())
	e.Use(middleware.Recover())
	e.Use(middleware.CORS())

	e.GET("/health", func(c echo.Context) error {
		return c.JSON(200, map[string]string{"status": "ok"})
	})

	apiGroup := e.Group("/api/v1")

	keyData, err := os.ReadFile(cfg.JWTPublicKeyPath)
	var signingKey interface{}
	if err == nil {
		signingKey, err = jwt.ParseRSAPublicKeyFromPEM(keyData)
		if err != nil {
			logger.Warn("failed to parse JWT public key", zap.Error(err))
		}
	} else {
		logger.Warn("JWT public key not found, authentication disabled", zap.String("path", cfg.JWTPublicKeyPath))
	}
	if signingKey != nil {
		apiGroup.Use(echojwt.WithConfig(echojwt.Config{
			SigningKey:    signingKey,
			SigningMethod: "RS256",
			NewClaimsFunc: func(c echo.Context) jwt.Claims { return jwt.MapClaims{} },
		}))
		logger.Info("JWT authentication enabled")
	} else {
		logger.Warn("JWT authentication disabled: missing public key")
	}

	NewSubmissionHandler(orch).RegisterRoutes(apiGroup)
	NewWorkflowHandler(workflows, fb, st).RegisterRoutes(apiGroup)
	NewApprovalHandler(gov, orch).RegisterRoutes(apiGroup)
	NewAuditHandler(auditLog).RegisterRoutes(apiGroup)

	return e
}
