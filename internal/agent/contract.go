// Package agent defines the uniform capability contract every specialist
// agent (Compliance, Consultancy, Form, Payment, Account, Status) must
// satisfy, and the Registry that tracks their dependency graph and health.
package agent

import (
	"context"
	"time"

	"github.com/otrix/occam-agents/internal/domain"
)

// Capabilities are the declared traits the Orchestrator consults when
// selecting agents for a stage (spec.md section 4.5).
type Capabilities struct {
	SupportsContextChaining bool
	SupportsZeroDrift       bool
	RequiresOntology        bool
	RequiresFactBox         bool
	CanParallelize          bool
	EstimatedLatencyMs      int
}

// Status is the Registry's view of an agent's operational health.
type Status string

const (
	StatusActive       Status = "active"
	StatusInactive     Status = "inactive"
	StatusError        Status = "error"
	StatusInitializing Status = "initializing"
)

// VaultHandle is the narrow Secure Vault surface an agent context exposes —
// agents never see rotation or password-policy internals.
type VaultHandle interface {
	Get(ctx context.Context, credentialID string) ([]byte, error)
}

// FactBoxHandle is the narrow FactBox surface exposed to agent contexts.
type FactBoxHandle interface {
	GetEntity(ctx context.Context, entityID string) (*domain.Entity, error)
	GetLicensesByEntity(ctx context.Context, entityID string) ([]*domain.License, error)
	VerifyKYC(ctx context.Context, entityID string) (bool, error)
}

// Context is built fresh by the Orchestrator for every agent invocation
// (spec.md section 4.5).
type Context struct {
	Ctx                context.Context
	WorkflowID         string
	EntityID           string
	TraceID            string
	Stage              domain.Stage
	Ontology           map[string]any
	FactBox            FactBoxHandle
	Vault              VaultHandle
	PriorResults       map[string]Result
	ChecksumSeed       *int64
}

// Result is what execute() returns (spec.md section 4.5).
type Result struct {
	AgentID    string
	Success    bool
	Data       map[string]any
	Confidence float64
	Warnings   []string
	Errors     []string
	Latency    time.Duration
}

// RetryPolicy is declared per agent manifest; the Orchestrator applies it.
type RetryPolicy struct {
	MaxRetries  int
	BaseBackoff time.Duration
	MaxBackoff  time.Duration
}

// Agent is the uniform contract every specialist implements.
type Agent interface {
	Manifest() Manifest
	Execute(c Context) (Result, error)
}

// Compensator is an optional second interface: agents with side effects
// that must be undone on stage failure implement it too.
type Compensator interface {
	Compensate(c Context, prior Result) error
}

// Manifest is the declarative registration record (spec.md section 4.8 /
// "Agent plug-in interface").
type Manifest struct {
	ID           string
	Type         string
	Version      string
	Capabilities Capabilities
	Dependencies []string
	RetryPolicy  RetryPolicy
}
