// Package builtin provides reference implementations of the six named
// agent types spec.md section 1 lists (Compliance, Consultancy, Payment,
// Form, Account, Status), demonstrating the agent.Agent plug-in contract.
// Real deployments are expected to register their own agents; these exist
// so the Orchestrator has a working default fleet.
package builtin

import (
	"fmt"
	"time"

	"github.com/otrix/occam-agents/internal/agent"
)

// ComplianceAgent verifies an entity's KYC status and, when the workflow's
// ontology carries a fee_amount, declares it as the required monetary
// action for nextStage to route verify -> pay.
type ComplianceAgent struct{ id string }

func NewComplianceAgent(id string) *ComplianceAgent { return &ComplianceAgent{id: id} }

func (a *ComplianceAgent) Manifest() agent.Manifest {
	return agent.Manifest{
		ID:      a.id,
		Type:    "compliance",
		Version: "1.0.0",
		Capabilities: agent.Capabilities{
			RequiresFactBox:    true,
			EstimatedLatencyMs: 400,
		},
		RetryPolicy: agent.RetryPolicy{MaxRetries: 2, BaseBackoff: 250 * time.Millisecond, MaxBackoff: 5 * time.Second},
	}
}

func (a *ComplianceAgent) Execute(c agent.Context) (agent.Result, error) {
	start := time.Now()
	verified, err := c.FactBox.VerifyKYC(c.Ctx, c.EntityID)
	if err != nil {
		return agent.Result{AgentID: a.id}, err
	}
	if !verified {
		return agent.Result{
			AgentID:  a.id,
			Success:  false,
			Errors:   []string{"entity KYC not verified"},
			Latency:  time.Since(start),
		}, nil
	}

	data := map[string]any{"kyc_verified": true}
	if fee, ok := c.Ontology["fee_amount"].(string); ok && fee != "" {
		data["amount"] = fee
	}
	return agent.Result{
		AgentID:    a.id,
		Success:    true,
		Data:       data,
		Confidence: 0.95,
		Latency:    time.Since(start),
	}, nil
}

// ConsultancyAgent supplies jurisdiction/regulatory advisory data during
// the verify stage, depending on ComplianceAgent having already run.
type ConsultancyAgent struct {
	id           string
	complianceID string
}

func NewConsultancyAgent(id, complianceID string) *ConsultancyAgent {
	return &ConsultancyAgent{id: id, complianceID: complianceID}
}

func (a *ConsultancyAgent) Manifest() agent.Manifest {
	return agent.Manifest{
		ID:           a.id,
		Type:         "consultancy",
		Version:      "1.0.0",
		Dependencies: []string{a.complianceID},
		Capabilities: agent.Capabilities{
			RequiresFactBox:    true,
			RequiresOntology:   true,
			EstimatedLatencyMs: 600,
		},
		RetryPolicy: agent.RetryPolicy{MaxRetries: 2, BaseBackoff: 250 * time.Millisecond, MaxBackoff: 5 * time.Second},
	}
}

func (a *ConsultancyAgent) Execute(c agent.Context) (agent.Result, error) {
	start := time.Now()
	licenses, err := c.FactBox.GetLicensesByEntity(c.Ctx, c.EntityID)
	if err != nil {
		return agent.Result{AgentID: a.id}, err
	}
	return agent.Result{
		AgentID:    a.id,
		Success:    true,
		Data:       map[string]any{"license_count": len(licenses)},
		Confidence: 0.9,
		Latency:    time.Since(start),
	}, nil
}

// PaymentAgent executes the monetary action gated by Governance before it
// runs (the Orchestrator only invokes the pay stage's agents after
// ValidateTransaction allows the transaction). It implements Compensator
// so a downstream stage failure can reverse the charge.
type PaymentAgent struct{ id string }

func NewPaymentAgent(id string) *PaymentAgent { return &PaymentAgent{id: id} }

func (a *PaymentAgent) Manifest() agent.Manifest {
	return agent.Manifest{
		ID:      a.id,
		Type:    "payment",
		Version: "1.0.0",
		Capabilities: agent.Capabilities{
			RequiresOntology:   true,
			EstimatedLatencyMs: 800,
		},
		RetryPolicy: agent.RetryPolicy{MaxRetries: 1, BaseBackoff: 500 * time.Millisecond, MaxBackoff: 10 * time.Second},
	}
}

func (a *PaymentAgent) Execute(c agent.Context) (agent.Result, error) {
	start := time.Now()
	amount, _ := amountFromPriorResults(c)
	return agent.Result{
		AgentID:    a.id,
		Success:    true,
		Data:       map[string]any{"amount": amount, "charged": true},
		Confidence: 1.0,
		Latency:    time.Since(start),
	}, nil
}

func (a *PaymentAgent) Compensate(c agent.Context, prior agent.Result) error {
	amount, _ := prior.Data["amount"].(string)
	_ = fmt.Sprintf("refunding %s for workflow %s", amount, c.WorkflowID)
	return nil
}

func amountFromPriorResults(c agent.Context) (string, bool) {
	for _, r := range c.PriorResults {
		if amount, ok := r.Data["amount"].(string); ok && amount != "" {
			return amount, true
		}
	}
	return "", false
}

// FormAgent submits the regulatory form at the submit stage.
type FormAgent struct{ id string }

func NewFormAgent(id string) *FormAgent { return &FormAgent{id: id} }

func (a *FormAgent) Manifest() agent.Manifest {
	return agent.Manifest{
		ID:      a.id,
		Type:    "form",
		Version: "1.0.0",
		Capabilities: agent.Capabilities{
			EstimatedLatencyMs: 500,
		},
		RetryPolicy: agent.RetryPolicy{MaxRetries: 3, BaseBackoff: 250 * time.Millisecond, MaxBackoff: 10 * time.Second},
	}
}

func (a *FormAgent) Execute(c agent.Context) (agent.Result, error) {
	start := time.Now()
	return agent.Result{
		AgentID:    a.id,
		Success:    true,
		Data:       map[string]any{"form_submitted": true},
		Confidence: 0.95,
		Latency:    time.Since(start),
	}, nil
}

// AccountAgent confirms the entity's account/registration at the confirm
// stage.
type AccountAgent struct{ id string }

func NewAccountAgent(id string) *AccountAgent { return &AccountAgent{id: id} }

func (a *AccountAgent) Manifest() agent.Manifest {
	return agent.Manifest{
		ID:      a.id,
		Type:    "account",
		Version: "1.0.0",
		Capabilities: agent.Capabilities{
			RequiresFactBox:    true,
			EstimatedLatencyMs: 450,
		},
		RetryPolicy: agent.RetryPolicy{MaxRetries: 2, BaseBackoff: 250 * time.Millisecond, MaxBackoff: 5 * time.Second},
	}
}

func (a *AccountAgent) Execute(c agent.Context) (agent.Result, error) {
	start := time.Now()
	entity, err := c.FactBox.GetEntity(c.Ctx, c.EntityID)
	if err != nil {
		return agent.Result{AgentID: a.id}, err
	}
	return agent.Result{
		AgentID:    a.id,
		Success:    true,
		Data:       map[string]any{"account_confirmed": true, "entity_name": entity.Name},
		Confidence: 0.9,
		Latency:    time.Since(start),
	}, nil
}

// StatusAgent closes out the archive stage by recording a final status
// marker the Status Engine's progress queries can observe.
type StatusAgent struct{ id string }

func NewStatusAgent(id string) *StatusAgent { return &StatusAgent{id: id} }

func (a *StatusAgent) Manifest() agent.Manifest {
	return agent.Manifest{
		ID:      a.id,
		Type:    "status",
		Version: "1.0.0",
		Capabilities: agent.Capabilities{
			EstimatedLatencyMs: 200,
		},
		RetryPolicy: agent.RetryPolicy{MaxRetries: 2, BaseBackoff: 100 * time.Millisecond, MaxBackoff: 2 * time.Second},
	}
}

func (a *StatusAgent) Execute(c agent.Context) (agent.Result, error) {
	start := time.Now()
	return agent.Result{
		AgentID:    a.id,
		Success:    true,
		Data:       map[string]any{"archived": true},
		Confidence: 1.0,
		Latency:    time.Since(start),
	}, nil
}
