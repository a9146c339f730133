package builtin

import (
	"context"
	"testing"

	"github.com/otrix/occam-agents/internal/agent"
	"github.com/otrix/occam-agents/internal/domain"
)

type fakeFactBox struct {
	entity    *domain.Entity
	licenses  []*domain.License
	kycOK     bool
	kycErr    error
	entityErr error
}

func (f *fakeFactBox) GetEntity(_ context.Context, _ string) (*domain.Entity, error) {
	return f.entity, f.entityErr
}

func (f *fakeFactBox) GetLicensesByEntity(_ context.Context, _ string) ([]*domain.License, error) {
	return f.licenses, nil
}

func (f *fakeFactBox) VerifyKYC(_ context.Context, _ string) (bool, error) {
	return f.kycOK, f.kycErr
}

func TestComplianceAgentFailsOnUnverifiedKYC(t *testing.T) {
	a := NewComplianceAgent("compliance-agent")
	c := agent.Context{
		Ctx:      context.Background(),
		EntityID: "entity-1",
		FactBox:  &fakeFactBox{kycOK: false},
	}
	result, err := a.Execute(c)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Success {
		t.Fatal("expected compliance agent to fail when KYC is unverified")
	}
	if len(result.Errors) == 0 {
		t.Fatal("expected an error message explaining the failure")
	}
}

func TestComplianceAgentDeclaresFeeAmount(t *testing.T) {
	a := NewComplianceAgent("compliance-agent")
	c := agent.Context{
		Ctx:      context.Background(),
		EntityID: "entity-1",
		FactBox:  &fakeFactBox{kycOK: true},
		Ontology: map[string]any{"fee_amount": "150.00"},
	}
	result, err := a.Execute(c)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !result.Success {
		t.Fatalf("expected success, got errors %v", result.Errors)
	}
	if amount, _ := result.Data["amount"].(string); amount != "150.00" {
		t.Fatalf("expected declared amount 150.00, got %v", result.Data["amount"])
	}
}

func TestComplianceAgentOmitsAmountWithoutFee(t *testing.T) {
	a := NewComplianceAgent("compliance-agent")
	c := agent.Context{
		Ctx:      context.Background(),
		EntityID: "entity-1",
		FactBox:  &fakeFactBox{kycOK: true},
	}
	result, err := a.Execute(c)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, ok := result.Data["amount"]; ok {
		t.Fatal("expected no amount to be declared absent a fee_amount hint")
	}
}

func TestPaymentAgentCarriesAmountForwardFromPriorResults(t *testing.T) {
	a := NewPaymentAgent("payment-agent")
	c := agent.Context{
		Ctx: context.Background(),
		PriorResults: map[string]agent.Result{
			"compliance-agent": {AgentID: "compliance-agent", Success: true, Data: map[string]any{"amount": "150.00"}},
		},
	}
	result, err := a.Execute(c)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if amount, _ := result.Data["amount"].(string); amount != "150.00" {
		t.Fatalf("expected payment agent to charge 150.00, got %v", result.Data["amount"])
	}
	if charged, _ := result.Data["charged"].(bool); !charged {
		t.Fatal("expected charged=true")
	}
}

func TestPaymentAgentImplementsCompensator(t *testing.T) {
	a := NewPaymentAgent("payment-agent")
	var _ agent.Compensator = a

	err := a.Compensate(agent.Context{Ctx: context.Background(), WorkflowID: "wf-1"},
		agent.Result{Data: map[string]any{"amount": "150.00"}})
	if err != nil {
		t.Fatalf("unexpected error compensating: %v", err)
	}
}

func TestConsultancyAgentDeclaresComplianceDependency(t *testing.T) {
	a := NewConsultancyAgent("consultancy-agent", "compliance-agent")
	m := a.Manifest()
	if len(m.Dependencies) != 1 || m.Dependencies[0] != "compliance-agent" {
		t.Fatalf("expected consultancy agent to depend on compliance-agent, got %v", m.Dependencies)
	}
}

func TestAccountAgentReportsEntityName(t *testing.T) {
	a := NewAccountAgent("account-agent")
	c := agent.Context{
		Ctx:     context.Background(),
		FactBox: &fakeFactBox{entity: &domain.Entity{EntityID: "entity-1", Name: "Acme Corp"}},
	}
	result, err := a.Execute(c)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if name, _ := result.Data["entity_name"].(string); name != "Acme Corp" {
		t.Fatalf("expected entity_name Acme Corp, got %v", result.Data["entity_name"])
	}
}

func TestFormAndStatusAgentsSucceedUnconditionally(t *testing.T) {
	c := agent.Context{Ctx: context.Background()}
	if result, err := NewFormAgent("form-agent").Execute(c); err != nil || !result.Success {
		t.Fatalf("expected form agent to succeed, got %+v, err %v", result, err)
	}
	if result, err := NewStatusAgent("status-agent").Execute(c); err != nil || !result.Success {
		t.Fatalf("expected status agent to succeed, got %+v, err %v", result, err)
	}
}
