package agent

import (
	"testing"
	"time"

	"github.com/otrix/occam-agents/internal/clock"
)

type fakeAgent struct {
	manifest Manifest
}

func (f *fakeAgent) Manifest() Manifest           { return f.manifest }
func (f *fakeAgent) Execute(c Context) (Result, error) { return Result{AgentID: f.manifest.ID, Success: true}, nil }

func mustRegister(t *testing.T, r *Registry, id string, deps ...string) {
	t.Helper()
	if err := r.Register(&fakeAgent{manifest: Manifest{ID: id, Type: id, Dependencies: deps}}); err != nil {
		t.Fatalf("register %s: %v", id, err)
	}
}

func TestRegistryTopologicalOrder(t *testing.T) {
	r := NewRegistry(clock.NewReal())
	mustRegister(t, r, "compliance")
	mustRegister(t, r, "consultancy", "compliance")
	mustRegister(t, r, "status")

	order := r.GetExecutionOrder()
	pos := make(map[string]int, len(order))
	for i, id := range order {
		pos[id] = i
	}
	if pos["compliance"] >= pos["consultancy"] {
		t.Fatalf("expected compliance before consultancy, got order %v", order)
	}
}

func TestRegisterRefusesUnknownDependency(t *testing.T) {
	r := NewRegistry(clock.NewReal())
	err := r.Register(&fakeAgent{manifest: Manifest{ID: "consultancy", Dependencies: []string{"compliance"}}})
	if err == nil {
		t.Fatal("expected an error registering an agent with an unknown dependency")
	}
}

func TestRegisterRefusesDuplicateID(t *testing.T) {
	r := NewRegistry(clock.NewReal())
	mustRegister(t, r, "compliance")
	if err := r.Register(&fakeAgent{manifest: Manifest{ID: "compliance"}}); err == nil {
		t.Fatal("expected an error re-registering the same agent id")
	}
}

func TestRecordExecutionRollingMean(t *testing.T) {
	r := NewRegistry(clock.NewReal())
	mustRegister(t, r, "compliance")

	r.RecordExecution("compliance", true, 100*time.Millisecond)
	r.RecordExecution("compliance", true, 200*time.Millisecond)

	health, ok := r.Health("compliance")
	if !ok {
		t.Fatal("expected health record to exist")
	}
	if health.Total != 2 || health.Successful != 2 {
		t.Fatalf("expected 2 total/2 successful, got %+v", health)
	}
	if health.RollingMeanMs != 150 {
		t.Fatalf("expected rolling mean 150ms, got %f", health.RollingMeanMs)
	}
}

func TestRecordPanicDemotesAfterBudget(t *testing.T) {
	clk := clock.NewManual(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	r := NewRegistry(clk)
	mustRegister(t, r, "compliance")

	r.RecordPanic("compliance")
	r.RecordPanic("compliance")
	if status, _ := r.Status("compliance"); status == StatusError {
		t.Fatal("expected status to remain active after 2 panics")
	}

	r.RecordPanic("compliance")
	status, _ := r.Status("compliance")
	if status != StatusError {
		t.Fatalf("expected status error after 3 panics within the window, got %s", status)
	}
}

func TestRecordPanicResetsOutsideWindow(t *testing.T) {
	clk := clock.NewManual(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	r := NewRegistry(clk)
	mustRegister(t, r, "compliance")

	r.RecordPanic("compliance")
	r.RecordPanic("compliance")
	clk.Advance(10 * time.Minute)
	r.RecordPanic("compliance")

	status, _ := r.Status("compliance")
	if status == StatusError {
		t.Fatal("expected the panic window to have reset, leaving the agent active")
	}
}

func TestForStageExcludesErrorAgents(t *testing.T) {
	r := NewRegistry(clock.NewReal())
	mustRegister(t, r, "compliance")
	mustRegister(t, r, "consultancy", "compliance")

	r.SetStatus("compliance", StatusError)
	eligible := r.ForStage(nil)
	for _, id := range eligible {
		if id == "compliance" {
			t.Fatal("expected error-status agent to be excluded from ForStage")
		}
	}
}
