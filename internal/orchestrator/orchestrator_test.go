package orchestrator

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/otrix/occam-agents/internal/agent"
	"github.com/otrix/occam-agents/internal/audit"
	"github.com/otrix/occam-agents/internal/clock"
	"github.com/otrix/occam-agents/internal/config"
	"github.com/otrix/occam-agents/internal/crypto"
	"github.com/otrix/occam-agents/internal/domain"
	"github.com/otrix/occam-agents/internal/governance"
	"github.com/otrix/occam-agents/internal/occamerr"
)

// fakeLedger is an in-memory ledgerStore, letting tests exercise a real
// *audit.Log (and therefore the real Trail/Step/Complete machinery) without
// Postgres.
type fakeLedger struct {
	mu     sync.Mutex
	events []*domain.AuditEvent
	sigs   map[string]string
}

func (f *fakeLedger) Append(ctx context.Context, event *domain.AuditEvent, signature string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, event)
	if f.sigs == nil {
		f.sigs = map[string]string{}
	}
	f.sigs[event.EventID] = signature
	return nil
}

func (f *fakeLedger) Query(ctx context.Context, filter domain.AuditEventFilter) ([]*domain.AuditEvent, error) {
	return nil, nil
}

func (f *fakeLedger) SignatureFor(ctx context.Context, eventID string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.sigs[eventID], nil
}

func (f *fakeLedger) RecordAccess(ctx context.Context, access domain.AuditAccessLog) error { return nil }

func (f *fakeLedger) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.events)
}

func newTestAuditLog(t *testing.T, clk clock.Clock) *audit.Log {
	t.Helper()
	enc, err := crypto.NewFieldEncryptor(
		[]string{"AAECAwQFBgcICQoLDA0ODxAREhMUFRYXGBkaGxwdHh8="}, 1,
		"AQIDBAUGBwgJCgsMDQ4PEBESExQVFhcYGRobHB0eHyA=",
	)
	if err != nil {
		t.Fatalf("build field encryptor: %v", err)
	}
	return audit.NewLog(&fakeLedger{}, nil, nil, enc, clk, zap.NewNop())
}

// fakeWorkflowService is an in-memory workflowService, tracking every
// AdvanceStage/Fail/Renew call so tests can assert on them directly.
type fakeWorkflowService struct {
	mu           sync.Mutex
	workflows    map[string]*domain.Workflow
	advanceCalls []domain.Stage
	failCalls    []struct {
		reason  string
		residue []string
	}
	renewCalls []string
}

func newFakeWorkflowService(w *domain.Workflow) *fakeWorkflowService {
	return &fakeWorkflowService{workflows: map[string]*domain.Workflow{w.WorkflowID: w}}
}

func (f *fakeWorkflowService) Get(ctx context.Context, workflowID string) (*domain.Workflow, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	w, ok := f.workflows[workflowID]
	if !ok {
		return nil, fmt.Errorf("workflow %s not found", workflowID)
	}
	return w, nil
}

func (f *fakeWorkflowService) SubmitRequest(ctx context.Context, entityID, kind string, payload map[string]any, idempotencyKey string) (string, error) {
	return "", fmt.Errorf("fakeWorkflowService: SubmitRequest not used by runStage/Drive tests")
}

func (f *fakeWorkflowService) AdvanceStage(ctx context.Context, workflowID string, to domain.Stage, actor string, attempt int) (*domain.Workflow, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	w := f.workflows[workflowID]
	w.CurrentStage = to
	f.advanceCalls = append(f.advanceCalls, to)
	return w, nil
}

func (f *fakeWorkflowService) Fail(ctx context.Context, workflowID, reason string, residue []string) (*domain.Workflow, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	w := f.workflows[workflowID]
	w.CurrentStage = domain.StageFailed
	f.failCalls = append(f.failCalls, struct {
		reason  string
		residue []string
	}{reason, residue})
	return w, nil
}

func (f *fakeWorkflowService) Renew(ctx context.Context, workflowID string) (*domain.Workflow, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.renewCalls = append(f.renewCalls, workflowID)
	return nil, fmt.Errorf("fakeWorkflowService: Renew not used by these tests")
}

// fakeGovernance is a governanceGate fake the pay-stage tests configure.
type fakeGovernance struct {
	validation governance.ValidationResult
	recorded   []governance.Transaction
}

func (f *fakeGovernance) ValidateTransaction(ctx context.Context, t governance.Transaction) (governance.ValidationResult, error) {
	return f.validation, nil
}

func (f *fakeGovernance) RecordTransaction(ctx context.Context, t governance.Transaction) error {
	f.recorded = append(f.recorded, t)
	return nil
}

type fakeFactBox struct{}

func (fakeFactBox) GetEntity(ctx context.Context, entityID string) (*domain.Entity, error) {
	return nil, nil
}
func (fakeFactBox) GetLicensesByEntity(ctx context.Context, entityID string) ([]*domain.License, error) {
	return nil, nil
}
func (fakeFactBox) VerifyKYC(ctx context.Context, entityID string) (bool, error) { return true, nil }

type fakeVaultHandle struct{}

func (fakeVaultHandle) Get(ctx context.Context, credentialID string) ([]byte, error) { return nil, nil }

// testAgent is a minimal agent.Agent, mirroring the pack's fakeAgent
// pattern but with a configurable Execute body so each test can script its
// own success/failure/ordering behavior.
type testAgent struct {
	manifest    agent.Manifest
	execute     func(agent.Context) (agent.Result, error)
	invocations int32
}

func (a *testAgent) Manifest() agent.Manifest { return a.manifest }

func (a *testAgent) Execute(c agent.Context) (agent.Result, error) {
	atomic.AddInt32(&a.invocations, 1)
	return a.execute(c)
}

func (a *testAgent) invokedCount() int32 { return atomic.LoadInt32(&a.invocations) }

// compensatingAgent wraps testAgent with a Compensator implementation.
type compensatingAgent struct {
	testAgent
	compensations int32
}

func (a *compensatingAgent) Compensate(c agent.Context, prior agent.Result) error {
	atomic.AddInt32(&a.compensations, 1)
	return nil
}

func testOrchestrator(t *testing.T, clk clock.Clock, workflows workflowService, gov governanceGate, registrations ...agent.Agent) *Orchestrator {
	t.Helper()
	registry := agent.NewRegistry(clk)
	for _, a := range registrations {
		if err := registry.Register(a); err != nil {
			t.Fatalf("register agent: %v", err)
		}
	}
	cfg := config.OrchestratorConfig{
		WorkerPoolSize:          4,
		MaxRetries:              2,
		RetryBaseMs:             1,
		RetryCapMs:              5,
		StageDeadlineMultiplier: 10,
		StageDeadlineMaxMs:      5000,
	}
	return New(registry, workflows, gov, fakeFactBox{}, fakeVaultHandle{}, newTestAuditLog(t, clk), clk, zap.NewNop(), cfg)
}

func newTestWorkflow(stage domain.Stage) *domain.Workflow {
	now := time.Now().UTC()
	return &domain.Workflow{
		WorkflowID:     "wf-1",
		EntityID:       "entity-1",
		CurrentStage:   stage,
		Status:         domain.StatusInProgress,
		CreatedAt:      now,
		UpdatedAt:      now,
		StageEnteredAt: now,
		IdempotencyKey: "idem-1",
	}
}

// TestRunStageSkipsAgentWithUnsatisfiedDependency covers review comment #1:
// an agent excluded from this stage (demoted to error status) leaves its
// dependent's declared dependency unsatisfied, which must skip invoking the
// dependent and fail the stage rather than just logging a warning.
func TestRunStageSkipsAgentWithUnsatisfiedDependency(t *testing.T) {
	clk := clock.NewReal()
	upstream := &testAgent{
		manifest: agent.Manifest{ID: "a", Type: "compliance"},
		execute:  func(agent.Context) (agent.Result, error) { return agent.Result{AgentID: "a", Success: true}, nil },
	}
	downstream := &testAgent{
		manifest: agent.Manifest{ID: "b", Type: "compliance", Dependencies: []string{"a"}},
		execute:  func(agent.Context) (agent.Result, error) { return agent.Result{AgentID: "b", Success: true}, nil },
	}

	registry := agent.NewRegistry(clk)
	if err := registry.Register(upstream); err != nil {
		t.Fatalf("register a: %v", err)
	}
	if err := registry.Register(downstream); err != nil {
		t.Fatalf("register b: %v", err)
	}
	registry.SetStatus("a", agent.StatusError)

	w := newTestWorkflow(domain.StageApply)
	workflows := newFakeWorkflowService(w)

	cfg := config.OrchestratorConfig{WorkerPoolSize: 4, MaxRetries: 0, RetryBaseMs: 1, RetryCapMs: 5, StageDeadlineMultiplier: 10, StageDeadlineMaxMs: 5000}
	o := &Orchestrator{
		registry: registry, workflows: workflows, governance: &fakeGovernance{},
		factBox: fakeFactBox{}, vault: fakeVaultHandle{}, auditLog: newTestAuditLog(t, clk),
		clock: clk, logger: zap.NewNop(), cfg: cfg, pool: NewWorkerPool(cfg.WorkerPoolSize),
	}

	result, err := o.runStage(context.Background(), w)
	if err != nil {
		t.Fatalf("runStage returned an error rather than a failed workflow: %v", err)
	}
	if result.CurrentStage != domain.StageFailed {
		t.Fatalf("expected stage failed, got %s", result.CurrentStage)
	}
	if downstream.invokedCount() != 0 {
		t.Fatalf("expected agent b to never be invoked when its dependency is unsatisfied, invoked %d times", downstream.invokedCount())
	}
	if len(workflows.failCalls) != 1 {
		t.Fatalf("expected exactly one Fail call, got %d", len(workflows.failCalls))
	}
}

// TestRunStageInvokesDependencyOrderSequentially covers spec.md section 8
// property 9: when agents are not all can-parallelize, a dependent only
// runs after its dependency has produced a successful result.
func TestRunStageInvokesDependencyOrderSequentially(t *testing.T) {
	clk := clock.NewReal()
	var mu sync.Mutex
	var order []string

	upstream := &testAgent{
		manifest: agent.Manifest{ID: "a", Type: "compliance"},
		execute: func(agent.Context) (agent.Result, error) {
			mu.Lock()
			order = append(order, "a")
			mu.Unlock()
			return agent.Result{AgentID: "a", Success: true}, nil
		},
	}
	downstream := &testAgent{
		manifest: agent.Manifest{ID: "b", Type: "compliance", Dependencies: []string{"a"}},
		execute: func(agent.Context) (agent.Result, error) {
			mu.Lock()
			order = append(order, "b")
			mu.Unlock()
			return agent.Result{AgentID: "b", Success: true}, nil
		},
	}

	w := newTestWorkflow(domain.StageApply)
	workflows := newFakeWorkflowService(w)
	o := testOrchestrator(t, clk, workflows, &fakeGovernance{}, upstream, downstream)

	if _, err := o.runStage(context.Background(), w); err != nil {
		t.Fatalf("runStage: %v", err)
	}
	if len(order) != 2 || order[0] != "a" || order[1] != "b" {
		t.Fatalf("expected invocation order [a b], got %v", order)
	}
	if len(workflows.advanceCalls) != 1 || workflows.advanceCalls[0] != domain.StageVerify {
		t.Fatalf("expected a single advance to verify, got %v", workflows.advanceCalls)
	}
}

// TestRunStageRunsCanParallelizeAgentsConcurrently covers review comment #2:
// agents at the same dependency level that all declare can-parallelize must
// actually run concurrently, not strictly one at a time. Each agent blocks
// until both have started, so a sequential implementation would time out.
func TestRunStageRunsCanParallelizeAgentsConcurrently(t *testing.T) {
	clk := clock.NewReal()
	var started int32
	bothStarted := make(chan struct{})
	var closeOnce sync.Once

	makeAgent := func(id string) *testAgent {
		return &testAgent{
			manifest: agent.Manifest{ID: id, Type: "compliance", Capabilities: agent.Capabilities{CanParallelize: true}},
			execute: func(agent.Context) (agent.Result, error) {
				if atomic.AddInt32(&started, 1) == 2 {
					closeOnce.Do(func() { close(bothStarted) })
				}
				select {
				case <-bothStarted:
					return agent.Result{AgentID: id, Success: true}, nil
				case <-time.After(2 * time.Second):
					return agent.Result{AgentID: id, Success: false}, fmt.Errorf("timed out waiting for the other parallel agent to start")
				}
			},
		}
	}

	a := makeAgent("a")
	b := makeAgent("b")

	w := newTestWorkflow(domain.StageApply)
	workflows := newFakeWorkflowService(w)
	o := testOrchestrator(t, clk, workflows, &fakeGovernance{}, a, b)

	result, err := o.runStage(context.Background(), w)
	if err != nil {
		t.Fatalf("runStage: %v", err)
	}
	if result.CurrentStage != domain.StageVerify {
		t.Fatalf("expected both parallel agents to succeed and advance to verify, got %s", result.CurrentStage)
	}
}

// TestAgentLevelsGroupsIndependentAgents covers the dependency-wave
// grouping review comment #2's concurrency decision is built on.
func TestAgentLevelsGroupsIndependentAgents(t *testing.T) {
	clk := clock.NewReal()
	registry := agent.NewRegistry(clk)
	mustRegisterOrchestratorAgent(t, registry, "a")
	mustRegisterOrchestratorAgent(t, registry, "b")
	mustRegisterOrchestratorAgent(t, registry, "c", "a")

	o := &Orchestrator{registry: registry}
	levels := o.agentLevels(registry.GetExecutionOrder())

	if len(levels) != 2 {
		t.Fatalf("expected 2 levels, got %d: %v", len(levels), levels)
	}
	level0 := map[string]bool{}
	for _, id := range levels[0] {
		level0[id] = true
	}
	if !level0["a"] || !level0["b"] {
		t.Fatalf("expected a and b in level 0, got %v", levels[0])
	}
	if len(levels[1]) != 1 || levels[1][0] != "c" {
		t.Fatalf("expected c alone in level 1, got %v", levels[1])
	}
}

func mustRegisterOrchestratorAgent(t *testing.T, r *agent.Registry, id string, deps ...string) {
	t.Helper()
	a := &testAgent{manifest: agent.Manifest{ID: id, Type: id, Dependencies: deps}, execute: func(agent.Context) (agent.Result, error) {
		return agent.Result{AgentID: id, Success: true}, nil
	}}
	if err := r.Register(a); err != nil {
		t.Fatalf("register %s: %v", id, err)
	}
}

// TestInvokeWithRetryRetriesTransientFailures covers scenario S4: a
// transient failure is retried up to the agent's policy before succeeding.
func TestInvokeWithRetryRetriesTransientFailures(t *testing.T) {
	clk := clock.NewReal()
	var attempts int32
	flaky := &testAgent{
		manifest: agent.Manifest{
			ID: "flaky", Type: "compliance",
			RetryPolicy: agent.RetryPolicy{MaxRetries: 3, BaseBackoff: time.Millisecond, MaxBackoff: 5 * time.Millisecond},
		},
		execute: func(agent.Context) (agent.Result, error) {
			if atomic.AddInt32(&attempts, 1) < 3 {
				return agent.Result{}, occamerr.Transient("test.flaky", fmt.Errorf("not yet"))
			}
			return agent.Result{AgentID: "flaky", Success: true}, nil
		},
	}

	w := newTestWorkflow(domain.StageApply)
	workflows := newFakeWorkflowService(w)
	o := testOrchestrator(t, clk, workflows, &fakeGovernance{}, flaky)

	result, err := o.runStage(context.Background(), w)
	if err != nil {
		t.Fatalf("runStage: %v", err)
	}
	if attempts != 3 {
		t.Fatalf("expected 3 attempts (2 failures + 1 success), got %d", attempts)
	}
	if result.CurrentStage != domain.StageVerify {
		t.Fatalf("expected stage to advance after the eventual success, got %s", result.CurrentStage)
	}
}

// TestRunStageCompensatesOnDownstreamFailure covers the compensation/residue
// path: an upstream agent's side effect is compensated, and an agent with no
// Compensator is reported as uncompensated residue.
func TestRunStageCompensatesOnDownstreamFailure(t *testing.T) {
	clk := clock.NewReal()
	upstream := &compensatingAgent{testAgent: testAgent{
		manifest: agent.Manifest{ID: "a", Type: "compliance"},
		execute:  func(agent.Context) (agent.Result, error) { return agent.Result{AgentID: "a", Success: true}, nil },
	}}
	downstream := &testAgent{
		manifest: agent.Manifest{ID: "b", Type: "compliance", Dependencies: []string{"a"}},
		execute: func(agent.Context) (agent.Result, error) {
			return agent.Result{}, occamerr.Validation("test.downstream", fmt.Errorf("unrecoverable"))
		},
	}

	w := newTestWorkflow(domain.StageApply)
	workflows := newFakeWorkflowService(w)
	o := testOrchestrator(t, clk, workflows, &fakeGovernance{}, upstream, downstream)

	result, err := o.runStage(context.Background(), w)
	if err != nil {
		t.Fatalf("runStage: %v", err)
	}
	if result.CurrentStage != domain.StageFailed {
		t.Fatalf("expected failed stage, got %s", result.CurrentStage)
	}
	if atomic.LoadInt32(&upstream.compensations) != 1 {
		t.Fatalf("expected upstream agent's side effect to be compensated exactly once, got %d", upstream.compensations)
	}
	if len(workflows.failCalls) != 1 {
		t.Fatalf("expected one Fail call, got %d", len(workflows.failCalls))
	}
	if len(workflows.failCalls[0].residue) != 0 {
		t.Fatalf("expected no uncompensated residue since the only side effect had a compensator, got %v", workflows.failCalls[0].residue)
	}
}

// TestCancelFailsNonTerminalWorkflow covers scenario S6: cancelling an
// in-flight workflow marks it failed with reason cancelled and logs an
// audit event for the stage in flight.
func TestCancelFailsNonTerminalWorkflow(t *testing.T) {
	clk := clock.NewReal()
	w := newTestWorkflow(domain.StageVerify)
	workflows := newFakeWorkflowService(w)
	o := testOrchestrator(t, clk, workflows, &fakeGovernance{})

	got, err := o.Cancel(context.Background(), w.WorkflowID)
	if err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	if got.CurrentStage != domain.StageFailed {
		t.Fatalf("expected failed stage, got %s", got.CurrentStage)
	}
	if len(workflows.failCalls) != 1 || workflows.failCalls[0].reason != "cancelled" {
		t.Fatalf("expected a single Fail call with reason cancelled, got %v", workflows.failCalls)
	}
}

// TestCancelIsNoopOnTerminalWorkflow ensures cancelling an already-terminal
// workflow does not attempt another Fail transition.
func TestCancelIsNoopOnTerminalWorkflow(t *testing.T) {
	clk := clock.NewReal()
	w := newTestWorkflow(domain.StageCompleted)
	workflows := newFakeWorkflowService(w)
	o := testOrchestrator(t, clk, workflows, &fakeGovernance{})

	if _, err := o.Cancel(context.Background(), w.WorkflowID); err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	if len(workflows.failCalls) != 0 {
		t.Fatalf("expected no Fail call for an already-terminal workflow, got %v", workflows.failCalls)
	}
}
