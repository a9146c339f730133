// Package orchestrator implements the Orchestrator (spec.md section 4.7):
// it schedules stages, invokes agents in dependency-topological order,
// gates monetary actions through Governance, retries transient failures
// with backoff, and runs compensation on unrecoverable stage failure.
package orchestrator

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	"github.com/otrix/occam-agents/internal/agent"
	"github.com/otrix/occam-agents/internal/audit"
	"github.com/otrix/occam-agents/internal/clock"
	"github.com/otrix/occam-agents/internal/config"
	"github.com/otrix/occam-agents/internal/domain"
	"github.com/otrix/occam-agents/internal/governance"
	"github.com/otrix/occam-agents/internal/occamerr"
)

// workflowService is the workflow.Service surface the Orchestrator drives,
// narrowed to an interface so tests can substitute an in-memory fake for
// the Postgres-backed store wrapped by *workflow.Service.
type workflowService interface {
	Get(ctx context.Context, workflowID string) (*domain.Workflow, error)
	SubmitRequest(ctx context.Context, entityID, kind string, payload map[string]any, idempotencyKey string) (string, error)
	AdvanceStage(ctx context.Context, workflowID string, to domain.Stage, actor string, attempt int) (*domain.Workflow, error)
	Fail(ctx context.Context, workflowID, reason string, residue []string) (*domain.Workflow, error)
	Renew(ctx context.Context, workflowID string) (*domain.Workflow, error)
}

// governanceGate is the Governance surface the pay stage consults, narrowed
// so tests can supply a fake instead of a Postgres/Redis-backed Governance.
type governanceGate interface {
	ValidateTransaction(ctx context.Context, t governance.Transaction) (governance.ValidationResult, error)
	RecordTransaction(ctx context.Context, t governance.Transaction) error
}

// stageAgentTypes is the static table of which specialist agent type
// participates in each stage, grounded on spec.md section 1's six named
// agents (Compliance, Consultancy, Form, Payment, Account, Status).
var stageAgentTypes = map[domain.Stage][]string{
	domain.StageApply:   {"compliance"},
	domain.StageVerify:  {"compliance", "consultancy"},
	domain.StagePay:     {"payment"},
	domain.StageSubmit:  {"form"},
	domain.StageConfirm: {"account"},
	domain.StageArchive: {"status"},
	domain.StageRenew:   {"compliance"},
}

// Orchestrator coordinates one workflow's traversal of the stage lifecycle
// at a time per workflow-id, with unbounded parallelism across
// workflow-ids (spec.md section 5).
type Orchestrator struct {
	registry   *agent.Registry
	workflows  workflowService
	governance governanceGate
	factBox    agent.FactBoxHandle
	vault      agent.VaultHandle
	auditLog   *audit.Log
	clock      clock.Clock
	logger     *zap.Logger
	cfg        config.OrchestratorConfig
	pool       *WorkerPool

	sequencers sync.Map // workflow-id -> *sync.Mutex, serializes stage transitions per workflow
}

func New(
	registry *agent.Registry,
	workflows workflowService,
	gov governanceGate,
	fb agent.FactBoxHandle,
	v agent.VaultHandle,
	auditLog *audit.Log,
	clk clock.Clock,
	logger *zap.Logger,
	cfg config.OrchestratorConfig,
) *Orchestrator {
	return &Orchestrator{
		registry:   registry,
		workflows:  workflows,
		governance: gov,
		factBox:    fb,
		vault:      v,
		auditLog:   auditLog,
		clock:      clk,
		logger:     logger,
		cfg:        cfg,
		pool:       NewWorkerPool(cfg.WorkerPoolSize),
	}
}

func (o *Orchestrator) sequencerFor(workflowID string) *sync.Mutex {
	v, _ := o.sequencers.LoadOrStore(workflowID, &sync.Mutex{})
	return v.(*sync.Mutex)
}

// SubmitRequest is the Submission external interface (spec.md section 6):
// submitRequest(entityId, kind, payload, idempotencyKey) -> workflowId. It
// creates (or idempotently returns) a workflow and immediately drives its
// first stage; payload is carried on the workflow and fed back into every
// agent invocation's Context.Ontology.
func (o *Orchestrator) SubmitRequest(ctx context.Context, entityID, kind string, payload map[string]any, idempotencyKey string) (string, error) {
	workflowID, err := o.workflows.SubmitRequest(ctx, entityID, kind, payload, idempotencyKey)
	if err != nil {
		return "", err
	}
	go o.driveInBackground(workflowID)
	return workflowID, nil
}

// Renew drives the "completed -> renew" transition of spec.md section 4.6:
// it opens a fresh, linked workflow for a completed workflow's entity and
// immediately starts driving it through the lifecycle again.
func (o *Orchestrator) Renew(ctx context.Context, workflowID string) (*domain.Workflow, error) {
	next, err := o.workflows.Renew(ctx, workflowID)
	if err != nil {
		return nil, err
	}
	go o.driveInBackground(next.WorkflowID)
	return next, nil
}

// driveInBackground runs Drive detached from the submitting caller's
// request context so a slow or cancelled HTTP/Kafka caller never blocks
// an in-flight workflow's progression.
func (o *Orchestrator) driveInBackground(workflowID string) {
	defer func() {
		if r := recover(); r != nil {
			o.logger.Error("panic driving workflow", zap.String("workflow_id", workflowID), zap.Any("panic", r))
		}
	}()
	if err := o.Drive(context.Background(), workflowID); err != nil {
		o.logger.Error("workflow drive failed", zap.String("workflow_id", workflowID), zap.Error(err))
	}
}

// Drive advances a workflow stage by stage until it reaches a suspension
// point: awaiting_approval, completed, or failed. Within one workflow,
// stage transitions are strictly serialized (spec.md section 4.7).
func (o *Orchestrator) Drive(ctx context.Context, workflowID string) error {
	seq := o.sequencerFor(workflowID)
	seq.Lock()
	defer seq.Unlock()

	for {
		w, err := o.workflows.Get(ctx, workflowID)
		if err != nil {
			return err
		}
		if domain.IsTerminal(w.CurrentStage) || w.CurrentStage == domain.StageAwaitingApproval {
			return nil
		}

		release, err := o.pool.Acquire(ctx)
		if err != nil {
			return occamerr.Transient("orchestrator.drive", err)
		}
		next, stageErr := o.runStage(ctx, w)
		release()

		if stageErr != nil {
			return stageErr
		}
		if next == nil {
			return nil
		}
		if domain.IsTerminal(next.CurrentStage) || next.CurrentStage == domain.StageAwaitingApproval {
			return nil
		}
	}
}

// runStage executes one stage for w: select agents, build context, invoke
// in dependency order with retry/backoff, gate monetary actions through
// Governance, and commit the resulting transition. Agents eligible for the
// stage are invoked one dependency-level at a time (spec.md section 4.7
// step 4); within a level, agents all declaring can-parallelize run
// concurrently, otherwise the level runs sequentially in topological order.
// An agent whose dependency has no successful result in this stage is never
// invoked — its id is simply absent from results, which is itself treated
// as a stage failure (spec.md section 8 property 9).
func (o *Orchestrator) runStage(ctx context.Context, w *domain.Workflow) (*domain.Workflow, error) {
	stage := w.CurrentStage
	traceCtx, traceID := o.auditLog.StartTrail(ctx, w.WorkflowID)
	trail := o.auditLog.NewTrail(traceID, "orchestrator.stage."+string(stage), &w.WorkflowID, &w.EntityID)

	levels := o.agentLevels(o.eligibleAgents(stage))
	results := make(map[string]agent.Result, len(levels))
	var completedSideEffects []string

	for _, level := range levels {
		invoked, outcomes, unsatisfied := o.runLevel(traceCtx, trail, w, stage, level, results)
		completedSideEffects = append(completedSideEffects, invoked...)

		if unsatisfied != nil {
			o.logger.Warn("agent dependency not satisfied for stage, failing stage rather than invoking",
				zap.String("workflow_id", w.WorkflowID), zap.String("agent_id", unsatisfied.agentID), zap.String("dependency", unsatisfied.dependency))
			err := occamerr.Validation("orchestrator.stage",
				fmt.Errorf("agent %s dependency %s unsatisfied", unsatisfied.agentID, unsatisfied.dependency))
			return o.failStage(ctx, traceCtx, trail, w, completedSideEffects, results, err)
		}

		var firstErr error
		for _, out := range outcomes {
			if out.err != nil && firstErr == nil {
				firstErr = out.err
			}
		}
		if firstErr != nil {
			return o.failStage(ctx, traceCtx, trail, w, completedSideEffects, results, firstErr)
		}
		for _, out := range outcomes {
			results[out.id] = out.result
		}
	}

	if stage == domain.StagePay {
		return o.handlePayStage(traceCtx, trail, w, results)
	}

	target := nextStage(stage, results)
	advanced, err := o.workflows.AdvanceStage(ctx, w.WorkflowID, target, "orchestrator", 0)
	if err != nil {
		return nil, err
	}
	_ = trail.Complete(traceCtx, "orchestrator", true, map[string]any{"to": string(target)})
	return advanced, nil
}

// failStage runs compensation for everything this stage already invoked
// and transitions w to failed, sharing the one path runStage's dependency
// gate and per-agent error handling both end up at.
func (o *Orchestrator) failStage(ctx, traceCtx context.Context, trail *audit.Trail, w *domain.Workflow, completedSideEffects []string, results map[string]agent.Result, err error) (*domain.Workflow, error) {
	o.compensate(traceCtx, w, completedSideEffects, results)
	failed, failErr := o.workflows.Fail(ctx, w.WorkflowID, string(occamerr.KindOf(err)), o.residueFor(completedSideEffects, results))
	if failErr != nil {
		return nil, failErr
	}
	_ = trail.Complete(traceCtx, "orchestrator", false, map[string]any{"error": err.Error()})
	return failed, nil
}

// agentOutcome is one agent's invocation result within a dependency level.
type agentOutcome struct {
	id     string
	result agent.Result
	err    error
}

// unsatisfiedDependency names an agent skipped this stage because a
// dependency it declared never produced a successful result.
type unsatisfiedDependency struct {
	agentID    string
	dependency string
}

// runLevel invokes every agent in one dependency level, running them
// concurrently when every agent in the level declares can-parallelize
// (spec.md section 4.7 step 4) and sequentially otherwise. It returns the
// ids actually invoked (for compensation bookkeeping) and, if any agent's
// declared dependency lacks a successful result from an earlier level, the
// first such unsatisfied dependency instead of invoking anything further.
func (o *Orchestrator) runLevel(traceCtx context.Context, trail *audit.Trail, w *domain.Workflow, stage domain.Stage, level []string, priorResults map[string]agent.Result) (invoked []string, outcomes []agentOutcome, unsatisfied *unsatisfiedDependency) {
	for _, id := range level {
		for _, dep := range o.registry.Dependencies(id) {
			if depResult, ok := priorResults[dep]; !ok || !depResult.Success {
				return nil, nil, &unsatisfiedDependency{agentID: id, dependency: dep}
			}
		}
	}

	if len(level) > 1 && o.allParallelizable(level) {
		outcomes = make([]agentOutcome, len(level))
		var wg sync.WaitGroup
		for i, id := range level {
			wg.Add(1)
			go func(i int, id string) {
				defer wg.Done()
				manifest, _ := o.registry.Manifest(id)
				result, _, err := o.invokeWithRetry(traceCtx, trail, w, stage, manifest, priorResults)
				outcomes[i] = agentOutcome{id: id, result: result, err: err}
			}(i, id)
		}
		wg.Wait()
		for _, out := range outcomes {
			invoked = append(invoked, out.id)
		}
		return invoked, outcomes, nil
	}

	for _, id := range level {
		manifest, _ := o.registry.Manifest(id)
		result, attempted, err := o.invokeWithRetry(traceCtx, trail, w, stage, manifest, priorResults)
		if attempted {
			invoked = append(invoked, id)
		}
		outcomes = append(outcomes, agentOutcome{id: id, result: result, err: err})
		if err != nil {
			return invoked, outcomes, nil
		}
		priorResults = withResult(priorResults, id, result)
	}
	return invoked, outcomes, nil
}

// withResult returns a copy of results with id's outcome added, so a
// sequential level's later agents can see earlier agents' results without
// mutating the map a concurrent level's goroutines are reading.
func withResult(results map[string]agent.Result, id string, result agent.Result) map[string]agent.Result {
	next := make(map[string]agent.Result, len(results)+1)
	for k, v := range results {
		next[k] = v
	}
	next[id] = result
	return next
}

// allParallelizable reports whether every agent in ids declares
// can-parallelize, the precondition for running them concurrently.
func (o *Orchestrator) allParallelizable(ids []string) bool {
	for _, id := range ids {
		manifest, ok := o.registry.Manifest(id)
		if !ok || !manifest.Capabilities.CanParallelize {
			return false
		}
	}
	return true
}

// eligibleAgents returns the ids of registered, healthy agents whose type
// matches this stage, already in dependency-topological order.
func (o *Orchestrator) eligibleAgents(stage domain.Stage) []string {
	wanted := stageAgentTypes[stage]
	var ids []string
	for _, id := range o.registry.ForStage(nil) {
		manifest, ok := o.registry.Manifest(id)
		if !ok {
			continue
		}
		for _, t := range wanted {
			if manifest.Type == t {
				ids = append(ids, id)
			}
		}
	}
	return ids
}

// agentLevels groups ids — already in dependency-topological order — into
// waves: an agent's level is one past the highest level of whichever of its
// declared dependencies is also in ids, or zero if none are. Agents in the
// same level have no dependency relationship to each other within this
// stage's agent set, so a level is the natural concurrency boundary for
// can-parallelize agents.
func (o *Orchestrator) agentLevels(ids []string) [][]string {
	inSet := make(map[string]bool, len(ids))
	for _, id := range ids {
		inSet[id] = true
	}

	level := make(map[string]int, len(ids))
	var levels [][]string
	for _, id := range ids {
		max := -1
		for _, dep := range o.registry.Dependencies(id) {
			if !inSet[dep] {
				continue
			}
			if l, ok := level[dep]; ok && l > max {
				max = l
			}
		}
		lvl := max + 1
		level[id] = lvl
		for len(levels) <= lvl {
			levels = append(levels, nil)
		}
		levels[lvl] = append(levels[lvl], id)
	}
	return levels
}

// invokeWithRetry calls one agent, retrying transient failures with
// exponential backoff up to the agent's declared retry policy (falling
// back to orchestrator defaults), and treats context cancellation as
// indeterminate rather than failed (spec.md section 5).
func (o *Orchestrator) invokeWithRetry(ctx context.Context, trail *audit.Trail, w *domain.Workflow, stage domain.Stage, manifest agent.Manifest, prior map[string]agent.Result) (agent.Result, bool, error) {
	impl, ok := o.registry.Get(manifest.ID)
	if !ok {
		return agent.Result{}, false, occamerr.NotFound("orchestrator.invoke", fmt.Errorf("agent %s not registered", manifest.ID))
	}
	breaker, _ := o.registry.Breaker(manifest.ID)

	maxRetries := manifest.RetryPolicy.MaxRetries
	if maxRetries <= 0 {
		maxRetries = o.cfg.MaxRetries
	}
	base := manifest.RetryPolicy.BaseBackoff
	if base <= 0 {
		base = time.Duration(o.cfg.RetryBaseMs) * time.Millisecond
	}
	maxBackoff := manifest.RetryPolicy.MaxBackoff
	if maxBackoff <= 0 {
		maxBackoff = time.Duration(o.cfg.RetryCapMs) * time.Millisecond
	}
	deadline := stageDeadline(manifest.Capabilities.EstimatedLatencyMs, o.cfg.StageDeadlineMultiplier, o.cfg.StageDeadlineMaxMs)

	var lastErr error
	attempted := false
	for attempt := 0; attempt <= maxRetries; attempt++ {
		stageCtx, cancel := context.WithTimeout(ctx, deadline)
		agentCtx := agent.Context{
			Ctx:          stageCtx,
			WorkflowID:   w.WorkflowID,
			EntityID:     w.EntityID,
			TraceID:      w.WorkflowID,
			Stage:        stage,
			Ontology:     w.Payload,
			FactBox:      o.factBox,
			Vault:        o.vault,
			PriorResults: prior,
		}

		attempted = true
		_ = trail.Step(ctx, manifest.ID, "invoke", map[string]any{"attempt": attempt})
		result, err := o.invokeOnce(breaker, impl, agentCtx)
		deadlineErr := stageCtx.Err()
		cancel()

		started := o.clock.Now()
		if err == nil && result.Success {
			o.registry.RecordExecution(manifest.ID, true, o.clock.Now().Sub(started)+result.Latency)
			return result, attempted, nil
		}

		if deadlineErr != nil {
			// Deadline/cancellation: outcome unknown, recorded as
			// indeterminate; idempotency lets a retry converge safely.
			_ = trail.Step(ctx, manifest.ID, "indeterminate", map[string]any{"attempt": attempt})
			lastErr = occamerr.Indeterminate("orchestrator.invoke", fmt.Errorf("agent %s stage deadline exceeded", manifest.ID))
		} else if err != nil {
			lastErr = err
		} else {
			lastErr = occamerr.Transient("orchestrator.invoke", fmt.Errorf("agent %s returned unsuccessful result: %v", manifest.ID, result.Errors))
		}

		o.registry.RecordExecution(manifest.ID, false, o.clock.Now().Sub(started))

		if !occamerr.Retryable(lastErr) && occamerr.KindOf(lastErr) != occamerr.KindIndeterminate {
			return agent.Result{}, attempted, lastErr
		}
		if attempt < maxRetries {
			o.clock.Sleep(backoffFor(attempt, base, maxBackoff))
		}
	}
	return agent.Result{}, attempted, lastErr
}

// invokeOnce wraps one agent call in panic recovery (converted to a
// transient error, with the Registry's panic budget tracking it toward
// demotion) and the agent's circuit breaker.
func (o *Orchestrator) invokeOnce(breaker *gobreaker.CircuitBreaker[any], impl agent.Agent, agentCtx agent.Context) (result agent.Result, err error) {
	call := func() (any, error) {
		defer func() {
			if r := recover(); r != nil {
				o.registry.RecordPanic(impl.Manifest().ID)
				err = occamerr.Transient("orchestrator.invoke", fmt.Errorf("agent %s panicked: %v", impl.Manifest().ID, r))
			}
		}()
		return impl.Execute(agentCtx)
	}

	var out any
	var breakerErr error
	if breaker != nil {
		out, breakerErr = breaker.Execute(call)
	} else {
		out, breakerErr = call()
	}
	if breakerErr != nil {
		if err != nil {
			return agent.Result{}, err
		}
		return agent.Result{}, occamerr.Transient("orchestrator.invoke", breakerErr)
	}
	if err != nil {
		return agent.Result{}, err
	}
	r, _ := out.(agent.Result)
	return r, nil
}

// handlePayStage gates the pay stage's monetary action through Governance
// before committing any transition (spec.md section 4.7 step 5).
func (o *Orchestrator) handlePayStage(ctx context.Context, trail *audit.Trail, w *domain.Workflow, results map[string]agent.Result) (*domain.Workflow, error) {
	amount, ok := amountFromResults(results)
	if !ok {
		advanced, err := o.workflows.AdvanceStage(ctx, w.WorkflowID, domain.StageSubmit, "orchestrator", 0)
		if err != nil {
			return nil, err
		}
		_ = trail.Complete(ctx, "orchestrator", true, map[string]any{"monetary": false})
		return advanced, nil
	}

	validation, err := o.governance.ValidateTransaction(ctx, governance.Transaction{
		WorkflowID: w.WorkflowID,
		EntityID:   w.EntityID,
		Amount:     amount,
		At:         o.clock.Now().UTC(),
	})
	if err != nil {
		return nil, err
	}

	if !validation.Allowed {
		failed, failErr := o.workflows.Fail(ctx, w.WorkflowID, "policy_violation", nil)
		if failErr != nil {
			return nil, failErr
		}
		_ = trail.Complete(ctx, "orchestrator", false, map[string]any{"violations": validation.Violations})
		return failed, nil
	}

	if validation.RequiresApproval {
		advanced, err := o.workflows.AdvanceStage(ctx, w.WorkflowID, domain.StageAwaitingApproval, "orchestrator", 0)
		if err != nil {
			return nil, err
		}
		_ = trail.Complete(ctx, "orchestrator", true, map[string]any{"awaiting_approval": true, "approval_request_id": validation.ApprovalRequestID})
		return advanced, nil
	}

	if err := o.governance.RecordTransaction(ctx, governance.Transaction{
		WorkflowID: w.WorkflowID, EntityID: w.EntityID, Amount: amount, At: o.clock.Now().UTC(),
	}); err != nil {
		return nil, err
	}

	advanced, err := o.workflows.AdvanceStage(ctx, w.WorkflowID, domain.StageSubmit, "orchestrator", 0)
	if err != nil {
		return nil, err
	}
	_ = trail.Complete(ctx, "orchestrator", true, map[string]any{"monetary": true})
	return advanced, nil
}

// ResumeAfterApproval is called once Governance's ProcessApproval has
// decided an ApprovalRequest: approve advances to submit, deny transitions
// to failed with reason approval_denied (spec.md scenario S3).
func (o *Orchestrator) ResumeAfterApproval(ctx context.Context, workflowID string, approved bool) (*domain.Workflow, error) {
	seq := o.sequencerFor(workflowID)
	seq.Lock()
	defer seq.Unlock()

	if !approved {
		return o.workflows.Fail(ctx, workflowID, "approval_denied", nil)
	}
	w, err := o.workflows.AdvanceStage(ctx, workflowID, domain.StageSubmit, "orchestrator", 0)
	if err != nil {
		return nil, err
	}
	go o.driveInBackground(workflowID)
	return w, nil
}

// Cancel marks a non-terminal workflow failed with reason cancelled, first
// logging an orchestrator.cancel audit event (severity warning, status
// pending) that names the stage the workflow was in (spec.md scenario S6).
// It takes the same per-workflow sequencer as Drive, so it waits for a
// running Drive to return and does not interrupt an agent call in flight.
func (o *Orchestrator) Cancel(ctx context.Context, workflowID string) (*domain.Workflow, error) {
	seq := o.sequencerFor(workflowID)
	seq.Lock()
	defer seq.Unlock()

	w, err := o.workflows.Get(ctx, workflowID)
	if err != nil {
		return nil, err
	}
	if domain.IsTerminal(w.CurrentStage) {
		return w, nil
	}

	workflowID2, entityID := w.WorkflowID, w.EntityID
	_ = o.auditLog.Log(ctx, &domain.AuditEvent{
		WorkflowID: &workflowID2,
		EntityID:   &entityID,
		Actor:      "orchestrator",
		Action:     "orchestrator.cancel",
		Severity:   domain.SeverityWarning,
		Status:     domain.EventPending,
		Payload:    map[string]any{"stage": string(w.CurrentStage)},
	})

	return o.workflows.Fail(ctx, workflowID, "cancelled", nil)
}

// compensate invokes compensate() for every agent that had a successful
// side effect this stage, in reverse invocation order; a missing
// Compensator is recorded as uncompensated residue (spec.md section 4.7).
func (o *Orchestrator) compensate(ctx context.Context, w *domain.Workflow, completed []string, results map[string]agent.Result) {
	for i := len(completed) - 1; i >= 0; i-- {
		id := completed[i]
		result, ok := results[id]
		if !ok || !result.Success {
			continue
		}
		impl, ok := o.registry.Get(id)
		if !ok {
			continue
		}
		compensator, ok := impl.(agent.Compensator)
		if !ok {
			o.logger.Warn("agent had side effect but declares no compensate, recording as uncompensated residue",
				zap.String("workflow_id", w.WorkflowID), zap.String("agent_id", id))
			continue
		}
		manifest := impl.Manifest()
		agentCtx := agent.Context{Ctx: ctx, WorkflowID: w.WorkflowID, EntityID: w.EntityID, TraceID: w.WorkflowID, Stage: w.CurrentStage, FactBox: o.factBox, Vault: o.vault}
		if err := compensator.Compensate(agentCtx, result); err != nil {
			o.logger.Error("compensation failed", zap.String("agent_id", manifest.ID), zap.Error(err))
		}
	}
}

// residueFor reports the agent ids whose side effects could not be
// compensated (no Compensator implementation).
func (o *Orchestrator) residueFor(completed []string, results map[string]agent.Result) []string {
	var residue []string
	for _, id := range completed {
		result, ok := results[id]
		if !ok || !result.Success {
			continue
		}
		impl, ok := o.registry.Get(id)
		if !ok {
			continue
		}
		if _, ok := impl.(agent.Compensator); !ok {
			residue = append(residue, id)
		}
	}
	return residue
}

// nextStage resolves the branch points in spec.md section 4.6's transition
// table that depend on agent output rather than being fixed: verify only
// goes to pay when a monetary action was declared.
func nextStage(current domain.Stage, results map[string]agent.Result) domain.Stage {
	switch current {
	case domain.StageApply:
		return domain.StageVerify
	case domain.StageVerify:
		if _, ok := amountFromResults(results); ok {
			return domain.StagePay
		}
		return domain.StageSubmit
	case domain.StageSubmit:
		return domain.StageConfirm
	case domain.StageConfirm:
		return domain.StageArchive
	case domain.StageArchive:
		return domain.StageCompleted
	case domain.StageRenew:
		return domain.StageVerify
	default:
		return current
	}
}

// amountFromResults looks for a "amount" field any agent declared this
// stage, signalling a monetary action is required.
func amountFromResults(results map[string]agent.Result) (decimal.Decimal, bool) {
	for _, r := range results {
		raw, ok := r.Data["amount"]
		if !ok {
			continue
		}
		s, ok := raw.(string)
		if !ok {
			continue
		}
		amount, err := decimal.NewFromString(s)
		if err != nil {
			continue
		}
		return amount, true
	}
	return decimal.Decimal{}, false
}
