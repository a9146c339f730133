package workflow

import (
	"context"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/otrix/occam-agents/internal/clock"
	"github.com/otrix/occam-agents/internal/domain"
	"github.com/otrix/occam-agents/internal/occamerr"
)

// fakeStore is an in-memory store, letting Service tests exercise
// SubmitRequest/AdvanceStage/Fail/Renew without Postgres.
type fakeStore struct {
	mu                sync.Mutex
	byID              map[string]*domain.Workflow
	byIdempotencyKey  map[string]string
	idempotentAttempt map[string]map[string]any
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		byID:              map[string]*domain.Workflow{},
		byIdempotencyKey:  map[string]string{},
		idempotentAttempt: map[string]map[string]any{},
	}
}

func (s *fakeStore) Insert(ctx context.Context, w *domain.Workflow) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *w
	s.byID[w.WorkflowID] = &cp
	key := w.EntityID + "|" + w.IdempotencyKey
	if existing, ok := s.byIdempotencyKey[key]; ok && existing != w.WorkflowID {
		return errIdempotencyConflict
	}
	s.byIdempotencyKey[key] = w.WorkflowID
	return nil
}

func (s *fakeStore) FindByIdempotencyKey(ctx context.Context, entityID, key string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.byIdempotencyKey[entityID+"|"+key], nil
}

func (s *fakeStore) Get(ctx context.Context, workflowID string) (*domain.Workflow, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	w, ok := s.byID[workflowID]
	if !ok {
		return nil, occamerr.NotFound("workflow.get", errNotFound)
	}
	cp := *w
	return &cp, nil
}

func (s *fakeStore) AppendTransition(ctx context.Context, w *domain.Workflow) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *w
	s.byID[w.WorkflowID] = &cp
	return nil
}

func (s *fakeStore) RecordIdempotentAttempt(ctx context.Context, key string, resultPayload map[string]any) (bool, map[string]any, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if stored, ok := s.idempotentAttempt[key]; ok {
		return true, stored, nil
	}
	s.idempotentAttempt[key] = resultPayload
	return false, nil, nil
}

func (s *fakeStore) ListByEntity(ctx context.Context, entityID string) ([]*domain.Workflow, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*domain.Workflow
	for _, w := range s.byID {
		if w.EntityID == entityID {
			cp := *w
			out = append(out, &cp)
		}
	}
	return out, nil
}

type fakeStoreError string

func (e fakeStoreError) Error() string { return string(e) }

const (
	errIdempotencyConflict = fakeStoreError("idempotency key already used by another workflow")
	errNotFound            = fakeStoreError("workflow not found")
)

func testService(clk clock.Clock) (*Service, *fakeStore) {
	store := newFakeStore()
	return &Service{store: store, auditLog: nil, clock: clk, logger: zap.NewNop()}, store
}

// TestSubmitRequestIsIdempotent covers spec.md's testable property 4:
// resubmitting the same (entity, idempotency-key) pair returns the
// already-created workflow-id rather than creating a second workflow.
func TestSubmitRequestIsIdempotent(t *testing.T) {
	clk := clock.NewManual(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	svc, store := testService(clk)

	first, err := svc.SubmitRequest(context.Background(), "entity-1", "kyc", map[string]any{"fee_amount": "10.00"}, "idem-1")
	if err != nil {
		t.Fatalf("first SubmitRequest: %v", err)
	}
	second, err := svc.SubmitRequest(context.Background(), "entity-1", "kyc", map[string]any{"fee_amount": "10.00"}, "idem-1")
	if err != nil {
		t.Fatalf("second SubmitRequest: %v", err)
	}
	if first != second {
		t.Fatalf("expected idempotent resubmission to return the same workflow id, got %s and %s", first, second)
	}

	store.mu.Lock()
	count := 0
	for _, w := range store.byID {
		if w.EntityID == "entity-1" {
			count++
		}
	}
	store.mu.Unlock()
	if count != 1 {
		t.Fatalf("expected exactly one workflow created for entity-1, found %d", count)
	}
}

// TestSubmitRequestCarriesKindAndPayload covers the submission external
// interface (spec.md section 6): kind/payload must survive onto the
// created workflow so the Orchestrator can seed agent.Context.Ontology
// from it.
func TestSubmitRequestCarriesKindAndPayload(t *testing.T) {
	clk := clock.NewManual(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	svc, store := testService(clk)

	payload := map[string]any{"fee_amount": "42.50"}
	workflowID, err := svc.SubmitRequest(context.Background(), "entity-1", "payment", payload, "idem-1")
	if err != nil {
		t.Fatalf("SubmitRequest: %v", err)
	}

	w, err := store.Get(context.Background(), workflowID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if w.Kind != "payment" {
		t.Fatalf("expected kind %q persisted, got %q", "payment", w.Kind)
	}
	if w.Payload["fee_amount"] != "42.50" {
		t.Fatalf("expected payload persisted, got %v", w.Payload)
	}
}

// TestAdvanceStageRejectsIllegalTransition covers at-most-one-open-stage
// enforcement (spec.md section 8 property 3): AdvanceStage refuses a
// transition not in domain.CanTransition's table.
func TestAdvanceStageRejectsIllegalTransition(t *testing.T) {
	clk := clock.NewManual(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	svc, _ := testService(clk)

	workflowID, err := svc.SubmitRequest(context.Background(), "entity-1", "kyc", nil, "idem-1")
	if err != nil {
		t.Fatalf("SubmitRequest: %v", err)
	}

	// The workflow is in apply after submission; apply -> archive is not
	// a legal transition.
	if _, err := svc.AdvanceStage(context.Background(), workflowID, domain.StageArchive, "test", 0); err == nil {
		t.Fatal("expected an illegal transition to be rejected")
	}
}

// TestAdvanceStageIsIdempotentPerAttempt covers at-most-one-open-stage: a
// duplicate (workflow, target-stage, attempt) delivery returns the current
// workflow state without re-applying the transition.
func TestAdvanceStageIsIdempotentPerAttempt(t *testing.T) {
	clk := clock.NewManual(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	svc, _ := testService(clk)

	workflowID, err := svc.SubmitRequest(context.Background(), "entity-1", "kyc", nil, "idem-1")
	if err != nil {
		t.Fatalf("SubmitRequest: %v", err)
	}

	first, err := svc.AdvanceStage(context.Background(), workflowID, domain.StageVerify, "test", 0)
	if err != nil {
		t.Fatalf("first AdvanceStage: %v", err)
	}
	second, err := svc.AdvanceStage(context.Background(), workflowID, domain.StageVerify, "test", 0)
	if err != nil {
		t.Fatalf("second AdvanceStage (duplicate attempt): %v", err)
	}
	if len(second.StageHistory) != len(first.StageHistory) {
		t.Fatalf("expected a duplicate attempt to leave stage history unchanged, got %d vs %d entries",
			len(second.StageHistory), len(first.StageHistory))
	}
}

// TestFailIsNoopOnTerminalWorkflow ensures Fail does not re-transition an
// already-terminal workflow.
func TestFailIsNoopOnTerminalWorkflow(t *testing.T) {
	clk := clock.NewManual(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	svc, _ := testService(clk)

	workflowID, err := svc.SubmitRequest(context.Background(), "entity-1", "kyc", nil, "idem-1")
	if err != nil {
		t.Fatalf("SubmitRequest: %v", err)
	}
	failedOnce, err := svc.Fail(context.Background(), workflowID, "policy_violation", nil)
	if err != nil {
		t.Fatalf("first Fail: %v", err)
	}
	failedTwice, err := svc.Fail(context.Background(), workflowID, "different_reason", []string{"residue-agent"})
	if err != nil {
		t.Fatalf("second Fail: %v", err)
	}
	if len(failedTwice.StageHistory) != len(failedOnce.StageHistory) {
		t.Fatal("expected Fail on an already-terminal workflow to be a no-op")
	}
}

// TestRenewRequiresCompletedWorkflow covers the completed -> renew
// transition's precondition (spec.md section 4.6).
func TestRenewRequiresCompletedWorkflow(t *testing.T) {
	clk := clock.NewManual(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	svc, _ := testService(clk)

	workflowID, err := svc.SubmitRequest(context.Background(), "entity-1", "kyc", nil, "idem-1")
	if err != nil {
		t.Fatalf("SubmitRequest: %v", err)
	}
	if _, err := svc.Renew(context.Background(), workflowID); err == nil {
		t.Fatal("expected Renew to reject a non-completed workflow")
	}
}

// TestRenewLinksParentWorkflow confirms a renewed workflow gets a fresh id
// linked to the completed parent via ParentWorkflowID.
func TestRenewLinksParentWorkflow(t *testing.T) {
	clk := clock.NewManual(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	svc, store := testService(clk)

	workflowID, err := svc.SubmitRequest(context.Background(), "entity-1", "kyc", nil, "idem-1")
	if err != nil {
		t.Fatalf("SubmitRequest: %v", err)
	}
	w, err := store.Get(context.Background(), workflowID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	w.CurrentStage = domain.StageCompleted
	if err := store.AppendTransition(context.Background(), w); err != nil {
		t.Fatalf("AppendTransition: %v", err)
	}

	next, err := svc.Renew(context.Background(), workflowID)
	if err != nil {
		t.Fatalf("Renew: %v", err)
	}
	if next.WorkflowID == workflowID {
		t.Fatal("expected Renew to mint a fresh workflow id")
	}
	if next.ParentWorkflowID == nil || *next.ParentWorkflowID != workflowID {
		t.Fatalf("expected ParentWorkflowID %s, got %v", workflowID, next.ParentWorkflowID)
	}
	if next.CurrentStage != domain.StageRenew {
		t.Fatalf("expected renewed workflow to start in stage renew, got %s", next.CurrentStage)
	}
}
