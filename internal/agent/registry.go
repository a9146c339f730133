package agent

import (
	"fmt"
	"sync"
	"time"

	"github.com/sony/gobreaker"

	"github.com/otrix/occam-agents/internal/clock"
)

// Health is the Registry's rolling view of one agent's operational record
// (spec.md section 4.5).
type Health struct {
	Total          int
	Successful     int
	Failed         int
	RollingMeanMs  float64
	PanicsInWindow int
	panicWindowFrom time.Time
}

// registration bundles everything the Registry tracks per agent.
type registration struct {
	agent    Agent
	manifest Manifest
	status   Status
	health   Health
	breaker  *gobreaker.CircuitBreaker[any]
}

// panicBudgetWindow and panicBudgetMax implement spec.md section 7's panic
// budget: 3 panics in 5 minutes demotes an agent to error status.
const (
	panicBudgetWindow = 5 * time.Minute
	panicBudgetMax    = 3
)

// Registry stores every registered agent's manifest, status, and rolling
// health, and computes the dependency-DAG execution order the
// Orchestrator drives stages with (spec.md section 4.5).
type Registry struct {
	mu    sync.RWMutex
	byID  map[string]*registration
	order []string
	clock clock.Clock
}

func NewRegistry(clk clock.Clock) *Registry {
	return &Registry{byID: make(map[string]*registration), clock: clk}
}

// Register adds an agent, refusing any manifest whose declared
// dependencies are not already known agents (spec.md section 9: "duck-typed
// agents -> explicit capability contract; registration refuses any
// manifest whose dependencies are not already known").
func (r *Registry) Register(a Agent) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	m := a.Manifest()
	if m.ID == "" {
		return fmt.Errorf("agent registry: manifest must declare a non-empty id")
	}
	if _, exists := r.byID[m.ID]; exists {
		return fmt.Errorf("agent registry: agent %s already registered", m.ID)
	}
	for _, dep := range m.Dependencies {
		if _, ok := r.byID[dep]; !ok {
			return fmt.Errorf("agent registry: agent %s declares unknown dependency %s", m.ID, dep)
		}
	}

	breaker := gobreaker.NewCircuitBreaker[any](gobreaker.Settings{
		Name:        m.ID,
		MaxRequests: 1,
		Interval:    0,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
	})

	r.byID[m.ID] = &registration{
		agent:    a,
		manifest: m,
		status:   StatusInitializing,
		breaker:  breaker,
	}
	return r.recomputeOrderLocked()
}

// recomputeOrderLocked runs a topological sort (Kahn's algorithm) over the
// declared dependency DAG; a cycle is a startup error (spec.md section 4.5).
func (r *Registry) recomputeOrderLocked() error {
	indegree := make(map[string]int, len(r.byID))
	dependents := make(map[string][]string, len(r.byID))
	for id, reg := range r.byID {
		if _, ok := indegree[id]; !ok {
			indegree[id] = 0
		}
		for _, dep := range reg.manifest.Dependencies {
			indegree[id]++
			dependents[dep] = append(dependents[dep], id)
		}
	}

	var queue []string
	for id, deg := range indegree {
		if deg == 0 {
			queue = append(queue, id)
		}
	}

	var order []string
	for len(queue) > 0 {
		next := queue[0]
		queue = queue[1:]
		order = append(order, next)
		for _, dependent := range dependents[next] {
			indegree[dependent]--
			if indegree[dependent] == 0 {
				queue = append(queue, dependent)
			}
		}
	}

	if len(order) != len(r.byID) {
		return fmt.Errorf("agent registry: dependency graph has a cycle")
	}
	r.order = order
	for _, reg := range r.byID {
		if reg.status == StatusInitializing {
			reg.status = StatusActive
		}
	}
	return nil
}

// GetExecutionOrder returns agent ids in dependency-topological order.
func (r *Registry) GetExecutionOrder() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, len(r.order))
	copy(out, r.order)
	return out
}

// Dependencies returns the declared dependencies of agent id.
func (r *Registry) Dependencies(id string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	reg, ok := r.byID[id]
	if !ok {
		return nil
	}
	return append([]string(nil), reg.manifest.Dependencies...)
}

// Dependents returns the agent ids that declare id as a dependency.
func (r *Registry) Dependents(id string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []string
	for other, reg := range r.byID {
		for _, dep := range reg.manifest.Dependencies {
			if dep == id {
				out = append(out, other)
			}
		}
	}
	return out
}

// Health returns a snapshot of agent id's rolling health.
func (r *Registry) Health(id string) (Health, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	reg, ok := r.byID[id]
	if !ok {
		return Health{}, false
	}
	return reg.health, true
}

// Status returns the current Registry-tracked status of agent id.
func (r *Registry) Status(id string) (Status, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	reg, ok := r.byID[id]
	if !ok {
		return "", false
	}
	return reg.status, true
}

// Manifest returns the registered manifest for agent id.
func (r *Registry) Manifest(id string) (Manifest, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	reg, ok := r.byID[id]
	if !ok {
		return Manifest{}, false
	}
	return reg.manifest, true
}

// Get returns the registered Agent implementation for id.
func (r *Registry) Get(id string) (Agent, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	reg, ok := r.byID[id]
	if !ok {
		return nil, false
	}
	return reg.agent, true
}

// Breaker returns the circuit breaker guarding id's invocations.
func (r *Registry) Breaker(id string) (*gobreaker.CircuitBreaker[any], bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	reg, ok := r.byID[id]
	if !ok {
		return nil, false
	}
	return reg.breaker, true
}

// RecordExecution updates an agent's rolling health after one invocation.
// The rolling mean follows spec.md section 4.5's exact formula:
// avg' = avg + (latency - avg) / total.
func (r *Registry) RecordExecution(id string, success bool, latency time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	reg, ok := r.byID[id]
	if !ok {
		return
	}
	reg.health.Total++
	if success {
		reg.health.Successful++
	} else {
		reg.health.Failed++
	}
	ms := float64(latency.Milliseconds())
	reg.health.RollingMeanMs += (ms - reg.health.RollingMeanMs) / float64(reg.health.Total)
}

// RecordPanic tracks a recovered agent panic and demotes the agent to
// error status once the panic budget is reached: the third panic within
// 5 minutes (spec.md section 7).
func (r *Registry) RecordPanic(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	reg, ok := r.byID[id]
	if !ok {
		return
	}
	now := r.clock.Now()
	if reg.health.panicWindowFrom.IsZero() || now.Sub(reg.health.panicWindowFrom) > panicBudgetWindow {
		reg.health.panicWindowFrom = now
		reg.health.PanicsInWindow = 0
	}
	reg.health.PanicsInWindow++
	if reg.health.PanicsInWindow >= panicBudgetMax {
		reg.status = StatusError
	}
}

// SetStatus lets an operator or health monitor force an agent's status,
// e.g. reactivating one demoted to error after the underlying issue is
// resolved.
func (r *Registry) SetStatus(id string, status Status) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if reg, ok := r.byID[id]; ok {
		reg.status = status
	}
}

// ForStage returns the subset of registered agents, in dependency order,
// whose declared capabilities and current status make them eligible to
// run for the given stage — the Orchestrator consults this at step 2 of
// its per-workflow loop (spec.md section 4.7). Capability-to-stage
// matching is left to the agent's own manifest.Type; the Registry only
// guarantees dependency order and an active/initializing status.
func (r *Registry) ForStage(ids []string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var eligible []string
	for _, id := range r.order {
		reg, ok := r.byID[id]
		if !ok || reg.status == StatusError || reg.status == StatusInactive {
			continue
		}
		if ids == nil {
			eligible = append(eligible, id)
			continue
		}
		for _, want := range ids {
			if want == id {
				eligible = append(eligible, id)
				break
			}
		}
	}
	return eligible
}
