package metrics

import (
	"sync"
	"time"
)

// InternalRecorder implements the Recorder interface using in-memory aggregation.
// This is much simpler than Prometheus and doesn't require external services.
type InternalRecorder struct {
	workflows map[string]*WorkflowTotals // workflow name -> aggregated totals
	mu        sync.RWMutex
}

// WorkflowTotals represents aggregated in-memory totals for a workflow.
type WorkflowTotals struct {
	Workflow      string    `json:"workflow"`
	StageAttempts int64     `json:"stage_attempts"`
	GateChecks    int64     `json:"gate_checks"`
	GatePasses    int64     `json:"gate_passes"`
	GateFailures  int64     `json:"gate_failures"`
	CacheHits     int64     `json:"cache_hits"`
	CacheMisses   int64     `json:"cache_misses"`
	Transitions   int64     `json:"transitions"`
	Escalations   int64     `json:"escalations"`
	LastUpdated   time.Time `json:"last_updated"`
}

var (
	// Singleton instance and initialization synchronization.
	internalInstance *InternalRecorder //nolint:gochecknoglobals
	internalOnce     sync.Once         //nolint:gochecknoglobals
)

// NewInternalRecorder returns a singleton internal metrics recorder.
func NewInternalRecorder() *InternalRecorder {
	internalOnce.Do(func() {
		internalInstance = &InternalRecorder{
			workflows: make(map[string]*WorkflowTotals),
		}
	})
	return internalInstance
}

func (r *InternalRecorder) totals(workflow string) *WorkflowTotals {
	totals, exists := r.workflows[workflow]
	if !exists {
		totals = &WorkflowTotals{Workflow: workflow}
		r.workflows[workflow] = totals
	}
	totals.LastUpdated = time.Now()
	return totals
}

// ObserveStage records a completed stage attempt.
func (r *InternalRecorder) ObserveStage(workflow, _, _ string, _ time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.totals(workflow).StageAttempts++
}

// ObserveGate records a single gate evaluation.
func (r *InternalRecorder) ObserveGate(workflow, _, _ string, passed, _ bool, _ time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()

	totals := r.totals(workflow)
	totals.GateChecks++
	if passed {
		totals.GatePasses++
	} else {
		totals.GateFailures++
	}
}

// IncCacheEvent records a gate cache event.
func (r *InternalRecorder) IncCacheEvent(workflow, event string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	totals := r.totals(workflow)
	switch event {
	case "hit":
		totals.CacheHits++
	case "miss", "expired":
		totals.CacheMisses++
	}
}

// IncTransition records a run status transition.
func (r *InternalRecorder) IncTransition(workflow, _, _ string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.totals(workflow).Transitions++
}

// IncEscalation records an escalation to a human operator.
func (r *InternalRecorder) IncEscalation(workflow, _, _ string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.totals(workflow).Escalations++
}

// GetWorkflowTotals returns the aggregated totals for a specific workflow.
func (r *InternalRecorder) GetWorkflowTotals(workflow string) *WorkflowTotals {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if totals, exists := r.workflows[workflow]; exists {
		// Return a copy to prevent external modification.
		clone := *totals
		return &clone
	}
	return nil
}

// GetAllWorkflowTotals returns totals for all workflows.
func (r *InternalRecorder) GetAllWorkflowTotals() map[string]*WorkflowTotals {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make(map[string]*WorkflowTotals, len(r.workflows))
	for workflow, totals := range r.workflows {
		clone := *totals
		result[workflow] = &clone
	}
	return result
}

// Reset clears all totals (useful for testing).
func (r *InternalRecorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.workflows = make(map[string]*WorkflowTotals)
}
