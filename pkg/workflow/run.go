package workflow

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"conductor/pkg/gate"
	"conductor/pkg/logx"
)

// ErrInvalidStatusChange indicates a status change not allowed by
// RunTransitions. Seeing it means an engine bug, not a workflow failure.
var ErrInvalidStatusChange = errors.New("invalid run status transition")

// Transition records one status change of a run, with the stage it happened
// in and, where relevant, the gate and budget category that drove it.
type Transition struct {
	From      Status        `json:"from"`
	To        Status        `json:"to"`
	Stage     string        `json:"stage"`
	Reason    string        `json:"reason,omitempty"`
	Gate      string        `json:"gate,omitempty"`
	Category  gate.Category `json:"category,omitempty"`
	Timestamp time.Time     `json:"timestamp"`
}

// Run is one executing workflow instance. Runs are independent state
// machines: they share nothing except the gate cache, so any number may
// progress concurrently. All state changes go through transitionTo, which
// validates against RunTransitions.
type Run struct {
	id       string
	workflow string
	def      *Definition
	budgets  *BudgetTracker
	logger   *logx.Logger

	mu            sync.Mutex
	status        Status
	stage         string // Current stage id; set on first transition to running
	stageFailures map[string]int
	transitions   []Transition
	createdAt     time.Time
	finishedAt    time.Time
}

// NewRun creates a pending run of the definition with a fresh budget
// tracker. The definition must already be validated.
func NewRun(def *Definition) *Run {
	id := uuid.New().String()
	return &Run{
		id:            id,
		workflow:      def.Name,
		def:           def,
		budgets:       NewBudgetTracker(def.Budgets()),
		logger:        logx.NewLogger("run-" + id[:8]),
		status:        StatusPending,
		stageFailures: make(map[string]int),
		createdAt:     time.Now().UTC(),
	}
}

// ID returns the run's unique id.
func (r *Run) ID() string {
	return r.id
}

// Workflow returns the definition name the run executes.
func (r *Run) Workflow() string {
	return r.workflow
}

// Definition returns the immutable workflow graph.
func (r *Run) Definition() *Definition {
	return r.def
}

// Budgets returns the run's retry budget tracker.
func (r *Run) Budgets() *BudgetTracker {
	return r.budgets
}

// Status returns the current run status.
func (r *Run) Status() Status {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.status
}

// Stage returns the current stage id, or "" before the run starts.
func (r *Run) Stage() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.stage
}

// Done reports whether the run reached a terminal status.
func (r *Run) Done() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.status.Terminal()
}

// CreatedAt returns when the run was created.
func (r *Run) CreatedAt() time.Time {
	return r.createdAt
}

// FinishedAt returns when the run reached a terminal status, or the zero
// time while it is still in flight.
func (r *Run) FinishedAt() time.Time {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.finishedAt
}

// Transitions returns a copy of the status change history.
func (r *Run) Transitions() []Transition {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Transition{}, r.transitions...)
}

// StageFailures reports how often the given stage has failed in this run.
func (r *Run) StageFailures(stageID string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.stageFailures[stageID]
}

// noteStageFailure bumps the failure count for a stage and returns the new
// total, for checking against the stage's maxRetries cap.
func (r *Run) noteStageFailure(stageID string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stageFailures[stageID]++
	return r.stageFailures[stageID]
}

// transitionTo moves the run to a new status, validating against the
// canonical table and recording the change. stage is the stage the run is in
// after the change (the new stage when entering running, the failing stage
// otherwise).
func (r *Run) transitionTo(to Status, stage, reason, failedGate string, category gate.Category) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	from := r.status
	if !IsValidTransition(from, to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidStatusChange, from, to)
	}

	transition := Transition{
		From:      from,
		To:        to,
		Stage:     stage,
		Reason:    reason,
		Gate:      failedGate,
		Category:  category,
		Timestamp: time.Now().UTC(),
	}
	r.transitions = append(r.transitions, transition)
	r.status = to
	r.stage = stage
	if to.Terminal() {
		r.finishedAt = transition.Timestamp
	}

	r.logger.Info("🔄 Run transition: %s → %s (stage: %s)", from, to, stage)
	return nil
}
