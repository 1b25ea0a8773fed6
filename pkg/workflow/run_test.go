package workflow

import (
	"errors"
	"testing"

	"conductor/pkg/gate"
)

func testDefinition() *Definition {
	return &Definition{
		Name:  "test-flow",
		Start: "planning",
		Transitions: map[string]*StageConfig{
			"planning": {
				OnSuccess: "coding",
				OnFail:    "planning",
				Config:    StageRuntime{Agent: "planner"},
			},
			"coding": {
				Gates:  []string{"lint"},
				Config: StageRuntime{Agent: "coder"},
			},
		},
		Global: GlobalConfig{
			RetryBudgets: map[string]int{"lint": 3},
		},
	}
}

func TestNewRun(t *testing.T) {
	def := testDefinition()
	if err := def.Validate(); err != nil {
		t.Fatalf("Test definition invalid: %v", err)
	}

	run := NewRun(def)

	if run.ID() == "" {
		t.Error("Run should have an id")
	}
	if run.Workflow() != "test-flow" {
		t.Errorf("Workflow = %q, want test-flow", run.Workflow())
	}
	if run.Status() != StatusPending {
		t.Errorf("Initial status = %s, want pending", run.Status())
	}
	if run.Stage() != "" {
		t.Errorf("Initial stage = %q, want empty", run.Stage())
	}
	if run.Done() {
		t.Error("Fresh run should not be done")
	}
	if run.CreatedAt().IsZero() {
		t.Error("CreatedAt should be stamped on creation")
	}
	if !run.FinishedAt().IsZero() {
		t.Error("FinishedAt should be zero while in flight")
	}

	// Two runs get distinct ids.
	if other := NewRun(def); other.ID() == run.ID() {
		t.Error("Run ids must be unique")
	}
}

func TestRunTransitionRecordsHistory(t *testing.T) {
	run := NewRun(testDefinition())

	if err := run.transitionTo(StatusRunning, "planning", "run started", "", ""); err != nil {
		t.Fatalf("Transition to running failed: %v", err)
	}
	if err := run.transitionTo(StatusGateCheck, "planning", "agent completed", "", ""); err != nil {
		t.Fatalf("Transition to gate_check failed: %v", err)
	}
	if err := run.transitionTo(StatusFail, "planning", "gate lint failed", "lint", gate.CategoryLint); err != nil {
		t.Fatalf("Transition to fail failed: %v", err)
	}

	transitions := run.Transitions()
	if len(transitions) != 3 {
		t.Fatalf("Expected 3 transitions, got %d", len(transitions))
	}

	last := transitions[2]
	if last.From != StatusGateCheck || last.To != StatusFail {
		t.Errorf("Unexpected transition: %s -> %s", last.From, last.To)
	}
	if last.Gate != "lint" || last.Category != gate.CategoryLint {
		t.Errorf("Transition should carry failing gate: gate=%q category=%q", last.Gate, last.Category)
	}
	if last.Timestamp.IsZero() {
		t.Error("Transition timestamp not set")
	}

	// The returned history is a copy.
	transitions[0].Stage = "tampered"
	if run.Transitions()[0].Stage == "tampered" {
		t.Error("Transitions should return a copy")
	}
}

func TestRunRejectsInvalidTransition(t *testing.T) {
	run := NewRun(testDefinition())

	err := run.transitionTo(StatusComplete, "planning", "", "", "")
	if err == nil {
		t.Fatal("Expected error for pending -> complete")
	}
	if !errors.Is(err, ErrInvalidStatusChange) {
		t.Errorf("Expected ErrInvalidStatusChange, got %v", err)
	}

	// A rejected transition leaves the run untouched.
	if run.Status() != StatusPending {
		t.Errorf("Status = %s after rejected transition, want pending", run.Status())
	}
	if len(run.Transitions()) != 0 {
		t.Error("Rejected transition must not be recorded")
	}
}

func TestRunTerminalSetsFinishedAt(t *testing.T) {
	run := NewRun(testDefinition())

	mustTransition := func(to Status, stage string) {
		t.Helper()
		if err := run.transitionTo(to, stage, "", "", ""); err != nil {
			t.Fatalf("Transition to %s failed: %v", to, err)
		}
	}

	mustTransition(StatusRunning, "planning")
	mustTransition(StatusGateCheck, "planning")
	mustTransition(StatusSuccess, "planning")
	mustTransition(StatusComplete, "planning")

	if !run.Done() {
		t.Error("Run should be done after complete")
	}
	if run.FinishedAt().IsZero() {
		t.Error("FinishedAt should be set on terminal transition")
	}

	// Terminal is absorbing.
	if err := run.transitionTo(StatusRunning, "planning", "", "", ""); err == nil {
		t.Error("Expected error transitioning out of complete")
	}
}

func TestRunStageFailureCounts(t *testing.T) {
	run := NewRun(testDefinition())

	if got := run.StageFailures("coding"); got != 0 {
		t.Errorf("Initial failures = %d, want 0", got)
	}

	if got := run.noteStageFailure("coding"); got != 1 {
		t.Errorf("First failure = %d, want 1", got)
	}
	if got := run.noteStageFailure("coding"); got != 2 {
		t.Errorf("Second failure = %d, want 2", got)
	}
	if got := run.StageFailures("planning"); got != 0 {
		t.Errorf("Failures are per stage; planning = %d, want 0", got)
	}
}
