package persistence

import (
	"errors"
	"path/filepath"
	"testing"
	"time"

	"conductor/pkg/workflow"
)

// The engine persists through this interface; keep the store compatible.
var _ workflow.Store = (*Store)(nil)

// createTestStore opens a fresh database in a per-test temp dir.
func createTestStore(t *testing.T) *Store {
	t.Helper()

	dbPath := filepath.Join(t.TempDir(), "conductor.db")
	store, err := Open(dbPath)
	if err != nil {
		t.Fatalf("Failed to open store: %v", err)
	}
	if store.Path() != dbPath {
		t.Fatalf("Store path = %s, want %s", store.Path(), dbPath)
	}
	t.Cleanup(func() {
		if err := store.Close(); err != nil {
			t.Errorf("Failed to close store: %v", err)
		}
	})
	return store
}

func TestStoreOperations(t *testing.T) {
	t.Run("RunLifecycle", func(t *testing.T) {
		store := createTestStore(t)

		if err := store.SaveRun("run-1", "deploy", "pending", ""); err != nil {
			t.Fatalf("Failed to save run: %v", err)
		}

		run, err := store.GetRun("run-1")
		if err != nil {
			t.Fatalf("Failed to get run: %v", err)
		}
		if run.Workflow != "deploy" || run.Status != "pending" {
			t.Errorf("Unexpected run snapshot: %+v", run)
		}

		time.Sleep(5 * time.Millisecond)
		if err := store.SaveRun("run-1", "deploy", "running", "planning"); err != nil {
			t.Fatalf("Failed to update run: %v", err)
		}

		updated, err := store.GetRun("run-1")
		if err != nil {
			t.Fatalf("Failed to get updated run: %v", err)
		}
		if updated.Status != "running" || updated.Stage != "planning" {
			t.Errorf("Expected running/planning, got %s/%s", updated.Status, updated.Stage)
		}
		if !updated.CreatedAt.Equal(run.CreatedAt) {
			t.Errorf("Upsert changed created_at: %v -> %v", run.CreatedAt, updated.CreatedAt)
		}
		if !updated.UpdatedAt.After(run.UpdatedAt) {
			t.Errorf("Expected updated_at to advance: %v -> %v", run.UpdatedAt, updated.UpdatedAt)
		}
	})

	t.Run("TransitionHistory", func(t *testing.T) {
		store := createTestStore(t)

		if err := store.SaveRun("run-2", "deploy", "running", "planning"); err != nil {
			t.Fatalf("Failed to save run: %v", err)
		}

		steps := [][2]string{
			{"pending", "running"},
			{"running", "gate_check"},
			{"gate_check", "fail"},
		}
		for _, step := range steps {
			if err := store.SaveTransition("run-2", step[0], step[1], "planning", "test reason", "lint", "lint"); err != nil {
				t.Fatalf("Failed to save transition %v: %v", step, err)
			}
		}

		transitions, err := store.GetTransitions("run-2")
		if err != nil {
			t.Fatalf("Failed to get transitions: %v", err)
		}
		if len(transitions) != 3 {
			t.Fatalf("Expected 3 transitions, got %d", len(transitions))
		}
		for i, tr := range transitions {
			if tr.FromStatus != steps[i][0] || tr.ToStatus != steps[i][1] {
				t.Errorf("Transition %d: expected %s->%s, got %s->%s", i, steps[i][0], steps[i][1], tr.FromStatus, tr.ToStatus)
			}
		}
		if transitions[2].Gate != "lint" || transitions[2].Category != "lint" || transitions[2].Reason != "test reason" {
			t.Errorf("Transition detail not preserved: %+v", transitions[2])
		}
	})

	t.Run("GateResults", func(t *testing.T) {
		store := createTestStore(t)

		if err := store.SaveRun("run-3", "deploy", "gate_check", "coding"); err != nil {
			t.Fatalf("Failed to save run: %v", err)
		}
		if err := store.SaveGateResult("run-3", "coding", "compile", "test", "default", true, false, ""); err != nil {
			t.Fatalf("Failed to save gate result: %v", err)
		}
		if err := store.SaveGateResult("run-3", "coding", "lint", "lint", "strict", false, true, "unused variable x"); err != nil {
			t.Fatalf("Failed to save gate result: %v", err)
		}

		results, err := store.GetGateResults("run-3")
		if err != nil {
			t.Fatalf("Failed to get gate results: %v", err)
		}
		if len(results) != 2 {
			t.Fatalf("Expected 2 gate results, got %d", len(results))
		}
		if !results[0].Passed || results[0].Cached {
			t.Errorf("Expected fresh pass for compile, got %+v", results[0])
		}
		if results[1].Passed || !results[1].Cached {
			t.Errorf("Expected cached failure for lint, got %+v", results[1])
		}
		if results[1].Strategy != "strict" || results[1].Diagnostics != "unused variable x" {
			t.Errorf("Gate detail not preserved: %+v", results[1])
		}
	})

	t.Run("Escalations", func(t *testing.T) {
		store := createTestStore(t)

		if err := store.SaveRun("run-4", "deploy", "human_escalation", "coding"); err != nil {
			t.Fatalf("Failed to save run: %v", err)
		}
		if err := store.SaveEscalation("esc-1", "run-4", "deploy", "coding", "lint", "lint", "lint retry budget exhausted after 3 attempts"); err != nil {
			t.Fatalf("Failed to save escalation: %v", err)
		}

		pending, err := store.ListEscalations(true)
		if err != nil {
			t.Fatalf("Failed to list escalations: %v", err)
		}
		if len(pending) != 1 {
			t.Fatalf("Expected 1 pending escalation, got %d", len(pending))
		}
		if pending[0].ID != "esc-1" || pending[0].Acknowledged {
			t.Errorf("Unexpected escalation: %+v", pending[0])
		}
		if pending[0].AcknowledgedAt != nil {
			t.Errorf("Expected nil acknowledged_at before ack, got %v", pending[0].AcknowledgedAt)
		}

		if err := store.AcknowledgeEscalation("esc-1", "oncall"); err != nil {
			t.Fatalf("Failed to acknowledge escalation: %v", err)
		}

		acked, err := store.GetEscalation("esc-1")
		if err != nil {
			t.Fatalf("Failed to get escalation: %v", err)
		}
		if !acked.Acknowledged || acked.AcknowledgedBy != "oncall" || acked.AcknowledgedAt == nil {
			t.Errorf("Acknowledge did not stick: %+v", acked)
		}

		pending, err = store.ListEscalations(true)
		if err != nil {
			t.Fatalf("Failed to list escalations: %v", err)
		}
		if len(pending) != 0 {
			t.Errorf("Expected no pending escalations after ack, got %d", len(pending))
		}

		all, err := store.ListEscalations(false)
		if err != nil {
			t.Fatalf("Failed to list all escalations: %v", err)
		}
		if len(all) != 1 {
			t.Errorf("Expected 1 escalation total, got %d", len(all))
		}

		// A second acknowledge finds nothing left to update.
		if err := store.AcknowledgeEscalation("esc-1", "oncall"); !errors.Is(err, ErrNotFound) {
			t.Errorf("Expected ErrNotFound on double acknowledge, got %v", err)
		}
	})
}

// TestStoreRunNotFound verifies missing records surface ErrNotFound.
func TestStoreRunNotFound(t *testing.T) {
	store := createTestStore(t)

	if _, err := store.GetRun("no-such-run"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}
	if _, err := store.GetEscalation("no-such-escalation"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}
}

// TestStoreListRunsNewestFirst verifies listing order follows updated_at.
func TestStoreListRunsNewestFirst(t *testing.T) {
	store := createTestStore(t)

	if err := store.SaveRun("run-old", "deploy", "complete", ""); err != nil {
		t.Fatalf("Failed to save run: %v", err)
	}
	time.Sleep(5 * time.Millisecond)
	if err := store.SaveRun("run-new", "deploy", "running", "planning"); err != nil {
		t.Fatalf("Failed to save run: %v", err)
	}

	runs, err := store.ListRuns(10)
	if err != nil {
		t.Fatalf("Failed to list runs: %v", err)
	}
	if len(runs) != 2 {
		t.Fatalf("Expected 2 runs, got %d", len(runs))
	}
	if runs[0].ID != "run-new" || runs[1].ID != "run-old" {
		t.Errorf("Expected newest first, got %s then %s", runs[0].ID, runs[1].ID)
	}

	limited, err := store.ListRuns(1)
	if err != nil {
		t.Fatalf("Failed to list runs with limit: %v", err)
	}
	if len(limited) != 1 || limited[0].ID != "run-new" {
		t.Errorf("Expected only the newest run, got %+v", limited)
	}
}

// TestStoreRunSummary verifies history aggregation counts.
func TestStoreRunSummary(t *testing.T) {
	store := createTestStore(t)

	if err := store.SaveRun("run-5", "deploy", "human_escalation", "coding"); err != nil {
		t.Fatalf("Failed to save run: %v", err)
	}
	if err := store.SaveTransition("run-5", "pending", "running", "coding", "", "", ""); err != nil {
		t.Fatalf("Failed to save transition: %v", err)
	}
	if err := store.SaveTransition("run-5", "running", "gate_check", "coding", "", "", ""); err != nil {
		t.Fatalf("Failed to save transition: %v", err)
	}
	if err := store.SaveGateResult("run-5", "coding", "compile", "test", "default", true, false, ""); err != nil {
		t.Fatalf("Failed to save gate result: %v", err)
	}
	if err := store.SaveGateResult("run-5", "coding", "lint", "lint", "default", true, true, ""); err != nil {
		t.Fatalf("Failed to save gate result: %v", err)
	}
	if err := store.SaveGateResult("run-5", "coding", "test-unit", "test", "default", false, false, "2 tests failed"); err != nil {
		t.Fatalf("Failed to save gate result: %v", err)
	}
	if err := store.SaveEscalation("esc-2", "run-5", "deploy", "coding", "test-unit", "test", "test retry budget exhausted after 2 attempts"); err != nil {
		t.Fatalf("Failed to save escalation: %v", err)
	}

	summary, err := store.GetRunSummary("run-5")
	if err != nil {
		t.Fatalf("Failed to get run summary: %v", err)
	}
	if summary.Transitions != 2 {
		t.Errorf("Expected 2 transitions, got %d", summary.Transitions)
	}
	if summary.GateChecks != 3 || summary.GatePasses != 2 {
		t.Errorf("Expected 3 checks / 2 passes, got %d / %d", summary.GateChecks, summary.GatePasses)
	}
	if summary.Escalations != 1 {
		t.Errorf("Expected 1 escalation, got %d", summary.Escalations)
	}
}

// TestStoreRejectsInvalidStatus verifies the schema enforces the status list.
func TestStoreRejectsInvalidStatus(t *testing.T) {
	store := createTestStore(t)

	if err := store.SaveRun("run-bad", "deploy", "sideways", ""); err == nil {
		t.Error("Expected CHECK constraint failure for unknown status")
	}
}

// TestStorePersistsAcrossReopen verifies data survives close and reopen.
func TestStorePersistsAcrossReopen(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "conductor.db")

	store, err := Open(dbPath)
	if err != nil {
		t.Fatalf("Failed to open store: %v", err)
	}
	if err := store.SaveRun("run-6", "deploy", "complete", ""); err != nil {
		t.Fatalf("Failed to save run: %v", err)
	}
	if err := store.Close(); err != nil {
		t.Fatalf("Failed to close store: %v", err)
	}

	reopened, err := Open(dbPath)
	if err != nil {
		t.Fatalf("Failed to reopen store: %v", err)
	}
	defer func() {
		if err := reopened.Close(); err != nil {
			t.Errorf("Failed to close reopened store: %v", err)
		}
	}()

	run, err := reopened.GetRun("run-6")
	if err != nil {
		t.Fatalf("Failed to get run after reopen: %v", err)
	}
	if run.Status != "complete" {
		t.Errorf("Expected complete, got %s", run.Status)
	}
}

// TestSchemaVersion verifies a fresh database lands on the current version
// and reopening does not re-run migrations.
func TestSchemaVersion(t *testing.T) {
	store := createTestStore(t)

	version, err := GetSchemaVersion(store.db)
	if err != nil {
		t.Fatalf("Failed to get schema version: %v", err)
	}
	if version != CurrentSchemaVersion {
		t.Errorf("Expected schema version %d, got %d", CurrentSchemaVersion, version)
	}

	if err := initializeSchemaWithMigrations(store.db); err != nil {
		t.Errorf("Re-initializing current schema should be a no-op, got %v", err)
	}
}
