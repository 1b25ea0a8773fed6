package persistence

import (
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("record not found")

// SaveRun inserts or updates the stored snapshot of a run.
func (s *Store) SaveRun(runID, workflowName, status, stage string) error {
	now := time.Now().UTC()
	query := `
		INSERT INTO workflow_runs (id, workflow, status, stage, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			status = excluded.status,
			stage = excluded.stage,
			updated_at = excluded.updated_at
	`
	if _, err := s.db.Exec(query, runID, workflowName, status, stage, now, now); err != nil {
		return fmt.Errorf("failed to save run %s: %w", runID, err)
	}
	return nil
}

// SaveTransition appends one status change to a run's history.
func (s *Store) SaveTransition(runID, from, to, stage, reason, gateName, category string) error {
	query := `
		INSERT INTO stage_transitions (run_id, from_status, to_status, stage, reason, gate, category, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`
	if _, err := s.db.Exec(query, runID, from, to, stage, reason, gateName, category, time.Now().UTC()); err != nil {
		return fmt.Errorf("failed to save transition for run %s: %w", runID, err)
	}
	return nil
}

// SaveGateResult appends one gate attempt to a run's history.
func (s *Store) SaveGateResult(runID, stage, gateName, category, strategy string, passed, cached bool, diagnostics string) error {
	query := `
		INSERT INTO gate_results (run_id, stage, gate, category, strategy, passed, cached, diagnostics, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	if _, err := s.db.Exec(query, runID, stage, gateName, category, strategy, passed, cached, diagnostics, time.Now().UTC()); err != nil {
		return fmt.Errorf("failed to save gate result for run %s: %w", runID, err)
	}
	return nil
}

// SaveEscalation records a run handed to a human.
func (s *Store) SaveEscalation(escalationID, runID, workflowName, stage, gateName, category, reason string) error {
	query := `
		INSERT INTO escalations (id, run_id, workflow, stage, gate, category, reason, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			reason = excluded.reason
	`
	if _, err := s.db.Exec(query, escalationID, runID, workflowName, stage, gateName, category, reason, time.Now().UTC()); err != nil {
		return fmt.Errorf("failed to save escalation %s: %w", escalationID, err)
	}
	return nil
}

// GetRun returns the stored snapshot of one run.
func (s *Store) GetRun(runID string) (*WorkflowRun, error) {
	query := `
		SELECT id, workflow, status, stage, created_at, updated_at
		FROM workflow_runs WHERE id = ?
	`
	run := &WorkflowRun{}
	err := s.db.QueryRow(query, runID).Scan(&run.ID, &run.Workflow, &run.Status, &run.Stage, &run.CreatedAt, &run.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("run %s: %w", runID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get run %s: %w", runID, err)
	}
	return run, nil
}

// ListRuns returns the most recently updated runs, newest first.
func (s *Store) ListRuns(limit int) ([]*WorkflowRun, error) {
	if limit <= 0 {
		limit = 50
	}
	query := `
		SELECT id, workflow, status, stage, created_at, updated_at
		FROM workflow_runs ORDER BY updated_at DESC LIMIT ?
	`
	rows, err := s.db.Query(query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var runs []*WorkflowRun
	for rows.Next() {
		run := &WorkflowRun{}
		if err := rows.Scan(&run.ID, &run.Workflow, &run.Status, &run.Stage, &run.CreatedAt, &run.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

// GetTransitions returns a run's status history in recorded order.
func (s *Store) GetTransitions(runID string) ([]*StageTransition, error) {
	query := `
		SELECT id, run_id, from_status, to_status, stage, reason, gate, category, created_at
		FROM stage_transitions WHERE run_id = ? ORDER BY id
	`
	rows, err := s.db.Query(query, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to get transitions for run %s: %w", runID, err)
	}
	defer func() { _ = rows.Close() }()

	var transitions []*StageTransition
	for rows.Next() {
		tr := &StageTransition{}
		if err := rows.Scan(&tr.ID, &tr.RunID, &tr.FromStatus, &tr.ToStatus, &tr.Stage, &tr.Reason, &tr.Gate, &tr.Category, &tr.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan transition: %w", err)
		}
		transitions = append(transitions, tr)
	}
	return transitions, rows.Err()
}

// GetGateResults returns a run's gate attempts in recorded order.
func (s *Store) GetGateResults(runID string) ([]*GateResult, error) {
	query := `
		SELECT id, run_id, stage, gate, category, strategy, passed, cached, diagnostics, created_at
		FROM gate_results WHERE run_id = ? ORDER BY id
	`
	rows, err := s.db.Query(query, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to get gate results for run %s: %w", runID, err)
	}
	defer func() { _ = rows.Close() }()

	var results []*GateResult
	for rows.Next() {
		gr := &GateResult{}
		if err := rows.Scan(&gr.ID, &gr.RunID, &gr.Stage, &gr.Gate, &gr.Category, &gr.Strategy, &gr.Passed, &gr.Cached, &gr.Diagnostics, &gr.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan gate result: %w", err)
		}
		results = append(results, gr)
	}
	return results, rows.Err()
}

// ListEscalations returns escalations newest first, optionally only those
// not yet acknowledged.
func (s *Store) ListEscalations(pendingOnly bool) ([]*Escalation, error) {
	query := `
		SELECT id, run_id, workflow, stage, gate, category, reason, acknowledged, acknowledged_by, created_at, acknowledged_at
		FROM escalations
	`
	if pendingOnly {
		query += " WHERE acknowledged = 0"
	}
	query += " ORDER BY created_at DESC"

	rows, err := s.db.Query(query)
	if err != nil {
		return nil, fmt.Errorf("failed to list escalations: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var escalations []*Escalation
	for rows.Next() {
		esc, err := scanEscalation(rows)
		if err != nil {
			return nil, err
		}
		escalations = append(escalations, esc)
	}
	return escalations, rows.Err()
}

// GetEscalation returns a single escalation by ID.
func (s *Store) GetEscalation(escalationID string) (*Escalation, error) {
	query := `
		SELECT id, run_id, workflow, stage, gate, category, reason, acknowledged, acknowledged_by, created_at, acknowledged_at
		FROM escalations WHERE id = ?
	`
	row := s.db.QueryRow(query, escalationID)
	esc, err := scanEscalation(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("escalation %s: %w", escalationID, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return esc, nil
}

// AcknowledgeEscalation marks an escalation as handled by an operator.
func (s *Store) AcknowledgeEscalation(escalationID, operator string) error {
	query := `
		UPDATE escalations
		SET acknowledged = 1, acknowledged_by = ?, acknowledged_at = ?
		WHERE id = ? AND acknowledged = 0
	`
	result, err := s.db.Exec(query, operator, time.Now().UTC(), escalationID)
	if err != nil {
		return fmt.Errorf("failed to acknowledge escalation %s: %w", escalationID, err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check acknowledge result: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("escalation %s: %w", escalationID, ErrNotFound)
	}
	return nil
}

// GetRunSummary aggregates a run's stored history for status listings.
func (s *Store) GetRunSummary(runID string) (*RunSummary, error) {
	run, err := s.GetRun(runID)
	if err != nil {
		return nil, err
	}

	summary := &RunSummary{Run: run}
	err = s.db.QueryRow(`SELECT COUNT(*) FROM stage_transitions WHERE run_id = ?`, runID).Scan(&summary.Transitions)
	if err != nil {
		return nil, fmt.Errorf("failed to count transitions for run %s: %w", runID, err)
	}
	err = s.db.QueryRow(`SELECT COUNT(*), COALESCE(SUM(passed), 0) FROM gate_results WHERE run_id = ?`, runID).
		Scan(&summary.GateChecks, &summary.GatePasses)
	if err != nil {
		return nil, fmt.Errorf("failed to count gate results for run %s: %w", runID, err)
	}
	err = s.db.QueryRow(`SELECT COUNT(*) FROM escalations WHERE run_id = ?`, runID).Scan(&summary.Escalations)
	if err != nil {
		return nil, fmt.Errorf("failed to count escalations for run %s: %w", runID, err)
	}
	return summary, nil
}

// scanner covers both sql.Row and sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanEscalation(row scanner) (*Escalation, error) {
	esc := &Escalation{}
	var ackBy sql.NullString
	var ackAt sql.NullTime
	err := row.Scan(&esc.ID, &esc.RunID, &esc.Workflow, &esc.Stage, &esc.Gate, &esc.Category, &esc.Reason,
		&esc.Acknowledged, &ackBy, &esc.CreatedAt, &ackAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan escalation: %w", err)
	}
	if ackBy.Valid {
		esc.AcknowledgedBy = ackBy.String
	}
	if ackAt.Valid {
		t := ackAt.Time
		esc.AcknowledgedAt = &t
	}
	return esc, nil
}
