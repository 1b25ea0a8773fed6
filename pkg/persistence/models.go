package persistence

import (
	"time"
)

// WorkflowRun is the stored snapshot of one run: its current status and
// stage, upserted on every transition.
type WorkflowRun struct {
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
	ID        string    `json:"id"`
	Workflow  string    `json:"workflow"`
	Status    string    `json:"status"`
	Stage     string    `json:"stage,omitempty"`
}

// StageTransition is one recorded status change of a run.
type StageTransition struct {
	CreatedAt  time.Time `json:"created_at"`
	RunID      string    `json:"run_id"`
	FromStatus string    `json:"from_status"`
	ToStatus   string    `json:"to_status"`
	Stage      string    `json:"stage,omitempty"`
	Reason     string    `json:"reason,omitempty"`
	Gate       string    `json:"gate,omitempty"`
	Category   string    `json:"category,omitempty"`
	ID         int64     `json:"id"`
}

// GateResult is one recorded gate attempt, cached replays included.
type GateResult struct {
	CreatedAt   time.Time `json:"created_at"`
	RunID       string    `json:"run_id"`
	Stage       string    `json:"stage"`
	Gate        string    `json:"gate"`
	Category    string    `json:"category,omitempty"`
	Strategy    string    `json:"strategy,omitempty"`
	Diagnostics string    `json:"diagnostics,omitempty"`
	ID          int64     `json:"id"`
	Passed      bool      `json:"passed"`
	Cached      bool      `json:"cached"`
}

// Escalation is a run handed to a human, with acknowledgement state.
type Escalation struct {
	CreatedAt      time.Time  `json:"created_at"`
	AcknowledgedAt *time.Time `json:"acknowledged_at,omitempty"`
	ID             string     `json:"id"`
	RunID          string     `json:"run_id"`
	Workflow       string     `json:"workflow"`
	Stage          string     `json:"stage"`
	Gate           string     `json:"gate,omitempty"`
	Category       string     `json:"category,omitempty"`
	Reason         string     `json:"reason,omitempty"`
	AcknowledgedBy string     `json:"acknowledged_by,omitempty"`
	Acknowledged   bool       `json:"acknowledged"`
}

// RunSummary aggregates a run's stored history for status listings.
type RunSummary struct {
	Run         *WorkflowRun `json:"run"`
	Transitions int          `json:"transitions"`
	GateChecks  int          `json:"gate_checks"`
	GatePasses  int          `json:"gate_passes"`
	Escalations int          `json:"escalations"`
}
