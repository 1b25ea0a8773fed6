package workflow

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"conductor/pkg/gate"
	"conductor/pkg/logx"
)

// EscalationRecord captures a run handed to a human: which stage gave up,
// which gate and budget category forced the handoff, and the remaining
// budgets at that moment. Records live in memory for the current session;
// the persistence store keeps the durable copy when one is attached.
type EscalationRecord struct {
	ID             string         `json:"id"`
	RunID          string         `json:"run_id"`
	Workflow       string         `json:"workflow"`
	Stage          string         `json:"stage"`
	Gate           string         `json:"gate,omitempty"`
	Category       gate.Category  `json:"category"`
	Reason         string         `json:"reason"`
	Remaining      map[string]int `json:"remaining_budgets"`
	EscalatedAt    time.Time      `json:"escalated_at"`
	Acknowledged   bool           `json:"acknowledged"`
	AcknowledgedBy string         `json:"acknowledged_by,omitempty"`
}

// EscalationSummary is an overview of the handler's records.
type EscalationSummary struct {
	Total      int                 `json:"total"`
	Pending    int                 `json:"pending"`
	ByCategory map[string]int      `json:"by_category"`
	Records    []*EscalationRecord `json:"records"`
}

// EscalationHandler collects escalation records for the current process.
type EscalationHandler struct {
	mu      sync.Mutex
	records map[string]*EscalationRecord
	logger  *logx.Logger
}

// NewEscalationHandler creates an empty handler.
func NewEscalationHandler() *EscalationHandler {
	return &EscalationHandler{
		records: make(map[string]*EscalationRecord),
		logger:  logx.NewLogger("escalation"),
	}
}

// Escalate records a forced human handoff and returns the new record.
func (h *EscalationHandler) Escalate(run *Run, stage, failedGate string, category gate.Category, reason string) *EscalationRecord {
	record := &EscalationRecord{
		ID:          uuid.New().String(),
		RunID:       run.ID(),
		Workflow:    run.Workflow(),
		Stage:       stage,
		Gate:        failedGate,
		Category:    category,
		Reason:      reason,
		Remaining:   run.Budgets().Snapshot(),
		EscalatedAt: time.Now().UTC(),
	}

	h.mu.Lock()
	h.records[record.ID] = record
	h.mu.Unlock()

	h.logger.Error("🚨 Run %s escalated at stage %s (category: %s): %s", record.RunID, stage, category, reason)
	return record
}

// Get returns the record with the given id.
func (h *EscalationHandler) Get(id string) (*EscalationRecord, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	record, ok := h.records[id]
	return record, ok
}

// List returns all records, newest first.
func (h *EscalationHandler) List() []*EscalationRecord {
	h.mu.Lock()
	defer h.mu.Unlock()

	records := make([]*EscalationRecord, 0, len(h.records))
	for _, record := range h.records {
		records = append(records, record)
	}
	sort.Slice(records, func(i, j int) bool {
		return records[i].EscalatedAt.After(records[j].EscalatedAt)
	})
	return records
}

// Acknowledge marks a record as seen by a human operator.
func (h *EscalationHandler) Acknowledge(id, operator string) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	record, ok := h.records[id]
	if !ok {
		return fmt.Errorf("escalation %s not found", id)
	}
	record.Acknowledged = true
	record.AcknowledgedBy = operator

	h.logger.Info("Escalation %s acknowledged by %s", id, operator)
	return nil
}

// Summary returns counts by category plus the full record list.
func (h *EscalationHandler) Summary() *EscalationSummary {
	records := h.List()

	summary := &EscalationSummary{
		Total:      len(records),
		ByCategory: make(map[string]int),
		Records:    records,
	}
	for _, record := range records {
		if !record.Acknowledged {
			summary.Pending++
		}
		summary.ByCategory[record.Category.String()]++
	}
	return summary
}
