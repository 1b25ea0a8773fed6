package workflow

import (
	"sync"

	"conductor/pkg/gate"
)

// Unlimited is returned by Consume and Remaining for categories without a
// configured budget: they count attempts but never exhaust.
const Unlimited = -1

// BudgetTracker enforces per-category retry budgets for one workflow run.
// The budget map is copied at construction and never mutated; only the
// per-run attempt counters move. A tracker belongs to exactly one run and is
// never replenished or shared.
type BudgetTracker struct {
	budgets map[gate.Category]int
	used    map[gate.Category]int
	mu      sync.Mutex
}

// NewBudgetTracker creates a tracker from the definition's budgets.
func NewBudgetTracker(budgets map[gate.Category]int) *BudgetTracker {
	copied := make(map[gate.Category]int, len(budgets))
	for category, max := range budgets {
		copied[category] = max
	}
	return &BudgetTracker{
		budgets: copied,
		used:    make(map[gate.Category]int),
	}
}

// Consume spends one attempt for the category and returns how many remain.
// Zero means the budget just ran out; Unlimited means no budget applies.
func (t *BudgetTracker) Consume(category gate.Category) int {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.used[category]++

	max, ok := t.budgets[category]
	if !ok {
		return Unlimited
	}
	remaining := max - t.used[category]
	if remaining < 0 {
		remaining = 0
	}
	return remaining
}

// Remaining reports attempts left for the category without consuming one.
func (t *BudgetTracker) Remaining(category gate.Category) int {
	t.mu.Lock()
	defer t.mu.Unlock()

	max, ok := t.budgets[category]
	if !ok {
		return Unlimited
	}
	remaining := max - t.used[category]
	if remaining < 0 {
		remaining = 0
	}
	return remaining
}

// IsExhausted reports whether the category has no attempts left. Unbudgeted
// categories never exhaust.
func (t *BudgetTracker) IsExhausted(category gate.Category) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	max, ok := t.budgets[category]
	if !ok {
		return false
	}
	return t.used[category] >= max
}

// Used reports how many attempts the category has consumed so far.
func (t *BudgetTracker) Used(category gate.Category) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.used[category]
}

// Snapshot returns remaining attempts per budgeted category, for escalation
// context and run summaries.
func (t *BudgetTracker) Snapshot() map[string]int {
	t.mu.Lock()
	defer t.mu.Unlock()

	snapshot := make(map[string]int, len(t.budgets))
	for category, max := range t.budgets {
		remaining := max - t.used[category]
		if remaining < 0 {
			remaining = 0
		}
		snapshot[category.String()] = remaining
	}
	return snapshot
}
