package workflow

// Status is the lifecycle state of one workflow run.
type Status string

// Run statuses - single source of truth for status names. These strings are
// stored in the database and event journal, so they are lowercase and stable.
const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusGateCheck Status = "gate_check"
	StatusSuccess   Status = "success"
	StatusFail      Status = "fail"
	StatusComplete  Status = "complete"
	StatusEscalated Status = "human_escalation"
)

// Terminal markers usable as transition targets in a workflow definition.
// They share the terminal status names: `onSuccess: complete` finishes the
// run, `onFail: human_escalation` hands it to a human.
const (
	TerminalComplete = string(StatusComplete)
	TerminalEscalate = string(StatusEscalated)
)

func (s Status) String() string {
	return string(s)
}

// Terminal reports whether s is absorbing: once a run reaches a terminal
// status it never transitions again.
func (s Status) Terminal() bool {
	return s == StatusComplete || s == StatusEscalated
}

// RunTransitions defines the canonical status transition map for workflow
// runs. Any status change a run makes must appear here; the table is the
// specification the engine is validated against.
var RunTransitions = map[Status][]Status{
	// PENDING starts the run at the definition's entry stage.
	StatusPending: {StatusRunning},

	// RUNNING covers the agent invocation: a clean completion moves to the
	// gate check, a timeout or agent error is a gate-independent failure.
	StatusRunning: {StatusGateCheck, StatusFail},

	// GATE_CHECK aggregates the stage's gate verdicts.
	StatusGateCheck: {StatusSuccess, StatusFail},

	// SUCCESS advances to the next stage or completes the workflow.
	StatusSuccess: {StatusRunning, StatusComplete},

	// FAIL retries via the stage's onFail target, or escalates when the
	// retry budget (or the stage's failure cap) is exhausted.
	StatusFail: {StatusRunning, StatusEscalated},

	// COMPLETE and HUMAN_ESCALATION are absorbing.
	StatusComplete:  {},
	StatusEscalated: {},
}

// IsValidTransition checks whether a status change is allowed by the
// canonical transition map.
func IsValidTransition(from, to Status) bool {
	for _, allowed := range RunTransitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

// ValidStatuses returns every status a run can be in.
func ValidStatuses() []Status {
	return []Status{
		StatusPending,
		StatusRunning,
		StatusGateCheck,
		StatusSuccess,
		StatusFail,
		StatusComplete,
		StatusEscalated,
	}
}
