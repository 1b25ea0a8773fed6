package workflow

import (
	"context"
	"errors"
	"fmt"
	"time"

	"conductor/pkg/eventlog"
	"conductor/pkg/gate"
	"conductor/pkg/logx"
	"conductor/pkg/metrics"
)

// Store persists run state durably. Methods take plain values so a storage
// layer can satisfy the interface without importing this package. A nil
// Store on the engine disables persistence; every save failure is logged
// and swallowed because storage is observability, not control flow.
type Store interface {
	SaveRun(runID, workflow, status, stage string) error
	SaveTransition(runID, from, to, stage, reason, gateName, category string) error
	SaveGateResult(runID, stage, gateName, category, strategy string, passed, cached bool, diagnostics string) error
	SaveEscalation(escalationID, runID, workflow, stage, gateName, category, reason string) error
}

// GateReport summarizes the gate evaluation of one stage pass. Gates run in
// declared order and stop at the first failure, so Attempted may be shorter
// than the stage's gate list.
type GateReport struct {
	Stage     string                  `json:"stage"`
	Strategy  string                  `json:"strategy"`
	Attempted []string                `json:"attempted"`
	Results   map[string]*gate.Result `json:"results"`
	Cached    map[string]bool         `json:"cached"`
	Failed    string                  `json:"failed,omitempty"` // First failing gate, "" when all passed
}

// Passed reports whether every attempted gate passed.
func (g *GateReport) Passed() bool {
	return g.Failed == ""
}

// StageResult records one stage attempt for the run summary.
type StageResult struct {
	Stage      string            `json:"stage"`
	Agent      string            `json:"agent"`
	Verdict    Status            `json:"verdict"` // success or fail
	Gates      *GateReport       `json:"gates"`
	Output     string            `json:"output,omitempty"`
	Error      string            `json:"error,omitempty"` // Agent error or timeout, when the stage never reached gates
	Escalation *EscalationRecord `json:"escalation,omitempty"`
	Duration   time.Duration     `json:"duration"`
}

// RunResult is the complete outcome of Execute, for CLI summaries.
type RunResult struct {
	RunID      string            `json:"run_id"`
	Workflow   string            `json:"workflow"`
	Status     Status            `json:"status"`
	Stages     []StageResult     `json:"stages"`
	Escalation *EscalationRecord `json:"escalation,omitempty"`
	StartedAt  time.Time         `json:"started_at"`
	FinishedAt time.Time         `json:"finished_at"`
}

// EngineOptions wires the engine's collaborators. Agents is always
// required; Gates and Cache are required when the definition declares gates
// and guardrails are on. Everything else defaults to a working no-op.
type EngineOptions struct {
	Cache       *gate.Cache
	Gates       gate.Runner
	Agents      AgentRunner
	Escalations *EscalationHandler
	Store       Store
	Events      *eventlog.Writer
	Metrics     metrics.Recorder
}

// Engine drives workflow runs through the stage graph: it invokes each
// stage's agent, evaluates the stage's gates against the touched files
// (through the verdict cache), applies retry budgets, and routes the run to
// the next stage or a terminal status. One engine serves one validated
// definition; runs do not share state, so Execute may be called
// concurrently for independent runs.
type Engine struct {
	def         *Definition
	cache       *gate.Cache
	gates       gate.Runner
	agents      AgentRunner
	escalations *EscalationHandler
	store       Store
	events      *eventlog.Writer
	metrics     metrics.Recorder
	logger      *logx.Logger
}

// NewEngine creates an engine for the definition. The definition is
// re-validated so a hand-built one cannot slip past the graph invariants.
func NewEngine(def *Definition, opts *EngineOptions) (*Engine, error) {
	if def == nil {
		return nil, fmt.Errorf("engine requires a workflow definition")
	}
	if err := def.Validate(); err != nil {
		return nil, fmt.Errorf("invalid workflow definition: %w", err)
	}
	if opts == nil {
		opts = &EngineOptions{}
	}
	if opts.Agents == nil {
		return nil, fmt.Errorf("engine requires an agent runner")
	}

	if def.GuardrailsEnabled() && definitionHasGates(def) {
		if opts.Gates == nil {
			return nil, fmt.Errorf("definition %s declares gates but no gate runner is configured", def.Name)
		}
		if opts.Cache == nil {
			return nil, fmt.Errorf("definition %s declares gates but no gate cache is configured", def.Name)
		}
	}

	escalations := opts.Escalations
	if escalations == nil {
		escalations = NewEscalationHandler()
	}
	recorder := opts.Metrics
	if recorder == nil {
		recorder = metrics.Nop()
	}

	return &Engine{
		def:         def,
		cache:       opts.Cache,
		gates:       opts.Gates,
		agents:      opts.Agents,
		escalations: escalations,
		store:       opts.Store,
		events:      opts.Events,
		metrics:     recorder,
		logger:      logx.NewLogger("engine"),
	}, nil
}

func definitionHasGates(def *Definition) bool {
	for _, cfg := range def.Transitions {
		if len(cfg.Gates) > 0 {
			return true
		}
	}
	return false
}

// Definition returns the workflow graph the engine executes.
func (e *Engine) Definition() *Definition {
	return e.def
}

// Escalations returns the engine's escalation handler.
func (e *Engine) Escalations() *EscalationHandler {
	return e.escalations
}

// NewRun creates a pending run of the engine's definition.
func (e *Engine) NewRun() *Run {
	return NewRun(e.def)
}

// Start moves a pending run to its start stage.
func (e *Engine) Start(run *Run) error {
	e.journal(&eventlog.Event{
		Type:     eventlog.EventRunStarted,
		RunID:    run.ID(),
		Workflow: run.Workflow(),
		Stage:    e.def.Start,
	})

	if err := e.transition(run, StatusRunning, e.def.Start, "run started", "", ""); err != nil {
		return err
	}

	e.logger.Info("▶️  Run %s started: workflow %s, stage %s", run.ID(), run.Workflow(), e.def.Start)
	return nil
}

// Execute drives a pending run to a terminal status. initialFiles seeds the
// touched-file set for the first stage; each stage whose agent reports
// touched files replaces the set for the gates and the following stages.
// Cancelling the context aborts between operations and surfaces the context
// error; the run is left in its current status.
func (e *Engine) Execute(ctx context.Context, run *Run, initialFiles []string) (*RunResult, error) {
	result := &RunResult{
		RunID:     run.ID(),
		Workflow:  run.Workflow(),
		StartedAt: time.Now().UTC(),
	}

	if err := e.Start(run); err != nil {
		return result, err
	}

	files := initialFiles
	for !run.Done() {
		if err := ctx.Err(); err != nil {
			result.Status = run.Status()
			return result, fmt.Errorf("run %s aborted: %w", run.ID(), err)
		}

		stageResult, nextFiles, err := e.executeStage(ctx, run, files)
		if stageResult != nil {
			result.Stages = append(result.Stages, *stageResult)
			if stageResult.Escalation != nil {
				result.Escalation = stageResult.Escalation
			}
		}
		if err != nil {
			result.Status = run.Status()
			return result, err
		}
		files = nextFiles
	}

	result.Status = run.Status()
	result.FinishedAt = run.FinishedAt()

	e.journal(&eventlog.Event{
		Type:     eventlog.EventRunFinished,
		RunID:    run.ID(),
		Workflow: run.Workflow(),
		Status:   run.Status().String(),
	})
	e.logger.Info("🏁 Run %s finished: %s (%d stage attempts)", run.ID(), run.Status(), len(result.Stages))

	return result, nil
}

// executeStage performs one full pass of the run's current stage: agent,
// gates, and the resulting transitions. It returns the attempt record and
// the touched-file set for the next stage.
func (e *Engine) executeStage(ctx context.Context, run *Run, files []string) (*StageResult, []string, error) {
	if status := run.Status(); status != StatusRunning {
		return nil, files, fmt.Errorf("%w: cannot execute stage in status %s", ErrInvalidStatusChange, status)
	}

	stageID := run.Stage()
	cfg, ok := e.def.Stage(stageID)
	if !ok {
		return nil, files, fmt.Errorf("run %s is in unknown stage %q", run.ID(), stageID)
	}

	stageResult := &StageResult{Stage: stageID, Agent: cfg.Config.Agent}
	start := time.Now()
	defer func() {
		stageResult.Duration = time.Since(start)
		if stageResult.Verdict != "" {
			e.metrics.ObserveStage(run.Workflow(), stageID, stageResult.Verdict.String(), stageResult.Duration)
		}
	}()

	e.journal(&eventlog.Event{
		Type:     eventlog.EventStageStarted,
		RunID:    run.ID(),
		Workflow: run.Workflow(),
		Stage:    stageID,
		Fields:   map[string]any{"agent": cfg.Config.Agent, "files": len(files)},
	})

	req := &AgentRequest{
		RunID: run.ID(),
		Stage: stageID,
		Agent: cfg.Config.Agent,
		Model: cfg.Config.Model,
		Files: files,
	}
	outcome, agentErr := invokeAgent(ctx, e.agents, req, cfg.Config.Timeout.Std())

	if agentErr != nil {
		// A cancelled parent context is an abort, not a stage failure.
		if ctx.Err() != nil && !errors.Is(agentErr, context.DeadlineExceeded) {
			return nil, files, fmt.Errorf("run %s aborted: %w", run.ID(), ctx.Err())
		}

		stageResult.Verdict = StatusFail
		stageResult.Error = agentErr.Error()
		e.journal(&eventlog.Event{
			Type:     eventlog.EventAgentFailed,
			RunID:    run.ID(),
			Workflow: run.Workflow(),
			Stage:    stageID,
			Detail:   agentErr.Error(),
		})

		// Timeouts and agent errors are gate-independent failures charged
		// to the global budget.
		if err := e.transition(run, StatusFail, stageID, agentErr.Error(), "", gate.CategoryGlobal); err != nil {
			return stageResult, files, err
		}
		record, err := e.resolveFailure(run, cfg, stageID, "", gate.CategoryGlobal, agentErr.Error())
		stageResult.Escalation = record
		return stageResult, files, err
	}

	stageResult.Output = outcome.Output
	e.journal(&eventlog.Event{
		Type:     eventlog.EventAgentCompleted,
		RunID:    run.ID(),
		Workflow: run.Workflow(),
		Stage:    stageID,
		Fields:   map[string]any{"touched_files": len(outcome.Files), "output_bytes": len(outcome.Output)},
	})

	// An agent that reports touched files replaces the working set; one
	// that reports none leaves the inherited set in place.
	if len(outcome.Files) > 0 {
		files = outcome.Files
	}

	if err := e.transition(run, StatusGateCheck, stageID, "agent completed", "", ""); err != nil {
		return stageResult, files, err
	}

	report, err := e.evaluateGates(ctx, run, cfg, stageID, files)
	stageResult.Gates = report
	if err != nil {
		return stageResult, files, err
	}

	if report.Passed() {
		stageResult.Verdict = StatusSuccess
		if err := e.transition(run, StatusSuccess, stageID, "all gates passed", "", ""); err != nil {
			return stageResult, files, err
		}
		return stageResult, files, e.advance(run, cfg, stageID)
	}

	failed := report.Failed
	category := gate.Categorize(failed)
	reason := fmt.Sprintf("gate %s failed", failed)
	if diag := report.Results[failed].Diagnostics; diag != "" {
		reason = fmt.Sprintf("gate %s failed: %s", failed, diag)
	}

	stageResult.Verdict = StatusFail
	if err := e.transition(run, StatusFail, stageID, reason, failed, category); err != nil {
		return stageResult, files, err
	}
	record, err := e.resolveFailure(run, cfg, stageID, failed, category, reason)
	stageResult.Escalation = record
	return stageResult, files, err
}

// evaluateGates runs the stage's gates in declared order, consulting the
// verdict cache first and stopping at the first failure. A gate runner
// error counts as a failed attempt but is never cached; only real verdicts
// are. When guardrails are disabled the stage passes without evaluation.
func (e *Engine) evaluateGates(ctx context.Context, run *Run, cfg *StageConfig, stageID string, files []string) (*GateReport, error) {
	report := &GateReport{
		Stage:    stageID,
		Strategy: cfg.Strategy(),
		Results:  make(map[string]*gate.Result),
		Cached:   make(map[string]bool),
	}

	if len(cfg.Gates) == 0 {
		return report, nil
	}
	if !e.def.GuardrailsEnabled() {
		e.logger.Info("⏭️  Guardrails disabled, skipping %d gate(s) for stage %s", len(cfg.Gates), stageID)
		return report, nil
	}

	for _, gateName := range cfg.Gates {
		category := gate.Categorize(gateName)

		result, cached := e.cache.Get(gateName, files, report.Strategy)
		var duration time.Duration
		if cached {
			e.metrics.IncCacheEvent(run.Workflow(), "hit")
			logx.Debug("engine", "Gate %s: cache hit for stage %s", gateName, stageID)
		} else {
			e.metrics.IncCacheEvent(run.Workflow(), "miss")

			gateStart := time.Now()
			fresh, runErr := e.gates.Run(ctx, gateName, files, report.Strategy)
			duration = time.Since(gateStart)

			if runErr != nil {
				if ctx.Err() != nil {
					return report, fmt.Errorf("run %s aborted during gate %s: %w", run.ID(), gateName, ctx.Err())
				}
				// The gate could not be run at all. That is a failed
				// attempt, but not a verdict worth caching.
				result = &gate.Result{Passed: false, Diagnostics: fmt.Sprintf("gate runner error: %v", runErr)}
			} else {
				result = fresh
				e.cache.Set(gateName, files, result, report.Strategy)
			}
		}

		report.Attempted = append(report.Attempted, gateName)
		report.Results[gateName] = result
		report.Cached[gateName] = cached

		e.metrics.ObserveGate(run.Workflow(), gateName, category.String(), result.Passed, cached, duration)
		e.journal(&eventlog.Event{
			Type:     eventlog.EventGateAttempt,
			RunID:    run.ID(),
			Workflow: run.Workflow(),
			Stage:    stageID,
			Gate:     gateName,
			Detail:   result.Diagnostics,
			Fields:   map[string]any{"passed": result.Passed, "cached": cached, "category": category.String()},
		})
		e.persistGateResult(run, stageID, gateName, category, report.Strategy, result, cached)

		if !result.Passed {
			report.Failed = gateName
			e.logger.Info("❌ Gate %s failed for stage %s (category: %s)", gateName, stageID, category)
			break
		}
		e.logger.Info("✅ Gate %s passed for stage %s (cached: %v)", gateName, stageID, cached)
	}

	return report, nil
}

// advance moves a run in success to its next stage, or completes it when
// the stage is terminal on success.
func (e *Engine) advance(run *Run, cfg *StageConfig, stageID string) error {
	target := cfg.SuccessTarget()
	if target == TerminalComplete {
		return e.transition(run, StatusComplete, stageID, "workflow complete", "", "")
	}
	return e.transition(run, StatusRunning, target, fmt.Sprintf("advanced from %s", stageID), "", "")
}

// resolveFailure routes a run in fail: it always consumes one attempt from
// the failure's budget category, then either retries via the stage's onFail
// target or escalates to a human. Escalation fires when the category budget
// just ran out, when the stage exceeded its own maxRetries cap, or when the
// stage declares escalation as its failure target. The returned record is
// nil when the run retries.
func (e *Engine) resolveFailure(run *Run, cfg *StageConfig, stageID, failedGate string, category gate.Category, reason string) (*EscalationRecord, error) {
	remaining := run.Budgets().Consume(category)
	failures := run.noteStageFailure(stageID)

	var trigger string
	switch {
	case remaining == 0:
		trigger = fmt.Sprintf("%s retry budget exhausted after %d attempts", category, run.Budgets().Used(category))
	case cfg.Config.MaxRetries > 0 && failures > cfg.Config.MaxRetries:
		trigger = fmt.Sprintf("stage %s exceeded its retry cap of %d", stageID, cfg.Config.MaxRetries)
	case cfg.FailTarget() == TerminalEscalate:
		trigger = fmt.Sprintf("stage %s hands failures to a human", stageID)
	}

	if trigger == "" {
		target := cfg.FailTarget()
		if remaining == Unlimited {
			e.logger.Info("🔁 Stage %s failed, retrying via %s (category %s is unbudgeted)", stageID, target, category)
		} else {
			e.logger.Info("🔁 Stage %s failed, retrying via %s (%d %s attempt(s) left)", stageID, target, remaining, category)
		}
		return nil, e.transition(run, StatusRunning, target, fmt.Sprintf("retry after failure: %s", reason), failedGate, category)
	}

	if err := e.transition(run, StatusEscalated, stageID, trigger, failedGate, category); err != nil {
		return nil, err
	}

	record := e.escalations.Escalate(run, stageID, failedGate, category, fmt.Sprintf("%s (%s)", reason, trigger))
	e.metrics.IncEscalation(run.Workflow(), stageID, category.String())
	e.journal(&eventlog.Event{
		Type:     eventlog.EventEscalated,
		RunID:    run.ID(),
		Workflow: run.Workflow(),
		Stage:    stageID,
		Gate:     failedGate,
		Detail:   record.Reason,
		Fields:   map[string]any{"category": category.String(), "escalation_id": record.ID},
	})
	e.persistEscalation(record)

	return record, nil
}

// transition applies one status change and fans it out to metrics, the
// event journal, and the store.
func (e *Engine) transition(run *Run, to Status, stage, reason, failedGate string, category gate.Category) error {
	from := run.Status()
	if err := run.transitionTo(to, stage, reason, failedGate, category); err != nil {
		return err
	}

	e.metrics.IncTransition(run.Workflow(), from.String(), to.String())
	e.journal(&eventlog.Event{
		Type:     eventlog.EventTransition,
		RunID:    run.ID(),
		Workflow: run.Workflow(),
		Stage:    stage,
		Status:   to.String(),
		Detail:   reason,
	})

	if e.store != nil {
		if err := e.store.SaveRun(run.ID(), run.Workflow(), to.String(), stage); err != nil {
			e.logger.Warn("Failed to persist run %s: %v", run.ID(), err)
		}
		if err := e.store.SaveTransition(run.ID(), from.String(), to.String(), stage, reason, failedGate, category.String()); err != nil {
			e.logger.Warn("Failed to persist transition for run %s: %v", run.ID(), err)
		}
	}
	return nil
}

func (e *Engine) persistGateResult(run *Run, stageID, gateName string, category gate.Category, strategy string, result *gate.Result, cached bool) {
	if e.store == nil {
		return
	}
	if err := e.store.SaveGateResult(run.ID(), stageID, gateName, category.String(), strategy, result.Passed, cached, result.Diagnostics); err != nil {
		e.logger.Warn("Failed to persist gate result %s for run %s: %v", gateName, run.ID(), err)
	}
}

func (e *Engine) persistEscalation(record *EscalationRecord) {
	if e.store == nil {
		return
	}
	err := e.store.SaveEscalation(record.ID, record.RunID, record.Workflow, record.Stage, record.Gate, record.Category.String(), record.Reason)
	if err != nil {
		e.logger.Warn("Failed to persist escalation %s: %v", record.ID, err)
	}
}

func (e *Engine) journal(event *eventlog.Event) {
	if e.events == nil {
		return
	}
	if err := e.events.Write(event); err != nil {
		e.logger.Warn("Failed to journal %s event for run %s: %v", event.Type, event.RunID, err)
	}
}
