// Package workflow implements the stage graph for gated development
// workflows and the per-run state machine that drives agents through it.
package workflow

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"conductor/pkg/gate"
)

// Definition validation errors. LoadDefinition wraps these with the offending
// stage and field; compare with errors.Is.
var (
	ErrMissingStart  = errors.New("workflow definition has no start stage")
	ErrNoStages      = errors.New("workflow definition has no stages")
	ErrDanglingStage = errors.New("transition references unknown stage")
	ErrBadTransition = errors.New("invalid stage transition target")
	ErrBadStage      = errors.New("invalid stage configuration")
	ErrBadBudget     = errors.New("invalid retry budget")
)

// Duration accepts human-readable values ("90s", "5m") in workflow documents,
// in both YAML and JSON form. Bare numbers are taken as seconds.
type Duration time.Duration

// Std returns the wrapped time.Duration.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

func (d Duration) String() string {
	return time.Duration(d).String()
}

func (d *Duration) parse(s string) error {
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

// UnmarshalYAML implements custom unmarshaling for duration values.
func (d *Duration) UnmarshalYAML(unmarshal func(any) error) error {
	var s string
	if err := unmarshal(&s); err == nil {
		return d.parse(s)
	}

	var secs float64
	if err := unmarshal(&secs); err != nil {
		return fmt.Errorf("duration must be a string like \"5m\" or a number of seconds")
	}
	*d = Duration(time.Duration(secs * float64(time.Second)))
	return nil
}

// UnmarshalJSON implements custom unmarshaling for duration values.
func (d *Duration) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		return d.parse(s)
	}

	var secs float64
	if err := json.Unmarshal(data, &secs); err != nil {
		return fmt.Errorf("duration must be a string like \"5m\" or a number of seconds")
	}
	*d = Duration(time.Duration(secs * float64(time.Second)))
	return nil
}

// MarshalYAML writes the duration in its string form.
func (d Duration) MarshalYAML() (any, error) {
	return d.String(), nil
}

// MarshalJSON writes the duration in its string form.
func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.String())
}

// StageRuntime holds the agent invocation settings for one stage.
type StageRuntime struct {
	Agent      string   `yaml:"agent" json:"agent"`
	Model      string   `yaml:"model,omitempty" json:"model,omitempty"`
	Timeout    Duration `yaml:"timeout,omitempty" json:"timeout,omitempty"`
	MaxRetries int      `yaml:"maxRetries,omitempty" json:"maxRetries,omitempty"`
	Strategy   string   `yaml:"strategy,omitempty" json:"strategy,omitempty"`
}

// StageConfig is one node in the workflow graph: where to go on success and
// failure, which gates guard the exit, and how to invoke the stage's agent.
type StageConfig struct {
	OnSuccess string       `yaml:"onSuccess,omitempty" json:"onSuccess,omitempty"`
	OnFail    string       `yaml:"onFail,omitempty" json:"onFail,omitempty"`
	Gates     []string     `yaml:"gates,omitempty" json:"gates,omitempty"`
	Config    StageRuntime `yaml:"config" json:"config"`
}

// Terminal reports whether the stage declares no outgoing transitions.
// Success at a terminal stage completes the workflow; failure escalates.
func (s *StageConfig) Terminal() bool {
	return s.OnSuccess == "" && s.OnFail == ""
}

// SuccessTarget returns the stage id or terminal marker to move to after a
// passing verdict.
func (s *StageConfig) SuccessTarget() string {
	if s.OnSuccess == "" {
		return TerminalComplete
	}
	return s.OnSuccess
}

// FailTarget returns the stage id or terminal marker to move to after a
// failing verdict, before budget accounting is applied.
func (s *StageConfig) FailTarget() string {
	if s.OnFail == "" {
		return TerminalEscalate
	}
	return s.OnFail
}

// Strategy returns the gate strategy for this stage, defaulting when the
// definition leaves it out.
func (s *StageConfig) Strategy() string {
	if s.Config.Strategy == "" {
		return gate.DefaultStrategy
	}
	return s.Config.Strategy
}

// Guardrails toggles gate evaluation globally. Enabled is a pointer so a
// document that omits the block keeps the default (on).
type Guardrails struct {
	Enabled *bool `yaml:"enabled,omitempty" json:"enabled,omitempty"`
}

// GlobalConfig carries run-wide policy: retry budgets per gate category and
// the guardrails switch.
type GlobalConfig struct {
	RetryBudgets map[string]int `yaml:"retryBudgets,omitempty" json:"retryBudgets,omitempty"`
	Guardrails   Guardrails     `yaml:"guardrails,omitempty" json:"guardrails,omitempty"`
}

// Definition is the immutable workflow graph: a single entry point and a
// mapping of stage id to stage configuration. Load it once, validate it, and
// share it across runs; it is never mutated after Validate.
type Definition struct {
	Name        string                  `yaml:"name,omitempty" json:"name,omitempty"`
	Start       string                  `yaml:"start" json:"start"`
	Transitions map[string]*StageConfig `yaml:"transitions" json:"transitions"`
	Global      GlobalConfig            `yaml:"global,omitempty" json:"global,omitempty"`
}

// LoadDefinition reads and validates a workflow document. The format follows
// the file extension: .json parses as JSON, everything else as YAML. Any
// validation failure is fatal; no run may start from an invalid definition.
func LoadDefinition(path string) (*Definition, error) {
	data, err := os.ReadFile(path) //nolint:gosec // Path comes from operator flags
	if err != nil {
		return nil, fmt.Errorf("failed to read workflow definition %s: %w", path, err)
	}

	var def Definition
	if strings.EqualFold(filepath.Ext(path), ".json") {
		if err := json.Unmarshal(data, &def); err != nil {
			return nil, fmt.Errorf("failed to parse workflow definition %s: %w", path, err)
		}
	} else {
		if err := yaml.Unmarshal(data, &def); err != nil {
			return nil, fmt.Errorf("failed to parse workflow definition %s: %w", path, err)
		}
	}

	if def.Name == "" {
		base := filepath.Base(path)
		def.Name = strings.TrimSuffix(base, filepath.Ext(base))
	}

	if err := def.Validate(); err != nil {
		return nil, fmt.Errorf("invalid workflow definition %s: %w", path, err)
	}

	return &def, nil
}

// Stage looks up a stage configuration by id.
func (d *Definition) Stage(id string) (*StageConfig, bool) {
	cfg, ok := d.Transitions[id]
	return cfg, ok
}

// GuardrailsEnabled reports whether gate evaluation is active. Omitting the
// guardrails block means enabled.
func (d *Definition) GuardrailsEnabled() bool {
	if d.Global.Guardrails.Enabled == nil {
		return true
	}
	return *d.Global.Guardrails.Enabled
}

// Budgets converts the declared retry budgets into typed categories. Only
// call after Validate; unknown category names fail validation.
func (d *Definition) Budgets() map[gate.Category]int {
	budgets := make(map[gate.Category]int, len(d.Global.RetryBudgets))
	for name, max := range d.Global.RetryBudgets {
		budgets[gate.Category(name)] = max
	}
	return budgets
}

// Validate checks every structural invariant of the graph. It must pass
// before the first run starts; a dangling stage reference discovered
// mid-run would strand the run, so this is the one place the engine is
// strict rather than degrading.
func (d *Definition) Validate() error {
	if len(d.Transitions) == 0 {
		return ErrNoStages
	}
	if d.Start == "" {
		return ErrMissingStart
	}
	if _, ok := d.Transitions[d.Start]; !ok {
		return fmt.Errorf("%w: start stage %q is not defined", ErrDanglingStage, d.Start)
	}

	for id, cfg := range d.Transitions {
		if err := d.validateStage(id, cfg); err != nil {
			return err
		}
	}

	for name, max := range d.Global.RetryBudgets {
		if !gate.Category(name).Valid() {
			return fmt.Errorf("%w: unknown category %q (valid: %v)", ErrBadBudget, name, gate.Categories())
		}
		if max <= 0 {
			return fmt.Errorf("%w: category %q must allow at least one attempt, got %d", ErrBadBudget, name, max)
		}
	}

	return nil
}

func (d *Definition) validateStage(id string, cfg *StageConfig) error {
	if cfg == nil {
		return fmt.Errorf("%w: stage %q has no configuration", ErrBadStage, id)
	}
	if id == TerminalComplete || id == TerminalEscalate {
		return fmt.Errorf("%w: stage id %q collides with a terminal marker", ErrBadStage, id)
	}

	// A stage may drop both transitions (terminal), never just one.
	if cfg.Terminal() {
		// Fine: success completes, failure escalates.
	} else if cfg.OnSuccess == "" || cfg.OnFail == "" {
		return fmt.Errorf("%w: stage %q declares only one of onSuccess/onFail; terminal stages drop both", ErrBadStage, id)
	}

	if cfg.OnSuccess != "" && cfg.OnSuccess != TerminalComplete {
		if cfg.OnSuccess == TerminalEscalate {
			return fmt.Errorf("%w: stage %q onSuccess cannot target %s", ErrBadTransition, id, TerminalEscalate)
		}
		if _, ok := d.Transitions[cfg.OnSuccess]; !ok {
			return fmt.Errorf("%w: stage %q onSuccess -> %q", ErrDanglingStage, id, cfg.OnSuccess)
		}
	}
	if cfg.OnFail != "" && cfg.OnFail != TerminalEscalate {
		if cfg.OnFail == TerminalComplete {
			return fmt.Errorf("%w: stage %q onFail cannot target %s", ErrBadTransition, id, TerminalComplete)
		}
		if _, ok := d.Transitions[cfg.OnFail]; !ok {
			return fmt.Errorf("%w: stage %q onFail -> %q", ErrDanglingStage, id, cfg.OnFail)
		}
	}

	for i, gateName := range cfg.Gates {
		if strings.TrimSpace(gateName) == "" {
			return fmt.Errorf("%w: stage %q gate %d has an empty name", ErrBadStage, id, i)
		}
	}

	if cfg.Config.Agent == "" {
		return fmt.Errorf("%w: stage %q has no agent", ErrBadStage, id)
	}
	if cfg.Config.Timeout < 0 {
		return fmt.Errorf("%w: stage %q timeout must be positive, got %s", ErrBadStage, id, cfg.Config.Timeout)
	}
	if cfg.Config.MaxRetries < 0 {
		return fmt.Errorf("%w: stage %q maxRetries must not be negative, got %d", ErrBadStage, id, cfg.Config.MaxRetries)
	}

	return nil
}
