package gate

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"strings"

	"conductor/pkg/logx"
)

// CommandRunner runs gates as configured shell commands. Each gate name maps
// to one command line executed with `sh -c` in the configured working
// directory. The gate's inputs are exposed through the environment:
// GATE_NAME, GATE_STRATEGY, and GATE_FILES (space-separated paths). Exit
// status zero is a pass; anything else is a fail with the combined output as
// diagnostics.
type CommandRunner struct {
	commands map[string]string
	workDir  string
	logger   *logx.Logger
}

// NewCommandRunner creates a runner from a gate-name to command-line map.
func NewCommandRunner(commands map[string]string, workDir string) *CommandRunner {
	return &CommandRunner{
		commands: commands,
		workDir:  workDir,
		logger:   logx.NewLogger("gaterunner"),
	}
}

// Run executes the configured command for gateName. A missing configuration
// or a command that cannot start at all is an error; a command that runs and
// exits non-zero is a failed verdict, not an error.
func (r *CommandRunner) Run(ctx context.Context, gateName string, files []string, strategy string) (*Result, error) {
	command, ok := r.commands[gateName]
	if !ok || command == "" {
		return nil, fmt.Errorf("no command configured for gate %q", gateName)
	}

	cmd := exec.CommandContext(ctx, "sh", "-c", command)
	if r.workDir != "" {
		if _, err := os.Stat(r.workDir); os.IsNotExist(err) {
			return nil, fmt.Errorf("working directory does not exist: %s", r.workDir)
		}
		cmd.Dir = r.workDir
	}

	cmd.Env = append(os.Environ(),
		fmt.Sprintf("GATE_NAME=%s", gateName),
		fmt.Sprintf("GATE_STRATEGY=%s", strategy),
		fmt.Sprintf("GATE_FILES=%s", strings.Join(files, " ")),
	)

	var output strings.Builder
	cmd.Stdout = &output
	cmd.Stderr = &output

	r.logger.Debug("Running gate %s (strategy=%s): %s", gateName, strategy, command)
	err := cmd.Run()

	if err != nil {
		// A killed process also surfaces as ExitError, so check the
		// context before reading an exit code as a verdict.
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, fmt.Errorf("gate %s interrupted: %w", gateName, ctxErr)
		}
		if exitError, ok := err.(*exec.ExitError); ok {
			// Non-zero exit is a verdict, not a runner error.
			r.logger.Info("Gate %s failed with exit code %d", gateName, exitError.ExitCode())
			return &Result{
				Passed:      false,
				Diagnostics: strings.TrimSpace(output.String()),
			}, nil
		}
		return nil, fmt.Errorf("failed to run gate %s: %w", gateName, err)
	}

	return &Result{
		Passed:      true,
		Diagnostics: strings.TrimSpace(output.String()),
	}, nil
}
