package workflow

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"conductor/pkg/logx"
)

// DefaultStageTimeout bounds an agent invocation when the stage declares no
// timeout of its own. Agents do real work (planning, coding, fixing), so the
// default is generous.
const DefaultStageTimeout = 10 * time.Minute

// AgentRequest describes one stage invocation handed to an AgentRunner.
type AgentRequest struct {
	RunID string
	Stage string
	Agent string
	Model string   // Optional; empty means the runner's default
	Files []string // Touched-file set going into the stage
}

// AgentOutcome is what a stage's agent produced. Output is opaque to the
// engine; Files become the gate inputs for the stage (and the next stage's
// starting set). An empty Files list means the agent declared no changes.
type AgentOutcome struct {
	Output string
	Files  []string
}

// AgentRunner invokes the external worker for one stage. The context carries
// the stage timeout; implementations must honor cancellation. There is no
// external abort beyond that: the engine waits for completion-or-timeout.
type AgentRunner interface {
	Invoke(ctx context.Context, req *AgentRequest) (*AgentOutcome, error)
}

// invokeAgent runs the stage's agent under the stage timeout and normalizes
// the error so a timeout is always detectable with
// errors.Is(err, context.DeadlineExceeded).
func invokeAgent(ctx context.Context, runner AgentRunner, req *AgentRequest, timeout time.Duration) (*AgentOutcome, error) {
	if timeout <= 0 {
		timeout = DefaultStageTimeout
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	outcome, err := runner.Invoke(ctx, req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, fmt.Errorf("stage %s agent %s timed out after %v: %w",
				req.Stage, req.Agent, timeout, context.DeadlineExceeded)
		}
		return nil, fmt.Errorf("stage %s agent %s failed: %w", req.Stage, req.Agent, err)
	}
	return outcome, nil
}

// CommandAgentRunner runs agents as configured worker commands, one command
// line per agent name, executed with `sh -c`. The invocation is passed
// through the environment (CONDUCTOR_RUN_ID, CONDUCTOR_STAGE,
// CONDUCTOR_AGENT, CONDUCTOR_MODEL, CONDUCTOR_FILES) plus any extra
// variables configured for credentials. The worker reports which files it
// touched by writing one path per line to the manifest file named in
// CONDUCTOR_TOUCHED_FILES; a worker that writes nothing declares no changes.
type CommandAgentRunner struct {
	commands map[string]string
	workDir  string
	extraEnv []string
	logger   *logx.Logger
}

// NewCommandAgentRunner creates a runner from an agent-name to command-line
// map. extraEnv entries ("KEY=value") are appended to every worker's
// environment, typically decrypted credentials.
func NewCommandAgentRunner(commands map[string]string, workDir string, extraEnv []string) *CommandAgentRunner {
	return &CommandAgentRunner{
		commands: commands,
		workDir:  workDir,
		extraEnv: extraEnv,
		logger:   logx.NewLogger("agentrunner"),
	}
}

// Invoke executes the configured command for the requested agent.
func (r *CommandAgentRunner) Invoke(ctx context.Context, req *AgentRequest) (*AgentOutcome, error) {
	command, ok := r.commands[req.Agent]
	if !ok || command == "" {
		return nil, fmt.Errorf("no command configured for agent %q", req.Agent)
	}

	manifest, err := os.CreateTemp("", "conductor-touched-*")
	if err != nil {
		return nil, fmt.Errorf("failed to create touched-files manifest: %w", err)
	}
	manifestPath := manifest.Name()
	_ = manifest.Close()
	defer os.Remove(manifestPath) //nolint:errcheck // Best effort cleanup

	cmd := exec.CommandContext(ctx, "sh", "-c", command)
	if r.workDir != "" {
		cmd.Dir = r.workDir
	}
	cmd.Env = append(os.Environ(),
		fmt.Sprintf("CONDUCTOR_RUN_ID=%s", req.RunID),
		fmt.Sprintf("CONDUCTOR_STAGE=%s", req.Stage),
		fmt.Sprintf("CONDUCTOR_AGENT=%s", req.Agent),
		fmt.Sprintf("CONDUCTOR_MODEL=%s", req.Model),
		fmt.Sprintf("CONDUCTOR_FILES=%s", strings.Join(req.Files, " ")),
		fmt.Sprintf("CONDUCTOR_TOUCHED_FILES=%s", manifestPath),
	)
	cmd.Env = append(cmd.Env, r.extraEnv...)

	var output strings.Builder
	cmd.Stdout = &output
	cmd.Stderr = &output

	r.logger.Debug("Invoking agent %s for stage %s: %s", req.Agent, req.Stage, command)
	if err := cmd.Run(); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, fmt.Errorf("agent %s interrupted: %w", req.Agent, ctxErr)
		}
		return nil, fmt.Errorf("agent %s exited with error: %w\n%s", req.Agent, err, strings.TrimSpace(output.String()))
	}

	touched, err := readManifest(manifestPath, r.workDir)
	if err != nil {
		// The agent ran fine; a broken manifest only loses cache precision.
		r.logger.Warn("Failed to read touched-files manifest for agent %s: %v", req.Agent, err)
	}

	return &AgentOutcome{
		Output: strings.TrimSpace(output.String()),
		Files:  touched,
	}, nil
}

// readManifest parses the touched-files manifest: one path per line, blank
// lines ignored, relative paths resolved against the working directory.
func readManifest(path, workDir string) ([]string, error) {
	data, err := os.ReadFile(path) //nolint:gosec // Manifest path is runner-owned
	if err != nil {
		return nil, fmt.Errorf("failed to read manifest: %w", err)
	}

	var files []string
	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if !filepath.IsAbs(line) && workDir != "" {
			line = filepath.Join(workDir, line)
		}
		files = append(files, line)
	}
	return files, nil
}
