package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sort"
	"syscall"
	"time"

	"conductor/pkg/config"
	"conductor/pkg/eventlog"
	"conductor/pkg/gate"
	"conductor/pkg/metrics"
	"conductor/pkg/workflow"
)

// runWorkflow executes one workflow run end to end and prints a summary.
// An escalated run is a normal outcome, not a process failure: the exit
// code is 0 and the summary tells the operator what to do next.
func runWorkflow(opts *cliOptions) int {
	cfg, err := config.GetConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to get config: %v\n", err)
		return 1
	}

	path, err := resolveWorkflowPath(opts)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		return 1
	}
	def, err := workflow.LoadDefinition(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load workflow: %v\n", err)
		return 1
	}

	store, err := openStore()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to open run database: %v\n", err)
		return 1
	}
	defer func() { _ = store.Close() }()

	eventDir, err := config.EventLogDir()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to resolve event log dir: %v\n", err)
		return 1
	}
	events, err := eventlog.NewWriter(eventDir, cfg.EventLog.RotationHours)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to open event journal: %v\n", err)
		return 1
	}
	defer func() { _ = events.Close() }()

	cache, err := openCache()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to open gate cache: %v\n", err)
		return 1
	}

	secretEnv, err := config.AgentSecretEnv()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to resolve agent secrets: %v\n", err)
		return 1
	}

	var recorder metrics.Recorder
	if cfg.Metrics.Enabled {
		recorder = metrics.NewPrometheusRecorder()
	} else {
		recorder = metrics.NewInternalRecorder()
	}

	engine, err := workflow.NewEngine(def, &workflow.EngineOptions{
		Cache:   cache,
		Gates:   gate.NewCommandRunner(cfg.Gates.Commands, opts.projectDir),
		Agents:  workflow.NewCommandAgentRunner(cfg.Agents.Commands, opts.projectDir, secretEnv),
		Store:   store,
		Events:  events,
		Metrics: recorder,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to build engine: %v\n", err)
		return 1
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	result, err := engine.Execute(ctx, engine.NewRun(), opts.initialFiles)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Run failed: %v\n", err)
		return 1
	}

	printRunSummary(result, cache)
	return 0
}

func printRunSummary(result *workflow.RunResult, cache *gate.Cache) {
	elapsed := result.FinishedAt.Sub(result.StartedAt).Round(time.Millisecond)

	fmt.Println()
	switch result.Status {
	case workflow.StatusComplete:
		fmt.Printf("✅ Run %s complete: workflow %s, %d stage attempt(s) in %s\n",
			result.RunID, result.Workflow, len(result.Stages), elapsed)
	case workflow.StatusEscalated:
		fmt.Printf("🚨 Run %s escalated: workflow %s after %d stage attempt(s) in %s\n",
			result.RunID, result.Workflow, len(result.Stages), elapsed)
	default:
		fmt.Printf("Run %s finished with status %s after %d stage attempt(s)\n",
			result.RunID, result.Status, len(result.Stages))
	}

	for _, stage := range result.Stages {
		marker := "✅"
		detail := ""
		if stage.Verdict != workflow.StatusSuccess {
			marker = "❌"
			switch {
			case stage.Error != "":
				detail = " " + stage.Error
			case stage.Gates != nil && stage.Gates.Failed != "":
				detail = fmt.Sprintf(" gate %s failed", stage.Gates.Failed)
			}
		}
		fmt.Printf("   %s %s (%s) %s%s\n", marker, stage.Stage, stage.Agent, stage.Duration.Round(time.Millisecond), detail)
	}

	if esc := result.Escalation; esc != nil {
		fmt.Println()
		fmt.Printf("   Stage:    %s\n", esc.Stage)
		if esc.Gate != "" {
			fmt.Printf("   Gate:     %s\n", esc.Gate)
		}
		fmt.Printf("   Category: %s\n", esc.Category)
		fmt.Printf("   Reason:   %s\n", esc.Reason)
		if len(esc.Remaining) > 0 {
			categories := make([]string, 0, len(esc.Remaining))
			for category := range esc.Remaining {
				categories = append(categories, category)
			}
			sort.Strings(categories)
			fmt.Print("   Budgets:  ")
			for i, category := range categories {
				if i > 0 {
					fmt.Print(", ")
				}
				fmt.Printf("%s=%d", category, esc.Remaining[category])
			}
			fmt.Println()
		}
		fmt.Printf("\n   Acknowledge with: conductor -ack %s\n", esc.ID)
	}

	stats := cache.Stats()
	if total := stats.HitCount + stats.MissCount; total > 0 {
		fmt.Printf("\n📦 Gate cache: %d hit(s), %d miss(es) (%.0f%% hit rate)\n",
			stats.HitCount, stats.MissCount, stats.HitRate*100)
	}
}
