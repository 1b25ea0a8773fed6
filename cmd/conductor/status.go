package main

import (
	"context"
	"fmt"
	"os"
	"sort"
	"time"

	"conductor/pkg/config"
	"conductor/pkg/gate"
	"conductor/pkg/metrics"
	"conductor/pkg/persistence"
	"conductor/pkg/workflow"
)

func openStore() (*persistence.Store, error) {
	dbPath, err := config.DatabasePath()
	if err != nil {
		return nil, err
	}
	return persistence.Open(dbPath)
}

func openCache() (*gate.Cache, error) {
	cfg, err := config.GetConfig()
	if err != nil {
		return nil, err
	}
	dir, err := config.CacheDir()
	if err != nil {
		return nil, err
	}
	return gate.NewCache(dir, &gate.CacheOptions{
		TTL:      time.Duration(cfg.Cache.TTLHours) * time.Hour,
		Disabled: cfg.Cache.Disabled,
	})
}

func runValidate(opts *cliOptions) int {
	path, err := resolveWorkflowPath(opts)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		return 1
	}
	def, err := workflow.LoadDefinition(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Workflow validation failed: %v\n", err)
		return 1
	}
	fmt.Printf("✅ Workflow %s is valid: %d stage(s) starting at %s\n", def.Name, len(def.Transitions), def.Start)
	return 0
}

func runCacheStats() int {
	cfg, err := config.GetConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to get config: %v\n", err)
		return 1
	}
	cache, err := openCache()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to open gate cache: %v\n", err)
		return 1
	}

	stats := cache.Stats()
	fmt.Printf("📦 Gate cache: %s\n", stats.Dir)
	fmt.Printf("   entries:  %d (%d bytes)\n", stats.FileCount, stats.Size)
	fmt.Printf("   ttl:      %dh\n", cfg.Cache.TTLHours)
	if cfg.Cache.Disabled {
		fmt.Println("   disabled: every gate runs fresh")
	}
	return 0
}

func runClearCache() int {
	cache, err := openCache()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to open gate cache: %v\n", err)
		return 1
	}
	if err := cache.Clear(); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to clear gate cache: %v\n", err)
		return 1
	}
	fmt.Printf("🧹 Gate cache cleared (%s)\n", cache.Dir())
	return 0
}

func runListRuns() int {
	store, err := openStore()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to open run database: %v\n", err)
		return 1
	}
	defer func() { _ = store.Close() }()

	runs, err := store.ListRuns(20)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to list runs: %v\n", err)
		return 1
	}
	if len(runs) == 0 {
		fmt.Println("No runs recorded yet.")
		return 0
	}

	fmt.Printf("📋 Recent runs (%d):\n", len(runs))
	for _, run := range runs {
		stage := run.Stage
		if stage == "" {
			stage = "-"
		}
		fmt.Printf("   %-36s %-16s %-18s %-12s %s\n",
			run.ID, run.Workflow, run.Status, stage, run.UpdatedAt.Local().Format("2006-01-02 15:04:05"))
	}
	return 0
}

func runListEscalations() int {
	store, err := openStore()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to open run database: %v\n", err)
		return 1
	}
	defer func() { _ = store.Close() }()

	escalations, err := store.ListEscalations(true)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to list escalations: %v\n", err)
		return 1
	}
	if len(escalations) == 0 {
		fmt.Println("No pending escalations.")
		return 0
	}

	fmt.Printf("🚨 Pending escalations (%d):\n", len(escalations))
	for _, esc := range escalations {
		fmt.Printf("   %s\n", esc.ID)
		fmt.Printf("      run %s, workflow %s, stage %s", esc.RunID, esc.Workflow, esc.Stage)
		if esc.Gate != "" {
			fmt.Printf(", gate %s", esc.Gate)
		}
		fmt.Println()
		fmt.Printf("      %s (%s)\n", esc.Reason, esc.CreatedAt.Local().Format("2006-01-02 15:04:05"))
	}
	return 0
}

func runAcknowledge(escalationID string) int {
	store, err := openStore()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to open run database: %v\n", err)
		return 1
	}
	defer func() { _ = store.Close() }()

	operator := os.Getenv("USER")
	if operator == "" {
		operator = "operator"
	}

	if err := store.AcknowledgeEscalation(escalationID, operator); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to acknowledge escalation: %v\n", err)
		return 1
	}
	fmt.Printf("✅ Escalation %s acknowledged by %s\n", escalationID, operator)
	return 0
}

func runMetricsReport(workflowName string) int {
	cfg, err := config.GetConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to get config: %v\n", err)
		return 1
	}
	if cfg.Metrics.PrometheusURL == "" {
		fmt.Fprintln(os.Stderr, "No Prometheus URL configured: set metrics.prometheus_url in config")
		return 1
	}

	query, err := metrics.NewQueryService(cfg.Metrics.PrometheusURL)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create metrics client: %v\n", err)
		return 1
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	totals, err := query.GetWorkflowMetrics(ctx, workflowName)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to query workflow metrics: %v\n", err)
		return 1
	}

	fmt.Printf("📊 Workflow %s:\n", workflowName)
	fmt.Printf("   gate checks:  %d (%d passed, %d failed)\n", totals.GateChecks, totals.GatePasses, totals.GateFailures)
	fmt.Printf("   cache:        %d hit(s), %d miss(es)\n", totals.CacheHits, totals.CacheMisses)
	fmt.Printf("   escalations:  %d\n", totals.Escalations)

	byGate, err := query.GetWorkflowMetricsByGate(ctx, workflowName)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to query per-gate metrics: %v\n", err)
		return 1
	}
	if len(byGate) > 0 {
		names := make([]string, 0, len(byGate))
		for name := range byGate {
			names = append(names, name)
		}
		sort.Strings(names)

		fmt.Println("   per gate:")
		for _, name := range names {
			gm := byGate[name]
			fmt.Printf("      %-20s %s: %d check(s), %.0f%% pass rate\n", name, gm.Category, gm.Checks, gm.PassRate*100)
		}
	}
	return 0
}
