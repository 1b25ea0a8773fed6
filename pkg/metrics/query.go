package metrics

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/api"
	v1 "github.com/prometheus/client_golang/api/prometheus/v1"
	"github.com/prometheus/common/model"
)

// WorkflowMetrics represents aggregated metrics for a workflow.
type WorkflowMetrics struct {
	Workflow     string `json:"workflow"`
	GateChecks   int64  `json:"gate_checks"`
	GatePasses   int64  `json:"gate_passes"`
	GateFailures int64  `json:"gate_failures"`
	CacheHits    int64  `json:"cache_hits"`
	CacheMisses  int64  `json:"cache_misses"`
	Escalations  int64  `json:"escalations"`
}

// QueryService provides methods to query metrics from Prometheus.
type QueryService struct {
	client   api.Client
	queryAPI v1.API
}

// NewQueryService creates a new metrics query service.
func NewQueryService(prometheusURL string) (*QueryService, error) {
	client, err := api.NewClient(api.Config{
		Address: prometheusURL,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create Prometheus client: %w", err)
	}

	return &QueryService{
		client:   client,
		queryAPI: v1.NewAPI(client),
	}, nil
}

// GetWorkflowMetrics retrieves aggregated gate and cache metrics for a workflow.
// This queries Prometheus for all gate evaluations associated with the workflow
// and aggregates the results across all runs.
func (q *QueryService) GetWorkflowMetrics(ctx context.Context, workflow string) (*WorkflowMetrics, error) {
	metrics := &WorkflowMetrics{
		Workflow: workflow,
	}

	queries := []struct {
		expr string
		dest *int64
	}{
		{fmt.Sprintf(`sum(conductor_gate_checks_total{workflow=%q})`, workflow), &metrics.GateChecks},
		{fmt.Sprintf(`sum(conductor_gate_checks_total{workflow=%q, status="passed"})`, workflow), &metrics.GatePasses},
		{fmt.Sprintf(`sum(conductor_gate_checks_total{workflow=%q, status="failed"})`, workflow), &metrics.GateFailures},
		{fmt.Sprintf(`sum(conductor_cache_events_total{workflow=%q, event="hit"})`, workflow), &metrics.CacheHits},
		{fmt.Sprintf(`sum(conductor_cache_events_total{workflow=%q, event="miss"})`, workflow), &metrics.CacheMisses},
		{fmt.Sprintf(`sum(conductor_escalations_total{workflow=%q})`, workflow), &metrics.Escalations},
	}

	for _, query := range queries {
		result, _, err := q.queryAPI.Query(ctx, query.expr, time.Now())
		if err != nil {
			return nil, fmt.Errorf("failed to query %s: %w", query.expr, err)
		}

		if vector, ok := result.(model.Vector); ok && len(vector) > 0 {
			*query.dest = int64(vector[0].Value)
		}
	}

	return metrics, nil
}

// GateMetrics represents aggregated metrics for a single gate within a workflow.
type GateMetrics struct {
	Gate     string  `json:"gate"`
	Category string  `json:"category"`
	Checks   int64   `json:"checks"`
	Passes   int64   `json:"passes"`
	Failures int64   `json:"failures"`
	PassRate float64 `json:"pass_rate"`
}

// GetWorkflowMetricsByGate retrieves detailed metrics broken down by gate.
// This provides more granular data showing which gates fail most often.
func (q *QueryService) GetWorkflowMetricsByGate(ctx context.Context, workflow string) (map[string]*GateMetrics, error) {
	result := make(map[string]*GateMetrics)

	// Query for all gates evaluated in this workflow.
	gatesQuery := fmt.Sprintf(`group by (gate, category) (conductor_gate_checks_total{workflow=%q})`, workflow)
	gatesResult, _, err := q.queryAPI.Query(ctx, gatesQuery, time.Now())
	if err != nil {
		return nil, fmt.Errorf("failed to query gates: %w", err)
	}

	type gateLabel struct {
		name     string
		category string
	}

	var gates []gateLabel
	if vector, ok := gatesResult.(model.Vector); ok {
		for _, sample := range vector {
			name, hasName := sample.Metric["gate"]
			category := sample.Metric["category"]
			if hasName {
				gates = append(gates, gateLabel{name: string(name), category: string(category)})
			}
		}
	}

	for _, gate := range gates {
		metrics := &GateMetrics{
			Gate:     gate.name,
			Category: gate.category,
		}

		checksQuery := fmt.Sprintf(`sum(conductor_gate_checks_total{workflow=%q, gate=%q})`, workflow, gate.name)
		checksResult, _, err := q.queryAPI.Query(ctx, checksQuery, time.Now())
		if err != nil {
			return nil, fmt.Errorf("failed to query checks for gate %s: %w", gate.name, err)
		}

		if vector, ok := checksResult.(model.Vector); ok && len(vector) > 0 {
			metrics.Checks = int64(vector[0].Value)
		}

		passesQuery := fmt.Sprintf(`sum(conductor_gate_checks_total{workflow=%q, gate=%q, status="passed"})`, workflow, gate.name)
		passesResult, _, err := q.queryAPI.Query(ctx, passesQuery, time.Now())
		if err != nil {
			return nil, fmt.Errorf("failed to query passes for gate %s: %w", gate.name, err)
		}

		if vector, ok := passesResult.(model.Vector); ok && len(vector) > 0 {
			metrics.Passes = int64(vector[0].Value)
		}

		metrics.Failures = metrics.Checks - metrics.Passes
		if metrics.Checks > 0 {
			metrics.PassRate = float64(metrics.Passes) / float64(metrics.Checks)
		}

		result[gate.name] = metrics
	}

	return result, nil
}
