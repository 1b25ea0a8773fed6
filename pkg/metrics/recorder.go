// Package metrics provides metrics recording and querying for workflow runs.
package metrics

import (
	"time"
)

// Recorder defines the interface for recording workflow run metrics.
type Recorder interface {
	// ObserveStage records metrics for a completed stage attempt.
	ObserveStage(workflow, stage, verdict string, duration time.Duration)

	// ObserveGate records metrics for a single gate evaluation.
	ObserveGate(workflow, gateName, category string, passed, cached bool, duration time.Duration)

	// IncCacheEvent increments the cache event counter (hit, miss, expired).
	IncCacheEvent(workflow, event string)

	// IncTransition increments the run status transition counter.
	IncTransition(workflow, from, to string)

	// IncEscalation increments the escalation counter.
	IncEscalation(workflow, stage, category string)
}

// NoopRecorder implements Recorder with no-op behavior for when metrics are disabled.
type NoopRecorder struct{}

// Nop returns a no-op metrics recorder that discards all metrics.
func Nop() Recorder {
	return &NoopRecorder{}
}

// ObserveStage does nothing in the no-op recorder.
func (n *NoopRecorder) ObserveStage(_, _, _ string, _ time.Duration) {
	// No-op
}

// ObserveGate does nothing in the no-op recorder.
func (n *NoopRecorder) ObserveGate(_, _, _ string, _, _ bool, _ time.Duration) {
	// No-op
}

// IncCacheEvent does nothing in the no-op recorder.
func (n *NoopRecorder) IncCacheEvent(_, _ string) {
	// No-op
}

// IncTransition does nothing in the no-op recorder.
func (n *NoopRecorder) IncTransition(_, _, _ string) {
	// No-op
}

// IncEscalation does nothing in the no-op recorder.
func (n *NoopRecorder) IncEscalation(_, _, _ string) {
	// No-op
}
