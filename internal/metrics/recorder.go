// Package metrics exposes run observability hooks. The orchestrator only
// sees the Recorder interface; Prometheus is one implementation.
package metrics

import "time"

// ResultLabel enumerates step result categories for counters.
type ResultLabel string

const (
	ResultSuccess  ResultLabel = "success"
	ResultFailed   ResultLabel = "failed"
	ResultTimeout  ResultLabel = "timeout"
	ResultCanceled ResultLabel = "canceled"
)

// Recorder defines observability hooks for variant units and their steps.
type Recorder interface {
	ObserveStepDuration(step string, d time.Duration)
	IncStepResult(step string, result ResultLabel)
	ObserveVariantDuration(variant string, d time.Duration)
	IncVariantOutcome(variant, outcome string) // outcome: published|skipped|failed
	IncDecision(reason string)
}

// NoopRecorder is a Recorder that does nothing (default when metrics not configured).
type NoopRecorder struct{}

func (NoopRecorder) ObserveStepDuration(string, time.Duration)    {}
func (NoopRecorder) IncStepResult(string, ResultLabel)             {}
func (NoopRecorder) ObserveVariantDuration(string, time.Duration) {}
func (NoopRecorder) IncVariantOutcome(string, string)              {}
func (NoopRecorder) IncDecision(string)                            {}
