package metrics

import (
	"sync"
	"time"

	prom "github.com/prometheus/client_golang/prometheus"
)

// PrometheusRecorder implements Recorder using Prometheus metrics.
type PrometheusRecorder struct {
	once            sync.Once
	stepDuration    *prom.HistogramVec
	stepResults     *prom.CounterVec
	variantDuration *prom.HistogramVec
	variantOutcome  *prom.CounterVec
	decisions       *prom.CounterVec
}

// buildBuckets covers image builds, which take minutes rather than milliseconds.
var buildBuckets = []float64{1, 5, 15, 30, 60, 120, 300, 600, 1200, 2400, 3600}

// NewPrometheusRecorder constructs and registers Prometheus metrics (idempotent).
func NewPrometheusRecorder(reg *prom.Registry) *PrometheusRecorder {
	if reg == nil {
		reg = prom.NewRegistry()
	}
	pr := &PrometheusRecorder{}
	pr.once.Do(func() {
		pr.stepDuration = prom.NewHistogramVec(prom.HistogramOpts{
			Namespace: "imgpub",
			Name:      "step_duration_seconds",
			Help:      "Duration of individual variant steps (login, build, test, publish)",
			Buckets:   buildBuckets,
		}, []string{"step"})
		pr.stepResults = prom.NewCounterVec(prom.CounterOpts{
			Namespace: "imgpub",
			Name:      "step_results_total",
			Help:      "Step result counts by outcome",
		}, []string{"step", "result"})
		pr.variantDuration = prom.NewHistogramVec(prom.HistogramOpts{
			Namespace: "imgpub",
			Name:      "variant_duration_seconds",
			Help:      "Wall-clock duration of one variant unit",
			Buckets:   buildBuckets,
		}, []string{"variant"})
		pr.variantOutcome = prom.NewCounterVec(prom.CounterOpts{
			Namespace: "imgpub",
			Name:      "variant_outcomes_total",
			Help:      "Variant outcomes by final status",
		}, []string{"variant", "outcome"})
		pr.decisions = prom.NewCounterVec(prom.CounterOpts{
			Namespace: "imgpub",
			Name:      "change_decisions_total",
			Help:      "Change detector decisions by reason",
		}, []string{"reason"})
		reg.MustRegister(pr.stepDuration, pr.stepResults, pr.variantDuration, pr.variantOutcome, pr.decisions)
	})
	return pr
}

func (p *PrometheusRecorder) ObserveStepDuration(step string, d time.Duration) {
	if p == nil || p.stepDuration == nil {
		return
	}
	p.stepDuration.WithLabelValues(step).Observe(d.Seconds())
}

func (p *PrometheusRecorder) IncStepResult(step string, result ResultLabel) {
	if p == nil || p.stepResults == nil {
		return
	}
	p.stepResults.WithLabelValues(step, string(result)).Inc()
}

func (p *PrometheusRecorder) ObserveVariantDuration(variant string, d time.Duration) {
	if p == nil || p.variantDuration == nil {
		return
	}
	p.variantDuration.WithLabelValues(variant).Observe(d.Seconds())
}

func (p *PrometheusRecorder) IncVariantOutcome(variant, outcome string) {
	if p == nil || p.variantOutcome == nil {
		return
	}
	p.variantOutcome.WithLabelValues(variant, outcome).Inc()
}

func (p *PrometheusRecorder) IncDecision(reason string) {
	if p == nil || p.decisions == nil {
		return
	}
	p.decisions.WithLabelValues(reason).Inc()
}
