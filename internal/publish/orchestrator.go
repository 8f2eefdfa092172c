// Package publish sequences login, local build, smoke test and publish for
// every variant of a run. Variants are independent units: they run
// concurrently, fail on their own, and each one is reported exactly once.
package publish

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"imgpub/internal/changes"
	"imgpub/internal/docker"
	"imgpub/internal/logfields"
	"imgpub/internal/metrics"
	"imgpub/internal/variant"
	"imgpub/internal/version"
)

// Engine is the container build engine as the orchestrator sees it.
// *docker.Client satisfies it.
type Engine interface {
	Login(ctx context.Context) error
	Logout(ctx context.Context)
	Build(ctx context.Context, opts *docker.BuildOptions) error
	Smoke(ctx context.Context, ref, platform string, s variant.Smoke) error
}

// Reporter receives every settled Outcome. Errors are logged only.
type Reporter interface {
	Report(ctx context.Context, o Outcome) error
}

// Outcome is the settled result of one variant unit.
type Outcome struct {
	Variant   variant.Variant
	Decision  changes.Decision
	State     State // skipped, failed or published
	Version   version.Tag
	Images    []string // set only when published
	Err       error
	StartedAt time.Time
	Duration  time.Duration
}

// Kind is the failure classification, empty unless the unit failed.
func (o Outcome) Kind() ErrorKind {
	return KindOf(o.Err)
}

// Config is the run-wide, read-only input shared by every unit.
type Config struct {
	Image       string // "<ns>/<repo>" (host-prefixed when not Docker Hub)
	Build       docker.Options
	Meta        docker.LabelMeta
	Version     version.Tag
	Concurrency int           // max units in flight; <= 0 means unbounded
	UnitTimeout time.Duration // per-unit wall-clock budget; 0 disables
}

// Orchestrator runs variant units against an Engine.
type Orchestrator struct {
	Engine   Engine
	Reporter Reporter
	Metrics  metrics.Recorder
	Config   Config

	now func() time.Time
}

// RunError lists the variants that failed in a run.
type RunError struct {
	Failed []string
}

func (e *RunError) Error() string {
	return fmt.Sprintf("%d variant(s) failed: %s", len(e.Failed), strings.Join(e.Failed, ", "))
}

// Run executes one unit per variant and returns their outcomes in variant
// order. The error is a *RunError iff at least one unit failed; a failing
// unit never cancels the others.
func (o *Orchestrator) Run(ctx context.Context, variants []variant.Variant, decisions []changes.Decision) ([]Outcome, error) {
	if o.Engine == nil {
		return nil, errors.New("orchestrator has no engine")
	}
	if len(decisions) != len(variants) {
		return nil, fmt.Errorf("got %d decisions for %d variants", len(decisions), len(variants))
	}
	if o.Config.Version.IsZero() {
		return nil, errors.New("version tag is not computed")
	}

	outcomes := make([]Outcome, len(variants))
	var g errgroup.Group
	if o.Config.Concurrency > 0 {
		g.SetLimit(o.Config.Concurrency)
	}
	for i := range variants {
		g.Go(func() error {
			outcomes[i] = o.runUnit(ctx, variants[i], decisions[i])
			return nil
		})
	}
	_ = g.Wait()

	var failed []string
	for _, out := range outcomes {
		if out.State == StateFailed {
			failed = append(failed, out.Variant.ID())
		}
	}
	if len(failed) > 0 {
		return outcomes, &RunError{Failed: failed}
	}
	return outcomes, nil
}

func (o *Orchestrator) runUnit(ctx context.Context, v variant.Variant, d changes.Decision) (out Outcome) {
	m := NewMachine()
	out = Outcome{Variant: v, Decision: d, Version: o.Config.Version, StartedAt: o.clock()}
	log := slog.With(logfields.Variant(v.ID()))
	o.recorder().IncDecision(string(d.Reason))

	defer func() {
		out.State = m.Current()
		out.Duration = o.clock().Sub(out.StartedAt)
		o.finish(ctx, m, out, log)
	}()

	if !d.Changed {
		o.transition(m, StateSkipped, log)
		log.Info("No relevant changes; skipping", "reason", d.String())
		return out
	}

	o.transition(m, StateBuilding, log)
	uctx := ctx
	if o.Config.UnitTimeout > 0 {
		var cancel context.CancelFunc
		uctx, cancel = context.WithTimeout(ctx, o.Config.UnitTimeout)
		defer cancel()
	}

	plan, err := docker.PlanVariant(o.Config.Image, v, o.Config.Version, o.Config.Meta)
	if err != nil {
		out.Err = &StepError{Kind: KindBuild, Step: "plan", Variant: v.ID(), Err: err}
		o.transition(m, StateFailed, log)
		return out
	}

	if err := o.step(uctx, v, "login", KindCredential, o.Engine.Login); err != nil {
		out.Err = err
		o.transition(m, StateFailed, log)
		return out
	}
	defer o.Engine.Logout(context.WithoutCancel(ctx))

	// every arch is built and checked locally before anything is pushed
	for i, b := range o.Config.Build.LocalBuilds(plan) {
		arch := v.Arches[i]
		ref := plan.LocalRef(arch)
		alog := log.With(logfields.Arch(arch), logfields.Ref(ref))

		alog.Info("Building image locally")
		if err := o.step(uctx, v, "build", KindBuild, func(ctx context.Context) error {
			return o.Engine.Build(ctx, b)
		}); err != nil {
			out.Err = err
			o.transition(m, StateFailed, alog)
			return out
		}

		alog.Info("Running smoke tests")
		if err := o.step(uctx, v, "test", KindTest, func(ctx context.Context) error {
			return o.Engine.Smoke(ctx, ref, variant.Platform(arch), v.Smoke)
		}); err != nil {
			out.Err = err
			o.transition(m, StateFailed, alog)
			return out
		}
	}
	o.transition(m, StateBuilt, log)

	o.transition(m, StatePublishing, log)
	log.Info("Publishing", "tags", strings.Join(plan.PublishRefs(), ","))
	if err := o.step(uctx, v, "push", KindPush, func(ctx context.Context) error {
		return o.Engine.Build(ctx, o.Config.Build.PublishBuild(plan))
	}); err != nil {
		out.Err = err
		o.transition(m, StateFailed, log)
		return out
	}
	out.Images = plan.PublishRefs()
	o.transition(m, StatePublished, log)
	return out
}

// step runs fn as one timed step, turning its failure into a *StepError.
func (o *Orchestrator) step(ctx context.Context, v variant.Variant, name string, kind ErrorKind, fn func(context.Context) error) error {
	if err := ctx.Err(); err != nil {
		se := stepError(ctx, kind, name, v.ID(), err)
		o.recorder().IncStepResult(name, resultLabel(se.Kind))
		return se
	}
	start := o.clock()
	err := fn(ctx)
	elapsed := o.clock().Sub(start)
	o.recorder().ObserveStepDuration(name, elapsed)
	slog.Debug("Step finished", logfields.Variant(v.ID()), logfields.Stage(name), logfields.Duration(elapsed), "ok", err == nil)
	if err == nil {
		o.recorder().IncStepResult(name, metrics.ResultSuccess)
		return nil
	}
	se := stepError(ctx, kind, name, v.ID(), err)
	o.recorder().IncStepResult(name, resultLabel(se.Kind))
	return se
}

// finish reports the settled outcome and closes the state machine. The
// report runs even when the run was canceled.
func (o *Orchestrator) finish(ctx context.Context, m *Machine, out Outcome, log *slog.Logger) {
	if out.Err != nil {
		log.Error("Variant failed", "kind", string(out.Kind()), logfields.Error(out.Err))
	}
	o.recorder().IncVariantOutcome(out.Variant.ID(), string(out.State))
	o.recorder().ObserveVariantDuration(out.Variant.ID(), out.Duration)

	if o.Reporter != nil {
		if err := o.Reporter.Report(context.WithoutCancel(ctx), out); err != nil {
			log.Warn("Report failed", logfields.Error(err))
		}
	}
	o.transition(m, StateReported, log)
}

func (o *Orchestrator) transition(m *Machine, next State, log *slog.Logger) {
	if err := m.To(next); err != nil {
		// a programming error; the outcome is still reported
		log.Error("State machine violation", logfields.Error(err))
		return
	}
	log.Debug("State changed", logfields.State(string(next)))
}

func (o *Orchestrator) recorder() metrics.Recorder {
	if o.Metrics == nil {
		return metrics.NoopRecorder{}
	}
	return o.Metrics
}

func (o *Orchestrator) clock() time.Time {
	if o.now != nil {
		return o.now()
	}
	return time.Now()
}

func resultLabel(k ErrorKind) metrics.ResultLabel {
	switch k {
	case KindTimeout:
		return metrics.ResultTimeout
	case KindCanceled:
		return metrics.ResultCanceled
	default:
		return metrics.ResultFailed
	}
}
