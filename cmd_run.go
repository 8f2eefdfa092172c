package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"imgpub/internal/changes"
	"imgpub/internal/history"
	"imgpub/internal/logfields"
	"imgpub/internal/metrics"
	"imgpub/internal/publish"
	"imgpub/internal/report"
	"imgpub/internal/runtime"
	"imgpub/internal/variant"
	"imgpub/pkg/github"
)

// RunCmd implements the 'run' command.
type RunCmd struct {
	EventFlags
	PublishFlags
}

func (r *RunCmd) Run(root *CLI) error {
	ctx, stop := signalContext()
	defer stop()

	cat, err := root.LoadCatalog(r.Variants)
	if err != nil {
		return fmt.Errorf("load catalog: %w", err)
	}
	store, err := root.OpenHistory()
	if err != nil {
		return fmt.Errorf("open history: %w", err)
	}
	if store != nil {
		defer store.Close()
	}

	run, err := runtime.LoadContext(r.Inputs(r.DryRun))
	if err != nil {
		return err
	}
	slog.Info("Run context loaded", logfields.RunID(run.RunID), logfields.Trigger(string(run.Trigger)), "version", run.Version.String())

	forge := forgeClient(run.Repository)
	set, decisions, err := detect(ctx, run, r.EventFlags, cat.Variants, store, forge)
	if err != nil {
		return err
	}
	run.PrintSummary(os.Stdout, set)

	rec, reg := newRecorder(r.MetricsEnabled())
	runErr := r.publish(ctx, run, cat, decisions, store, forge, rec)

	if err := metrics.Flush(context.WithoutCancel(ctx), reg, r.MetricsTextfile, r.Pushgateway, "imgpub"); err != nil {
		slog.Warn("Metrics export failed", logfields.Error(err))
	}

	return runErr
}

// publish runs the orchestrator over every variant of cat and reports each
// outcome to the configured sinks.
func (p PublishFlags) publish(ctx context.Context, run runtime.Context, cat *variant.Catalog, decisions []changes.Decision,
	store *history.Store, forge *github.Client, rec metrics.Recorder,
) error {
	sinks, closeSinks := p.Sinks(ctx, os.Stdout, store, forge)
	defer closeSinks()

	o := &publish.Orchestrator{
		Engine:   p.Engine(run.RepoDir, cat),
		Reporter: &report.Reporter{Run: run, Sinks: sinks},
		Metrics:  rec,
		Config:   p.Config(run, cat),
	}
	_, err := o.Run(ctx, cat.Variants, decisions)
	return err
}
