package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	prom "github.com/prometheus/client_golang/prometheus"

	"imgpub/internal/changes"
	"imgpub/internal/history"
	"imgpub/internal/logfields"
	"imgpub/internal/metrics"
	"imgpub/internal/publish"
	"imgpub/internal/report"
	"imgpub/internal/runtime"
	"imgpub/internal/server"
)

// ServeCmd implements the 'serve' command.
type ServeCmd struct {
	Addr            string        `name:"addr" help:"Listen address" env:"IMGPUB_ADDR" default:":8080"`
	Secret          string        `name:"webhook-secret" help:"Shared secret for X-Hub-Signature-256" env:"IMGPUB_WEBHOOK_SECRET"`
	Branches        []string      `name:"branch" help:"Branches that trigger runs (default: all)" env:"IMGPUB_BRANCHES"`
	Repository      string        `name:"repository" help:"owner/repo used for scheduled runs" env:"GITHUB_REPOSITORY"`
	DefaultBranch   string        `name:"default-branch" help:"Branch rebuilt by scheduled runs" env:"IMGPUB_DEFAULT_BRANCH" default:"main"`
	RebuildInterval time.Duration `name:"rebuild-interval" help:"Periodic rebuild interval (0 disables)" env:"IMGPUB_REBUILD_INTERVAL" default:"0"`
	WatchCatalog    bool          `name:"watch-catalog" help:"Reload --catalog when it changes" env:"IMGPUB_WATCH_CATALOG"`
	RepoDir         string        `name:"repo-dir" help:"Local clone checked out to each pushed commit" env:"IMGPUB_REPO_DIR" default:"." type:"path"`
	ManualPolicy    string        `name:"manual-policy" help:"How scheduled runs decide (skip|build|since-published)" env:"IMGPUB_MANUAL_POLICY" default:"since-published" enum:"skip,build,since-published"`
	CompareAPI      bool          `name:"compare-api" help:"Ask the forge compare API when the local clone cannot diff" env:"IMGPUB_COMPARE_API"`

	PublishFlags
}

func (s *ServeCmd) Run(root *CLI) error {
	ctx, stop := signalContext()
	defer stop()

	cat, err := root.LoadCatalog(nil)
	if err != nil {
		return fmt.Errorf("load catalog: %w", err)
	}
	holder := server.NewCatalogHolder(cat)

	store, err := root.OpenHistory()
	if err != nil {
		return fmt.Errorf("open history: %w", err)
	}
	if store != nil {
		defer store.Close()
	}

	reg := prom.NewRegistry()
	w := &worker{
		cmd:      s,
		holder:   holder,
		store:    store,
		recorder: metrics.NewPrometheusRecorder(reg),
		lock:     make(chan struct{}, 1),
		stdout:   os.Stdout,
	}
	srv := server.New(server.Config{Addr: s.Addr, Secret: s.Secret, Branches: s.Branches}, w.run, reg)
	if s.Secret == "" {
		slog.Warn("Webhook signatures are not verified; set IMGPUB_WEBHOOK_SECRET")
	}

	if s.WatchCatalog && root.Catalog != "" {
		cw, err := server.NewCatalogWatcher(root.Catalog, holder)
		if err != nil {
			return err
		}
		if err := cw.Start(ctx); err != nil {
			return err
		}
		defer cw.Stop()
	}

	if s.RebuildInterval > 0 {
		if s.Repository == "" {
			return fmt.Errorf("--repository is required with --rebuild-interval")
		}
		sch, err := server.NewScheduler(srv)
		if err != nil {
			return err
		}
		if _, err := sch.SchedulePeriodicRun(s.RebuildInterval, s.Repository+"@"+s.DefaultBranch); err != nil {
			return err
		}
		sch.Start(ctx)
		defer func() { _ = sch.Stop(context.Background()) }()
	}

	return srv.Serve(ctx)
}

// worker runs dispatched requests one at a time against the shared clone.
type worker struct {
	cmd      *ServeCmd
	holder   *server.CatalogHolder
	store    *history.Store
	recorder metrics.Recorder
	lock     chan struct{}
	stdout   io.Writer
}

func (w *worker) run(ctx context.Context, req server.Request) error {
	select {
	case w.lock <- struct{}{}:
		defer func() { <-w.lock }()
	case <-ctx.Done():
		cause := context.Cause(ctx)
		w.reportUnstarted(ctx, req, cause)
		return cause
	}

	s := w.cmd
	git := changes.NewGitDiffer(s.RepoDir)
	in := runtime.Inputs{
		EventName: string(req.Trigger),
		RepoDir:   s.RepoDir,
		Trigger:   req.Trigger,
		DryRun:    s.DryRun,
		Event:     req.Event,
	}
	if req.Event != nil {
		if err := git.Sync(ctx, req.Event.After); err != nil {
			return fmt.Errorf("checkout %s: %w", req.Event.After, err)
		}
		in.SHA = req.Event.After
	} else {
		in.Repository = s.Repository
		in.RefName = s.DefaultBranch
	}

	run, err := runtime.LoadContext(in)
	if err != nil {
		return err
	}
	slog.Info("Run context loaded", logfields.RunID(run.RunID), logfields.Trigger(string(run.Trigger)), "version", run.Version.String())

	forge := forgeClient(run.Repository)
	cat := w.holder.Get()
	flags := EventFlags{RepoDir: s.RepoDir, ManualPolicy: s.ManualPolicy, CompareAPI: s.CompareAPI}
	_, decisions, err := detect(ctx, run, flags, cat.Variants, w.store, forge)
	if err != nil {
		return err
	}
	return s.publish(ctx, run, cat, decisions, w.store, forge, w.recorder)
}

// reportUnstarted records a canceled outcome for every variant of a pushed
// commit whose run was superseded before it got the clone. Scheduled runs
// carry no commit and are dropped.
func (w *worker) reportUnstarted(ctx context.Context, req server.Request, cause error) {
	if req.Event == nil || req.Event.After == "" {
		slog.Info("Queued run dropped", logfields.Trigger(string(req.Trigger)), logfields.Error(cause))
		return
	}
	s := w.cmd
	run, err := runtime.LoadContext(runtime.Inputs{
		EventName: string(req.Trigger),
		SHA:       req.Event.After,
		Trigger:   req.Trigger,
		DryRun:    s.DryRun,
		Event:     req.Event,
	})
	if err != nil {
		slog.Warn("Cannot report queued run", logfields.Error(err))
		return
	}

	rctx := context.WithoutCancel(ctx)
	sinks, closeSinks := s.Sinks(rctx, w.stdout, w.store, forgeClient(run.Repository))
	defer closeSinks()
	rep := &report.Reporter{Run: run, Sinks: sinks}
	for _, v := range w.holder.Get().Variants {
		out := publish.Outcome{
			Variant:   v,
			Decision:  changes.Decision{Variant: v.Name, Reason: changes.ReasonIndeterminate},
			State:     publish.StateFailed,
			Version:   run.Version,
			Err:       &publish.StepError{Kind: publish.KindCanceled, Step: "queue", Variant: v.ID(), Err: cause},
			StartedAt: run.StartedAt,
		}
		if err := rep.Report(rctx, out); err != nil {
			slog.Warn("Report failed", logfields.Variant(v.ID()), logfields.Error(err))
		}
	}
}
