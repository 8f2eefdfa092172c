package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/alecthomas/kong"
	prom "github.com/prometheus/client_golang/prometheus"

	"imgpub/internal/changes"
	"imgpub/internal/docker"
	"imgpub/internal/executil"
	"imgpub/internal/history"
	"imgpub/internal/logfields"
	"imgpub/internal/metrics"
	"imgpub/internal/publish"
	"imgpub/internal/report"
	"imgpub/internal/runtime"
	"imgpub/internal/variant"
	"imgpub/pkg/github"
)

// CLI is the root command; global flags apply to every subcommand.
type CLI struct {
	Verbose   bool             `short:"v" help:"Enable debug logging" env:"IMGPUB_VERBOSE"`
	LogLevel  string           `name:"log-level" help:"Log level (debug|info|warn|error)" env:"IMGPUB_LOG_LEVEL" default:"info" enum:"debug,info,warn,error"`
	Catalog   string           `short:"c" help:"Variant catalog file (.yaml, .yml or .toml)" env:"IMGPUB_CATALOG" type:"path"`
	Preset    string           `help:"Embedded catalog used when --catalog is not set (test|build)" env:"IMGPUB_PRESET" default:"test"`
	HistoryDB string           `name:"history-db" help:"SQLite file recording variant outcomes" env:"IMGPUB_HISTORY_DB"`
	Version   kong.VersionFlag `name:"version" help:"Show version and exit"`

	Run     RunCmd     `cmd:"" help:"Detect changes, then build, test, publish and report every variant"`
	Plan    PlanCmd    `cmd:"" help:"Show decisions and the image refs each variant would publish"`
	Tag     TagCmd     `cmd:"" help:"Print the version tag for the current commit"`
	History HistoryCmd `cmd:"" help:"List recent variant outcomes"`
	Serve   ServeCmd   `cmd:"" help:"Receive push webhooks and run on demand"`
}

// AfterApply runs after flag parsing; setup logging once.
func (c *CLI) AfterApply() error {
	level := slog.LevelInfo
	if err := level.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return fmt.Errorf("invalid log level %q: %w", c.LogLevel, err)
	}
	if c.Verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)
	return nil
}

// LoadCatalog reads --catalog or the embedded preset, narrowed to names.
func (c *CLI) LoadCatalog(names []string) (*variant.Catalog, error) {
	var (
		cat *variant.Catalog
		err error
	)
	if c.Catalog != "" {
		cat, err = variant.Load(c.Catalog)
	} else {
		cat, err = variant.LoadPreset(c.Preset)
	}
	if err != nil {
		return nil, err
	}
	return cat.Select(names)
}

// OpenHistory opens the ledger when --history-db is set; nil otherwise.
func (c *CLI) OpenHistory() (*history.Store, error) {
	if c.HistoryDB == "" {
		return nil, nil
	}
	return history.Open(c.HistoryDB)
}

// EventFlags are the trigger inputs, each falling back to the Actions environment.
type EventFlags struct {
	EventName    string   `name:"event-name" help:"Triggering event (push, workflow_dispatch, schedule)" env:"GITHUB_EVENT_NAME"`
	EventPath    string   `name:"event-path" help:"Path to the event payload JSON" env:"GITHUB_EVENT_PATH"`
	SHA          string   `name:"sha" help:"Commit being built" env:"GITHUB_SHA"`
	RefName      string   `name:"ref-name" help:"Branch name" env:"GITHUB_REF_NAME"`
	Repository   string   `name:"repository" help:"owner/repo of the source repository" env:"GITHUB_REPOSITORY"`
	ServerURL    string   `name:"server-url" help:"Forge web URL" env:"GITHUB_SERVER_URL" default:"https://github.com"`
	WorkflowRun  string   `name:"workflow-run-id" help:"CI run id, for report links" env:"GITHUB_RUN_ID"`
	RepoDir      string   `name:"repo-dir" help:"Local clone of the source repository" env:"GITHUB_WORKSPACE" default:"." type:"path"`
	Trigger      string   `name:"trigger" help:"Force the trigger kind instead of deriving it from the event name" default:"auto" enum:"auto,push,manual,schedule"`
	ChangedFiles []string `name:"changed-file" help:"Explicit changed files; overrides every other diff source"`
	Variants     []string `name:"variant" help:"Restrict the run to these variant names"`
	ManualPolicy string   `name:"manual-policy" help:"How triggers without a diff decide (skip|build|since-published)" env:"IMGPUB_MANUAL_POLICY" default:"skip" enum:"skip,build,since-published"`
	CompareAPI   bool     `name:"compare-api" help:"Ask the forge compare API when the local clone cannot diff" env:"IMGPUB_COMPARE_API"`
}

// Inputs converts the flags into runtime inputs.
func (f EventFlags) Inputs(dryRun bool) runtime.Inputs {
	return runtime.Inputs{
		EventName:     f.EventName,
		EventPath:     f.EventPath,
		SHA:           f.SHA,
		RefName:       f.RefName,
		Repository:    f.Repository,
		ServerURL:     f.ServerURL,
		WorkflowRunID: f.WorkflowRun,
		ChangedFiles:  f.ChangedFiles,
		RepoDir:       f.RepoDir,
		Trigger:       runtime.Trigger(f.Trigger),
		DryRun:        dryRun,
	}
}

// PublishFlags configure the engine, the orchestrator and the report sinks.
type PublishFlags struct {
	RegistryUser  string        `name:"registry-user" help:"Registry username" env:"IMGPUB_REGISTRY_USER,DOCKERHUB_USER"`
	RegistryToken string        `name:"registry-token" help:"Registry token (passed on stdin)" env:"IMGPUB_REGISTRY_TOKEN,DOCKERHUB_TOKEN"`
	Builder       string        `name:"builder" help:"buildx builder name" env:"IMGPUB_BUILDER"`
	Cache         string        `name:"cache" help:"Build cache backend (gha|local|registry|none)" env:"IMGPUB_CACHE" default:"none" enum:"gha,local,registry,none"`
	CacheDir      string        `name:"cache-dir" help:"Root directory of the local cache backend" env:"IMGPUB_CACHE_DIR" default:"/tmp/.buildx-cache"`
	Pull          bool          `name:"pull" help:"Always pull newer base images" env:"IMGPUB_PULL"`
	NoCache       bool          `name:"no-cache" help:"Build without any cache" env:"IMGPUB_NO_CACHE"`
	Concurrency   int           `name:"concurrency" help:"Variants built at the same time" env:"IMGPUB_CONCURRENCY" default:"2"`
	UnitTimeout   time.Duration `name:"unit-timeout" help:"Wall-clock budget per variant (0 disables)" env:"IMGPUB_UNIT_TIMEOUT" default:"2h"`
	DryRun        bool          `name:"dry-run" help:"Print docker commands instead of running them" env:"IMGPUB_DRY_RUN"`

	SummaryFile     string `name:"summary-file" help:"Markdown step summary to append to" env:"GITHUB_STEP_SUMMARY"`
	Quiet           bool   `name:"quiet" help:"Do not print per-variant summaries on stdout"`
	CommitStatus    bool   `name:"commit-status" help:"Set a forge commit status per variant" env:"IMGPUB_COMMIT_STATUS"`
	ArchiveEndpoint string `name:"archive-endpoint" help:"S3-compatible endpoint for JSON reports" env:"IMGPUB_ARCHIVE_ENDPOINT"`
	ArchiveBucket   string `name:"archive-bucket" env:"IMGPUB_ARCHIVE_BUCKET" default:"imgpub-reports"`
	ArchivePrefix   string `name:"archive-prefix" env:"IMGPUB_ARCHIVE_PREFIX" default:"runs"`
	ArchiveRegion   string `name:"archive-region" env:"IMGPUB_ARCHIVE_REGION"`
	ArchiveKey      string `name:"archive-access-key" env:"IMGPUB_ARCHIVE_ACCESS_KEY"`
	ArchiveSecret   string `name:"archive-secret-key" env:"IMGPUB_ARCHIVE_SECRET_KEY"`
	ArchiveSSL      bool   `name:"archive-ssl" env:"IMGPUB_ARCHIVE_SSL" default:"true" negatable:""`
	NATSURL         string `name:"nats-url" help:"Publish outcome events to this NATS server" env:"IMGPUB_NATS_URL"`
	NATSSubject     string `name:"nats-subject" env:"IMGPUB_NATS_SUBJECT" default:"imgpub.outcomes"`
	MetricsTextfile string `name:"metrics-textfile" help:"Write Prometheus metrics to this file when the run ends" env:"IMGPUB_METRICS_TEXTFILE"`
	Pushgateway     string `name:"pushgateway" help:"Push metrics to this Pushgateway when the run ends" env:"IMGPUB_PUSHGATEWAY"`
}

// Engine builds the docker client for cat's registry.
func (p PublishFlags) Engine(repoDir string, cat *variant.Catalog) *docker.Client {
	return &docker.Client{
		Runner:   executil.NewRunner(p.DryRun),
		WorkDir:  repoDir,
		Registry: cat.Registry.Host,
		Builder:  p.Builder,
		Creds:    docker.Credentials{Username: p.RegistryUser, Token: p.RegistryToken},
		DryRun:   p.DryRun,
		Out:      os.Stderr,
	}
}

// Config is the orchestrator's run-wide configuration.
func (p PublishFlags) Config(run runtime.Context, cat *variant.Catalog) publish.Config {
	image := cat.Registry.Image()
	return publish.Config{
		Image: image,
		Build: docker.Options{
			Image:   image,
			Cache:   docker.Cache{Backend: p.Cache, Dir: p.CacheDir},
			Pull:    p.Pull,
			NoCache: p.NoCache,
		},
		Meta: docker.LabelMeta{
			SourceURL: run.SourceURL(),
			Revision:  run.SHA,
			Created:   run.StartedAt,
		},
		Version:     run.Version,
		Concurrency: p.Concurrency,
		UnitTimeout: p.UnitTimeout,
	}
}

// Sinks opens every configured report sink. The returned closer releases
// their connections.
func (p PublishFlags) Sinks(ctx context.Context, stdout io.Writer, store *history.Store, forge *github.Client) ([]report.Sink, func()) {
	var (
		sinks   []report.Sink
		closers []func()
	)
	if !p.Quiet {
		sinks = append(sinks, &report.ConsoleSink{W: stdout})
	}
	if p.SummaryFile != "" {
		sinks = append(sinks, &report.SummarySink{Path: p.SummaryFile})
	}
	if store != nil {
		sinks = append(sinks, store)
	}
	if p.CommitStatus {
		if forge != nil {
			sinks = append(sinks, report.NewCommitStatusSink(forge))
		} else {
			slog.Warn("Commit statuses requested but no forge client is configured", logfields.Sink("commit-status"))
		}
	}
	if p.ArchiveEndpoint != "" {
		a, err := report.NewArchiveSink(ctx, report.ArchiveConfig{
			Endpoint:  p.ArchiveEndpoint,
			AccessKey: p.ArchiveKey,
			SecretKey: p.ArchiveSecret,
			Region:    p.ArchiveRegion,
			Bucket:    p.ArchiveBucket,
			Prefix:    p.ArchivePrefix,
			UseSSL:    p.ArchiveSSL,
		})
		if err != nil {
			slog.Warn("Report archive disabled", logfields.Sink("archive"), logfields.Error(err))
		} else {
			sinks = append(sinks, a)
		}
	}
	if p.NATSURL != "" {
		e, err := report.NewEventSink(p.NATSURL, p.NATSSubject)
		if err != nil {
			slog.Warn("Report events disabled", logfields.Sink("events"), logfields.Error(err))
		} else {
			sinks = append(sinks, e)
			closers = append(closers, func() { _ = e.Close() })
		}
	}
	return sinks, func() {
		for _, c := range closers {
			c()
		}
	}
}

// MetricsEnabled reports whether a one-shot run should collect metrics.
func (p PublishFlags) MetricsEnabled() bool {
	return p.MetricsTextfile != "" || p.Pushgateway != ""
}

// forgeClient returns a GitHub client when a token is available.
func forgeClient(repository string) *github.Client {
	c, err := github.NewClientFromEnv(repository)
	if err != nil {
		slog.Debug("Forge client unavailable", logfields.Error(err))
		return nil
	}
	return c
}

// detect resolves the change set and the per-variant decisions.
func detect(ctx context.Context, run runtime.Context, f EventFlags, variants []variant.Variant, store *history.Store, forge *github.Client) (changes.ChangeSet, []changes.Decision, error) {
	policy, err := changes.ParsePolicy(f.ManualPolicy)
	if err != nil {
		return changes.ChangeSet{}, nil, err
	}

	git := changes.NewGitDiffer(run.RepoDir)
	src := runtime.ChangeSources{Git: git}
	if f.CompareAPI && forge != nil {
		src.Compare = forge.Commits.ChangedFiles
	}
	set := run.ResolveChangeSet(ctx, src)

	d := &changes.Detector{Policy: policy, Differ: git}
	if store != nil {
		d.Baseline = store
	}
	decisions := d.Decide(ctx, set, variants, run.SHA)
	for _, dec := range decisions {
		slog.Info("Change decision", logfields.Variant(dec.Variant), "changed", dec.Changed, "reason", dec.String())
	}
	return set, decisions, nil
}

// newRecorder returns a Prometheus-backed recorder and its registry, or a
// no-op when metrics are off.
func newRecorder(enabled bool) (metrics.Recorder, *prom.Registry) {
	if !enabled {
		return metrics.NoopRecorder{}, nil
	}
	reg := prom.NewRegistry()
	return metrics.NewPrometheusRecorder(reg), reg
}
