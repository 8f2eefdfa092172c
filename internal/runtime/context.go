package runtime

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"

	"imgpub/internal/changes"
	"imgpub/internal/logfields"
	"imgpub/internal/version"
)

// Inputs are the raw trigger values, normally filled from CLI flags that fall
// back to the GitHub Actions environment.
type Inputs struct {
	EventName     string
	EventPath     string
	SHA           string
	RefName       string
	Repository    string // owner/repo
	ServerURL     string
	WorkflowRunID string
	ChangedFiles  []string
	RepoDir       string
	Trigger       Trigger
	DryRun        bool
	Now           time.Time
	Event         *PushEvent // preparsed payload (webhook mode); wins over EventPath
}

// Context captures everything a run knows about the event that started it.
// It is built once and treated as read-only afterwards.
type Context struct {
	RunID         string
	Trigger       Trigger
	EventName     string
	SHA           string
	ShortSHA      string
	Branch        string
	Repository    string
	ServerURL     string
	WorkflowRunID string
	RepoDir       string
	StartedAt     time.Time
	DryRun        bool

	// Version is the single tag every variant of this run publishes under.
	Version version.Tag

	Event        *PushEvent
	ChangedFiles []string // explicit override, wins over every other source
}

// LoadContext resolves Inputs into a Context and computes the run's version tag.
func LoadContext(in Inputs) (Context, error) {
	trigger := ResolveTrigger(in.EventName, in.Trigger)

	ev := in.Event
	if ev == nil && trigger.CarriesDiff() && strings.TrimSpace(in.EventPath) != "" {
		parsed, err := ReadPushEvent(in.EventPath)
		if err != nil {
			slog.Warn("Ignoring unreadable event payload", "path", in.EventPath, logfields.Error(err))
		} else {
			ev = parsed
		}
	}

	var evSHA, evBranch, evRepo string
	if ev != nil {
		evSHA, evBranch, evRepo = ev.After, ev.Branch(), ev.Repository.FullName
	}

	sha := firstNonEmpty(in.SHA, evSHA)
	if sha == "" && in.RepoDir != "" {
		if head, err := changes.NewGitDiffer(in.RepoDir).Head(); err == nil {
			sha = head
		}
	}
	if sha == "" {
		return Context{}, fmt.Errorf("commit sha is unknown (set GITHUB_SHA or --sha)")
	}

	started := in.Now
	if started.IsZero() {
		started = time.Now()
	}
	tag, err := version.Compute(started, sha)
	if err != nil {
		return Context{}, fmt.Errorf("failed to compute version tag: %w", err)
	}

	server := firstNonEmpty(in.ServerURL, "https://github.com")

	return Context{
		RunID:         uuid.NewString(),
		Trigger:       trigger,
		EventName:     in.EventName,
		SHA:           strings.ToLower(sha),
		ShortSHA:      tag.ShortSHA,
		Branch:        firstNonEmpty(in.RefName, evBranch, os.Getenv("GITHUB_HEAD_REF")),
		Repository:    firstNonEmpty(in.Repository, evRepo),
		ServerURL:     strings.TrimRight(server, "/"),
		WorkflowRunID: in.WorkflowRunID,
		RepoDir:       in.RepoDir,
		StartedAt:     started.UTC(),
		DryRun:        in.DryRun,
		Version:       tag,
		Event:         ev,
		ChangedFiles:  in.ChangedFiles,
	}, nil
}

// SourceURL is the repository's web URL, used for the source label.
func (c Context) SourceURL() string {
	if c.Repository == "" {
		return ""
	}
	return c.ServerURL + "/" + c.Repository
}

// CommitURL links the commit on the forge.
func (c Context) CommitURL() string {
	if c.Repository == "" {
		return ""
	}
	return c.SourceURL() + "/commit/" + c.SHA
}

// RunURL links the CI run, when there is one.
func (c Context) RunURL() string {
	if c.Repository == "" || c.WorkflowRunID == "" {
		return ""
	}
	return c.SourceURL() + "/actions/runs/" + c.WorkflowRunID
}

// ConcurrencyGroup identifies runs that preempt each other.
func (c Context) ConcurrencyGroup() string {
	return firstNonEmpty(c.Repository, "local") + "@" + firstNonEmpty(c.Branch, c.SHA)
}

// ChangeSources are the optional diff providers tried in order.
type ChangeSources struct {
	Git     changes.Differ
	Compare func(ctx context.Context, base, head string) ([]string, error)
}

// ResolveChangeSet picks the most precise diff available for this run:
// explicit list, local clone, forge compare, then payload commit lists.
// Triggers without diff information yield an unknown set.
func (c Context) ResolveChangeSet(ctx context.Context, src ChangeSources) changes.ChangeSet {
	if len(c.ChangedFiles) > 0 {
		return changes.Known(c.ChangedFiles, "explicit")
	}
	if !c.Trigger.CarriesDiff() {
		return changes.Unknown(string(c.Trigger))
	}
	ev := c.Event
	if ev == nil {
		return changes.Unknown("push without payload")
	}
	if ev.Deleted {
		return changes.Known(nil, "branch deleted")
	}

	if ev.HasBase() {
		if src.Git != nil {
			files, err := src.Git.ChangedFiles(ctx, ev.Before, c.SHA)
			if err == nil {
				return changes.Known(files, "git")
			}
			slog.Debug("Local diff unavailable", logfields.Error(err))
		}
		if src.Compare != nil {
			files, err := src.Compare(ctx, ev.Before, c.SHA)
			if err == nil {
				return changes.Known(files, "compare")
			}
			slog.Warn("Forge compare failed", logfields.Error(err))
		}
	}

	if len(ev.Commits) > 0 || ev.HeadCommit != nil {
		if ev.Truncated() {
			slog.Warn("Push payload lists the commit limit; changed files may be incomplete",
				"commits", len(ev.Commits))
		}
		return changes.Known(ev.Files(), "payload")
	}
	return changes.Unknown("push without diff")
}

// PrintSummary emits a scannable run context report with logical sections.
func (c Context) PrintSummary(w io.Writer, set changes.ChangeSet) {
	fmt.Fprintln(w, "Publish Run Summary")
	fmt.Fprintln(w, "--------------------------")

	// ── Run ─────────────────────────────────────────────────────────────────────
	fmt.Fprintln(w, "Run")
	fmt.Fprintf(w, "  Run ID                : %s\n", c.RunID)
	fmt.Fprintf(w, "  Trigger               : %s\n", c.Trigger)
	fmt.Fprintf(w, "  Event Name            : %s\n", orNone(c.EventName))
	fmt.Fprintf(w, "  Workflow Run          : %s\n", orNone(c.RunURL()))
	fmt.Fprintf(w, "  Started (UTC)         : %s\n", c.StartedAt.Format(time.RFC3339))
	fmt.Fprintln(w)

	// ── Ref / Commit ────────────────────────────────────────────────────────────
	fmt.Fprintln(w, "Ref / Commit")
	fmt.Fprintf(w, "  Repository            : %s\n", orNone(c.Repository))
	fmt.Fprintf(w, "  Branch                : %s\n", orNone(c.Branch))
	fmt.Fprintf(w, "  Commit SHA            : %s\n", c.SHA)
	fmt.Fprintf(w, "  Commit Short SHA      : %s\n", c.ShortSHA)
	fmt.Fprintf(w, "  Version Tag           : %s\n", c.Version)
	fmt.Fprintln(w)

	// ── Changes ─────────────────────────────────────────────────────────────────
	fmt.Fprintln(w, "Changes")
	fmt.Fprintf(w, "  Diff Known            : %s\n", check(set.Known))
	fmt.Fprintf(w, "  Diff Source           : %s\n", orNone(set.Source))
	if set.Known {
		fmt.Fprintf(w, "  Changed Files         : %d\n", len(set.Files))
	}
	fmt.Fprintf(w, "  Dry Run Mode          : %s\n", check(c.DryRun))
	fmt.Fprintln(w)
}
