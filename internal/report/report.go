// Package report turns settled variant outcomes into records and fans them
// out to sinks (step summary, console, history, archive, events, commit
// status). A sink failure is logged and never changes a run's result.
package report

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"imgpub/internal/logfields"
	"imgpub/internal/publish"
	"imgpub/internal/runtime"
)

// Status values of a Record.
const (
	StatusPublished = "published"
	StatusSkipped   = "skipped"
	StatusFailed    = "failed"
)

// Record is the reported view of one variant outcome.
type Record struct {
	RunID      string    `json:"run_id"`
	Repository string    `json:"repository,omitempty"`
	Variant    string    `json:"variant"`
	Purpose    string    `json:"purpose"`
	VariantID  string    `json:"variant_id"`
	Arches     []string  `json:"arches"`
	Status     string    `json:"status"`
	SHA        string    `json:"sha"`
	ShortSHA   string    `json:"short_sha"`
	CommitURL  string    `json:"commit_url,omitempty"`
	RunURL     string    `json:"run_url,omitempty"`
	Trigger    string    `json:"trigger"`
	Branch     string    `json:"branch,omitempty"`
	VersionTag string    `json:"version_tag"`
	Decision   string    `json:"decision,omitempty"`
	Changed    bool      `json:"changed"`
	Images     []string  `json:"images,omitempty"`
	ErrorKind  string    `json:"error_kind,omitempty"`
	Error      string    `json:"error,omitempty"`
	DryRun     bool      `json:"dry_run,omitempty"`
	StartedAt  time.Time `json:"started_at"`
	DurationMS int64     `json:"duration_ms"`
}

// Duration is the unit's wall-clock time, rounded for display.
func (r Record) Duration() time.Duration {
	return (time.Duration(r.DurationMS) * time.Millisecond).Round(time.Second)
}

// NewRecord combines the run context with one outcome. Images are only
// carried for published outcomes.
func NewRecord(run runtime.Context, o publish.Outcome) Record {
	r := Record{
		RunID:      run.RunID,
		Repository: run.Repository,
		Variant:    o.Variant.Name,
		Purpose:    o.Variant.Purpose,
		VariantID:  o.Variant.ID(),
		Arches:     o.Variant.Arches,
		Status:     status(o.State),
		SHA:        run.SHA,
		ShortSHA:   run.ShortSHA,
		CommitURL:  run.CommitURL(),
		RunURL:     run.RunURL(),
		Trigger:    string(run.Trigger),
		Branch:     run.Branch,
		VersionTag: o.Version.String(),
		Decision:   o.Decision.String(),
		Changed:    o.Decision.Changed,
		DryRun:     run.DryRun,
		StartedAt:  o.StartedAt.UTC(),
		DurationMS: o.Duration.Milliseconds(),
	}
	if o.State == publish.StatePublished {
		r.Images = append([]string(nil), o.Images...)
	}
	if o.Err != nil {
		r.ErrorKind = string(o.Kind())
		r.Error = o.Err.Error()
	}
	return r
}

func status(s publish.State) string {
	switch s {
	case publish.StatePublished:
		return StatusPublished
	case publish.StateSkipped:
		return StatusSkipped
	default:
		return StatusFailed
	}
}

// Sink receives records. Implementations must be safe for concurrent use.
type Sink interface {
	Name() string
	Write(ctx context.Context, r Record) error
}

// Reporter implements publish.Reporter over a set of sinks.
type Reporter struct {
	Run   runtime.Context
	Sinks []Sink

	mu      sync.Mutex
	records []Record
}

// Report writes the outcome's record to every sink. Every sink is tried;
// their errors are logged and joined.
func (rp *Reporter) Report(ctx context.Context, o publish.Outcome) error {
	rec := NewRecord(rp.Run, o)

	rp.mu.Lock()
	rp.records = append(rp.records, rec)
	rp.mu.Unlock()

	var errs []error
	for _, s := range rp.Sinks {
		if err := s.Write(ctx, rec); err != nil {
			slog.Warn("Report sink failed", logfields.Sink(s.Name()), logfields.Variant(rec.VariantID), logfields.Error(err))
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Records returns every record reported so far.
func (rp *Reporter) Records() []Record {
	rp.mu.Lock()
	defer rp.mu.Unlock()
	return append([]Record(nil), rp.records...)
}
