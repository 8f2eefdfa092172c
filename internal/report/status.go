package report

import (
	"context"
	"fmt"

	"imgpub/pkg/github"
)

type statusCreator interface {
	Create(ctx context.Context, sha string, status github.Status) (github.Status, error)
}

// CommitStatusSink sets a commit status imgpub/<purpose>-<variant> per record.
type CommitStatusSink struct {
	Statuses statusCreator
}

// NewCommitStatusSink binds the sink to a forge client.
func NewCommitStatusSink(c *github.Client) *CommitStatusSink {
	return &CommitStatusSink{Statuses: c.Statuses}
}

func (s *CommitStatusSink) Name() string { return "commit-status" }

// StatusFor maps a record to the status it should set. Skipped variants
// report success so they never block a branch.
func StatusFor(r Record) github.Status {
	st := github.Status{Context: "imgpub/" + r.VariantID, TargetURL: r.RunURL}
	switch r.Status {
	case StatusPublished:
		st.State = github.StateSuccess
		st.Description = "published " + r.VersionTag
	case StatusSkipped:
		st.State = github.StateSuccess
		st.Description = "skipped: " + r.Decision
	default:
		st.State = github.StateFailure
		st.Description = fmt.Sprintf("%s failure: %s", r.ErrorKind, r.Error)
	}
	return st
}

func (s *CommitStatusSink) Write(ctx context.Context, r Record) error {
	if r.DryRun {
		return nil
	}
	if r.SHA == "" {
		return fmt.Errorf("record for %s has no commit", r.VariantID)
	}
	_, err := s.Statuses.Create(ctx, r.SHA, StatusFor(r))
	return err
}
