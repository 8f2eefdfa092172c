// Package changes decides, per variant, whether a run has anything to rebuild.
package changes

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"imgpub/internal/logfields"
	"imgpub/internal/variant"
)

// Reason explains a Decision.
type Reason string

const (
	ReasonChanged       Reason = "changed"       // a file under the variant path changed
	ReasonUnchanged     Reason = "unchanged"     // diff known, nothing under the path
	ReasonIndeterminate Reason = "indeterminate" // no diff available, resolved to skip
	ReasonForced        Reason = "forced"        // no diff available, policy says build
)

// maxMatched caps how many matching files a Decision keeps for reporting.
const maxMatched = 5

// Decision is the immutable per-variant outcome of change detection.
type Decision struct {
	Variant string
	Changed bool
	Reason  Reason
	Matched []string
}

func (d Decision) String() string {
	if len(d.Matched) == 0 {
		return string(d.Reason)
	}
	return fmt.Sprintf("%s (%s)", d.Reason, strings.Join(d.Matched, ", "))
}

// ChangeSet is the set of files a trigger touched. A known set may be empty;
// an unknown set means the trigger carried no diff (e.g. a manual dispatch).
type ChangeSet struct {
	Known  bool
	Files  []string
	Source string // where the files came from, for logs and reports
}

// Known builds a ChangeSet from a concrete file list.
func Known(files []string, source string) ChangeSet {
	clean := make([]string, 0, len(files))
	seen := make(map[string]bool, len(files))
	for _, f := range files {
		f = variant.CleanPath(f)
		if f == "" || f == "." || seen[f] {
			continue
		}
		seen[f] = true
		clean = append(clean, f)
	}
	sort.Strings(clean)
	return ChangeSet{Known: true, Files: clean, Source: source}
}

// Unknown is the ChangeSet of a trigger without diff information.
func Unknown(source string) ChangeSet {
	return ChangeSet{Source: source}
}

// ManualPolicy resolves variants when the ChangeSet is unknown.
type ManualPolicy string

const (
	PolicySkip           ManualPolicy = "skip"
	PolicyBuild          ManualPolicy = "build"
	PolicySincePublished ManualPolicy = "since-published"
)

// ParsePolicy converts a flag value into a ManualPolicy.
func ParsePolicy(s string) (ManualPolicy, error) {
	switch p := ManualPolicy(strings.ToLower(strings.TrimSpace(s))); p {
	case PolicySkip, PolicyBuild, PolicySincePublished:
		return p, nil
	case "":
		return PolicySkip, nil
	default:
		return "", fmt.Errorf("invalid manual policy: %q. Must be one of: skip, build, since-published", s)
	}
}

// Matches reports whether file equals prefix or lies beneath it.
func Matches(file, prefix string) bool {
	file = variant.CleanPath(file)
	prefix = variant.CleanPath(prefix)
	if prefix == "" || prefix == "." {
		return false
	}
	return file == prefix || strings.HasPrefix(file, prefix+"/")
}

// Decide evaluates a known ChangeSet against every variant. It has no side effects.
func Decide(set ChangeSet, variants []variant.Variant) []Decision {
	out := make([]Decision, len(variants))
	for i, v := range variants {
		out[i] = decideKnown(set.Files, v)
	}
	return out
}

func decideKnown(files []string, v variant.Variant) Decision {
	d := Decision{Variant: v.Name, Reason: ReasonUnchanged}
	for _, f := range files {
		if Matches(f, v.Path) {
			d.Changed = true
			d.Reason = ReasonChanged
			if len(d.Matched) < maxMatched {
				d.Matched = append(d.Matched, f)
			}
		}
	}
	return d
}

// Baseline looks up the last commit that published a variant.
type Baseline interface {
	LastPublished(ctx context.Context, variantID string) (sha string, ok bool, err error)
}

// Differ lists files changed between two revisions.
type Differ interface {
	ChangedFiles(ctx context.Context, from, to string) ([]string, error)
}

// Detector applies Decide, resolving unknown ChangeSets with Policy.
type Detector struct {
	Policy   ManualPolicy
	Baseline Baseline // required for PolicySincePublished
	Differ   Differ   // required for PolicySincePublished
}

// Decide returns one Decision per variant, in variant order. head is the
// commit being evaluated; it is only consulted by PolicySincePublished.
func (d *Detector) Decide(ctx context.Context, set ChangeSet, variants []variant.Variant, head string) []Decision {
	if set.Known {
		return Decide(set, variants)
	}

	out := make([]Decision, len(variants))
	for i, v := range variants {
		switch d.Policy {
		case PolicyBuild:
			out[i] = Decision{Variant: v.Name, Changed: true, Reason: ReasonForced}
		case PolicySincePublished:
			out[i] = d.sincePublished(ctx, v, head)
		default:
			out[i] = Decision{Variant: v.Name, Reason: ReasonIndeterminate}
		}
	}
	return out
}

// sincePublished diffs head against the variant's last published commit.
// Anything missing resolves to the conservative skip.
func (d *Detector) sincePublished(ctx context.Context, v variant.Variant, head string) Decision {
	indeterminate := Decision{Variant: v.Name, Reason: ReasonIndeterminate}
	if d.Baseline == nil || d.Differ == nil || strings.TrimSpace(head) == "" {
		return indeterminate
	}
	base, ok, err := d.Baseline.LastPublished(ctx, v.ID())
	if err != nil {
		slog.Warn("Baseline lookup failed; skipping", logfields.Variant(v.ID()), logfields.Error(err))
		return indeterminate
	}
	if !ok {
		slog.Info("No published baseline; skipping", logfields.Variant(v.ID()))
		return indeterminate
	}
	if strings.EqualFold(base, head) {
		return Decision{Variant: v.Name, Reason: ReasonUnchanged}
	}
	files, err := d.Differ.ChangedFiles(ctx, base, head)
	if err != nil {
		slog.Warn("Diff against baseline failed; skipping", logfields.Variant(v.ID()), logfields.Error(err))
		return indeterminate
	}
	return decideKnown(Known(files, "baseline").Files, v)
}
