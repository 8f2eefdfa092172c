package changes

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"imgpub/internal/variant"
)

func rockyVariants() []variant.Variant {
	return []variant.Variant{
		{Name: "rocky8", Purpose: "cbdb-test", Path: "images/docker/cbdb/test/rocky8"},
		{Name: "rocky9", Purpose: "cbdb-test", Path: "images/docker/cbdb/test/rocky9"},
	}
}

func TestMatches(t *testing.T) {
	tests := []struct {
		file, prefix string
		want         bool
	}{
		{"images/rocky9/Dockerfile", "images/rocky9", true},
		{"./images/rocky9/scripts/init.sh", "images/rocky9/", true},
		{"images/rocky9", "images/rocky9", true},
		{"images/rocky90/Dockerfile", "images/rocky9", false},
		{"images/rocky8/Dockerfile", "images/rocky9", false},
		{"README.md", ".", false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Matches(tt.file, tt.prefix), "%s under %s", tt.file, tt.prefix)
	}
}

func TestDecideOnlyTouchedVariantChanges(t *testing.T) {
	set := Known([]string{
		"images/docker/cbdb/test/rocky9/Dockerfile",
		"images/docker/cbdb/test/rocky9/configs/gpinitsystem.conf",
		".github/workflows/docker-cbdb-test-containers.yml",
	}, "push")

	got := Decide(set, rockyVariants())
	require.Len(t, got, 2)

	assert.Equal(t, "rocky8", got[0].Variant)
	assert.False(t, got[0].Changed)
	assert.Equal(t, ReasonUnchanged, got[0].Reason)

	assert.Equal(t, "rocky9", got[1].Variant)
	assert.True(t, got[1].Changed)
	assert.Equal(t, ReasonChanged, got[1].Reason)
	assert.Len(t, got[1].Matched, 2)
}

func TestDecideEmptyKnownSetSkipsEverything(t *testing.T) {
	got := Decide(Known(nil, "push"), rockyVariants())
	for _, d := range got {
		assert.False(t, d.Changed)
		assert.Equal(t, ReasonUnchanged, d.Reason)
	}
}

func TestKnownNormalisesAndDedups(t *testing.T) {
	set := Known([]string{"./b/x", "a/y", "b/x", "", "/a/y"}, "test")
	assert.True(t, set.Known)
	assert.Equal(t, []string{"a/y", "b/x"}, set.Files)
}

func TestDetectorUnknownSet(t *testing.T) {
	ctx := context.Background()

	skip := &Detector{Policy: PolicySkip}
	for _, d := range skip.Decide(ctx, Unknown("workflow_dispatch"), rockyVariants(), "abc") {
		assert.False(t, d.Changed)
		assert.Equal(t, ReasonIndeterminate, d.Reason)
	}

	build := &Detector{Policy: PolicyBuild}
	for _, d := range build.Decide(ctx, Unknown("workflow_dispatch"), rockyVariants(), "abc") {
		assert.True(t, d.Changed)
		assert.Equal(t, ReasonForced, d.Reason)
	}

	// zero value falls back to skip
	var zero Detector
	for _, d := range zero.Decide(ctx, Unknown("workflow_dispatch"), rockyVariants(), "abc") {
		assert.False(t, d.Changed)
	}
}

func TestDetectorKnownSetIgnoresPolicy(t *testing.T) {
	d := &Detector{Policy: PolicyBuild}
	got := d.Decide(context.Background(), Known(nil, "push"), rockyVariants(), "abc")
	for _, dec := range got {
		assert.False(t, dec.Changed)
	}
}

type fakeBaseline map[string]string

func (f fakeBaseline) LastPublished(_ context.Context, id string) (string, bool, error) {
	if id == "broken" {
		return "", false, errors.New("boom")
	}
	sha, ok := f[id]
	return sha, ok, nil
}

type fakeDiffer struct {
	files map[string][]string
	err   error
}

func (f fakeDiffer) ChangedFiles(_ context.Context, from, to string) ([]string, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.files[from+".."+to], nil
}

func TestDetectorSincePublished(t *testing.T) {
	d := &Detector{
		Policy:   PolicySincePublished,
		Baseline: fakeBaseline{"cbdb-test-rocky8": "base8", "cbdb-test-rocky9": "head"},
		Differ: fakeDiffer{files: map[string][]string{
			"base8..head": {"images/docker/cbdb/test/rocky8/Dockerfile"},
		}},
	}
	got := d.Decide(context.Background(), Unknown("workflow_dispatch"), rockyVariants(), "head")
	assert.True(t, got[0].Changed)
	assert.Equal(t, ReasonChanged, got[0].Reason)
	assert.False(t, got[1].Changed)
	assert.Equal(t, ReasonUnchanged, got[1].Reason)
}

func TestDetectorSincePublishedFallsBackToSkip(t *testing.T) {
	d := &Detector{
		Policy:   PolicySincePublished,
		Baseline: fakeBaseline{"cbdb-test-rocky8": "base8"},
		Differ:   fakeDiffer{err: errors.New("no such commit")},
	}
	got := d.Decide(context.Background(), Unknown("workflow_dispatch"), rockyVariants(), "head")
	for _, dec := range got {
		assert.False(t, dec.Changed)
		assert.Equal(t, ReasonIndeterminate, dec.Reason)
	}

	noDeps := &Detector{Policy: PolicySincePublished}
	for _, dec := range noDeps.Decide(context.Background(), Unknown("x"), rockyVariants(), "head") {
		assert.Equal(t, ReasonIndeterminate, dec.Reason)
	}
}

func TestParsePolicy(t *testing.T) {
	p, err := ParsePolicy("BUILD")
	require.NoError(t, err)
	assert.Equal(t, PolicyBuild, p)

	p, err = ParsePolicy("")
	require.NoError(t, err)
	assert.Equal(t, PolicySkip, p)

	_, err = ParsePolicy("always")
	require.Error(t, err)
}

func TestDecisionString(t *testing.T) {
	assert.Equal(t, "indeterminate", Decision{Reason: ReasonIndeterminate}.String())
	assert.Equal(t, "changed (a/b)", Decision{Reason: ReasonChanged, Matched: []string{"a/b"}}.String())
}
