package runtime

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const pushPayload = `{
  "ref": "refs/heads/main",
  "before": "1111111111111111111111111111111111111111",
  "after": "abc1234def5678901234567890abcdef12345678",
  "repository": {"full_name": "apache/cloudberry-devops-release", "html_url": "https://github.com/apache/cloudberry-devops-release"},
  "commits": [
    {"id": "a", "added": ["images/docker/cbdb/test/rocky9/scripts/init.sh"], "modified": [], "removed": []},
    {"id": "b", "added": [], "modified": ["images/docker/cbdb/test/rocky9/Dockerfile", "images/docker/cbdb/test/rocky9/scripts/init.sh"], "removed": ["README.md"]}
  ]
}`

var fixedNow = time.Date(2024, 1, 15, 8, 0, 0, 0, time.UTC)

func writePayload(t *testing.T, body string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "event.json")
	require.NoError(t, os.WriteFile(p, []byte(body), 0o600))
	return p
}

func TestResolveTrigger(t *testing.T) {
	assert.Equal(t, TriggerPush, ResolveTrigger("push", TriggerAuto))
	assert.Equal(t, TriggerManual, ResolveTrigger("workflow_dispatch", TriggerAuto))
	assert.Equal(t, TriggerManual, ResolveTrigger("", ""))
	assert.Equal(t, TriggerSchedule, ResolveTrigger("schedule", TriggerAuto))
	assert.Equal(t, TriggerManual, ResolveTrigger("push", TriggerManual))
	assert.True(t, TriggerPush.CarriesDiff())
	assert.False(t, TriggerSchedule.CarriesDiff())
}

func TestLoadContextFromPushPayload(t *testing.T) {
	c, err := LoadContext(Inputs{
		EventName: "push",
		EventPath: writePayload(t, pushPayload),
		Now:       fixedNow,
	})
	require.NoError(t, err)

	assert.Equal(t, TriggerPush, c.Trigger)
	assert.Equal(t, "abc1234def5678901234567890abcdef12345678", c.SHA)
	assert.Equal(t, "abc1234", c.ShortSHA)
	assert.Equal(t, "main", c.Branch)
	assert.Equal(t, "apache/cloudberry-devops-release", c.Repository)
	assert.Equal(t, "20240115-abc1234", c.Version.String())
	assert.Equal(t, "https://github.com/apache/cloudberry-devops-release/commit/abc1234def5678901234567890abcdef12345678", c.CommitURL())
	assert.Equal(t, "apache/cloudberry-devops-release@main", c.ConcurrencyGroup())
	assert.NotEmpty(t, c.RunID)
}

func TestLoadContextFlagsWinOverPayload(t *testing.T) {
	c, err := LoadContext(Inputs{
		EventName:     "push",
		EventPath:     writePayload(t, pushPayload),
		SHA:           "FFFFFFF0000",
		RefName:       "release",
		Repository:    "acme/images",
		ServerURL:     "https://git.example.com/",
		WorkflowRunID: "42",
		Now:           fixedNow,
	})
	require.NoError(t, err)
	assert.Equal(t, "fffffff0000", c.SHA)
	assert.Equal(t, "release", c.Branch)
	assert.Equal(t, "https://git.example.com/acme/images/actions/runs/42", c.RunURL())
}

func TestLoadContextRequiresSHA(t *testing.T) {
	_, err := LoadContext(Inputs{EventName: "workflow_dispatch", Now: fixedNow})
	require.Error(t, err)
}

func TestLoadContextIgnoresBadPayload(t *testing.T) {
	c, err := LoadContext(Inputs{EventName: "push", EventPath: writePayload(t, "{not json"), SHA: "abc1234", Now: fixedNow})
	require.NoError(t, err)
	assert.Nil(t, c.Event)
	assert.False(t, c.ResolveChangeSet(context.Background(), ChangeSources{}).Known)
}

type stubDiffer struct {
	files []string
	err   error
}

func (s stubDiffer) ChangedFiles(context.Context, string, string) ([]string, error) {
	return s.files, s.err
}

func TestResolveChangeSetPrecedence(t *testing.T) {
	ctx := context.Background()
	c, err := LoadContext(Inputs{EventName: "push", EventPath: writePayload(t, pushPayload), Now: fixedNow})
	require.NoError(t, err)

	// local clone wins
	set := c.ResolveChangeSet(ctx, ChangeSources{Git: stubDiffer{files: []string{"x/y"}}})
	assert.Equal(t, "git", set.Source)
	assert.Equal(t, []string{"x/y"}, set.Files)

	// compare is next
	set = c.ResolveChangeSet(ctx, ChangeSources{
		Git: stubDiffer{err: errors.New("shallow clone")},
		Compare: func(context.Context, string, string) ([]string, error) {
			return []string{"a/b"}, nil
		},
	})
	assert.Equal(t, "compare", set.Source)

	// payload is the last resort
	set = c.ResolveChangeSet(ctx, ChangeSources{})
	assert.True(t, set.Known)
	assert.Equal(t, "payload", set.Source)
	assert.Equal(t, []string{
		"README.md",
		"images/docker/cbdb/test/rocky9/Dockerfile",
		"images/docker/cbdb/test/rocky9/scripts/init.sh",
	}, set.Files)

	// explicit list beats everything
	c.ChangedFiles = []string{"only/this"}
	set = c.ResolveChangeSet(ctx, ChangeSources{Git: stubDiffer{files: []string{"x/y"}}})
	assert.Equal(t, "explicit", set.Source)
}

func TestResolveChangeSetManualIsUnknown(t *testing.T) {
	c, err := LoadContext(Inputs{EventName: "workflow_dispatch", SHA: "abc1234", Now: fixedNow})
	require.NoError(t, err)
	set := c.ResolveChangeSet(context.Background(), ChangeSources{Git: stubDiffer{files: []string{"x"}}})
	assert.False(t, set.Known)
	assert.Equal(t, "manual", set.Source)
}

func TestResolveChangeSetNewBranchFallsBackToPayload(t *testing.T) {
	ev, err := ParsePushEvent([]byte(`{"ref":"refs/heads/feature","before":"0000000000000000000000000000000000000000","after":"abc1234","head_commit":{"id":"abc1234","modified":["images/x"]}}`))
	require.NoError(t, err)
	assert.False(t, ev.HasBase())

	c, err := LoadContext(Inputs{EventName: "push", Event: ev, Now: fixedNow})
	require.NoError(t, err)
	set := c.ResolveChangeSet(context.Background(), ChangeSources{Git: stubDiffer{files: []string{"never"}}})
	assert.Equal(t, "payload", set.Source)
	assert.Equal(t, []string{"images/x"}, set.Files)
}

func TestResolveChangeSetDeletedBranch(t *testing.T) {
	ev := &PushEvent{Ref: "refs/heads/x", Before: "1111111", After: "0000000", Deleted: true}
	c, err := LoadContext(Inputs{EventName: "push", Event: ev, SHA: "abc1234", Now: fixedNow})
	require.NoError(t, err)
	set := c.ResolveChangeSet(context.Background(), ChangeSources{})
	assert.True(t, set.Known)
	assert.Empty(t, set.Files)
}

func TestPrintSummary(t *testing.T) {
	c, err := LoadContext(Inputs{EventName: "workflow_dispatch", SHA: "abc1234def", Now: fixedNow})
	require.NoError(t, err)
	var buf bytes.Buffer
	c.PrintSummary(&buf, c.ResolveChangeSet(context.Background(), ChangeSources{}))
	out := buf.String()
	assert.Contains(t, out, "Version Tag           : 20240115-abc1234")
	assert.Contains(t, out, "Repository            : <none>")
	assert.Contains(t, out, "Diff Known            : ❌")
}
