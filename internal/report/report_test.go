package report

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"imgpub/internal/changes"
	"imgpub/internal/publish"
	"imgpub/internal/runtime"
	"imgpub/internal/variant"
	"imgpub/internal/version"
	"imgpub/pkg/github"
)

var (
	run = runtime.Context{
		RunID:         "run-1",
		Trigger:       runtime.TriggerPush,
		SHA:           "abc1234def5678",
		ShortSHA:      "abc1234",
		Branch:        "main",
		Repository:    "apache/cloudberry-devops-release",
		ServerURL:     "https://github.com",
		WorkflowRunID: "42",
	}
	rocky9 = variant.Variant{Name: "rocky9", Purpose: "cbdb-test", Arches: []string{"amd64"}}
	tag    = version.Tag{Date: "20240115", ShortSHA: "abc1234"}
	start  = time.Date(2024, 1, 15, 8, 0, 0, 0, time.UTC)
)

func published() publish.Outcome {
	return publish.Outcome{
		Variant:   rocky9,
		Decision:  changes.Decision{Variant: "rocky9", Changed: true, Reason: changes.ReasonChanged, Matched: []string{"images/rocky9/Dockerfile"}},
		State:     publish.StatePublished,
		Version:   tag,
		Images:    []string{"apache/incubator-cloudberry:cbdb-test-rocky9-latest", "apache/incubator-cloudberry:cbdb-test-rocky9-20240115-abc1234"},
		StartedAt: start,
		Duration:  95 * time.Second,
	}
}

func failed() publish.Outcome {
	o := published()
	o.State = publish.StateFailed
	o.Err = &publish.StepError{Kind: publish.KindPush, Step: "push", Variant: "cbdb-test-rocky9", Err: errors.New("denied")}
	return o
}

func TestNewRecord(t *testing.T) {
	r := NewRecord(run, published())
	assert.Equal(t, StatusPublished, r.Status)
	assert.Equal(t, "cbdb-test-rocky9", r.VariantID)
	assert.Equal(t, "https://github.com/apache/cloudberry-devops-release/commit/abc1234def5678", r.CommitURL)
	assert.Equal(t, "https://github.com/apache/cloudberry-devops-release/actions/runs/42", r.RunURL)
	assert.Equal(t, "20240115-abc1234", r.VersionTag)
	assert.Equal(t, "push", r.Trigger)
	assert.Len(t, r.Images, 2)
	assert.Equal(t, 95*time.Second, r.Duration())

	f := NewRecord(run, failed())
	assert.Equal(t, StatusFailed, f.Status)
	assert.Empty(t, f.Images, "images are only reported when published")
	assert.Equal(t, "push", f.ErrorKind)
	assert.Contains(t, f.Error, "denied")
}

func TestRenderMarkdown(t *testing.T) {
	var b bytes.Buffer
	require.NoError(t, RenderMarkdown(&b, NewRecord(run, published())))
	md := b.String()
	assert.Contains(t, md, "## ✅ cbdb-test-rocky9: published")
	assert.Contains(t, md, "[`abc1234`](https://github.com/apache/cloudberry-devops-release/commit/abc1234def5678)")
	assert.Contains(t, md, "| Version Tag | `20240115-abc1234` |")
	assert.Contains(t, md, "docker pull apache/incubator-cloudberry:cbdb-test-rocky9-latest")

	b.Reset()
	skipped := published()
	skipped.State = publish.StateSkipped
	skipped.Images = nil
	skipped.Decision = changes.Decision{Variant: "rocky9", Reason: changes.ReasonUnchanged}
	require.NoError(t, RenderMarkdown(&b, NewRecord(run, skipped)))
	assert.Contains(t, b.String(), "cbdb-test-rocky9: skipped")
	assert.NotContains(t, b.String(), "docker pull")
}

func TestSummarySinkAppends(t *testing.T) {
	path := filepath.Join(t.TempDir(), "summary.md")
	require.NoError(t, os.WriteFile(path, []byte("# existing\n"), 0o644))
	s := &SummarySink{Path: path}

	require.NoError(t, s.Write(context.Background(), NewRecord(run, published())))
	require.NoError(t, s.Write(context.Background(), NewRecord(run, failed())))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	out := string(data)
	assert.True(t, strings.HasPrefix(out, "# existing\n"))
	assert.Contains(t, out, "cbdb-test-rocky9: published")
	assert.Contains(t, out, "**Error** (push)")
}

func TestConsoleSink(t *testing.T) {
	var b bytes.Buffer
	c := &ConsoleSink{W: &b}
	require.NoError(t, c.Write(context.Background(), NewRecord(run, published())))
	assert.Contains(t, b.String(), "cbdb-test-rocky9: published")
	assert.Contains(t, b.String(), "docker pull apache/incubator-cloudberry:cbdb-test-rocky9-20240115-abc1234")
}

func TestConsoleSinkAlignsErrorRow(t *testing.T) {
	var b bytes.Buffer
	o := failed()
	o.Err = &publish.StepError{Kind: publish.KindCredential, Step: "login", Variant: "cbdb-test-rocky9", Err: errors.New("unauthorized")}
	require.NoError(t, (&ConsoleSink{W: &b}).Write(context.Background(), NewRecord(run, o)))

	out := b.String()
	assert.Contains(t, out, "  Error (credential)    : ")
	require.Contains(t, out, "  Version Tag           : ")
	for _, line := range strings.Split(out, "\n") {
		if strings.HasPrefix(line, "  Error (") {
			assert.Equal(t, 24, strings.Index(line, ":"), "error row colon lines up with the other rows")
		}
	}
}

type failingSink struct{}

func (failingSink) Name() string                          { return "broken" }
func (failingSink) Write(context.Context, Record) error { return errors.New("unavailable") }

func TestReporterTriesEverySink(t *testing.T) {
	var b bytes.Buffer
	rp := &Reporter{Run: run, Sinks: []Sink{failingSink{}, &ConsoleSink{W: &b}}}
	err := rp.Report(context.Background(), published())
	require.Error(t, err)
	assert.Contains(t, b.String(), "published")
	assert.Len(t, rp.Records(), 1)
}

type fakePutter struct {
	bucket, key string
	body        []byte
	opts        minio.PutObjectOptions
}

func (f *fakePutter) PutObject(_ context.Context, bucket, object string, r io.Reader, _ int64, opts minio.PutObjectOptions) (minio.UploadInfo, error) {
	f.bucket, f.key, f.opts = bucket, object, opts
	f.body, _ = io.ReadAll(r)
	return minio.UploadInfo{Bucket: bucket, Key: object}, nil
}

func TestArchiveSink(t *testing.T) {
	p := &fakePutter{}
	a := &ArchiveSink{client: p, bucket: "imgpub-reports", prefix: "/runs/"}
	rec := NewRecord(run, published())
	require.NoError(t, a.Write(context.Background(), rec))

	assert.Equal(t, "imgpub-reports", p.bucket)
	assert.Equal(t, "runs/2024-01-15/run-1/cbdb-test-rocky9.json", p.key)
	assert.Equal(t, "application/json", p.opts.ContentType)
	var got Record
	require.NoError(t, json.Unmarshal(p.body, &got))
	assert.Equal(t, rec.Images, got.Images)
}

func TestArchiveConfigValidate(t *testing.T) {
	require.Error(t, ArchiveConfig{}.Validate())
	require.Error(t, ArchiveConfig{Endpoint: "minio:9000"}.Validate())
	require.Error(t, ArchiveConfig{Endpoint: "minio:9000", Bucket: "b"}.Validate())
	require.NoError(t, ArchiveConfig{Endpoint: "minio:9000", Bucket: "b", AccessKey: "k", SecretKey: "s"}.Validate())
}

type fakePublisher struct {
	mu   sync.Mutex
	subj []string
	data [][]byte
}

func (f *fakePublisher) Publish(subject string, data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.subj = append(f.subj, subject)
	f.data = append(f.data, data)
	return nil
}

func TestEventSink(t *testing.T) {
	p := &fakePublisher{}
	e := &EventSink{pub: p}
	require.NoError(t, e.Write(context.Background(), NewRecord(run, failed())))
	assert.Equal(t, []string{"imgpub.outcomes.failed.cbdb-test-rocky9"}, p.subj)

	e.prefix = "ci.images."
	v := published()
	v.Variant.Name = "ubuntu22.04"
	assert.Equal(t, "ci.images.published.cbdb-test-ubuntu22_04", e.Subject(NewRecord(run, v)))
	assert.NoError(t, e.Close())
}

type fakeStatuses struct {
	sha string
	got []github.Status
}

func (f *fakeStatuses) Create(_ context.Context, sha string, s github.Status) (github.Status, error) {
	f.sha = sha
	f.got = append(f.got, s)
	return s, nil
}

func TestCommitStatusSink(t *testing.T) {
	f := &fakeStatuses{}
	s := &CommitStatusSink{Statuses: f}
	require.NoError(t, s.Write(context.Background(), NewRecord(run, failed())))
	assert.Equal(t, "abc1234def5678", f.sha)
	require.Len(t, f.got, 1)
	assert.Equal(t, github.StateFailure, f.got[0].State)
	assert.Equal(t, "imgpub/cbdb-test-rocky9", f.got[0].Context)

	skipped := published()
	skipped.State = publish.StateSkipped
	st := StatusFor(NewRecord(run, skipped))
	assert.Equal(t, github.StateSuccess, st.State)
	assert.True(t, strings.HasPrefix(st.Description, "skipped"))

	dry := run
	dry.DryRun = true
	require.NoError(t, s.Write(context.Background(), NewRecord(dry, published())))
	assert.Len(t, f.got, 1)
}
