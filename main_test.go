package main

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/alecthomas/kong"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"imgpub/internal/changes"
	"imgpub/internal/history"
	"imgpub/internal/publish"
	"imgpub/internal/runtime"
	"imgpub/internal/server"
	"imgpub/internal/variant"
	"imgpub/internal/version"
)

func parse(t *testing.T, args ...string) (*CLI, *kong.Context) {
	t.Helper()
	var cli CLI
	p, err := kong.New(&cli, kong.Name("imgpub"), kong.Vars{"version": "test"}, kong.Exit(func(int) { t.Fatal("unexpected exit") }))
	require.NoError(t, err)
	ctx, err := p.Parse(args)
	require.NoError(t, err)
	return &cli, ctx
}

func TestParseRunFallsBackToEnvironment(t *testing.T) {
	t.Setenv("GITHUB_EVENT_NAME", "push")
	t.Setenv("GITHUB_SHA", "abc1234def5678")
	t.Setenv("DOCKERHUB_USER", "bot")
	t.Setenv("IMGPUB_CONCURRENCY", "4")

	cli, ctx := parse(t, "run", "--variant", "rocky9", "--dry-run")
	assert.Equal(t, "run", ctx.Command())
	assert.Equal(t, "push", cli.Run.EventName)
	assert.Equal(t, "abc1234def5678", cli.Run.SHA)
	assert.Equal(t, "bot", cli.Run.RegistryUser)
	assert.Equal(t, 4, cli.Run.Concurrency)
	assert.Equal(t, 2*time.Hour, cli.Run.UnitTimeout)
	assert.Equal(t, "skip", cli.Run.ManualPolicy)
	assert.True(t, cli.Run.DryRun)

	in := cli.Run.Inputs(cli.Run.DryRun)
	assert.Equal(t, runtime.Trigger("auto"), in.Trigger)
	assert.Equal(t, []string{"rocky9"}, cli.Run.Variants)
	assert.True(t, in.DryRun)
}

func TestParseRejectsUnknownPolicy(t *testing.T) {
	var cli CLI
	p, err := kong.New(&cli, kong.Vars{"version": "test"})
	require.NoError(t, err)
	_, err = p.Parse([]string{"run", "--manual-policy", "always"})
	require.Error(t, err)
}

func TestAfterApplyRejectsBadLevel(t *testing.T) {
	c := &CLI{LogLevel: "loud"}
	require.Error(t, c.AfterApply())
	c.LogLevel = "warn"
	require.NoError(t, c.AfterApply())
}

func TestLoadCatalogPresetAndSelection(t *testing.T) {
	c := &CLI{Preset: "test"}
	cat, err := c.LoadCatalog([]string{"rocky9"})
	require.NoError(t, err)
	require.Len(t, cat.Variants, 1)
	assert.Equal(t, "cbdb-test-rocky9", cat.Variants[0].ID())

	_, err = c.LoadCatalog([]string{"solaris"})
	require.Error(t, err)
}

func TestOpenHistoryOptional(t *testing.T) {
	store, err := (&CLI{}).OpenHistory()
	require.NoError(t, err)
	assert.Nil(t, store)
}

func TestPrintPlan(t *testing.T) {
	cat, err := variant.LoadPreset("test")
	require.NoError(t, err)
	tag, err := version.Compute(time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC), "abc1234def5678")
	require.NoError(t, err)
	run := runtime.Context{SHA: "abc1234def5678", Repository: "apache/cloudberry-devops-release", ServerURL: "https://github.com", Version: tag}

	decisions := make([]changes.Decision, len(cat.Variants))
	for i, v := range cat.Variants {
		decisions[i] = changes.Decision{Variant: v.Name, Reason: changes.ReasonUnchanged}
		if v.Name == "rocky9" {
			decisions[i] = changes.Decision{Variant: v.Name, Changed: true, Reason: changes.ReasonChanged}
		}
	}

	var b bytes.Buffer
	require.NoError(t, printPlan(&b, run, cat, decisions))
	out := b.String()
	assert.Contains(t, out, fmt.Sprintf("%-22s: skip [unchanged]", "cbdb-test-rocky8"))
	assert.Contains(t, out, fmt.Sprintf("%-22s: publish [changed]", "cbdb-test-rocky9"))
	assert.Contains(t, out, "apache/incubator-cloudberry:cbdb-test-rocky9-latest")
	assert.Contains(t, out, "apache/incubator-cloudberry:cbdb-test-rocky9-20240115-abc1234")
	assert.NotContains(t, out, "cbdb-test-rocky8-latest")
}

func TestQueuedRunPreemptedIsReported(t *testing.T) {
	t.Setenv("IMGPUB_GITHUB_TOKEN", "")
	t.Setenv("GITHUB_TOKEN", "")
	cat, err := variant.LoadPreset("test")
	require.NoError(t, err)

	var b bytes.Buffer
	w := &worker{cmd: &ServeCmd{}, holder: server.NewCatalogHolder(cat), lock: make(chan struct{}, 1), stdout: &b}
	w.lock <- struct{}{} // another run holds the clone

	ctx, cancel := context.WithCancelCause(context.Background())
	cancel(publish.ErrPreempted)
	err = w.run(ctx, server.Request{Trigger: runtime.TriggerWebhook, Event: &runtime.PushEvent{After: "abc1234def5678"}, Group: "a@main"})
	require.ErrorIs(t, err, publish.ErrPreempted)

	out := b.String()
	for _, v := range cat.Variants {
		assert.Contains(t, out, v.ID()+": failed")
	}
	assert.Contains(t, out, "Error (canceled)")

	b.Reset()
	err = w.run(ctx, server.Request{Trigger: runtime.TriggerSchedule, Group: "a@main"})
	require.ErrorIs(t, err, publish.ErrPreempted)
	assert.Empty(t, b.String(), "scheduled runs have no commit to report")
}

func TestPrintHistory(t *testing.T) {
	var b bytes.Buffer
	printHistory(&b, nil)
	assert.Contains(t, b.String(), "no outcomes")

	b.Reset()
	printHistory(&b, []history.Entry{
		{VariantID: "cbdb-test-rocky9", Status: "failed", VersionTag: "20240115-abc1234", ErrorKind: "push", Error: "denied", Duration: 90 * time.Second},
		{VariantID: "cbdb-test-rocky8", Status: "published", Images: []string{"apache/incubator-cloudberry:cbdb-test-rocky8-latest"}},
	})
	lines := strings.Split(strings.TrimSpace(b.String()), "\n")
	require.Len(t, lines, 3)
	assert.Contains(t, lines[1], "push: denied")
	assert.Contains(t, lines[1], "1m30s")
	assert.Contains(t, lines[2], "cbdb-test-rocky8-latest")
}
