package publish

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMachinePaths(t *testing.T) {
	paths := [][]State{
		{StateSkipped, StateReported},
		{StateBuilding, StateFailed, StateReported},
		{StateBuilding, StateBuilt, StatePublishing, StateFailed, StateReported},
		{StateBuilding, StateBuilt, StatePublishing, StatePublished, StateReported},
	}
	for _, path := range paths {
		m := NewMachine()
		for _, s := range path {
			require.NoError(t, m.To(s))
		}
		assert.Equal(t, append([]State{StatePending}, path...), m.History())
	}
}

func TestMachineRejectsInvalidTransitions(t *testing.T) {
	m := NewMachine()
	require.Error(t, m.To(StatePublishing))
	require.Error(t, m.To(StateReported))
	require.NoError(t, m.To(StateBuilding))
	require.Error(t, m.To(StatePublished))
	require.Error(t, m.To(StateSkipped))
	assert.Equal(t, StateBuilding, m.Current())

	require.NoError(t, m.To(StateFailed))
	require.NoError(t, m.To(StateReported))
	require.Error(t, m.To(StateBuilding))
}

func TestTerminal(t *testing.T) {
	assert.True(t, StateSkipped.Terminal())
	assert.True(t, StatePublished.Terminal())
	assert.True(t, StateFailed.Terminal())
	assert.False(t, StateBuilt.Terminal())
	assert.False(t, StateReported.Terminal())
}

func TestKindOf(t *testing.T) {
	assert.Equal(t, ErrorKind(""), KindOf(nil))
	se := &StepError{Kind: KindPush, Step: "push", Variant: "cbdb-test-rocky9", Err: context.Canceled}
	assert.Equal(t, KindPush, KindOf(se))
	assert.ErrorIs(t, se, context.Canceled)
	assert.Equal(t, "cbdb-test-rocky9: push failed (push): context canceled", se.Error())
}

func TestPreemptorRelease(t *testing.T) {
	p := NewPreemptor()
	ctx, release := p.Acquire(context.Background(), "a@main")
	_, releaseOther := p.Acquire(context.Background(), "a@dev")
	assert.Equal(t, []string{"a@dev", "a@main"}, p.Running())

	release()
	assert.ErrorIs(t, ctx.Err(), context.Canceled)
	assert.NotErrorIs(t, context.Cause(ctx), ErrPreempted)
	assert.Equal(t, []string{"a@dev"}, p.Running())

	releaseOther()
	assert.Empty(t, p.Running())
}

func TestPreemptorStaleReleaseKeepsNewerClaim(t *testing.T) {
	p := NewPreemptor()
	_, releaseOld := p.Acquire(context.Background(), "a@main")
	newer, releaseNew := p.Acquire(context.Background(), "a@main")
	defer releaseNew()

	releaseOld()
	assert.Equal(t, []string{"a@main"}, p.Running())
	assert.NoError(t, newer.Err())
}
