package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStateMachineDefaultPath(t *testing.T) {
	m := NewStateMachine()
	assert.Equal(t, StateIdle, m.State())

	want := []State{StateForeperiod, StateProbeActive, StateRefractory, StateIdle}
	for _, s := range want {
		require.NoError(t, m.Advance(PathPerisaccadicProbe))
		assert.Equal(t, s, m.State())
	}
	assert.Equal(t, PathPerisaccadicProbe, m.Path())
	assert.Equal(t, 0, m.Index())
}

func TestStateMachineFullCycleReturnsToIdle(t *testing.T) {
	for _, id := range []PathID{PathPerisaccadicProbe, PathFictiveSaccade, PathRandomProbe} {
		m := NewStateMachine()
		states := PathStates(id)
		for i := 0; i < len(states)-1; i++ {
			require.NoError(t, m.Advance(id))
			assert.Equal(t, states[i+1], m.State())
		}
		require.NoError(t, m.Advance(PathPerisaccadicProbe))
		assert.Equal(t, StateIdle, m.State(), id.String())
		assert.Equal(t, PathPerisaccadicProbe, m.Path())
	}
}

func TestStateMachineSelectorSwitchesPath(t *testing.T) {
	m := NewStateMachine()
	require.NoError(t, m.Advance(PathFictiveSaccade))
	assert.Equal(t, StateFictiveSaccade, m.State())

	m.Reset()
	require.NoError(t, m.Advance(PathRandomProbe))
	assert.Equal(t, StateForeperiod, m.State())
	require.NoError(t, m.Advance(m.Path()))
	assert.Equal(t, StateRandomProbe, m.State())
	assert.True(t, m.Is(StateRandomProbe))
}

func TestStateMachineInvalidTransition(t *testing.T) {
	m := NewStateMachine()
	err := m.Advance(PathIdleOnly)
	assert.ErrorIs(t, err, ErrInvalidTransition)
	assert.Equal(t, StateIdle, m.State())
	assert.Equal(t, 0, m.Index())

	assert.ErrorIs(t, m.Advance(PathID(42)), ErrInvalidTransition)

	require.NoError(t, m.Advance(PathPerisaccadicProbe))
	require.NoError(t, m.Advance(PathPerisaccadicProbe))
	assert.ErrorIs(t, m.Advance(PathFictiveSaccade), ErrInvalidTransition)
	assert.Equal(t, StateProbeActive, m.State())
}

func TestStateMachineIdleOnlyPath(t *testing.T) {
	m := NewStateMachine()
	require.NoError(t, m.Advance(PathFictiveSaccade))
	require.NoError(t, m.Advance(PathFictiveSaccade))
	require.NoError(t, m.Advance(PathIdleOnly))
	assert.Equal(t, StateIdle, m.State())
	require.NoError(t, m.Advance(PathIdleOnly))
	assert.Equal(t, StateIdle, m.State())
}

func TestStateMachineScore(t *testing.T) {
	m := NewStateMachine()
	m.RecordState()
	require.NoError(t, m.Advance(PathPerisaccadicProbe))
	m.RecordState()

	score := m.Score()
	require.Len(t, score, 2)
	assert.True(t, score[0][StateIdle])
	assert.True(t, score[1][StateForeperiod])
	assert.False(t, score[1][StateIdle])
	assert.Len(t, score[0], 6)
}

func TestChoosePath(t *testing.T) {
	rng := NewRand(3)
	seen := map[PathID]int{}
	for i := 0; i < 200; i++ {
		id, err := ChoosePath(rng, true, true)
		require.NoError(t, err)
		require.Contains(t, []PathID{PathFictiveSaccade, PathRandomProbe}, id)
		seen[id]++
	}
	assert.Len(t, seen, 2)

	for i := 0; i < 20; i++ {
		id, err := ChoosePath(rng, true, false)
		require.NoError(t, err)
		assert.Equal(t, PathRandomProbe, id)

		id, err = ChoosePath(rng, false, true)
		require.NoError(t, err)
		assert.Equal(t, PathFictiveSaccade, id)
	}

	_, err := ChoosePath(rng, false, false)
	assert.ErrorIs(t, err, ErrNoPathEnabled)
}

func TestStateNames(t *testing.T) {
	assert.Equal(t, "Foreperiod", StateForeperiod.String())
	assert.Equal(t, "State(9)", State(9).String())
	assert.Equal(t, "fictiveSaccade", PathFictiveSaccade.String())
}
