package engine

import (
	"fmt"
	"math/rand"
)

// State is one phase of a probe trial.
type State int

const (
	StateIdle State = iota
	StateForeperiod
	StateProbeActive
	StateRefractory
	StateFictiveSaccade
	StateRandomProbe
	numStates
)

var stateNames = [...]string{
	StateIdle:           "Idle",
	StateForeperiod:     "Foreperiod",
	StateProbeActive:    "ProbeActive",
	StateRefractory:     "Refractory",
	StateFictiveSaccade: "FictiveSaccade",
	StateRandomProbe:    "RandomProbe",
}

func (s State) String() string {
	if s >= 0 && s < numStates {
		return stateNames[s]
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// PathID selects one of the fixed state sequences.
type PathID int

const (
	PathPerisaccadicProbe PathID = iota
	PathFictiveSaccade
	PathRandomProbe
	PathIdleOnly
)

func (p PathID) String() string {
	switch p {
	case PathPerisaccadicProbe:
		return "perisaccadicProbe"
	case PathFictiveSaccade:
		return "fictiveSaccade"
	case PathRandomProbe:
		return "randomProbe"
	case PathIdleOnly:
		return "idleOnly"
	}
	return fmt.Sprintf("PathID(%d)", int(p))
}

var paths = map[PathID][]State{
	PathPerisaccadicProbe: {StateIdle, StateForeperiod, StateProbeActive, StateRefractory},
	PathFictiveSaccade:    {StateIdle, StateFictiveSaccade, StateRefractory},
	PathRandomProbe:       {StateIdle, StateForeperiod, StateRandomProbe, StateRefractory},
	PathIdleOnly:          {StateIdle},
}

// PathStates returns a copy of the state sequence for id.
func PathStates(id PathID) []State {
	return append([]State(nil), paths[id]...)
}

// StateMachine tracks the active (path, index) position. It holds no timing
// state.
type StateMachine struct {
	path  PathID
	index int
	score [][numStates]bool
}

func NewStateMachine() *StateMachine {
	return &StateMachine{path: PathPerisaccadicProbe}
}

func (m *StateMachine) State() State { return paths[m.path][m.index] }
func (m *StateMachine) Path() PathID { return m.path }
func (m *StateMachine) Index() int { return m.index }
func (m *StateMachine) Is(s State) bool { return m.State() == s }

// Advance moves to the next state of the active path, or back to the start
// of the default path from a path's last state. selector becomes the active
// path after the move. On error the position is unchanged.
func (m *StateMachine) Advance(selector PathID) error {
	next, ok := paths[selector]
	if !ok {
		return fmt.Errorf("unknown path %s: %w", selector, ErrInvalidTransition)
	}
	cur := paths[m.path]
	index := m.index + 1
	if m.index == len(cur)-1 {
		index = 0
	}
	if index >= len(next) {
		return fmt.Errorf("%s has no state %d (leaving %s): %w", selector, index, m.State(), ErrInvalidTransition)
	}
	m.path = selector
	m.index = index
	return nil
}

// Reset returns to Idle on the default path.
func (m *StateMachine) Reset() {
	m.path = PathPerisaccadicProbe
	m.index = 0
}

// RecordState appends a one-hot snapshot of the current state to the score.
func (m *StateMachine) RecordState() {
	var snap [numStates]bool
	snap[m.State()] = true
	m.score = append(m.score, snap)
}

// Score returns the recorded snapshots as rows of one-hot state flags,
// ordered by State.
func (m *StateMachine) Score() [][]bool {
	out := make([][]bool, len(m.score))
	for i := range m.score {
		out[i] = append([]bool(nil), m.score[i][:]...)
	}
	return out
}

// ChoosePath picks the path for a saccade-independent event.
func ChoosePath(rng *rand.Rand, allowRandomProbes, allowFictiveSaccades bool) (PathID, error) {
	switch {
	case allowRandomProbes && allowFictiveSaccades:
		if rng.Intn(2) == 0 {
			return PathFictiveSaccade, nil
		}
		return PathRandomProbe, nil
	case allowRandomProbes:
		return PathRandomProbe, nil
	case allowFictiveSaccades:
		return PathFictiveSaccade, nil
	}
	return 0, ErrNoPathEnabled
}
