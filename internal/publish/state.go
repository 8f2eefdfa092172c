package publish

import (
	"fmt"
	"sync"
)

// State is a variant unit's position in the publish lifecycle.
type State string

const (
	StatePending    State = "pending"
	StateSkipped    State = "skipped"
	StateBuilding   State = "building"
	StateBuilt      State = "built"
	StatePublishing State = "publishing"
	StatePublished  State = "published"
	StateFailed     State = "failed"
	StateReported   State = "reported"
)

var transitions = map[State][]State{
	StatePending:    {StateSkipped, StateBuilding},
	StateBuilding:   {StateBuilt, StateFailed},
	StateBuilt:      {StatePublishing},
	StatePublishing: {StatePublished, StateFailed},
	StateSkipped:    {StateReported},
	StateFailed:     {StateReported},
	StatePublished:  {StateReported},
}

// Terminal reports whether s is a settled outcome awaiting its report.
func (s State) Terminal() bool {
	return s == StateSkipped || s == StateFailed || s == StatePublished
}

// Machine tracks one unit's state and rejects transitions the lifecycle
// does not allow.
type Machine struct {
	mu      sync.Mutex
	current State
	history []State
}

// NewMachine starts in StatePending.
func NewMachine() *Machine {
	return &Machine{current: StatePending, history: []State{StatePending}}
}

// Current returns the present state.
func (m *Machine) Current() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current
}

// History returns every state visited, in order.
func (m *Machine) History() []State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]State(nil), m.history...)
}

// To moves the machine to next.
func (m *Machine) To(next State) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, allowed := range transitions[m.current] {
		if allowed == next {
			m.current = next
			m.history = append(m.history, next)
			return nil
		}
	}
	return fmt.Errorf("invalid state transition %s -> %s", m.current, next)
}
