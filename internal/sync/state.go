package sync

import (
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/tgarc/tgarc/internal/bus"
)

// State represents a phase of one sync run.
type State string

const (
	Start       State = "START"
	Fetching    State = "FETCH_BATCH"
	RateLimited State = "RATE_LIMITED"
	Normalizing State = "NORMALIZE"
	Persisting  State = "PERSIST"
	Done        State = "DONE"
	Aborted     State = "ABORTED"
)

// validTransitions defines allowed state transitions. Done and Aborted
// are terminal.
var validTransitions = map[State][]State{
	Start:       {Fetching, Done, Aborted},
	Fetching:    {Normalizing, RateLimited, Done, Aborted},
	RateLimited: {Fetching, Aborted},
	Normalizing: {Persisting, Aborted},
	Persisting:  {Fetching, Done, Aborted},
	Done:        {},
	Aborted:     {},
}

// Machine tracks and enforces the run's state transitions.
type Machine struct {
	mu      sync.RWMutex
	current State
	bus     *bus.Bus
}

// NewMachine creates a state machine starting in Start.
func NewMachine(b *bus.Bus) *Machine {
	return &Machine{current: Start, bus: b}
}

// Current returns the current state.
func (m *Machine) Current() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current
}

// Transition attempts to move to a new state. Returns an error if the
// transition is invalid.
func (m *Machine) Transition(to State) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !slices.Contains(validTransitions[m.current], to) {
		return fmt.Errorf("invalid transition from %s to %s", m.current, to)
	}
	from := m.current
	m.current = to
	if m.bus != nil {
		m.bus.Publish(bus.Event{
			Kind:      "sync.state_changed",
			Timestamp: time.Now(),
			Payload:   StateChange{From: from, To: to},
		})
	}
	return nil
}

// StateChange is the payload for sync.state_changed events.
type StateChange struct {
	From State
	To   State
}
