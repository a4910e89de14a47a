// Package session holds the per-agent selection state: the editor state
// machine and the store of selected elements. One Session's worth of state
// exists per embedded page; nothing here is ambient or global.
package session

import "sync"

// State is the editor state visible to the host application.
type State string

const (
	// StateInitializing is the startup state, before listeners are attached.
	StateInitializing State = "initializing"
	// StateReady means the agent is attached and idle.
	StateReady State = "ready"
	// StateElementSelection means clicks and hovers inside the page are
	// intercepted to drive selection.
	StateElementSelection State = "element-selection"
)

// Machine is the editor state machine. Transitions are cyclic and
// parent-driven; there is no terminal state. The Initializing→Ready
// transition is internal, everything else follows inbound commands.
type Machine struct {
	mu    sync.RWMutex
	state State
}

// NewMachine starts in StateInitializing.
func NewMachine() *Machine {
	return &Machine{state: StateInitializing}
}

// Current returns the current state.
func (m *Machine) Current() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state
}

// Set moves to s and reports whether the state actually changed.
func (m *Machine) Set(s State) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state == s {
		return false
	}
	m.state = s
	return true
}

// InSelection reports whether interaction listeners should intercept.
func (m *Machine) InSelection() bool {
	return m.Current() == StateElementSelection
}
