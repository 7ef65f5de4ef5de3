package engine

import (
	"fmt"
	"slices"
)

// State is a kind-specific lifecycle state.
type State string

// StateRemoved is the pseudo-state a record reaches when it leaves the
// registry. It only appears as a transition target.
const StateRemoved State = "removed"

// StateMachine holds the legal transitions of one resource kind.
type StateMachine struct {
	kind    Kind
	initial State
	edges   map[State][]State
	sinks   map[State]bool
}

// NewStateMachine builds a state machine for kind. Edges maps each state to
// the states it may move to. States with no outgoing edges are sinks.
func NewStateMachine(kind Kind, initial State, edges map[State][]State) *StateMachine {
	sm := &StateMachine{
		kind:    kind,
		initial: initial,
		edges:   make(map[State][]State, len(edges)),
		sinks:   make(map[State]bool),
	}
	for from, tos := range edges {
		sm.edges[from] = slices.Clone(tos)
		for _, to := range tos {
			if _, ok := edges[to]; !ok && to != StateRemoved {
				sm.sinks[to] = true
			}
		}
	}
	return sm
}

// Kind returns the resource kind this machine governs.
func (m *StateMachine) Kind() Kind {
	return m.kind
}

// Initial returns the state every new record starts in.
func (m *StateMachine) Initial() State {
	return m.initial
}

// Allows reports whether from -> to is a legal edge.
func (m *StateMachine) Allows(from, to State) bool {
	return slices.Contains(m.edges[from], to)
}

// IsSink reports whether no transition leaves s.
func (m *StateMachine) IsSink(s State) bool {
	return m.sinks[s]
}

// Known reports whether s belongs to this machine.
func (m *StateMachine) Known(s State) bool {
	if _, ok := m.edges[s]; ok {
		return true
	}
	return m.sinks[s]
}

// Transition checks from -> to and returns InvalidStateTransition for an
// illegal edge.
func (m *StateMachine) Transition(resource string, from, to State) error {
	if !m.Known(from) {
		return NewInvalidTransitionError(m.kind, resource, from, to).
			WithDetail("reason", fmt.Sprintf("unknown state %q", from))
	}
	if !m.Allows(from, to) {
		return NewInvalidTransitionError(m.kind, resource, from, to)
	}
	return nil
}

// Walk checks a chain of transitions starting at from and returns the final
// state. Synchronous operations use it to pass through transient states.
func (m *StateMachine) Walk(resource string, from State, path ...State) (State, error) {
	cur := from
	for _, next := range path {
		if err := m.Transition(resource, cur, next); err != nil {
			return from, err
		}
		cur = next
	}
	return cur, nil
}
