package engine

import (
	"errors"
	"testing"
)

func testMachine() *StateMachine {
	return NewStateMachine(KindInstance, "pending", map[State][]State{
		"pending": {"running", "terminated"},
		"running": {"stopped", "terminated"},
		"stopped": {"running", "terminated"},
	})
}

func TestStateMachine_Transition(t *testing.T) {
	sm := testMachine()

	tests := []struct {
		from, to State
		ok       bool
	}{
		{"pending", "running", true},
		{"running", "stopped", true},
		{"stopped", "stopped", false},
		{"terminated", "running", false},
		{"stopped", "terminated", true},
		{"bogus", "running", false},
	}
	for _, tt := range tests {
		err := sm.Transition("i-1", tt.from, tt.to)
		if tt.ok && err != nil {
			t.Errorf("%s -> %s: unexpected error %v", tt.from, tt.to, err)
		}
		if !tt.ok && !errors.Is(err, ErrInvalidStateTransition) {
			t.Errorf("%s -> %s: expected InvalidStateTransition, got %v", tt.from, tt.to, err)
		}
	}
}

func TestStateMachine_Sinks(t *testing.T) {
	sm := testMachine()
	if !sm.IsSink("terminated") {
		t.Error("terminated should be a sink")
	}
	if sm.IsSink("running") {
		t.Error("running should not be a sink")
	}
	if sm.Initial() != "pending" {
		t.Errorf("Initial() = %s", sm.Initial())
	}
}

func TestStateMachine_Walk(t *testing.T) {
	sm := testMachine()

	got, err := sm.Walk("i-1", "pending", "running", "stopped")
	if err != nil {
		t.Fatalf("Walk() error: %v", err)
	}
	if got != "stopped" {
		t.Errorf("Walk() = %s, want stopped", got)
	}

	got, err = sm.Walk("i-1", "pending", "stopped")
	if err == nil {
		t.Fatal("expected an error for an illegal hop")
	}
	if got != "pending" {
		t.Errorf("failed Walk should report the starting state, got %s", got)
	}
}
