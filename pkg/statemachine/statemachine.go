package statemachine

import "context"

// State is a named state.
type State interface {
	Name() string
}

// Event is a named trigger.
type Event interface {
	Name() string
}

// Guard decides at runtime whether a transition applies.
type Guard func(ctx context.Context, from State, event Event, data any) bool

// Transition moves From to To on Event when every guard passes.
type Transition struct {
	From   State
	To     State
	Event  Event
	Guards []Guard
}

// Machine resolves transitions without holding any current state.
// The caller owns the state (usually a persisted record), so one Machine is
// shared by every tenant and is safe for concurrent use once built.
type Machine interface {
	// Next returns the target state for event fired from `from`.
	Next(ctx context.Context, from State, event Event, data any) (State, error)
	// Can reports whether Next would succeed.
	Can(ctx context.Context, from State, event Event, data any) bool
	// Events lists events with at least one transition out of from.
	Events(from State) []Event
}

// StringState is a string-backed State.
type StringState string

func (s StringState) Name() string { return string(s) }

// StringEvent is a string-backed Event.
type StringEvent string

func (e StringEvent) Name() string { return string(e) }
