package statemachine

import (
	"context"
	"slices"
)

// table indexes transitions as [from][event] -> candidates in declaration order.
type table struct {
	transitions map[string]map[string][]Transition
	order       map[string][]Event
}

func newTable() *table {
	return &table{
		transitions: make(map[string]map[string][]Transition),
		order:       make(map[string][]Event),
	}
}

func (t *table) add(tr Transition) error {
	if tr.From == nil || tr.To == nil || tr.Event == nil {
		return ErrInvalidTransition
	}

	from, ev := tr.From.Name(), tr.Event.Name()
	if _, ok := t.transitions[from]; !ok {
		t.transitions[from] = make(map[string][]Transition)
	}
	if _, seen := t.transitions[from][ev]; !seen {
		t.order[from] = append(t.order[from], tr.Event)
	}
	// several candidates per from/event allow guard-based branching; first match wins
	t.transitions[from][ev] = append(t.transitions[from][ev], tr)
	return nil
}

func (t *table) Next(ctx context.Context, from State, event Event, data any) (State, error) {
	if from == nil {
		return nil, ErrInvalidState
	}
	if event == nil {
		return nil, ErrInvalidEvent
	}

	candidates := t.transitions[from.Name()][event.Name()]
	if len(candidates) == 0 {
		return nil, NewErrNoTransitionAvailable(from.Name(), event.Name())
	}

	for _, tr := range candidates {
		if passes(ctx, tr, from, event, data) {
			return tr.To, nil
		}
	}
	return nil, NewErrTransitionRejected(from.Name(), event.Name())
}

func (t *table) Can(ctx context.Context, from State, event Event, data any) bool {
	_, err := t.Next(ctx, from, event, data)
	return err == nil
}

func (t *table) Events(from State) []Event {
	if from == nil {
		return nil
	}
	return slices.Clone(t.order[from.Name()])
}

func passes(ctx context.Context, tr Transition, from State, event Event, data any) bool {
	for _, g := range tr.Guards {
		if g != nil && !g(ctx, from, event, data) {
			return false
		}
	}
	return true
}
