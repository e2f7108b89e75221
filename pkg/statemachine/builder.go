package statemachine

import "errors"

// Builder collects transitions with a fluent API.
//
//	m, err := statemachine.NewBuilder().
//	    From(pending).When(confirm).To(active).Add().
//	    From(active).When(cancel).To(cancelled).Add().
//	    Build()
type Builder struct {
	table *table
	cur   Transition
	errs  []error
}

// NewBuilder creates an empty builder.
func NewBuilder() *Builder {
	return &Builder{table: newTable()}
}

// From starts a new transition.
func (b *Builder) From(state State) *Builder {
	b.cur = Transition{From: state}
	return b
}

// When sets the triggering event.
func (b *Builder) When(event Event) *Builder {
	b.cur.Event = event
	return b
}

// To sets the target state.
func (b *Builder) To(state State) *Builder {
	b.cur.To = state
	return b
}

// WithGuard adds a guard to the current transition.
func (b *Builder) WithGuard(g Guard) *Builder {
	b.cur.Guards = append(b.cur.Guards, g)
	return b
}

// Add finalizes the current transition. Errors are reported by Build.
func (b *Builder) Add() *Builder {
	if err := b.table.add(b.cur); err != nil {
		b.errs = append(b.errs, err)
	}
	b.cur = Transition{}
	return b
}

// Build returns the machine or every error collected while adding transitions.
func (b *Builder) Build() (Machine, error) {
	if len(b.errs) > 0 {
		return nil, errors.Join(b.errs...)
	}
	return b.table, nil
}

// MustBuild is Build that panics on error, for package-level machines.
func (b *Builder) MustBuild() Machine {
	m, err := b.Build()
	if err != nil {
		panic(err)
	}
	return m
}
