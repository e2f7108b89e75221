package statemachine_test

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/tierkit/pkg/statemachine"
)

const (
	pending   = statemachine.StringState("pending")
	active    = statemachine.StringState("active")
	cancelled = statemachine.StringState("cancelled")
	expired   = statemachine.StringState("expired")

	confirm = statemachine.StringEvent("confirm")
	cancel  = statemachine.StringEvent("cancel")
	fail    = statemachine.StringEvent("payment_failed")
)

func buildMachine(t *testing.T) statemachine.Machine {
	t.Helper()
	m, err := statemachine.NewBuilder().
		From(pending).When(confirm).To(active).Add().
		From(pending).When(cancel).To(cancelled).Add().
		From(active).When(cancel).To(cancelled).Add().
		From(active).When(fail).To(expired).Add().
		Build()
	require.NoError(t, err)
	return m
}

func TestMachine_Next(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	m := buildMachine(t)

	to, err := m.Next(ctx, pending, confirm, nil)
	require.NoError(t, err)
	assert.Equal(t, active, to)

	to, err = m.Next(ctx, active, fail, nil)
	require.NoError(t, err)
	assert.Equal(t, expired, to)

	_, err = m.Next(ctx, cancelled, fail, nil)
	assert.True(t, statemachine.IsNoTransitionAvailableError(err))

	_, err = m.Next(ctx, nil, fail, nil)
	assert.ErrorIs(t, err, statemachine.ErrInvalidState)

	_, err = m.Next(ctx, active, nil, nil)
	assert.ErrorIs(t, err, statemachine.ErrInvalidEvent)
}

func TestMachine_Guards(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	isExempt := func(_ context.Context, _ statemachine.State, _ statemachine.Event, data any) bool {
		exempt, _ := data.(bool)
		return exempt
	}

	m, err := statemachine.NewBuilder().
		From(active).When(cancel).To(active).WithGuard(isExempt).Add().
		From(active).When(cancel).To(cancelled).Add().
		From(expired).When(confirm).To(active).WithGuard(isExempt).Add().
		Build()
	require.NoError(t, err)

	to, err := m.Next(ctx, active, cancel, true)
	require.NoError(t, err)
	assert.Equal(t, active, to, "first matching candidate wins")

	to, err = m.Next(ctx, active, cancel, false)
	require.NoError(t, err)
	assert.Equal(t, cancelled, to)

	_, err = m.Next(ctx, expired, confirm, false)
	assert.True(t, statemachine.IsTransitionRejectedError(err))
	assert.False(t, m.Can(ctx, expired, confirm, false))
	assert.True(t, m.Can(ctx, expired, confirm, true))
}

func TestMachine_Events(t *testing.T) {
	t.Parallel()
	m := buildMachine(t)
	assert.Equal(t, []statemachine.Event{cancel, fail}, m.Events(active))
	assert.Empty(t, m.Events(expired))
}

func TestBuilder_InvalidTransition(t *testing.T) {
	t.Parallel()
	_, err := statemachine.NewBuilder().From(pending).To(active).Add().Build()
	assert.ErrorIs(t, err, statemachine.ErrInvalidTransition)

	assert.Panics(t, func() {
		statemachine.NewBuilder().When(confirm).To(active).Add().MustBuild()
	})
}

func TestMachine_ConcurrentUse(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	m := buildMachine(t)

	var wg sync.WaitGroup
	for range 64 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			to, err := m.Next(ctx, pending, confirm, nil)
			assert.NoError(t, err)
			assert.Equal(t, active, to)
		}()
	}
	wg.Wait()
}
