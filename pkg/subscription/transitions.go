package subscription

import (
	"context"
	"errors"
	"fmt"

	"github.com/dmitrymomot/tierkit/pkg/statemachine"
)

const (
	eventActivate statemachine.StringEvent = "activate"
	eventCancel   statemachine.StringEvent = "cancel"
	eventExpire   statemachine.StringEvent = "expire"
	eventExempt   statemachine.StringEvent = "exempt"
)

func state(s Status) statemachine.State { return statemachine.StringState(s) }

// lifecycle holds every legal status change. Plan changes and activations on
// an active record are active -> active.
var lifecycle = statemachine.NewBuilder().
	From(state(StatusPending)).When(eventActivate).To(state(StatusActive)).Add().
	From(state(StatusPending)).When(eventCancel).To(state(StatusCancelled)).Add().
	From(state(StatusActive)).When(eventActivate).To(state(StatusActive)).Add().
	From(state(StatusActive)).When(eventCancel).To(state(StatusCancelled)).Add().
	From(state(StatusActive)).When(eventExpire).To(state(StatusExpired)).Add().
	From(state(StatusExpired)).When(eventActivate).To(state(StatusActive)).Add().
	From(state(StatusExpired)).When(eventCancel).To(state(StatusCancelled)).Add().
	From(state(StatusCancelled)).When(eventActivate).To(state(StatusActive)).Add().
	From(state(StatusPending)).When(eventExempt).To(state(StatusActive)).Add().
	From(state(StatusActive)).When(eventExempt).To(state(StatusActive)).Add().
	From(state(StatusExpired)).When(eventExempt).To(state(StatusActive)).Add().
	From(state(StatusCancelled)).When(eventExempt).To(state(StatusActive)).Add().
	MustBuild()

// nextStatus resolves event from the current status.
func nextStatus(from Status, event statemachine.Event) (Status, error) {
	to, err := lifecycle.Next(context.Background(), state(from), event, nil)
	if err != nil {
		return from, errors.Join(ErrInvariantViolation, ErrInvalidTransition,
			fmt.Errorf("%s on %s: %w", event.Name(), from, err))
	}
	return Status(to.Name()), nil
}

// canTransition reports whether event is legal from status.
func canTransition(from Status, event statemachine.Event) bool {
	return lifecycle.Can(context.Background(), state(from), event, nil)
}
