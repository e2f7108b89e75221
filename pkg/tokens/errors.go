package tokens

import (
	"errors"
	"fmt"
)

var (
	ErrInsufficientBalance = errors.New("tokens: insufficient balance")
	ErrReservationNotFound = errors.New("tokens: reservation not found")
	ErrReservationSettled  = errors.New("tokens: reservation already settled")
	ErrInvalidAmount       = errors.New("tokens: amount must be positive")
	ErrEmptyTenant         = errors.New("tokens: tenant id is required")
	ErrEmptyReference      = errors.New("tokens: charge reference is required")
	ErrInvariantViolation  = errors.New("tokens: balance invariant violated")
	ErrStoreUnavailable    = errors.New("tokens: balance store unavailable")
)

// InsufficientBalanceError is returned by Reserve when the balance cannot cover the amount.
// Nothing is reserved when it is returned.
type InsufficientBalanceError struct {
	Required  int64
	Available int64
	Shortfall int64
	// ResolvableByUpgrade is true when a higher plan's included allotment covers Required.
	// A direct purchase of Shortfall tokens always resolves it.
	ResolvableByUpgrade bool
}

func (e *InsufficientBalanceError) Error() string {
	return fmt.Sprintf("tokens: insufficient balance: required %d, available %d, shortfall %d",
		e.Required, e.Available, e.Shortfall)
}

func (e *InsufficientBalanceError) Unwrap() error { return ErrInsufficientBalance }

// AsInsufficientBalance extracts the typed error from err.
func AsInsufficientBalance(err error) (*InsufficientBalanceError, bool) {
	var e *InsufficientBalanceError
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// isTerminal reports errors that no amount of retrying can fix.
func isTerminal(err error) bool {
	return errors.Is(err, ErrReservationNotFound) ||
		errors.Is(err, ErrReservationSettled) ||
		errors.Is(err, ErrInvalidAmount) ||
		errors.Is(err, ErrEmptyTenant) ||
		errors.Is(err, ErrInvariantViolation)
}
