package subscription

import "errors"

var (
	// ErrStaleReference marks a confirmation for a superseded external reference.
	// Confirmers treat it as success.
	ErrStaleReference = errors.New("subscription: stale external reference")
	// ErrCollaboratorUnavailable means a billing authority call failed and nothing was committed.
	ErrCollaboratorUnavailable = errors.New("subscription: billing authority unavailable")
	// ErrInvariantViolation means a change was rejected because it would break a record invariant.
	ErrInvariantViolation = errors.New("subscription: invariant violation")

	ErrRecordNotFound      = errors.New("subscription: record not found")
	ErrStoreUnavailable    = errors.New("subscription: record store unavailable")
	ErrTenantExempt        = errors.New("subscription: tenant is exempt from billing")
	ErrAlreadyActivated    = errors.New("subscription: already activated")
	ErrAlreadyOnPlan       = errors.New("subscription: already subscribed to this plan")
	ErrNothingToActivate   = errors.New("subscription: no confirmed plan to activate")
	ErrConcurrentChange    = errors.New("subscription: record changed while the billing call was in flight")
	ErrMissingTenantID     = errors.New("subscription: tenant ID is required")
	ErrMissingReference    = errors.New("subscription: external reference is required")
	ErrUnknownRefStatus    = errors.New("subscription: unknown reference status")
	ErrEmptyApproval       = errors.New("subscription: billing authority returned no reference")
	ErrInvalidTransition   = errors.New("subscription: invalid status transition")
	ErrFailedToGrantTokens = errors.New("subscription: failed to update token ledger")

	ErrPlanNotFound             = errors.New("subscription: plan not found")
	ErrInvalidPlanConfiguration = errors.New("subscription: invalid plan configuration")
	ErrFailedToLoadPlans        = errors.New("subscription: failed to load plans")
)

// IsStale reports whether err is a stale-reference no-op.
func IsStale(err error) bool {
	return errors.Is(err, ErrStaleReference)
}
