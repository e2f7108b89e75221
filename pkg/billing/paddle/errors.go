package paddle

import "errors"

var (
	ErrMissingAPIKey        = errors.New("paddle: API key is required")
	ErrMissingWebhookSecret = errors.New("paddle: webhook secret is required")
	ErrInvalidEnvironment   = errors.New("paddle: invalid environment")
	ErrNoCheckoutURL        = errors.New("paddle: no checkout URL returned")
	ErrInvalidSignature     = errors.New("paddle: webhook signature verification failed")
	ErrInvalidPayload       = errors.New("paddle: invalid webhook payload")
	ErrNoOriginTransaction  = errors.New("paddle: subscription has no checkout transaction")
	ErrOriginLookup         = errors.New("paddle: checkout transaction lookup failed")
	// ErrIgnoredEvent marks notifications that carry no subscription state.
	ErrIgnoredEvent = errors.New("paddle: event ignored")
)
