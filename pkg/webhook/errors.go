package webhook

import "errors"

var (
	ErrInvalidConfiguration = errors.New("webhook: invalid configuration")
	ErrInvalidPayload       = errors.New("webhook: invalid payload")
	ErrMissingSignature     = errors.New("webhook: missing signature headers")
	ErrInvalidSignature     = errors.New("webhook: signature mismatch")
	// ErrExpiredSignature rejects replays outside the accepted time window.
	ErrExpiredSignature = errors.New("webhook: signature timestamp outside accepted window")
)
