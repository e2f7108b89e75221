// Package billing groups billing authority adapters for the subscription reconciler.
//
// Subpackages:
//
//   - paddle: adapter over the Paddle Billing API and its webhooks
//   - fake: in-memory authority for tests and local development
package billing
