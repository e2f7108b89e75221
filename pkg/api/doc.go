// Package api exposes the reconciler and the token ledger over HTTP.
//
// Routes:
//
//	GET  /health/live              liveness check
//	GET  /health/ready             readiness check
//	GET  /metrics                  prometheus metrics
//	GET  /billing/callback         merchant return from the approval page
//	POST /billing/webhook          billing authority notifications
//	GET  /billing/plans            public plans
//	GET  /billing/subscription     tenant entitlement
//	POST /billing/subscribe        request a plan approval
//	POST /billing/activate         request an end-of-trial approval
//	POST /billing/cancel           cancel the subscription
//	GET  /billing/tokens           tenant token balance
//
// Tenant routes read the tenant from the X-Tenant-ID header, which an
// authenticating proxy in front of the service is expected to set.
//
// The webhook endpoint accepts Paddle notifications (Paddle-Signature header)
// when a Paddle parser is configured, and HMAC-signed JSON notifications
// (pkg/webhook scheme) otherwise. It answers 200 for stale references,
// unknown tenants and ignored events so the authority stops retrying them.
package api
