// Package subscription reconciles the subscription state of tenants with an
// external billing authority.
//
// A tenant's Record holds the committed plan and status plus at most one
// outstanding Intent: a requested plan change or a requested end of trial.
// The intent is tied to the billing reference of the approval that backs it.
// Confirmations, whether they come from the merchant returning to the app
// (HandleCallback), from a pushed notification (HandleWebhook) or from a
// direct call (Confirm), are merged only when their reference equals the
// record's current one. A confirmation for any other reference is stale and
// changes nothing, which makes the reconciler independent of delivery order.
//
// # Lifecycle
//
//	pending   -> active | cancelled
//	active    -> active | cancelled | expired
//	expired   -> active | cancelled
//	cancelled -> active
//
// A trial starts when the first approval carrying trial days is confirmed.
// Activation ends the trial for good: ActivatedAt is written once and never
// changes afterwards.
//
// # Exemptions
//
// An ExemptionFunc marks tenants that never pay. EnsureExempt, which every
// entry point runs first, forces such tenants to active on the top plan,
// cancels their upstream references and tops their token balance up to the
// top plan allotment.
//
// # Usage
//
//	svc, err := subscription.NewService(ctx,
//		subscription.NewYAMLFileSource("plans.yaml"),
//		paddleAuthority,
//		store,
//		ledger,
//		subscription.WithLogger(log),
//		subscription.WithExemption(subscription.ExemptList("internal")),
//	)
//	if err != nil {
//		return err
//	}
//
//	approval, err := svc.Subscribe(ctx, tenantID, "pro", subscription.SubscribeOptions{})
//	// redirect the merchant to approval.ApprovalURL
//
// Persistence goes through pkg/kv, so records live in any of its stores.
package subscription
