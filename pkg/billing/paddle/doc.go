// Package paddle implements subscription.BillingAuthority on top of the
// Paddle Billing API.
//
// An approval is a Paddle transaction created from the plan's catalog price.
// The transaction id is the billing reference and its checkout URL is the
// approval URL. The transaction carries custom data (tenant_id, plan_id and
// trial_days) so webhooks can be routed back to the tenant.
//
// Configuration is read from PADDLE_API_KEY, PADDLE_WEBHOOK_SECRET and
// PADDLE_ENVIRONMENT (production or sandbox):
//
//	var cfg paddle.Config
//	if err := config.Load(&cfg); err != nil {
//	    return err
//	}
//	provider, err := paddle.New(cfg)
//
// When the requested trial differs from the catalog price's trial, the
// transaction carries a non-catalog copy of the price with the requested
// trial period.
//
// ParseWebhook verifies the Paddle-Signature header and normalizes
// transaction and subscription notifications into subscription.WebhookEvent
// values. Subscription notifications are routed by the tenant_id custom data
// and the checkout transaction that created the subscription.
package paddle
