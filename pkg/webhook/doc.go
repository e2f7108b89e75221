// Package webhook signs and verifies HMAC-SHA256 webhook notifications.
//
// A signed notification carries three headers: X-Webhook-Signature (hex
// HMAC-SHA256 of "<timestamp>.<payload>"), X-Webhook-Timestamp (unix seconds)
// and X-Webhook-ID (a UUID for deduplication). Binding the timestamp into the
// signature lets receivers reject replays with a max age.
//
// Receivers verify a request in one call:
//
//	body, err := webhook.VerifyRequest(r, secret, 5*time.Minute)
//	if err != nil {
//		http.Error(w, "invalid signature", http.StatusUnauthorized)
//		return
//	}
//
// Senders sign with SignPayload and copy the result onto the request:
//
//	sig, err := webhook.SignPayload(secret, body)
//	if err != nil {
//		return err
//	}
//	sig.Apply(req.Header)
package webhook
