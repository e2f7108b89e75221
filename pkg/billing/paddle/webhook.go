package paddle

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/dmitrymomot/tierkit/pkg/subscription"
)

// SignatureHeader carries the Paddle webhook signature.
const SignatureHeader = "Paddle-Signature"

const maxWebhookBody = 1 << 20

type notification struct {
	EventID   string `json:"event_id"`
	EventType string `json:"event_type"`
	Data      struct {
		ID             string         `json:"id"`
		Status         string         `json:"status"`
		SubscriptionID string         `json:"subscription_id"`
		TransactionID  string         `json:"transaction_id"`
		CustomData     map[string]any `json:"custom_data"`
	} `json:"data"`
}

// ParseWebhook verifies r and normalizes the notification it carries.
// Notifications that do not change subscription state return
// ErrIgnoredEvent; callers should acknowledge them.
//
// The transaction id is the billing reference. Subscription notifications
// are mapped to the checkout transaction that created the subscription.
func (p *Provider) ParseWebhook(r *http.Request) (*subscription.WebhookEvent, error) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil {
		return nil, errors.Join(ErrInvalidPayload, err)
	}
	r.Body = io.NopCloser(bytes.NewReader(body))

	valid, err := p.verifier.Verify(r)
	if err != nil {
		return nil, errors.Join(ErrInvalidSignature, err)
	}
	if !valid {
		return nil, ErrInvalidSignature
	}

	ev, subID, err := parseNotification(body)
	if err != nil {
		return nil, err
	}
	if ev.ReferenceID == "" {
		ref, err := p.origins.OriginTransaction(r.Context(), subID)
		switch {
		case errors.Is(err, ErrNoOriginTransaction):
			return nil, errors.Join(ErrIgnoredEvent, err)
		case err != nil:
			return nil, errors.Join(ErrOriginLookup, err)
		}
		ev.ReferenceID = ref
	}
	return ev, nil
}

// parseNotification maps a notification to an event. For subscription
// notifications without a transaction id the reference is left empty and
// the subscription id is returned for lookup.
func parseNotification(body []byte) (*subscription.WebhookEvent, string, error) {
	var n notification
	if err := json.Unmarshal(body, &n); err != nil {
		return nil, "", errors.Join(ErrInvalidPayload, err)
	}

	ev := &subscription.WebhookEvent{Kind: subscription.EventStatusChanged}
	if tenant, ok := n.Data.CustomData[KeyTenantID].(string); ok {
		ev.TenantID = tenant
	}

	if strings.HasPrefix(n.EventType, "subscription.") {
		switch n.EventType {
		case "subscription.created", "subscription.activated", "subscription.resumed":
			ev.Status = subscription.RefActive
		case "subscription.canceled", "subscription.paused":
			ev.Status = subscription.RefCancelled
		case "subscription.past_due":
			ev.Kind = subscription.EventPaymentFailed
		default:
			return nil, "", fmt.Errorf("%w: %s", ErrIgnoredEvent, n.EventType)
		}
		if n.Data.ID == "" || ev.TenantID == "" {
			return nil, "", fmt.Errorf("%w: %s without subscription id or tenant", ErrInvalidPayload, n.EventType)
		}
		ev.ReferenceID = n.Data.TransactionID
		return ev, n.Data.ID, nil
	}

	ev.ReferenceID = n.Data.ID
	switch n.EventType {
	case "transaction.completed", "transaction.paid":
		ev.Status = subscription.RefActive
	case "transaction.canceled":
		ev.Status = subscription.RefCancelled
	case "transaction.payment_failed":
		ev.Kind = subscription.EventPaymentFailed
	case "transaction.created", "transaction.ready", "transaction.billed", "transaction.updated":
		ev.Status = subscription.RefPending
	default:
		return nil, "", fmt.Errorf("%w: %s", ErrIgnoredEvent, n.EventType)
	}

	if ev.ReferenceID == "" || ev.TenantID == "" {
		return nil, "", fmt.Errorf("%w: %s without transaction id or tenant", ErrInvalidPayload, n.EventType)
	}
	return ev, "", nil
}
