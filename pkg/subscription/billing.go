package subscription

import "context"

// CreateRequest asks the billing authority for a new approval.
type CreateRequest struct {
	TenantID  string
	Plan      Plan
	TrialDays int
	// ReturnURL is where the merchant lands after approving or declining.
	ReturnURL string
}

// Approval is an outstanding approval issued by the billing authority.
type Approval struct {
	ReferenceID string `json:"reference_id"`
	ApprovalURL string `json:"approval_url"`
}

// BillingAuthority is the external system that bills tenants.
// Implementations wrap a provider SDK; see pkg/billing.
type BillingAuthority interface {
	CreateSubscription(ctx context.Context, req CreateRequest) (*Approval, error)
	GetSubscriptionStatus(ctx context.Context, ref string) (RefStatus, error)
	// CancelSubscription returns false when there was nothing to cancel.
	CancelSubscription(ctx context.Context, ref string) (bool, error)
}

// ReferenceLister is implemented by authorities that can list a tenant's
// live references, so activation can cancel ones the record no longer knows.
type ReferenceLister interface {
	ActiveReferences(ctx context.Context, tenantID string) ([]string, error)
}

// TokenGranter is the part of the token ledger the reconciler drives.
type TokenGranter interface {
	SetIncludedTokens(ctx context.Context, tenantID string, amount int64, plan, ref string) error
	Grant(ctx context.Context, tenantID string, amount int64, reason string) error
}

// EventKind distinguishes webhook notifications.
type EventKind string

const (
	EventStatusChanged EventKind = "status_changed"
	EventPaymentFailed EventKind = "payment_failed"
)

// WebhookEvent is an asynchronous push from the billing authority, normalized by the transport.
type WebhookEvent struct {
	Kind        EventKind
	TenantID    string
	ReferenceID string
	Status      RefStatus
}

// CallbackParams is the synchronous redirect return. Plan and ReferenceID may be empty.
type CallbackParams struct {
	TenantID    string
	Plan        string
	ReferenceID string
}
