package subscription

import (
	"fmt"
	"strings"
)

// Feature is a paid capability gated by plan and metered by tokens.
type Feature string

const (
	FeatureTranslate   Feature = "translate"
	FeatureDescribe    Feature = "describe"
	FeatureSEO         Feature = "seo"
	FeatureImageAltTag Feature = "image_alt"
	FeatureBulk        Feature = "bulk"
	FeatureAnalytics   Feature = "analytics"
)

// Money is an amount in the smallest currency unit, e.g. 1099 USD cents.
type Money struct {
	Amount   int64  `json:"amount" yaml:"amount"`
	Currency string `json:"currency" yaml:"currency"`
}

// BillingInterval is the billing frequency of a plan.
type BillingInterval string

const (
	BillingIntervalNone    BillingInterval = "none"
	BillingIntervalMonthly BillingInterval = "monthly"
	BillingIntervalAnnual  BillingInterval = "annual"
)

// Status is the lifecycle state of a subscription record.
type Status string

const (
	StatusPending   Status = "pending"
	StatusActive    Status = "active"
	StatusCancelled Status = "cancelled"
	StatusExpired   Status = "expired"
)

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusActive, StatusCancelled, StatusExpired:
		return true
	}
	return false
}

// RefStatus is what the billing authority reports for an external reference.
type RefStatus string

const (
	RefActive    RefStatus = "active"
	RefPending   RefStatus = "pending"
	RefCancelled RefStatus = "cancelled"
	RefNotFound  RefStatus = "not_found"
)

// ParseRefStatus accepts the canonical names and the EXISTS_* forms.
func ParseRefStatus(s string) (RefStatus, error) {
	switch strings.TrimPrefix(strings.ToLower(strings.TrimSpace(s)), "exists_") {
	case "active":
		return RefActive, nil
	case "pending":
		return RefPending, nil
	case "cancelled", "canceled":
		return RefCancelled, nil
	case "not_found", "notfound", "absent":
		return RefNotFound, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownRefStatus, s)
}

// terminal reports statuses that mean the approval will never become active.
func (s RefStatus) terminal() bool {
	return s == RefCancelled || s == RefNotFound
}
