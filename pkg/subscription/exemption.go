package subscription

import (
	"context"
	"slices"
	"strings"
)

// ExemptionFunc reports whether a tenant is exempt from billing.
// It must be pure and cheap: it runs at the top of every entry point.
type ExemptionFunc func(ctx context.Context, tenantID string) bool

// NoExemptions exempts nobody.
func NoExemptions(context.Context, string) bool { return false }

// ExemptList exempts the given tenant ids. Matching ignores case and surrounding spaces.
func ExemptList(ids ...string) ExemptionFunc {
	set := make([]string, 0, len(ids))
	for _, id := range ids {
		if id = strings.ToLower(strings.TrimSpace(id)); id != "" {
			set = append(set, id)
		}
	}
	slices.Sort(set)
	set = slices.Compact(set)

	return func(_ context.Context, tenantID string) bool {
		_, found := slices.BinarySearch(set, strings.ToLower(strings.TrimSpace(tenantID)))
		return found
	}
}

// AnyExempt combines predicates with OR.
func AnyExempt(fns ...ExemptionFunc) ExemptionFunc {
	return func(ctx context.Context, tenantID string) bool {
		for _, fn := range fns {
			if fn != nil && fn(ctx, tenantID) {
				return true
			}
		}
		return false
	}
}
