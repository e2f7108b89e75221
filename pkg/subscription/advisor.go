package subscription

import (
	"context"

	"github.com/dmitrymomot/tierkit/pkg/kv"
)

// NewUpgradeAdvisor reports whether a plan above the tenant's current one
// includes enough tokens to cover required. It reads the stored record only
// and never triggers the exemption overlay. Tenants without a record are
// compared against an empty plan, so any plan counts as an upgrade.
func NewUpgradeAdvisor(catalog *Catalog, store kv.Store) func(ctx context.Context, tenantID string, required int64) bool {
	if catalog == nil || store == nil {
		panic("subscription: catalog and store are required")
	}
	return func(ctx context.Context, tenantID string, required int64) bool {
		cur, err := kv.Load[Record](ctx, store, Key(tenantID))
		if err != nil {
			return false
		}
		if cur.Value.IsExempt {
			return false
		}
		return catalog.upgradeCovers(cur.Value.Plan, required)
	}
}
