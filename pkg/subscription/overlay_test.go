package subscription_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/tierkit/pkg/billing/fake"
	"github.com/dmitrymomot/tierkit/pkg/kv"
	"github.com/dmitrymomot/tierkit/pkg/subscription"
)

func TestEnsureExempt(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	t.Run("forces top plan and cancels upstream", func(t *testing.T) {
		t.Parallel()
		h := newHarness(t)
		h.approve(t, h.subscribe(t, "pro", subscription.SubscribeOptions{}))
		h.exempt.Store(true)

		rec := h.get(t)
		assert.True(t, rec.IsExempt)
		assert.Equal(t, subscription.StatusActive, rec.Status)
		assert.Equal(t, "scale", rec.Plan)
		assert.Empty(t, rec.ExternalRef)
		assert.Empty(t, rec.ConfirmedRef)
		assert.True(t, rec.Intent.IsNone())
		assert.Equal(t, subscription.RefCancelled, h.auth.Status("ref-1"))
		assert.Equal(t, int64(20000), h.balance(t).Balance)

		ent, err := h.svc.Entitlement(ctx, shop)
		require.NoError(t, err)
		assert.True(t, ent.Exempt)
		assert.True(t, ent.Usable)
		assert.True(t, ent.HasFeature(subscription.FeatureAnalytics))
	})

	t.Run("idempotent", func(t *testing.T) {
		t.Parallel()
		h := newHarness(t)
		h.approve(t, h.subscribe(t, "pro", subscription.SubscribeOptions{}))
		h.exempt.Store(true)

		for range 3 {
			exempt, err := h.svc.EnsureExempt(ctx, shop)
			require.NoError(t, err)
			assert.True(t, exempt)
		}
		assert.Len(t, h.auth.Calls(fake.OpCancel), 1)
		before := h.get(t)
		_, err := h.svc.EnsureExempt(ctx, shop)
		require.NoError(t, err)
		assert.Equal(t, before, h.get(t))
		assert.Equal(t, int64(20000), h.balance(t).Balance)
	})

	t.Run("never lowers a larger balance", func(t *testing.T) {
		t.Parallel()
		h := newHarness(t)
		require.NoError(t, h.ledger.AddPurchased(ctx, shop, 50000, "charge-1"))
		h.exempt.Store(true)

		exempt, err := h.svc.EnsureExempt(ctx, shop)
		require.NoError(t, err)
		assert.True(t, exempt)
		assert.Equal(t, int64(50000), h.balance(t).Balance)
	})

	t.Run("creates a record for new tenants", func(t *testing.T) {
		t.Parallel()
		h := newHarness(t)
		h.exempt.Store(true)

		rec := h.get(t)
		assert.True(t, rec.IsExempt)
		assert.Equal(t, "scale", rec.Plan)
		assert.Equal(t, subscription.StatusActive, rec.Status)
		assert.Empty(t, h.auth.Calls())
	})

	t.Run("revives cancelled records", func(t *testing.T) {
		t.Parallel()
		h := newHarness(t)
		h.activated(t, "starter")
		_, err := h.svc.Cancel(ctx, shop)
		require.NoError(t, err)
		h.exempt.Store(true)

		rec := h.get(t)
		assert.Equal(t, subscription.StatusActive, rec.Status)
		assert.Nil(t, rec.CancelledAt)
		assert.NotNil(t, rec.ActivatedAt)
	})

	t.Run("blocks billing operations", func(t *testing.T) {
		t.Parallel()
		h := newHarness(t)
		h.exempt.Store(true)

		_, err := h.svc.Subscribe(ctx, shop, "pro", subscription.SubscribeOptions{})
		assert.ErrorIs(t, err, subscription.ErrTenantExempt)
		_, err = h.svc.Activate(ctx, shop, subscription.ActivateOptions{})
		assert.ErrorIs(t, err, subscription.ErrTenantExempt)
		_, err = h.svc.Cancel(ctx, shop)
		assert.ErrorIs(t, err, subscription.ErrTenantExempt)
		assert.Empty(t, h.auth.Calls(fake.OpCreate))
	})

	t.Run("confirmations are ignored", func(t *testing.T) {
		t.Parallel()
		h := newHarness(t)
		h.subscribe(t, "pro", subscription.SubscribeOptions{})
		h.exempt.Store(true)

		require.NoError(t, h.svc.HandleWebhook(ctx, subscription.WebhookEvent{
			Kind: subscription.EventStatusChanged, TenantID: shop, ReferenceID: "ref-1", Status: subscription.RefCancelled,
		}))
		require.NoError(t, h.svc.PaymentFailed(ctx, shop, "ref-1"))
		rec := h.get(t)
		assert.Equal(t, subscription.StatusActive, rec.Status)
		assert.Equal(t, "scale", rec.Plan)
	})

	t.Run("cancel failure commits nothing", func(t *testing.T) {
		t.Parallel()
		h := newHarness(t)
		h.approve(t, h.subscribe(t, "pro", subscription.SubscribeOptions{}))
		h.auth.Fail(fake.OpCancel, nil)
		h.exempt.Store(true)

		_, err := h.svc.EnsureExempt(ctx, shop)
		assert.ErrorIs(t, err, subscription.ErrCollaboratorUnavailable)

		stored, err := kv.Load[subscription.Record](ctx, h.store, subscription.Key(shop))
		require.NoError(t, err)
		assert.False(t, stored.Value.IsExempt)
		assert.Equal(t, "pro", stored.Value.Plan)
		assert.Equal(t, "ref-1", stored.Value.ExternalRef)

		h.auth.Recover()
		exempt, err := h.svc.EnsureExempt(ctx, shop)
		require.NoError(t, err)
		assert.True(t, exempt)
	})

	t.Run("revoked when the predicate turns false", func(t *testing.T) {
		t.Parallel()
		h := newHarness(t)
		h.exempt.Store(true)
		require.True(t, h.get(t).IsExempt)

		h.exempt.Store(false)
		exempt, err := h.svc.EnsureExempt(ctx, shop)
		require.NoError(t, err)
		assert.False(t, exempt)
		rec := h.get(t)
		assert.False(t, rec.IsExempt)

		ent, err := h.svc.Entitlement(ctx, shop)
		require.NoError(t, err)
		assert.False(t, ent.Usable, "no trial and no activation")

		ref := h.subscribe(t, "pro", subscription.SubscribeOptions{})
		assert.Equal(t, "ref-1", ref)
	})
}

func TestExemptList(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	fn := subscription.ExemptList(" Internal-Shop ", "demo", "", "demo")
	assert.True(t, fn(ctx, "internal-shop"))
	assert.True(t, fn(ctx, "DEMO"))
	assert.False(t, fn(ctx, "shop-1"))
	assert.False(t, fn(ctx, ""))

	combined := subscription.AnyExempt(nil, subscription.NoExemptions, subscription.ExemptList("vip"))
	assert.True(t, combined(ctx, "vip"))
	assert.False(t, combined(ctx, "demo"))
}

func TestTenantContext(t *testing.T) {
	t.Parallel()

	_, ok := subscription.GetTenantIDFromContext(context.Background())
	assert.False(t, ok)

	ctx := subscription.SetTenantIDToContext(context.Background(), shop)
	id, ok := subscription.GetTenantIDFromContext(ctx)
	assert.True(t, ok)
	assert.Equal(t, shop, id)

	attr, ok := subscription.TenantLogExtractor()(ctx)
	assert.True(t, ok)
	assert.Equal(t, shop, attr.Value.String())
}
