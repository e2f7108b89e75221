package tokens_test

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/tierkit/pkg/kv"
	"github.com/dmitrymomot/tierkit/pkg/tokens"
)

const shop = "shop-1"

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newLedger(t *testing.T, opts ...tokens.Option) (tokens.Ledger, *clock) {
	t.Helper()
	c := &clock{now: time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)}
	var seq atomic.Int64
	base := []tokens.Option{
		tokens.WithClock(c.Now),
		tokens.WithIDGenerator(func() string { return fmt.Sprintf("res-%d", seq.Add(1)) }),
		tokens.WithRetryPolicy(kv.RetryPolicy{MaxAttempts: 1000, Backoff: kv.FixedBackoff{Interval: 100 * time.Microsecond}}),
	}
	return tokens.NewLedger(kv.NewMemoryStore(), append(base, opts...)...), c
}

func fund(t *testing.T, l tokens.Ledger, amount int64) {
	t.Helper()
	require.NoError(t, l.AddPurchased(context.Background(), shop, amount, fmt.Sprintf("ch-%d", amount)))
}

func balanceOf(t *testing.T, l tokens.Ledger) *tokens.Balance {
	t.Helper()
	b, err := l.Get(context.Background(), shop)
	require.NoError(t, err)
	return b
}

func TestNewLedger_PanicsWithoutStore(t *testing.T) {
	t.Parallel()
	assert.Panics(t, func() { tokens.NewLedger(nil) })
}

func TestReserve_InsufficientBalance(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	l, _ := newLedger(t)
	fund(t, l, 100)

	id, err := l.Reserve(ctx, shop, 110, "translate")
	require.Error(t, err)
	assert.Empty(t, id)
	assert.ErrorIs(t, err, tokens.ErrInsufficientBalance)

	ie, ok := tokens.AsInsufficientBalance(err)
	require.True(t, ok)
	assert.Equal(t, int64(110), ie.Required)
	assert.Equal(t, int64(100), ie.Available)
	assert.Equal(t, int64(10), ie.Shortfall)
	assert.False(t, ie.ResolvableByUpgrade)

	b := balanceOf(t, l)
	assert.Equal(t, int64(100), b.Balance)
	assert.Zero(t, b.OpenReservations())
}

func TestReserve_UpgradeHint(t *testing.T) {
	t.Parallel()
	l, _ := newLedger(t, tokens.WithUpgradeAdvisor(func(_ context.Context, tenant string, required int64) bool {
		return tenant == shop && required <= 5000
	}))
	fund(t, l, 100)

	_, err := l.Reserve(context.Background(), shop, 1000, "describe")
	ie, ok := tokens.AsInsufficientBalance(err)
	require.True(t, ok)
	assert.True(t, ie.ResolvableByUpgrade)
}

func TestReserveFinalize_ReturnsMargin(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	l, _ := newLedger(t)
	fund(t, l, 200)

	id, err := l.Reserve(ctx, shop, 110, "translate")
	require.NoError(t, err)

	b := balanceOf(t, l)
	assert.Equal(t, int64(90), b.Balance)
	assert.Equal(t, tokens.ReservationOpen, b.Reservations[id].Status)
	assert.Equal(t, int64(110), b.Reserved())

	require.NoError(t, l.Finalize(ctx, shop, id, 95))

	b = balanceOf(t, l)
	assert.Equal(t, int64(105), b.Balance)
	assert.Equal(t, tokens.ReservationFinalized, b.Reservations[id].Status)
	assert.Equal(t, int64(95), b.TotalUsed)
	require.Len(t, b.Usage, 1)
	assert.Equal(t, tokens.UsageEntry{
		ReservationID: id,
		Feature:       "translate",
		Reserved:      110,
		Actual:        95,
		Charged:       95,
		CreatedAt:     b.Usage[0].CreatedAt,
	}, b.Usage[0])
}

func TestReserveRefund_RoundTrip(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	l, _ := newLedger(t)
	fund(t, l, 250)

	id, err := l.Reserve(ctx, shop, 100, "describe")
	require.NoError(t, err)
	assert.Equal(t, int64(150), balanceOf(t, l).Balance)

	require.NoError(t, l.Refund(ctx, shop, id))

	b := balanceOf(t, l)
	assert.Equal(t, int64(250), b.Balance)
	assert.Equal(t, tokens.ReservationRefunded, b.Reservations[id].Status)
	assert.Zero(t, b.TotalUsed)
}

func TestFinalize_OverageIsNotCharged(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	l, _ := newLedger(t)
	fund(t, l, 200)

	id, err := l.Reserve(ctx, shop, 110, "translate")
	require.NoError(t, err)
	require.NoError(t, l.Finalize(ctx, shop, id, 180))

	b := balanceOf(t, l)
	assert.Equal(t, int64(90), b.Balance)
	assert.Equal(t, int64(110), b.TotalUsed)
	assert.Equal(t, int64(180), b.Usage[0].Actual)
	assert.Equal(t, int64(110), b.Usage[0].Charged)
}

func TestSettle_AtMostOnce(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	l, _ := newLedger(t)
	fund(t, l, 100)

	id, err := l.Reserve(ctx, shop, 50, "translate")
	require.NoError(t, err)
	require.NoError(t, l.Finalize(ctx, shop, id, 10))

	assert.ErrorIs(t, l.Finalize(ctx, shop, id, 10), tokens.ErrReservationSettled)
	assert.ErrorIs(t, l.Refund(ctx, shop, id), tokens.ErrReservationSettled)
	assert.ErrorIs(t, l.Refund(ctx, shop, "missing"), tokens.ErrReservationNotFound)
	assert.Equal(t, int64(90), balanceOf(t, l).Balance)
}

func TestLedger_InputValidation(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	l, _ := newLedger(t)

	_, err := l.Reserve(ctx, shop, 0, "x")
	assert.ErrorIs(t, err, tokens.ErrInvalidAmount)
	_, err = l.Reserve(ctx, "", 10, "x")
	assert.ErrorIs(t, err, tokens.ErrEmptyTenant)
	assert.ErrorIs(t, l.Finalize(ctx, shop, "r", -1), tokens.ErrInvalidAmount)
	assert.ErrorIs(t, l.AddPurchased(ctx, shop, 10, ""), tokens.ErrEmptyReference)
	assert.ErrorIs(t, l.AddPurchased(ctx, shop, -5, "ch"), tokens.ErrInvalidAmount)
	assert.ErrorIs(t, l.Grant(ctx, shop, -1, "promo"), tokens.ErrInvalidAmount)
}

func TestReserve_ConcurrentCallsNeverOverdraw(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	l, _ := newLedger(t)
	fund(t, l, 500)

	var (
		wg      sync.WaitGroup
		ok      atomic.Int64
		denied  atomic.Int64
		unknown atomic.Int64
	)
	for range 80 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := l.Reserve(ctx, shop, 10, "translate")
			switch {
			case err == nil:
				ok.Add(1)
			case assert.ErrorIs(t, err, tokens.ErrInsufficientBalance):
				denied.Add(1)
			default:
				unknown.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int64(50), ok.Load())
	assert.Equal(t, int64(30), denied.Load())
	assert.Zero(t, unknown.Load())

	b := balanceOf(t, l)
	assert.Zero(t, b.Balance)
	assert.Equal(t, int64(500), b.Reserved())
}

func TestAddPurchased_IdempotentOnChargeRef(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	l, _ := newLedger(t)

	require.NoError(t, l.AddPurchased(ctx, shop, 1000, "txn_1"))
	require.NoError(t, l.AddPurchased(ctx, shop, 1000, "txn_1"))
	require.NoError(t, l.AddPurchased(ctx, shop, 500, "txn_2"))

	b := balanceOf(t, l)
	assert.Equal(t, int64(1500), b.Balance)
	assert.Equal(t, int64(1500), b.TotalPurchased)
	assert.Len(t, b.Purchases, 2)
}

func TestSetIncludedTokens_ReplacesIncludedKeepsPurchased(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	l, _ := newLedger(t)

	fund(t, l, 100)
	require.NoError(t, l.SetIncludedTokens(ctx, shop, 500, "pro", "ref-1"))
	b := balanceOf(t, l)
	assert.Equal(t, int64(600), b.Balance)
	assert.Equal(t, int64(500), b.Included)
	assert.Equal(t, int64(100), b.Purchased())

	// usage draws from the included allotment first
	id, err := l.Reserve(ctx, shop, 200, "translate")
	require.NoError(t, err)
	require.NoError(t, l.Finalize(ctx, shop, id, 150))
	b = balanceOf(t, l)
	assert.Equal(t, int64(450), b.Balance)
	assert.Equal(t, int64(350), b.Included)

	// downgrade replaces the allotment, purchased tokens stay
	require.NoError(t, l.SetIncludedTokens(ctx, shop, 100, "starter", "ref-2"))
	b = balanceOf(t, l)
	assert.Equal(t, int64(200), b.Balance)
	assert.Equal(t, int64(100), b.Included)
	assert.Equal(t, int64(100), b.Purchased())

	// replayed confirmation is a no-op
	require.NoError(t, l.SetIncludedTokens(ctx, shop, 100, "starter", "ref-2"))
	b = balanceOf(t, l)
	assert.Equal(t, int64(200), b.Balance)
	assert.Equal(t, "starter", b.IncludedPlan)
	assert.Equal(t, "ref-2", b.IncludedRef)

	require.NoError(t, l.SetIncludedTokens(ctx, shop, 0, "free", "ref-3"))
	b = balanceOf(t, l)
	assert.Equal(t, int64(100), b.Balance)
	assert.Zero(t, b.Included)
}

func TestSetIncludedTokens_ReplacedAllotmentIsNotRefunded(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	l, _ := newLedger(t)

	fund(t, l, 100)
	require.NoError(t, l.SetIncludedTokens(ctx, shop, 100, "starter", "ref-1"))

	id, err := l.Reserve(ctx, shop, 50, "translate")
	require.NoError(t, err)
	require.NoError(t, l.SetIncludedTokens(ctx, shop, 0, "free", "ref-2"))
	require.NoError(t, l.Refund(ctx, shop, id))

	b := balanceOf(t, l)
	assert.Equal(t, int64(100), b.Balance)
	assert.Equal(t, int64(100), b.Purchased())
	assert.Zero(t, b.Included)
}

func TestGrant_TopUpOnly(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	l, _ := newLedger(t)

	require.NoError(t, l.Grant(ctx, shop, 1000, "exempt"))
	assert.Equal(t, int64(1000), balanceOf(t, l).Balance)

	id, err := l.Reserve(ctx, shop, 300, "translate")
	require.NoError(t, err)
	require.NoError(t, l.Finalize(ctx, shop, id, 300))
	require.NoError(t, l.Grant(ctx, shop, 1000, "exempt"))

	b := balanceOf(t, l)
	assert.Equal(t, int64(1000), b.Balance)
	assert.Equal(t, int64(1300), b.TotalGranted)

	fund(t, l, 5000)
	require.NoError(t, l.Grant(ctx, shop, 1000, "exempt"))
	assert.Equal(t, int64(5700), balanceOf(t, l).Balance)
}

func TestHasBalance(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	l, _ := newLedger(t)

	ok, err := l.HasBalance(ctx, shop, 1)
	require.NoError(t, err)
	assert.False(t, ok)

	fund(t, l, 100)
	ok, err = l.HasBalance(ctx, shop, 100)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = l.HasBalance(ctx, shop, 101)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestGet_CreatesEmptyBalance(t *testing.T) {
	t.Parallel()
	store := kv.NewMemoryStore()
	l := tokens.NewLedger(store)

	b, err := l.Get(context.Background(), shop)
	require.NoError(t, err)
	assert.Equal(t, shop, b.TenantID)
	assert.Zero(t, b.Balance)

	_, err = store.Get(context.Background(), tokens.Key(shop))
	assert.NoError(t, err)
}

func TestReset(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	l, _ := newLedger(t)
	fund(t, l, 100)

	require.NoError(t, l.Reset(ctx, shop))
	assert.Zero(t, balanceOf(t, l).Balance)
	assert.ErrorIs(t, l.Reset(ctx, ""), tokens.ErrEmptyTenant)
}

func TestExpireStale(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	l, c := newLedger(t)
	fund(t, l, 300)

	old, err := l.Reserve(ctx, shop, 100, "translate")
	require.NoError(t, err)
	c.Advance(time.Hour)
	fresh, err := l.Reserve(ctx, shop, 100, "translate")
	require.NoError(t, err)
	c.Advance(10 * time.Minute)

	n, err := l.ExpireStale(ctx, shop, 30*time.Minute)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	b := balanceOf(t, l)
	assert.Equal(t, int64(200), b.Balance)
	assert.Equal(t, tokens.ReservationRefunded, b.Reservations[old].Status)
	assert.Equal(t, tokens.ReservationOpen, b.Reservations[fresh].Status)

	n, err = l.ExpireStale(ctx, shop, 30*time.Minute)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestSettledReservationsArePruned(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	l, c := newLedger(t, tokens.WithSettledRetention(time.Hour))
	fund(t, l, 100)

	id, err := l.Reserve(ctx, shop, 10, "translate")
	require.NoError(t, err)
	require.NoError(t, l.Finalize(ctx, shop, id, 10))
	c.Advance(2 * time.Hour)

	_, err = l.Reserve(ctx, shop, 10, "translate")
	require.NoError(t, err)

	b := balanceOf(t, l)
	assert.NotContains(t, b.Reservations, id)
	assert.Len(t, b.Usage, 1)
	assert.ErrorIs(t, l.Finalize(ctx, shop, id, 10), tokens.ErrReservationNotFound)
}

func TestWithMargin(t *testing.T) {
	t.Parallel()
	tests := []struct {
		estimate int64
		margin   int
		want     int64
	}{
		{100, 10, 110},
		{95, 10, 105},
		{1, 10, 2},
		{100, 0, 100},
		{0, 10, 1},
		{-5, 10, 1},
		{100, -10, 100},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, tokens.WithMargin(tt.estimate, tt.margin), "estimate=%d margin=%d", tt.estimate, tt.margin)
	}
}
