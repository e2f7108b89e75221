package tokens

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/dmitrymomot/tierkit/pkg/kv"
	"github.com/dmitrymomot/tierkit/pkg/logger"
	"github.com/dmitrymomot/tierkit/pkg/metrics"
)

// DefaultSettledRetention is how long settled reservations are kept for double-settle detection.
const DefaultSettledRetention = 7 * 24 * time.Hour

// Ledger meters tokens for tenants. Every mutating call is one conditional write.
type Ledger interface {
	// Reserve escrows amount or fails with *InsufficientBalanceError. It never reserves partially.
	Reserve(ctx context.Context, tenantID string, amount int64, feature string) (string, error)
	// Finalize settles a reservation with the actual cost. Usage above the reservation is not charged.
	Finalize(ctx context.Context, tenantID, reservationID string, actual int64) error
	// Refund settles a reservation with zero cost.
	Refund(ctx context.Context, tenantID, reservationID string) error

	// AddPurchased credits a purchase once per charge reference.
	AddPurchased(ctx context.Context, tenantID string, amount int64, chargeRef string) error
	// SetIncludedTokens replaces the plan allotment, once per plan and reference.
	SetIncludedTokens(ctx context.Context, tenantID string, amount int64, plan, ref string) error
	// Grant tops the balance up to amount. It never lowers it.
	Grant(ctx context.Context, tenantID string, amount int64, reason string) error

	HasBalance(ctx context.Context, tenantID string, amount int64) (bool, error)
	Get(ctx context.Context, tenantID string) (*Balance, error)
	// Reset deletes the tenant balance.
	Reset(ctx context.Context, tenantID string) error
	// ExpireStale refunds open reservations created more than olderThan ago.
	ExpireStale(ctx context.Context, tenantID string, olderThan time.Duration) (int, error)
}

type ledger struct {
	store     kv.Store
	logger    *slog.Logger
	now       func() time.Time
	retry     kv.RetryPolicy
	newID     func() string
	advisor   UpgradeAdvisor
	retention time.Duration
}

// NewLedger creates a ledger over store. Balances live under "tokenBalance:{tenant}".
func NewLedger(store kv.Store, opts ...Option) Ledger {
	if store == nil {
		panic("tokens: store is required")
	}

	l := &ledger{
		store:     store,
		logger:    logger.Discard(),
		now:       time.Now,
		retry:     kv.DefaultRetryPolicy(),
		newID:     func() string { return ulid.Make().String() },
		retention: DefaultSettledRetention,
	}
	for _, opt := range opts {
		opt(l)
	}
	l.logger = l.logger.With(logger.Component("tokens"))
	return l
}

// Key returns the store key of a tenant balance.
func Key(tenantID string) string {
	return kv.Key("tokenBalance", tenantID)
}

func (l *ledger) update(ctx context.Context, tenantID string, fn func(b *Balance, now time.Time) error) (*Balance, error) {
	if tenantID == "" {
		return nil, ErrEmptyTenant
	}

	res, err := kv.Update(ctx, l.store, Key(tenantID), func(b *Balance, _ bool) error {
		now := l.now().UTC()
		b.init(tenantID)
		if err := fn(b, now); err != nil {
			return err
		}
		if err := b.validate(); err != nil {
			return err
		}
		b.prune(l.retention, now)
		b.UpdatedAt = now
		return nil
	}, l.retry)
	if err != nil {
		return nil, l.wrapStoreErr(err)
	}
	return &res.Value, nil
}

func (l *ledger) wrapStoreErr(err error) error {
	var insufficient *InsufficientBalanceError
	switch {
	case errors.As(err, &insufficient),
		errors.Is(err, ErrReservationNotFound),
		errors.Is(err, ErrReservationSettled),
		errors.Is(err, ErrInvariantViolation),
		errors.Is(err, context.Canceled),
		errors.Is(err, context.DeadlineExceeded):
		return err
	}
	return errors.Join(ErrStoreUnavailable, err)
}

func (l *ledger) Reserve(ctx context.Context, tenantID string, amount int64, feature string) (string, error) {
	if amount <= 0 {
		return "", ErrInvalidAmount
	}

	id := l.newID()
	_, err := l.update(ctx, tenantID, func(b *Balance, now time.Time) error {
		return b.reserve(id, amount, feature, now)
	})
	if err != nil {
		if ie, ok := AsInsufficientBalance(err); ok {
			if l.advisor != nil {
				ie.ResolvableByUpgrade = l.advisor(ctx, tenantID, ie.Required)
			}
			metrics.ReservationsTotal.WithLabelValues("insufficient").Inc()
			l.logger.InfoContext(ctx, "reservation denied",
				logger.TenantID(tenantID),
				logger.Feature(feature),
				logger.Tokens("required", ie.Required),
				logger.Tokens("shortfall", ie.Shortfall),
			)
		}
		return "", err
	}

	metrics.ReservationsTotal.WithLabelValues("reserved").Inc()
	metrics.TokensTotal.WithLabelValues("reserved").Add(float64(amount))
	l.logger.DebugContext(ctx, "tokens reserved",
		logger.TenantID(tenantID),
		logger.ReservationID(id),
		logger.Feature(feature),
		logger.Tokens("amount", amount),
	)
	return id, nil
}

func (l *ledger) Finalize(ctx context.Context, tenantID, reservationID string, actual int64) error {
	if actual < 0 {
		return ErrInvalidAmount
	}
	return l.settle(ctx, tenantID, reservationID, actual, ReservationFinalized)
}

func (l *ledger) Refund(ctx context.Context, tenantID, reservationID string) error {
	return l.settle(ctx, tenantID, reservationID, 0, ReservationRefunded)
}

func (l *ledger) settle(ctx context.Context, tenantID, reservationID string, actual int64, status ReservationStatus) error {
	var returned, reserved int64
	_, err := l.update(ctx, tenantID, func(b *Balance, now time.Time) error {
		reserved = b.Reservations[reservationID].Amount
		var err error
		returned, err = b.settle(reservationID, actual, status, now)
		return err
	})
	if err != nil {
		return err
	}

	charged := min(actual, reserved)
	metrics.ReservationsTotal.WithLabelValues(string(status)).Inc()
	metrics.TokensTotal.WithLabelValues("used").Add(float64(charged))
	metrics.TokensTotal.WithLabelValues("returned").Add(float64(returned))

	attrs := []any{
		logger.TenantID(tenantID),
		logger.ReservationID(reservationID),
		logger.Tokens("reserved", reserved),
		logger.Tokens("actual", actual),
		logger.Tokens("returned", returned),
	}
	if over := actual - reserved; over > 0 {
		metrics.UnbilledTokensTotal.Add(float64(over))
		l.logger.WarnContext(ctx, "usage exceeded reservation, overage not charged",
			append(attrs, logger.Tokens("unbilled", over))...)
		return nil
	}
	l.logger.DebugContext(ctx, "reservation settled", append(attrs, logger.Status(string(status)))...)
	return nil
}

func (l *ledger) AddPurchased(ctx context.Context, tenantID string, amount int64, chargeRef string) error {
	if amount <= 0 {
		return ErrInvalidAmount
	}
	if chargeRef == "" {
		return ErrEmptyReference
	}

	credited := false
	_, err := l.update(ctx, tenantID, func(b *Balance, now time.Time) error {
		credited = false
		if b.hasPurchase(chargeRef) {
			return kv.ErrSkipWrite
		}
		b.Balance += amount
		b.TotalPurchased += amount
		b.Purchases = append(b.Purchases, PurchaseEntry{
			Kind:      EntryPurchase,
			Amount:    amount,
			Reference: chargeRef,
			CreatedAt: now,
		})
		credited = true
		return nil
	})
	if err != nil {
		return err
	}

	if credited {
		metrics.TokensTotal.WithLabelValues("purchased").Add(float64(amount))
		l.logger.InfoContext(ctx, "tokens purchased",
			logger.TenantID(tenantID),
			logger.Reference(chargeRef),
			logger.Tokens("amount", amount),
		)
	}
	return nil
}

func (l *ledger) SetIncludedTokens(ctx context.Context, tenantID string, amount int64, plan, ref string) error {
	if amount < 0 {
		return ErrInvalidAmount
	}

	replaced := false
	_, err := l.update(ctx, tenantID, func(b *Balance, now time.Time) error {
		replaced = b.setIncluded(amount, plan, ref, now)
		if !replaced {
			return kv.ErrSkipWrite
		}
		return nil
	})
	if err != nil {
		return err
	}

	if replaced {
		metrics.TokensTotal.WithLabelValues("included").Add(float64(amount))
		l.logger.InfoContext(ctx, "included tokens replaced",
			logger.TenantID(tenantID),
			logger.Plan(plan),
			logger.Reference(ref),
			logger.Tokens("included", amount),
		)
	}
	return nil
}

func (l *ledger) Grant(ctx context.Context, tenantID string, amount int64, reason string) error {
	if amount < 0 {
		return ErrInvalidAmount
	}

	var granted int64
	_, err := l.update(ctx, tenantID, func(b *Balance, now time.Time) error {
		granted = 0
		if b.Balance >= amount {
			return kv.ErrSkipWrite
		}
		granted = amount - b.Balance
		b.Balance = amount
		b.TotalGranted += granted
		b.Purchases = append(b.Purchases, PurchaseEntry{
			Kind:      EntryGrant,
			Amount:    granted,
			Reference: reason,
			CreatedAt: now,
		})
		return nil
	})
	if err != nil {
		return err
	}

	if granted > 0 {
		metrics.TokensTotal.WithLabelValues("granted").Add(float64(granted))
		l.logger.InfoContext(ctx, "tokens granted",
			logger.TenantID(tenantID),
			logger.Tokens("granted", granted),
			slog.String("reason", reason),
		)
	}
	return nil
}

func (l *ledger) HasBalance(ctx context.Context, tenantID string, amount int64) (bool, error) {
	if tenantID == "" {
		return false, ErrEmptyTenant
	}
	cur, err := kv.Load[Balance](ctx, l.store, Key(tenantID))
	if err != nil {
		return false, l.wrapStoreErr(err)
	}
	return cur.Value.Balance >= amount, nil
}

func (l *ledger) Get(ctx context.Context, tenantID string) (*Balance, error) {
	return l.update(ctx, tenantID, func(b *Balance, now time.Time) error {
		if !b.UpdatedAt.IsZero() {
			return kv.ErrSkipWrite
		}
		return nil
	})
}

func (l *ledger) Reset(ctx context.Context, tenantID string) error {
	if tenantID == "" {
		return ErrEmptyTenant
	}
	if err := l.store.Delete(ctx, Key(tenantID)); err != nil {
		return l.wrapStoreErr(err)
	}
	l.logger.WarnContext(ctx, "token balance reset", logger.TenantID(tenantID))
	return nil
}

func (l *ledger) ExpireStale(ctx context.Context, tenantID string, olderThan time.Duration) (int, error) {
	var expired []string
	_, err := l.update(ctx, tenantID, func(b *Balance, now time.Time) error {
		expired = expired[:0]
		cutoff := now.Add(-olderThan)
		for id, r := range b.Reservations {
			if r.Status != ReservationOpen || !r.CreatedAt.Before(cutoff) {
				continue
			}
			if _, err := b.settle(id, 0, ReservationRefunded, now); err != nil {
				return err
			}
			expired = append(expired, id)
		}
		if len(expired) == 0 {
			return kv.ErrSkipWrite
		}
		return nil
	})
	if err != nil {
		return 0, err
	}

	if len(expired) > 0 {
		metrics.ReservationsTotal.WithLabelValues("expired").Add(float64(len(expired)))
		l.logger.WarnContext(ctx, "stale reservations refunded",
			logger.TenantID(tenantID),
			slog.Int("count", len(expired)),
			slog.Duration("older_than", olderThan),
		)
	}
	return len(expired), nil
}
