package tokens

import (
	"context"
	"log/slog"
	"time"

	"github.com/dmitrymomot/tierkit/pkg/kv"
)

// UpgradeAdvisor reports whether moving the tenant to a higher plan would cover required tokens.
type UpgradeAdvisor func(ctx context.Context, tenantID string, required int64) bool

// Option configures the ledger.
type Option func(*ledger)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *ledger) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *ledger) {
		if now != nil {
			s.now = now
		}
	}
}

// WithRetryPolicy sets the optimistic concurrency retry policy.
func WithRetryPolicy(p kv.RetryPolicy) Option {
	return func(s *ledger) {
		s.retry = p
	}
}

// WithIDGenerator overrides reservation id generation.
func WithIDGenerator(fn func() string) Option {
	return func(s *ledger) {
		if fn != nil {
			s.newID = fn
		}
	}
}

// WithUpgradeAdvisor fills InsufficientBalanceError.ResolvableByUpgrade.
func WithUpgradeAdvisor(fn UpgradeAdvisor) Option {
	return func(s *ledger) {
		s.advisor = fn
	}
}

// WithSettledRetention sets how long settled reservations stay in the reservation map.
// Zero keeps them forever.
func WithSettledRetention(d time.Duration) Option {
	return func(s *ledger) {
		s.retention = d
	}
}
