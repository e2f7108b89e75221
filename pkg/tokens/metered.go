package tokens

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/dmitrymomot/tierkit/pkg/kv"
	"github.com/dmitrymomot/tierkit/pkg/logger"
	"github.com/dmitrymomot/tierkit/pkg/metrics"
)

// InferenceProvider runs a paid operation and reports what it actually cost.
type InferenceProvider[In, Out any] interface {
	RunMeteredOperation(ctx context.Context, input In) (Out, int64, error)
}

// Operation is metered work. It returns the actual cost in tokens.
type Operation func(ctx context.Context) (actual int64, err error)

// Usage describes a settled metered run.
type Usage struct {
	ReservationID string
	Reserved      int64
	Actual        int64
}

// Metered wraps operations with reserve, then finalize or refund.
type Metered struct {
	ledger Ledger
	margin int
	retry  kv.RetryPolicy
	logger *slog.Logger
}

// MeteredOption configures Metered and Batch runners.
type MeteredOption func(*Metered)

// WithMarginPercent overrides DefaultMarginPercent.
func WithMarginPercent(p int) MeteredOption {
	return func(m *Metered) {
		m.margin = max(p, 0)
	}
}

// WithSettleRetry sets the retry policy for finalize and refund.
func WithSettleRetry(p kv.RetryPolicy) MeteredOption {
	return func(m *Metered) {
		m.retry = p
	}
}

// WithMeteredLogger sets the logger.
func WithMeteredLogger(l *slog.Logger) MeteredOption {
	return func(m *Metered) {
		if l != nil {
			m.logger = l
		}
	}
}

// NewMetered creates a runner over ledger.
func NewMetered(ledger Ledger, opts ...MeteredOption) *Metered {
	if ledger == nil {
		panic("tokens: ledger is required")
	}
	m := &Metered{
		ledger: ledger,
		margin: DefaultMarginPercent,
		retry:  kv.DefaultRetryPolicy(),
		logger: logger.Discard(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Run reserves WithMargin(estimate), runs op and settles the reservation exactly once:
// finalized with the reported cost on success, refunded on error, cancellation or panic.
// Reservation failures (including *InsufficientBalanceError) are returned before op runs.
func (m *Metered) Run(ctx context.Context, tenantID, feature string, estimate int64, op Operation) (usage Usage, err error) {
	amount := WithMargin(estimate, m.margin)
	id, err := m.ledger.Reserve(ctx, tenantID, amount, feature)
	if err != nil {
		return Usage{}, err
	}
	usage = Usage{ReservationID: id, Reserved: amount}

	defer func() {
		if r := recover(); r != nil {
			m.refund(ctx, tenantID, id)
			panic(r)
		}
	}()

	actual, opErr := op(ctx)
	if opErr != nil {
		m.refund(ctx, tenantID, id)
		return usage, opErr
	}

	usage.Actual = actual
	m.finalize(ctx, tenantID, id, actual)
	return usage, nil
}

// Infer runs one provider call under a reservation.
func Infer[In, Out any](ctx context.Context, m *Metered, p InferenceProvider[In, Out], tenantID, feature string, estimate int64, input In) (Out, Usage, error) {
	var out Out
	usage, err := m.Run(ctx, tenantID, feature, estimate, func(ctx context.Context) (int64, error) {
		res, cost, err := p.RunMeteredOperation(ctx, input)
		if err != nil {
			return 0, err
		}
		out = res
		return cost, nil
	})
	return out, usage, err
}

func (m *Metered) finalize(ctx context.Context, tenantID, id string, actual int64) {
	m.settle(ctx, "finalize", tenantID, id, func(ctx context.Context) error {
		return m.ledger.Finalize(ctx, tenantID, id, actual)
	})
}

func (m *Metered) refund(ctx context.Context, tenantID, id string) {
	m.settle(ctx, "refund", tenantID, id, func(ctx context.Context) error {
		return m.ledger.Refund(ctx, tenantID, id)
	})
}

// settle retries a ledger correction detached from the caller's cancellation.
// A reservation left open after the last attempt is recovered by ExpireStale.
func (m *Metered) settle(ctx context.Context, op, tenantID, id string, fn func(ctx context.Context) error) {
	ctx = context.WithoutCancel(ctx)
	err := m.retry.Do(ctx, func(attempt int) error {
		if attempt > 1 {
			metrics.SettlementRetriesTotal.WithLabelValues(op).Inc()
		}
		return fn(ctx)
	}, func(err error) bool { return !isTerminal(err) })
	if err != nil {
		m.logger.ErrorContext(ctx, fmt.Sprintf("reservation %s failed", op),
			logger.TenantID(tenantID),
			logger.ReservationID(id),
			logger.Error(err),
		)
	}
}
