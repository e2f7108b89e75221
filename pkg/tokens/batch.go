package tokens

import (
	"context"
	"errors"
	"log/slog"

	"github.com/dmitrymomot/tierkit/pkg/logger"
)

// BatchUnit is one step of a batch, e.g. one target language of a translation.
type BatchUnit struct {
	Name     string
	Estimate int64
	Run      Operation
}

// BatchResult reports a batch run. Every unit ends up in exactly one of Completed, Failed or Skipped.
type BatchResult struct {
	ReservationID string
	Reserved      int64
	Actual        int64
	Completed     []string
	Failed        map[string]error
	Skipped       []string
}

// Partial reports whether some units did not complete.
func (r BatchResult) Partial() bool {
	return len(r.Failed) > 0 || len(r.Skipped) > 0
}

// Batch runs units sequentially under one reservation.
//
// The reservation covers every unit plus margin. When the balance is too low
// for all of them, the longest affordable prefix is reserved and the rest are
// skipped. Before each unit the remaining headroom is compared to its estimate
// and the batch stops once it no longer fits. The reservation is finalized once
// with the summed cost, or refunded when nothing completed.
func (m *Metered) Batch(ctx context.Context, tenantID, feature string, units []BatchUnit) (BatchResult, error) {
	res := BatchResult{Failed: make(map[string]error)}
	if len(units) == 0 {
		return res, nil
	}

	id, reserved, planned, err := m.reserveBatch(ctx, tenantID, feature, units)
	if err != nil {
		return res, err
	}
	res.ReservationID = id
	res.Reserved = reserved

	settled := false
	defer func() {
		if r := recover(); r != nil {
			if !settled {
				m.refund(ctx, tenantID, id)
			}
			panic(r)
		}
	}()

	var spent int64
	stopped := false
	for i, u := range units {
		if stopped || i >= planned || ctx.Err() != nil || reserved-spent < u.Estimate {
			stopped = true
			res.Skipped = append(res.Skipped, u.Name)
			continue
		}

		actual, err := u.Run(ctx)
		if err != nil {
			res.Failed[u.Name] = err
			// partial cost of a failed step is still consumed
			spent += max(actual, 0)
			continue
		}
		spent += actual
		res.Completed = append(res.Completed, u.Name)
	}
	res.Actual = spent

	settled = true
	if len(res.Completed) == 0 && spent == 0 {
		m.refund(ctx, tenantID, id)
	} else {
		m.finalize(ctx, tenantID, id, spent)
	}

	if len(res.Skipped) > 0 || len(res.Failed) > 0 {
		m.logger.InfoContext(ctx, "batch partially completed",
			logger.TenantID(tenantID),
			logger.Feature(feature),
			logger.ReservationID(id),
			slog.Int("completed", len(res.Completed)),
			slog.Int("failed", len(res.Failed)),
			slog.Int("skipped", len(res.Skipped)),
		)
	}

	if len(res.Completed) == 0 && len(res.Failed) > 0 {
		errs := make([]error, 0, len(res.Failed))
		for _, e := range res.Failed {
			errs = append(errs, e)
		}
		return res, errors.Join(errs...)
	}
	return res, nil
}

// reserveBatch reserves for all units, or for the longest prefix the balance covers.
// It returns the reservation id, reserved amount and the number of units covered.
func (m *Metered) reserveBatch(ctx context.Context, tenantID, feature string, units []BatchUnit) (string, int64, int, error) {
	var total int64
	for _, u := range units {
		total += u.Estimate
	}
	amount := WithMargin(total, m.margin)

	id, err := m.ledger.Reserve(ctx, tenantID, amount, feature)
	if err == nil {
		return id, amount, len(units), nil
	}

	ie, ok := AsInsufficientBalance(err)
	if !ok {
		return "", 0, 0, err
	}

	var prefix int64
	n := 0
	for _, u := range units {
		next := WithMargin(prefix+u.Estimate, m.margin)
		if next > ie.Available {
			break
		}
		prefix += u.Estimate
		n++
	}
	if n == 0 {
		return "", 0, 0, err
	}

	amount = WithMargin(prefix, m.margin)
	id, perr := m.ledger.Reserve(ctx, tenantID, amount, feature)
	if perr != nil {
		return "", 0, 0, perr
	}
	return id, amount, n, nil
}
