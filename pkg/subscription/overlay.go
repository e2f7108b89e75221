package subscription

import (
	"context"
	"errors"
	"slices"
	"time"

	"github.com/dmitrymomot/tierkit/pkg/kv"
	"github.com/dmitrymomot/tierkit/pkg/logger"
)

const exemptAttempts = 3

// EnsureExempt forces exempt tenants to active on the top plan with no
// billing references, cancels references they had before, and tops their
// token balance up to the top plan allotment. It is idempotent.
//
// When the predicate no longer holds, a previously exempt record loses the
// flag and falls back to normal billing rules.
func (s *service) EnsureExempt(ctx context.Context, tenantID string) (bool, error) {
	if tenantID == "" {
		return false, ErrMissingTenantID
	}
	if !s.exempt(ctx, tenantID) {
		return false, s.revokeExemption(ctx, tenantID)
	}

	top := s.catalog.Top()
	applied := false
	for attempt := 1; !applied; attempt++ {
		if attempt > exemptAttempts {
			return true, ErrConcurrentChange
		}

		rec, exists, err := s.load(ctx, tenantID)
		if err != nil {
			return true, err
		}
		if exists && rec.exemptionApplied(top.ID) {
			break
		}

		// cancel upstream first: on failure nothing is committed and the next access retries
		refs := rec.billingRefs()
		if err := s.cancelAll(ctx, tenantID, refs...); err != nil {
			return true, err
		}

		_, err = s.mutate(ctx, tenantID, func(r *Record, _ bool, _ time.Time) error {
			if r.exemptionApplied(top.ID) {
				return kv.ErrSkipWrite
			}
			for _, ref := range r.billingRefs() {
				if !slices.Contains(refs, ref) {
					return errRefsChanged
				}
			}
			return r.applyExemption(top.ID)
		})
		switch {
		case errors.Is(err, errRefsChanged):
			continue
		case err != nil:
			return true, err
		}
		applied = true
		s.logger.InfoContext(ctx, "exemption applied", logger.TenantID(tenantID), logger.Plan(top.ID))
	}

	if err := s.ledger.Grant(ctx, tenantID, top.IncludedTokens, "exempt"); err != nil {
		return true, errors.Join(ErrFailedToGrantTokens, err)
	}
	return true, nil
}

func (s *service) revokeExemption(ctx context.Context, tenantID string) error {
	rec, exists, err := s.load(ctx, tenantID)
	if err != nil || !exists || !rec.IsExempt {
		return err
	}
	_, err = s.mutate(ctx, tenantID, func(r *Record, _ bool, _ time.Time) error {
		r.IsExempt = false
		return nil
	})
	if err == nil {
		s.logger.InfoContext(ctx, "exemption revoked", logger.TenantID(tenantID))
	}
	return err
}
