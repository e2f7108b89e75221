package subscription

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dmitrymomot/tierkit/pkg/kv"
	"github.com/dmitrymomot/tierkit/pkg/logger"
	"github.com/dmitrymomot/tierkit/pkg/metrics"
)

const (
	sourceDirect   = "direct"
	sourceCallback = "callback"
	sourceWebhook  = "webhook"
)

func (s *service) Confirm(ctx context.Context, tenantID, ref string, status RefStatus) (*Record, error) {
	return s.confirm(ctx, sourceDirect, tenantID, ref, status)
}

// confirm is the single merge used by every confirmation path. Confirmations
// match by reference equality, never by arrival order.
func (s *service) confirm(ctx context.Context, source, tenantID, ref string, status RefStatus) (*Record, error) {
	if tenantID == "" {
		return nil, ErrMissingTenantID
	}
	if ref == "" {
		return nil, ErrMissingReference
	}
	exempt, err := s.EnsureExempt(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	if exempt {
		rec, _, err := s.load(ctx, tenantID)
		return rec, err
	}

	var (
		superseded string
		stale      bool
	)
	rec, err := s.mutate(ctx, tenantID, func(r *Record, exists bool, now time.Time) error {
		superseded, stale = "", false
		if !exists {
			return ErrRecordNotFound
		}

		var err error
		switch {
		case status == RefActive:
			superseded, err = r.confirmActive(ref, now)
		case status.terminal():
			err = r.confirmGone(ref, now)
		case status == RefPending:
			if !r.matches(ref) {
				err = ErrStaleReference
			} else {
				return kv.ErrSkipWrite
			}
		default:
			return fmt.Errorf("%w: %q", ErrUnknownRefStatus, status)
		}
		if errors.Is(err, ErrStaleReference) {
			stale = true
			return kv.ErrSkipWrite
		}
		return err
	})
	if err != nil {
		outcome := "error"
		if errors.Is(err, ErrRecordNotFound) {
			outcome = "unknown_tenant"
		}
		metrics.ConfirmationsTotal.WithLabelValues(source, outcome).Inc()
		return nil, err
	}

	if stale {
		metrics.ConfirmationsTotal.WithLabelValues(source, "stale").Inc()
		s.logger.DebugContext(ctx, "stale confirmation ignored",
			logger.TenantID(tenantID),
			logger.Reference(ref),
			logger.Status(string(status)),
			logger.Group("current", logger.Reference(rec.ExternalRef)),
		)
		return rec, fmt.Errorf("%w: %s", ErrStaleReference, ref)
	}

	metrics.ConfirmationsTotal.WithLabelValues(source, "applied").Inc()
	if superseded != "" {
		s.cancelBestEffort(ctx, tenantID, "replaced by confirmed plan", superseded)
	}
	if err := s.syncIncluded(ctx, rec); err != nil {
		return rec, err
	}
	return rec, nil
}

func (s *service) HandleCallback(ctx context.Context, p CallbackParams) (*Record, error) {
	if p.TenantID == "" {
		return nil, ErrMissingTenantID
	}
	exempt, err := s.EnsureExempt(ctx, p.TenantID)
	if err != nil {
		return nil, err
	}

	rec, exists, err := s.load(ctx, p.TenantID)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, ErrRecordNotFound
	}
	if exempt {
		return rec, nil
	}

	ref := p.ReferenceID
	if ref == "" {
		ref = rec.ExternalRef
	}
	if ref == "" {
		// nothing outstanding, the merchant returned after an abandoned flow
		return rec, nil
	}
	if p.Plan != "" && rec.PendingPlan() != "" && p.Plan != rec.PendingPlan() {
		s.logger.WarnContext(ctx, "callback plan differs from pending plan",
			logger.TenantID(p.TenantID), logger.Plan(p.Plan), logger.Group("pending", logger.Plan(rec.PendingPlan())))
	}

	status, err := s.authority.GetSubscriptionStatus(ctx, ref)
	if err != nil {
		return nil, errors.Join(ErrCollaboratorUnavailable, err)
	}

	out, err := s.confirm(ctx, sourceCallback, p.TenantID, ref, status)
	if IsStale(err) {
		return out, nil
	}
	return out, err
}

func (s *service) HandleWebhook(ctx context.Context, ev WebhookEvent) error {
	if ev.TenantID == "" || ev.ReferenceID == "" {
		s.logger.WarnContext(ctx, "webhook without tenant or reference ignored",
			logger.TenantID(ev.TenantID), logger.Reference(ev.ReferenceID))
		metrics.ConfirmationsTotal.WithLabelValues(sourceWebhook, "unknown_tenant").Inc()
		return nil
	}

	var err error
	switch ev.Kind {
	case EventPaymentFailed:
		err = s.paymentFailed(ctx, ev.TenantID, ev.ReferenceID)
	default:
		_, err = s.confirm(ctx, sourceWebhook, ev.TenantID, ev.ReferenceID, ev.Status)
	}

	switch {
	case err == nil, IsStale(err):
		return nil
	case errors.Is(err, ErrRecordNotFound):
		s.logger.InfoContext(ctx, "webhook for unknown tenant ignored",
			logger.TenantID(ev.TenantID), logger.Reference(ev.ReferenceID))
		return nil
	}
	return err
}

func (s *service) PaymentFailed(ctx context.Context, tenantID, ref string) error {
	return s.paymentFailed(ctx, tenantID, ref)
}

func (s *service) paymentFailed(ctx context.Context, tenantID, ref string) error {
	if tenantID == "" {
		return ErrMissingTenantID
	}
	if ref == "" {
		return ErrMissingReference
	}
	exempt, err := s.EnsureExempt(ctx, tenantID)
	if err != nil || exempt {
		return err
	}

	stale := false
	_, err = s.mutate(ctx, tenantID, func(r *Record, exists bool, now time.Time) error {
		stale = false
		if !exists {
			return ErrRecordNotFound
		}
		if ref != r.ExternalRef && ref != r.ConfirmedRef {
			stale = true
			return kv.ErrSkipWrite
		}
		if r.Status != StatusActive {
			return kv.ErrSkipWrite
		}
		return r.expire(now)
	})
	if err != nil {
		return err
	}
	if stale {
		metrics.ConfirmationsTotal.WithLabelValues(sourceWebhook, "stale").Inc()
		return fmt.Errorf("%w: %s", ErrStaleReference, ref)
	}

	s.logger.WarnContext(ctx, "payment failed, subscription expired", logger.TenantID(tenantID), logger.Reference(ref))
	return nil
}
