package subscription

import (
	"context"
	"errors"
	"log/slog"
	"slices"
	"time"

	"github.com/dmitrymomot/tierkit/pkg/logger"
	"github.com/dmitrymomot/tierkit/pkg/metrics"
)

// trialDaysFor picks the trial carried by a new approval. Activated tenants
// never get another trial, and a running trial keeps its remaining days.
func trialDaysFor(rec *Record, exists bool, plan Plan, opts SubscribeOptions, now time.Time) int {
	switch {
	case opts.EndTrial:
		return 0
	case exists && rec.ActivatedAt != nil:
		return 0
	case exists && rec.TrialEndsAt != nil:
		return rec.TrialDaysRemaining(now)
	case opts.TrialDays != nil:
		return max(*opts.TrialDays, 0)
	}
	return plan.TrialDays
}

func (s *service) Subscribe(ctx context.Context, tenantID, planID string, opts SubscribeOptions) (*Approval, error) {
	if tenantID == "" {
		return nil, ErrMissingTenantID
	}
	exempt, err := s.EnsureExempt(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	if exempt {
		return nil, ErrTenantExempt
	}

	plan, err := s.catalog.Get(planID)
	if err != nil {
		return nil, err
	}
	rec, exists, err := s.load(ctx, tenantID)
	if err != nil {
		return nil, err
	}

	now := s.now().UTC()
	if exists && !opts.EndTrial && rec.Intent.IsNone() && rec.Plan == planID && rec.Usable(now) {
		return nil, ErrAlreadyOnPlan
	}
	trialDays := trialDaysFor(rec, exists, plan, opts, now)

	approval, err := s.createApproval(ctx, CreateRequest{
		TenantID:  tenantID,
		Plan:      plan,
		TrialDays: trialDays,
		ReturnURL: s.returnURLOr(opts.ReturnURL),
	})
	if err != nil {
		return nil, err
	}

	var superseded string
	_, err = s.mutate(ctx, tenantID, func(r *Record, exists bool, _ time.Time) error {
		var err error
		superseded, err = r.beginPlanChange(planID, approval.ReferenceID, trialDays, exists)
		return err
	})
	if err != nil {
		s.orphaned(ctx, tenantID, approval.ReferenceID, err)
		return nil, err
	}

	if superseded != "" && superseded != approval.ReferenceID {
		s.cancelBestEffort(ctx, tenantID, "superseded approval", superseded)
	}

	attrs := []any{
		logger.TenantID(tenantID),
		logger.Plan(planID),
		logger.Reference(approval.ReferenceID),
		slog.Int("trial_days", trialDays),
	}
	if exists && rec.Plan != "" {
		if cmp, err := s.catalog.ComparePlans(rec.Plan, planID); err == nil {
			attrs = append(attrs, slog.String("change", string(cmp.Kind)))
		}
	}
	s.logger.InfoContext(ctx, "plan approval requested", attrs...)
	return approval, nil
}

func (s *service) Activate(ctx context.Context, tenantID string, opts ActivateOptions) (*Approval, error) {
	if tenantID == "" {
		return nil, ErrMissingTenantID
	}
	exempt, err := s.EnsureExempt(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	if exempt {
		return nil, ErrTenantExempt
	}

	rec, exists, err := s.load(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, ErrRecordNotFound
	}
	// fail before contacting the authority when activation is impossible
	check := *rec
	if _, err := check.beginActivation("pending"); err != nil {
		return nil, err
	}
	plan, err := s.catalog.Get(rec.Plan)
	if err != nil {
		return nil, err
	}

	approval, err := s.createApproval(ctx, CreateRequest{
		TenantID:  tenantID,
		Plan:      plan,
		TrialDays: 0,
		ReturnURL: s.returnURLOr(opts.ReturnURL),
	})
	if err != nil {
		return nil, err
	}

	var replaced []string
	_, err = s.mutate(ctx, tenantID, func(r *Record, exists bool, _ time.Time) error {
		if !exists {
			return ErrRecordNotFound
		}
		var err error
		replaced, err = r.beginActivation(approval.ReferenceID)
		return err
	})
	if err != nil {
		s.orphaned(ctx, tenantID, approval.ReferenceID, err)
		return nil, err
	}

	// refs are cancelled only after the new intent is stored, so their
	// cancellation notices are already stale when they arrive
	stale := replaced
	if lister, ok := s.authority.(ReferenceLister); ok {
		live, err := lister.ActiveReferences(ctx, tenantID)
		if err != nil {
			s.logger.WarnContext(ctx, "failed to list live billing references", logger.TenantID(tenantID), logger.Error(err))
		}
		stale = append(stale, live...)
	}
	stale = slices.DeleteFunc(uniqueRefs(stale...), func(ref string) bool { return ref == approval.ReferenceID })
	s.cancelBestEffort(ctx, tenantID, "activation", stale...)

	s.logger.InfoContext(ctx, "activation approval requested",
		logger.TenantID(tenantID),
		logger.Plan(plan.ID),
		logger.Reference(approval.ReferenceID),
	)
	return approval, nil
}

func (s *service) Cancel(ctx context.Context, tenantID string) (*Record, error) {
	if tenantID == "" {
		return nil, ErrMissingTenantID
	}
	exempt, err := s.EnsureExempt(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	if exempt {
		return nil, ErrTenantExempt
	}

	rec, exists, err := s.load(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, ErrRecordNotFound
	}
	if rec.Status == StatusCancelled && rec.Intent.IsNone() {
		return rec, nil
	}
	if rec.Status != StatusCancelled && !canTransition(rec.Status, eventCancel) {
		return nil, ErrInvalidTransition
	}

	cancelled := rec.billingRefs()
	if err := s.cancelAll(ctx, tenantID, cancelled...); err != nil {
		return nil, err
	}

	var leftover []string
	out, err := s.mutate(ctx, tenantID, func(r *Record, exists bool, now time.Time) error {
		if !exists {
			return ErrRecordNotFound
		}
		leftover = slices.DeleteFunc(r.billingRefs(), func(ref string) bool { return slices.Contains(cancelled, ref) })
		return r.cancel(now)
	})
	if err != nil {
		return nil, err
	}
	s.cancelBestEffort(ctx, tenantID, "cancelled concurrently", leftover...)

	s.logger.InfoContext(ctx, "subscription cancelled by owner", logger.TenantID(tenantID))
	return out, nil
}

func (s *service) createApproval(ctx context.Context, req CreateRequest) (*Approval, error) {
	approval, err := s.authority.CreateSubscription(ctx, req)
	if err != nil {
		s.logger.WarnContext(ctx, "billing authority rejected approval request",
			logger.TenantID(req.TenantID), logger.Plan(req.Plan.ID), logger.Error(err))
		return nil, errors.Join(ErrCollaboratorUnavailable, err)
	}
	if approval == nil || approval.ReferenceID == "" {
		return nil, errors.Join(ErrCollaboratorUnavailable, ErrEmptyApproval)
	}
	return approval, nil
}

// orphaned cancels an approval created upstream whose local write failed.
func (s *service) orphaned(ctx context.Context, tenantID, ref string, cause error) {
	metrics.OrphanedReferencesTotal.Inc()
	s.logger.WarnContext(ctx, "approval not recorded, cancelling it upstream",
		logger.TenantID(tenantID), logger.Reference(ref), logger.Error(cause))
	s.cancelBestEffort(ctx, tenantID, "orphaned", ref)
}

func (s *service) returnURLOr(url string) string {
	if url != "" {
		return url
	}
	return s.returnURL
}
