package subscription

import (
	"context"
	"errors"
	"log/slog"
	"reflect"
	"time"

	"github.com/dmitrymomot/tierkit/pkg/kv"
	"github.com/dmitrymomot/tierkit/pkg/logger"
	"github.com/dmitrymomot/tierkit/pkg/metrics"
)

// Service reconciles tenant subscriptions with the billing authority.
//
// Every entry point first applies the exemption overlay. Record writes are
// optimistic read-modify-write cycles on the versioned store, so callbacks,
// webhooks and owner actions for one tenant can race safely across processes.
type Service interface {
	// Subscribe requests approval for planID and records it as the outstanding intent.
	Subscribe(ctx context.Context, tenantID, planID string, opts SubscribeOptions) (*Approval, error)
	// Activate requests a zero-trial approval that ends the trial once confirmed.
	Activate(ctx context.Context, tenantID string, opts ActivateOptions) (*Approval, error)
	// Confirm merges the authority's status for ref into the record.
	// A superseded ref yields ErrStaleReference and changes nothing.
	Confirm(ctx context.Context, tenantID, ref string, status RefStatus) (*Record, error)
	// HandleCallback confirms after the merchant returns from the approval page.
	HandleCallback(ctx context.Context, p CallbackParams) (*Record, error)
	// HandleWebhook confirms a pushed status change. Unknown tenants and stale refs are ignored.
	HandleWebhook(ctx context.Context, ev WebhookEvent) error
	// PaymentFailed expires an active subscription billed under ref.
	PaymentFailed(ctx context.Context, tenantID, ref string) error
	// Cancel cancels the subscription upstream, then locally.
	Cancel(ctx context.Context, tenantID string) (*Record, error)

	Get(ctx context.Context, tenantID string) (*Record, error)
	Entitlement(ctx context.Context, tenantID string) (*Entitlement, error)
	// EnsureExempt applies the exemption overlay and reports whether the tenant is exempt.
	EnsureExempt(ctx context.Context, tenantID string) (bool, error)
	// Reset offboards the tenant: upstream refs are cancelled and the record deleted.
	Reset(ctx context.Context, tenantID string) error

	Catalog() *Catalog
}

// SubscribeOptions tune a subscription request.
type SubscribeOptions struct {
	// EndTrial requests an approval without trial.
	EndTrial bool
	// TrialDays overrides the plan trial for tenants that have not started one.
	TrialDays *int
	ReturnURL string
}

// ActivateOptions tune an activation request.
type ActivateOptions struct {
	ReturnURL string
}

// Entitlement is the effective access of a tenant.
type Entitlement struct {
	TenantID          string     `json:"tenant_id"`
	Plan              *Plan      `json:"plan,omitempty"`
	Status            Status     `json:"status,omitempty"`
	Exempt            bool       `json:"exempt"`
	Trial             bool       `json:"trial"`
	TrialEndsAt       *time.Time `json:"trial_ends_at,omitempty"`
	Activated         bool       `json:"activated"`
	PendingPlan       string     `json:"pending_plan,omitempty"`
	PendingActivation bool       `json:"pending_activation"`
	// Usable is true when paid features may be used.
	Usable bool `json:"usable"`
}

// HasFeature reports whether f is usable.
func (e *Entitlement) HasFeature(f Feature) bool {
	return e.Usable && e.Plan != nil && e.Plan.HasFeature(f)
}

type service struct {
	catalog   *Catalog
	authority BillingAuthority
	store     kv.Store
	ledger    TokenGranter
	exempt    ExemptionFunc
	logger    *slog.Logger
	now       func() time.Time
	retry     kv.RetryPolicy
	returnURL string
}

// NewService creates a Service with the given dependencies.
// Panics if a required dependency is nil.
func NewService(ctx context.Context, src PlansListSource, authority BillingAuthority, store kv.Store, ledger TokenGranter, opts ...ServiceOption) (Service, error) {
	if src == nil {
		panic("subscription: PlansListSource is required")
	}
	if authority == nil {
		panic("subscription: BillingAuthority is required")
	}
	if store == nil {
		panic("subscription: store is required")
	}
	if ledger == nil {
		panic("subscription: TokenGranter is required")
	}

	plans, err := src.Load(ctx)
	if err != nil {
		return nil, errors.Join(ErrFailedToLoadPlans, err)
	}
	catalog, err := NewCatalog(plans)
	if err != nil {
		return nil, err
	}

	s := &service{
		catalog:   catalog,
		authority: authority,
		store:     store,
		ledger:    ledger,
		exempt:    NoExemptions,
		logger:    logger.Discard(),
		now:       time.Now,
		retry:     kv.DefaultRetryPolicy(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With(logger.Component("subscription"))
	return s, nil
}

// Key returns the store key of a tenant record.
func Key(tenantID string) string {
	return kv.Key("subscription", tenantID)
}

func (s *service) Catalog() *Catalog { return s.catalog }

func (s *service) Get(ctx context.Context, tenantID string) (*Record, error) {
	if tenantID == "" {
		return nil, ErrMissingTenantID
	}
	if _, err := s.EnsureExempt(ctx, tenantID); err != nil {
		return nil, err
	}
	rec, exists, err := s.load(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, ErrRecordNotFound
	}
	return rec, nil
}

func (s *service) Entitlement(ctx context.Context, tenantID string) (*Entitlement, error) {
	rec, err := s.Get(ctx, tenantID)
	if errors.Is(err, ErrRecordNotFound) {
		return &Entitlement{TenantID: tenantID}, nil
	}
	if err != nil {
		return nil, err
	}

	now := s.now().UTC()
	e := &Entitlement{
		TenantID:          tenantID,
		Status:            rec.Status,
		Exempt:            rec.IsExempt,
		Trial:             rec.InTrial(now),
		TrialEndsAt:       rec.TrialEndsAt,
		Activated:         rec.IsActivated(),
		PendingPlan:       rec.PendingPlan(),
		PendingActivation: rec.PendingActivation(),
		Usable:            rec.Usable(now),
	}
	if rec.Plan != "" {
		if p, err := s.catalog.Get(rec.Plan); err == nil {
			e.Plan = &p
		} else {
			// plan removed from the catalog; access fails closed
			s.logger.WarnContext(ctx, "record references unknown plan", logger.TenantID(tenantID), logger.Plan(rec.Plan))
			e.Usable = false
		}
	}
	return e, nil
}

func (s *service) Reset(ctx context.Context, tenantID string) error {
	if tenantID == "" {
		return ErrMissingTenantID
	}
	rec, exists, err := s.load(ctx, tenantID)
	if err != nil {
		return err
	}
	if exists {
		s.cancelBestEffort(ctx, tenantID, "offboarding", rec.billingRefs()...)
	}
	if err := s.store.Delete(ctx, Key(tenantID)); err != nil {
		return errors.Join(ErrStoreUnavailable, err)
	}
	s.logger.WarnContext(ctx, "subscription record reset", logger.TenantID(tenantID))
	return nil
}

func (s *service) load(ctx context.Context, tenantID string) (*Record, bool, error) {
	cur, err := kv.Load[Record](ctx, s.store, Key(tenantID))
	if err != nil {
		return nil, false, s.wrapErr(err)
	}
	cur.Value.Version = cur.Version
	return &cur.Value, cur.Exists, nil
}

// mutate runs fn in an optimistic write cycle. fn may run several times and
// must derive its changes from r alone. A cycle that changes nothing is not written.
func (s *service) mutate(ctx context.Context, tenantID string, fn func(r *Record, exists bool, now time.Time) error) (*Record, error) {
	var from, to Status
	res, err := kv.Update(ctx, s.store, Key(tenantID), func(r *Record, exists bool) error {
		now := s.now().UTC()
		if !exists {
			r.TenantID = tenantID
			r.CreatedAt = now
			r.Intent = NoIntent()
		}
		before := *r
		from = r.Status

		if err := fn(r, exists, now); err != nil {
			return err
		}
		if before.ActivatedAt != nil && (r.ActivatedAt == nil || !r.ActivatedAt.Equal(*before.ActivatedAt)) {
			return errors.Join(ErrInvariantViolation, errors.New("activatedAt cannot change once set"))
		}
		if err := r.Validate(); err != nil {
			return err
		}
		if exists && reflect.DeepEqual(before, *r) {
			return kv.ErrSkipWrite
		}
		to = r.Status
		r.UpdatedAt = now
		return nil
	}, s.retry)
	if err != nil {
		if errors.Is(err, ErrInvariantViolation) {
			s.logger.ErrorContext(ctx, "subscription change rejected", logger.TenantID(tenantID), logger.Error(err))
		}
		return nil, s.wrapErr(err)
	}

	if to != "" && from != to {
		metrics.TransitionsTotal.WithLabelValues(string(from), string(to)).Inc()
		s.logger.InfoContext(ctx, "subscription status changed",
			logger.TenantID(tenantID),
			slog.String("from", string(from)),
			slog.String("to", string(to)),
		)
	}
	res.Value.Version = res.Version
	return &res.Value, nil
}

var errRefsChanged = errors.New("subscription: billing refs changed")

func (s *service) wrapErr(err error) error {
	for _, domain := range []error{
		ErrRecordNotFound, ErrInvariantViolation, ErrStaleReference, ErrNothingToActivate,
		ErrAlreadyActivated, ErrConcurrentChange, ErrUnknownRefStatus, errRefsChanged,
		ErrCollaboratorUnavailable, context.Canceled, context.DeadlineExceeded,
	} {
		if errors.Is(err, domain) {
			return err
		}
	}
	return errors.Join(ErrStoreUnavailable, err)
}

// cancelAll cancels refs upstream and stops at the first failure.
func (s *service) cancelAll(ctx context.Context, tenantID string, refs ...string) error {
	for _, ref := range refs {
		if _, err := s.authority.CancelSubscription(ctx, ref); err != nil {
			s.logger.WarnContext(ctx, "billing cancel failed", logger.TenantID(tenantID), logger.Reference(ref), logger.Error(err))
			return errors.Join(ErrCollaboratorUnavailable, err)
		}
	}
	return nil
}

// cancelBestEffort cancels refs that no longer back any local state. Failures are logged.
func (s *service) cancelBestEffort(ctx context.Context, tenantID, reason string, refs ...string) {
	ctx = context.WithoutCancel(ctx)
	for _, ref := range refs {
		if ref == "" {
			continue
		}
		cancelled, err := s.authority.CancelSubscription(ctx, ref)
		if err != nil {
			s.logger.ErrorContext(ctx, "failed to cancel superseded billing reference",
				logger.TenantID(tenantID),
				logger.Reference(ref),
				slog.String("reason", reason),
				logger.Error(err),
			)
			continue
		}
		s.logger.InfoContext(ctx, "superseded billing reference cancelled",
			logger.TenantID(tenantID),
			logger.Reference(ref),
			slog.String("reason", reason),
			slog.Bool("was_live", cancelled),
		)
	}
}

// syncIncluded replaces the included token allotment once billing runs on the confirmed plan.
func (s *service) syncIncluded(ctx context.Context, rec *Record) error {
	if rec.IsExempt || !rec.billable(s.now().UTC()) {
		return nil
	}
	plan, err := s.catalog.Get(rec.Plan)
	if err != nil {
		return errors.Join(ErrInvariantViolation, err)
	}
	if err := s.ledger.SetIncludedTokens(ctx, rec.TenantID, plan.IncludedTokens, plan.ID, rec.ConfirmedRef); err != nil {
		s.logger.ErrorContext(ctx, "failed to replace included tokens",
			logger.TenantID(rec.TenantID), logger.Plan(plan.ID), logger.Error(err))
		return errors.Join(ErrFailedToGrantTokens, err)
	}
	return nil
}
