package subscription

import (
	"errors"
	"fmt"
	"math"
	"time"
)

// IntentKind tags the approval a record is waiting for.
type IntentKind string

const (
	IntentNone       IntentKind = "none"
	IntentPlanChange IntentKind = "plan_change"
	IntentActivation IntentKind = "activation"
)

// Intent is the outstanding approval of a record. Exactly one can be
// outstanding, and its Ref is the record's ExternalRef.
type Intent struct {
	Kind IntentKind `json:"kind"`
	// Plan is set for IntentPlanChange.
	Plan string `json:"plan,omitempty"`
	Ref  string `json:"ref,omitempty"`
	// TrialDays is the trial carried by the approval.
	TrialDays int `json:"trial_days,omitempty"`
}

// NoIntent is the zero outstanding approval.
func NoIntent() Intent { return Intent{Kind: IntentNone} }

// PlanChange awaits confirmation of plan under ref.
func PlanChange(plan, ref string, trialDays int) Intent {
	return Intent{Kind: IntentPlanChange, Plan: plan, Ref: ref, TrialDays: trialDays}
}

// Activation awaits confirmation of an end-trial approval under ref.
func Activation(ref string) Intent {
	return Intent{Kind: IntentActivation, Ref: ref}
}

// IsNone reports whether no approval is outstanding.
func (i Intent) IsNone() bool {
	return i.Kind == "" || i.Kind == IntentNone
}

// Record is the subscription state of one tenant, stored under "subscription:{tenant}".
type Record struct {
	TenantID string `json:"tenant_id"`
	// Plan is the last confirmed plan. Empty until the first confirmation.
	Plan   string `json:"plan,omitempty"`
	Status Status `json:"status"`
	// ExternalRef is the reference confirmations are matched against: the
	// outstanding approval while an intent is set, otherwise ConfirmedRef.
	ExternalRef string `json:"external_ref,omitempty"`
	// ConfirmedRef is the last confirmed approval still billed upstream.
	ConfirmedRef string     `json:"confirmed_ref,omitempty"`
	Intent       Intent     `json:"intent"`
	ActivatedAt  *time.Time `json:"activated_at,omitempty"`
	TrialEndsAt  *time.Time `json:"trial_ends_at,omitempty"`
	CancelledAt  *time.Time `json:"cancelled_at,omitempty"`
	ExpiredAt    *time.Time `json:"expired_at,omitempty"`
	IsExempt     bool       `json:"is_exempt"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`

	// Version is the store version the record was read at.
	Version int64 `json:"-"`
}

// PendingPlan returns the plan awaiting confirmation, if any.
func (r *Record) PendingPlan() string {
	if r.Intent.Kind == IntentPlanChange {
		return r.Intent.Plan
	}
	return ""
}

// PendingActivation reports whether an end-trial approval is outstanding.
func (r *Record) PendingActivation() bool {
	return r.Intent.Kind == IntentActivation
}

// IsActivated reports whether billing has started. It never reverts.
func (r *Record) IsActivated() bool {
	return r.ActivatedAt != nil
}

// InTrial reports whether a trial is running at now.
func (r *Record) InTrial(now time.Time) bool {
	return r.ActivatedAt == nil && r.TrialEndsAt != nil && now.Before(*r.TrialEndsAt)
}

// TrialDaysRemaining rounds the remaining trial up to whole days, so switching
// plans mid-trial never shortens it.
func (r *Record) TrialDaysRemaining(now time.Time) int {
	if !r.InTrial(now) {
		return 0
	}
	return int(math.Ceil(r.TrialEndsAt.Sub(now).Hours() / 24))
}

// Usable reports whether paid features are available at now.
func (r *Record) Usable(now time.Time) bool {
	if r.Status != StatusActive {
		return false
	}
	return r.IsExempt || r.IsActivated() || r.InTrial(now)
}

// billable reports whether included tokens of the confirmed plan apply.
func (r *Record) billable(now time.Time) bool {
	return r.Status == StatusActive && r.ActivatedAt != nil &&
		(r.TrialEndsAt == nil || !now.Before(*r.TrialEndsAt))
}

// Validate checks record invariants.
func (r *Record) Validate() error {
	var errs []error
	if !r.Status.Valid() {
		errs = append(errs, fmt.Errorf("unknown status %q", r.Status))
	}
	if r.ActivatedAt != nil && r.TrialEndsAt != nil {
		errs = append(errs, errors.New("activated record still has a trial end"))
	}
	if r.Status == StatusActive && !r.IsExempt && r.Plan == "" {
		errs = append(errs, errors.New("active record has no confirmed plan"))
	}
	switch r.Intent.Kind {
	case "", IntentNone:
		if r.ExternalRef != r.ConfirmedRef {
			errs = append(errs, fmt.Errorf("no intent but external ref %q differs from confirmed ref %q", r.ExternalRef, r.ConfirmedRef))
		}
	case IntentPlanChange, IntentActivation:
		if r.Intent.Ref == "" || r.Intent.Ref != r.ExternalRef {
			errs = append(errs, fmt.Errorf("intent ref %q does not match external ref %q", r.Intent.Ref, r.ExternalRef))
		}
		if r.Intent.Kind == IntentPlanChange && r.Intent.Plan == "" {
			errs = append(errs, errors.New("plan change intent without plan"))
		}
		if r.IsExempt {
			errs = append(errs, errors.New("exempt record has an outstanding intent"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown intent %q", r.Intent.Kind))
	}
	if len(errs) > 0 {
		return errors.Join(append([]error{ErrInvariantViolation}, errs...)...)
	}
	return nil
}

// matches reports whether ref identifies the approval the record listens to.
func (r *Record) matches(ref string) bool {
	return ref != "" && ref == r.ExternalRef
}

// beginPlanChange records an outstanding plan approval. A new record starts pending.
// It returns the superseded outstanding ref, if any.
func (r *Record) beginPlanChange(plan, ref string, trialDays int, exists bool) (string, error) {
	if ref == "" {
		return "", errors.Join(ErrInvariantViolation, ErrMissingReference)
	}
	if r.ActivatedAt != nil && trialDays > 0 {
		return "", errors.Join(ErrConcurrentChange, errors.New("approval carries a trial but the record is activated"))
	}
	if !exists || r.Status == "" {
		r.Status = StatusPending
	}

	superseded := ""
	if !r.Intent.IsNone() {
		superseded = r.Intent.Ref
	}
	r.Intent = PlanChange(plan, ref, trialDays)
	r.ExternalRef = ref
	return superseded, nil
}

// beginActivation records an outstanding end-trial approval and forgets the
// refs it replaces. It returns those refs so the caller can cancel them.
func (r *Record) beginActivation(ref string) ([]string, error) {
	if ref == "" {
		return nil, errors.Join(ErrInvariantViolation, ErrMissingReference)
	}
	if r.Plan == "" {
		return nil, ErrNothingToActivate
	}
	if r.ActivatedAt != nil && r.Status == StatusActive {
		return nil, ErrAlreadyActivated
	}

	replaced := uniqueRefs(r.ExternalRef, r.ConfirmedRef)
	r.Intent = Activation(ref)
	r.ExternalRef = ref
	r.ConfirmedRef = ""
	return replaced, nil
}

// confirmActive merges an ACTIVE confirmation for the record's current ref.
// It returns a previously confirmed ref that the new approval supersedes.
func (r *Record) confirmActive(ref string, now time.Time) (string, error) {
	if !r.matches(ref) {
		return "", ErrStaleReference
	}

	switch r.Intent.Kind {
	case IntentPlanChange:
		next, err := nextStatus(r.Status, eventActivate)
		if err != nil {
			return "", err
		}
		superseded := ""
		if r.ConfirmedRef != "" && r.ConfirmedRef != ref {
			superseded = r.ConfirmedRef
		}
		if r.ActivatedAt == nil {
			if r.Intent.TrialDays > 0 {
				if r.TrialEndsAt == nil {
					end := TrialEndsAt(now, r.Intent.TrialDays)
					r.TrialEndsAt = &end
				}
			} else {
				// an approval without trial bills immediately
				r.activate(now)
			}
		}
		r.endElapsedTrial(now)
		r.Plan = r.Intent.Plan
		r.Status = next
		r.CancelledAt, r.ExpiredAt = nil, nil
		r.ConfirmedRef = ref
		r.Intent = NoIntent()
		return superseded, nil

	case IntentActivation:
		next, err := nextStatus(r.Status, eventActivate)
		if err != nil {
			return "", err
		}
		r.activate(now)
		r.Status = next
		r.CancelledAt, r.ExpiredAt = nil, nil
		r.ConfirmedRef = ref
		r.Intent = NoIntent()
		return "", nil
	}

	// Repeated confirmation of the live approval. Payment recovery revives an
	// expired record; a cancelled one stays cancelled.
	if r.Status == StatusExpired {
		next, err := nextStatus(r.Status, eventActivate)
		if err != nil {
			return "", err
		}
		r.Status = next
		r.ExpiredAt = nil
	}
	if r.Status == StatusActive {
		r.endElapsedTrial(now)
	}
	return "", nil
}

// activate sets ActivatedAt once and ends the trial.
func (r *Record) activate(now time.Time) {
	if r.ActivatedAt == nil {
		t := now
		r.ActivatedAt = &t
	}
	r.TrialEndsAt = nil
}

// endElapsedTrial activates a record whose trial ran out while the approval
// stayed billed. Billing started when the trial ended, so that is the
// activation time.
func (r *Record) endElapsedTrial(now time.Time) {
	if r.ActivatedAt != nil || r.TrialEndsAt == nil || now.Before(*r.TrialEndsAt) {
		return
	}
	r.activate(*r.TrialEndsAt)
}

// confirmGone merges a CANCELLED or NOT_FOUND confirmation for the current ref.
// With an outstanding intent the approval was abandoned and the record reverts
// to its last confirmed state. Without one the live subscription was cancelled.
func (r *Record) confirmGone(ref string, now time.Time) error {
	if !r.matches(ref) {
		return ErrStaleReference
	}
	if !r.Intent.IsNone() {
		r.abandon()
		return nil
	}
	if r.Status == StatusActive {
		return r.cancel(now)
	}
	return nil
}

// abandon drops the outstanding intent. Status and plan are untouched.
func (r *Record) abandon() {
	r.Intent = NoIntent()
	r.ExternalRef = r.ConfirmedRef
}

// cancel moves the record to cancelled and drops any outstanding intent.
func (r *Record) cancel(now time.Time) error {
	if r.Status == StatusCancelled {
		r.abandon()
		return nil
	}
	next, err := nextStatus(r.Status, eventCancel)
	if err != nil {
		return err
	}
	r.Status = next
	r.CancelledAt = &now
	r.Intent = NoIntent()
	r.ExternalRef = r.ConfirmedRef
	return nil
}

// expire records a payment failure on an active record.
func (r *Record) expire(now time.Time) error {
	next, err := nextStatus(r.Status, eventExpire)
	if err != nil {
		return err
	}
	r.Status = next
	r.ExpiredAt = &now
	return nil
}

// exemptionApplied reports whether the record already is in its exempt shape.
func (r *Record) exemptionApplied(top string) bool {
	return r.IsExempt && r.Status == StatusActive && r.Plan == top &&
		r.ExternalRef == "" && r.ConfirmedRef == "" && r.Intent.IsNone()
}

// applyExemption forces the record to active on the top plan with no billing refs.
func (r *Record) applyExemption(top string) error {
	if r.Status == "" {
		r.Status = StatusPending
	}
	next, err := nextStatus(r.Status, eventExempt)
	if err != nil {
		return err
	}
	r.Status = next
	r.Plan = top
	r.IsExempt = true
	r.Intent = NoIntent()
	r.ExternalRef = ""
	r.ConfirmedRef = ""
	r.CancelledAt, r.ExpiredAt = nil, nil
	return nil
}

// billingRefs lists refs that may be live upstream.
func (r *Record) billingRefs() []string {
	return uniqueRefs(r.ExternalRef, r.ConfirmedRef)
}

func uniqueRefs(refs ...string) []string {
	out := make([]string, 0, len(refs))
	for _, ref := range refs {
		if ref == "" {
			continue
		}
		dup := false
		for _, seen := range out {
			if seen == ref {
				dup = true
				break
			}
		}
		if !dup {
			out = append(out, ref)
		}
	}
	return out
}
