// Package fake provides an in-memory billing authority.
//
// Every approval gets a sequential reference (ref-1, ref-2, ...) that starts
// PENDING. Tests flip statuses with SetStatus, inject failures with Fail and
// inspect calls with Calls.
package fake

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/dmitrymomot/tierkit/pkg/subscription"
)

// ErrInjected is returned by operations configured to fail.
var ErrInjected = errors.New("fake: injected failure")

// Op names an authority operation.
type Op string

const (
	OpCreate Op = "create"
	OpStatus Op = "status"
	OpCancel Op = "cancel"
)

// Call is a recorded invocation.
type Call struct {
	Op  Op
	Ref string
	Req subscription.CreateRequest
}

type entry struct {
	tenant string
	status subscription.RefStatus
}

// Authority is a concurrency-safe in-memory billing authority.
type Authority struct {
	mu      sync.Mutex
	seq     int
	refs    map[string]*entry
	order   []string
	failing map[Op]error
	calls   []Call
	baseURL string
}

// New creates an empty Authority.
func New() *Authority {
	return &Authority{
		refs:    make(map[string]*entry),
		failing: make(map[Op]error),
		baseURL: "https://billing.test/approve",
	}
}

func (a *Authority) CreateSubscription(_ context.Context, req subscription.CreateRequest) (*subscription.Approval, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.calls = append(a.calls, Call{Op: OpCreate, Req: req})
	if err := a.failing[OpCreate]; err != nil {
		return nil, err
	}

	a.seq++
	ref := fmt.Sprintf("ref-%d", a.seq)
	a.refs[ref] = &entry{tenant: req.TenantID, status: subscription.RefPending}
	a.order = append(a.order, ref)
	return &subscription.Approval{
		ReferenceID: ref,
		ApprovalURL: fmt.Sprintf("%s/%s?plan=%s&trial=%d", a.baseURL, ref, req.Plan.ID, req.TrialDays),
	}, nil
}

func (a *Authority) GetSubscriptionStatus(_ context.Context, ref string) (subscription.RefStatus, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.calls = append(a.calls, Call{Op: OpStatus, Ref: ref})
	if err := a.failing[OpStatus]; err != nil {
		return "", err
	}
	if e, ok := a.refs[ref]; ok {
		return e.status, nil
	}
	return subscription.RefNotFound, nil
}

func (a *Authority) CancelSubscription(_ context.Context, ref string) (bool, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.calls = append(a.calls, Call{Op: OpCancel, Ref: ref})
	if err := a.failing[OpCancel]; err != nil {
		return false, err
	}
	e, ok := a.refs[ref]
	if !ok || e.status == subscription.RefCancelled {
		return false, nil
	}
	e.status = subscription.RefCancelled
	return true, nil
}

// ActiveReferences lists the tenant's refs that are not cancelled.
func (a *Authority) ActiveReferences(_ context.Context, tenantID string) ([]string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	var out []string
	for _, ref := range a.order {
		e := a.refs[ref]
		if e.tenant == tenantID && e.status != subscription.RefCancelled {
			out = append(out, ref)
		}
	}
	return out, nil
}

// SetStatus changes the status of ref, as the merchant approving or a
// provider cancelling would.
func (a *Authority) SetStatus(ref string, status subscription.RefStatus) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if e, ok := a.refs[ref]; ok {
		e.status = status
	}
}

// Status returns the current status of ref.
func (a *Authority) Status(ref string) subscription.RefStatus {
	a.mu.Lock()
	defer a.mu.Unlock()
	if e, ok := a.refs[ref]; ok {
		return e.status
	}
	return subscription.RefNotFound
}

// Fail makes op return err until Recover is called. A nil err means ErrInjected.
func (a *Authority) Fail(op Op, err error) {
	if err == nil {
		err = ErrInjected
	}
	a.mu.Lock()
	a.failing[op] = err
	a.mu.Unlock()
}

// Recover clears injected failures for ops, or all of them when none are given.
func (a *Authority) Recover(ops ...Op) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if len(ops) == 0 {
		clear(a.failing)
		return
	}
	for _, op := range ops {
		delete(a.failing, op)
	}
}

// Calls returns recorded calls, filtered by op when given.
func (a *Authority) Calls(ops ...Op) []Call {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]Call, 0, len(a.calls))
	for _, c := range a.calls {
		if len(ops) == 0 || slices.Contains(ops, c.Op) {
			out = append(out, c)
		}
	}
	return out
}

// Cancelled returns refs whose cancellation was requested, in call order.
func (a *Authority) Cancelled() []string {
	var out []string
	for _, c := range a.Calls(OpCancel) {
		if !slices.Contains(out, c.Ref) {
			out = append(out, c.Ref)
		}
	}
	return out
}

var (
	_ subscription.BillingAuthority = (*Authority)(nil)
	_ subscription.ReferenceLister  = (*Authority)(nil)
)
