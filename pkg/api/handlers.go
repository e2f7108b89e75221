package api

import (
	"net/http"
	"net/url"

	"github.com/dmitrymomot/tierkit/pkg/logger"
	"github.com/dmitrymomot/tierkit/pkg/subscription"
)

type subscribeRequest struct {
	Plan      string `json:"plan"`
	EndTrial  bool   `json:"end_trial"`
	TrialDays *int   `json:"trial_days,omitempty"`
	ReturnURL string `json:"return_url,omitempty"`
}

type activateRequest struct {
	ReturnURL string `json:"return_url,omitempty"`
}

type tokensResponse struct {
	TenantID         string `json:"tenant_id"`
	Balance          int64  `json:"balance"`
	Included         int64  `json:"included"`
	Purchased        int64  `json:"purchased"`
	Reserved         int64  `json:"reserved"`
	OpenReservations int    `json:"open_reservations"`
	TotalUsed        int64  `json:"total_used"`
}

func (rt *router) fail(w http.ResponseWriter, r *http.Request, err error) {
	code, kind := statusFor(err)
	if code >= http.StatusInternalServerError {
		rt.logger.ErrorContext(r.Context(), "request failed", logger.Error(err))
	}
	writeError(w, code, kind, err.Error())
}

func tenantFrom(r *http.Request) string {
	id, _ := subscription.GetTenantIDFromContext(r.Context())
	return id
}

func (rt *router) plans(w http.ResponseWriter, r *http.Request) {
	public := make([]subscription.Plan, 0)
	for _, p := range rt.svc.Catalog().Plans() {
		if p.Public {
			public = append(public, p)
		}
	}
	writeJSON(w, http.StatusOK, public)
}

func (rt *router) entitlement(w http.ResponseWriter, r *http.Request) {
	ent, err := rt.svc.Entitlement(r.Context(), tenantFrom(r))
	if err != nil {
		rt.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ent)
}

func (rt *router) subscribe(w http.ResponseWriter, r *http.Request) {
	var req subscribeRequest
	if err := decodeJSON(r, &req); err != nil {
		rt.fail(w, r, err)
		return
	}
	if req.Plan == "" {
		writeError(w, http.StatusBadRequest, "invalid_body", "plan is required")
		return
	}
	approval, err := rt.svc.Subscribe(r.Context(), tenantFrom(r), req.Plan, subscription.SubscribeOptions{
		EndTrial:  req.EndTrial,
		TrialDays: req.TrialDays,
		ReturnURL: req.ReturnURL,
	})
	if err != nil {
		rt.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, approval)
}

func (rt *router) activate(w http.ResponseWriter, r *http.Request) {
	var req activateRequest
	if err := decodeJSON(r, &req); err != nil {
		rt.fail(w, r, err)
		return
	}
	approval, err := rt.svc.Activate(r.Context(), tenantFrom(r), subscription.ActivateOptions{ReturnURL: req.ReturnURL})
	if err != nil {
		rt.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, approval)
}

func (rt *router) cancel(w http.ResponseWriter, r *http.Request) {
	rec, err := rt.svc.Cancel(r.Context(), tenantFrom(r))
	if err != nil {
		rt.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (rt *router) tokens(w http.ResponseWriter, r *http.Request) {
	b, err := rt.ledger.Get(r.Context(), tenantFrom(r))
	if err != nil {
		rt.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, tokensResponse{
		TenantID:         b.TenantID,
		Balance:          b.Balance,
		Included:         b.Included,
		Purchased:        b.Purchased(),
		Reserved:         b.Reserved(),
		OpenReservations: b.OpenReservations(),
		TotalUsed:        b.TotalUsed,
	})
}

// callback confirms the approval the merchant returned from and redirects
// to the app. Failures are reported to the app through the error parameter.
func (rt *router) callback(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	ref := q.Get("ref")
	if ref == "" {
		ref = q.Get("_ptxn")
	}
	params := subscription.CallbackParams{
		TenantID:    q.Get("tenant"),
		Plan:        q.Get("plan"),
		ReferenceID: ref,
	}

	result := url.Values{}
	rec, err := rt.svc.HandleCallback(r.Context(), params)
	if err != nil {
		code, kind := statusFor(err)
		if code >= http.StatusInternalServerError {
			rt.logger.ErrorContext(r.Context(), "billing callback failed",
				logger.TenantID(params.TenantID), logger.Reference(params.ReferenceID), logger.Error(err))
		}
		if params.TenantID == "" {
			kind = "missing_tenant"
		}
		result.Set("error", kind)
	} else {
		result.Set("status", string(rec.Status))
		if rec.Plan != "" {
			result.Set("plan", rec.Plan)
		}
		if p := rec.PendingPlan(); p != "" {
			result.Set("pending", p)
		}
	}
	http.Redirect(w, r, withQuery(rt.appURL, result), http.StatusSeeOther)
}

func withQuery(base string, v url.Values) string {
	u, err := url.Parse(base)
	if err != nil {
		return base
	}
	q := u.Query()
	for k, vals := range v {
		for _, val := range vals {
			q.Add(k, val)
		}
	}
	u.RawQuery = q.Encode()
	return u.String()
}
