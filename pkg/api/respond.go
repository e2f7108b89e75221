package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/dmitrymomot/tierkit/pkg/subscription"
	"github.com/dmitrymomot/tierkit/pkg/tokens"
)

const maxBodySize = 1 << 20

type errorBody struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, kind, msg string) {
	writeJSON(w, code, errorBody{Error: kind, Message: msg})
}

// decodeJSON reads an optional JSON body into v. An empty body leaves v untouched.
func decodeJSON(r *http.Request, v any) error {
	if ct := r.Header.Get("Content-Type"); ct != "" && !strings.HasPrefix(strings.ToLower(ct), "application/json") {
		return errUnsupportedMediaType
	}
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodySize))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil && !errors.Is(err, io.EOF) {
		return errors.Join(errInvalidBody, err)
	}
	return nil
}

var (
	errInvalidBody          = errors.New("api: invalid request body")
	errUnsupportedMediaType = errors.New("api: content type must be application/json")
)

// statusFor maps domain errors to HTTP status codes and stable error kinds.
func statusFor(err error) (int, string) {
	switch {
	case errors.Is(err, errUnsupportedMediaType):
		return http.StatusUnsupportedMediaType, "unsupported_media_type"
	case errors.Is(err, errInvalidBody):
		return http.StatusBadRequest, "invalid_body"
	case errors.Is(err, subscription.ErrTenantExempt):
		return http.StatusConflict, "tenant_exempt"
	case errors.Is(err, subscription.ErrAlreadyOnPlan):
		return http.StatusConflict, "already_on_plan"
	case errors.Is(err, subscription.ErrAlreadyActivated):
		return http.StatusConflict, "already_activated"
	case errors.Is(err, subscription.ErrNothingToActivate):
		return http.StatusConflict, "nothing_to_activate"
	case errors.Is(err, subscription.ErrConcurrentChange):
		return http.StatusConflict, "concurrent_change"
	case errors.Is(err, subscription.ErrPlanNotFound):
		return http.StatusNotFound, "plan_not_found"
	case errors.Is(err, subscription.ErrRecordNotFound):
		return http.StatusNotFound, "subscription_not_found"
	case errors.Is(err, subscription.ErrCollaboratorUnavailable):
		return http.StatusBadGateway, "billing_unavailable"
	case errors.Is(err, subscription.ErrStoreUnavailable), errors.Is(err, tokens.ErrStoreUnavailable):
		return http.StatusServiceUnavailable, "store_unavailable"
	}
	return http.StatusInternalServerError, "internal"
}
