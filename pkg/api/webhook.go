package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/dmitrymomot/tierkit/pkg/billing/paddle"
	"github.com/dmitrymomot/tierkit/pkg/logger"
	"github.com/dmitrymomot/tierkit/pkg/metrics"
	"github.com/dmitrymomot/tierkit/pkg/subscription"
	"github.com/dmitrymomot/tierkit/pkg/webhook"
)

const (
	providerPaddle = "paddle"
	providerSigned = "signed"

	paddleSignatureHeader = "Paddle-Signature"
)

// signedEvent is the body of an HMAC-signed notification.
type signedEvent struct {
	Kind        string `json:"kind"`
	TenantID    string `json:"tenant_id"`
	ReferenceID string `json:"reference_id"`
	Status      string `json:"status"`
}

func (e signedEvent) normalize() (subscription.WebhookEvent, error) {
	ev := subscription.WebhookEvent{
		Kind:        subscription.EventKind(e.Kind),
		TenantID:    e.TenantID,
		ReferenceID: e.ReferenceID,
	}
	switch ev.Kind {
	case subscription.EventPaymentFailed:
		return ev, nil
	case "", subscription.EventStatusChanged:
		ev.Kind = subscription.EventStatusChanged
	default:
		return ev, errUnknownEventKind
	}
	status, err := subscription.ParseRefStatus(e.Status)
	if err != nil {
		return ev, err
	}
	ev.Status = status
	return ev, nil
}

var errUnknownEventKind = errors.New("api: unknown webhook event kind")

func (rt *router) webhook(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	provider := providerSigned
	if rt.paddle != nil && r.Header.Get(paddleSignatureHeader) != "" {
		provider = providerPaddle
	}

	code := rt.handleWebhook(w, r, provider)

	metrics.WebhookRequestsTotal.WithLabelValues(provider, strconv.Itoa(code)).Inc()
	metrics.WebhookDuration.WithLabelValues(provider).Observe(time.Since(start).Seconds())
}

func (rt *router) handleWebhook(w http.ResponseWriter, r *http.Request, provider string) int {
	ctx := r.Context()
	ev, err := rt.parseWebhook(r, provider)
	switch {
	case err == nil:
	case errors.Is(err, paddle.ErrIgnoredEvent):
		w.WriteHeader(http.StatusOK)
		return http.StatusOK
	case errors.Is(err, paddle.ErrInvalidSignature),
		errors.Is(err, webhook.ErrMissingSignature),
		errors.Is(err, webhook.ErrInvalidSignature),
		errors.Is(err, webhook.ErrExpiredSignature):
		rt.logger.WarnContext(ctx, "webhook rejected", logger.Error(err))
		writeError(w, http.StatusUnauthorized, "invalid_signature", "signature verification failed")
		return http.StatusUnauthorized
	case errors.Is(err, webhook.ErrInvalidConfiguration):
		rt.logger.ErrorContext(ctx, "signed webhooks are not configured", logger.Error(err))
		writeError(w, http.StatusServiceUnavailable, "not_configured", "webhook endpoint is not configured")
		return http.StatusServiceUnavailable
	case errors.Is(err, subscription.ErrUnknownRefStatus), errors.Is(err, errUnknownEventKind):
		// unknown statuses are acknowledged so the sender does not retry forever
		rt.logger.WarnContext(ctx, "webhook with unknown status ignored", logger.Error(err))
		w.WriteHeader(http.StatusOK)
		return http.StatusOK
	case errors.Is(err, paddle.ErrOriginLookup):
		rt.logger.ErrorContext(ctx, "webhook reference lookup failed", logger.Error(err))
		writeError(w, http.StatusBadGateway, "billing_unavailable", "billing provider lookup failed")
		return http.StatusBadGateway
	default:
		writeError(w, http.StatusBadRequest, "invalid_payload", err.Error())
		return http.StatusBadRequest
	}

	if err := rt.svc.HandleWebhook(ctx, ev); err != nil {
		rt.logger.ErrorContext(ctx, "webhook processing failed",
			logger.TenantID(ev.TenantID), logger.Reference(ev.ReferenceID), logger.Error(err))
		writeError(w, http.StatusInternalServerError, "internal", "webhook processing failed")
		return http.StatusInternalServerError
	}
	w.WriteHeader(http.StatusOK)
	return http.StatusOK
}

func (rt *router) parseWebhook(r *http.Request, provider string) (subscription.WebhookEvent, error) {
	if provider == providerPaddle {
		ev, err := rt.paddle.ParseWebhook(r)
		if err != nil {
			return subscription.WebhookEvent{}, err
		}
		return *ev, nil
	}

	body, err := webhook.VerifyRequest(r, rt.webhookSecret, rt.webhookMaxAge)
	if err != nil {
		return subscription.WebhookEvent{}, err
	}
	var raw signedEvent
	if err := json.Unmarshal(body, &raw); err != nil {
		return subscription.WebhookEvent{}, errors.Join(webhook.ErrInvalidPayload, err)
	}
	return raw.normalize()
}
