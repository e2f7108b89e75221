package api

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/dmitrymomot/tierkit/pkg/httpserver"
	"github.com/dmitrymomot/tierkit/pkg/logger"
	"github.com/dmitrymomot/tierkit/pkg/subscription"
	"github.com/dmitrymomot/tierkit/pkg/tokens"
)

type router struct {
	svc    subscription.Service
	ledger tokens.Ledger
	paddle WebhookParser

	logger        *slog.Logger
	appURL        string
	webhookSecret string
	webhookMaxAge time.Duration
	tenantHeader  string
	checks        map[string]httpserver.Check
	metrics       http.Handler
}

// NewRouter builds the HTTP handler. Panics if svc or ledger is nil.
func NewRouter(svc subscription.Service, ledger tokens.Ledger, opts ...Option) http.Handler {
	if svc == nil || ledger == nil {
		panic("api: subscription service and token ledger are required")
	}
	rt := &router{
		svc:           svc,
		ledger:        ledger,
		logger:        logger.Discard(),
		appURL:        "/",
		webhookMaxAge: 5 * time.Minute,
		tenantHeader:  "X-Tenant-ID",
		checks:        make(map[string]httpserver.Check),
		metrics:       promhttp.Handler(),
	}
	for _, opt := range opts {
		opt(rt)
	}
	rt.logger = rt.logger.With(logger.Component("api"))

	r := chi.NewRouter()
	r.Use(requestID)
	r.Use(middleware.Recoverer)

	r.Get("/health/live", httpserver.LivenessHandler())
	r.Get("/health/ready", httpserver.ReadinessHandler(rt.logger, 2*time.Second, rt.checks))
	r.Handle("/metrics", rt.metrics)

	r.Route("/billing", func(r chi.Router) {
		r.Get("/callback", rt.callback)
		r.Post("/webhook", rt.webhook)
		r.Get("/plans", rt.plans)

		r.Group(func(r chi.Router) {
			r.Use(rt.tenant)
			r.Get("/subscription", rt.entitlement)
			r.Post("/subscribe", rt.subscribe)
			r.Post("/activate", rt.activate)
			r.Post("/cancel", rt.cancel)
			r.Get("/tokens", rt.tokens)
		})
	})
	return r
}
