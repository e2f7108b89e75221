package api

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/dmitrymomot/tierkit/pkg/httpserver"
	"github.com/dmitrymomot/tierkit/pkg/subscription"
)

// Config is loaded from TIERKIT_* environment variables.
type Config struct {
	// AppURL is where merchants land after the billing callback.
	AppURL        string        `env:"TIERKIT_APP_URL" envDefault:"/"`
	WebhookSecret string        `env:"TIERKIT_WEBHOOK_SECRET"`
	WebhookMaxAge time.Duration `env:"TIERKIT_WEBHOOK_MAX_AGE" envDefault:"5m"`
	TenantHeader  string        `env:"TIERKIT_TENANT_HEADER" envDefault:"X-Tenant-ID"`
}

// WebhookParser verifies and normalizes provider notifications.
type WebhookParser interface {
	ParseWebhook(r *http.Request) (*subscription.WebhookEvent, error)
}

// Option configures the router.
type Option func(*router)

func WithLogger(l *slog.Logger) Option {
	return func(r *router) {
		if l != nil {
			r.logger = l
		}
	}
}

// WithConfig applies cfg. Empty fields keep their defaults.
func WithConfig(cfg Config) Option {
	return func(r *router) {
		if cfg.AppURL != "" {
			r.appURL = cfg.AppURL
		}
		if cfg.WebhookSecret != "" {
			r.webhookSecret = cfg.WebhookSecret
		}
		if cfg.WebhookMaxAge > 0 {
			r.webhookMaxAge = cfg.WebhookMaxAge
		}
		if cfg.TenantHeader != "" {
			r.tenantHeader = cfg.TenantHeader
		}
	}
}

// WithPaddle routes notifications carrying a Paddle-Signature header to p.
func WithPaddle(p WebhookParser) Option {
	return func(r *router) { r.paddle = p }
}

// WithReadinessCheck adds a named dependency check to /health/ready.
func WithReadinessCheck(name string, check httpserver.Check) Option {
	return func(r *router) { r.checks[name] = check }
}

// WithMetricsHandler replaces the default prometheus handler.
func WithMetricsHandler(h http.Handler) Option {
	return func(r *router) { r.metrics = h }
}
