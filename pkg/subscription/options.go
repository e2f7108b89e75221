package subscription

import (
	"log/slog"
	"time"

	"github.com/dmitrymomot/tierkit/pkg/kv"
)

// ServiceOption configures a Service instance.
type ServiceOption func(*service)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) ServiceOption {
	return func(s *service) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithExemption sets the exemption predicate. Defaults to NoExemptions.
func WithExemption(fn ExemptionFunc) ServiceOption {
	return func(s *service) {
		if fn != nil {
			s.exempt = fn
		}
	}
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) ServiceOption {
	return func(s *service) {
		if now != nil {
			s.now = now
		}
	}
}

// WithRetryPolicy sets the optimistic concurrency retry policy for record writes.
func WithRetryPolicy(p kv.RetryPolicy) ServiceOption {
	return func(s *service) {
		s.retry = p
	}
}

// WithDefaultReturnURL is used when a request carries no return URL.
func WithDefaultReturnURL(url string) ServiceOption {
	return func(s *service) {
		s.returnURL = url
	}
}
