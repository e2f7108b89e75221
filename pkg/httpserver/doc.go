// Package httpserver runs an http.Server for the lifetime of a context.
//
// Run blocks until the context passed to it is cancelled, then shuts the
// server down gracefully within the configured timeout. Signal handling is
// left to the caller, usually through signal.NotifyContext.
//
//	srv := httpserver.NewFromConfig(cfg, httpserver.WithLogger(log))
//	if err := srv.Run(ctx, router); err != nil {
//		return err
//	}
//
// LivenessHandler and ReadinessHandler serve health checks. Readiness runs
// named dependency checks and reports each result.
package httpserver
