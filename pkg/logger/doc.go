// Package logger builds the *slog.Logger used across tierkit services.
//
// New returns a logger configured through functional options: output format,
// level, static attributes and ContextExtractor callbacks that pull values
// such as the request id or tenant id out of context.Context on every record.
//
// Attribute helpers (TenantID, Reference, ReservationID, Plan, Feature, ...)
// keep key names consistent between the subscription reconciler, the token
// ledger and the HTTP layer, so log queries can join on the same keys.
//
// # Usage
//
//	log := logger.New(
//	    logger.WithEnvironment(cfg.Env, "tierkit"),
//	    logger.WithContextValue("request_id", requestIDKey{}),
//	)
//	logger.SetAsDefault(log)
//
//	log.InfoContext(ctx, "subscription confirmed",
//	    logger.TenantID(tenantID),
//	    logger.Reference(ref),
//	)
//
// Error and Errors return an empty attribute for nil errors, so they can be
// passed unconditionally.
package logger
