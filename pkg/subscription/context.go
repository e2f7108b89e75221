package subscription

import (
	"context"
	"log/slog"

	"github.com/dmitrymomot/tierkit/pkg/logger"
)

type tenantIDCtxKey struct{}

// SetTenantIDToContext stores the tenant id resolved for the current request.
func SetTenantIDToContext(ctx context.Context, tenantID string) context.Context {
	return context.WithValue(ctx, tenantIDCtxKey{}, tenantID)
}

// GetTenantIDFromContext returns the tenant id stored by SetTenantIDToContext.
func GetTenantIDFromContext(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(tenantIDCtxKey{}).(string)
	return id, ok && id != ""
}

// TenantLogExtractor adds the request tenant to log records.
func TenantLogExtractor() logger.ContextExtractor {
	return func(ctx context.Context) (slog.Attr, bool) {
		id, ok := GetTenantIDFromContext(ctx)
		if !ok {
			return slog.Attr{}, false
		}
		return logger.TenantID(id), true
	}
}
