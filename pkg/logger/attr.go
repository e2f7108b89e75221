package logger

import (
	"log/slog"
	"strconv"
)

// Group creates a slog group attribute from the provided attributes.
func Group(name string, attrs ...slog.Attr) slog.Attr {
	return slog.Attr{Key: name, Value: slog.GroupValue(attrs...)}
}

// Errors groups multiple non-nil errors under the key "errors".
// If all errors are nil, it returns an empty Attr.
func Errors(errs ...error) slog.Attr {
	as := make([]slog.Attr, 0, len(errs))
	for i, err := range errs {
		if err != nil {
			as = append(as, slog.Any(strconv.Itoa(i), err))
		}
	}
	if len(as) == 0 {
		return slog.Attr{}
	}
	return slog.Attr{Key: "errors", Value: slog.GroupValue(as...)}
}

// Error creates an attribute for a single error under the key "error".
// If err is nil, it returns an empty Attr.
func Error(err error) slog.Attr {
	if err == nil {
		return slog.Attr{}
	}
	return slog.Any("error", err)
}

// TenantID records the tenant (shop) identifier under "tenant_id".
func TenantID(id string) slog.Attr {
	return slog.String("tenant_id", id)
}

// Reference records a billing authority reference id under "external_ref".
// Empty references produce an empty Attr.
func Reference(ref string) slog.Attr {
	if ref == "" {
		return slog.Attr{}
	}
	return slog.String("external_ref", ref)
}

// ReservationID records a token reservation id under "reservation_id".
func ReservationID(id string) slog.Attr {
	return slog.String("reservation_id", id)
}

// Plan records a plan id under "plan".
func Plan(id string) slog.Attr {
	return slog.String("plan", id)
}

// Feature records a metered feature name under "feature".
func Feature(name string) slog.Attr {
	return slog.String("feature", name)
}

// Tokens records a token amount under key.
func Tokens(key string, amount int64) slog.Attr {
	return slog.Int64(key, amount)
}

// Status records a subscription or reference status under "status".
func Status(s string) slog.Attr {
	return slog.String("status", s)
}

// RequestID records the request identifier under the key "request_id".
// If id is nil, it returns an empty Attr.
func RequestID(id any) slog.Attr {
	if id == nil {
		return slog.Attr{}
	}
	return slog.Any("request_id", id)
}

// RetryCount records the retry count under the key "retry_count".
func RetryCount(count int) slog.Attr {
	return slog.Int("retry_count", count)
}

// Duration records a duration under the key "duration".
func Duration(d any) slog.Attr {
	return slog.Any("duration", d)
}

// Component records the component name under the key "component".
func Component(name string) slog.Attr {
	return slog.String("component", name)
}
