package audit

import (
	"context"
	"errors"
	"strings"

	"taskflow.dev/internal/auth"
	"taskflow.dev/internal/obs"
)

type ctxKey string

const requestIDKey ctxKey = "audit_request_id"

// WithRequestID attaches the request identifier to the context for audit logging.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	requestID = strings.TrimSpace(requestID)
	if requestID == "" {
		return ctx
	}
	return context.WithValue(ctx, requestIDKey, requestID)
}

// RequestIDFromContext extracts the request id from context if present.
func RequestIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if v, ok := ctx.Value(requestIDKey).(string); ok {
		return v
	}
	return ""
}

// LogEvent writes an audit entry for a state change on resourceType/resourceID,
// enriched with the request id and acting principal.
func LogEvent(ctx context.Context, event, resourceType, resourceID string, fields map[string]any) error {
	event = strings.TrimSpace(event)
	if event == "" {
		return errors.New("event name is required")
	}
	attrs := []any{
		"type", "audit",
		"event", event,
	}
	if resourceType != "" {
		attrs = append(attrs, "resource_type", resourceType, "resource_id", resourceID)
	}
	if rid := RequestIDFromContext(ctx); rid != "" {
		attrs = append(attrs, "request_id", rid)
	}
	if principalID := auth.PrincipalID(ctx); principalID != "" {
		attrs = append(attrs, "principal_id", principalID)
	}
	copyFields := make(map[string]any, len(fields))
	for k, v := range fields {
		copyFields[k] = v
	}
	attrs = append(attrs, "fields", copyFields)

	obs.Logger().InfoContext(ctx, "audit", attrs...)
	return nil
}
