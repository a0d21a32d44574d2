// Package audit emits structured audit entries for security-relevant events:
// logins, role changes, authorization denials and cross-tenant bypasses.
package audit

import (
	"context"
	"errors"
	"strings"

	"tillbase.io/internal/auth"
	"tillbase.io/internal/obs"
	"tillbase.io/internal/tenant"
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

// RequestIDFromContext extracts the audit request id from context if present.
func RequestIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if v, ok := ctx.Value(requestIDKey).(string); ok {
		return v
	}
	return ""
}

// LogEvent writes an audit entry enriched with request, user and tenant
// context. Audit entries share the service log stream but carry type=audit so
// they can be split out downstream.
func LogEvent(ctx context.Context, event string, fields map[string]any) error {
	event = strings.TrimSpace(event)
	if event == "" {
		return errors.New("event name is required")
	}
	entry := map[string]any{
		"type":  "audit",
		"event": event,
	}
	if rid := RequestIDFromContext(ctx); rid != "" {
		entry["request_id"] = rid
	}
	if p, ok := auth.PrincipalFromContext(ctx); ok {
		entry["user_id"] = p.User.ID
	}
	if tc, ok := tenant.Current(ctx); ok {
		entry["company_id"] = tc.CompanyID
		if tc.BusinessUnitID != "" {
			entry["business_unit_id"] = tc.BusinessUnitID
		}
	}
	if reason, ok := tenant.BypassReason(ctx); ok {
		entry["tenant_bypass_reason"] = reason
	}
	for k, v := range fields {
		if _, taken := entry[k]; !taken {
			entry[k] = v
		}
	}
	obs.Logger().WithFields(entry).Info("audit")
	return nil
}
