package tenant

import (
	"context"
	"errors"
	"strings"
)

// ErrContextMissing is returned when a tenant-scoped operation runs without a
// bound tenant context and without the cross-tenant escape hatch. Defaulting
// to an unfiltered query is never acceptable, so callers must treat this as a
// terminal rejection for the request.
var ErrContextMissing = errors.New("tenant: context missing")

// Context identifies the tenant a request operates within. It is bound once
// per request by the authentication middleware and is immutable afterwards.
type Context struct {
	CompanyID      string
	BusinessUnitID string
	UserID         string
}

// IsZero reports whether no tenant identity is carried.
func (c Context) IsZero() bool {
	return c.CompanyID == "" && c.BusinessUnitID == "" && c.UserID == ""
}

type tenantContextKey struct{}
type bypassContextKey struct{}

// With binds the tenant identity to the request context. Binding is
// per-request: the value travels with the context chain only, never through
// package state, so concurrent requests cannot observe each other's tenant.
func With(ctx context.Context, tc Context) context.Context {
	return context.WithValue(ctx, tenantContextKey{}, tc)
}

// Run executes fn with tc bound. The binding is released when fn returns; the
// caller's context is never mutated.
func Run(ctx context.Context, tc Context, fn func(context.Context) error) error {
	return fn(With(ctx, tc))
}

// Current returns the bound tenant identity, if any.
func Current(ctx context.Context) (Context, bool) {
	if ctx == nil {
		return Context{}, false
	}
	tc, ok := ctx.Value(tenantContextKey{}).(Context)
	if !ok || tc.IsZero() {
		return Context{}, false
	}
	return tc, true
}

// Require returns the bound tenant identity or ErrContextMissing.
func Require(ctx context.Context) (Context, error) {
	tc, ok := Current(ctx)
	if !ok {
		return Context{}, ErrContextMissing
	}
	return tc, nil
}

// WithBypass arms the cross-tenant escape hatch for platform-level operations.
// The reason is mandatory and ends up in the audit log; an empty reason leaves
// the context unchanged so scoped queries stay filtered.
func WithBypass(ctx context.Context, reason string) context.Context {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return ctx
	}
	return context.WithValue(ctx, bypassContextKey{}, reason)
}

// BypassReason reports whether the escape hatch is armed and why.
func BypassReason(ctx context.Context) (string, bool) {
	if ctx == nil {
		return "", false
	}
	v, ok := ctx.Value(bypassContextKey{}).(string)
	if !ok || v == "" {
		return "", false
	}
	return v, true
}
