package auth

import (
	"context"

	"tillbase.io/internal/iam"
)

type principalContextKey struct{}

// ContextWithPrincipal attaches the authenticated principal to the context.
func ContextWithPrincipal(ctx context.Context, principal iam.Principal) context.Context {
	return context.WithValue(ctx, principalContextKey{}, &principal)
}

// PrincipalFromContext extracts the authenticated principal from the context.
func PrincipalFromContext(ctx context.Context) (iam.Principal, bool) {
	if ctx == nil {
		return iam.Principal{}, false
	}
	v, ok := ctx.Value(principalContextKey{}).(*iam.Principal)
	if !ok || v == nil {
		return iam.Principal{}, false
	}
	return *v, true
}
