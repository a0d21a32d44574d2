package httpapi

import (
	"errors"
	"net/http"
	"strings"

	"tillbase.io/internal/auth"
	"tillbase.io/internal/tenant"
)

const (
	authHeader = "Authorization"
	bearer     = "Bearer "
)

var publicPaths = []string{
	"/v1/auth/login",
	"/metrics",
	"/healthz",
	"/readyz",
	"/v1/info",
}

// withAuth authenticates the bearer token, loads the principal and binds the
// tenant context. Everything downstream can assume both are present; the
// tenant binding travels on the request context only, so concurrent requests
// for different companies never bleed into each other.
func (a *API) withAuth(next http.Handler) http.Handler {
	if a.tokens == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodOptions || isPublicPath(r.URL.Path) {
			next.ServeHTTP(w, r)
			return
		}

		token, err := extractBearerToken(r.Header.Get(authHeader))
		if err != nil {
			writeError(w, r, http.StatusUnauthorized, err.Error())
			return
		}

		claims, err := a.tokens.ParseAndValidate(token)
		if err != nil {
			if errors.Is(err, auth.ErrInvalidToken) {
				writeError(w, r, http.StatusUnauthorized, "invalid token")
			} else {
				writeError(w, r, http.StatusInternalServerError, "authentication error")
			}
			return
		}

		// A token that authenticates but names no subject or company cannot
		// be bound to a tenant; reject it here rather than letting the
		// scoped principal query fail with a misleading status.
		if strings.TrimSpace(claims.Subject) == "" || strings.TrimSpace(claims.CompanyID) == "" {
			writeError(w, r, http.StatusForbidden, "tenant context missing")
			return
		}

		// Tenant first: the principal lookup itself runs scoped queries.
		ctx := tenant.With(r.Context(), tenant.Context{
			CompanyID:      claims.CompanyID,
			BusinessUnitID: claims.BusinessUnitID,
			UserID:         claims.Subject,
		})

		principal, err := a.iam.Principal(ctx, claims.Subject)
		if err != nil {
			writeError(w, r, http.StatusUnauthorized, "principal unavailable")
			return
		}
		ctx = auth.ContextWithPrincipal(ctx, principal)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func extractBearerToken(header string) (string, error) {
	header = strings.TrimSpace(header)
	if header == "" {
		return "", errors.New("missing bearer token")
	}
	if !strings.HasPrefix(strings.ToLower(header), strings.ToLower(bearer)) {
		return "", errors.New("invalid authorization scheme")
	}
	token := strings.TrimSpace(header[len(bearer):])
	if token == "" {
		return "", errors.New("missing bearer token")
	}
	return token, nil
}

func isPublicPath(path string) bool {
	for _, p := range publicPaths {
		if path == p {
			return true
		}
	}
	return false
}
