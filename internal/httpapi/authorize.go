package httpapi

import (
	"errors"
	"net/http"

	"tillbase.io/internal/audit"
	"tillbase.io/internal/auth"
	"tillbase.io/internal/iam"
	"tillbase.io/internal/tenant"
)

// authorize guards a handler behind a resolver decision for (source, action).
// Denials are audited with the winning group so operators can explain them.
func (a *API) authorize(source, action string, next http.HandlerFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		principal, ok := auth.PrincipalFromContext(r.Context())
		if !ok {
			writeError(w, r, http.StatusUnauthorized, "authentication required")
			return
		}
		d, err := a.iam.Authorize(r.Context(), principal.User.ID, source, action)
		if err != nil {
			_ = audit.LogEvent(r.Context(), "authz.denied", map[string]any{
				"source": source,
				"action": action,
				"group":  d.Group,
				"reason": d.Reason,
			})
			handleIAMError(w, r, err)
			return
		}
		next(w, r)
	})
}

// requireRole is a coarse decorator for endpoints gated on role membership
// rather than a permission pair.
func (a *API) requireRole(names []string, next http.HandlerFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		principal, ok := auth.PrincipalFromContext(r.Context())
		if !ok {
			writeError(w, r, http.StatusUnauthorized, "authentication required")
			return
		}
		for _, n := range names {
			if principal.HasRole(n) {
				next(w, r)
				return
			}
		}
		writeError(w, r, http.StatusForbidden, "role required")
	})
}

func handleIAMError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, iam.ErrInvalidInput):
		writeError(w, r, http.StatusBadRequest, err.Error())
	case errors.Is(err, iam.ErrAlreadyExists):
		writeError(w, r, http.StatusConflict, err.Error())
	case errors.Is(err, iam.ErrNotFound):
		writeError(w, r, http.StatusNotFound, err.Error())
	case errors.Is(err, iam.ErrPermissionInUse):
		writeError(w, r, http.StatusConflict, err.Error())
	case errors.Is(err, iam.ErrUnknownPermission), errors.Is(err, iam.ErrPermissionDenied):
		writeError(w, r, http.StatusForbidden, "permission denied")
	case errors.Is(err, tenant.ErrContextMissing):
		writeError(w, r, http.StatusForbidden, "tenant context missing")
	case errors.Is(err, iam.ErrInvalidPermissionGraph):
		// Configuration integrity failure; the alarm already fired.
		writeError(w, r, http.StatusInternalServerError, "authorization misconfigured")
	default:
		writeError(w, r, http.StatusInternalServerError, "iam operation failed")
	}
}
