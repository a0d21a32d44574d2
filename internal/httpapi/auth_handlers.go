package httpapi

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"tillbase.io/internal/audit"
	"tillbase.io/internal/auth"
	"tillbase.io/internal/iam"
	"tillbase.io/internal/ids"
	"tillbase.io/internal/session"
	"tillbase.io/internal/tenant"
)

type loginRequest struct {
	CompanyID string `json:"company_id"`
	Email     string `json:"email"`
	Password  string `json:"password"`
}

type loginResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
	SessionID string    `json:"session_id"`
}

type logoutRequest struct {
	SessionID string `json:"session_id"`
}

// defaultSessionLimit applies when a user's roles carry no explicit
// MaxConcurrentSessions; one live session keeps bootstrap accounts usable.
const defaultSessionLimit = 1

func (a *API) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	req.CompanyID = strings.TrimSpace(req.CompanyID)
	req.Email = strings.TrimSpace(strings.ToLower(req.Email))
	if req.CompanyID == "" || req.Email == "" || req.Password == "" {
		writeError(w, r, http.StatusBadRequest, "company_id, email and password are required")
		return
	}

	user, err := a.store.Users(r.Context()).FindByEmail(r.Context(), req.CompanyID, req.Email)
	if err != nil {
		// Indistinguishable from a wrong password on purpose.
		writeError(w, r, http.StatusUnauthorized, "invalid credentials")
		return
	}
	if err := auth.VerifyPassword(user.PasswordHash, req.Password); err != nil {
		_ = audit.LogEvent(r.Context(), "auth.login.failed", map[string]any{
			"company_id": req.CompanyID,
			"email":      req.Email,
		})
		writeError(w, r, http.StatusUnauthorized, "invalid credentials")
		return
	}
	if user.Status != iam.UserStatusActive || user.DeletedAt != nil {
		writeError(w, r, http.StatusForbidden, "account disabled")
		return
	}

	// The principal lookup and limit fold run scoped queries, so bind the
	// authenticated user's tenant before touching them.
	ctx := tenant.With(r.Context(), tenant.Context{
		CompanyID:      user.CompanyID,
		BusinessUnitID: user.BusinessUnitID,
		UserID:         user.ID,
	})
	principal, err := a.iam.Principal(ctx, user.ID)
	if err != nil {
		writeError(w, r, http.StatusForbidden, "account unavailable")
		return
	}

	sessionID := ids.NewPrefixed("ses")
	if a.sessions != nil {
		limit := principal.Limits().Security.MaxConcurrentSessions
		if limit <= 0 {
			limit = defaultSessionLimit
		}
		if err := a.sessions.Begin(ctx, user.ID, sessionID, limit); err != nil {
			if errors.Is(err, session.ErrSessionLimit) {
				_ = audit.LogEvent(ctx, "auth.login.session_limit", map[string]any{
					"limit": limit,
				})
				writeError(w, r, http.StatusTooManyRequests, "concurrent session limit reached")
				return
			}
			writeError(w, r, http.StatusInternalServerError, "session registration failed")
			return
		}
	}

	token, expiresAt, err := a.tokens.Generate(user.ID, principal.RoleNames(), user.CompanyID, user.BusinessUnitID)
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, "token generation failed")
		return
	}

	_ = audit.LogEvent(ctx, "auth.login", map[string]any{
		"session_id": sessionID,
		"roles":      principal.RoleNames(),
		"expires_at": expiresAt.Format(time.RFC3339),
	})
	writeJSON(w, http.StatusOK, loginResponse{
		Token:     token,
		ExpiresAt: expiresAt,
		SessionID: sessionID,
	})
}

func (a *API) handleLogout(w http.ResponseWriter, r *http.Request) {
	principal, ok := auth.PrincipalFromContext(r.Context())
	if !ok {
		writeError(w, r, http.StatusUnauthorized, "authentication required")
		return
	}
	var req logoutRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if req.SessionID == "" {
		writeError(w, r, http.StatusBadRequest, "session_id is required")
		return
	}
	if a.sessions != nil {
		if err := a.sessions.End(r.Context(), principal.User.ID, req.SessionID); err != nil {
			writeError(w, r, http.StatusInternalServerError, "logout failed")
			return
		}
	}
	_ = audit.LogEvent(r.Context(), "auth.logout", map[string]any{
		"session_id": req.SessionID,
	})
	w.WriteHeader(http.StatusNoContent)
}
