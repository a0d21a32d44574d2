package httpapi

import (
	"net/http"
	"strings"

	"github.com/gorilla/mux"

	"tillbase.io/internal/audit"
	"tillbase.io/internal/auth"
	"tillbase.io/internal/iam"
)

type createUserRequest struct {
	Email          string `json:"email"`
	Password       string `json:"password"`
	BusinessUnitID string `json:"business_unit_id"`
}

type userStatusRequest struct {
	Status string `json:"status"`
}

func (a *API) handleCreateUser(w http.ResponseWriter, r *http.Request) {
	principal, ok := a.currentPrincipal(w, r)
	if !ok {
		return
	}
	var req createUserRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if strings.TrimSpace(req.Email) == "" {
		writeError(w, r, http.StatusBadRequest, "email is required")
		return
	}
	hash, err := auth.HashPassword(req.Password)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	user := &iam.User{
		CompanyID:      principal.User.CompanyID,
		BusinessUnitID: req.BusinessUnitID,
		Email:          strings.ToLower(strings.TrimSpace(req.Email)),
		PasswordHash:   hash,
		Status:         iam.UserStatusActive,
	}
	if err := a.store.Users(r.Context()).Create(r.Context(), user); err != nil {
		handleIAMError(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), "iam.user.create", map[string]any{
		"created_user_id": user.ID,
		"email":           user.Email,
	})
	writeJSON(w, http.StatusCreated, user)
}

func (a *API) handleUserStatus(w http.ResponseWriter, r *http.Request) {
	var req userStatusRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	switch req.Status {
	case iam.UserStatusActive, iam.UserStatusDisabled:
	default:
		writeError(w, r, http.StatusBadRequest, "status must be active or disabled")
		return
	}
	userID := mux.Vars(r)["id"]
	if err := a.store.Users(r.Context()).SetStatus(r.Context(), userID, req.Status); err != nil {
		handleIAMError(w, r, err)
		return
	}
	a.iam.Invalidate(userID)
	_ = audit.LogEvent(r.Context(), "iam.user.status", map[string]any{
		"target_user_id": userID,
		"status":         req.Status,
	})
	writeJSON(w, http.StatusOK, map[string]string{"id": userID, "status": req.Status})
}

// handleDeleteUser soft-deletes. Deleted users keep their audit trail but can
// no longer authenticate.
func (a *API) handleDeleteUser(w http.ResponseWriter, r *http.Request) {
	userID := mux.Vars(r)["id"]
	if err := a.store.Users(r.Context()).SoftDelete(r.Context(), userID); err != nil {
		handleIAMError(w, r, err)
		return
	}
	a.iam.Invalidate(userID)
	_ = audit.LogEvent(r.Context(), "iam.user.delete", map[string]any{
		"target_user_id": userID,
	})
	w.WriteHeader(http.StatusNoContent)
}
