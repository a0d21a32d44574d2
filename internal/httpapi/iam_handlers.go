package httpapi

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gorilla/mux"

	"tillbase.io/internal/audit"
	"tillbase.io/internal/auth"
	"tillbase.io/internal/iam"
)

type createRoleRequest struct {
	Name           string         `json:"name"`
	Description    string         `json:"description"`
	Scope          iam.RoleScope  `json:"scope"`
	HierarchyLevel int            `json:"hierarchy_level"`
	Rules          []iam.Rule     `json:"rules"`
	Groups         []string       `json:"groups"`
	InheritedRoles []string       `json:"inherited_roles"`
	Limits         iam.RoleLimits `json:"limits"`
}

type createGroupRequest struct {
	Name        string       `json:"name"`
	Rules       []iam.Rule   `json:"rules"`
	Strategy    iam.Strategy `json:"strategy"`
	Priority    int          `json:"priority"`
	InheritFrom []string     `json:"inherit_from"`
	Override    bool         `json:"override"`
	Fallback    iam.Fallback `json:"fallback"`
}

type assignRoleRequest struct {
	RoleID string `json:"role_id"`
}

type directRulesRequest struct {
	Rules []iam.Rule `json:"rules"`
}

type authzCheckRequest struct {
	Source string `json:"source"`
	Action string `json:"action"`
}

func (a *API) currentPrincipal(w http.ResponseWriter, r *http.Request) (iam.Principal, bool) {
	principal, ok := auth.PrincipalFromContext(r.Context())
	if !ok {
		writeError(w, r, http.StatusUnauthorized, "authentication required")
	}
	return principal, ok
}

func (a *API) handleCreateRole(w http.ResponseWriter, r *http.Request) {
	principal, ok := a.currentPrincipal(w, r)
	if !ok {
		return
	}
	var req createRoleRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	role := &iam.Role{
		CompanyID:      principal.User.CompanyID,
		Name:           strings.TrimSpace(req.Name),
		Description:    req.Description,
		Scope:          req.Scope,
		HierarchyLevel: req.HierarchyLevel,
		Rules:          req.Rules,
		Groups:         req.Groups,
		InheritedRoles: req.InheritedRoles,
		Limits:         req.Limits,
	}
	if err := a.iam.CreateRole(r.Context(), role); err != nil {
		handleIAMError(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), "iam.role.create", map[string]any{
		"role_id": role.ID,
		"name":    role.Name,
	})
	writeJSON(w, http.StatusCreated, role)
}

func (a *API) handleListRoles(w http.ResponseWriter, r *http.Request) {
	principal, ok := a.currentPrincipal(w, r)
	if !ok {
		return
	}
	roles, err := a.store.Roles(r.Context()).ListByCompany(r.Context(), principal.User.CompanyID)
	if err != nil {
		handleIAMError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"roles": roles})
}

func (a *API) handleCreateGroup(w http.ResponseWriter, r *http.Request) {
	principal, ok := a.currentPrincipal(w, r)
	if !ok {
		return
	}
	var req createGroupRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	g := &iam.PermissionGroup{
		CompanyID:   principal.User.CompanyID,
		Name:        strings.TrimSpace(req.Name),
		Rules:       req.Rules,
		Strategy:    req.Strategy,
		Priority:    req.Priority,
		InheritFrom: req.InheritFrom,
		Override:    req.Override,
		Fallback:    req.Fallback,
	}
	if err := a.iam.CreateGroup(r.Context(), g); err != nil {
		handleIAMError(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), "iam.group.create", map[string]any{
		"group_id": g.ID,
		"name":     g.Name,
		"strategy": g.Strategy.String(),
	})
	writeJSON(w, http.StatusCreated, g)
}

func (a *API) handleListGroups(w http.ResponseWriter, r *http.Request) {
	principal, ok := a.currentPrincipal(w, r)
	if !ok {
		return
	}
	groups, err := a.store.Groups(r.Context()).ListByCompany(r.Context(), principal.User.CompanyID)
	if err != nil {
		handleIAMError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"groups": groups})
}

// handleVersionGroup publishes a new version of an existing group. Strategy
// changes land here; in-place edits are rejected by the service.
func (a *API) handleVersionGroup(w http.ResponseWriter, r *http.Request) {
	principal, ok := a.currentPrincipal(w, r)
	if !ok {
		return
	}
	var req createGroupRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	g := &iam.PermissionGroup{
		CompanyID:   principal.User.CompanyID,
		Name:        mux.Vars(r)["name"],
		Rules:       req.Rules,
		Strategy:    req.Strategy,
		Priority:    req.Priority,
		InheritFrom: req.InheritFrom,
		Override:    req.Override,
		Fallback:    req.Fallback,
	}
	if err := a.iam.VersionGroup(r.Context(), g); err != nil {
		handleIAMError(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), "iam.group.version", map[string]any{
		"name":    g.Name,
		"version": g.Version,
	})
	writeJSON(w, http.StatusCreated, g)
}

func (a *API) handleListPermissions(w http.ResponseWriter, r *http.Request) {
	perms, err := a.iam.ListPermissions(r.Context())
	if err != nil {
		handleIAMError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"permissions": perms})
}

func (a *API) handleDeletePermission(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	if err := a.iam.DeletePermission(r.Context(), vars["source"], vars["action"]); err != nil {
		handleIAMError(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), "iam.permission.delete", map[string]any{
		"source": vars["source"],
		"action": vars["action"],
	})
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) handleAssignRole(w http.ResponseWriter, r *http.Request) {
	principal, ok := a.currentPrincipal(w, r)
	if !ok {
		return
	}
	var req assignRoleRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	userID := mux.Vars(r)["id"]
	err := a.iam.AssignRole(r.Context(), iam.Assignment{
		UserID:    userID,
		RoleID:    req.RoleID,
		CompanyID: principal.User.CompanyID,
	})
	if err != nil {
		handleIAMError(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), "iam.role.assign", map[string]any{
		"target_user": userID,
		"role_id":     req.RoleID,
	})
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) handleUnassignRole(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	if err := a.iam.UnassignRole(r.Context(), vars["id"], vars["roleID"]); err != nil {
		handleIAMError(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), "iam.role.unassign", map[string]any{
		"target_user": vars["id"],
		"role_id":     vars["roleID"],
	})
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) handleSetDirectRules(w http.ResponseWriter, r *http.Request) {
	var req directRulesRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	userID := mux.Vars(r)["id"]
	if err := a.iam.SetDirectRules(r.Context(), userID, req.Rules); err != nil {
		handleIAMError(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), "iam.user.direct_rules", map[string]any{
		"target_user": userID,
		"rule_count":  len(req.Rules),
	})
	w.WriteHeader(http.StatusNoContent)
}

// handleAuthzCheck answers "may I do this" without performing the action,
// returning the full decision for the caller's own principal.
func (a *API) handleAuthzCheck(w http.ResponseWriter, r *http.Request) {
	principal, ok := a.currentPrincipal(w, r)
	if !ok {
		return
	}
	var req authzCheckRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	d, err := a.iam.Authorize(r.Context(), principal.User.ID, req.Source, req.Action)
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, d)
	case errors.Is(err, iam.ErrPermissionDenied), errors.Is(err, iam.ErrUnknownPermission):
		// A denial is a valid answer here, not a transport error.
		writeJSON(w, http.StatusOK, d)
	default:
		handleIAMError(w, r, err)
	}
}

func (a *API) handleMyLimits(w http.ResponseWriter, r *http.Request) {
	principal, ok := a.currentPrincipal(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, principal.Limits())
}
