// Package httpapi is the HTTP surface: authentication, tenant binding,
// authorization decorators and the admin/commerce handlers.
package httpapi

import (
	"context"
	"database/sql"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"tillbase.io/internal/auth"
	"tillbase.io/internal/iam"
	"tillbase.io/internal/obs"
	"tillbase.io/internal/orders"
	"tillbase.io/internal/session"
)

// ReadyProbe checks downstream readiness (e.g. ping the database).
type ReadyProbe struct {
	DB *sql.DB
}

func (rp ReadyProbe) Check(ctx context.Context) error {
	if rp.DB == nil {
		return nil
	}
	return rp.DB.PingContext(ctx)
}

// Options carries the collaborators the API serves.
type Options struct {
	Tokens   *auth.TokenService
	IAM      *iam.Service
	Store    iam.Store
	Orders   orders.Service
	Sessions *session.Registry
	Ready    ReadyProbe
	Version  string

	// Session TTL used when issuing tokens; login registers the session
	// with the same lifetime.
	SessionTTL time.Duration
}

// API is the HTTP layer.
type API struct {
	router     *mux.Router
	tokens     *auth.TokenService
	iam        *iam.Service
	store      iam.Store
	orders     orders.Service
	sessions   *session.Registry
	readyProbe ReadyProbe
	version    string
	sessionTTL time.Duration
}

func New(opts Options) *API {
	a := &API{
		router:     mux.NewRouter(),
		tokens:     opts.Tokens,
		iam:        opts.IAM,
		store:      opts.Store,
		orders:     opts.Orders,
		sessions:   opts.Sessions,
		readyProbe: opts.Ready,
		version:    opts.Version,
		sessionTTL: opts.SessionTTL,
	}
	if a.sessionTTL <= 0 {
		a.sessionTTL = 8 * time.Hour
	}

	r := a.router
	r.Use(RequestID)
	r.Use(SecurityHeaders)
	r.Use(Logging)
	r.Use(a.withAuth)

	// health/ready/info
	r.HandleFunc("/healthz", a.Healthz).Methods(http.MethodGet)
	r.HandleFunc("/readyz", a.Ready).Methods(http.MethodGet)
	r.HandleFunc("/v1/info", a.Info).Methods(http.MethodGet)

	// Prometheus metrics
	r.Handle("/metrics", obs.Handler()).Methods(http.MethodGet)

	// auth
	r.HandleFunc("/v1/auth/login", a.handleLogin).Methods(http.MethodPost)
	r.HandleFunc("/v1/auth/logout", a.handleLogout).Methods(http.MethodPost)

	// authorization surface
	r.HandleFunc("/v1/authz/check", a.handleAuthzCheck).Methods(http.MethodPost)
	r.HandleFunc("/v1/me/limits", a.handleMyLimits).Methods(http.MethodGet)

	// IAM administration
	r.Handle("/v1/roles", a.authorize(iam.SourceRole, iam.ActionCreate, a.handleCreateRole)).Methods(http.MethodPost)
	r.Handle("/v1/roles", a.authorize(iam.SourceRole, iam.ActionRead, a.handleListRoles)).Methods(http.MethodGet)
	r.Handle("/v1/groups", a.authorize(iam.SourcePermissionGroup, iam.ActionCreate, a.handleCreateGroup)).Methods(http.MethodPost)
	r.Handle("/v1/groups", a.authorize(iam.SourcePermissionGroup, iam.ActionRead, a.handleListGroups)).Methods(http.MethodGet)
	r.Handle("/v1/groups/{name}/versions", a.authorize(iam.SourcePermissionGroup, iam.ActionUpdate, a.handleVersionGroup)).Methods(http.MethodPost)
	r.Handle("/v1/permissions", a.authorize(iam.SourcePermissionGroup, iam.ActionRead, a.handleListPermissions)).Methods(http.MethodGet)
	r.Handle("/v1/permissions/{source}/{action}", a.authorize(iam.SourcePermissionGroup, iam.ActionDelete, a.handleDeletePermission)).Methods(http.MethodDelete)
	r.Handle("/v1/users/{id}/assignments", a.authorize(iam.SourceRole, iam.ActionAssign, a.handleAssignRole)).Methods(http.MethodPost)
	r.Handle("/v1/users/{id}/assignments/{roleID}", a.authorize(iam.SourceRole, iam.ActionAssign, a.handleUnassignRole)).Methods(http.MethodDelete)
	r.Handle("/v1/users/{id}/rules", a.authorize(iam.SourcePermissionGroup, iam.ActionUpdate, a.handleSetDirectRules)).Methods(http.MethodPut)

	// user management
	r.Handle("/v1/users", a.authorize(iam.SourceUser, iam.ActionCreate, a.handleCreateUser)).Methods(http.MethodPost)
	r.Handle("/v1/users/{id}/status", a.authorize(iam.SourceUser, iam.ActionUpdate, a.handleUserStatus)).Methods(http.MethodPut)
	r.Handle("/v1/users/{id}", a.requireRole([]string{"admin", "manager"}, a.handleDeleteUser)).Methods(http.MethodDelete)

	// orders
	r.Handle("/v1/orders", a.authorize(iam.SourceOrder, iam.ActionCreate, a.handleCreateOrder)).Methods(http.MethodPost)
	r.Handle("/v1/orders", a.authorize(iam.SourceOrder, iam.ActionRead, a.handleListOrders)).Methods(http.MethodGet)
	r.Handle("/v1/orders/{id}", a.authorize(iam.SourceOrder, iam.ActionRead, a.handleGetOrder)).Methods(http.MethodGet)
	r.Handle("/v1/orders/{id}/status", a.authorize(iam.SourceOrder, iam.ActionUpdate, a.handleOrderStatus)).Methods(http.MethodPut)

	r.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, r, http.StatusNotFound, "resource not found")
	})
	r.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, r, http.StatusMethodNotAllowed, "method not allowed")
	})

	return a
}

// Handler wraps the router with request metrics.
func (a *API) Handler() http.Handler {
	return obs.Instrument(a.router)
}
