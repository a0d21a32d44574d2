package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"

	"tillbase.io/internal/auth"
	"tillbase.io/internal/iam"
	"tillbase.io/internal/orders"
	"tillbase.io/internal/session"
)

// memStore is an in-memory iam.Store for exercising the full HTTP stack.
type memStore struct {
	mu          sync.Mutex
	users       map[string]*iam.User
	roles       map[string]*iam.Role
	groups      map[string]*iam.PermissionGroup
	perms       []iam.Permission
	assignments map[string][]string // userID -> roleIDs
}

func newMemStore() *memStore {
	return &memStore{
		users:       map[string]*iam.User{},
		roles:       map[string]*iam.Role{},
		groups:      map[string]*iam.PermissionGroup{},
		assignments: map[string][]string{},
	}
}

func (m *memStore) Users(ctx context.Context) iam.UserStore             { return (*memUsers)(m) }
func (m *memStore) Roles(ctx context.Context) iam.RoleStore             { return (*memRoles)(m) }
func (m *memStore) Groups(ctx context.Context) iam.GroupStore           { return (*memGroups)(m) }
func (m *memStore) Permissions(ctx context.Context) iam.PermissionStore { return (*memPerms)(m) }

type memUsers memStore

func (m *memUsers) Create(ctx context.Context, u *iam.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if u.ID == "" {
		u.ID = "usr-" + u.Email
	}
	cp := *u
	m.users[u.ID] = &cp
	return nil
}

func (m *memUsers) Find(ctx context.Context, id string) (*iam.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok {
		return nil, iam.ErrNotFound
	}
	cp := *u
	return &cp, nil
}

func (m *memUsers) FindByEmail(ctx context.Context, companyID, email string) (*iam.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.users {
		if u.CompanyID == companyID && u.Email == email && u.DeletedAt == nil {
			cp := *u
			return &cp, nil
		}
	}
	return nil, iam.ErrNotFound
}

func (m *memUsers) SetStatus(ctx context.Context, id, status string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok {
		return iam.ErrNotFound
	}
	u.Status = status
	return nil
}

func (m *memUsers) SetDirectRules(ctx context.Context, id string, rules []iam.Rule) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok {
		return iam.ErrNotFound
	}
	u.DirectRules = rules
	return nil
}

func (m *memUsers) SoftDelete(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok {
		return iam.ErrNotFound
	}
	now := time.Now().UTC()
	u.DeletedAt = &now
	return nil
}

type memRoles memStore

func (m *memRoles) Create(ctx context.Context, role *iam.Role) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if role.ID == "" {
		role.ID = "rol-" + role.Name
	}
	cp := *role
	m.roles[role.ID] = &cp
	return nil
}

func (m *memRoles) Find(ctx context.Context, id string) (*iam.Role, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.roles[id]
	if !ok {
		return nil, iam.ErrNotFound
	}
	cp := *r
	return &cp, nil
}

func (m *memRoles) ListByCompany(ctx context.Context, companyID string) ([]iam.Role, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []iam.Role
	for _, r := range m.roles {
		if r.CompanyID == companyID {
			out = append(out, *r)
		}
	}
	return out, nil
}

func (m *memRoles) Assign(ctx context.Context, a iam.Assignment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.users[a.UserID]; !ok {
		return iam.ErrNotFound
	}
	if _, ok := m.roles[a.RoleID]; !ok {
		return iam.ErrNotFound
	}
	m.assignments[a.UserID] = append(m.assignments[a.UserID], a.RoleID)
	return nil
}

func (m *memRoles) Unassign(ctx context.Context, userID, roleID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := m.assignments[userID]
	for i, id := range ids {
		if id == roleID {
			m.assignments[userID] = append(ids[:i], ids[i+1:]...)
			return nil
		}
	}
	return iam.ErrNotFound
}

func (m *memRoles) RolesForUser(ctx context.Context, userID string) ([]iam.Role, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []iam.Role
	for _, id := range m.assignments[userID] {
		if r, ok := m.roles[id]; ok {
			out = append(out, *r)
		}
	}
	return out, nil
}

type memGroups memStore

func (m *memGroups) Create(ctx context.Context, g *iam.PermissionGroup) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if g.ID == "" {
		g.ID = "grp-" + g.Name
	}
	if g.Version == 0 {
		g.Version = 1
	}
	cp := *g
	m.groups[g.CompanyID+"/"+g.Name] = &cp
	return nil
}

func (m *memGroups) Find(ctx context.Context, companyID, name string) (*iam.PermissionGroup, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	g, ok := m.groups[companyID+"/"+name]
	if !ok {
		return nil, iam.ErrNotFound
	}
	cp := *g
	return &cp, nil
}

func (m *memGroups) ListByCompany(ctx context.Context, companyID string) ([]*iam.PermissionGroup, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*iam.PermissionGroup
	for _, g := range m.groups {
		if g.CompanyID == companyID {
			cp := *g
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (m *memGroups) CreateVersion(ctx context.Context, g *iam.PermissionGroup) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *g
	m.groups[g.CompanyID+"/"+g.Name] = &cp
	return nil
}

type memPerms memStore

func (m *memPerms) Ensure(ctx context.Context, perms []iam.Permission) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.perms = append([]iam.Permission(nil), perms...)
	return nil
}

func (m *memPerms) List(ctx context.Context) ([]iam.Permission, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]iam.Permission(nil), m.perms...), nil
}

func (m *memPerms) ReferenceCount(ctx context.Context, source, action string) (int, error) {
	return 0, nil
}

func (m *memPerms) Delete(ctx context.Context, source, action string) error { return nil }

// --- harness ---

type apiClient struct {
	baseURL string
	client  *http.Client
	t       *testing.T
}

const testPassword = "till-secret-1"

func newTestAPI(t *testing.T) *apiClient {
	t.Helper()

	store := newMemStore()
	svc, err := iam.NewService(store)
	if err != nil {
		t.Fatalf("iam.NewService: %v", err)
	}
	if err := svc.EnsureBuiltins(context.Background()); err != nil {
		t.Fatalf("EnsureBuiltins: %v", err)
	}

	hash, err := auth.HashPassword(testPassword)
	if err != nil {
		t.Fatalf("HashPassword: %v", err)
	}

	ctx := context.Background()
	_ = store.Groups(ctx).Create(ctx, &iam.PermissionGroup{
		CompanyID: "co-1",
		Name:      "pos-basic",
		Strategy:  iam.StrategyCumulative,
		Rules: []iam.Rule{
			{Source: iam.SourceOrder, Action: iam.ActionCreate},
			{Source: iam.SourceOrder, Action: iam.ActionRead},
			{Source: iam.SourceOrder, Action: iam.ActionUpdate},
		},
	})
	_ = store.Groups(ctx).Create(ctx, &iam.PermissionGroup{
		CompanyID: "co-1",
		Name:      "admin-suite",
		Strategy:  iam.StrategyCumulative,
		Rules: []iam.Rule{
			{Source: iam.SourceRole, Action: iam.WildcardAction},
			{Source: iam.SourcePermissionGroup, Action: iam.WildcardAction},
			{Source: iam.SourceUser, Action: iam.WildcardAction},
		},
	})
	_ = store.Roles(ctx).Create(ctx, &iam.Role{
		ID:        "rol-cashier",
		CompanyID: "co-1",
		Name:      "cashier",
		Scope:     iam.ScopeBusiness,
		Groups:    []string{"pos-basic"},
		Limits: iam.RoleLimits{
			Security: iam.SecurityLimits{MaxConcurrentSessions: 2},
		},
	})
	_ = store.Roles(ctx).Create(ctx, &iam.Role{
		ID:        "rol-manager",
		CompanyID: "co-1",
		Name:      "manager",
		Scope:     iam.ScopeOrganization,
		Groups:    []string{"pos-basic", "admin-suite"},
		Limits: iam.RoleLimits{
			Security: iam.SecurityLimits{MaxConcurrentSessions: 4},
		},
	})
	seedUser := func(id, bu, email, roleID string) {
		_ = store.Users(ctx).Create(ctx, &iam.User{
			ID:             id,
			CompanyID:      "co-1",
			BusinessUnitID: bu,
			Email:          email,
			PasswordHash:   hash,
			Status:         iam.UserStatusActive,
		})
		_ = store.Roles(ctx).Assign(ctx, iam.Assignment{UserID: id, RoleID: roleID, CompanyID: "co-1"})
	}
	seedUser("u-alice", "bu-1", "alice@demo.io", "rol-cashier")
	seedUser("u-bob", "bu-2", "bob@demo.io", "rol-cashier")
	seedUser("u-mira", "bu-1", "mira@demo.io", "rol-manager")

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	sessions, err := session.NewRegistry(rdb, time.Hour)
	if err != nil {
		t.Fatalf("session.NewRegistry: %v", err)
	}

	tokens, err := auth.NewTokenService("test-secret")
	if err != nil {
		t.Fatalf("auth.NewTokenService: %v", err)
	}

	api := New(Options{
		Tokens:   tokens,
		IAM:      svc,
		Store:    store,
		Orders:   orders.NewInMemory(),
		Sessions: sessions,
		Version:  "test",
	})
	srv := httptest.NewServer(api.Handler())
	t.Cleanup(srv.Close)

	return &apiClient{baseURL: srv.URL, client: srv.Client(), t: t}
}

func (c *apiClient) post(path string, body any, headers map[string]string) *http.Response {
	c.t.Helper()
	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			c.t.Fatalf("marshal body: %v", err)
		}
	}
	req, err := http.NewRequest(http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		c.t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		c.t.Fatalf("do request: %v", err)
	}
	return resp
}

func (c *apiClient) get(path string, params url.Values, headers map[string]string) *http.Response {
	c.t.Helper()
	u, err := url.Parse(c.baseURL + path)
	if err != nil {
		c.t.Fatalf("parse url: %v", err)
	}
	if params != nil {
		u.RawQuery = params.Encode()
	}
	req, err := http.NewRequest(http.MethodGet, u.String(), nil)
	if err != nil {
		c.t.Fatalf("new request: %v", err)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		c.t.Fatalf("do request: %v", err)
	}
	return resp
}

func (c *apiClient) login(email string) string {
	c.t.Helper()
	resp := c.post("/v1/auth/login", map[string]string{
		"company_id": "co-1",
		"email":      email,
		"password":   testPassword,
	}, nil)
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		c.t.Fatalf("login %s: status %d", email, resp.StatusCode)
	}
	var out struct {
		Token string `json:"token"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		c.t.Fatalf("decode login response: %v", err)
	}
	return out.Token
}

func bearerHeader(token string) map[string]string {
	return map[string]string{"Authorization": "Bearer " + token}
}

func decodeBody(t *testing.T, resp *http.Response, dst any) {
	t.Helper()
	defer resp.Body.Close()
	if err := json.NewDecoder(resp.Body).Decode(dst); err != nil {
		t.Fatalf("decode body: %v", err)
	}
}
