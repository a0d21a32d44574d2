package httpapi

import (
	"net/http"
	"testing"

	"github.com/shopspring/decimal"

	"tillbase.io/internal/auth"
	"tillbase.io/internal/iam"
	"tillbase.io/internal/orders"
)

func dec(n int64) decimal.Decimal { return decimal.NewFromInt(n) }

func TestHealthzIsPublic(t *testing.T) {
	c := newTestAPI(t)

	resp := c.get("/healthz", nil, nil)
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("healthz status = %d", resp.StatusCode)
	}
}

func TestOrdersRequireAuthentication(t *testing.T) {
	c := newTestAPI(t)

	resp := c.get("/v1/orders", nil, nil)
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("unauthenticated orders status = %d, want 401", resp.StatusCode)
	}

	resp = c.get("/v1/orders", nil, bearerHeader("not-a-token"))
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("garbage token status = %d, want 401", resp.StatusCode)
	}
}

func TestTokenWithoutCompanyClaimIsRejected(t *testing.T) {
	c := newTestAPI(t)

	// A validly signed token that names no company cannot be bound to a
	// tenant; it must fail as a scoping problem, not as a missing principal.
	issuer, err := auth.NewTokenService("test-secret")
	if err != nil {
		t.Fatalf("auth.NewTokenService: %v", err)
	}
	token, _, err := issuer.Generate("u-alice", nil, "", "bu-1")
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}

	resp := c.get("/v1/orders", nil, bearerHeader(token))
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("companyless token status = %d, want 403", resp.StatusCode)
	}
	var out struct {
		Error string `json:"error"`
	}
	decodeBody(t, resp, &out)
	if out.Error != "tenant context missing" {
		t.Fatalf("unexpected error body: %q", out.Error)
	}
}

func TestOrderLifecycleAndTenantIsolation(t *testing.T) {
	c := newTestAPI(t)
	alice := c.login("alice@demo.io")
	bob := c.login("bob@demo.io")

	resp := c.post("/v1/orders", orders.Draft{
		Number:   "S-100",
		Currency: "KZT",
		Lines:    []orders.Line{{SKU: "latte", Qty: 1, UnitPrice: dec(1200)}},
	}, bearerHeader(alice))
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create order status = %d, want 201", resp.StatusCode)
	}
	var created orders.Order
	decodeBody(t, resp, &created)
	if created.BusinessUnitID != "bu-1" || created.CompanyID != "co-1" {
		t.Fatalf("order not stamped with caller tenant: %+v", created)
	}

	// Owner sees it.
	resp = c.get("/v1/orders/"+created.ID, nil, bearerHeader(alice))
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("own get status = %d, want 200", resp.StatusCode)
	}

	// Same company, different business unit: invisible.
	resp = c.get("/v1/orders/"+created.ID, nil, bearerHeader(bob))
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("cross-unit get status = %d, want 404", resp.StatusCode)
	}

	var listing struct {
		Orders []orders.Order `json:"orders"`
	}
	resp = c.get("/v1/orders", nil, bearerHeader(bob))
	decodeBody(t, resp, &listing)
	if len(listing.Orders) != 0 {
		t.Fatalf("bob should see no orders, got %d", len(listing.Orders))
	}
}

func TestAdminEndpointsRequirePermission(t *testing.T) {
	c := newTestAPI(t)
	alice := c.login("alice@demo.io")
	mira := c.login("mira@demo.io")

	// Cashier lacks role.read.
	resp := c.get("/v1/roles", nil, bearerHeader(alice))
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("cashier list roles status = %d, want 403", resp.StatusCode)
	}

	// Manager holds the admin suite.
	resp = c.get("/v1/roles", nil, bearerHeader(mira))
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("manager list roles status = %d, want 200", resp.StatusCode)
	}

	resp = c.post("/v1/roles", map[string]any{
		"name":            "shift-lead",
		"hierarchy_level": 60,
		"groups":          []string{"pos-basic"},
	}, bearerHeader(mira))
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create role status = %d, want 201", resp.StatusCode)
	}
}

func TestAuthzCheckExplainsDecision(t *testing.T) {
	c := newTestAPI(t)
	alice := c.login("alice@demo.io")

	var d iam.Decision
	resp := c.post("/v1/authz/check", map[string]string{
		"source": "order",
		"action": "create",
	}, bearerHeader(alice))
	decodeBody(t, resp, &d)
	if !d.Allowed || d.Group != "pos-basic" {
		t.Fatalf("expected allow via pos-basic, got %+v", d)
	}

	resp = c.post("/v1/authz/check", map[string]string{
		"source": "order",
		"action": "refund",
	}, bearerHeader(alice))
	decodeBody(t, resp, &d)
	if d.Allowed {
		t.Fatalf("cashier must not refund: %+v", d)
	}

	// Unregistered pair denies rather than erroring.
	resp = c.post("/v1/authz/check", map[string]string{
		"source": "warehouse",
		"action": "teleport",
	}, bearerHeader(alice))
	decodeBody(t, resp, &d)
	if d.Allowed {
		t.Fatalf("unknown permission must deny: %+v", d)
	}
}

func TestConcurrentSessionLimit(t *testing.T) {
	c := newTestAPI(t)

	// Cashier allows two concurrent sessions.
	c.login("alice@demo.io")
	c.login("alice@demo.io")

	resp := c.post("/v1/auth/login", map[string]string{
		"company_id": "co-1",
		"email":      "alice@demo.io",
		"password":   testPassword,
	}, nil)
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusTooManyRequests {
		t.Fatalf("third login status = %d, want 429", resp.StatusCode)
	}
}

func TestLoginRejectsBadPassword(t *testing.T) {
	c := newTestAPI(t)

	resp := c.post("/v1/auth/login", map[string]string{
		"company_id": "co-1",
		"email":      "alice@demo.io",
		"password":   "wrong",
	}, nil)
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("bad password status = %d, want 401", resp.StatusCode)
	}
}

func TestUserLifecycle(t *testing.T) {
	c := newTestAPI(t)
	alice := c.login("alice@demo.io")
	mira := c.login("mira@demo.io")

	resp := c.post("/v1/users", map[string]string{
		"email":            "new@demo.io",
		"password":         "s3cret-enough",
		"business_unit_id": "bu-1",
	}, bearerHeader(mira))
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create user status = %d, want 201", resp.StatusCode)
	}
	var created iam.User
	decodeBody(t, resp, &created)
	if created.CompanyID != "co-1" || created.Status != iam.UserStatusActive {
		t.Fatalf("user not stamped correctly: %+v", created)
	}

	resp = c.post("/v1/users", map[string]string{
		"email":    "blocked@demo.io",
		"password": "whatever-12",
	}, bearerHeader(alice))
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("cashier create user status = %d, want 403", resp.StatusCode)
	}

	// Delete is role-gated, not permission-gated. Cashier lacks the role.
	req, _ := http.NewRequest(http.MethodDelete, c.baseURL+"/v1/users/"+created.ID, nil)
	for k, v := range bearerHeader(alice) {
		req.Header.Set(k, v)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		t.Fatalf("delete request: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("cashier delete status = %d, want 403", resp.StatusCode)
	}

	req, _ = http.NewRequest(http.MethodDelete, c.baseURL+"/v1/users/"+created.ID, nil)
	for k, v := range bearerHeader(mira) {
		req.Header.Set(k, v)
	}
	resp, err = c.client.Do(req)
	if err != nil {
		t.Fatalf("delete request: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("manager delete status = %d, want 204", resp.StatusCode)
	}
}

func TestMyLimitsFoldsRoles(t *testing.T) {
	c := newTestAPI(t)
	mira := c.login("mira@demo.io")

	var limits iam.RoleLimits
	resp := c.get("/v1/me/limits", nil, bearerHeader(mira))
	decodeBody(t, resp, &limits)
	if limits.Security.MaxConcurrentSessions != 4 {
		t.Fatalf("MaxConcurrentSessions = %d, want 4", limits.Security.MaxConcurrentSessions)
	}
}
