package iam

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// WildcardAction matches any action on a source when used in a rule.
const WildcardAction = "*"

// Permission is an atomic (source, action) capability, e.g. (order, create).
// Definitions are immutable once referenced by any group or role in use.
type Permission struct {
	ID          string    `json:"id"`
	Source      string    `json:"source"`
	Action      string    `json:"action"`
	Description string    `json:"description,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// Key returns the canonical "source.action" form.
func (p Permission) Key() string { return p.Source + "." + p.Action }

// Effect is the outcome a matching rule contributes.
type Effect int

const (
	Allow Effect = iota
	Deny
)

func (e Effect) String() string {
	if e == Deny {
		return "deny"
	}
	return "allow"
}

func (e Effect) MarshalJSON() ([]byte, error) { return json.Marshal(e.String()) }

// UnmarshalJSON accepts the textual form plus the legacy numeric encoding.
func (e *Effect) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err == nil {
		switch strings.ToLower(strings.TrimSpace(s)) {
		case "allow", "":
			*e = Allow
		case "deny":
			*e = Deny
		default:
			return fmt.Errorf("unknown effect %q", s)
		}
		return nil
	}
	var n int
	if err := json.Unmarshal(b, &n); err != nil {
		return fmt.Errorf("invalid effect: %s", b)
	}
	if n == int(Deny) {
		*e = Deny
	} else {
		*e = Allow
	}
	return nil
}

// Rule is one entry in a permission group: a permission reference plus the
// effect it grants and an optional explicit priority for priority-based
// groups. Rules keep declaration order; first-match depends on it.
type Rule struct {
	Source   string `json:"source"`
	Action   string `json:"action"`
	Effect   Effect `json:"effect"`
	Priority int    `json:"priority,omitempty"`
}

// Matches reports whether the rule covers the requested pair, and how
// specifically: 2 for an exact match, 1 for a source-level wildcard, 0 for no
// match.
func (r Rule) Matches(source, action string) int {
	if r.Source != source {
		return 0
	}
	if r.Action == action {
		return 2
	}
	if r.Action == WildcardAction {
		return 1
	}
	return 0
}

// Strategy selects how a permission group turns its rule list into a vote.
type Strategy int

const (
	StrategyFirstMatch Strategy = iota
	StrategyMostSpecific
	StrategyPriority
	StrategyCumulative
)

var strategyNames = map[Strategy]string{
	StrategyFirstMatch:   "first-match",
	StrategyMostSpecific: "most-specific",
	StrategyPriority:     "priority-based",
	StrategyCumulative:   "cumulative",
}

func (s Strategy) String() string {
	if name, ok := strategyNames[s]; ok {
		return name
	}
	return "unknown"
}

// ParseStrategy maps the stored strategy name to its enum value.
func ParseStrategy(raw string) (Strategy, bool) {
	raw = strings.TrimSpace(strings.ToLower(raw))
	for s, name := range strategyNames {
		if name == raw {
			return s, true
		}
	}
	return StrategyFirstMatch, false
}

func (s Strategy) MarshalJSON() ([]byte, error) { return json.Marshal(s.String()) }

func (s *Strategy) UnmarshalJSON(b []byte) error {
	var raw string
	if err := json.Unmarshal(b, &raw); err != nil {
		return fmt.Errorf("invalid strategy: %s", b)
	}
	if raw == "" {
		*s = StrategyFirstMatch
		return nil
	}
	parsed, ok := ParseStrategy(raw)
	if !ok {
		return fmt.Errorf("unknown strategy %q", raw)
	}
	*s = parsed
	return nil
}

// Fallback is a group's default vote when none of its rules match.
type Fallback int

const (
	FallbackDeny Fallback = iota
	FallbackAllow
)

func (f Fallback) String() string {
	if f == FallbackAllow {
		return "allow"
	}
	return "deny"
}

func (f Fallback) MarshalJSON() ([]byte, error) { return json.Marshal(f.String()) }

func (f *Fallback) UnmarshalJSON(b []byte) error {
	var raw string
	if err := json.Unmarshal(b, &raw); err != nil {
		return fmt.Errorf("invalid fallback: %s", b)
	}
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "deny", "":
		*f = FallbackDeny
	case "allow":
		*f = FallbackAllow
	default:
		return fmt.Errorf("unknown fallback %q", raw)
	}
	return nil
}

// PermissionGroup is a named, strategy-governed bundle of rules attachable to
// roles. Strategy is immutable once the group is referenced in production:
// changing it rewrites authorization semantics for every role pointing at the
// group, so edits must create a new version instead.
type PermissionGroup struct {
	ID          string    `json:"id"`
	CompanyID   string    `json:"company_id,omitempty"`
	Name        string    `json:"name"`
	Rules       []Rule    `json:"rules"`
	Strategy    Strategy  `json:"strategy"`
	Priority    int       `json:"priority"`
	InheritFrom []string  `json:"inherit_from,omitempty"`
	Override    bool      `json:"override"`
	Fallback    Fallback  `json:"fallback"`
	Version     int       `json:"version"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// RoleScope bounds the tenant breadth a role may act within.
type RoleScope int

const (
	ScopeSelf RoleScope = iota
	ScopeOutlet
	ScopeBusiness
	ScopeOrganization
	ScopeGlobal
)

var roleScopeNames = map[RoleScope]string{
	ScopeSelf:         "SELF",
	ScopeOutlet:       "OUTLET",
	ScopeBusiness:     "BUSINESS",
	ScopeOrganization: "ORGANIZATION",
	ScopeGlobal:       "GLOBAL",
}

// Covers reports whether the scope is at least as wide as required. Scopes
// order from SELF up to GLOBAL, so the comparison is numeric.
func (s RoleScope) Covers(required RoleScope) bool { return s >= required }

func (s RoleScope) String() string {
	if name, ok := roleScopeNames[s]; ok {
		return name
	}
	return "SELF"
}

// ParseRoleScope maps the stored scope name to its enum value, defaulting to
// the narrowest scope.
func ParseRoleScope(raw string) RoleScope {
	raw = strings.TrimSpace(strings.ToUpper(raw))
	for s, name := range roleScopeNames {
		if name == raw {
			return s
		}
	}
	return ScopeSelf
}

func (s RoleScope) MarshalJSON() ([]byte, error) { return json.Marshal(s.String()) }

func (s *RoleScope) UnmarshalJSON(b []byte) error {
	var raw string
	if err := json.Unmarshal(b, &raw); err != nil {
		return fmt.Errorf("invalid scope: %s", b)
	}
	*s = ParseRoleScope(raw)
	return nil
}

// FinancialLimits are numeric ceilings on money-affecting actions.
type FinancialLimits struct {
	MaxDiscountPercent decimal.Decimal `json:"max_discount_percent"`
	MaxRefundAmount    decimal.Decimal `json:"max_refund_amount"`
	MaxCreditAmount    decimal.Decimal `json:"max_credit_amount"`
	MaxCashTransaction decimal.Decimal `json:"max_cash_transaction"`
}

// DataAccessLimits are numeric ceilings on data volume.
type DataAccessLimits struct {
	MaxRecordsPerQuery int `json:"max_records_per_query"`
	MaxExportRows      int `json:"max_export_rows"`
}

// SecurityLimits are restrictive postures; they combine conjunctively across
// roles (any role requiring one turns it on), except MaxConcurrentSessions
// which is a plain ceiling.
type SecurityLimits struct {
	IPWhitelistEnabled    bool `json:"ip_whitelist_enabled"`
	LoginTimeRestricted   bool `json:"login_time_restricted"`
	MaxConcurrentSessions int  `json:"max_concurrent_sessions"`
}

// ApprovalLimits gate actions that need supervisor sign-off.
type ApprovalLimits struct {
	CanApproveDiscounts bool            `json:"can_approve_discounts"`
	CanApproveRefunds   bool            `json:"can_approve_refunds"`
	ApprovalThreshold   decimal.Decimal `json:"approval_threshold"`
}

// RoleLimits is the nested quota struct attached to a role.
type RoleLimits struct {
	Financial  FinancialLimits  `json:"financial"`
	DataAccess DataAccessLimits `json:"data_access"`
	Security   SecurityLimits   `json:"security"`
	Approval   ApprovalLimits   `json:"approval"`
}

// Role names a bundle of direct rules, permission groups and quotas. Lower
// HierarchyLevel means more senior; it breaks ties between equal-priority
// group votes.
type Role struct {
	ID             string     `json:"id"`
	CompanyID      string     `json:"company_id"`
	Name           string     `json:"name"`
	Description    string     `json:"description,omitempty"`
	Scope          RoleScope  `json:"scope"`
	HierarchyLevel int        `json:"hierarchy_level"`
	Rules          []Rule     `json:"rules,omitempty"`
	Groups         []string   `json:"groups,omitempty"`
	InheritedRoles []string   `json:"inherited_roles,omitempty"`
	Limits         RoleLimits `json:"limits"`
	IsSystem       bool       `json:"is_system"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

// User is the IAM identity. Users are soft-deleted only; DeletedAt preserves
// the audit trail.
type User struct {
	ID             string     `json:"id"`
	CompanyID      string     `json:"company_id"`
	BusinessUnitID string     `json:"business_unit_id,omitempty"`
	Email          string     `json:"email"`
	PasswordHash   string     `json:"-"`
	Status         string     `json:"status"`
	RoleIDs        []string   `json:"role_ids,omitempty"`
	DirectRules    []Rule     `json:"direct_rules,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
	DeletedAt      *time.Time `json:"deleted_at,omitempty"`
}

const (
	UserStatusActive   = "active"
	UserStatusDisabled = "disabled"
)

// Assignment links a user to a role.
type Assignment struct {
	UserID    string    `json:"user_id"`
	RoleID    string    `json:"role_id"`
	CompanyID string    `json:"company_id"`
	CreatedAt time.Time `json:"created_at"`
}
