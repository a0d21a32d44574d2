package iam

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	lru "github.com/hashicorp/golang-lru/v2/expirable"

	"tillbase.io/internal/obs"
)

const (
	defaultCacheSize = 4096
	defaultCacheTTL  = time.Minute
)

// Service provides high level IAM operations: principal loading, permission
// resolution and catalog/role/group management. Resolved principals and
// per-company resolvers are held in expirable LRUs so hot request paths do
// not refetch role documents on every check.
type Service struct {
	store Store
	now   func() time.Time

	principals *lru.LRU[string, Principal]
	resolvers  *lru.LRU[string, *Resolver]
}

// ServiceOption configures Service behavior.
type ServiceOption func(*Service)

// WithClock overrides the time source (useful for tests).
func WithClock(fn func() time.Time) ServiceOption {
	return func(s *Service) {
		if fn != nil {
			s.now = fn
		}
	}
}

// WithCache sizes the principal/resolver caches. size <= 0 keeps defaults.
func WithCache(size int, ttl time.Duration) ServiceOption {
	return func(s *Service) {
		if size <= 0 {
			size = defaultCacheSize
		}
		if ttl <= 0 {
			ttl = defaultCacheTTL
		}
		s.principals = lru.NewLRU[string, Principal](size, nil, ttl)
		s.resolvers = lru.NewLRU[string, *Resolver](size, nil, ttl)
	}
}

// NewService constructs the IAM service.
func NewService(store Store, opts ...ServiceOption) (*Service, error) {
	if store == nil {
		return nil, errors.New("iam: store is required")
	}
	s := &Service{
		store:      store,
		now:        time.Now,
		principals: lru.NewLRU[string, Principal](defaultCacheSize, nil, defaultCacheTTL),
		resolvers:  lru.NewLRU[string, *Resolver](defaultCacheSize, nil, defaultCacheTTL),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// EnsureBuiltins seeds the catalog with the platform's builtin permissions.
func (s *Service) EnsureBuiltins(ctx context.Context) error {
	return s.store.Permissions(ctx).Ensure(ctx, BuiltinPermissions)
}

// Principal loads the user with resolved roles and direct permission rules.
func (s *Service) Principal(ctx context.Context, userID string) (Principal, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return Principal{}, fmt.Errorf("%w: user_id is required", ErrInvalidInput)
	}
	if p, ok := s.principals.Get(userID); ok {
		return p, nil
	}

	user, err := s.store.Users(ctx).Find(ctx, userID)
	if err != nil {
		return Principal{}, err
	}
	if user.Status != UserStatusActive || user.DeletedAt != nil {
		return Principal{}, fmt.Errorf("%w: user is not active", ErrPermissionDenied)
	}
	roles, err := s.store.Roles(ctx).RolesForUser(ctx, userID)
	if err != nil {
		return Principal{}, err
	}
	roles, err = s.inheritedRoles(ctx, user.CompanyID, roles)
	if err != nil {
		s.alarmIfGraphBroken(err, user.CompanyID)
		return Principal{}, err
	}
	p := Principal{User: user, Roles: roles, DirectRules: user.DirectRules}
	s.principals.Add(userID, p)
	return p, nil
}

// Authorize resolves whether the user may perform (source, action). The
// returned Decision is populated on denial too, so rejections can name the
// winning group without a second lookup.
func (s *Service) Authorize(ctx context.Context, userID, source, action string) (Decision, error) {
	p, err := s.Principal(ctx, userID)
	if err != nil {
		return Decision{Source: source, Action: action, Reason: "principal unavailable"}, err
	}
	resolver, err := s.resolver(ctx, p.User.CompanyID)
	if err != nil {
		s.alarmIfGraphBroken(err, p.User.CompanyID)
		return Decision{Source: source, Action: action, Reason: "resolver unavailable"}, err
	}
	d, err := resolver.Resolve(p, source, action)
	s.alarmIfGraphBroken(err, p.User.CompanyID)
	obs.RecordDecision(d.Source, d.Action, d.Allowed)
	return d, err
}

// EffectiveLimits computes the user's folded role quotas.
func (s *Service) EffectiveLimits(ctx context.Context, userID string) (RoleLimits, error) {
	p, err := s.Principal(ctx, userID)
	if err != nil {
		return RoleLimits{}, err
	}
	return p.Limits(), nil
}

// Invalidate drops cached state for a user after a role or permission change.
func (s *Service) Invalidate(userID string) {
	s.principals.Remove(userID)
}

// InvalidateCompany drops the cached resolver after group mutations.
func (s *Service) InvalidateCompany(companyID string) {
	s.resolvers.Remove(companyID)
}

func (s *Service) resolver(ctx context.Context, companyID string) (*Resolver, error) {
	if r, ok := s.resolvers.Get(companyID); ok {
		return r, nil
	}
	perms, err := s.store.Permissions(ctx).List(ctx)
	if err != nil {
		return nil, err
	}
	groups, err := s.store.Groups(ctx).ListByCompany(ctx, companyID)
	if err != nil {
		return nil, err
	}
	r, err := NewResolver(NewCatalog(perms), groups)
	if err != nil {
		return nil, err
	}
	s.resolvers.Add(companyID, r)
	return r, nil
}

func (s *Service) alarmIfGraphBroken(err error, companyID string) {
	if errors.Is(err, ErrInvalidPermissionGraph) {
		obs.ConfigAlarm("permission_graph_invalid", map[string]any{
			"company_id": companyID,
			"error":      err.Error(),
		})
	}
}

// inheritedRoles expands each assigned role's parents into the role list. The
// company catalog is only fetched when some assigned role actually inherits.
func (s *Service) inheritedRoles(ctx context.Context, companyID string, assigned []Role) ([]Role, error) {
	inherits := false
	for i := range assigned {
		if len(assigned[i].InheritedRoles) > 0 {
			inherits = true
			break
		}
	}
	if !inherits {
		return assigned, nil
	}
	all, err := s.store.Roles(ctx).ListByCompany(ctx, companyID)
	if err != nil {
		return nil, err
	}
	byName := make(map[string]*Role, len(all))
	for i := range all {
		byName[all[i].Name] = &all[i]
	}
	return expandRoles(assigned, byName)
}

// CreateRole validates and persists a role. A role naming an unknown parent,
// or one that would close an inheritance cycle, is rejected up front.
func (s *Service) CreateRole(ctx context.Context, role *Role) error {
	if role == nil {
		return fmt.Errorf("%w: role is required", ErrInvalidInput)
	}
	role.Name = strings.TrimSpace(role.Name)
	role.CompanyID = strings.TrimSpace(role.CompanyID)
	if role.Name == "" || role.CompanyID == "" {
		return fmt.Errorf("%w: role name and company_id are required", ErrInvalidInput)
	}
	if len(role.InheritedRoles) > 0 {
		all, err := s.store.Roles(ctx).ListByCompany(ctx, role.CompanyID)
		if err != nil {
			return err
		}
		byName := make(map[string]*Role, len(all)+1)
		for i := range all {
			byName[all[i].Name] = &all[i]
		}
		byName[role.Name] = role
		if _, err := expandRoles([]Role{*role}, byName); err != nil {
			s.alarmIfGraphBroken(err, role.CompanyID)
			return err
		}
	}
	return s.store.Roles(ctx).Create(ctx, role)
}

// CreateGroup validates the group, including the inheritance graph it joins,
// and persists it. A group that would introduce a cycle is rejected before it
// can poison resolution for the whole company.
func (s *Service) CreateGroup(ctx context.Context, g *PermissionGroup) error {
	if g == nil {
		return fmt.Errorf("%w: group is required", ErrInvalidInput)
	}
	g.Name = strings.TrimSpace(g.Name)
	g.CompanyID = strings.TrimSpace(g.CompanyID)
	if g.Name == "" || g.CompanyID == "" {
		return fmt.Errorf("%w: group name and company_id are required", ErrInvalidInput)
	}
	existing, err := s.store.Groups(ctx).ListByCompany(ctx, g.CompanyID)
	if err != nil {
		return err
	}
	if err := ValidateGraph(append(existing, g)); err != nil {
		s.alarmIfGraphBroken(err, g.CompanyID)
		return err
	}
	if g.Version == 0 {
		g.Version = 1
	}
	if err := s.store.Groups(ctx).Create(ctx, g); err != nil {
		return err
	}
	s.InvalidateCompany(g.CompanyID)
	return nil
}

// VersionGroup publishes a new version of an existing group. Strategy edits
// only land through versioning; the previous version stays referenced until
// roles migrate.
func (s *Service) VersionGroup(ctx context.Context, g *PermissionGroup) error {
	if g == nil {
		return fmt.Errorf("%w: group is required", ErrInvalidInput)
	}
	current, err := s.store.Groups(ctx).Find(ctx, g.CompanyID, g.Name)
	if err != nil {
		return err
	}
	g.Version = current.Version + 1
	existing, err := s.store.Groups(ctx).ListByCompany(ctx, g.CompanyID)
	if err != nil {
		return err
	}
	replaced := make([]*PermissionGroup, 0, len(existing))
	for _, e := range existing {
		if e.Name != g.Name {
			replaced = append(replaced, e)
		}
	}
	if err := ValidateGraph(append(replaced, g)); err != nil {
		s.alarmIfGraphBroken(err, g.CompanyID)
		return err
	}
	if err := s.store.Groups(ctx).CreateVersion(ctx, g); err != nil {
		return err
	}
	s.InvalidateCompany(g.CompanyID)
	return nil
}

// AssignRole attaches a role to a user and drops the cached principal.
func (s *Service) AssignRole(ctx context.Context, a Assignment) error {
	a.UserID = strings.TrimSpace(a.UserID)
	a.RoleID = strings.TrimSpace(a.RoleID)
	if a.UserID == "" || a.RoleID == "" {
		return fmt.Errorf("%w: user_id and role_id are required", ErrInvalidInput)
	}
	if err := s.store.Roles(ctx).Assign(ctx, a); err != nil {
		return err
	}
	s.Invalidate(a.UserID)
	return nil
}

// UnassignRole detaches a role from a user.
func (s *Service) UnassignRole(ctx context.Context, userID, roleID string) error {
	if err := s.store.Roles(ctx).Unassign(ctx, userID, roleID); err != nil {
		return err
	}
	s.Invalidate(userID)
	return nil
}

// SetDirectRules replaces a user's ad-hoc permission overrides.
func (s *Service) SetDirectRules(ctx context.Context, userID string, rules []Rule) error {
	if err := s.store.Users(ctx).SetDirectRules(ctx, userID, rules); err != nil {
		return err
	}
	s.Invalidate(userID)
	return nil
}

// DeletePermission removes a catalog entry, refusing while any group or role
// still references it.
func (s *Service) DeletePermission(ctx context.Context, source, action string) error {
	source = strings.TrimSpace(strings.ToLower(source))
	action = strings.TrimSpace(strings.ToLower(action))
	if source == "" || action == "" {
		return fmt.Errorf("%w: source and action are required", ErrInvalidInput)
	}
	refs, err := s.store.Permissions(ctx).ReferenceCount(ctx, source, action)
	if err != nil {
		return err
	}
	if refs > 0 {
		return fmt.Errorf("%w: %s.%s has %d references", ErrPermissionInUse, source, action, refs)
	}
	return s.store.Permissions(ctx).Delete(ctx, source, action)
}

// ListPermissions returns the catalog contents.
func (s *Service) ListPermissions(ctx context.Context) ([]Permission, error) {
	return s.store.Permissions(ctx).List(ctx)
}
