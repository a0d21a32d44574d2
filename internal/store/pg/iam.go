package pg

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"tillbase.io/internal/iam"
	"tillbase.io/internal/ids"
	"tillbase.io/internal/tenant"
)

var _ iam.Store = (*Store)(nil)

var (
	userScope  = NewScope(tenant.ScopeConfig{CompanyField: "company_id"})
	roleScope  = NewScope(tenant.ScopeConfig{CompanyField: "company_id"})
	groupScope = NewScope(tenant.ScopeConfig{CompanyField: "company_id"})
)

func (s *Store) Users(ctx context.Context) iam.UserStore             { return &userStore{s} }
func (s *Store) Roles(ctx context.Context) iam.RoleStore             { return &roleStore{s} }
func (s *Store) Groups(ctx context.Context) iam.GroupStore           { return &groupStore{s} }
func (s *Store) Permissions(ctx context.Context) iam.PermissionStore { return &permStore{s} }

func marshalRules(rules []iam.Rule) ([]byte, error) {
	if rules == nil {
		rules = []iam.Rule{}
	}
	return json.Marshal(rules)
}

func marshalStrings(vals []string) ([]byte, error) {
	if vals == nil {
		vals = []string{}
	}
	return json.Marshal(vals)
}

// --- users ---

type userStore struct{ s *Store }

const userColumns = `id, company_id, coalesce(business_unit_id,''), email, password_hash, status, direct_rules, created_at, updated_at, deleted_at`

func scanUser(row interface{ Scan(...any) error }) (*iam.User, error) {
	var (
		u       iam.User
		rules   []byte
		deleted sql.NullTime
	)
	err := row.Scan(&u.ID, &u.CompanyID, &u.BusinessUnitID, &u.Email, &u.PasswordHash,
		&u.Status, &rules, &u.CreatedAt, &u.UpdatedAt, &deleted)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, iam.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if len(rules) > 0 {
		if err := json.Unmarshal(rules, &u.DirectRules); err != nil {
			return nil, fmt.Errorf("decode direct rules: %w", err)
		}
	}
	if deleted.Valid {
		t := deleted.Time
		u.DeletedAt = &t
	}
	return &u, nil
}

func (st *userStore) Create(ctx context.Context, u *iam.User) error {
	if u.CompanyID == "" || u.Email == "" {
		return fmt.Errorf("%w: company and email are required", iam.ErrInvalidInput)
	}
	if u.ID == "" {
		u.ID = ids.NewPrefixed("usr")
	}
	if u.Status == "" {
		u.Status = iam.UserStatusActive
	}
	rules, err := marshalRules(u.DirectRules)
	if err != nil {
		return err
	}
	row := st.s.db.QueryRowContext(ctx, `
		insert into users (id, company_id, business_unit_id, email, password_hash, status, direct_rules)
		values ($1, $2, $3, $4, $5, $6, $7)
		returning created_at, updated_at
	`, u.ID, u.CompanyID, nullIfEmpty(u.BusinessUnitID), u.Email, u.PasswordHash, u.Status, rules)
	if err := row.Scan(&u.CreatedAt, &u.UpdatedAt); err != nil {
		if pgErr, ok := maybePgError(err); ok {
			switch pgErr.Code {
			case pgErrUniqueViolation:
				return iam.ErrAlreadyExists
			case pgErrForeignKeyViolation:
				return iam.ErrNotFound
			}
		}
		return err
	}
	return nil
}

func (st *userStore) Find(ctx context.Context, id string) (*iam.User, error) {
	pred, scopeArgs, err := userScope.Predicate(ctx, 1)
	if err != nil {
		return nil, err
	}
	query := `select ` + userColumns + ` from users ` + andPredicate("where id = $1", pred)
	args := append([]any{id}, scopeArgs...)
	return scanUser(st.s.db.QueryRowContext(ctx, query, args...))
}

func (st *userStore) FindByEmail(ctx context.Context, companyID, email string) (*iam.User, error) {
	// Login runs before any tenant context exists; company comes from the
	// request body instead of the scope builder.
	return scanUser(st.s.db.QueryRowContext(ctx, `
		select `+userColumns+` from users
		where company_id = $1 and email = $2 and deleted_at is null
	`, companyID, email))
}

func (st *userStore) SetStatus(ctx context.Context, id, status string) error {
	pred, scopeArgs, err := userScope.Predicate(ctx, 2)
	if err != nil {
		return err
	}
	query := `update users set status = $2, updated_at = now() ` + andPredicate("where id = $1", pred)
	res, err := st.s.db.ExecContext(ctx, query, append([]any{id, status}, scopeArgs...)...)
	if err != nil {
		return err
	}
	return requireAffected(res)
}

func (st *userStore) SetDirectRules(ctx context.Context, id string, rules []iam.Rule) error {
	raw, err := marshalRules(rules)
	if err != nil {
		return err
	}
	pred, scopeArgs, err := userScope.Predicate(ctx, 2)
	if err != nil {
		return err
	}
	query := `update users set direct_rules = $2, updated_at = now() ` + andPredicate("where id = $1", pred)
	res, err := st.s.db.ExecContext(ctx, query, append([]any{id, raw}, scopeArgs...)...)
	if err != nil {
		return err
	}
	return requireAffected(res)
}

func (st *userStore) SoftDelete(ctx context.Context, id string) error {
	pred, scopeArgs, err := userScope.Predicate(ctx, 1)
	if err != nil {
		return err
	}
	query := `update users set deleted_at = now(), updated_at = now() ` +
		andPredicate("where id = $1 and deleted_at is null", pred)
	res, err := st.s.db.ExecContext(ctx, query, append([]any{id}, scopeArgs...)...)
	if err != nil {
		return err
	}
	return requireAffected(res)
}

// --- roles ---

type roleStore struct{ s *Store }

const roleColumns = `id, company_id, name, coalesce(description,''), scope, hierarchy_level, rules, group_names, inherited_roles, limits, is_system, created_at, updated_at`

func scanRole(row interface{ Scan(...any) error }) (*iam.Role, error) {
	var (
		r                                iam.Role
		scopeName                        string
		rules, groups, inherited, limits []byte
	)
	err := row.Scan(&r.ID, &r.CompanyID, &r.Name, &r.Description, &scopeName, &r.HierarchyLevel,
		&rules, &groups, &inherited, &limits, &r.IsSystem, &r.CreatedAt, &r.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, iam.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	r.Scope = iam.ParseRoleScope(scopeName)
	if len(rules) > 0 {
		if err := json.Unmarshal(rules, &r.Rules); err != nil {
			return nil, fmt.Errorf("decode role rules: %w", err)
		}
	}
	if len(groups) > 0 {
		if err := json.Unmarshal(groups, &r.Groups); err != nil {
			return nil, fmt.Errorf("decode role groups: %w", err)
		}
	}
	if len(inherited) > 0 {
		if err := json.Unmarshal(inherited, &r.InheritedRoles); err != nil {
			return nil, fmt.Errorf("decode inherited roles: %w", err)
		}
	}
	if len(limits) > 0 {
		if err := json.Unmarshal(limits, &r.Limits); err != nil {
			return nil, fmt.Errorf("decode role limits: %w", err)
		}
	}
	return &r, nil
}

func (st *roleStore) Create(ctx context.Context, role *iam.Role) error {
	if role.CompanyID == "" || role.Name == "" {
		return fmt.Errorf("%w: company and name are required", iam.ErrInvalidInput)
	}
	if role.ID == "" {
		role.ID = ids.NewPrefixed("rol")
	}
	rules, err := marshalRules(role.Rules)
	if err != nil {
		return err
	}
	groups, err := marshalStrings(role.Groups)
	if err != nil {
		return err
	}
	inherited, err := marshalStrings(role.InheritedRoles)
	if err != nil {
		return err
	}
	limits, err := json.Marshal(role.Limits)
	if err != nil {
		return err
	}
	row := st.s.db.QueryRowContext(ctx, `
		insert into roles (id, company_id, name, description, scope, hierarchy_level,
			rules, group_names, inherited_roles, limits, is_system)
		values ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		returning created_at, updated_at
	`, role.ID, role.CompanyID, role.Name, nullIfEmpty(role.Description), role.Scope.String(),
		role.HierarchyLevel, rules, groups, inherited, limits, role.IsSystem)
	if err := row.Scan(&role.CreatedAt, &role.UpdatedAt); err != nil {
		if pgErr, ok := maybePgError(err); ok && pgErr.Code == pgErrUniqueViolation {
			return iam.ErrAlreadyExists
		}
		return err
	}
	return nil
}

func (st *roleStore) Find(ctx context.Context, id string) (*iam.Role, error) {
	pred, scopeArgs, err := roleScope.Predicate(ctx, 1)
	if err != nil {
		return nil, err
	}
	query := `select ` + roleColumns + ` from roles ` + andPredicate("where id = $1", pred)
	return scanRole(st.s.db.QueryRowContext(ctx, query, append([]any{id}, scopeArgs...)...))
}

func (st *roleStore) ListByCompany(ctx context.Context, companyID string) ([]iam.Role, error) {
	rows, err := st.s.db.QueryContext(ctx, `
		select `+roleColumns+` from roles
		where company_id = $1
		order by hierarchy_level, name
	`, companyID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var roles []iam.Role
	for rows.Next() {
		r, err := scanRole(rows)
		if err != nil {
			return nil, err
		}
		roles = append(roles, *r)
	}
	return roles, rows.Err()
}

func (st *roleStore) Assign(ctx context.Context, a iam.Assignment) error {
	if a.UserID == "" || a.RoleID == "" {
		return fmt.Errorf("%w: user and role are required", iam.ErrInvalidInput)
	}
	tx, err := st.s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	// Cross-company assignment must never slip through, even for a bypassed
	// platform operator.
	var userCompany, roleCompany string
	if err := tx.QueryRowContext(ctx, `select company_id from users where id = $1 and deleted_at is null`, a.UserID).Scan(&userCompany); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return iam.ErrNotFound
		}
		return err
	}
	if err := tx.QueryRowContext(ctx, `select company_id from roles where id = $1`, a.RoleID).Scan(&roleCompany); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return iam.ErrNotFound
		}
		return err
	}
	if userCompany != roleCompany {
		return fmt.Errorf("%w: user and role belong to different companies", iam.ErrInvalidInput)
	}

	if _, err := tx.ExecContext(ctx, `
		insert into role_assignments (user_id, role_id, company_id)
		values ($1, $2, $3)
	`, a.UserID, a.RoleID, userCompany); err != nil {
		if pgErr, ok := maybePgError(err); ok && pgErr.Code == pgErrUniqueViolation {
			return iam.ErrAlreadyExists
		}
		return err
	}
	return tx.Commit()
}

func (st *roleStore) Unassign(ctx context.Context, userID, roleID string) error {
	res, err := st.s.db.ExecContext(ctx, `
		delete from role_assignments
		where user_id = $1 and role_id = $2
	`, userID, roleID)
	if err != nil {
		return err
	}
	return requireAffected(res)
}

func (st *roleStore) RolesForUser(ctx context.Context, userID string) ([]iam.Role, error) {
	pred, scopeArgs, err := NewScope(tenant.ScopeConfig{CompanyField: "r.company_id"}).Predicate(ctx, 1)
	if err != nil {
		return nil, err
	}
	query := `
		select r.id, r.company_id, r.name, coalesce(r.description,''), r.scope, r.hierarchy_level,
			r.rules, r.group_names, r.inherited_roles, r.limits, r.is_system, r.created_at, r.updated_at
		from roles r
		join role_assignments ra on ra.role_id = r.id
		` + andPredicate("where ra.user_id = $1", pred) + `
		order by r.hierarchy_level, r.name
	`
	rows, err := st.s.db.QueryContext(ctx, query, append([]any{userID}, scopeArgs...)...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var roles []iam.Role
	for rows.Next() {
		r, err := scanRole(rows)
		if err != nil {
			return nil, err
		}
		roles = append(roles, *r)
	}
	return roles, rows.Err()
}

// --- permission groups ---

type groupStore struct{ s *Store }

const groupColumns = `id, coalesce(company_id,''), name, rules, strategy, priority, inherit_from, override, fallback, version, created_at, updated_at`

func scanGroup(row interface{ Scan(...any) error }) (*iam.PermissionGroup, error) {
	var (
		g                  iam.PermissionGroup
		strategy, fallback string
		rules, inherit     []byte
	)
	err := row.Scan(&g.ID, &g.CompanyID, &g.Name, &rules, &strategy, &g.Priority,
		&inherit, &g.Override, &fallback, &g.Version, &g.CreatedAt, &g.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, iam.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	s, ok := iam.ParseStrategy(strategy)
	if !ok {
		return nil, fmt.Errorf("decode group %s: unknown strategy %q", g.Name, strategy)
	}
	g.Strategy = s
	if fallback == "allow" {
		g.Fallback = iam.FallbackAllow
	}
	if len(rules) > 0 {
		if err := json.Unmarshal(rules, &g.Rules); err != nil {
			return nil, fmt.Errorf("decode group rules: %w", err)
		}
	}
	if len(inherit) > 0 {
		if err := json.Unmarshal(inherit, &g.InheritFrom); err != nil {
			return nil, fmt.Errorf("decode group inheritance: %w", err)
		}
	}
	return &g, nil
}

func (st *groupStore) insert(ctx context.Context, g *iam.PermissionGroup) error {
	if g.Name == "" {
		return fmt.Errorf("%w: group name is required", iam.ErrInvalidInput)
	}
	if g.ID == "" {
		g.ID = ids.NewPrefixed("grp")
	}
	if g.Version <= 0 {
		g.Version = 1
	}
	rules, err := marshalRules(g.Rules)
	if err != nil {
		return err
	}
	inherit, err := marshalStrings(g.InheritFrom)
	if err != nil {
		return err
	}
	row := st.s.db.QueryRowContext(ctx, `
		insert into permission_groups (id, company_id, name, rules, strategy, priority,
			inherit_from, override, fallback, version)
		values ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		returning created_at, updated_at
	`, g.ID, nullIfEmpty(g.CompanyID), g.Name, rules, g.Strategy.String(), g.Priority,
		inherit, g.Override, g.Fallback.String(), g.Version)
	if err := row.Scan(&g.CreatedAt, &g.UpdatedAt); err != nil {
		if pgErr, ok := maybePgError(err); ok && pgErr.Code == pgErrUniqueViolation {
			return iam.ErrAlreadyExists
		}
		return err
	}
	return nil
}

func (st *groupStore) Create(ctx context.Context, g *iam.PermissionGroup) error {
	g.Version = 1
	return st.insert(ctx, g)
}

// CreateVersion appends a new immutable version row; the previous version
// stays untouched for audit and rollback.
func (st *groupStore) CreateVersion(ctx context.Context, g *iam.PermissionGroup) error {
	g.ID = ""
	return st.insert(ctx, g)
}

func (st *groupStore) Find(ctx context.Context, companyID, name string) (*iam.PermissionGroup, error) {
	return scanGroup(st.s.db.QueryRowContext(ctx, `
		select `+groupColumns+` from permission_groups
		where coalesce(company_id,'') = $1 and name = $2
		order by version desc
		limit 1
	`, companyID, name))
}

func (st *groupStore) ListByCompany(ctx context.Context, companyID string) ([]*iam.PermissionGroup, error) {
	// Latest version per name wins; older versions exist only for audit.
	rows, err := st.s.db.QueryContext(ctx, `
		select distinct on (name) `+groupColumns+`
		from permission_groups
		where coalesce(company_id,'') = $1
		order by name, version desc
	`, companyID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var groups []*iam.PermissionGroup
	for rows.Next() {
		g, err := scanGroup(rows)
		if err != nil {
			return nil, err
		}
		groups = append(groups, g)
	}
	return groups, rows.Err()
}

// --- permissions ---

type permStore struct{ s *Store }

func (st *permStore) Ensure(ctx context.Context, perms []iam.Permission) error {
	tx, err := st.s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	for _, p := range perms {
		id := p.ID
		if id == "" {
			id = ids.NewPrefixed("perm")
		}
		if _, err := tx.ExecContext(ctx, `
			insert into permissions (id, source, action, description)
			values ($1, $2, $3, $4)
			on conflict (source, action) do nothing
		`, id, p.Source, p.Action, nullIfEmpty(p.Description)); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (st *permStore) List(ctx context.Context) ([]iam.Permission, error) {
	rows, err := st.s.db.QueryContext(ctx, `
		select id, source, action, coalesce(description,''), created_at
		from permissions
		order by source, action
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var perms []iam.Permission
	for rows.Next() {
		var p iam.Permission
		if err := rows.Scan(&p.ID, &p.Source, &p.Action, &p.Description, &p.CreatedAt); err != nil {
			return nil, err
		}
		perms = append(perms, p)
	}
	return perms, rows.Err()
}

// ReferenceCount counts exact-match rule references across groups, roles and
// user direct rules. Wildcard rules reference the source, not the pair, so
// they do not pin an individual permission.
func (st *permStore) ReferenceCount(ctx context.Context, source, action string) (int, error) {
	var n int
	err := st.s.db.QueryRowContext(ctx, `
		select
			(select count(*) from permission_groups g, jsonb_array_elements(g.rules) r
				where r->>'source' = $1 and r->>'action' = $2)
			+ (select count(*) from roles ro, jsonb_array_elements(ro.rules) r
				where r->>'source' = $1 and r->>'action' = $2)
			+ (select count(*) from users u, jsonb_array_elements(u.direct_rules) r
				where u.deleted_at is null and r->>'source' = $1 and r->>'action' = $2)
	`, source, action).Scan(&n)
	return n, err
}

func (st *permStore) Delete(ctx context.Context, source, action string) error {
	res, err := st.s.db.ExecContext(ctx, `
		delete from permissions where source = $1 and action = $2
	`, source, action)
	if err != nil {
		return err
	}
	return requireAffected(res)
}

// --- helpers ---

func requireAffected(res sql.Result) error {
	aff, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if aff == 0 {
		return iam.ErrNotFound
	}
	return nil
}
