package iam

import "context"

// Store describes persistence operations required by the IAM subsystem.
type Store interface {
	Users(ctx context.Context) UserStore
	Roles(ctx context.Context) RoleStore
	Groups(ctx context.Context) GroupStore
	Permissions(ctx context.Context) PermissionStore
}

// UserStore manages IAM identities. Users are soft-deleted only.
type UserStore interface {
	Create(ctx context.Context, u *User) error
	Find(ctx context.Context, id string) (*User, error)
	FindByEmail(ctx context.Context, companyID, email string) (*User, error)
	SetStatus(ctx context.Context, id, status string) error
	SetDirectRules(ctx context.Context, id string, rules []Rule) error
	SoftDelete(ctx context.Context, id string) error
}

// RoleStore manages roles and role assignments.
type RoleStore interface {
	Create(ctx context.Context, role *Role) error
	Find(ctx context.Context, id string) (*Role, error)
	ListByCompany(ctx context.Context, companyID string) ([]Role, error)
	Assign(ctx context.Context, a Assignment) error
	Unassign(ctx context.Context, userID, roleID string) error
	RolesForUser(ctx context.Context, userID string) ([]Role, error)
}

// GroupStore manages permission groups. Strategy is immutable per version;
// changes land as a new version row.
type GroupStore interface {
	Create(ctx context.Context, g *PermissionGroup) error
	Find(ctx context.Context, companyID, name string) (*PermissionGroup, error)
	ListByCompany(ctx context.Context, companyID string) ([]*PermissionGroup, error)
	CreateVersion(ctx context.Context, g *PermissionGroup) error
}

// PermissionStore manages the permission catalog.
type PermissionStore interface {
	Ensure(ctx context.Context, perms []Permission) error
	List(ctx context.Context) ([]Permission, error)
	ReferenceCount(ctx context.Context, source, action string) (int, error)
	Delete(ctx context.Context, source, action string) error
}
