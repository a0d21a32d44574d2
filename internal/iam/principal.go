package iam

// Principal is the authenticated user plus resolved roles for the current
// request.
type Principal struct {
	User        *User
	Roles       []Role
	DirectRules []Rule
}

// RoleNames returns the names of the principal's roles in assignment order.
func (p Principal) RoleNames() []string {
	names := make([]string, 0, len(p.Roles))
	for _, r := range p.Roles {
		names = append(names, r.Name)
	}
	return names
}

// HasRole reports whether the principal holds the named role.
func (p Principal) HasRole(name string) bool {
	for _, r := range p.Roles {
		if r.Name == name {
			return true
		}
	}
	return false
}

// Limits folds the principal's role quotas into the effective set.
func (p Principal) Limits() RoleLimits {
	return EffectiveLimits(p.Roles)
}
