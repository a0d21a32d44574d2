package tenant

import "strings"

// ScopeConfig names the columns on an entity that carry tenant linkage. An
// entity may be scoped by company only, business unit only, both, or neither.
// Entities with a zero ScopeConfig are global and bypass scoping entirely.
type ScopeConfig struct {
	CompanyField      string
	BusinessUnitField string
}

// Scoped reports whether the entity participates in tenant scoping at all.
func (c ScopeConfig) Scoped() bool {
	return strings.TrimSpace(c.CompanyField) != "" || strings.TrimSpace(c.BusinessUnitField) != ""
}

// Fields returns the configured column names paired with the bound tenant
// values, skipping sides the entity is not scoped by. The caller guarantees tc
// came from Require.
func (c ScopeConfig) Fields(tc Context) ([]string, []string) {
	var cols, vals []string
	if f := strings.TrimSpace(c.CompanyField); f != "" {
		cols = append(cols, f)
		vals = append(vals, tc.CompanyID)
	}
	if f := strings.TrimSpace(c.BusinessUnitField); f != "" {
		cols = append(cols, f)
		vals = append(vals, tc.BusinessUnitID)
	}
	return cols, vals
}
