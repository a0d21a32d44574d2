package iam

import "strings"

// Catalog is the set of registered permission definitions. The resolver
// consults it first: a (source, action) pair absent from the catalog is denied
// for every principal, super-admin roles included.
type Catalog struct {
	byKey map[string]Permission
}

// NewCatalog builds a catalog from definitions, last write wins per key.
func NewCatalog(perms []Permission) *Catalog {
	c := &Catalog{byKey: make(map[string]Permission, len(perms))}
	for _, p := range perms {
		p.Source = strings.TrimSpace(strings.ToLower(p.Source))
		p.Action = strings.TrimSpace(strings.ToLower(p.Action))
		if p.Source == "" || p.Action == "" {
			continue
		}
		c.byKey[p.Key()] = p
	}
	return c
}

// Lookup returns the registered definition for the pair.
func (c *Catalog) Lookup(source, action string) (Permission, bool) {
	if c == nil {
		return Permission{}, false
	}
	p, ok := c.byKey[source+"."+action]
	return p, ok
}

// List returns all registered definitions in unspecified order.
func (c *Catalog) List() []Permission {
	out := make([]Permission, 0, len(c.byKey))
	for _, p := range c.byKey {
		out = append(out, p)
	}
	return out
}

// Len reports the number of registered definitions.
func (c *Catalog) Len() int { return len(c.byKey) }

// RequiredScope is the minimum role scope that may vote on a source.
// Administrative sources reconfigure authorization for the whole company, so
// only organization-scoped or wider roles may touch them. Everything else is
// outlet-level work.
func RequiredScope(source string) RoleScope {
	switch source {
	case SourceRole, SourcePermissionGroup, SourceUser, SourceCompany, SourceBusinessUnit:
		return ScopeOrganization
	default:
		return ScopeOutlet
	}
}

// Builtin permission sources.
const (
	SourceOrder           = "order"
	SourceProduct         = "product"
	SourceCustomer        = "customer"
	SourceInventory       = "inventory"
	SourceRole            = "role"
	SourcePermissionGroup = "permission-group"
	SourceUser            = "user"
	SourceCompany         = "company"
	SourceBusinessUnit    = "business-unit"
)

// Builtin permission actions.
const (
	ActionCreate  = "create"
	ActionRead    = "read"
	ActionUpdate  = "update"
	ActionDelete  = "delete"
	ActionAssign  = "assign"
	ActionRefund  = "refund"
	ActionApprove = "approve"
)

// BuiltinPermissions seeds the catalog with the capabilities the platform
// modules declare. Domain modules register additional pairs through the store.
var BuiltinPermissions = []Permission{
	{Source: SourceOrder, Action: ActionCreate, Description: "Create orders"},
	{Source: SourceOrder, Action: ActionRead, Description: "Read orders"},
	{Source: SourceOrder, Action: ActionUpdate, Description: "Update orders"},
	{Source: SourceOrder, Action: ActionDelete, Description: "Void orders"},
	{Source: SourceOrder, Action: ActionRefund, Description: "Refund orders"},
	{Source: SourceOrder, Action: ActionApprove, Description: "Approve order exceptions"},
	{Source: SourceProduct, Action: ActionCreate, Description: "Create products"},
	{Source: SourceProduct, Action: ActionRead, Description: "Read products"},
	{Source: SourceProduct, Action: ActionUpdate, Description: "Update products"},
	{Source: SourceProduct, Action: ActionDelete, Description: "Delete products"},
	{Source: SourceCustomer, Action: ActionCreate, Description: "Create customers"},
	{Source: SourceCustomer, Action: ActionRead, Description: "Read customers"},
	{Source: SourceCustomer, Action: ActionUpdate, Description: "Update customers"},
	{Source: SourceInventory, Action: ActionRead, Description: "Read stock levels"},
	{Source: SourceInventory, Action: ActionUpdate, Description: "Adjust stock levels"},
	{Source: SourceRole, Action: ActionCreate, Description: "Create roles"},
	{Source: SourceRole, Action: ActionRead, Description: "Read roles"},
	{Source: SourceRole, Action: ActionUpdate, Description: "Update roles"},
	{Source: SourceRole, Action: ActionDelete, Description: "Delete roles"},
	{Source: SourceRole, Action: ActionAssign, Description: "Assign roles to users"},
	{Source: SourcePermissionGroup, Action: ActionCreate, Description: "Create permission groups"},
	{Source: SourcePermissionGroup, Action: ActionRead, Description: "Read permission groups"},
	{Source: SourcePermissionGroup, Action: ActionUpdate, Description: "Version permission groups"},
	{Source: SourcePermissionGroup, Action: ActionDelete, Description: "Retire permission definitions"},
	{Source: SourceUser, Action: ActionCreate, Description: "Create users"},
	{Source: SourceUser, Action: ActionRead, Description: "Read users"},
	{Source: SourceUser, Action: ActionUpdate, Description: "Update users"},
	{Source: SourceUser, Action: ActionDelete, Description: "Disable users"},
	{Source: SourceCompany, Action: ActionRead, Description: "Read company settings"},
	{Source: SourceCompany, Action: ActionUpdate, Description: "Update company settings"},
	{Source: SourceBusinessUnit, Action: ActionCreate, Description: "Create business units"},
	{Source: SourceBusinessUnit, Action: ActionRead, Description: "Read business units"},
	{Source: SourceBusinessUnit, Action: ActionUpdate, Description: "Update business units"},
}
