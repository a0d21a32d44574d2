package iam

import "fmt"

// Group inheritance forms a directed graph via InheritFrom. Cycles are a
// configuration error: resolution must fail fast with
// ErrInvalidPermissionGraph, never loop. Expansion runs once per evaluation
// over the already-loaded group index, so it is pure and bounded.

type visitColor int

const (
	colorWhite visitColor = iota // unvisited
	colorGray                    // on the current path
	colorBlack                   // fully expanded
)

// expandGroups returns the transitive closure of the named groups in
// depth-first preorder: each group before the groups it inherits from, with
// duplicates removed. Unknown references and cycles both fail.
func expandGroups(index map[string]*PermissionGroup, names []string) ([]*PermissionGroup, error) {
	colors := make(map[string]visitColor, len(index))
	var out []*PermissionGroup

	var visit func(name string) error
	visit = func(name string) error {
		switch colors[name] {
		case colorBlack:
			return nil
		case colorGray:
			return fmt.Errorf("%w: cycle through group %q", ErrInvalidPermissionGraph, name)
		}
		group, ok := index[name]
		if !ok {
			return fmt.Errorf("%w: reference to unknown group %q", ErrInvalidPermissionGraph, name)
		}
		colors[name] = colorGray
		out = append(out, group)
		for _, parent := range group.InheritFrom {
			if err := visit(parent); err != nil {
				return err
			}
		}
		colors[name] = colorBlack
		return nil
	}

	for _, name := range names {
		if err := visit(name); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// expandRoles returns the assigned roles plus every role they inherit from,
// transitively, each role before its parents and duplicates removed. Role
// inheritance references parents by name within one company; unknown names
// and cycles both fail as graph errors.
func expandRoles(assigned []Role, byName map[string]*Role) ([]Role, error) {
	colors := make(map[string]visitColor, len(byName))
	var out []Role

	var visit func(r *Role) error
	visit = func(r *Role) error {
		switch colors[r.Name] {
		case colorBlack:
			return nil
		case colorGray:
			return fmt.Errorf("%w: cycle through role %q", ErrInvalidPermissionGraph, r.Name)
		}
		colors[r.Name] = colorGray
		out = append(out, *r)
		for _, parent := range r.InheritedRoles {
			p, ok := byName[parent]
			if !ok {
				return fmt.Errorf("%w: reference to unknown role %q", ErrInvalidPermissionGraph, parent)
			}
			if err := visit(p); err != nil {
				return err
			}
		}
		colors[r.Name] = colorBlack
		return nil
	}

	for i := range assigned {
		if err := visit(&assigned[i]); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// ValidateGraph checks the whole group set for cycles and dangling
// references. It is intended to run at configuration-load time so broken
// graphs are caught before any request evaluates against them.
func ValidateGraph(groups []*PermissionGroup) error {
	index := make(map[string]*PermissionGroup, len(groups))
	names := make([]string, 0, len(groups))
	for _, g := range groups {
		index[g.Name] = g
		names = append(names, g.Name)
	}
	_, err := expandGroups(index, names)
	return err
}
