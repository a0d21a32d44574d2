package iam

import (
	"fmt"
	"sort"
	"strings"
)

// Vote is a single group's verdict on a requested (source, action).
type Vote int

const (
	VoteAbstain Vote = iota
	VoteAllow
	VoteDeny
)

func (v Vote) String() string {
	switch v {
	case VoteAllow:
		return "allow"
	case VoteDeny:
		return "deny"
	default:
		return "abstain"
	}
}

// Decision is the resolver outcome, carrying enough context to explain a
// denial without leaking another principal's permission structure.
type Decision struct {
	Allowed  bool     `json:"allowed"`
	Source   string   `json:"source"`
	Action   string   `json:"action"`
	Group    string   `json:"group,omitempty"`
	Strategy Strategy `json:"strategy"`
	Reason   string   `json:"reason"`
}

// strategyFunc computes one group's vote. Dispatch happens through a fixed
// table so adding a strategy without wiring it is a compile-time hole here,
// not a silent runtime fallthrough.
type strategyFunc func(rules []Rule, source, action string) Vote

var strategyTable = map[Strategy]strategyFunc{
	StrategyFirstMatch:   voteFirstMatch,
	StrategyMostSpecific: voteMostSpecific,
	StrategyPriority:     votePriority,
	StrategyCumulative:   voteCumulative,
}

func voteFirstMatch(rules []Rule, source, action string) Vote {
	for _, r := range rules {
		if r.Matches(source, action) > 0 {
			return effectVote(r.Effect)
		}
	}
	return VoteAbstain
}

func voteMostSpecific(rules []Rule, source, action string) Vote {
	best := 0
	var allows, denies int
	for _, r := range rules {
		spec := r.Matches(source, action)
		if spec == 0 {
			continue
		}
		if spec > best {
			best = spec
			allows, denies = 0, 0
		}
		if spec == best {
			if r.Effect == Deny {
				denies++
			} else {
				allows++
			}
		}
	}
	if best == 0 {
		return VoteAbstain
	}
	// Conflicting effects at the same specificity cannot be ordered; abstain.
	if allows > 0 && denies > 0 {
		return VoteAbstain
	}
	if denies > 0 {
		return VoteDeny
	}
	return VoteAllow
}

func votePriority(rules []Rule, source, action string) Vote {
	bestPriority := 0
	vote := VoteAbstain
	for _, r := range rules {
		if r.Matches(source, action) == 0 {
			continue
		}
		if vote == VoteAbstain || r.Priority > bestPriority {
			bestPriority = r.Priority
			vote = effectVote(r.Effect)
		}
	}
	return vote
}

// voteCumulative treats the group as an additive capability set: any allow
// match is an allow vote, and the group never votes deny on its own.
func voteCumulative(rules []Rule, source, action string) Vote {
	for _, r := range rules {
		if r.Matches(source, action) > 0 && r.Effect == Allow {
			return VoteAllow
		}
	}
	return VoteAbstain
}

func effectVote(e Effect) Vote {
	if e == Deny {
		return VoteDeny
	}
	return VoteAllow
}

// directGroupName labels the implicit group built from a user's ad-hoc
// permission overrides.
const directGroupName = "direct-permissions"

// candidate pairs a group with the seniority of the role that attached it.
type candidate struct {
	group      *PermissionGroup
	ownerLevel int
	direct     bool
}

// Resolver evaluates (source, action) requests against the catalog and the
// loaded permission group graph.
type Resolver struct {
	catalog *Catalog
	index   map[string]*PermissionGroup
}

// NewResolver builds a resolver over the full group set. The graph is
// validated eagerly so a broken configuration surfaces at load time rather
// than on the first affected request.
func NewResolver(catalog *Catalog, groups []*PermissionGroup) (*Resolver, error) {
	if catalog == nil {
		return nil, fmt.Errorf("%w: catalog is required", ErrInvalidInput)
	}
	if err := ValidateGraph(groups); err != nil {
		return nil, err
	}
	index := make(map[string]*PermissionGroup, len(groups))
	for _, g := range groups {
		index[g.Name] = g
	}
	return &Resolver{catalog: catalog, index: index}, nil
}

// Resolve computes the allow/deny decision for the principal.
//
// Evaluation order follows the platform contract: the catalog gate first
// (unknown pairs deny for everyone), then per-group votes via each group's
// strategy, then combination: override groups short-circuit, otherwise the
// highest-priority non-abstaining group wins with seniority breaking ties,
// and an all-abstain outcome falls back group-by-group with deny beating
// allow when fallbacks disagree.
func (r *Resolver) Resolve(p Principal, source, action string) (Decision, error) {
	source = strings.TrimSpace(strings.ToLower(source))
	action = strings.TrimSpace(strings.ToLower(action))
	d := Decision{Source: source, Action: action}

	if _, ok := r.catalog.Lookup(source, action); !ok {
		d.Reason = "permission not in catalog"
		return d, fmt.Errorf("%w: %s.%s", ErrUnknownPermission, source, action)
	}
	if len(p.Roles) == 0 && len(p.DirectRules) == 0 {
		d.Reason = "principal holds no roles"
		return d, ErrPermissionDenied
	}

	// A role only votes on sources its declared scope covers. Direct rules
	// are explicit per-user overrides and stay exempt.
	required := RequiredScope(source)
	if len(p.DirectRules) == 0 && !anyRoleCovers(p.Roles, required) {
		d.Reason = fmt.Sprintf("no role scope covers %s operations (requires %s)", source, required)
		return d, ErrPermissionDenied
	}

	candidates, err := r.collect(p, required)
	if err != nil {
		return d, err
	}

	// Override groups are scanned most-senior-first; the first non-abstain
	// vote is final. Direct permissions sort ahead of everything.
	ordered := make([]candidate, len(candidates))
	copy(ordered, candidates)
	sort.SliceStable(ordered, func(i, j int) bool {
		if ordered[i].direct != ordered[j].direct {
			return ordered[i].direct
		}
		if ordered[i].group.Priority != ordered[j].group.Priority {
			return ordered[i].group.Priority > ordered[j].group.Priority
		}
		return ordered[i].ownerLevel < ordered[j].ownerLevel
	})

	for _, c := range ordered {
		if !c.group.Override {
			continue
		}
		if v := groupVote(c.group, source, action); v != VoteAbstain {
			return r.finish(d, c.group, v, "override group vote is final")
		}
	}

	var winner *candidate
	var winnerVote Vote
	for i := range ordered {
		c := ordered[i]
		if c.group.Override {
			continue
		}
		v := groupVote(c.group, source, action)
		if v == VoteAbstain {
			continue
		}
		// Ordered slice already ranks by priority then seniority, so the
		// first non-abstain vote wins.
		winner = &ordered[i]
		winnerVote = v
		break
	}
	if winner != nil {
		return r.finish(d, winner.group, winnerVote, "highest-priority group vote")
	}

	// All groups abstained: role-scope-weighted fallback, deny-by-default
	// when non-overriding groups disagree.
	fallback := FallbackDeny
	sawAllow := false
	for _, c := range candidates {
		if c.group.Override {
			continue
		}
		if c.group.Fallback == FallbackDeny {
			d.Group = c.group.Name
			d.Strategy = c.group.Strategy
			d.Reason = "all groups abstained; deny fallback wins"
			return d, ErrPermissionDenied
		}
		sawAllow = true
		d.Group = c.group.Name
		d.Strategy = c.group.Strategy
	}
	if sawAllow {
		fallback = FallbackAllow
	}
	if fallback == FallbackAllow {
		d.Allowed = true
		d.Reason = "all groups abstained; allow fallback"
		return d, nil
	}
	d.Reason = "no group voted"
	return d, ErrPermissionDenied
}

func (r *Resolver) finish(d Decision, g *PermissionGroup, v Vote, why string) (Decision, error) {
	d.Group = g.Name
	d.Strategy = g.Strategy
	d.Reason = fmt.Sprintf("%s (%s, strategy %s)", why, v, g.Strategy)
	if v == VoteAllow {
		d.Allowed = true
		return d, nil
	}
	return d, ErrPermissionDenied
}

func anyRoleCovers(roles []Role, required RoleScope) bool {
	for i := range roles {
		if roles[i].Scope.Covers(required) {
			return true
		}
	}
	return false
}

// collect gathers candidate groups from the principal's roles (expanding
// inheritance) plus the implicit direct-permissions group. Roles whose scope
// does not cover the required scope contribute nothing.
func (r *Resolver) collect(p Principal, required RoleScope) ([]candidate, error) {
	var out []candidate
	seen := make(map[string]int) // group name -> index into out

	if len(p.DirectRules) > 0 {
		out = append(out, candidate{
			group: &PermissionGroup{
				Name:     directGroupName,
				Rules:    p.DirectRules,
				Strategy: StrategyFirstMatch,
				Override: true,
			},
			direct: true,
		})
	}

	for _, role := range p.Roles {
		if !role.Scope.Covers(required) {
			continue
		}
		names := role.Groups
		expanded, err := expandGroups(r.index, names)
		if err != nil {
			return nil, err
		}
		for _, g := range expanded {
			if idx, ok := seen[g.Name]; ok {
				// Same group attached via several roles: the most senior
				// owner breaks priority ties.
				if role.HierarchyLevel < out[idx].ownerLevel {
					out[idx].ownerLevel = role.HierarchyLevel
				}
				continue
			}
			seen[g.Name] = len(out)
			out = append(out, candidate{group: g, ownerLevel: role.HierarchyLevel})
		}
		if len(role.Rules) > 0 {
			name := "role:" + role.Name
			if _, ok := seen[name]; !ok {
				seen[name] = len(out)
				out = append(out, candidate{
					group: &PermissionGroup{
						Name:     name,
						Rules:    role.Rules,
						Strategy: StrategyFirstMatch,
					},
					ownerLevel: role.HierarchyLevel,
				})
			}
		}
	}
	return out, nil
}

func groupVote(g *PermissionGroup, source, action string) Vote {
	fn, ok := strategyTable[g.Strategy]
	if !ok {
		return VoteAbstain
	}
	return fn(g.Rules, source, action)
}
