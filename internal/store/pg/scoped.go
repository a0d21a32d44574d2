package pg

import (
	"context"
	"fmt"
	"strings"

	"tillbase.io/internal/obs"
	"tillbase.io/internal/tenant"
)

// Scope composes tenant predicates into SQL for one entity. It is explicit
// composition, not interception: every repository method that touches a scoped
// table calls Predicate or InsertColumns itself and threads the result into
// its query text. A scoped table never sees an unfiltered statement unless the
// escape hatch is armed.
type Scope struct {
	cfg tenant.ScopeConfig
}

// NewScope builds a scope for an entity. A zero config means the entity is
// global and both helpers become no-ops.
func NewScope(cfg tenant.ScopeConfig) Scope { return Scope{cfg: cfg} }

// Predicate returns a "col = $n and col = $m" fragment plus its arguments,
// numbered starting at argOffset+1. Missing tenant context fails closed with
// tenant.ErrContextMissing; so does a configured field whose bound value is
// empty, since filtering on '' would silently match nothing or, worse, rows
// inserted before the column was backfilled.
func (sc Scope) Predicate(ctx context.Context, argOffset int) (string, []any, error) {
	if !sc.cfg.Scoped() {
		return "", nil, nil
	}
	if reason, ok := tenant.BypassReason(ctx); ok {
		obs.RecordTenantBypass()
		obs.Logger().WithFields(map[string]any{
			"event":  "tenant.bypass",
			"reason": reason,
		}).Warn("tenant scope bypassed")
		return "", nil, nil
	}
	tc, err := tenant.Require(ctx)
	if err != nil {
		obs.RecordContextMissing()
		return "", nil, err
	}
	cols, vals := sc.cfg.Fields(tc)
	var (
		parts []string
		args  []any
	)
	for i, col := range cols {
		if strings.TrimSpace(vals[i]) == "" {
			obs.RecordContextMissing()
			return "", nil, fmt.Errorf("%w: no %s bound", tenant.ErrContextMissing, col)
		}
		parts = append(parts, fmt.Sprintf("%s = $%d", col, argOffset+len(args)+1))
		args = append(args, vals[i])
	}
	return strings.Join(parts, " and "), args, nil
}

// InsertColumns returns the tenant columns and values to append to an insert
// so new rows land in the caller's tenant. The escape hatch does not apply to
// writes: creating a row with no owner is never correct.
func (sc Scope) InsertColumns(ctx context.Context) ([]string, []any, error) {
	if !sc.cfg.Scoped() {
		return nil, nil, nil
	}
	tc, err := tenant.Require(ctx)
	if err != nil {
		obs.RecordContextMissing()
		return nil, nil, err
	}
	cols, vals := sc.cfg.Fields(tc)
	args := make([]any, 0, len(vals))
	for i, col := range cols {
		if strings.TrimSpace(vals[i]) == "" {
			obs.RecordContextMissing()
			return nil, nil, fmt.Errorf("%w: no %s bound", tenant.ErrContextMissing, col)
		}
		args = append(args, vals[i])
	}
	return cols, args, nil
}

// andPredicate glues a scope fragment onto an existing where clause.
func andPredicate(where, pred string) string {
	if pred == "" {
		return where
	}
	if where == "" {
		return "where " + pred
	}
	return where + " and " + pred
}
