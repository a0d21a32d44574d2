package pg

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"tillbase.io/internal/ids"
	"tillbase.io/internal/orders"
	"tillbase.io/internal/tenant"
)

var orderScope = NewScope(tenant.ScopeConfig{
	CompanyField:      "company_id",
	BusinessUnitField: "business_unit_id",
})

// Orders returns the Postgres-backed order repository.
func (s *Store) Orders() orders.Service { return &orderStore{s} }

type orderStore struct{ s *Store }

var _ orders.Service = (*orderStore)(nil)

const orderColumns = `id, company_id, business_unit_id, number, status, currency, total, lines, created_by, created_at, updated_at`

func scanOrder(row interface{ Scan(...any) error }) (orders.Order, error) {
	var (
		o     orders.Order
		lines []byte
	)
	err := row.Scan(&o.ID, &o.CompanyID, &o.BusinessUnitID, &o.Number, &o.Status,
		&o.Currency, &o.Total, &lines, &o.CreatedBy, &o.CreatedAt, &o.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return orders.Order{}, orders.ErrNotFound
	}
	if err != nil {
		return orders.Order{}, err
	}
	if len(lines) > 0 {
		if err := json.Unmarshal(lines, &o.Lines); err != nil {
			return orders.Order{}, fmt.Errorf("decode order lines: %w", err)
		}
	}
	return o, nil
}

func (st *orderStore) Create(ctx context.Context, draft orders.Draft) (orders.Order, error) {
	if err := draft.Validate(); err != nil {
		return orders.Order{}, err
	}
	cols, ownerArgs, err := orderScope.InsertColumns(ctx)
	if err != nil {
		return orders.Order{}, err
	}
	tc, err := tenant.Require(ctx)
	if err != nil {
		return orders.Order{}, err
	}
	lines, err := json.Marshal(draft.Lines)
	if err != nil {
		return orders.Order{}, err
	}

	o := orders.Order{
		ID:             ids.NewPrefixed("ord"),
		CompanyID:      tc.CompanyID,
		BusinessUnitID: tc.BusinessUnitID,
		Number:         draft.Number,
		Status:         orders.StatusOpen,
		Currency:       draft.Currency,
		Total:          draft.Total(),
		Lines:          draft.Lines,
		CreatedBy:      tc.UserID,
	}
	query := fmt.Sprintf(`
		insert into orders (id, %s, %s, number, status, currency, total, lines, created_by)
		values ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		returning created_at, updated_at
	`, cols[0], cols[1])
	args := append([]any{o.ID}, ownerArgs...)
	args = append(args, o.Number, o.Status, o.Currency, o.Total, lines, o.CreatedBy)
	if err := st.s.db.QueryRowContext(ctx, query, args...).Scan(&o.CreatedAt, &o.UpdatedAt); err != nil {
		if pgErr, ok := maybePgError(err); ok && pgErr.Code == pgErrUniqueViolation {
			return orders.Order{}, fmt.Errorf("%w: duplicate order number", orders.ErrInvalidDraft)
		}
		return orders.Order{}, err
	}
	return o, nil
}

func (st *orderStore) Get(ctx context.Context, id string) (orders.Order, error) {
	pred, scopeArgs, err := orderScope.Predicate(ctx, 1)
	if err != nil {
		return orders.Order{}, err
	}
	query := `select ` + orderColumns + ` from orders ` + andPredicate("where id = $1", pred)
	return scanOrder(st.s.db.QueryRowContext(ctx, query, append([]any{id}, scopeArgs...)...))
}

func (st *orderStore) List(ctx context.Context, limit int) ([]orders.Order, error) {
	if limit <= 0 || limit > 1000 {
		limit = 100
	}
	pred, scopeArgs, err := orderScope.Predicate(ctx, 0)
	if err != nil {
		return nil, err
	}
	query := `select ` + orderColumns + ` from orders ` + andPredicate("", pred) +
		fmt.Sprintf(" order by created_at desc limit $%d", len(scopeArgs)+1)
	args := append(append([]any{}, scopeArgs...), limit)

	rows, err := st.s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var res []orders.Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, o)
	}
	return res, rows.Err()
}

func (st *orderStore) SetStatus(ctx context.Context, id, status string) (orders.Order, error) {
	switch status {
	case orders.StatusOpen, orders.StatusPaid, orders.StatusCancelled:
	default:
		return orders.Order{}, orders.ErrInvalidDraft
	}
	pred, scopeArgs, err := orderScope.Predicate(ctx, 2)
	if err != nil {
		return orders.Order{}, err
	}
	query := `update orders set status = $2, updated_at = now() ` +
		andPredicate("where id = $1", pred) + ` returning ` + orderColumns
	return scanOrder(st.s.db.QueryRowContext(ctx, query, append([]any{id, status}, scopeArgs...)...))
}
