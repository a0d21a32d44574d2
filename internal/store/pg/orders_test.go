package pg

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"

	"tillbase.io/internal/orders"
	"tillbase.io/internal/tenant"
)

func orderRows(id, company, unit string) *sqlmock.Rows {
	now := time.Now().UTC()
	return sqlmock.NewRows([]string{
		"id", "company_id", "business_unit_id", "number", "status", "currency",
		"total", "lines", "created_by", "created_at", "updated_at",
	}).AddRow(id, company, unit, "S-001", orders.StatusOpen, "KZT", "1800", []byte(`[]`), "u-1", now, now)
}

func TestOrderGetInjectsBothTenantColumns(t *testing.T) {
	s, mock := mockStore(t)
	ctx := tenant.With(context.Background(), tenant.Context{
		CompanyID: "co-1", BusinessUnitID: "bu-1", UserID: "u-1",
	})

	mock.ExpectQuery(`from orders where id = \$1 and company_id = \$2 and business_unit_id = \$3`).
		WithArgs("ord-1", "co-1", "bu-1").
		WillReturnRows(orderRows("ord-1", "co-1", "bu-1"))

	o, err := s.Orders().Get(ctx, "ord-1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if o.BusinessUnitID != "bu-1" {
		t.Fatalf("unexpected order: %+v", o)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestOrderGetRequiresBusinessUnit(t *testing.T) {
	s, mock := mockStore(t)
	// Company-only context must not fall back to a company-wide scan.
	ctx := tenant.With(context.Background(), tenant.Context{CompanyID: "co-1", UserID: "u-1"})

	if _, err := s.Orders().Get(ctx, "ord-1"); !errors.Is(err, tenant.ErrContextMissing) {
		t.Fatalf("Get = %v, want ErrContextMissing", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unexpected database traffic: %v", err)
	}
}

func TestOrderListScopesAndLimits(t *testing.T) {
	s, mock := mockStore(t)
	ctx := tenant.With(context.Background(), tenant.Context{
		CompanyID: "co-1", BusinessUnitID: "bu-1", UserID: "u-1",
	})

	mock.ExpectQuery(`from orders where company_id = \$1 and business_unit_id = \$2 order by created_at desc limit \$3`).
		WithArgs("co-1", "bu-1", 50).
		WillReturnRows(orderRows("ord-1", "co-1", "bu-1"))

	got, err := s.Orders().List(ctx, 50)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(got) != 1 || got[0].ID != "ord-1" {
		t.Fatalf("unexpected orders: %+v", got)
	}
}
