package orders

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/shopspring/decimal"

	"tillbase.io/internal/tenant"
)

func bu(company, unit string) context.Context {
	return tenant.With(context.Background(), tenant.Context{
		CompanyID:      company,
		BusinessUnitID: unit,
		UserID:         "u-" + unit,
	})
}

func draft(number string) Draft {
	return Draft{
		Number:   number,
		Currency: "KZT",
		Lines: []Line{
			{SKU: "espresso", Qty: 2, UnitPrice: decimal.NewFromInt(900)},
		},
	}
}

func TestCreateStampsTenantFromContext(t *testing.T) {
	svc := NewInMemory()

	o, err := svc.Create(bu("co-1", "bu-1"), draft("S-001"))
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if o.CompanyID != "co-1" || o.BusinessUnitID != "bu-1" {
		t.Fatalf("tenant not stamped: %+v", o)
	}
	if !o.Total.Equal(decimal.NewFromInt(1800)) {
		t.Fatalf("total = %s, want 1800", o.Total)
	}
}

func TestOrdersInvisibleAcrossBusinessUnits(t *testing.T) {
	svc := NewInMemory()

	o, err := svc.Create(bu("co-1", "bu-1"), draft("S-001"))
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	if _, err := svc.Get(bu("co-1", "bu-2"), o.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("cross-unit Get = %v, want ErrNotFound", err)
	}
	if _, err := svc.Get(bu("co-2", "bu-1"), o.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("cross-company Get = %v, want ErrNotFound", err)
	}
	got, err := svc.Get(bu("co-1", "bu-1"), o.ID)
	if err != nil || got.ID != o.ID {
		t.Fatalf("own-unit Get = %+v, %v", got, err)
	}
}

func TestListFiltersByTenant(t *testing.T) {
	svc := NewInMemory()

	for i := 0; i < 3; i++ {
		if _, err := svc.Create(bu("co-1", "bu-1"), draft(fmt.Sprintf("A-%d", i))); err != nil {
			t.Fatalf("Create: %v", err)
		}
	}
	if _, err := svc.Create(bu("co-1", "bu-2"), draft("B-0")); err != nil {
		t.Fatalf("Create: %v", err)
	}

	got, err := svc.List(bu("co-1", "bu-1"), 100)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("List returned %d orders, want 3", len(got))
	}
	for _, o := range got {
		if o.BusinessUnitID != "bu-1" {
			t.Fatalf("foreign order leaked: %+v", o)
		}
	}
}

func TestOperationsFailClosedWithoutTenant(t *testing.T) {
	svc := NewInMemory()

	if _, err := svc.Create(context.Background(), draft("S-001")); !errors.Is(err, tenant.ErrContextMissing) {
		t.Fatalf("Create = %v, want ErrContextMissing", err)
	}
	if _, err := svc.List(context.Background(), 10); !errors.Is(err, tenant.ErrContextMissing) {
		t.Fatalf("List = %v, want ErrContextMissing", err)
	}
	if _, err := svc.Get(context.Background(), "ord-x"); !errors.Is(err, tenant.ErrContextMissing) {
		t.Fatalf("Get = %v, want ErrContextMissing", err)
	}
}

func TestBypassSeesEverything(t *testing.T) {
	svc := NewInMemory()

	o, err := svc.Create(bu("co-1", "bu-1"), draft("S-001"))
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	ctx := tenant.WithBypass(context.Background(), "support data check")
	if _, err := svc.Get(ctx, o.ID); err != nil {
		t.Fatalf("bypassed Get: %v", err)
	}
}

func TestConcurrentTenantsStayIsolated(t *testing.T) {
	svc := NewInMemory()

	const perUnit = 50
	var wg sync.WaitGroup
	for _, unit := range []string{"bu-1", "bu-2", "bu-3"} {
		unit := unit
		wg.Add(1)
		go func() {
			defer wg.Done()
			ctx := bu("co-1", unit)
			for i := 0; i < perUnit; i++ {
				if _, err := svc.Create(ctx, draft(fmt.Sprintf("%s-%d", unit, i))); err != nil {
					t.Errorf("Create in %s: %v", unit, err)
					return
				}
			}
		}()
	}
	wg.Wait()

	for _, unit := range []string{"bu-1", "bu-2", "bu-3"} {
		got, err := svc.List(bu("co-1", unit), 1000)
		if err != nil {
			t.Fatalf("List %s: %v", unit, err)
		}
		if len(got) != perUnit {
			t.Fatalf("unit %s sees %d orders, want %d", unit, len(got), perUnit)
		}
	}
}

func TestSetStatus(t *testing.T) {
	svc := NewInMemory()
	ctx := bu("co-1", "bu-1")

	o, err := svc.Create(ctx, draft("S-001"))
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	got, err := svc.SetStatus(ctx, o.ID, StatusPaid)
	if err != nil || got.Status != StatusPaid {
		t.Fatalf("SetStatus = %+v, %v", got, err)
	}
	if _, err := svc.SetStatus(bu("co-1", "bu-2"), o.ID, StatusCancelled); !errors.Is(err, ErrNotFound) {
		t.Fatalf("cross-unit SetStatus = %v, want ErrNotFound", err)
	}
}

func TestDraftValidation(t *testing.T) {
	svc := NewInMemory()
	ctx := bu("co-1", "bu-1")

	if _, err := svc.Create(ctx, Draft{Currency: "KZT"}); !errors.Is(err, ErrInvalidDraft) {
		t.Fatalf("missing number = %v, want ErrInvalidDraft", err)
	}
	d := draft("S-001")
	d.Currency = ""
	if _, err := svc.Create(ctx, d); !errors.Is(err, ErrInvalidCurrency) {
		t.Fatalf("missing currency = %v, want ErrInvalidCurrency", err)
	}
}
