package tenant

import (
	"context"
	"errors"
	"sync"
	"testing"
)

func TestRunBindsAndReleases(t *testing.T) {
	root := context.Background()
	tc := Context{CompanyID: "co-1", BusinessUnitID: "bu-1", UserID: "u-1"}

	err := Run(root, tc, func(ctx context.Context) error {
		got, ok := Current(ctx)
		if !ok {
			t.Fatal("expected bound context inside Run")
		}
		if got != tc {
			t.Fatalf("unexpected context: %+v", got)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if _, ok := Current(root); ok {
		t.Fatal("binding leaked outside Run")
	}
}

func TestRunReleasesOnError(t *testing.T) {
	root := context.Background()
	wantErr := errors.New("boom")

	err := Run(root, Context{CompanyID: "co-1"}, func(ctx context.Context) error {
		return wantErr
	})
	if !errors.Is(err, wantErr) {
		t.Fatalf("expected propagated error, got %v", err)
	}
	if _, ok := Current(root); ok {
		t.Fatal("binding leaked after error")
	}
}

func TestRequireFailsClosed(t *testing.T) {
	if _, err := Require(context.Background()); !errors.Is(err, ErrContextMissing) {
		t.Fatalf("expected ErrContextMissing, got %v", err)
	}
}

func TestConcurrentRequestsSeeOwnContext(t *testing.T) {
	var wg sync.WaitGroup
	for i := 0; i < 64; i++ {
		wg.Add(1)
		tc := Context{CompanyID: "co", BusinessUnitID: "bu", UserID: string(rune('a' + i%26))}
		go func(tc Context) {
			defer wg.Done()
			_ = Run(context.Background(), tc, func(ctx context.Context) error {
				got, ok := Current(ctx)
				if !ok || got != tc {
					t.Errorf("cross-request context corruption: want %+v got %+v", tc, got)
				}
				return nil
			})
		}(tc)
	}
	wg.Wait()
}

func TestBypassRequiresReason(t *testing.T) {
	ctx := WithBypass(context.Background(), "   ")
	if _, ok := BypassReason(ctx); ok {
		t.Fatal("empty reason must not arm the escape hatch")
	}

	ctx = WithBypass(context.Background(), "platform migration")
	reason, ok := BypassReason(ctx)
	if !ok || reason != "platform migration" {
		t.Fatalf("unexpected bypass reason: %q ok=%v", reason, ok)
	}
}

func TestScopeConfig(t *testing.T) {
	if (ScopeConfig{}).Scoped() {
		t.Fatal("zero config must not be scoped")
	}
	cfg := ScopeConfig{CompanyField: "company_id", BusinessUnitField: "business_unit_id"}
	cols, vals := cfg.Fields(Context{CompanyID: "co-9", BusinessUnitID: "bu-9"})
	if len(cols) != 2 || cols[0] != "company_id" || cols[1] != "business_unit_id" {
		t.Fatalf("unexpected columns: %v", cols)
	}
	if vals[0] != "co-9" || vals[1] != "bu-9" {
		t.Fatalf("unexpected values: %v", vals)
	}

	buOnly := ScopeConfig{BusinessUnitField: "business_unit_id"}
	cols, vals = buOnly.Fields(Context{CompanyID: "co-9", BusinessUnitID: "bu-9"})
	if len(cols) != 1 || cols[0] != "business_unit_id" || vals[0] != "bu-9" {
		t.Fatalf("unexpected single-field scope: %v %v", cols, vals)
	}
}
