package orders

import (
	"context"
	"sync"
	"time"

	"tillbase.io/internal/ids"
	"tillbase.io/internal/tenant"
)

// Service defines order operations. Every method derives its tenant from the
// request context; there is no variant that takes tenant ids as arguments.
type Service interface {
	Create(ctx context.Context, draft Draft) (Order, error)
	Get(ctx context.Context, id string) (Order, error)
	List(ctx context.Context, limit int) ([]Order, error)
	SetStatus(ctx context.Context, id, status string) (Order, error)
}

// InMemory implements Service with in-process concurrency safety. It backs
// tests and local development; production uses the Postgres repository.
type InMemory struct {
	mu     sync.RWMutex
	orders map[string]*Order
	now    func() time.Time
}

// NewInMemory creates an empty order book.
func NewInMemory() *InMemory {
	return &InMemory{
		orders: make(map[string]*Order),
		now:    time.Now,
	}
}

// visible reports whether the order belongs to the caller's tenant. Bypass
// makes everything visible; that path is for platform tooling only.
func visible(ctx context.Context, o *Order) bool {
	if _, ok := tenant.BypassReason(ctx); ok {
		return true
	}
	tc, ok := tenant.Current(ctx)
	if !ok {
		return false
	}
	return o.CompanyID == tc.CompanyID && o.BusinessUnitID == tc.BusinessUnitID
}

func (s *InMemory) Create(ctx context.Context, draft Draft) (Order, error) {
	if err := draft.Validate(); err != nil {
		return Order{}, err
	}
	tc, err := tenant.Require(ctx)
	if err != nil {
		return Order{}, err
	}
	if tc.CompanyID == "" || tc.BusinessUnitID == "" {
		return Order{}, tenant.ErrContextMissing
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now().UTC()
	o := &Order{
		ID:             ids.NewPrefixed("ord"),
		CompanyID:      tc.CompanyID,
		BusinessUnitID: tc.BusinessUnitID,
		Number:         draft.Number,
		Status:         StatusOpen,
		Currency:       draft.Currency,
		Total:          draft.Total(),
		Lines:          draft.Lines,
		CreatedBy:      tc.UserID,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	s.orders[o.ID] = o
	return *o, nil
}

func (s *InMemory) Get(ctx context.Context, id string) (Order, error) {
	if _, err := requireTenantOrBypass(ctx); err != nil {
		return Order{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	o, ok := s.orders[id]
	if !ok || !visible(ctx, o) {
		// Cross-tenant reads look identical to absent rows.
		return Order{}, ErrNotFound
	}
	return *o, nil
}

func (s *InMemory) List(ctx context.Context, limit int) ([]Order, error) {
	if _, err := requireTenantOrBypass(ctx); err != nil {
		return nil, err
	}
	if limit <= 0 || limit > 1000 {
		limit = 100
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	var res []Order
	for _, o := range s.orders {
		if !visible(ctx, o) {
			continue
		}
		res = append(res, *o)
		if len(res) >= limit {
			break
		}
	}
	return res, nil
}

func (s *InMemory) SetStatus(ctx context.Context, id, status string) (Order, error) {
	switch status {
	case StatusOpen, StatusPaid, StatusCancelled:
	default:
		return Order{}, ErrInvalidDraft
	}
	if _, err := requireTenantOrBypass(ctx); err != nil {
		return Order{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	o, ok := s.orders[id]
	if !ok || !visible(ctx, o) {
		return Order{}, ErrNotFound
	}
	o.Status = status
	o.UpdatedAt = s.now().UTC()
	return *o, nil
}

func requireTenantOrBypass(ctx context.Context) (tenant.Context, error) {
	if _, ok := tenant.BypassReason(ctx); ok {
		return tenant.Context{}, nil
	}
	return tenant.Require(ctx)
}
