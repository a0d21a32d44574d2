// Package orders is the reference tenant-scoped collaborator: every order
// belongs to a company and a business unit, and reads never cross either
// boundary.
package orders

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

// Line is one order position. Amounts use decimals; no floats for money.
type Line struct {
	SKU       string          `json:"sku"`
	Qty       int             `json:"qty"`
	UnitPrice decimal.Decimal `json:"unit_price"`
}

// Order is a sales document owned by exactly one business unit.
type Order struct {
	ID             string          `json:"id"`
	CompanyID      string          `json:"company_id"`
	BusinessUnitID string          `json:"business_unit_id"`
	Number         string          `json:"number"`
	Status         string          `json:"status"`
	Currency       string          `json:"currency"`
	Total          decimal.Decimal `json:"total"`
	Lines          []Line          `json:"lines,omitempty"`
	CreatedBy      string          `json:"created_by"`
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
}

const (
	StatusOpen      = "open"
	StatusPaid      = "paid"
	StatusCancelled = "cancelled"
)

// Draft is the caller-supplied part of a new order; ownership columns come
// from the bound tenant context, never from the payload.
type Draft struct {
	Number   string `json:"number"`
	Currency string `json:"currency"`
	Lines    []Line `json:"lines"`
}

var (
	ErrNotFound        = errors.New("orders: not found")
	ErrInvalidDraft    = errors.New("orders: invalid draft")
	ErrInvalidCurrency = errors.New("orders: invalid currency")
)

// Total sums the draft lines.
func (d Draft) Total() decimal.Decimal {
	sum := decimal.Zero
	for _, l := range d.Lines {
		sum = sum.Add(l.UnitPrice.Mul(decimal.NewFromInt(int64(l.Qty))))
	}
	return sum
}

// Validate rejects drafts that could not become a well-formed order.
func (d Draft) Validate() error {
	if d.Number == "" {
		return ErrInvalidDraft
	}
	if d.Currency == "" {
		return ErrInvalidCurrency
	}
	if len(d.Lines) == 0 {
		return ErrInvalidDraft
	}
	for _, l := range d.Lines {
		if l.SKU == "" || l.Qty <= 0 || l.UnitPrice.IsNegative() {
			return ErrInvalidDraft
		}
	}
	return nil
}
