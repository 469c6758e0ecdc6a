package product

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

// ErrNotFound is returned when a requested product does not exist.
var ErrNotFound = errors.New("product not found")

// Product is a catalog item that can be placed in a basket.
type Product struct {
	ID   string
	Name string
	// Price is the unit price excluding tax.
	Price   decimal.Decimal
	ClassID string
	// ParentID is set for variant products; range membership of the parent
	// extends to its children.
	ParentID       string
	IsDiscountable bool
}

// Repository defines read operations for the product catalog.
type Repository interface {
	GetByID(ctx context.Context, id string) (*Product, error)
	GetByIDs(ctx context.Context, ids []string) ([]Product, error)
}
