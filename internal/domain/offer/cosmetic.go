package offer

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"

	"github.com/xenking/bluelight-offers/internal/domain/basket"
	"github.com/xenking/bluelight-offers/internal/domain/product"
)

// PriceCache memoizes cosmetic prices per product and quantity.
type PriceCache interface {
	GetOrSet(ctx context.Context, productID string, quantity int,
		compute func(ctx context.Context) (decimal.Decimal, error)) (decimal.Decimal, error)
}

// CosmeticPricer computes the unit price a product would show before it is
// added to a basket, given the offers marked as affecting cosmetic pricing.
type CosmeticPricer struct {
	applicator *Applicator
	cache      PriceCache
	currency   string
}

// NewCosmeticPricer returns a pricer. cache may be nil.
func NewCosmeticPricer(a *Applicator, cache PriceCache, currency string) *CosmeticPricer {
	return &CosmeticPricer{applicator: a, cache: cache, currency: currency}
}

// Price returns the discounted unit price of quantity units of p.
//
// The price comes from a throwaway basket holding only p, so it reflects no
// other basket contents.
func (c *CosmeticPricer) Price(ctx context.Context, p *product.Product, quantity int, offers []*Offer) (decimal.Decimal, error) {
	if p == nil {
		return decimal.Zero, errors.Wrap(product.ErrNotFound, "cosmetic price")
	}
	if quantity <= 0 {
		return decimal.Zero, errors.Errorf("cosmetic price: quantity %d must be positive", quantity)
	}

	compute := func(ctx context.Context) (decimal.Decimal, error) {
		b := basket.New(c.currency)
		before := b.TotalExclTax()
		b.AddProduct(p, quantity)
		c.applicator.apply(ctx, b, offers, true)
		after := b.TotalExclTax()
		return after.Sub(before).Div(decimal.NewFromInt(int64(quantity))), nil
	}
	if c.cache == nil {
		return compute(ctx)
	}
	return c.cache.GetOrSet(ctx, p.ID, quantity, compute)
}
