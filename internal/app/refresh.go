package app

import (
	"context"

	"github.com/go-faster/errors"

	"github.com/xenking/bluelight-offers/internal/domain/offer"
	"github.com/xenking/bluelight-offers/internal/domain/product"
)

// SnapshotSource loads the current offer configuration.
type SnapshotSource interface {
	Snapshot(ctx context.Context) (offer.Snapshot, error)
}

// ProductLister lists the catalog.
type ProductLister interface {
	List(ctx context.Context) ([]product.Product, error)
}

// CosmeticRefresher recomputes the single-unit cosmetic price of every
// discountable product so the cache is warm after an invalidation.
type CosmeticRefresher struct {
	configs  SnapshotSource
	products ProductLister
	cache    offer.PriceCache
	currency string
	opts     []offer.ApplicatorOption
}

// NewCosmeticRefresher returns a refresher writing through cache.
func NewCosmeticRefresher(
	configs SnapshotSource,
	products ProductLister,
	cache offer.PriceCache,
	currency string,
	opts ...offer.ApplicatorOption,
) *CosmeticRefresher {
	return &CosmeticRefresher{
		configs:  configs,
		products: products,
		cache:    cache,
		currency: currency,
		opts:     opts,
	}
}

// Refresh returns the number of prices computed.
func (r *CosmeticRefresher) Refresh(ctx context.Context) (int, error) {
	snap, err := r.configs.Snapshot(ctx)
	if err != nil {
		return 0, err
	}
	offers, err := offer.NewLoader(nil).Load(snap)
	if err != nil {
		return 0, errors.Wrap(err, "load offers")
	}
	a, err := offer.NewApplicator(r.opts...)
	if err != nil {
		return 0, errors.Wrap(err, "create applicator")
	}
	pricer := offer.NewCosmeticPricer(a, r.cache, r.currency)

	products, err := r.products.List(ctx)
	if err != nil {
		return 0, errors.Wrap(err, "list products")
	}
	var n int
	for i := range products {
		p := &products[i]
		if !p.IsDiscountable {
			continue
		}
		if _, err := pricer.Price(ctx, p, 1, offers); err != nil {
			return n, errors.Wrapf(err, "price %q", p.ID)
		}
		n++
	}
	return n, nil
}
