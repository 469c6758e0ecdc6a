package main

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/google/uuid"
	"github.com/samber/lo"

	"github.com/xenking/bluelight-offers/internal/domain/basket"
	"github.com/xenking/bluelight-offers/internal/domain/order"
	"github.com/xenking/bluelight-offers/internal/domain/product"
)

func (in basketInput) request() order.Request {
	req := order.Request{
		OwnerID:  in.Owner,
		Currency: in.Currency,
		Vouchers: in.Vouchers,
		Items: lo.Map(in.Lines, func(l lineInput, _ int) order.Item {
			return order.Item{ProductID: l.Product, Quantity: l.Quantity, UnitPrice: l.Price}
		}),
	}
	if id, err := uuid.Parse(in.ID); err == nil {
		req.BasketID = id
	}
	return req
}

// price quotes in, or places it as an order when record is set.
func price(ctx context.Context, svc *order.Service, in basketInput, record bool) (*basket.Basket, error) {
	if !record {
		return svc.Quote(ctx, in.request())
	}
	o, err := svc.PlaceOrder(ctx, in.request())
	if err != nil {
		return nil, err
	}
	return o.Basket, nil
}

// memoryCatalog serves products loaded from a fixture.
type memoryCatalog map[string]product.Product

func newMemoryCatalog(products []product.Product) memoryCatalog {
	return lo.SliceToMap(products, func(p product.Product) (string, product.Product) { return p.ID, p })
}

func (c memoryCatalog) GetByID(_ context.Context, id string) (*product.Product, error) {
	p, ok := c[id]
	if !ok {
		return nil, errors.Wrapf(product.ErrNotFound, "product %q", id)
	}
	return &p, nil
}

func (c memoryCatalog) GetByIDs(_ context.Context, ids []string) ([]product.Product, error) {
	out := make([]product.Product, 0, len(ids))
	for _, id := range ids {
		if p, ok := c[id]; ok {
			out = append(out, p)
		}
	}
	return out, nil
}
