package order

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/google/uuid"
	"github.com/samber/lo"

	"github.com/xenking/bluelight-offers/internal/domain/basket"
	"github.com/xenking/bluelight-offers/internal/domain/offer"
	"github.com/xenking/bluelight-offers/internal/domain/product"
)

// Sentinel errors for basket validation.
var (
	ErrEmptyItems      = errors.New("items required")
	ErrInvalidVoucher  = errors.New("voucher code is not valid")
	ErrVoucherExpired  = errors.New("voucher is not currently available")
	ErrNoOrderRecorder = errors.New("orders cannot be recorded without a recorder")
)

// ProductNotFoundError indicates a requested product does not exist.
type ProductNotFoundError struct {
	ProductID string
}

func (e *ProductNotFoundError) Error() string {
	return fmt.Sprintf("product %s not found", e.ProductID)
}

func (e *ProductNotFoundError) Unwrap() error { return product.ErrNotFound }

// InvalidQuantityError indicates a line item has a non-positive quantity.
type InvalidQuantityError struct {
	ProductID string
	Quantity  int
}

func (e *InvalidQuantityError) Error() string {
	return fmt.Sprintf("quantity %d must be positive for product %s", e.Quantity, e.ProductID)
}

// Service prices baskets against the configured offers and records placed
// orders.
type Service struct {
	products   product.Repository
	offers     OfferSource
	applicator *offer.Applicator
	orders     Recorder
	currency   string
	now        func() time.Time
}

// NewService returns a Service pricing baskets in currency unless a request
// names another. orders may be nil when nothing is placed.
func NewService(
	products product.Repository,
	offers OfferSource,
	applicator *offer.Applicator,
	orders Recorder,
	currency string,
) *Service {
	return &Service{
		products:   products,
		offers:     offers,
		applicator: applicator,
		orders:     orders,
		currency:   currency,
		now:        time.Now,
	}
}

// Quote builds the basket described by req and applies the offers in force:
// every offer without a voucher plus those unlocked by req.Vouchers.
func (s *Service) Quote(ctx context.Context, req Request) (*basket.Basket, error) {
	b, err := s.build(ctx, req)
	if err != nil {
		return nil, err
	}
	all, err := s.offers.Offers(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "load offers")
	}
	offers, err := s.unlock(all, req.Vouchers)
	if err != nil {
		return nil, err
	}
	s.applicator.Apply(ctx, b, offers)
	return b, nil
}

// PlaceOrder quotes req and records the offer usage of the result.
func (s *Service) PlaceOrder(ctx context.Context, req Request) (*Order, error) {
	if s.orders == nil {
		return nil, ErrNoOrderRecorder
	}
	b, err := s.Quote(ctx, req)
	if err != nil {
		return nil, err
	}
	o := &Order{ID: uuid.New(), Basket: b}
	if err := s.orders.RecordOrder(ctx, o.ID, b); err != nil {
		return nil, errors.Wrap(err, "record order")
	}
	return o, nil
}

func (s *Service) build(ctx context.Context, req Request) (*basket.Basket, error) {
	if len(req.Items) == 0 {
		return nil, ErrEmptyItems
	}
	for _, item := range req.Items {
		if item.Quantity <= 0 {
			return nil, &InvalidQuantityError{ProductID: item.ProductID, Quantity: item.Quantity}
		}
	}

	// Batch fetch all products in a single query.
	ids := lo.Uniq(lo.Map(req.Items, func(item Item, _ int) string { return item.ProductID }))
	fetched, err := s.products.GetByIDs(ctx, ids)
	if err != nil {
		return nil, errors.Wrap(err, "get products")
	}
	byID := lo.SliceToMap(fetched, func(p product.Product) (string, *product.Product) {
		return p.ID, &p
	})

	b := basket.New(lo.CoalesceOrEmpty(req.Currency, s.currency))
	if req.BasketID != uuid.Nil {
		b.ID = req.BasketID
	}
	b.OwnerID = req.OwnerID
	for _, item := range req.Items {
		p, ok := byID[item.ProductID]
		if !ok {
			return nil, &ProductNotFoundError{ProductID: item.ProductID}
		}
		if item.UnitPrice.Valid {
			b.AddLine(p, item.Quantity, item.UnitPrice.Decimal)
			continue
		}
		b.AddProduct(p, item.Quantity)
	}
	return b, nil
}

// unlock filters offers to the ones a basket with codes is entitled to.
// Codes are matched case-insensitively and unlock every available offer
// sharing them.
func (s *Service) unlock(offers []*offer.Offer, codes []string) ([]*offer.Offer, error) {
	byCode := lo.GroupBy(
		lo.Filter(offers, func(o *offer.Offer, _ int) bool { return o.Voucher != nil }),
		func(o *offer.Offer) string { return strings.ToUpper(o.Voucher.Code) },
	)

	unlocked := make(map[int64]struct{}, len(codes))
	now := s.now()
	for _, code := range codes {
		code = strings.ToUpper(strings.TrimSpace(code))
		group, ok := byCode[code]
		if !ok {
			return nil, errors.Wrapf(ErrInvalidVoucher, "voucher %q", code)
		}
		available := lo.Filter(group, func(o *offer.Offer, _ int) bool { return o.IsAvailable(now) })
		if len(available) == 0 {
			return nil, errors.Wrapf(ErrVoucherExpired, "voucher %q", code)
		}
		for _, o := range available {
			unlocked[o.ID] = struct{}{}
		}
	}

	return lo.Filter(offers, func(o *offer.Offer, _ int) bool {
		if o.Voucher == nil {
			return true
		}
		_, ok := unlocked[o.ID]
		return ok
	}), nil
}
