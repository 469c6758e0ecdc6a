package order

import (
	"context"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/xenking/bluelight-offers/internal/domain/basket"
	"github.com/xenking/bluelight-offers/internal/domain/offer"
)

// Item is one requested basket line.
type Item struct {
	ProductID string
	Quantity  int
	// UnitPrice overrides the catalog price when valid.
	UnitPrice decimal.NullDecimal
}

// Request describes a basket to price.
type Request struct {
	// BasketID is generated when zero.
	BasketID uuid.UUID
	// OwnerID is empty for anonymous shoppers.
	OwnerID  string
	Currency string
	Items    []Item
	Vouchers []string
}

// Order is a priced basket that was recorded.
type Order struct {
	ID     uuid.UUID
	Basket *basket.Basket
}

// Recorder persists the offer usage of a placed order.
type Recorder interface {
	RecordOrder(ctx context.Context, orderID uuid.UUID, b *basket.Basket) error
}

// OfferSource returns the offers currently configured.
type OfferSource interface {
	Offers(ctx context.Context) ([]*offer.Offer, error)
}

// StaticOffers is an OfferSource over a fixed set of offers.
type StaticOffers []*offer.Offer

func (s StaticOffers) Offers(context.Context) ([]*offer.Offer, error) {
	return s, nil
}
