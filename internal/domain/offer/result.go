package offer

import (
	"github.com/shopspring/decimal"

	"github.com/xenking/bluelight-offers/internal/domain/basket"
)

// ResultKind selects what a benefit application produced.
type ResultKind int

const (
	BasketDiscount ResultKind = iota
	ShippingDiscount
	PostOrderAction
	// HiddenPostOrderAction is a post-order effect kept out of user-facing
	// listings. Compound benefits ignore it when summing children.
	HiddenPostOrderAction
)

// Result is the outcome of applying a benefit once.
type Result struct {
	Kind     ResultKind
	Discount decimal.Decimal
	// Description is used by post-order actions.
	Description string
}

// ZeroDiscount is the canonical result of a benefit that found nothing to do.
var ZeroDiscount = Result{Kind: BasketDiscount, Discount: decimal.Zero}

// ShippingResult marks an application that will discount shipping later.
var ShippingResult = Result{Kind: ShippingDiscount, Discount: decimal.Zero}

// NewBasketDiscount returns a basket discount result.
func NewBasketDiscount(amount decimal.Decimal) Result {
	return Result{Kind: BasketDiscount, Discount: amount}
}

// IsSuccessful reports whether the application should be recorded.
func (r Result) IsSuccessful() bool {
	if r.Kind == BasketDiscount {
		return r.Discount.IsPositive()
	}
	return true
}

// IsFinal reports whether the offer must not be applied again in this run.
func (r Result) IsFinal() bool {
	return r.Kind != BasketDiscount
}

// IsHidden reports whether the application is hidden from listings.
func (r Result) IsHidden() bool {
	return r.Kind == HiddenPostOrderAction
}

// Affects maps the result onto what it changes.
func (r Result) Affects() basket.Affects {
	switch r.Kind {
	case ShippingDiscount:
		return basket.AffectsShipping
	case PostOrderAction, HiddenPostOrderAction:
		return basket.AffectsPostOrder
	default:
		return basket.AffectsBasket
	}
}
