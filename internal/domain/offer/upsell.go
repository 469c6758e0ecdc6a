package offer

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/xenking/bluelight-offers/internal/domain/basket"
	"github.com/xenking/bluelight-offers/internal/domain/product"
)

// UpsellKind selects the message an upsell renders.
type UpsellKind int

const (
	QuantityUpsell UpsellKind = iota
	CoverageUpsell
	AmountUpsell
	CompoundUpsell
)

// Upsell tells the customer what to add to qualify for an offer.
type Upsell struct {
	Kind          UpsellKind
	OfferID       int64
	OfferName     string
	GroupPriority *int
	OfferPriority int

	Range    Range
	Delta    decimal.Decimal
	Currency string

	Conjunction Conjunction
	Children    []*Upsell
}

var _ basket.Upsell = (*Upsell)(nil)

func newUpsell(kind UpsellKind, o *Offer) *Upsell {
	u := &Upsell{Kind: kind}
	if o != nil {
		u.OfferID = o.ID
		u.OfferName = o.Name
		u.OfferPriority = o.Priority
		if o.Group != nil {
			p := o.Group.Priority
			u.GroupPriority = &p
		}
	}
	return u
}

func newSimpleUpsell(kind UpsellKind, o *Offer, b *basket.Basket, rng Range, delta decimal.Decimal) *Upsell {
	u := newUpsell(kind, o)
	u.Range = rng
	u.Delta = delta
	u.Currency = b.Currency
	return u
}

func newCompoundUpsell(o *Offer, conjunction Conjunction, children []*Upsell) *Upsell {
	u := newUpsell(CompoundUpsell, o)
	u.Conjunction = conjunction
	u.Children = children
	return u
}

// IsRelevantTo reports whether the upsell concerns p.
func (u *Upsell) IsRelevantTo(p *product.Product) bool {
	if u.Kind == CompoundUpsell {
		for _, ch := range u.Children {
			if ch.IsRelevantTo(p) {
				return true
			}
		}
		return false
	}
	return u.Range != nil && u.Range.ContainsProduct(p)
}

// CTA returns the call to action, e.g. "Buy 2 more products from Shirts".
// A nil upsell has no call to action.
func (u *Upsell) CTA() string {
	if u == nil {
		return ""
	}
	switch u.Kind {
	case QuantityUpsell, CoverageUpsell:
		noun := "product"
		if u.Delta.GreaterThan(decimal.NewFromInt(1)) {
			noun = "products"
		}
		return fmt.Sprintf("Buy %s more %s from %s", u.Delta.String(), noun, rangeName(u.Range))
	case AmountUpsell:
		return fmt.Sprintf("Spend %s more from %s", basket.FormatMoney(u.Delta, u.Currency), rangeName(u.Range))
	case CompoundUpsell:
		ctas := make([]string, len(u.Children))
		for i, ch := range u.Children {
			ctas[i] = ch.CTA()
		}
		return conjoin(u.Conjunction, ctas, "")
	default:
		return ""
	}
}

// Reward returns the sentence naming the offer.
func (u *Upsell) Reward() string {
	return fmt.Sprintf("to qualify for the %s special offer.", u.OfferName)
}

// Summary joins the call to action and the reward.
func (u *Upsell) Summary() string {
	return strings.TrimSpace(u.CTA() + " " + u.Reward())
}
