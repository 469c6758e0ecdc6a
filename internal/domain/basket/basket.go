// Package basket holds the mutable state an offer run works on: lines, their
// consumption ledgers and the resulting offer applications.
//
// A Basket is not safe for concurrent use. Callers serialize access per
// basket instance; independent baskets may be priced in parallel.
package basket

import (
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/xenking/bluelight-offers/internal/domain/product"
)

// Basket is an ordered collection of lines in a single currency.
type Basket struct {
	ID       uuid.UUID
	Currency string
	// OwnerID identifies the shopper; empty for anonymous baskets.
	OwnerID string

	lines        []*Line
	nextLineID   int64
	applications *Applications
}

// New returns an empty basket priced in currency.
func New(currency string) *Basket {
	return &Basket{
		ID:           uuid.New(),
		Currency:     currency,
		applications: NewApplications(),
	}
}

// AddProduct appends a line for quantity units of p at its catalog price.
func (b *Basket) AddProduct(p *product.Product, quantity int) *Line {
	return b.AddLine(p, quantity, p.Price)
}

// AddLine appends a line for quantity units of p at unitPrice.
func (b *Basket) AddLine(p *product.Product, quantity int, unitPrice decimal.Decimal) *Line {
	b.nextLineID++
	l := NewLine(b.nextLineID, p, quantity, unitPrice)
	b.lines = append(b.lines, l)
	return l
}

// Lines returns every line in insertion order.
func (b *Basket) Lines() []*Line {
	return b.lines
}

// NumItems returns the total number of units in the basket.
func (b *Basket) NumItems() int {
	n := 0
	for _, l := range b.lines {
		n += l.Quantity
	}
	return n
}

// TotalExclTaxExclDiscounts returns the undiscounted basket total.
func (b *Basket) TotalExclTaxExclDiscounts() decimal.Decimal {
	total := decimal.Zero
	for _, l := range b.lines {
		total = total.Add(l.LinePrice())
	}
	return total
}

// TotalExclTax returns the basket total after line discounts.
func (b *Basket) TotalExclTax() decimal.Decimal {
	total := decimal.Zero
	for _, l := range b.lines {
		total = total.Add(l.LinePriceInclDiscounts())
	}
	return total
}

// OfferDiscount returns the discount offerID recorded across all lines.
func (b *Basket) OfferDiscount(offerID int64) decimal.Decimal {
	total := decimal.Zero
	for _, l := range b.lines {
		total = total.Add(l.OfferDiscount(offerID))
	}
	return total
}

// ResetOffers clears every discount, consumption, upsell and application so
// offers can be applied from scratch.
func (b *Basket) ResetOffers() {
	for _, l := range b.lines {
		l.ClearDiscount()
	}
	b.applications = NewApplications()
}

// Applications returns the offer applications of the last run.
func (b *Basket) Applications() *Applications {
	return b.applications
}

// SetApplications stores the result of an offer run.
func (b *Basket) SetApplications(a *Applications) {
	b.applications = a
}

// AddUpsell attaches u to every line whose product it is relevant to.
func (b *Basket) AddUpsell(u Upsell) {
	for _, l := range b.lines {
		if l.Product != nil && u.IsRelevantTo(l.Product) {
			l.upsells = append(l.upsells, u)
		}
	}
}

// ClearUpsells removes upsells from every line.
func (b *Basket) ClearUpsells() {
	for _, l := range b.lines {
		l.upsells = nil
	}
}

// Upsells returns the distinct upsells attached to the basket's lines.
func (b *Basket) Upsells() []Upsell {
	var (
		out  []Upsell
		seen = make(map[string]struct{})
	)
	for _, l := range b.lines {
		for _, u := range l.upsells {
			key := u.Summary()
			if _, ok := seen[key]; ok {
				continue
			}
			seen[key] = struct{}{}
			out = append(out, u)
		}
	}
	return out
}
