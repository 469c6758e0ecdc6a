package basket

import (
	"slices"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"

	"github.com/xenking/bluelight-offers/internal/domain/product"
)

// ErrTaxUnknown is returned by operations that need the line's tax.
var ErrTaxUnknown = errors.New("line tax is not known")

// DiscountDescription records why a discount was applied to a line.
type DiscountDescription struct {
	Amount  decimal.Decimal
	OfferID int64
	OfferLabel
}

// PriceBreakdownItem is a unit price shared by Quantity units of a line after
// discounts.
type PriceBreakdownItem struct {
	UnitPriceInclTax decimal.Decimal
	UnitPriceExclTax decimal.Decimal
	Quantity         int
}

// Upsell is a message nudging the customer toward an offer. Upsells are
// attached to the lines whose product they are relevant to.
type Upsell interface {
	IsRelevantTo(p *product.Product) bool
	Summary() string
}

// Line is one distinct product and price entry in a basket.
type Line struct {
	ID       int64
	Product  *product.Product
	Quantity int
	// UnitPrice excludes tax.
	UnitPrice decimal.Decimal
	UnitTax   decimal.Decimal
	TaxKnown  bool

	discount     decimal.Decimal
	ledger       *Ledger
	descriptions []DiscountDescription
	upsells      []Upsell
}

// NewLine creates a line with a fresh consumption ledger.
func NewLine(id int64, p *product.Product, quantity int, unitPrice decimal.Decimal) *Line {
	return &Line{
		ID:        id,
		Product:   p,
		Quantity:  quantity,
		UnitPrice: unitPrice,
		ledger:    NewLedger(quantity),
	}
}

// SetTax records the per-unit tax, making tax-dependent views available.
func (l *Line) SetTax(unitTax decimal.Decimal) {
	l.UnitTax = unitTax
	l.TaxKnown = true
}

// Ledger returns the line's consumption ledger.
func (l *Line) Ledger() *Ledger {
	return l.ledger
}

// DiscountValue returns the cumulative discount (excluding tax) on the line.
func (l *Line) DiscountValue() decimal.Decimal {
	return l.discount
}

// QuantityWithDiscount returns the units consumed so far.
func (l *Line) QuantityWithDiscount() int {
	return l.ledger.Consumed(nil)
}

// QuantityWithoutDiscount returns the units nobody consumed yet.
func (l *Line) QuantityWithoutDiscount() int {
	return l.Quantity - l.ledger.Consumed(nil)
}

// QuantityWithoutOfferDiscount returns the units offer may still use.
func (l *Line) QuantityWithoutOfferDiscount(offer Offer) int {
	return l.ledger.Available(offer)
}

// IsAvailableFor reports whether offer may use at least one unit.
func (l *Line) IsAvailableFor(offer Offer) bool {
	return l.ledger.Available(offer) > 0
}

// UnitEffectivePrice is the unit price offers calculate with. Discounts
// granted by earlier offer groups are spread over the line and subtracted so
// compounding groups never drive the line negative.
func (l *Line) UnitEffectivePrice() decimal.Decimal {
	if l.Quantity == 0 {
		return decimal.Zero
	}
	perUnit := l.ledger.StartingDiscount().Div(decimal.NewFromInt(int64(l.Quantity)))
	return l.UnitPrice.Sub(perUnit)
}

// LinePrice returns quantity times unit price, before discounts.
func (l *Line) LinePrice() decimal.Decimal {
	return l.UnitPrice.Mul(decimal.NewFromInt(int64(l.Quantity)))
}

// LinePriceInclDiscounts returns the discounted line price, never negative.
func (l *Line) LinePriceInclDiscounts() decimal.Decimal {
	return floorAtZero(l.LinePrice().Sub(l.discount))
}

// LineTax returns the tax for the whole line.
func (l *Line) LineTax() decimal.Decimal {
	return l.UnitTax.Mul(decimal.NewFromInt(int64(l.Quantity)))
}

// Discount applies amount to the line and marks quantity units as discounted
// on behalf of offer. Discounts are always tax-exclusive.
func (l *Line) Discount(amount decimal.Decimal, quantity int, offer Offer) {
	l.discount = l.discount.Add(amount)
	l.ledger.Discount(quantity, offer)
	if offer == nil {
		return
	}
	l.descriptions = append(l.descriptions, DiscountDescription{
		Amount:     amount,
		OfferID:    offer.OfferID(),
		OfferLabel: offer.Label(),
	})
}

// Consume marks quantity units as used without discounting them.
func (l *Line) Consume(quantity int, offer Offer) {
	l.ledger.Consume(quantity, offer)
}

// DiscountDescriptions returns the discounts recorded on the line, oldest first.
func (l *Line) DiscountDescriptions() []DiscountDescription {
	return l.descriptions
}

// OfferDiscount returns the total discount offerID recorded on the line.
func (l *Line) OfferDiscount(offerID int64) decimal.Decimal {
	total := decimal.Zero
	for _, d := range l.descriptions {
		if d.OfferID == offerID {
			total = total.Add(d.Amount)
		}
	}
	return total
}

// BeginOfferGroup signals that a new offer group is about to be applied.
func (l *Line) BeginOfferGroup() {
	l.ledger.Begin(l.discount)
}

// EndOfferGroup signals that the current offer group has been applied.
func (l *Line) EndOfferGroup() {
	l.ledger.End(l.discount)
}

// FinalizeOfferGroups signals that every offer group has been applied.
func (l *Line) FinalizeOfferGroups() {
	l.ledger.Finalize(l.discount)
}

// ClearDiscount drops every discount, consumption and upsell on the line.
func (l *Line) ClearDiscount() {
	l.discount = decimal.Zero
	l.ledger = NewLedger(l.Quantity)
	l.descriptions = nil
	l.upsells = nil
}

// Upsells returns the upsells attached to the line.
func (l *Line) Upsells() []Upsell {
	return l.upsells
}

// PriceBreakdown distributes the discounts recorded per offer group over the
// individual units and groups units sharing a price.
func (l *Line) PriceBreakdown(currencyCode string) ([]PriceBreakdownItem, error) {
	if !l.TaxKnown {
		return nil, ErrTaxUnknown
	}

	// Flush a group that was applied but never ended.
	l.EndOfferGroup()

	prices := make([]decimal.Decimal, l.Quantity)
	for i := range prices {
		prices[i] = l.UnitPrice
	}
	for _, entry := range l.ledger.breakdown {
		remaining := entry.quantity
		for iter := 0; remaining > 0 && iter <= l.Quantity; iter++ {
			for i := range prices {
				if prices[i].GreaterThanOrEqual(entry.unitDelta) {
					prices[i] = prices[i].Sub(entry.unitDelta)
					remaining--
				}
				if remaining <= 0 {
					break
				}
			}
		}
	}

	linePrice := l.LinePriceInclDiscounts()
	lineTax := l.LineTax()
	if !linePrice.IsPositive() {
		return []PriceBreakdownItem{{
			UnitPriceInclTax: lineTax,
			UnitPriceExclTax: decimal.Zero,
			Quantity:         l.Quantity,
		}}, nil
	}

	slices.SortFunc(prices, decimal.Decimal.Cmp)
	scale := Scale(currencyCode)
	var items []PriceBreakdownItem
	for i := 0; i < len(prices); {
		j := i
		for j < len(prices) && prices[j].Equal(prices[i]) {
			j++
		}
		unitTax := prices[i].Div(linePrice).Mul(lineTax)
		items = append(items, PriceBreakdownItem{
			UnitPriceInclTax: prices[i].Add(unitTax).Round(scale),
			UnitPriceExclTax: prices[i],
			Quantity:         j - i,
		})
		i = j
	}
	return items, nil
}
