package offer

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/xenking/bluelight-offers/internal/domain/basket"
)

// BenefitKind selects a benefit variant.
type BenefitKind string

const (
	PercentageBenefitKind         BenefitKind = "percentage"
	AbsoluteBenefitKind           BenefitKind = "absolute"
	FixedPriceBenefitKind         BenefitKind = "fixed_price"
	FixedPricePerItemBenefitKind  BenefitKind = "fixed_price_per_item"
	MultibuyBenefitKind           BenefitKind = "multibuy"
	ShippingAbsoluteBenefitKind   BenefitKind = "shipping_absolute"
	ShippingFixedPriceBenefitKind BenefitKind = "shipping_fixed_price"
	ShippingPercentageBenefitKind BenefitKind = "shipping_percentage"
	CompoundBenefitKind           BenefitKind = "compound_benefit"
)

func (k BenefitKind) String() string { return string(k) }

// affects reports what a benefit of kind k changes when applied. Compound
// and unknown kinds report false.
func (k BenefitKind) affects() (basket.Affects, bool) {
	switch k {
	case PercentageBenefitKind, AbsoluteBenefitKind, FixedPriceBenefitKind,
		FixedPricePerItemBenefitKind, MultibuyBenefitKind:
		return basket.AffectsBasket, true
	case ShippingAbsoluteBenefitKind, ShippingFixedPriceBenefitKind, ShippingPercentageBenefitKind:
		return basket.AffectsShipping, true
	}
	return 0, false
}

// defaultMaxAffectedItems applies when a benefit sets no item cap.
const defaultMaxAffectedItems = 10000

var hundred = decimal.NewFromInt(100)

// ApplyOptions carry what a compound parent imposes on a child benefit.
type ApplyOptions struct {
	// MaxTotalDiscount tightens the benefit's own ceiling when valid.
	MaxTotalDiscount decimal.NullDecimal
	// ConsumeItems replaces the condition's consumption when set.
	ConsumeItems ConsumeFunc

	granted grants
}

// grants tracks the discount each benefit granted while one offer is applied
// to a basket, so nested benefits are held to their own ceilings.
type grants map[int64]decimal.Decimal

func (g grants) add(id int64, d decimal.Decimal) {
	g[id] = g[id].Add(d)
}

// Benefit computes and records the discount an offer grants.
//
// The set of variants is closed: percentage, absolute, fixed price, fixed
// price per item, multibuy, the three shipping kinds and compound.
type Benefit interface {
	ID() int64
	Kind() BenefitKind
	Value() decimal.Decimal
	Name() string
	Validate() error

	// Apply discounts basket lines on behalf of o. It returns ZeroDiscount
	// when nothing qualifies; errors are reserved for broken configuration.
	Apply(b *basket.Basket, cond Condition, o *Offer, opts ApplyOptions) (Result, error)
	// ShippingDiscount returns the discount on a shipping charge.
	ShippingDiscount(charge decimal.Decimal, currency string) decimal.Decimal

	isBenefit()
}

// Limits are the caps every benefit may carry.
type Limits struct {
	// MaxAffectedItems caps the units one application may discount. Zero
	// means no cap.
	MaxAffectedItems int
	// MaxDiscount caps the discount the benefit may grant on one basket run.
	MaxDiscount decimal.NullDecimal
}

type benefitBase struct {
	id     int64
	rng    Range
	value  decimal.Decimal
	limits Limits
}

func (bb *benefitBase) isBenefit()             {}
func (bb *benefitBase) ID() int64              { return bb.id }
func (bb *benefitBase) Value() decimal.Decimal { return bb.value }

func (bb *benefitBase) maxAffectedItems() int {
	if bb.limits.MaxAffectedItems > 0 {
		return bb.limits.MaxAffectedItems
	}
	return defaultMaxAffectedItems
}

// allowance is the discount still permitted during one application.
type allowance struct {
	amount  decimal.Decimal
	limited bool
}

func (a allowance) exhausted() bool {
	return a.limited && !a.amount.IsPositive()
}

func (a allowance) clamp(d decimal.Decimal) decimal.Decimal {
	if !a.limited {
		return d
	}
	return decimal.Min(d, a.amount)
}

func (a *allowance) spend(d decimal.Decimal) {
	if a.limited {
		a.amount = a.amount.Sub(d)
	}
}

// allowance resolves the ceiling for one application: the tighter of an
// explicit budget from a compound parent and MaxDiscount minus what this
// benefit already granted on the basket.
func (bb *benefitBase) allowance(b *basket.Basket, o *Offer, opts ApplyOptions) allowance {
	var a allowance
	if opts.MaxTotalDiscount.Valid {
		a = allowance{amount: floorAtZero(opts.MaxTotalDiscount.Decimal), limited: true}
	}
	if bb.limits.MaxDiscount.Valid {
		own := floorAtZero(bb.limits.MaxDiscount.Decimal.Sub(bb.granted(b, o, opts)))
		if !a.limited || own.LessThan(a.amount) {
			a = allowance{amount: own, limited: true}
		}
	}
	return a
}

// granted is the discount this benefit already gave during the run. Outside
// a tracked run it falls back to everything the offer recorded.
func (bb *benefitBase) granted(b *basket.Basket, o *Offer, opts ApplyOptions) decimal.Decimal {
	if opts.granted != nil {
		return opts.granted[bb.id]
	}
	if o != nil {
		return b.OfferDiscount(o.ID)
	}
	return decimal.Zero
}

// applicableLines returns candidate lines cheapest first, after the offer's
// line filter.
func (bb *benefitBase) applicableLines(o *Offer, b *basket.Basket) []LineTuple {
	tuples := ApplicableLines(bb.rng, b, false)
	if o != nil && o.LineFilter != nil {
		tuples = o.LineFilter.FilterLines(o, b, tuples)
	}
	return tuples
}

func (bb *benefitBase) withMaxDiscount(text string) string {
	if bb.limits.MaxDiscount.Valid {
		text += fmt.Sprintf(", maximum discount of %s", bb.limits.MaxDiscount.Decimal.StringFixed(2))
	}
	return text
}

func (bb *benefitBase) maxItemsText() string {
	if bb.limits.MaxAffectedItems > 0 {
		return fmt.Sprintf("maximum %d item(s)", bb.limits.MaxAffectedItems)
	}
	return "no maximum"
}

// ShippingDiscount is zero for benefits that discount products.
func (bb *benefitBase) ShippingDiscount(decimal.Decimal, string) decimal.Decimal {
	return decimal.Zero
}

// consume hands affected lines to the parent's callback or the condition.
func consume(cond Condition, o *Offer, b *basket.Basket, affected []AffectedLine, opts ApplyOptions) {
	if opts.ConsumeItems != nil {
		opts.ConsumeItems(o, b, affected)
		return
	}
	if cond != nil {
		cond.ConsumeItems(o, b, affected)
	}
}

func floorAtZero(d decimal.Decimal) decimal.Decimal {
	if d.IsNegative() {
		return decimal.Zero
	}
	return d
}

func qty(n int) decimal.Decimal {
	return decimal.NewFromInt(int64(n))
}

// weightedLine is a line picked for a discount shared by weight.
type weightedLine struct {
	line     *basket.Line
	price    decimal.Decimal
	quantity int
}

// distribute splits discount over lines by their share of total value. Every
// line but the last gets a share rounded down; the last absorbs the
// remainder so the shares add up to discount exactly.
func distribute(b *basket.Basket, o *Offer, lines []weightedLine, total, discount decimal.Decimal) []AffectedLine {
	var (
		affected []AffectedLine
		applied  = decimal.Zero
	)
	for i, wl := range lines {
		var share decimal.Decimal
		if i == len(lines)-1 {
			share = discount.Sub(applied)
		} else {
			share = basket.RoundDown(wl.price.Mul(qty(wl.quantity)).Mul(discount).Div(total), b.Currency)
		}
		if !share.IsPositive() {
			continue
		}
		wl.line.Discount(share, wl.quantity, ref(o))
		affected = append(affected, AffectedLine{Line: wl.line, Discount: share, Quantity: wl.quantity})
		applied = applied.Add(share)
	}
	return affected
}
