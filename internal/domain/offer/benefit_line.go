package offer

import (
	"fmt"
	"slices"

	"github.com/shopspring/decimal"

	"github.com/xenking/bluelight-offers/internal/domain/basket"
)

// PercentageBenefit discounts applicable units by a percentage.
type PercentageBenefit struct {
	benefitBase
}

// NewPercentageBenefit returns a benefit taking pct percent off units in rng.
func NewPercentageBenefit(id int64, rng Range, pct decimal.Decimal, limits Limits) *PercentageBenefit {
	return &PercentageBenefit{benefitBase{id: id, rng: rng, value: pct, limits: limits}}
}

func (bn *PercentageBenefit) Kind() BenefitKind { return PercentageBenefitKind }

func (bn *PercentageBenefit) Name() string {
	return bn.withMaxDiscount(fmt.Sprintf("%s%% discount on %s, %s", bn.value, rangeName(bn.rng), bn.maxItemsText()))
}

func (bn *PercentageBenefit) Validate() error {
	if bn.rng == nil {
		return invalid(bn.Kind(), bn.id, "requires a product range")
	}
	if !bn.value.IsPositive() || bn.value.GreaterThan(hundred) {
		return invalid(bn.Kind(), bn.id, "requires a value between 0 and 100")
	}
	return nil
}

// Apply walks lines cheapest first, discounting each by the percentage until
// the item cap or the discount ceiling runs out.
func (bn *PercentageBenefit) Apply(b *basket.Basket, cond Condition, o *Offer, opts ApplyOptions) (Result, error) {
	if err := bn.Validate(); err != nil {
		return ZeroDiscount, err
	}

	rate := decimal.Min(bn.value, hundred).Div(hundred)
	avail := bn.allowance(b, o, opts)
	maxItems := bn.maxAffectedItems()

	var (
		discount      = decimal.Zero
		affectedItems int
		affected      []AffectedLine
	)
	for _, t := range bn.applicableLines(o, b) {
		if affectedItems >= maxItems || avail.exhausted() {
			break
		}
		q := min(t.Line.QuantityWithoutDiscount(), maxItems-affectedItems)
		if q <= 0 {
			continue
		}
		lineDiscount := basket.RoundDown(rate.Mul(t.Price).Mul(qty(q)), b.Currency)
		lineDiscount = avail.clamp(lineDiscount)
		avail.spend(lineDiscount)
		if !lineDiscount.IsPositive() {
			continue
		}
		t.Line.Discount(lineDiscount, q, ref(o))
		affected = append(affected, AffectedLine{Line: t.Line, Discount: lineDiscount, Quantity: q})
		affectedItems += q
		discount = discount.Add(lineDiscount)
	}

	if discount.IsPositive() {
		consume(cond, o, b, affected, opts)
	}
	return NewBasketDiscount(discount), nil
}

// AbsoluteBenefit takes a fixed amount off the applicable units.
type AbsoluteBenefit struct {
	benefitBase
}

// NewAbsoluteBenefit returns a benefit taking amount off units in rng.
func NewAbsoluteBenefit(id int64, rng Range, amount decimal.Decimal, limits Limits) *AbsoluteBenefit {
	return &AbsoluteBenefit{benefitBase{id: id, rng: rng, value: amount, limits: limits}}
}

func (bn *AbsoluteBenefit) Kind() BenefitKind { return AbsoluteBenefitKind }

func (bn *AbsoluteBenefit) Name() string {
	return bn.withMaxDiscount(fmt.Sprintf("%s discount on %s, %s", bn.value.StringFixed(2), rangeName(bn.rng), bn.maxItemsText()))
}

func (bn *AbsoluteBenefit) Validate() error {
	if bn.rng == nil {
		return invalid(bn.Kind(), bn.id, "requires a product range")
	}
	if !bn.value.IsPositive() {
		return invalid(bn.Kind(), bn.id, "requires a value")
	}
	return nil
}

// Apply collects units cheapest first up to the item cap and spreads the
// discount over them by value.
func (bn *AbsoluteBenefit) Apply(b *basket.Basket, cond Condition, o *Offer, opts ApplyOptions) (Result, error) {
	if err := bn.Validate(); err != nil {
		return ZeroDiscount, err
	}

	maxItems := bn.maxAffectedItems()
	var (
		lines    []weightedLine
		numItems int
		total    = decimal.Zero
	)
	for _, t := range bn.applicableLines(o, b) {
		if numItems >= maxItems {
			break
		}
		q := min(t.Line.QuantityWithoutDiscount(), maxItems-numItems)
		if q <= 0 {
			continue
		}
		lines = append(lines, weightedLine{line: t.Line, price: t.Price, quantity: q})
		numItems += q
		total = total.Add(t.Price.Mul(qty(q)))
	}

	discount := bn.allowance(b, o, opts).clamp(decimal.Min(bn.value, total))
	if !discount.IsPositive() {
		return ZeroDiscount, nil
	}

	affected := distribute(b, o, lines, total, discount)
	consume(cond, o, b, affected, opts)
	return NewBasketDiscount(discount), nil
}

// FixedPriceBenefit sells a bundle of the most expensive applicable units for
// a fixed total.
type FixedPriceBenefit struct {
	benefitBase
}

// NewFixedPriceBenefit returns a benefit pricing the bundle at price.
func NewFixedPriceBenefit(id int64, rng Range, price decimal.Decimal, limits Limits) *FixedPriceBenefit {
	return &FixedPriceBenefit{benefitBase{id: id, rng: rng, value: price, limits: limits}}
}

func (bn *FixedPriceBenefit) Kind() BenefitKind { return FixedPriceBenefitKind }

func (bn *FixedPriceBenefit) Name() string {
	return bn.withMaxDiscount(fmt.Sprintf("The products in %s are sold for %s, %s", rangeName(bn.rng), bn.value.StringFixed(2), bn.maxItemsText()))
}

func (bn *FixedPriceBenefit) Validate() error {
	if bn.rng == nil {
		return invalid(bn.Kind(), bn.id, "requires a product range")
	}
	if bn.value.IsNegative() {
		return invalid(bn.Kind(), bn.id, "requires a non-negative price")
	}
	return nil
}

func (bn *FixedPriceBenefit) Apply(b *basket.Basket, cond Condition, o *Offer, opts ApplyOptions) (Result, error) {
	if err := bn.Validate(); err != nil {
		return ZeroDiscount, err
	}

	tuples := bn.applicableLines(o, b)
	if len(tuples) == 0 {
		return ZeroDiscount, nil
	}
	slices.Reverse(tuples)

	permitted := bn.maxAffectedItems()
	var (
		lines    []weightedLine
		numItems int
		value    = decimal.Zero
	)
	for _, t := range tuples {
		q := min(t.Line.QuantityWithoutDiscount(), permitted-numItems)
		if q > 0 {
			lines = append(lines, weightedLine{line: t.Line, price: t.Price, quantity: q})
			numItems += q
			value = value.Add(t.Price.Mul(qty(q)))
		}
		if numItems >= permitted {
			break
		}
	}

	discount := bn.allowance(b, o, opts).clamp(floorAtZero(value.Sub(bn.value)))
	if !discount.IsPositive() {
		return ZeroDiscount, nil
	}

	affected := distribute(b, o, lines, value, discount)
	consume(cond, o, b, affected, opts)
	return NewBasketDiscount(discount), nil
}

// FixedPricePerItemBenefit sells every applicable unit priced above a fixed
// price at that price.
type FixedPricePerItemBenefit struct {
	benefitBase
}

// NewFixedPricePerItemBenefit returns a benefit selling units at price each.
func NewFixedPricePerItemBenefit(id int64, rng Range, price decimal.Decimal, limits Limits) *FixedPricePerItemBenefit {
	return &FixedPricePerItemBenefit{benefitBase{id: id, rng: rng, value: price, limits: limits}}
}

func (bn *FixedPricePerItemBenefit) Kind() BenefitKind { return FixedPricePerItemBenefitKind }

func (bn *FixedPricePerItemBenefit) Name() string {
	return bn.withMaxDiscount(fmt.Sprintf("The products in the range are sold for %s each; %s", bn.value.StringFixed(2), bn.maxItemsText()))
}

func (bn *FixedPricePerItemBenefit) Validate() error {
	if bn.rng == nil {
		return invalid(bn.Kind(), bn.id, "requires a product range")
	}
	if bn.value.IsNegative() {
		return invalid(bn.Kind(), bn.id, "requires a non-negative price")
	}
	return nil
}

func (bn *FixedPricePerItemBenefit) Apply(b *basket.Basket, cond Condition, o *Offer, opts ApplyOptions) (Result, error) {
	if err := bn.Validate(); err != nil {
		return ZeroDiscount, err
	}

	tuples := bn.applicableLines(o, b)
	if len(tuples) == 0 {
		return ZeroDiscount, nil
	}
	slices.Reverse(tuples)

	permitted := bn.maxAffectedItems()
	var (
		lines    []weightedLine
		numItems int
	)
	for _, t := range tuples {
		if t.Price.LessThanOrEqual(bn.value) {
			continue
		}
		q := min(t.Line.QuantityWithoutDiscount(), permitted-numItems)
		if q <= 0 {
			continue
		}
		lines = append(lines, weightedLine{line: t.Line, price: t.Price, quantity: q})
		numItems += q
		if numItems >= permitted {
			break
		}
	}
	if len(lines) == 0 {
		return ZeroDiscount, nil
	}

	avail := bn.allowance(b, o, opts)
	var (
		applied  = decimal.Zero
		affected []AffectedLine
	)
	for _, wl := range lines {
		lineDiscount := basket.RoundDown(wl.price.Sub(bn.value).Mul(qty(wl.quantity)), b.Currency)
		lineDiscount = floorAtZero(avail.clamp(lineDiscount))
		avail.spend(lineDiscount)
		if !lineDiscount.IsPositive() {
			continue
		}
		wl.line.Discount(lineDiscount, wl.quantity, ref(o))
		affected = append(affected, AffectedLine{Line: wl.line, Discount: lineDiscount, Quantity: wl.quantity})
		applied = applied.Add(lineDiscount)
	}

	if applied.IsPositive() {
		consume(cond, o, b, affected, opts)
	}
	return NewBasketDiscount(applied), nil
}

// MultibuyBenefit gives one unit away: the second most expensive unit among
// those not yet discounted, or the cheapest line when there is no second unit.
type MultibuyBenefit struct {
	benefitBase
}

// NewMultibuyBenefit returns a buy-one-get-one benefit over rng.
func NewMultibuyBenefit(id int64, rng Range, limits Limits) *MultibuyBenefit {
	return &MultibuyBenefit{benefitBase{id: id, rng: rng, limits: limits}}
}

func (bn *MultibuyBenefit) Kind() BenefitKind { return MultibuyBenefitKind }

func (bn *MultibuyBenefit) Name() string {
	return bn.withMaxDiscount(fmt.Sprintf("Cheapest product from %s is free", rangeName(bn.rng)))
}

func (bn *MultibuyBenefit) Validate() error {
	if bn.rng == nil {
		return invalid(bn.Kind(), bn.id, "requires a product range")
	}
	if !bn.value.IsZero() {
		return invalid(bn.Kind(), bn.id, "does not take a value")
	}
	if bn.limits.MaxAffectedItems > 0 {
		return invalid(bn.Kind(), bn.id, "does not take a max affected items limit")
	}
	return nil
}

func (bn *MultibuyBenefit) Apply(b *basket.Basket, cond Condition, o *Offer, opts ApplyOptions) (Result, error) {
	if err := bn.Validate(); err != nil {
		return ZeroDiscount, err
	}

	tuples := bn.applicableLines(o, b)
	if len(tuples) == 0 {
		return ZeroDiscount, nil
	}

	var (
		pick *LineTuple
		seen int
	)
	for i := len(tuples) - 1; i >= 0; i-- {
		seen += tuples[i].Line.QuantityWithoutDiscount()
		if seen > 1 {
			pick = &tuples[i]
			break
		}
	}
	if pick == nil {
		pick = &tuples[0]
	}
	if pick.Line.QuantityWithoutDiscount() <= 0 {
		return ZeroDiscount, nil
	}

	discount := bn.allowance(b, o, opts).clamp(pick.Price)
	if !discount.IsPositive() {
		return ZeroDiscount, nil
	}
	pick.Line.Discount(discount, 1, ref(o))
	consume(cond, o, b, []AffectedLine{{Line: pick.Line, Discount: discount, Quantity: 1}}, opts)
	return NewBasketDiscount(discount), nil
}
