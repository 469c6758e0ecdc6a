package offer

import (
	"fmt"
	"slices"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"

	"github.com/xenking/bluelight-offers/internal/domain/basket"
)

// ShippingBenefit discounts the shipping charge instead of basket lines.
type ShippingBenefit struct {
	benefitBase
	kind BenefitKind
}

func newShippingBenefit(kind BenefitKind, id int64, value decimal.Decimal, limits Limits) *ShippingBenefit {
	return &ShippingBenefit{benefitBase: benefitBase{id: id, value: value, limits: limits}, kind: kind}
}

// NewShippingAbsoluteBenefit takes up to amount off shipping.
func NewShippingAbsoluteBenefit(id int64, amount decimal.Decimal, limits Limits) *ShippingBenefit {
	return newShippingBenefit(ShippingAbsoluteBenefitKind, id, amount, limits)
}

// NewShippingFixedPriceBenefit caps shipping at price.
func NewShippingFixedPriceBenefit(id int64, price decimal.Decimal, limits Limits) *ShippingBenefit {
	return newShippingBenefit(ShippingFixedPriceBenefitKind, id, price, limits)
}

// NewShippingPercentageBenefit takes pct percent off shipping.
func NewShippingPercentageBenefit(id int64, pct decimal.Decimal, limits Limits) *ShippingBenefit {
	return newShippingBenefit(ShippingPercentageBenefitKind, id, pct, limits)
}

func (bn *ShippingBenefit) Kind() BenefitKind { return bn.kind }

func (bn *ShippingBenefit) Name() string {
	var text string
	switch bn.kind {
	case ShippingAbsoluteBenefitKind:
		text = fmt.Sprintf("%s off shipping charges", bn.value.StringFixed(2))
	case ShippingFixedPriceBenefitKind:
		text = fmt.Sprintf("Get shipping for %s", bn.value.StringFixed(2))
	default:
		text = fmt.Sprintf("%s%% off of shipping cost", bn.value)
	}
	return bn.withMaxDiscount(text)
}

func (bn *ShippingBenefit) Validate() error {
	if bn.rng != nil {
		return invalid(bn.kind, bn.id, "does not take a range")
	}
	if bn.limits.MaxAffectedItems > 0 {
		return invalid(bn.kind, bn.id, "does not take a max affected items limit")
	}
	switch bn.kind {
	case ShippingAbsoluteBenefitKind:
		if !bn.value.IsPositive() {
			return invalid(bn.kind, bn.id, "requires a value")
		}
	case ShippingFixedPriceBenefitKind:
		if bn.value.IsNegative() {
			return invalid(bn.kind, bn.id, "requires a non-negative price")
		}
	case ShippingPercentageBenefitKind:
		if bn.value.IsNegative() || bn.value.GreaterThan(hundred) {
			return invalid(bn.kind, bn.id, "requires a value between 0 and 100")
		}
	default:
		return invalid(bn.kind, bn.id, "unknown shipping benefit")
	}
	return nil
}

// Apply consumes the condition and defers the discount to checkout, where
// ShippingDiscount is asked for the actual charge.
func (bn *ShippingBenefit) Apply(b *basket.Basket, cond Condition, o *Offer, opts ApplyOptions) (Result, error) {
	if err := bn.Validate(); err != nil {
		return ZeroDiscount, err
	}
	if cond != nil {
		cond.ConsumeItems(o, b, nil)
	}
	return ShippingResult, nil
}

func (bn *ShippingBenefit) ShippingDiscount(charge decimal.Decimal, currency string) decimal.Decimal {
	var discount decimal.Decimal
	switch bn.kind {
	case ShippingAbsoluteBenefitKind:
		discount = decimal.Min(charge, bn.value)
	case ShippingFixedPriceBenefitKind:
		if charge.LessThan(bn.value) {
			return decimal.Zero
		}
		discount = charge.Sub(bn.value)
	case ShippingPercentageBenefitKind:
		discount = charge.Mul(bn.value).Div(hundred).Round(2)
	}
	if bn.limits.MaxDiscount.Valid {
		discount = decimal.Min(discount, bn.limits.MaxDiscount.Decimal)
	}
	return floorAtZero(discount)
}

// CompoundBenefit applies child benefits as one. AND applies every child;
// OR stops at the first child that grants a discount.
type CompoundBenefit struct {
	benefitBase
	conjunction Conjunction
	children    []Benefit
}

// NewCompoundBenefit returns a compound over children, ordered by value
// descending then id. A child with the compound's own id is dropped.
func NewCompoundBenefit(id int64, conjunction Conjunction, children []Benefit, limits Limits) *CompoundBenefit {
	kept := make([]Benefit, 0, len(children))
	for _, ch := range children {
		if ch != nil && ch.ID() != id {
			kept = append(kept, ch)
		}
	}
	slices.SortStableFunc(kept, func(a, b Benefit) int {
		if c := b.Value().Cmp(a.Value()); c != 0 {
			return c
		}
		switch {
		case a.ID() < b.ID():
			return -1
		case a.ID() > b.ID():
			return 1
		}
		return 0
	})
	return &CompoundBenefit{
		benefitBase: benefitBase{id: id, limits: limits},
		conjunction: conjunction,
		children:    kept,
	}
}

func (bn *CompoundBenefit) Kind() BenefitKind    { return CompoundBenefitKind }
func (bn *CompoundBenefit) Children() []Benefit { return bn.children }

func (bn *CompoundBenefit) Name() string {
	names := make([]string, len(bn.children))
	for i, ch := range bn.children {
		names[i] = ch.Name()
	}
	return bn.withMaxDiscount(conjoin(bn.conjunction, names, "Empty Benefit"))
}

func (bn *CompoundBenefit) Validate() error {
	if !bn.conjunction.valid() {
		return invalid(bn.Kind(), bn.id, fmt.Sprintf("unknown conjunction %q", bn.conjunction))
	}
	if !bn.value.IsZero() {
		return invalid(bn.Kind(), bn.id, "does not take a value")
	}
	if bn.rng != nil {
		return invalid(bn.Kind(), bn.id, "does not take a range")
	}
	if bn.limits.MaxAffectedItems > 0 {
		return invalid(bn.Kind(), bn.id, "does not take a max affected items limit")
	}
	if _, _, err := benefitAffects(bn); err != nil {
		return err
	}
	return nil
}

// benefitAffects reports what bn changes when applied. The children of a
// compound must agree wherever their kind is known; known is false when no
// kind in the tree is.
func benefitAffects(bn Benefit) (affects basket.Affects, known bool, err error) {
	cb, ok := bn.(*CompoundBenefit)
	if !ok {
		affects, known = bn.Kind().affects()
		return affects, known, nil
	}
	for _, ch := range cb.children {
		a, childKnown, childErr := benefitAffects(ch)
		if childErr != nil {
			return 0, false, childErr
		}
		if !childKnown {
			continue
		}
		if known && a != affects {
			return 0, false, errors.Wrapf(ErrMixedResultKinds,
				"compound benefit %d: child %d affects %s, others %s", cb.id, ch.ID(), a, affects)
		}
		affects, known = a, true
	}
	return affects, known, nil
}

// Apply runs the children against a shared budget and consumes the union of
// their affected lines once, through the parent's callback when nested.
func (bn *CompoundBenefit) Apply(b *basket.Basket, cond Condition, o *Offer, opts ApplyOptions) (Result, error) {
	if err := bn.Validate(); err != nil {
		return ZeroDiscount, err
	}

	var affected []AffectedLine
	collect := func(_ *Offer, _ *basket.Basket, lines []AffectedLine) []AffectedLine {
		affected = append(affected, lines...)
		return affected
	}

	granted := opts.granted
	if granted == nil {
		granted = grants{}
	}
	avail := bn.allowance(b, o, opts)
	var combined *Result
	for _, ch := range bn.children {
		childOpts := ApplyOptions{ConsumeItems: collect, granted: granted}
		if avail.limited {
			childOpts.MaxTotalDiscount = decimal.NewNullDecimal(floorAtZero(avail.amount))
		}
		r, err := ch.Apply(b, cond, o, childOpts)
		if err != nil {
			return ZeroDiscount, errors.Wrapf(err, "compound benefit %d: child %d", bn.id, ch.ID())
		}
		granted.add(ch.ID(), r.Discount)
		if r.IsHidden() {
			continue
		}
		switch {
		case combined == nil:
			c := r
			combined = &c
		case combined.Affects() == r.Affects():
			combined.Discount = combined.Discount.Add(r.Discount)
		default:
			return ZeroDiscount, errors.Wrapf(ErrMixedResultKinds,
				"compound benefit %d: child %d affects %s, combined %s", bn.id, ch.ID(), r.Affects(), combined.Affects())
		}
		avail.spend(r.Discount)
		if bn.conjunction == Or && r.Discount.IsPositive() {
			break
		}
	}
	if combined == nil {
		return ZeroDiscount, nil
	}

	if combined.Discount.IsPositive() {
		consume(cond, o, b, affected, opts)
	}
	return *combined, nil
}

// ShippingDiscount chains the children, each seeing the charge left by the
// ones before it.
func (bn *CompoundBenefit) ShippingDiscount(charge decimal.Decimal, currency string) decimal.Decimal {
	discount := decimal.Zero
	for _, ch := range bn.children {
		discount = discount.Add(ch.ShippingDiscount(charge.Sub(discount), currency))
	}
	return discount
}
