package offer

import (
	"cmp"
	"fmt"
	"slices"

	"github.com/shopspring/decimal"

	"github.com/xenking/bluelight-offers/internal/domain/basket"
)

// ConditionKind selects a condition variant.
type ConditionKind string

const (
	CountConditionKind             ConditionKind = "count"
	ValueConditionKind             ConditionKind = "value"
	TaxInclusiveValueConditionKind ConditionKind = "tax_inclusive_value"
	CoverageConditionKind          ConditionKind = "coverage"
	CompoundConditionKind          ConditionKind = "compound_condition"
)

func (k ConditionKind) String() string { return string(k) }

// AffectedLine records quantity units of a line that an application
// discounted or consumed.
type AffectedLine struct {
	Line     *basket.Line
	Discount decimal.Decimal
	Quantity int
}

// ConsumeFunc consumes whatever else the condition needs once a benefit has
// discounted affected, returning the full list of affected lines.
type ConsumeFunc func(o *Offer, b *basket.Basket, affected []AffectedLine) []AffectedLine

// Condition decides whether a basket qualifies for an offer and marks the
// quantity used to qualify.
//
// The set of variants is closed: CountCondition, ValueCondition,
// CoverageCondition and CompoundCondition.
type Condition interface {
	ID() int64
	Kind() ConditionKind
	Name() string
	Validate() error

	IsSatisfied(o *Offer, b *basket.Basket) bool
	// IsPartiallySatisfied reports progress that does not yet satisfy.
	IsPartiallySatisfied(o *Offer, b *basket.Basket) bool
	UpsellDetails(o *Offer, b *basket.Basket) *Upsell
	UpsellMessage(o *Offer, b *basket.Basket) string
	ConsumeItems(o *Offer, b *basket.Basket, affected []AffectedLine) []AffectedLine

	isCondition()
}

// ref converts a possibly nil offer into the ledger's view of it.
func ref(o *Offer) basket.Offer {
	if o == nil {
		return nil
	}
	return o
}

func affectedLineIDs(tuples []LineTuple) map[int64]struct{} {
	ids := make(map[int64]struct{}, len(tuples))
	for _, t := range tuples {
		ids[t.Line.ID] = struct{}{}
	}
	return ids
}

// CountCondition requires a number of units from a range.
type CountCondition struct {
	id    int64
	rng   Range
	value int
}

// NewCountCondition returns a condition satisfied by value units from rng.
func NewCountCondition(id int64, rng Range, value int) *CountCondition {
	return &CountCondition{id: id, rng: rng, value: value}
}

func (c *CountCondition) isCondition()        {}
func (c *CountCondition) ID() int64           { return c.id }
func (c *CountCondition) Kind() ConditionKind { return CountConditionKind }

func (c *CountCondition) Name() string {
	return fmt.Sprintf("Basket includes %d item(s) from %s", c.value, rangeName(c.rng))
}

func (c *CountCondition) Validate() error {
	if c.rng == nil {
		return invalid(c.Kind(), c.id, "requires a range")
	}
	if c.value <= 0 {
		return invalid(c.Kind(), c.id, "requires a value")
	}
	return nil
}

func (c *CountCondition) matches(o *Offer, b *basket.Basket) int {
	n := 0
	for _, line := range b.Lines() {
		if canApply(c.rng, line) {
			n += line.QuantityWithoutOfferDiscount(ref(o))
		}
	}
	return n
}

func (c *CountCondition) IsSatisfied(o *Offer, b *basket.Basket) bool {
	return c.matches(o, b) >= c.value
}

func (c *CountCondition) IsPartiallySatisfied(o *Offer, b *basket.Basket) bool {
	n := c.matches(o, b)
	return n > 0 && n < c.value
}

func (c *CountCondition) UpsellDetails(o *Offer, b *basket.Basket) *Upsell {
	delta := c.value - c.matches(o, b)
	if delta <= 0 {
		return nil
	}
	return newSimpleUpsell(QuantityUpsell, o, b, c.rng, decimal.NewFromInt(int64(delta)))
}

func (c *CountCondition) UpsellMessage(o *Offer, b *basket.Basket) string {
	return c.UpsellDetails(o, b).CTA()
}

// ConsumeItems tops up the units already affected on applicable lines until
// value units are used, walking the most expensive lines first.
func (c *CountCondition) ConsumeItems(o *Offer, b *basket.Basket, affected []AffectedLine) []AffectedLine {
	tuples := ApplicableLines(c.rng, b, true)
	ids := affectedLineIDs(tuples)

	consumed := 0
	for _, a := range affected {
		if _, ok := ids[a.Line.ID]; ok {
			consumed += a.Quantity
		}
	}

	toConsume := max(0, c.value-consumed)
	for _, t := range tuples {
		if toConsume == 0 {
			break
		}
		q := min(t.Line.QuantityWithoutDiscount(), toConsume)
		if q <= 0 {
			continue
		}
		t.Line.Consume(q, nil)
		affected = append(affected, AffectedLine{Line: t.Line, Discount: decimal.Zero, Quantity: q})
		toConsume -= q
	}
	return affected
}

// ValueCondition requires a monetary amount from a range. The tax-inclusive
// flavour counts unit tax toward the amount when it is known.
type ValueCondition struct {
	id           int64
	rng          Range
	value        decimal.Decimal
	taxInclusive bool
}

// NewValueCondition returns a condition satisfied by value worth of
// products from rng.
func NewValueCondition(id int64, rng Range, value decimal.Decimal, taxInclusive bool) *ValueCondition {
	return &ValueCondition{id: id, rng: rng, value: value, taxInclusive: taxInclusive}
}

func (c *ValueCondition) isCondition() {}
func (c *ValueCondition) ID() int64    { return c.id }

func (c *ValueCondition) Kind() ConditionKind {
	if c.taxInclusive {
		return TaxInclusiveValueConditionKind
	}
	return ValueConditionKind
}

func (c *ValueCondition) Name() string {
	tax := "tax-exclusive"
	if c.taxInclusive {
		tax = "tax-inclusive"
	}
	return fmt.Sprintf("Basket includes %s (%s) from %s", c.value.StringFixed(2), tax, rangeName(c.rng))
}

func (c *ValueCondition) Validate() error {
	if c.rng == nil {
		return invalid(c.Kind(), c.id, "requires a range")
	}
	if !c.value.IsPositive() {
		return invalid(c.Kind(), c.id, "requires a value")
	}
	return nil
}

func (c *ValueCondition) unitPrice(line *basket.Line) decimal.Decimal {
	price := line.UnitEffectivePrice()
	if c.taxInclusive && line.TaxKnown {
		price = price.Add(line.UnitTax)
	}
	return price
}

func (c *ValueCondition) valueOfMatches(o *Offer, b *basket.Basket) decimal.Decimal {
	total := decimal.Zero
	for _, line := range b.Lines() {
		if !canApply(c.rng, line) {
			continue
		}
		available := line.QuantityWithoutOfferDiscount(ref(o))
		if available <= 0 {
			continue
		}
		total = total.Add(c.unitPrice(line).Mul(decimal.NewFromInt(int64(available))))
	}
	return total
}

func (c *ValueCondition) IsSatisfied(o *Offer, b *basket.Basket) bool {
	return c.valueOfMatches(o, b).GreaterThanOrEqual(c.value)
}

func (c *ValueCondition) IsPartiallySatisfied(o *Offer, b *basket.Basket) bool {
	v := c.valueOfMatches(o, b)
	return v.IsPositive() && v.LessThan(c.value)
}

func (c *ValueCondition) UpsellDetails(o *Offer, b *basket.Basket) *Upsell {
	delta := c.value.Sub(c.valueOfMatches(o, b))
	if !delta.IsPositive() {
		return nil
	}
	return newSimpleUpsell(AmountUpsell, o, b, c.rng, delta)
}

func (c *ValueCondition) UpsellMessage(o *Offer, b *basket.Basket) string {
	return c.UpsellDetails(o, b).CTA()
}

// ConsumeItems consumes whole units, most expensive first, until the value
// already affected plus the newly consumed value reaches the threshold.
// Partial units round up so the condition is never under-consumed.
func (c *ValueCondition) ConsumeItems(o *Offer, b *basket.Basket, affected []AffectedLine) []AffectedLine {
	tuples := ApplicableLines(c.rng, b, true)
	ids := affectedLineIDs(tuples)

	consumed := decimal.Zero
	for _, a := range affected {
		if _, ok := ids[a.Line.ID]; ok {
			consumed = consumed.Add(c.unitPrice(a.Line).Mul(decimal.NewFromInt(int64(a.Quantity))))
		}
	}

	toConsume := c.value.Sub(consumed)
	if !toConsume.IsPositive() {
		return affected
	}
	for _, t := range tuples {
		q := int(toConsume.Div(t.Price).Ceil().IntPart())
		q = min(q, t.Line.QuantityWithoutDiscount())
		if q <= 0 {
			continue
		}
		t.Line.Consume(q, nil)
		affected = append(affected, AffectedLine{Line: t.Line, Discount: decimal.Zero, Quantity: q})
		toConsume = toConsume.Sub(t.Price.Mul(decimal.NewFromInt(int64(q))))
		if !toConsume.IsPositive() {
			break
		}
	}
	return affected
}

// CoverageCondition requires a number of distinct products from a range.
type CoverageCondition struct {
	id    int64
	rng   Range
	value int
}

// NewCoverageCondition returns a condition satisfied by value distinct
// products from rng.
func NewCoverageCondition(id int64, rng Range, value int) *CoverageCondition {
	return &CoverageCondition{id: id, rng: rng, value: value}
}

func (c *CoverageCondition) isCondition()        {}
func (c *CoverageCondition) ID() int64           { return c.id }
func (c *CoverageCondition) Kind() ConditionKind { return CoverageConditionKind }

func (c *CoverageCondition) Name() string {
	return fmt.Sprintf("Basket includes %d distinct item(s) from %s", c.value, rangeName(c.rng))
}

func (c *CoverageCondition) Validate() error {
	if c.rng == nil {
		return invalid(c.Kind(), c.id, "requires a range")
	}
	if c.value <= 0 {
		return invalid(c.Kind(), c.id, "requires a value")
	}
	return nil
}

func (c *CoverageCondition) covered(o *Offer, b *basket.Basket) int {
	ids := make(map[string]struct{})
	for _, line := range b.Lines() {
		if canApply(c.rng, line) && line.IsAvailableFor(ref(o)) {
			ids[line.Product.ID] = struct{}{}
		}
	}
	return len(ids)
}

func (c *CoverageCondition) IsSatisfied(o *Offer, b *basket.Basket) bool {
	return c.covered(o, b) >= c.value
}

func (c *CoverageCondition) IsPartiallySatisfied(o *Offer, b *basket.Basket) bool {
	n := c.covered(o, b)
	return n > 0 && n < c.value
}

func (c *CoverageCondition) UpsellDetails(o *Offer, b *basket.Basket) *Upsell {
	delta := c.value - c.covered(o, b)
	if delta <= 0 {
		return nil
	}
	return newSimpleUpsell(CoverageUpsell, o, b, c.rng, decimal.NewFromInt(int64(delta)))
}

func (c *CoverageCondition) UpsellMessage(o *Offer, b *basket.Basket) string {
	return c.UpsellDetails(o, b).CTA()
}

// ConsumeItems consumes one unit of each product not yet covered by affected
// until value distinct products are used.
func (c *CoverageCondition) ConsumeItems(o *Offer, b *basket.Basket, affected []AffectedLine) []AffectedLine {
	ids := affectedLineIDs(ApplicableLines(c.rng, b, true))

	products := make(map[string]struct{})
	for _, a := range affected {
		if _, ok := ids[a.Line.ID]; ok {
			products[a.Line.Product.ID] = struct{}{}
		}
	}

	toConsume := max(0, c.value-len(products))
	for _, line := range b.Lines() {
		if toConsume == 0 {
			break
		}
		if !canApply(c.rng, line) || !line.IsAvailableFor(ref(o)) {
			continue
		}
		if _, ok := products[line.Product.ID]; ok {
			continue
		}
		line.Consume(1, nil)
		affected = append(affected, AffectedLine{Line: line, Discount: decimal.Zero, Quantity: 1})
		products[line.Product.ID] = struct{}{}
		toConsume--
	}
	return affected
}

// CompoundCondition joins child conditions with AND or OR.
type CompoundCondition struct {
	id          int64
	conjunction Conjunction
	children    []Condition
}

// NewCompoundCondition returns a compound over children, ordered by id. A
// child with the compound's own id is dropped.
func NewCompoundCondition(id int64, conjunction Conjunction, children []Condition) *CompoundCondition {
	kept := make([]Condition, 0, len(children))
	for _, ch := range children {
		if ch != nil && ch.ID() != id {
			kept = append(kept, ch)
		}
	}
	slices.SortStableFunc(kept, func(a, b Condition) int {
		return cmp.Compare(a.ID(), b.ID())
	})
	return &CompoundCondition{id: id, conjunction: conjunction, children: kept}
}

func (c *CompoundCondition) isCondition()          {}
func (c *CompoundCondition) ID() int64             { return c.id }
func (c *CompoundCondition) Kind() ConditionKind   { return CompoundConditionKind }
func (c *CompoundCondition) Children() []Condition { return c.children }

func (c *CompoundCondition) Name() string {
	names := make([]string, len(c.children))
	for i, ch := range c.children {
		names[i] = ch.Name()
	}
	return conjoin(c.conjunction, names, "Empty Condition")
}

func (c *CompoundCondition) Validate() error {
	if !c.conjunction.valid() {
		return invalid(c.Kind(), c.id, fmt.Sprintf("unknown conjunction %q", c.conjunction))
	}
	return nil
}

// fold evaluates every child, without short-circuiting, and joins the
// results with conjunction.
func (c *CompoundCondition) fold(conjunction Conjunction, eval func(Condition) bool) bool {
	result := conjunction == And
	for _, ch := range c.children {
		sub := eval(ch)
		if conjunction == And {
			result = result && sub
		} else {
			result = result || sub
		}
	}
	return result
}

func (c *CompoundCondition) IsSatisfied(o *Offer, b *basket.Basket) bool {
	return c.fold(c.conjunction, func(ch Condition) bool {
		return ch.IsSatisfied(o, b)
	})
}

// IsPartiallySatisfied is true when any child makes progress, regardless of
// the compound's own conjunction.
func (c *CompoundCondition) IsPartiallySatisfied(o *Offer, b *basket.Basket) bool {
	return c.fold(Or, func(ch Condition) bool {
		return ch.IsPartiallySatisfied(o, b)
	})
}

// upsellCandidates returns the children making progress without being met.
func (c *CompoundCondition) upsellCandidates(o *Offer, b *basket.Basket) []Condition {
	var out []Condition
	for _, ch := range c.children {
		partial := ch.IsPartiallySatisfied(o, b)
		complete := ch.IsSatisfied(o, b)
		if partial && !complete {
			out = append(out, ch)
		}
	}
	return out
}

func (c *CompoundCondition) UpsellDetails(o *Offer, b *basket.Basket) *Upsell {
	var subs []*Upsell
	for _, ch := range c.upsellCandidates(o, b) {
		if u := ch.UpsellDetails(o, b); u != nil {
			subs = append(subs, u)
		}
	}
	if len(subs) == 0 {
		return nil
	}
	return newCompoundUpsell(o, c.conjunction, subs)
}

func (c *CompoundCondition) UpsellMessage(o *Offer, b *basket.Basket) string {
	var msgs []string
	for _, ch := range c.upsellCandidates(o, b) {
		msgs = append(msgs, ch.UpsellMessage(o, b))
	}
	return conjoin(c.conjunction, msgs, "")
}

// ConsumeItems threads the affected lines through every child in order so
// later children see what earlier ones consumed.
func (c *CompoundCondition) ConsumeItems(o *Offer, b *basket.Basket, affected []AffectedLine) []AffectedLine {
	memo := affected
	for _, ch := range c.children {
		if next := ch.ConsumeItems(o, b, memo); next != nil {
			memo = next
		}
	}
	return memo
}
