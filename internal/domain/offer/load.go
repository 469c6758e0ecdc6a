package offer

import (
	"time"

	"github.com/go-faster/errors"
	"github.com/samber/lo"
	"github.com/shopspring/decimal"
)

// ConditionRecord is a stored condition. RangeID and Value are interpreted
// by the kind; Children are set for compounds only.
type ConditionRecord struct {
	ID          int64
	Kind        ConditionKind
	RangeID     int64
	Value       decimal.Decimal
	Conjunction Conjunction
	Children    []int64
}

// BenefitRecord is a stored benefit.
type BenefitRecord struct {
	ID               int64
	Kind             BenefitKind
	RangeID          int64
	Value            decimal.Decimal
	MaxAffectedItems int
	MaxDiscount      decimal.NullDecimal
	Conjunction      Conjunction
	Children         []int64
}

// OfferRecord is a stored offer referencing its parts by id.
type OfferRecord struct {
	ID          int64
	Name        string
	Description string
	ConditionID int64
	BenefitID   int64
	GroupID     int64

	Priority               int
	Exclusive              bool
	AffectsCosmeticPricing bool
	Status                 Status
	StartAt                time.Time
	EndAt                  time.Time

	MaxBasketApplications int
	MaxUserApplications   int
	MaxGlobalApplications int
	MaxTotalDiscount      decimal.NullDecimal
	NumApplications       int
	TotalDiscount         decimal.Decimal

	VoucherName string
	VoucherCode string
}

// Snapshot is everything needed to build a set of offers.
type Snapshot struct {
	Ranges     map[int64]Range
	Groups     []*Group
	Conditions []ConditionRecord
	Benefits   []BenefitRecord
	Offers     []OfferRecord
}

// ConditionFactory builds a condition of one kind. children is empty unless
// the record is a compound.
type ConditionFactory func(rec ConditionRecord, rng Range, children []Condition) (Condition, error)

// BenefitFactory builds a benefit of one kind.
type BenefitFactory func(rec BenefitRecord, rng Range, children []Benefit) (Benefit, error)

// Registry maps stored kinds to constructors.
type Registry struct {
	conditions map[ConditionKind]ConditionFactory
	benefits   map[BenefitKind]BenefitFactory
}

// NewRegistry returns a registry with every built-in kind.
func NewRegistry() *Registry {
	r := &Registry{
		conditions: make(map[ConditionKind]ConditionFactory),
		benefits:   make(map[BenefitKind]BenefitFactory),
	}

	r.RegisterCondition(CountConditionKind, func(rec ConditionRecord, rng Range, _ []Condition) (Condition, error) {
		return NewCountCondition(rec.ID, rng, int(rec.Value.IntPart())), nil
	})
	r.RegisterCondition(CoverageConditionKind, func(rec ConditionRecord, rng Range, _ []Condition) (Condition, error) {
		return NewCoverageCondition(rec.ID, rng, int(rec.Value.IntPart())), nil
	})
	r.RegisterCondition(ValueConditionKind, func(rec ConditionRecord, rng Range, _ []Condition) (Condition, error) {
		return NewValueCondition(rec.ID, rng, rec.Value, false), nil
	})
	r.RegisterCondition(TaxInclusiveValueConditionKind, func(rec ConditionRecord, rng Range, _ []Condition) (Condition, error) {
		return NewValueCondition(rec.ID, rng, rec.Value, true), nil
	})
	r.RegisterCondition(CompoundConditionKind, func(rec ConditionRecord, _ Range, children []Condition) (Condition, error) {
		return NewCompoundCondition(rec.ID, rec.Conjunction, children), nil
	})

	limits := func(rec BenefitRecord) Limits {
		return Limits{MaxAffectedItems: rec.MaxAffectedItems, MaxDiscount: rec.MaxDiscount}
	}
	r.RegisterBenefit(PercentageBenefitKind, func(rec BenefitRecord, rng Range, _ []Benefit) (Benefit, error) {
		return NewPercentageBenefit(rec.ID, rng, rec.Value, limits(rec)), nil
	})
	r.RegisterBenefit(AbsoluteBenefitKind, func(rec BenefitRecord, rng Range, _ []Benefit) (Benefit, error) {
		return NewAbsoluteBenefit(rec.ID, rng, rec.Value, limits(rec)), nil
	})
	r.RegisterBenefit(FixedPriceBenefitKind, func(rec BenefitRecord, rng Range, _ []Benefit) (Benefit, error) {
		return NewFixedPriceBenefit(rec.ID, rng, rec.Value, limits(rec)), nil
	})
	r.RegisterBenefit(FixedPricePerItemBenefitKind, func(rec BenefitRecord, rng Range, _ []Benefit) (Benefit, error) {
		return NewFixedPricePerItemBenefit(rec.ID, rng, rec.Value, limits(rec)), nil
	})
	r.RegisterBenefit(MultibuyBenefitKind, func(rec BenefitRecord, rng Range, _ []Benefit) (Benefit, error) {
		bn := NewMultibuyBenefit(rec.ID, rng, limits(rec))
		bn.value = rec.Value
		return bn, nil
	})
	r.RegisterBenefit(ShippingAbsoluteBenefitKind, func(rec BenefitRecord, rng Range, _ []Benefit) (Benefit, error) {
		return shippingWithRange(NewShippingAbsoluteBenefit(rec.ID, rec.Value, limits(rec)), rng), nil
	})
	r.RegisterBenefit(ShippingFixedPriceBenefitKind, func(rec BenefitRecord, rng Range, _ []Benefit) (Benefit, error) {
		return shippingWithRange(NewShippingFixedPriceBenefit(rec.ID, rec.Value, limits(rec)), rng), nil
	})
	r.RegisterBenefit(ShippingPercentageBenefitKind, func(rec BenefitRecord, rng Range, _ []Benefit) (Benefit, error) {
		return shippingWithRange(NewShippingPercentageBenefit(rec.ID, rec.Value, limits(rec)), rng), nil
	})
	r.RegisterBenefit(CompoundBenefitKind, func(rec BenefitRecord, rng Range, children []Benefit) (Benefit, error) {
		bn := NewCompoundBenefit(rec.ID, rec.Conjunction, children, limits(rec))
		bn.rng = rng
		bn.value = rec.Value
		return bn, nil
	})
	return r
}

// shippingWithRange keeps a stored range so validation can reject it.
func shippingWithRange(bn *ShippingBenefit, rng Range) *ShippingBenefit {
	bn.rng = rng
	return bn
}

// RegisterCondition adds or replaces the constructor for kind.
func (r *Registry) RegisterCondition(kind ConditionKind, f ConditionFactory) {
	r.conditions[kind] = f
}

// RegisterBenefit adds or replaces the constructor for kind.
func (r *Registry) RegisterBenefit(kind BenefitKind, f BenefitFactory) {
	r.benefits[kind] = f
}

// Loader turns stored records into validated offers.
type Loader struct {
	registry *Registry
}

// NewLoader returns a loader using registry, or the built-in kinds when nil.
func NewLoader(registry *Registry) *Loader {
	if registry == nil {
		registry = NewRegistry()
	}
	return &Loader{registry: registry}
}

// Load builds the offers of s. Conditions and benefits are validated, and
// the compound graphs are checked for cycles before anything is built.
func (l *Loader) Load(s Snapshot) ([]*Offer, error) {
	if err := ValidateConditionGraph(s.Conditions); err != nil {
		return nil, err
	}
	if err := ValidateBenefitGraph(s.Benefits); err != nil {
		return nil, err
	}

	b := &builder{
		registry:      l.registry,
		ranges:        s.Ranges,
		conditionRecs: lo.SliceToMap(s.Conditions, func(r ConditionRecord) (int64, ConditionRecord) { return r.ID, r }),
		benefitRecs:   lo.SliceToMap(s.Benefits, func(r BenefitRecord) (int64, BenefitRecord) { return r.ID, r }),
		conditions:    make(map[int64]Condition),
		benefits:      make(map[int64]Benefit),
	}
	groups := lo.SliceToMap(s.Groups, func(g *Group) (int64, *Group) { return g.ID, g })

	offers := make([]*Offer, 0, len(s.Offers))
	for _, rec := range s.Offers {
		cond, err := b.condition(rec.ConditionID)
		if err != nil {
			return nil, errors.Wrapf(err, "offer %d", rec.ID)
		}
		bn, err := b.benefit(rec.BenefitID)
		if err != nil {
			return nil, errors.Wrapf(err, "offer %d", rec.ID)
		}
		o := &Offer{
			ID:                     rec.ID,
			Name:                   rec.Name,
			Description:            rec.Description,
			Condition:              cond,
			Benefit:                bn,
			Priority:               rec.Priority,
			Exclusive:              rec.Exclusive,
			AffectsCosmeticPricing: rec.AffectsCosmeticPricing,
			Status:                 rec.Status,
			StartAt:                rec.StartAt,
			EndAt:                  rec.EndAt,
			MaxBasketApplications:  rec.MaxBasketApplications,
			MaxUserApplications:    rec.MaxUserApplications,
			MaxGlobalApplications:  rec.MaxGlobalApplications,
			MaxTotalDiscount:       rec.MaxTotalDiscount,
			NumApplications:        rec.NumApplications,
			TotalDiscount:          rec.TotalDiscount,
		}
		if rec.GroupID != 0 {
			g, ok := groups[rec.GroupID]
			if !ok {
				return nil, errors.Wrapf(ErrMissingDependency, "offer %d: group %d", rec.ID, rec.GroupID)
			}
			o.Group = g
		}
		if rec.VoucherCode != "" {
			o.Voucher = &Voucher{Name: rec.VoucherName, Code: rec.VoucherCode}
		}
		offers = append(offers, o)
	}
	return offers, nil
}

type builder struct {
	registry      *Registry
	ranges        map[int64]Range
	conditionRecs map[int64]ConditionRecord
	benefitRecs   map[int64]BenefitRecord
	conditions    map[int64]Condition
	benefits      map[int64]Benefit
}

func (b *builder) rangeOf(id int64) (Range, error) {
	if id == 0 {
		return nil, nil
	}
	rng, ok := b.ranges[id]
	if !ok {
		return nil, errors.Wrapf(ErrMissingDependency, "range %d", id)
	}
	return rng, nil
}

func (b *builder) condition(id int64) (Condition, error) {
	if c, ok := b.conditions[id]; ok {
		return c, nil
	}
	rec, ok := b.conditionRecs[id]
	if !ok {
		return nil, errors.Wrapf(ErrMissingDependency, "condition %d", id)
	}
	factory, ok := b.registry.conditions[rec.Kind]
	if !ok {
		return nil, errors.Wrapf(ErrUnknownKind, "condition %d: %q", id, rec.Kind)
	}
	rng, err := b.rangeOf(rec.RangeID)
	if err != nil {
		return nil, errors.Wrapf(err, "condition %d", id)
	}
	children := make([]Condition, 0, len(rec.Children))
	for _, childID := range rec.Children {
		child, err := b.condition(childID)
		if err != nil {
			return nil, err
		}
		children = append(children, child)
	}

	c, err := factory(rec, rng, children)
	if err != nil {
		return nil, errors.Wrapf(err, "build condition %d", id)
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	b.conditions[id] = c
	return c, nil
}

func (b *builder) benefit(id int64) (Benefit, error) {
	if bn, ok := b.benefits[id]; ok {
		return bn, nil
	}
	rec, ok := b.benefitRecs[id]
	if !ok {
		return nil, errors.Wrapf(ErrMissingDependency, "benefit %d", id)
	}
	factory, ok := b.registry.benefits[rec.Kind]
	if !ok {
		return nil, errors.Wrapf(ErrUnknownKind, "benefit %d: %q", id, rec.Kind)
	}
	rng, err := b.rangeOf(rec.RangeID)
	if err != nil {
		return nil, errors.Wrapf(err, "benefit %d", id)
	}
	children := make([]Benefit, 0, len(rec.Children))
	for _, childID := range rec.Children {
		child, err := b.benefit(childID)
		if err != nil {
			return nil, err
		}
		children = append(children, child)
	}

	bn, err := factory(rec, rng, children)
	if err != nil {
		return nil, errors.Wrapf(err, "build benefit %d", id)
	}
	if err := bn.Validate(); err != nil {
		return nil, err
	}
	b.benefits[id] = bn
	return bn, nil
}
