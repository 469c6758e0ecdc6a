package offer

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xenking/bluelight-offers/internal/domain/basket"
)

// spyCondition counts evaluations.
type spyCondition struct {
	id        int64
	satisfied bool
	partial   bool
	calls     int

	consumeCalls int
	lastAffected []AffectedLine
}

func (c *spyCondition) isCondition()        {}
func (c *spyCondition) ID() int64           { return c.id }
func (c *spyCondition) Kind() ConditionKind { return "spy" }
func (c *spyCondition) Name() string        { return "spy" }
func (c *spyCondition) Validate() error     { return nil }

func (c *spyCondition) IsSatisfied(*Offer, *basket.Basket) bool {
	c.calls++
	return c.satisfied
}

func (c *spyCondition) IsPartiallySatisfied(*Offer, *basket.Basket) bool {
	c.calls++
	return c.partial
}

func (c *spyCondition) UpsellDetails(*Offer, *basket.Basket) *Upsell { return nil }
func (c *spyCondition) UpsellMessage(*Offer, *basket.Basket) string  { return "" }

func (c *spyCondition) ConsumeItems(_ *Offer, _ *basket.Basket, a []AffectedLine) []AffectedLine {
	c.consumeCalls++
	c.lastAffected = a
	return a
}

func TestCountCondition(t *testing.T) {
	tests := []struct {
		name        string
		quantity    int
		wantSat     bool
		wantPartial bool
		wantUpsell  string
	}{
		{name: "empty basket", quantity: 0, wantUpsell: "Buy 2 more products from All products"},
		{name: "one short", quantity: 1, wantPartial: true, wantUpsell: "Buy 1 more product from All products"},
		{name: "exact", quantity: 2, wantSat: true},
		{name: "exceeds", quantity: 5, wantSat: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := basket.New("USD")
			if tt.quantity > 0 {
				b.AddProduct(newProduct("10.00"), tt.quantity)
			}
			c := NewCountCondition(1, allProducts(), 2)
			o := newOffer(1, c, nil)

			assert.Equal(t, tt.wantSat, c.IsSatisfied(o, b))
			assert.Equal(t, tt.wantPartial, c.IsPartiallySatisfied(o, b))
			assert.Equal(t, tt.wantUpsell, c.UpsellMessage(o, b))
		})
	}
}

func TestCountCondition_ConsumeItemsIsIdempotentPerCall(t *testing.T) {
	b := basket.New("USD")
	line := b.AddProduct(newProduct("10.00"), 6)
	c := NewCountCondition(1, allProducts(), 2)
	o := newOffer(1, c, nil)

	for _, want := range []int{4, 2, 0, 0} {
		c.ConsumeItems(o, b, nil)
		assert.Equal(t, want, line.QuantityWithoutDiscount())
	}
}

func TestCountCondition_ConsumeItemsCountsAffectedLines(t *testing.T) {
	b := basket.New("USD")
	line := b.AddProduct(newProduct("10.00"), 5)
	c := NewCountCondition(1, allProducts(), 3)

	line.Discount(d("1.00"), 2, nil)
	affected := c.ConsumeItems(nil, b, []AffectedLine{{Line: line, Discount: d("1.00"), Quantity: 2}})

	require.Len(t, affected, 2)
	assert.Equal(t, 1, affected[1].Quantity)
	assert.Equal(t, 2, line.QuantityWithoutDiscount())
}

func TestValueCondition(t *testing.T) {
	t.Run("partial shows the amount left", func(t *testing.T) {
		b := newBasket("4.00")
		c := NewValueCondition(1, allProducts(), d("10.00"), false)
		o := newOffer(1, c, nil)

		assert.False(t, c.IsSatisfied(o, b))
		assert.True(t, c.IsPartiallySatisfied(o, b))
		assert.Equal(t, "Spend USD 6.00 more from All products", c.UpsellMessage(o, b))
	})

	t.Run("satisfied at threshold", func(t *testing.T) {
		b := newBasket("4.00", "6.00")
		c := NewValueCondition(1, allProducts(), d("10.00"), false)
		o := newOffer(1, c, nil)

		assert.True(t, c.IsSatisfied(o, b))
		assert.False(t, c.IsPartiallySatisfied(o, b))
		assert.Nil(t, c.UpsellDetails(o, b))
	})

	t.Run("tax inclusive counts known tax", func(t *testing.T) {
		b := newBasket("9.00")
		b.Lines()[0].SetTax(d("1.00"))

		excl := NewValueCondition(1, allProducts(), d("10.00"), false)
		incl := NewValueCondition(2, allProducts(), d("10.00"), true)

		assert.False(t, excl.IsSatisfied(nil, b))
		assert.True(t, incl.IsSatisfied(nil, b))
		assert.Equal(t, TaxInclusiveValueConditionKind, incl.Kind())
	})

	t.Run("consumes most expensive units first", func(t *testing.T) {
		b := newBasket("3.00", "5.00", "8.00")
		c := NewValueCondition(1, allProducts(), d("10.00"), false)

		affected := c.ConsumeItems(nil, b, nil)

		require.Len(t, affected, 2)
		lines := b.Lines()
		assert.Equal(t, 1, lines[0].QuantityWithoutDiscount())
		assert.Equal(t, 0, lines[1].QuantityWithoutDiscount())
		assert.Equal(t, 0, lines[2].QuantityWithoutDiscount())
	})
}

func TestCoverageCondition(t *testing.T) {
	a := productWithID("a", "5.00")
	bp := productWithID("b", "7.00")
	rng := rangeOf(2, "Set", "a", "b")
	c := NewCoverageCondition(1, rng, 2)

	b := basket.New("USD")
	lineA := b.AddProduct(a, 3)
	o := newOffer(1, c, nil)

	assert.False(t, c.IsSatisfied(o, b))
	assert.True(t, c.IsPartiallySatisfied(o, b))
	assert.Equal(t, "Buy 1 more product from Set", c.UpsellMessage(o, b))

	lineB := b.AddProduct(bp, 1)
	require.True(t, c.IsSatisfied(o, b))

	c.ConsumeItems(o, b, nil)
	assert.Equal(t, 2, lineA.QuantityWithoutDiscount())
	assert.Equal(t, 0, lineB.QuantityWithoutDiscount())
}

func TestCompoundCondition(t *testing.T) {
	t.Run("and evaluates every child", func(t *testing.T) {
		first := &spyCondition{id: 2}
		second := &spyCondition{id: 3, satisfied: true}
		c := NewCompoundCondition(1, And, []Condition{first, second})

		assert.False(t, c.IsSatisfied(nil, newBasket("1.00")))
		assert.Equal(t, 1, first.calls)
		assert.Equal(t, 1, second.calls)
	})

	t.Run("or is satisfied by any child", func(t *testing.T) {
		c := NewCompoundCondition(1, Or, []Condition{
			&spyCondition{id: 2},
			&spyCondition{id: 3, satisfied: true},
		})
		assert.True(t, c.IsSatisfied(nil, newBasket("1.00")))
	})

	t.Run("or evaluates every child", func(t *testing.T) {
		first := &spyCondition{id: 2, satisfied: true}
		second := &spyCondition{id: 3}
		c := NewCompoundCondition(1, Or, []Condition{first, second})

		assert.True(t, c.IsSatisfied(nil, newBasket("1.00")))
		assert.Equal(t, 1, first.calls)
		assert.Equal(t, 1, second.calls)
	})

	t.Run("children ordered by id", func(t *testing.T) {
		c := NewCompoundCondition(1, And, []Condition{
			&spyCondition{id: 20},
			&spyCondition{id: 10},
		})

		var ids []int64
		for _, ch := range c.Children() {
			ids = append(ids, ch.ID())
		}
		assert.Equal(t, []int64{10, 20}, ids)
	})

	t.Run("consumption follows id order", func(t *testing.T) {
		b := basket.New("USD")
		line := b.AddProduct(productWithID("a", "5.00"), 3)
		c := NewCompoundCondition(1, And, []Condition{
			NewCountCondition(20, allProducts(), 2),
			NewCountCondition(10, allProducts(), 1),
		})

		affected := c.ConsumeItems(nil, b, nil)

		// The smaller condition runs first and counts toward the larger one.
		require.Len(t, affected, 2)
		assert.Equal(t, 1, affected[0].Quantity)
		assert.Equal(t, 1, affected[1].Quantity)
		assert.Equal(t, 1, line.QuantityWithoutDiscount())
	})

	t.Run("partial ignores conjunction", func(t *testing.T) {
		c := NewCompoundCondition(1, And, []Condition{
			&spyCondition{id: 2},
			&spyCondition{id: 3, partial: true},
		})
		assert.True(t, c.IsPartiallySatisfied(nil, newBasket("1.00")))
	})

	t.Run("drops itself from children", func(t *testing.T) {
		self := &spyCondition{id: 1}
		c := NewCompoundCondition(1, And, []Condition{self, &spyCondition{id: 2}})
		assert.Len(t, c.Children(), 1)
	})

	t.Run("upsell joins partial children", func(t *testing.T) {
		b := newBasket("10.00")
		c := NewCompoundCondition(1, And, []Condition{
			NewCountCondition(2, allProducts(), 2),
			NewValueCondition(3, allProducts(), d("50.00"), false),
		})
		o := newOffer(7, c, nil)

		assert.Equal(t, "Buy 1 more product from All products and Spend USD 40.00 more from All products", c.UpsellMessage(o, b))

		u := c.UpsellDetails(o, b)
		require.NotNil(t, u)
		assert.Equal(t, CompoundUpsell, u.Kind)
		assert.Len(t, u.Children, 2)
		assert.Equal(t,
			"Buy 1 more product from All products and Spend USD 40.00 more from All products to qualify for the Offer 7 special offer.",
			u.Summary())
	})

	t.Run("empty name", func(t *testing.T) {
		assert.Equal(t, "Empty Condition", NewCompoundCondition(1, Or, nil).Name())
	})

	t.Run("consumption threads through children", func(t *testing.T) {
		b := basket.New("USD")
		lineA := b.AddProduct(productWithID("a", "5.00"), 2)
		lineB := b.AddProduct(productWithID("b", "5.00"), 2)
		c := NewCompoundCondition(1, And, []Condition{
			NewCountCondition(2, rangeOf(2, "A", "a"), 1),
			NewCountCondition(3, rangeOf(3, "B", "b"), 1),
		})

		affected := c.ConsumeItems(nil, b, nil)

		assert.Len(t, affected, 2)
		assert.Equal(t, 1, lineA.QuantityWithoutDiscount())
		assert.Equal(t, 1, lineB.QuantityWithoutDiscount())
	})

	t.Run("rejects unknown conjunction", func(t *testing.T) {
		err := NewCompoundCondition(1, "XOR", nil).Validate()
		require.ErrorIs(t, err, ErrInvalidConfig)
	})
}
