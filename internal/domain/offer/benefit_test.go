package offer

import (
	"testing"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xenking/bluelight-offers/internal/domain/basket"
)

// stubBenefit returns a canned result and records how it was called.
type stubBenefit struct {
	benefitBase
	result Result
	err    error

	calls     int
	gotBudget decimal.NullDecimal
}

func newStub(id int64, value string, res Result) *stubBenefit {
	return &stubBenefit{benefitBase: benefitBase{id: id, value: d(value)}, result: res}
}

func (s *stubBenefit) Kind() BenefitKind { return "stub" }
func (s *stubBenefit) Name() string      { return "stub" }
func (s *stubBenefit) Validate() error   { return nil }

func (s *stubBenefit) Apply(_ *basket.Basket, _ Condition, _ *Offer, opts ApplyOptions) (Result, error) {
	s.calls++
	s.gotBudget = opts.MaxTotalDiscount
	return s.result, s.err
}

func apply(t *testing.T, bn Benefit, cond Condition, b *basket.Basket) Result {
	t.Helper()
	o := newOffer(1, cond, bn)
	res, err := bn.Apply(b, cond, o, ApplyOptions{})
	require.NoError(t, err)
	return res
}

func TestPercentageBenefit(t *testing.T) {
	tests := []struct {
		name          string
		prices        []string
		pct           string
		limits        Limits
		wantDiscount  string
		wantDiscounts []string
	}{
		{
			name:          "discounts every applicable unit",
			prices:        []string{"10.00", "5.00"},
			pct:           "20",
			wantDiscount:  "3.00",
			wantDiscounts: []string{"2.00", "1.00"},
		},
		{
			name:          "max affected items takes cheapest first",
			prices:        []string{"10.00", "5.00"},
			pct:           "20",
			limits:        Limits{MaxAffectedItems: 1},
			wantDiscount:  "1.00",
			wantDiscounts: []string{"0.00", "1.00"},
		},
		{
			name:          "rounds down per line",
			prices:        []string{"3.33"},
			pct:           "50",
			wantDiscount:  "1.66",
			wantDiscounts: []string{"1.66"},
		},
		{
			name:          "max discount truncates",
			prices:        []string{"10.00", "5.00"},
			pct:           "50",
			limits:        Limits{MaxDiscount: maxDiscount("4.00")},
			wantDiscount:  "4.00",
			wantDiscounts: []string{"1.50", "2.50"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := newBasket(tt.prices...)
			bn := NewPercentageBenefit(1, allProducts(), d(tt.pct), tt.limits)

			res := apply(t, bn, NewCountCondition(1, allProducts(), 1), b)

			assert.Equal(t, BasketDiscount, res.Kind)
			assert.True(t, d(tt.wantDiscount).Equal(res.Discount), "got %s", res.Discount)
			assert.Equal(t, tt.wantDiscounts, lineDiscounts(b))
		})
	}
}

func TestPercentageBenefit_Validate(t *testing.T) {
	tests := []struct {
		name string
		bn   *PercentageBenefit
	}{
		{name: "no range", bn: NewPercentageBenefit(1, nil, d("10"), Limits{})},
		{name: "over 100", bn: NewPercentageBenefit(1, allProducts(), d("101"), Limits{})},
		{name: "zero", bn: NewPercentageBenefit(1, allProducts(), d("0"), Limits{})},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.bn.Validate()
			require.ErrorIs(t, err, ErrInvalidConfig)

			var verr *ValidationError
			require.True(t, errors.As(err, &verr))
			assert.Equal(t, "percentage", verr.Kind)
		})
	}
}

func TestAbsoluteBenefit(t *testing.T) {
	t.Run("remainder goes to the last line", func(t *testing.T) {
		b := newBasket("2.00", "2.00", "2.00")
		bn := NewAbsoluteBenefit(1, allProducts(), d("4.00"), Limits{})

		res := apply(t, bn, NewCountCondition(1, allProducts(), 3), b)

		assert.True(t, d("4.00").Equal(res.Discount))
		assert.Equal(t, []string{"1.33", "1.33", "1.34"}, lineDiscounts(b))
	})

	t.Run("single line with quantity", func(t *testing.T) {
		b := basket.New("USD")
		line := b.AddProduct(newProduct("12.00"), 2)
		bn := NewAbsoluteBenefit(1, allProducts(), d("3.00"), Limits{})

		res := apply(t, bn, NewCountCondition(1, allProducts(), 2), b)

		assert.True(t, d("3.00").Equal(res.Discount))
		assert.Equal(t, 2, line.QuantityWithDiscount())
		assert.Equal(t, 0, line.QuantityWithoutDiscount())
		assert.Equal(t, "21.00", b.TotalExclTax().StringFixed(2))
	})

	t.Run("never exceeds the value of the lines", func(t *testing.T) {
		b := newBasket("1.00", "1.50")
		bn := NewAbsoluteBenefit(1, allProducts(), d("3.00"), Limits{})

		res := apply(t, bn, NewCountCondition(1, allProducts(), 2), b)

		assert.True(t, d("2.50").Equal(res.Discount))
	})

	t.Run("nothing applicable", func(t *testing.T) {
		bn := NewAbsoluteBenefit(1, allProducts(), d("3.00"), Limits{})
		res := apply(t, bn, NewCountCondition(1, allProducts(), 2), basket.New("USD"))
		assert.Equal(t, ZeroDiscount, res)
	})
}

func TestBenefit_MaxDiscountIsCumulative(t *testing.T) {
	b := basket.New("USD")
	line := b.AddProduct(newProduct("10.00"), 4)
	cond := NewCountCondition(1, allProducts(), 1)
	bn := NewAbsoluteBenefit(1, allProducts(), d("2.00"), Limits{
		MaxAffectedItems: 1,
		MaxDiscount:      maxDiscount("3.00"),
	})
	o := newOffer(1, cond, bn)

	var got []string
	for range 3 {
		res, err := o.ApplyBenefit(b)
		require.NoError(t, err)
		got = append(got, res.Discount.StringFixed(2))
	}

	assert.Equal(t, []string{"2.00", "1.00", "0.00"}, got)
	assert.Equal(t, "3.00", line.DiscountValue().StringFixed(2))
	assert.Equal(t, "3.00", b.OfferDiscount(o.ID).StringFixed(2))
}

func TestBenefit_RepeatedApplication(t *testing.T) {
	b := basket.New("USD")
	line := b.AddProduct(newProduct("10.00"), 5)
	cond := NewCountCondition(1, allProducts(), 2)
	bn := NewAbsoluteBenefit(1, allProducts(), d("3.00"), Limits{MaxAffectedItems: 2})
	o := newOffer(1, cond, bn)

	res, err := o.ApplyBenefit(b)
	require.NoError(t, err)
	assert.True(t, d("3.00").Equal(res.Discount))
	assert.Equal(t, 2, line.QuantityWithDiscount())
	assert.Equal(t, 3, line.QuantityWithoutDiscount())

	res, err = o.ApplyBenefit(b)
	require.NoError(t, err)
	assert.True(t, d("3.00").Equal(res.Discount))
	assert.Equal(t, 1, line.QuantityWithoutDiscount())

	res, err = o.ApplyBenefit(b)
	require.NoError(t, err)
	assert.False(t, res.IsSuccessful())
}

func TestFixedPriceBenefit(t *testing.T) {
	t.Run("bundles the most expensive units", func(t *testing.T) {
		b := newBasket("15.00", "10.00", "8.00")
		bn := NewFixedPriceBenefit(1, allProducts(), d("20.00"), Limits{MaxAffectedItems: 2})

		res := apply(t, bn, NewCountCondition(1, allProducts(), 2), b)

		assert.True(t, d("5.00").Equal(res.Discount))
		assert.Equal(t, []string{"3.00", "2.00", "0.00"}, lineDiscounts(b))
	})

	t.Run("bundle cheaper than price", func(t *testing.T) {
		b := newBasket("8.00", "5.00")
		bn := NewFixedPriceBenefit(1, allProducts(), d("20.00"), Limits{})

		res := apply(t, bn, NewCountCondition(1, allProducts(), 2), b)

		assert.Equal(t, ZeroDiscount, res)
		assert.Equal(t, 1, b.Lines()[0].QuantityWithoutDiscount())
	})

	t.Run("consumes the condition", func(t *testing.T) {
		b := newBasket("15.00", "10.00", "8.00")
		bn := NewFixedPriceBenefit(1, allProducts(), d("10.00"), Limits{MaxAffectedItems: 1})
		spy := &spyCondition{id: 9}

		res, err := bn.Apply(b, spy, newOffer(1, spy, bn), ApplyOptions{})

		require.NoError(t, err)
		assert.True(t, d("5.00").Equal(res.Discount))
		assert.Equal(t, 1, spy.consumeCalls)
		require.Len(t, spy.lastAffected, 1)
		assert.Equal(t, "15.00", spy.lastAffected[0].Line.UnitPrice.StringFixed(2))
	})
}

func TestFixedPricePerItemBenefit(t *testing.T) {
	t.Run("sells each unit at the price", func(t *testing.T) {
		b := newBasket("8.00", "4.00", "12.00")
		bn := NewFixedPricePerItemBenefit(1, allProducts(), d("5.00"), Limits{})

		res := apply(t, bn, NewCountCondition(1, allProducts(), 1), b)

		assert.True(t, d("10.00").Equal(res.Discount))
		assert.Equal(t, []string{"3.00", "0.00", "7.00"}, lineDiscounts(b))
	})

	t.Run("respects max discount", func(t *testing.T) {
		b := newBasket("8.00", "4.00", "12.00")
		bn := NewFixedPricePerItemBenefit(1, allProducts(), d("5.00"), Limits{MaxDiscount: maxDiscount("8.00")})

		res := apply(t, bn, NewCountCondition(1, allProducts(), 1), b)

		assert.True(t, d("8.00").Equal(res.Discount))
		assert.Equal(t, []string{"1.00", "0.00", "7.00"}, lineDiscounts(b))
	})

	t.Run("every unit already cheap", func(t *testing.T) {
		b := newBasket("4.00", "5.00")
		bn := NewFixedPricePerItemBenefit(1, allProducts(), d("5.00"), Limits{})

		res := apply(t, bn, NewCountCondition(1, allProducts(), 1), b)

		assert.Equal(t, ZeroDiscount, res)
	})
}

func TestMultibuyBenefit(t *testing.T) {
	t.Run("second most expensive is free", func(t *testing.T) {
		b := newBasket("100.00", "80.00", "60.00", "40.00")
		bn := NewMultibuyBenefit(1, allProducts(), Limits{})

		res := apply(t, bn, NewCountCondition(1, allProducts(), 2), b)

		assert.True(t, d("80.00").Equal(res.Discount))
		assert.Equal(t, []string{"0.00", "80.00", "0.00", "0.00"}, lineDiscounts(b))
	})

	t.Run("single unit falls back to the cheapest line", func(t *testing.T) {
		b := newBasket("50.00")
		bn := NewMultibuyBenefit(1, allProducts(), Limits{})

		res := apply(t, bn, NewCountCondition(1, allProducts(), 1), b)

		assert.True(t, d("50.00").Equal(res.Discount))
	})

	t.Run("single line with two units discounts one", func(t *testing.T) {
		b := basket.New("USD")
		line := b.AddProduct(newProduct("30.00"), 2)
		bn := NewMultibuyBenefit(1, allProducts(), Limits{})

		res := apply(t, bn, NewCountCondition(1, allProducts(), 2), b)

		assert.True(t, d("30.00").Equal(res.Discount))
		assert.Equal(t, 2, line.QuantityWithDiscount())
	})

	t.Run("validation", func(t *testing.T) {
		withItems := NewMultibuyBenefit(1, allProducts(), Limits{MaxAffectedItems: 2})
		require.ErrorIs(t, withItems.Validate(), ErrInvalidConfig)

		withValue := NewMultibuyBenefit(1, allProducts(), Limits{})
		withValue.value = d("1")
		require.ErrorIs(t, withValue.Validate(), ErrInvalidConfig)
	})
}

func TestShippingBenefit(t *testing.T) {
	tests := []struct {
		name   string
		bn     *ShippingBenefit
		charge string
		want   string
	}{
		{name: "absolute below charge", bn: NewShippingAbsoluteBenefit(1, d("5.00"), Limits{}), charge: "10.00", want: "5.00"},
		{name: "absolute above charge", bn: NewShippingAbsoluteBenefit(1, d("5.00"), Limits{}), charge: "3.00", want: "3.00"},
		{name: "fixed price below charge", bn: NewShippingFixedPriceBenefit(1, d("4.00"), Limits{}), charge: "10.00", want: "6.00"},
		{name: "fixed price above charge", bn: NewShippingFixedPriceBenefit(1, d("4.00"), Limits{}), charge: "3.00", want: "0.00"},
		{name: "percentage rounds to cents", bn: NewShippingPercentageBenefit(1, d("25"), Limits{}), charge: "9.99", want: "2.50"},
		{name: "max discount", bn: NewShippingPercentageBenefit(1, d("50"), Limits{MaxDiscount: maxDiscount("2.00")}), charge: "10.00", want: "2.00"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := tt.bn.ShippingDiscount(d(tt.charge), "USD")
			assert.Equal(t, tt.want, got.StringFixed(2))
		})
	}
}

func TestShippingBenefit_Apply(t *testing.T) {
	b := newBasket("10.00")
	cond := NewCountCondition(1, allProducts(), 1)
	bn := NewShippingAbsoluteBenefit(1, d("5.00"), Limits{})

	res := apply(t, bn, cond, b)

	assert.Equal(t, ShippingResult, res)
	assert.True(t, res.IsSuccessful())
	assert.True(t, res.IsFinal())
	assert.Equal(t, basket.AffectsShipping, res.Affects())
	assert.Equal(t, 0, b.Lines()[0].QuantityWithoutDiscount())
}

func TestShippingBenefit_Validate(t *testing.T) {
	require.ErrorIs(t, NewShippingAbsoluteBenefit(1, decimal.Zero, Limits{}).Validate(), ErrInvalidConfig)
	require.ErrorIs(t, NewShippingPercentageBenefit(1, d("150"), Limits{}).Validate(), ErrInvalidConfig)
	require.ErrorIs(t, NewShippingFixedPriceBenefit(1, d("1"), Limits{MaxAffectedItems: 1}).Validate(), ErrInvalidConfig)
	require.NoError(t, NewShippingFixedPriceBenefit(1, decimal.Zero, Limits{}).Validate())
}

func TestCompoundBenefit(t *testing.T) {
	t.Run("children ordered by value then id", func(t *testing.T) {
		bn := NewCompoundBenefit(1, And, []Benefit{
			newStub(3, "2", ZeroDiscount),
			newStub(4, "3", ZeroDiscount),
			newStub(2, "3", ZeroDiscount),
			newStub(1, "9", ZeroDiscount),
		}, Limits{})

		var ids []int64
		for _, ch := range bn.Children() {
			ids = append(ids, ch.ID())
		}
		assert.Equal(t, []int64{2, 4, 3}, ids)
	})

	t.Run("and sums children within a shared budget", func(t *testing.T) {
		b := basket.New("USD")
		b.AddProduct(newProduct("10.00"), 2)
		bn := NewCompoundBenefit(1, And, []Benefit{
			NewAbsoluteBenefit(2, allProducts(), d("3.00"), Limits{MaxAffectedItems: 1}),
			NewAbsoluteBenefit(3, allProducts(), d("2.00"), Limits{MaxAffectedItems: 1}),
		}, Limits{MaxDiscount: maxDiscount("4.00")})

		res := apply(t, bn, NewCountCondition(1, allProducts(), 1), b)

		assert.True(t, d("4.00").Equal(res.Discount), "got %s", res.Discount)
	})

	t.Run("each child keeps its own max discount", func(t *testing.T) {
		b := newBasket("20.00", "20.00")
		bn := NewCompoundBenefit(1, And, []Benefit{
			NewPercentageBenefit(2, allProducts(), d("50"), Limits{MaxDiscount: maxDiscount("5.00")}),
			NewPercentageBenefit(3, allProducts(), d("50"), Limits{MaxDiscount: maxDiscount("5.00")}),
		}, Limits{})

		res := apply(t, bn, NewCountCondition(1, allProducts(), 1), b)

		assert.Equal(t, "10.00", res.Discount.StringFixed(2))
		for _, line := range b.Lines() {
			assert.Equal(t, "5.00", line.DiscountValue().StringFixed(2))
		}
	})

	t.Run("parent budget tightens a child max discount", func(t *testing.T) {
		b := newBasket("20.00", "20.00")
		bn := NewCompoundBenefit(1, And, []Benefit{
			NewPercentageBenefit(2, allProducts(), d("50"), Limits{MaxDiscount: maxDiscount("5.00")}),
			NewPercentageBenefit(3, allProducts(), d("50"), Limits{MaxDiscount: maxDiscount("5.00")}),
		}, Limits{MaxDiscount: maxDiscount("7.00")})

		res := apply(t, bn, NewCountCondition(1, allProducts(), 1), b)

		assert.Equal(t, "7.00", res.Discount.StringFixed(2))
	})

	t.Run("budget shrinks after each child", func(t *testing.T) {
		first := newStub(2, "2", NewBasketDiscount(d("4.00")))
		second := newStub(3, "1", NewBasketDiscount(d("1.00")))
		bn := NewCompoundBenefit(1, And, []Benefit{first, second}, Limits{MaxDiscount: maxDiscount("10.00")})

		res := apply(t, bn, &spyCondition{id: 9}, newBasket("10.00"))

		assert.True(t, d("5.00").Equal(res.Discount))
		assert.True(t, d("10.00").Equal(first.gotBudget.Decimal))
		assert.True(t, d("6.00").Equal(second.gotBudget.Decimal))
	})

	t.Run("or stops at first success", func(t *testing.T) {
		a := newStub(2, "3", ZeroDiscount)
		bb := newStub(3, "2", NewBasketDiscount(d("5.00")))
		c := newStub(4, "1", NewBasketDiscount(d("7.00")))
		bn := NewCompoundBenefit(1, Or, []Benefit{a, bb, c}, Limits{})

		res := apply(t, bn, &spyCondition{id: 9}, newBasket("10.00"))

		assert.True(t, d("5.00").Equal(res.Discount))
		assert.Equal(t, 1, a.calls)
		assert.Equal(t, 1, bb.calls)
		assert.Equal(t, 0, c.calls)
	})

	t.Run("hidden post order results are skipped", func(t *testing.T) {
		bn := NewCompoundBenefit(1, And, []Benefit{
			newStub(2, "2", Result{Kind: HiddenPostOrderAction}),
			newStub(3, "1", NewBasketDiscount(d("5.00"))),
		}, Limits{})

		res := apply(t, bn, &spyCondition{id: 9}, newBasket("10.00"))

		assert.Equal(t, BasketDiscount, res.Kind)
		assert.True(t, d("5.00").Equal(res.Discount))
	})

	t.Run("mixing result kinds fails", func(t *testing.T) {
		bn := NewCompoundBenefit(1, And, []Benefit{
			newStub(2, "2", NewBasketDiscount(d("5.00"))),
			newStub(3, "1", ShippingResult),
		}, Limits{})

		cond := &spyCondition{id: 9}
		_, err := bn.Apply(newBasket("10.00"), cond, newOffer(1, cond, bn), ApplyOptions{})

		require.ErrorIs(t, err, ErrMixedResultKinds)
		assert.True(t, isInvariantViolation(err))
	})

	t.Run("mixed kinds are rejected before any child applies", func(t *testing.T) {
		b := newBasket("10.00")
		bn := NewCompoundBenefit(1, And, []Benefit{
			NewPercentageBenefit(2, allProducts(), d("50"), Limits{}),
			NewShippingAbsoluteBenefit(3, d("5.00"), Limits{}),
		}, Limits{})

		require.ErrorIs(t, bn.Validate(), ErrMixedResultKinds)

		cond := NewCountCondition(1, allProducts(), 1)
		_, err := bn.Apply(b, cond, newOffer(1, cond, bn), ApplyOptions{})
		require.ErrorIs(t, err, ErrMixedResultKinds)
		assert.True(t, b.Lines()[0].DiscountValue().IsZero())
		assert.Equal(t, 1, b.Lines()[0].QuantityWithoutDiscount())
	})

	t.Run("nested compounds must agree", func(t *testing.T) {
		inner := NewCompoundBenefit(2, And, []Benefit{
			NewShippingPercentageBenefit(3, d("50"), Limits{}),
		}, Limits{})
		outer := NewCompoundBenefit(1, Or, []Benefit{
			inner,
			NewAbsoluteBenefit(4, allProducts(), d("2.00"), Limits{}),
		}, Limits{})

		require.ErrorIs(t, outer.Validate(), ErrMixedResultKinds)
		require.NoError(t, inner.Validate())
	})

	t.Run("consumes once through the outermost caller", func(t *testing.T) {
		b := basket.New("USD")
		b.AddProduct(newProduct("10.00"), 3)
		inner := NewCompoundBenefit(2, And, []Benefit{
			NewAbsoluteBenefit(3, allProducts(), d("1.00"), Limits{MaxAffectedItems: 1}),
		}, Limits{})
		outer := NewCompoundBenefit(1, And, []Benefit{
			inner,
			NewAbsoluteBenefit(4, allProducts(), d("2.00"), Limits{MaxAffectedItems: 1}),
		}, Limits{})
		spy := &spyCondition{id: 9}

		res, err := outer.Apply(b, spy, newOffer(1, spy, outer), ApplyOptions{})

		require.NoError(t, err)
		assert.True(t, d("3.00").Equal(res.Discount))
		assert.Equal(t, 1, spy.consumeCalls)
		assert.Len(t, spy.lastAffected, 2)
	})

	t.Run("shipping discount chains children", func(t *testing.T) {
		bn := NewCompoundBenefit(1, And, []Benefit{
			NewShippingAbsoluteBenefit(2, d("3.00"), Limits{}),
			NewShippingPercentageBenefit(3, d("50"), Limits{}),
		}, Limits{})

		assert.Equal(t, "8.00", bn.ShippingDiscount(d("10.00"), "USD").StringFixed(2))
	})

	t.Run("validation", func(t *testing.T) {
		withItems := NewCompoundBenefit(1, And, nil, Limits{MaxAffectedItems: 1})
		require.ErrorIs(t, withItems.Validate(), ErrInvalidConfig)

		badConj := NewCompoundBenefit(1, "XOR", nil, Limits{})
		require.ErrorIs(t, badConj.Validate(), ErrInvalidConfig)

		assert.Equal(t, "Empty Benefit", NewCompoundBenefit(1, Or, nil, Limits{}).Name())
	})
}
