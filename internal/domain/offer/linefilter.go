package offer

import (
	"github.com/xenking/bluelight-offers/internal/domain/basket"
)

// LineFilter narrows the lines a benefit may discount.
type LineFilter interface {
	FilterLines(o *Offer, b *basket.Basket, tuples []LineTuple) []LineTuple
}

// LineFilterFunc adapts a function to LineFilter.
type LineFilterFunc func(o *Offer, b *basket.Basket, tuples []LineTuple) []LineTuple

func (f LineFilterFunc) FilterLines(o *Offer, b *basket.Basket, tuples []LineTuple) []LineTuple {
	return f(o, b, tuples)
}

// ExcludeProducts drops lines for the given product ids.
func ExcludeProducts(ids ...string) LineFilter {
	excluded := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		excluded[id] = struct{}{}
	}
	return LineFilterFunc(func(_ *Offer, _ *basket.Basket, tuples []LineTuple) []LineTuple {
		out := tuples[:0:0]
		for _, t := range tuples {
			if _, ok := excluded[t.Line.Product.ID]; !ok {
				out = append(out, t)
			}
		}
		return out
	})
}
