package offer

import (
	"slices"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/xenking/bluelight-offers/internal/domain/basket"
	"github.com/xenking/bluelight-offers/internal/domain/product"
)

// Range answers whether a product belongs to a named product set.
// Implementations must be pre-loaded: ContainsProduct is called many times
// per basket and must not perform I/O.
type Range interface {
	ID() int64
	Name() string
	ContainsProduct(p *product.Product) bool
}

// LineTuple pairs a line with the unit price offers calculate with.
type LineTuple struct {
	Price decimal.Decimal
	Line  *basket.Line
}

// ApplicableLines returns the basket lines whose discountable product is in
// rng and whose effective unit price is positive, cheapest first unless
// mostExpensiveFirst is set. Lines with equal prices keep basket order.
func ApplicableLines(rng Range, b *basket.Basket, mostExpensiveFirst bool) []LineTuple {
	var tuples []LineTuple
	for _, line := range b.Lines() {
		if !canApply(rng, line) {
			continue
		}
		price := line.UnitEffectivePrice()
		if !price.IsPositive() {
			continue
		}
		tuples = append(tuples, LineTuple{Price: price, Line: line})
	}
	slices.SortStableFunc(tuples, func(a, b LineTuple) int {
		if mostExpensiveFirst {
			return b.Price.Cmp(a.Price)
		}
		return a.Price.Cmp(b.Price)
	})
	return tuples
}

func canApply(rng Range, line *basket.Line) bool {
	if rng == nil || line.Product == nil || !line.Product.IsDiscountable {
		return false
	}
	return rng.ContainsProduct(line.Product)
}

func rangeName(rng Range) string {
	if rng == nil {
		return "product range"
	}
	return rng.Name()
}

// Conjunction joins the children of a compound condition or benefit.
type Conjunction string

const (
	And Conjunction = "AND"
	Or  Conjunction = "OR"
)

func (c Conjunction) valid() bool {
	return c == And || c == Or
}

func conjoin(c Conjunction, parts []string, empty string) string {
	if len(parts) == 0 && empty != "" {
		return empty
	}
	sep := " and "
	if c == Or {
		sep = " or "
	}
	return strings.Join(parts, sep)
}
