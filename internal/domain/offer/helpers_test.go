package offer

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/xenking/bluelight-offers/internal/domain/basket"
	"github.com/xenking/bluelight-offers/internal/domain/product"
)

func d(v string) decimal.Decimal {
	return decimal.RequireFromString(v)
}

// testRange contains every product, or only the listed ids when ids is set.
type testRange struct {
	id   int64
	name string
	ids  map[string]struct{}
}

func allProducts() *testRange {
	return &testRange{id: 1, name: "All products"}
}

func rangeOf(id int64, name string, ids ...string) *testRange {
	r := &testRange{id: id, name: name, ids: make(map[string]struct{}, len(ids))}
	for _, pid := range ids {
		r.ids[pid] = struct{}{}
	}
	return r
}

func (r *testRange) ID() int64    { return r.id }
func (r *testRange) Name() string { return r.name }

func (r *testRange) ContainsProduct(p *product.Product) bool {
	if r.ids == nil {
		return true
	}
	_, ok := r.ids[p.ID]
	return ok
}

var productSeq int

func newProduct(price string) *product.Product {
	productSeq++
	return &product.Product{
		ID:             fmt.Sprintf("p%d", productSeq),
		Name:           fmt.Sprintf("Product %d", productSeq),
		Price:          d(price),
		IsDiscountable: true,
	}
}

func productWithID(id, price string) *product.Product {
	return &product.Product{ID: id, Name: id, Price: d(price), IsDiscountable: true}
}

// newBasket returns a USD basket with one single-unit line per price.
func newBasket(prices ...string) *basket.Basket {
	b := basket.New("USD")
	for _, p := range prices {
		b.AddProduct(newProduct(p), 1)
	}
	return b
}

func newOffer(id int64, cond Condition, bn Benefit) *Offer {
	return &Offer{
		ID:        id,
		Name:      fmt.Sprintf("Offer %d", id),
		Condition: cond,
		Benefit:   bn,
		Exclusive: true,
		Status:    StatusOpen,
	}
}

func lineDiscounts(b *basket.Basket) []string {
	out := make([]string, 0, len(b.Lines()))
	for _, l := range b.Lines() {
		out = append(out, l.DiscountValue().StringFixed(2))
	}
	return out
}

func maxDiscount(v string) decimal.NullDecimal {
	return decimal.NewNullDecimal(d(v))
}
