// Package catalog holds pre-loaded product ranges used by offer conditions
// and benefits.
package catalog

import (
	"github.com/bits-and-blooms/bloom/v3"

	"github.com/xenking/bluelight-offers/internal/domain/offer"
	"github.com/xenking/bluelight-offers/internal/domain/product"
)

const bloomFPR = 0.001

var _ offer.Range = (*Range)(nil)

// Definition is the stored shape of a range.
type Definition struct {
	ID                  int64
	Name                string
	IncludesAllProducts bool
	ProductIDs          []string
	ExcludedProductIDs  []string
	ClassIDs            []string
}

// Range is an immutable product set. Membership checks never touch the
// database: included ids go through a bloom prefilter before the exact set.
type Range struct {
	id          int64
	name        string
	includesAll bool

	filter   *bloom.BloomFilter
	included map[string]struct{}
	excluded map[string]struct{}
	classes  map[string]struct{}
}

// New builds a range from its definition.
func New(def Definition) *Range {
	r := &Range{
		id:          def.ID,
		name:        def.Name,
		includesAll: def.IncludesAllProducts,
		included:    toSet(def.ProductIDs),
		excluded:    toSet(def.ExcludedProductIDs),
		classes:     toSet(def.ClassIDs),
	}
	if len(def.ProductIDs) > 0 {
		r.filter = bloom.NewWithEstimates(uint(len(def.ProductIDs)), bloomFPR)
		for _, id := range def.ProductIDs {
			r.filter.AddString(id)
		}
	}
	return r
}

func toSet(ids []string) map[string]struct{} {
	set := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		set[id] = struct{}{}
	}
	return set
}

func (r *Range) ID() int64    { return r.id }
func (r *Range) Name() string { return r.name }

// Len returns the number of explicitly included products.
func (r *Range) Len() int { return len(r.included) }

// ContainsProduct reports whether p is in the range. Exclusions win over
// every inclusion rule; a variant matches when its parent is included.
func (r *Range) ContainsProduct(p *product.Product) bool {
	if p == nil {
		return false
	}
	if _, ok := r.excluded[p.ID]; ok {
		return false
	}
	if r.includesAll {
		return true
	}
	if p.ClassID != "" {
		if _, ok := r.classes[p.ClassID]; ok {
			return true
		}
	}
	if r.includes(p.ID) {
		return true
	}
	return p.ParentID != "" && r.includes(p.ParentID)
}

func (r *Range) includes(id string) bool {
	if r.filter == nil || !r.filter.TestString(id) {
		return false
	}
	_, ok := r.included[id]
	return ok
}
