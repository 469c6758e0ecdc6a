// Package fixture reads offer configuration from YAML documents used for
// seeding databases and pricing baskets offline.
package fixture

import (
	"io"
	"time"

	"github.com/go-faster/errors"
	"github.com/samber/lo"
	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"github.com/xenking/bluelight-offers/internal/domain/catalog"
	"github.com/xenking/bluelight-offers/internal/domain/offer"
	"github.com/xenking/bluelight-offers/internal/domain/product"
	"github.com/xenking/bluelight-offers/internal/storage/postgres"
)

// Fixture is a complete offer configuration.
type Fixture struct {
	Products   []Product   `yaml:"products"`
	Ranges     []Range     `yaml:"ranges"`
	Groups     []Group     `yaml:"groups"`
	Conditions []Condition `yaml:"conditions"`
	Benefits   []Benefit   `yaml:"benefits"`
	Offers     []Offer     `yaml:"offers"`
}

type Product struct {
	ID           string `yaml:"id"`
	Name         string `yaml:"name"`
	Price        string `yaml:"price"`
	Class        string `yaml:"class"`
	Parent       string `yaml:"parent"`
	Discountable *bool  `yaml:"discountable"`
}

type Range struct {
	ID          int64    `yaml:"id"`
	Name        string   `yaml:"name"`
	IncludesAll bool     `yaml:"includes_all"`
	Products    []string `yaml:"products"`
	Excluded    []string `yaml:"excluded"`
	Classes     []string `yaml:"classes"`
}

type Group struct {
	ID       int64  `yaml:"id"`
	Name     string `yaml:"name"`
	Slug     string `yaml:"slug"`
	Priority int    `yaml:"priority"`
	System   bool   `yaml:"system"`
}

type Condition struct {
	ID          int64   `yaml:"id"`
	Kind        string  `yaml:"kind"`
	Range       int64   `yaml:"range"`
	Value       string  `yaml:"value"`
	Conjunction string  `yaml:"conjunction"`
	Children    []int64 `yaml:"children"`
}

type Benefit struct {
	ID               int64   `yaml:"id"`
	Kind             string  `yaml:"kind"`
	Range            int64   `yaml:"range"`
	Value            string  `yaml:"value"`
	MaxAffectedItems int     `yaml:"max_affected_items"`
	MaxDiscount      string  `yaml:"max_discount"`
	Conjunction      string  `yaml:"conjunction"`
	Children         []int64 `yaml:"children"`
}

type Offer struct {
	ID                     int64     `yaml:"id"`
	Name                   string    `yaml:"name"`
	Description            string    `yaml:"description"`
	Condition              int64     `yaml:"condition"`
	Benefit                int64     `yaml:"benefit"`
	Group                  int64     `yaml:"group"`
	Priority               int       `yaml:"priority"`
	Exclusive              *bool     `yaml:"exclusive"`
	AffectsCosmeticPricing *bool     `yaml:"affects_cosmetic_pricing"`
	Status                 string    `yaml:"status"`
	StartAt                time.Time `yaml:"start_at"`
	EndAt                  time.Time `yaml:"end_at"`
	MaxBasketApplications  int       `yaml:"max_basket_applications"`
	MaxUserApplications    int       `yaml:"max_user_applications"`
	MaxGlobalApplications  int       `yaml:"max_global_applications"`
	MaxTotalDiscount       string    `yaml:"max_total_discount"`
	VoucherName            string    `yaml:"voucher_name"`
	VoucherCode            string    `yaml:"voucher_code"`
}

// Parse decodes a fixture. Unknown fields are rejected.
func Parse(r io.Reader) (*Fixture, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)

	var f Fixture
	if err := dec.Decode(&f); err != nil {
		if errors.Is(err, io.EOF) {
			return &f, nil
		}
		return nil, errors.Wrap(err, "decode fixture")
	}
	return &f, nil
}

// CatalogProducts converts the fixture products. Products are discountable
// unless marked otherwise.
func (f *Fixture) CatalogProducts() ([]product.Product, error) {
	out := make([]product.Product, 0, len(f.Products))
	for _, p := range f.Products {
		price, err := decimal.NewFromString(p.Price)
		if err != nil {
			return nil, errors.Wrapf(err, "product %q price", p.ID)
		}
		out = append(out, product.Product{
			ID:             p.ID,
			Name:           p.Name,
			Price:          price,
			ClassID:        p.Class,
			ParentID:       p.Parent,
			IsDiscountable: lo.FromPtrOr(p.Discountable, true),
		})
	}
	return out, nil
}

// RangeDefinitions converts the fixture ranges.
func (f *Fixture) RangeDefinitions() []catalog.Definition {
	return lo.Map(f.Ranges, func(r Range, _ int) catalog.Definition {
		return catalog.Definition{
			ID:                  r.ID,
			Name:                r.Name,
			IncludesAllProducts: r.IncludesAll,
			ProductIDs:          r.Products,
			ExcludedProductIDs:  r.Excluded,
			ClassIDs:            r.Classes,
		}
	})
}

// Changeset converts the offer configuration to storable records.
func (f *Fixture) Changeset() (postgres.Changeset, error) {
	var cs postgres.Changeset
	cs.Groups = lo.Map(f.Groups, func(g Group, _ int) *offer.Group {
		return &offer.Group{
			ID:            g.ID,
			Name:          lo.CoalesceOrEmpty(g.Name, g.Slug),
			Slug:          g.Slug,
			Priority:      g.Priority,
			IsSystemGroup: g.System,
		}
	})

	for _, c := range f.Conditions {
		value, err := optionalDecimal(c.Value)
		if err != nil {
			return cs, errors.Wrapf(err, "condition %d value", c.ID)
		}
		cs.Conditions = append(cs.Conditions, offer.ConditionRecord{
			ID:          c.ID,
			Kind:        offer.ConditionKind(c.Kind),
			RangeID:     c.Range,
			Value:       value.Decimal,
			Conjunction: offer.Conjunction(c.Conjunction),
			Children:    c.Children,
		})
	}

	for _, b := range f.Benefits {
		value, err := optionalDecimal(b.Value)
		if err != nil {
			return cs, errors.Wrapf(err, "benefit %d value", b.ID)
		}
		maxDiscount, err := optionalDecimal(b.MaxDiscount)
		if err != nil {
			return cs, errors.Wrapf(err, "benefit %d max_discount", b.ID)
		}
		cs.Benefits = append(cs.Benefits, offer.BenefitRecord{
			ID:               b.ID,
			Kind:             offer.BenefitKind(b.Kind),
			RangeID:          b.Range,
			Value:            value.Decimal,
			MaxAffectedItems: b.MaxAffectedItems,
			MaxDiscount:      maxDiscount,
			Conjunction:      offer.Conjunction(b.Conjunction),
			Children:         b.Children,
		})
	}

	for _, o := range f.Offers {
		maxTotal, err := optionalDecimal(o.MaxTotalDiscount)
		if err != nil {
			return cs, errors.Wrapf(err, "offer %d max_total_discount", o.ID)
		}
		cs.Offers = append(cs.Offers, offer.OfferRecord{
			ID:                     o.ID,
			Name:                   o.Name,
			Description:            o.Description,
			ConditionID:            o.Condition,
			BenefitID:              o.Benefit,
			GroupID:                o.Group,
			Priority:               o.Priority,
			Exclusive:              lo.FromPtrOr(o.Exclusive, true),
			AffectsCosmeticPricing: lo.FromPtrOr(o.AffectsCosmeticPricing, true),
			Status:                 offer.Status(lo.CoalesceOrEmpty(o.Status, string(offer.StatusOpen))),
			StartAt:                o.StartAt,
			EndAt:                  o.EndAt,
			MaxBasketApplications:  o.MaxBasketApplications,
			MaxUserApplications:    o.MaxUserApplications,
			MaxGlobalApplications:  o.MaxGlobalApplications,
			MaxTotalDiscount:       maxTotal,
			VoucherName:            o.VoucherName,
			VoucherCode:            o.VoucherCode,
		})
	}
	return cs, nil
}

// Snapshot builds a loadable snapshot without a database.
func (f *Fixture) Snapshot() (offer.Snapshot, error) {
	cs, err := f.Changeset()
	if err != nil {
		return offer.Snapshot{}, err
	}
	ranges := make(map[int64]offer.Range, len(f.Ranges))
	for _, def := range f.RangeDefinitions() {
		ranges[def.ID] = catalog.New(def)
	}
	return offer.Snapshot{
		Ranges:     ranges,
		Groups:     cs.Groups,
		Conditions: cs.Conditions,
		Benefits:   cs.Benefits,
		Offers:     cs.Offers,
	}, nil
}

func optionalDecimal(s string) (decimal.NullDecimal, error) {
	if s == "" {
		return decimal.NullDecimal{}, nil
	}
	v, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.NullDecimal{}, err
	}
	return decimal.NewNullDecimal(v), nil
}
