// Package offer evaluates conditional offers against a basket.
//
// An Offer pairs a Condition, which decides whether the basket qualifies,
// with a Benefit, which discounts the lines. The Applicator applies offers
// group by group so discounts from different groups compound while offers
// inside a group compete for units.
package offer

import (
	"fmt"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"

	"github.com/xenking/bluelight-offers/internal/domain/basket"
)

// Status of an offer.
type Status string

const (
	StatusOpen      Status = "Open"
	StatusSuspended Status = "Suspended"
	StatusConsumed  Status = "Consumed"
)

// maxApplications is the hard cap on applications of one offer per run.
const maxApplications = 10000

// Voucher is the code an offer was unlocked with.
type Voucher struct {
	Name string
	Code string
}

// Offer is a condition and benefit pair with its scheduling and limits.
type Offer struct {
	ID          int64
	Name        string
	Description string

	Condition Condition
	Benefit   Benefit

	// Priority orders offers inside a group, highest first.
	Priority int
	Group    *Group
	// Exclusive offers claim the units they consume; non-exclusive ones may
	// share units with each other.
	Exclusive              bool
	AffectsCosmeticPricing bool

	Status  Status
	StartAt time.Time
	EndAt   time.Time

	// Zero means no limit.
	MaxBasketApplications int
	MaxUserApplications   int
	MaxGlobalApplications int
	MaxTotalDiscount      decimal.NullDecimal

	// Usage counters, maintained out of band.
	NumApplications int
	TotalDiscount   decimal.Decimal

	Voucher    *Voucher
	LineFilter LineFilter
}

var _ basket.Offer = (*Offer)(nil)

func (o *Offer) OfferID() int64    { return o.ID }
func (o *Offer) IsExclusive() bool { return o.Exclusive }

func (o *Offer) Label() basket.OfferLabel {
	l := basket.OfferLabel{Name: o.Name, Description: o.Description}
	if o.Voucher != nil {
		l.VoucherName = o.Voucher.Name
		l.VoucherCode = o.Voucher.Code
	}
	return l
}

func (o *Offer) String() string {
	return fmt.Sprintf("offer %d (%s)", o.ID, o.Name)
}

// IsAvailable reports whether the offer may be applied at now.
func (o *Offer) IsAvailable(now time.Time) bool {
	if o.Status != "" && o.Status != StatusOpen {
		return false
	}
	if !o.StartAt.IsZero() && now.Before(o.StartAt) {
		return false
	}
	if !o.EndAt.IsZero() && now.After(o.EndAt) {
		return false
	}
	if o.MaxGlobalApplications > 0 && o.NumApplications >= o.MaxGlobalApplications {
		return false
	}
	if o.MaxTotalDiscount.Valid && o.TotalDiscount.GreaterThanOrEqual(o.MaxTotalDiscount.Decimal) {
		return false
	}
	return true
}

// MaxApplications returns how many times the offer may be applied to one
// basket, given how often the basket's owner already used it.
func (o *Offer) MaxApplications(userApplications int) int {
	n := maxApplications
	if o.MaxBasketApplications > 0 {
		n = min(n, o.MaxBasketApplications)
	}
	if o.MaxUserApplications > 0 {
		n = min(n, o.MaxUserApplications-userApplications)
	}
	if o.MaxGlobalApplications > 0 {
		n = min(n, o.MaxGlobalApplications-o.NumApplications)
	}
	return max(n, 0)
}

func (o *Offer) IsConditionSatisfied(b *basket.Basket) bool {
	return o.Condition != nil && o.Condition.IsSatisfied(o, b)
}

func (o *Offer) IsConditionPartiallySatisfied(b *basket.Basket) bool {
	return o.Condition != nil && o.Condition.IsPartiallySatisfied(o, b)
}

// UpsellDetails returns what the customer should add to qualify, or nil.
func (o *Offer) UpsellDetails(b *basket.Basket) *Upsell {
	if o.Condition == nil {
		return nil
	}
	return o.Condition.UpsellDetails(o, b)
}

func (o *Offer) UpsellMessage(b *basket.Basket) string {
	if o.Condition == nil {
		return ""
	}
	return o.Condition.UpsellMessage(o, b)
}

// ApplyBenefit applies the benefit once if the condition is satisfied.
//
// A panic inside a condition or benefit is returned as an error so one bad
// offer cannot abort a whole basket run.
func (o *Offer) ApplyBenefit(b *basket.Basket) (Result, error) {
	return o.applyBenefit(b, nil)
}

// applyBenefit applies the benefit once, holding nested benefits to the
// discount they granted in earlier applications recorded in granted.
func (o *Offer) applyBenefit(b *basket.Basket, granted grants) (res Result, err error) {
	if o.Condition == nil || o.Benefit == nil {
		return ZeroDiscount, errors.Wrapf(ErrMissingDependency, "%s: condition and benefit are required", o)
	}
	defer func() {
		if r := recover(); r != nil {
			res = ZeroDiscount
			if e, ok := r.(error); ok {
				err = errors.Wrapf(e, "%s: panic", o)
				return
			}
			err = errors.Errorf("%s: panic: %v", o, r)
		}
	}()

	if !o.IsConditionSatisfied(b) {
		return ZeroDiscount, nil
	}
	res, err = o.Benefit.Apply(b, o.Condition, o, ApplyOptions{granted: granted})
	if err != nil {
		return ZeroDiscount, errors.Wrapf(err, "%s", o)
	}
	return res, nil
}

// ShippingDiscountTotal sums the shipping discounts of the shipping applications
// recorded on apps, each seeing the charge left by the previous ones.
func ShippingDiscountTotal(apps *basket.Applications, charge decimal.Decimal, currency string) decimal.Decimal {
	total := decimal.Zero
	for _, app := range apps.ShippingDiscounts() {
		o, ok := app.Offer.(*Offer)
		if !ok || o.Benefit == nil {
			continue
		}
		for range app.Frequency {
			remaining := charge.Sub(total)
			if !remaining.IsPositive() {
				return total
			}
			total = total.Add(o.Benefit.ShippingDiscount(remaining, currency))
		}
	}
	return total
}
