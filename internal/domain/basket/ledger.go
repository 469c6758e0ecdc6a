package basket

import "github.com/shopspring/decimal"

// Offer is the view of an offer the ledger needs: an identity, whether it
// claims units outright, and a label for discount descriptions.
type Offer interface {
	OfferID() int64
	IsExclusive() bool
	Label() OfferLabel
}

// OfferLabel describes the offer (and voucher, if any) a discount came from.
type OfferLabel struct {
	Name        string
	Description string
	VoucherName string
	VoucherCode string
}

type breakdownEntry struct {
	quantity  int
	unitDelta decimal.Decimal
}

// Ledger tracks how much of a single line has been consumed and discounted.
//
// Consumption is namespaced per offer group: Begin resets the in-group
// counters so a later group may reuse units an earlier group discounted,
// while the global counter keeps growing for the whole run.
type Ledger struct {
	quantity int

	// exclusivity of every offer that touched this line
	offers       map[int64]bool
	consumptions map[int64]int

	affected       int
	globalAffected int
	discounted     int

	startingDiscount decimal.Decimal
	breakdown        []breakdownEntry
}

// NewLedger returns an empty ledger for a line holding quantity units.
func NewLedger(quantity int) *Ledger {
	return &Ledger{
		quantity:     quantity,
		offers:       make(map[int64]bool),
		consumptions: make(map[int64]int),
	}
}

// Consume marks quantity units as used in the current group. When offer is
// non-nil the units are also attributed to that offer, up to what it may
// still use once the group counters include them.
func (l *Ledger) Consume(quantity int, offer Offer) {
	if quantity <= 0 {
		return
	}
	l.affected += min(l.quantity-l.affected, quantity)
	l.globalAffected += min(l.quantity-l.globalAffected, quantity)
	if offer != nil {
		l.offers[offer.OfferID()] = offer.IsExclusive()
		l.consumptions[offer.OfferID()] += min(l.Available(offer), quantity)
	}
}

// Consumed returns the units used in the current group, or the units used by
// offer when offer is non-nil.
func (l *Ledger) Consumed(offer Offer) int {
	if offer == nil {
		return l.affected
	}
	return l.consumptions[offer.OfferID()]
}

// Available returns how many units offer may still use. If offer or any
// offer that touched the line is exclusive, every consumed unit counts;
// otherwise only units offer itself consumed do.
func (l *Ledger) Available(offer Offer) int {
	if offer == nil || l.exclusive(offer) {
		return l.quantity - l.affected
	}
	return l.quantity - l.consumptions[offer.OfferID()]
}

func (l *Ledger) exclusive(offer Offer) bool {
	if offer.IsExclusive() {
		return true
	}
	for _, ex := range l.offers {
		if ex {
			return true
		}
	}
	return false
}

// Discount records that quantity units received a discount and consumes them.
func (l *Ledger) Discount(quantity int, offer Offer) {
	l.discounted += quantity
	l.Consume(quantity, offer)
}

// Discounted returns the units discounted in the current group.
func (l *Ledger) Discounted() int {
	return l.discounted
}

// GlobalAffected returns the units consumed across all groups of the run.
func (l *Ledger) GlobalAffected() int {
	return l.globalAffected
}

// StartingDiscount returns the line discount snapshot taken when the current
// group began.
func (l *Ledger) StartingDiscount() decimal.Decimal {
	return l.startingDiscount
}

// Begin opens a new offer group. lineDiscount is the line's cumulative
// discount at this point.
func (l *Ledger) Begin(lineDiscount decimal.Decimal) {
	l.affected = 0
	l.discounted = 0
	l.startingDiscount = lineDiscount
}

// End closes the current group, pushing the group's per-unit discount delta
// onto the price breakdown stack.
func (l *Ledger) End(lineDiscount decimal.Decimal) {
	if l.discounted <= 0 {
		return
	}
	delta := lineDiscount.Sub(l.startingDiscount)
	l.breakdown = append(l.breakdown, breakdownEntry{
		quantity:  l.discounted,
		unitDelta: delta.Div(decimal.NewFromInt(int64(l.discounted))),
	})
	l.discounted = 0
}

// Finalize exposes the run-wide affected quantity, clamped to the line size.
func (l *Ledger) Finalize(lineDiscount decimal.Decimal) {
	l.affected = min(l.quantity, l.globalAffected)
	l.startingDiscount = lineDiscount
}
