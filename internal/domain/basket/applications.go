package basket

import "github.com/shopspring/decimal"

// Affects tells what an offer application changes.
type Affects int

const (
	AffectsBasket Affects = iota
	AffectsShipping
	AffectsPostOrder
)

func (a Affects) String() string {
	switch a {
	case AffectsBasket:
		return "basket"
	case AffectsShipping:
		return "shipping"
	case AffectsPostOrder:
		return "post_order"
	default:
		return "unknown"
	}
}

// Application aggregates every successful application of one offer.
type Application struct {
	Offer       Offer
	Affects     Affects
	Discount    decimal.Decimal
	Frequency   int
	Description string
	IsHidden    bool
	// Index is the order in which the offer was first applied.
	Index int
}

// Voucher returns the voucher code the offer was applied through, if any.
func (a Application) Voucher() string {
	return a.Offer.Label().VoucherCode
}

// Applications is an insertion-ordered record of offer applications keyed
// by offer id.
type Applications struct {
	order []int64
	byID  map[int64]*Application
}

// NewApplications returns an empty record.
func NewApplications() *Applications {
	return &Applications{byID: make(map[int64]*Application)}
}

// Add records one application of offer.
func (a *Applications) Add(offer Offer, affects Affects, discount decimal.Decimal, description string, hidden bool) {
	app, ok := a.byID[offer.OfferID()]
	if !ok {
		app = &Application{
			Offer:       offer,
			Affects:     affects,
			Discount:    decimal.Zero,
			Description: description,
			Index:       len(a.order),
		}
		a.byID[offer.OfferID()] = app
		a.order = append(a.order, offer.OfferID())
	}
	app.Discount = app.Discount.Add(discount)
	app.Frequency++
	app.IsHidden = hidden
}

// Len returns the number of distinct offers applied.
func (a *Applications) Len() int {
	return len(a.order)
}

// Get returns the application of offerID.
func (a *Applications) Get(offerID int64) (Application, bool) {
	app, ok := a.byID[offerID]
	if !ok {
		return Application{}, false
	}
	return *app, true
}

// All returns every application in the order offers were first applied.
func (a *Applications) All() []Application {
	out := make([]Application, 0, len(a.order))
	for _, id := range a.order {
		out = append(out, *a.byID[id])
	}
	return out
}

func (a *Applications) filter(keep func(Application) bool) []Application {
	var out []Application
	for _, app := range a.All() {
		if keep(app) {
			out = append(out, app)
		}
	}
	return out
}

// OfferDiscounts returns basket discounts granted without a voucher.
func (a *Applications) OfferDiscounts() []Application {
	return a.filter(func(app Application) bool {
		return app.Affects == AffectsBasket && app.Voucher() == ""
	})
}

// VoucherDiscounts returns basket discounts granted through a voucher.
func (a *Applications) VoucherDiscounts() []Application {
	return a.filter(func(app Application) bool {
		return app.Affects == AffectsBasket && app.Voucher() != ""
	})
}

// ShippingDiscounts returns applications that change the shipping charge.
func (a *Applications) ShippingDiscounts() []Application {
	return a.filter(func(app Application) bool {
		return app.Affects == AffectsShipping
	})
}

// PostOrderActions returns visible post-order applications.
func (a *Applications) PostOrderActions() []Application {
	return a.filter(func(app Application) bool {
		return app.Affects == AffectsPostOrder && !app.IsHidden
	})
}

// TotalDiscount sums basket discounts.
func (a *Applications) TotalDiscount() decimal.Decimal {
	total := decimal.Zero
	for _, app := range a.All() {
		if app.Affects == AffectsBasket {
			total = total.Add(app.Discount)
		}
	}
	return total
}
