package order

import (
	"context"
	"testing"

	"github.com/go-faster/errors"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xenking/bluelight-offers/internal/domain/basket"
	"github.com/xenking/bluelight-offers/internal/domain/catalog"
	"github.com/xenking/bluelight-offers/internal/domain/offer"
	"github.com/xenking/bluelight-offers/internal/domain/product"
)

// --- Mock implementations ---

type mockProductRepo struct {
	byID   map[string]*product.Product
	getErr error
}

func (m *mockProductRepo) GetByID(_ context.Context, id string) (*product.Product, error) {
	if m.getErr != nil {
		return nil, m.getErr
	}
	p, ok := m.byID[id]
	if !ok {
		return nil, product.ErrNotFound
	}
	return p, nil
}

func (m *mockProductRepo) GetByIDs(_ context.Context, ids []string) ([]product.Product, error) {
	if m.getErr != nil {
		return nil, m.getErr
	}
	var out []product.Product
	for _, id := range ids {
		if p, ok := m.byID[id]; ok {
			out = append(out, *p)
		}
	}
	return out, nil
}

type mockRecorder struct {
	orderID uuid.UUID
	basket  *basket.Basket
	err     error
}

func (m *mockRecorder) RecordOrder(_ context.Context, id uuid.UUID, b *basket.Basket) error {
	m.orderID = id
	m.basket = b
	return m.err
}

// --- Helpers ---

func d(v string) decimal.Decimal {
	return decimal.RequireFromString(v)
}

func newTestProduct(id string, price string) product.Product {
	return product.Product{ID: id, Name: id, Price: d(price), IsDiscountable: true}
}

func newProductRepo(products ...product.Product) *mockProductRepo {
	byID := make(map[string]*product.Product, len(products))
	for i := range products {
		byID[products[i].ID] = &products[i]
	}
	return &mockProductRepo{byID: byID}
}

// testOffers returns a 10% site offer for two or more items and a $5
// voucher offer that applies in its own group.
func testOffers() StaticOffers {
	all := catalog.New(catalog.Definition{ID: 1, Name: "All", IncludesAllProducts: true})
	site := &offer.Offer{
		ID:        1,
		Name:      "Ten percent",
		Condition: offer.NewCountCondition(1, all, 2),
		Benefit:   offer.NewPercentageBenefit(1, all, d("10"), offer.Limits{}),
		Exclusive: true,
		Status:    offer.StatusOpen,
	}
	voucher := &offer.Offer{
		ID:        2,
		Name:      "Five off",
		Condition: offer.NewCountCondition(2, all, 1),
		Benefit:   offer.NewAbsoluteBenefit(2, all, d("5.00"), offer.Limits{}),
		Exclusive: true,
		Status:    offer.StatusOpen,
		Group:     &offer.Group{ID: 1, Slug: "vouchers", Priority: 10},
		Voucher:   &offer.Voucher{Name: "Five off", Code: "SAVE5"},
	}
	return StaticOffers{site, voucher}
}

func newService(t *testing.T, products *mockProductRepo, offers StaticOffers, rec Recorder) *Service {
	t.Helper()
	a, err := offer.NewApplicator()
	require.NoError(t, err)
	return NewService(products, offers, a, rec, "USD")
}

func widgets() *mockProductRepo {
	return newProductRepo(newTestProduct("p1", "10.00"), newTestProduct("p2", "20.00"))
}

func twoWidgetsAndAGadget(vouchers ...string) Request {
	return Request{
		OwnerID: "user-1",
		Items: []Item{
			{ProductID: "p1", Quantity: 2},
			{ProductID: "p2", Quantity: 1},
		},
		Vouchers: vouchers,
	}
}

// --- Tests ---

func TestQuote_Validation(t *testing.T) {
	svc := newService(t, widgets(), testOffers(), nil)
	ctx := context.Background()

	_, err := svc.Quote(ctx, Request{})
	require.ErrorIs(t, err, ErrEmptyItems)

	_, err = svc.Quote(ctx, Request{Items: []Item{{ProductID: "p1", Quantity: 0}}})
	var iqErr *InvalidQuantityError
	require.ErrorAs(t, err, &iqErr)
	assert.Equal(t, "p1", iqErr.ProductID)

	_, err = svc.Quote(ctx, Request{Items: []Item{{ProductID: "missing", Quantity: 1}}})
	var pnfErr *ProductNotFoundError
	require.ErrorAs(t, err, &pnfErr)
	assert.Equal(t, "missing", pnfErr.ProductID)
	assert.ErrorIs(t, err, product.ErrNotFound)
}

func TestQuote_ProductLookupError(t *testing.T) {
	repo := widgets()
	repo.getErr = errors.New("connection refused")
	svc := newService(t, repo, testOffers(), nil)

	_, err := svc.Quote(context.Background(), twoWidgetsAndAGadget())
	require.ErrorContains(t, err, "get products")
}

func TestQuote_SiteOffersOnly(t *testing.T) {
	svc := newService(t, widgets(), testOffers(), nil)

	b, err := svc.Quote(context.Background(), twoWidgetsAndAGadget())
	require.NoError(t, err)

	assert.Equal(t, "user-1", b.OwnerID)
	assert.Equal(t, "USD", b.Currency)
	assert.True(t, d("40.00").Equal(b.TotalExclTaxExclDiscounts()))
	assert.True(t, d("36.00").Equal(b.TotalExclTax()), "got %s", b.TotalExclTax())
	_, voucherApplied := b.Applications().Get(2)
	assert.False(t, voucherApplied)
}

func TestQuote_WithVoucher(t *testing.T) {
	svc := newService(t, widgets(), testOffers(), nil)

	b, err := svc.Quote(context.Background(), twoWidgetsAndAGadget(" save5 "))
	require.NoError(t, err)

	app, ok := b.Applications().Get(2)
	require.True(t, ok)
	assert.True(t, d("5.00").Equal(app.Discount), "got %s", app.Discount)
	assert.Equal(t, "SAVE5", app.Voucher())
	assert.Len(t, b.Applications().VoucherDiscounts(), 1)
	assert.True(t, b.TotalExclTax().LessThan(d("36.00")))
}

func TestQuote_VoucherErrors(t *testing.T) {
	offers := testOffers()
	offers[1].Status = offer.StatusSuspended
	svc := newService(t, widgets(), offers, nil)
	ctx := context.Background()

	_, err := svc.Quote(ctx, twoWidgetsAndAGadget("BOGUS"))
	require.ErrorIs(t, err, ErrInvalidVoucher)

	_, err = svc.Quote(ctx, twoWidgetsAndAGadget("SAVE5"))
	require.ErrorIs(t, err, ErrVoucherExpired)
}

func TestService_UnlockSharedCode(t *testing.T) {
	offers := testOffers()
	all := catalog.New(catalog.Definition{ID: 1, Name: "All", IncludesAllProducts: true})
	shipping := &offer.Offer{
		ID:        3,
		Name:      "Cheap shipping",
		Condition: offer.NewCountCondition(3, all, 1),
		Benefit:   offer.NewShippingAbsoluteBenefit(3, d("5.00"), offer.Limits{}),
		Exclusive: true,
		Status:    offer.StatusOpen,
		Voucher:   &offer.Voucher{Name: "Five off", Code: "save5"},
	}
	offers = append(offers, shipping)
	svc := newService(t, widgets(), offers, nil)

	got, err := svc.unlock(offers, []string{"SAVE5"})
	require.NoError(t, err)
	assert.ElementsMatch(t, []int64{1, 2, 3}, offerIDs(got))

	// One unavailable offer does not hide the others under the code.
	shipping.Status = offer.StatusSuspended
	got, err = svc.unlock(offers, []string{"SAVE5"})
	require.NoError(t, err)
	assert.ElementsMatch(t, []int64{1, 2}, offerIDs(got))

	offers[1].Status = offer.StatusSuspended
	_, err = svc.unlock(offers, []string{"SAVE5"})
	require.ErrorIs(t, err, ErrVoucherExpired)
}

func offerIDs(offers []*offer.Offer) []int64 {
	ids := make([]int64, len(offers))
	for i, o := range offers {
		ids[i] = o.ID
	}
	return ids
}

func TestQuote_UnitPriceOverride(t *testing.T) {
	svc := newService(t, widgets(), StaticOffers{}, nil)

	b, err := svc.Quote(context.Background(), Request{
		Currency: "EUR",
		Items:    []Item{{ProductID: "p1", Quantity: 1, UnitPrice: decimal.NewNullDecimal(d("7.50"))}},
	})
	require.NoError(t, err)
	assert.Equal(t, "EUR", b.Currency)
	assert.True(t, d("7.50").Equal(b.TotalExclTax()))
}

func TestPlaceOrder(t *testing.T) {
	rec := &mockRecorder{}
	svc := newService(t, widgets(), testOffers(), rec)
	basketID := uuid.New()

	req := twoWidgetsAndAGadget()
	req.BasketID = basketID
	o, err := svc.PlaceOrder(context.Background(), req)
	require.NoError(t, err)

	assert.Equal(t, o.ID, rec.orderID)
	assert.Same(t, o.Basket, rec.basket)
	assert.Equal(t, basketID, o.Basket.ID)
}

func TestPlaceOrder_Errors(t *testing.T) {
	svc := newService(t, widgets(), testOffers(), nil)
	_, err := svc.PlaceOrder(context.Background(), twoWidgetsAndAGadget())
	require.ErrorIs(t, err, ErrNoOrderRecorder)

	svc = newService(t, widgets(), testOffers(), &mockRecorder{err: errors.New("db write failed")})
	_, err = svc.PlaceOrder(context.Background(), twoWidgetsAndAGadget())
	require.ErrorContains(t, err, "record order")
}
