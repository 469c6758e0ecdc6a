package main

import (
	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/shopspring/decimal"

	"github.com/xenking/bluelight-offers/internal/domain/basket"
)

// basketInput is one JSON line of the input stream:
//
//	{"id":"...","owner":"u1","currency":"USD","vouchers":["FIVEOFF"],
//	 "lines":[{"product":"mug","quantity":2,"price":"9.50"}]}
type basketInput struct {
	ID       string
	Owner    string
	Currency string
	Vouchers []string
	Lines    []lineInput
}

type lineInput struct {
	Product  string
	Quantity int
	// Price overrides the catalog price when set.
	Price decimal.NullDecimal
}

func decodeBasket(data []byte) (basketInput, error) {
	var in basketInput
	d := jx.DecodeBytes(data)
	err := d.Obj(func(d *jx.Decoder, key string) error {
		var err error
		switch key {
		case "id":
			in.ID, err = d.Str()
		case "owner":
			in.Owner, err = d.Str()
		case "currency":
			in.Currency, err = d.Str()
		case "vouchers":
			err = d.Arr(func(d *jx.Decoder) error {
				code, err := d.Str()
				if err != nil {
					return err
				}
				in.Vouchers = append(in.Vouchers, code)
				return nil
			})
		case "lines":
			err = d.Arr(func(d *jx.Decoder) error {
				line, err := decodeLine(d)
				if err != nil {
					return err
				}
				in.Lines = append(in.Lines, line)
				return nil
			})
		default:
			err = d.Skip()
		}
		if err != nil {
			return errors.Wrap(err, key)
		}
		return nil
	})
	if err != nil {
		return in, errors.Wrap(err, "decode basket")
	}
	return in, nil
}

func decodeLine(d *jx.Decoder) (lineInput, error) {
	var line lineInput
	err := d.Obj(func(d *jx.Decoder, key string) error {
		var err error
		switch key {
		case "product":
			line.Product, err = d.Str()
		case "quantity":
			line.Quantity, err = d.Int()
		case "price":
			var s string
			if s, err = d.Str(); err == nil {
				var v decimal.Decimal
				if v, err = decimal.NewFromString(s); err == nil {
					line.Price = decimal.NewNullDecimal(v)
				}
			}
		default:
			err = d.Skip()
		}
		if err != nil {
			return errors.Wrap(err, key)
		}
		return nil
	})
	return line, err
}

func money(e *jx.Encoder, field string, amount decimal.Decimal, currency string) {
	e.FieldStart(field)
	e.Str(amount.StringFixed(basket.Scale(currency)))
}

// encodeBasket writes the priced basket as a single JSON object.
func encodeBasket(e *jx.Encoder, id string, b *basket.Basket) {
	e.ObjStart()
	e.FieldStart("id")
	e.Str(id)
	e.FieldStart("currency")
	e.Str(b.Currency)
	money(e, "total_excl_discounts", b.TotalExclTaxExclDiscounts(), b.Currency)
	money(e, "total", b.TotalExclTax(), b.Currency)

	e.FieldStart("discounts")
	e.ArrStart()
	for _, app := range b.Applications().All() {
		label := app.Offer.Label()
		e.ObjStart()
		e.FieldStart("offer_id")
		e.Int64(app.Offer.OfferID())
		e.FieldStart("name")
		e.Str(label.Name)
		if code := app.Voucher(); code != "" {
			e.FieldStart("voucher")
			e.Str(code)
		}
		e.FieldStart("affects")
		e.Str(app.Affects.String())
		money(e, "amount", app.Discount, b.Currency)
		e.FieldStart("frequency")
		e.Int(app.Frequency)
		if app.Description != "" {
			e.FieldStart("description")
			e.Str(app.Description)
		}
		e.ObjEnd()
	}
	e.ArrEnd()

	e.FieldStart("lines")
	e.ArrStart()
	for _, l := range b.Lines() {
		e.ObjStart()
		e.FieldStart("product")
		e.Str(l.Product.ID)
		e.FieldStart("quantity")
		e.Int(l.Quantity)
		e.FieldStart("discounted")
		e.Int(l.QuantityWithDiscount())
		money(e, "total", l.LinePriceInclDiscounts(), b.Currency)
		e.ObjEnd()
	}
	e.ArrEnd()

	if upsells := b.Upsells(); len(upsells) > 0 {
		e.FieldStart("upsells")
		e.ArrStart()
		for _, u := range upsells {
			e.Str(u.Summary())
		}
		e.ArrEnd()
	}
	e.ObjEnd()
}

// encodeCosmetic writes one cosmetic price.
func encodeCosmetic(e *jx.Encoder, productID string, quantity int, price decimal.Decimal, currency string) {
	e.ObjStart()
	e.FieldStart("product")
	e.Str(productID)
	e.FieldStart("quantity")
	e.Int(quantity)
	money(e, "unit_price", price, currency)
	e.ObjEnd()
}

// encodeFailure writes a basket that could not be priced.
func encodeFailure(e *jx.Encoder, line int, id string, err error) {
	e.ObjStart()
	e.FieldStart("line")
	e.Int(line)
	if id != "" {
		e.FieldStart("id")
		e.Str(id)
	}
	e.FieldStart("error")
	e.Str(err.Error())
	e.ObjEnd()
}
