package basket

import (
	"github.com/shopspring/decimal"
	"golang.org/x/text/currency"
)

const defaultScale = 2

// Scale returns the number of minor-unit digits for an ISO 4217 currency
// code. Unknown codes fall back to two digits.
func Scale(code string) int32 {
	unit, err := currency.ParseISO(code)
	if err != nil {
		return defaultScale
	}
	scale, _ := currency.Standard.Rounding(unit)
	return int32(scale)
}

// RoundDown truncates amount to the currency's precision.
func RoundDown(amount decimal.Decimal, code string) decimal.Decimal {
	return amount.RoundDown(Scale(code))
}

// FormatMoney renders amount with the currency's precision, e.g. "USD 3.00".
func FormatMoney(amount decimal.Decimal, code string) string {
	if code == "" {
		return amount.StringFixed(defaultScale)
	}
	return code + " " + amount.StringFixed(Scale(code))
}

func floorAtZero(d decimal.Decimal) decimal.Decimal {
	if d.IsNegative() {
		return decimal.Zero
	}
	return d
}
