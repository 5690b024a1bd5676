package money

import (
	"errors"
	"fmt"
	"strings"

	"golang.org/x/text/currency"
)

// Currency is an ISO 4217 code supported by the ledger.
type Currency string

const (
	BDT Currency = "BDT"
	USD Currency = "USD"
	EUR Currency = "EUR"
)

// ErrUnsupportedCurrency indicates a code outside the supported set.
var ErrUnsupportedCurrency = errors.New("money: unsupported currency")

var supported = map[Currency]currency.Unit{
	BDT: currency.MustParseISO("BDT"),
	USD: currency.USD,
	EUR: currency.EUR,
}

// ParseCurrency normalises and validates a currency code.
func ParseCurrency(code string) (Currency, error) {
	unit, err := currency.ParseISO(strings.ToUpper(strings.TrimSpace(code)))
	if err != nil {
		return "", fmt.Errorf("%w: %q", ErrUnsupportedCurrency, code)
	}
	c := Currency(unit.String())
	if _, ok := supported[c]; !ok {
		return "", fmt.Errorf("%w: %q", ErrUnsupportedCurrency, code)
	}
	return c, nil
}

// Valid reports whether c is in the supported set.
func (c Currency) Valid() bool {
	_, ok := supported[c]
	return ok
}

// Scale returns the number of minor-unit digits for the currency.
func (c Currency) Scale() int32 {
	unit, ok := supported[c]
	if !ok {
		return 2
	}
	scale, _ := currency.Standard.Rounding(unit)
	return int32(scale)
}

func (c Currency) String() string {
	return string(c)
}
