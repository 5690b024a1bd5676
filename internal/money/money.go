// Package money provides a currency-tagged decimal amount.
package money

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

// ErrCurrencyMismatch indicates arithmetic between two different currencies.
var ErrCurrencyMismatch = errors.New("money: currency mismatch")

// Money is an immutable amount and currency pair.
type Money struct {
	amount   decimal.Decimal
	currency Currency
}

// New builds a Money value.
func New(amount decimal.Decimal, c Currency) Money {
	return Money{amount: amount, currency: c}
}

// Zero returns a zero amount in the given currency.
func Zero(c Currency) Money {
	return Money{amount: decimal.Zero, currency: c}
}

// Parse builds a Money value from a decimal string.
func Parse(amount string, c Currency) (Money, error) {
	d, err := decimal.NewFromString(amount)
	if err != nil {
		return Money{}, fmt.Errorf("money: parse amount %q: %w", amount, err)
	}
	return New(d, c), nil
}

// MustParse is Parse for literals; it panics on malformed input.
func MustParse(amount string, c Currency) Money {
	m, err := Parse(amount, c)
	if err != nil {
		panic(err)
	}
	return m
}

// FromInt builds a whole-unit amount.
func FromInt(units int64, c Currency) Money {
	return New(decimal.NewFromInt(units), c)
}

func (m Money) Amount() decimal.Decimal { return m.amount }
func (m Money) Currency() Currency      { return m.currency }
func (m Money) IsZero() bool            { return m.amount.IsZero() }
func (m Money) IsNegative() bool        { return m.amount.IsNegative() }
func (m Money) IsPositive() bool        { return m.amount.IsPositive() }

// IsSameCurrency reports whether both values share a currency.
func (m Money) IsSameCurrency(other Money) bool {
	return m.currency == other.currency
}

// Add returns m + other.
func (m Money) Add(other Money) (Money, error) {
	if !m.IsSameCurrency(other) {
		return Money{}, mismatch(m, other)
	}
	return New(m.amount.Add(other.amount), m.currency), nil
}

// Subtract returns m - other.
func (m Money) Subtract(other Money) (Money, error) {
	if !m.IsSameCurrency(other) {
		return Money{}, mismatch(m, other)
	}
	return New(m.amount.Sub(other.amount), m.currency), nil
}

// Multiply scales the amount; the currency is kept.
func (m Money) Multiply(factor decimal.Decimal) Money {
	return New(m.amount.Mul(factor), m.currency)
}

// Negate flips the sign of the amount.
func (m Money) Negate() Money {
	return New(m.amount.Neg(), m.currency)
}

// Round rounds half-away-from-zero to the currency's minor unit.
func (m Money) Round() Money {
	return New(m.amount.Round(m.currency.Scale()), m.currency)
}

// Cmp compares amounts of the same currency.
func (m Money) Cmp(other Money) (int, error) {
	if !m.IsSameCurrency(other) {
		return 0, mismatch(m, other)
	}
	return m.amount.Cmp(other.amount), nil
}

// Equal reports equal currency and numerically equal amounts.
func (m Money) Equal(other Money) bool {
	return m.IsSameCurrency(other) && m.amount.Equal(other.amount)
}

func (m Money) String() string {
	return m.amount.StringFixed(m.currency.Scale()) + " " + string(m.currency)
}

type moneyJSON struct {
	Amount   decimal.Decimal `json:"amount"`
	Currency Currency        `json:"currency"`
}

// MarshalJSON encodes the amount as a string to keep precision.
func (m Money) MarshalJSON() ([]byte, error) {
	return json.Marshal(moneyJSON{Amount: m.amount, Currency: m.currency})
}

// UnmarshalJSON decodes {"amount":"..","currency":".."} and rejects unsupported currencies.
func (m *Money) UnmarshalJSON(data []byte) error {
	var raw moneyJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	if !raw.Currency.Valid() {
		return fmt.Errorf("%w: %q", ErrUnsupportedCurrency, raw.Currency)
	}
	m.amount = raw.Amount
	m.currency = raw.Currency
	return nil
}

func mismatch(a, b Money) error {
	return fmt.Errorf("%w: %s vs %s", ErrCurrencyMismatch, a.currency, b.currency)
}
