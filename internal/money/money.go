// Package money implements currency-aware, arbitrary-precision decimal
// arithmetic for settlement amounts. Values are represented as a
// big.Rat together with a Currency carrying its canonical rounding
// precision, so that repeated rounding to a currency's decimal places
// is idempotent.
package money

import (
	"errors"
	"fmt"
	"math/big"
	"strings"
)

// Currency is an ISO-4217-style uppercase currency code.
type Currency string

// NewCurrency uppercases the given code.
func NewCurrency(code string) Currency {
	return Currency(strings.ToUpper(code))
}

// zeroDecimalCurrencies and threeDecimalCurrencies list the well-known
// exceptions to the default two-decimal-place convention.
var (
	zeroDecimalCurrencies  = map[Currency]bool{"JPY": true, "KRW": true, "VND": true}
	threeDecimalCurrencies = map[Currency]bool{"BHD": true, "KWD": true, "OMR": true}
)

// DecimalPlaces returns the canonical rounding precision for the currency.
func (c Currency) DecimalPlaces() int {
	switch {
	case zeroDecimalCurrencies[c]:
		return 0
	case threeDecimalCurrencies[c]:
		return 3
	default:
		return 2
	}
}

func (c Currency) String() string { return string(c) }

// Money is a (value, currency) pair. The value is held as an exact
// rational number so that a chain of conversions never accumulates
// floating-point drift before the final, explicit Round call.
type Money struct {
	value    *big.Rat
	currency Currency
}

// New builds a Money from a decimal string value, e.g. "1000.00".
func New(value string, currency Currency) (Money, error) {
	r, ok := new(big.Rat).SetString(value)
	if !ok {
		return Money{}, fmt.Errorf("money: invalid decimal value %q", value)
	}
	return Money{value: r, currency: currency}, nil
}

// NewFromRat builds a Money directly from a rational value.
func NewFromRat(value *big.Rat, currency Currency) Money {
	return Money{value: new(big.Rat).Set(value), currency: currency}
}

// Zero returns the zero amount in the given currency.
func Zero(currency Currency) Money {
	return Money{value: new(big.Rat), currency: currency}
}

// Currency returns the money's currency.
func (m Money) Currency() Currency { return m.currency }

// Rat returns the underlying exact rational value. Callers must not
// mutate the returned value.
func (m Money) Rat() *big.Rat {
	if m.value == nil {
		return new(big.Rat)
	}
	return m.value
}

// IsPositive reports whether the value is strictly greater than zero.
func (m Money) IsPositive() bool { return m.Rat().Sign() > 0 }

// IsZero reports whether the value is exactly zero.
func (m Money) IsZero() bool { return m.Rat().Sign() == 0 }

// IsNegative reports whether the value is strictly less than zero.
func (m Money) IsNegative() bool { return m.Rat().Sign() < 0 }

// Abs returns the absolute value, preserving currency.
func (m Money) Abs() Money {
	r := new(big.Rat).Abs(m.Rat())
	return Money{value: r, currency: m.currency}
}

// ErrCurrencyMismatch is returned by Add/Sub when operand currencies differ.
var ErrCurrencyMismatch = errors.New("money: currency mismatch")

// CurrencyMismatchError carries the two currencies that failed to match.
type CurrencyMismatchError struct {
	Expected Currency
	Actual   Currency
}

func (e *CurrencyMismatchError) Error() string {
	return fmt.Sprintf("money: currency mismatch: expected %s, got %s", e.Expected, e.Actual)
}

func (e *CurrencyMismatchError) Unwrap() error { return ErrCurrencyMismatch }

// Add returns m+other; both must share a currency.
func (m Money) Add(other Money) (Money, error) {
	if m.currency != other.currency {
		return Money{}, &CurrencyMismatchError{Expected: m.currency, Actual: other.currency}
	}
	r := new(big.Rat).Add(m.Rat(), other.Rat())
	return Money{value: r, currency: m.currency}, nil
}

// Sub returns m-other; both must share a currency.
func (m Money) Sub(other Money) (Money, error) {
	if m.currency != other.currency {
		return Money{}, &CurrencyMismatchError{Expected: m.currency, Actual: other.currency}
	}
	r := new(big.Rat).Sub(m.Rat(), other.Rat())
	return Money{value: r, currency: m.currency}, nil
}

// MulRat scales the value by a rational factor (e.g. an FX rate); no
// currency check applies since the result is typically re-tagged with a
// different target currency by the caller.
func (m Money) MulRat(factor *big.Rat) Money {
	r := new(big.Rat).Mul(m.Rat(), factor)
	return Money{value: r, currency: m.currency}
}

// WithCurrency returns a copy of m tagged with a different currency,
// without scaling the value. Used after MulRat to re-tag a converted
// amount with its target currency.
func (m Money) WithCurrency(currency Currency) Money {
	return Money{value: m.Rat(), currency: currency}
}

// Round rounds the value to the currency's canonical decimal places
// using round-half-up, returning a new Money. Rounding is idempotent:
// Round(Round(m)) == Round(m).
func (m Money) Round() Money {
	places := m.currency.DecimalPlaces()
	scale := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(places)), nil)
	scaleRat := new(big.Rat).SetInt(scale)

	scaled := new(big.Rat).Mul(m.Rat(), scaleRat)

	num := new(big.Int).Set(scaled.Num())
	den := new(big.Int).Set(scaled.Denom())

	// round-half-up on the scaled rational: floor(scaled + 1/2) for
	// non-negative, ceil(scaled - 1/2) for negative, implemented via a
	// single offset of sign(num)*den/2 before integer division.
	half := new(big.Int).Div(den, big.NewInt(2))
	if num.Sign() >= 0 {
		num.Add(num, half)
	} else {
		num.Sub(num, half)
	}
	rounded := new(big.Int).Quo(num, den)

	result := new(big.Rat).SetFrac(rounded, scale)
	return Money{value: result, currency: m.currency}
}

// String renders the value at the currency's canonical precision.
func (m Money) String() string {
	places := m.currency.DecimalPlaces()
	return fmt.Sprintf("%s %s", m.Rat().FloatString(places), m.currency)
}

// DecimalString renders just the numeric value at the currency's
// canonical precision, without the currency code.
func (m Money) DecimalString() string {
	return m.Rat().FloatString(m.currency.DecimalPlaces())
}
