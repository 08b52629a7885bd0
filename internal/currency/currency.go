package currency

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/shopspring/decimal"
)

// Code is an ISO 4217 currency code accepted on transactions.
type Code string

const (
	EGP Code = "EGP"
	USD Code = "USD"
	EUR Code = "EUR"
	SAR Code = "SAR"
)

// Base is the currency every wallet balance is held in.
const Base = EGP

// Precision and Scale bound every stored money value. They match the
// NUMERIC(24, 8) columns in the schema.
const (
	Precision = 24
	Scale     = 8
)

var (
	// ErrUnsupportedCurrency is returned for codes outside the known set or
	// without a configured rate.
	ErrUnsupportedCurrency = errors.New("unsupported currency")

	// ErrOutOfRange is returned for money values the store cannot hold
	// exactly.
	ErrOutOfRange = errors.New("amount out of range")
)

// maxMoney is the smallest magnitude that no longer fits Precision digits.
var maxMoney = decimal.New(1, Precision-Scale)

// CheckMoney reports whether d can be stored without rounding or overflow:
// at most Scale fractional digits and fewer than Precision-Scale integer
// digits.
func CheckMoney(d decimal.Decimal) error {
	if !d.Equal(d.Truncate(Scale)) {
		return fmt.Errorf("%w: %s has more than %d decimal places", ErrOutOfRange, d, Scale)
	}
	if d.Abs().GreaterThanOrEqual(maxMoney) {
		return fmt.Errorf("%w: %s exceeds %d integer digits", ErrOutOfRange, d, Precision-Scale)
	}
	return nil
}

var known = []Code{EGP, USD, EUR, SAR}

// Known returns every currency the service accepts.
func Known() []Code {
	out := make([]Code, len(known))
	copy(out, known)
	return out
}

// Parse normalises s and returns the matching known code.
func Parse(s string) (Code, error) {
	c := Code(strings.ToUpper(strings.TrimSpace(s)))
	for _, k := range known {
		if c == k {
			return c, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrUnsupportedCurrency, s)
}

// Rates maps a currency to the number of base units one unit of it is worth.
type Rates map[Code]decimal.Decimal

// DefaultRates returns the rate table used when none is configured.
func DefaultRates() Rates {
	return Rates{
		USD: decimal.NewFromInt(48),
		EUR: decimal.NewFromInt(52),
		SAR: decimal.RequireFromString("12.8"),
	}
}

// ParseRates reads a table in the form "USD=48,EUR=52,SAR=12.8".
func ParseRates(s string) (Rates, error) {
	rates := Rates{}
	for _, pair := range strings.Split(s, ",") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		k, v, ok := strings.Cut(pair, "=")
		if !ok {
			return nil, fmt.Errorf("rate %q: expected CODE=RATE", pair)
		}
		code, err := Parse(k)
		if err != nil {
			return nil, err
		}
		rate, err := decimal.NewFromString(strings.TrimSpace(v))
		if err != nil {
			return nil, fmt.Errorf("rate for %s: %w", code, err)
		}
		rates[code] = rate
	}
	return rates, nil
}

// String renders rates in the form ParseRates accepts, ordered by code.
func (r Rates) String() string {
	codes := make([]string, 0, len(r))
	for c := range r {
		codes = append(codes, string(c))
	}
	sort.Strings(codes)
	parts := make([]string, 0, len(codes))
	for _, c := range codes {
		parts = append(parts, c+"="+r[Code(c)].String())
	}
	return strings.Join(parts, ",")
}
