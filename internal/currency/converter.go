package currency

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// Converter normalises amounts into the base currency using a fixed rate
// table. It is safe for concurrent use; the table cannot change after
// construction.
type Converter struct {
	rates map[Code]decimal.Decimal
}

// NewConverter validates rates and returns a converter over a private copy
// of them. Every known non-base currency must carry a positive rate.
func NewConverter(rates Rates) (*Converter, error) {
	table := make(map[Code]decimal.Decimal, len(rates))
	for code, rate := range rates {
		if _, err := Parse(string(code)); err != nil {
			return nil, fmt.Errorf("rate table: %w", err)
		}
		if code == Base {
			continue
		}
		table[code] = rate
	}
	for _, code := range known {
		if code == Base {
			continue
		}
		rate, ok := table[code]
		if !ok {
			return nil, fmt.Errorf("rate table: missing rate for %s", code)
		}
		if !rate.IsPositive() {
			return nil, fmt.Errorf("rate table: rate for %s must be positive, got %s", code, rate)
		}
	}
	return &Converter{rates: table}, nil
}

// Convert returns amount expressed in the base currency.
func (c *Converter) Convert(amount decimal.Decimal, code Code) (decimal.Decimal, error) {
	if code == Base {
		return amount, nil
	}
	rate, ok := c.rates[code]
	if !ok {
		return decimal.Decimal{}, fmt.Errorf("%w: %q", ErrUnsupportedCurrency, code)
	}
	return amount.Mul(rate), nil
}

// Rate returns the configured rate for code. The base currency reports 1.
func (c *Converter) Rate(code Code) (decimal.Decimal, bool) {
	if code == Base {
		return decimal.NewFromInt(1), true
	}
	rate, ok := c.rates[code]
	return rate, ok
}
