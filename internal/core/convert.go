package core

import (
	"errors"
	"fmt"
	"sort"

	"github.com/shopspring/decimal"
)

// ErrUnknownCurrency is returned when a display currency or a balance
// currency has no rate. Callers fall back to the multi-currency balances.
var ErrUnknownCurrency = errors.New("unknown currency")

var errInvalidRateTable = errors.New("invalid rate table")

// RateTable holds the value of one BaseCurrency unit in each currency, so
// the base itself is always 1.
type RateTable map[Currency]decimal.Decimal

// Reduced is a balance map collapsed into a single display currency.
type Reduced map[Member]Money

// Validate checks that the base currency is present at 1 and that every rate
// is positive and keyed by a valid code.
func (t RateTable) Validate() error {
	base, ok := t[BaseCurrency]
	if !ok {
		return fmt.Errorf("%w: missing base currency %s", errInvalidRateTable, BaseCurrency)
	}
	if !base.Equal(decimal.NewFromInt(1)) {
		return fmt.Errorf("%w: base currency %s has rate %s", errInvalidRateTable, BaseCurrency, base)
	}
	for _, c := range t.Currencies() {
		if err := c.Validate(); err != nil {
			return fmt.Errorf("%w: %v", errInvalidRateTable, err)
		}
		if !t[c].IsPositive() {
			return fmt.Errorf("%w: %s has non-positive rate %s", errInvalidRateTable, c, t[c])
		}
	}
	return nil
}

// Rate returns the rate of c.
func (t RateTable) Rate(c Currency) (decimal.Decimal, bool) {
	r, ok := t[c]
	return r, ok
}

// Currencies returns the codes in t sorted.
func (t RateTable) Currencies() []Currency {
	out := make([]Currency, 0, len(t))
	for c := range t {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Clone returns a copy of t.
func (t RateTable) Clone() RateTable {
	out := make(RateTable, len(t))
	for c, r := range t {
		out[c] = r
	}
	return out
}

// toBase converts an amount in c into base-currency units, unrounded.
func (t RateTable) toBase(amount decimal.Decimal, c Currency) (decimal.Decimal, error) {
	r, ok := t[c]
	if !ok || !r.IsPositive() {
		return decimal.Zero, fmt.Errorf("%w: %s", ErrUnknownCurrency, c)
	}
	return amount.Div(r), nil
}

// ConvertAmount converts a single amount between two currencies through the
// base currency, rounding to cents.
func (t RateTable) ConvertAmount(m Money, from, to Currency) (Money, error) {
	if from == to {
		return m, nil
	}
	target, ok := t[to]
	if !ok {
		return Money{}, fmt.Errorf("%w: %s", ErrUnknownCurrency, to)
	}
	base, err := t.toBase(m.Decimal(), from)
	if err != nil {
		return Money{}, err
	}
	return MoneyFromDecimal(base.Mul(target)), nil
}

// Convert collapses b into display. Each amount is taken to the base
// currency, summed per member, then taken to display and rounded to cents.
//
// ErrUnknownCurrency is returned, and nothing is converted, when display or
// any currency present in b is missing from rates.
func Convert(b Balances, display Currency, rates RateTable) (Reduced, error) {
	target, ok := rates[display]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownCurrency, display)
	}
	out := make(Reduced, len(b))
	for _, m := range b.Members() {
		sum := decimal.Zero
		for c, v := range b[m] {
			base, err := rates.toBase(v.Decimal(), c)
			if err != nil {
				return nil, err
			}
			sum = sum.Add(base)
		}
		out[m] = MoneyFromDecimal(sum.Mul(target))
	}
	return out, nil
}

// Members returns the member keys sorted by id.
func (r Reduced) Members() []Member {
	out := make([]Member, 0, len(r))
	for m := range r {
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Balances expands r back into a single-currency Balances.
func (r Reduced) Balances(c Currency) Balances {
	out := make(Balances, len(r))
	for m, v := range r {
		out[m] = map[Currency]Money{c: v}
	}
	return out
}
