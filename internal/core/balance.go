package core

import (
	"fmt"
	"sort"

	"github.com/shopspring/decimal"
)

// Balances maps each member to their net position per currency. Positive
// amounts are owed to the member, negative amounts are owed by them.
type Balances map[Member]map[Currency]Money

// Members returns the member keys sorted by id.
func (b Balances) Members() []Member {
	out := make([]Member, 0, len(b))
	for m := range b {
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Currencies returns every currency that appears in b, sorted by code.
func (b Balances) Currencies() []Currency {
	seen := make(map[Currency]struct{})
	for _, byCur := range b {
		for c := range byCur {
			seen[c] = struct{}{}
		}
	}
	out := make([]Currency, 0, len(seen))
	for c := range seen {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Total sums every member's balance in c. After aggregation it is always zero.
func (b Balances) Total(c Currency) Money {
	var t Money
	for _, byCur := range b {
		t = t.Add(byCur[c])
	}
	return t
}

// Clone returns a deep copy of b.
func (b Balances) Clone() Balances {
	out := make(Balances, len(b))
	for m, byCur := range b {
		cp := make(map[Currency]Money, len(byCur))
		for c, v := range byCur {
			cp[c] = v
		}
		out[m] = cp
	}
	return out
}

// Aggregate folds the shares of every in-scope expense of groupID into
// per-member, per-currency balances.
//
// Expenses of other groups are ignored, as are settled ones unless
// includeSettled is set. Every member passed in gets a key even without
// activity. Amounts are rounded to cents once, at the end, and any residual
// left by rounding is moved onto the largest-magnitude entry of that currency
// so each currency sums to exactly zero.
func Aggregate(groupID string, expenses []Expense, members []Member, includeSettled bool) (Balances, error) {
	raw := make(map[Member]map[Currency]decimal.Decimal, len(members))
	for _, m := range members {
		raw[m] = make(map[Currency]decimal.Decimal)
	}

	for _, e := range expenses {
		if e.GroupID != groupID {
			continue
		}
		if e.Settled && !includeSettled {
			continue
		}
		if err := e.Validate(); err != nil {
			return nil, fmt.Errorf("expense %s: %w", e.ID, err)
		}
		for _, m := range Involved(e) {
			byCur, ok := raw[m]
			if !ok {
				byCur = make(map[Currency]decimal.Decimal)
				raw[m] = byCur
			}
			byCur[e.Currency] = byCur[e.Currency].Add(Share(e, m))
		}
	}

	out := make(Balances, len(raw))
	for m, byCur := range raw {
		rounded := make(map[Currency]Money, len(byCur))
		for c, v := range byCur {
			rounded[c] = MoneyFromDecimal(v)
		}
		out[m] = rounded
	}
	for _, c := range out.Currencies() {
		correctResidual(out, c)
	}
	return out, nil
}

// correctResidual pushes the non-zero sum of currency c onto the entry with
// the largest magnitude; ties go to the lowest member id.
func correctResidual(b Balances, c Currency) {
	residual := b.Total(c)
	if residual.IsZero() {
		return
	}
	var (
		target Member
		best   int64 = -1
	)
	for _, m := range b.Members() {
		v, ok := b[m][c]
		if !ok {
			continue
		}
		if a := v.Abs().Cents; a > best {
			best = a
			target = m
		}
	}
	if best < 0 {
		return
	}
	b[target][c] = b[target][c].Sub(residual)
}
