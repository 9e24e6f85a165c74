package core

import "sort"

// DefaultEpsilon is the magnitude below which a balance counts as settled.
var DefaultEpsilon = Money{Cents: 1}

// Settlement is a directed transfer that reduces From's debt and To's
// credit by Amount.
type Settlement struct {
	From     Member
	To       Member
	Amount   Money
	Currency Currency
}

// Planner produces settlement plans by greedily matching the largest debtor
// against the largest creditor. The plan always settles every balance but is
// not guaranteed to use the fewest transfers.
type Planner struct {
	// Epsilon is the settled threshold. Balances within [-Epsilon, +Epsilon]
	// are left alone and transfers of at most Epsilon are not emitted.
	Epsilon Money
}

// NewPlanner returns a Planner using DefaultEpsilon.
func NewPlanner() Planner {
	return Planner{Epsilon: DefaultEpsilon}
}

type party struct {
	member Member
	amount int64
}

// Plan settles every currency in b independently, in ascending code order.
func (p Planner) Plan(b Balances) []Settlement {
	var out []Settlement
	for _, c := range b.Currencies() {
		amounts := make(map[Member]Money, len(b))
		for m, byCur := range b {
			if v, ok := byCur[c]; ok {
				amounts[m] = v
			}
		}
		out = append(out, p.plan(amounts, c)...)
	}
	return out
}

// PlanReduced settles balances already collapsed into currency c.
func (p Planner) PlanReduced(r Reduced, c Currency) []Settlement {
	return p.plan(r, c)
}

func (p Planner) plan(amounts map[Member]Money, c Currency) []Settlement {
	eps := p.Epsilon.Cents
	if eps < 0 {
		eps = 0
	}

	var debtors, creditors []party
	for m, v := range amounts {
		switch {
		case v.Cents < -eps:
			debtors = append(debtors, party{member: m, amount: -v.Cents})
		case v.Cents > eps:
			creditors = append(creditors, party{member: m, amount: v.Cents})
		}
	}
	sortParties(debtors)
	sortParties(creditors)

	var out []Settlement
	i, j := 0, 0
	for i < len(debtors) && j < len(creditors) {
		d, cr := &debtors[i], &creditors[j]
		transfer := min(d.amount, cr.amount)
		if transfer > eps {
			out = append(out, Settlement{
				From:     d.member,
				To:       cr.member,
				Amount:   Money{Cents: transfer},
				Currency: c,
			})
		}
		d.amount -= transfer
		cr.amount -= transfer
		if d.amount <= 0 || d.amount < eps {
			i++
		}
		if cr.amount <= 0 || cr.amount < eps {
			j++
		}
	}
	return out
}

// sortParties orders by amount descending, then member id ascending.
func sortParties(ps []party) {
	sort.Slice(ps, func(a, b int) bool {
		if ps[a].amount != ps[b].amount {
			return ps[a].amount > ps[b].amount
		}
		return ps[a].member < ps[b].member
	})
}

// Apply returns a copy of b with every settlement executed: From is credited
// and To is debited.
func (b Balances) Apply(settlements []Settlement) Balances {
	out := b.Clone()
	for _, s := range settlements {
		for _, m := range []Member{s.From, s.To} {
			if out[m] == nil {
				out[m] = make(map[Currency]Money)
			}
		}
		out[s.From][s.Currency] = out[s.From][s.Currency].Add(s.Amount)
		out[s.To][s.Currency] = out[s.To][s.Currency].Sub(s.Amount)
	}
	return out
}
