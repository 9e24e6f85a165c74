package core

import "github.com/shopspring/decimal"

// BaseShare returns the part of the expense amount that m consumes, in
// major units and unrounded. Non participants consume nothing.
func BaseShare(e Expense, m Member) decimal.Decimal {
	if !e.IsParticipant(m) {
		return decimal.Zero
	}
	amount := e.Amount.Decimal()
	if p, ok := e.Split.Percent(m); ok {
		return amount.Mul(p).Div(hundredPercent)
	}
	if e.Split.IsCustom() {
		return decimal.Zero
	}
	return amount.Div(decimal.NewFromInt(int64(len(e.Participants))))
}

// Share returns m's signed, unrounded position on a single expense:
// positive when m is owed money, negative when m owes it.
//
// The payer is credited exactly what the other participants are charged,
// so the shares of an expense sum to zero even when a division does not
// terminate. A payer outside the participants is therefore credited the
// whole amount rather than the 0 a plain non participant gets; crediting 0
// would leave the other shares unbalanced. An expense with a single
// participant who also paid yields 0.
func Share(e Expense, m Member) decimal.Decimal {
	if m != e.Payer {
		return BaseShare(e, m).Neg()
	}
	owed := decimal.Zero
	for _, p := range e.Participants {
		if p != e.Payer {
			owed = owed.Add(BaseShare(e, p))
		}
	}
	return owed
}

// Involved lists every member with a non trivial role in e: the payer
// followed by the participants, without duplicates.
func Involved(e Expense) []Member {
	out := make([]Member, 0, len(e.Participants)+1)
	out = append(out, e.Payer)
	for _, p := range e.Participants {
		if p != e.Payer {
			out = append(out, p)
		}
	}
	return out
}
