package core

import (
	"errors"
	"testing"

	"github.com/shopspring/decimal"
)

func pct(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func TestParseCurrency(t *testing.T) {
	cases := []struct {
		in   string
		want Currency
		ok   bool
	}{
		{"USD", "USD", true},
		{" eur ", "EUR", true},
		{"jpy", "JPY", true},
		{"XYZ", "", false},
		{"EURO", "", false},
		{"", "", false},
	}
	for _, tc := range cases {
		got, err := ParseCurrency(tc.in)
		if tc.ok {
			if err != nil || got != tc.want {
				t.Fatalf("%q expected %s, got %s (err=%v)", tc.in, tc.want, got, err)
			}
			continue
		}
		if !errors.Is(err, ErrInvalidCurrency) {
			t.Fatalf("%q expected ErrInvalidCurrency, got %v", tc.in, err)
		}
	}
}

func TestMoneyValidate(t *testing.T) {
	if err := (Money{Cents: 1}).Validate(); err != nil {
		t.Fatalf("expected ok, got %v", err)
	}
	if err := (Money{Cents: 0}).Validate(); err == nil {
		t.Fatalf("expected error for zero")
	}
}

func TestExpenseValidate(t *testing.T) {
	good := Expense{
		GroupID:      "g",
		Description:  "dinner",
		Amount:       Money{Cents: 9000},
		Currency:     "USD",
		Payer:        "A",
		Participants: []Member{"A", "B", "C"},
	}
	if err := good.ValidateRecord(); err != nil {
		t.Fatalf("expected ok, got %v", err)
	}

	mutate := func(f func(*Expense)) Expense {
		e := good
		e.Participants = append([]Member(nil), good.Participants...)
		f(&e)
		return e
	}
	bads := []struct {
		name string
		e    Expense
		want error
	}{
		{"zero amount", mutate(func(e *Expense) { e.Amount = Money{} }), ErrInvalidAmount},
		{"bad currency", mutate(func(e *Expense) { e.Currency = "ZZZ" }), ErrInvalidCurrency},
		{"no payer", mutate(func(e *Expense) { e.Payer = " " }), ErrEmptyPayer},
		{"no participants", mutate(func(e *Expense) { e.Participants = nil }), ErrNoParticipants},
		{"duplicate", mutate(func(e *Expense) { e.Participants = []Member{"A", "A"} }), ErrDuplicateMember},
		{"empty description", mutate(func(e *Expense) { e.Description = "" }), ErrEmptyDescription},
		{"custom not 100", mutate(func(e *Expense) {
			e.Split = CustomSplit(map[Member]decimal.Decimal{"A": pct("50"), "B": pct("40")})
		}), ErrInvalidSplit},
		{"custom outsider", mutate(func(e *Expense) {
			e.Split = CustomSplit(map[Member]decimal.Decimal{"A": pct("50"), "Z": pct("50")})
		}), ErrSplitNotParticipant},
		{"custom negative", mutate(func(e *Expense) {
			e.Split = CustomSplit(map[Member]decimal.Decimal{"A": pct("110"), "B": pct("-10")})
		}), ErrPercentOutOfRange},
	}
	for _, tc := range bads {
		if err := tc.e.ValidateRecord(); !errors.Is(err, tc.want) {
			t.Fatalf("%s: expected %v, got %v", tc.name, tc.want, err)
		}
	}
}

func TestSplitModeToleranceBoundary(t *testing.T) {
	participants := []Member{"A", "B", "C"}
	cases := []struct {
		percents map[Member]decimal.Decimal
		ok       bool
	}{
		{map[Member]decimal.Decimal{"A": pct("33.33"), "B": pct("33.33"), "C": pct("33.33")}, true},
		{map[Member]decimal.Decimal{"A": pct("33.34"), "B": pct("33.33"), "C": pct("33.34")}, true},
		{map[Member]decimal.Decimal{"A": pct("33.33"), "B": pct("33.33"), "C": pct("33.32")}, false},
		{map[Member]decimal.Decimal{"A": pct("100")}, true},
	}
	for i, tc := range cases {
		err := CustomSplit(tc.percents).Validate(participants)
		if tc.ok && err != nil {
			t.Fatalf("case %d expected ok, got %v", i, err)
		}
		if !tc.ok && err == nil {
			t.Fatalf("case %d expected error", i)
		}
	}
}

func TestCustomSplitCopiesInput(t *testing.T) {
	in := map[Member]decimal.Decimal{"A": pct("100")}
	s := CustomSplit(in)
	in["A"] = pct("1")
	if p, _ := s.Percent("A"); !p.Equal(pct("100")) {
		t.Fatalf("split mutated through caller map: %s", p)
	}
	if EqualSplit().IsCustom() || EqualSplit().String() != "equal" {
		t.Fatalf("equal split misreported")
	}
}
