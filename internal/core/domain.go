package core

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/text/currency"
)

// BaseCurrency is the pivot every rate table is expressed against.
const BaseCurrency Currency = "USD"

type (
	// Member is an opaque member identifier.
	Member string

	// Currency is an ISO-4217 code such as "EUR".
	Currency string

	SplitKind int

	// SplitMode apportions an expense among its participants. The zero
	// value is an equal split.
	SplitMode struct {
		kind     SplitKind
		percents map[Member]decimal.Decimal
	}

	// Expense is one ledger entry. The engine treats it as an immutable
	// snapshot.
	Expense struct {
		ID           string
		GroupID      string
		Description  string
		Date         time.Time
		Amount       Money
		Currency     Currency
		Payer        Member
		Participants []Member
		Split        SplitMode
		Settled      bool
		SettledAt    time.Time
		SettledBy    Member
		CreatedBy    Member
		CreatedAt    time.Time
	}
)

const (
	SplitEqual SplitKind = iota
	SplitCustom
)

var (
	ErrInvalidAmount       = errors.New("invalid amount")
	ErrInvalidCurrency     = errors.New("invalid currency")
	ErrEmptyPayer          = errors.New("empty payer")
	ErrNoParticipants      = errors.New("expense has no participants")
	ErrDuplicateMember     = errors.New("duplicate participant")
	ErrInvalidSplit        = errors.New("custom split percentages must add up to 100")
	ErrPercentOutOfRange   = errors.New("split percentage out of range")
	ErrSplitNotParticipant = errors.New("split references a non participant")
	ErrEmptyDescription    = errors.New("empty description")
)

// PercentTolerance is how far the sum of custom percentages may drift from 100.
var PercentTolerance = decimal.RequireFromString("0.01")

var (
	zeroPercent    = decimal.Zero
	hundredPercent = decimal.NewFromInt(100)
)

// ParseCurrency normalizes and validates an ISO-4217 code.
func ParseCurrency(s string) (Currency, error) {
	code := strings.ToUpper(strings.TrimSpace(s))
	if len(code) != 3 {
		return "", fmt.Errorf("%w: %q", ErrInvalidCurrency, s)
	}
	unit, err := currency.ParseISO(code)
	if err != nil {
		return "", fmt.Errorf("%w: %q", ErrInvalidCurrency, s)
	}
	return Currency(unit.String()), nil
}

func (c Currency) Validate() error {
	_, err := ParseCurrency(string(c))
	return err
}

// EqualSplit divides an expense evenly among its participants.
func EqualSplit() SplitMode {
	return SplitMode{kind: SplitEqual}
}

// CustomSplit assigns each listed member a percentage of the expense.
// Participants missing from percents get 0%. The map is copied.
func CustomSplit(percents map[Member]decimal.Decimal) SplitMode {
	cp := make(map[Member]decimal.Decimal, len(percents))
	for m, p := range percents {
		cp[m] = p
	}
	return SplitMode{kind: SplitCustom, percents: cp}
}

func (s SplitMode) Kind() SplitKind { return s.kind }

func (s SplitMode) IsCustom() bool { return s.kind == SplitCustom }

// Percent returns the custom percentage of m. ok is false for equal splits
// and for members without an entry.
func (s SplitMode) Percent(m Member) (p decimal.Decimal, ok bool) {
	if s.kind != SplitCustom {
		return decimal.Zero, false
	}
	p, ok = s.percents[m]
	return p, ok
}

// Percents returns a copy of the custom percentages, nil for equal splits.
func (s SplitMode) Percents() map[Member]decimal.Decimal {
	if s.kind != SplitCustom {
		return nil
	}
	return CustomSplit(s.percents).percents
}

// Members returns the members listed in a custom split, sorted.
func (s SplitMode) Members() []Member {
	out := make([]Member, 0, len(s.percents))
	for m := range s.percents {
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func (s SplitMode) String() string {
	if s.kind == SplitCustom {
		return "custom"
	}
	return "equal"
}

// Validate checks the custom split against the participant set.
func (s SplitMode) Validate(participants []Member) error {
	if s.kind != SplitCustom {
		return nil
	}
	in := make(map[Member]struct{}, len(participants))
	for _, p := range participants {
		in[p] = struct{}{}
	}
	total := decimal.Zero
	for _, m := range s.Members() {
		p := s.percents[m]
		if _, ok := in[m]; !ok {
			return fmt.Errorf("%w: %s", ErrSplitNotParticipant, m)
		}
		if p.LessThan(zeroPercent) || p.GreaterThan(hundredPercent) {
			return fmt.Errorf("%w: %s has %s", ErrPercentOutOfRange, m, p.String())
		}
		total = total.Add(p)
	}
	if total.Sub(hundredPercent).Abs().GreaterThan(PercentTolerance) {
		return fmt.Errorf("%w (got %s)", ErrInvalidSplit, total.String())
	}
	return nil
}

// IsParticipant reports whether m shares the expense.
func (e Expense) IsParticipant(m Member) bool {
	for _, p := range e.Participants {
		if p == m {
			return true
		}
	}
	return false
}

// Validate enforces the preconditions the engine relies on.
func (e Expense) Validate() error {
	if err := e.Amount.Validate(); err != nil {
		return err
	}
	if err := e.Currency.Validate(); err != nil {
		return err
	}
	if strings.TrimSpace(string(e.Payer)) == "" {
		return ErrEmptyPayer
	}
	if len(e.Participants) == 0 {
		return ErrNoParticipants
	}
	seen := make(map[Member]struct{}, len(e.Participants))
	for _, p := range e.Participants {
		if strings.TrimSpace(string(p)) == "" {
			return ErrNoParticipants
		}
		if _, dup := seen[p]; dup {
			return fmt.Errorf("%w: %s", ErrDuplicateMember, p)
		}
		seen[p] = struct{}{}
	}
	return e.Split.Validate(e.Participants)
}

// ValidateRecord additionally checks the fields only the application cares
// about (description length).
func (e Expense) ValidateRecord() error {
	if len(strings.TrimSpace(e.Description)) == 0 {
		return ErrEmptyDescription
	}
	if len(e.Description) > 200 {
		return errors.New("description too long (max 200 characters)")
	}
	return e.Validate()
}
