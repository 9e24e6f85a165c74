package core

import (
	"errors"
	"fmt"
)

// Snapshot is a consistent, fully materialized view of one group.
type Snapshot struct {
	GroupID  string
	Members  []Member
	Expenses []Expense
}

// Options tune a single computation.
type Options struct {
	IncludeSettled bool
	// DisplayCurrency, when set, collapses balances into one currency using
	// Rates before planning.
	DisplayCurrency Currency
	Rates           RateTable
}

// Report is the result of one engine run.
type Report struct {
	GroupID  string
	Balances Balances
	// Reduced is set only when the balances were converted into
	// DisplayCurrency.
	Reduced         Reduced
	DisplayCurrency Currency
	// ConversionSkipped reports that a display currency was requested but
	// could not be resolved, so balances and settlements stay per currency.
	ConversionSkipped bool
	Settlements       []Settlement
}

// Converted reports whether the report is expressed in a single currency.
func (r Report) Converted() bool { return r.Reduced != nil }

// Engine runs split, aggregation, optional conversion and planning over a
// snapshot. It holds no state between calls and is safe for concurrent use.
type Engine struct {
	Planner Planner
}

// NewEngine returns an Engine with the default settled threshold.
func NewEngine() *Engine {
	return &Engine{Planner: NewPlanner()}
}

// Compute runs the pipeline over s.
func (e *Engine) Compute(s Snapshot, opts Options) (Report, error) {
	balances, err := Aggregate(s.GroupID, s.Expenses, s.Members, opts.IncludeSettled)
	if err != nil {
		return Report{}, fmt.Errorf("aggregate group %s: %w", s.GroupID, err)
	}

	report := Report{GroupID: s.GroupID, Balances: balances}
	if opts.DisplayCurrency == "" {
		report.Settlements = e.Planner.Plan(balances)
		return report, nil
	}

	reduced, err := Convert(balances, opts.DisplayCurrency, opts.Rates)
	switch {
	case errors.Is(err, ErrUnknownCurrency):
		report.ConversionSkipped = true
		report.Settlements = e.Planner.Plan(balances)
		return report, nil
	case err != nil:
		return Report{}, err
	}
	report.Reduced = reduced
	report.DisplayCurrency = opts.DisplayCurrency
	report.Settlements = e.Planner.PlanReduced(reduced, opts.DisplayCurrency)
	return report, nil
}
