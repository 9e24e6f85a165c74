// Package export renders a group's ledger as a flat table with three
// sections: expenses, balances and the settlement plan. The same rows feed
// the CSV download and the spreadsheet export.
package export

import (
	"encoding/csv"
	"fmt"
	"io"
	"regexp"
	"strings"

	"dividi/internal/core"
)

const unknownMember = "Unknown"

// Document is everything an export needs. Expenses include settled ones;
// Report reflects whatever options the caller computed it with.
type Document struct {
	GroupName string
	Names     map[core.Member]string
	Expenses  []core.Expense
	Report    core.Report
}

func (d Document) name(m core.Member) string {
	if n, ok := d.Names[m]; ok && n != "" {
		return n
	}
	return unknownMember
}

var (
	expenseHeader    = []string{"Date", "Description", "Amount", "Currency", "Paid By", "Participants", "Split Type", "Settled"}
	balanceHeader    = []string{"User", "Currency", "Net Balance"}
	settlementHeader = []string{"From", "To", "Amount", "Currency"}
)

// Rows lays the document out row by row. Sections are separated by an empty
// row followed by a title row.
func Rows(d Document) [][]string {
	rows := [][]string{expenseHeader}

	for _, e := range d.Expenses {
		names := make([]string, len(e.Participants))
		for i, p := range e.Participants {
			names[i] = d.name(p)
		}
		split := "Equal"
		if e.Split.IsCustom() {
			split = "Custom"
		}
		settled := "No"
		if e.Settled {
			settled = "Yes"
		}
		rows = append(rows, []string{
			e.Date.Format("2006-01-02"),
			e.Description,
			e.Amount.String(),
			string(e.Currency),
			d.name(e.Payer),
			strings.Join(names, ", "),
			split,
			settled,
		})
	}

	rows = append(rows, []string{}, []string{"Balances"}, balanceHeader)
	rows = append(rows, balanceRows(d)...)

	rows = append(rows, []string{}, []string{"Settlement Plan"}, settlementHeader)
	for _, s := range d.Report.Settlements {
		rows = append(rows, []string{d.name(s.From), d.name(s.To), s.Amount.String(), string(s.Currency)})
	}
	return rows
}

func balanceRows(d Document) [][]string {
	var rows [][]string
	if d.Report.Converted() {
		for _, m := range d.Report.Reduced.Members() {
			rows = append(rows, []string{d.name(m), string(d.Report.DisplayCurrency), d.Report.Reduced[m].String()})
		}
		return rows
	}
	for _, m := range d.Report.Balances.Members() {
		per := d.Report.Balances[m]
		if len(per) == 0 {
			rows = append(rows, []string{d.name(m), "", core.Money{}.String()})
			continue
		}
		for _, c := range d.Report.Balances.Currencies() {
			if amt, ok := per[c]; ok {
				rows = append(rows, []string{d.name(m), string(c), amt.String()})
			}
		}
	}
	return rows
}

// WriteCSV writes Rows(d) as CSV.
func WriteCSV(w io.Writer, d Document) error {
	cw := csv.NewWriter(w)
	if err := cw.WriteAll(Rows(d)); err != nil {
		return fmt.Errorf("write csv: %w", err)
	}
	return nil
}

var unsafeFilename = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

// Filename returns the download name for a group, e.g. "Ski_Trip_expenses.csv".
func Filename(groupName string) string {
	base := strings.Trim(unsafeFilename.ReplaceAllString(groupName, "_"), "_")
	if base == "" {
		base = "group"
	}
	return base + "_expenses.csv"
}
