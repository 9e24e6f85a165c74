// This file decodes request bodies and query parameters.

package http

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"dividi/internal/core"
	"dividi/internal/services"
)

const maxBodyBytes = 1 << 20

// decodeJSON reads a single JSON object into dst, rejecting unknown fields
// and trailing data.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		var maxErr *http.MaxBytesError
		switch {
		case errors.As(err, &maxErr):
			return fmt.Errorf("request body too large")
		case errors.Is(err, io.EOF):
			return fmt.Errorf("request body is empty")
		default:
			return fmt.Errorf("malformed JSON: %v", err)
		}
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		return fmt.Errorf("request body must contain a single JSON object")
	}
	return nil
}

// sanitizeInput removes control characters except tab and newlines and
// trims whitespace.
func sanitizeInput(s string) string {
	s = strings.TrimSpace(s)
	return strings.Map(func(r rune) rune {
		if r < 32 && r != 9 && r != 10 && r != 13 {
			return -1
		}
		return r
	}, s)
}

// ledgerQuery reads ?currency= and ?include_settled= into a services.Query.
func ledgerQuery(r *http.Request) (services.Query, error) {
	q := services.Query{}
	values := r.URL.Query()
	if v := strings.TrimSpace(values.Get("currency")); v != "" {
		c, err := core.ParseCurrency(v)
		if err != nil {
			return q, fmt.Errorf("%w: unknown currency %q", services.ErrInvalidInput, v)
		}
		q.DisplayCurrency = c
	}
	if v := strings.TrimSpace(values.Get("include_settled")); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return q, fmt.Errorf("%w: include_settled must be a boolean", services.ErrInvalidInput)
		}
		q.IncludeSettled = b
	}
	return q, nil
}

// expenseRequest is the body of POST /api/groups/{id}/expenses. Amount and
// split percentages are decimal strings in major units.
type expenseRequest struct {
	Description  string            `json:"description"`
	Amount       string            `json:"amount"`
	Currency     string            `json:"currency"`
	Date         string            `json:"date"`
	PaidBy       string            `json:"paid_by"`
	Participants []string          `json:"participants"`
	Split        map[string]string `json:"split"`
}

// toNewExpense validates the request shape; membership rules are enforced by
// the expense service.
func (req expenseRequest) toNewExpense(groupID string) (services.NewExpense, error) {
	invalid := func(format string, args ...any) error {
		return fmt.Errorf("%w: %s", services.ErrInvalidInput, fmt.Sprintf(format, args...))
	}

	out := services.NewExpense{
		GroupID:     groupID,
		Description: sanitizeInput(req.Description),
		Payer:       core.Member(strings.TrimSpace(req.PaidBy)),
	}

	cents, err := core.ParseDecimalToCents(req.Amount)
	if err != nil {
		return out, invalid("amount must be a positive number")
	}
	out.Amount = core.Money{Cents: cents}

	cur := req.Currency
	if strings.TrimSpace(cur) == "" {
		cur = string(core.BaseCurrency)
	}
	if out.Currency, err = core.ParseCurrency(cur); err != nil {
		return out, invalid("unknown currency %q", req.Currency)
	}

	if d := strings.TrimSpace(req.Date); d != "" {
		t, err := time.Parse("2006-01-02", d)
		if err != nil {
			return out, invalid("date must be YYYY-MM-DD")
		}
		out.Date = t.UTC()
	}

	for _, p := range req.Participants {
		if p = strings.TrimSpace(p); p != "" {
			out.Participants = append(out.Participants, core.Member(p))
		}
	}

	if len(req.Split) > 0 {
		percents := make(map[core.Member]decimal.Decimal, len(req.Split))
		for m, v := range req.Split {
			p, err := decimal.NewFromString(strings.TrimSpace(v))
			if err != nil {
				return out, invalid("split percentage for %s is not a number", m)
			}
			percents[core.Member(m)] = p
		}
		out.Split = core.CustomSplit(percents)
	} else {
		out.Split = core.EqualSplit()
	}
	return out, nil
}
