package http

import (
	"time"

	"dividi/internal/auth"
	"dividi/internal/core"
	"dividi/internal/services"
	"dividi/internal/store"
)

// JSON views. Amounts are decimal strings in major units ("12.34").

type userView struct {
	ID       string `json:"id"`
	Username string `json:"username"`
}

type sessionView struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
	User      userView  `json:"user"`
}

func newSessionView(s auth.Session) sessionView {
	return sessionView{
		Token:     s.Token,
		ExpiresAt: s.ExpiresAt,
		User:      userView{ID: s.User.ID, Username: s.User.Username},
	}
}

type memberView struct {
	ID       string    `json:"id"`
	Username string    `json:"username"`
	JoinedAt time.Time `json:"joined_at"`
}

type groupView struct {
	ID         string       `json:"id"`
	Name       string       `json:"name"`
	InviteCode string       `json:"invite_code"`
	CreatedBy  string       `json:"created_by"`
	CreatedAt  time.Time    `json:"created_at"`
	Members    []memberView `json:"members,omitempty"`
}

func newGroupView(g store.Group, members []store.GroupMember) groupView {
	v := groupView{
		ID:         g.ID,
		Name:       g.Name,
		InviteCode: g.InviteCode,
		CreatedBy:  g.CreatedBy,
		CreatedAt:  g.CreatedAt,
	}
	for _, m := range members {
		v.Members = append(v.Members, memberView{ID: m.UserID, Username: m.Username, JoinedAt: m.JoinedAt})
	}
	return v
}

type expenseView struct {
	ID           string            `json:"id"`
	GroupID      string            `json:"group_id"`
	Description  string            `json:"description"`
	Amount       string            `json:"amount"`
	Currency     string            `json:"currency"`
	Date         string            `json:"date"`
	PaidBy       string            `json:"paid_by"`
	Participants []string          `json:"participants"`
	SplitType    string            `json:"split_type"`
	Split        map[string]string `json:"split,omitempty"`
	Settled      bool              `json:"settled"`
	SettledAt    *time.Time        `json:"settled_at,omitempty"`
	SettledBy    string            `json:"settled_by,omitempty"`
	CreatedBy    string            `json:"created_by"`
	CreatedAt    time.Time         `json:"created_at"`
}

func newExpenseView(e core.Expense) expenseView {
	v := expenseView{
		ID:          e.ID,
		GroupID:     e.GroupID,
		Description: e.Description,
		Amount:      e.Amount.String(),
		Currency:    string(e.Currency),
		Date:        e.Date.Format("2006-01-02"),
		PaidBy:      string(e.Payer),
		SplitType:   "equal",
		Settled:     e.Settled,
		SettledBy:   string(e.SettledBy),
		CreatedBy:   string(e.CreatedBy),
		CreatedAt:   e.CreatedAt,
	}
	v.Participants = make([]string, len(e.Participants))
	for i, p := range e.Participants {
		v.Participants[i] = string(p)
	}
	if e.Split.IsCustom() {
		v.SplitType = "custom"
		v.Split = make(map[string]string)
		for m, p := range e.Split.Percents() {
			v.Split[string(m)] = p.String()
		}
	}
	if e.Settled && !e.SettledAt.IsZero() {
		at := e.SettledAt
		v.SettledAt = &at
	}
	return v
}

type settlementView struct {
	From     string `json:"from"`
	To       string `json:"to"`
	Amount   string `json:"amount"`
	Currency string `json:"currency"`
}

func newSettlementViews(ss []core.Settlement) []settlementView {
	out := make([]settlementView, 0, len(ss))
	for _, s := range ss {
		out = append(out, settlementView{
			From:     string(s.From),
			To:       string(s.To),
			Amount:   s.Amount.String(),
			Currency: string(s.Currency),
		})
	}
	return out
}

// balancesView carries either the converted balances or, when no display
// currency applies, the per-currency balances.
type balancesView struct {
	GroupID           string                       `json:"group_id"`
	DisplayCurrency   string                       `json:"display_currency,omitempty"`
	ConversionSkipped bool                         `json:"conversion_skipped"`
	Balances          map[string]map[string]string `json:"balances"`
	Converted         map[string]string            `json:"converted,omitempty"`
}

func newBalancesView(groupID string, r core.Report) balancesView {
	v := balancesView{
		GroupID:           groupID,
		ConversionSkipped: r.ConversionSkipped,
		Balances:          make(map[string]map[string]string, len(r.Balances)),
	}
	for m, byCur := range r.Balances {
		row := make(map[string]string, len(byCur))
		for c, amt := range byCur {
			row[string(c)] = amt.String()
		}
		v.Balances[string(m)] = row
	}
	if r.Converted() {
		v.DisplayCurrency = string(r.DisplayCurrency)
		v.Converted = make(map[string]string, len(r.Reduced))
		for m, amt := range r.Reduced {
			v.Converted[string(m)] = amt.String()
		}
	}
	return v
}

type settlementsView struct {
	GroupID           string           `json:"group_id"`
	DisplayCurrency   string           `json:"display_currency,omitempty"`
	ConversionSkipped bool             `json:"conversion_skipped"`
	Settlements       []settlementView `json:"settlements"`
}

// Chart colors for creditors, debtors and settled members.
const (
	colorPositive = "rgba(40, 167, 69, 0.7)"
	colorNegative = "rgba(220, 53, 69, 0.7)"
	colorZero     = "rgba(108, 117, 125, 0.7)"
)

type chartDataset struct {
	Data            []float64 `json:"data"`
	BackgroundColor []string  `json:"backgroundColor"`
	BorderWidth     int       `json:"borderWidth"`
}

type chartView struct {
	Labels   []string           `json:"labels"`
	Datasets []chartDataset     `json:"datasets"`
	Balances map[string]float64 `json:"balances"`
	Currency string             `json:"currency"`
}

// newChartView sizes slices by magnitude and colors them by sign.
func newChartView(slices []services.ChartSlice, names map[core.Member]string, cur core.Currency) chartView {
	v := chartView{
		Labels:   make([]string, 0, len(slices)),
		Datasets: []chartDataset{{Data: make([]float64, 0, len(slices)), BackgroundColor: make([]string, 0, len(slices)), BorderWidth: 1}},
		Balances: make(map[string]float64, len(slices)),
		Currency: string(cur),
	}
	ds := &v.Datasets[0]
	for _, s := range slices {
		name := names[s.Member]
		if name == "" {
			name = "Unknown"
		}
		v.Labels = append(v.Labels, name)
		ds.Data = append(ds.Data, s.Balance.Abs().Float())
		switch {
		case s.Balance.Cents > 0:
			ds.BackgroundColor = append(ds.BackgroundColor, colorPositive)
		case s.Balance.Cents < 0:
			ds.BackgroundColor = append(ds.BackgroundColor, colorNegative)
		default:
			ds.BackgroundColor = append(ds.BackgroundColor, colorZero)
		}
		v.Balances[name] = s.Balance.Float()
	}
	return v
}

type notificationView struct {
	ID        string    `json:"id"`
	Message   string    `json:"message"`
	Read      bool      `json:"read"`
	CreatedAt time.Time `json:"created_at"`
}
