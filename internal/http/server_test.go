package http

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dividi/internal/auth"
	"dividi/internal/log"
	"dividi/internal/metrics"
	"dividi/internal/services"
	"dividi/internal/store"
	"dividi/internal/store/memory"
)

const testSecret = "test-secret-test-secret-test-secret"

type testAPI struct {
	t       *testing.T
	srv     *Server
	store   *memory.Store
	metrics *metrics.Metrics
}

func newTestAPI(t *testing.T, opts Options) *testAPI {
	t.Helper()
	s := memory.New()
	logger := log.Discard()
	m := metrics.New()
	issuer := auth.NewIssuer(testSecret, time.Hour)
	ledger := services.NewLedgerService(s, nil, services.LedgerConfig{CacheSize: 50, CacheTTL: time.Minute, Observer: m.ObserveLedger}, logger)

	if opts.CORSOrigins == nil {
		opts.CORSOrigins = []string{"*"}
	}
	if opts.RatePerMinute == 0 {
		opts.RatePerMinute = 1000
	}
	srv := NewServer(":0", Deps{
		Store:    s,
		Auth:     auth.NewService(s, issuer, logger),
		Issuer:   issuer,
		Groups:   services.NewGroupService(s, ledger, logger),
		Expenses: services.NewExpenseService(s, nil, ledger, logger),
		Ledger:   ledger,
		Metrics:  m,
		Logger:   logger,
	}, opts)
	t.Cleanup(func() { _ = srv.Shutdown(context.Background()) })
	return &testAPI{t: t, srv: srv, store: s, metrics: m}
}

func (a *testAPI) do(method, path, token string, body any) *httptest.ResponseRecorder {
	a.t.Helper()
	var buf bytes.Buffer
	if body != nil {
		switch b := body.(type) {
		case string:
			buf.WriteString(b)
		default:
			require.NoError(a.t, json.NewEncoder(&buf).Encode(b))
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.RemoteAddr = "203.0.113.7:4242"
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	a.srv.Handler.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

// register returns the token and user id of a new account.
func (a *testAPI) register(username string) (string, string) {
	a.t.Helper()
	rec := a.do(http.MethodPost, "/api/auth/register", "", map[string]string{"username": username, "password": "password-" + username})
	require.Equal(a.t, http.StatusCreated, rec.Code, rec.Body.String())
	s := decode[sessionView](a.t, rec)
	return s.Token, s.User.ID
}

// trip creates alice, bob and carol in a group called Trip.
func (a *testAPI) trip() (tokens map[string]string, ids map[string]string, groupID string) {
	a.t.Helper()
	tokens, ids = map[string]string{}, map[string]string{}
	for _, u := range []string{"alice", "bob", "carol"} {
		tokens[u], ids[u] = a.register(u)
	}
	rec := a.do(http.MethodPost, "/api/groups", tokens["alice"], map[string]string{"name": "Trip"})
	require.Equal(a.t, http.StatusCreated, rec.Code, rec.Body.String())
	g := decode[groupView](a.t, rec)
	for _, u := range []string{"bob", "carol"} {
		rec := a.do(http.MethodPost, "/api/groups/join", tokens[u], map[string]string{"invite_code": strings.ToLower(g.InviteCode)})
		require.Equal(a.t, http.StatusCreated, rec.Code, rec.Body.String())
	}
	return tokens, ids, g.ID
}

func TestHealthAndReady(t *testing.T) {
	api := newTestAPI(t, Options{})
	for _, path := range []string{"/healthz", "/readyz"} {
		rec := api.do(http.MethodGet, path, "", nil)
		assert.Equal(t, http.StatusOK, rec.Code, path)
		assert.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))
		assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))
	}
}

func TestAuthEndpoints(t *testing.T) {
	api := newTestAPI(t, Options{})
	token, id := api.register("alice")

	rec := api.do(http.MethodPost, "/api/auth/register", "", map[string]string{"username": "Alice", "password": "something-long"})
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = api.do(http.MethodPost, "/api/auth/register", "", map[string]string{"username": "bob", "password": "short"})
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	rec = api.do(http.MethodPost, "/api/auth/register", "", `{"username":"bob","password":"long-enough","admin":true}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code, "unknown fields are rejected")

	rec = api.do(http.MethodPost, "/api/auth/login", "", map[string]string{"username": "alice", "password": "wrong-password"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = api.do(http.MethodPost, "/api/auth/login", "", map[string]string{"username": "alice", "password": "password-alice"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, id, decode[sessionView](t, rec).User.ID)

	rec = api.do(http.MethodGet, "/api/me", token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "alice", decode[userView](t, rec).Username)

	rec = api.do(http.MethodGet, "/api/groups", "", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("WWW-Authenticate"))

	rec = api.do(http.MethodGet, "/api/groups", "not-a-token", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestGroupMembership(t *testing.T) {
	api := newTestAPI(t, Options{})
	tokens, _, groupID := api.trip()
	dave, _ := api.register("dave")

	rec := api.do(http.MethodGet, "/api/groups/"+groupID, tokens["bob"], nil)
	require.Equal(t, http.StatusOK, rec.Code)
	g := decode[groupView](t, rec)
	assert.Equal(t, "Trip", g.Name)
	require.Len(t, g.Members, 3)
	assert.Equal(t, "alice", g.Members[0].Username)

	rec = api.do(http.MethodGet, "/api/groups", tokens["carol"], nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[[]groupView](t, rec), 1)

	rec = api.do(http.MethodPost, "/api/groups/join", tokens["bob"], map[string]string{"invite_code": g.InviteCode})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"joined":false`)

	rec = api.do(http.MethodPost, "/api/groups/join", dave, map[string]string{"invite_code": "NOPE0000"})
	assert.Equal(t, http.StatusNotFound, rec.Code)

	for _, path := range []string{"", "/expenses", "/balances", "/settlements", "/balance-data", "/export.csv"} {
		rec = api.do(http.MethodGet, "/api/groups/"+groupID+path, dave, nil)
		assert.Equal(t, http.StatusForbidden, rec.Code, path)
	}
	rec = api.do(http.MethodGet, "/api/groups/missing/balances", dave, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = api.do(http.MethodPost, "/api/groups", dave, map[string]string{"name": "  "})
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
}

func TestExpenseLifecycle(t *testing.T) {
	api := newTestAPI(t, Options{})
	tokens, ids, groupID := api.trip()
	base := "/api/groups/" + groupID

	invalid := []any{
		map[string]any{"description": "Dinner", "amount": "abc"},
		map[string]any{"description": "Dinner", "amount": "90", "currency": "NOPE"},
		map[string]any{"description": "Dinner", "amount": "90", "date": "01/02/2025"},
		map[string]any{"description": "Dinner", "amount": "90", "participants": []string{ids["alice"], "stranger"}},
		map[string]any{"description": "Dinner", "amount": "90", "participants": []string{ids["alice"], ids["bob"]},
			"split": map[string]string{ids["alice"]: "60", ids["bob"]: "30"}},
		map[string]any{"description": "", "amount": "90"},
	}
	for i, body := range invalid {
		rec := api.do(http.MethodPost, base+"/expenses", tokens["alice"], body)
		assert.Equal(t, http.StatusUnprocessableEntity, rec.Code, "case %d: %s", i, rec.Body.String())
	}
	rec := api.do(http.MethodPost, base+"/expenses", tokens["alice"], `{"amount":`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = api.do(http.MethodPost, base+"/expenses", tokens["alice"], map[string]any{
		"description": "Dinner", "amount": "90.00", "currency": "usd", "date": "2025-06-01",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	dinner := decode[expenseView](t, rec)
	assert.Equal(t, "90.00", dinner.Amount)
	assert.Equal(t, "USD", dinner.Currency)
	assert.Equal(t, ids["alice"], dinner.PaidBy)
	assert.Len(t, dinner.Participants, 3)
	assert.Equal(t, "equal", dinner.SplitType)

	rec = api.do(http.MethodGet, base+"/expenses", tokens["carol"], nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[[]expenseView](t, rec), 1)

	rec = api.do(http.MethodGet, base+"/balances", tokens["bob"], nil)
	require.Equal(t, http.StatusOK, rec.Code)
	bal := decode[balancesView](t, rec)
	assert.Equal(t, "60.00", bal.Balances[ids["alice"]]["USD"])
	assert.Equal(t, "-30.00", bal.Balances[ids["bob"]]["USD"])
	assert.Equal(t, "-30.00", bal.Balances[ids["carol"]]["USD"])
	assert.Empty(t, bal.Converted)

	rec = api.do(http.MethodGet, base+"/balances?currency=eur", tokens["bob"], nil)
	require.Equal(t, http.StatusOK, rec.Code)
	bal = decode[balancesView](t, rec)
	assert.Equal(t, "EUR", bal.DisplayCurrency)
	assert.Equal(t, "55.20", bal.Converted[ids["alice"]])
	assert.Equal(t, "-27.60", bal.Converted[ids["bob"]])

	rec = api.do(http.MethodGet, base+"/balances?currency=NOPE", tokens["bob"], nil)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	rec = api.do(http.MethodGet, base+"/balances?include_settled=maybe", tokens["bob"], nil)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	rec = api.do(http.MethodGet, base+"/settlements", tokens["carol"], nil)
	require.Equal(t, http.StatusOK, rec.Code)
	plan := decode[settlementsView](t, rec)
	require.Len(t, plan.Settlements, 2)
	for _, s := range plan.Settlements {
		assert.Equal(t, ids["alice"], s.To)
		assert.Equal(t, "30.00", s.Amount)
		assert.Equal(t, "USD", s.Currency)
	}

	rec = api.do(http.MethodPost, base+"/expenses/settle", tokens["bob"], map[string]any{"expense_ids": []string{dinner.ID}})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"updated":1`)

	rec = api.do(http.MethodGet, base+"/settlements", tokens["carol"], nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, decode[settlementsView](t, rec).Settlements)

	rec = api.do(http.MethodGet, base+"/balances?include_settled=true", tokens["carol"], nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "60.00", decode[balancesView](t, rec).Balances[ids["alice"]]["USD"])

	rec = api.do(http.MethodPost, base+"/expenses/settle", tokens["bob"], map[string]any{"expense_ids": []string{dinner.ID}, "settled": false})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"settled":false`)

	rec = api.do(http.MethodPost, base+"/expenses/settle", tokens["bob"], map[string]any{"expense_ids": []string{}})
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	rec = api.do(http.MethodDelete, base+"/expenses/"+dinner.ID, tokens["carol"], nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	rec = api.do(http.MethodDelete, base+"/expenses/"+dinner.ID, tokens["carol"], nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestCustomSplitExpense(t *testing.T) {
	api := newTestAPI(t, Options{})
	tokens, ids, groupID := api.trip()

	rec := api.do(http.MethodPost, "/api/groups/"+groupID+"/expenses", tokens["bob"], map[string]any{
		"description":  "Hotel",
		"amount":       "100",
		"currency":     "EUR",
		"paid_by":      ids["alice"],
		"participants": []string{ids["alice"], ids["bob"]},
		"split":        map[string]string{ids["alice"]: "70", ids["bob"]: "30"},
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	e := decode[expenseView](t, rec)
	assert.Equal(t, "custom", e.SplitType)
	assert.Equal(t, "70", e.Split[ids["alice"]])

	rec = api.do(http.MethodGet, "/api/groups/"+groupID+"/balances", tokens["carol"], nil)
	require.Equal(t, http.StatusOK, rec.Code)
	bal := decode[balancesView](t, rec)
	assert.Equal(t, "30.00", bal.Balances[ids["alice"]]["EUR"])
	assert.Equal(t, "-30.00", bal.Balances[ids["bob"]]["EUR"])
}

func TestBalanceDataAndExport(t *testing.T) {
	api := newTestAPI(t, Options{})
	tokens, _, groupID := api.trip()
	base := "/api/groups/" + groupID

	rec := api.do(http.MethodPost, base+"/expenses", tokens["alice"], map[string]any{"description": "Dinner", "amount": "90"})
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = api.do(http.MethodGet, base+"/balance-data", tokens["bob"], nil)
	require.Equal(t, http.StatusOK, rec.Code)
	chart := decode[chartView](t, rec)
	assert.Equal(t, []string{"alice", "bob", "carol"}, chart.Labels)
	require.Len(t, chart.Datasets, 1)
	assert.Equal(t, []float64{60, 30, 30}, chart.Datasets[0].Data)
	assert.Equal(t, []string{colorPositive, colorNegative, colorNegative}, chart.Datasets[0].BackgroundColor)
	assert.Equal(t, 1, chart.Datasets[0].BorderWidth)
	assert.Equal(t, -30.0, chart.Balances["bob"])
	assert.Equal(t, "USD", chart.Currency)

	rec = api.do(http.MethodGet, base+"/export.csv", tokens["carol"], nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/csv; charset=utf-8", rec.Header().Get("Content-Type"))
	assert.Contains(t, rec.Header().Get("Content-Disposition"), "Trip_expenses.csv")
	body := rec.Body.String()
	assert.Contains(t, body, "Dinner,90.00,USD,alice")
	assert.Contains(t, body, "Settlement Plan")
	assert.Contains(t, body, "bob,alice,30.00,USD")
}

func TestExchangeRates(t *testing.T) {
	api := newTestAPI(t, Options{})
	rec := api.do(http.MethodGet, "/api/exchange-rates", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	rates := decode[map[string]float64](t, rec)
	assert.Equal(t, 1.0, rates["USD"])
	assert.Equal(t, 0.92, rates["EUR"])
	assert.Len(t, rates, 8)
}

func TestNotificationsAreMarkedRead(t *testing.T) {
	api := newTestAPI(t, Options{})
	token, id := api.register("alice")
	ctx := context.Background()
	require.NoError(t, api.store.AddNotification(ctx, store.Notification{ID: "n1", UserID: id, Message: "New Expense in Trip", CreatedAt: time.Now()}))

	rec := api.do(http.MethodGet, "/api/notifications", token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	list := decode[[]notificationView](t, rec)
	require.Len(t, list, 1)
	assert.False(t, list[0].Read)

	rec = api.do(http.MethodGet, "/api/notifications", token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	list = decode[[]notificationView](t, rec)
	require.Len(t, list, 1)
	assert.True(t, list[0].Read)
}

func TestRateLimit(t *testing.T) {
	api := newTestAPI(t, Options{RatePerMinute: 2})
	for i := 0; i < 2; i++ {
		rec := api.do(http.MethodGet, "/api/exchange-rates", "", nil)
		require.Equal(t, http.StatusOK, rec.Code)
	}
	rec := api.do(http.MethodGet, "/api/exchange-rates", "", nil)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "30", rec.Header().Get("Retry-After"), "one request regained every 30s")

	rec = api.do(http.MethodGet, "/healthz", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code, "health checks are not limited")
}

func TestMetricsUseRouteTemplates(t *testing.T) {
	api := newTestAPI(t, Options{})
	tokens, _, groupID := api.trip()
	rec := api.do(http.MethodGet, "/api/groups/"+groupID+"/balances", tokens["alice"], nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = api.do(http.MethodGet, "/metrics", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, `route="/api/groups/{id}/balances"`)
	assert.NotContains(t, body, groupID)
	assert.Contains(t, body, "dividi_ledger_computations_total")
}

func TestUnknownRoute(t *testing.T) {
	api := newTestAPI(t, Options{})
	rec := api.do(http.MethodGet, "/nope", "", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Contains(t, rec.Body.String(), `"error":"not found"`)
}

func TestJoinRouteRejectsOtherMethods(t *testing.T) {
	api := newTestAPI(t, Options{})
	tokens, _, _ := api.trip()

	rec := api.do(http.MethodGet, "/api/groups/join", tokens["alice"], nil)
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
	assert.Equal(t, http.MethodPost, rec.Header().Get("Allow"))
	assert.Contains(t, rec.Body.String(), `"error":"method not allowed"`)
}
