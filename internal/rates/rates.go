// Package rates supplies the exchange-rate tables the ledger engine converts
// with. The engine never fetches rates itself.
package rates

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"dividi/internal/core"
	"dividi/internal/log"
)

// Provider returns a validated rate table relative to core.BaseCurrency.
type Provider interface {
	Rates(ctx context.Context) (core.RateTable, error)
}

// ProviderFunc adapts a function to Provider.
type ProviderFunc func(ctx context.Context) (core.RateTable, error)

func (f ProviderFunc) Rates(ctx context.Context) (core.RateTable, error) { return f(ctx) }

var ErrUpstream = errors.New("rates upstream failed")

// Static returns the built-in table used when no live source is configured
// or the live source fails.
func Static() core.RateTable {
	return core.RateTable{
		"USD": decimal.NewFromInt(1),
		"EUR": decimal.RequireFromString("0.92"),
		"GBP": decimal.RequireFromString("0.79"),
		"CAD": decimal.RequireFromString("1.36"),
		"AUD": decimal.RequireFromString("1.52"),
		"JPY": decimal.RequireFromString("147.53"),
		"INR": decimal.RequireFromString("83.14"),
		"CNY": decimal.RequireFromString("7.14"),
	}
}

// StaticProvider always returns Static().
var StaticProvider = ProviderFunc(func(context.Context) (core.RateTable, error) {
	return Static(), nil
})

// maxBody caps the upstream response size.
const maxBody = 1 << 20

// HTTPProvider reads a {"rates": {"EUR": 0.92, ...}} document whose rates
// are quoted against the base currency.
type HTTPProvider struct {
	url      string
	client   *http.Client
	logger   *log.Logger
	fallback core.RateTable
}

func NewHTTPProvider(url string, timeout time.Duration, logger *log.Logger) *HTTPProvider {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &HTTPProvider{
		url:      url,
		client:   &http.Client{Timeout: timeout},
		logger:   logger.WithComponent(log.ComponentRates),
		fallback: Static(),
	}
}

type ratesDocument struct {
	Rates map[string]decimal.Decimal `json:"rates"`
}

// Fetch performs one request and returns the parsed table or an error.
// Codes the currency registry does not know are skipped and the base is
// pinned to 1.
func (p *HTTPProvider) Fetch(ctx context.Context) (core.RateTable, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.url, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUpstream, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: status %d", ErrUpstream, resp.StatusCode)
	}

	var doc ratesDocument
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxBody)).Decode(&doc); err != nil {
		return nil, fmt.Errorf("%w: decode: %v", ErrUpstream, err)
	}

	table := make(core.RateTable, len(doc.Rates)+1)
	for code, rate := range doc.Rates {
		c, err := core.ParseCurrency(strings.TrimSpace(code))
		if err != nil {
			continue
		}
		table[c] = rate
	}
	table[core.BaseCurrency] = decimal.NewFromInt(1)

	if err := table.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUpstream, err)
	}
	return table, nil
}

// Rates returns the live table, or the static table when the fetch fails.
func (p *HTTPProvider) Rates(ctx context.Context) (core.RateTable, error) {
	table, err := p.Fetch(ctx)
	if err != nil {
		p.logger.WarnContext(ctx, "Falling back to static exchange rates",
			log.FieldOperation, log.OpRefresh,
			log.FieldError, err.Error())
		return p.fallback.Clone(), nil
	}
	return table, nil
}
