package rates

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dividi/internal/cache"
	"dividi/internal/core"
	"dividi/internal/log"
)

func TestStaticTableIsValid(t *testing.T) {
	table := Static()
	require.NoError(t, table.Validate())
	assert.Len(t, table, 8)
	assert.True(t, table["JPY"].Equal(decimal.RequireFromString("147.53")))
}

func TestHTTPProviderFetch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"base":"USD","rates":{"USD":1.0001,"EUR":0.9,"CHF":0.88,"XXQ":3}}`))
	}))
	defer srv.Close()

	p := NewHTTPProvider(srv.URL, time.Second, log.Discard())
	table, err := p.Fetch(context.Background())
	require.NoError(t, err)

	assert.True(t, table["USD"].Equal(decimal.NewFromInt(1)), "base is pinned")
	assert.True(t, table["EUR"].Equal(decimal.RequireFromString("0.9")))
	assert.Contains(t, table, core.Currency("CHF"))
	assert.NotContains(t, table, core.Currency("XXQ"), "unknown codes are skipped")
}

func TestHTTPProviderFallsBack(t *testing.T) {
	tests := []struct {
		name    string
		handler http.HandlerFunc
	}{
		{"server error", func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusBadGateway)
		}},
		{"malformed body", func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte(`{"rates":`))
		}},
		{"non-positive rate", func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte(`{"rates":{"EUR":0}}`))
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(tt.handler)
			defer srv.Close()

			p := NewHTTPProvider(srv.URL, time.Second, log.Discard())
			_, err := p.Fetch(context.Background())
			require.ErrorIs(t, err, ErrUpstream)

			table, err := p.Rates(context.Background())
			require.NoError(t, err)
			assert.Equal(t, Static(), table)
		})
	}
}

func TestCachedLoadsOnceUntilExpiry(t *testing.T) {
	var calls atomic.Int32
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	src := ProviderFunc(func(context.Context) (core.RateTable, error) {
		calls.Add(1)
		return Static(), nil
	})

	c := NewCached(src, time.Minute, cache.WithClock(func() time.Time { return now }))
	ctx := context.Background()

	first, err := c.Rates(ctx)
	require.NoError(t, err)
	first["EUR"] = decimal.NewFromInt(99)

	second, err := c.Rates(ctx)
	require.NoError(t, err)
	assert.True(t, second["EUR"].Equal(decimal.RequireFromString("0.92")), "callers get copies")
	assert.EqualValues(t, 1, calls.Load())

	now = now.Add(2 * time.Minute)
	_, err = c.Rates(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 2, calls.Load())
}

func TestCachedDoesNotStoreErrors(t *testing.T) {
	boom := errors.New("boom")
	fail := true
	src := ProviderFunc(func(context.Context) (core.RateTable, error) {
		if fail {
			return nil, boom
		}
		return Static(), nil
	})
	c := NewCached(src, time.Minute)

	_, err := c.Rates(context.Background())
	require.ErrorIs(t, err, boom)

	fail = false
	table, err := c.Rates(context.Background())
	require.NoError(t, err)
	assert.NotEmpty(t, table)
}

func TestRefresherReloads(t *testing.T) {
	var calls atomic.Int32
	src := ProviderFunc(func(context.Context) (core.RateTable, error) {
		calls.Add(1)
		return Static(), nil
	})
	c := NewCached(src, time.Hour)
	r := NewRefresher(c, 10*time.Millisecond, log.Discard())
	r.Start(context.Background())

	require.Eventually(t, func() bool { return calls.Load() >= 3 }, time.Second, 5*time.Millisecond)
	r.Stop()
	r.Stop()

	n := calls.Load()
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, n, calls.Load(), "no refresh after Stop")
}
