package ratelimit

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestLimiterWindow(t *testing.T) {
	now := time.Unix(1000, 0)
	rl := NewLimiter(Config{RequestsPerMinute: 2, Now: func() time.Time { return now }})
	defer rl.Stop()

	if !rl.Allow("a") || !rl.Allow("a") {
		t.Fatal("first two requests should pass")
	}
	if rl.Allow("a") {
		t.Fatal("third request should be limited")
	}
	if !rl.Allow("b") {
		t.Fatal("other clients are independent")
	}

	now = now.Add(time.Minute)
	if !rl.Allow("a") || !rl.Allow("a") {
		t.Fatal("bucket should be full again after a minute")
	}
	if rl.Rejected() != 1 {
		t.Fatalf("rejected = %d", rl.Rejected())
	}
}

func TestLimiterRefillsGradually(t *testing.T) {
	now := time.Unix(1000, 0)
	rl := NewLimiter(Config{RequestsPerMinute: 4, Now: func() time.Time { return now }})
	defer rl.Stop()

	for i := 0; i < 4; i++ {
		if !rl.Allow("a") {
			t.Fatalf("request %d should pass", i)
		}
	}
	if rl.Allow("a") {
		t.Fatal("burst exhausted")
	}

	now = now.Add(15 * time.Second)
	if !rl.Allow("a") {
		t.Fatal("one request regained after a quarter minute")
	}
	if rl.Allow("a") {
		t.Fatal("only one request regained")
	}
	if got := rl.RetryAfter(); got != 15 {
		t.Fatalf("retry after = %d", got)
	}
}

func TestLimiterCleanup(t *testing.T) {
	now := time.Unix(1000, 0)
	rl := NewLimiter(Config{RequestsPerMinute: 5, Now: func() time.Time { return now }})
	defer rl.Stop()

	rl.Allow("a")
	now = now.Add(11 * time.Minute)
	rl.cleanupStaleEntries()
	if rl.ActiveClients() != 0 {
		t.Fatalf("stale client kept: %d", rl.ActiveClients())
	}
}

func TestMiddlewareRejects(t *testing.T) {
	rl := NewLimiter(Config{RequestsPerMinute: 1})
	defer rl.Stop()

	h := rl.Middleware(func(*http.Request) string { return "same" }, nil)(
		http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusNoContent) }))

	first := httptest.NewRecorder()
	h.ServeHTTP(first, httptest.NewRequest(http.MethodGet, "/", nil))
	second := httptest.NewRecorder()
	h.ServeHTTP(second, httptest.NewRequest(http.MethodGet, "/", nil))

	if first.Code != http.StatusNoContent {
		t.Fatalf("first = %d", first.Code)
	}
	if second.Code != http.StatusTooManyRequests || second.Header().Get("Retry-After") != "60" {
		t.Fatalf("second = %d", second.Code)
	}
}
