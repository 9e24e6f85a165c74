package security

import (
	"crypto/tls"
	"net/http"
	"net/http/httptest"
	"testing"

	"dividi/internal/log"
)

func TestHeadersMiddleware(t *testing.T) {
	h := NewHeadersMiddleware(DefaultHeadersConfig()).Middleware(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/groups", nil))
	if rec.Header().Get("X-Content-Type-Options") != "nosniff" || rec.Header().Get("Cache-Control") != "no-store" {
		t.Fatalf("missing headers: %v", rec.Header())
	}
	if rec.Header().Get("Strict-Transport-Security") != "" {
		t.Fatal("HSTS must not be sent over plain HTTP")
	}

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.TLS = &tls.ConnectionState{}
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Header().Get("Strict-Transport-Security") != "max-age=31536000; includeSubDomains" {
		t.Fatalf("unexpected HSTS %q", rec.Header().Get("Strict-Transport-Security"))
	}
}

func TestDetectSuspiciousRequest(t *testing.T) {
	d := NewDetector()
	cases := []struct {
		method, target, agent string
		want                  bool
	}{
		{http.MethodGet, "/api/groups/1/balances?currency=EUR", "curl/8.0", false},
		{http.MethodGet, "/../../etc/passwd", "", true},
		{http.MethodGet, "/api/groups?q=union%20select", "", false},
		{http.MethodGet, "/api/groups?q=union+select", "", false},
		{http.MethodGet, "/.env", "", true},
		{http.MethodGet, "/", "sqlmap/1.7", true},
		{"TRACE", "/", "", true},
	}
	for _, tc := range cases {
		req := httptest.NewRequest(tc.method, tc.target, nil)
		req.Header.Set("User-Agent", tc.agent)
		if got := d.DetectSuspiciousRequest(req); got != tc.want {
			t.Fatalf("%s %s (%s): got %v", tc.method, tc.target, tc.agent, got)
		}
	}
	if d.SuspiciousRequests() != 4 {
		t.Fatalf("counter = %d", d.SuspiciousRequests())
	}
}

func TestDetectorMiddleware(t *testing.T) {
	d := NewDetector()
	h := d.Middleware(log.Discard())(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/wp-admin", nil))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("got %d", rec.Code)
	}
}

func TestExtractClientIP(t *testing.T) {
	d := NewDetector()

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "10.0.0.5:1234"
	req.Header.Set("X-Forwarded-For", "203.0.113.9, 10.0.0.5")
	if got := d.ExtractClientIP(req); got != "203.0.113.9" {
		t.Fatalf("trusted proxy: got %s", got)
	}

	req.RemoteAddr = "198.51.100.1:1234"
	if got := d.ExtractClientIP(req); got != "198.51.100.1" {
		t.Fatalf("untrusted peer: got %s", got)
	}

	if err := d.AddTrustedProxy("198.51.100.0/24"); err != nil {
		t.Fatal(err)
	}
	if got := d.ExtractClientIP(req); got != "203.0.113.9" {
		t.Fatalf("added proxy: got %s", got)
	}
	if err := d.AddTrustedProxy("nope"); err == nil {
		t.Fatal("expected CIDR error")
	}
}
