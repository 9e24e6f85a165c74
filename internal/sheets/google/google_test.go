package google

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"golang.org/x/oauth2"
	goption "google.golang.org/api/option"
	gsheet "google.golang.org/api/sheets/v4"
)

const testClientJSON = `{"installed":{"client_id":"test","client_secret":"test","redirect_uris":["http://localhost"],"auth_uri":"https://accounts.google.com/o/oauth2/auth","token_uri":"https://oauth2.googleapis.com/token"}}`

func TestNew_MissingSpreadsheetID(t *testing.T) {
	_, err := New(context.Background(), "  ", Credentials{}, nil)
	if err == nil {
		t.Fatal("expected error for missing spreadsheet id")
	}
	if err.Error() != "missing GOOGLE_SPREADSHEET_ID" {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestNew_InvalidClientJSON(t *testing.T) {
	_, err := New(context.Background(), "test-id", Credentials{
		ClientJSON: "invalid-json",
		TokenJSON:  `{"access_token":"test"}`,
	}, nil)
	if err == nil {
		t.Fatal("expected error with invalid JSON")
	}
	if !strings.Contains(err.Error(), "oauth config") {
		t.Errorf("expected oauth config error, got: %v", err)
	}
}

func TestNewSheetsService_MissingOAuthClient(t *testing.T) {
	_, err := newSheetsService(context.Background(), Credentials{})
	if err == nil {
		t.Fatal("expected error for missing oauth client")
	}
	expectedMsg := "missing oauth client (set GOOGLE_OAUTH_CLIENT_JSON or GOOGLE_OAUTH_CLIENT_FILE)"
	if err.Error() != expectedMsg {
		t.Errorf("expected %q, got %q", expectedMsg, err.Error())
	}
}

func TestNewSheetsService_MissingOAuthToken(t *testing.T) {
	_, err := newSheetsService(context.Background(), Credentials{ClientJSON: testClientJSON})
	if err == nil {
		t.Fatal("expected error for missing oauth token")
	}
	expectedMsg := "missing oauth token (set GOOGLE_OAUTH_TOKEN_JSON or GOOGLE_OAUTH_TOKEN_FILE)"
	if err.Error() != expectedMsg {
		t.Errorf("expected %q, got %q", expectedMsg, err.Error())
	}
}

func TestNewSheetsService_FromFiles(t *testing.T) {
	dir := t.TempDir()
	clientFile := filepath.Join(dir, "client.json")
	tokenFile := filepath.Join(dir, "token.json")
	if err := os.WriteFile(clientFile, []byte(testClientJSON), 0o600); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(tokenFile, []byte(`{"access_token":"test","token_type":"Bearer"}`), 0o600); err != nil {
		t.Fatal(err)
	}

	svc, err := newSheetsService(context.Background(), Credentials{ClientFile: clientFile, TokenFile: tokenFile})
	if err != nil {
		t.Fatalf("newSheetsService: %v", err)
	}
	if svc == nil {
		t.Fatal("expected a service")
	}

	_, err = newSheetsService(context.Background(), Credentials{ClientFile: filepath.Join(dir, "missing.json")})
	if err == nil || !strings.Contains(err.Error(), "missing.json") {
		t.Errorf("expected read error naming the file, got %v", err)
	}
}

func TestJsonUnmarshalIndirection(t *testing.T) {
	data := []byte(`{"access_token":"test","token_type":"Bearer"}`)
	var token oauth2.Token

	if err := jsonUnmarshal(data, &token); err != nil {
		t.Fatalf("jsonUnmarshal failed: %v", err)
	}
	if token.AccessToken != "test" {
		t.Errorf("expected access token 'test', got %s", token.AccessToken)
	}
	if err := jsonUnmarshal([]byte(`{invalid json}`), &token); err == nil {
		t.Fatal("expected error with invalid JSON")
	}
}

func TestTabName(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"Ski Trip", "Ski Trip"},
		{"a/b:c", "a b c"},
		{"  [Rome]  2025 ", "Rome 2025"},
		{"???", "Group"},
		{strings.Repeat("é", 120), strings.Repeat("é", 100)},
	}
	for _, tt := range tests {
		if got := TabName(tt.in); got != tt.want {
			t.Errorf("TabName(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestQuoteTab(t *testing.T) {
	if got := quoteTab("Bob's trip"); got != "'Bob''s trip'" {
		t.Errorf("quoteTab = %s", got)
	}
}

// fakeSheets answers the handful of endpoints WriteReport uses.
type fakeSheets struct {
	mu      sync.Mutex
	titles  []string
	calls   []string
	written [][]interface{}
}

func (f *fakeSheets) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	path := r.URL.Path
	f.calls = append(f.calls, r.Method+" "+path)
	w.Header().Set("Content-Type", "application/json")

	switch {
	case r.Method == http.MethodGet:
		var sheets []map[string]any
		for _, t := range f.titles {
			sheets = append(sheets, map[string]any{"properties": map[string]any{"title": t}})
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"sheets": sheets})
	case strings.HasSuffix(path, ":batchUpdate"):
		var req gsheet.BatchUpdateSpreadsheetRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		f.titles = append(f.titles, req.Requests[0].AddSheet.Properties.Title)
		_, _ = io.WriteString(w, `{}`)
	case strings.HasSuffix(path, ":clear"):
		_, _ = io.WriteString(w, `{}`)
	case r.Method == http.MethodPut:
		var vr gsheet.ValueRange
		_ = json.NewDecoder(r.Body).Decode(&vr)
		f.written = vr.Values
		_, _ = io.WriteString(w, `{}`)
	default:
		http.NotFound(w, r)
	}
}

func TestWriteReportCreatesTabOnce(t *testing.T) {
	fake := &fakeSheets{titles: []string{"Sheet1"}}
	srv := httptest.NewServer(fake)
	defer srv.Close()

	svc, err := gsheet.NewService(context.Background(),
		goption.WithEndpoint(srv.URL+"/"),
		goption.WithHTTPClient(srv.Client()),
		goption.WithoutAuthentication())
	if err != nil {
		t.Fatal(err)
	}
	c := NewWithService(svc, "sheet-id", nil)

	rows := [][]string{{"Date", "Description"}, {"2025-01-01", "Dinner"}}
	if err := c.WriteReport(context.Background(), "Ski/Trip", rows); err != nil {
		t.Fatalf("WriteReport: %v", err)
	}
	if err := c.WriteReport(context.Background(), "Ski/Trip", rows); err != nil {
		t.Fatalf("second WriteReport: %v", err)
	}

	fake.mu.Lock()
	defer fake.mu.Unlock()
	if len(fake.titles) != 2 || fake.titles[1] != "Ski Trip" {
		t.Fatalf("tab not created: %v", fake.titles)
	}
	gets, adds := 0, 0
	for _, call := range fake.calls {
		if strings.HasPrefix(call, "GET ") {
			gets++
		}
		if strings.HasSuffix(call, ":batchUpdate") {
			adds++
		}
	}
	if gets != 1 || adds != 1 {
		t.Errorf("expected one lookup and one add, got %d and %d (%v)", gets, adds, fake.calls)
	}
	if len(fake.written) != 2 || fake.written[1][1] != "Dinner" {
		t.Errorf("unexpected values: %v", fake.written)
	}
}

func TestWriteReport_NilService(t *testing.T) {
	c := &Client{spreadsheetID: "test"}
	if err := c.WriteReport(context.Background(), "x", nil); err == nil {
		t.Fatal("expected error without a service")
	}
}
