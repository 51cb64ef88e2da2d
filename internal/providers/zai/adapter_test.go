package zai

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/j-veylop/quotameter/internal/models"
)

// MockRoundTripper allows mocking HTTP responses in tests.
type MockRoundTripper struct {
	RoundTripFunc func(req *http.Request) (*http.Response, error)
}

func (m *MockRoundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	return m.RoundTripFunc(req)
}

func jsonResponse(status int, body string) *http.Response {
	return &http.Response{StatusCode: status, Body: io.NopCloser(strings.NewReader(body))}
}

func writeCreds(t *testing.T, dir, content string) string {
	t.Helper()
	path := filepath.Join(dir, "credentials.json")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestProbe_NotLoggedIn(t *testing.T) {
	adapter := New(filepath.Join(t.TempDir(), "missing.json"), &http.Client{Transport: &MockRoundTripper{
		RoundTripFunc: func(req *http.Request) (*http.Response, error) {
			t.Fatal("no request expected without credentials")
			return nil, nil
		},
	}})

	result := adapter.Probe(context.Background())
	if !result.Failed() || !strings.Contains(result.Error, "not logged in") {
		t.Errorf("Probe() = %+v", result)
	}
}

func TestProbe_Success(t *testing.T) {
	path := writeCreds(t, t.TempDir(), `{"access_token":"at","refresh_token":"rt","plan_type":"LEVEL_PRO"}`)
	resetMillis := time.Now().Add(3 * time.Hour).UnixMilli()

	adapter := New(path, &http.Client{Transport: &MockRoundTripper{
		RoundTripFunc: func(req *http.Request) (*http.Response, error) {
			switch {
			case strings.Contains(req.URL.Path, "quota/limit"):
				return jsonResponse(200, `{"code":200,"data":{"limits":[
					{"type":"TOKENS_LIMIT","percentage":0.37,"nextResetTime":`+jsonInt(resetMillis)+`},
					{"type":"TIME_LIMIT","limit":200,"remaining":150}
				]}}`), nil
			case strings.Contains(req.URL.Path, "credit_grants"):
				return jsonResponse(200, `{"total_granted":20,"total_used":5.5}`), nil
			case strings.Contains(req.URL.Path, "subscription/info"):
				return jsonResponse(200, `{"data":{"planLevel":"LEVEL_PREMIUM"}}`), nil
			default:
				t.Errorf("unexpected request: %s", req.URL)
				return jsonResponse(404, `{}`), nil
			}
		},
	}})

	result := adapter.Probe(context.Background())
	if result.Failed() {
		t.Fatalf("Probe() error = %s", result.Error)
	}
	if result.Plan != "Premium" {
		t.Errorf("Plan = %q, want Premium", result.Plan)
	}
	if len(result.Lines) != 3 {
		t.Fatalf("got %d lines, want 3: %+v", len(result.Lines), result.Lines)
	}

	tokens := result.Lines[0]
	if tokens.Label != "Tokens" || tokens.Used != 37 || tokens.Limit != 100 {
		t.Errorf("tokens line = %+v, want fraction scaled to 37%%", tokens)
	}
	if tokens.ResetsAt == "" {
		t.Error("tokens ResetsAt empty for unix-millis timestamp")
	}

	monthly := result.Lines[1]
	if monthly.Label != "Monthly" || monthly.Used != 50 || monthly.Limit != 200 {
		t.Errorf("monthly line = %+v, want used = limit - remaining", monthly)
	}
	if monthly.Format != models.FormatCount || monthly.Suffix != "uses" {
		t.Errorf("monthly format = %+v", monthly)
	}

	credits := result.Lines[2]
	if credits.Kind != models.MetricText || credits.Value != "$14.50" {
		t.Errorf("credits line = %+v", credits)
	}
}

func TestProbe_PlanFallsBackToCachedHint(t *testing.T) {
	path := writeCreds(t, t.TempDir(), `{"access_token":"at","plan_type":"LEVEL_PRO"}`)

	adapter := New(path, &http.Client{Transport: &MockRoundTripper{
		RoundTripFunc: func(req *http.Request) (*http.Response, error) {
			if strings.Contains(req.URL.Path, "quota/limit") {
				return jsonResponse(200, `{"code":200,"data":{"limits":[{"type":"TOKENS_LIMIT","percentage":12}]}}`), nil
			}
			return jsonResponse(500, `{}`), nil
		},
	}})

	result := adapter.Probe(context.Background())
	if result.Failed() {
		t.Fatalf("Probe() error = %s", result.Error)
	}
	if result.Plan != "Pro" {
		t.Errorf("Plan = %q, want cached-hint fallback Pro", result.Plan)
	}
}

func TestProbe_ReactiveRefreshOn401(t *testing.T) {
	path := writeCreds(t, t.TempDir(), `{"access_token":"stale","refresh_token":"rt","extra":"keep"}`)

	adapter := New(path, &http.Client{Transport: &MockRoundTripper{
		RoundTripFunc: func(req *http.Request) (*http.Response, error) {
			if strings.Contains(req.URL.Path, "oauth/token") {
				if ct := req.Header.Get("Content-Type"); ct != "application/x-www-form-urlencoded" {
					t.Errorf("refresh Content-Type = %s, want form encoding", ct)
				}
				return jsonResponse(200, `{"access_token":"fresh"}`), nil
			}
			if req.Header.Get("Authorization") == "Bearer stale" {
				return jsonResponse(401, `{}`), nil
			}
			if strings.Contains(req.URL.Path, "quota/limit") {
				return jsonResponse(200, `{"code":200,"data":{"limits":[{"type":"TOKENS_LIMIT","percentage":80}]}}`), nil
			}
			return jsonResponse(500, `{}`), nil
		},
	}})

	result := adapter.Probe(context.Background())
	if result.Failed() {
		t.Fatalf("Probe() error = %s", result.Error)
	}
	if len(result.Lines) == 0 || result.Lines[0].Used != 80 {
		t.Errorf("lines = %+v", result.Lines)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	var persisted struct {
		AccessToken string `json:"access_token"`
		Extra       string `json:"extra"`
	}
	if err := json.Unmarshal(data, &persisted); err != nil {
		t.Fatal(err)
	}
	if persisted.AccessToken != "fresh" || persisted.Extra != "keep" {
		t.Errorf("persisted = %+v", persisted)
	}
}

func TestProbe_SessionExpiredWithoutRefreshToken(t *testing.T) {
	path := writeCreds(t, t.TempDir(), `{"access_token":"stale"}`)

	adapter := New(path, &http.Client{Transport: &MockRoundTripper{
		RoundTripFunc: func(req *http.Request) (*http.Response, error) {
			return jsonResponse(401, `{}`), nil
		},
	}})

	result := adapter.Probe(context.Background())
	if !result.Failed() || !strings.Contains(result.Error, "session expired") {
		t.Errorf("Probe() = %+v", result)
	}
}

func TestProbe_TransientRefreshFailureIsNotSessionExpired(t *testing.T) {
	path := writeCreds(t, t.TempDir(), `{"access_token":"stale","refresh_token":"rt"}`)

	adapter := New(path, &http.Client{Transport: &MockRoundTripper{
		RoundTripFunc: func(req *http.Request) (*http.Response, error) {
			if strings.Contains(req.URL.Path, "oauth/token") {
				return jsonResponse(500, `{"error":"server_error"}`), nil
			}
			return jsonResponse(401, `{}`), nil
		},
	}})

	result := adapter.Probe(context.Background())
	if !result.Failed() {
		t.Fatalf("Probe() = %+v, want error", result)
	}
	if strings.Contains(result.Error, "session expired") || strings.Contains(result.Error, loginHint) {
		t.Errorf("transient token-endpoint failure escalated to re-login: %q", result.Error)
	}
	if !strings.Contains(result.Error, "token refresh failed") {
		t.Errorf("Error = %q, want the transient refresh failure", result.Error)
	}
}

func TestNormalizeRows(t *testing.T) {
	tests := []struct {
		name      string
		rows      []quotaRow
		wantCount int
	}{
		{"Empty", nil, 0},
		{"UnknownType", []quotaRow{{Type: "OTHER_LIMIT", Percentage: 50}}, 0},
		{"ZeroLimitTimeRow", []quotaRow{{Type: "TIME_LIMIT", Limit: 0, Remaining: 0}}, 1},
		{"Both", []quotaRow{
			{Type: "TIME_LIMIT", Limit: 100, Remaining: 40},
			{Type: "TOKENS_LIMIT", Percentage: 55},
		}, 2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			lines := normalizeRows(tt.rows)
			if len(lines) != tt.wantCount {
				t.Fatalf("got %d lines, want %d", len(lines), tt.wantCount)
			}
			if tt.wantCount == 2 && lines[0].Label != "Tokens" {
				t.Errorf("token window not first: %+v", lines)
			}
		})
	}
}

func TestNormalizeRows_ZeroLimitTimeRowKept(t *testing.T) {
	lines := normalizeRows([]quotaRow{{Type: "TIME_LIMIT", Limit: 0, Remaining: 0}})
	if len(lines) != 1 {
		t.Fatalf("got %d lines, want 1", len(lines))
	}
	monthly := lines[0]
	if monthly.Label != "Monthly" || monthly.Limit != 0 {
		t.Errorf("monthly line = %+v, want limit 0 kept", monthly)
	}
	if got := monthly.Percent(); got != 0 {
		t.Errorf("Percent() = %v, want 0 for zero limit", got)
	}
}

func jsonInt(v int64) string {
	data, _ := json.Marshal(v)
	return string(data)
}
