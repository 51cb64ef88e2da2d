package claude

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

func writeCreds(t *testing.T, dir string, creds string) string {
	t.Helper()
	path := filepath.Join(dir, ".credentials.json")
	if err := os.WriteFile(path, []byte(creds), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestProbe_NotLoggedIn(t *testing.T) {
	path := filepath.Join(t.TempDir(), "missing.json")
	adapter := New(path, &http.Client{Transport: &MockRoundTripper{
		RoundTripFunc: func(req *http.Request) (*http.Response, error) {
			t.Fatal("no request expected without credentials")
			return nil, nil
		},
	}})

	result := adapter.Probe(context.Background())
	if !result.Failed() || !strings.Contains(result.Error, "not logged in") {
		t.Errorf("Probe() = %+v, want not-logged-in error", result)
	}
	if len(result.Lines) != 0 {
		t.Errorf("error result has lines: %+v", result.Lines)
	}
}

func TestProbe_Success(t *testing.T) {
	future := time.Now().Add(2 * time.Hour).UnixMilli()
	path := writeCreds(t, t.TempDir(), `{"claudeAiOauth":{"accessToken":"at","refreshToken":"rt","expiresAt":`+
		jsonInt(future)+`,"subscriptionType":"claude_max"}}`)

	resetAt := time.Now().Add(3 * time.Hour).UTC().Format(time.RFC3339)
	adapter := New(path, &http.Client{Transport: &MockRoundTripper{
		RoundTripFunc: func(req *http.Request) (*http.Response, error) {
			if req.Header.Get("Authorization") != "Bearer at" {
				t.Errorf("Authorization = %s", req.Header.Get("Authorization"))
			}
			if req.Header.Get("anthropic-beta") == "" {
				t.Error("missing anthropic-beta header")
			}
			return jsonResponse(200, `{
				"five_hour":{"utilization":42,"resets_at":"`+resetAt+`"},
				"seven_day":{"utilization":61.5,"resets_at":"`+resetAt+`"},
				"seven_day_opus":{"utilization":10,"resets_at":"`+resetAt+`"}
			}`), nil
		},
	}})

	result := adapter.Probe(context.Background())
	if result.Failed() {
		t.Fatalf("Probe() error = %s", result.Error)
	}
	if result.Plan != "Max" {
		t.Errorf("Plan = %q, want Max", result.Plan)
	}
	if len(result.Lines) != 3 {
		t.Fatalf("got %d lines, want 3", len(result.Lines))
	}

	session := result.Lines[0]
	if session.Label != "Session" || session.Used != 42 || session.Limit != 100 {
		t.Errorf("session line = %+v", session)
	}
	if session.PeriodMs != fiveHourMs {
		t.Errorf("session PeriodMs = %d", session.PeriodMs)
	}
	if session.ResetsAt == "" {
		t.Error("session ResetsAt empty")
	}
	if result.Lines[1].Label != "Weekly" || result.Lines[2].Label != "Weekly (Opus)" {
		t.Errorf("line order = %s, %s", result.Lines[1].Label, result.Lines[2].Label)
	}
}

func TestProbe_RefreshAndRetryOn401(t *testing.T) {
	dir := t.TempDir()
	future := time.Now().Add(2 * time.Hour).UnixMilli()
	path := writeCreds(t, dir, `{"claudeAiOauth":{"accessToken":"stale","refreshToken":"rt","expiresAt":`+
		jsonInt(future)+`},"unrelated":"preserve-me"}`)

	var calls []string
	adapter := New(path, &http.Client{Transport: &MockRoundTripper{
		RoundTripFunc: func(req *http.Request) (*http.Response, error) {
			switch {
			case strings.Contains(req.URL.Host, "console.anthropic.com"):
				calls = append(calls, "refresh")
				return jsonResponse(200, `{"access_token":"fresh","refresh_token":"rt2","expires_in":3600}`), nil
			case req.Header.Get("Authorization") == "Bearer stale":
				calls = append(calls, "fetch-stale")
				return jsonResponse(401, `{}`), nil
			default:
				calls = append(calls, "fetch-fresh")
				return jsonResponse(200, `{"five_hour":{"utilization":42}}`), nil
			}
		},
	}})

	result := adapter.Probe(context.Background())
	if result.Failed() {
		t.Fatalf("Probe() error = %s", result.Error)
	}
	if len(result.Lines) != 1 || result.Lines[0].Label != "Session" ||
		result.Lines[0].Used != 42 || result.Lines[0].Limit != 100 {
		t.Errorf("lines = %+v", result.Lines)
	}

	want := []string{"fetch-stale", "refresh", "fetch-fresh"}
	if strings.Join(calls, ",") != strings.Join(want, ",") {
		t.Errorf("call sequence = %v, want %v", calls, want)
	}

	// Refreshed token persisted, unrelated fields intact.
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	var persisted struct {
		ClaudeAiOauth struct {
			AccessToken  string `json:"accessToken"`
			RefreshToken string `json:"refreshToken"`
		} `json:"claudeAiOauth"`
		Unrelated string `json:"unrelated"`
	}
	if err := json.Unmarshal(data, &persisted); err != nil {
		t.Fatal(err)
	}
	if persisted.ClaudeAiOauth.AccessToken != "fresh" || persisted.ClaudeAiOauth.RefreshToken != "rt2" {
		t.Errorf("persisted tokens = %+v", persisted.ClaudeAiOauth)
	}
	if persisted.Unrelated != "preserve-me" {
		t.Errorf("unrelated field = %q", persisted.Unrelated)
	}
}

func TestProbe_InvalidGrantOnRetry(t *testing.T) {
	future := time.Now().Add(2 * time.Hour).UnixMilli()
	path := writeCreds(t, t.TempDir(), `{"claudeAiOauth":{"accessToken":"stale","refreshToken":"rt","expiresAt":`+
		jsonInt(future)+`}}`)

	adapter := New(path, &http.Client{Transport: &MockRoundTripper{
		RoundTripFunc: func(req *http.Request) (*http.Response, error) {
			if strings.Contains(req.URL.Host, "console.anthropic.com") {
				return jsonResponse(400, `{"error":"invalid_grant"}`), nil
			}
			return jsonResponse(401, `{}`), nil
		},
	}})

	result := adapter.Probe(context.Background())
	if !result.Failed() || !strings.Contains(result.Error, "session expired") {
		t.Errorf("Probe() = %+v, want session-expired error", result)
	}
	if len(result.Lines) != 0 {
		t.Errorf("error result has lines: %+v", result.Lines)
	}
}

func TestProbe_TransientRefreshFailureIsNotSessionExpired(t *testing.T) {
	future := time.Now().Add(2 * time.Hour).UnixMilli()
	path := writeCreds(t, t.TempDir(), `{"claudeAiOauth":{"accessToken":"stale","refreshToken":"rt","expiresAt":`+
		jsonInt(future)+`}}`)

	adapter := New(path, &http.Client{Transport: &MockRoundTripper{
		RoundTripFunc: func(req *http.Request) (*http.Response, error) {
			if strings.Contains(req.URL.Host, "console.anthropic.com") {
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

func TestProbe_SecondUnauthorizedIsTerminal(t *testing.T) {
	future := time.Now().Add(2 * time.Hour).UnixMilli()
	path := writeCreds(t, t.TempDir(), `{"claudeAiOauth":{"accessToken":"stale","refreshToken":"rt","expiresAt":`+
		jsonInt(future)+`}}`)

	fetchCount := 0
	adapter := New(path, &http.Client{Transport: &MockRoundTripper{
		RoundTripFunc: func(req *http.Request) (*http.Response, error) {
			if strings.Contains(req.URL.Host, "console.anthropic.com") {
				return jsonResponse(200, `{"access_token":"fresh"}`), nil
			}
			fetchCount++
			return jsonResponse(401, `{}`), nil
		},
	}})

	result := adapter.Probe(context.Background())
	if !result.Failed() || !strings.Contains(result.Error, "session expired") {
		t.Errorf("Probe() = %+v, want session-expired error", result)
	}
	if fetchCount != 2 {
		t.Errorf("fetch attempts = %d, want exactly 2", fetchCount)
	}
}

func TestNormalizeUsage_NoDataBadge(t *testing.T) {
	lines := normalizeUsage(&usageResponse{})
	if len(lines) != 1 || lines[0].Kind != models.MetricBadge {
		t.Errorf("lines = %+v, want single badge", lines)
	}
}

func TestNormalizeUsage_ExtraUsage(t *testing.T) {
	usage := &usageResponse{
		FiveHour:   &usageBucket{Utilization: 5},
		ExtraUsage: &extraUsage{IsEnabled: true, UsedCents: 1250, LimitCents: 5000},
	}
	lines := normalizeUsage(usage)
	if len(lines) != 2 {
		t.Fatalf("got %d lines, want 2", len(lines))
	}
	extra := lines[1]
	if extra.Kind != models.MetricProgress || extra.Format != models.FormatDollars ||
		extra.Used != 12.5 || extra.Limit != 50 {
		t.Errorf("extra usage line = %+v", extra)
	}
}

func TestNeedsRefresh(t *testing.T) {
	now := time.Now()
	tests := []struct {
		name   string
		bundle credBundle
		want   bool
	}{
		{"NoRefreshToken", credBundle{oauthCreds: oauthCreds{ExpiresAt: now.UnixMilli()}}, false},
		{"NoExpiry", credBundle{oauthCreds: oauthCreds{RefreshToken: "rt"}}, false},
		{"Expired", credBundle{oauthCreds: oauthCreds{RefreshToken: "rt", ExpiresAt: now.Add(-time.Hour).UnixMilli()}}, true},
		{"InsideBuffer", credBundle{oauthCreds: oauthCreds{RefreshToken: "rt", ExpiresAt: now.Add(2 * time.Minute).UnixMilli()}}, true},
		{"Fresh", credBundle{oauthCreds: oauthCreds{RefreshToken: "rt", ExpiresAt: now.Add(2 * time.Hour).UnixMilli()}}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.bundle.needsRefresh(now); got != tt.want {
				t.Errorf("needsRefresh() = %v, want %v", got, tt.want)
			}
		})
	}
}

func jsonInt(v int64) string {
	data, _ := json.Marshal(v)
	return string(data)
}
