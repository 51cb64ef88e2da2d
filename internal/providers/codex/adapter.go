// Package codex implements the Codex (ChatGPT) provider adapter.
package codex

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/j-veylop/quotameter/internal/credstore"
	"github.com/j-veylop/quotameter/internal/logger"
	"github.com/j-veylop/quotameter/internal/models"
	"github.com/j-veylop/quotameter/internal/oauth"
	"github.com/j-veylop/quotameter/internal/providers"
)

const (
	providerID   = "codex"
	providerName = "Codex"

	tokenURL = "https://auth.openai.com/oauth/token"
	usageURL = "https://chatgpt.com/backend-api/wham/usage"

	oauthClientID = "app_EMoamEEZ73f0CkXaXp7hrann"
	oauthScope    = "openid profile email"

	// maxTokenAge is the age-based refresh policy: the auth file does
	// not report an expiry, only when it was last refreshed.
	maxTokenAge = 28 * 24 * time.Hour

	loginHint = "run `codex login` to authenticate"
)

// Adapter probes ChatGPT rate-limit windows for the Codex CLI.
type Adapter struct {
	client   *http.Client
	authPath string
}

// New creates a Codex adapter. An empty authPath uses the CLI's
// default auth file; a nil client gets a default with a timeout.
func New(authPath string, client *http.Client) *Adapter {
	if authPath == "" {
		authPath = defaultAuthPath()
	}
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	return &Adapter{client: client, authPath: authPath}
}

// ID implements providers.Adapter.
func (a *Adapter) ID() string { return providerID }

// Name implements providers.Adapter.
func (a *Adapter) Name() string { return providerName }

// CredentialPaths returns the credential files worth watching for
// external changes.
func (a *Adapter) CredentialPaths() []string {
	return []string{a.authPath}
}

func defaultAuthPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "auth.json"
	}
	return filepath.Join(home, ".codex", "auth.json")
}

type authTokens struct {
	IDToken      string `json:"id_token"`
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	AccountID    string `json:"account_id"`
}

type credBundle struct {
	tokens      authTokens
	lastRefresh time.Time
	doc         []byte
}

func (a *Adapter) loadCredentials() *credBundle {
	doc := credstore.ReadFile(a.authPath)
	if doc == nil {
		return nil
	}

	var parsed struct {
		Tokens      *authTokens `json:"tokens"`
		LastRefresh string      `json:"last_refresh"`
	}
	if err := json.Unmarshal(doc, &parsed); err != nil {
		return nil
	}
	if parsed.Tokens == nil || parsed.Tokens.AccessToken == "" {
		return nil
	}

	bundle := &credBundle{tokens: *parsed.Tokens, doc: doc}
	if t, err := time.Parse(time.RFC3339, parsed.LastRefresh); err == nil {
		bundle.lastRefresh = t
	}
	return bundle
}

// needsRefresh applies the age-based policy: refresh when the last
// recorded refresh is older than maxTokenAge. An unparseable or
// missing last_refresh never triggers a proactive refresh.
func (b *credBundle) needsRefresh(now time.Time) bool {
	if b.tokens.RefreshToken == "" || b.lastRefresh.IsZero() {
		return false
	}
	return now.Sub(b.lastRefresh) > maxTokenAge
}

// accountID returns the ChatGPT account id, falling back to the
// id_token's auth claim when the auth file does not carry one.
func (b *credBundle) accountID() string {
	if b.tokens.AccountID != "" {
		return b.tokens.AccountID
	}
	return accountIDFromJWT(b.tokens.IDToken)
}

func accountIDFromJWT(idToken string) string {
	parts := strings.Split(idToken, ".")
	if len(parts) != 3 {
		return ""
	}
	payload, err := base64.RawURLEncoding.DecodeString(parts[1])
	if err != nil {
		return ""
	}
	var claims struct {
		Auth struct {
			ChatGPTAccountID string `json:"chatgpt_account_id"`
		} `json:"https://api.openai.com/auth"`
	}
	if err := json.Unmarshal(payload, &claims); err != nil {
		return ""
	}
	return claims.Auth.ChatGPTAccountID
}

func planFromJWT(idToken string) string {
	parts := strings.Split(idToken, ".")
	if len(parts) != 3 {
		return ""
	}
	payload, err := base64.RawURLEncoding.DecodeString(parts[1])
	if err != nil {
		return ""
	}
	var claims struct {
		Auth struct {
			PlanType string `json:"chatgpt_plan_type"`
		} `json:"https://api.openai.com/auth"`
	}
	if err := json.Unmarshal(payload, &claims); err != nil {
		return ""
	}
	return claims.Auth.PlanType
}

// Probe implements providers.Adapter.
func (a *Adapter) Probe(ctx context.Context) models.ProbeResult {
	result := models.ProbeResult{Provider: providerID, Name: providerName, FetchedAt: time.Now()}

	bundle := a.loadCredentials()
	if bundle == nil {
		result.Error = "not logged in: " + loginHint
		return result
	}

	if bundle.needsRefresh(time.Now()) {
		if err := a.refresh(bundle); err != nil {
			var expired *oauth.SessionExpiredError
			if errors.As(err, &expired) {
				result.Error = "session expired: " + loginHint
				return result
			}
			logger.Warn("proactive token refresh failed", "provider", providerID, "error", err)
		}
	}

	usage, status, err := a.fetchUsage(ctx, bundle)
	if status == http.StatusUnauthorized && bundle.tokens.RefreshToken != "" {
		if refreshErr := a.refresh(bundle); refreshErr != nil {
			var expired *oauth.SessionExpiredError
			if errors.As(refreshErr, &expired) {
				result.Error = "session expired: " + loginHint
				return result
			}
			// Transient token-endpoint failure, not a rejected grant:
			// safe to retry on the next poll.
			result.Error = refreshErr.Error()
			return result
		}
		usage, status, err = a.fetchUsage(ctx, bundle)
	}
	if status == http.StatusUnauthorized || status == http.StatusForbidden {
		result.Error = "session expired: " + loginHint
		return result
	}
	if err != nil {
		result.Error = err.Error()
		return result
	}

	plan := usage.PlanType
	if plan == "" {
		plan = planFromJWT(bundle.tokens.IDToken)
	}
	result.Plan = providers.TitlePlan(plan)
	result.Lines = normalizeUsage(usage)
	return result
}

func (a *Adapter) refresh(bundle *credBundle) error {
	token, err := oauth.Refresh(a.client, oauth.Request{
		Endpoint:     tokenURL,
		ClientID:     oauthClientID,
		RefreshToken: bundle.tokens.RefreshToken,
		Scope:        oauthScope,
		Encoding:     oauth.EncodingJSON,
	})
	if err != nil {
		return err
	}
	if token == nil {
		return fmt.Errorf("token endpoint returned no access token")
	}

	bundle.tokens.AccessToken = token.AccessToken
	if token.RefreshToken != "" {
		bundle.tokens.RefreshToken = token.RefreshToken
	}
	if token.IDToken != "" {
		bundle.tokens.IDToken = token.IDToken
	}
	bundle.lastRefresh = time.Now()

	a.persist(bundle)
	return nil
}

func (a *Adapter) persist(bundle *credBundle) {
	var inner json.RawMessage
	var outer struct {
		Tokens json.RawMessage `json:"tokens"`
	}
	if err := json.Unmarshal(bundle.doc, &outer); err == nil {
		inner = outer.Tokens
	}

	updated, err := credstore.SetFields(inner, map[string]any{
		"id_token":      bundle.tokens.IDToken,
		"access_token":  bundle.tokens.AccessToken,
		"refresh_token": bundle.tokens.RefreshToken,
	})
	if err != nil {
		logger.Error("failed to encode refreshed tokens", "provider", providerID, "error", err)
		return
	}

	doc, err := credstore.SetFields(bundle.doc, map[string]any{
		"tokens":       json.RawMessage(updated),
		"last_refresh": bundle.lastRefresh.UTC().Format(time.RFC3339),
	})
	if err != nil {
		logger.Error("failed to encode auth document", "provider", providerID, "error", err)
		return
	}

	if !credstore.WriteFile(a.authPath, doc) {
		logger.Warn("failed to persist refreshed credentials", "provider", providerID)
	}
	bundle.doc = doc
}

type rateWindow struct {
	UsedPercent   float64         `json:"used_percent"`
	WindowMinutes json.RawMessage `json:"window_minutes"`
	ResetsAt      json.RawMessage `json:"resets_at"`
}

type rateLimits struct {
	Primary   *rateWindow `json:"primary"`
	Secondary *rateWindow `json:"secondary"`
}

type usageResponse struct {
	PlanType             string      `json:"plan_type"`
	RateLimits           *rateLimits `json:"rate_limits"`
	CodeReviewRateLimits *rateLimits `json:"code_review_rate_limits"`
	Credits              *struct {
		Balance float64 `json:"balance"`
	} `json:"credits"`
}

func (a *Adapter) fetchUsage(ctx context.Context, bundle *credBundle) (*usageResponse, int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, usageURL, nil)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to create usage request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+bundle.tokens.AccessToken)
	if accountID := bundle.accountID(); accountID != "" {
		req.Header.Set("ChatGPT-Account-Id", accountID)
	}
	req.Header.Set("OAI-Language", "en-US")
	req.Header.Set("Accept", "application/json")

	resp, err := a.client.Do(req)
	if err != nil {
		return nil, 0, fmt.Errorf("usage request failed: %w", err)
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			logger.Error("failed to close response body", "error", err)
		}
	}()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, resp.StatusCode, fmt.Errorf("failed to read usage response: %w", err)
	}

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return nil, resp.StatusCode, fmt.Errorf("unauthorized")
	}
	if resp.StatusCode != http.StatusOK {
		return nil, resp.StatusCode, fmt.Errorf("usage request failed (status %d)", resp.StatusCode)
	}

	var usage usageResponse
	if err := json.Unmarshal(body, &usage); err != nil {
		return nil, resp.StatusCode, fmt.Errorf("failed to parse usage response: %w", err)
	}
	return &usage, resp.StatusCode, nil
}

// parseWindowMinutes tolerates both numeric and quoted window lengths.
// A value that cannot be parsed leaves the period unknown.
func parseWindowMinutes(raw json.RawMessage) int64 {
	if len(raw) == 0 {
		return 0
	}
	var num float64
	if err := json.Unmarshal(raw, &num); err == nil && num > 0 {
		return int64(num) * int64(time.Minute/time.Millisecond)
	}
	var str string
	if err := json.Unmarshal(raw, &str); err == nil {
		if minutes, err := strconv.ParseInt(strings.TrimSpace(str), 10, 64); err == nil && minutes > 0 {
			return minutes * int64(time.Minute/time.Millisecond)
		}
	}
	return 0
}

func windowLine(label string, window *rateWindow) (models.MetricLine, bool) {
	if window == nil {
		return models.MetricLine{}, false
	}
	line := models.Progress(label, window.UsedPercent, 100, models.FormatPercent)
	line.PeriodMs = parseWindowMinutes(window.WindowMinutes)
	if t, ok := providers.ParseResetValue(window.ResetsAt); ok {
		line.ResetsAt = providers.FormatReset(t)
	}
	return line, true
}

// normalizeUsage orders the canonical lines: session window, weekly
// window, the code-review sub-limit, then unbounded credits.
func normalizeUsage(usage *usageResponse) []models.MetricLine {
	var lines []models.MetricLine

	if usage.RateLimits != nil {
		if line, ok := windowLine("Session", usage.RateLimits.Primary); ok {
			lines = append(lines, line)
		}
		if line, ok := windowLine("Weekly", usage.RateLimits.Secondary); ok {
			lines = append(lines, line)
		}
	}
	if usage.CodeReviewRateLimits != nil {
		if line, ok := windowLine("Reviews", usage.CodeReviewRateLimits.Primary); ok {
			lines = append(lines, line)
		}
	}
	if usage.Credits != nil {
		lines = append(lines, models.Text("Credits", fmt.Sprintf("$%.2f", usage.Credits.Balance)))
	}

	if len(lines) == 0 {
		lines = append(lines, models.Badge("Usage", "no data", "yellow"))
	}
	return lines
}
