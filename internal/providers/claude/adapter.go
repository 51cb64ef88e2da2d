// Package claude implements the Claude Code provider adapter.
package claude

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/user"
	"path/filepath"
	"time"

	"github.com/j-veylop/quotameter/internal/credstore"
	"github.com/j-veylop/quotameter/internal/logger"
	"github.com/j-veylop/quotameter/internal/models"
	"github.com/j-veylop/quotameter/internal/oauth"
	"github.com/j-veylop/quotameter/internal/providers"
)

const (
	providerID   = "claude"
	providerName = "Claude Code"

	tokenURL = "https://console.anthropic.com/v1/oauth/token"
	usageURL = "https://api.anthropic.com/api/oauth/usage"

	oauthClientID = "9d1c250a-e61b-44d9-88ed-5944d1962f5e"
	betaHeader    = "oauth-2025-04-20"

	keyringService = "Claude Code-credentials"

	// expiryBuffer triggers a proactive refresh shortly before the
	// reported token expiry.
	expiryBuffer = 5 * time.Minute

	fiveHourMs = int64(5 * time.Hour / time.Millisecond)
	sevenDayMs = int64(7 * 24 * time.Hour / time.Millisecond)

	loginHint = "run `claude login` to authenticate"
)

// Adapter probes Claude Code subscription usage via the OAuth usage
// endpoint the CLI itself uses.
type Adapter struct {
	client   *http.Client
	credPath string
}

// New creates a Claude Code adapter. An empty credPath uses the CLI's
// default credential file; a nil client gets a default with a timeout.
func New(credPath string, client *http.Client) *Adapter {
	if credPath == "" {
		credPath = defaultCredPath()
	}
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	return &Adapter{client: client, credPath: credPath}
}

// ID implements providers.Adapter.
func (a *Adapter) ID() string { return providerID }

// Name implements providers.Adapter.
func (a *Adapter) Name() string { return providerName }

// CredentialPaths returns the credential files worth watching for
// external changes.
func (a *Adapter) CredentialPaths() []string {
	return []string{a.credPath}
}

func defaultCredPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".credentials.json"
	}
	return filepath.Join(home, ".claude", ".credentials.json")
}

// credSource identifies where a credential bundle was loaded from so a
// refreshed token is persisted back to the same place.
type credSource int

const (
	sourceFile credSource = iota
	sourceKeyring
)

type oauthCreds struct {
	AccessToken      string `json:"accessToken"`
	RefreshToken     string `json:"refreshToken"`
	ExpiresAt        int64  `json:"expiresAt"` // unix millis, 0 when absent
	SubscriptionType string `json:"subscriptionType"`
}

type credBundle struct {
	oauthCreds
	doc    []byte
	source credSource
}

// loadCredentials tries the credential file first, then the OS
// keyring. The first source yielding a usable access token wins.
func (a *Adapter) loadCredentials() *credBundle {
	if doc := credstore.ReadFile(a.credPath); doc != nil {
		if bundle := parseCredDoc(doc, sourceFile); bundle != nil {
			return bundle
		}
	}

	account := keyringAccount()
	if secret := credstore.ReadKeyringSecret(keyringService, account); secret != "" {
		if bundle := parseCredDoc([]byte(secret), sourceKeyring); bundle != nil {
			return bundle
		}
	}

	return nil
}

func parseCredDoc(doc []byte, source credSource) *credBundle {
	var parsed struct {
		ClaudeAiOauth *oauthCreds `json:"claudeAiOauth"`
	}
	if err := json.Unmarshal(doc, &parsed); err != nil {
		return nil
	}
	if parsed.ClaudeAiOauth == nil || parsed.ClaudeAiOauth.AccessToken == "" {
		return nil
	}
	return &credBundle{oauthCreds: *parsed.ClaudeAiOauth, doc: doc, source: source}
}

func keyringAccount() string {
	if u, err := user.Current(); err == nil && u.Username != "" {
		return u.Username
	}
	return os.Getenv("USER")
}

// needsRefresh applies the expiry-with-buffer policy.
func (b *credBundle) needsRefresh(now time.Time) bool {
	if b.RefreshToken == "" || b.ExpiresAt == 0 {
		return false
	}
	return !now.Add(expiryBuffer).Before(time.UnixMilli(b.ExpiresAt))
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
			// Transient refresh failure: the current token may still
			// work, fall through to the fetch.
			logger.Warn("proactive token refresh failed", "provider", providerID, "error", err)
		}
	}

	usage, status, err := a.fetchUsage(ctx, bundle.AccessToken)
	if status == http.StatusUnauthorized && bundle.RefreshToken != "" {
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
		usage, status, err = a.fetchUsage(ctx, bundle.AccessToken)
	}
	if status == http.StatusUnauthorized || status == http.StatusForbidden {
		result.Error = "session expired: " + loginHint
		return result
	}
	if err != nil {
		result.Error = err.Error()
		return result
	}

	result.Plan = providers.TitlePlan(bundle.SubscriptionType)
	result.Lines = normalizeUsage(usage)
	return result
}

// refresh exchanges the refresh token, updates the in-memory bundle,
// and persists the new token to the bundle's original source.
func (a *Adapter) refresh(bundle *credBundle) error {
	token, err := oauth.Refresh(a.client, oauth.Request{
		Endpoint:     tokenURL,
		ClientID:     oauthClientID,
		RefreshToken: bundle.RefreshToken,
		Encoding:     oauth.EncodingJSON,
	})
	if err != nil {
		return err
	}
	if token == nil {
		return fmt.Errorf("token endpoint returned no access token")
	}

	bundle.AccessToken = token.AccessToken
	if token.RefreshToken != "" {
		bundle.RefreshToken = token.RefreshToken
	}
	if token.ExpiresIn > 0 {
		bundle.ExpiresAt = time.Now().Add(time.Duration(token.ExpiresIn) * time.Second).UnixMilli()
	}

	a.persist(bundle)
	return nil
}

// persist writes the refreshed credentials back, preserving every
// field the CLI wrote that this program does not own.
func (a *Adapter) persist(bundle *credBundle) {
	var inner json.RawMessage
	var outer struct {
		ClaudeAiOauth json.RawMessage `json:"claudeAiOauth"`
	}
	if err := json.Unmarshal(bundle.doc, &outer); err == nil {
		inner = outer.ClaudeAiOauth
	}

	updated, err := credstore.SetFields(inner, map[string]any{
		"accessToken":  bundle.AccessToken,
		"refreshToken": bundle.RefreshToken,
		"expiresAt":    bundle.ExpiresAt,
	})
	if err != nil {
		logger.Error("failed to encode refreshed credentials", "provider", providerID, "error", err)
		return
	}

	doc, err := credstore.SetFields(bundle.doc, map[string]any{
		"claudeAiOauth": json.RawMessage(updated),
	})
	if err != nil {
		logger.Error("failed to encode credential document", "provider", providerID, "error", err)
		return
	}

	switch bundle.source {
	case sourceFile:
		if !credstore.WriteFile(a.credPath, doc) {
			logger.Warn("failed to persist refreshed credentials", "provider", providerID)
		}
	case sourceKeyring:
		if !credstore.WriteKeyringSecret(keyringService, keyringAccount(), string(doc)) {
			logger.Warn("failed to persist refreshed credentials to keyring", "provider", providerID)
		}
	}
	bundle.doc = doc
}

type usageBucket struct {
	Utilization float64 `json:"utilization"`
	ResetsAt    string  `json:"resets_at"`
}

type extraUsage struct {
	IsEnabled  bool    `json:"is_enabled"`
	UsedCents  float64 `json:"used_cents"`
	LimitCents float64 `json:"limit_cents"`
}

type usageResponse struct {
	FiveHour     *usageBucket `json:"five_hour"`
	SevenDay     *usageBucket `json:"seven_day"`
	SevenDayOpus *usageBucket `json:"seven_day_opus"`
	ExtraUsage   *extraUsage  `json:"extra_usage"`
}

func (a *Adapter) fetchUsage(ctx context.Context, accessToken string) (*usageResponse, int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, usageURL, nil)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to create usage request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("anthropic-beta", betaHeader)
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

// normalizeUsage converts the usage payload into canonical lines:
// session window first, weekly windows next, balances last.
func normalizeUsage(usage *usageResponse) []models.MetricLine {
	var lines []models.MetricLine

	appendBucket := func(label string, bucket *usageBucket, periodMs int64) {
		if bucket == nil {
			return
		}
		line := models.Progress(label, bucket.Utilization, 100, models.FormatPercent)
		line.PeriodMs = periodMs
		if t, ok := providers.ParseResetString(bucket.ResetsAt); ok {
			line.ResetsAt = providers.FormatReset(t)
		}
		lines = append(lines, line)
	}

	appendBucket("Session", usage.FiveHour, fiveHourMs)
	appendBucket("Weekly", usage.SevenDay, sevenDayMs)
	appendBucket("Weekly (Opus)", usage.SevenDayOpus, sevenDayMs)

	if extra := usage.ExtraUsage; extra != nil && extra.IsEnabled {
		if extra.LimitCents > 0 {
			line := models.Progress("Extra usage", extra.UsedCents/100, extra.LimitCents/100, models.FormatDollars)
			lines = append(lines, line)
		} else {
			lines = append(lines, models.Text("Extra usage", fmt.Sprintf("$%.2f", extra.UsedCents/100)))
		}
	}

	if len(lines) == 0 {
		lines = append(lines, models.Badge("Usage", "no data", "yellow"))
	}
	return lines
}
