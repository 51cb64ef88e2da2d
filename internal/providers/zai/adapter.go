// Package zai implements the Z.ai GLM coding plan provider adapter.
package zai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/j-veylop/quotameter/internal/credstore"
	"github.com/j-veylop/quotameter/internal/logger"
	"github.com/j-veylop/quotameter/internal/models"
	"github.com/j-veylop/quotameter/internal/oauth"
	"github.com/j-veylop/quotameter/internal/providers"
)

const (
	providerID   = "zai"
	providerName = "Z.ai"

	baseURL     = "https://api.z.ai"
	tokenURL    = baseURL + "/api/auth/oauth/token"
	quotaURL    = baseURL + "/api/monitor/usage/quota/limit"
	creditsURL  = baseURL + "/api/paas/v4/user/credit_grants"
	accountURL  = baseURL + "/api/biz/subscription/info"
	fiveHourMs  = int64(5 * time.Hour / time.Millisecond)
	monthPeriod = int64(30 * 24 * time.Hour / time.Millisecond)

	loginHint = "run `zai auth login` to authenticate"
)

// Adapter probes Z.ai coding plan quota windows. Z.ai reports no
// token expiry, so there is no proactive refresh policy; the refresh
// token is only used reactively after a 401.
type Adapter struct {
	client   *http.Client
	credPath string
}

// New creates a Z.ai adapter. An empty credPath uses the default
// credential file; a nil client gets a default with a timeout.
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
		return "credentials.json"
	}
	return filepath.Join(home, ".z-ai", "credentials.json")
}

type credBundle struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	PlanType     string `json:"plan_type"`
	doc          []byte
}

func (a *Adapter) loadCredentials() *credBundle {
	doc := credstore.ReadFile(a.credPath)
	if doc == nil {
		return nil
	}

	var bundle credBundle
	if err := json.Unmarshal(doc, &bundle); err != nil {
		return nil
	}
	if bundle.AccessToken == "" {
		return nil
	}
	bundle.doc = doc
	return &bundle
}

// Probe implements providers.Adapter.
func (a *Adapter) Probe(ctx context.Context) models.ProbeResult {
	result := models.ProbeResult{Provider: providerID, Name: providerName, FetchedAt: time.Now()}

	bundle := a.loadCredentials()
	if bundle == nil {
		result.Error = "not logged in: " + loginHint
		return result
	}

	rows, status, err := a.fetchQuota(ctx, bundle.AccessToken)
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
		rows, status, err = a.fetchQuota(ctx, bundle.AccessToken)
	}
	if status == http.StatusUnauthorized || status == http.StatusForbidden {
		result.Error = "session expired: " + loginHint
		return result
	}
	if err != nil {
		result.Error = err.Error()
		return result
	}

	lines := normalizeRows(rows)

	// Balance and plan are best-effort extras; their failures never
	// fail the probe.
	if balance, ok := a.fetchCreditBalance(ctx, bundle.AccessToken); ok {
		lines = append(lines, models.Text("Credits", fmt.Sprintf("$%.2f", balance)))
	}

	if len(lines) == 0 {
		lines = append(lines, models.Badge("Usage", "no data", "yellow"))
	}

	result.Plan = a.resolvePlan(ctx, bundle)
	result.Lines = lines
	return result
}

func (a *Adapter) refresh(bundle *credBundle) error {
	token, err := oauth.Refresh(a.client, oauth.Request{
		Endpoint:     tokenURL,
		RefreshToken: bundle.RefreshToken,
		Encoding:     oauth.EncodingForm,
	})
	if err != nil {
		var expired *oauth.SessionExpiredError
		if errors.As(err, &expired) {
			return err
		}
		return fmt.Errorf("token refresh failed: %w", err)
	}
	if token == nil {
		return fmt.Errorf("token endpoint returned no access token")
	}

	bundle.AccessToken = token.AccessToken
	if token.RefreshToken != "" {
		bundle.RefreshToken = token.RefreshToken
	}

	doc, err := credstore.SetFields(bundle.doc, map[string]any{
		"access_token":  bundle.AccessToken,
		"refresh_token": bundle.RefreshToken,
	})
	if err != nil {
		logger.Error("failed to encode refreshed credentials", "provider", providerID, "error", err)
		return nil
	}
	if !credstore.WriteFile(a.credPath, doc) {
		logger.Warn("failed to persist refreshed credentials", "provider", providerID)
	}
	bundle.doc = doc
	return nil
}

type quotaRow struct {
	Type          string          `json:"type"`
	Percentage    float64         `json:"percentage"`
	Limit         float64         `json:"limit"`
	Remaining     float64         `json:"remaining"`
	NextResetTime json.RawMessage `json:"nextResetTime"`
}

type quotaEnvelope struct {
	Code int `json:"code"`
	Data struct {
		Limits []quotaRow `json:"limits"`
	} `json:"data"`
}

func (a *Adapter) fetchQuota(ctx context.Context, accessToken string) ([]quotaRow, int, error) {
	body, status, err := a.get(ctx, quotaURL, accessToken)
	if err != nil {
		return nil, status, err
	}

	var envelope quotaEnvelope
	if err := json.Unmarshal(body, &envelope); err != nil {
		return nil, status, fmt.Errorf("failed to parse quota response: %w", err)
	}
	return envelope.Data.Limits, status, nil
}

func (a *Adapter) get(ctx context.Context, url, accessToken string) ([]byte, int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("Accept", "application/json")

	resp, err := a.client.Do(req)
	if err != nil {
		return nil, 0, fmt.Errorf("request failed: %w", err)
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			logger.Error("failed to close response body", "error", err)
		}
	}()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, resp.StatusCode, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return nil, resp.StatusCode, fmt.Errorf("unauthorized")
	}
	if resp.StatusCode != http.StatusOK {
		return nil, resp.StatusCode, fmt.Errorf("request failed (status %d)", resp.StatusCode)
	}
	return body, resp.StatusCode, nil
}

// normalizeRows converts typed quota rows into canonical lines. The
// token window comes first; percentages reported as fractions are
// scaled to 0-100.
func normalizeRows(rows []quotaRow) []models.MetricLine {
	var tokenLine, monthlyLine *models.MetricLine

	for _, row := range rows {
		switch strings.ToUpper(strings.TrimSpace(row.Type)) {
		case "TOKENS_LIMIT":
			percentage := row.Percentage
			if percentage > 0 && percentage <= 1 {
				percentage *= 100
			}
			line := models.Progress("Tokens", percentage, 100, models.FormatPercent)
			line.PeriodMs = fiveHourMs
			if t, ok := providers.ParseResetValue(row.NextResetTime); ok {
				line.ResetsAt = providers.FormatReset(t)
			}
			tokenLine = &line

		case "TIME_LIMIT":
			// A zero limit is a real row on some plans; Progress and
			// Percent both tolerate the degenerate values.
			used := row.Limit - row.Remaining
			line := models.Progress("Monthly", used, row.Limit, models.FormatCount)
			line.Suffix = "uses"
			line.PeriodMs = monthPeriod
			if t, ok := providers.ParseResetValue(row.NextResetTime); ok {
				line.ResetsAt = providers.FormatReset(t)
			}
			monthlyLine = &line
		}
	}

	var lines []models.MetricLine
	if tokenLine != nil {
		lines = append(lines, *tokenLine)
	}
	if monthlyLine != nil {
		lines = append(lines, *monthlyLine)
	}
	return lines
}

func (a *Adapter) fetchCreditBalance(ctx context.Context, accessToken string) (float64, bool) {
	body, _, err := a.get(ctx, creditsURL, accessToken)
	if err != nil {
		return 0, false
	}

	var parsed struct {
		TotalGranted float64 `json:"total_granted"`
		TotalUsed    float64 `json:"total_used"`
	}
	if err := json.Unmarshal(body, &parsed); err != nil {
		return 0, false
	}
	if parsed.TotalGranted <= 0 {
		return 0, false
	}

	balance := parsed.TotalGranted - parsed.TotalUsed
	if balance < 0 {
		balance = 0
	}
	return balance, true
}

// resolvePlan asks the subscription endpoint for the account level,
// falling back to the cached hint in the credential file. A probe
// never fails over a missing plan label.
func (a *Adapter) resolvePlan(ctx context.Context, bundle *credBundle) string {
	if body, _, err := a.get(ctx, accountURL, bundle.AccessToken); err == nil {
		var parsed struct {
			Data struct {
				PlanLevel string `json:"planLevel"`
			} `json:"data"`
		}
		if err := json.Unmarshal(body, &parsed); err == nil && parsed.Data.PlanLevel != "" {
			return providers.TitlePlan(parsed.Data.PlanLevel)
		}
	}

	return providers.TitlePlan(bundle.PlanType)
}
