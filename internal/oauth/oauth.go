// Package oauth implements the OAuth2 refresh_token grant used by the
// provider adapters. Each call performs exactly one POST; retry policy
// belongs to the caller.
package oauth

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/j-veylop/quotameter/internal/logger"
)

// Encoding selects the request body encoding for the token endpoint.
type Encoding int

const (
	// EncodingJSON posts a JSON object body.
	EncodingJSON Encoding = iota
	// EncodingForm posts an application/x-www-form-urlencoded body.
	EncodingForm
)

// Token is the normalized result of a successful refresh.
type Token struct {
	AccessToken  string
	RefreshToken string
	ExpiresIn    int
	IDToken      string
}

// SessionExpiredError signals that the server rejected the refresh
// token with invalid_grant: the user must re-authenticate through the
// provider's own CLI login flow.
type SessionExpiredError struct {
	Description string
}

func (e *SessionExpiredError) Error() string {
	if e.Description != "" {
		return fmt.Sprintf("session expired: %s", e.Description)
	}
	return "session expired: refresh token no longer valid"
}

// RefreshError is a transient refresh failure carrying the HTTP status
// and the server's error code, when one was provided.
type RefreshError struct {
	StatusCode int
	Code       string
}

func (e *RefreshError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("token refresh failed (status %d): %s", e.StatusCode, e.Code)
	}
	return fmt.Sprintf("token refresh failed (status %d)", e.StatusCode)
}

// Request describes one refresh_token exchange.
type Request struct {
	Endpoint     string
	ClientID     string
	RefreshToken string
	Encoding     Encoding
	// Scope is included in the request body when non-empty; some
	// providers require re-stating it on refresh.
	Scope string
}

type tokenResponse struct {
	AccessToken      string `json:"access_token"`
	RefreshToken     string `json:"refresh_token"`
	ExpiresIn        int    `json:"expires_in"`
	IDToken          string `json:"id_token"`
	ErrorCode        string `json:"error"`
	ErrorDescription string `json:"error_description"`
}

// Refresh performs a single refresh_token grant exchange. On HTTP 2xx
// with an access_token it returns the normalized token; on a
// well-formed 2xx response lacking a token it returns (nil, nil). An
// invalid_grant rejection on 400/401 becomes *SessionExpiredError, any
// other non-2xx status becomes *RefreshError. A nil client gets a
// default with a 30 second timeout.
func Refresh(client *http.Client, req Request) (*Token, error) {
	if req.RefreshToken == "" {
		return nil, fmt.Errorf("refresh token is empty")
	}

	body, contentType, err := encodeBody(req)
	if err != nil {
		return nil, err
	}

	httpReq, err := http.NewRequestWithContext(context.Background(), http.MethodPost, req.Endpoint, strings.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create token request: %w", err)
	}
	httpReq.Header.Set("Content-Type", contentType)
	httpReq.Header.Set("Accept", "application/json")

	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}

	resp, err := client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("token request failed: %w", err)
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			logger.Error("failed to close response body", "error", err)
		}
	}()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read token response: %w", err)
	}

	var parsed tokenResponse
	parseErr := json.Unmarshal(respBody, &parsed)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		if parseErr == nil && parsed.ErrorCode == "invalid_grant" &&
			(resp.StatusCode == http.StatusBadRequest || resp.StatusCode == http.StatusUnauthorized) {
			return nil, &SessionExpiredError{Description: parsed.ErrorDescription}
		}
		return nil, &RefreshError{StatusCode: resp.StatusCode, Code: parsed.ErrorCode}
	}

	if parseErr != nil {
		return nil, fmt.Errorf("failed to parse token response: %w", parseErr)
	}

	if parsed.AccessToken == "" {
		// Well-formed response, no usable token.
		return nil, nil
	}

	return &Token{
		AccessToken:  parsed.AccessToken,
		RefreshToken: parsed.RefreshToken,
		ExpiresIn:    parsed.ExpiresIn,
		IDToken:      parsed.IDToken,
	}, nil
}

func encodeBody(req Request) (body, contentType string, err error) {
	switch req.Encoding {
	case EncodingForm:
		form := url.Values{}
		form.Set("grant_type", "refresh_token")
		form.Set("refresh_token", req.RefreshToken)
		if req.ClientID != "" {
			form.Set("client_id", req.ClientID)
		}
		if req.Scope != "" {
			form.Set("scope", req.Scope)
		}
		return form.Encode(), "application/x-www-form-urlencoded", nil

	case EncodingJSON:
		payload := map[string]string{
			"grant_type":    "refresh_token",
			"refresh_token": req.RefreshToken,
		}
		if req.ClientID != "" {
			payload["client_id"] = req.ClientID
		}
		if req.Scope != "" {
			payload["scope"] = req.Scope
		}
		data, err := json.Marshal(payload)
		if err != nil {
			return "", "", fmt.Errorf("failed to encode token request: %w", err)
		}
		return string(data), "application/json", nil

	default:
		return "", "", fmt.Errorf("unknown request encoding: %d", req.Encoding)
	}
}
