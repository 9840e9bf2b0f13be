package auth

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"golang.org/x/oauth2"

	"github.com/hhszzzz/antihub/internal/config"
	"github.com/hhszzzz/antihub/internal/pool"
	"github.com/hhszzzz/antihub/internal/providers"
	"github.com/hhszzzz/antihub/internal/session"
)

// QwenFlow performs the device-code handshake against the qwen portal.
type QwenFlow struct {
	Config config.Qwen
	HTTP   *http.Client
}

func (q *QwenFlow) client() *http.Client {
	if q.HTTP != nil {
		return q.HTTP
	}
	return http.DefaultClient
}

type qwenTokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int64  `json:"expires_in"`
	ResourceURL  string `json:"resource_url"`
	Error        string `json:"error"`
	ErrorDesc    string `json:"error_description"`
}

// StartDevice requests a device code, binding it to a fresh PKCE verifier.
func (q *QwenFlow) StartDevice(ctx context.Context) (*session.DeviceStart, string, error) {
	verifier := oauth2.GenerateVerifier()
	form := url.Values{
		"client_id":             {q.Config.ClientID},
		"scope":                 {q.Config.Scope},
		"code_challenge":        {oauth2.S256ChallengeFromVerifier(verifier)},
		"code_challenge_method": {"S256"},
	}

	body, err := q.postForm(ctx, q.Config.DeviceCodeURL, form)
	if err != nil {
		return nil, "", err
	}

	var issued struct {
		DeviceCode              string `json:"device_code"`
		UserCode                string `json:"user_code"`
		VerificationURI         string `json:"verification_uri"`
		VerificationURIComplete string `json:"verification_uri_complete"`
		ExpiresIn               int    `json:"expires_in"`
		Interval                int    `json:"interval"`
	}
	if err := json.Unmarshal(body, &issued); err != nil {
		return nil, "", fmt.Errorf("decode device code response: %w", err)
	}
	if issued.DeviceCode == "" {
		return nil, "", fmt.Errorf("device code response is missing device_code")
	}
	return &session.DeviceStart{
		DeviceCode:              issued.DeviceCode,
		UserCode:                issued.UserCode,
		VerificationURI:         issued.VerificationURI,
		VerificationURIComplete: issued.VerificationURIComplete,
		ExpiresIn:               issued.ExpiresIn,
		Interval:                issued.Interval,
	}, verifier, nil
}

// PollDevice performs one token poll. Pending and terminal OAuth outcomes
// are reported through the session sentinel errors.
func (q *QwenFlow) PollDevice(ctx context.Context, deviceCode, verifier string) (*session.DeviceToken, error) {
	form := url.Values{
		"grant_type":    {"urn:ietf:params:oauth:grant-type:device_code"},
		"client_id":     {q.Config.ClientID},
		"device_code":   {deviceCode},
		"code_verifier": {verifier},
	}

	body, err := q.postForm(ctx, q.Config.TokenURL, form)
	if err != nil {
		return nil, err
	}

	var token qwenTokenResponse
	if err := json.Unmarshal(body, &token); err != nil {
		return nil, fmt.Errorf("decode token response: %w", err)
	}
	if token.Error != "" {
		return nil, devicePollError(token.Error, token.ErrorDesc)
	}
	if token.AccessToken == "" {
		return nil, fmt.Errorf("token response is missing access_token")
	}
	resource := token.ResourceURL
	if resource == "" {
		resource = q.Config.DefaultResourceHost
	}
	return &session.DeviceToken{
		AccessToken:  token.AccessToken,
		RefreshToken: token.RefreshToken,
		ResourceURL:  resource,
		ExpiresIn:    token.ExpiresIn,
	}, nil
}

func devicePollError(code, description string) error {
	switch code {
	case "authorization_pending":
		return session.ErrAuthorizationPending
	case "slow_down":
		return session.ErrSlowDown
	case "expired_token":
		return session.ErrExpiredToken
	case "access_denied":
		return session.ErrAccessDenied
	}
	if description != "" {
		return fmt.Errorf("device authorization failed: %s (%s)", code, description)
	}
	return fmt.Errorf("device authorization failed: %s", code)
}

// Refresher exchanges the qwen refresh grant for a new access token.
func (q *QwenFlow) Refresher() pool.RefresherFunc {
	return func(ctx context.Context, creds *providers.Credentials) (*providers.Credentials, error) {
		form := url.Values{
			"grant_type":    {"refresh_token"},
			"client_id":     {q.Config.ClientID},
			"refresh_token": {creds.RefreshToken},
		}
		body, err := q.postForm(ctx, q.Config.TokenURL, form)
		if err != nil {
			return nil, err
		}

		var token qwenTokenResponse
		if err := json.Unmarshal(body, &token); err != nil {
			return nil, fmt.Errorf("decode refresh response: %w", err)
		}
		if token.Error != "" {
			if token.Error == "invalid_grant" {
				return nil, fmt.Errorf("%w: %s", pool.ErrReauthRequired, token.Error)
			}
			return nil, fmt.Errorf("refresh failed: %s %s", token.Error, token.ErrorDesc)
		}

		fresh := *creds
		fresh.AccessToken = token.AccessToken
		if token.RefreshToken != "" {
			fresh.RefreshToken = token.RefreshToken
		}
		if token.ResourceURL != "" {
			fresh.ResourceURL = token.ResourceURL
		}
		fresh.ExpiresAtMs = nowMilli() + token.ExpiresIn*1000
		return &fresh, nil
	}
}

// postForm sends a form POST and returns the body regardless of status so
// callers can surface the OAuth error field.
func (q *QwenFlow) postForm(ctx context.Context, endpoint string, form url.Values) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	resp, err := q.client().Do(req)
	if err != nil {
		return nil, fmt.Errorf("qwen oauth request: %w", err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("read qwen oauth response: %w", err)
	}
	return body, nil
}
