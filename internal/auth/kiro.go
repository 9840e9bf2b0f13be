package auth

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/hhszzzz/antihub/internal/config"
	"github.com/hhszzzz/antihub/internal/pool"
	"github.com/hhszzzz/antihub/internal/providers"
)

// Kiro auth methods. Accounts are imported with an existing refresh token;
// the method decides which refresh endpoint the grant belongs to.
const (
	KiroAuthSocial = "social"
	KiroAuthIdc    = "idc"
)

// KiroRefresher refreshes imported kiro grants. Social accounts hit the
// desktop auth service; IdC accounts hit the regional OIDC endpoint with
// their own client pair.
func KiroRefresher(cfg config.Kiro, httpClient *http.Client) pool.RefresherFunc {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return func(ctx context.Context, creds *providers.Credentials) (*providers.Credentials, error) {
		region := creds.Region
		if region == "" {
			region = cfg.DefaultRegion
		}
		switch creds.AuthMethod {
		case KiroAuthIdc:
			return refreshKiroIdc(ctx, httpClient, regionURL(cfg.IdcRefreshURL, region), creds)
		default:
			return refreshKiroSocial(ctx, httpClient, regionURL(cfg.SocialRefreshURL, region), creds)
		}
	}
}

func regionURL(template, region string) string {
	return strings.ReplaceAll(template, "{region}", region)
}

func refreshKiroSocial(ctx context.Context, httpClient *http.Client, endpoint string, creds *providers.Credentials) (*providers.Credentials, error) {
	body, status, err := postJSON(ctx, httpClient, endpoint, map[string]string{
		"refreshToken": creds.RefreshToken,
	})
	if err != nil {
		return nil, err
	}
	if status == http.StatusBadRequest || status == http.StatusUnauthorized || status == http.StatusForbidden {
		return nil, fmt.Errorf("%w: social refresh returned %d", pool.ErrReauthRequired, status)
	}
	if status != http.StatusOK {
		return nil, fmt.Errorf("social refresh returned %d", status)
	}

	var token struct {
		AccessToken  string `json:"accessToken"`
		RefreshToken string `json:"refreshToken"`
		ExpiresIn    int64  `json:"expiresIn"`
	}
	if err := json.Unmarshal(body, &token); err != nil {
		return nil, fmt.Errorf("decode social refresh response: %w", err)
	}
	if token.AccessToken == "" {
		return nil, fmt.Errorf("social refresh response is missing accessToken")
	}
	return kiroRotated(creds, token.AccessToken, token.RefreshToken, token.ExpiresIn), nil
}

func refreshKiroIdc(ctx context.Context, httpClient *http.Client, endpoint string, creds *providers.Credentials) (*providers.Credentials, error) {
	if creds.ClientID == "" || creds.ClientSecret == "" {
		return nil, fmt.Errorf("%w: idc account is missing its client pair", pool.ErrReauthRequired)
	}
	body, status, err := postJSON(ctx, httpClient, endpoint, map[string]string{
		"clientId":     creds.ClientID,
		"clientSecret": creds.ClientSecret,
		"refreshToken": creds.RefreshToken,
		"grantType":    "refresh_token",
	})
	if err != nil {
		return nil, err
	}
	if status == http.StatusBadRequest || status == http.StatusUnauthorized {
		return nil, fmt.Errorf("%w: idc refresh returned %d", pool.ErrReauthRequired, status)
	}
	if status != http.StatusOK {
		return nil, fmt.Errorf("idc refresh returned %d", status)
	}

	var token struct {
		AccessToken  string `json:"accessToken"`
		RefreshToken string `json:"refreshToken"`
		ExpiresIn    int64  `json:"expiresIn"`
	}
	if err := json.Unmarshal(body, &token); err != nil {
		return nil, fmt.Errorf("decode idc refresh response: %w", err)
	}
	if token.AccessToken == "" {
		return nil, fmt.Errorf("idc refresh response is missing accessToken")
	}
	return kiroRotated(creds, token.AccessToken, token.RefreshToken, token.ExpiresIn), nil
}

func kiroRotated(creds *providers.Credentials, accessToken, refreshToken string, expiresIn int64) *providers.Credentials {
	fresh := *creds
	fresh.AccessToken = accessToken
	if refreshToken != "" {
		fresh.RefreshToken = refreshToken
	}
	fresh.ExpiresAtMs = nowMilli() + expiresIn*1000
	return &fresh
}

func postJSON(ctx context.Context, httpClient *http.Client, endpoint string, payload interface{}) ([]byte, int, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, 0, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(raw))
	if err != nil {
		return nil, 0, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := httpClient.Do(req)
	if err != nil {
		return nil, 0, fmt.Errorf("refresh request: %w", err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, 0, fmt.Errorf("read refresh response: %w", err)
	}
	return body, resp.StatusCode, nil
}

func nowMilli() int64 {
	return time.Now().UnixMilli()
}
