// Package auth implements the provider authorization flows: Google
// authorization-code OAuth for the Cloud Code providers, the qwen device
// flow, and the token refreshers the account pool uses.
package auth

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"golang.org/x/oauth2"

	"github.com/hhszzzz/antihub/internal/config"
	"github.com/hhszzzz/antihub/internal/pool"
	"github.com/hhszzzz/antihub/internal/providers"
	"github.com/hhszzzz/antihub/internal/session"
)

// OAuthConfig builds an oauth2 config from a provider's client block.
func OAuthConfig(client config.OAuthClient) *oauth2.Config {
	return &oauth2.Config{
		ClientID:     client.ClientID,
		ClientSecret: client.ClientSecret,
		RedirectURL:  client.RedirectURI,
		Scopes:       strings.Fields(client.Scope),
		Endpoint: oauth2.Endpoint{
			AuthURL:  client.AuthURL,
			TokenURL: client.TokenURL,
		},
	}
}

// AuthCodeURL returns the consent URL for a pending session. Offline access
// is requested so the exchange yields a refresh token.
func AuthCodeURL(client config.OAuthClient, state string) string {
	return OAuthConfig(client).AuthCodeURL(state,
		oauth2.AccessTypeOffline,
		oauth2.SetAuthURLParam("prompt", "consent"))
}

// ExchangeCode trades an authorization code for tokens.
func ExchangeCode(ctx context.Context, client config.OAuthClient, code string) (*session.AuthToken, error) {
	token, err := OAuthConfig(client).Exchange(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("code exchange: %w", err)
	}
	idToken, _ := token.Extra("id_token").(string)
	return &session.AuthToken{
		AccessToken:  token.AccessToken,
		RefreshToken: token.RefreshToken,
		ExpiresIn:    int64(time.Until(token.Expiry).Seconds()),
		IDToken:      idToken,
	}, nil
}

// FetchUserEmail resolves the account's email via the userinfo endpoint.
func FetchUserEmail(ctx context.Context, httpClient *http.Client, userInfoURL, accessToken string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, userInfoURL, nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)

	resp, err := httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("fetch userinfo: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("userinfo returned %d", resp.StatusCode)
	}

	var info struct {
		Email string `json:"email"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&info); err != nil {
		return "", fmt.Errorf("decode userinfo: %w", err)
	}
	if info.Email == "" {
		return "", fmt.Errorf("userinfo has no email")
	}
	return info.Email, nil
}

// CookieID derives the stable per-account identifier sent to the Cloud
// Code API, bound to the refresh grant rather than the rotating access
// token.
func CookieID(refreshToken string) string {
	sum := sha256.Sum256([]byte(refreshToken))
	return hex.EncodeToString(sum[:])[:32]
}

// GoogleRefresher refreshes Google-issued tokens for one OAuth client.
func GoogleRefresher(client config.OAuthClient) pool.RefresherFunc {
	return func(ctx context.Context, creds *providers.Credentials) (*providers.Credentials, error) {
		cfg := OAuthConfig(client)
		source := cfg.TokenSource(ctx, &oauth2.Token{RefreshToken: creds.RefreshToken})
		token, err := source.Token()
		if err != nil {
			if isInvalidGrant(err) {
				return nil, fmt.Errorf("%w: %v", pool.ErrReauthRequired, err)
			}
			return nil, err
		}
		fresh := *creds
		fresh.AccessToken = token.AccessToken
		if token.RefreshToken != "" {
			fresh.RefreshToken = token.RefreshToken
			fresh.CookieID = CookieID(token.RefreshToken)
		}
		fresh.ExpiresAtMs = token.Expiry.UnixMilli()
		return &fresh, nil
	}
}

func isInvalidGrant(err error) bool {
	var retrieveErr *oauth2.RetrieveError
	if errors.As(err, &retrieveErr) {
		return retrieveErr.ErrorCode == "invalid_grant" ||
			(retrieveErr.Response != nil && retrieveErr.Response.StatusCode == http.StatusBadRequest)
	}
	return strings.Contains(err.Error(), "invalid_grant")
}
