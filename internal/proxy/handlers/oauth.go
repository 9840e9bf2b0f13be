package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/hhszzzz/antihub/internal/auth"
	"github.com/hhszzzz/antihub/internal/config"
	"github.com/hhszzzz/antihub/internal/providers"
	"github.com/hhszzzz/antihub/internal/proxy/middleware"
	"github.com/hhszzzz/antihub/internal/session"
)

type authorizeRequest struct {
	Name   string `json:"name"`
	Shared bool   `json:"shared"`
}

// AuthorizeHandler begins an authorization. Google-based providers get a
// consent URL; qwen gets device-flow verification details. kiro has no
// interactive flow and is rejected here.
func AuthorizeHandler(g *Gateway) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		provider, apiErr := providerParam(r)
		if apiErr != nil {
			writeOpenAIError(w, apiErr)
			return
		}
		var req authorizeRequest
		if body, err := readBody(r); err == nil && len(body) > 0 {
			json.Unmarshal(body, &req)
		}
		userID := middleware.UserID(r)

		switch provider {
		case providers.Antigravity, providers.GeminiCLI:
			flow := g.authCodeFlow(provider)
			sess, err := flow.Begin(r.Context(), userID, req.Name, req.Shared)
			if err != nil {
				writeOpenAIError(w, &apiError{Status: http.StatusInternalServerError, Type: "api_error", Message: err.Error()})
				return
			}
			client := g.oauthClient(provider)
			writeJSON(w, http.StatusOK, map[string]string{
				"state":    sess.State,
				"auth_url": auth.AuthCodeURL(client, sess.State),
			})

		case providers.Qwen:
			flow := g.deviceFlow()
			sess, start, err := flow.Begin(r.Context(), userID, req.Name, req.Shared)
			if err != nil {
				writeOpenAIError(w, &apiError{Status: http.StatusBadGateway, Type: "api_error", Message: err.Error()})
				return
			}
			writeJSON(w, http.StatusOK, map[string]interface{}{
				"state":                     sess.State,
				"user_code":                 start.UserCode,
				"verification_uri":          start.VerificationURI,
				"verification_uri_complete": start.VerificationURIComplete,
				"interval":                  start.Interval,
				"expires_in":                start.ExpiresIn,
			})

		default:
			writeOpenAIError(w, invalidRequest("%s accounts are imported, not authorized interactively", provider))
		}
	}
}

// CallbackHandler completes an auth-code flow from the pasted redirect.
func CallbackHandler(g *Gateway) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		provider, apiErr := providerParam(r)
		if apiErr != nil {
			writeOpenAIError(w, apiErr)
			return
		}
		if provider != providers.Antigravity && provider != providers.GeminiCLI {
			writeOpenAIError(w, invalidRequest("%s does not use the callback flow", provider))
			return
		}
		body, err := readBody(r)
		if err != nil {
			writeOpenAIError(w, invalidRequest("read request: %v", err))
			return
		}
		var req struct {
			State    string `json:"state"`
			Callback string `json:"callback"`
		}
		if err := json.Unmarshal(body, &req); err != nil {
			writeOpenAIError(w, invalidRequest("parse request: %v", err))
			return
		}

		flow := g.authCodeFlow(provider)
		result, err := flow.Complete(r.Context(), middleware.UserID(r), req.State, req.Callback)
		if err != nil {
			writeOpenAIError(w, invalidRequest("%v", err))
			return
		}
		writeJSON(w, http.StatusOK, result)
	}
}

// StatusHandler performs one device-flow poll step.
func StatusHandler(g *Gateway) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		provider, apiErr := providerParam(r)
		if apiErr != nil {
			writeOpenAIError(w, apiErr)
			return
		}
		if provider != providers.Qwen {
			writeOpenAIError(w, invalidRequest("%s does not use the device flow", provider))
			return
		}
		state := r.URL.Query().Get("state")
		if state == "" {
			writeOpenAIError(w, invalidRequest("state is required"))
			return
		}
		result, err := g.deviceFlow().Status(r.Context(), middleware.UserID(r), state)
		if err != nil {
			writeOpenAIError(w, invalidRequest("%v", err))
			return
		}
		writeJSON(w, http.StatusOK, result)
	}
}

func (g *Gateway) oauthClient(provider string) config.OAuthClient {
	if provider == providers.GeminiCLI {
		return g.Cfg.Providers.GeminiCLI.OAuth
	}
	return g.Cfg.Providers.Antigravity.OAuth
}

func (g *Gateway) authCodeFlow(provider string) *session.AuthCodeFlow {
	client := g.oauthClient(provider)
	return &session.AuthCodeFlow{
		Store:    g.Sessions,
		Provider: provider,
		Exchange: func(ctx context.Context, code string) (*session.AuthToken, error) {
			return auth.ExchangeCode(ctx, client, code)
		},
		Bind: func(ctx context.Context, sess *session.Session, token *session.AuthToken) (string, string, error) {
			return g.bindGoogleAccount(ctx, provider, sess, token)
		},
	}
}

func (g *Gateway) deviceFlow() *session.DeviceFlow {
	return &session.DeviceFlow{
		Store:    g.Sessions,
		Provider: providers.Qwen,
		Start:    g.QwenFlow.StartDevice,
		Poll:     g.QwenFlow.PollDevice,
		Bind: func(ctx context.Context, sess *session.Session, token *session.DeviceToken) (string, string, error) {
			email := fmt.Sprintf("qwen-%d", time.Now().Unix())
			creds := &providers.Credentials{
				AccessToken:  token.AccessToken,
				RefreshToken: token.RefreshToken,
				ResourceURL:  token.ResourceURL,
				ExpiresAtMs:  time.Now().UnixMilli() + token.ExpiresIn*1000,
			}
			account, err := g.upsertAccount(providers.Qwen, sess.UserID, sess.Name, sess.Shared, email, creds)
			if err != nil {
				return "", "", err
			}
			log.Printf("✅ qwen account %s authorized", account.ID)
			return account.ID, account.Email, nil
		},
	}
}

// bindGoogleAccount runs provider onboarding after the code exchange:
// resolve the email, load (or create) the managed project, then persist
// the credentials under the natural key.
func (g *Gateway) bindGoogleAccount(ctx context.Context, provider string, sess *session.Session, token *session.AuthToken) (string, string, error) {
	email, err := auth.FetchUserEmail(ctx, g.HTTP, g.Cfg.Providers.Antigravity.UserInfoURL, token.AccessToken)
	if err != nil {
		return "", "", fmt.Errorf("resolve account email: %w", err)
	}

	cc := g.Antigravity
	if provider == providers.GeminiCLI {
		cc = g.GeminiCLI
	}
	assist, err := cc.LoadCodeAssist(ctx, token.AccessToken)
	if err != nil {
		return "", "", fmt.Errorf("load project: %w", err)
	}
	projectID := assist.ProjectID
	if projectID == "" && len(assist.AllowedTiers) > 0 {
		projectID, err = cc.OnboardUser(ctx, token.AccessToken, assist.AllowedTiers[0], "")
		if err != nil {
			return "", "", fmt.Errorf("onboard account: %w", err)
		}
	}

	creds := &providers.Credentials{
		AccessToken:  token.AccessToken,
		RefreshToken: token.RefreshToken,
		ProjectID:    projectID,
		CookieID:     auth.CookieID(token.RefreshToken),
		ExpiresAtMs:  time.Now().UnixMilli() + token.ExpiresIn*1000,
	}
	account, err := g.upsertAccount(provider, sess.UserID, sess.Name, sess.Shared, email, creds)
	if err != nil {
		return "", "", err
	}
	log.Printf("✅ %s account %s (%s) authorized", provider, account.ID, email)
	return account.ID, account.Email, nil
}
