// Package handlers implements the gateway's HTTP surface: the Messages
// and Chat Completions model APIs plus the account and OAuth management
// endpoints.
package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"

	"github.com/tidwall/gjson"
	"gorm.io/gorm"

	"github.com/hhszzzz/antihub/internal/adapter"
	"github.com/hhszzzz/antihub/internal/auth"
	"github.com/hhszzzz/antihub/internal/config"
	"github.com/hhszzzz/antihub/internal/db/models"
	"github.com/hhszzzz/antihub/internal/errordump"
	"github.com/hhszzzz/antihub/internal/logging"
	"github.com/hhszzzz/antihub/internal/pool"
	"github.com/hhszzzz/antihub/internal/providers"
	"github.com/hhszzzz/antihub/internal/session"
	"github.com/hhszzzz/antihub/internal/upstream"
	"github.com/hhszzzz/antihub/internal/usagelog"
	"github.com/hhszzzz/antihub/internal/util"
)

// Gateway bundles the collaborators every handler needs.
type Gateway struct {
	Cfg      *config.Config
	DB       *gorm.DB
	Pool     *pool.Manager
	Sessions *session.Store
	Usage    *usagelog.Recorder
	Dumps    *errordump.Ring

	Antigravity *upstream.CloudCode
	GeminiCLI   *upstream.CloudCode
	HTTP        *http.Client
	QwenFlow    *auth.QwenFlow
}

// NewGateway wires the default upstream clients from configuration.
func NewGateway(cfg *config.Config, database *gorm.DB, poolMgr *pool.Manager, sessions *session.Store, usage *usagelog.Recorder, dumps *errordump.Ring) *Gateway {
	httpClient := upstream.NewHTTPClient()
	return &Gateway{
		Cfg:      cfg,
		DB:       database,
		Pool:     poolMgr,
		Sessions: sessions,
		Usage:    usage,
		Dumps:    dumps,
		Antigravity: &upstream.CloudCode{
			Endpoints: cfg.Providers.Antigravity.Endpoints,
			UserAgent: "antigravity",
			Metadata:  map[string]string{"ideType": "ANTIGRAVITY"},
			HTTP:      httpClient,
		},
		GeminiCLI: &upstream.CloudCode{
			Endpoints: []string{cfg.Providers.GeminiCLI.BaseURL},
			UserAgent: "GeminiCLI",
			HTTP:      httpClient,
		},
		HTTP:     httpClient,
		QwenFlow: &auth.QwenFlow{Config: cfg.Providers.Qwen, HTTP: httpClient},
	}
}

// routeModel decides which provider serves a model. An explicit
// "provider/model" prefix always wins; otherwise qwen models route by
// name and everything else lands on antigravity.
func routeModel(model string) (provider, upstreamModel string, err error) {
	if p, m, ok := strings.Cut(model, "/"); ok && providers.Known(p) {
		if m == "" {
			return "", "", fmt.Errorf("model %q has no name after the provider prefix", model)
		}
		return p, m, nil
	}
	if model == "" {
		return "", "", fmt.Errorf("model is required")
	}
	if strings.Contains(strings.ToLower(model), "qwen") {
		return providers.Qwen, model, nil
	}
	return providers.Antigravity, model, nil
}

// apiError is a classified request failure ready for either wire shape.
type apiError struct {
	Status  int
	Type    string
	Message string
}

func (e *apiError) Error() string { return e.Message }

func invalidRequest(format string, args ...interface{}) *apiError {
	return &apiError{Status: http.StatusBadRequest, Type: "invalid_request_error", Message: fmt.Sprintf(format, args...)}
}

// upstreamResult is one successful upstream call ready for translation.
type upstreamResult struct {
	resp    *http.Response
	account *models.Account
	dialect string // "gemini" or "openai"
}

const retryBudget = 3

// dispatch selects an account and performs the upstream call, walking the
// pool on transient failures. 401/403 disables the failing account before
// moving on; 429 and 5xx move on without disabling; other 4xx surface
// immediately.
func (g *Gateway) dispatch(ctx context.Context, userID string, canonical *adapter.Request) (*upstreamResult, *apiError) {
	provider, upstreamModel, err := routeModel(canonical.Model)
	if err != nil {
		return nil, invalidRequest("%v", err)
	}
	canonical.Model = upstreamModel
	policy, err := providers.PolicyFor(provider)
	if err != nil {
		return nil, invalidRequest("%v", err)
	}

	requestID := logging.GetRequestID(ctx)
	exclude := map[string]bool{}
	var lastFailure string

	for attempt := 0; attempt < retryBudget; attempt++ {
		account, err := g.Pool.Select(userID, provider, exclude)
		if err != nil {
			if err == pool.ErrNoAccount && attempt == 0 {
				return nil, &apiError{Status: http.StatusServiceUnavailable, Type: "upstream_error",
					Message: fmt.Sprintf("no eligible %s account", provider)}
			}
			break
		}
		exclude[account.ID] = true

		token, err := g.Pool.ValidAccessToken(ctx, account)
		if err != nil {
			log.Printf("⚠️ [%s] token for account %s unavailable: %v", requestID, account.ID, err)
			lastFailure = err.Error()
			continue
		}
		creds, err := g.Pool.Credentials(account)
		if err != nil {
			lastFailure = err.Error()
			continue
		}
		creds.AccessToken = token

		resp, err := g.callUpstream(ctx, provider, creds, canonical)
		if err != nil {
			log.Printf("⚠️ [%s] %s call failed on account %s: %v", requestID, provider, account.ID, err)
			lastFailure = err.Error()
			continue
		}
		if resp.StatusCode == http.StatusOK {
			return &upstreamResult{resp: resp, account: account, dialect: policy.Dialect}, nil
		}

		body, _ := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
		resp.Body.Close()
		g.Dumps.Dump(&errordump.Record{
			RequestID:  requestID,
			Provider:   provider,
			Model:      canonical.Model,
			StatusCode: resp.StatusCode,
			Body:       string(body),
		})
		message := upstreamMessage(body, resp.StatusCode)
		lastFailure = message
		log.Printf("⚠️ [%s] %s returned %d on account %s: %s", requestID, provider, resp.StatusCode, account.ID, util.TruncateBytes(body))

		switch {
		case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
			g.Pool.MarkFailed(account, message)
		case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
			// Transient; try another account.
		case resp.StatusCode == http.StatusBadRequest:
			return nil, &apiError{Status: http.StatusBadRequest, Type: "invalid_request_error", Message: message}
		default:
			return nil, &apiError{Status: resp.StatusCode, Type: "api_error", Message: message}
		}
	}

	if lastFailure == "" {
		lastFailure = "no eligible account"
	}
	return nil, &apiError{Status: http.StatusServiceUnavailable, Type: "upstream_error",
		Message: fmt.Sprintf("all %s attempts failed: %s", provider, lastFailure)}
}

func (g *Gateway) callUpstream(ctx context.Context, provider string, creds *providers.Credentials, canonical *adapter.Request) (*http.Response, error) {
	switch provider {
	case providers.Antigravity, providers.GeminiCLI:
		request := adapter.CanonicalToGemini(canonical, adapter.GeminiOptions{
			SkipSignatureValidator: provider == providers.Antigravity,
		})
		cc := g.Antigravity
		if provider == providers.GeminiCLI {
			cc = g.GeminiCLI
		}
		env := &upstream.Envelope{Model: canonical.Model, Project: creds.ProjectID, Request: request}
		if canonical.Stream {
			return cc.Stream(ctx, creds.AccessToken, env)
		}
		return cc.Generate(ctx, creds.AccessToken, env)

	case providers.Qwen, providers.Kiro:
		body := adapter.CanonicalToOpenAI(canonical, adapter.OpenAIOptions{
			TextOnly:        provider == providers.Qwen,
			PlaceholderTool: provider == providers.Qwen,
			IncludeUsage:    canonical.Stream,
		})
		raw, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshal chat body: %w", err)
		}
		base := g.Cfg.Providers.Kiro.APIBaseURL
		if provider == providers.Qwen {
			resource := creds.ResourceURL
			if resource == "" {
				resource = g.Cfg.Providers.Qwen.DefaultResourceHost
			}
			base = upstream.ResourceBaseURL(resource)
		}
		client := &upstream.OpenAICompat{BaseURL: base, HTTP: g.HTTP}
		return client.ChatCompletions(ctx, creds.AccessToken, raw)
	}
	return nil, fmt.Errorf("unknown provider %q", provider)
}

// upstreamMessage digs the human-readable error out of an upstream body.
func upstreamMessage(body []byte, status int) string {
	for _, path := range []string{"error.message", "error", "message", "detail"} {
		if v := gjson.GetBytes(body, path); v.Type == gjson.String && v.Str != "" {
			return v.Str
		}
	}
	return fmt.Sprintf("upstream returned %d", status)
}
