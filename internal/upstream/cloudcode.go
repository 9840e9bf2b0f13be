package upstream

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
)

// CloudCode calls the v1internal generate endpoints shared by the
// antigravity and gemini-cli providers. Endpoints are tried in order;
// 429, 403 and 5xx answers fall through to the next one.
type CloudCode struct {
	Endpoints []string
	UserAgent string
	Metadata  map[string]string
	HTTP      *http.Client
}

func (c *CloudCode) client() *http.Client {
	if c.HTTP != nil {
		return c.HTTP
	}
	return http.DefaultClient
}

// Envelope wraps a Gemini-format request for the Cloud Code API.
type Envelope struct {
	Model   string                 `json:"model"`
	Project string                 `json:"project,omitempty"`
	Request map[string]interface{} `json:"request"`
}

func (c *CloudCode) envelopeBody(env *Envelope) (map[string]interface{}, error) {
	if env.Model == "" {
		return nil, fmt.Errorf("envelope is missing the model")
	}
	body := map[string]interface{}{
		"model":   env.Model,
		"request": env.Request,
	}
	if env.Project != "" {
		body["project"] = env.Project
	}
	return body, nil
}

// Stream opens a streamGenerateContent SSE response.
func (c *CloudCode) Stream(ctx context.Context, accessToken string, env *Envelope) (*http.Response, error) {
	body, err := c.envelopeBody(env)
	if err != nil {
		return nil, err
	}
	return c.withFallback(ctx, accessToken, "streamGenerateContent", "alt=sse", body)
}

// Generate performs a non-streaming generateContent call.
func (c *CloudCode) Generate(ctx context.Context, accessToken string, env *Envelope) (*http.Response, error) {
	body, err := c.envelopeBody(env)
	if err != nil {
		return nil, err
	}
	return c.withFallback(ctx, accessToken, "generateContent", "", body)
}

// LoadCodeAssist reports the project and tier the account is onboarded to.
type CodeAssist struct {
	ProjectID   string
	CurrentTier string
	// Tier IDs the account may onboard onto, default first.
	AllowedTiers []string
}

func (c *CloudCode) LoadCodeAssist(ctx context.Context, accessToken string) (*CodeAssist, error) {
	resp, err := c.withFallback(ctx, accessToken, "loadCodeAssist", "", map[string]interface{}{
		"metadata": c.Metadata,
	})
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, readHTTPError(resp)
	}

	var parsed struct {
		CloudAICompanionProject string `json:"cloudaicompanionProject"`
		CurrentTier             struct {
			ID string `json:"id"`
		} `json:"currentTier"`
		AllowedTiers []struct {
			ID        string `json:"id"`
			IsDefault bool   `json:"isDefault"`
		} `json:"allowedTiers"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("decode loadCodeAssist: %w", err)
	}

	assist := &CodeAssist{
		ProjectID:   parsed.CloudAICompanionProject,
		CurrentTier: parsed.CurrentTier.ID,
	}
	for _, tier := range parsed.AllowedTiers {
		if tier.IsDefault {
			assist.AllowedTiers = append([]string{tier.ID}, assist.AllowedTiers...)
			continue
		}
		assist.AllowedTiers = append(assist.AllowedTiers, tier.ID)
	}
	return assist, nil
}

// OnboardUser enrolls the account on a tier and returns the project the
// operation settled on. The API answers with a long-running operation;
// the project shows up once it is done.
func (c *CloudCode) OnboardUser(ctx context.Context, accessToken, tierID, projectID string) (string, error) {
	payload := map[string]interface{}{
		"tierId":   tierID,
		"metadata": c.Metadata,
	}
	if projectID != "" {
		payload["cloudaicompanionProject"] = projectID
	}

	resp, err := c.withFallback(ctx, accessToken, "onboardUser", "", payload)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", readHTTPError(resp)
	}

	var operation struct {
		Done     bool `json:"done"`
		Response struct {
			CloudAICompanionProject struct {
				ID string `json:"id"`
			} `json:"cloudaicompanionProject"`
		} `json:"response"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&operation); err != nil {
		return "", fmt.Errorf("decode onboardUser: %w", err)
	}
	if id := operation.Response.CloudAICompanionProject.ID; id != "" {
		return id, nil
	}
	return projectID, nil
}

// FetchModels lists the models the account can reach.
func (c *CloudCode) FetchModels(ctx context.Context, accessToken string) (*http.Response, error) {
	return c.withFallback(ctx, accessToken, "fetchAvailableModels", "", map[string]interface{}{})
}

func (c *CloudCode) withFallback(ctx context.Context, accessToken, method, query string, payload interface{}) (*http.Response, error) {
	var lastErr error
	var lastResp *http.Response

	for i, base := range c.Endpoints {
		target := fmt.Sprintf("%s:%s", base, method)
		if query != "" {
			target += "?" + query
		}

		resp, err := c.do(ctx, target, accessToken, payload)
		if err != nil {
			lastErr = err
			log.Printf("⚠️ cloudcode endpoint %d/%d failed: %v", i+1, len(c.Endpoints), err)
			continue
		}
		if resp.StatusCode == http.StatusOK {
			if lastResp != nil {
				lastResp.Body.Close()
			}
			if i > 0 {
				log.Printf("✅ cloudcode fallback to endpoint %d succeeded", i+1)
			}
			return resp, nil
		}
		if resp.StatusCode == http.StatusTooManyRequests ||
			resp.StatusCode == http.StatusForbidden ||
			resp.StatusCode >= 500 {
			log.Printf("⚠️ cloudcode endpoint %d returned %d, trying next", i+1, resp.StatusCode)
			if lastResp != nil {
				lastResp.Body.Close()
			}
			lastResp = resp
			lastErr = fmt.Errorf("endpoint %d returned %d", i+1, resp.StatusCode)
			continue
		}
		// Other 4xx answers are about the request, not the endpoint.
		if lastResp != nil {
			lastResp.Body.Close()
		}
		return resp, nil
	}

	if lastResp != nil {
		return lastResp, nil
	}
	if lastErr == nil {
		lastErr = fmt.Errorf("no cloudcode endpoints configured")
	}
	return nil, lastErr
}

func (c *CloudCode) do(ctx context.Context, target, accessToken string, payload interface{}) (*http.Response, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target, bytes.NewReader(raw))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("Content-Type", "application/json")
	if c.UserAgent != "" {
		req.Header.Set("User-Agent", c.UserAgent)
	}
	if len(c.Metadata) > 0 {
		meta, _ := json.Marshal(c.Metadata)
		req.Header.Set("Client-Metadata", string(meta))
	}
	return c.client().Do(req)
}

func readHTTPError(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
	return &HTTPError{StatusCode: resp.StatusCode, Body: body}
}
