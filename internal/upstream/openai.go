package upstream

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
)

// OpenAICompat posts chat requests to an OpenAI-compatible API base with
// bearer authentication. qwen derives its base from the per-account
// resource host; kiro uses the configured service base.
type OpenAICompat struct {
	BaseURL string
	Headers map[string]string
	HTTP    *http.Client
}

func (p *OpenAICompat) client() *http.Client {
	if p.HTTP != nil {
		return p.HTTP
	}
	return http.DefaultClient
}

// ChatCompletions forwards an already-encoded chat/completions body.
func (p *OpenAICompat) ChatCompletions(ctx context.Context, accessToken string, body []byte) (*http.Response, error) {
	return p.post(ctx, "/chat/completions", accessToken, bytes.NewReader(body))
}

// PostJSON sends an arbitrary provider call, e.g. the kiro usage-limit
// lookup backing the balance endpoint.
func (p *OpenAICompat) PostJSON(ctx context.Context, path, accessToken string, payload interface{}) (*http.Response, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}
	return p.post(ctx, path, accessToken, bytes.NewReader(raw))
}

func (p *OpenAICompat) post(ctx context.Context, path, accessToken string, body *bytes.Reader) (*http.Response, error) {
	base := strings.TrimRight(p.BaseURL, "/")
	if base == "" {
		return nil, fmt.Errorf("openai-compatible base URL is empty")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, base+path, body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json, text/event-stream")
	for k, v := range p.Headers {
		req.Header.Set(k, v)
	}
	return p.client().Do(req)
}

// ResourceBaseURL turns a qwen resource host into an API base. Hosts come
// back bare ("portal.qwen.ai") or with a scheme already attached.
func ResourceBaseURL(resource string) string {
	trimmed := strings.TrimRight(strings.TrimSpace(resource), "/")
	if trimmed == "" {
		return ""
	}
	if !strings.Contains(trimmed, "://") {
		trimmed = "https://" + trimmed
	}
	if strings.HasSuffix(trimmed, "/v1") {
		return trimmed
	}
	return trimmed + "/v1"
}
