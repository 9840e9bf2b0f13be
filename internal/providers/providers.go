// Package providers defines the upstream provider kinds and the per-kind
// pool and refresh policies.
package providers

import (
	"encoding/json"
	"fmt"
	"time"
)

// Provider kinds.
const (
	Antigravity = "antigravity"
	GeminiCLI   = "gemini_cli"
	Qwen        = "qwen"
	Kiro        = "kiro"
)

// All lists every known provider kind.
var All = []string{Antigravity, GeminiCLI, Qwen, Kiro}

// Known reports whether kind names a supported provider.
func Known(kind string) bool {
	for _, p := range All {
		if p == kind {
			return true
		}
	}
	return false
}

// Policy captures how a provider's account pool behaves.
type Policy struct {
	// SharedPool admits ownerless accounts into any user's candidates.
	SharedPool bool
	// RandomSelect picks uniformly among eligible candidates; without it
	// the pool is effectively size 0/1 and the first eligible account is
	// used.
	RandomSelect bool
	// RefreshMargin is subtracted from the token expiry before deciding
	// a refresh is due.
	RefreshMargin time.Duration
	// Dialect is the upstream wire format: "gemini" or "openai".
	Dialect string
}

var policies = map[string]Policy{
	Antigravity: {SharedPool: false, RandomSelect: false, RefreshMargin: 5 * time.Minute, Dialect: "gemini"},
	GeminiCLI:   {SharedPool: false, RandomSelect: false, RefreshMargin: 5 * time.Minute, Dialect: "gemini"},
	Qwen:        {SharedPool: true, RandomSelect: true, RefreshMargin: 5 * time.Minute, Dialect: "openai"},
	Kiro:        {SharedPool: true, RandomSelect: true, RefreshMargin: 5 * time.Minute, Dialect: "openai"},
}

// PolicyFor returns the pool policy for a provider kind.
func PolicyFor(kind string) (Policy, error) {
	policy, ok := policies[kind]
	if !ok {
		return Policy{}, fmt.Errorf("unknown provider %q", kind)
	}
	return policy, nil
}

// Credentials is the decrypted shape of an account's secret blob. Fields
// are provider-specific; absent ones stay empty.
type Credentials struct {
	AccessToken  string `json:"access_token,omitempty"`
	RefreshToken string `json:"refresh_token,omitempty"`

	// kiro: "social" or "idc"; idc requires the client pair.
	AuthMethod   string `json:"auth_method,omitempty"`
	ClientID     string `json:"client_id,omitempty"`
	ClientSecret string `json:"client_secret,omitempty"`
	Region       string `json:"region,omitempty"`

	// Google-based providers.
	ProjectID string `json:"project_id,omitempty"`
	CookieID  string `json:"cookie_id,omitempty"`

	// qwen: API host extracted from the token response.
	ResourceURL string `json:"resource_url,omitempty"`

	ExpiresAtMs int64 `json:"expires_at_ms,omitempty"`
}

// Encode serializes credentials for the vault.
func (c *Credentials) Encode() (string, error) {
	raw, err := json.Marshal(c)
	if err != nil {
		return "", fmt.Errorf("encode credentials: %w", err)
	}
	return string(raw), nil
}

// DecodeCredentials parses a decrypted blob.
func DecodeCredentials(plaintext string) (*Credentials, error) {
	var creds Credentials
	if err := json.Unmarshal([]byte(plaintext), &creds); err != nil {
		return nil, fmt.Errorf("decode credentials: %w", err)
	}
	return &creds, nil
}
