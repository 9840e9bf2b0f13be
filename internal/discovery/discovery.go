// Package discovery scans well-known local CLI caches for credentials
// that can be imported as gateway accounts. Tokens are masked before
// anything leaves the process.
package discovery

import (
	"encoding/json"
	"log"
	"os"
	"path/filepath"
	"strings"

	"github.com/hhszzzz/antihub/internal/providers"
)

// Found is one discovered credential set. Token fields hold the real
// material internally; Masked() must be applied before serving them.
type Found struct {
	Provider   string                `json:"provider"`
	ConfigPath string                `json:"config_path"`
	Email      string                `json:"email,omitempty"`
	Creds      providers.Credentials `json:"credentials"`
}

type source struct {
	provider string
	paths    []string
	parse    func(path string) (*Found, error)
}

var sources = []source{
	{
		provider: providers.Qwen,
		paths:    []string{"~/.qwen/oauth_creds.json"},
		parse:    parseQwen,
	},
	{
		provider: providers.Kiro,
		paths: []string{
			"~/.aws/sso/cache/kiro-auth-token.json",
			"~/.kiro/auth-token.json",
		},
		parse: parseKiro,
	},
}

// ScanResult is what the scan endpoint returns.
type ScanResult struct {
	Credentials []Found     `json:"credentials"`
	Errors      []ScanError `json:"errors,omitempty"`
}

// ScanError records one unreadable or unparseable candidate file.
type ScanError struct {
	Provider string `json:"provider"`
	Path     string `json:"path"`
	Error    string `json:"error"`
}

// ScanAll walks every known source.
func ScanAll() *ScanResult {
	result := &ScanResult{Credentials: []Found{}, Errors: []ScanError{}}
	for _, src := range sources {
		for _, pattern := range src.paths {
			matches, _ := filepath.Glob(expandPath(pattern))
			for _, path := range matches {
				found, err := src.parse(path)
				if err != nil {
					result.Errors = append(result.Errors, ScanError{Provider: src.provider, Path: path, Error: err.Error()})
					continue
				}
				if found != nil && found.Creds.RefreshToken != "" {
					log.Printf("🔍 found %s credentials at %s", src.provider, path)
					result.Credentials = append(result.Credentials, *found)
				}
			}
		}
	}
	log.Printf("🔍 discovery: %d credential sets found", len(result.Credentials))
	return result
}

func expandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, path[2:])
		}
	}
	return path
}

func parseQwen(path string) (*Found, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var raw struct {
		AccessToken  string `json:"access_token"`
		RefreshToken string `json:"refresh_token"`
		ResourceURL  string `json:"resource_url"`
		ExpiryDate   int64  `json:"expiry_date"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, err
	}
	return &Found{
		Provider:   providers.Qwen,
		ConfigPath: path,
		Creds: providers.Credentials{
			AccessToken:  raw.AccessToken,
			RefreshToken: raw.RefreshToken,
			ResourceURL:  raw.ResourceURL,
			ExpiresAtMs:  raw.ExpiryDate,
		},
	}, nil
}

func parseKiro(path string) (*Found, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var raw struct {
		AccessToken  string `json:"accessToken"`
		RefreshToken string `json:"refreshToken"`
		AuthMethod   string `json:"authMethod"`
		ClientID     string `json:"clientId"`
		ClientSecret string `json:"clientSecret"`
		Region       string `json:"region"`
		ExpiresAt    int64  `json:"expiresAt"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, err
	}
	method := raw.AuthMethod
	if method == "" {
		method = "social"
	}
	return &Found{
		Provider:   providers.Kiro,
		ConfigPath: path,
		Creds: providers.Credentials{
			AccessToken:  raw.AccessToken,
			RefreshToken: raw.RefreshToken,
			AuthMethod:   method,
			ClientID:     raw.ClientID,
			ClientSecret: raw.ClientSecret,
			Region:       raw.Region,
			ExpiresAtMs:  raw.ExpiresAt,
		},
	}, nil
}

// MaskToken shortens a token for display.
func MaskToken(token string) string {
	if len(token) <= 8 {
		return "***"
	}
	return token[:4] + "..." + token[len(token)-4:]
}

// Masked returns a display-safe copy.
func (f Found) Masked() Found {
	masked := f
	masked.Creds.AccessToken = MaskToken(f.Creds.AccessToken)
	masked.Creds.RefreshToken = MaskToken(f.Creds.RefreshToken)
	masked.Creds.ClientSecret = MaskToken(f.Creds.ClientSecret)
	return masked
}
