// Package config loads gateway configuration from the environment with an
// optional YAML overlay for provider OAuth clients and endpoints.
package config

import (
	"fmt"
	"os"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

// Config is the process-wide configuration. Env vars take effect first,
// then an optional providers YAML file overrides the provider blocks.
type Config struct {
	Host string `env:"HOST" envDefault:"0.0.0.0"`
	Port string `env:"PORT" envDefault:"8080"`

	DBPath        string `env:"DB_PATH" envDefault:"antihub.db"`
	SessionDBPath string `env:"SESSION_DB_PATH" envDefault:"antihub_sessions.db"`

	// VaultPassphrase protects credential blobs at rest. When empty, a
	// random passphrase is generated and persisted in the config table so
	// development setups work out of the box; production should set it.
	VaultPassphrase string `env:"VAULT_PASSPHRASE"`

	ErrorDumpDir string `env:"ERROR_DUMP_DIR" envDefault:"error_dumps"`

	ProvidersFile string `env:"PROVIDERS_FILE"`

	Providers Providers
}

// OAuthClient holds one provider's OAuth client registration.
// All values are configuration-injected; nothing is hardcoded at call sites.
type OAuthClient struct {
	ClientID     string `yaml:"client_id"`
	ClientSecret string `yaml:"client_secret"`
	AuthURL      string `yaml:"auth_url"`
	TokenURL     string `yaml:"token_url"`
	RedirectURI  string `yaml:"redirect_uri"`
	Scope        string `yaml:"scope"`
}

// Antigravity configures the Cloud Code provider: Google OAuth client plus
// the cloudcode endpoints tried in order on transient upstream failures.
type Antigravity struct {
	OAuth       OAuthClient `yaml:"oauth"`
	Endpoints   []string    `yaml:"endpoints"`
	ProjectURL  string      `yaml:"project_url"`
	UserInfoURL string      `yaml:"userinfo_url"`
}

// GeminiCLI configures the gemini-cli provider.
type GeminiCLI struct {
	OAuth   OAuthClient `yaml:"oauth"`
	BaseURL string      `yaml:"base_url"`
}

// Qwen configures the device-flow provider.
type Qwen struct {
	ClientID            string `yaml:"client_id"`
	Scope               string `yaml:"scope"`
	DeviceCodeURL       string `yaml:"device_code_url"`
	TokenURL            string `yaml:"token_url"`
	DefaultResourceHost string `yaml:"default_resource_host"`
}

// Kiro configures the imported-token provider. Refresh endpoints are
// templates with a {region} placeholder.
type Kiro struct {
	APIBaseURL       string `yaml:"api_base_url"`
	SocialRefreshURL string `yaml:"social_refresh_url"`
	IdcRefreshURL    string `yaml:"idc_refresh_url"`
	DefaultRegion    string `yaml:"default_region"`
}

// Providers groups the per-provider blocks.
type Providers struct {
	Antigravity Antigravity `yaml:"antigravity"`
	GeminiCLI   GeminiCLI   `yaml:"gemini_cli"`
	Qwen        Qwen        `yaml:"qwen"`
	Kiro        Kiro        `yaml:"kiro"`
}

// Load parses the environment, fills provider defaults and applies the
// optional YAML overlay named by PROVIDERS_FILE.
func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	cfg.Providers = defaultProviders()
	applyProviderEnv(&cfg.Providers)

	if cfg.ProvidersFile != "" {
		data, err := os.ReadFile(cfg.ProvidersFile)
		if err != nil {
			return nil, fmt.Errorf("read providers file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg.Providers); err != nil {
			return nil, fmt.Errorf("parse providers file: %w", err)
		}
	}
	return cfg, nil
}

func defaultProviders() Providers {
	return Providers{
		Antigravity: Antigravity{
			OAuth: OAuthClient{
				ClientID:     "1071006060591-tmhssin2h21lcre235vtolojh4g403ep.apps.googleusercontent.com",
				ClientSecret: "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",
				AuthURL:      "https://accounts.google.com/o/oauth2/v2/auth",
				TokenURL:     "https://oauth2.googleapis.com/token",
				RedirectURI:  "http://localhost:42532/oauth-callback",
				Scope: "https://www.googleapis.com/auth/cloud-platform " +
					"https://www.googleapis.com/auth/userinfo.email " +
					"https://www.googleapis.com/auth/userinfo.profile " +
					"https://www.googleapis.com/auth/cclog " +
					"https://www.googleapis.com/auth/experimentsandconfigs",
			},
			Endpoints: []string{
				"https://daily-cloudcode-pa.sandbox.googleapis.com/v1internal",
				"https://cloudcode-pa.googleapis.com/v1internal",
				"https://autopush-cloudcode-pa.sandbox.googleapis.com/v1internal",
			},
			ProjectURL:  "https://cloudcode-pa.googleapis.com/v1internal",
			UserInfoURL: "https://www.googleapis.com/oauth2/v2/userinfo",
		},
		GeminiCLI: GeminiCLI{
			OAuth: OAuthClient{
				ClientID:     "77185425430.apps.googleusercontent.com",
				ClientSecret: "GOCSPX-1mdrl61j8kmqUqEdCuCD2t1c-Oo",
				AuthURL:      "https://accounts.google.com/o/oauth2/v2/auth",
				TokenURL:     "https://oauth2.googleapis.com/token",
				RedirectURI:  "http://localhost:8085/oauth2callback",
				Scope: "openid email profile " +
					"https://www.googleapis.com/auth/cloudplatformprojects " +
					"https://www.googleapis.com/auth/service.management",
			},
			BaseURL: "https://cloudcode-pa.googleapis.com/v1internal",
		},
		Qwen: Qwen{
			ClientID:            "f0304373b74a44d2b584a3fb70ca9e56",
			Scope:               "openid profile email model.completion",
			DeviceCodeURL:       "https://chat.qwen.ai/api/v1/oauth2/device/code",
			TokenURL:            "https://chat.qwen.ai/api/v1/oauth2/token",
			DefaultResourceHost: "portal.qwen.ai",
		},
		Kiro: Kiro{
			APIBaseURL:       "https://codewhisperer.us-east-1.amazonaws.com",
			SocialRefreshURL: "https://prod.{region}.auth.desktop.kiro.dev/refreshToken",
			IdcRefreshURL:    "https://oidc.{region}.amazonaws.com/token",
			DefaultRegion:    "us-east-1",
		},
	}
}

// applyProviderEnv honors the handful of env overrides that predate the
// YAML overlay and are still used in deployment scripts.
func applyProviderEnv(p *Providers) {
	if v := os.Getenv("ANTIGRAVITY_OAUTH_CLIENT_ID"); v != "" {
		p.Antigravity.OAuth.ClientID = v
	}
	if v := os.Getenv("ANTIGRAVITY_OAUTH_CLIENT_SECRET"); v != "" {
		p.Antigravity.OAuth.ClientSecret = v
	}
	if v := os.Getenv("ANTIGRAVITY_OAUTH_REDIRECT_URI"); v != "" {
		p.Antigravity.OAuth.RedirectURI = v
	}
	if v := os.Getenv("QWEN_OAUTH_CLIENT_ID"); v != "" {
		p.Qwen.ClientID = v
	}
	if v := os.Getenv("KIRO_API_BASE_URL"); v != "" {
		p.Kiro.APIBaseURL = v
	}
}

// Addr returns the listen address.
func (c *Config) Addr() string {
	return c.Host + ":" + c.Port
}
