package auth

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/hhszzzz/antihub/internal/config"
	"github.com/hhszzzz/antihub/internal/pool"
	"github.com/hhszzzz/antihub/internal/providers"
	"github.com/hhszzzz/antihub/internal/session"
)

func TestCookieIDStableAndShort(t *testing.T) {
	a := CookieID("refresh-grant-1")
	b := CookieID("refresh-grant-1")
	c := CookieID("refresh-grant-2")
	if a != b {
		t.Error("cookie id must be deterministic")
	}
	if a == c {
		t.Error("different grants must yield different ids")
	}
	if len(a) != 32 {
		t.Errorf("len = %d, want 32", len(a))
	}
}

func TestAuthCodeURLRequestsOfflineAccess(t *testing.T) {
	client := config.OAuthClient{
		ClientID:    "cid",
		AuthURL:     "https://accounts.example.com/auth",
		TokenURL:    "https://accounts.example.com/token",
		RedirectURI: "http://localhost:42532/oauth-callback",
		Scope:       "email profile",
	}
	u := AuthCodeURL(client, "state-1")
	for _, want := range []string{"access_type=offline", "prompt=consent", "state=state-1", "client_id=cid"} {
		if !strings.Contains(u, want) {
			t.Errorf("url %q is missing %q", u, want)
		}
	}
}

func TestDevicePollErrorMapping(t *testing.T) {
	tests := []struct {
		code string
		want error
	}{
		{"authorization_pending", session.ErrAuthorizationPending},
		{"slow_down", session.ErrSlowDown},
		{"expired_token", session.ErrExpiredToken},
		{"access_denied", session.ErrAccessDenied},
	}
	for _, tt := range tests {
		if got := devicePollError(tt.code, ""); !errors.Is(got, tt.want) {
			t.Errorf("devicePollError(%s) = %v, want %v", tt.code, got, tt.want)
		}
	}
	if got := devicePollError("server_error", "boom"); got == nil || errors.Is(got, session.ErrAccessDenied) {
		t.Errorf("unknown code mapped to %v", got)
	}
}

func TestQwenDeviceFlowAgainstFakePortal(t *testing.T) {
	polls := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		r.ParseForm()
		switch r.URL.Path {
		case "/device/code":
			if r.Form.Get("code_challenge_method") != "S256" || r.Form.Get("code_challenge") == "" {
				t.Errorf("device code form = %v", r.Form)
			}
			json.NewEncoder(w).Encode(map[string]interface{}{
				"device_code":      "dc-1",
				"user_code":        "ABCD-1234",
				"verification_uri": "https://chat.example.com/activate",
				"expires_in":       600,
				"interval":         5,
			})
		case "/token":
			polls++
			if r.Form.Get("device_code") != "dc-1" || r.Form.Get("code_verifier") == "" {
				t.Errorf("token form = %v", r.Form)
			}
			if polls == 1 {
				json.NewEncoder(w).Encode(map[string]string{"error": "authorization_pending"})
				return
			}
			json.NewEncoder(w).Encode(map[string]interface{}{
				"access_token":  "at-1",
				"refresh_token": "rt-1",
				"expires_in":    3600,
			})
		default:
			http.NotFound(w, r)
		}
	}))
	defer server.Close()

	flow := &QwenFlow{Config: config.Qwen{
		ClientID:            "cid",
		Scope:               "openid",
		DeviceCodeURL:       server.URL + "/device/code",
		TokenURL:            server.URL + "/token",
		DefaultResourceHost: "portal.example.com",
	}}

	start, verifier, err := flow.StartDevice(context.Background())
	if err != nil {
		t.Fatalf("StartDevice: %v", err)
	}
	if start.DeviceCode != "dc-1" || start.UserCode != "ABCD-1234" || verifier == "" {
		t.Fatalf("start = %+v verifier=%q", start, verifier)
	}

	if _, err := flow.PollDevice(context.Background(), start.DeviceCode, verifier); !errors.Is(err, session.ErrAuthorizationPending) {
		t.Fatalf("first poll error = %v", err)
	}
	token, err := flow.PollDevice(context.Background(), start.DeviceCode, verifier)
	if err != nil {
		t.Fatalf("second poll: %v", err)
	}
	if token.AccessToken != "at-1" || token.ResourceURL != "portal.example.com" {
		t.Errorf("token = %+v, want default resource host applied", token)
	}
}

func TestKiroSocialRefreshRotatesGrant(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]string
		json.NewDecoder(r.Body).Decode(&body)
		if body["refreshToken"] != "rt-old" {
			t.Errorf("body = %v", body)
		}
		json.NewEncoder(w).Encode(map[string]interface{}{
			"accessToken":  "at-new",
			"refreshToken": "rt-new",
			"expiresIn":    1800,
		})
	}))
	defer server.Close()

	refresh := KiroRefresher(config.Kiro{
		SocialRefreshURL: server.URL + "/{region}/refreshToken",
		DefaultRegion:    "us-east-1",
	}, server.Client())

	fresh, err := refresh(context.Background(), &providers.Credentials{
		AuthMethod:   KiroAuthSocial,
		RefreshToken: "rt-old",
	})
	if err != nil {
		t.Fatalf("refresh: %v", err)
	}
	if fresh.AccessToken != "at-new" || fresh.RefreshToken != "rt-new" {
		t.Errorf("fresh = %+v", fresh)
	}
	if fresh.ExpiresAtMs <= nowMilli() {
		t.Errorf("expiry %d is not in the future", fresh.ExpiresAtMs)
	}
}

func TestKiroIdcRefreshRequiresClientPair(t *testing.T) {
	refresh := KiroRefresher(config.Kiro{
		IdcRefreshURL: "https://oidc.{region}.example.com/token",
		DefaultRegion: "us-east-1",
	}, nil)

	_, err := refresh(context.Background(), &providers.Credentials{
		AuthMethod:   KiroAuthIdc,
		RefreshToken: "rt",
	})
	if !errors.Is(err, pool.ErrReauthRequired) {
		t.Errorf("error = %v, want ErrReauthRequired", err)
	}
}

func TestKiroSocialRejectionFlagsReauth(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"message":"invalid grant"}`, http.StatusForbidden)
	}))
	defer server.Close()

	refresh := KiroRefresher(config.Kiro{
		SocialRefreshURL: server.URL + "/refreshToken",
		DefaultRegion:    "us-east-1",
	}, server.Client())

	_, err := refresh(context.Background(), &providers.Credentials{
		AuthMethod:   KiroAuthSocial,
		RefreshToken: "rt",
	})
	if !errors.Is(err, pool.ErrReauthRequired) {
		t.Errorf("error = %v, want ErrReauthRequired", err)
	}
}
