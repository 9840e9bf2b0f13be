package middleware

import (
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/hhszzzz/antihub/internal/db"
	"github.com/hhszzzz/antihub/internal/logging"
)

func TestAPIKeyAuth(t *testing.T) {
	database, err := db.InitDB(filepath.Join(t.TempDir(), "mw.db"))
	if err != nil {
		t.Fatalf("InitDB: %v", err)
	}
	key := db.GetAPIKey(database)
	if key == "" {
		t.Fatal("expected a bootstrapped api key")
	}

	handler := APIKeyAuth(database)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	tests := []struct {
		name   string
		header string
		value  string
		want   int
	}{
		{"bearer", "Authorization", "Bearer " + key, http.StatusOK},
		{"x-api-key", "x-api-key", key, http.StatusOK},
		{"wrong key", "x-api-key", "sk-nope", http.StatusUnauthorized},
		{"missing", "", "", http.StatusUnauthorized},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest("POST", "/v1/messages", nil)
			if tt.header != "" {
				r.Header.Set(tt.header, tt.value)
			}
			w := httptest.NewRecorder()
			handler.ServeHTTP(w, r)
			if w.Code != tt.want {
				t.Errorf("status = %d, want %d", w.Code, tt.want)
			}
		})
	}
}

func TestRequestIDMiddleware(t *testing.T) {
	var seen string
	handler := RequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = logging.GetRequestID(r.Context())
	}))

	r := httptest.NewRequest("GET", "/v1/models", nil)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, r)
	if seen == "" {
		t.Fatal("no request id in context")
	}
	if got := w.Header().Get("X-Request-Id"); got != seen {
		t.Errorf("response header = %q, context = %q", got, seen)
	}

	r = httptest.NewRequest("GET", "/v1/models", nil)
	r.Header.Set("X-Request-Id", "client-id-1")
	w = httptest.NewRecorder()
	handler.ServeHTTP(w, r)
	if seen != "client-id-1" {
		t.Errorf("client-supplied id not honored, got %q", seen)
	}
}

func TestUserIDDefault(t *testing.T) {
	r := httptest.NewRequest("GET", "/", nil)
	if got := UserID(r); got != "default" {
		t.Errorf("UserID() = %q, want default", got)
	}
	r.Header.Set("X-User-Id", "alice")
	if got := UserID(r); got != "alice" {
		t.Errorf("UserID() = %q, want alice", got)
	}
}
