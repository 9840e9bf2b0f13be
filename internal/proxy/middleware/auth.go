// Package middleware holds the HTTP middleware shared by the model and
// management surfaces.
package middleware

import (
	"net/http"
	"strings"

	"gorm.io/gorm"

	"github.com/hhszzzz/antihub/internal/db"
)

// APIKeyAuth validates the gateway API key from either the Authorization
// bearer header or x-api-key (Anthropic SDK style). With no key configured
// yet (first run before the db bootstrap) requests pass through.
func APIKeyAuth(database *gorm.DB) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			expected := db.GetAPIKey(database)
			if expected == "" {
				next.ServeHTTP(w, r)
				return
			}

			if auth := r.Header.Get("Authorization"); strings.HasPrefix(auth, "Bearer ") {
				if strings.TrimPrefix(auth, "Bearer ") == expected {
					next.ServeHTTP(w, r)
					return
				}
			}
			if r.Header.Get("x-api-key") == expected {
				next.ServeHTTP(w, r)
				return
			}

			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusUnauthorized)
			w.Write([]byte(`{"type":"error","error":{"type":"permission_error","message":"invalid api key"}}`))
		})
	}
}

// UserID resolves the caller identity used for private account pools. The
// gateway is single-key; multi-seat deployments separate pools with the
// X-User-Id header.
func UserID(r *http.Request) string {
	if id := strings.TrimSpace(r.Header.Get("X-User-Id")); id != "" {
		return id
	}
	return "default"
}
