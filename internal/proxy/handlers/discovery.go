package handlers

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/hhszzzz/antihub/internal/discovery"
	"github.com/hhszzzz/antihub/internal/proxy/middleware"
)

// DiscoveryScanHandler reports importable credentials found in local CLI
// caches, tokens masked.
func DiscoveryScanHandler(g *Gateway) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		result := discovery.ScanAll()
		masked := make([]discovery.Found, 0, len(result.Credentials))
		for _, found := range result.Credentials {
			masked = append(masked, found.Masked())
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"credentials": masked,
			"errors":      result.Errors,
		})
	}
}

// DiscoveryImportHandler imports one scanned credential set by its
// config path. The scan runs again server-side so the real tokens never
// round-trip through the client.
func DiscoveryImportHandler(g *Gateway) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		body, err := readBody(r)
		if err != nil {
			writeOpenAIError(w, invalidRequest("read request: %v", err))
			return
		}
		var req struct {
			ConfigPath string `json:"config_path"`
			Name       string `json:"name"`
			Shared     bool   `json:"shared"`
		}
		if err := json.Unmarshal(body, &req); err != nil {
			writeOpenAIError(w, invalidRequest("parse request: %v", err))
			return
		}

		for _, found := range discovery.ScanAll().Credentials {
			if found.ConfigPath != req.ConfigPath {
				continue
			}
			email := found.Email
			if email == "" {
				email = fmt.Sprintf("%s-%d", found.Provider, time.Now().Unix())
			}
			creds := found.Creds
			account, err := g.upsertAccount(found.Provider, middleware.UserID(r), req.Name, req.Shared, email, &creds)
			if err != nil {
				writeOpenAIError(w, invalidRequest("%v", err))
				return
			}
			writeJSON(w, http.StatusCreated, viewOf(account))
			return
		}
		writeOpenAIError(w, invalidRequest("no credentials found at %q", req.ConfigPath))
	}
}
