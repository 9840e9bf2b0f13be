package handlers

import (
	"net/http"

	"github.com/hhszzzz/antihub/internal/providers"
)

// Model catalog surfaced by /v1/models. Unprefixed ids route by name;
// the prefixed forms force a provider.
var modelCatalog = []struct {
	ID       string
	Provider string
}{
	{"gemini-3-pro-preview", providers.Antigravity},
	{"gemini-3-flash", providers.Antigravity},
	{"gemini-2.5-pro", providers.Antigravity},
	{"gemini-2.5-flash", providers.Antigravity},
	{"gemini_cli/gemini-2.5-pro", providers.GeminiCLI},
	{"gemini_cli/gemini-2.5-flash", providers.GeminiCLI},
	{"qwen3-coder-plus", providers.Qwen},
	{"qwen3-coder-flash", providers.Qwen},
	{"kiro/claude-sonnet-4", providers.Kiro},
	{"kiro/claude-haiku-4-5", providers.Kiro},
}

// ModelsHandler lists the models reachable through the gateway in the
// OpenAI list shape both client families accept.
func ModelsHandler(g *Gateway) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		data := make([]map[string]interface{}, 0, len(modelCatalog))
		for _, m := range modelCatalog {
			data = append(data, map[string]interface{}{
				"id":       m.ID,
				"object":   "model",
				"owned_by": m.Provider,
			})
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"object": "list",
			"data":   data,
		})
	}
}
