package handlers

import (
	"net/http"

	"github.com/hhszzzz/antihub/internal/adapter"
)

// CountTokensHandler estimates input tokens without touching upstream.
// The estimate is character-class based and intentionally cheap.
func CountTokensHandler(g *Gateway) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		body, err := readBody(r)
		if err != nil {
			writeAnthropicError(w, invalidRequest("read request: %v", err))
			return
		}
		canonical, err := adapter.AnthropicToCanonical(body)
		if err != nil {
			writeAnthropicError(w, invalidRequest("%v", err))
			return
		}
		writeJSON(w, http.StatusOK, map[string]int{
			"input_tokens": adapter.EstimateRequestTokens(canonical),
		})
	}
}
