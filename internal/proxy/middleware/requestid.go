package middleware

import (
	"net/http"

	"github.com/hhszzzz/antihub/internal/logging"
)

// RequestID tags every request with a short ID for log correlation. An
// X-Request-Id header from the client is honored so IDs can be traced
// across hops; otherwise one is generated.
func RequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Request-Id")
		if id == "" {
			id = logging.GenerateRequestID()
		}
		w.Header().Set("X-Request-Id", id)
		next.ServeHTTP(w, r.WithContext(logging.WithRequestID(r.Context(), id)))
	})
}
