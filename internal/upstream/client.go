// Package upstream talks to the provider APIs: the Cloud Code endpoints
// used by the Google-based providers and the OpenAI-compatible chat
// endpoints used by the others.
package upstream

import (
	"fmt"
	"net"
	"net/http"
	"time"
)

// Streaming generations can run for many minutes; only the dial is kept
// short so dead endpoints fail over quickly.
const (
	requestTimeout = 1200 * time.Second
	dialTimeout    = 30 * time.Second
)

// NewHTTPClient builds the long-lived client shared by all providers.
func NewHTTPClient() *http.Client {
	return &http.Client{
		Timeout: requestTimeout,
		Transport: &http.Transport{
			DialContext: (&net.Dialer{
				Timeout:   dialTimeout,
				KeepAlive: 30 * time.Second,
			}).DialContext,
			MaxIdleConns:        100,
			IdleConnTimeout:     90 * time.Second,
			TLSHandshakeTimeout: 10 * time.Second,
		},
	}
}

// HTTPError carries a non-2xx upstream status with its body so handlers
// can classify it and dump it for diagnosis.
type HTTPError struct {
	StatusCode int
	Body       []byte
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("upstream returned %d", e.StatusCode)
}

// Retriable reports whether another account or endpoint may succeed.
func (e *HTTPError) Retriable() bool {
	return e.StatusCode == http.StatusTooManyRequests ||
		e.StatusCode == http.StatusUnauthorized ||
		e.StatusCode == http.StatusForbidden ||
		e.StatusCode >= 500
}
