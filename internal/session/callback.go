package session

import (
	"fmt"
	"net/url"
	"strings"
)

// ParseOAuthCallback extracts the authorization code and state from
// whatever the user pasted back: a full redirect URL, a bare query string
// (with or without the leading "?"), or just the raw code.
func ParseOAuthCallback(input string) (code, state string, err error) {
	trimmed := strings.TrimSpace(input)
	if trimmed == "" {
		return "", "", fmt.Errorf("callback input is empty")
	}

	query := trimmed
	if strings.Contains(trimmed, "://") {
		parsed, parseErr := url.Parse(trimmed)
		if parseErr != nil {
			return "", "", fmt.Errorf("invalid callback url: %w", parseErr)
		}
		query = parsed.RawQuery
		if query == "" && parsed.Fragment != "" {
			query = parsed.Fragment
		}
	}
	query = strings.TrimPrefix(query, "?")

	if !strings.Contains(query, "=") {
		// Just the raw code.
		return query, "", nil
	}

	values, parseErr := url.ParseQuery(query)
	if parseErr != nil {
		return "", "", fmt.Errorf("invalid callback query: %w", parseErr)
	}
	if oauthErr := values.Get("error"); oauthErr != "" {
		return "", "", fmt.Errorf("oauth error: %s", oauthErr)
	}
	code = values.Get("code")
	if code == "" {
		return "", "", fmt.Errorf("callback is missing the authorization code")
	}
	return code, values.Get("state"), nil
}
