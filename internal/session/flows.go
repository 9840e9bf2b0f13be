package session

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"time"
)

// Session statuses.
const (
	StatusPending   = "pending"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
)

// Terminal and retryable poll outcomes reported by device-flow pollers.
var (
	ErrAuthorizationPending = errors.New("authorization_pending")
	ErrSlowDown             = errors.New("slow_down")
	ErrExpiredToken         = errors.New("expired_token")
	ErrAccessDenied         = errors.New("access_denied")
)

// Session is the persisted state of one OAuth or device-flow handshake,
// keyed in the store by its random state token.
type Session struct {
	State    string `json:"state"`
	Provider string `json:"provider"`
	UserID   string `json:"user_id"`
	Name     string `json:"name,omitempty"`
	Shared   bool   `json:"shared,omitempty"`

	DeviceCode   string `json:"device_code,omitempty"`
	PKCEVerifier string `json:"pkce_verifier,omitempty"`
	Interval     int    `json:"interval,omitempty"`

	Status    string `json:"status"`
	Error     string `json:"error,omitempty"`
	AccountID string `json:"account_id,omitempty"`
	Email     string `json:"email,omitempty"`
}

// NewState returns a random state token with a provider prefix.
func NewState(prefix string) string {
	b := make([]byte, 16)
	rand.Read(b)
	return prefix + "-" + hex.EncodeToString(b)
}

// DeviceStart is the provider's device-code issuance.
type DeviceStart struct {
	DeviceCode              string
	UserCode                string
	VerificationURI         string
	VerificationURIComplete string
	ExpiresIn               int
	Interval                int
}

// DeviceToken is a successful device-flow token payload.
type DeviceToken struct {
	AccessToken  string
	RefreshToken string
	ResourceURL  string
	ExpiresIn    int64
}

// DeviceFlow drives the device-code state machine:
// device-code-issued -> polling(pending|slow_down) -> token-received ->
// account-persisted, or expired|denied. Terminal outcomes are recorded on
// the session so later polls short-circuit without calling upstream again.
type DeviceFlow struct {
	Store    *Store
	Provider string

	// Start requests a device code and returns the PKCE verifier used.
	Start func(ctx context.Context) (*DeviceStart, string, error)
	// Poll performs exactly one non-blocking token poll.
	Poll func(ctx context.Context, deviceCode, verifier string) (*DeviceToken, error)
	// Bind upserts the account for a received token.
	Bind func(ctx context.Context, sess *Session, token *DeviceToken) (accountID, email string, err error)
}

// StatusResult is what a status check reports to the client.
type StatusResult struct {
	Status    string `json:"status"`
	Error     string `json:"error,omitempty"`
	AccountID string `json:"account_id,omitempty"`
	Email     string `json:"email,omitempty"`
}

func deviceTTL(expiresIn int) time.Duration {
	ttl := time.Duration(expiresIn+120) * time.Second
	if ttl < 300*time.Second {
		ttl = 300 * time.Second
	}
	if ttl > 3600*time.Second {
		ttl = 3600 * time.Second
	}
	return ttl
}

// Begin issues a device code and stores the pending session.
func (f *DeviceFlow) Begin(ctx context.Context, userID, name string, shared bool) (*Session, *DeviceStart, error) {
	start, verifier, err := f.Start(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("request device code: %w", err)
	}
	sess := &Session{
		State:        NewState(f.Provider),
		Provider:     f.Provider,
		UserID:       userID,
		Name:         name,
		Shared:       shared,
		DeviceCode:   start.DeviceCode,
		PKCEVerifier: verifier,
		Interval:     start.Interval,
		Status:       StatusPending,
	}
	if err := f.Store.Put(sess.State, sess, deviceTTL(start.ExpiresIn)); err != nil {
		return nil, nil, err
	}
	return sess, start, nil
}

// Status performs one poll step for the session identified by state.
// Terminal sessions are read-stable: completed and failed outcomes are
// returned from the store without touching upstream.
func (f *DeviceFlow) Status(ctx context.Context, userID, state string) (*StatusResult, error) {
	var sess Session
	if err := f.Store.Get(state, &sess); err != nil {
		return nil, fmt.Errorf("device session expired or unknown")
	}
	if sess.UserID != userID {
		return nil, fmt.Errorf("device session belongs to another user")
	}

	switch sess.Status {
	case StatusCompleted:
		return &StatusResult{Status: StatusCompleted, AccountID: sess.AccountID, Email: sess.Email}, nil
	case StatusFailed:
		return &StatusResult{Status: StatusFailed, Error: sess.Error}, nil
	}

	token, err := f.Poll(ctx, sess.DeviceCode, sess.PKCEVerifier)
	switch {
	case err == nil:
		accountID, email, bindErr := f.Bind(ctx, &sess, token)
		if bindErr != nil {
			f.recordFailure(&sess, bindErr.Error())
			return &StatusResult{Status: StatusFailed, Error: sess.Error}, nil
		}
		sess.Status = StatusCompleted
		sess.AccountID = accountID
		sess.Email = email
		f.Store.Put(sess.State, &sess, deviceTTL(0))
		return &StatusResult{Status: StatusCompleted, AccountID: accountID, Email: email}, nil

	case errors.Is(err, ErrAuthorizationPending), errors.Is(err, ErrSlowDown):
		// Not consumed; the client keeps polling.
		return &StatusResult{Status: StatusPending}, nil

	case errors.Is(err, ErrExpiredToken), errors.Is(err, ErrAccessDenied):
		f.recordFailure(&sess, err.Error())
		return &StatusResult{Status: StatusFailed, Error: sess.Error}, nil

	default:
		return nil, fmt.Errorf("device token poll: %w", err)
	}
}

func (f *DeviceFlow) recordFailure(sess *Session, reason string) {
	sess.Status = StatusFailed
	sess.Error = reason
	f.Store.Put(sess.State, sess, deviceTTL(0))
}

// AuthToken is a successful authorization-code exchange.
type AuthToken struct {
	AccessToken  string
	RefreshToken string
	ExpiresIn    int64
	IDToken      string
}

// AuthCodeFlow drives the browser-consent state machine:
// authorize-issued -> callback-received -> token-exchanged -> provider
// onboarding -> account-persisted. The state token is consumed exactly
// once on success; a failed step persists nothing.
type AuthCodeFlow struct {
	Store    *Store
	Provider string
	TTL      time.Duration

	// Exchange trades the authorization code for tokens.
	Exchange func(ctx context.Context, code string) (*AuthToken, error)
	// Bind runs provider onboarding and upserts the account.
	Bind func(ctx context.Context, sess *Session, token *AuthToken) (accountID, email string, err error)
}

func (f *AuthCodeFlow) ttl() time.Duration {
	if f.TTL > 0 {
		return f.TTL
	}
	return 10 * time.Minute
}

// Begin stores a pending session and returns its state token for the
// authorize URL.
func (f *AuthCodeFlow) Begin(ctx context.Context, userID, name string, shared bool) (*Session, error) {
	sess := &Session{
		State:    NewState(f.Provider),
		Provider: f.Provider,
		UserID:   userID,
		Name:     name,
		Shared:   shared,
		Status:   StatusPending,
	}
	if err := f.Store.Put(sess.State, sess, f.ttl()); err != nil {
		return nil, err
	}
	return sess, nil
}

// Complete validates the callback, exchanges the code, binds the account
// and consumes the session.
func (f *AuthCodeFlow) Complete(ctx context.Context, userID, state, callbackInput string) (*StatusResult, error) {
	code, returnedState, err := ParseOAuthCallback(callbackInput)
	if err != nil {
		return nil, err
	}
	if state == "" {
		state = returnedState
	}
	if state == "" {
		return nil, fmt.Errorf("missing oauth state")
	}

	var sess Session
	if err := f.Store.Get(state, &sess); err != nil {
		return nil, fmt.Errorf("oauth session expired or unknown")
	}
	if sess.UserID != userID {
		return nil, fmt.Errorf("oauth session belongs to another user")
	}

	token, err := f.Exchange(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("exchange authorization code: %w", err)
	}
	accountID, email, err := f.Bind(ctx, &sess, token)
	if err != nil {
		return nil, err
	}

	// Replay protection: the state is gone after the first success.
	f.Store.Delete(state)
	return &StatusResult{Status: StatusCompleted, AccountID: accountID, Email: email}, nil
}
