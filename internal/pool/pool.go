// Package pool selects upstream accounts and keeps their access tokens
// fresh. Selection honors the per-provider pool policy; refreshes are
// collapsed so concurrent requests against the same account trigger at
// most one upstream token call.
package pool

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math/rand"
	"time"

	"golang.org/x/sync/singleflight"
	"gorm.io/gorm"

	"github.com/hhszzzz/antihub/internal/db"
	"github.com/hhszzzz/antihub/internal/db/models"
	"github.com/hhszzzz/antihub/internal/providers"
	"github.com/hhszzzz/antihub/internal/vault"
)

// ErrNoAccount is returned when no eligible account remains for a provider.
var ErrNoAccount = errors.New("no eligible account available")

// ErrReauthRequired marks a refresh failure that invalidated the stored
// grant; the account needs a new interactive authorization.
var ErrReauthRequired = errors.New("account requires re-authorization")

// Refresher exchanges a refresh grant for a new access token.
type Refresher interface {
	Refresh(ctx context.Context, creds *providers.Credentials) (*providers.Credentials, error)
}

// RefresherFunc adapts a function to the Refresher interface.
type RefresherFunc func(ctx context.Context, creds *providers.Credentials) (*providers.Credentials, error)

// Refresh implements Refresher.
func (f RefresherFunc) Refresh(ctx context.Context, creds *providers.Credentials) (*providers.Credentials, error) {
	return f(ctx, creds)
}

// Manager owns account selection and token freshness for all providers.
type Manager struct {
	db         *gorm.DB
	vault      *vault.Vault
	refreshers map[string]Refresher
	group      singleflight.Group

	// now and intn are swappable for tests.
	now  func() time.Time
	intn func(n int) int
}

// NewManager builds a Manager over the account table.
func NewManager(database *gorm.DB, v *vault.Vault, refreshers map[string]Refresher) *Manager {
	return &Manager{
		db:         database,
		vault:      v,
		refreshers: refreshers,
		now:        time.Now,
		intn:       rand.Intn,
	}
}

// Select picks an eligible account for the user under the provider's pool
// policy. Accounts whose IDs appear in exclude are skipped, which lets a
// retry loop walk the pool without repeating a failed account.
func (m *Manager) Select(userID, provider string, exclude map[string]bool) (*models.Account, error) {
	policy, err := providers.PolicyFor(provider)
	if err != nil {
		return nil, err
	}
	candidates, err := db.ListCandidates(m.db, provider, userID, policy.SharedPool)
	if err != nil {
		return nil, fmt.Errorf("list %s candidates: %w", provider, err)
	}

	eligible := candidates[:0]
	for i := range candidates {
		if !exclude[candidates[i].ID] {
			eligible = append(eligible, candidates[i])
		}
	}
	if len(eligible) == 0 {
		return nil, ErrNoAccount
	}
	if policy.RandomSelect {
		return &eligible[m.intn(len(eligible))], nil
	}
	return &eligible[0], nil
}

// Credentials decrypts the account's secret blob.
func (m *Manager) Credentials(account *models.Account) (*providers.Credentials, error) {
	plaintext, err := m.vault.Decrypt(account.Credentials)
	if err != nil {
		return nil, fmt.Errorf("open credentials for account %s: %w", account.ID, err)
	}
	return providers.DecodeCredentials(plaintext)
}

// StoreCredentials seals and persists a credential blob together with its
// expiry in one update.
func (m *Manager) StoreCredentials(accountID string, creds *providers.Credentials, extra map[string]interface{}) error {
	plaintext, err := creds.Encode()
	if err != nil {
		return err
	}
	blob, err := m.vault.Encrypt(plaintext)
	if err != nil {
		return err
	}
	fields := map[string]interface{}{
		"credentials": blob,
		"expires_at":  time.UnixMilli(creds.ExpiresAtMs),
	}
	for k, v := range extra {
		fields[k] = v
	}
	return db.UpdateAccountFields(m.db, accountID, fields)
}

// ValidAccessToken returns an access token safe to use for at least the
// provider's refresh margin, refreshing it first when needed. Concurrent
// callers for one account share a single refresh.
func (m *Manager) ValidAccessToken(ctx context.Context, account *models.Account) (string, error) {
	policy, err := providers.PolicyFor(account.Provider)
	if err != nil {
		return "", err
	}
	creds, err := m.Credentials(account)
	if err != nil {
		return "", err
	}

	deadline := m.now().Add(policy.RefreshMargin)
	if creds.AccessToken != "" && creds.ExpiresAtMs > deadline.UnixMilli() {
		return creds.AccessToken, nil
	}

	fresh, err, _ := m.group.Do(account.ID, func() (interface{}, error) {
		return m.refresh(ctx, account, creds)
	})
	if err != nil {
		return "", err
	}
	return fresh.(*providers.Credentials).AccessToken, nil
}

func (m *Manager) refresh(ctx context.Context, account *models.Account, creds *providers.Credentials) (*providers.Credentials, error) {
	refresher, ok := m.refreshers[account.Provider]
	if !ok {
		return nil, fmt.Errorf("no refresher registered for provider %s", account.Provider)
	}
	if creds.RefreshToken == "" {
		m.markReauth(account, "missing refresh token")
		return nil, ErrReauthRequired
	}

	fresh, err := refresher.Refresh(ctx, creds)
	if err != nil {
		if errors.Is(err, ErrReauthRequired) {
			m.markReauth(account, err.Error())
			return nil, err
		}
		return nil, fmt.Errorf("refresh token for account %s: %w", account.ID, err)
	}
	if fresh.RefreshToken == "" {
		// Providers may omit the grant on rotation; keep the old one.
		fresh.RefreshToken = creds.RefreshToken
	}

	err = m.StoreCredentials(account.ID, fresh, map[string]interface{}{
		"last_refreshed_at": m.now(),
		"need_refresh":      false,
	})
	if err != nil {
		return nil, fmt.Errorf("persist refreshed credentials: %w", err)
	}
	log.Printf("✅ refreshed %s token for account %s", account.Provider, account.ID)
	return fresh, nil
}

func (m *Manager) markReauth(account *models.Account, reason string) {
	log.Printf("⚠️ account %s (%s) needs re-authorization: %s", account.ID, account.Provider, reason)
	err := db.UpdateAccountFields(m.db, account.ID, map[string]interface{}{
		"need_refresh": true,
		"status":       models.StatusDisabled,
	})
	if err != nil {
		log.Printf("⚠️ failed to flag account %s: %v", account.ID, err)
	}
}

// MarkFailed excludes an account after an upstream auth failure so the
// retry loop moves on; the account is re-enabled only by re-authorization.
func (m *Manager) MarkFailed(account *models.Account, reason string) {
	m.markReauth(account, reason)
}
