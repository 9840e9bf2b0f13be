package models

import "time"

// Account statuses.
const (
	StatusDisabled = 0
	StatusEnabled  = 1
)

// Account stores one upstream provider identity. An empty UserID makes the
// account a shared-pool member usable by any user; otherwise it is private
// to its owner. Credentials holds the vault-encrypted secret blob; plaintext
// tokens are never persisted.
type Account struct {
	ID       string `gorm:"primaryKey"` // UUID
	Provider string `gorm:"uniqueIndex:idx_provider_email;index:idx_provider_user"`
	Email    string `gorm:"uniqueIndex:idx_provider_email"` // natural key within a provider
	UserID   string `gorm:"index:idx_provider_user"`
	Name     string

	// No column default: gorm drops zero values from inserts, so a
	// "default:1" tag would silently enable accounts created disabled.
	// Callers set Status explicitly.
	Status      int
	NeedRefresh bool
	Restricted  bool // provider flagged the account (e.g. unsupported location)
	PaidTier    bool

	Credentials     string // encrypted blob, replaced atomically with ExpiresAt
	ExpiresAt       time.Time
	LastRefreshedAt time.Time

	// Quota snapshot fields are display hints refreshed opportunistically,
	// not enforced by the gateway.
	UsageCurrent       float64
	UsageLimit         float64
	BonusAvailable     float64
	FreeTrialRemaining float64
	QuotaResetAt       *time.Time

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Eligible reports whether the account can serve requests right now.
func (a *Account) Eligible() bool {
	return a.Status == StatusEnabled && !a.NeedRefresh
}

// Shared reports whether the account belongs to the shared pool.
func (a *Account) Shared() bool {
	return a.UserID == ""
}
