package models

import "time"

// Config stores small key/value settings (gateway API key, vault passphrase
// fallback) that must survive restarts.
type Config struct {
	Key       string `gorm:"primaryKey"`
	Value     string
	CreatedAt time.Time
	UpdatedAt time.Time
}
