package db

import (
	"crypto/rand"
	"encoding/hex"
	"log"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/hhszzzz/antihub/internal/db/models"
)

// InitDB opens the SQLite database and runs migrations.
func InitDB(dbPath string) (*gorm.DB, error) {
	database, err := gorm.Open(sqlite.Open(dbPath), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return nil, err
	}

	if err := database.AutoMigrate(&models.Account{}, &models.Config{}, &models.UsageLog{}); err != nil {
		return nil, err
	}

	ensureAPIKey(database)

	return database, nil
}

// ensureAPIKey generates the gateway API key on first run: sk-<32 hex chars>.
func ensureAPIKey(database *gorm.DB) {
	var config models.Config
	result := database.Where("key = ?", "api_key").First(&config)

	if result.Error != nil {
		keyBytes := make([]byte, 16)
		rand.Read(keyBytes)
		apiKey := "sk-" + hex.EncodeToString(keyBytes)

		database.Create(&models.Config{
			Key:   "api_key",
			Value: apiKey,
		})
		log.Printf("🔑 Generated new API key: %s", apiKey)
	}
}

// GetAPIKey retrieves the gateway API key.
func GetAPIKey(database *gorm.DB) string {
	var config models.Config
	database.Where("key = ?", "api_key").First(&config)
	return config.Value
}

// RegenerateAPIKey replaces the gateway API key.
func RegenerateAPIKey(database *gorm.DB) string {
	keyBytes := make([]byte, 16)
	rand.Read(keyBytes)
	apiKey := "sk-" + hex.EncodeToString(keyBytes)

	database.Model(&models.Config{}).Where("key = ?", "api_key").Update("value", apiKey)
	log.Printf("🔑 Regenerated API key: %s", apiKey)
	return apiKey
}

// EnsureVaultPassphrase returns the configured passphrase, generating and
// persisting a random one on first run when the operator set none.
func EnsureVaultPassphrase(database *gorm.DB, configured string) string {
	if configured != "" {
		return configured
	}
	var config models.Config
	if err := database.Where("key = ?", "vault_passphrase").First(&config).Error; err == nil {
		return config.Value
	}
	keyBytes := make([]byte, 32)
	rand.Read(keyBytes)
	passphrase := hex.EncodeToString(keyBytes)
	database.Create(&models.Config{Key: "vault_passphrase", Value: passphrase})
	log.Printf("🔑 Generated vault passphrase (set VAULT_PASSPHRASE to override)")
	return passphrase
}
