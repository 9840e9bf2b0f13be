package db

import (
	"errors"

	"gorm.io/gorm"

	"github.com/hhszzzz/antihub/internal/db/models"
)

// ErrAccountNotFound is returned when an account lookup matches nothing.
var ErrAccountNotFound = errors.New("account not found")

// CreateAccount inserts a new account row.
func CreateAccount(database *gorm.DB, account *models.Account) error {
	return database.Create(account).Error
}

// GetAccount fetches one account by provider and id.
func GetAccount(database *gorm.DB, provider, id string) (*models.Account, error) {
	var account models.Account
	err := database.Where("provider = ? AND id = ?", provider, id).First(&account).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrAccountNotFound
	}
	if err != nil {
		return nil, err
	}
	return &account, nil
}

// FindAccountByEmail fetches one account by its natural key.
func FindAccountByEmail(database *gorm.DB, provider, email string) (*models.Account, error) {
	var account models.Account
	err := database.Where("provider = ? AND email = ?", provider, email).First(&account).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrAccountNotFound
	}
	if err != nil {
		return nil, err
	}
	return &account, nil
}

// ListAccounts returns the accounts a user may manage: their own plus,
// when includeShared is set, the ownerless shared pool.
func ListAccounts(database *gorm.DB, provider, userID string, includeShared bool) ([]models.Account, error) {
	var accounts []models.Account
	query := database.Where("provider = ?", provider)
	if includeShared {
		query = query.Where("user_id = ? OR user_id = ?", userID, "")
	} else {
		query = query.Where("user_id = ?", userID)
	}
	if err := query.Order("created_at asc").Find(&accounts).Error; err != nil {
		return nil, err
	}
	return accounts, nil
}

// ListCandidates returns accounts eligible to serve a request: enabled, not
// awaiting re-authorization, owned by the user or (optionally) shared.
// Ordered oldest-first so single-account pools behave deterministically.
func ListCandidates(database *gorm.DB, provider, userID string, includeShared bool) ([]models.Account, error) {
	var accounts []models.Account
	query := database.
		Where("provider = ?", provider).
		Where("status = ?", models.StatusEnabled).
		Where("need_refresh = ?", false)
	if includeShared {
		query = query.Where("user_id = ? OR user_id = ?", userID, "")
	} else {
		query = query.Where("user_id = ?", userID)
	}
	if err := query.Order("created_at asc").Find(&accounts).Error; err != nil {
		return nil, err
	}
	return accounts, nil
}

// UpdateAccountFields applies a partial update to one account row. Used for
// the atomic credential+expiry replacement and for flag flips.
func UpdateAccountFields(database *gorm.DB, id string, fields map[string]interface{}) error {
	result := database.Model(&models.Account{}).Where("id = ?", id).Updates(fields)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrAccountNotFound
	}
	return nil
}

// DeleteAccount removes an account owned by the user. Shared accounts can
// only be deleted by an empty-owner (admin) request.
func DeleteAccount(database *gorm.DB, provider, id, userID string) error {
	result := database.
		Where("provider = ? AND id = ? AND user_id = ?", provider, id, userID).
		Delete(&models.Account{})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrAccountNotFound
	}
	return nil
}
