package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/tidwall/gjson"

	"github.com/hhszzzz/antihub/internal/auth"
	"github.com/hhszzzz/antihub/internal/db"
	"github.com/hhszzzz/antihub/internal/db/models"
	"github.com/hhszzzz/antihub/internal/providers"
	"github.com/hhszzzz/antihub/internal/proxy/middleware"
	"github.com/hhszzzz/antihub/internal/upstream"
)

// accountView is the management-surface projection of an account. The
// encrypted credential blob never leaves through list/get responses.
type accountView struct {
	ID          string     `json:"id"`
	Provider    string     `json:"provider"`
	Email       string     `json:"email"`
	Name        string     `json:"name,omitempty"`
	Shared      bool       `json:"shared"`
	Enabled     bool       `json:"enabled"`
	NeedRefresh bool       `json:"need_refresh"`
	Restricted  bool       `json:"restricted,omitempty"`
	PaidTier    bool       `json:"paid_tier,omitempty"`
	ExpiresAt   time.Time  `json:"expires_at"`
	LastRefresh time.Time  `json:"last_refreshed_at"`
	UsageLimit  float64    `json:"usage_limit,omitempty"`
	UsageCur    float64    `json:"usage_current,omitempty"`
	QuotaReset  *time.Time `json:"quota_reset_at,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
}

func viewOf(a *models.Account) accountView {
	return accountView{
		ID:          a.ID,
		Provider:    a.Provider,
		Email:       a.Email,
		Name:        a.Name,
		Shared:      a.Shared(),
		Enabled:     a.Status == models.StatusEnabled,
		NeedRefresh: a.NeedRefresh,
		Restricted:  a.Restricted,
		PaidTier:    a.PaidTier,
		ExpiresAt:   a.ExpiresAt,
		LastRefresh: a.LastRefreshedAt,
		UsageLimit:  a.UsageLimit,
		UsageCur:    a.UsageCurrent,
		QuotaReset:  a.QuotaResetAt,
		CreatedAt:   a.CreatedAt,
	}
}

func providerParam(r *http.Request) (string, *apiError) {
	provider := chi.URLParam(r, "provider")
	if !providers.Known(provider) {
		return "", invalidRequest("unknown provider %q", provider)
	}
	return provider, nil
}

// upsertAccount persists credentials under the provider's natural key.
// The same owner updates in place; a different owner is rejected so an
// account cannot be taken over by re-importing its key material.
func (g *Gateway) upsertAccount(provider, userID, name string, shared bool, email string, creds *providers.Credentials) (*models.Account, error) {
	owner := userID
	if shared {
		owner = ""
	}

	existing, err := db.FindAccountByEmail(g.DB, provider, email)
	switch {
	case err == nil:
		if existing.UserID != owner {
			return nil, fmt.Errorf("account %s already belongs to a different owner", email)
		}
		err = g.Pool.StoreCredentials(existing.ID, creds, map[string]interface{}{
			"name":              nonEmpty(name, existing.Name),
			"status":            models.StatusEnabled,
			"need_refresh":      false,
			"last_refreshed_at": time.Now(),
		})
		if err != nil {
			return nil, err
		}
		return db.GetAccount(g.DB, provider, existing.ID)

	case err == db.ErrAccountNotFound:
		account := &models.Account{
			ID:       uuid.NewString(),
			Provider: provider,
			Email:    email,
			UserID:   owner,
			Name:     name,
			Status:   models.StatusEnabled,
		}
		if err := db.CreateAccount(g.DB, account); err != nil {
			return nil, err
		}
		if err := g.Pool.StoreCredentials(account.ID, creds, map[string]interface{}{
			"last_refreshed_at": time.Now(),
		}); err != nil {
			return nil, err
		}
		return db.GetAccount(g.DB, provider, account.ID)

	default:
		return nil, err
	}
}

func nonEmpty(value, fallback string) string {
	if value != "" {
		return value
	}
	return fallback
}

// ListAccountsHandler lists the caller's accounts plus shared-pool members
// for providers that allow sharing.
func ListAccountsHandler(g *Gateway) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		provider, apiErr := providerParam(r)
		if apiErr != nil {
			writeOpenAIError(w, apiErr)
			return
		}
		policy, _ := providers.PolicyFor(provider)
		accounts, err := db.ListAccounts(g.DB, provider, middleware.UserID(r), policy.SharedPool)
		if err != nil {
			writeOpenAIError(w, &apiError{Status: http.StatusInternalServerError, Type: "api_error", Message: err.Error()})
			return
		}
		views := make([]accountView, 0, len(accounts))
		for i := range accounts {
			views = append(views, viewOf(&accounts[i]))
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{"accounts": views})
	}
}

// GetAccountHandler returns one account.
func GetAccountHandler(g *Gateway) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		account, apiErr := g.ownedAccount(r)
		if apiErr != nil {
			writeOpenAIError(w, apiErr)
			return
		}
		writeJSON(w, http.StatusOK, viewOf(account))
	}
}

// importRequest is the create/import payload. kiro accounts arrive as an
// existing refresh grant; other providers may import exported credentials.
type importRequest struct {
	Name        string                `json:"name"`
	Shared      bool                  `json:"shared"`
	Email       string                `json:"email"`
	Credentials providers.Credentials `json:"credentials"`
}

// ImportAccountHandler creates an account from existing credential
// material, the only way in for kiro.
func ImportAccountHandler(g *Gateway) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		provider, apiErr := providerParam(r)
		if apiErr != nil {
			writeOpenAIError(w, apiErr)
			return
		}
		body, err := readBody(r)
		if err != nil {
			writeOpenAIError(w, invalidRequest("read request: %v", err))
			return
		}
		var req importRequest
		if err := json.Unmarshal(body, &req); err != nil {
			writeOpenAIError(w, invalidRequest("parse request: %v", err))
			return
		}
		if req.Credentials.RefreshToken == "" {
			writeOpenAIError(w, invalidRequest("credentials.refresh_token is required"))
			return
		}
		if provider == providers.Kiro {
			if req.Credentials.AuthMethod == "" {
				req.Credentials.AuthMethod = auth.KiroAuthSocial
			}
			if req.Credentials.AuthMethod == auth.KiroAuthIdc &&
				(req.Credentials.ClientID == "" || req.Credentials.ClientSecret == "") {
				writeOpenAIError(w, invalidRequest("idc accounts need client_id and client_secret"))
				return
			}
		}

		email := req.Email
		if email == "" {
			email = fmt.Sprintf("%s-%d", provider, time.Now().Unix())
		}
		account, err := g.upsertAccount(provider, middleware.UserID(r), req.Name, req.Shared, email, &req.Credentials)
		if err != nil {
			writeOpenAIError(w, invalidRequest("%v", err))
			return
		}
		writeJSON(w, http.StatusCreated, viewOf(account))
	}
}

// UpdateAccountHandler renames or enables/disables an account.
func UpdateAccountHandler(g *Gateway) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		account, apiErr := g.ownedAccount(r)
		if apiErr != nil {
			writeOpenAIError(w, apiErr)
			return
		}
		body, err := readBody(r)
		if err != nil {
			writeOpenAIError(w, invalidRequest("read request: %v", err))
			return
		}
		var req struct {
			Name    *string `json:"name"`
			Enabled *bool   `json:"enabled"`
		}
		if err := json.Unmarshal(body, &req); err != nil {
			writeOpenAIError(w, invalidRequest("parse request: %v", err))
			return
		}

		fields := map[string]interface{}{}
		if req.Name != nil {
			fields["name"] = *req.Name
		}
		if req.Enabled != nil {
			if *req.Enabled {
				fields["status"] = models.StatusEnabled
			} else {
				fields["status"] = models.StatusDisabled
			}
		}
		if len(fields) == 0 {
			writeOpenAIError(w, invalidRequest("nothing to update"))
			return
		}
		if err := db.UpdateAccountFields(g.DB, account.ID, fields); err != nil {
			writeOpenAIError(w, &apiError{Status: http.StatusInternalServerError, Type: "api_error", Message: err.Error()})
			return
		}
		updated, _ := db.GetAccount(g.DB, account.Provider, account.ID)
		writeJSON(w, http.StatusOK, viewOf(updated))
	}
}

// DeleteAccountHandler removes an account the caller owns.
func DeleteAccountHandler(g *Gateway) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		provider, apiErr := providerParam(r)
		if apiErr != nil {
			writeOpenAIError(w, apiErr)
			return
		}
		id := chi.URLParam(r, "id")
		account, err := db.GetAccount(g.DB, provider, id)
		if err != nil {
			writeOpenAIError(w, &apiError{Status: http.StatusNotFound, Type: "invalid_request_error", Message: "account not found"})
			return
		}
		owner := account.UserID
		if owner != "" && owner != middleware.UserID(r) {
			writeOpenAIError(w, &apiError{Status: http.StatusForbidden, Type: "permission_error", Message: "account belongs to another user"})
			return
		}
		if err := db.DeleteAccount(g.DB, provider, id, owner); err != nil {
			writeOpenAIError(w, &apiError{Status: http.StatusInternalServerError, Type: "api_error", Message: err.Error()})
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
	}
}

// ExportCredentialsHandler returns the decrypted credential blob so an
// account can be moved to another deployment. Owner only.
func ExportCredentialsHandler(g *Gateway) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		account, apiErr := g.ownedAccount(r)
		if apiErr != nil {
			writeOpenAIError(w, apiErr)
			return
		}
		if account.Shared() {
			writeOpenAIError(w, &apiError{Status: http.StatusForbidden, Type: "permission_error", Message: "shared accounts cannot be exported"})
			return
		}
		creds, err := g.Pool.Credentials(account)
		if err != nil {
			writeOpenAIError(w, &apiError{Status: http.StatusInternalServerError, Type: "api_error", Message: err.Error()})
			return
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"email":       account.Email,
			"credentials": creds,
		})
	}
}

// KiroBalanceHandler fetches the account's usage limits from the kiro
// service and refreshes the local quota snapshot.
func KiroBalanceHandler(g *Gateway) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		account, apiErr := g.ownedAccount(r)
		if apiErr != nil {
			writeOpenAIError(w, apiErr)
			return
		}
		if account.Provider != providers.Kiro {
			writeOpenAIError(w, invalidRequest("balance is only available for kiro accounts"))
			return
		}
		token, err := g.Pool.ValidAccessToken(r.Context(), account)
		if err != nil {
			writeOpenAIError(w, &apiError{Status: http.StatusBadGateway, Type: "api_error", Message: err.Error()})
			return
		}

		snapshot, err := g.fetchKiroBalance(r.Context(), token)
		if err != nil {
			writeOpenAIError(w, &apiError{Status: http.StatusBadGateway, Type: "api_error", Message: err.Error()})
			return
		}

		fields := map[string]interface{}{
			"usage_current":        snapshot.UsageCurrent,
			"usage_limit":          snapshot.UsageLimit,
			"bonus_available":      snapshot.BonusAvailable,
			"free_trial_remaining": snapshot.FreeTrialRemaining,
		}
		if snapshot.QuotaResetAt != nil {
			fields["quota_reset_at"] = *snapshot.QuotaResetAt
		}
		if err := db.UpdateAccountFields(g.DB, account.ID, fields); err != nil {
			writeOpenAIError(w, &apiError{Status: http.StatusInternalServerError, Type: "api_error", Message: err.Error()})
			return
		}
		writeJSON(w, http.StatusOK, snapshot)
	}
}

type kiroBalance struct {
	UsageCurrent       float64    `json:"usage_current"`
	UsageLimit         float64    `json:"usage_limit"`
	BonusAvailable     float64    `json:"bonus_available"`
	FreeTrialRemaining float64    `json:"free_trial_remaining"`
	QuotaResetAt       *time.Time `json:"quota_reset_at,omitempty"`
}

func (g *Gateway) fetchKiroBalance(ctx context.Context, token string) (*kiroBalance, error) {
	client := &upstream.OpenAICompat{BaseURL: g.Cfg.Providers.Kiro.APIBaseURL, HTTP: g.HTTP}
	resp, err := client.PostJSON(ctx, "/getUsageLimits", token, map[string]interface{}{})
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("usage lookup returned %d", resp.StatusCode)
	}
	doc, err := readLimited(resp.Body)
	if err != nil {
		return nil, err
	}

	balance := &kiroBalance{
		UsageCurrent:       gjson.GetBytes(doc, "usageBreakdownList.0.currentUsage").Float(),
		UsageLimit:         gjson.GetBytes(doc, "usageBreakdownList.0.usageLimit").Float(),
		BonusAvailable:     gjson.GetBytes(doc, "usageBreakdownList.0.bonusCreditsAvailable").Float(),
		FreeTrialRemaining: gjson.GetBytes(doc, "usageBreakdownList.0.freeTrialRemaining").Float(),
	}
	if reset := gjson.GetBytes(doc, "daysUntilReset"); reset.Exists() {
		at := time.Now().Add(time.Duration(reset.Int()) * 24 * time.Hour)
		balance.QuotaResetAt = &at
	}
	return balance, nil
}

// ownedAccount loads the {provider}/{id} account and enforces ownership:
// the caller must own it, or it must be a shared-pool member.
func (g *Gateway) ownedAccount(r *http.Request) (*models.Account, *apiError) {
	provider, apiErr := providerParam(r)
	if apiErr != nil {
		return nil, apiErr
	}
	account, err := db.GetAccount(g.DB, provider, chi.URLParam(r, "id"))
	if err != nil {
		return nil, &apiError{Status: http.StatusNotFound, Type: "invalid_request_error", Message: "account not found"}
	}
	if !account.Shared() && account.UserID != middleware.UserID(r) {
		return nil, &apiError{Status: http.StatusForbidden, Type: "permission_error", Message: "account belongs to another user"}
	}
	return account, nil
}
