package handlers

import (
	"encoding/json"
	"net/http"
	"time"

	"doable/internal/api/middleware"
	"doable/internal/pkg/errors"
	"doable/internal/platform/audit"
	"doable/internal/platform/auth"
	"doable/internal/platform/models"
	"doable/internal/platform/repositories"
)

type TokenHandler struct {
	apiTokens *repositories.APITokenRepository
	tokenSvc  *auth.TokenService
	audit     *audit.Logger
}

func NewTokenHandler(apiTokens *repositories.APITokenRepository, tokenSvc *auth.TokenService, auditLogger *audit.Logger) *TokenHandler {
	return &TokenHandler{apiTokens: apiTokens, tokenSvc: tokenSvc, audit: auditLogger}
}

type CreateAPITokenRequest struct {
	Name          string `json:"name"`
	ExpiresInDays int    `json:"expires_in_days"`
}

type CreateAPITokenResponse struct {
	Token *models.APIToken `json:"token"`
	// Secret is shown exactly once at creation. Only its digest is stored.
	Secret string `json:"secret"`
}

// CreateAPIToken mints a personal access token for scripted API use.
func (h *TokenHandler) CreateAPIToken(w http.ResponseWriter, r *http.Request) {
	rc := middleware.FromRequest(r)

	var req CreateAPITokenRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		errors.WriteError(w, http.StatusBadRequest, errors.ErrCodeInvalidInput, "Invalid request body", nil)
		return
	}
	if req.Name == "" {
		errors.WriteError(w, http.StatusBadRequest, errors.ErrCodeInvalidInput, "Token name is required", nil)
		return
	}

	raw, err := auth.NewOpaqueToken()
	if err != nil {
		errors.WriteError(w, http.StatusInternalServerError, errors.ErrCodeInternal, "Failed to generate token", nil)
		return
	}
	secret := middleware.APITokenPrefix + raw

	token := &models.APIToken{
		UserID:      rc.Identity.UserID,
		Name:        req.Name,
		TokenHash:   auth.HashToken(secret),
		TokenPrefix: secret[:len(middleware.APITokenPrefix)+8],
	}
	if req.ExpiresInDays > 0 {
		exp := time.Now().AddDate(0, 0, req.ExpiresInDays).Unix()
		token.ExpiresAt = &exp
	}

	if err := h.apiTokens.Create(token); err != nil {
		errors.WriteStoreError(w, err)
		return
	}

	h.audit.Log(actor(r, rc), "api_token.created", "api_token", token.ID, nil)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(CreateAPITokenResponse{Token: token, Secret: secret})
}

func (h *TokenHandler) ListAPITokens(w http.ResponseWriter, r *http.Request) {
	rc := middleware.FromRequest(r)

	tokens, err := h.apiTokens.ListByUser(rc.Identity.UserID)
	if err != nil {
		errors.WriteStoreError(w, err)
		return
	}
	if tokens == nil {
		tokens = []*models.APIToken{}
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(tokens)
}

func (h *TokenHandler) RevokeAPIToken(w http.ResponseWriter, r *http.Request) {
	rc := middleware.FromRequest(r)
	tokenID := param(r, "tokenID")

	if err := h.apiTokens.Revoke(tokenID, rc.Identity.UserID); err != nil {
		errors.WriteStoreError(w, err)
		return
	}

	h.audit.Log(actor(r, rc), "api_token.revoked", "api_token", tokenID, nil)

	w.WriteHeader(http.StatusNoContent)
}

// IssueAccessToken exchanges an authenticated session or personal access
// token for a short-lived JWT, convenient for callers that want stateless
// credentials.
func (h *TokenHandler) IssueAccessToken(w http.ResponseWriter, r *http.Request) {
	rc := middleware.FromRequest(r)

	signed, err := h.tokenSvc.GenerateAccessToken(rc.Identity.UserID, rc.Identity.Email)
	if err != nil {
		errors.WriteError(w, http.StatusInternalServerError, errors.ErrCodeInternal, "Failed to sign token", nil)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{
		"access_token": signed,
		"token_type":   "Bearer",
	})
}
