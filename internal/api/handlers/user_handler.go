package handlers

import (
	"encoding/json"
	"net/http"

	"doable/internal/api/middleware"
	"doable/internal/engine/authz"
	"doable/internal/engine/sessions"
	"doable/internal/pkg/errors"
	"doable/internal/pkg/validator"
	"doable/internal/platform/audit"
	"doable/internal/platform/auth"
	"doable/internal/platform/repositories"
)

type UserHandler struct {
	userRepo       *repositories.UserRepository
	membershipRepo *repositories.MembershipRepository
	sessionStore   *sessions.Store
	audit          *audit.Logger
}

func NewUserHandler(userRepo *repositories.UserRepository, membershipRepo *repositories.MembershipRepository, sessionStore *sessions.Store, auditLogger *audit.Logger) *UserHandler {
	return &UserHandler{
		userRepo:       userRepo,
		membershipRepo: membershipRepo,
		sessionStore:   sessionStore,
		audit:          auditLogger,
	}
}

type UpdateProfileRequest struct {
	FullName string `json:"full_name"`
}

func (h *UserHandler) UpdateProfile(w http.ResponseWriter, r *http.Request) {
	rc := middleware.FromRequest(r)

	var req UpdateProfileRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		errors.WriteError(w, http.StatusBadRequest, errors.ErrCodeInvalidInput, "Invalid request body", nil)
		return
	}

	if err := h.userRepo.UpdateProfile(rc.Identity.UserID, req.FullName); err != nil {
		errors.WriteStoreError(w, err)
		return
	}

	user, err := h.userRepo.GetByID(rc.Identity.UserID)
	if err != nil {
		errors.WriteStoreError(w, err)
		return
	}

	h.audit.Log(actor(r, rc), "user.profile_updated", "user", rc.Identity.UserID, nil)

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(user)
}

type ChangePasswordRequest struct {
	CurrentPassword string `json:"current_password"`
	NewPassword     string `json:"new_password"`
}

// ChangePassword rotates the credential and revokes every other session,
// keeping only the one making the request.
func (h *UserHandler) ChangePassword(w http.ResponseWriter, r *http.Request) {
	rc := middleware.FromRequest(r)

	var req ChangePasswordRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		errors.WriteError(w, http.StatusBadRequest, errors.ErrCodeInvalidInput, "Invalid request body", nil)
		return
	}
	if err := validator.ValidatePassword(req.NewPassword); err != nil {
		errors.WriteError(w, http.StatusBadRequest, errors.ErrCodeInvalidInput, err.Error(), nil)
		return
	}

	user, err := h.userRepo.GetByID(rc.Identity.UserID)
	if err != nil {
		errors.WriteStoreError(w, err)
		return
	}
	if user == nil || !auth.VerifyPassword(req.CurrentPassword, user.PasswordHash) {
		errors.WriteError(w, http.StatusUnauthorized, errors.ErrCodeUnauthenticated, "Current password is incorrect", nil)
		return
	}

	hash, err := auth.HashPassword(req.NewPassword)
	if err != nil {
		errors.WriteError(w, http.StatusInternalServerError, errors.ErrCodeInternal, "Failed to hash password", nil)
		return
	}
	if err := h.userRepo.UpdatePassword(user.ID, hash); err != nil {
		errors.WriteStoreError(w, err)
		return
	}

	if rc.Session != nil {
		if _, err := h.sessionStore.DeleteAllForUserExcept(user.ID, rc.Session.ID); err != nil {
			errors.WriteStoreError(w, err)
			return
		}
	} else {
		if _, err := h.sessionStore.DeleteAllForUser(user.ID); err != nil {
			errors.WriteStoreError(w, err)
			return
		}
	}

	h.audit.Log(actor(r, rc), "user.password_changed", "user", user.ID, nil)

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"message": "Password updated"})
}

type DeleteAccountRequest struct {
	Password string `json:"password"`
}

// DeleteAccount removes the user entirely. Blocked while the user is the
// sole owner of any organization; ownership has to be handed off or the org
// deleted first.
func (h *UserHandler) DeleteAccount(w http.ResponseWriter, r *http.Request) {
	rc := middleware.FromRequest(r)

	var req DeleteAccountRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		errors.WriteError(w, http.StatusBadRequest, errors.ErrCodeInvalidInput, "Invalid request body", nil)
		return
	}

	user, err := h.userRepo.GetByID(rc.Identity.UserID)
	if err != nil {
		errors.WriteStoreError(w, err)
		return
	}
	if user == nil || !auth.VerifyPassword(req.Password, user.PasswordHash) {
		errors.WriteError(w, http.StatusUnauthorized, errors.ErrCodeUnauthenticated, "Password is incorrect", nil)
		return
	}

	memberships, err := h.membershipRepo.ListByUser(user.ID)
	if err != nil {
		errors.WriteStoreError(w, err)
		return
	}
	for _, m := range memberships {
		if authz.Role(m.Role) != authz.RoleOwner {
			continue
		}
		owners, err := h.membershipRepo.CountByOrgAndRole(m.OrganizationID, string(authz.RoleOwner))
		if err != nil {
			errors.WriteStoreError(w, err)
			return
		}
		if owners <= 1 {
			errors.WriteError(w, http.StatusConflict, errors.ErrCodeConflict,
				"Transfer ownership of your organizations before deleting your account",
				map[string]string{"organization_id": m.OrganizationID})
			return
		}
	}

	if err := h.userRepo.Delete(user.ID); err != nil {
		errors.WriteStoreError(w, err)
		return
	}

	h.audit.Log(actor(r, rc), "user.deleted", "user", user.ID, nil)

	w.WriteHeader(http.StatusNoContent)
}
