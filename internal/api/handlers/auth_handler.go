package handlers

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"doable/internal/api/middleware"
	"doable/internal/engine/authz"
	"doable/internal/engine/resettokens"
	"doable/internal/engine/sessions"
	"doable/internal/pkg/errors"
	"doable/internal/pkg/mailer"
	"doable/internal/pkg/validator"
	"doable/internal/platform/audit"
	"doable/internal/platform/auth"
	"doable/internal/platform/models"
	"doable/internal/platform/repositories"
)

type AuthHandler struct {
	userRepo       *repositories.UserRepository
	orgRepo        *repositories.OrganizationRepository
	membershipRepo *repositories.MembershipRepository
	sessionStore   *sessions.Store
	engine         *authz.Engine
	resetMgr       *resettokens.Manager
	mailer         mailer.Mailer
	audit          *audit.Logger
	secureCookies  bool
	resetBaseURL   string
}

func NewAuthHandler(userRepo *repositories.UserRepository, orgRepo *repositories.OrganizationRepository, membershipRepo *repositories.MembershipRepository, sessionStore *sessions.Store, engine *authz.Engine, resetMgr *resettokens.Manager, m mailer.Mailer, auditLogger *audit.Logger, secureCookies bool, resetBaseURL string) *AuthHandler {
	return &AuthHandler{
		userRepo:       userRepo,
		orgRepo:        orgRepo,
		membershipRepo: membershipRepo,
		sessionStore:   sessionStore,
		engine:         engine,
		resetMgr:       resetMgr,
		mailer:         m,
		audit:          auditLogger,
		secureCookies:  secureCookies,
		resetBaseURL:   resetBaseURL,
	}
}

func (h *AuthHandler) setSessionCookie(w http.ResponseWriter, sessionID string) {
	http.SetCookie(w, &http.Cookie{
		Name:     sessions.CookieName,
		Value:    sessionID,
		Path:     "/",
		MaxAge:   int(sessions.TTL.Seconds()),
		HttpOnly: true,
		Secure:   h.secureCookies,
		SameSite: http.SameSiteLaxMode,
	})
}

func (h *AuthHandler) clearSessionCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     sessions.CookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   h.secureCookies,
		SameSite: http.SameSiteLaxMode,
	})
}

func actor(r *http.Request, rc *middleware.RequestContext) audit.Actor {
	a := audit.Actor{IPAddress: r.RemoteAddr, UserAgent: r.UserAgent()}
	if rc.Authenticated() {
		a.UserID = rc.Identity.UserID
		a.OrgID = rc.OrganizationID
	}
	return a
}

type SignupRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	FullName string `json:"full_name"`
	OrgName  string `json:"org_name"`
}

type SignupResponse struct {
	User         *models.User         `json:"user"`
	Organization *models.Organization `json:"organization"`
	Session      *sessions.Session    `json:"session"`
}

// Signup creates the user, a first organization owned by them, and a
// session already switched into that organization.
func (h *AuthHandler) Signup(w http.ResponseWriter, r *http.Request) {
	var req SignupRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		errors.WriteError(w, http.StatusBadRequest, errors.ErrCodeInvalidInput, "Invalid request body", nil)
		return
	}

	email := validator.NormalizeEmail(req.Email)
	if err := validator.ValidateEmail(email); err != nil {
		errors.WriteError(w, http.StatusBadRequest, errors.ErrCodeInvalidInput, err.Error(), nil)
		return
	}
	if err := validator.ValidatePassword(req.Password); err != nil {
		errors.WriteError(w, http.StatusBadRequest, errors.ErrCodeInvalidInput, err.Error(), nil)
		return
	}

	existing, err := h.userRepo.GetByEmail(email)
	if err != nil {
		errors.WriteStoreError(w, err)
		return
	}
	if existing != nil {
		errors.WriteError(w, http.StatusConflict, errors.ErrCodeConflict, "An account with this email already exists", nil)
		return
	}

	hash, err := auth.HashPassword(req.Password)
	if err != nil {
		errors.WriteError(w, http.StatusInternalServerError, errors.ErrCodeInternal, "Failed to hash password", nil)
		return
	}

	now := time.Now().Unix()
	user := &models.User{
		ID:           "usr_" + uuid.NewString(),
		Email:        email,
		PasswordHash: hash,
		FullName:     req.FullName,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	orgName := req.OrgName
	if orgName == "" {
		orgName = user.FullName
	}
	if orgName == "" {
		orgName = strings.Split(email, "@")[0]
	}

	slug, err := h.availableSlug(email)
	if err != nil {
		errors.WriteStoreError(w, err)
		return
	}

	org := &models.Organization{
		ID:        "org_" + uuid.NewString(),
		Slug:      slug,
		Name:      orgName,
		CreatedAt: now,
		UpdatedAt: now,
	}

	membership := &models.Membership{
		ID:             "mem_" + uuid.NewString(),
		UserID:         user.ID,
		OrganizationID: org.ID,
		Role:           string(authz.RoleOwner),
		CreatedAt:      now,
	}

	tx, err := h.orgRepo.BeginTx()
	if err != nil {
		errors.WriteStoreError(w, err)
		return
	}
	defer tx.Rollback()

	if err := h.userRepo.CreateTx(tx, user); err != nil {
		// The pre-check above races with concurrent signups; only a real
		// unique violation is a conflict.
		if repositories.IsDuplicate(err) {
			errors.WriteError(w, http.StatusConflict, errors.ErrCodeConflict, "An account with this email already exists", nil)
			return
		}
		errors.WriteStoreError(w, err)
		return
	}
	if err := h.orgRepo.CreateTx(tx, org); err != nil {
		errors.WriteStoreError(w, err)
		return
	}
	if err := h.membershipRepo.CreateTx(tx, membership); err != nil {
		errors.WriteStoreError(w, err)
		return
	}
	if err := tx.Commit(); err != nil {
		errors.WriteStoreError(w, err)
		return
	}

	session, err := h.sessionStore.Create(user.ID, &org.ID, sessions.Metadata{
		IPAddress: r.RemoteAddr,
		UserAgent: r.UserAgent(),
	})
	if err != nil {
		errors.WriteStoreError(w, err)
		return
	}

	h.audit.Log(audit.Actor{UserID: user.ID, OrgID: org.ID, IPAddress: r.RemoteAddr, UserAgent: r.UserAgent()},
		"user.signed_up", "user", user.ID, nil)

	h.setSessionCookie(w, session.ID)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(SignupResponse{User: user, Organization: org, Session: session})
}

// availableSlug derives an org slug from the email local part, uniquified
// with a random suffix when taken.
func (h *AuthHandler) availableSlug(email string) (string, error) {
	base := strings.Split(email, "@")[0]
	base = strings.Map(func(r rune) rune {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') || r == '-' {
			return r
		}
		return '-'
	}, strings.ToLower(base))
	base = strings.Trim(base, "-")
	if base == "" {
		base = "org"
	}

	slug := base
	for i := 0; i < 5; i++ {
		existing, err := h.orgRepo.GetBySlug(slug)
		if err != nil {
			return "", err
		}
		if existing == nil {
			return slug, nil
		}
		slug = base + "-" + uuid.NewString()[:6]
	}
	return slug, nil
}

type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type LoginResponse struct {
	User    *models.User      `json:"user"`
	Session *sessions.Session `json:"session"`
}

func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		errors.WriteError(w, http.StatusBadRequest, errors.ErrCodeInvalidInput, "Invalid request body", nil)
		return
	}

	user, err := h.userRepo.GetByEmail(validator.NormalizeEmail(req.Email))
	if err != nil {
		errors.WriteStoreError(w, err)
		return
	}
	if user == nil || !auth.VerifyPassword(req.Password, user.PasswordHash) {
		errors.WriteError(w, http.StatusUnauthorized, errors.ErrCodeUnauthenticated, "Invalid credentials", nil)
		return
	}

	// Pre-select an org when the choice is unambiguous.
	var currentOrgID *string
	memberships, err := h.membershipRepo.ListByUser(user.ID)
	if err != nil {
		errors.WriteStoreError(w, err)
		return
	}
	if len(memberships) == 1 {
		currentOrgID = &memberships[0].OrganizationID
	}

	session, err := h.sessionStore.Create(user.ID, currentOrgID, sessions.Metadata{
		IPAddress: r.RemoteAddr,
		UserAgent: r.UserAgent(),
	})
	if err != nil {
		errors.WriteStoreError(w, err)
		return
	}

	h.audit.Log(audit.Actor{UserID: user.ID, IPAddress: r.RemoteAddr, UserAgent: r.UserAgent()},
		"user.signed_in", "session", session.ID, nil)

	h.setSessionCookie(w, session.ID)
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(LoginResponse{User: user, Session: session})
}

// Logout is idempotent; signing out an already-dead session succeeds.
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	rc := middleware.FromRequest(r)
	if rc.Session != nil {
		if _, err := h.sessionStore.Delete(rc.Session.ID); err != nil {
			errors.WriteStoreError(w, err)
			return
		}
		h.audit.Log(actor(r, rc), "user.signed_out", "session", rc.Session.ID, nil)
	}

	h.clearSessionCookie(w)
	w.WriteHeader(http.StatusNoContent)
}

// LogoutEverywhere revokes every other session the user has.
func (h *AuthHandler) LogoutEverywhere(w http.ResponseWriter, r *http.Request) {
	rc := middleware.FromRequest(r)
	if rc.Session == nil {
		errors.WriteError(w, http.StatusBadRequest, errors.ErrCodeInvalidInput, "Requires a browser session", nil)
		return
	}

	count, err := h.sessionStore.DeleteAllForUserExcept(rc.Identity.UserID, rc.Session.ID)
	if err != nil {
		errors.WriteStoreError(w, err)
		return
	}

	h.audit.Log(actor(r, rc), "user.signed_out_everywhere", "user", rc.Identity.UserID, map[string]interface{}{"revoked": count})

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]int64{"revoked": count})
}

type MeResponse struct {
	User        *models.User         `json:"user"`
	Session     *sessions.Session    `json:"session,omitempty"`
	Memberships []*models.Membership `json:"memberships"`
}

func (h *AuthHandler) Me(w http.ResponseWriter, r *http.Request) {
	rc := middleware.FromRequest(r)

	user, err := h.userRepo.GetByID(rc.Identity.UserID)
	if err != nil {
		errors.WriteStoreError(w, err)
		return
	}
	if user == nil {
		errors.WriteError(w, http.StatusUnauthorized, errors.ErrCodeUnauthenticated, "Account no longer exists", nil)
		return
	}

	memberships, err := h.engine.GetUserOrganizations(user.ID)
	if err != nil {
		errors.WriteStoreError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(MeResponse{User: user, Session: rc.Session, Memberships: memberships})
}

type SwitchOrgRequest struct {
	OrganizationID *string `json:"organization_id"`
}

// SwitchOrg changes the session's acting organization. Switching to an org
// requires membership (or the platform-admin bypass); switching to null
// always succeeds.
func (h *AuthHandler) SwitchOrg(w http.ResponseWriter, r *http.Request) {
	rc := middleware.FromRequest(r)
	if rc.Session == nil {
		errors.WriteError(w, http.StatusBadRequest, errors.ErrCodeInvalidInput, "Requires a browser session", nil)
		return
	}

	var req SwitchOrgRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		errors.WriteError(w, http.StatusBadRequest, errors.ErrCodeInvalidInput, "Invalid request body", nil)
		return
	}

	if req.OrganizationID != nil {
		verdict, err := h.engine.AuthorizeMinimumRole(rc.Identity.UserID, *req.OrganizationID, authz.RoleMember)
		if err != nil {
			errors.WriteStoreError(w, err)
			return
		}
		if !verdict.Authorized {
			errors.WriteError(w, http.StatusForbidden, errors.ErrCodeForbidden, "Not a member of this organization", nil)
			return
		}
	}

	session, err := h.sessionStore.SwitchOrg(rc.Session.ID, req.OrganizationID)
	if err == sessions.ErrNotFound {
		errors.WriteError(w, http.StatusUnauthorized, errors.ErrCodeUnauthenticated, "Session expired", nil)
		return
	}
	if err != nil {
		errors.WriteStoreError(w, err)
		return
	}

	target := ""
	if req.OrganizationID != nil {
		target = *req.OrganizationID
	}
	h.audit.Log(actor(r, rc), "session.switched_org", "organization", target, nil)

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(session)
}

func (h *AuthHandler) ListSessions(w http.ResponseWriter, r *http.Request) {
	rc := middleware.FromRequest(r)

	active, err := h.sessionStore.ListActiveForUser(rc.Identity.UserID)
	if err != nil {
		errors.WriteStoreError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(active)
}

type PasswordResetRequest struct {
	Email string `json:"email"`
}

// RequestPasswordReset always answers with the same accepted shape, whether
// or not the address exists. Anything else would let callers enumerate
// accounts.
func (h *AuthHandler) RequestPasswordReset(w http.ResponseWriter, r *http.Request) {
	var req PasswordResetRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		errors.WriteError(w, http.StatusBadRequest, errors.ErrCodeInvalidInput, "Invalid request body", nil)
		return
	}

	issued, err := h.resetMgr.RequestForEmail(req.Email)
	if err != nil && err != resettokens.ErrUserNotFound {
		errors.WriteStoreError(w, err)
		return
	}

	if issued != nil {
		resetURL := h.resetBaseURL + "?token=" + issued.Secret
		if err := h.mailer.SendPasswordReset(issued.Email, resetURL); err != nil {
			log.Error().Err(err).Msg("failed to send password reset email")
		}
		h.audit.Log(audit.Actor{UserID: issued.UserID, IPAddress: r.RemoteAddr, UserAgent: r.UserAgent()},
			"password.reset_requested", "user", issued.UserID, nil)
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	json.NewEncoder(w).Encode(map[string]string{"message": "If the address exists, a reset email is on its way"})
}

type ValidateResetTokenRequest struct {
	Token string `json:"token"`
}

func (h *AuthHandler) ValidateResetToken(w http.ResponseWriter, r *http.Request) {
	var req ValidateResetTokenRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		errors.WriteError(w, http.StatusBadRequest, errors.ErrCodeInvalidInput, "Invalid request body", nil)
		return
	}

	if _, err := h.resetMgr.Validate(req.Token); err != nil {
		writeResetError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]bool{"valid": true})
}

type ResetPasswordRequest struct {
	Token    string `json:"token"`
	Password string `json:"password"`
}

func (h *AuthHandler) ResetPassword(w http.ResponseWriter, r *http.Request) {
	var req ResetPasswordRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		errors.WriteError(w, http.StatusBadRequest, errors.ErrCodeInvalidInput, "Invalid request body", nil)
		return
	}
	if err := validator.ValidatePassword(req.Password); err != nil {
		errors.WriteError(w, http.StatusBadRequest, errors.ErrCodeInvalidInput, err.Error(), nil)
		return
	}

	userID, err := h.resetMgr.Consume(req.Token, req.Password)
	if err != nil {
		writeResetError(w, err)
		return
	}

	// A leaked credential was just rotated; existing sessions die with it.
	if _, err := h.sessionStore.DeleteAllForUser(userID); err != nil {
		errors.WriteStoreError(w, err)
		return
	}

	h.audit.Log(audit.Actor{UserID: userID, IPAddress: r.RemoteAddr, UserAgent: r.UserAgent()},
		"password.reset_completed", "user", userID, nil)

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"message": "Password updated, please sign in"})
}

func writeResetError(w http.ResponseWriter, err error) {
	switch err {
	case resettokens.ErrUsedToken:
		errors.WriteError(w, http.StatusBadRequest, errors.ErrCodeUsedToken, "This reset link has already been used", nil)
	case resettokens.ErrExpiredToken:
		errors.WriteError(w, http.StatusBadRequest, errors.ErrCodeExpiredToken, "This reset link has expired", nil)
	case resettokens.ErrInvalidToken, resettokens.ErrUserNotFound:
		errors.WriteError(w, http.StatusBadRequest, errors.ErrCodeInvalidToken, "This reset link is not valid", nil)
	default:
		errors.WriteStoreError(w, err)
	}
}
