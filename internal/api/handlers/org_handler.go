package handlers

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/julienschmidt/httprouter"

	apiContext "doable/internal/api/context"
	"doable/internal/api/middleware"
	"doable/internal/engine/authz"
	"doable/internal/pkg/errors"
	"doable/internal/pkg/validator"
	"doable/internal/platform/audit"
	"doable/internal/platform/models"
	"doable/internal/platform/repositories"
)

func param(r *http.Request, name string) string {
	if params, ok := r.Context().Value(apiContext.Params).(httprouter.Params); ok {
		return params.ByName(name)
	}
	return ""
}

type OrgHandler struct {
	orgRepo        *repositories.OrganizationRepository
	membershipRepo *repositories.MembershipRepository
	userRepo       *repositories.UserRepository
	engine         *authz.Engine
	audit          *audit.Logger
}

func NewOrgHandler(orgRepo *repositories.OrganizationRepository, membershipRepo *repositories.MembershipRepository, userRepo *repositories.UserRepository, engine *authz.Engine, auditLogger *audit.Logger) *OrgHandler {
	return &OrgHandler{
		orgRepo:        orgRepo,
		membershipRepo: membershipRepo,
		userRepo:       userRepo,
		engine:         engine,
		audit:          auditLogger,
	}
}

type CreateOrgRequest struct {
	Name string `json:"name"`
	Slug string `json:"slug"`
}

// Create makes a new organization with the caller as its owner.
func (h *OrgHandler) Create(w http.ResponseWriter, r *http.Request) {
	rc := middleware.FromRequest(r)

	var req CreateOrgRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		errors.WriteError(w, http.StatusBadRequest, errors.ErrCodeInvalidInput, "Invalid request body", nil)
		return
	}
	if req.Name == "" {
		errors.WriteError(w, http.StatusBadRequest, errors.ErrCodeInvalidInput, "Organization name is required", nil)
		return
	}
	if req.Slug == "" {
		req.Slug = "org-" + uuid.NewString()[:8]
	}

	existing, err := h.orgRepo.GetBySlug(req.Slug)
	if err != nil {
		errors.WriteStoreError(w, err)
		return
	}
	if existing != nil {
		errors.WriteError(w, http.StatusConflict, errors.ErrCodeConflict, "Slug is already taken", nil)
		return
	}

	now := time.Now().Unix()
	org := &models.Organization{
		ID:        "org_" + uuid.NewString(),
		Slug:      req.Slug,
		Name:      req.Name,
		CreatedAt: now,
		UpdatedAt: now,
	}
	membership := &models.Membership{
		ID:             "mem_" + uuid.NewString(),
		UserID:         rc.Identity.UserID,
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

	h.audit.Log(actor(r, rc), "organization.created", "organization", org.ID, nil)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(org)
}

// List returns the organizations the caller belongs to.
func (h *OrgHandler) List(w http.ResponseWriter, r *http.Request) {
	rc := middleware.FromRequest(r)

	memberships, err := h.engine.GetUserOrganizations(rc.Identity.UserID)
	if err != nil {
		errors.WriteStoreError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(memberships)
}

func (h *OrgHandler) Get(w http.ResponseWriter, r *http.Request) {
	rc := middleware.FromRequest(r)

	org, err := h.orgRepo.GetByID(rc.OrganizationID)
	if err != nil {
		errors.WriteStoreError(w, err)
		return
	}
	if org == nil {
		errors.WriteError(w, http.StatusNotFound, errors.ErrCodeNotFound, "Organization not found", nil)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(org)
}

type UpdateOrgRequest struct {
	Name string `json:"name"`
}

func (h *OrgHandler) Update(w http.ResponseWriter, r *http.Request) {
	rc := middleware.FromRequest(r)

	var req UpdateOrgRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		errors.WriteError(w, http.StatusBadRequest, errors.ErrCodeInvalidInput, "Invalid request body", nil)
		return
	}
	if req.Name == "" {
		errors.WriteError(w, http.StatusBadRequest, errors.ErrCodeInvalidInput, "Organization name is required", nil)
		return
	}

	org, err := h.orgRepo.GetByID(rc.OrganizationID)
	if err != nil {
		errors.WriteStoreError(w, err)
		return
	}
	if org == nil {
		errors.WriteError(w, http.StatusNotFound, errors.ErrCodeNotFound, "Organization not found", nil)
		return
	}

	org.Name = req.Name
	if err := h.orgRepo.Update(org); err != nil {
		errors.WriteStoreError(w, err)
		return
	}

	h.audit.Log(actor(r, rc), "organization.updated", "organization", org.ID, nil)

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(org)
}

// Delete removes the organization and everything scoped under it.
func (h *OrgHandler) Delete(w http.ResponseWriter, r *http.Request) {
	rc := middleware.FromRequest(r)

	if err := h.orgRepo.Delete(rc.OrganizationID); err != nil {
		errors.WriteStoreError(w, err)
		return
	}

	h.audit.Log(actor(r, rc), "organization.deleted", "organization", rc.OrganizationID, nil)

	w.WriteHeader(http.StatusNoContent)
}

type MemberResponse struct {
	Membership *models.Membership `json:"membership"`
	User       *models.User       `json:"user"`
}

func (h *OrgHandler) ListMembers(w http.ResponseWriter, r *http.Request) {
	rc := middleware.FromRequest(r)

	memberships, err := h.membershipRepo.ListByOrg(rc.OrganizationID)
	if err != nil {
		errors.WriteStoreError(w, err)
		return
	}

	members := make([]MemberResponse, 0, len(memberships))
	for _, m := range memberships {
		user, err := h.userRepo.GetByID(m.UserID)
		if err != nil {
			errors.WriteStoreError(w, err)
			return
		}
		members = append(members, MemberResponse{Membership: m, User: user})
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(members)
}

type AddMemberRequest struct {
	Email string `json:"email"`
	Role  string `json:"role"`
}

// AddMember attaches an existing account to the organization by email.
func (h *OrgHandler) AddMember(w http.ResponseWriter, r *http.Request) {
	rc := middleware.FromRequest(r)

	var req AddMemberRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		errors.WriteError(w, http.StatusBadRequest, errors.ErrCodeInvalidInput, "Invalid request body", nil)
		return
	}

	role := authz.Role(req.Role)
	if req.Role == "" {
		role = authz.RoleMember
	}
	if !role.Valid() {
		errors.WriteError(w, http.StatusBadRequest, errors.ErrCodeInvalidInput, "Invalid role", nil)
		return
	}
	// Granting owner is reserved for owners.
	if role == authz.RoleOwner && !h.callerIsOwnerOrAdmin(rc) {
		errors.WriteError(w, http.StatusForbidden, errors.ErrCodeForbidden, "Only owners can grant the owner role", nil)
		return
	}

	user, err := h.userRepo.GetByEmail(validator.NormalizeEmail(req.Email))
	if err != nil {
		errors.WriteStoreError(w, err)
		return
	}
	if user == nil {
		errors.WriteError(w, http.StatusNotFound, errors.ErrCodeNotFound, "No account with this email", nil)
		return
	}

	existing, err := h.membershipRepo.GetByUserAndOrg(user.ID, rc.OrganizationID)
	if err != nil {
		errors.WriteStoreError(w, err)
		return
	}
	if existing != nil {
		errors.WriteError(w, http.StatusConflict, errors.ErrCodeConflict, "Already a member", nil)
		return
	}

	membership := &models.Membership{
		ID:             "mem_" + uuid.NewString(),
		UserID:         user.ID,
		OrganizationID: rc.OrganizationID,
		Role:           string(role),
		CreatedAt:      time.Now().Unix(),
	}
	if err := h.membershipRepo.Create(membership); err != nil {
		errors.WriteStoreError(w, err)
		return
	}

	h.audit.Log(actor(r, rc), "member.added", "membership", membership.ID,
		map[string]interface{}{"user_id": user.ID, "role": string(role)})

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(MemberResponse{Membership: membership, User: user})
}

// callerIsOwnerOrAdmin reports whether the acting party may manage the owner
// role: org owners and platform admins qualify.
func (h *OrgHandler) callerIsOwnerOrAdmin(rc *middleware.RequestContext) bool {
	if rc.Identity.IsAdmin {
		return true
	}
	return rc.Membership != nil && authz.Role(rc.Membership.Role) == authz.RoleOwner
}

type UpdateMemberRoleRequest struct {
	Role string `json:"role"`
}

func (h *OrgHandler) UpdateMemberRole(w http.ResponseWriter, r *http.Request) {
	rc := middleware.FromRequest(r)
	memberUserID := param(r, "userID")

	var req UpdateMemberRoleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		errors.WriteError(w, http.StatusBadRequest, errors.ErrCodeInvalidInput, "Invalid request body", nil)
		return
	}

	role := authz.Role(req.Role)
	if !role.Valid() {
		errors.WriteError(w, http.StatusBadRequest, errors.ErrCodeInvalidInput, "Invalid role", nil)
		return
	}

	membership, err := h.membershipRepo.GetByUserAndOrg(memberUserID, rc.OrganizationID)
	if err != nil {
		errors.WriteStoreError(w, err)
		return
	}
	if membership == nil {
		errors.WriteError(w, http.StatusNotFound, errors.ErrCodeNotFound, "Member not found", nil)
		return
	}

	if authz.Role(membership.Role) == authz.RoleOwner && role != authz.RoleOwner {
		if err := h.guardLastOwner(w, rc.OrganizationID); err != nil {
			return
		}
	}

	if err := h.membershipRepo.UpdateRole(membership.ID, string(role)); err != nil {
		errors.WriteStoreError(w, err)
		return
	}
	membership.Role = string(role)

	h.audit.Log(actor(r, rc), "member.role_changed", "membership", membership.ID,
		map[string]interface{}{"user_id": memberUserID, "role": string(role)})

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(membership)
}

// RemoveMember drops a membership. Admins can remove others; anyone can
// remove themselves, which is how leaving an org works.
func (h *OrgHandler) RemoveMember(w http.ResponseWriter, r *http.Request) {
	rc := middleware.FromRequest(r)
	memberUserID := param(r, "userID")

	membership, err := h.membershipRepo.GetByUserAndOrg(memberUserID, rc.OrganizationID)
	if err != nil {
		errors.WriteStoreError(w, err)
		return
	}
	if membership == nil {
		errors.WriteError(w, http.StatusNotFound, errors.ErrCodeNotFound, "Member not found", nil)
		return
	}

	if authz.Role(membership.Role) == authz.RoleOwner {
		if !h.callerIsOwnerOrAdmin(rc) && memberUserID != rc.Identity.UserID {
			errors.WriteError(w, http.StatusForbidden, errors.ErrCodeForbidden, "Only owners can remove an owner", nil)
			return
		}
		if err := h.guardLastOwner(w, rc.OrganizationID); err != nil {
			return
		}
	}

	if err := h.membershipRepo.Delete(membership.ID); err != nil {
		errors.WriteStoreError(w, err)
		return
	}

	h.audit.Log(actor(r, rc), "member.removed", "membership", membership.ID,
		map[string]interface{}{"user_id": memberUserID})

	w.WriteHeader(http.StatusNoContent)
}

// Leave removes the caller's own membership, subject to the last-owner guard.
func (h *OrgHandler) Leave(w http.ResponseWriter, r *http.Request) {
	rc := middleware.FromRequest(r)

	membership, err := h.membershipRepo.GetByUserAndOrg(rc.Identity.UserID, rc.OrganizationID)
	if err != nil {
		errors.WriteStoreError(w, err)
		return
	}
	if membership == nil {
		errors.WriteError(w, http.StatusNotFound, errors.ErrCodeNotFound, "Not a member", nil)
		return
	}

	if authz.Role(membership.Role) == authz.RoleOwner {
		if err := h.guardLastOwner(w, rc.OrganizationID); err != nil {
			return
		}
	}

	if err := h.membershipRepo.Delete(membership.ID); err != nil {
		errors.WriteStoreError(w, err)
		return
	}

	h.audit.Log(actor(r, rc), "member.left", "membership", membership.ID, nil)

	w.WriteHeader(http.StatusNoContent)
}

// guardLastOwner writes a conflict response and returns an error when the
// org would be left ownerless.
func (h *OrgHandler) guardLastOwner(w http.ResponseWriter, orgID string) error {
	count, err := h.membershipRepo.CountByOrgAndRole(orgID, string(authz.RoleOwner))
	if err != nil {
		errors.WriteStoreError(w, err)
		return err
	}
	if count <= 1 {
		errors.WriteError(w, http.StatusConflict, errors.ErrCodeConflict, "Organizations must keep at least one owner", nil)
		return errors.ErrLastOwner
	}
	return nil
}
