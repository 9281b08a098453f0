package authz

import (
	"doable/internal/platform/models"
	"doable/internal/platform/repositories"
)

// Reason explains an authorization verdict.
type Reason string

const (
	// ReasonUnauthenticated: the user id resolves to no existing user.
	ReasonUnauthenticated Reason = "unauthenticated"
	// ReasonAdmin: platform admin, membership bypassed entirely.
	ReasonAdmin Reason = "admin"
	// ReasonNoMembership: real user, no membership in the target org.
	ReasonNoMembership Reason = "no_membership"
	// ReasonInsufficientRole: membership exists but its role is not allowed.
	ReasonInsufficientRole Reason = "insufficient_role"
	// ReasonRole: authorized through a membership role.
	ReasonRole Reason = "role"
)

type Verdict struct {
	Authorized bool   `json:"authorized"`
	Reason     Reason `json:"reason"`
	// Role is set when Reason is ReasonRole.
	Role Role `json:"role,omitempty"`
}

// Engine answers "may this user act in this organization". It holds no
// state of its own; every decision is computed from live store lookups so a
// revoked membership takes effect on the next request.
type Engine struct {
	users       *repositories.UserRepository
	memberships *repositories.MembershipRepository
}

func NewEngine(users *repositories.UserRepository, memberships *repositories.MembershipRepository) *Engine {
	return &Engine{users: users, memberships: memberships}
}

// Authorize checks the user against an explicit role set. The platform-admin
// bypass is evaluated first, before any membership lookup: admins are
// authorized for every organization, including ones they never joined.
//
// Prefer AuthorizeMinimumRole; an explicit role set is the narrow exception
// for checks that must not include higher roles implicitly.
func (e *Engine) Authorize(userID, orgID string, allowedRoles []Role) (Verdict, error) {
	user, err := e.users.GetByID(userID)
	if err != nil {
		return Verdict{}, err
	}
	if user == nil {
		return Verdict{Authorized: false, Reason: ReasonUnauthenticated}, nil
	}

	if user.IsAdmin {
		return Verdict{Authorized: true, Reason: ReasonAdmin}, nil
	}

	membership, err := e.memberships.GetByUserAndOrg(userID, orgID)
	if err != nil {
		return Verdict{}, err
	}
	if membership == nil {
		return Verdict{Authorized: false, Reason: ReasonNoMembership}, nil
	}

	role := Role(membership.Role)
	if !HasRole(role, allowedRoles) {
		return Verdict{Authorized: false, Reason: ReasonInsufficientRole}, nil
	}

	return Verdict{Authorized: true, Reason: ReasonRole, Role: role}, nil
}

// AuthorizeMinimumRole accepts minRole and everything above it. This is the
// primary entry point for permission checks.
func (e *Engine) AuthorizeMinimumRole(userID, orgID string, minRole Role) (Verdict, error) {
	return e.Authorize(userID, orgID, RolesAtOrAbove(minRole))
}

// GetUserRole returns the user's role in the org, or "" without error when
// no membership exists.
func (e *Engine) GetUserRole(userID, orgID string) (Role, error) {
	membership, err := e.memberships.GetByUserAndOrg(userID, orgID)
	if err != nil {
		return "", err
	}
	if membership == nil {
		return "", nil
	}
	return Role(membership.Role), nil
}

func (e *Engine) IsMemberOf(userID, orgID string) (bool, error) {
	membership, err := e.memberships.GetByUserAndOrg(userID, orgID)
	if err != nil {
		return false, err
	}
	return membership != nil, nil
}

// IsInternalAdmin reports the platform-admin flag. Unknown users are not
// admins.
func (e *Engine) IsInternalAdmin(userID string) (bool, error) {
	user, err := e.users.GetByID(userID)
	if err != nil {
		return false, err
	}
	return user != nil && user.IsAdmin, nil
}

func (e *Engine) GetUserOrganizations(userID string) ([]*models.Membership, error) {
	return e.memberships.ListByUser(userID)
}

// Membership exposes the raw membership row for callers that attach it to a
// request context.
func (e *Engine) Membership(userID, orgID string) (*models.Membership, error) {
	return e.memberships.GetByUserAndOrg(userID, orgID)
}
