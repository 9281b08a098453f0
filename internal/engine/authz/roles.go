package authz

// Role is a membership role within one organization. Roles form a total
// order: owner > admin > member.
type Role string

const (
	RoleOwner  Role = "owner"
	RoleAdmin  Role = "admin"
	RoleMember Role = "member"
)

var roleLevels = map[Role]int{
	RoleOwner:  3,
	RoleAdmin:  2,
	RoleMember: 1,
}

// Valid reports whether the string names a known role.
func (r Role) Valid() bool {
	_, ok := roleLevels[r]
	return ok
}

func (r Role) Level() int {
	return roleLevels[r]
}

// HasMinimumRole reports whether have sits at or above need in the
// hierarchy. Unknown roles have level 0 and satisfy nothing.
func HasMinimumRole(have, need Role) bool {
	return roleLevels[have] >= roleLevels[need] && roleLevels[have] > 0
}

// HasRole reports set membership, with no hierarchy applied.
func HasRole(have Role, allowed []Role) bool {
	for _, role := range allowed {
		if have == role {
			return true
		}
	}
	return false
}

// RolesAtOrAbove reduces a minimum-role check to a role-set check.
func RolesAtOrAbove(min Role) []Role {
	var roles []Role
	for _, r := range []Role{RoleOwner, RoleAdmin, RoleMember} {
		if roleLevels[r] >= roleLevels[min] {
			roles = append(roles, r)
		}
	}
	return roles
}
