package models

type User struct {
	ID           string `json:"id"`
	Email        string `json:"email"`
	PasswordHash string `json:"-"`
	FullName     string `json:"full_name"`
	// IsAdmin marks a platform-level administrator who bypasses tenant
	// membership checks. Internal operational access only.
	IsAdmin   bool   `json:"is_admin"`
	CreatedAt int64  `json:"created_at"`
	UpdatedAt int64  `json:"updated_at"`
}

type Organization struct {
	ID        string `json:"id"`
	Slug      string `json:"slug"`
	Name      string `json:"name"`
	CreatedAt int64  `json:"created_at"`
	UpdatedAt int64  `json:"updated_at"`
}

// Membership grants a user a role within one organization. At most one row
// exists per (user, organization) pair.
type Membership struct {
	ID             string `json:"id"`
	UserID         string `json:"user_id"`
	OrganizationID string `json:"organization_id"`
	Role           string `json:"role"`
	CreatedAt      int64  `json:"created_at"`

	Organization *Organization `json:"organization,omitempty"`
}
