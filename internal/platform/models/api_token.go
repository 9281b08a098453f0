package models

// APIToken is a personal access token for programmatic API use. Only the
// digest of the secret is stored; the plaintext is shown once at creation.
type APIToken struct {
	ID          string `json:"id"`
	UserID      string `json:"user_id"`
	Name        string `json:"name"`
	TokenHash   string `json:"-"`
	TokenPrefix string `json:"token_prefix"`
	LastUsedAt  *int64 `json:"last_used_at,omitempty"`
	ExpiresAt   *int64 `json:"expires_at,omitempty"`
	CreatedAt   int64  `json:"created_at"`
	RevokedAt   *int64 `json:"revoked_at,omitempty"`
}
