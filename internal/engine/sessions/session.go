package sessions

import (
	"crypto/rand"
	"encoding/hex"
	"time"
)

// TTL is the absolute lifetime of a session, fixed at creation. Refreshing
// a session never extends it.
const TTL = 7 * 24 * time.Hour

// CookieName carries the opaque session identifier in the browser.
const CookieName = "doable_session"

// Session is one logged-in browser or client. The id doubles as the cookie
// credential, so it is generated with a CSPRNG rather than a UUID.
type Session struct {
	ID     string `json:"id"`
	UserID string `json:"user_id"`
	// CurrentOrgID is the org the session is acting in. A non-nil pointer
	// does not imply membership; that is re-verified on every privileged
	// request.
	CurrentOrgID   *string `json:"current_org_id"`
	IPAddress      string  `json:"ip_address,omitempty"`
	Device         string  `json:"device,omitempty"`
	CreatedAt      int64   `json:"created_at"`
	LastAccessedAt int64   `json:"last_accessed_at"`
	ExpiresAt      int64   `json:"expires_at"`
}

func (s *Session) Expired(now int64) bool {
	return s.ExpiresAt <= now
}

// Identity is the minimal projection of a user needed for authorization.
// It never carries the password hash.
type Identity struct {
	UserID  string `json:"user_id"`
	Email   string `json:"email"`
	IsAdmin bool   `json:"is_admin"`
}

// NewSessionID returns a 64-character hex credential (32 random bytes).
func NewSessionID() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}
