package resettokens

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"time"
)

// TTL bounds how long an emailed reset link stays valid.
const TTL = time.Hour

// Token is one issued reset secret. Only the sha256 digest of the secret is
// persisted; the plaintext exists in the issuing response and the outbound
// email, nowhere else.
type Token struct {
	ID        string `json:"id"`
	UserID    string `json:"user_id"`
	TokenHash string `json:"-"`
	ExpiresAt int64  `json:"expires_at"`
	// UsedAt is terminal: once set the token can never validate again,
	// regardless of remaining time-to-expiry. It is also how superseded
	// tokens are retired (soft-invalidate, preserving audit history).
	UsedAt    *int64 `json:"used_at,omitempty"`
	CreatedAt int64  `json:"created_at"`
}

func (t *Token) Used() bool {
	return t.UsedAt != nil
}

func (t *Token) Expired(now int64) bool {
	return t.ExpiresAt <= now
}

// NewSecret returns a 64-character hex secret (32 random bytes). Entropy is
// high enough that brute force within the expiry window is infeasible.
func NewSecret() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}

// HashSecret is deterministic so digests can be used for lookup. Unsalted
// is acceptable here, unlike passwords, because the input is already
// unguessable.
func HashSecret(secret string) string {
	sum := sha256.Sum256([]byte(secret))
	return hex.EncodeToString(sum[:])
}
