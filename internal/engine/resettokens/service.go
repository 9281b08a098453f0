package resettokens

import (
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"

	"doable/internal/pkg/validator"
	"doable/internal/platform/auth"
	"doable/internal/platform/repositories"
)

var (
	ErrInvalidToken = errors.New("invalid token")
	ErrExpiredToken = errors.New("expired token")
	ErrUsedToken    = errors.New("used token")
	ErrUserNotFound = errors.New("user not found")
)

// Issued is handed back to the caller on a successful request. The secret
// goes into the outbound email and is never persisted or logged.
type Issued struct {
	UserID    string
	Email     string
	Secret    string
	ExpiresAt int64
}

// Manager owns the reset-token lifecycle: issued -> valid | expired | used,
// terminal once expired or used.
type Manager struct {
	db    *sql.DB
	repo  *Repository
	users *repositories.UserRepository
}

func NewManager(db *sql.DB, repo *Repository, users *repositories.UserRepository) *Manager {
	return &Manager{db: db, repo: repo, users: users}
}

// Issue creates a fresh token for the user and returns the plaintext secret
// exactly once.
func (m *Manager) Issue(userID string) (*Issued, error) {
	secret, err := NewSecret()
	if err != nil {
		return nil, err
	}

	now := time.Now()
	token := &Token{
		ID:        "prt_" + uuid.New().String(),
		UserID:    userID,
		TokenHash: HashSecret(secret),
		ExpiresAt: now.Add(TTL).Unix(),
		CreatedAt: now.Unix(),
	}

	if err := m.repo.Create(token); err != nil {
		return nil, err
	}

	return &Issued{UserID: userID, Secret: secret, ExpiresAt: token.ExpiresAt}, nil
}

// RequestForEmail resolves the address and issues a token, first retiring
// every unused token the user still has. At most one usable token exists
// per user at any time; an older emailed link dies the moment a newer one
// is requested.
//
// Returns ErrUserNotFound for unknown addresses. The HTTP layer hides that
// distinction from clients to prevent account enumeration.
func (m *Manager) RequestForEmail(email string) (*Issued, error) {
	user, err := m.users.GetByEmail(validator.NormalizeEmail(email))
	if err != nil {
		return nil, err
	}
	if user == nil {
		return nil, ErrUserNotFound
	}

	if _, err := m.repo.InvalidateUnusedForUser(user.ID, time.Now().Unix()); err != nil {
		return nil, err
	}

	issued, err := m.Issue(user.ID)
	if err != nil {
		return nil, err
	}
	issued.Email = user.Email
	return issued, nil
}

// Validate classifies a presented secret. Used wins over expired: a
// consumed or superseded token reports used_token even after its expiry
// passes.
func (m *Manager) Validate(secret string) (string, error) {
	token, err := m.repo.GetByHash(HashSecret(secret))
	if err != nil {
		return "", err
	}
	if token == nil {
		return "", ErrInvalidToken
	}
	if token.Used() {
		return "", ErrUsedToken
	}
	if token.Expired(time.Now().Unix()) {
		return "", ErrExpiredToken
	}
	return token.UserID, nil
}

// Consume claims the token, hashes the new password and rotates the user's
// credential, all in one transaction. Concurrent consumers of the same
// secret get exactly one success; the rest fail with ErrUsedToken. Returns
// the owning user's id so callers can revoke that user's sessions.
func (m *Manager) Consume(secret, newPassword string) (string, error) {
	digest := HashSecret(secret)

	tx, err := m.db.Begin()
	if err != nil {
		return "", err
	}
	defer tx.Rollback()

	// Claim first. The write makes this transaction a writer from its
	// opening statement, so racing consumers serialize on the database
	// lock; the losers then read used_at already set.
	now := time.Now().Unix()
	won, err := m.repo.ClaimByHashTx(tx, digest, now)
	if err != nil {
		return "", err
	}
	if !won {
		token, err := m.repo.GetByHashTx(tx, digest)
		if err != nil {
			return "", err
		}
		if token == nil {
			return "", ErrInvalidToken
		}
		if token.Used() {
			return "", ErrUsedToken
		}
		return "", ErrExpiredToken
	}

	token, err := m.repo.GetByHashTx(tx, digest)
	if err != nil {
		return "", err
	}

	var userID string
	err = tx.QueryRow(`SELECT id FROM users WHERE id = ?`, token.UserID).Scan(&userID)
	if err == sql.ErrNoRows {
		// Rolling back undoes the claim; the token stays unused.
		return "", ErrUserNotFound
	}
	if err != nil {
		return "", err
	}

	hash, err := auth.HashPassword(newPassword)
	if err != nil {
		return "", err
	}
	if _, err := tx.Exec(`UPDATE users SET password_hash = ?, updated_at = ? WHERE id = ?`, hash, now, userID); err != nil {
		return "", err
	}

	if err := tx.Commit(); err != nil {
		return "", err
	}
	return userID, nil
}

// CleanupExpired is housekeeping only; validation never depends on it.
func (m *Manager) CleanupExpired() (int64, error) {
	return m.repo.DeleteExpired(time.Now().Unix())
}
