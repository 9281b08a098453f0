package repositories

import (
	"database/sql"
	"time"

	"doable/internal/platform/models"
	"github.com/google/uuid"
)

type APITokenRepository struct {
	db *sql.DB
}

func NewAPITokenRepository(db *sql.DB) *APITokenRepository {
	return &APITokenRepository{db: db}
}

func (r *APITokenRepository) Create(token *models.APIToken) error {
	if token.ID == "" {
		token.ID = "tok_" + uuid.New().String()
	}
	token.CreatedAt = time.Now().Unix()

	query := `
		INSERT INTO api_tokens (id, user_id, name, token_hash, token_prefix, created_at, expires_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`
	_, err := r.db.Exec(query, token.ID, token.UserID, token.Name, token.TokenHash, token.TokenPrefix, token.CreatedAt, token.ExpiresAt)
	return err
}

func (r *APITokenRepository) GetByHash(hash string) (*models.APIToken, error) {
	query := `SELECT id, user_id, name, token_prefix, created_at, expires_at, revoked_at, last_used_at FROM api_tokens WHERE token_hash = ?`
	row := r.db.QueryRow(query, hash)

	var t models.APIToken
	var expiresAt, revokedAt, lastUsedAt sql.NullInt64

	err := row.Scan(&t.ID, &t.UserID, &t.Name, &t.TokenPrefix, &t.CreatedAt, &expiresAt, &revokedAt, &lastUsedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}

	if expiresAt.Valid {
		t.ExpiresAt = &expiresAt.Int64
	}
	if revokedAt.Valid {
		t.RevokedAt = &revokedAt.Int64
	}
	if lastUsedAt.Valid {
		t.LastUsedAt = &lastUsedAt.Int64
	}
	t.TokenHash = hash

	return &t, nil
}

func (r *APITokenRepository) ListByUser(userID string) ([]*models.APIToken, error) {
	query := `SELECT id, name, token_prefix, created_at, expires_at, revoked_at, last_used_at FROM api_tokens WHERE user_id = ? ORDER BY created_at DESC`
	rows, err := r.db.Query(query, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var tokens []*models.APIToken
	for rows.Next() {
		var t models.APIToken
		var expiresAt, revokedAt, lastUsedAt sql.NullInt64

		if err := rows.Scan(&t.ID, &t.Name, &t.TokenPrefix, &t.CreatedAt, &expiresAt, &revokedAt, &lastUsedAt); err != nil {
			return nil, err
		}

		if expiresAt.Valid {
			t.ExpiresAt = &expiresAt.Int64
		}
		if revokedAt.Valid {
			t.RevokedAt = &revokedAt.Int64
		}
		if lastUsedAt.Valid {
			t.LastUsedAt = &lastUsedAt.Int64
		}
		t.UserID = userID
		tokens = append(tokens, &t)
	}
	return tokens, rows.Err()
}

func (r *APITokenRepository) Revoke(id, userID string) error {
	_, err := r.db.Exec(`UPDATE api_tokens SET revoked_at = ? WHERE id = ? AND user_id = ?`, time.Now().Unix(), id, userID)
	return err
}

func (r *APITokenRepository) UpdateLastUsed(id string) error {
	_, err := r.db.Exec(`UPDATE api_tokens SET last_used_at = ? WHERE id = ?`, time.Now().Unix(), id)
	return err
}
