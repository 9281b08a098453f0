package resettokens

import "database/sql"

type Repository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

func (r *Repository) Create(t *Token) error {
	_, err := r.db.Exec(`
		INSERT INTO password_reset_tokens (id, user_id, token_hash, expires_at, used_at, created_at)
		VALUES (?, ?, ?, ?, NULL, ?)
	`, t.ID, t.UserID, t.TokenHash, t.ExpiresAt, t.CreatedAt)
	return err
}

func (r *Repository) GetByHash(hash string) (*Token, error) {
	return scanToken(r.db.QueryRow(`
		SELECT id, user_id, token_hash, expires_at, used_at, created_at
		FROM password_reset_tokens WHERE token_hash = ?
	`, hash))
}

func (r *Repository) GetByHashTx(tx *sql.Tx, hash string) (*Token, error) {
	return scanToken(tx.QueryRow(`
		SELECT id, user_id, token_hash, expires_at, used_at, created_at
		FROM password_reset_tokens WHERE token_hash = ?
	`, hash))
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanToken(row rowScanner) (*Token, error) {
	t := &Token{}
	var usedAt sql.NullInt64
	err := row.Scan(&t.ID, &t.UserID, &t.TokenHash, &t.ExpiresAt, &usedAt, &t.CreatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	if usedAt.Valid {
		t.UsedAt = &usedAt.Int64
	}
	return t, nil
}

// ClaimByHashTx marks the token used if it is still unused and unexpired,
// reporting whether this call claimed it. The conditional write gives racing
// consumers exactly one winner, and because it is the transaction's first
// statement the write lock is taken immediately: losers queue on the
// database lock and then see used_at set, instead of failing a
// read-to-write upgrade.
func (r *Repository) ClaimByHashTx(tx *sql.Tx, hash string, now int64) (bool, error) {
	res, err := tx.Exec(`
		UPDATE password_reset_tokens SET used_at = ?
		WHERE token_hash = ? AND used_at IS NULL AND expires_at > ?
	`, now, hash, now)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

// InvalidateUnusedForUser retires every still-unused token for the user by
// marking it used. Rows are kept, not deleted.
func (r *Repository) InvalidateUnusedForUser(userID string, ts int64) (int64, error) {
	res, err := r.db.Exec(`
		UPDATE password_reset_tokens SET used_at = ? WHERE user_id = ? AND used_at IS NULL
	`, ts, userID)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (r *Repository) DeleteExpired(now int64) (int64, error) {
	res, err := r.db.Exec(`DELETE FROM password_reset_tokens WHERE expires_at <= ?`, now)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
