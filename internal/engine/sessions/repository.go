package sessions

import "database/sql"

type Repository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

func (r *Repository) Create(s *Session) error {
	_, err := r.db.Exec(`
		INSERT INTO sessions (id, user_id, current_organization_id, ip_address, device, created_at, last_accessed_at, expires_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, s.ID, s.UserID, s.CurrentOrgID, s.IPAddress, s.Device, s.CreatedAt, s.LastAccessedAt, s.ExpiresAt)
	return err
}

func (r *Repository) GetByID(id string) (*Session, error) {
	s := &Session{}
	err := r.db.QueryRow(`
		SELECT id, user_id, current_organization_id, ip_address, device, created_at, last_accessed_at, expires_at
		FROM sessions WHERE id = ?
	`, id).Scan(&s.ID, &s.UserID, &s.CurrentOrgID, &s.IPAddress, &s.Device, &s.CreatedAt, &s.LastAccessedAt, &s.ExpiresAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	return s, nil
}

// GetWithIdentity joins the owning user, projecting only the identity
// fields authorization needs.
func (r *Repository) GetWithIdentity(id string) (*Session, *Identity, error) {
	s := &Session{}
	ident := &Identity{}
	err := r.db.QueryRow(`
		SELECT s.id, s.user_id, s.current_organization_id, s.ip_address, s.device, s.created_at, s.last_accessed_at, s.expires_at,
		       u.id, u.email, u.is_admin
		FROM sessions s
		JOIN users u ON u.id = s.user_id
		WHERE s.id = ?
	`, id).Scan(&s.ID, &s.UserID, &s.CurrentOrgID, &s.IPAddress, &s.Device, &s.CreatedAt, &s.LastAccessedAt, &s.ExpiresAt,
		&ident.UserID, &ident.Email, &ident.IsAdmin)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil, nil
		}
		return nil, nil, err
	}
	return s, ident, nil
}

func (r *Repository) UpdateLastAccessed(id string, ts int64) error {
	_, err := r.db.Exec(`UPDATE sessions SET last_accessed_at = ? WHERE id = ?`, ts, id)
	return err
}

func (r *Repository) UpdateCurrentOrg(id string, orgID *string) error {
	_, err := r.db.Exec(`UPDATE sessions SET current_organization_id = ? WHERE id = ?`, orgID, id)
	return err
}

func (r *Repository) Delete(id string) (bool, error) {
	res, err := r.db.Exec(`DELETE FROM sessions WHERE id = ?`, id)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

func (r *Repository) DeleteAllForUser(userID string) (int64, error) {
	res, err := r.db.Exec(`DELETE FROM sessions WHERE user_id = ?`, userID)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// DeleteAllForUserExcept keeps one session alive, for "sign out everywhere
// else" and password changes.
func (r *Repository) DeleteAllForUserExcept(userID, keepID string) (int64, error) {
	res, err := r.db.Exec(`DELETE FROM sessions WHERE user_id = ? AND id != ?`, userID, keepID)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (r *Repository) DeleteExpired(now int64) (int64, error) {
	res, err := r.db.Exec(`DELETE FROM sessions WHERE expires_at <= ?`, now)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (r *Repository) ListActiveForUser(userID string, now int64) ([]*Session, error) {
	rows, err := r.db.Query(`
		SELECT id, user_id, current_organization_id, ip_address, device, created_at, last_accessed_at, expires_at
		FROM sessions WHERE user_id = ? AND expires_at > ?
		ORDER BY last_accessed_at DESC
	`, userID, now)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var sessions []*Session
	for rows.Next() {
		s := &Session{}
		if err := rows.Scan(&s.ID, &s.UserID, &s.CurrentOrgID, &s.IPAddress, &s.Device, &s.CreatedAt, &s.LastAccessedAt, &s.ExpiresAt); err != nil {
			return nil, err
		}
		sessions = append(sessions, s)
	}
	return sessions, rows.Err()
}
