package repositories

import (
	"database/sql"

	"doable/internal/platform/models"
)

type MembershipRepository struct {
	db *sql.DB
}

func NewMembershipRepository(db *sql.DB) *MembershipRepository {
	return &MembershipRepository{db: db}
}

func (r *MembershipRepository) CreateTx(tx *sql.Tx, m *models.Membership) error {
	_, err := tx.Exec(`
		INSERT INTO memberships (id, user_id, organization_id, role, created_at)
		VALUES (?, ?, ?, ?, ?)
	`, m.ID, m.UserID, m.OrganizationID, m.Role, m.CreatedAt)
	return err
}

func (r *MembershipRepository) Create(m *models.Membership) error {
	_, err := r.db.Exec(`
		INSERT INTO memberships (id, user_id, organization_id, role, created_at)
		VALUES (?, ?, ?, ?, ?)
	`, m.ID, m.UserID, m.OrganizationID, m.Role, m.CreatedAt)
	return err
}

func (r *MembershipRepository) GetByUserAndOrg(userID, orgID string) (*models.Membership, error) {
	m := &models.Membership{}
	err := r.db.QueryRow(`
		SELECT id, user_id, organization_id, role, created_at
		FROM memberships WHERE user_id = ? AND organization_id = ?
	`, userID, orgID).Scan(&m.ID, &m.UserID, &m.OrganizationID, &m.Role, &m.CreatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	return m, nil
}

func (r *MembershipRepository) ListByOrg(orgID string) ([]*models.Membership, error) {
	rows, err := r.db.Query(`
		SELECT id, user_id, organization_id, role, created_at
		FROM memberships WHERE organization_id = ? ORDER BY created_at ASC
	`, orgID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var memberships []*models.Membership
	for rows.Next() {
		m := &models.Membership{}
		if err := rows.Scan(&m.ID, &m.UserID, &m.OrganizationID, &m.Role, &m.CreatedAt); err != nil {
			return nil, err
		}
		memberships = append(memberships, m)
	}
	return memberships, rows.Err()
}

// ListByUser returns the user's memberships with the organization joined in,
// for the org-switcher UI.
func (r *MembershipRepository) ListByUser(userID string) ([]*models.Membership, error) {
	rows, err := r.db.Query(`
		SELECT m.id, m.user_id, m.organization_id, m.role, m.created_at,
		       o.id, o.slug, o.name, o.created_at, o.updated_at
		FROM memberships m
		JOIN organizations o ON o.id = m.organization_id
		WHERE m.user_id = ? ORDER BY m.created_at ASC
	`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var memberships []*models.Membership
	for rows.Next() {
		m := &models.Membership{Organization: &models.Organization{}}
		o := m.Organization
		if err := rows.Scan(&m.ID, &m.UserID, &m.OrganizationID, &m.Role, &m.CreatedAt,
			&o.ID, &o.Slug, &o.Name, &o.CreatedAt, &o.UpdatedAt); err != nil {
			return nil, err
		}
		memberships = append(memberships, m)
	}
	return memberships, rows.Err()
}

func (r *MembershipRepository) UpdateRole(id, role string) error {
	_, err := r.db.Exec(`UPDATE memberships SET role = ? WHERE id = ?`, role, id)
	return err
}

func (r *MembershipRepository) Delete(id string) error {
	_, err := r.db.Exec(`DELETE FROM memberships WHERE id = ?`, id)
	return err
}

func (r *MembershipRepository) CountByOrgAndRole(orgID, role string) (int, error) {
	var count int
	err := r.db.QueryRow(`
		SELECT COUNT(*) FROM memberships WHERE organization_id = ? AND role = ?
	`, orgID, role).Scan(&count)
	return count, err
}
