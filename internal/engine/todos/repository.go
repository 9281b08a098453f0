package todos

import "database/sql"

type Repository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

func (r *Repository) Create(todo *Todo) error {
	query := `
		INSERT INTO todos (id, organization_id, created_by, title, notes, status, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err := r.db.Exec(query,
		todo.ID,
		todo.OrganizationID,
		todo.CreatedBy,
		todo.Title,
		todo.Notes,
		todo.Status,
		todo.CreatedAt,
		todo.UpdatedAt,
	)
	return err
}

// GetByID is always org-scoped; a todo id from another tenant behaves as
// not-found.
func (r *Repository) GetByID(orgID, id string) (*Todo, error) {
	query := `
		SELECT id, organization_id, created_by, title, notes, status, completed_at, created_at, updated_at
		FROM todos WHERE organization_id = ? AND id = ?
	`
	row := r.db.QueryRow(query, orgID, id)
	return scanTodo(row)
}

func (r *Repository) ListByOrg(orgID string) ([]*Todo, error) {
	query := `
		SELECT id, organization_id, created_by, title, notes, status, completed_at, created_at, updated_at
		FROM todos WHERE organization_id = ? ORDER BY created_at DESC
	`
	rows, err := r.db.Query(query, orgID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var todos []*Todo
	for rows.Next() {
		todo, err := scanTodo(rows)
		if err != nil {
			return nil, err
		}
		todos = append(todos, todo)
	}
	return todos, rows.Err()
}

func (r *Repository) Update(todo *Todo) error {
	query := `
		UPDATE todos SET title = ?, notes = ?, status = ?, completed_at = ?, updated_at = ?
		WHERE organization_id = ? AND id = ?
	`
	_, err := r.db.Exec(query, todo.Title, todo.Notes, todo.Status, todo.CompletedAt, todo.UpdatedAt, todo.OrganizationID, todo.ID)
	return err
}

func (r *Repository) Delete(orgID, id string) (bool, error) {
	res, err := r.db.Exec(`DELETE FROM todos WHERE organization_id = ? AND id = ?`, orgID, id)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanTodo(row rowScanner) (*Todo, error) {
	todo := &Todo{}
	var completedAt sql.NullInt64
	err := row.Scan(
		&todo.ID,
		&todo.OrganizationID,
		&todo.CreatedBy,
		&todo.Title,
		&todo.Notes,
		&todo.Status,
		&completedAt,
		&todo.CreatedAt,
		&todo.UpdatedAt,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	if completedAt.Valid {
		todo.CompletedAt = &completedAt.Int64
	}
	return todo, nil
}
