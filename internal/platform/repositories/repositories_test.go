package repositories

import (
	"database/sql"
	"testing"

	_ "github.com/mattn/go-sqlite3"

	"doable/internal/platform/models"
)

func setupUserDB(t *testing.T) *sql.DB {
	db, err := sql.Open("sqlite3", ":memory:")
	if err != nil {
		t.Fatalf("Failed to open db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	db.SetMaxOpenConns(1)

	query := `
	CREATE TABLE users (
		id TEXT PRIMARY KEY,
		email TEXT UNIQUE NOT NULL,
		password_hash TEXT NOT NULL,
		full_name TEXT,
		is_admin INTEGER DEFAULT 0,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);
	`
	if _, err := db.Exec(query); err != nil {
		t.Fatalf("Failed to create schema: %v", err)
	}
	return db
}

func TestIsDuplicate(t *testing.T) {
	db := setupUserDB(t)
	repo := NewUserRepository(db)

	user := &models.User{
		ID:           "usr_1",
		Email:        "alice@test.local",
		PasswordHash: "x",
		CreatedAt:    1700000000,
		UpdatedAt:    1700000000,
	}
	if err := repo.Create(user); err != nil {
		t.Fatalf("first insert: %v", err)
	}

	dup := &models.User{
		ID:           "usr_2",
		Email:        "alice@test.local",
		PasswordHash: "x",
		CreatedAt:    1700000000,
		UpdatedAt:    1700000000,
	}
	err := repo.Create(dup)
	if err == nil {
		t.Fatal("expected a unique violation")
	}
	if !IsDuplicate(err) {
		t.Errorf("unique violation should classify as duplicate: %v", err)
	}

	// Other store failures must not classify as duplicates.
	_, err = db.Exec(`INSERT INTO missing_table (id) VALUES ('x')`)
	if err == nil {
		t.Fatal("expected an error from a missing table")
	}
	if IsDuplicate(err) {
		t.Errorf("infrastructure failure misclassified as duplicate: %v", err)
	}
}
