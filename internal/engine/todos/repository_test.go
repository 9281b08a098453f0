package todos

import (
	"database/sql"
	"testing"

	_ "github.com/mattn/go-sqlite3"
)

func setupTestDB(t *testing.T) *sql.DB {
	db, err := sql.Open("sqlite3", ":memory:")
	if err != nil {
		t.Fatalf("Failed to open db: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	query := `
	CREATE TABLE todos (
		id TEXT PRIMARY KEY,
		organization_id TEXT NOT NULL,
		created_by TEXT NOT NULL,
		title TEXT NOT NULL,
		notes TEXT,
		status TEXT DEFAULT 'open',
		completed_at INTEGER,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);
	`
	if _, err := db.Exec(query); err != nil {
		t.Fatalf("Failed to create table: %v", err)
	}
	return db
}

func TestServiceCreateAndGet(t *testing.T) {
	svc := NewService(NewRepository(setupTestDB(t)))

	todo, err := svc.Create("org_1", "usr_1", "Write launch checklist", "before Friday")
	if err != nil {
		t.Fatalf("Failed to create todo: %v", err)
	}
	if todo.Status != StatusOpen {
		t.Errorf("expected status open, got %s", todo.Status)
	}

	fetched, err := svc.Get("org_1", todo.ID)
	if err != nil {
		t.Fatalf("Failed to get todo: %v", err)
	}
	if fetched.Title != "Write launch checklist" {
		t.Errorf("unexpected title %q", fetched.Title)
	}
}

func TestCreateRequiresTitle(t *testing.T) {
	svc := NewService(NewRepository(setupTestDB(t)))

	if _, err := svc.Create("org_1", "usr_1", "", ""); err != ErrInvalidInput {
		t.Errorf("expected ErrInvalidInput, got %v", err)
	}
}

func TestGetIsTenantScoped(t *testing.T) {
	svc := NewService(NewRepository(setupTestDB(t)))

	todo, err := svc.Create("org_1", "usr_1", "Secret plan", "")
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	// A valid id presented under another tenant must behave as not-found.
	if _, err := svc.Get("org_2", todo.ID); err != ErrNotFound {
		t.Errorf("expected ErrNotFound across tenants, got %v", err)
	}
}

func TestUpdateCompletion(t *testing.T) {
	svc := NewService(NewRepository(setupTestDB(t)))

	todo, err := svc.Create("org_1", "usr_1", "Ship it", "")
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	done := true
	updated, err := svc.Update("org_1", todo.ID, nil, nil, &done)
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if updated.Status != StatusDone || updated.CompletedAt == nil {
		t.Errorf("expected done with completion timestamp, got %+v", updated)
	}

	done = false
	updated, err = svc.Update("org_1", todo.ID, nil, nil, &done)
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if updated.Status != StatusOpen || updated.CompletedAt != nil {
		t.Errorf("expected reopened todo, got %+v", updated)
	}
}

func TestDelete(t *testing.T) {
	svc := NewService(NewRepository(setupTestDB(t)))

	todo, err := svc.Create("org_1", "usr_1", "Temp", "")
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	if err := svc.Delete("org_1", todo.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if err := svc.Delete("org_1", todo.ID); err != ErrNotFound {
		t.Errorf("expected ErrNotFound on second delete, got %v", err)
	}
}
