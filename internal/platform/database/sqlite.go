package database

import (
	"database/sql"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"doable/internal/platform/config"
)

// NewDB opens the shared application database. Every tenant's data lives in
// one store scoped by organization id; memberships are many-to-many, so
// splitting per-org files would leave users and sessions with no home.
func NewDB(cfg config.DatabaseConfig) (*sql.DB, error) {
	dsn := cfg.Path
	if dsn != ":memory:" && !strings.Contains(dsn, "?") {
		// Foreign keys enforce the cascade semantics on user/org deletion.
		dsn += "?_foreign_keys=on&_busy_timeout=5000"
	}

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, err
	}

	db.SetMaxOpenConns(cfg.MaxConnections)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(time.Hour)

	if err := db.Ping(); err != nil {
		return nil, err
	}

	return db, nil
}
