package middleware

import (
	"database/sql"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"doable/internal/engine/authz"
	"doable/internal/engine/sessions"
	"doable/internal/platform/auth"
	"doable/internal/platform/config"
	"doable/internal/platform/models"
	"doable/internal/platform/repositories"
)

func setupTestDB(t *testing.T) *sql.DB {
	db, err := sql.Open("sqlite3", ":memory:")
	if err != nil {
		t.Fatalf("Failed to open db: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	// Each pool connection to a plain :memory: DSN gets its own database;
	// one connection keeps every statement on the same schema.
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
	CREATE TABLE organizations (
		id TEXT PRIMARY KEY,
		slug TEXT UNIQUE NOT NULL,
		name TEXT NOT NULL,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);
	CREATE TABLE memberships (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		organization_id TEXT NOT NULL,
		role TEXT NOT NULL,
		created_at INTEGER NOT NULL,
		UNIQUE (user_id, organization_id)
	);
	CREATE TABLE sessions (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		current_organization_id TEXT,
		ip_address TEXT DEFAULT '',
		device TEXT DEFAULT '',
		created_at INTEGER NOT NULL,
		last_accessed_at INTEGER NOT NULL,
		expires_at INTEGER NOT NULL
	);
	CREATE TABLE api_tokens (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		name TEXT NOT NULL,
		token_hash TEXT UNIQUE NOT NULL,
		token_prefix TEXT NOT NULL,
		created_at INTEGER NOT NULL,
		expires_at INTEGER,
		revoked_at INTEGER,
		last_used_at INTEGER
	);
	`
	if _, err := db.Exec(query); err != nil {
		t.Fatalf("Failed to create schema: %v", err)
	}
	return db
}

type testEnv struct {
	db        *sql.DB
	mid       *SessionMiddleware
	store     *sessions.Store
	tokenSvc  *auth.TokenService
	apiTokens *repositories.APITokenRepository
}

func newTestEnv(t *testing.T) *testEnv {
	db := setupTestDB(t)

	users := repositories.NewUserRepository(db)
	memberships := repositories.NewMembershipRepository(db)
	apiTokens := repositories.NewAPITokenRepository(db)
	engine := authz.NewEngine(users, memberships)
	store := sessions.NewStore(sessions.NewRepository(db))
	tokenSvc := auth.NewTokenService(config.AuthConfig{
		JWTSecret:      "test-secret",
		AccessTokenTTL: 15 * time.Minute,
	})

	seed := `
	INSERT INTO users (id, email, password_hash, full_name, is_admin, created_at, updated_at) VALUES
		('usr_alice', 'alice@test.local', 'x', 'Alice', 0, 1700000000, 1700000000),
		('usr_root', 'root@test.local', 'x', 'Root', 1, 1700000000, 1700000000);
	INSERT INTO organizations (id, slug, name, created_at, updated_at) VALUES
		('org_acme', 'acme', 'Acme', 1700000000, 1700000000);
	INSERT INTO memberships (id, user_id, organization_id, role, created_at) VALUES
		('mem_1', 'usr_alice', 'org_acme', 'member', 1700000000);
	`
	if _, err := db.Exec(seed); err != nil {
		t.Fatalf("seed: %v", err)
	}

	return &testEnv{
		db:        db,
		mid:       NewSessionMiddleware(store, engine, tokenSvc, apiTokens, users),
		store:     store,
		tokenSvc:  tokenSvc,
		apiTokens: apiTokens,
	}
}

// capture runs a request through the middleware chain and records the
// RequestContext the innermost handler saw.
func capture(t *testing.T, handler func(http.HandlerFunc) http.HandlerFunc, r *http.Request) (*RequestContext, *httptest.ResponseRecorder) {
	var got *RequestContext
	w := httptest.NewRecorder()
	handler(func(w http.ResponseWriter, r *http.Request) {
		got = FromRequest(r)
	})(w, r)
	return got, w
}

func TestWithIdentityNoCredential(t *testing.T) {
	env := newTestEnv(t)

	r := httptest.NewRequest("GET", "/", nil)
	rc, _ := capture(t, env.mid.WithIdentity, r)

	if rc == nil {
		t.Fatal("handler should run for anonymous requests")
	}
	if rc.Authenticated() {
		t.Error("expected anonymous context")
	}
}

func TestWithIdentityUnknownCookie(t *testing.T) {
	env := newTestEnv(t)

	r := httptest.NewRequest("GET", "/", nil)
	r.AddCookie(&http.Cookie{Name: sessions.CookieName, Value: "nope"})
	rc, _ := capture(t, env.mid.WithIdentity, r)

	if rc.Authenticated() {
		t.Error("an unknown cookie must resolve anonymous, not error")
	}
}

func TestWithIdentitySessionCookie(t *testing.T) {
	env := newTestEnv(t)

	orgID := "org_acme"
	session, err := env.store.Create("usr_alice", &orgID, sessions.Metadata{})
	if err != nil {
		t.Fatalf("create session: %v", err)
	}

	r := httptest.NewRequest("GET", "/", nil)
	r.AddCookie(&http.Cookie{Name: sessions.CookieName, Value: session.ID})
	rc, _ := capture(t, env.mid.WithIdentity, r)

	if !rc.Authenticated() {
		t.Fatal("expected authenticated context")
	}
	if rc.Identity.UserID != "usr_alice" {
		t.Errorf("expected usr_alice, got %s", rc.Identity.UserID)
	}
	if rc.OrganizationID != "org_acme" {
		t.Errorf("expected org from session, got %q", rc.OrganizationID)
	}
	if rc.Session == nil {
		t.Error("cookie auth should carry the session")
	}
}

func TestWithIdentityExpiredSession(t *testing.T) {
	env := newTestEnv(t)

	session, err := env.store.Create("usr_alice", nil, sessions.Metadata{})
	if err != nil {
		t.Fatalf("create session: %v", err)
	}
	past := time.Now().Add(-time.Minute).Unix()
	if _, err := env.db.Exec(`UPDATE sessions SET expires_at = ?`, past); err != nil {
		t.Fatalf("update: %v", err)
	}

	r := httptest.NewRequest("GET", "/", nil)
	r.AddCookie(&http.Cookie{Name: sessions.CookieName, Value: session.ID})
	rc, _ := capture(t, env.mid.WithIdentity, r)

	if rc.Authenticated() {
		t.Error("an expired session must resolve anonymous")
	}
}

func TestWithIdentityJWTBearer(t *testing.T) {
	env := newTestEnv(t)

	signed, err := env.tokenSvc.GenerateAccessToken("usr_alice", "alice@test.local")
	if err != nil {
		t.Fatalf("sign: %v", err)
	}

	r := httptest.NewRequest("GET", "/", nil)
	r.Header.Set("Authorization", "Bearer "+signed)
	r.Header.Set(OrgHeader, "org_acme")
	rc, _ := capture(t, env.mid.WithIdentity, r)

	if !rc.Authenticated() {
		t.Fatal("expected authenticated context")
	}
	if rc.Session != nil {
		t.Error("bearer auth must not carry a session")
	}
	if rc.OrganizationID != "org_acme" {
		t.Errorf("expected org from header, got %q", rc.OrganizationID)
	}
}

func TestWithIdentityPersonalAccessToken(t *testing.T) {
	env := newTestEnv(t)

	secret := APITokenPrefix + "deadbeef0123456789"
	token := &models.APIToken{
		UserID:      "usr_alice",
		Name:        "ci",
		TokenHash:   auth.HashToken(secret),
		TokenPrefix: secret[:13],
	}
	if err := env.apiTokens.Create(token); err != nil {
		t.Fatalf("create token: %v", err)
	}

	r := httptest.NewRequest("GET", "/", nil)
	r.Header.Set("Authorization", "Bearer "+secret)
	rc, _ := capture(t, env.mid.WithIdentity, r)

	if !rc.Authenticated() {
		t.Fatal("expected authenticated context")
	}
	if rc.Identity.UserID != "usr_alice" {
		t.Errorf("expected usr_alice, got %s", rc.Identity.UserID)
	}

	// Revocation takes effect on the next request.
	if err := env.apiTokens.Revoke(token.ID, "usr_alice"); err != nil {
		t.Fatalf("revoke: %v", err)
	}
	rc, _ = capture(t, env.mid.WithIdentity, r)
	if rc.Authenticated() {
		t.Error("a revoked token must resolve anonymous")
	}
}

func TestRequireAuthRejectsAnonymous(t *testing.T) {
	env := newTestEnv(t)

	r := httptest.NewRequest("GET", "/", nil)
	rc, w := capture(t, func(next http.HandlerFunc) http.HandlerFunc {
		return env.mid.WithIdentity(env.mid.RequireAuth(next))
	}, r)

	if rc != nil {
		t.Error("handler must not run")
	}
	if w.Code != http.StatusUnauthorized {
		t.Errorf("expected 401, got %d", w.Code)
	}
}

func TestRequireOrgNoSelection(t *testing.T) {
	env := newTestEnv(t)

	session, _ := env.store.Create("usr_alice", nil, sessions.Metadata{})
	r := httptest.NewRequest("GET", "/", nil)
	r.AddCookie(&http.Cookie{Name: sessions.CookieName, Value: session.ID})

	rc, w := capture(t, func(next http.HandlerFunc) http.HandlerFunc {
		return env.mid.WithIdentity(env.mid.RequireOrg(authz.RoleMember)(next))
	}, r)

	if rc != nil {
		t.Error("handler must not run")
	}
	if w.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for missing org selection, got %d", w.Code)
	}
}

func TestRequireOrgInsufficientRole(t *testing.T) {
	env := newTestEnv(t)

	orgID := "org_acme"
	session, _ := env.store.Create("usr_alice", &orgID, sessions.Metadata{})
	r := httptest.NewRequest("GET", "/", nil)
	r.AddCookie(&http.Cookie{Name: sessions.CookieName, Value: session.ID})

	rc, w := capture(t, func(next http.HandlerFunc) http.HandlerFunc {
		return env.mid.WithIdentity(env.mid.RequireOrg(authz.RoleAdmin)(next))
	}, r)

	if rc != nil {
		t.Error("handler must not run")
	}
	if w.Code != http.StatusForbidden {
		t.Errorf("expected 403, got %d", w.Code)
	}
}

func TestRequireOrgAttachesMembership(t *testing.T) {
	env := newTestEnv(t)

	orgID := "org_acme"
	session, _ := env.store.Create("usr_alice", &orgID, sessions.Metadata{})
	r := httptest.NewRequest("GET", "/", nil)
	r.AddCookie(&http.Cookie{Name: sessions.CookieName, Value: session.ID})

	rc, _ := capture(t, func(next http.HandlerFunc) http.HandlerFunc {
		return env.mid.WithIdentity(env.mid.RequireOrg(authz.RoleMember)(next))
	}, r)

	if rc == nil {
		t.Fatal("handler should run")
	}
	if rc.Membership == nil {
		t.Fatal("expected the membership attached")
	}
	if rc.Membership.Role != "member" {
		t.Errorf("expected member role, got %s", rc.Membership.Role)
	}
}

func TestRequireOrgAdminBypassLeavesMembershipNil(t *testing.T) {
	env := newTestEnv(t)

	orgID := "org_acme"
	session, _ := env.store.Create("usr_root", &orgID, sessions.Metadata{})
	r := httptest.NewRequest("GET", "/", nil)
	r.AddCookie(&http.Cookie{Name: sessions.CookieName, Value: session.ID})

	rc, _ := capture(t, func(next http.HandlerFunc) http.HandlerFunc {
		return env.mid.WithIdentity(env.mid.RequireOrg(authz.RoleOwner)(next))
	}, r)

	if rc == nil {
		t.Fatal("platform admin should pass any role gate")
	}
	if rc.Membership != nil {
		t.Error("admin bypass must not fabricate a membership")
	}
}
