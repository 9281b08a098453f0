package handlers_test

import (
	"bytes"
	"database/sql"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"doable/internal/api"
	"doable/internal/api/handlers"
	"doable/internal/api/middleware"
	"doable/internal/engine/authz"
	"doable/internal/engine/resettokens"
	"doable/internal/engine/sessions"
	"doable/internal/engine/todos"
	"doable/internal/platform/audit"
	"doable/internal/platform/auth"
	"doable/internal/platform/config"
	"doable/internal/platform/repositories"
)

// captureMailer records the last reset link instead of sending mail.
type captureMailer struct {
	lastEmail string
	lastURL   string
}

func (m *captureMailer) SendPasswordReset(email, resetURL string) error {
	m.lastEmail = email
	m.lastURL = resetURL
	return nil
}

func (m *captureMailer) lastToken(t *testing.T) string {
	t.Helper()
	parts := strings.Split(m.lastURL, "token=")
	if len(parts) != 2 {
		t.Fatalf("no token in captured reset URL %q", m.lastURL)
	}
	return parts[1]
}

type testApp struct {
	server *httptest.Server
	db     *sql.DB
	mail   *captureMailer
}

func newTestApp(t *testing.T) *testApp {
	db, err := sql.Open("sqlite3", ":memory:")
	if err != nil {
		t.Fatalf("Failed to open db: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	// One connection: a plain :memory: DSN gives every pool connection its
	// own empty database, and the async audit writer must land on the same
	// schema as the request that triggered it.
	db.SetMaxOpenConns(1)

	schema, err := os.ReadFile(filepath.Join("..", "..", "..", "migrations", "0001_init.sql"))
	if err != nil {
		t.Fatalf("read schema: %v", err)
	}
	if _, err := db.Exec(string(schema)); err != nil {
		t.Fatalf("apply schema: %v", err)
	}

	middleware.SetLimits(10000, 10000)

	userRepo := repositories.NewUserRepository(db)
	orgRepo := repositories.NewOrganizationRepository(db)
	membershipRepo := repositories.NewMembershipRepository(db)
	apiTokenRepo := repositories.NewAPITokenRepository(db)

	engine := authz.NewEngine(userRepo, membershipRepo)
	sessionStore := sessions.NewStore(sessions.NewRepository(db))
	resetMgr := resettokens.NewManager(db, resettokens.NewRepository(db), userRepo)
	todoSvc := todos.NewService(todos.NewRepository(db))
	tokenSvc := auth.NewTokenService(config.AuthConfig{
		JWTSecret:      "test-secret",
		AccessTokenTTL: 15 * time.Minute,
	})
	auditLogger := audit.NewLogger(db)
	mail := &captureMailer{}

	deps := &api.Dependencies{
		AuthHandler:   handlers.NewAuthHandler(userRepo, orgRepo, membershipRepo, sessionStore, engine, resetMgr, mail, auditLogger, false, "http://test.local/reset"),
		OrgHandler:    handlers.NewOrgHandler(orgRepo, membershipRepo, userRepo, engine, auditLogger),
		UserHandler:   handlers.NewUserHandler(userRepo, membershipRepo, sessionStore, auditLogger),
		TodoHandler:   handlers.NewTodoHandler(todoSvc, auditLogger),
		TokenHandler:  handlers.NewTokenHandler(apiTokenRepo, tokenSvc, auditLogger),
		AuditHandler:  handlers.NewAuditHandler(auditLogger),
		HealthHandler: handlers.NewHealthHandler(db),
		Session:       middleware.NewSessionMiddleware(sessionStore, engine, tokenSvc, apiTokenRepo, userRepo),
	}

	server := httptest.NewServer(api.NewRouter(deps))
	t.Cleanup(server.Close)

	return &testApp{server: server, db: db, mail: mail}
}

func newClient(t *testing.T) *http.Client {
	jar, err := cookiejar.New(nil)
	if err != nil {
		t.Fatalf("jar: %v", err)
	}
	return &http.Client{Jar: jar}
}

func (a *testApp) do(t *testing.T, client *http.Client, method, path string, body interface{}) (*http.Response, map[string]json.RawMessage) {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}

	req, err := http.NewRequest(method, a.server.URL+path, &buf)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	t.Cleanup(func() { resp.Body.Close() })

	var parsed map[string]json.RawMessage
	json.NewDecoder(resp.Body).Decode(&parsed)
	return resp, parsed
}

func (a *testApp) signup(t *testing.T, client *http.Client, email, password string) (userID, orgID string) {
	t.Helper()

	resp, body := a.do(t, client, "POST", "/api/v1/auth/signup", map[string]string{
		"email":     email,
		"password":  password,
		"full_name": "Test User",
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("signup %s: expected 201, got %d", email, resp.StatusCode)
	}

	var user struct {
		ID string `json:"id"`
	}
	var org struct {
		ID string `json:"id"`
	}
	json.Unmarshal(body["user"], &user)
	json.Unmarshal(body["organization"], &org)
	return user.ID, org.ID
}

func errorCode(t *testing.T, body map[string]json.RawMessage) string {
	t.Helper()
	var code string
	json.Unmarshal(body["code"], &code)
	return code
}

func TestSignupCreatesOwnerOrg(t *testing.T) {
	app := newTestApp(t)
	client := newClient(t)

	app.signup(t, client, "founder@test.local", "Password1")

	resp, body := app.do(t, client, "GET", "/api/v1/auth/me", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("me: expected 200, got %d", resp.StatusCode)
	}

	var memberships []struct {
		Role string `json:"role"`
	}
	json.Unmarshal(body["memberships"], &memberships)
	if len(memberships) != 1 {
		t.Fatalf("expected one membership, got %d", len(memberships))
	}
	if memberships[0].Role != "owner" {
		t.Errorf("signup should make the user an owner, got %s", memberships[0].Role)
	}
}

func TestSignupDuplicateEmail(t *testing.T) {
	app := newTestApp(t)

	app.signup(t, newClient(t), "dup@test.local", "Password1")

	resp, body := app.do(t, newClient(t), "POST", "/api/v1/auth/signup", map[string]string{
		"email":    "Dup@Test.Local",
		"password": "Password1",
	})
	if resp.StatusCode != http.StatusConflict {
		t.Errorf("expected 409 for duplicate email (case-insensitive), got %d", resp.StatusCode)
	}
	if errorCode(t, body) != "CONFLICT" {
		t.Errorf("expected CONFLICT code, got %s", errorCode(t, body))
	}
}

func TestLoginWrongPassword(t *testing.T) {
	app := newTestApp(t)
	app.signup(t, newClient(t), "alice@test.local", "Password1")

	resp, body := app.do(t, newClient(t), "POST", "/api/v1/auth/login", map[string]string{
		"email":    "alice@test.local",
		"password": "WrongPass1",
	})
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("expected 401, got %d", resp.StatusCode)
	}
	if errorCode(t, body) != "UNAUTHENTICATED" {
		t.Errorf("expected UNAUTHENTICATED, got %s", errorCode(t, body))
	}
}

func TestLogoutIsIdempotent(t *testing.T) {
	app := newTestApp(t)
	client := newClient(t)
	app.signup(t, client, "alice@test.local", "Password1")

	resp, _ := app.do(t, client, "POST", "/api/v1/auth/logout", nil)
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("logout: expected 204, got %d", resp.StatusCode)
	}

	// Second logout with a dead cookie still succeeds.
	resp, _ = app.do(t, client, "POST", "/api/v1/auth/logout", nil)
	if resp.StatusCode != http.StatusNoContent {
		t.Errorf("repeat logout: expected 204, got %d", resp.StatusCode)
	}

	resp, _ = app.do(t, client, "GET", "/api/v1/auth/me", nil)
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("me after logout: expected 401, got %d", resp.StatusCode)
	}
}

func TestSwitchOrgRequiresMembership(t *testing.T) {
	app := newTestApp(t)

	alice := newClient(t)
	app.signup(t, alice, "alice@test.local", "Password1")

	bob := newClient(t)
	_, bobOrg := app.signup(t, bob, "bob@test.local", "Password1")

	resp, body := app.do(t, alice, "POST", "/api/v1/auth/switch-org", map[string]*string{
		"organization_id": &bobOrg,
	})
	if resp.StatusCode != http.StatusForbidden {
		t.Errorf("expected 403 switching into a foreign org, got %d", resp.StatusCode)
	}
	if errorCode(t, body) != "FORBIDDEN" {
		t.Errorf("expected FORBIDDEN, got %s", errorCode(t, body))
	}

	// Switching to no org at all always works.
	resp, _ = app.do(t, alice, "POST", "/api/v1/auth/switch-org", map[string]*string{
		"organization_id": nil,
	})
	if resp.StatusCode != http.StatusOK {
		t.Errorf("expected 200 clearing the org, got %d", resp.StatusCode)
	}

	// With no org selected, org-scoped routes refuse with a distinct code.
	resp, body = app.do(t, alice, "GET", "/api/v1/todos", nil)
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("expected 400 with no org selected, got %d", resp.StatusCode)
	}
	if errorCode(t, body) != "NO_ORGANIZATION_SELECTED" {
		t.Errorf("expected NO_ORGANIZATION_SELECTED, got %s", errorCode(t, body))
	}
}

func TestTodosAreTenantScoped(t *testing.T) {
	app := newTestApp(t)

	alice := newClient(t)
	app.signup(t, alice, "alice@test.local", "Password1")

	resp, body := app.do(t, alice, "POST", "/api/v1/todos", map[string]string{
		"title": "ship it",
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create todo: expected 201, got %d", resp.StatusCode)
	}
	var todoID string
	json.Unmarshal(body["id"], &todoID)

	bob := newClient(t)
	app.signup(t, bob, "bob@test.local", "Password1")

	resp, _ = app.do(t, bob, "GET", "/api/v1/todos/"+todoID, nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("a foreign org's todo must be 404, got %d", resp.StatusCode)
	}
}

func TestPasswordResetFlow(t *testing.T) {
	app := newTestApp(t)

	alice := newClient(t)
	app.signup(t, alice, "alice@test.local", "Password1")

	// Unknown address gets the same accepted answer as a real one.
	resp, _ := app.do(t, newClient(t), "POST", "/api/v1/auth/password-reset/request", map[string]string{
		"email": "ghost@test.local",
	})
	if resp.StatusCode != http.StatusAccepted {
		t.Errorf("unknown email: expected 202, got %d", resp.StatusCode)
	}
	if app.mail.lastURL != "" {
		t.Error("no mail should go out for unknown addresses")
	}

	resp, _ = app.do(t, newClient(t), "POST", "/api/v1/auth/password-reset/request", map[string]string{
		"email": "Alice@Test.Local",
	})
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("request: expected 202, got %d", resp.StatusCode)
	}
	secret := app.mail.lastToken(t)

	resp, body := app.do(t, newClient(t), "POST", "/api/v1/auth/password-reset/validate", map[string]string{
		"token": secret,
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("validate: expected 200, got %d (%s)", resp.StatusCode, errorCode(t, body))
	}

	resp, _ = app.do(t, newClient(t), "POST", "/api/v1/auth/password-reset/confirm", map[string]string{
		"token":    secret,
		"password": "NewPassword2",
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("confirm: expected 200, got %d", resp.StatusCode)
	}

	// The pre-reset session is gone.
	resp, _ = app.do(t, alice, "GET", "/api/v1/auth/me", nil)
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("old session should be revoked after reset, got %d", resp.StatusCode)
	}

	// Old credential dead, new one works.
	resp, _ = app.do(t, newClient(t), "POST", "/api/v1/auth/login", map[string]string{
		"email": "alice@test.local", "password": "Password1",
	})
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("old password should fail, got %d", resp.StatusCode)
	}
	resp, _ = app.do(t, newClient(t), "POST", "/api/v1/auth/login", map[string]string{
		"email": "alice@test.local", "password": "NewPassword2",
	})
	if resp.StatusCode != http.StatusOK {
		t.Errorf("new password should sign in, got %d", resp.StatusCode)
	}

	// The consumed token is terminal.
	resp, body = app.do(t, newClient(t), "POST", "/api/v1/auth/password-reset/confirm", map[string]string{
		"token":    secret,
		"password": "AnotherPass3",
	})
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("reusing a consumed token: expected 400, got %d", resp.StatusCode)
	}
	if errorCode(t, body) != "USED_TOKEN" {
		t.Errorf("expected USED_TOKEN, got %s", errorCode(t, body))
	}
}

func TestNewerResetRequestSupersedesOlder(t *testing.T) {
	app := newTestApp(t)
	app.signup(t, newClient(t), "alice@test.local", "Password1")

	app.do(t, newClient(t), "POST", "/api/v1/auth/password-reset/request", map[string]string{"email": "alice@test.local"})
	first := app.mail.lastToken(t)

	app.do(t, newClient(t), "POST", "/api/v1/auth/password-reset/request", map[string]string{"email": "alice@test.local"})
	second := app.mail.lastToken(t)

	if first == second {
		t.Fatal("each request must mint a fresh secret")
	}

	resp, body := app.do(t, newClient(t), "POST", "/api/v1/auth/password-reset/validate", map[string]string{"token": first})
	if resp.StatusCode != http.StatusBadRequest || errorCode(t, body) != "USED_TOKEN" {
		t.Errorf("superseded token: expected 400 USED_TOKEN, got %d %s", resp.StatusCode, errorCode(t, body))
	}

	resp, _ = app.do(t, newClient(t), "POST", "/api/v1/auth/password-reset/validate", map[string]string{"token": second})
	if resp.StatusCode != http.StatusOK {
		t.Errorf("newest token should validate, got %d", resp.StatusCode)
	}
}

func TestMemberManagementAndLastOwnerGuard(t *testing.T) {
	app := newTestApp(t)

	owner := newClient(t)
	_, orgID := app.signup(t, owner, "owner@test.local", "Password1")

	member := newClient(t)
	memberID, _ := app.signup(t, member, "member@test.local", "Password1")

	// Owner invites the second account into their org.
	resp, _ := app.do(t, owner, "POST", "/api/v1/organizations/current/members", map[string]string{
		"email": "member@test.local",
		"role":  "member",
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("add member: expected 201, got %d", resp.StatusCode)
	}

	// The new member can switch in and see the shared org.
	resp, _ = app.do(t, member, "POST", "/api/v1/auth/switch-org", map[string]*string{
		"organization_id": &orgID,
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("switch-org: expected 200, got %d", resp.StatusCode)
	}

	// A plain member cannot manage members.
	resp, _ = app.do(t, member, "PATCH", fmt.Sprintf("/api/v1/organizations/current/members/%s", memberID), map[string]string{
		"role": "admin",
	})
	if resp.StatusCode != http.StatusForbidden {
		t.Errorf("member managing members: expected 403, got %d", resp.StatusCode)
	}

	// The sole owner cannot demote themselves or leave.
	ownerUserID := ""
	{
		resp, body := app.do(t, owner, "GET", "/api/v1/auth/me", nil)
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("me: %d", resp.StatusCode)
		}
		var user struct {
			ID string `json:"id"`
		}
		json.Unmarshal(body["user"], &user)
		ownerUserID = user.ID
	}

	resp, body := app.do(t, owner, "PATCH", fmt.Sprintf("/api/v1/organizations/current/members/%s", ownerUserID), map[string]string{
		"role": "member",
	})
	if resp.StatusCode != http.StatusConflict {
		t.Errorf("demoting the last owner: expected 409, got %d (%s)", resp.StatusCode, errorCode(t, body))
	}

	resp, _ = app.do(t, owner, "POST", "/api/v1/organizations/current/leave", nil)
	if resp.StatusCode != http.StatusConflict {
		t.Errorf("last owner leaving: expected 409, got %d", resp.StatusCode)
	}

	// Removing the plain member works and revokes their access.
	resp, _ = app.do(t, owner, "DELETE", fmt.Sprintf("/api/v1/organizations/current/members/%s", memberID), nil)
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("remove member: expected 204, got %d", resp.StatusCode)
	}

	resp, _ = app.do(t, member, "GET", "/api/v1/todos", nil)
	if resp.StatusCode != http.StatusForbidden {
		t.Errorf("removed member should lose access on the next request, got %d", resp.StatusCode)
	}
}

func TestPersonalAccessTokenRoundTrip(t *testing.T) {
	app := newTestApp(t)

	owner := newClient(t)
	_, orgID := app.signup(t, owner, "alice@test.local", "Password1")

	resp, body := app.do(t, owner, "POST", "/api/v1/account/tokens", map[string]string{
		"name": "ci",
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create token: expected 201, got %d", resp.StatusCode)
	}
	var secret string
	json.Unmarshal(body["secret"], &secret)
	if !strings.HasPrefix(secret, "dpat_") {
		t.Fatalf("expected dpat_ prefix, got %q", secret)
	}

	// Bearer requests carry the org in a header.
	req, _ := http.NewRequest("GET", app.server.URL+"/api/v1/todos", nil)
	req.Header.Set("Authorization", "Bearer "+secret)
	req.Header.Set("X-Org-ID", orgID)
	resp2, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("bearer request: %v", err)
	}
	defer resp2.Body.Close()
	if resp2.StatusCode != http.StatusOK {
		t.Errorf("bearer todos: expected 200, got %d", resp2.StatusCode)
	}
}

func TestChangePasswordKeepsCurrentSessionOnly(t *testing.T) {
	app := newTestApp(t)

	first := newClient(t)
	app.signup(t, first, "alice@test.local", "Password1")

	second := newClient(t)
	resp, _ := app.do(t, second, "POST", "/api/v1/auth/login", map[string]string{
		"email": "alice@test.local", "password": "Password1",
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("second login: %d", resp.StatusCode)
	}

	resp, _ = app.do(t, first, "POST", "/api/v1/account/password", map[string]string{
		"current_password": "Password1",
		"new_password":     "NewPassword2",
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("change password: expected 200, got %d", resp.StatusCode)
	}

	// The changing session survives, every other one dies.
	resp, _ = app.do(t, first, "GET", "/api/v1/auth/me", nil)
	if resp.StatusCode != http.StatusOK {
		t.Errorf("changing session should survive, got %d", resp.StatusCode)
	}
	resp, _ = app.do(t, second, "GET", "/api/v1/auth/me", nil)
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("other sessions should be revoked, got %d", resp.StatusCode)
	}
}
