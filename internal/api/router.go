package api

import (
	"context"
	"net/http"

	"github.com/julienschmidt/httprouter"

	apiContext "doable/internal/api/context"
	"doable/internal/api/handlers"
	"doable/internal/api/middleware"
	"doable/internal/engine/authz"
)

type Dependencies struct {
	AuthHandler   *handlers.AuthHandler
	OrgHandler    *handlers.OrgHandler
	UserHandler   *handlers.UserHandler
	TodoHandler   *handlers.TodoHandler
	TokenHandler  *handlers.TokenHandler
	AuditHandler  *handlers.AuditHandler
	HealthHandler *handlers.HealthHandler
	Session       *middleware.SessionMiddleware
}

func NewRouter(deps *Dependencies) *httprouter.Router {
	router := httprouter.New()

	sess := deps.Session
	identified := sess.WithIdentity
	authed := sess.RequireAuth
	member := sess.RequireOrg(authz.RoleMember)
	admin := sess.RequireOrg(authz.RoleAdmin)
	owner := sess.RequireOrg(authz.RoleOwner)

	router.GET("/healthz", wrap(deps.HealthHandler.Health))

	// Authentication
	router.POST("/api/v1/auth/signup",
		chain(deps.AuthHandler.Signup, middleware.RateLimit("sign_in")))
	router.POST("/api/v1/auth/login",
		chain(deps.AuthHandler.Login, middleware.RateLimit("sign_in")))
	router.POST("/api/v1/auth/logout",
		chain(deps.AuthHandler.Logout, identified))
	router.POST("/api/v1/auth/logout-everywhere",
		chain(deps.AuthHandler.LogoutEverywhere, identified, authed))
	router.GET("/api/v1/auth/me",
		chain(deps.AuthHandler.Me, identified, authed))
	router.POST("/api/v1/auth/switch-org",
		chain(deps.AuthHandler.SwitchOrg, identified, authed))
	router.GET("/api/v1/auth/sessions",
		chain(deps.AuthHandler.ListSessions, identified, authed))

	// Password reset (anonymous by design)
	router.POST("/api/v1/auth/password-reset/request",
		chain(deps.AuthHandler.RequestPasswordReset, middleware.RateLimit("password_reset")))
	router.POST("/api/v1/auth/password-reset/validate",
		wrap(deps.AuthHandler.ValidateResetToken))
	router.POST("/api/v1/auth/password-reset/confirm",
		chain(deps.AuthHandler.ResetPassword, middleware.RateLimit("password_reset")))

	// Account
	router.PATCH("/api/v1/account/profile",
		chain(deps.UserHandler.UpdateProfile, identified, authed))
	router.POST("/api/v1/account/password",
		chain(deps.UserHandler.ChangePassword, identified, authed))
	router.DELETE("/api/v1/account",
		chain(deps.UserHandler.DeleteAccount, identified, authed))

	// Personal access tokens and JWT exchange
	router.POST("/api/v1/account/tokens",
		chain(deps.TokenHandler.CreateAPIToken, identified, authed))
	router.GET("/api/v1/account/tokens",
		chain(deps.TokenHandler.ListAPITokens, identified, authed))
	router.DELETE("/api/v1/account/tokens/:tokenID",
		chain(deps.TokenHandler.RevokeAPIToken, identified, authed))
	router.POST("/api/v1/auth/access-token",
		chain(deps.TokenHandler.IssueAccessToken, identified, authed))

	// Organizations
	router.POST("/api/v1/organizations",
		chain(deps.OrgHandler.Create, identified, authed))
	router.GET("/api/v1/organizations",
		chain(deps.OrgHandler.List, identified, authed))
	router.GET("/api/v1/organizations/current",
		chain(deps.OrgHandler.Get, identified, member))
	router.PATCH("/api/v1/organizations/current",
		chain(deps.OrgHandler.Update, identified, admin))
	router.DELETE("/api/v1/organizations/current",
		chain(deps.OrgHandler.Delete, identified, owner))
	router.POST("/api/v1/organizations/current/leave",
		chain(deps.OrgHandler.Leave, identified, member))

	// Members
	router.GET("/api/v1/organizations/current/members",
		chain(deps.OrgHandler.ListMembers, identified, member))
	router.POST("/api/v1/organizations/current/members",
		chain(deps.OrgHandler.AddMember, identified, admin))
	router.PATCH("/api/v1/organizations/current/members/:userID",
		chain(deps.OrgHandler.UpdateMemberRole, identified, owner))
	router.DELETE("/api/v1/organizations/current/members/:userID",
		chain(deps.OrgHandler.RemoveMember, identified, admin))

	// Todos
	router.POST("/api/v1/todos",
		chain(deps.TodoHandler.Create, identified, member))
	router.GET("/api/v1/todos",
		chain(deps.TodoHandler.List, identified, member))
	router.GET("/api/v1/todos/:todoID",
		chain(deps.TodoHandler.Get, identified, member))
	router.PATCH("/api/v1/todos/:todoID",
		chain(deps.TodoHandler.Update, identified, member))
	router.DELETE("/api/v1/todos/:todoID",
		chain(deps.TodoHandler.Delete, identified, member))

	// Audit trail
	router.GET("/api/v1/audit-logs",
		chain(deps.AuditHandler.List, identified, admin))

	return router
}

// Helper function to chain middlewares
func chain(handler http.HandlerFunc, middlewares ...func(http.HandlerFunc) http.HandlerFunc) httprouter.Handle {
	for i := len(middlewares) - 1; i >= 0; i-- {
		handler = middlewares[i](handler)
	}
	return wrap(handler)
}

// Convert http.HandlerFunc to httprouter.Handle
func wrap(handler http.HandlerFunc) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
		ctx := context.WithValue(r.Context(), apiContext.Params, ps)
		handler(w, r.WithContext(ctx))
	}
}
