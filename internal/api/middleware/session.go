package middleware

import (
	"context"
	"net/http"
	"strings"
	"time"

	apiContext "doable/internal/api/context"
	"doable/internal/engine/authz"
	"doable/internal/engine/sessions"
	"doable/internal/pkg/errors"
	"doable/internal/platform/auth"
	"doable/internal/platform/models"
	"doable/internal/platform/repositories"
)

// RequestContext is the resolved "who is this request" object handed to
// handlers. It is built once per request and treated as immutable;
// downstream code passes it explicitly rather than reaching into ambient
// state.
type RequestContext struct {
	Identity *sessions.Identity
	// Session is nil for bearer-token requests.
	Session        *sessions.Session
	OrganizationID string
	// Membership is nil until an org check ran, and stays nil when the
	// authorized party is a platform admin acting without a membership row.
	Membership *models.Membership
}

func (rc *RequestContext) Authenticated() bool {
	return rc != nil && rc.Identity != nil
}

// FromRequest returns the resolved context, or an empty one for requests
// that never passed through the resolver.
func FromRequest(r *http.Request) *RequestContext {
	if rc, ok := r.Context().Value(apiContext.RequestContext).(*RequestContext); ok {
		return rc
	}
	return &RequestContext{}
}

// APITokenPrefix marks personal access tokens, telling them apart from JWT
// access tokens on the same Authorization header.
const APITokenPrefix = "dpat_"

// OrgHeader carries the acting organization for bearer-token requests,
// which have no session to remember one.
const OrgHeader = "X-Org-ID"

func nowUnix() int64 { return time.Now().Unix() }

type SessionMiddleware struct {
	store     *sessions.Store
	engine    *authz.Engine
	tokenSvc  *auth.TokenService
	apiTokens *repositories.APITokenRepository
	users     *repositories.UserRepository
}

func NewSessionMiddleware(store *sessions.Store, engine *authz.Engine, tokenSvc *auth.TokenService, apiTokens *repositories.APITokenRepository, users *repositories.UserRepository) *SessionMiddleware {
	return &SessionMiddleware{
		store:     store,
		engine:    engine,
		tokenSvc:  tokenSvc,
		apiTokens: apiTokens,
		users:     users,
	}
}

// WithIdentity resolves the request credential into a RequestContext. An
// absent or dead credential yields an anonymous context, which is a valid
// terminal state for public routes, never an error here.
func (m *SessionMiddleware) WithIdentity(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rc := &RequestContext{}

		if authHeader := r.Header.Get("Authorization"); authHeader != "" {
			parts := strings.Split(authHeader, " ")
			if len(parts) == 2 && parts[0] == "Bearer" {
				if resolved, err := m.resolveBearer(parts[1]); err != nil {
					errors.WriteStoreError(w, err)
					return
				} else if resolved != nil {
					rc = resolved
					rc.OrganizationID = r.Header.Get(OrgHeader)
				}
			}
		} else if cookie, err := r.Cookie(sessions.CookieName); err == nil && cookie.Value != "" {
			session, identity, err := m.store.GetWithIdentity(cookie.Value)
			if err == nil {
				m.store.Touch(session.ID)
				rc = &RequestContext{Identity: identity, Session: session}
				if session.CurrentOrgID != nil {
					rc.OrganizationID = *session.CurrentOrgID
				}
			} else if err != sessions.ErrNotFound {
				errors.WriteStoreError(w, err)
				return
			}
		}

		ctx := context.WithValue(r.Context(), apiContext.RequestContext, rc)
		next(w, r.WithContext(ctx))
	}
}

// resolveBearer accepts either a personal access token or a short-lived JWT
// access token. Unknown or dead credentials resolve to nil, the same
// anonymous outcome as a missing cookie.
func (m *SessionMiddleware) resolveBearer(token string) (*RequestContext, error) {
	var userID string

	if strings.HasPrefix(token, APITokenPrefix) {
		record, err := m.apiTokens.GetByHash(auth.HashToken(token))
		if err != nil {
			return nil, err
		}
		if record == nil || record.RevokedAt != nil {
			return nil, nil
		}
		if record.ExpiresAt != nil && *record.ExpiresAt <= nowUnix() {
			return nil, nil
		}
		m.apiTokens.UpdateLastUsed(record.ID)
		userID = record.UserID
	} else {
		claims, err := m.tokenSvc.ValidateToken(token)
		if err != nil {
			return nil, nil
		}
		userID = claims.Subject
	}

	user, err := m.users.GetByID(userID)
	if err != nil {
		return nil, err
	}
	if user == nil {
		return nil, nil
	}

	return &RequestContext{
		Identity: &sessions.Identity{UserID: user.ID, Email: user.Email, IsAdmin: user.IsAdmin},
	}, nil
}

// RequireAuth rejects anonymous requests.
func (m *SessionMiddleware) RequireAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !FromRequest(r).Authenticated() {
			errors.WriteError(w, http.StatusUnauthorized, errors.ErrCodeUnauthenticated, "Authentication required", nil)
			return
		}
		next(w, r)
	}
}

// RequireOrg demands an organization context and at least minRole in it.
// Missing org and insufficient role are distinct failures: the first is
// fixable by selecting an org, the second is not.
func (m *SessionMiddleware) RequireOrg(minRole authz.Role) func(http.HandlerFunc) http.HandlerFunc {
	return func(next http.HandlerFunc) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			rc := FromRequest(r)
			if !rc.Authenticated() {
				errors.WriteError(w, http.StatusUnauthorized, errors.ErrCodeUnauthenticated, "Authentication required", nil)
				return
			}
			if rc.OrganizationID == "" {
				errors.WriteError(w, http.StatusBadRequest, errors.ErrCodeNoOrgSelected, "No organization selected", nil)
				return
			}

			verdict, err := m.engine.AuthorizeMinimumRole(rc.Identity.UserID, rc.OrganizationID, minRole)
			if err != nil {
				errors.WriteStoreError(w, err)
				return
			}
			if !verdict.Authorized {
				errors.WriteError(w, http.StatusForbidden, errors.ErrCodeForbidden, "Insufficient permissions", nil)
				return
			}

			authorized := &RequestContext{
				Identity:       rc.Identity,
				Session:        rc.Session,
				OrganizationID: rc.OrganizationID,
			}
			if verdict.Reason == authz.ReasonRole {
				membership, err := m.engine.Membership(rc.Identity.UserID, rc.OrganizationID)
				if err != nil {
					errors.WriteStoreError(w, err)
					return
				}
				authorized.Membership = membership
			}

			ctx := context.WithValue(r.Context(), apiContext.RequestContext, authorized)
			next(w, r.WithContext(ctx))
		}
	}
}
