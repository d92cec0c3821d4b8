package httpx

import (
	"context"
	"net/http"
	"strings"
	"time"
)

type authContextKey string

type authInfo struct {
	UserID    string
	Username  string
	FullName  string
	SessionID string
}

const contextKeyAuth authContextKey = "dealership-auth-info"

type contextSetter interface {
	SetContext(context.Context)
}

// withSession resolves the caller's session, if any, into the request
// context. Anonymous requests pass through untouched.
func (r *Router) withSession(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		token := r.sessionToken(req)
		if token == "" {
			next(w, req)
			return
		}
		user, claims, err := r.auth.Authorize(req.Context(), token)
		if err != nil {
			r.logger.Debug("session rejected", "error", err, "path", req.URL.Path)
			next(w, req)
			return
		}
		fullName := strings.TrimSpace(user.FirstName + " " + user.LastName)
		if fullName == "" {
			fullName = user.Username
		}
		info := authInfo{UserID: user.ID, Username: user.Username, FullName: fullName, SessionID: claims.SessionID()}
		ctx := context.WithValue(req.Context(), contextKeyAuth, info)
		if setter, ok := w.(contextSetter); ok {
			setter.SetContext(ctx)
		}
		next(w, req.WithContext(ctx))
	}
}

// requireSession answers 403 for anonymous callers.
func (r *Router) requireSession(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		if _, ok := authInfoFromContext(req.Context()); !ok {
			writeStatus(w, http.StatusForbidden, "Unauthorized")
			return
		}
		next(w, req)
	}
}

// authInfoFromContext extracts auth metadata from context.
func authInfoFromContext(ctx context.Context) (authInfo, bool) {
	value := ctx.Value(contextKeyAuth)
	if value == nil {
		return authInfo{}, false
	}
	info, ok := value.(authInfo)
	return info, ok
}

// sessionToken reads the session cookie, falling back to a bearer token.
func (r *Router) sessionToken(req *http.Request) string {
	if cookie, err := req.Cookie(r.cookieName); err == nil {
		if value := strings.TrimSpace(cookie.Value); value != "" {
			return value
		}
	}
	return bearerToken(req.Header.Get("Authorization"))
}

func bearerToken(header string) string {
	parts := strings.Fields(header)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}

func (r *Router) setSessionCookie(w http.ResponseWriter, token string, expires time.Time) {
	http.SetCookie(w, &http.Cookie{
		Name:     r.cookieName,
		Value:    token,
		Path:     "/",
		Expires:  expires,
		HttpOnly: true,
		Secure:   r.cookieSecure,
		SameSite: http.SameSiteLaxMode,
	})
}

func (r *Router) clearSessionCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     r.cookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   r.cookieSecure,
		SameSite: http.SameSiteLaxMode,
	})
}
