package auth

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
)

const (
	userIDContextKey    = "auth_user_id"
	authTokenContextKey = "auth_token"
)

// credential is the token a request presented and where it came from.
type credential struct {
	token  string
	cookie bool
}

// Middleware resolves the caller from a bearer header or the auth cookie.
// Cookie-authenticated requests that change state must echo the CSRF cookie
// in the CSRF header; bearer callers are exempt.
func (s *Service) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		cred, ok := s.credentialFrom(c.Request)
		if !ok {
			abort(c, http.StatusUnauthorized, "UNAUTHORIZED", "authorization required")
			return
		}
		if cred.cookie && mutates(c.Request.Method) && !s.csrfMatches(c.Request) {
			abort(c, http.StatusForbidden, "FORBIDDEN", "invalid csrf token")
			return
		}
		userID, err := s.ValidateToken(c.Request.Context(), cred.token)
		if err != nil {
			abort(c, http.StatusUnauthorized, "UNAUTHORIZED", err.Error())
			return
		}
		c.Set(userIDContextKey, userID)
		c.Set(authTokenContextKey, cred.token)
		c.Next()
	}
}

// UserIDFromContext returns the user resolved by Middleware.
func UserIDFromContext(c *gin.Context) (int64, bool) {
	userID, ok := c.Value(userIDContextKey).(int64)
	return userID, ok
}

// AuthTokenFromContext returns the token the request authenticated with.
func AuthTokenFromContext(c *gin.Context) (string, bool) {
	token := c.GetString(authTokenContextKey)
	return token, token != ""
}

func (s *Service) credentialFrom(r *http.Request) (credential, bool) {
	header := r.Header.Get(s.headerName)
	if len(header) > 7 && strings.EqualFold(header[:7], "bearer ") {
		if token := strings.TrimSpace(header[7:]); token != "" {
			return credential{token: token}, true
		}
	}
	if cookie, err := r.Cookie(s.cookieName); err == nil && cookie.Value != "" {
		return credential{token: cookie.Value, cookie: true}, true
	}
	return credential{}, false
}

func (s *Service) csrfMatches(r *http.Request) bool {
	header := r.Header.Get(s.csrfHeaderName)
	cookie, err := r.Cookie(s.csrfCookieName)
	return err == nil && header != "" && header == cookie.Value
}

func mutates(method string) bool {
	switch method {
	case http.MethodGet, http.MethodHead, http.MethodOptions:
		return false
	}
	return true
}

func abort(c *gin.Context, status int, code, message string) {
	c.AbortWithStatusJSON(status, gin.H{
		"error":     message,
		"code":      code,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}
