package middleware

import (
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/weiawesome/friendlychat/pkg/log"
	"github.com/weiawesome/friendlychat/pkg/response"
)

const (
	UserIDKey     = "user_id"
	EmailKey      = "email"
	UsernameKey   = "username"
	PictureKey    = "picture"
	SessionKey    = "session_key"
	TokenKey      = "session_token"
	AuthHeaderKey = "Authorization"
	BearerPrefix  = "Bearer "

	// SessionCookie holds the session token in browsers.
	SessionCookie = "fc_session"
)

// Principal is the authenticated caller of a request.
type Principal struct {
	UserID     string
	Username   string
	Email      string
	Picture    string
	SessionKey string
}

// TokenValidator resolves a session token to its principal.
type TokenValidator interface {
	ValidateToken(token string) (Principal, error)
}

// AuthMiddleware validates session tokens from the cookie or the
// Authorization header.
type AuthMiddleware struct {
	validator TokenValidator
}

// NewAuthMiddleware creates a new auth middleware.
func NewAuthMiddleware(validator TokenValidator) *AuthMiddleware {
	return &AuthMiddleware{validator: validator}
}

// OptionalAuth sets the principal when a valid token is present and lets
// anonymous requests through.
func (m *AuthMiddleware) OptionalAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		if token := extractToken(c); token != "" {
			if p, err := m.validator.ValidateToken(token); err == nil {
				setPrincipal(c, p, token)
			}
		}
		c.Next()
	}
}

// RequireAuth returns a Gin middleware that rejects requests without a
// valid session token.
func (m *AuthMiddleware) RequireAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		token := extractToken(c)
		if token == "" {
			response.Unauthorized(c, "You must sign-in first")
			c.Abort()
			return
		}

		p, err := m.validator.ValidateToken(token)
		if err != nil {
			response.Unauthorized(c, "You must sign-in first")
			c.Abort()
			return
		}

		setPrincipal(c, p, token)
		c.Next()
	}
}

func extractToken(c *gin.Context) string {
	if authHeader := c.GetHeader(AuthHeaderKey); strings.HasPrefix(authHeader, BearerPrefix) {
		return strings.TrimPrefix(authHeader, BearerPrefix)
	}
	if cookie, err := c.Cookie(SessionCookie); err == nil {
		return cookie
	}
	return ""
}

func setPrincipal(c *gin.Context, p Principal, token string) {
	c.Set(UserIDKey, p.UserID)
	c.Set(EmailKey, p.Email)
	c.Set(UsernameKey, p.Username)
	c.Set(PictureKey, p.Picture)
	c.Set(SessionKey, p.SessionKey)
	c.Set(TokenKey, token)
	c.Request = c.Request.WithContext(log.WithSession(c.Request.Context(), p.SessionKey))
}

// GetPrincipal returns the principal set by the middleware, if any.
func GetPrincipal(c *gin.Context) (Principal, bool) {
	id := c.GetString(UserIDKey)
	if id == "" {
		return Principal{}, false
	}
	return Principal{
		UserID:     id,
		Username:   c.GetString(UsernameKey),
		Email:      c.GetString(EmailKey),
		Picture:    c.GetString(PictureKey),
		SessionKey: c.GetString(SessionKey),
	}, true
}

// GetUserID extracts user ID from Gin context.
func GetUserID(c *gin.Context) string {
	return c.GetString(UserIDKey)
}

// GetToken returns the raw session token of the request.
func GetToken(c *gin.Context) string {
	return c.GetString(TokenKey)
}
