package middleware

import (
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/weiawesome/wes-io-multicam/pkg/jwt"
	"github.com/weiawesome/wes-io-multicam/pkg/response"
)

const (
	UserIDKey     = "user_id"
	RoleKey       = "role"
	ClaimsKey     = "claims"
	AuthHeaderKey = "Authorization"
	BearerPrefix  = "Bearer "
)

// Validator validates bearer tokens.
type Validator interface {
	Validate(token string) (*jwt.Claims, error)
}

// AuthMiddleware validates bearer tokens locally.
type AuthMiddleware struct {
	validator Validator
}

// NewAuthMiddleware creates a new auth middleware.
func NewAuthMiddleware(v Validator) *AuthMiddleware {
	return &AuthMiddleware{validator: v}
}

// RequireRole rejects requests without a valid token granting one of roles.
func (m *AuthMiddleware) RequireRole(roles ...string) gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader(AuthHeaderKey)
		if authHeader == "" {
			response.Unauthorized(c, "missing authorization header")
			c.Abort()
			return
		}
		if !strings.HasPrefix(authHeader, BearerPrefix) {
			response.Unauthorized(c, "invalid authorization format")
			c.Abort()
			return
		}

		claims, err := m.validator.Validate(strings.TrimPrefix(authHeader, BearerPrefix))
		if err != nil {
			response.Unauthorized(c, err.Error())
			c.Abort()
			return
		}
		if len(roles) > 0 && !claims.HasRole(roles...) {
			response.Forbidden(c, "insufficient role")
			c.Abort()
			return
		}

		c.Set(UserIDKey, claims.UserID)
		c.Set(ClaimsKey, claims)
		if len(claims.Roles) > 0 {
			c.Set(RoleKey, strings.Join(claims.Roles, ","))
		}
		c.Next()
	}
}

// GetUserID returns the authenticated user id, if any.
func GetUserID(c *gin.Context) string {
	return c.GetString(UserIDKey)
}
