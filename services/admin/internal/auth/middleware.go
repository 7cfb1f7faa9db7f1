package auth

import (
	"strings"

	apperrors "digitaltwin/common/errors"

	"github.com/gin-gonic/gin"
)

const (
	actorKey = "actor_id"
	roleKey  = "role"
)

// ErrorWriter renders an error response; the handler package supplies it so
// every error on the boundary has the same shape.
type ErrorWriter func(c *gin.Context, err error)

type Middleware struct {
	tokens     *Service
	adminRoles map[string]struct{}
	writeError ErrorWriter
}

func NewMiddleware(tokens *Service, adminRoles []string, writeError ErrorWriter) *Middleware {
	roles := make(map[string]struct{}, len(adminRoles))
	for _, r := range adminRoles {
		roles[strings.ToLower(strings.TrimSpace(r))] = struct{}{}
	}
	return &Middleware{tokens: tokens, adminRoles: roles, writeError: writeError}
}

// RequireAdmin rejects requests without a valid bearer token (401) or whose
// token lacks an admin role (403) before any handler runs.
func (m *Middleware) RequireAdmin() gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			m.writeError(c, apperrors.Unauthorized("Authorization header required", nil))
			c.Abort()
			return
		}

		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
			m.writeError(c, apperrors.Unauthorized("Invalid authorization format. Use: Bearer <token>", nil))
			c.Abort()
			return
		}

		claims, err := m.tokens.ValidateToken(strings.TrimSpace(parts[1]))
		if err != nil {
			m.writeError(c, apperrors.Unauthorized("Invalid or expired token", err))
			c.Abort()
			return
		}
		if _, ok := m.adminRoles[strings.ToLower(claims.Role)]; !ok {
			m.writeError(c, apperrors.Forbidden("admin role required", nil))
			c.Abort()
			return
		}

		c.Set(actorKey, claims.Subject)
		c.Set(roleKey, claims.Role)
		c.Next()
	}
}

// ActorID returns the authenticated actor, or "" outside RequireAdmin.
func ActorID(c *gin.Context) string {
	return c.GetString(actorKey)
}
