package auth

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

const principalKey = "auth.principal"

// Middleware validates the Bearer token and stamps the principal id onto
// the request context. Every task route sits behind it.
func Middleware(svc *Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		if header == "" {
			abortUnauthorized(c, "authorization header required")
			return
		}
		parts := strings.SplitN(header, " ", 2)
		if len(parts) != 2 || parts[0] != "Bearer" {
			abortUnauthorized(c, "invalid authorization format")
			return
		}
		principal, err := svc.ValidateAccessToken(parts[1])
		if err != nil {
			switch {
			case errors.Is(err, ErrExpiredToken):
				abortUnauthorized(c, "token expired")
			default:
				abortUnauthorized(c, "invalid token")
			}
			return
		}
		c.Set(principalKey, principal)
		c.Next()
	}
}

// Principal returns the authenticated principal id set by Middleware.
func Principal(c *gin.Context) (string, bool) {
	v, ok := c.Get(principalKey)
	if !ok {
		return "", false
	}
	id, ok := v.(string)
	return id, ok && id != ""
}

func abortUnauthorized(c *gin.Context, msg string) {
	c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
		"success": false,
		"error":   gin.H{"code": "UNAUTHORIZED", "message": msg},
	})
}
