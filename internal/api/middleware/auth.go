// Package middleware provides the gin middleware shared by API routes.
package middleware

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"

	"github.com/trustwork/trustwork-core/internal/config"
)

// ActorKey is the gin context key holding the authenticated subject id.
// Only the subject is trusted from the token; roles are always re-read
// from the profile store.
const ActorKey = "actor_id"

// Auth validates the Bearer token and stores its subject on the context.
func Auth(cfg config.AuthConfig) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		if !strings.HasPrefix(header, "Bearer ") {
			abortUnauthorized(c, "missing bearer token")
			return
		}
		raw := strings.TrimPrefix(header, "Bearer ")

		claims := jwt.RegisteredClaims{}
		token, err := jwt.ParseWithClaims(raw, &claims, func(t *jwt.Token) (interface{}, error) {
			if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, jwt.ErrSignatureInvalid
			}
			return []byte(cfg.JWTSecret), nil
		}, jwt.WithIssuer(cfg.Issuer), jwt.WithExpirationRequired())
		if err != nil || !token.Valid || claims.Subject == "" {
			abortUnauthorized(c, "invalid token")
			return
		}

		c.Set(ActorKey, claims.Subject)
		c.Next()
	}
}

// Actor returns the authenticated subject id from the context.
func Actor(c *gin.Context) string {
	return c.GetString(ActorKey)
}

func abortUnauthorized(c *gin.Context, message string) {
	c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
		"error":     message,
		"timestamp": time.Now().UTC(),
	})
}
