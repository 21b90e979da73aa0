package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"harvest/internal/auth"
)

const claimsKey = "auth_claims"

type TokenVerifier interface {
	Verify(token string) (auth.Claims, error)
}

// RequireBearer rejects requests without a valid bearer token.
func RequireBearer(v TokenVerifier) gin.HandlerFunc {
	return func(c *gin.Context) {
		tok := auth.BearerToken(c.GetHeader("Authorization"))
		if tok == "" {
			Error(c, http.StatusUnauthorized, "missing bearer token", nil)
			c.Abort()
			return
		}
		claims, err := v.Verify(tok)
		if err != nil {
			Error(c, http.StatusUnauthorized, "invalid token", nil)
			c.Abort()
			return
		}
		c.Set(claimsKey, claims)
		c.Next()
	}
}

func denyAll(c *gin.Context) {
	Error(c, http.StatusUnauthorized, "auth not configured", nil)
	c.Abort()
}

func guardOrDeny(g gin.HandlerFunc) gin.HandlerFunc {
	if g == nil {
		return denyAll
	}
	return g
}

// actor names the token subject for audit trails.
func actor(c *gin.Context) string {
	if v, ok := c.Get(claimsKey); ok {
		if claims, ok := v.(auth.Claims); ok && claims.Subject != "" {
			return claims.Subject
		}
	}
	return "unknown"
}
