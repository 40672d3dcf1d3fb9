package auth

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

const claimsKey = "claims"

func unauthorized(c *gin.Context, msg string) {
	c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"success": false, "error": msg})
}

// Authenticate enforces bearer access tokens and stores the claims.
func Authenticate(s *Signer) gin.HandlerFunc {
	return func(c *gin.Context) {
		authz := c.GetHeader("Authorization")
		if authz == "" || !strings.HasPrefix(strings.ToLower(authz), "bearer ") {
			unauthorized(c, "Unauthorized")
			return
		}
		tokenStr := strings.TrimSpace(authz[len("bearer "):])
		claims, err := s.Parse(tokenStr, TypeAccess)
		if err != nil {
			unauthorized(c, "Unauthorized")
			return
		}
		c.Set(claimsKey, claims)
		c.Next()
	}
}

// RequireRole lets through sessions whose role is one of roles. It must run
// after Authenticate.
func RequireRole(roles ...string) gin.HandlerFunc {
	allowed := make(map[string]struct{}, len(roles))
	for _, r := range roles {
		allowed[strings.ToLower(strings.TrimSpace(r))] = struct{}{}
	}
	return func(c *gin.Context) {
		claims, ok := FromContext(c)
		if !ok {
			unauthorized(c, "Unauthorized")
			return
		}
		if _, ok := allowed[strings.ToLower(claims.Role)]; !ok {
			unauthorized(c, "Unauthorized")
			return
		}
		c.Next()
	}
}

// FromContext returns the session claims set by Authenticate.
func FromContext(c *gin.Context) (Claims, bool) {
	v, ok := c.Get(claimsKey)
	if !ok {
		return Claims{}, false
	}
	claims, ok := v.(Claims)
	return claims, ok
}
