package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/yashrajoria/course-access-service/common/auth"
)

// AdminRole is the JWT "role" claim required on admin routes.
const AdminRole = "admin"

// AdminSubjectKey holds the token subject of an authenticated admin.
const AdminSubjectKey = "adminSubject"

// RequireAdmin accepts only requests with a valid admin bearer token.
func RequireAdmin(validator *auth.TokenValidator) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		tokenStr, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || strings.TrimSpace(tokenStr) == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized"})
			return
		}

		claims, err := validator.ParseAndValidateToken(strings.TrimSpace(tokenStr), AdminRole)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized"})
			return
		}
		if sub, ok := claims["sub"].(string); ok {
			c.Set(AdminSubjectKey, sub)
		}
		c.Next()
	}
}
