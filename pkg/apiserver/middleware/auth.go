package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/auraflow/auraflow/pkg/auth"
)

// Context keys set for downstream handlers.
const (
	CtxStaffID  = "staff_id"
	CtxClinicID = "clinic_id"
	CtxRole     = "role"
)

// Auth validates the bearer token and exposes the staff identity to
// handlers. It carries identity only; whether that identity may perform an
// action is decided by the transition table.
func Auth(tokens *auth.StaffTokenManager) gin.HandlerFunc {
	return func(c *gin.Context) {
		authorization := c.GetHeader("Authorization")
		if authorization == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing authorization"})
			return
		}
		parts := strings.SplitN(authorization, " ", 2)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid authorization"})
			return
		}

		claims, err := tokens.Validate(strings.TrimSpace(parts[1]))
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}

		c.Set(CtxStaffID, claims.StaffID)
		c.Set(CtxClinicID, claims.ClinicID)
		c.Set(CtxRole, string(claims.Role))
		c.Next()
	}
}
