package handler

import (
	"github.com/gin-gonic/gin"

	"github.com/lzhao-dev/school-records-api/internal/middleware"
	"github.com/lzhao-dev/school-records-api/internal/models"
)

// claimsFromContext extracts the authenticated session claims set by the
// JWT middleware.
func claimsFromContext(c *gin.Context) (*models.JWTClaims, bool) {
	value, exists := c.Get(middleware.ContextUserKey)
	if !exists {
		return nil, false
	}
	claims, ok := value.(*models.JWTClaims)
	return claims, ok
}
