package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"

	"github.com/lzhao-dev/school-records-api/internal/models"
)

func newRBACContext(t *testing.T, claims *models.JWTClaims) (*gin.Context, *httptest.ResponseRecorder) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	rec := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(rec)
	c.Request = httptest.NewRequest(http.MethodGet, "/grades", nil)
	if claims != nil {
		c.Set(ContextUserKey, claims)
	}
	return c, rec
}

func TestRequireRolesAllowsMatchingRole(t *testing.T) {
	c, rec := newRBACContext(t, &models.JWTClaims{Role: models.RoleTeacher})

	RequireRoles(models.RoleAdmin, models.RoleTeacher)(c)

	require.False(t, c.IsAborted())
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestRequireRolesRejectsOtherRole(t *testing.T) {
	c, rec := newRBACContext(t, &models.JWTClaims{Role: models.RoleStudent})

	RequireRoles(models.RoleAdmin)(c)

	require.True(t, c.IsAborted())
	require.Equal(t, http.StatusForbidden, rec.Code)
}

func TestRequireRolesSuperuserBypassesGate(t *testing.T) {
	c, rec := newRBACContext(t, &models.JWTClaims{Role: models.RoleStudent, IsSuperuser: true})

	RequireRoles(models.RoleAdmin)(c)

	require.False(t, c.IsAborted())
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestRequireRolesRejectsMissingClaims(t *testing.T) {
	c, rec := newRBACContext(t, nil)

	RequireRoles(models.RoleAdmin)(c)

	require.True(t, c.IsAborted())
	require.Equal(t, http.StatusUnauthorized, rec.Code)
}
