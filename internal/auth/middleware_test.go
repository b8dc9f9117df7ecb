package auth

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func protectedRouter(t *testing.T, jm *JWTManager, extra ...gin.HandlerFunc) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)

	router := gin.New()
	handlers := append([]gin.HandlerFunc{RequireAuth(jm)}, extra...)
	handlers = append(handlers, func(c *gin.Context) {
		operatorID, _ := c.Get("operator_id")
		email, _ := c.Get("email")
		c.JSON(http.StatusOK, gin.H{"operator_id": operatorID, "email": email})
	})
	router.GET("/protected", handlers...)
	return router
}

func issueToken(t *testing.T, jm *JWTManager, roles []string, ttl time.Duration) string {
	t.Helper()
	token, err := jm.GenerateToken(context.Background(), "op-1", "ops@khive.ai", roles, ttl)
	require.NoError(t, err)
	return token
}

func TestRequireAuth(t *testing.T) {
	jm := newTestJWTManager(t)
	router := protectedRouter(t, jm)
	token := issueToken(t, jm, []string{"admin"}, time.Hour)

	t.Run("bearer header", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/protected", nil)
		req.Header.Set("Authorization", "Bearer "+token)
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)

		require.Equal(t, http.StatusOK, rec.Code)
		assert.Contains(t, rec.Body.String(), `"operator_id":"op-1"`)
		assert.Contains(t, rec.Body.String(), `"email":"ops@khive.ai"`)
	})

	t.Run("token query parameter", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/protected?token="+token, nil)
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusOK, rec.Code)
	})

	t.Run("missing token", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/protected", nil)
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("garbage token", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/protected", nil)
		req.Header.Set("Authorization", "Bearer not.a.jwt")
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("expired token", func(t *testing.T) {
		expired := issueToken(t, jm, []string{"admin"}, -time.Minute)
		req := httptest.NewRequest(http.MethodGet, "/protected", nil)
		req.Header.Set("Authorization", "Bearer "+expired)
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("header without bearer prefix is ignored", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/protected", nil)
		req.Header.Set("Authorization", token)
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})
}

func TestRequireRole(t *testing.T) {
	jm := newTestJWTManager(t)
	router := protectedRouter(t, jm, RequireRole("admin"))

	t.Run("operator with the role passes", func(t *testing.T) {
		token := issueToken(t, jm, []string{"viewer", "admin"}, time.Hour)
		req := httptest.NewRequest(http.MethodGet, "/protected", nil)
		req.Header.Set("Authorization", "Bearer "+token)
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusOK, rec.Code)
	})

	t.Run("operator without the role is forbidden", func(t *testing.T) {
		token := issueToken(t, jm, []string{"viewer"}, time.Hour)
		req := httptest.NewRequest(http.MethodGet, "/protected", nil)
		req.Header.Set("Authorization", "Bearer "+token)
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusForbidden, rec.Code)
	})
}
