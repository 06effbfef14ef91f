package middleware

import (
	"net/http"
	"net/http/httptest"
	"teacher_scenario_backend/internal/config"
	"teacher_scenario_backend/internal/model"
	"teacher_scenario_backend/internal/util"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "middleware-test-secret"

func newRouter() *gin.Engine {
	gin.SetMode(gin.TestMode)
	cfg := &config.Config{JWT: config.JWTConfig{Secret: testSecret}}

	r := gin.New()
	r.GET("/teacher", AuthMiddleware(cfg), RoleMiddleware(model.RoleTeacher), func(c *gin.Context) {
		c.String(http.StatusOK, "%d", util.GetUserFromContext(c).TeacherID)
	})
	r.GET("/admin", AuthMiddleware(cfg), RoleMiddleware(model.RoleAdmin), func(c *gin.Context) {
		c.Status(http.StatusOK)
	})
	return r
}

func token(t *testing.T, id uint, role model.TeacherRole, secret string, ttl time.Duration) string {
	t.Helper()
	tok, err := util.GenerateJWT(&model.Teacher{ID: id, Role: role, Email: "x@y.z"}, secret, ttl)
	require.NoError(t, err)
	return tok
}

func get(r http.Handler, path, tok string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, path, nil)
	if tok != "" {
		req.Header.Set("Authorization", "Bearer "+tok)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestAuthMiddleware(t *testing.T) {
	r := newRouter()

	w := get(r, "/teacher", "")
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = get(r, "/teacher", token(t, 5, model.RoleTeacher, "other-secret", time.Hour))
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = get(r, "/teacher", token(t, 5, model.RoleTeacher, testSecret, -time.Minute))
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = get(r, "/teacher", token(t, 5, model.RoleTeacher, testSecret, time.Hour))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "5", w.Body.String())
}

func TestRoleMiddleware(t *testing.T) {
	r := newRouter()

	w := get(r, "/admin", token(t, 5, model.RoleTeacher, testSecret, time.Hour))
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = get(r, "/admin", token(t, 1, model.RoleAdmin, testSecret, time.Hour))
	assert.Equal(t, http.StatusOK, w.Code)

	// 管理员也能访问教师接口
	w = get(r, "/teacher", token(t, 1, model.RoleAdmin, testSecret, time.Hour))
	assert.Equal(t, http.StatusOK, w.Code)
}
