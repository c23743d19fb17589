package middlewares

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yeremiapane/restaurant-sync/models"
	"github.com/yeremiapane/restaurant-sync/utils"
)

func init() {
	utils.Silence(io.Discard)
	gin.SetMode(gin.TestMode)
}

func tokenFor(t *testing.T, subRole string) string {
	t.Helper()
	token, err := utils.GenerateToken(models.Actor{ID: 7, Name: "Dewi", Role: models.RoleRestaurant, SubRole: subRole})
	require.NoError(t, err)
	return token
}

func protectedRouter(extra ...gin.HandlerFunc) *gin.Engine {
	r := gin.New()
	handlers := append([]gin.HandlerFunc{AuthMiddleware()}, extra...)
	handlers = append(handlers, func(c *gin.Context) {
		actor, _ := ActorFrom(c)
		c.JSON(http.StatusOK, actor)
	})
	r.GET("/secure", handlers...)
	return r
}

func do(r http.Handler, req *http.Request) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestAuthMiddleware(t *testing.T) {
	r := protectedRouter()

	w := do(r, httptest.NewRequest(http.MethodGet, "/secure", nil))
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	req := httptest.NewRequest(http.MethodGet, "/secure", nil)
	req.Header.Set("Authorization", "Bearer garbage")
	assert.Equal(t, http.StatusUnauthorized, do(r, req).Code)

	req = httptest.NewRequest(http.MethodGet, "/secure", nil)
	req.Header.Set("Authorization", "Bearer "+tokenFor(t, models.SubRoleChef))
	w = do(r, req)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"sub_role":"chef"`)

	// websocket clients pass the token as a query parameter
	w = do(r, httptest.NewRequest(http.MethodGet, "/secure?token="+tokenFor(t, models.SubRoleWaiter), nil))
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestRevokedTokenRejected(t *testing.T) {
	r := protectedRouter()
	token := tokenFor(t, models.SubRoleCashier)
	utils.BlacklistToken(token, time.Now().Add(time.Hour))

	req := httptest.NewRequest(http.MethodGet, "/secure", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	assert.Equal(t, http.StatusUnauthorized, do(r, req).Code)
}

func TestRequireSubRole(t *testing.T) {
	r := protectedRouter(RequireSubRole(models.SubRoleChef))

	for subRole, want := range map[string]int{
		models.SubRoleChef:    http.StatusOK,
		models.SubRoleManager: http.StatusOK,
		models.SubRoleWaiter:  http.StatusForbidden,
		models.SubRoleCashier: http.StatusForbidden,
	} {
		req := httptest.NewRequest(http.MethodGet, "/secure", nil)
		req.Header.Set("Authorization", "Bearer "+tokenFor(t, subRole))
		assert.Equal(t, want, do(r, req).Code, subRole)
	}
}

func TestWebSocketAuthMiddleware(t *testing.T) {
	r := gin.New()
	r.GET("/ws", WebSocketAuthMiddleware(), func(c *gin.Context) { c.Status(http.StatusNoContent) })

	assert.Equal(t, http.StatusUnauthorized, do(r, httptest.NewRequest(http.MethodGet, "/ws", nil)).Code)
	w := do(r, httptest.NewRequest(http.MethodGet, "/ws?token="+tokenFor(t, models.SubRoleChef), nil))
	assert.Equal(t, http.StatusNoContent, w.Code)
}

func TestRateLimiter(t *testing.T) {
	r := gin.New()
	r.Use(NewRateLimiter(1, 2).RateLimit())
	r.GET("/ping", func(c *gin.Context) { c.Status(http.StatusOK) })

	codes := make([]int, 0, 3)
	for i := 0; i < 3; i++ {
		codes = append(codes, do(r, httptest.NewRequest(http.MethodGet, "/ping", nil)).Code)
	}
	assert.Equal(t, []int{http.StatusOK, http.StatusOK, http.StatusTooManyRequests}, codes)
}

func TestCORSAndSecurityHeaders(t *testing.T) {
	r := gin.New()
	r.Use(SecurityHeaders(), CORSMiddlewares(""))
	r.GET("/ping", func(c *gin.Context) { c.Status(http.StatusOK) })

	req := httptest.NewRequest(http.MethodGet, "/ping", nil)
	req.Header.Set("Origin", "http://pos.local")
	w := do(r, req)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "http://pos.local", w.Header().Get("Access-Control-Allow-Origin"))
	assert.Equal(t, "DENY", w.Header().Get("X-Frame-Options"))
	assert.Equal(t, "no-store", w.Header().Get("Cache-Control"))

	preflight := httptest.NewRequest(http.MethodOptions, "/ping", nil)
	w = do(r, preflight)
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Empty(t, w.Header().Get("Access-Control-Allow-Origin"))

	fixed := gin.New()
	fixed.Use(CORSMiddlewares("https://floor.example"))
	fixed.GET("/ping", func(c *gin.Context) { c.Status(http.StatusOK) })
	req = httptest.NewRequest(http.MethodGet, "/ping", nil)
	req.Header.Set("Origin", "http://elsewhere")
	w = do(fixed, req)
	assert.Equal(t, "https://floor.example", w.Header().Get("Access-Control-Allow-Origin"))
}
