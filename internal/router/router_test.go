package router

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	promhandler "github.com/jwalitptl/restaurant-notify/internal/handler/prometheus"
	"github.com/jwalitptl/restaurant-notify/internal/middleware"
)

type pingHandler struct{ path string }

func (h pingHandler) RegisterRoutes(r *gin.RouterGroup) {
	r.GET(h.path, func(c *gin.Context) { c.String(http.StatusOK, "ok") })
}

func newTestRouter(t *testing.T, keyHash string) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)
	r := NewRouter(
		middleware.NewAuthMiddleware(keyHash),
		pingHandler{path: "/health"},
		pingHandler{path: "/notifications"},
		promhandler.New("test", prometheus.NewRegistry()),
		RouterConfig{CORSConfig: middleware.DefaultCORSConfig()},
	)
	r.Setup()
	return r.Engine()
}

func TestRoutesAreMounted(t *testing.T) {
	e := newTestRouter(t, "")

	for _, path := range []string{"/health", "/metrics", "/api/v1/notifications"} {
		w := httptest.NewRecorder()
		e.ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))
		assert.Equal(t, http.StatusOK, w.Code, path)
		assert.NotEmpty(t, w.Header().Get(middleware.HeaderXRequestID), path)
	}
}

func TestAPIKeyGuardsOnlyTheAPI(t *testing.T) {
	hash, err := bcrypt.GenerateFromPassword([]byte("secret"), bcrypt.MinCost)
	require.NoError(t, err)
	e := newTestRouter(t, string(hash))

	w := httptest.NewRecorder()
	e.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/notifications", nil))
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = httptest.NewRecorder()
	e.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, w.Code)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/notifications", nil)
	req.Header.Set(middleware.HeaderAPIKey, "secret")
	w = httptest.NewRecorder()
	e.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "1.0", w.Header().Get("X-API-Version"))
}
