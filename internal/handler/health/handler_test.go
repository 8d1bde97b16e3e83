package health

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jwalitptl/restaurant-notify/internal/repository/sqlstore"
	"github.com/jwalitptl/restaurant-notify/internal/service/notification"
)

type fixedState notification.State

func (s fixedState) State() notification.State { return notification.State(s) }

func get(r http.Handler, path string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))
	return w
}

func newEngine(h *Handler) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	h.RegisterRoutes(r.Group(""))
	return r
}

func TestLiveness(t *testing.T) {
	r := newEngine(NewHandler(nil, fixedState(notification.StateLoading)))
	assert.Equal(t, http.StatusOK, get(r, "/health").Code)
	assert.Equal(t, http.StatusOK, get(r, "/health/live").Code)
}

func TestReadinessWaitsForStore(t *testing.T) {
	r := newEngine(NewHandler(nil, fixedState(notification.StateLoading)))
	w := get(r, "/health/ready")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Contains(t, w.Body.String(), "Notifications loading")

	r = newEngine(NewHandler(nil, fixedState(notification.StateReady)))
	assert.Equal(t, http.StatusOK, get(r, "/health/ready").Code)
}

func TestReadinessPingsDatabase(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	db, err := sqlstore.Open(ctx, sqlstore.DriverSQLite, ":memory:")
	require.NoError(t, err)

	r := newEngine(NewHandler(db, fixedState(notification.StateReady)))
	assert.Equal(t, http.StatusOK, get(r, "/health/ready").Code)

	require.NoError(t, db.Close())
	assert.Equal(t, http.StatusServiceUnavailable, get(r, "/health/ready").Code)
}
