package httputil

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jwalitptl/restaurant-notify/pkg/errors"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func respond(t *testing.T, fn func(c *gin.Context)) (int, Response) {
	t.Helper()
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	fn(c)

	var resp Response
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	return w.Code, resp
}

func TestRespondWithSuccess(t *testing.T) {
	code, resp := respond(t, func(c *gin.Context) {
		RespondWithSuccess(c, gin.H{"count": 3})
	})
	assert.Equal(t, http.StatusOK, code)
	assert.True(t, resp.Success)
	assert.Nil(t, resp.Error)
}

func TestRespondWithWrappedAppError(t *testing.T) {
	code, resp := respond(t, func(c *gin.Context) {
		RespondWithError(c, fmt.Errorf("mark read: %w", errors.NotFound("notification", nil)))
	})
	assert.Equal(t, http.StatusNotFound, code)
	assert.False(t, resp.Success)
	require.NotNil(t, resp.Error)
	assert.Equal(t, "notification not found", resp.Error.Message)
}

func TestRespondWithPlainError(t *testing.T) {
	code, resp := respond(t, func(c *gin.Context) {
		RespondWithError(c, fmt.Errorf("boom"))
	})
	assert.Equal(t, http.StatusInternalServerError, code)
	assert.Equal(t, "Internal server error", resp.Error.Message)
}
