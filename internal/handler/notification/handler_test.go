package notification

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jwalitptl/restaurant-notify/internal/channel"
	"github.com/jwalitptl/restaurant-notify/internal/model"
	notificationService "github.com/jwalitptl/restaurant-notify/internal/service/notification"
	apperrors "github.com/jwalitptl/restaurant-notify/pkg/errors"
	"github.com/jwalitptl/restaurant-notify/pkg/logger"
	"github.com/jwalitptl/restaurant-notify/pkg/messaging"
	"github.com/jwalitptl/restaurant-notify/pkg/messaging/memory"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type fakeStore struct {
	records []model.NotificationRecord
	unread  int
	state   notificationService.State
	loadErr error
	calls   []string
}

func (s *fakeStore) Notifications() []model.NotificationRecord { return s.records }
func (s *fakeStore) UnreadCount() int { return s.unread }
func (s *fakeStore) State() notificationService.State { return s.state }

func (s *fakeStore) LoadInitial(context.Context) error {
	s.calls = append(s.calls, "load")
	return s.loadErr
}

func (s *fakeStore) MarkRead(_ context.Context, id int64) error {
	s.calls = append(s.calls, "read")
	for i := range s.records {
		if s.records[i].ID == id {
			if !s.records[i].IsRead {
				s.records[i].IsRead = true
				s.unread--
			}
			return nil
		}
	}
	return apperrors.NotFound("notification", nil)
}

func (s *fakeStore) MarkAllRead(context.Context) error {
	s.calls = append(s.calls, "read_all")
	s.unread = 0
	return nil
}

func (s *fakeStore) Remove(_ context.Context, id int64) error {
	s.calls = append(s.calls, "remove")
	if id == 500 {
		return apperrors.Unavailable("notification backend", errors.New("502"))
	}
	return nil
}

type fakeChannel struct {
	connected bool
	enabled   bool
	attempt   int
}

func (c *fakeChannel) IsConnected() bool { return c.connected }
func (c *fakeChannel) ReconnectAttempt() int { return c.attempt }
func (c *fakeChannel) Enabled() bool { return c.enabled }

func (c *fakeChannel) State() channel.State {
	if c.connected {
		return channel.StateOpen
	}
	return channel.StateDisconnected
}

func (c *fakeChannel) SetEnabled(_ context.Context, enabled bool) error {
	c.enabled = enabled
	c.connected = enabled
	c.attempt = 0
	return nil
}

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func newTestHandler(t *testing.T) (*gin.Engine, *fakeStore, *fakeChannel, *memory.Broker) {
	t.Helper()
	created := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	store := &fakeStore{
		records: []model.NotificationRecord{
			{ID: 2, Type: model.NotificationTypeOrder, Priority: model.PriorityMedium, Title: "Order #2", CreatedAt: created.Add(-5 * time.Minute)},
			{ID: 1, Type: model.NotificationTypeOrder, Priority: model.PriorityLow, Title: "Order #1", IsRead: true, CreatedAt: created.Add(-2 * time.Hour)},
		},
		unread: 1,
		state:  notificationService.StateReady,
	}
	ch := &fakeChannel{connected: true, enabled: true}
	broker := memory.NewBroker()
	t.Cleanup(func() { _ = broker.Close() })

	h := NewHandler(store, ch, broker, logger.Nop())
	h.now = func() time.Time { return created }
	h.keepAlive = time.Hour

	r := gin.New()
	h.RegisterRoutes(r.Group("/api/v1"))
	return r, store, ch, broker
}

func do(t *testing.T, r http.Handler, method, path, body string) (*httptest.ResponseRecorder, envelope) {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	var env envelope
	if w.Body.Len() > 0 {
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env))
	}
	return w, env
}

func TestListRendersTimeAgo(t *testing.T) {
	r, _, _, _ := newTestHandler(t)

	w, env := do(t, r, http.MethodGet, "/api/v1/notifications", "")
	require.Equal(t, http.StatusOK, w.Code)

	var resp listResponse
	require.NoError(t, json.Unmarshal(env.Data, &resp))
	require.Len(t, resp.Notifications, 2)
	assert.Equal(t, "5 minutes ago", resp.Notifications[0].TimeAgo)
	assert.Equal(t, "2 hours ago", resp.Notifications[1].TimeAgo)
	assert.Equal(t, 1, resp.UnreadCount)
	assert.Equal(t, "ready", resp.State)
}

func TestListUnreadOnly(t *testing.T) {
	r, _, _, _ := newTestHandler(t)

	_, env := do(t, r, http.MethodGet, "/api/v1/notifications?unread=true", "")
	var resp listResponse
	require.NoError(t, json.Unmarshal(env.Data, &resp))
	require.Len(t, resp.Notifications, 1)
	assert.Equal(t, int64(2), resp.Notifications[0].ID)
}

func TestListIsEmptyWhileLoading(t *testing.T) {
	r, store, _, _ := newTestHandler(t)

	for _, state := range []notificationService.State{
		notificationService.StateUninitialized,
		notificationService.StateLoading,
	} {
		store.state = state

		w, env := do(t, r, http.MethodGet, "/api/v1/notifications", "")
		require.Equal(t, http.StatusOK, w.Code)

		var resp listResponse
		require.NoError(t, json.Unmarshal(env.Data, &resp))
		assert.Empty(t, resp.Notifications, state.String())
		assert.Equal(t, state.String(), resp.State)
		assert.Contains(t, w.Body.String(), `"notifications":[]`)
	}
}

func TestUnreadCountEndpoint(t *testing.T) {
	r, _, _, _ := newTestHandler(t)

	_, env := do(t, r, http.MethodGet, "/api/v1/notifications/unread-count", "")
	assert.JSONEq(t, `{"count":1}`, string(env.Data))
}

func TestMarkRead(t *testing.T) {
	r, store, _, _ := newTestHandler(t)

	w, env := do(t, r, http.MethodPost, "/api/v1/notifications/2/read", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"unread_count":0}`, string(env.Data))
	assert.Equal(t, []string{"read"}, store.calls)
}

func TestMarkReadErrors(t *testing.T) {
	r, store, _, _ := newTestHandler(t)

	w, env := do(t, r, http.MethodPost, "/api/v1/notifications/abc/read", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "invalid notification ID", env.Error.Message)
	assert.Empty(t, store.calls)

	w, _ = do(t, r, http.MethodPost, "/api/v1/notifications/99/read", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestMarkAllRead(t *testing.T) {
	r, store, _, _ := newTestHandler(t)

	_, env := do(t, r, http.MethodPost, "/api/v1/notifications/read-all", "")
	assert.JSONEq(t, `{"unread_count":0}`, string(env.Data))
	assert.Equal(t, []string{"read_all"}, store.calls)
}

func TestRemove(t *testing.T) {
	r, _, _, _ := newTestHandler(t)

	w, _ := do(t, r, http.MethodDelete, "/api/v1/notifications/2", "")
	assert.Equal(t, http.StatusNoContent, w.Code)

	w, env := do(t, r, http.MethodDelete, "/api/v1/notifications/500", "")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Equal(t, "notification backend unavailable", env.Error.Message)
}

func TestReload(t *testing.T) {
	r, store, _, _ := newTestHandler(t)

	w, _ := do(t, r, http.MethodPost, "/api/v1/notifications/reload", "")
	assert.Equal(t, http.StatusOK, w.Code)

	store.loadErr = errors.New("timeout")
	w, _ = do(t, r, http.MethodPost, "/api/v1/notifications/reload", "")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Equal(t, []string{"load", "load"}, store.calls)
}

func TestStatus(t *testing.T) {
	r, _, ch, _ := newTestHandler(t)
	ch.connected = false
	ch.attempt = 3

	_, env := do(t, r, http.MethodGet, "/api/v1/notifications/status", "")
	assert.JSONEq(t, `{
		"is_connected": false,
		"state": "disconnected",
		"enabled": true,
		"reconnect_attempt": 3,
		"store_state": "ready"
	}`, string(env.Data))
}

func TestSetChannel(t *testing.T) {
	r, _, ch, _ := newTestHandler(t)

	w, _ := do(t, r, http.MethodPost, "/api/v1/notifications/channel", `{}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w, env := do(t, r, http.MethodPost, "/api/v1/notifications/channel", `{"enabled":false}`)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.False(t, ch.enabled)

	var status statusResponse
	require.NoError(t, json.Unmarshal(env.Data, &status))
	assert.False(t, status.Enabled)
}

func TestStreamRelaysStoreEventsAndToasts(t *testing.T) {
	r, _, _, broker := newTestHandler(t)
	srv := httptest.NewServer(r)
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/api/v1/notifications/stream", nil)
	require.NoError(t, err)

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	reader := bufio.NewReader(resp.Body)
	nextEvent := func() (string, string) {
		var name, data string
		for {
			line, err := reader.ReadString('\n')
			require.NoError(t, err)
			line = strings.TrimRight(line, "\n")
			switch {
			case strings.HasPrefix(line, "event:"):
				name = strings.TrimPrefix(line, "event:")
			case strings.HasPrefix(line, "data:"):
				data = strings.TrimPrefix(line, "data:")
			case line == "" && name != "":
				return name, data
			}
		}
	}

	name, data := nextEvent()
	assert.Equal(t, "status", name)
	assert.Contains(t, data, `"is_connected":true`)

	require.NoError(t, broker.Publish(ctx, messaging.TopicStoreEvents, model.StoreEvent{
		Type:           model.StoreEventRead,
		NotificationID: 2,
	}))
	name, data = nextEvent()
	assert.Equal(t, "store", name)
	assert.JSONEq(t, `{"type":"notification_read","notification_id":2,"unread_count":0}`, data)

	require.NoError(t, broker.Publish(ctx, messaging.TopicToasts, model.Toast{ID: "t-1", NotificationID: 3}))
	name, data = nextEvent()
	assert.Equal(t, "toast", name)
	assert.Contains(t, data, `"id":"t-1"`)
}
