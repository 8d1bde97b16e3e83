package notification

import (
	"context"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/jwalitptl/restaurant-notify/internal/channel"
	"github.com/jwalitptl/restaurant-notify/internal/model"
	notificationService "github.com/jwalitptl/restaurant-notify/internal/service/notification"
	"github.com/jwalitptl/restaurant-notify/pkg/errors"
	"github.com/jwalitptl/restaurant-notify/pkg/httputil"
	"github.com/jwalitptl/restaurant-notify/pkg/logger"
	"github.com/jwalitptl/restaurant-notify/pkg/messaging"
)

type Store interface {
	Notifications() []model.NotificationRecord
	UnreadCount() int
	State() notificationService.State
	LoadInitial(ctx context.Context) error
	MarkRead(ctx context.Context, id int64) error
	MarkAllRead(ctx context.Context) error
	Remove(ctx context.Context, id int64) error
}

type Channel interface {
	IsConnected() bool
	State() channel.State
	ReconnectAttempt() int
	Enabled() bool
	SetEnabled(ctx context.Context, enabled bool) error
}

type Subscriber interface {
	Subscribe(ctx context.Context, channel string) (<-chan []byte, error)
}

type Handler struct {
	store     Store
	channel   Channel
	events    Subscriber
	logger    *logger.Logger
	keepAlive time.Duration
	now       func() time.Time
}

func NewHandler(store Store, ch Channel, events Subscriber, logger *logger.Logger) *Handler {
	return &Handler{
		store:     store,
		channel:   ch,
		events:    events,
		logger:    logger.Component("notification_handler"),
		keepAlive: 15 * time.Second,
		now:       time.Now,
	}
}

func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	notifications := r.Group("/notifications")
	{
		notifications.GET("", h.List)
		notifications.GET("/unread-count", h.UnreadCount)
		notifications.GET("/status", h.Status)
		notifications.GET("/stream", h.Stream)
		notifications.POST("/read-all", h.MarkAllRead)
		notifications.POST("/reload", h.Reload)
		notifications.POST("/channel", h.SetChannel)
		notifications.POST("/:id/read", h.MarkRead)
		notifications.DELETE("/:id", h.Remove)
	}
}

type listResponse struct {
	Notifications []model.NotificationView `json:"notifications"`
	UnreadCount   int                      `json:"unread_count"`
	State         string                   `json:"state"`
}

type statusResponse struct {
	IsConnected      bool   `json:"is_connected"`
	State            string `json:"state"`
	Enabled          bool   `json:"enabled"`
	ReconnectAttempt int    `json:"reconnect_attempt"`
	StoreState       string `json:"store_state"`
}

type setChannelRequest struct {
	Enabled *bool `json:"enabled" binding:"required"`
}

func (h *Handler) List(c *gin.Context) {
	unreadOnly, _ := strconv.ParseBool(c.Query("unread"))
	now := h.now()

	// no stale list while (re)loading
	state := h.store.State()
	var records []model.NotificationRecord
	if state == notificationService.StateReady {
		records = h.store.Notifications()
	}
	views := make([]model.NotificationView, 0, len(records))
	for _, rec := range records {
		if unreadOnly && rec.IsRead {
			continue
		}
		views = append(views, model.NewNotificationView(rec, now))
	}

	httputil.RespondWithSuccess(c, listResponse{
		Notifications: views,
		UnreadCount:   h.store.UnreadCount(),
		State:         state.String(),
	})
}

func (h *Handler) UnreadCount(c *gin.Context) {
	httputil.RespondWithSuccess(c, gin.H{"count": h.store.UnreadCount()})
}

func (h *Handler) MarkRead(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}
	if err := h.store.MarkRead(c.Request.Context(), id); err != nil {
		httputil.RespondWithError(c, err)
		return
	}
	httputil.RespondWithSuccess(c, gin.H{"unread_count": h.store.UnreadCount()})
}

func (h *Handler) MarkAllRead(c *gin.Context) {
	if err := h.store.MarkAllRead(c.Request.Context()); err != nil {
		httputil.RespondWithError(c, err)
		return
	}
	httputil.RespondWithSuccess(c, gin.H{"unread_count": h.store.UnreadCount()})
}

func (h *Handler) Remove(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}
	if err := h.store.Remove(c.Request.Context(), id); err != nil {
		httputil.RespondWithError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// Reload re-runs the initial load. A failed fetch leaves the store empty but
// ready; the error is reported as 503.
func (h *Handler) Reload(c *gin.Context) {
	if err := h.store.LoadInitial(c.Request.Context()); err != nil {
		httputil.RespondWithError(c, errors.Unavailable("notification backend", err))
		return
	}
	h.List(c)
}

func (h *Handler) Status(c *gin.Context) {
	httputil.RespondWithSuccess(c, h.status())
}

func (h *Handler) status() statusResponse {
	return statusResponse{
		IsConnected:      h.channel.IsConnected(),
		State:            h.channel.State().String(),
		Enabled:          h.channel.Enabled(),
		ReconnectAttempt: h.channel.ReconnectAttempt(),
		StoreState:       h.store.State().String(),
	}
}

// SetChannel turns the push channel on or off, e.g. on login and logout.
// Enabling also resets an exhausted reconnect budget.
func (h *Handler) SetChannel(c *gin.Context) {
	var req setChannelRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		httputil.RespondWithError(c, errors.BadRequest("enabled is required", err))
		return
	}

	// the dial outlives the request
	ctx := context.WithoutCancel(c.Request.Context())
	if err := h.channel.SetEnabled(ctx, *req.Enabled); err != nil {
		h.logger.Warn("Push channel did not connect", "error", err.Error())
	}
	httputil.RespondWithSuccess(c, h.status())
}

// Stream relays store events and toasts as server-sent events until the
// client goes away.
func (h *Handler) Stream(c *gin.Context) {
	ctx := c.Request.Context()

	storeEvents, err := h.events.Subscribe(ctx, messaging.TopicStoreEvents)
	if err != nil {
		httputil.RespondWithError(c, errors.Unavailable("event stream", err))
		return
	}
	toasts, err := h.events.Subscribe(ctx, messaging.TopicToasts)
	if err != nil {
		httputil.RespondWithError(c, errors.Unavailable("event stream", err))
		return
	}

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")

	ticker := time.NewTicker(h.keepAlive)
	defer ticker.Stop()

	// request-scoped when RequestID ran, a no-op otherwise
	reqLog := zerolog.Ctx(ctx)
	reqLog.Info().Msg("Event stream consumer attached")
	defer func() { reqLog.Info().Msg("Event stream consumer detached") }()

	c.SSEvent("status", h.status())
	c.Writer.Flush()

	c.Stream(func(w io.Writer) bool {
		select {
		case <-ctx.Done():
			return false
		case msg, ok := <-storeEvents:
			if !ok {
				return false
			}
			c.SSEvent("store", string(msg))
		case msg, ok := <-toasts:
			if !ok {
				return false
			}
			c.SSEvent("toast", string(msg))
		case <-ticker.C:
			c.SSEvent("status", h.status())
		}
		return true
	})
}

func parseID(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		httputil.RespondWithError(c, errors.BadRequest("invalid notification ID", err))
		return 0, false
	}
	return id, true
}
