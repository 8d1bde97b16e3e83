package health

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jmoiron/sqlx"

	"github.com/jwalitptl/restaurant-notify/internal/service/notification"
)

type StoreState interface {
	State() notification.State
}

type Handler struct {
	db    *sqlx.DB
	store StoreState
}

// NewHandler builds the health endpoints. db is nil when the agent keeps its
// state in memory.
func NewHandler(db *sqlx.DB, store StoreState) *Handler {
	return &Handler{
		db:    db,
		store: store,
	}
}

func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.GET("/health", h.LivenessCheck)
	health := r.Group("/health")
	{
		health.GET("/live", h.LivenessCheck)
		health.GET("/ready", h.ReadinessCheck)
	}
}

func (h *Handler) LivenessCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "UP"})
}

// ReadinessCheck is UP once the first load finished and storage answers.
func (h *Handler) ReadinessCheck(c *gin.Context) {
	if h.db != nil {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()
		if err := h.db.PingContext(ctx); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"status": "DOWN",
				"reason": "Database connection failed",
			})
			return
		}
	}

	if state := h.store.State(); state != notification.StateReady {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"status": "DOWN",
			"reason": "Notifications " + state.String(),
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "UP"})
}
