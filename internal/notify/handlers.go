package notify

import (
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/aurax/trading-engine/pkg/response"
)

// GinHandlers contains HTTP handlers for the notification feed
type GinHandlers struct {
	notifier *Notifier
}

// NewGinHandlers creates a new set of HTTP handlers for notifications
func NewGinHandlers(notifier *Notifier) *GinHandlers {
	return &GinHandlers{notifier: notifier}
}

// ListNotificationsHandler handles GET requests for the dashboard
// notification feed. Query parameter: limit (default 50).
func (h *GinHandlers) ListNotificationsHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		limit := 50
		if raw := c.Query("limit"); raw != "" {
			if n, err := strconv.Atoi(raw); err == nil && n > 0 {
				limit = n
			}
		}

		entries, err := h.notifier.Recent(limit)
		if err != nil {
			response.InternalError(c, err.Error())
			return
		}
		response.Success(c, entries)
	}
}
