package handlers

import (
	"net/http"

	"lottery-backend/internal/commitment"
	"lottery-backend/internal/services"

	"github.com/gin-gonic/gin"
)

// WebSocketHandler live bridge event stream
type WebSocketHandler struct {
	pushService *services.WebSocketPushService
}

// NewWebSocketHandler creates a new WebSocket handler
func NewWebSocketHandler(pushService *services.WebSocketPushService) *WebSocketHandler {
	return &WebSocketHandler{pushService: pushService}
}

// HandleEvents GET /ws/events[?commitment=0x..]. Without a commitment the
// subscriber follows every event; with one, only events about it.
func (h *WebSocketHandler) HandleEvents(c *gin.Context) {
	filter := c.Query("commitment")
	if filter != "" {
		cm, err := commitment.ParseCommitment(filter)
		if err != nil {
			badRequest(c, err)
			return
		}
		filter = cm.Hex()
	}
	h.pushService.HandleWebSocket(c.Writer, c.Request, filter)
}

// StatsHandler GET /api/ws/stats
func (h *WebSocketHandler) StatsHandler(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"success":            true,
		"active_connections": h.pushService.GetActiveConnections(),
	})
}
