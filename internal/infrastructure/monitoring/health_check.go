package monitoring

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

// ConnectionCounter reports the number of open websocket connections. The
// session gateway implements it.
type ConnectionCounter interface {
	ConnectionCount() int
}

type HealthHandler struct {
	startedAt   time.Time
	connections ConnectionCounter
}

func NewHealthHandler(connections ConnectionCounter) *HealthHandler {
	return &HealthHandler{
		startedAt:   time.Now(),
		connections: connections,
	}
}

func (h *HealthHandler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":         "healthy",
		"timestamp":      time.Now().Unix(),
		"uptime_seconds": int(time.Since(h.startedAt).Seconds()),
		"connections":    h.connections.ConnectionCount(),
	})
}
