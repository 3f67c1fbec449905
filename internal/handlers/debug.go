package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"messaging-service/internal/telemetry"
)

// SubscriptionStats reports live subscriber counts per topic.
type SubscriptionStats interface {
	Stats() map[string]int
}

// SocketStats reports open websocket connections.
type SocketStats interface {
	Stats() map[string]int
	UserConnections(userID string) int
}

// RegisterDebugRoutes wires debug-only endpoints.
func RegisterDebugRoutes(router gin.IRouter, emitter *telemetry.AuditEmitter, bus SubscriptionStats, sockets SocketStats, enabled bool) {
	if !enabled {
		return
	}

	router.GET("/debug/audit-test", func(c *gin.Context) {
		if emitter == nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "audit emitter not configured"})
			return
		}
		emitAudit(c, emitter, telemetry.AuditRecord{Action: telemetry.ActionAuditTest, Detail: "audit test"})
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	router.GET("/debug/subscriptions", func(c *gin.Context) {
		if bus == nil || sockets == nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "event bus not configured"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"topics": bus.Stats(), "sockets": sockets.Stats()})
	})

	router.GET("/debug/sockets/:user_id", func(c *gin.Context) {
		if sockets == nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "socket hub not configured"})
			return
		}
		userID := c.Param("user_id")
		c.JSON(http.StatusOK, gin.H{"user_id": userID, "connections": sockets.UserConnections(userID)})
	})
}
