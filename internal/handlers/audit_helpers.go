package handlers

import (
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"messaging-service/internal/identity"
	"messaging-service/internal/telemetry"
)

const requestIDContextKey = "request_id"

func requestIDFromContext(c *gin.Context) string {
	if val, ok := c.Get(requestIDContextKey); ok {
		if id, ok := val.(string); ok && id != "" {
			return id
		}
	}

	requestID := c.GetHeader("X-Request-ID")
	if requestID == "" {
		requestID = uuid.NewString()
	}
	c.Set(requestIDContextKey, requestID)
	return requestID
}

// auditActor is the verified caller; headers are never consulted.
func auditActor(c *gin.Context) string {
	if u, err := identity.CurrentUser(c.Request.Context()); err == nil {
		return u.ID
	}
	return ""
}

func emitAudit(c *gin.Context, emitter *telemetry.AuditEmitter, rec telemetry.AuditRecord) {
	rec.ActorID = auditActor(c)
	emitter.Emit(c.Request.Context(), "INFO", requestIDFromContext(c), rec)
}
