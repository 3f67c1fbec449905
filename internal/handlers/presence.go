package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"messaging-service/internal/models"
)

// PresenceHandler serves heartbeats and the online list.
type PresenceHandler struct {
	presence PresenceService
}

// NewPresenceHandler builds a PresenceHandler.
func NewPresenceHandler(presence PresenceService) *PresenceHandler {
	return &PresenceHandler{presence: presence}
}

// UpdatePresence records a heartbeat for the caller.
func (h *PresenceHandler) UpdatePresence(c *gin.Context) {
	var req struct {
		IsOnline *bool                 `json:"is_online" binding:"required"`
		Status   models.PresenceStatus `json:"status"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	userID, ok := currentUserID(c)
	if !ok {
		return
	}

	p, err := h.presence.SetPresence(c.Request.Context(), userID, *req.IsOnline, req.Status)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"presence": p})
}

// OnlineUsers lists users that pass the liveness policy, or every row
// flagged online when raw=true.
func (h *PresenceHandler) OnlineUsers(c *gin.Context) {
	fetch := h.presence.GetLiveUsers
	if c.Query("raw") == "true" {
		fetch = h.presence.GetOnlineUsers
	}
	list, err := fetch(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"users": list})
}

// UserPresence returns one user's presence with its liveness verdict.
func (h *PresenceHandler) UserPresence(c *gin.Context) {
	p, live, err := h.presence.GetPresence(c.Request.Context(), c.Param("user_id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"presence": p, "live": live})
}
