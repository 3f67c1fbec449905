package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"messaging-service/internal/identity"
	"messaging-service/internal/messaging"
	"messaging-service/internal/models"
)

// respondError writes err with the status its taxonomy class maps to.
// Permission and validation messages are passed through verbatim.
func respondError(c *gin.Context, err error) {
	status, msg := http.StatusInternalServerError, "internal error"
	switch {
	case errors.Is(err, messaging.ErrUnauthenticated):
		status, msg = http.StatusUnauthorized, "unauthenticated"
	case errors.Is(err, messaging.ErrPermission):
		status, msg = http.StatusForbidden, err.Error()
	case errors.Is(err, messaging.ErrValidation):
		status, msg = http.StatusBadRequest, err.Error()
	case errors.Is(err, messaging.ErrNotFound):
		status, msg = http.StatusNotFound, err.Error()
	case errors.Is(err, messaging.ErrConflict):
		status, msg = http.StatusConflict, "conflicting update, try again"
	case errors.Is(err, messaging.ErrTimeout):
		status, msg = http.StatusGatewayTimeout, "request timed out, try again"
	case errors.Is(err, messaging.ErrUnavailable):
		status, msg = http.StatusServiceUnavailable, "service unavailable, try again"
	}

	body := gin.H{"error": msg}
	if messaging.Retryable(err) || status == http.StatusConflict {
		body["retryable"] = true
	}
	c.JSON(status, body)
}

// currentUserID returns the verified caller or writes a 401.
func currentUserID(c *gin.Context) (string, bool) {
	if u, err := identity.CurrentUser(c.Request.Context()); err == nil {
		return u.ID, true
	}
	if id := c.GetString("userID"); id != "" {
		return id, true
	}
	respondError(c, messaging.ErrUnauthenticated)
	return "", false
}

// requireMember writes a 403 unless the caller is an active participant.
func requireMember(c *gin.Context, roles RoleChecker, conversationID, userID string) bool {
	ok, err := roles.HasRole(c.Request.Context(), conversationID, userID, models.RoleMember)
	if err != nil {
		respondError(c, err)
		return false
	}
	if !ok {
		c.JSON(http.StatusForbidden, gin.H{"error": "not a conversation member"})
		return false
	}
	return true
}
