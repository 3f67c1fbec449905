package handlers

import (
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"

	"messaging-service/internal/messaging"
	"messaging-service/internal/models"
	"messaging-service/internal/telemetry"
)

// ConversationHandler serves the conversation directory and read receipts.
type ConversationHandler struct {
	conversations ConversationService
	receipts      ReceiptService
	audit         *telemetry.AuditEmitter
}

// NewConversationHandler builds a ConversationHandler.
func NewConversationHandler(conversations ConversationService, receipts ReceiptService, audit *telemetry.AuditEmitter) *ConversationHandler {
	return &ConversationHandler{conversations: conversations, receipts: receipts, audit: audit}
}

// ListConversations returns the caller's inbox.
func (h *ConversationHandler) ListConversations(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		return
	}

	list, err := h.conversations.ListConversationsForUser(c.Request.Context(), userID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"conversations": list})
}

// StartDirect finds or creates the direct conversation with another user.
func (h *ConversationHandler) StartDirect(c *gin.Context) {
	var req struct {
		UserID string `json:"user_id" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	userID, ok := currentUserID(c)
	if !ok {
		return
	}

	conv, err := h.conversations.GetOrCreateDirectConversation(c.Request.Context(), userID, req.UserID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"conversation": conv})
}

// CreateGroup creates a group conversation owned by the caller.
func (h *ConversationHandler) CreateGroup(c *gin.Context) {
	var req struct {
		Name        string   `json:"name" binding:"required"`
		Description *string  `json:"description"`
		AvatarRef   *string  `json:"avatar_ref"`
		IsPrivate   bool     `json:"is_private"`
		MemberIDs   []string `json:"member_ids" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	userID, ok := currentUserID(c)
	if !ok {
		return
	}

	conv, err := h.conversations.CreateGroupConversation(c.Request.Context(), messaging.CreateGroupInput{
		CreatorID:   userID,
		Name:        req.Name,
		Description: req.Description,
		AvatarRef:   req.AvatarRef,
		IsPrivate:   req.IsPrivate,
		MemberIDs:   req.MemberIDs,
	})
	if err != nil {
		respondError(c, err)
		return
	}

	emitAudit(c, h.audit, telemetry.AuditRecord{
		Action:         telemetry.ActionGroupCreated,
		ConversationID: conv.ID,
		Detail:         fmt.Sprintf("%d members", len(req.MemberIDs)),
	})
	c.JSON(http.StatusCreated, gin.H{"conversation": conv})
}

// GetConversation returns a conversation with its participants.
func (h *ConversationHandler) GetConversation(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		return
	}

	details, err := h.conversations.GetConversationDetails(c.Request.Context(), userID, c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"conversation": details})
}

// AddParticipant adds a user to a group.
func (h *ConversationHandler) AddParticipant(c *gin.Context) {
	var req struct {
		UserID string      `json:"user_id" binding:"required"`
		Role   models.Role `json:"role"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	actorID, ok := currentUserID(c)
	if !ok {
		return
	}

	conversationID := c.Param("id")
	p, err := h.conversations.AddParticipant(c.Request.Context(), actorID, conversationID, req.UserID, req.Role)
	if err != nil {
		respondError(c, err)
		return
	}

	emitAudit(c, h.audit, telemetry.AuditRecord{
		Action:         telemetry.ActionParticipantAdded,
		ConversationID: conversationID,
		TargetUserID:   req.UserID,
		Role:           string(p.Role),
	})
	c.JSON(http.StatusOK, gin.H{"participant": p})
}

// RemoveParticipant soft-removes a user from a group.
func (h *ConversationHandler) RemoveParticipant(c *gin.Context) {
	actorID, ok := currentUserID(c)
	if !ok {
		return
	}

	conversationID, userID := c.Param("id"), c.Param("user_id")
	if err := h.conversations.RemoveParticipant(c.Request.Context(), actorID, conversationID, userID); err != nil {
		respondError(c, err)
		return
	}

	emitAudit(c, h.audit, telemetry.AuditRecord{
		Action:         telemetry.ActionParticipantRemoved,
		ConversationID: conversationID,
		TargetUserID:   userID,
	})
	c.Status(http.StatusNoContent)
}

// Leave removes the caller from a group.
func (h *ConversationHandler) Leave(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		return
	}

	conversationID := c.Param("id")
	if err := h.conversations.LeaveConversation(c.Request.Context(), userID, conversationID); err != nil {
		respondError(c, err)
		return
	}

	emitAudit(c, h.audit, telemetry.AuditRecord{
		Action:         telemetry.ActionParticipantLeft,
		ConversationID: conversationID,
		TargetUserID:   userID,
	})
	c.Status(http.StatusNoContent)
}

// MarkRead moves the caller's read watermark to now.
func (h *ConversationHandler) MarkRead(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		return
	}

	at, err := h.receipts.MarkRead(c.Request.Context(), c.Param("id"), userID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"last_read_at": at, "unread_count": 0})
}

// UnreadCount returns the caller's unread count.
func (h *ConversationHandler) UnreadCount(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		return
	}

	n, err := h.receipts.UnreadCount(c.Request.Context(), c.Param("id"), userID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"unread_count": n})
}
