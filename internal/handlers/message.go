package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"messaging-service/internal/messaging"
	"messaging-service/internal/models"
	"messaging-service/internal/telemetry"
)

const defaultPageSize = 50

// MessageHandler serves message reads, writes and reactions.
type MessageHandler struct {
	messages MessageService
	roles    RoleChecker
	audit    *telemetry.AuditEmitter
}

// NewMessageHandler builds a MessageHandler.
func NewMessageHandler(messages MessageService, roles RoleChecker, audit *telemetry.AuditEmitter) *MessageHandler {
	return &MessageHandler{messages: messages, roles: roles, audit: audit}
}

// ListMessages returns one page of a conversation, oldest first within the page.
func (h *MessageHandler) ListMessages(c *gin.Context) {
	query := struct {
		Page     int `form:"page"`
		PageSize int `form:"page_size"`
	}{PageSize: defaultPageSize}
	if err := c.ShouldBindQuery(&query); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	userID, ok := currentUserID(c)
	if !ok {
		return
	}

	conversationID := c.Param("id")
	if !requireMember(c, h.roles, conversationID, userID) {
		return
	}

	msgs, err := h.messages.FetchPage(c.Request.Context(), conversationID, query.Page, query.PageSize)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"messages": msgs, "page": query.Page, "page_size": query.PageSize})
}

// PostMessage sends a message as the caller.
func (h *MessageHandler) PostMessage(c *gin.Context) {
	var req struct {
		Content          *string            `json:"content"`
		Kind             models.MessageKind `json:"kind"`
		FileRef          *string            `json:"file_ref"`
		FileName         *string            `json:"file_name"`
		FileSize         *int64             `json:"file_size"`
		IsHidden         bool               `json:"is_hidden"`
		IsAnonymous      bool               `json:"is_anonymous"`
		ReplyToMessageID *string            `json:"reply_to_message_id"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	userID, ok := currentUserID(c)
	if !ok {
		return
	}

	msg, err := h.messages.Send(c.Request.Context(), messaging.SendInput{
		ConversationID:   c.Param("id"),
		SenderID:         userID,
		Content:          req.Content,
		Kind:             req.Kind,
		FileRef:          req.FileRef,
		FileName:         req.FileName,
		FileSize:         req.FileSize,
		IsHidden:         req.IsHidden,
		IsAnonymous:      req.IsAnonymous,
		ReplyToMessageID: req.ReplyToMessageID,
	})
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"message": msg})
}

// SearchMessages runs a full-text query inside one conversation.
func (h *MessageHandler) SearchMessages(c *gin.Context) {
	var query struct {
		Q     string `form:"q" binding:"required"`
		Limit int    `form:"limit"`
	}
	if err := c.ShouldBindQuery(&query); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	userID, ok := currentUserID(c)
	if !ok {
		return
	}

	conversationID := c.Param("id")
	if !requireMember(c, h.roles, conversationID, userID) {
		return
	}

	msgs, err := h.messages.Search(c.Request.Context(), conversationID, query.Q, query.Limit)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"messages": msgs})
}

// EditMessage replaces the content of the caller's message.
func (h *MessageHandler) EditMessage(c *gin.Context) {
	var req struct {
		Content string `json:"content" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	userID, ok := currentUserID(c)
	if !ok {
		return
	}

	msg, err := h.messages.Edit(c.Request.Context(), c.Param("id"), userID, req.Content)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": msg})
}

// DeleteMessage tombstones the caller's message.
func (h *MessageHandler) DeleteMessage(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		return
	}

	msg, err := h.messages.SoftDelete(c.Request.Context(), c.Param("id"), userID)
	if err != nil {
		respondError(c, err)
		return
	}

	emitAudit(c, h.audit, telemetry.AuditRecord{
		Action:         telemetry.ActionMessageDeleted,
		ConversationID: msg.ConversationID,
		MessageID:      msg.ID,
	})
	c.JSON(http.StatusOK, gin.H{"message": msg})
}

// AddReaction adds the caller's emoji.
func (h *MessageHandler) AddReaction(c *gin.Context) {
	var req struct {
		Emoji string `json:"emoji" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	userID, ok := currentUserID(c)
	if !ok {
		return
	}

	r, err := h.messages.React(c.Request.Context(), c.Param("id"), userID, req.Emoji)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"reaction": r})
}

// RemoveReaction removes the caller's emoji.
func (h *MessageHandler) RemoveReaction(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		return
	}

	if err := h.messages.Unreact(c.Request.Context(), c.Param("id"), userID, c.Param("emoji")); err != nil {
		respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// ListReactions returns all reactions on a message.
func (h *MessageHandler) ListReactions(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		return
	}

	rs, err := h.messages.Reactions(c.Request.Context(), c.Param("id"), userID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"reactions": rs})
}
