package handlers

import (
	"context"
	"time"

	"messaging-service/internal/messaging"
	"messaging-service/internal/models"
)

// ConversationService is the directory surface the HTTP layer needs.
type ConversationService interface {
	GetOrCreateDirectConversation(ctx context.Context, userA, userB string) (models.Conversation, error)
	CreateGroupConversation(ctx context.Context, in messaging.CreateGroupInput) (models.Conversation, error)
	AddParticipant(ctx context.Context, actorID, conversationID, userID string, role models.Role) (models.Participant, error)
	RemoveParticipant(ctx context.Context, actorID, conversationID, userID string) error
	LeaveConversation(ctx context.Context, userID, conversationID string) error
	ListConversationsForUser(ctx context.Context, userID string) ([]models.ConversationSummary, error)
	GetConversationDetails(ctx context.Context, viewerID, conversationID string) (models.ConversationDetails, error)
}

// MessageService is the message store surface the HTTP layer needs.
type MessageService interface {
	Send(ctx context.Context, in messaging.SendInput) (models.Message, error)
	FetchPage(ctx context.Context, conversationID string, page, pageSize int) ([]models.Message, error)
	Edit(ctx context.Context, messageID, editorID, content string) (models.Message, error)
	SoftDelete(ctx context.Context, messageID, requesterID string) (models.Message, error)
	Search(ctx context.Context, conversationID, query string, limit int) ([]models.Message, error)
	React(ctx context.Context, messageID, userID, emoji string) (models.Reaction, error)
	Unreact(ctx context.Context, messageID, userID, emoji string) error
	Reactions(ctx context.Context, messageID, viewerID string) ([]models.Reaction, error)
}

// ReceiptService is the read ledger surface.
type ReceiptService interface {
	MarkRead(ctx context.Context, conversationID, userID string) (time.Time, error)
	UnreadCount(ctx context.Context, conversationID, userID string) (int, error)
}

// PresenceService is the presence tracker surface.
type PresenceService interface {
	SetPresence(ctx context.Context, userID string, isOnline bool, status models.PresenceStatus) (models.UserPresence, error)
	GetOnlineUsers(ctx context.Context) ([]models.UserPresence, error)
	GetLiveUsers(ctx context.Context) ([]models.UserPresence, error)
	GetPresence(ctx context.Context, userID string) (models.UserPresence, bool, error)
}

// RoleChecker gates reads on membership.
type RoleChecker interface {
	HasRole(ctx context.Context, conversationID, userID string, minRole models.Role) (bool, error)
}
