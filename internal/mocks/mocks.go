package mocks

import (
	"context"
	"time"

	"github.com/stretchr/testify/mock"

	"messaging-service/internal/messaging"
	"messaging-service/internal/models"
)

type ConversationServiceMock struct {
	mock.Mock
}

func (m *ConversationServiceMock) GetOrCreateDirectConversation(ctx context.Context, userA, userB string) (models.Conversation, error) {
	args := m.Called(ctx, userA, userB)
	var conv models.Conversation
	if val := args.Get(0); val != nil {
		conv = val.(models.Conversation)
	}
	return conv, args.Error(1)
}

func (m *ConversationServiceMock) CreateGroupConversation(ctx context.Context, in messaging.CreateGroupInput) (models.Conversation, error) {
	args := m.Called(ctx, in)
	var conv models.Conversation
	if val := args.Get(0); val != nil {
		conv = val.(models.Conversation)
	}
	return conv, args.Error(1)
}

func (m *ConversationServiceMock) AddParticipant(ctx context.Context, actorID, conversationID, userID string, role models.Role) (models.Participant, error) {
	args := m.Called(ctx, actorID, conversationID, userID, role)
	var p models.Participant
	if val := args.Get(0); val != nil {
		p = val.(models.Participant)
	}
	return p, args.Error(1)
}

func (m *ConversationServiceMock) RemoveParticipant(ctx context.Context, actorID, conversationID, userID string) error {
	args := m.Called(ctx, actorID, conversationID, userID)
	return args.Error(0)
}

func (m *ConversationServiceMock) LeaveConversation(ctx context.Context, userID, conversationID string) error {
	args := m.Called(ctx, userID, conversationID)
	return args.Error(0)
}

func (m *ConversationServiceMock) ListConversationsForUser(ctx context.Context, userID string) ([]models.ConversationSummary, error) {
	args := m.Called(ctx, userID)
	var list []models.ConversationSummary
	if val := args.Get(0); val != nil {
		list = val.([]models.ConversationSummary)
	}
	return list, args.Error(1)
}

func (m *ConversationServiceMock) GetConversationDetails(ctx context.Context, viewerID, conversationID string) (models.ConversationDetails, error) {
	args := m.Called(ctx, viewerID, conversationID)
	var details models.ConversationDetails
	if val := args.Get(0); val != nil {
		details = val.(models.ConversationDetails)
	}
	return details, args.Error(1)
}

type MessageServiceMock struct {
	mock.Mock
}

func (m *MessageServiceMock) Send(ctx context.Context, in messaging.SendInput) (models.Message, error) {
	args := m.Called(ctx, in)
	var msg models.Message
	if val := args.Get(0); val != nil {
		msg = val.(models.Message)
	}
	return msg, args.Error(1)
}

func (m *MessageServiceMock) FetchPage(ctx context.Context, conversationID string, page, pageSize int) ([]models.Message, error) {
	args := m.Called(ctx, conversationID, page, pageSize)
	var list []models.Message
	if val := args.Get(0); val != nil {
		list = val.([]models.Message)
	}
	return list, args.Error(1)
}

func (m *MessageServiceMock) LastSeq(ctx context.Context, conversationID string) (int64, error) {
	args := m.Called(ctx, conversationID)
	return args.Get(0).(int64), args.Error(1)
}

func (m *MessageServiceMock) Edit(ctx context.Context, messageID, editorID, content string) (models.Message, error) {
	args := m.Called(ctx, messageID, editorID, content)
	var msg models.Message
	if val := args.Get(0); val != nil {
		msg = val.(models.Message)
	}
	return msg, args.Error(1)
}

func (m *MessageServiceMock) SoftDelete(ctx context.Context, messageID, requesterID string) (models.Message, error) {
	args := m.Called(ctx, messageID, requesterID)
	var msg models.Message
	if val := args.Get(0); val != nil {
		msg = val.(models.Message)
	}
	return msg, args.Error(1)
}

func (m *MessageServiceMock) Search(ctx context.Context, conversationID, query string, limit int) ([]models.Message, error) {
	args := m.Called(ctx, conversationID, query, limit)
	var list []models.Message
	if val := args.Get(0); val != nil {
		list = val.([]models.Message)
	}
	return list, args.Error(1)
}

func (m *MessageServiceMock) React(ctx context.Context, messageID, userID, emoji string) (models.Reaction, error) {
	args := m.Called(ctx, messageID, userID, emoji)
	var r models.Reaction
	if val := args.Get(0); val != nil {
		r = val.(models.Reaction)
	}
	return r, args.Error(1)
}

func (m *MessageServiceMock) Unreact(ctx context.Context, messageID, userID, emoji string) error {
	args := m.Called(ctx, messageID, userID, emoji)
	return args.Error(0)
}

func (m *MessageServiceMock) Reactions(ctx context.Context, messageID, viewerID string) ([]models.Reaction, error) {
	args := m.Called(ctx, messageID, viewerID)
	var list []models.Reaction
	if val := args.Get(0); val != nil {
		list = val.([]models.Reaction)
	}
	return list, args.Error(1)
}

type ReceiptServiceMock struct {
	mock.Mock
}

func (m *ReceiptServiceMock) MarkRead(ctx context.Context, conversationID, userID string) (time.Time, error) {
	args := m.Called(ctx, conversationID, userID)
	var at time.Time
	if val := args.Get(0); val != nil {
		at = val.(time.Time)
	}
	return at, args.Error(1)
}

func (m *ReceiptServiceMock) UnreadCount(ctx context.Context, conversationID, userID string) (int, error) {
	args := m.Called(ctx, conversationID, userID)
	return args.Int(0), args.Error(1)
}

type PresenceServiceMock struct {
	mock.Mock
}

func (m *PresenceServiceMock) SetPresence(ctx context.Context, userID string, isOnline bool, status models.PresenceStatus) (models.UserPresence, error) {
	args := m.Called(ctx, userID, isOnline, status)
	var p models.UserPresence
	if val := args.Get(0); val != nil {
		p = val.(models.UserPresence)
	}
	return p, args.Error(1)
}

func (m *PresenceServiceMock) GetOnlineUsers(ctx context.Context) ([]models.UserPresence, error) {
	args := m.Called(ctx)
	var list []models.UserPresence
	if val := args.Get(0); val != nil {
		list = val.([]models.UserPresence)
	}
	return list, args.Error(1)
}

func (m *PresenceServiceMock) GetLiveUsers(ctx context.Context) ([]models.UserPresence, error) {
	args := m.Called(ctx)
	var list []models.UserPresence
	if val := args.Get(0); val != nil {
		list = val.([]models.UserPresence)
	}
	return list, args.Error(1)
}

func (m *PresenceServiceMock) GetPresence(ctx context.Context, userID string) (models.UserPresence, bool, error) {
	args := m.Called(ctx, userID)
	var p models.UserPresence
	if val := args.Get(0); val != nil {
		p = val.(models.UserPresence)
	}
	return p, args.Bool(1), args.Error(2)
}

type RoleCheckerMock struct {
	mock.Mock
}

func (m *RoleCheckerMock) HasRole(ctx context.Context, conversationID, userID string, minRole models.Role) (bool, error) {
	args := m.Called(ctx, conversationID, userID, minRole)
	return args.Bool(0), args.Error(1)
}
