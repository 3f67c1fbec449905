package handlers

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"messaging-service/internal/messaging"
	"messaging-service/internal/mocks"
	"messaging-service/internal/models"
)

func setupConversationRouter(handler *ConversationHandler) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(func(c *gin.Context) {
		c.Set("userID", "u1")
		c.Next()
	})
	r.GET("/conversations", handler.ListConversations)
	r.POST("/conversations/direct", handler.StartDirect)
	r.POST("/conversations/group", handler.CreateGroup)
	r.GET("/conversations/:id", handler.GetConversation)
	r.POST("/conversations/:id/participants", handler.AddParticipant)
	r.DELETE("/conversations/:id/participants/:user_id", handler.RemoveParticipant)
	r.POST("/conversations/:id/leave", handler.Leave)
	r.POST("/conversations/:id/read", handler.MarkRead)
	r.GET("/conversations/:id/unread", handler.UnreadCount)
	return r
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var resp map[string]any
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	return resp
}

func TestListConversationsSuccess(t *testing.T) {
	convs := new(mocks.ConversationServiceMock)
	router := setupConversationRouter(NewConversationHandler(convs, nil, nil))

	convs.On("ListConversationsForUser", mock.Anything, "u1").Return([]models.ConversationSummary{
		{Conversation: models.Conversation{ID: "c1", Kind: models.ConversationDirect}, UnreadCount: 2},
	}, nil).Once()

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/conversations", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	resp := decodeBody(t, rec)
	list := resp["conversations"].([]any)
	require.Len(t, list, 1)
	assert.Equal(t, float64(2), list[0].(map[string]any)["unread_count"])
	convs.AssertExpectations(t)
}

func TestListConversationsUnavailableIsRetryable(t *testing.T) {
	convs := new(mocks.ConversationServiceMock)
	router := setupConversationRouter(NewConversationHandler(convs, nil, nil))

	convs.On("ListConversationsForUser", mock.Anything, "u1").
		Return(nil, fmt.Errorf("list: %w", messaging.ErrUnavailable)).Once()

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/conversations", nil))

	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, true, decodeBody(t, rec)["retryable"])
}

func TestStartDirect(t *testing.T) {
	convs := new(mocks.ConversationServiceMock)
	router := setupConversationRouter(NewConversationHandler(convs, nil, nil))

	convs.On("GetOrCreateDirectConversation", mock.Anything, "u1", "u2").
		Return(models.Conversation{ID: "c9", Kind: models.ConversationDirect}, nil).Once()

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/conversations/direct", bytes.NewBufferString(`{"user_id":"u2"}`))
	req.Header.Set("Content-Type", "application/json")
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "c9", decodeBody(t, rec)["conversation"].(map[string]any)["id"])
	convs.AssertExpectations(t)
}

func TestStartDirectBadRequest(t *testing.T) {
	convs := new(mocks.ConversationServiceMock)
	router := setupConversationRouter(NewConversationHandler(convs, nil, nil))

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/conversations/direct", bytes.NewBufferString(`{}`))
	req.Header.Set("Content-Type", "application/json")
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusBadRequest, rec.Code)
	convs.AssertNotCalled(t, "GetOrCreateDirectConversation", mock.Anything, mock.Anything, mock.Anything)
}

func TestCreateGroup(t *testing.T) {
	convs := new(mocks.ConversationServiceMock)
	router := setupConversationRouter(NewConversationHandler(convs, nil, nil))

	convs.On("CreateGroupConversation", mock.Anything, mock.MatchedBy(func(in messaging.CreateGroupInput) bool {
		return in.CreatorID == "u1" && in.Name == "Book Club" && len(in.MemberIDs) == 2 && in.IsPrivate
	})).Return(models.Conversation{ID: "g1", Kind: models.ConversationGroup}, nil).Once()

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/conversations/group",
		bytes.NewBufferString(`{"name":"Book Club","is_private":true,"member_ids":["u2","u3"]}`))
	req.Header.Set("Content-Type", "application/json")
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusCreated, rec.Code)
	convs.AssertExpectations(t)
}

func TestCreateGroupValidationError(t *testing.T) {
	convs := new(mocks.ConversationServiceMock)
	router := setupConversationRouter(NewConversationHandler(convs, nil, nil))

	convs.On("CreateGroupConversation", mock.Anything, mock.Anything).
		Return(nil, fmt.Errorf("create group: %w: creator listed as member", messaging.ErrValidation)).Once()

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/conversations/group",
		bytes.NewBufferString(`{"name":"x","member_ids":["u1"]}`))
	req.Header.Set("Content-Type", "application/json")
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, decodeBody(t, rec)["error"], "creator listed as member")
}

func TestGetConversationPermissionDenied(t *testing.T) {
	convs := new(mocks.ConversationServiceMock)
	router := setupConversationRouter(NewConversationHandler(convs, nil, nil))

	convs.On("GetConversationDetails", mock.Anything, "u1", "c1").
		Return(nil, fmt.Errorf("details: %w", messaging.ErrPermission)).Once()

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/conversations/c1", nil))

	require.Equal(t, http.StatusForbidden, rec.Code)
	_, retryable := decodeBody(t, rec)["retryable"]
	assert.False(t, retryable)
}

func TestAddParticipant(t *testing.T) {
	convs := new(mocks.ConversationServiceMock)
	router := setupConversationRouter(NewConversationHandler(convs, nil, nil))

	convs.On("AddParticipant", mock.Anything, "u1", "g1", "u4", models.RoleModerator).
		Return(models.Participant{ConversationID: "g1", UserID: "u4", Role: models.RoleModerator, IsActive: true}, nil).Once()

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/conversations/g1/participants",
		bytes.NewBufferString(`{"user_id":"u4","role":"moderator"}`))
	req.Header.Set("Content-Type", "application/json")
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	convs.AssertExpectations(t)
}

func TestRemoveParticipantNotFound(t *testing.T) {
	convs := new(mocks.ConversationServiceMock)
	router := setupConversationRouter(NewConversationHandler(convs, nil, nil))

	convs.On("RemoveParticipant", mock.Anything, "u1", "g1", "u9").
		Return(fmt.Errorf("remove: %w", messaging.ErrNotFound)).Once()

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodDelete, "/conversations/g1/participants/u9", nil))

	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestLeave(t *testing.T) {
	convs := new(mocks.ConversationServiceMock)
	router := setupConversationRouter(NewConversationHandler(convs, nil, nil))

	convs.On("LeaveConversation", mock.Anything, "u1", "g1").Return(nil).Once()

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/conversations/g1/leave", nil))

	require.Equal(t, http.StatusNoContent, rec.Code)
	convs.AssertExpectations(t)
}

func TestMarkReadAndUnreadCount(t *testing.T) {
	receipts := new(mocks.ReceiptServiceMock)
	router := setupConversationRouter(NewConversationHandler(nil, receipts, nil))

	at := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	receipts.On("MarkRead", mock.Anything, "c1", "u1").Return(at, nil).Once()
	receipts.On("UnreadCount", mock.Anything, "c1", "u1").Return(3, nil).Once()

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/conversations/c1/read", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "2026-01-02T03:04:05Z", decodeBody(t, rec)["last_read_at"])

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/conversations/c1/unread", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, float64(3), decodeBody(t, rec)["unread_count"])
	receipts.AssertExpectations(t)
}

func TestMissingUserIsUnauthenticated(t *testing.T) {
	gin.SetMode(gin.TestMode)
	convs := new(mocks.ConversationServiceMock)
	r := gin.New()
	r.GET("/conversations", NewConversationHandler(convs, nil, nil).ListConversations)

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/conversations", nil))

	require.Equal(t, http.StatusUnauthorized, rec.Code)
	convs.AssertNotCalled(t, "ListConversationsForUser", mock.Anything, mock.Anything)
}
