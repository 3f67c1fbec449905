package handlers

import (
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"messaging-service/internal/identity"
	"messaging-service/internal/mocks"
	"messaging-service/internal/telemetry"
)

func TestAuditActorComesFromVerifiedIdentity(t *testing.T) {
	gin.SetMode(gin.TestMode)
	broker := new(mocks.BrokerMock)
	broker.On("Publish", mock.Anything, "audit", mock.Anything).Return(nil)
	audit := telemetry.NewAuditEmitter(broker, "audit", "messaging-service", "test", slog.Default())
	convs := new(mocks.ConversationServiceMock)
	convs.On("RemoveParticipant", mock.Anything, "owner", "g1", "u2").Return(nil)

	r := gin.New()
	r.Use(func(c *gin.Context) {
		if c.Query("verified") == "true" {
			c.Request = c.Request.WithContext(identity.WithUser(c.Request.Context(), identity.User{ID: "owner"}))
		}
		c.Set("userID", "owner")
		c.Next()
	})
	r.DELETE("/conversations/:id/participants/:user_id", NewConversationHandler(convs, nil, audit).RemoveParticipant)

	for _, verified := range []string{"true", "false"} {
		req := httptest.NewRequest(http.MethodDelete, "/conversations/g1/participants/u2?verified="+verified, nil)
		req.Header.Set("X-User-ID", "mallory")
		req.Header.Set("X-Request-ID", "req-"+verified)
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, req)
		require.Equal(t, http.StatusNoContent, rec.Code)
	}

	routed := broker.Routed("audit")
	require.Len(t, routed, 2)

	withIdentity := routed[0].(telemetry.AuditEnvelope)
	assert.Equal(t, "owner", withIdentity.ActorID)
	assert.Equal(t, "req-true", withIdentity.RequestID)
	assert.Equal(t, telemetry.ActionParticipantRemoved, withIdentity.Payload.Action)
	assert.Equal(t, "g1", withIdentity.Payload.ConversationID)
	assert.Equal(t, "u2", withIdentity.Payload.TargetUserID)

	headerOnly := routed[1].(telemetry.AuditEnvelope)
	assert.Empty(t, headerOnly.ActorID)
}
