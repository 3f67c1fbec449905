package rabbitmq

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"messaging-service/internal/mocks"
	"messaging-service/internal/realtime"
)

func TestRoutingKey(t *testing.T) {
	assert.Equal(t, "messages.c1", RoutingKey(realtime.MessagesTopic("c1")))
	assert.Equal(t, "presence", RoutingKey(realtime.PresenceTopic))
	assert.Equal(t, "conversations", RoutingKey(realtime.ConversationsTopic))
	assert.Equal(t, "plain", RoutingKey("plain"))
}

func TestEventRelayPublishesEnvelope(t *testing.T) {
	pub := new(mocks.BrokerMock)
	at := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	ev := realtime.Event{Topic: "messages:c1", Type: "message_inserted", Seq: 4, OccurredAt: at, Payload: "p"}

	pub.On("Publish", mock.Anything, "messages.c1", Envelope{
		Topic: "messages:c1", Type: "message_inserted", Seq: 4, OccurredAt: at, Payload: "p",
	}).Return(nil).Once()

	require.NoError(t, NewEventRelay(pub).Relay(context.Background(), ev))
	pub.AssertExpectations(t)
	assert.Len(t, pub.Routed("messages.c1"), 1)
}

func TestEventRelayReturnsPublishError(t *testing.T) {
	pub := new(mocks.BrokerMock)
	pub.On("Publish", mock.Anything, "presence", mock.Anything).Return(errors.New("closed")).Once()

	err := NewEventRelay(pub).Relay(context.Background(), realtime.Event{Topic: realtime.PresenceTopic})
	assert.Error(t, err)
	assert.Empty(t, pub.Routed("presence"))
}

func TestNoopPublisherWhenURLEmpty(t *testing.T) {
	p := NewPublisher("", "exchange", slog.Default())
	assert.Equal(t, "noop", PublisherMode(p))
	assert.Equal(t, "empty amqp url", PublisherNoopReason(p))
	assert.NoError(t, p.Publish(context.Background(), "k", map[string]string{"a": "b"}))
	assert.NoError(t, p.Close())
}
