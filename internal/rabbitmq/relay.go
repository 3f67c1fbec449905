package rabbitmq

import (
	"context"
	"strings"
	"time"

	"messaging-service/internal/realtime"
)

// Envelope is the broker representation of a bus event.
type Envelope struct {
	Topic      string    `json:"topic"`
	Type       string    `json:"type"`
	Seq        int64     `json:"seq,omitempty"`
	OccurredAt time.Time `json:"occurred_at"`
	Payload    any       `json:"payload"`
}

// EventRelay mirrors bus events onto the exchange.
type EventRelay struct {
	publisher Publisher
}

var _ realtime.Relay = (*EventRelay)(nil)

// NewEventRelay constructs an EventRelay.
func NewEventRelay(publisher Publisher) *EventRelay {
	return &EventRelay{publisher: publisher}
}

// Relay publishes ev under the routing key derived from its topic.
func (r *EventRelay) Relay(ctx context.Context, ev realtime.Event) error {
	return r.publisher.Publish(ctx, RoutingKey(ev.Topic), Envelope{
		Topic:      ev.Topic,
		Type:       ev.Type,
		Seq:        ev.Seq,
		OccurredAt: ev.OccurredAt,
		Payload:    ev.Payload,
	})
}

// RoutingKey maps "messages:<id>" to "messages.<id>" and wildcard topics to their kind.
func RoutingKey(topic string) string {
	kind, rest, ok := strings.Cut(topic, ":")
	if !ok {
		return topic
	}
	if rest == "*" || rest == "" {
		return kind
	}
	return kind + "." + rest
}
