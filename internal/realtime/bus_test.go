package realtime

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func collect(t *testing.T, bus *Bus, topic string) (Handle, <-chan Event) {
	t.Helper()
	ch := make(chan Event, 32)
	h, err := bus.Subscribe(topic, func(ev Event) { ch <- ev })
	require.NoError(t, err)
	return h, ch
}

func receive(t *testing.T, ch <-chan Event) Event {
	t.Helper()
	select {
	case ev := <-ch:
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event")
		return Event{}
	}
}

func assertSilent(t *testing.T, ch <-chan Event, wait time.Duration) {
	t.Helper()
	select {
	case ev := <-ch:
		t.Fatalf("unexpected event %+v", ev)
	case <-time.After(wait):
	}
}

func TestPublishDeliversToTopicSubscribersOnly(t *testing.T) {
	bus := NewBus(slog.Default())
	defer bus.Close()

	_, convA := collect(t, bus, MessagesTopic("a"))
	_, convB := collect(t, bus, MessagesTopic("b"))

	require.NoError(t, bus.Publish(context.Background(), MessagesTopic("a"), Event{Type: "message_inserted", Payload: "hello"}))

	ev := receive(t, convA)
	assert.Equal(t, "messages:a", ev.Topic)
	assert.Equal(t, "hello", ev.Payload)
	assert.False(t, ev.OccurredAt.IsZero())
	assertSilent(t, convB, 50*time.Millisecond)
}

func TestSubscribersObserveSameSequencedOrder(t *testing.T) {
	bus := NewBus(slog.Default(), WithReorderWindow(time.Minute))
	defer bus.Close()

	topic := MessagesTopic("c1")
	_, first := collect(t, bus, topic)
	_, second := collect(t, bus, topic)

	ctx := context.Background()
	for _, seq := range []int64{1, 3, 4, 2, 5} {
		require.NoError(t, bus.Publish(ctx, topic, Event{Type: "message_inserted", Seq: seq}))
	}

	for _, ch := range []<-chan Event{first, second} {
		for want := int64(1); want <= 5; want++ {
			assert.Equal(t, want, receive(t, ch).Seq)
		}
	}
}

func TestGapIsReleasedAfterReorderWindow(t *testing.T) {
	bus := NewBus(slog.Default(), WithReorderWindow(30*time.Millisecond))
	defer bus.Close()

	topic := MessagesTopic("gap")
	_, ch := collect(t, bus, topic)

	ctx := context.Background()
	require.NoError(t, bus.Publish(ctx, topic, Event{Seq: 1}))
	require.NoError(t, bus.Publish(ctx, topic, Event{Seq: 3}))

	assert.Equal(t, int64(1), receive(t, ch).Seq)
	assert.Equal(t, int64(3), receive(t, ch).Seq)

	// the missing event still reaches subscribers
	require.NoError(t, bus.Publish(ctx, topic, Event{Seq: 2}))
	assert.Equal(t, int64(2), receive(t, ch).Seq)
}

func TestSeededTopicHoldsEarlyArrival(t *testing.T) {
	bus := NewBus(slog.Default(), WithReorderWindow(time.Minute))
	defer bus.Close()

	topic := MessagesTopic("c1")
	ch := make(chan Event, 4)
	_, err := bus.SubscribeFrom(topic, 5, func(ev Event) { ch <- ev })
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, bus.Publish(ctx, topic, Event{Seq: 7}))
	require.NoError(t, bus.Publish(ctx, topic, Event{Seq: 6}))

	assert.Equal(t, int64(6), receive(t, ch).Seq)
	assert.Equal(t, int64(7), receive(t, ch).Seq)
}

func TestSeedOfZeroExpectsFirstSequence(t *testing.T) {
	bus := NewBus(slog.Default(), WithReorderWindow(time.Minute))
	defer bus.Close()

	topic := MessagesTopic("empty")
	ch := make(chan Event, 4)
	_, err := bus.SubscribeFrom(topic, 0, func(ev Event) { ch <- ev })
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, bus.Publish(ctx, topic, Event{Seq: 2}))
	assertSilent(t, ch, 50*time.Millisecond)
	require.NoError(t, bus.Publish(ctx, topic, Event{Seq: 1}))

	assert.Equal(t, int64(1), receive(t, ch).Seq)
	assert.Equal(t, int64(2), receive(t, ch).Seq)
}

func TestResubscribeKeepsSequenceAfterIdleDrop(t *testing.T) {
	bus := NewBus(slog.Default(), WithReorderWindow(time.Minute))
	defer bus.Close()

	topic := MessagesTopic("c1")
	ctx := context.Background()

	h, ch := collect(t, bus, topic)
	for seq := int64(1); seq <= 5; seq++ {
		require.NoError(t, bus.Publish(ctx, topic, Event{Seq: seq}))
		assert.Equal(t, seq, receive(t, ch).Seq)
	}
	bus.Unsubscribe(h)
	require.NotContains(t, bus.Stats(), topic)

	_, ch = collect(t, bus, topic)
	require.NoError(t, bus.Publish(ctx, topic, Event{Seq: 7}))
	require.NoError(t, bus.Publish(ctx, topic, Event{Seq: 6}))

	assert.Equal(t, int64(6), receive(t, ch).Seq)
	assert.Equal(t, int64(7), receive(t, ch).Seq)
}

func TestUnobservedPublishAdvancesSequence(t *testing.T) {
	bus := NewBus(slog.Default(), WithReorderWindow(time.Minute))
	defer bus.Close()

	topic := MessagesTopic("quiet")
	ctx := context.Background()
	require.NoError(t, bus.Publish(ctx, topic, Event{Seq: 3}))

	// the seed lags behind a commit published before anyone listened
	ch := make(chan Event, 4)
	_, err := bus.SubscribeFrom(topic, 2, func(ev Event) { ch <- ev })
	require.NoError(t, err)

	require.NoError(t, bus.Publish(ctx, topic, Event{Seq: 4}))
	assert.Equal(t, int64(4), receive(t, ch).Seq)
}

func TestUnsequencedEventsAreNotHeld(t *testing.T) {
	bus := NewBus(slog.Default(), WithReorderWindow(time.Minute))
	defer bus.Close()

	topic := MessagesTopic("mixed")
	_, ch := collect(t, bus, topic)

	ctx := context.Background()
	require.NoError(t, bus.Publish(ctx, topic, Event{Seq: 1}))
	require.NoError(t, bus.Publish(ctx, topic, Event{Seq: 3}))
	require.NoError(t, bus.Publish(ctx, topic, Event{Type: "message_edited"}))

	assert.Equal(t, int64(1), receive(t, ch).Seq)
	assert.Equal(t, "message_edited", receive(t, ch).Type)
}

func TestUnsubscribeIsIdempotentAndIsolated(t *testing.T) {
	bus := NewBus(slog.Default())
	defer bus.Close()

	topic := PresenceTopic
	gone, goneCh := collect(t, bus, topic)
	_, stayCh := collect(t, bus, topic)

	bus.Unsubscribe(gone)
	bus.Unsubscribe(gone)

	require.NoError(t, bus.Publish(context.Background(), topic, Event{Type: "presence_changed"}))

	assert.Equal(t, "presence_changed", receive(t, stayCh).Type)
	assertSilent(t, goneCh, 50*time.Millisecond)
	assert.Equal(t, 1, bus.Stats()[topic])
}

func TestIdleTopicIsForgotten(t *testing.T) {
	bus := NewBus(slog.Default())
	defer bus.Close()

	h, _ := collect(t, bus, ConversationsTopic)
	assert.Contains(t, bus.Stats(), ConversationsTopic)
	bus.Unsubscribe(h)
	assert.NotContains(t, bus.Stats(), ConversationsTopic)
}

func TestFullQueueDropsInsteadOfBlocking(t *testing.T) {
	bus := NewBus(slog.Default(), WithBufferSize(1))
	defer bus.Close()

	release := make(chan struct{})
	var mu sync.Mutex
	var delivered int
	_, err := bus.Subscribe(PresenceTopic, func(Event) {
		<-release
		mu.Lock()
		delivered++
		mu.Unlock()
	})
	require.NoError(t, err)

	done := make(chan struct{})
	go func() {
		for i := 0; i < 10; i++ {
			_ = bus.Publish(context.Background(), PresenceTopic, Event{Type: "presence_changed"})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("publish blocked on a slow subscriber")
	}
	close(release)

	time.Sleep(50 * time.Millisecond)
	mu.Lock()
	defer mu.Unlock()
	assert.Less(t, delivered, 10)
}

func TestHandlerPanicDoesNotKillSubscription(t *testing.T) {
	bus := NewBus(slog.Default())
	defer bus.Close()

	ch := make(chan Event, 4)
	_, err := bus.Subscribe(PresenceTopic, func(ev Event) {
		if ev.Type == "boom" {
			panic("boom")
		}
		ch <- ev
	})
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, bus.Publish(ctx, PresenceTopic, Event{Type: "boom"}))
	require.NoError(t, bus.Publish(ctx, PresenceTopic, Event{Type: "ok"}))
	assert.Equal(t, "ok", receive(t, ch).Type)
}

type failingRelay struct{ calls int }

func (r *failingRelay) Relay(context.Context, Event) error {
	r.calls++
	return errors.New("broker down")
}

func TestRelayErrorIsReturnedAfterLocalDelivery(t *testing.T) {
	relay := &failingRelay{}
	bus := NewBus(slog.Default(), WithRelay(relay))
	defer bus.Close()

	_, ch := collect(t, bus, MessagesTopic("r"))
	err := bus.Publish(context.Background(), MessagesTopic("r"), Event{Type: "message_inserted", Seq: 1})

	require.Error(t, err)
	assert.Equal(t, 1, relay.calls)
	assert.Equal(t, "message_inserted", receive(t, ch).Type)
}

func TestValidationAndClose(t *testing.T) {
	bus := NewBus(slog.Default())

	_, err := bus.Subscribe("", func(Event) {})
	assert.ErrorIs(t, err, ErrEmptyTopic)
	_, err = bus.Subscribe(PresenceTopic, nil)
	assert.ErrorIs(t, err, ErrNilHandler)
	assert.ErrorIs(t, bus.Publish(context.Background(), "", Event{}), ErrEmptyTopic)

	bus.Close()
	bus.Close()
	assert.ErrorIs(t, bus.Publish(context.Background(), PresenceTopic, Event{}), ErrClosed)
	_, err = bus.Subscribe(PresenceTopic, func(Event) {})
	assert.ErrorIs(t, err, ErrClosed)
}

func TestTopicKind(t *testing.T) {
	assert.Equal(t, "messages", TopicKind(MessagesTopic("x")))
	assert.Equal(t, "presence", TopicKind(PresenceTopic))
	assert.Equal(t, "plain", TopicKind("plain"))
}
