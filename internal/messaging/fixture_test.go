package messaging

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"messaging-service/internal/realtime"
	"messaging-service/internal/repositories"
)

type fixture struct {
	store    *repositories.MemoryStore
	bus      *realtime.Bus
	perms    *Permissions
	dir      *Directory
	msgs     *MessageStore
	ledger   *Ledger
	presence *PresenceTracker
}

func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()
	log := slog.Default()
	store := repositories.NewMemoryStore()
	bus := realtime.NewBus(log, realtime.WithReorderWindow(50*time.Millisecond))
	t.Cleanup(bus.Close)

	perms := NewPermissions(store, log, opts...)
	return &fixture{
		store:    store,
		bus:      bus,
		perms:    perms,
		dir:      NewDirectory(store, perms, bus, log, opts...),
		msgs:     NewMessageStore(store, store, perms, nil, bus, log, opts...),
		ledger:   NewLedger(store, bus, log, opts...),
		presence: NewPresenceTracker(store, Liveness{Threshold: DefaultLiveness}, bus, log, opts...),
	}
}

func (f *fixture) listen(t *testing.T, topic string) <-chan realtime.Event {
	t.Helper()
	ch := make(chan realtime.Event, 64)
	h, err := f.bus.Subscribe(topic, func(ev realtime.Event) { ch <- ev })
	require.NoError(t, err)
	t.Cleanup(func() { f.bus.Unsubscribe(h) })
	return ch
}

func next(t *testing.T, ch <-chan realtime.Event) realtime.Event {
	t.Helper()
	select {
	case ev := <-ch:
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event")
		return realtime.Event{}
	}
}

func quiet(t *testing.T, ch <-chan realtime.Event) {
	t.Helper()
	select {
	case ev := <-ch:
		t.Fatalf("unexpected event %s", ev.Type)
	case <-time.After(50 * time.Millisecond):
	}
}

func text(s string) *string { return &s }

func (f *fixture) send(t *testing.T, conversationID, senderID, content string) {
	t.Helper()
	_, err := f.msgs.Send(context.Background(), SendInput{ConversationID: conversationID, SenderID: senderID, Content: text(content)})
	require.NoError(t, err)
}
