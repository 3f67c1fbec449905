// Package realtime implements the in-process event bus that fans out
// message, presence and conversation events to subscribers.
package realtime

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"messaging-service/internal/observability"
)

const (
	PresenceTopic      = "presence:*"
	ConversationsTopic = "conversations:*"

	messagesPrefix = "messages:"

	defaultBufferSize    = 64
	defaultReorderWindow = 2 * time.Second
)

var (
	ErrEmptyTopic = errors.New("realtime: empty topic")
	ErrNilHandler = errors.New("realtime: nil handler")
	ErrClosed     = errors.New("realtime: bus closed")
)

// MessagesTopic returns the topic carrying a conversation's message events.
func MessagesTopic(conversationID string) string {
	return messagesPrefix + conversationID
}

// TopicKind returns the part of a topic before the colon, used as a metric label.
func TopicKind(topic string) string {
	if i := strings.IndexByte(topic, ':'); i >= 0 {
		return topic[:i]
	}
	return topic
}

// Event is one bus notification. Seq is zero for unordered events; for
// ordered topics it is the store commit sequence.
type Event struct {
	Topic      string    `json:"topic"`
	Type       string    `json:"type"`
	Seq        int64     `json:"seq,omitempty"`
	OccurredAt time.Time `json:"occurred_at"`
	Payload    any       `json:"payload"`
}

// Handler receives events for a subscription on its own goroutine.
type Handler func(Event)

// Handle identifies a subscription.
type Handle struct {
	ID    uuid.UUID
	Topic string
}

// Relay mirrors published events to an external transport.
type Relay interface {
	Relay(ctx context.Context, ev Event) error
}

// Option configures a Bus.
type Option func(*Bus)

// WithRelay mirrors every event to r after local dispatch.
func WithRelay(r Relay) Option {
	return func(b *Bus) { b.relay = r }
}

// WithBufferSize sets the per-subscription queue length.
func WithBufferSize(n int) Option {
	return func(b *Bus) {
		if n > 0 {
			b.bufferSize = n
		}
	}
}

// WithReorderWindow sets how long out-of-sequence events wait for the gap to fill.
func WithReorderWindow(d time.Duration) Option {
	return func(b *Bus) {
		if d > 0 {
			b.reorderWindow = d
		}
	}
}

type topicState struct {
	name    string
	subs    map[uuid.UUID]*subscription
	lastSeq int64
	// known is false until lastSeq reflects the store; the first
	// sequenced event then becomes the baseline.
	known    bool
	pending  map[int64]Event
	timer    *time.Timer
	timerGen int
}

// Bus is a topic based publish/subscribe hub. Within a topic every
// subscriber sees events in the same order; sequenced events are released
// in Seq order.
type Bus struct {
	mu            sync.Mutex
	topics        map[string]*topicState
	subs          map[uuid.UUID]*subscription
	watermarks    map[string]int64
	closed        bool
	relay         Relay
	log           *slog.Logger
	bufferSize    int
	reorderWindow time.Duration
}

// NewBus creates an empty bus.
func NewBus(log *slog.Logger, opts ...Option) *Bus {
	b := &Bus{
		topics:        make(map[string]*topicState),
		subs:          make(map[uuid.UUID]*subscription),
		watermarks:    make(map[string]int64),
		log:           log,
		bufferSize:    defaultBufferSize,
		reorderWindow: defaultReorderWindow,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Subscribe registers handler on topic.
func (b *Bus) Subscribe(topic string, handler Handler) (Handle, error) {
	return b.subscribe(topic, handler, nil)
}

// SubscribeFrom registers handler on an ordered topic whose last committed
// sequence is afterSeq. The next event released is afterSeq+1 even if a
// later one is published first.
func (b *Bus) SubscribeFrom(topic string, afterSeq int64, handler Handler) (Handle, error) {
	return b.subscribe(topic, handler, &afterSeq)
}

func (b *Bus) subscribe(topic string, handler Handler, afterSeq *int64) (Handle, error) {
	if topic == "" {
		return Handle{}, ErrEmptyTopic
	}
	if handler == nil {
		return Handle{}, ErrNilHandler
	}

	sub := newSubscription(Handle{ID: uuid.New(), Topic: topic}, handler, b.bufferSize, b.log)

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return Handle{}, ErrClosed
	}
	t, ok := b.topics[topic]
	if !ok {
		t = &topicState{name: topic, subs: make(map[uuid.UUID]*subscription), pending: make(map[int64]Event)}
		if seq, seen := b.watermarks[topic]; seen {
			t.lastSeq, t.known = seq, true
		}
		b.topics[topic] = t
	}
	if afterSeq != nil && len(t.pending) == 0 && (!t.known || *afterSeq > t.lastSeq) {
		t.lastSeq, t.known = max(t.lastSeq, *afterSeq), true
	}
	t.subs[sub.handle.ID] = sub
	b.subs[sub.handle.ID] = sub
	b.mu.Unlock()

	go sub.run()
	return sub.handle, nil
}

// Unsubscribe stops a subscription. Unknown or already closed handles are ignored.
func (b *Bus) Unsubscribe(h Handle) {
	b.mu.Lock()
	sub, ok := b.subs[h.ID]
	if ok {
		delete(b.subs, h.ID)
		if t, exists := b.topics[sub.handle.Topic]; exists {
			delete(t.subs, h.ID)
			b.dropIdleLocked(t)
		}
	}
	b.mu.Unlock()

	if ok {
		sub.stop()
	}
}

// Publish dispatches ev to every subscriber of topic and then hands it to
// the relay, if any. A relay error is returned after local delivery.
func (b *Bus) Publish(ctx context.Context, topic string, ev Event) error {
	if topic == "" {
		return ErrEmptyTopic
	}
	ev.Topic = topic
	if ev.OccurredAt.IsZero() {
		ev.OccurredAt = time.Now().UTC()
	}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return ErrClosed
	}
	if t, ok := b.topics[topic]; ok {
		b.sequenceLocked(t, ev)
	} else if ev.Seq > b.watermarks[topic] {
		b.watermarks[topic] = ev.Seq
	}
	b.mu.Unlock()

	observability.IncBusPublished(TopicKind(topic), ev.Type)

	if b.relay == nil {
		return nil
	}
	if err := b.relay.Relay(ctx, ev); err != nil {
		return fmt.Errorf("relay %s: %w", topic, err)
	}
	return nil
}

// Stats reports the number of subscribers per topic.
func (b *Bus) Stats() map[string]int {
	b.mu.Lock()
	defer b.mu.Unlock()
	stats := make(map[string]int, len(b.topics))
	for name, t := range b.topics {
		stats[name] = len(t.subs)
	}
	return stats
}

// Close stops every subscription. Publishing afterwards fails with ErrClosed.
func (b *Bus) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	subs := make([]*subscription, 0, len(b.subs))
	for _, s := range b.subs {
		subs = append(subs, s)
	}
	for _, t := range b.topics {
		if t.timer != nil {
			t.timer.Stop()
		}
	}
	b.subs = make(map[uuid.UUID]*subscription)
	b.topics = make(map[string]*topicState)
	b.mu.Unlock()

	for _, s := range subs {
		s.stop()
	}
}

func (b *Bus) sequenceLocked(t *topicState, ev Event) {
	switch {
	case ev.Seq == 0:
		b.dispatchLocked(t, ev)
	case !t.known || ev.Seq == t.lastSeq+1:
		t.lastSeq, t.known = ev.Seq, true
		b.dispatchLocked(t, ev)
		b.drainLocked(t)
	case ev.Seq <= t.lastSeq:
		// the gap was already flushed; deliver late rather than never
		observability.IncBusLate(TopicKind(t.name))
		b.dispatchLocked(t, ev)
	default:
		t.pending[ev.Seq] = ev
		observability.IncBusReordered(TopicKind(t.name))
		if t.timer == nil {
			t.timerGen++
			gen := t.timerGen
			name := t.name
			t.timer = time.AfterFunc(b.reorderWindow, func() { b.flush(name, gen) })
		}
	}
}

func (b *Bus) drainLocked(t *topicState) {
	for {
		next, ok := t.pending[t.lastSeq+1]
		if !ok {
			break
		}
		delete(t.pending, next.Seq)
		t.lastSeq = next.Seq
		b.dispatchLocked(t, next)
	}
	if len(t.pending) == 0 && t.timer != nil {
		t.timer.Stop()
		t.timer = nil
	}
}

func (b *Bus) flush(topic string, gen int) {
	b.mu.Lock()
	defer b.mu.Unlock()

	t, ok := b.topics[topic]
	if !ok || t.timerGen != gen {
		return
	}
	t.timer = nil

	seqs := make([]int64, 0, len(t.pending))
	for seq := range t.pending {
		seqs = append(seqs, seq)
	}
	sort.Slice(seqs, func(i, j int) bool { return seqs[i] < seqs[j] })
	if len(seqs) > 0 {
		b.log.Warn("releasing events after sequence gap", "topic", topic, "expected_seq", t.lastSeq+1, "released", len(seqs))
	}
	for _, seq := range seqs {
		ev := t.pending[seq]
		delete(t.pending, seq)
		t.lastSeq = seq
		b.dispatchLocked(t, ev)
	}
	b.dropIdleLocked(t)
}

func (b *Bus) dispatchLocked(t *topicState, ev Event) {
	for _, sub := range t.subs {
		if !sub.enqueue(ev) {
			observability.IncBusDropped(TopicKind(t.name))
			b.log.Warn("subscriber queue full, event dropped", "topic", t.name, "type", ev.Type, "subscription", sub.handle.ID.String())
		}
	}
}

func (b *Bus) dropIdleLocked(t *topicState) {
	if len(t.subs) == 0 && len(t.pending) == 0 {
		if t.timer != nil {
			t.timer.Stop()
		}
		if t.known && t.lastSeq > b.watermarks[t.name] {
			b.watermarks[t.name] = t.lastSeq
		}
		delete(b.topics, t.name)
	}
}
