package realtime

import (
	"log/slog"
	"sync"
)

type subscription struct {
	handle  Handle
	handler Handler
	queue   chan Event
	done    chan struct{}
	once    sync.Once
	log     *slog.Logger
}

func newSubscription(h Handle, handler Handler, size int, log *slog.Logger) *subscription {
	return &subscription{
		handle:  h,
		handler: handler,
		queue:   make(chan Event, size),
		done:    make(chan struct{}),
		log:     log,
	}
}

// enqueue never blocks; it reports false when the queue is full.
func (s *subscription) enqueue(ev Event) bool {
	select {
	case s.queue <- ev:
		return true
	default:
		return false
	}
}

func (s *subscription) run() {
	for {
		select {
		case <-s.done:
			return
		case ev := <-s.queue:
			select {
			case <-s.done:
				return
			default:
			}
			s.deliver(ev)
		}
	}
}

func (s *subscription) deliver(ev Event) {
	defer func() {
		if r := recover(); r != nil {
			s.log.Error("subscription handler panicked", "topic", s.handle.Topic, "type", ev.Type, "panic", r)
		}
	}()
	s.handler(ev)
}

func (s *subscription) stop() {
	s.once.Do(func() { close(s.done) })
}
