package messaging

import (
	"context"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"messaging-service/internal/observability"
	"messaging-service/internal/realtime"
)

const (
	DefaultStoreTimeout = 5 * time.Second
	tracerName          = "messaging-service/internal/messaging"
)

// Publisher is the event sink the services write to after a commit.
type Publisher interface {
	Publish(ctx context.Context, topic string, ev realtime.Event) error
}

// Option tunes a service.
type Option func(*base)

// WithStoreTimeout sets the deadline applied to store calls when the caller
// supplied none.
func WithStoreTimeout(d time.Duration) Option {
	return func(b *base) {
		if d > 0 {
			b.timeout = d
		}
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(b *base) { b.now = now }
}

// WithTracer overrides the tracer.
func WithTracer(t trace.Tracer) Option {
	return func(b *base) { b.tracer = t }
}

type base struct {
	log     *slog.Logger
	bus     Publisher
	timeout time.Duration
	now     func() time.Time
	tracer  trace.Tracer
}

func newBase(log *slog.Logger, bus Publisher, opts []Option) base {
	b := base{
		log:     log,
		bus:     bus,
		timeout: DefaultStoreTimeout,
		now:     time.Now,
		tracer:  otel.Tracer(tracerName),
	}
	for _, opt := range opts {
		opt(&b)
	}
	return b
}

// storeCtx keeps the caller's deadline or applies the default one.
func (b base) storeCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	if _, ok := ctx.Deadline(); ok {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, b.timeout)
}

func (b base) startSpan(ctx context.Context, name string) (context.Context, trace.Span) {
	return b.tracer.Start(ctx, name)
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

// publish delivers ev after a committed write. Failures are logged and
// counted; the write is never undone.
func (b base) publish(ctx context.Context, topic string, ev realtime.Event) {
	if b.bus == nil {
		return
	}
	if err := b.bus.Publish(context.WithoutCancel(ctx), topic, ev); err != nil {
		observability.IncDegradedDelivery(realtime.TopicKind(topic))
		b.log.Warn("degraded delivery", "topic", topic, "type", ev.Type, "seq", ev.Seq, "error", err)
	}
}
