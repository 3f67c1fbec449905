package observability

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"google.golang.org/grpc"
	"google.golang.org/grpc/status"
)

var (
	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "messaging_http_requests_total",
			Help: "Total number of HTTP requests processed by the messaging service.",
		},
		[]string{"method", "route", "status"},
	)
	httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "messaging_http_request_duration_seconds",
			Help:    "HTTP request latencies in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"route"},
	)
	grpcServerHandledTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "grpc_server_handled_total",
			Help: "Total number of gRPC requests handled by the server.",
		},
		[]string{"grpc_service", "grpc_method", "grpc_code"},
	)
	wsActiveConnections = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "messaging_ws_active_connections",
			Help: "Number of active websocket connections.",
		},
		[]string{"kind"},
	)
	wsEventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "messaging_ws_events_total",
			Help: "Total number of websocket events.",
		},
		[]string{"kind", "event"},
	)
	amqpPublishErrorsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "messaging_amqp_publish_errors_total",
			Help: "Total number of AMQP publish errors.",
		},
	)
	busEventsPublishedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "messaging_bus_events_published_total",
			Help: "Events published on the realtime bus.",
		},
		[]string{"topic", "type"},
	)
	busEventsDroppedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "messaging_bus_events_dropped_total",
			Help: "Events dropped because a subscriber queue was full.",
		},
		[]string{"topic"},
	)
	busEventsReorderedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "messaging_bus_events_reordered_total",
			Help: "Sequenced events held back until their predecessors arrived.",
		},
		[]string{"topic"},
	)
	busEventsLateTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "messaging_bus_events_late_total",
			Help: "Sequenced events delivered after a gap had already been released.",
		},
		[]string{"topic"},
	)
	messagesSentTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "messaging_messages_sent_total",
			Help: "Messages committed to the store.",
		},
		[]string{"kind"},
	)
	presenceUpdatesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "messaging_presence_updates_total",
			Help: "Presence heartbeats recorded.",
		},
		[]string{"status"},
	)
	degradedDeliveryTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "messaging_degraded_delivery_total",
			Help: "Committed writes whose realtime fan-out failed.",
		},
		[]string{"topic"},
	)
	storeErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "messaging_store_errors_total",
			Help: "Store failures by operation and error class.",
		},
		[]string{"op", "class"},
	)
)

func init() {
	prometheus.MustRegister(
		httpRequestsTotal,
		httpRequestDuration,
		grpcServerHandledTotal,
		wsActiveConnections,
		wsEventsTotal,
		amqpPublishErrorsTotal,
		busEventsPublishedTotal,
		busEventsDroppedTotal,
		busEventsReorderedTotal,
		busEventsLateTotal,
		messagesSentTotal,
		presenceUpdatesTotal,
		degradedDeliveryTotal,
		storeErrorsTotal,
	)
}

func HTTPMetricsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = c.Request.URL.Path
		}
		status := c.Writer.Status()

		httpRequestsTotal.WithLabelValues(c.Request.Method, route, strconv.Itoa(status)).Inc()
		httpRequestDuration.WithLabelValues(route).Observe(time.Since(start).Seconds())
	}
}

// MetricsHandler serves the default registry.
func MetricsHandler() gin.HandlerFunc {
	return gin.WrapH(promhttp.Handler())
}

func GRPCServerMetricsUnaryInterceptor() grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
		resp, err := handler(ctx, req)
		statusInfo := status.Convert(err)
		service, method := splitFullMethod(info.FullMethod)
		grpcServerHandledTotal.WithLabelValues(service, method, statusInfo.Code().String()).Inc()
		return resp, err
	}
}

func splitFullMethod(fullMethod string) (string, string) {
	parts := strings.Split(fullMethod, "/")
	if len(parts) < 3 {
		return "unknown", "unknown"
	}
	return parts[1], parts[2]
}

func IncWSActive(kind string) {
	wsActiveConnections.WithLabelValues(kind).Inc()
}

func DecWSActive(kind string) {
	wsActiveConnections.WithLabelValues(kind).Dec()
}

func IncWSEvent(kind, event string) {
	wsEventsTotal.WithLabelValues(kind, event).Inc()
}

func IncAMQPPublishError() {
	amqpPublishErrorsTotal.Inc()
}

func IncBusPublished(topic, eventType string) {
	busEventsPublishedTotal.WithLabelValues(topic, eventType).Inc()
}

func IncBusDropped(topic string) {
	busEventsDroppedTotal.WithLabelValues(topic).Inc()
}

func IncBusReordered(topic string) {
	busEventsReorderedTotal.WithLabelValues(topic).Inc()
}

func IncBusLate(topic string) {
	busEventsLateTotal.WithLabelValues(topic).Inc()
}

func IncMessageSent(kind string) {
	messagesSentTotal.WithLabelValues(kind).Inc()
}

func IncPresenceUpdate(status string) {
	presenceUpdatesTotal.WithLabelValues(status).Inc()
}

func IncDegradedDelivery(topic string) {
	degradedDeliveryTotal.WithLabelValues(topic).Inc()
}

func IncStoreError(op, class string) {
	storeErrorsTotal.WithLabelValues(op, class).Inc()
}
