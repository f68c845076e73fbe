package observability

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"google.golang.org/grpc"
	"google.golang.org/grpc/status"
)

const namespace = "voxa"

var (
	httpRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace, Subsystem: "http", Name: "requests_total",
		Help: "HTTP requests by method, route and status.",
	}, []string{"method", "route", "status"})
	httpRequestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace, Subsystem: "http", Name: "request_duration_seconds",
		Help:    "HTTP request latency.",
		Buckets: prometheus.DefBuckets,
	}, []string{"route"})
	grpcServerHandledTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace, Subsystem: "grpc", Name: "server_handled_total",
		Help: "Ops gRPC calls by service, method and code.",
	}, []string{"grpc_service", "grpc_method", "grpc_code"})

	wsActiveConnections = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace, Subsystem: "ws", Name: "active_sessions",
		Help: "Open websocket sessions.",
	})
	wsEventsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace, Subsystem: "ws", Name: "events_total",
		Help: "Websocket lifecycle events.",
	}, []string{"event"})

	amqpPublishErrorsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace, Subsystem: "amqp", Name: "publish_errors_total",
		Help: "Failed event bus publishes.",
	})

	realtimeDroppedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace, Subsystem: "realtime", Name: "events_dropped_total",
		Help: "Realtime events discarded before reaching a session.",
	}, []string{"reason"})
	realtimeSubscriptionErrorsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace, Subsystem: "realtime", Name: "subscription_errors_total",
		Help: "Failed realtime channel subscriptions.",
	}, []string{"channel"})

	messagesSentTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace, Subsystem: "messages", Name: "sent_total",
		Help: "Messages accepted by the store.",
	}, []string{"room_kind"})
	sendRejectedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace, Subsystem: "messages", Name: "send_rejected_total",
		Help: "Send attempts rejected before or by the store.",
	}, []string{"reason"})
)

func init() {
	prometheus.MustRegister(
		httpRequestsTotal, httpRequestDuration, grpcServerHandledTotal,
		wsActiveConnections, wsEventsTotal,
		amqpPublishErrorsTotal,
		realtimeDroppedTotal, realtimeSubscriptionErrorsTotal,
		messagesSentTotal, sendRejectedTotal,
	)
}

func HTTPMetricsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		httpRequestsTotal.WithLabelValues(c.Request.Method, route, strconv.Itoa(c.Writer.Status())).Inc()
		httpRequestDuration.WithLabelValues(route).Observe(time.Since(start).Seconds())
	}
}

func GRPCServerMetricsUnaryInterceptor() grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
		resp, err := handler(ctx, req)
		service, method := splitFullMethod(info.FullMethod)
		grpcServerHandledTotal.WithLabelValues(service, method, status.Code(err).String()).Inc()
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

func IncWSActive() {
	wsActiveConnections.Inc()
}

func DecWSActive() {
	wsActiveConnections.Dec()
}

func IncWSEvent(event string) {
	wsEventsTotal.WithLabelValues(event).Inc()
}

func IncAMQPPublishError() {
	amqpPublishErrorsTotal.Inc()
}

func IncRealtimeDropped(reason string) {
	realtimeDroppedTotal.WithLabelValues(reason).Inc()
}

func IncSubscriptionError(channel string) {
	realtimeSubscriptionErrorsTotal.WithLabelValues(channel).Inc()
}

func IncMessageSent(roomKind string) {
	messagesSentTotal.WithLabelValues(roomKind).Inc()
}

func IncSendRejected(reason string) {
	sendRejectedTotal.WithLabelValues(reason).Inc()
}
