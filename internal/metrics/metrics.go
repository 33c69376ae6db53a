package metrics

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
)

var (
	WsConnections = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "roomchat_ws_connections",
		Help: "Current number of active websocket connections",
	})
	WsMessagesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "roomchat_messages_total",
		Help: "Total number of chat messages persisted and broadcast, by kind",
	}, []string{"kind"})
	WsDroppedClients = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "roomchat_ws_dropped_clients_total",
		Help: "Connections closed because their send queue was full",
	})
	OTPIssuedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "roomchat_otp_issued_total",
		Help: "OTP issuance attempts by result",
	}, []string{"result"})
	OTPVerifiedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "roomchat_otp_verified_total",
		Help: "OTP verification attempts by result",
	}, []string{"result"})
	LockoutsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "roomchat_lockouts_total",
		Help: "Number of times an identity entered the locked state",
	})
	HttpRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "roomchat_http_requests_total",
		Help: "Total number of HTTP requests",
	}, []string{"method", "path", "status"})
	HttpRequestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "roomchat_http_request_duration_seconds",
		Help:    "HTTP request duration in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path", "status"})
)

func init() {
	prometheus.MustRegister(WsConnections, WsMessagesTotal, WsDroppedClients, OTPIssuedTotal,
		OTPVerifiedTotal, LockoutsTotal, HttpRequestsTotal, HttpRequestDuration)
}

// GinMiddleware 统计基础请求指标，供 Prometheus 拉取。
func GinMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		status := strconv.Itoa(c.Writer.Status())
		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}
		labels := prometheus.Labels{"method": c.Request.Method, "path": path, "status": status}
		HttpRequestsTotal.With(labels).Inc()
		HttpRequestDuration.With(labels).Observe(time.Since(start).Seconds())
	}
}
