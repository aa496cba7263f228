package core

import (
	"context"
	"errors"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
)

// LLMBuckets 推理延迟直方图桶（100ms ~ 300s）
var LLMBuckets = []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120, 300}

var (
	// RequestsTotal 入站请求数（按方法、状态段、模型）
	RequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "talkai_gateway_requests_total",
			Help: "Total inbound requests",
		},
		[]string{"method", "status", "model"},
	)

	// RequestDuration 入站请求耗时
	RequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "talkai_gateway_request_duration_seconds",
			Help:    "Inbound request duration",
			Buckets: LLMBuckets,
		},
		[]string{"method", "model"},
	)

	StreamingConnections = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "talkai_gateway_streaming_connections_active",
			Help: "Active SSE streams",
		},
	)

	// UpstreamRequestsTotal 上游调用结果：ok 或 UpstreamErrorKind
	UpstreamRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "talkai_gateway_upstream_requests_total",
			Help: "Calls to the TalkAI API by outcome",
		},
		[]string{"model", "outcome"},
	)

	// UpstreamLatency 上游首字节延迟
	UpstreamLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "talkai_gateway_upstream_latency_seconds",
			Help:    "Time until the TalkAI API answered with headers",
			Buckets: LLMBuckets,
		},
		[]string{"model"},
	)

	AuthFailuresTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "talkai_gateway_auth_failures_total",
			Help: "Inbound requests rejected by bearer authentication",
		},
	)
)

func init() {
	prometheus.MustRegister(
		RequestsTotal,
		RequestDuration,
		StreamingConnections,
		UpstreamRequestsTotal,
		UpstreamLatency,
		AuthFailuresTotal,
	)
}

// StatusClass 200 -> "2xx"
func StatusClass(code int) string {
	if code < 100 || code > 599 {
		return "unknown"
	}
	return strconv.Itoa(code/100) + "xx"
}

// UpstreamOutcome 上游调用结果标签
func UpstreamOutcome(err error) string {
	if err == nil {
		return "ok"
	}
	var ue *UpstreamError
	if errors.As(err, &ue) {
		return ue.Kind.String()
	}
	var ve *ValidationError
	if errors.As(err, &ve) {
		return "invalid_request"
	}
	if errors.Is(err, context.Canceled) {
		return "canceled"
	}
	return "error"
}
