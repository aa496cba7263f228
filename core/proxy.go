package core

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"talkai-gateway/models"
)

// Context keys shared with the request logging middleware
const (
	ContextKeyModel     = "model"
	ContextKeyRequestID = "request_id"
)

// ChatUpstream 上游调用接口
type ChatUpstream interface {
	Call(ctx context.Context, req models.ChatCompletionRequest) (*UpstreamResponse, error)
}

// ProxyHandler /v1/chat/completions：翻译请求、调用上游、写回 JSON 或 SSE
type ProxyHandler struct {
	upstream ChatUpstream
	logger   *logrus.Logger
}

func NewProxyHandler(upstream ChatUpstream, logger *logrus.Logger) *ProxyHandler {
	return &ProxyHandler{
		upstream: upstream,
		logger:   logger,
	}
}

// getClientIP 获取客户端真实IP地址
func getClientIP(c *gin.Context) string {
	// X-Forwarded-For 可能包含多个IP，取第一个
	if xff := c.GetHeader("X-Forwarded-For"); xff != "" {
		if idx := strings.Index(xff, ","); idx != -1 {
			return strings.TrimSpace(xff[:idx])
		}
		return strings.TrimSpace(xff)
	}

	if xri := c.GetHeader("X-Real-IP"); xri != "" {
		return strings.TrimSpace(xri)
	}

	if ip, _, err := net.SplitHostPort(c.Request.RemoteAddr); err == nil {
		return ip
	}
	return c.Request.RemoteAddr
}

// HandleChatCompletions POST /v1/chat/completions
func (h *ProxyHandler) HandleChatCompletions(c *gin.Context) {
	startTime := time.Now()

	var req models.ChatCompletionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.writeError(c, &ValidationError{Field: "body", Message: "invalid request body: " + err.Error()})
		return
	}
	c.Set(ContextKeyModel, req.Model)

	logEntry := h.logger.WithFields(logrus.Fields{
		"request_id": c.GetString(ContextKeyRequestID),
		"model":      req.Model,
		"stream":     req.Stream,
		"messages":   len(req.Messages),
		"client_ip":  getClientIP(c),
	})
	logEntry.Info("Chat completion request")

	ctx, cancel := context.WithCancel(c.Request.Context())
	defer cancel()

	resp, err := h.upstream.Call(ctx, req)
	if err != nil {
		if ctx.Err() != nil {
			logEntry.Warn("Client disconnected before TalkAI answered")
			c.Abort()
			return
		}
		logEntry.WithError(err).Warn("Chat completion failed")
		h.writeError(c, err)
		return
	}
	defer resp.Close()

	if req.Stream {
		h.stream(ctx, cancel, c, req.Model, resp, logEntry)
	} else {
		h.complete(ctx, c, req.Model, resp, logEntry)
	}

	logEntry.WithField("latency_ms", time.Since(startTime).Milliseconds()).Info("Chat completion finished")
}

func (h *ProxyHandler) complete(ctx context.Context, c *gin.Context, model string, resp *UpstreamResponse, logEntry *logrus.Entry) {
	text, signal, err := Aggregate(resp)
	if err != nil {
		if ctx.Err() != nil {
			logEntry.Warn("Client disconnected while reading TalkAI response")
			c.Abort()
			return
		}
		logEntry.WithError(err).Warn("Reading TalkAI response failed")
		h.writeError(c, err)
		return
	}

	completion, err := ToChatCompletion(model, text, signal, logEntry)
	if err != nil {
		logEntry.WithError(err).Warn("TalkAI response had no content")
		h.writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, completion)
}

// stream 返回前取消并排空生产者，之后调用方才能关闭 resp
func (h *ProxyHandler) stream(ctx context.Context, cancel context.CancelFunc, c *gin.Context, model string, resp *UpstreamResponse, logEntry *logrus.Entry) {
	results := StreamChunks(ctx, resp, model, logEntry)
	defer func() {
		cancel()
		for range results {
		}
	}()

	// 收到第一项之前不提交响应头，首项是错误时仍可返回 JSON 错误
	first, ok := <-results
	if !ok {
		h.writeError(c, errors.New("stream ended without output"))
		return
	}
	if first.Err != nil {
		if ctx.Err() != nil {
			c.Abort()
			return
		}
		logEntry.WithError(first.Err).Warn("TalkAI stream failed before first chunk")
		h.writeError(c, first.Err)
		return
	}

	StreamingConnections.Inc()
	defer StreamingConnections.Dec()

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no") // 禁用 Nginx 缓冲
	c.Status(http.StatusOK)

	chunks := 0
	if err := writeChunk(c.Writer, first.Chunk); err != nil {
		logEntry.WithError(err).Warn("Stream disconnected by client")
		return
	}
	chunks++

	for r := range results {
		if r.Err != nil {
			// 响应头已发出，只能尽力结束流
			logEntry.WithError(r.Err).Warn("TalkAI stream failed mid-stream")
			break
		}
		if err := writeChunk(c.Writer, r.Chunk); err != nil {
			logEntry.WithError(err).Warn("Stream disconnected by client")
			return
		}
		chunks++
	}

	if ctx.Err() != nil {
		logEntry.Warn("Stream disconnected by client")
		return
	}
	fmt.Fprint(c.Writer, "data: [DONE]\n\n")
	c.Writer.Flush()
	logEntry.WithField("chunks", chunks).Debug("Stream completed")
}

func writeChunk(w gin.ResponseWriter, chunk *models.ChatCompletionChunk) error {
	payload, err := json.Marshal(chunk)
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(w, "data: %s\n\n", payload); err != nil {
		return err
	}
	w.Flush()
	return nil
}

// writeError 写出 OpenAI 风格错误；429 透传 Retry-After
func (h *ProxyHandler) writeError(c *gin.Context, err error) {
	status, body := HTTPError(err)

	var ue *UpstreamError
	if errors.As(err, &ue) && ue.RetryAfter > 0 {
		secs := int((ue.RetryAfter + time.Second - 1) / time.Second)
		c.Header("Retry-After", strconv.Itoa(secs))
	}
	if status == http.StatusInternalServerError {
		h.logger.WithError(err).Error("Internal error while proxying chat completion")
	}

	c.AbortWithStatusJSON(status, body)
}
