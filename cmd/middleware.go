package main

import (
	"bytes"
	"io"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"talkai-gateway/core"
)

// 失败请求记录的请求体上限
const maxLoggedBody = 1000

// requestIDMiddleware 为每个请求分配 ID，并通过 X-Request-ID 返回
func requestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader("X-Request-ID")
		if id == "" {
			id = uuid.NewString()
		}
		c.Set(core.ContextKeyRequestID, id)
		c.Header("X-Request-ID", id)
		c.Next()
	}
}

// requestLoggerMiddleware 记录指标，并把请求提交给异步访问日志
// 指标的 model 标签按目录收敛，访问日志保留原始模型名
func requestLoggerMiddleware(access *core.AsyncRequestLogger, catalog *core.ModelCatalog) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		var bodyBytes []byte
		if c.Request.Body != nil {
			bodyBytes, _ = io.ReadAll(c.Request.Body)
			c.Request.Body.Close()
			c.Request.Body = io.NopCloser(bytes.NewReader(bodyBytes))
		}

		c.Next()

		latency := time.Since(start)
		statusCode := c.Writer.Status()
		model := c.GetString(core.ContextKeyModel)
		label := catalog.MetricLabel(model)

		core.RequestsTotal.WithLabelValues(c.Request.Method, core.StatusClass(statusCode), label).Inc()
		core.RequestDuration.WithLabelValues(c.Request.Method, label).Observe(latency.Seconds())

		if access == nil {
			return
		}
		rec := core.RequestRecord{
			Time:      start,
			RequestID: c.GetString(core.ContextKeyRequestID),
			Method:    c.Request.Method,
			Path:      c.Request.URL.Path,
			Model:     model,
			Status:    statusCode,
			Latency:   latency,
			ClientIP:  c.ClientIP(),
			UserAgent: c.Request.UserAgent(),
		}
		// 鉴权失败的请求体不记录
		if statusCode >= 400 && statusCode != 401 && len(bodyBytes) > 0 {
			body := string(bodyBytes)
			if len(body) > maxLoggedBody {
				body = body[:maxLoggedBody] + "...(truncated)"
			}
			rec.Body = body
		}
		access.Log(rec)
	}
}

// corsMiddleware CORS中间件
func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Origin, Content-Type, Content-Length, Accept-Encoding, Authorization, X-Request-ID")
		c.Header("Access-Control-Expose-Headers", "X-Request-ID, Retry-After")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(204)
			return
		}

		c.Next()
	}
}

// verifyGatewayToken Bearer 鉴权；失败时不会调用后续处理器
func verifyGatewayToken(secret *core.ServiceSecret) gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			core.AuthFailuresTotal.Inc()
			c.AbortWithStatusJSON(401, core.AuthErrorResponse("Missing Authorization header"))
			return
		}

		token, ok := bearerToken(authHeader)
		if !ok || !secret.Verify(token) {
			core.AuthFailuresTotal.Inc()
			c.AbortWithStatusJSON(401, core.AuthErrorResponse("Invalid API key"))
			return
		}

		c.Next()
	}
}

// bearerToken 解析 "Bearer <token>"，前缀大小写不敏感
func bearerToken(authHeader string) (string, bool) {
	const prefix = "bearer "
	if len(authHeader) <= len(prefix) || !strings.EqualFold(authHeader[:len(prefix)], prefix) {
		return "", false
	}
	token := strings.TrimSpace(authHeader[len(prefix):])
	return token, token != ""
}
