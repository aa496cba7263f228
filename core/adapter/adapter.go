package adapter

import (
	"context"
	"io"
	"net/http"

	"talkai-gateway/models"
)

// ProviderAdapter 定义上游提供商的适配接口
type ProviderAdapter interface {
	// Name 提供商名称（日志、指标、追踪使用）
	Name() string

	// BuildRequest 将标准请求转换为特定提供商的 HTTP 请求
	BuildRequest(ctx context.Context, originalReq models.ChatCompletionRequest, apiKey string) (*http.Request, error)

	// NewScanner 将上游响应体包装为事件扫描器（流式和非流式共用）
	NewScanner(body io.Reader) EventScanner
}

// EventScanner 上游事件流扫描器
type EventScanner interface {
	Scan() bool
	Event() StreamEvent
	Err() error
}

// EventType 上游事件类型
type EventType int

const (
	// EventToken 一段增量文本
	EventToken EventType = iota
	// EventFinish 本轮结束，Signal 为上游给出的原始结束信号（可能为空）
	EventFinish
)

// StreamEvent 上游事件
type StreamEvent struct {
	Type   EventType
	Text   string
	Signal string
}
