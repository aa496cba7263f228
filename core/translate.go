package core

import (
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"talkai-gateway/core/adapter"
	"talkai-gateway/models"
)

// NewCompletionID chatcmpl-<uuid hex>
func NewCompletionID() string {
	return "chatcmpl-" + strings.ReplaceAll(uuid.NewString(), "-", "")
}

// FinishReason 上游结束信号 -> finish_reason，无法识别的信号按 stop 处理并告警
func FinishReason(signal string, logger logrus.FieldLogger) string {
	reason, ok := adapter.MapFinishReason(signal)
	if !ok && logger != nil {
		logger.WithField("signal", signal).Warn("Unrecognized TalkAI finish signal, reporting stop")
	}
	return reason
}

// Aggregate 读完整个上游事件流，拼接全部文本
func Aggregate(scanner adapter.EventScanner) (text string, signal string, err error) {
	var b strings.Builder
	for scanner.Scan() {
		ev := scanner.Event()
		switch ev.Type {
		case adapter.EventToken:
			b.WriteString(ev.Text)
		case adapter.EventFinish:
			signal = ev.Signal
		}
	}
	if err := scanner.Err(); err != nil {
		return "", "", err
	}
	return b.String(), signal, nil
}

// ToChatCompletion 组装非流式响应；每次调用生成新的 id 与 created
func ToChatCompletion(model, text, signal string, logger logrus.FieldLogger) (*models.ChatCompletionResponse, error) {
	if text == "" {
		return nil, ErrUpstreamParse
	}

	return &models.ChatCompletionResponse{
		ID:      NewCompletionID(),
		Object:  models.ObjectChatCompletion,
		Created: time.Now().Unix(),
		Model:   model,
		Choices: []models.ChatCompletionChoice{
			{
				Index: 0,
				Message: models.ResponseMessage{
					Role:    models.RoleAssistant,
					Content: text,
				},
				FinishReason: FinishReason(signal, logger),
			},
		},
		Usage: &models.ChatCompletionUsage{},
	}, nil
}
