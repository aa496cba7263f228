package adapter

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"talkai-gateway/models"
)

const talkAIUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36"

// TalkAIAdapter OpenAI -> TalkAI
type TalkAIAdapter struct {
	url                string
	defaultTemperature float64
	logger             *logrus.Logger
	newID              func() string
}

func NewTalkAIAdapter(url string, defaultTemperature float64, logger *logrus.Logger) *TalkAIAdapter {
	return &TalkAIAdapter{
		url:                url,
		defaultTemperature: defaultTemperature,
		logger:             logger,
		newID:              uuid.NewString,
	}
}

func (a *TalkAIAdapter) Name() string { return "talkai" }

// ConvertRequest OpenAI -> TalkAI
func (a *TalkAIAdapter) ConvertRequest(originalReq models.ChatCompletionRequest) (*TalkAIRequest, error) {
	if len(originalReq.Messages) == 0 {
		return nil, &ValidationError{Field: "messages", Message: "Messages required"}
	}

	var systemParts []string
	history := make([]TalkAIMessage, 0, len(originalReq.Messages))

	for i, msg := range originalReq.Messages {
		field := fmt.Sprintf("messages[%d]", i)
		if msg.Role == "" {
			return nil, &ValidationError{Field: field + ".role", Message: "role is required"}
		}
		if !msg.Content.Valid() {
			return nil, &ValidationError{Field: field + ".content", Message: "content must be a string or an array of content parts"}
		}

		text := msg.Content.Text()
		if dropped := msg.Content.DroppedParts(); dropped > 0 {
			// TalkAI 只接受纯文本
			a.logger.Debugf("TalkAI: dropped %d non-text content part(s) from %s", dropped, field)
		}

		switch msg.Role {
		case models.RoleSystem, models.RoleDeveloper:
			if text != "" {
				systemParts = append(systemParts, text)
			}
		case models.RoleUser:
			history = append(history, TalkAIMessage{ID: a.newID(), From: FromUser, Content: text})
		case models.RoleAssistant:
			history = append(history, TalkAIMessage{ID: a.newID(), From: FromAssistant, Content: text})
		default:
			a.logger.Debugf("TalkAI: skipping %s with unsupported role %q", field, msg.Role)
		}
	}

	// TalkAI 没有 system 角色：合并后拼到最后一条用户消息前面
	if len(systemParts) > 0 {
		history = foldSystemPrompt(history, strings.Join(systemParts, "\n\n"), a.newID)
	}

	if len(history) == 0 {
		return nil, &ValidationError{Field: "messages", Message: "at least one system, user or assistant message is required"}
	}

	temperature := a.defaultTemperature
	if originalReq.Temperature != nil {
		temperature = *originalReq.Temperature
	}

	return &TalkAIRequest{
		Type:            talkAIRequestType,
		MessagesHistory: history,
		Settings: TalkAISettings{
			Model:       originalReq.Model,
			Temperature: temperature,
			TopP:        originalReq.TopP,
			MaxTokens:   originalReq.MaxTokens,
		},
		Stream: originalReq.Stream,
	}, nil
}

func foldSystemPrompt(history []TalkAIMessage, prompt string, newID func() string) []TalkAIMessage {
	for i := len(history) - 1; i >= 0; i-- {
		if history[i].From == FromUser {
			history[i].Content = prompt + "\n\n" + history[i].Content
			return history
		}
	}
	return append([]TalkAIMessage{{ID: newID(), From: FromUser, Content: prompt}}, history...)
}

// HistoryToMessages TalkAI -> OpenAI 消息（ConvertRequest 的逆映射，system 已被合并无法还原）
func HistoryToMessages(history []TalkAIMessage) []models.ChatMessage {
	out := make([]models.ChatMessage, 0, len(history))
	for _, h := range history {
		role := models.RoleAssistant
		if h.From == FromUser {
			role = models.RoleUser
		}
		out = append(out, models.ChatMessage{Role: role, Content: models.TextContent(h.Content)})
	}
	return out
}

// BuildRequest 转换并构造上游 HTTP 请求
func (a *TalkAIAdapter) BuildRequest(ctx context.Context, originalReq models.ChatCompletionRequest, apiKey string) (*http.Request, error) {
	talkReq, err := a.ConvertRequest(originalReq)
	if err != nil {
		return nil, err
	}
	return a.NewHTTPRequest(ctx, talkReq, apiKey)
}

// NewHTTPRequest 序列化并设置请求头
func (a *TalkAIAdapter) NewHTTPRequest(ctx context.Context, talkReq *TalkAIRequest, apiKey string) (*http.Request, error) {
	reqBodyBytes, err := json.Marshal(talkReq)
	if err != nil {
		return nil, fmt.Errorf("marshal talkai req error: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.url, bytes.NewReader(reqBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("create req error: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json, text/event-stream")
	req.Header.Set("User-Agent", talkAIUserAgent)
	if apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+apiKey)
	}

	return req, nil
}

func (a *TalkAIAdapter) NewScanner(body io.Reader) EventScanner {
	return NewTalkAIStreamScanner(body)
}

// MapFinishReason 上游结束信号 -> OpenAI finish_reason
// 第二个返回值为 false 表示信号无法识别（按 stop 处理，调用方应记录告警）
func MapFinishReason(signal string) (string, bool) {
	switch strings.ToLower(strings.TrimSpace(signal)) {
	case "", endOfTurn, "stop", "end_turn", "eos":
		return models.FinishStop, true
	case "length", "max_tokens", "truncated":
		return models.FinishLength, true
	case "error":
		return models.FinishError, true
	default:
		return models.FinishStop, false
	}
}
