package models

import (
	"bytes"
	"encoding/json"
	"strings"
)

// ChatCompletionRequest OpenAI 聊天请求
type ChatCompletionRequest struct {
	Model       string        `json:"model" binding:"required"`
	Messages    []ChatMessage `json:"messages"`
	Stream      bool          `json:"stream,omitempty"`
	Temperature *float64      `json:"temperature,omitempty"`
	TopP        *float64      `json:"top_p,omitempty"`
	MaxTokens   *int          `json:"max_tokens,omitempty"`
	User        string        `json:"user,omitempty"`
}

// 消息角色
const (
	RoleSystem    = "system"
	RoleDeveloper = "developer" // 新版 OpenAI 客户端对 system 的别名
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// ChatMessage 聊天消息
type ChatMessage struct {
	Role    string         `json:"role"`
	Content MessageContent `json:"content"`
}

// ContentPartKind 多模态片段类型（封闭集合）
type ContentPartKind int

const (
	PartUnknown ContentPartKind = iota
	PartText
	PartImageURL
)

// ContentPart 多模态内容片段
// 未识别的 type 或非对象元素都归为 PartUnknown，翻译时忽略
type ContentPart struct {
	Kind     ContentPartKind
	Type     string
	Text     string
	ImageURL string
}

type contentKind int

const (
	contentInvalid contentKind = iota
	contentText
	contentParts
)

// MessageContent 消息内容：纯文本，或有序的 ContentPart 列表
// 兼容新版客户端（如 Claude Code）发送的多部分内容格式
type MessageContent struct {
	kind  contentKind
	text  string
	parts []ContentPart
}

// TextContent 构造纯文本内容
func TextContent(s string) MessageContent {
	return MessageContent{kind: contentText, text: s}
}

// PartsContent 构造多部分内容
func PartsContent(parts ...ContentPart) MessageContent {
	return MessageContent{kind: contentParts, parts: parts}
}

// TextPart 构造文本片段
func TextPart(s string) ContentPart {
	return ContentPart{Kind: PartText, Type: "text", Text: s}
}

// ImagePart 构造图片片段
func ImagePart(url string) ContentPart {
	return ContentPart{Kind: PartImageURL, Type: "image_url", ImageURL: url}
}

// Valid 内容是否为字符串或多部分数组
func (c MessageContent) Valid() bool {
	return c.kind != contentInvalid
}

// IsMultipart 是否为多部分内容
func (c MessageContent) IsMultipart() bool {
	return c.kind == contentParts
}

// Parts 返回多部分片段（纯文本时为 nil）
func (c MessageContent) Parts() []ContentPart {
	return c.parts
}

// Text 提取文本：纯文本直接返回；多部分时按顺序拼接所有 text 片段，不加分隔符
func (c MessageContent) Text() string {
	switch c.kind {
	case contentText:
		return c.text
	case contentParts:
		var b strings.Builder
		for _, p := range c.parts {
			if p.Kind == PartText {
				b.WriteString(p.Text)
			}
		}
		return b.String()
	default:
		return ""
	}
}

// DroppedParts 返回被丢弃（非文本）的片段数量
func (c MessageContent) DroppedParts() int {
	n := 0
	for _, p := range c.parts {
		if p.Kind != PartText {
			n++
		}
	}
	return n
}

// UnmarshalJSON 解析 string 或 []object 两种格式
// 其他 JSON 类型（null、数字、对象）不报错，只标记为 invalid，由翻译层返回 ValidationError
func (c *MessageContent) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	*c = MessageContent{}
	if len(data) == 0 {
		return nil
	}

	switch data[0] {
	case '"':
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*c = TextContent(s)
	case '[':
		var raw []json.RawMessage
		if err := json.Unmarshal(data, &raw); err != nil {
			return err
		}
		parts := make([]ContentPart, 0, len(raw))
		for _, item := range raw {
			parts = append(parts, decodePart(item))
		}
		*c = PartsContent(parts...)
	}
	return nil
}

func decodePart(item json.RawMessage) ContentPart {
	var p struct {
		Type     string          `json:"type"`
		Text     *string         `json:"text"`
		ImageURL json.RawMessage `json:"image_url"`
	}
	if err := json.Unmarshal(item, &p); err != nil {
		return ContentPart{Kind: PartUnknown}
	}

	switch p.Type {
	case "text":
		if p.Text == nil {
			return ContentPart{Kind: PartUnknown, Type: p.Type}
		}
		return TextPart(*p.Text)
	case "image_url":
		// image_url 可能是 {"url": "..."} 或直接字符串
		var obj struct {
			URL string `json:"url"`
		}
		if err := json.Unmarshal(p.ImageURL, &obj); err == nil {
			return ImagePart(obj.URL)
		}
		var s string
		_ = json.Unmarshal(p.ImageURL, &s)
		return ImagePart(s)
	default:
		return ContentPart{Kind: PartUnknown, Type: p.Type}
	}
}

// MarshalJSON 按原始格式写回
func (c MessageContent) MarshalJSON() ([]byte, error) {
	switch c.kind {
	case contentText:
		return json.Marshal(c.text)
	case contentParts:
		out := make([]map[string]interface{}, 0, len(c.parts))
		for _, p := range c.parts {
			switch p.Kind {
			case PartText:
				out = append(out, map[string]interface{}{"type": "text", "text": p.Text})
			case PartImageURL:
				out = append(out, map[string]interface{}{"type": "image_url", "image_url": map[string]string{"url": p.ImageURL}})
			default:
				out = append(out, map[string]interface{}{"type": p.Type})
			}
		}
		return json.Marshal(out)
	default:
		return []byte("null"), nil
	}
}

// ResponseMessage 响应中的消息（内容总是纯文本）
type ResponseMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ChatCompletionResponse OpenAI 聊天响应
type ChatCompletionResponse struct {
	ID      string                 `json:"id"`
	Object  string                 `json:"object"`
	Created int64                  `json:"created"`
	Model   string                 `json:"model"`
	Choices []ChatCompletionChoice `json:"choices"`
	Usage   *ChatCompletionUsage   `json:"usage,omitempty"`
}

// ChatCompletionChoice 聊天选择
type ChatCompletionChoice struct {
	Index        int             `json:"index"`
	Message      ResponseMessage `json:"message"`
	FinishReason string          `json:"finish_reason"`
}

// ChatCompletionUsage 使用统计
type ChatCompletionUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// ChatCompletionChunk 流式响应块
type ChatCompletionChunk struct {
	ID      string        `json:"id"`
	Object  string        `json:"object"`
	Created int64         `json:"created"`
	Model   string        `json:"model"`
	Choices []ChunkChoice `json:"choices"`
}

// ChunkChoice 流式选择；FinishReason 在最后一块之前必须序列化为 null
type ChunkChoice struct {
	Index        int        `json:"index"`
	Delta        ChunkDelta `json:"delta"`
	FinishReason *string    `json:"finish_reason"`
}

// ChunkDelta 增量内容
type ChunkDelta struct {
	Role    string `json:"role,omitempty"`
	Content string `json:"content,omitempty"`
}

// 对象类型与结束原因
const (
	ObjectChatCompletion      = "chat.completion"
	ObjectChatCompletionChunk = "chat.completion.chunk"

	FinishStop   = "stop"
	FinishLength = "length"
	FinishError  = "error"
)

// ModelInfo 模型信息
type ModelInfo struct {
	ID      string `json:"id"`
	Object  string `json:"object"`
	Created int64  `json:"created"`
	OwnedBy string `json:"owned_by"`
}

// ModelList 模型列表
type ModelList struct {
	Object string      `json:"object"`
	Data   []ModelInfo `json:"data"`
}

// ErrorResponse 错误响应
type ErrorResponse struct {
	Error ErrorDetail `json:"error"`
}

// ErrorDetail 错误详情
type ErrorDetail struct {
	Message string `json:"message"`
	Type    string `json:"type"`
	Param   string `json:"param,omitempty"`
	Code    string `json:"code,omitempty"`
}

// HealthResponse 健康检查响应
type HealthResponse struct {
	Status    string   `json:"status"`
	Gateway   string   `json:"gateway"`
	Models    []string `json:"models"`
	Timestamp int64    `json:"timestamp"`
}

// MaskAPIKey 脱敏API Key
func MaskAPIKey(key string) string {
	if key == "" {
		return "***"
	}

	if len(key) <= 4 {
		return key[:1] + "***"
	}

	if len(key) <= 8 {
		return key[:2] + "***" + key[len(key)-2:]
	}

	return key[:3] + "***" + key[len(key)-4:]
}
