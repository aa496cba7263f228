package adapter

// TalkAI Request Structures

const (
	talkAIRequestType = "chat"

	FromUser      = "you"
	FromAssistant = "assistant"
)

type TalkAIRequest struct {
	Type            string          `json:"type"`
	MessagesHistory []TalkAIMessage `json:"messagesHistory"`
	Settings        TalkAISettings  `json:"settings"`

	// Stream 只决定网关的输出方式；上游总是以 SSE 返回
	Stream bool `json:"-"`
}

type TalkAIMessage struct {
	ID      string `json:"id"`
	From    string `json:"from"` // "you" or "assistant"
	Content string `json:"content"`
}

type TalkAISettings struct {
	Model       string   `json:"model"`
	Temperature float64  `json:"temperature"`
	TopP        *float64 `json:"top_p,omitempty"`
	MaxTokens   *int     `json:"max_tokens,omitempty"`
}

// TalkAI Streaming

const (
	// endOfTurn 上游在 data 行中发送的结束标记
	endOfTurn = "-1"

	eventError = "error"
)

// 显式结束事件名，data 为结束原因
var finishEventNames = map[string]bool{
	"finish": true,
	"done":   true,
	"end":    true,
}
