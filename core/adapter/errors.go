package adapter

import "fmt"

// ValidationError 请求校验失败，在调用上游之前同步返回
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// StreamError 上游在事件流中报告的错误
type StreamError struct {
	Message string
}

func (e *StreamError) Error() string {
	return "upstream stream error: " + e.Message
}
