package adapter

import (
	"bufio"
	"io"
	"strings"
)

// TalkAIStreamScanner 逐行解析 TalkAI 的 SSE 输出
// 每个 data 行是一个事件；"-1" 表示本轮结束；正常 EOF 也视为结束
type TalkAIStreamScanner struct {
	scanner   *bufio.Scanner
	eventName string
	current   StreamEvent
	err       error
	done      bool
}

func NewTalkAIStreamScanner(r io.Reader) *TalkAIStreamScanner {
	scanner := bufio.NewScanner(r)
	// 设置较大的缓冲区以处理长行
	buf := make([]byte, 0, 64*1024)
	scanner.Buffer(buf, 1024*1024)
	return &TalkAIStreamScanner{scanner: scanner}
}

func (s *TalkAIStreamScanner) Scan() bool {
	if s.done {
		return false
	}

	for s.scanner.Scan() {
		line := strings.TrimRight(s.scanner.Text(), "\r")

		switch {
		case line == "":
			// 空行结束一个 SSE 事件
			s.eventName = ""
			continue
		case strings.HasPrefix(line, "event:"):
			s.eventName = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
			continue
		case !strings.HasPrefix(line, "data:"):
			// 注释 (":ping")、id:、retry: 等
			continue
		}

		data := strings.TrimPrefix(strings.TrimPrefix(line, "data:"), " ")
		data = strings.ReplaceAll(data, `\n`, "\n")

		if s.eventName == eventError {
			s.done = true
			s.err = &StreamError{Message: strings.TrimSpace(data)}
			return false
		}
		if finishEventNames[s.eventName] {
			return s.finish(strings.TrimSpace(data))
		}
		if strings.TrimSpace(data) == endOfTurn {
			return s.finish(endOfTurn)
		}
		if data == "" {
			continue
		}

		s.current = StreamEvent{Type: EventToken, Text: data}
		return true
	}

	s.done = true
	if err := s.scanner.Err(); err != nil {
		s.err = err
		return false
	}
	// 上游直接关闭连接，没有发送结束标记
	s.current = StreamEvent{Type: EventFinish}
	return true
}

func (s *TalkAIStreamScanner) finish(signal string) bool {
	s.done = true
	s.current = StreamEvent{Type: EventFinish, Signal: signal}
	return true
}

func (s *TalkAIStreamScanner) Event() StreamEvent {
	return s.current
}

func (s *TalkAIStreamScanner) Err() error {
	return s.err
}
