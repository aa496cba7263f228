package core

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"talkai-gateway/core/adapter"
	"talkai-gateway/models"
)

// ChunkResult 流式输出的一项：一个 chunk 或一个终止错误
type ChunkResult struct {
	Chunk *models.ChatCompletionChunk
	Err   error
}

type streamState int

const (
	streamOpen streamState = iota
	streamEmitting
	streamClosed
)

// chunkProducer 单个流的状态：Open -> Emitting -> Closed
type chunkProducer struct {
	id      string
	created int64
	model   string
	state   streamState
	out     chan<- ChunkResult
	logger  logrus.FieldLogger
}

// StreamChunks 将上游事件流转换为 OpenAI chunk 序列
// 每个 token 事件一个 chunk，第一块携带 role；最后恰好一个带 finish_reason 的空 delta 块，随后关闭通道。
// 错误作为最后一项发送；ctx 取消后生产者停止
func StreamChunks(ctx context.Context, scanner adapter.EventScanner, model string, logger logrus.FieldLogger) <-chan ChunkResult {
	out := make(chan ChunkResult, 8)
	p := &chunkProducer{
		id:      NewCompletionID(),
		created: time.Now().Unix(),
		model:   model,
		state:   streamOpen,
		out:     out,
		logger:  logger,
	}

	go func() {
		defer close(out)
		p.run(ctx, scanner)
	}()

	return out
}

func (p *chunkProducer) run(ctx context.Context, scanner adapter.EventScanner) {
	for scanner.Scan() {
		if ctx.Err() != nil {
			return
		}

		ev := scanner.Event()
		switch ev.Type {
		case adapter.EventToken:
			delta := models.ChunkDelta{Content: ev.Text}
			if p.state == streamOpen {
				delta.Role = models.RoleAssistant
				p.state = streamEmitting
			}
			if !p.send(ctx, ChunkResult{Chunk: p.chunk(delta, nil)}) {
				return
			}
		case adapter.EventFinish:
			p.finish(ctx, ev.Signal)
			return
		}
	}

	if err := scanner.Err(); err != nil {
		p.state = streamClosed
		p.send(ctx, ChunkResult{Err: err})
		return
	}
	p.finish(ctx, "")
}

func (p *chunkProducer) finish(ctx context.Context, signal string) {
	reason := FinishReason(signal, p.logger)
	p.state = streamClosed
	p.send(ctx, ChunkResult{Chunk: p.chunk(models.ChunkDelta{}, &reason)})
}

func (p *chunkProducer) send(ctx context.Context, r ChunkResult) bool {
	select {
	case p.out <- r:
		return true
	case <-ctx.Done():
		return false
	}
}

func (p *chunkProducer) chunk(delta models.ChunkDelta, finishReason *string) *models.ChatCompletionChunk {
	return &models.ChatCompletionChunk{
		ID:      p.id,
		Object:  models.ObjectChatCompletionChunk,
		Created: p.created,
		Model:   p.model,
		Choices: []models.ChunkChoice{
			{
				Index:        0,
				Delta:        delta,
				FinishReason: finishReason,
			},
		},
	}
}
