package openai

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"strings"

	openai "github.com/sashabaranov/go-openai"

	"scenariod/llm"
)

// stream implements the llm.Stream interface over an OpenAI streaming response.
// Events are translated incrementally: each Recv produces zero or more events
// which are drained one at a time, so tokens reach the caller as they arrive
// without buffering or batching.
type stream struct {
	ctx     context.Context
	stream  *openai.ChatCompletionStream
	pending []*llm.StreamEvent
	current *llm.StreamEvent
	err     error
	done    bool
	started bool

	// Tool call accumulation state across deltas
	currentToolCall  *llm.ToolUseBlock
	toolInputBuilder strings.Builder
	usage            *llm.Usage
}

// newStream creates a new stream wrapper.
func newStream(ctx context.Context, s *openai.ChatCompletionStream) *stream {
	return &stream{
		ctx:    ctx,
		stream: s,
	}
}

// Next advances to the next event in the stream.
func (s *stream) Next() bool {
	if s.err != nil {
		return false
	}

	if !s.started {
		s.started = true
		s.pending = append(s.pending, &llm.StreamEvent{Type: llm.StreamEventTypeStart})
	}

	// Drain queued events before receiving more
	for len(s.pending) == 0 {
		if s.done {
			return false
		}
		if err := s.ctx.Err(); err != nil {
			s.err = err
			return false
		}
		s.recv()
	}

	s.current = s.pending[0]
	s.pending = s.pending[1:]
	return true
}

// Event returns the current event.
func (s *stream) Event() *llm.StreamEvent {
	return s.current
}

// Err returns any error that occurred during streaming.
func (s *stream) Err() error {
	return s.err
}

// Close closes the stream and releases resources.
func (s *stream) Close() error {
	s.done = true
	if s.stream != nil {
		return s.stream.Close()
	}
	return nil
}

// recv reads one chunk from the upstream stream and queues the resulting events.
func (s *stream) recv() {
	response, err := s.stream.Recv()
	if err != nil {
		if errors.Is(err, io.EOF) || err.Error() == "stream closed" {
			// Stream ended without an explicit finish reason
			s.finish()
			return
		}
		s.err = err
		s.done = true
		return
	}

	if len(response.Choices) == 0 {
		return
	}

	choice := response.Choices[0]

	// Text deltas
	if choice.Delta.Content != "" {
		s.pending = append(s.pending, &llm.StreamEvent{
			Type: llm.StreamEventTypeContentDelta,
			Delta: &llm.StreamDelta{
				Type: llm.StreamDeltaTypeText,
				Text: choice.Delta.Content,
			},
		})
	}

	// Tool call deltas
	for _, toolCallDelta := range choice.Delta.ToolCalls {
		if toolCallDelta.Index == nil {
			continue
		}

		// A new tool call ID finishes any pending one
		if toolCallDelta.ID != "" && (s.currentToolCall == nil || s.currentToolCall.ID != toolCallDelta.ID) {
			s.flushToolInput()
			s.currentToolCall = &llm.ToolUseBlock{
				ID:    toolCallDelta.ID,
				Name:  toolCallDelta.Function.Name,
				Input: make(map[string]interface{}),
			}
			s.pending = append(s.pending, &llm.StreamEvent{
				Type: llm.StreamEventTypeContentBlock,
				Delta: &llm.StreamDelta{
					Type:    llm.StreamDeltaTypeToolUse,
					ToolUse: s.currentToolCall,
				},
			})
		}

		if toolCallDelta.Function.Arguments != "" {
			s.toolInputBuilder.WriteString(toolCallDelta.Function.Arguments)
			s.pending = append(s.pending, &llm.StreamEvent{
				Type: llm.StreamEventTypeContentDelta,
				Delta: &llm.StreamDelta{
					Type:      llm.StreamDeltaTypeToolInput,
					ToolInput: toolCallDelta.Function.Arguments,
				},
			})
		}
	}

	if choice.FinishReason != "" {
		if response.Usage != nil && response.Usage.TotalTokens > 0 {
			s.usage = &llm.Usage{
				InputTokens:  int64(response.Usage.PromptTokens),
				OutputTokens: int64(response.Usage.CompletionTokens),
			}
		}
		s.finish()
	}
}

// flushToolInput parses accumulated argument JSON into the pending tool call.
func (s *stream) flushToolInput() {
	if s.currentToolCall == nil {
		return
	}
	if s.toolInputBuilder.Len() > 0 {
		var input map[string]interface{}
		if err := json.Unmarshal([]byte(s.toolInputBuilder.String()), &input); err == nil {
			s.currentToolCall.Input = input
		}
		s.toolInputBuilder.Reset()
	}
}

// finish queues the terminal events and marks the stream done.
func (s *stream) finish() {
	if s.done {
		return
	}
	s.flushToolInput()
	s.pending = append(s.pending,
		&llm.StreamEvent{
			Type:  llm.StreamEventTypeMessageDelta,
			Usage: s.usage,
		},
		&llm.StreamEvent{
			Type:  llm.StreamEventTypeStop,
			Usage: s.usage,
			Done:  true,
		})
	s.done = true
}

// Ensure stream implements llm.Stream
var _ llm.Stream = (*stream)(nil)
