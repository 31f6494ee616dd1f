// Package chat coordinates scenario resolution, model calls, tool execution,
// and streaming delivery.
package chat

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/samber/lo"

	"scenariod/conversations"
	"scenariod/llm"
	"scenariod/prompts"
	"scenariod/sessions"
	"scenariod/tools"
)

const (
	defaultWindowSize = 10

	// maxToolIterations bounds the request/tool/request loop for a single
	// chat turn.
	maxToolIterations = 8

	// maxConsecutiveToolFailures aborts the turn when the model keeps
	// retrying a tool that keeps failing.
	maxConsecutiveToolFailures = 3
)

// Handler receives streaming chat output. OnComplete or OnError is called
// exactly once, after the last OnNext.
type Handler interface {
	OnNext(token string)
	OnComplete(finalResponse string)
	OnError(err error)
}

// Options configures an Orchestrator.
type Options struct {
	Model     string
	MaxTokens int64
}

// Orchestrator is the top-level chat coordinator.
type Orchestrator struct {
	client      llm.Client
	prompts     *prompts.Manager
	registry    *sessions.Registry
	tools       *tools.Registry
	specs       []llm.ToolSpec
	transcripts *conversations.Store // optional, nil disables persistence
	window      *Window

	model     string
	maxTokens int64
	logger    zerolog.Logger
}

// NewOrchestrator wires the orchestrator together. transcripts may be nil.
func NewOrchestrator(
	client llm.Client,
	promptMgr *prompts.Manager,
	registry *sessions.Registry,
	toolRegistry *tools.Registry,
	specs []llm.ToolSpec,
	transcripts *conversations.Store,
	opts Options,
	logger zerolog.Logger,
) *Orchestrator {
	return &Orchestrator{
		client:      client,
		prompts:     promptMgr,
		registry:    registry,
		tools:       toolRegistry,
		specs:       specs,
		transcripts: transcripts,
		window:      NewWindow(defaultWindowSize),
		model:       opts.Model,
		maxTokens:   opts.MaxTokens,
		logger:      logger.With().Str("component", "orchestrator").Logger(),
	}
}

// resolveScenario picks the scenario for this call: the explicit tag when
// given, otherwise the process-wide current scenario.
func (o *Orchestrator) resolveScenario(scenario string) string {
	if scenario != "" {
		return scenario
	}
	return o.prompts.CurrentScenario()
}

// Chat handles a synchronous chat turn. Failures never propagate as errors;
// they come back as a labeled human-readable message.
func (o *Orchestrator) Chat(ctx context.Context, message, scenario string, variables map[string]string) string {
	scenario = o.resolveScenario(scenario)
	systemPrompt := o.prompts.GetPromptWithVariables(scenario, variables)
	convID := "sync-" + uuid.NewString()

	o.logger.Info().Str("scenario", scenario).Str("conversation_id", convID).
		Int("message_len", len(message)).Msg("Handling synchronous chat")

	o.window.SetSystemPrompt(systemPrompt)
	userMsg := llm.NewTextMessage(llm.RoleUser, message)
	o.window.Append(userMsg)
	o.persistUser(ctx, convID, scenario, message)

	system, history := o.window.Snapshot()
	text, err := o.runToolLoop(ctx, convID, scenario, system, history)
	if err != nil {
		o.logger.Error().Str("scenario", scenario).Err(err).Msg("Synchronous chat failed")
		return fmt.Sprintf("An error occurred while processing your request: %v", err)
	}

	o.window.Append(llm.NewTextMessage(llm.RoleAssistant, text))
	o.persistAssistant(ctx, convID, scenario, text)
	return text
}

// runToolLoop drives synchronous request/tool cycles until the model returns
// a plain text answer.
func (o *Orchestrator) runToolLoop(ctx context.Context, convID, scenario, systemPrompt string, messages []llm.Message) (string, error) {
	failures := make(map[string]int)

	for iteration := 0; iteration < maxToolIterations; iteration++ {
		resp, err := o.client.Synchronous(ctx, &llm.Request{
			Model:     o.model,
			Messages:  messages,
			System:    systemPrompt,
			Tools:     o.specs,
			MaxTokens: o.maxTokens,
		})
		if err != nil {
			return "", fmt.Errorf("model request failed: %w", err)
		}

		toolCalls := lo.FilterMap(resp.Content, func(block llm.ContentBlock, _ int) (*llm.ToolUseBlock, bool) {
			return block.ToolUse, block.Type == llm.ContentBlockTypeToolUse && block.ToolUse != nil
		})
		if len(toolCalls) == 0 {
			return resp.Text(), nil
		}

		results, err := o.executeToolCalls(ctx, convID, scenario, toolCalls, failures)
		if err != nil {
			return "", err
		}

		messages = append(messages,
			llm.Message{Role: llm.RoleAssistant, Content: resp.Content},
			llm.NewToolResultMessage(results),
		)
	}

	return "", fmt.Errorf("tool loop exceeded %d iterations without a final answer", maxToolIterations)
}

// StreamChat handles a streaming chat turn. Every token is appended to the
// session registry before the handler sees it, so a concurrent poller never
// observes a token the handler has not also received. The session entry is
// released on completion or error; polls after that report not-found.
func (o *Orchestrator) StreamChat(ctx context.Context, sessionID, message, scenario string, variables map[string]string, handler Handler) error {
	if err := o.registry.Create(sessionID); err != nil {
		return fmt.Errorf("create session %s: %w", sessionID, err)
	}
	defer o.registry.Remove(sessionID)

	scenario = o.resolveScenario(scenario)
	systemPrompt := o.prompts.GetPromptWithVariables(scenario, variables)

	o.logger.Info().Str("scenario", scenario).Str("session_id", sessionID).
		Int("message_len", len(message)).Msg("Handling streaming chat")

	o.window.SetSystemPrompt(systemPrompt)
	userMsg := llm.NewTextMessage(llm.RoleUser, message)
	o.window.Append(userMsg)
	o.persistUser(ctx, sessionID, scenario, message)

	system, messages := o.window.Snapshot()
	failures := make(map[string]int)
	var full string

	for iteration := 0; iteration < maxToolIterations; iteration++ {
		text, toolCalls, content, err := o.streamOnce(ctx, sessionID, system, messages, handler)
		if err != nil {
			o.logger.Error().Str("session_id", sessionID).Err(err).Msg("Streaming chat failed")
			handler.OnError(err)
			return nil
		}
		full += text

		if len(toolCalls) == 0 {
			o.window.Append(llm.NewTextMessage(llm.RoleAssistant, full))
			o.persistAssistant(ctx, sessionID, scenario, full)
			handler.OnComplete(full)
			return nil
		}

		results, err := o.executeToolCalls(ctx, sessionID, scenario, toolCalls, failures)
		if err != nil {
			o.logger.Error().Str("session_id", sessionID).Err(err).Msg("Tool execution aborted stream")
			handler.OnError(err)
			return nil
		}

		messages = append(messages,
			llm.Message{Role: llm.RoleAssistant, Content: content},
			llm.NewToolResultMessage(results),
		)
	}

	err := fmt.Errorf("tool loop exceeded %d iterations without a final answer", maxToolIterations)
	handler.OnError(err)
	return nil
}

// streamOnce opens one model stream and drains it, relaying text tokens and
// collecting any tool calls for the caller to execute.
func (o *Orchestrator) streamOnce(ctx context.Context, sessionID, systemPrompt string, messages []llm.Message, handler Handler) (string, []*llm.ToolUseBlock, []llm.ContentBlock, error) {
	stream, err := o.client.Stream(ctx, &llm.Request{
		Model:     o.model,
		Messages:  messages,
		System:    systemPrompt,
		Tools:     o.specs,
		MaxTokens: o.maxTokens,
	})
	if err != nil {
		return "", nil, nil, fmt.Errorf("model request failed: %w", err)
	}
	defer stream.Close()

	var text string
	var toolCalls []*llm.ToolUseBlock

	for stream.Next() {
		event := stream.Event()
		switch event.Type {
		case llm.StreamEventTypeContentDelta:
			if event.Delta != nil && event.Delta.Type == llm.StreamDeltaTypeText && event.Delta.Text != "" {
				token := event.Delta.Text
				// Registry first, handler second. Ordering contract for pollers.
				if appendErr := o.registry.Append(sessionID, token); appendErr != nil {
					return text, nil, nil, fmt.Errorf("session vanished mid-stream: %w", appendErr)
				}
				handler.OnNext(token)
				text += token
			}
		case llm.StreamEventTypeContentBlock:
			if event.Delta != nil && event.Delta.Type == llm.StreamDeltaTypeToolUse && event.Delta.ToolUse != nil {
				toolCalls = append(toolCalls, event.Delta.ToolUse)
			}
		}
	}
	if err := stream.Err(); err != nil {
		return text, nil, nil, fmt.Errorf("stream failed: %w", err)
	}

	content := make([]llm.ContentBlock, 0, len(toolCalls)+1)
	if text != "" {
		content = append(content, llm.ContentBlock{Type: llm.ContentBlockTypeText, Text: text})
	}
	for _, call := range toolCalls {
		content = append(content, llm.ContentBlock{Type: llm.ContentBlockTypeToolUse, ToolUse: call})
	}

	return text, toolCalls, content, nil
}

// executeToolCalls runs each requested tool and collects result blocks.
// A tool failure becomes an error result the model can react to; the same
// tool failing maxConsecutiveToolFailures times in a row aborts the turn.
func (o *Orchestrator) executeToolCalls(ctx context.Context, convID, scenario string, calls []*llm.ToolUseBlock, failures map[string]int) ([]llm.ToolResultBlock, error) {
	results := make([]llm.ToolResultBlock, 0, len(calls))

	for _, call := range calls {
		args, err := json.Marshal(call.Input)
		if err != nil {
			return nil, fmt.Errorf("marshal input for tool %s: %w", call.Name, err)
		}
		o.persistToolCall(ctx, convID, scenario, call)

		result, err := o.tools.Handle(ctx, call.Name, convID, args)
		if err != nil {
			failures[call.Name]++
			if failures[call.Name] >= maxConsecutiveToolFailures {
				return nil, fmt.Errorf("tool %s failed %d times in a row: %w", call.Name, failures[call.Name], err)
			}
			results = append(results, llm.ToolResultBlock{
				ID:      call.ID,
				Content: fmt.Sprintf("tool error: %v", err),
				IsError: true,
			})
			o.persistToolResult(ctx, convID, scenario, call, err.Error(), true)
			continue
		}
		failures[call.Name] = 0

		var content string
		if resultBytes, err := json.Marshal(result); err == nil {
			content = string(resultBytes)
		} else {
			content = fmt.Sprintf("%v", result)
		}
		results = append(results, llm.ToolResultBlock{ID: call.ID, Content: content})
		o.persistToolResult(ctx, convID, scenario, call, result, false)
	}

	return results, nil
}

func (o *Orchestrator) persistUser(ctx context.Context, convID, scenario, content string) {
	if o.transcripts == nil {
		return
	}
	if err := o.transcripts.AppendUserMessage(ctx, convID, scenario, content); err != nil {
		o.logger.Warn().Str("conversation_id", convID).Err(err).Msg("Failed to persist user message")
	}
}

func (o *Orchestrator) persistAssistant(ctx context.Context, convID, scenario, content string) {
	if o.transcripts == nil {
		return
	}
	if err := o.transcripts.AppendAssistantMessage(ctx, convID, scenario, content); err != nil {
		o.logger.Warn().Str("conversation_id", convID).Err(err).Msg("Failed to persist assistant message")
	}
}

func (o *Orchestrator) persistToolCall(ctx context.Context, convID, scenario string, call *llm.ToolUseBlock) {
	if o.transcripts == nil {
		return
	}
	if err := o.transcripts.AppendToolCall(ctx, convID, scenario, call.ID, call.Name, call.Input); err != nil {
		o.logger.Warn().Str("conversation_id", convID).Err(err).Msg("Failed to persist tool call")
	}
}

func (o *Orchestrator) persistToolResult(ctx context.Context, convID, scenario string, call *llm.ToolUseBlock, result any, isError bool) {
	if o.transcripts == nil {
		return
	}
	if err := o.transcripts.AppendToolResult(ctx, convID, scenario, call.ID, call.Name, result, isError); err != nil {
		o.logger.Warn().Str("conversation_id", convID).Err(err).Msg("Failed to persist tool result")
	}
}

// ReadSession exposes the registry poll for the transport layer.
func (o *Orchestrator) ReadSession(sessionID string) (string, bool) {
	return o.registry.Read(sessionID)
}

// Prompts exposes the scenario manager for the transport layer.
func (o *Orchestrator) Prompts() *prompts.Manager {
	return o.prompts
}
