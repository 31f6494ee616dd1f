// Package tools implements the tool handlers exposed to the model and the
// registry that dispatches tool calls by name.
package tools

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/rs/zerolog"
)

// ToolHandler handles a tool call within a chat session.
type ToolHandler func(ctx context.Context, sessionID string, args json.RawMessage) (any, error)

// Registry maps tool names to handlers.
type Registry struct {
	handlers map[string]ToolHandler
	logger   zerolog.Logger
}

// NewRegistry creates an empty registry.
func NewRegistry(logger zerolog.Logger) *Registry {
	logger = logger.With().Str("component", "tool_registry").Logger()
	logger.Info().Msg("Creating new tool Registry")
	return &Registry{
		handlers: make(map[string]ToolHandler),
		logger:   logger,
	}
}

// Register registers a handler for a tool name.
func (r *Registry) Register(name string, h ToolHandler) {
	r.logger.Debug().Str("name", name).Msg("Registering tool handler")
	r.handlers[name] = h
}

// Names returns the registered tool names.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.handlers))
	for name := range r.handlers {
		names = append(names, name)
	}
	return names
}

// Handle dispatches a tool call.
func (r *Registry) Handle(ctx context.Context, toolName, sessionID string, argsStr []byte) (any, error) {
	r.logger.Info().Str("tool", toolName).Str("sessionID", sessionID).Msg("Handling tool call")
	args := json.RawMessage(argsStr)
	h, ok := r.handlers[toolName]
	if !ok {
		r.logger.Error().Str("tool", toolName).Msg("Unknown tool requested")
		return nil, fmt.Errorf("unknown tool: %s", toolName)
	}

	// Log arguments (pretty-printed if possible)
	var prettyArgs interface{}
	if err := json.Unmarshal(argsStr, &prettyArgs); err == nil {
		if prettyBytes, err := json.MarshalIndent(prettyArgs, "", "  "); err == nil {
			r.logger.Debug().Str("tool", toolName).Str("args", string(prettyBytes)).Msg("Tool called with arguments")
		}
	}

	result, err := h(ctx, sessionID, args)

	if err != nil {
		r.logger.Warn().Str("tool", toolName).Str("sessionID", sessionID).Err(err).Msg("Tool returned error")
		return result, err
	}

	if resultBytes, e := json.MarshalIndent(result, "", "  "); e == nil {
		strResult := string(resultBytes)
		if len(strResult) > 500 {
			strResult = strResult[:500] + "... (truncated)"
		}
		r.logger.Info().Str("tool", toolName).Str("sessionID", sessionID).Str("result", strResult).Msg("Tool returned result")
	} else {
		r.logger.Info().Str("tool", toolName).Str("sessionID", sessionID).Interface("result", result).Msg("Tool returned result (non-jsonable)")
	}

	return result, nil
}
