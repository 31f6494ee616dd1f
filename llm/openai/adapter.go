package openai

import (
	"encoding/json"
	"fmt"

	openai "github.com/sashabaranov/go-openai"

	"scenariod/llm"
)

// ToOpenAIMessages converts llm.Messages to OpenAI chat message format.
func ToOpenAIMessages(msgs []llm.Message) ([]openai.ChatCompletionMessage, error) {
	result := make([]openai.ChatCompletionMessage, 0, len(msgs))
	for _, msg := range msgs {
		openaiMsgs, err := ToOpenAIMessage(msg)
		if err != nil {
			return nil, fmt.Errorf("failed to convert message: %w", err)
		}
		result = append(result, openaiMsgs...)
	}
	return result, nil
}

// ToOpenAIMessage converts a single llm.Message to OpenAI format.
// A message carrying tool results expands into one tool-role message per
// result block; the API requires a separate message for each tool_call_id.
func ToOpenAIMessage(msg llm.Message) ([]openai.ChatCompletionMessage, error) {
	var role string
	switch msg.Role {
	case llm.RoleUser:
		role = openai.ChatMessageRoleUser
	case llm.RoleAssistant:
		role = openai.ChatMessageRoleAssistant
	case llm.RoleSystem:
		role = openai.ChatMessageRoleSystem
	default:
		role = openai.ChatMessageRoleUser // Default fallback
	}

	// OpenAI messages can have text content or tool calls
	var content string
	var toolCalls []openai.ToolCall
	var toolMsgs []openai.ChatCompletionMessage

	for _, block := range msg.Content {
		switch block.Type {
		case llm.ContentBlockTypeText:
			if content != "" {
				content += "\n"
			}
			content += block.Text
		case llm.ContentBlockTypeToolUse:
			if block.ToolUse != nil {
				// OpenAI uses function calling with name and arguments (JSON string)
				argsJSON, err := json.Marshal(block.ToolUse.Input)
				if err != nil {
					return nil, fmt.Errorf("failed to marshal tool input: %w", err)
				}
				toolCalls = append(toolCalls, openai.ToolCall{
					ID:   block.ToolUse.ID,
					Type: openai.ToolTypeFunction,
					Function: openai.FunctionCall{
						Name:      block.ToolUse.Name,
						Arguments: string(argsJSON),
					},
				})
			}
		case llm.ContentBlockTypeToolResult:
			if block.ToolResult != nil {
				toolMsgs = append(toolMsgs, openai.ChatCompletionMessage{
					Role:       openai.ChatMessageRoleTool,
					ToolCallID: block.ToolResult.ID,
					Content:    block.ToolResult.Content,
				})
			}
		}
	}

	// Result-only messages carry nothing besides the per-call tool messages.
	if content == "" && len(toolCalls) == 0 {
		return toolMsgs, nil
	}

	openaiMsg := openai.ChatCompletionMessage{
		Role:    role,
		Content: content,
	}
	if len(toolCalls) > 0 {
		openaiMsg.ToolCalls = toolCalls
	}

	return append([]openai.ChatCompletionMessage{openaiMsg}, toolMsgs...), nil
}

// ToOpenAITools converts llm.ToolSpecs to OpenAI function format.
func ToOpenAITools(specs []llm.ToolSpec) ([]openai.Tool, error) {
	result := make([]openai.Tool, 0, len(specs))
	for i := range specs {
		tool, err := ToOpenAITool(&specs[i])
		if err != nil {
			return nil, fmt.Errorf("failed to convert tool %s: %w", specs[i].Name, err)
		}
		result = append(result, tool)
	}
	return result, nil
}

// ToOpenAITool converts a single llm.ToolSpec to OpenAI Tool format.
func ToOpenAITool(spec *llm.ToolSpec) (openai.Tool, error) {
	properties := make(map[string]interface{})
	if spec.Schema.Properties != nil {
		for k, v := range spec.Schema.Properties {
			properties[k] = v
		}
	}

	parameters := map[string]interface{}{
		"type":       spec.Schema.Type,
		"properties": properties,
	}
	if len(spec.Schema.Required) > 0 {
		parameters["required"] = spec.Schema.Required
	}

	if spec.Schema.ExtraFields != nil {
		for k, v := range spec.Schema.ExtraFields {
			parameters[k] = v
		}
	}

	function := openai.FunctionDefinition{
		Name:        spec.Name,
		Description: spec.Description,
		Parameters:  parameters,
	}

	return openai.Tool{
		Type:     openai.ToolTypeFunction,
		Function: &function,
	}, nil
}

// FromOpenAIToolCall converts an OpenAI tool call response to llm.ToolUseBlock.
func FromOpenAIToolCall(toolCall openai.ToolCall) (*llm.ToolUseBlock, error) {
	var input map[string]interface{}
	if toolCall.Function.Arguments != "" {
		if err := json.Unmarshal([]byte(toolCall.Function.Arguments), &input); err != nil {
			// If parsing fails, create empty map
			input = make(map[string]interface{})
		}
	} else {
		input = make(map[string]interface{})
	}

	return &llm.ToolUseBlock{
		ID:    toolCall.ID,
		Name:  toolCall.Function.Name,
		Input: input,
	}, nil
}
