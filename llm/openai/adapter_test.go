package openai

import (
	"strings"
	"testing"

	openai "github.com/sashabaranov/go-openai"

	"scenariod/llm"
)

func TestToOpenAIMessageText(t *testing.T) {
	msgs, err := ToOpenAIMessage(llm.NewTextMessage(llm.RoleUser, "hello"))
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 1 {
		t.Fatalf("expected 1 message, got %d", len(msgs))
	}
	if msgs[0].Role != openai.ChatMessageRoleUser || msgs[0].Content != "hello" {
		t.Errorf("unexpected message: %+v", msgs[0])
	}
}

// One turn carrying several tool results must become one tool-role message
// per tool_call_id; a combined message is rejected upstream.
func TestToolResultsExpandPerCall(t *testing.T) {
	msg := llm.NewToolResultMessage([]llm.ToolResultBlock{
		{ID: "call-1", Content: `{"value":1}`},
		{ID: "call-2", Content: `{"value":2}`},
	})

	msgs, err := ToOpenAIMessage(msg)
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 2 {
		t.Fatalf("expected 2 messages, got %d: %+v", len(msgs), msgs)
	}

	for i, want := range []struct {
		id      string
		content string
	}{
		{"call-1", `{"value":1}`},
		{"call-2", `{"value":2}`},
	} {
		got := msgs[i]
		if got.Role != openai.ChatMessageRoleTool {
			t.Errorf("message %d role %q", i, got.Role)
		}
		if got.ToolCallID != want.id {
			t.Errorf("message %d tool_call_id %q, want %q", i, got.ToolCallID, want.id)
		}
		if got.Content != want.content {
			t.Errorf("message %d content %q, want %q", i, got.Content, want.content)
		}
	}
}

func TestToOpenAIMessagesFlattensToolResults(t *testing.T) {
	msgs, err := ToOpenAIMessages([]llm.Message{
		llm.NewTextMessage(llm.RoleUser, "run both"),
		{
			Role: llm.RoleAssistant,
			Content: []llm.ContentBlock{
				{Type: llm.ContentBlockTypeToolUse, ToolUse: &llm.ToolUseBlock{
					ID: "call-1", Name: "web_search", Input: map[string]interface{}{"query": "go"},
				}},
				{Type: llm.ContentBlockTypeToolUse, ToolUse: &llm.ToolUseBlock{
					ID: "call-2", Name: "execute_command", Input: map[string]interface{}{"command": "ls"},
				}},
			},
		},
		llm.NewToolResultMessage([]llm.ToolResultBlock{
			{ID: "call-1", Content: "results"},
			{ID: "call-2", Content: "listing"},
		}),
	})
	if err != nil {
		t.Fatal(err)
	}

	// user + assistant(with 2 tool calls) + 2 tool messages
	if len(msgs) != 4 {
		t.Fatalf("expected 4 messages, got %d", len(msgs))
	}
	if len(msgs[1].ToolCalls) != 2 {
		t.Errorf("assistant message should carry both tool calls: %+v", msgs[1])
	}
	if msgs[2].ToolCallID != "call-1" || msgs[3].ToolCallID != "call-2" {
		t.Errorf("tool messages out of order: %q %q", msgs[2].ToolCallID, msgs[3].ToolCallID)
	}
	if !strings.Contains(msgs[1].ToolCalls[0].Function.Arguments, "query") {
		t.Errorf("tool call arguments missing: %+v", msgs[1].ToolCalls[0])
	}
}

func TestAssistantTextWithToolCall(t *testing.T) {
	msgs, err := ToOpenAIMessage(llm.Message{
		Role: llm.RoleAssistant,
		Content: []llm.ContentBlock{
			{Type: llm.ContentBlockTypeText, Text: "let me check"},
			{Type: llm.ContentBlockTypeToolUse, ToolUse: &llm.ToolUseBlock{
				ID: "call-1", Name: "web_search", Input: map[string]interface{}{},
			}},
		},
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 1 {
		t.Fatalf("expected 1 message, got %d", len(msgs))
	}
	if msgs[0].Content != "let me check" || len(msgs[0].ToolCalls) != 1 {
		t.Errorf("content and tool call should coexist: %+v", msgs[0])
	}
}
