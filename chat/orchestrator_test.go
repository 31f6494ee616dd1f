package chat

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"scenariod/llm"
	"scenariod/prompts"
	"scenariod/sessions"
	"scenariod/tools"
)

// fakeClient replays scripted turns. Each turn is either a response or an
// error; requests are recorded for assertions.
type fakeClient struct {
	turns    []fakeTurn
	requests []*llm.Request
}

type fakeTurn struct {
	response *llm.Response
	events   []*llm.StreamEvent
	err      error
}

func (c *fakeClient) next() (fakeTurn, error) {
	if len(c.turns) == 0 {
		return fakeTurn{}, errors.New("fakeClient: no scripted turns left")
	}
	turn := c.turns[0]
	c.turns = c.turns[1:]
	return turn, nil
}

func (c *fakeClient) Synchronous(ctx context.Context, req *llm.Request) (*llm.Response, error) {
	c.requests = append(c.requests, req)
	turn, err := c.next()
	if err != nil {
		return nil, err
	}
	if turn.err != nil {
		return nil, turn.err
	}
	return turn.response, nil
}

func (c *fakeClient) Stream(ctx context.Context, req *llm.Request) (llm.Stream, error) {
	c.requests = append(c.requests, req)
	turn, err := c.next()
	if err != nil {
		return nil, err
	}
	if turn.err != nil && len(turn.events) == 0 {
		return nil, turn.err
	}
	return &fakeStream{events: turn.events, failWith: turn.err}, nil
}

type fakeStream struct {
	events   []*llm.StreamEvent
	current  *llm.StreamEvent
	failWith error
	err      error
}

func (s *fakeStream) Next() bool {
	if len(s.events) == 0 {
		s.err = s.failWith
		return false
	}
	s.current = s.events[0]
	s.events = s.events[1:]
	return true
}

func (s *fakeStream) Event() *llm.StreamEvent { return s.current }
func (s *fakeStream) Err() error              { return s.err }
func (s *fakeStream) Close() error            { return nil }

func textResponse(text string) *llm.Response {
	return &llm.Response{
		Content:    []llm.ContentBlock{{Type: llm.ContentBlockTypeText, Text: text}},
		StopReason: "stop",
	}
}

func toolResponse(id, name string, input map[string]interface{}) *llm.Response {
	return &llm.Response{
		Content: []llm.ContentBlock{{
			Type:    llm.ContentBlockTypeToolUse,
			ToolUse: &llm.ToolUseBlock{ID: id, Name: name, Input: input},
		}},
		StopReason: "tool_use",
	}
}

func tokenEvents(tokens ...string) []*llm.StreamEvent {
	events := []*llm.StreamEvent{{Type: llm.StreamEventTypeStart}}
	for _, tok := range tokens {
		events = append(events, &llm.StreamEvent{
			Type:  llm.StreamEventTypeContentDelta,
			Delta: &llm.StreamDelta{Type: llm.StreamDeltaTypeText, Text: tok},
		})
	}
	return append(events, &llm.StreamEvent{Type: llm.StreamEventTypeStop, Done: true})
}

// recordingHandler captures handler callbacks. reads records the registry
// content observed right after each OnNext, to check the append-first order.
type recordingHandler struct {
	registry  *sessions.Registry
	sessionID string

	tokens   []string
	reads    []string
	complete []string
	errs     []error
}

func (h *recordingHandler) OnNext(token string) {
	h.tokens = append(h.tokens, token)
	if h.registry != nil {
		content, _ := h.registry.Read(h.sessionID)
		h.reads = append(h.reads, content)
	}
}

func (h *recordingHandler) OnComplete(final string) { h.complete = append(h.complete, final) }
func (h *recordingHandler) OnError(err error)       { h.errs = append(h.errs, err) }

func newTestOrchestrator(t *testing.T, client llm.Client) (*Orchestrator, *sessions.Registry, *tools.Registry) {
	t.Helper()
	store := prompts.NewStore(t.TempDir(), zerolog.Nop())
	mgr := prompts.NewManager(store, zerolog.Nop())
	registry := sessions.NewRegistry(30*time.Minute, zerolog.Nop())
	toolReg := tools.NewRegistry(zerolog.Nop())

	o := NewOrchestrator(client, mgr, registry, toolReg, nil, nil,
		Options{Model: "test-model", MaxTokens: 1024}, zerolog.Nop())
	return o, registry, toolReg
}

func TestChatReturnsModelText(t *testing.T) {
	client := &fakeClient{turns: []fakeTurn{{response: textResponse("Hi there")}}}
	o, _, _ := newTestOrchestrator(t, client)
	o.Prompts().AddTemplate("customer_support", "You are support. Today is ${current_date}.")

	got := o.Chat(context.Background(), "hello", "customer_support", nil)
	if got != "Hi there" {
		t.Errorf("got %q", got)
	}

	// The rendered prompt carries the real current date.
	req := client.requests[0]
	wantDate := time.Now().Format("2006-01-02")
	if !strings.Contains(req.System, "Today is "+wantDate) {
		t.Errorf("system prompt not rendered: %q", req.System)
	}
	if req.Model != "test-model" {
		t.Errorf("model not propagated: %q", req.Model)
	}
}

func TestChatUnknownScenarioFallsBack(t *testing.T) {
	client := &fakeClient{turns: []fakeTurn{{response: textResponse("ok")}}}
	o, _, _ := newTestOrchestrator(t, client)

	o.Chat(context.Background(), "hello", "no_such_scenario", nil)

	want := o.Prompts().GetPrompt(prompts.DefaultScenario)
	if client.requests[0].System != want {
		t.Errorf("expected default prompt, got %q", client.requests[0].System)
	}
}

func TestChatFailureReturnsLabeledMessage(t *testing.T) {
	client := &fakeClient{turns: []fakeTurn{{err: errors.New("upstream exploded")}}}
	o, _, _ := newTestOrchestrator(t, client)

	got := o.Chat(context.Background(), "hello", "", nil)
	if !strings.Contains(got, "An error occurred") || !strings.Contains(got, "upstream exploded") {
		t.Errorf("failure message should embed the cause: %q", got)
	}
}

func TestChatExecutesToolThenAnswers(t *testing.T) {
	client := &fakeClient{turns: []fakeTurn{
		{response: toolResponse("call-1", "lookup", map[string]interface{}{"key": "x"})},
		{response: textResponse("found it")},
	}}
	o, _, toolReg := newTestOrchestrator(t, client)

	var gotArgs string
	toolReg.Register("lookup", func(ctx context.Context, sessionID string, args json.RawMessage) (any, error) {
		gotArgs = string(args)
		return map[string]any{"value": 42}, nil
	})

	got := o.Chat(context.Background(), "find x", "", nil)
	if got != "found it" {
		t.Errorf("got %q", got)
	}
	if !strings.Contains(gotArgs, `"key":"x"`) {
		t.Errorf("tool did not receive arguments: %q", gotArgs)
	}

	// The second request carries the tool result back to the model.
	second := client.requests[1]
	last := second.Messages[len(second.Messages)-1]
	if last.Content[0].Type != llm.ContentBlockTypeToolResult {
		t.Fatalf("expected tool result message, got %+v", last)
	}
	if !strings.Contains(last.Content[0].ToolResult.Content, "42") {
		t.Errorf("tool result content missing: %q", last.Content[0].ToolResult.Content)
	}
}

func TestChatAbortsAfterRepeatedToolFailures(t *testing.T) {
	turns := make([]fakeTurn, 0, maxConsecutiveToolFailures)
	for i := 0; i < maxConsecutiveToolFailures; i++ {
		turns = append(turns, fakeTurn{response: toolResponse(fmt.Sprintf("call-%d", i), "broken", nil)})
	}
	client := &fakeClient{turns: turns}
	o, _, toolReg := newTestOrchestrator(t, client)

	toolReg.Register("broken", func(ctx context.Context, sessionID string, args json.RawMessage) (any, error) {
		return nil, errors.New("always fails")
	})

	got := o.Chat(context.Background(), "do it", "", nil)
	if !strings.Contains(got, "An error occurred") || !strings.Contains(got, "broken") {
		t.Errorf("expected abort message naming the tool, got %q", got)
	}
}

func TestStreamChatDeliversTokensInOrder(t *testing.T) {
	client := &fakeClient{turns: []fakeTurn{{events: tokenEvents("Hel", "lo ", "world")}}}
	o, registry, _ := newTestOrchestrator(t, client)

	h := &recordingHandler{registry: registry, sessionID: "s1"}
	if err := o.StreamChat(context.Background(), "s1", "hi", "", nil, h); err != nil {
		t.Fatal(err)
	}

	if strings.Join(h.tokens, "") != "Hello world" {
		t.Errorf("tokens out of order: %v", h.tokens)
	}
	if len(h.complete) != 1 || h.complete[0] != "Hello world" {
		t.Errorf("OnComplete mismatch: %v", h.complete)
	}
	if len(h.errs) != 0 {
		t.Errorf("unexpected errors: %v", h.errs)
	}

	// Registry append happens before each OnNext, so the registry content at
	// every OnNext already includes the delivered token.
	acc := ""
	for i, tok := range h.tokens {
		acc += tok
		if h.reads[i] != acc {
			t.Errorf("read %d = %q, want %q (append must precede OnNext)", i, h.reads[i], acc)
		}
	}

	// Session released on completion.
	if _, ok := registry.Read("s1"); ok {
		t.Error("session should be removed after completion")
	}
}

func TestStreamChatErrorViaHandler(t *testing.T) {
	client := &fakeClient{turns: []fakeTurn{{
		events: tokenEvents("partial")[:2], // Start + one token, no Stop
		err:    errors.New("connection reset"),
	}}}
	o, registry, _ := newTestOrchestrator(t, client)

	h := &recordingHandler{}
	if err := o.StreamChat(context.Background(), "s1", "hi", "", nil, h); err != nil {
		t.Fatal(err)
	}

	if len(h.errs) != 1 || !strings.Contains(h.errs[0].Error(), "connection reset") {
		t.Errorf("error not delivered via handler: %v", h.errs)
	}
	if len(h.complete) != 0 {
		t.Error("OnComplete must not fire after an error")
	}
	if _, ok := registry.Read("s1"); ok {
		t.Error("session should be removed after an error")
	}
}

func TestStreamChatDuplicateSession(t *testing.T) {
	client := &fakeClient{}
	o, registry, _ := newTestOrchestrator(t, client)
	registry.Create("s1")

	err := o.StreamChat(context.Background(), "s1", "hi", "", nil, &recordingHandler{})
	if !errors.Is(err, sessions.ErrDuplicateSession) {
		t.Errorf("expected ErrDuplicateSession, got %v", err)
	}
}

func TestStreamChatRunsTools(t *testing.T) {
	toolEvents := []*llm.StreamEvent{
		{Type: llm.StreamEventTypeStart},
		{Type: llm.StreamEventTypeContentBlock, Delta: &llm.StreamDelta{
			Type:    llm.StreamDeltaTypeToolUse,
			ToolUse: &llm.ToolUseBlock{ID: "call-1", Name: "lookup", Input: map[string]interface{}{"key": "x"}},
		}},
		{Type: llm.StreamEventTypeStop, Done: true},
	}
	client := &fakeClient{turns: []fakeTurn{
		{events: toolEvents},
		{events: tokenEvents("answer")},
	}}
	o, _, toolReg := newTestOrchestrator(t, client)

	called := false
	toolReg.Register("lookup", func(ctx context.Context, sessionID string, args json.RawMessage) (any, error) {
		called = true
		return "ok", nil
	})

	h := &recordingHandler{}
	if err := o.StreamChat(context.Background(), "s1", "find x", "", nil, h); err != nil {
		t.Fatal(err)
	}
	if !called {
		t.Error("tool was not executed")
	}
	if len(h.complete) != 1 || h.complete[0] != "answer" {
		t.Errorf("unexpected completion: %v", h.complete)
	}
}

func TestScenarioSwitchReplacesSystemPrompt(t *testing.T) {
	client := &fakeClient{turns: []fakeTurn{
		{response: textResponse("first")},
		{response: textResponse("second")},
	}}
	o, _, _ := newTestOrchestrator(t, client)
	o.Prompts().AddTemplate("a", "Prompt A")
	o.Prompts().AddTemplate("b", "Prompt B")

	o.Chat(context.Background(), "one", "a", nil)
	o.Chat(context.Background(), "two", "b", nil)

	if client.requests[0].System != "Prompt A" {
		t.Errorf("first system prompt: %q", client.requests[0].System)
	}
	if client.requests[1].System != "Prompt B" {
		t.Errorf("second system prompt: %q", client.requests[1].System)
	}

	// No system-role message lingers inside the retained window.
	for _, msg := range client.requests[1].Messages {
		if msg.Role == llm.RoleSystem {
			t.Error("stale system message retained in transcript window")
		}
	}
}

func TestWindowSnapshotCarriesPinnedPrompt(t *testing.T) {
	w := NewWindow(3)
	w.SetSystemPrompt("Prompt A")
	w.Append(llm.NewTextMessage(llm.RoleUser, "hi"))

	sys, msgs := w.Snapshot()
	if sys != "Prompt A" {
		t.Errorf("snapshot system prompt %q", sys)
	}
	if len(msgs) != 1 {
		t.Errorf("expected 1 message, got %d", len(msgs))
	}

	// Replacement is total: the old prompt is never visible again.
	w.SetSystemPrompt("Prompt B")
	sys, _ = w.Snapshot()
	if sys != "Prompt B" {
		t.Errorf("snapshot system prompt after replace %q", sys)
	}
}

func TestWindowEvictsOldest(t *testing.T) {
	w := NewWindow(3)
	for i := 0; i < 5; i++ {
		w.Append(llm.NewTextMessage(llm.RoleUser, fmt.Sprintf("m%d", i)))
	}

	_, msgs := w.Snapshot()
	if len(msgs) != 3 {
		t.Fatalf("expected 3 messages, got %d", len(msgs))
	}
	if msgs[0].Content[0].Text != "m2" {
		t.Errorf("oldest retained should be m2, got %q", msgs[0].Content[0].Text)
	}
}
