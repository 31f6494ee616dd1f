package tools

import (
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func newShellRegistry(t *testing.T, patterns []string) *Registry {
	t.Helper()
	r := NewRegistry(zerolog.Nop())
	r.RegisterShellTool(NewGate(patterns, zerolog.Nop()), t.TempDir())
	return r
}

func execCommand(t *testing.T, r *Registry, args map[string]any) map[string]any {
	t.Helper()
	raw, err := json.Marshal(args)
	if err != nil {
		t.Fatal(err)
	}
	result, err := r.Handle(context.Background(), "execute_command", "test-session", raw)
	if err != nil {
		t.Fatalf("execute_command failed: %v", err)
	}
	out, ok := result.(map[string]any)
	if !ok {
		t.Fatalf("unexpected result type %T", result)
	}
	return out
}

func TestExecuteCommandSuccess(t *testing.T) {
	r := newShellRegistry(t, []string{"rm -rf"})

	out := execCommand(t, r, map[string]any{"command": "echo hello"})
	if out["success"] != true {
		t.Errorf("expected success, got %v", out)
	}
	if !strings.Contains(out["stdout"].(string), "hello") {
		t.Errorf("stdout missing output: %q", out["stdout"])
	}
}

func TestExecuteCommandBlockedReturnsMessage(t *testing.T) {
	r := newShellRegistry(t, []string{"rm -rf"})

	out := execCommand(t, r, map[string]any{"command": "rm -rf /"})
	if out["blocked"] != true {
		t.Fatalf("expected blocked result, got %v", out)
	}
	if out["message"] != blockedCommandMessage {
		t.Errorf("unexpected denial message: %v", out["message"])
	}
	if _, hasStdout := out["stdout"]; hasStdout {
		t.Error("blocked command must not produce stdout")
	}
}

func TestExecuteCommandNonZeroExit(t *testing.T) {
	r := newShellRegistry(t, []string{"rm -rf"})

	out := execCommand(t, r, map[string]any{"command": "exit 3"})
	if out["success"] != false {
		t.Errorf("expected failure, got %v", out)
	}
	if out["exit_code"] != 3 {
		t.Errorf("expected exit code 3, got %v", out["exit_code"])
	}
}

func TestExecuteCommandCapturesStderr(t *testing.T) {
	r := newShellRegistry(t, []string{"rm -rf"})

	out := execCommand(t, r, map[string]any{"command": "echo oops >&2"})
	if !strings.Contains(out["stderr"].(string), "oops") {
		t.Errorf("stderr missing output: %q", out["stderr"])
	}
}

func TestExecuteCommandTimeout(t *testing.T) {
	r := newShellRegistry(t, []string{"rm -rf"})

	raw, _ := json.Marshal(map[string]any{"command": "sleep 5", "timeout": 1})
	start := time.Now()
	_, err := r.Handle(context.Background(), "execute_command", "test-session", raw)
	if err == nil {
		t.Fatal("expected timeout error")
	}
	if !strings.Contains(err.Error(), "timed out") {
		t.Errorf("unexpected error: %v", err)
	}
	if elapsed := time.Since(start); elapsed > 3*time.Second {
		t.Errorf("timeout took too long: %s", elapsed)
	}
}

func TestExecuteCommandEmpty(t *testing.T) {
	r := newShellRegistry(t, []string{"rm -rf"})

	raw, _ := json.Marshal(map[string]any{"command": "   "})
	if _, err := r.Handle(context.Background(), "execute_command", "test-session", raw); err == nil {
		t.Fatal("expected error for empty command")
	}
}

func TestHandleUnknownTool(t *testing.T) {
	r := NewRegistry(zerolog.Nop())

	_, err := r.Handle(context.Background(), "no_such_tool", "s", []byte(`{}`))
	if err == nil || !strings.Contains(err.Error(), "unknown tool") {
		t.Errorf("expected unknown tool error, got %v", err)
	}
}
