package chat

import (
	"sync"

	"scenariod/llm"
)

// Window is a bounded conversation memory: a pinned system prompt plus the
// most recent messages, oldest evicted first. A scenario switch replaces the
// system prompt atomically with respect to snapshots.
type Window struct {
	mu     sync.Mutex
	system string
	msgs   []llm.Message
	max    int
}

// NewWindow creates a window retaining at most max messages.
func NewWindow(max int) *Window {
	if max <= 0 {
		max = 10
	}
	return &Window{max: max}
}

// SetSystemPrompt replaces the pinned system prompt. The old prompt is gone
// before any subsequent snapshot, there is no state where both are visible.
func (w *Window) SetSystemPrompt(prompt string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.system = prompt
}

// Append adds a message, evicting the oldest when the window is full.
func (w *Window) Append(msg llm.Message) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.msgs = append(w.msgs, msg)
	if len(w.msgs) > w.max {
		w.msgs = w.msgs[len(w.msgs)-w.max:]
	}
}

// Snapshot returns the current system prompt and a copy of the retained
// messages.
func (w *Window) Snapshot() (string, []llm.Message) {
	w.mu.Lock()
	defer w.mu.Unlock()
	msgs := make([]llm.Message, len(w.msgs))
	copy(msgs, w.msgs)
	return w.system, msgs
}
