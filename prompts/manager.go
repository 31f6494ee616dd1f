package prompts

import (
	"sync"

	"github.com/rs/zerolog"
)

// Manager resolves scenario names to rendered system prompts and tracks the
// process-wide default scenario plus the dynamic variable table.
type Manager struct {
	store *Store

	mu        sync.RWMutex
	current   string
	variables map[string]string

	logger zerolog.Logger
}

// NewManager creates a manager over the given store, starting on the default
// scenario with an empty variable table.
func NewManager(store *Store, logger zerolog.Logger) *Manager {
	return &Manager{
		store:     store,
		current:   DefaultScenario,
		variables: make(map[string]string),
		logger:    logger.With().Str("component", "prompt_manager").Logger(),
	}
}

// GetPrompt returns the fully rendered system prompt for scenario.
// An unknown scenario falls back to the default template with a warning;
// this never fails, a chat must always have a system prompt.
func (m *Manager) GetPrompt(scenario string) string {
	template, ok := m.store.Get(scenario)
	if !ok {
		m.logger.Warn().Str("scenario", scenario).
			Msg("Unknown scenario, falling back to default prompt")
		template = m.store.mustDefault()
	}

	m.mu.RLock()
	vars := make(map[string]string, len(m.variables))
	for k, v := range m.variables {
		vars[k] = v
	}
	m.mu.RUnlock()

	return Render(template, vars)
}

// GetPromptWithVariables renders scenario's template with the manager's
// variable table overlaid by the per-call extras. Extras win on key collision
// but do not mutate the manager state.
func (m *Manager) GetPromptWithVariables(scenario string, extra map[string]string) string {
	template, ok := m.store.Get(scenario)
	if !ok {
		m.logger.Warn().Str("scenario", scenario).
			Msg("Unknown scenario, falling back to default prompt")
		template = m.store.mustDefault()
	}

	m.mu.RLock()
	vars := make(map[string]string, len(m.variables)+len(extra))
	for k, v := range m.variables {
		vars[k] = v
	}
	m.mu.RUnlock()
	for k, v := range extra {
		vars[k] = v
	}

	return Render(template, vars)
}

// AddTemplate registers or replaces a scenario template.
func (m *Manager) AddTemplate(scenario, template string) {
	m.store.Add(scenario, template)
}

// ListScenarios returns all registered scenario names.
func (m *Manager) ListScenarios() []string {
	return m.store.List()
}

// CurrentScenario returns the process-wide default scenario.
func (m *Manager) CurrentScenario() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current
}

// SetCurrentScenario switches the default scenario. The name is accepted even
// if no template is registered yet; resolution falls back at render time.
func (m *Manager) SetCurrentScenario(scenario string) {
	m.mu.Lock()
	m.current = scenario
	m.mu.Unlock()
	m.logger.Info().Str("scenario", scenario).Msg("Switched current scenario")
}

// SetVariable sets one dynamic variable.
func (m *Manager) SetVariable(name, value string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.variables[name] = value
}

// SetVariables merges a batch of dynamic variables into the table.
func (m *Manager) SetVariables(vars map[string]string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for k, v := range vars {
		m.variables[k] = v
	}
}

// ClearVariables drops every dynamic variable.
func (m *Manager) ClearVariables() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.variables = make(map[string]string)
}
