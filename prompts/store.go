// Package prompts manages scenario prompt templates and variable substitution.
package prompts

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/rs/zerolog"
)

// DefaultScenario is the scenario every lookup falls back to.
const DefaultScenario = "default"

// builtinScenarios are loaded from the prompts directory at startup, in order.
// The default scenario is loaded first so later fallbacks can reference it.
var builtinScenarios = []string{
	DefaultScenario,
	"translator",
	"code_reviewer",
	"technical_writer",
	"customer_support",
}

// fallbackTemplates are used when a built-in scenario's prompt file is missing
// or unreadable.
var fallbackTemplates = map[string]string{
	DefaultScenario:    "You are a helpful AI assistant. Please provide accurate and concise responses.",
	"translator":       "You are a professional translator. Translate the given text accurately, preserving the meaning and tone of the original while producing natural phrasing in the target language.",
	"code_reviewer":    "You are a professional code reviewer. Review the provided code in detail, covering code quality, performance, security, and best practices.",
	"technical_writer": "You are a professional technical writer. Produce clear, accurate documentation that is easy to understand and follows technical writing conventions.",
	"customer_support": "You are a professional customer support agent. Answer user questions patiently, offer practical solutions, and stay friendly and professional.",
}

// Store holds named prompt templates. Writes upsert; templates are never
// deleted automatically. Safe for concurrent use.
type Store struct {
	mu        sync.RWMutex
	templates map[string]string
	logger    zerolog.Logger
}

// NewStore creates a store seeded with the built-in scenarios.
// Templates are read from <dir>/<scenario>.prompt; a missing or unreadable
// file falls back to the hardcoded template for that scenario.
func NewStore(dir string, logger zerolog.Logger) *Store {
	s := &Store{
		templates: make(map[string]string),
		logger:    logger.With().Str("component", "prompt_store").Logger(),
	}

	for _, scenario := range builtinScenarios {
		s.loadFromFile(dir, scenario)
	}
	return s
}

// loadFromFile loads one scenario's template from disk, falling back to the
// hardcoded text when the file cannot be read.
func (s *Store) loadFromFile(dir, scenario string) {
	path := filepath.Join(dir, scenario+".prompt")
	data, err := os.ReadFile(path) //#nosec 304 -- prompt files are operator-controlled
	if err != nil {
		s.logger.Warn().Str("scenario", scenario).Str("path", path).Err(err).
			Msg("Prompt file not readable, using hardcoded fallback")
		if fallback, ok := fallbackTemplates[scenario]; ok {
			s.templates[scenario] = fallback
		} else {
			s.templates[scenario] = fallbackTemplates[DefaultScenario]
		}
		return
	}

	s.templates[scenario] = strings.TrimSpace(string(data))
	s.logger.Info().Str("scenario", scenario).Str("path", path).Msg("Loaded prompt template")
}

// Get returns the raw template for scenario and whether it exists.
func (s *Store) Get(scenario string) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	tmpl, ok := s.templates[scenario]
	return tmpl, ok
}

// Add upserts a template. The body is arbitrary text; ${var} placeholders are
// resolved at render time, not validated here.
func (s *Store) Add(scenario, template string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.templates[scenario] = template
	s.logger.Info().Str("scenario", scenario).Int("template_len", len(template)).
		Msg("Added prompt template")
}

// List returns all known scenario names, sorted for stable output.
func (s *Store) List() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	names := make([]string, 0, len(s.templates))
	for name := range s.templates {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// mustDefault returns the default template, guaranteed present after NewStore.
func (s *Store) mustDefault() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if tmpl, ok := s.templates[DefaultScenario]; ok {
		return tmpl
	}
	// Unreachable given seeding, but never return an empty system prompt.
	return fallbackTemplates[DefaultScenario]
}

// String implements fmt.Stringer for debug logging.
func (s *Store) String() string {
	return fmt.Sprintf("prompts.Store(%d templates)", len(s.List()))
}
