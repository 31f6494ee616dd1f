// Package config loads and merges scenariod configuration.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"dario.cat/mergo"
	"gopkg.in/yaml.v3"
)

// OpenAIConfig represents configuration for the OpenAI-compatible model endpoint.
type OpenAIConfig struct {
	APIKey    string `yaml:"api_key,omitempty"`    // API key (or OPENAI_API_KEY env)
	BaseURL   string `yaml:"base_url,omitempty"`   // Custom base URL (DeepSeek, vLLM, etc.)
	Model     string `yaml:"model,omitempty"`      // Default model name
	MaxTokens int64  `yaml:"max_tokens,omitempty"` // Max tokens per completion
}

// TavilyConfig represents configuration for the Tavily search API.
type TavilyConfig struct {
	APIKey string `yaml:"api_key,omitempty"` // API key (or TAVILY_API_KEY env)
	APIURL string `yaml:"api_url,omitempty"` // Base URL (default: https://api.tavily.com)
}

// ServerConfig represents configuration for the scenariod daemon.
type ServerConfig struct {
	// Server settings
	Server struct {
		Addr string `yaml:"addr,omitempty"` // HTTP listen address (default: localhost:8080)
	} `yaml:"server,omitempty"`

	OpenAI OpenAIConfig `yaml:"openai,omitempty"`
	Tavily TavilyConfig `yaml:"tavily,omitempty"`

	PromptsDir    string `yaml:"prompts_dir,omitempty"`    // Directory with <scenario>.prompt files
	BlacklistPath string `yaml:"blacklist_path,omitempty"` // Command blacklist file
	Workspace     string `yaml:"workspace,omitempty"`      // Working directory for shell commands

	ChatTimeout       int `yaml:"chat_timeout,omitempty"`        // Seconds, synchronous chat
	StreamTimeout     int `yaml:"stream_timeout,omitempty"`      // Seconds, upper bound on stream lifetime
	SessionTTLMinutes int `yaml:"session_ttl_minutes,omitempty"` // Abandoned streaming sessions reaped after this
}

// GetConfigPath returns the default config file path.
// Can be overridden via SCENARIOD_CONFIG_PATH environment variable.
func GetConfigPath() string {
	if envPath := os.Getenv("SCENARIOD_CONFIG_PATH"); envPath != "" {
		return expandPath(envPath)
	}
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "./.scenariod/config.yaml"
	}
	return filepath.Join(homeDir, ".scenariod", "config.yaml")
}

// expandPath expands ~ to the user's home directory.
func expandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(homeDir, path[2:])
	}
	return path
}

// Load loads the server configuration.
// Defaults are overlaid with the config file (if present), then with environment
// variables for secrets. A missing config file is not an error.
func Load(path string) (*ServerConfig, error) {
	// Step 1: Set defaults
	defaults := ServerConfig{
		OpenAI: OpenAIConfig{
			BaseURL:   "https://api.openai.com/v1",
			Model:     "gpt-4o-mini",
			MaxTokens: 2048,
		},
		Tavily: TavilyConfig{
			APIURL: "https://api.tavily.com",
		},
		PromptsDir:        "system-prompts",
		BlacklistPath:     "command-blacklist.txt",
		Workspace:         ".",
		ChatTimeout:       120,
		StreamTimeout:     30 * 60,
		SessionTTLMinutes: 30,
	}
	defaults.Server.Addr = "localhost:8080"

	// Step 2: Merge config file onto defaults (if it exists)
	expandedPath := expandPath(path)
	if _, err := os.Stat(expandedPath); err == nil {
		configYAML, err := os.ReadFile(expandedPath) //#nosec 304 -- intentional file read for config
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %q: %w", expandedPath, err)
		}

		var fileConfig ServerConfig
		if err := yaml.Unmarshal(configYAML, &fileConfig); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}

		if err := mergo.Merge(&defaults, fileConfig, mergo.WithOverride); err != nil {
			return nil, fmt.Errorf("failed to merge config: %w", err)
		}
	}

	// Step 3: Environment variables override file values for secrets
	if key := os.Getenv("OPENAI_API_KEY"); key != "" {
		defaults.OpenAI.APIKey = key
	}
	if url := os.Getenv("OPENAI_BASE_URL"); url != "" {
		defaults.OpenAI.BaseURL = url
	}
	if model := os.Getenv("OPENAI_MODEL"); model != "" {
		defaults.OpenAI.Model = model
	}
	if key := os.Getenv("TAVILY_API_KEY"); key != "" {
		defaults.Tavily.APIKey = key
	}

	return &defaults, nil
}

// Save saves the configuration to the specified path.
func Save(cfg *ServerConfig, path string) error {
	expandedPath := expandPath(path)

	// Ensure directory exists
	dir := filepath.Dir(expandedPath)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(expandedPath, data, 0o600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}
