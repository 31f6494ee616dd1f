package tools

import (
	"bufio"
	"os"
	"strings"

	"github.com/rs/zerolog"
)

// blockAllSentinel blocks every command. It is installed when the blacklist
// cannot be read, so a broken deployment refuses commands instead of allowing
// everything.
const blockAllSentinel = "*"

// Gate decides whether a shell command may run, based on a blacklist loaded
// once at startup. The blacklist is immutable after load.
type Gate struct {
	patterns map[string]struct{}
	logger   zerolog.Logger
}

// LoadGate reads the blacklist file at path. Blank lines and lines starting
// with '#' are skipped; remaining lines are trimmed and deduplicated. If the
// file is missing, unreadable, or yields no patterns, the gate blocks all
// commands.
func LoadGate(path string, logger zerolog.Logger) *Gate {
	logger = logger.With().Str("component", "command_gate").Logger()
	g := &Gate{
		patterns: make(map[string]struct{}),
		logger:   logger,
	}

	file, err := os.Open(path) //#nosec 304 -- blacklist path is operator-controlled
	if err != nil {
		logger.Error().Str("path", path).Err(err).
			Msg("Cannot read command blacklist, blocking all commands")
		g.patterns[blockAllSentinel] = struct{}{}
		return g
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		g.patterns[line] = struct{}{}
	}
	if err := scanner.Err(); err != nil {
		logger.Error().Str("path", path).Err(err).
			Msg("Error reading command blacklist, blocking all commands")
		g.patterns = map[string]struct{}{blockAllSentinel: {}}
		return g
	}

	if len(g.patterns) == 0 {
		logger.Error().Str("path", path).
			Msg("Command blacklist is empty, blocking all commands")
		g.patterns[blockAllSentinel] = struct{}{}
		return g
	}

	logger.Info().Str("path", path).Int("patterns", len(g.patterns)).
		Msg("Loaded command blacklist")
	return g
}

// NewGate builds a gate directly from patterns, mainly for tests. An empty
// pattern list blocks everything.
func NewGate(patterns []string, logger zerolog.Logger) *Gate {
	g := &Gate{
		patterns: make(map[string]struct{}),
		logger:   logger.With().Str("component", "command_gate").Logger(),
	}
	for _, p := range patterns {
		p = strings.TrimSpace(p)
		if p == "" || strings.HasPrefix(p, "#") {
			continue
		}
		g.patterns[p] = struct{}{}
	}
	if len(g.patterns) == 0 {
		g.patterns[blockAllSentinel] = struct{}{}
	}
	return g
}

// IsBlocked reports whether command must not run. A command is blocked when
// the block-all sentinel is installed, when any blacklist pattern occurs as a
// substring anywhere in the command, or when the command's first whitespace
// token exactly matches a pattern.
func (g *Gate) IsBlocked(command string) bool {
	if _, ok := g.patterns[blockAllSentinel]; ok {
		return true
	}

	for pattern := range g.patterns {
		if strings.Contains(command, pattern) {
			g.logger.Warn().Str("command", command).Str("pattern", pattern).
				Msg("Command blocked by blacklist pattern")
			return true
		}
	}

	fields := strings.Fields(command)
	if len(fields) > 0 {
		if _, ok := g.patterns[fields[0]]; ok {
			g.logger.Warn().Str("command", command).Str("pattern", fields[0]).
				Msg("Command blocked by blacklisted executable")
			return true
		}
	}

	return false
}
