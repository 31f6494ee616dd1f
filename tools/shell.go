package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strings"
	"time"
)

const (
	defaultCommandTimeout = 30 * time.Second
	maxCommandTimeout     = 300 * time.Second
	maxOutputBytes        = 1024 * 1024 // 1MB per stream
)

// blockedCommandMessage is returned to the model instead of running a
// blacklisted command. It is a result, not an error, so the model can tell
// the user why nothing happened.
const blockedCommandMessage = "Command rejected: this command matches the security blacklist and was not executed. Choose a safer alternative."

// RegisterShellTool registers execute_command. Every command is checked
// against the gate before anything is spawned; allowed commands run via
// bash -c in the workspace directory with a bounded timeout and capped
// output capture.
func (r *Registry) RegisterShellTool(gate *Gate, workspace string) {
	r.logger.Info().Str("workspace", workspace).Msg("Registering shell tool in registry")

	r.Register("execute_command", func(ctx context.Context, sessionID string, args json.RawMessage) (any, error) {
		var payload struct {
			Command string `json:"command"`
			Timeout int    `json:"timeout"` // in seconds
		}
		if err := json.Unmarshal(args, &payload); err != nil {
			return nil, fmt.Errorf("failed to unmarshal arguments: %w", err)
		}

		command := strings.TrimSpace(payload.Command)
		if command == "" {
			return nil, fmt.Errorf("command cannot be empty")
		}

		if gate.IsBlocked(command) {
			r.logger.Warn().Str("sessionID", sessionID).Str("command", command).
				Msg("Blocked command by blacklist")
			return map[string]any{
				"command": command,
				"blocked": true,
				"message": blockedCommandMessage,
			}, nil
		}

		timeout := defaultCommandTimeout
		if payload.Timeout > 0 {
			timeout = time.Duration(payload.Timeout) * time.Second
		}
		if timeout > maxCommandTimeout {
			timeout = maxCommandTimeout
		}

		cmdCtx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()

		cmd := exec.CommandContext(cmdCtx, "bash", "-c", command) //#nosec G204 -- intentional command execution behind the gate
		cmd.Dir = workspace

		stdout, err := cmd.StdoutPipe()
		if err != nil {
			return nil, fmt.Errorf("failed to create stdout pipe: %w", err)
		}
		stderr, err := cmd.StderrPipe()
		if err != nil {
			return nil, fmt.Errorf("failed to create stderr pipe: %w", err)
		}

		if err := cmd.Start(); err != nil {
			return nil, fmt.Errorf("failed to start command: %w", err)
		}

		stdoutBytes := make([]byte, 0)
		stderrBytes := make([]byte, 0)
		stdoutDone := make(chan error, 1)
		stderrDone := make(chan error, 1)

		go func() {
			buf := make([]byte, 4096)
			for {
				n, err := stdout.Read(buf)
				if n > 0 {
					stdoutBytes = append(stdoutBytes, buf[:n]...)
					if len(stdoutBytes) > maxOutputBytes {
						stdoutDone <- fmt.Errorf("stdout exceeded 1MB limit")
						return
					}
				}
				if err != nil {
					stdoutDone <- err
					return
				}
			}
		}()

		go func() {
			buf := make([]byte, 4096)
			for {
				n, err := stderr.Read(buf)
				if n > 0 {
					stderrBytes = append(stderrBytes, buf[:n]...)
					if len(stderrBytes) > maxOutputBytes {
						stderrDone <- fmt.Errorf("stderr exceeded 1MB limit")
						return
					}
				}
				if err != nil {
					stderrDone <- err
					return
				}
			}
		}()

		cmdDone := make(chan error, 1)
		go func() {
			cmdDone <- cmd.Wait()
		}()

		select {
		case <-cmdCtx.Done():
			_ = cmd.Process.Kill() // Ignore error if process already exited
			return nil, fmt.Errorf("command timed out after %s", timeout)
		case err := <-cmdDone:
			<-stdoutDone
			<-stderrDone

			exitCode := 0
			if err != nil {
				if exitError, ok := err.(*exec.ExitError); ok {
					exitCode = exitError.ExitCode()
				} else {
					return nil, fmt.Errorf("command failed: %w", err)
				}
			}

			return map[string]any{
				"command":   command,
				"exit_code": exitCode,
				"stdout":    string(stdoutBytes),
				"stderr":    string(stderrBytes),
				"success":   exitCode == 0,
			}, nil
		}
	})
}
