package schemas

// SystemSchemas returns schemas for command execution tools.
func SystemSchemas() map[string]ToolSchema {
	return map[string]ToolSchema{
		"execute_command": {
			Description: "Execute a shell command and return its output. Commands matching the security blacklist are rejected without running.",
			Schema: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"command": map[string]any{
						"type":        "string",
						"description": "The shell command to execute",
					},
					"timeout": map[string]any{
						"type":        "number",
						"description": "Timeout in seconds (default: 30, max: 300)",
					},
				},
				"required": []string{"command"},
			},
		},
	}
}
