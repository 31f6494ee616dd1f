package schemas

// SearchSchemas returns schemas for web search tools.
func SearchSchemas() map[string]ToolSchema {
	return map[string]ToolSchema{
		"web_search": {
			Description: "Search the web for current information. Returns a summarized answer and the top results with sources.",
			Schema: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"query": map[string]any{
						"type":        "string",
						"description": "The search query",
					},
				},
				"required": []string{"query"},
			},
		},
	}
}
