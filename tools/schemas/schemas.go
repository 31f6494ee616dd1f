// Package schemas contains the tool schema definitions exposed to the model.
// The schemas describe the input parameters for each tool; the handlers live
// in the tools package.
package schemas

import "scenariod/llm"

// ToolSchema represents a tool's description and JSON schema.
type ToolSchema struct {
	Description string
	Schema      map[string]any
}

// All returns all tool schemas.
func All() map[string]ToolSchema {
	schemas := make(map[string]ToolSchema)

	for name, schema := range SystemSchemas() {
		schemas[name] = schema
	}
	for name, schema := range SearchSchemas() {
		schemas[name] = schema
	}

	return schemas
}

// Specs converts the registered schemas into provider-neutral tool specs.
func Specs() []llm.ToolSpec {
	all := All()
	specs := make([]llm.ToolSpec, 0, len(all))
	for name, schema := range all {
		specs = append(specs, toSpec(name, schema))
	}
	return specs
}

func toSpec(name string, schema ToolSchema) llm.ToolSpec {
	spec := llm.ToolSpec{
		Name:        name,
		Description: schema.Description,
		Schema:      llm.ToolSchema{Type: "object"},
	}

	if t, ok := schema.Schema["type"].(string); ok {
		spec.Schema.Type = t
	}
	if props, ok := schema.Schema["properties"].(map[string]any); ok {
		spec.Schema.Properties = props
	}
	switch req := schema.Schema["required"].(type) {
	case []string:
		spec.Schema.Required = req
	case []any:
		for _, v := range req {
			if s, ok := v.(string); ok {
				spec.Schema.Required = append(spec.Schema.Required, s)
			}
		}
	}

	return spec
}
