package transformers

import (
	"strings"

	"google.golang.org/genai"
)

// convertTools maps framework tool groups onto wire tool definitions.
// Groups without function declarations (retrieval configs and the like) are
// skipped. Returns nil when nothing callable was declared.
func convertTools(config *genai.GenerateContentConfig) []toolDef {
	if config == nil || len(config.Tools) == 0 {
		return nil
	}

	var tools []toolDef
	for _, tool := range config.Tools {
		if tool == nil || len(tool.FunctionDeclarations) == 0 {
			continue
		}

		for _, decl := range tool.FunctionDeclarations {
			if decl == nil {
				continue
			}
			tools = append(tools, toolDef{
				Type: "function",
				Function: functionDef{
					Name:        decl.Name,
					Description: decl.Description,
					Parameters:  convertParameters(decl.Parameters),
				},
			})
		}
	}

	return tools
}

func convertParameters(params *genai.Schema) map[string]any {
	if params == nil {
		return nil
	}

	result := map[string]any{
		"type":       "object",
		"properties": map[string]any{},
	}

	if len(params.Properties) > 0 {
		properties := map[string]any{}
		for name, prop := range params.Properties {
			properties[name] = convertSchema(prop)
		}
		result["properties"] = properties
	}

	if len(params.Required) > 0 {
		result["required"] = params.Required
	}

	return result
}

// convertSchema translates a framework schema into JSON-Schema shape.
// Absent fields are omitted rather than emitted as null, so translating an
// already-translated schema is a no-op structurally.
func convertSchema(schema *genai.Schema) map[string]any {
	result := map[string]any{}
	if schema == nil {
		return result
	}

	if schema.Type != genai.TypeUnspecified && schema.Type != "" {
		result["type"] = strings.ToLower(string(schema.Type))
	}

	if schema.Description != "" {
		result["description"] = schema.Description
	}

	if len(schema.Properties) > 0 {
		properties := map[string]any{}
		for name, prop := range schema.Properties {
			properties[name] = convertSchema(prop)
		}
		result["properties"] = properties
	}

	if schema.Items != nil {
		result["items"] = convertSchema(schema.Items)
	}

	if len(schema.Enum) > 0 {
		result["enum"] = schema.Enum
	}

	return result
}
