package contacts

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// pageSchema describes one page of the CRM contacts listing
var pageSchema = map[string]any{
	"type":     "object",
	"required": []any{"results"},
	"properties": map[string]any{
		"results": map[string]any{
			"type": "array",
			"items": map[string]any{
				"type":     "object",
				"required": []any{"id"},
				"properties": map[string]any{
					"id": map[string]any{"type": "string", "minLength": 1},
					"properties": map[string]any{
						"type": "object",
						"additionalProperties": map[string]any{
							"type": []any{"string", "null"},
						},
					},
				},
			},
		},
		"paging": map[string]any{
			"type": "object",
			"properties": map[string]any{
				"next": map[string]any{
					"type":     "object",
					"required": []any{"after"},
					"properties": map[string]any{
						"after": map[string]any{"type": "string"},
					},
				},
			},
		},
	},
}

func compileSchema(schemaMap map[string]any) (*jsonschema.Schema, error) {
	b, err := json.Marshal(schemaMap)
	if err != nil {
		return nil, fmt.Errorf("marshal schema: %w", err)
	}
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("contacts_page.json", bytes.NewReader(b)); err != nil {
		return nil, fmt.Errorf("add schema: %w", err)
	}
	schema, err := compiler.Compile("contacts_page.json")
	if err != nil {
		return nil, fmt.Errorf("compile schema: %w", err)
	}
	return schema, nil
}
