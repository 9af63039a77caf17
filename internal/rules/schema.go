package rules

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// buildDocumentSchema returns the JSON-Schema (draft 2020-12 subset) for the
// rule document as a generic map. Variant-specific fields are optional at the
// schema level; the typed builders in rules.go enforce per-tag semantics.
func buildDocumentSchema() map[string]any {
	ruleProps := map[string]any{
		"nombre": map[string]any{"type": "string", "minLength": 1},
		"tipo":   map[string]any{"type": "string"},
		"patron": map[string]any{"type": "string"},
		"lista": map[string]any{
			"type":  "array",
			"items": map[string]any{"type": "string"},
		},
		"condiciones": map[string]any{
			"type": "array",
			"items": map[string]any{
				"type": "object",
				"properties": map[string]any{
					"marca":  map[string]any{"type": "string"},
					"patron": map[string]any{"type": "string"},
				},
				"required": []string{"marca", "patron"},
			},
		},
		"templates": map[string]any{
			"type":  "array",
			"items": map[string]any{"type": "string"},
		},
		"template": map[string]any{"type": "string"},
		"umbral":   map[string]any{"type": "number", "minimum": -1.0, "maximum": 1.0},
		"patrones": map[string]any{
			"type":  "array",
			"items": map[string]any{"type": "string"},
		},
		"min_idiomas": map[string]any{"type": "integer", "minimum": 0},
	}

	taggedRule := map[string]any{
		"type":       "object",
		"properties": ruleProps,
		"required":   []string{"nombre", "tipo"},
	}
	// Language rules historically omit tipo.
	languageRule := map[string]any{
		"type":       "object",
		"properties": ruleProps,
		"required":   []string{"nombre"},
	}

	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"texto":   map[string]any{"type": "array", "items": taggedRule},
			"visual":  map[string]any{"type": "array", "items": taggedRule},
			"idiomas": map[string]any{"type": "array", "items": languageRule},
		},
	}
}

// validateDocument validates raw rule document JSON against the schema.
func validateDocument(data []byte) error {
	b, err := json.Marshal(buildDocumentSchema())
	if err != nil {
		return fmt.Errorf("marshal schema: %w", err)
	}
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("rules.json", bytes.NewReader(b)); err != nil {
		return fmt.Errorf("add schema: %w", err)
	}
	schema, err := compiler.Compile("rules.json")
	if err != nil {
		return fmt.Errorf("compile schema: %w", err)
	}
	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		return fmt.Errorf("unmarshal rule document: %w", err)
	}
	if err := schema.Validate(v); err != nil {
		return fmt.Errorf("rule document does not match schema: %w", err)
	}
	return nil
}
