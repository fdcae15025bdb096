package llm

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

// replySchema pairs a schema name with its JSON definition. The schemas
// check the field set and types of decoded replies; counts beyond the
// documented limits stay advisory to the model.
type replySchema struct {
	Name       string
	Definition map[string]any
}

// objectivesSchema describes the expected reply for objective generation:
// a JSON array of lärandemål records.
var objectivesSchema = &replySchema{
	Name: "larandemal-reply",
	Definition: map[string]any{
		"type": "array",
		"items": map[string]any{
			"type": "object",
			"properties": map[string]any{
				"larandemal": map[string]any{"type": "string"},
				"indikatorer": map[string]any{
					"type":     "array",
					"items":    map[string]any{"type": "string"},
					"maxItems": 5,
				},
				"referens": map[string]any{"type": "string"},
			},
			"required": []any{"larandemal", "indikatorer", "referens"},
		},
	},
}

// questionsSchema describes the expected reply for question generation:
// a JSON array of flervalsfråga records with exactly three distractors.
var questionsSchema = &replySchema{
	Name: "flervalsfragor-reply",
	Definition: map[string]any{
		"type": "array",
		"items": map[string]any{
			"type": "object",
			"properties": map[string]any{
				"fraga":     map[string]any{"type": "string"},
				"ratt_svar": map[string]any{"type": "string"},
				"distraktorer": map[string]any{
					"type":     "array",
					"items":    map[string]any{"type": "string"},
					"minItems": 3,
					"maxItems": 3,
				},
				"forklaring": map[string]any{"type": "string"},
				"referens":   map[string]any{"type": "string"},
			},
			"required": []any{"fraga", "ratt_svar", "distraktorer", "forklaring", "referens"},
		},
	},
}

// schemaCache caches compiled schemas by name.
var schemaCache sync.Map // map[string]*jsonschema.Schema

// validateReply validates raw JSON against the given reply schema.
func validateReply(schema *replySchema, raw []byte) error {
	var parsed any
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return fmt.Errorf("invalid JSON: %w", err)
	}

	compiled, err := compiledSchema(schema)
	if err != nil {
		return fmt.Errorf("compile schema %q: %w", schema.Name, err)
	}

	if err := compiled.Validate(parsed); err != nil {
		return fmt.Errorf("reply does not match the expected %s shape: %w", schema.Name, err)
	}
	return nil
}

func compiledSchema(schema *replySchema) (*jsonschema.Schema, error) {
	if cached, ok := schemaCache.Load(schema.Name); ok {
		return cached.(*jsonschema.Schema), nil
	}

	// The jsonschema library expects a parsed JSON value, not raw bytes.
	defBytes, err := json.Marshal(schema.Definition)
	if err != nil {
		return nil, fmt.Errorf("marshal schema definition: %w", err)
	}
	var defParsed any
	if err := json.Unmarshal(defBytes, &defParsed); err != nil {
		return nil, fmt.Errorf("parse schema definition: %w", err)
	}

	c := jsonschema.NewCompiler()
	schemaURL := fmt.Sprintf("schema://%s.json", schema.Name)
	if err := c.AddResource(schemaURL, defParsed); err != nil {
		return nil, fmt.Errorf("add resource: %w", err)
	}
	compiled, err := c.Compile(schemaURL)
	if err != nil {
		return nil, fmt.Errorf("compile: %w", err)
	}

	schemaCache.Store(schema.Name, compiled)
	return compiled, nil
}
