package bridge

import (
	"encoding/json"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/caboose014/Hue-Savant-Coprocessor/internal/core/document"
)

// bodySchema constrains command bodies to the field types the hub accepts.
// Unknown fields pass through; the hub reports them itself.
const bodySchema = `{
  "type": "object",
  "properties": {
    "on":             {"type": "boolean"},
    "bri":            {"type": "number"},
    "hue":            {"type": "number"},
    "sat":            {"type": "number"},
    "ct":             {"type": "number"},
    "transitiontime": {"type": "number"},
    "bri_inc":        {"type": "number"},
    "xy": {
      "type": "array",
      "items": {"type": "number"},
      "minItems": 2,
      "maxItems": 2
    },
    "alert":  {"type": "string"},
    "effect": {"type": "string"},
    "scene":  {"type": "string"},
    "name":   {"type": "string"}
  }
}`

// validator checks command bodies against bodySchema.
type validator struct {
	schema *jsonschema.Schema
}

func newValidator() (*validator, error) {
	var doc any
	if err := json.Unmarshal([]byte(bodySchema), &doc); err != nil {
		return nil, fmt.Errorf("bridge: unmarshal body schema: %w", err)
	}

	c := jsonschema.NewCompiler()
	if err := c.AddResource("body.json", doc); err != nil {
		return nil, fmt.Errorf("bridge: add body schema: %w", err)
	}
	compiled, err := c.Compile("body.json")
	if err != nil {
		return nil, fmt.Errorf("bridge: compile body schema: %w", err)
	}
	return &validator{schema: compiled}, nil
}

// Validate returns a type_mismatch Error when body does not conform.
func (v *validator) Validate(body document.Map) error {
	if err := v.schema.Validate(map[string]any(body)); err != nil {
		return Errorf(ClassTypeMismatch, "%v", err)
	}
	return nil
}
