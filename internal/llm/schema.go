package llm

import (
	"encoding/json"
	"fmt"
)

// =============================================================================
// RESPONSE SHAPE VALIDATION
// =============================================================================

// FieldType names a JSON value type for shape checking.
type FieldType string

const (
	TypeString FieldType = "string"
	TypeNumber FieldType = "number"
	TypeBool   FieldType = "boolean"
	TypeArray  FieldType = "array"
	TypeObject FieldType = "object"
	TypeAny    FieldType = "any"
)

// FieldSpec constrains one top-level field of the response object.
type FieldSpec struct {
	Type     FieldType
	Required bool
}

// Schema is the shape an LLM response object must conform to: required
// fields must be present with the declared JSON type, optional fields must
// have the declared type when present, and unknown fields are tolerated.
// The Anthropic API has no server-side schema enforcement, so the shape is
// checked client-side.
type Schema map[string]FieldSpec

// Validate reports the first shape violation in raw, or nil.
func (s Schema) Validate(raw json.RawMessage) error {
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(raw, &obj); err != nil {
		return fmt.Errorf("response is not a JSON object: %w", err)
	}

	for name, spec := range s {
		val, ok := obj[name]
		if !ok {
			if spec.Required {
				return fmt.Errorf("missing required field %q", name)
			}
			continue
		}
		if err := checkType(name, spec.Type, val); err != nil {
			return err
		}
	}
	return nil
}

func checkType(name string, want FieldType, val json.RawMessage) error {
	if want == TypeAny {
		return nil
	}
	if string(val) == "null" {
		// null satisfies optional presence but not a typed requirement.
		return fmt.Errorf("field %q is null, want %s", name, want)
	}

	var ok bool
	switch want {
	case TypeString:
		var v string
		ok = json.Unmarshal(val, &v) == nil
	case TypeNumber:
		var v float64
		ok = json.Unmarshal(val, &v) == nil
	case TypeBool:
		var v bool
		ok = json.Unmarshal(val, &v) == nil
	case TypeArray:
		var v []json.RawMessage
		ok = json.Unmarshal(val, &v) == nil
	case TypeObject:
		var v map[string]json.RawMessage
		ok = json.Unmarshal(val, &v) == nil
	default:
		return fmt.Errorf("unknown field type %q in schema", want)
	}
	if !ok {
		return fmt.Errorf("field %q has wrong type, want %s", name, want)
	}
	return nil
}
