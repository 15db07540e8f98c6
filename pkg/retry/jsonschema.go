package retry

import (
	"encoding/json"
	"fmt"
)

// ValidationError reports where, on which keyword, and why a value
// failed JSONSchema validation — same path/keyword/message shape as the
// pkg/workflow/schema validation errors.
type ValidationError struct {
	Path string
	Keyword string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s: %s", e.Path, e.Keyword, e.Message)
}

// JSONSchema is an OutputSchema backed by a hand-rolled subset of JSON
// Schema Draft 7 (type, properties, required, enum, items), matching
// the pkg/workflow/schema.DefaultValidator in scope and
// style. archflow's results are already decoded Go values (map/slice
// trees from tool outputs), so the schema tree itself is the only thing
// that needs parsing.
type JSONSchema struct {
	schema map[string]any
}

// NewJSONSchema wraps a decoded JSON Schema document.
func NewJSONSchema(schema map[string]any) *JSONSchema {
	return &JSONSchema{schema: schema}
}

// Validate implements OutputSchema.
func (s *JSONSchema) Validate(result any) error {
	return s.validate(s.schema, result, "$")
}

func (s *JSONSchema) validate(schema map[string]any, data any, path string) error {
	schemaType, ok := schema["type"].(string)
	if !ok {
		return nil
	}
	if err := validateType(schemaType, data, path); err != nil {
		return err
	}

	switch schemaType {
	case "object":
		return s.validateObject(schema, data, path)
	case "array":
		return s.validateArray(schema, data, path)
	case "string":
		return validateStringEnum(schema, data, path)
	}
	return nil
}

func validateType(schemaType string, data any, path string) error {
	switch schemaType {
	case "object":
		if _, ok := data.(map[string]any); !ok {
			return &ValidationError{Path: path, Keyword: "type", Message: fmt.Sprintf("expected object, got %T", data)}
		}
	case "array":
		if _, ok := data.([]any); !ok {
			return &ValidationError{Path: path, Keyword: "type", Message: fmt.Sprintf("expected array, got %T", data)}
		}
	case "string":
		if _, ok := data.(string); !ok {
			return &ValidationError{Path: path, Keyword: "type", Message: fmt.Sprintf("expected string, got %T", data)}
		}
	case "number":
		switch data.(type) {
		case float64, float32, int, int64:
		default:
			return &ValidationError{Path: path, Keyword: "type", Message: fmt.Sprintf("expected number, got %T", data)}
		}
	case "integer":
		switch v := data.(type) {
		case float64:
			if v != float64(int64(v)) {
				return &ValidationError{Path: path, Keyword: "type", Message: fmt.Sprintf("expected integer, got %v", v)}
			}
		case int, int64:
		default:
			return &ValidationError{Path: path, Keyword: "type", Message: fmt.Sprintf("expected integer, got %T", data)}
		}
	case "boolean":
		if _, ok := data.(bool); !ok {
			return &ValidationError{Path: path, Keyword: "type", Message: fmt.Sprintf("expected boolean, got %T", data)}
		}
	default:
		return fmt.Errorf("retry: unsupported schema type: %s", schemaType)
	}
	return nil
}

func (s *JSONSchema) validateObject(schema map[string]any, data any, path string) error {
	obj, ok := data.(map[string]any)
	if !ok {
		return &ValidationError{Path: path, Keyword: "type", Message: fmt.Sprintf("expected object, got %T", data)}
	}

	if required, ok := schema["required"].([]any); ok {
		for _, r := range required {
			name, ok := r.(string)
			if !ok {
				continue
			}
			if _, exists := obj[name]; !exists {
				return &ValidationError{Path: path, Keyword: "required", Message: "missing required field: " + name}
			}
		}
	}

	if properties, ok := schema["properties"].(map[string]any); ok {
		for name, value := range obj {
			if propSchema, ok := properties[name].(map[string]any); ok {
				if err := s.validate(propSchema, value, path+"."+name); err != nil {
					return err
				}
			}
			// extra fields not named in properties are allowed.
		}
	}
	return nil
}

func (s *JSONSchema) validateArray(schema map[string]any, data any, path string) error {
	arr, ok := data.([]any)
	if !ok {
		return &ValidationError{Path: path, Keyword: "type", Message: fmt.Sprintf("expected array, got %T", data)}
	}
	items, ok := schema["items"].(map[string]any)
	if !ok {
		return nil
	}
	for i, item := range arr {
		if err := s.validate(items, item, fmt.Sprintf("%s[%d]", path, i)); err != nil {
			return err
		}
	}
	return nil
}

func validateStringEnum(schema map[string]any, data any, path string) error {
	str, ok := data.(string)
	if !ok {
		return &ValidationError{Path: path, Keyword: "type", Message: fmt.Sprintf("expected string, got %T", data)}
	}
	enum, ok := schema["enum"].([]any)
	if !ok {
		return nil
	}
	for _, allowed := range enum {
		if s, ok := allowed.(string); ok && s == str {
			return nil
		}
	}
	enumJSON, _ := json.Marshal(enum)
	return &ValidationError{Path: path, Keyword: "enum", Message: fmt.Sprintf("value %q not in allowed values: %s", str, enumJSON)}
}
