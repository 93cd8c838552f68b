package validation

import (
	"encoding/json"
	"fmt"

	"github.com/xeipuuv/gojsonschema"
)

// Embedded JSON schemas for the payloads that cross the engine's boundary.
// Binding tags catch shape errors; these catch semantic ones (enums,
// ranges) and validate kafka payloads that never pass through gin.
const interactionSchema = `{
	"$schema": "http://json-schema.org/draft-07/schema#",
	"type": "object",
	"required": ["session_id", "item_id", "type"],
	"properties": {
		"session_id": {"type": "string", "minLength": 1},
		"item_id": {"type": "string", "format": "uuid"},
		"type": {"enum": ["view", "click", "like", "dislike", "share", "dwell"]},
		"weight": {"type": "number", "minimum": -1, "maximum": 1},
		"metadata": {"type": "object"}
	}
}`

const contentEventSchema = `{
	"$schema": "http://json-schema.org/draft-07/schema#",
	"type": "object",
	"required": ["item_id"],
	"properties": {
		"item_id": {"type": "string", "format": "uuid"},
		"timestamp": {"type": "string"},
		"item": {
			"type": "object",
			"required": ["id", "title"],
			"properties": {
				"id": {"type": "string", "format": "uuid"},
				"title": {"type": "string", "minLength": 1, "maxLength": 255},
				"categories": {"type": "array", "items": {"type": "string"}},
				"tags": {"type": "array", "items": {"type": "string"}},
				"popularity": {"type": "number", "minimum": 0, "maximum": 1},
				"active": {"type": "boolean"}
			}
		}
	}
}`

const abTestSchema = `{
	"$schema": "http://json-schema.org/draft-07/schema#",
	"type": "object",
	"required": ["name", "variants"],
	"properties": {
		"name": {"type": "string", "minLength": 1, "maxLength": 100},
		"variants": {
			"type": "array",
			"minItems": 1,
			"items": {
				"type": "object",
				"required": ["name"],
				"properties": {
					"name": {"type": "string", "minLength": 1},
					"weight": {"type": "number", "minimum": 0}
				}
			}
		}
	}
}`

// SchemaValidator compiles the embedded schemas once and validates payloads
// against them by name.
type SchemaValidator struct {
	schemas map[string]*gojsonschema.Schema
}

func NewSchemaValidator() (*SchemaValidator, error) {
	sources := map[string]string{
		"interaction":   interactionSchema,
		"content-event": contentEventSchema,
		"ab-test":       abTestSchema,
	}

	sv := &SchemaValidator{schemas: make(map[string]*gojsonschema.Schema, len(sources))}
	for name, source := range sources {
		schema, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(source))
		if err != nil {
			return nil, fmt.Errorf("failed to compile schema %s: %w", name, err)
		}
		sv.schemas[name] = schema
	}
	return sv, nil
}

// ValidateInteraction checks a log_interaction payload.
func (sv *SchemaValidator) ValidateInteraction(data interface{}) *Result {
	return sv.validate("interaction", data)
}

// ValidateContentEvent checks a content-mutation message from the bus.
func (sv *SchemaValidator) ValidateContentEvent(data interface{}) *Result {
	return sv.validate("content-event", data)
}

// ValidateABTest checks an experiment definition.
func (sv *SchemaValidator) ValidateABTest(data interface{}) *Result {
	return sv.validate("ab-test", data)
}

func (sv *SchemaValidator) validate(schemaName string, data interface{}) *Result {
	schema := sv.schemas[schemaName]

	var loader gojsonschema.JSONLoader
	switch v := data.(type) {
	case string:
		loader = gojsonschema.NewStringLoader(v)
	case []byte:
		loader = gojsonschema.NewBytesLoader(v)
	default:
		jsonBytes, err := json.Marshal(data)
		if err != nil {
			return &Result{Errors: []FieldError{{
				Field:   "data",
				Message: fmt.Sprintf("failed to encode payload: %v", err),
			}}}
		}
		loader = gojsonschema.NewBytesLoader(jsonBytes)
	}

	result, err := schema.Validate(loader)
	if err != nil {
		return &Result{Errors: []FieldError{{
			Field:   "document",
			Message: err.Error(),
		}}}
	}

	out := &Result{Valid: result.Valid()}
	for _, e := range result.Errors() {
		out.Errors = append(out.Errors, FieldError{
			Field:   e.Field(),
			Message: e.Description(),
		})
	}
	return out
}

// Result is the outcome of one schema validation.
type Result struct {
	Valid  bool         `json:"valid"`
	Errors []FieldError `json:"errors,omitempty"`
}

// FieldError is one schema violation.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

func (e FieldError) Error() string {
	return fmt.Sprintf("validation error in field %q: %s", e.Field, e.Message)
}

// ErrorDetails renders the violations for the API error envelope.
func (r *Result) ErrorDetails() map[string]interface{} {
	if r.Valid {
		return nil
	}

	fieldErrors := make(map[string][]string)
	for _, e := range r.Errors {
		fieldErrors[e.Field] = append(fieldErrors[e.Field], e.Message)
	}
	return map[string]interface{}{"fieldErrors": fieldErrors}
}
