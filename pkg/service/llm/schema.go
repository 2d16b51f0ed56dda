package llm

import (
	"encoding/json"

	"github.com/google/jsonschema-go/jsonschema"
	"github.com/m-mizutani/goerr/v2"
	"google.golang.org/genai"
)

// Schema is a structured output contract. The same definition constrains
// the model response and validates what comes back.
type Schema struct {
	genai    *genai.Schema
	resolved *jsonschema.Resolved
}

// NewSchema converts and resolves a JSON Schema
func NewSchema(s *jsonschema.Schema) (*Schema, error) {
	converted, err := convertJSONSchemaToGenai(s)
	if err != nil {
		return nil, err
	}
	resolved, err := s.Resolve(nil)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to resolve JSON schema")
	}
	return &Schema{genai: converted, resolved: resolved}, nil
}

func mustSchema(s *jsonschema.Schema) *Schema {
	schema, err := NewSchema(s)
	if err != nil {
		panic(err)
	}
	return schema
}

// Decode parses raw, validates it against the schema and stores it in out
func (x *Schema) Decode(raw string, out any) error {
	var instance any
	if err := json.Unmarshal([]byte(raw), &instance); err != nil {
		return goerr.Wrap(ErrInvalidStructuredOutput, "response is not JSON",
			goerr.V("parse_error", err.Error()),
			goerr.V("raw", raw))
	}
	if err := x.resolved.Validate(instance); err != nil {
		return goerr.Wrap(ErrInvalidStructuredOutput, "response does not match schema",
			goerr.V("validation_error", err.Error()),
			goerr.V("raw", raw))
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal([]byte(raw), out); err != nil {
		return goerr.Wrap(ErrInvalidStructuredOutput, "failed to decode response",
			goerr.V("decode_error", err.Error()))
	}
	return nil
}

// nonEmptyString returns a fresh node; resolved schemas must form a tree
func nonEmptyString() *jsonschema.Schema {
	return &jsonschema.Schema{Type: "string", MinLength: jsonschema.Ptr(1)}
}

// RefinedRuleSchema is the record returned by the refine flow
var RefinedRuleSchema = mustSchema(&jsonschema.Schema{
	Type: "object",
	Properties: map[string]*jsonschema.Schema{
		"category":      nonEmptyString(),
		"attributeName": nonEmptyString(),
		"values":        nonEmptyString(),
		"rule":          nonEmptyString(),
	},
	Required: []string{"category", "attributeName", "values", "rule"},
})

// TestResultsSchema is the array returned by rule verification
var TestResultsSchema = mustSchema(&jsonschema.Schema{
	Type: "array",
	Items: &jsonschema.Schema{
		Type: "object",
		Properties: map[string]*jsonschema.Schema{
			"sample": {Type: "string"},
			"result": {Type: "string", Enum: []any{"pass", "fail"}},
			"reason": {Type: "string"},
		},
		Required: []string{"sample", "result", "reason"},
	},
})

// convertJSONSchemaToGenai converts JSON Schema to Gemini genai.Schema
func convertJSONSchemaToGenai(schema *jsonschema.Schema) (*genai.Schema, error) {
	if schema == nil {
		return nil, nil
	}

	out := &genai.Schema{Description: schema.Description}

	switch schema.Type {
	case "object":
		out.Type = genai.TypeObject
	case "string":
		out.Type = genai.TypeString
	case "integer":
		out.Type = genai.TypeInteger
	case "number":
		out.Type = genai.TypeNumber
	case "boolean":
		out.Type = genai.TypeBoolean
	case "array":
		out.Type = genai.TypeArray
	default:
		if schema.Type != "" {
			return nil, goerr.New("unsupported schema type", goerr.V("type", schema.Type))
		}
	}

	for _, v := range schema.Enum {
		if s, ok := v.(string); ok {
			out.Enum = append(out.Enum, s)
		}
	}

	if len(schema.Properties) > 0 {
		out.Properties = make(map[string]*genai.Schema, len(schema.Properties))
		for name, prop := range schema.Properties {
			converted, err := convertJSONSchemaToGenai(prop)
			if err != nil {
				return nil, goerr.Wrap(err, "failed to convert property schema", goerr.V("property", name))
			}
			out.Properties[name] = converted
		}
	}

	if len(schema.Required) > 0 {
		out.Required = schema.Required
		// keep the model output in the declared order of required fields
		out.PropertyOrdering = schema.Required
	}

	if schema.Items != nil {
		converted, err := convertJSONSchemaToGenai(schema.Items)
		if err != nil {
			return nil, goerr.Wrap(err, "failed to convert items schema")
		}
		out.Items = converted
	}

	return out, nil
}
