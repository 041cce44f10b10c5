package vision

import (
	"encoding/json"
	"fmt"

	"google.golang.org/genai"
)

// Schema is the recursive output descriptor attached to a SOP. It mirrors a
// small subset of JSON Schema: scalar types, arrays and objects.
type Schema struct {
	Type       string             `json:"type"`
	Properties map[string]*Schema `json:"properties,omitempty"`
	Required   []string           `json:"required,omitempty"`
	Items      *Schema            `json:"items,omitempty"`
}

// Validate enforces the structural rules before a schema is handed to the
// model: every node has a type, objects have properties covering required,
// arrays have items. Applied recursively.
func (s *Schema) Validate() error {
	return s.validate("$")
}

func (s *Schema) validate(path string) error {
	if s == nil {
		return fmt.Errorf("%w: schema node %s is null", ErrConfig, path)
	}
	if s.Type == "" {
		return fmt.Errorf("%w: schema node %s has no type", ErrConfig, path)
	}
	switch s.Type {
	case "object":
		if s.Properties == nil {
			return fmt.Errorf("%w: object node %s has no properties", ErrConfig, path)
		}
		for _, name := range s.Required {
			if _, ok := s.Properties[name]; !ok {
				return fmt.Errorf("%w: required property %q of %s not in properties", ErrConfig, name, path)
			}
		}
		for name, child := range s.Properties {
			if err := child.validate(path + "." + name); err != nil {
				return err
			}
		}
	case "array":
		if s.Items == nil {
			return fmt.Errorf("%w: array node %s has no items", ErrConfig, path)
		}
		if err := s.Items.validate(path + "[]"); err != nil {
			return err
		}
	}
	return nil
}

// Translate maps the schema onto the SDK's schema type. Unknown scalar type
// names default to string.
func (s *Schema) Translate() *genai.Schema {
	if s == nil {
		return nil
	}
	out := &genai.Schema{}
	switch s.Type {
	case "object":
		out.Type = genai.TypeObject
		out.Required = s.Required
		if len(s.Properties) > 0 {
			out.Properties = make(map[string]*genai.Schema, len(s.Properties))
			for name, child := range s.Properties {
				out.Properties[name] = child.Translate()
			}
		}
	case "array":
		out.Type = genai.TypeArray
		out.Items = s.Items.Translate()
	case "number":
		out.Type = genai.TypeNumber
	case "boolean":
		out.Type = genai.TypeBoolean
	case "string":
		out.Type = genai.TypeString
	default:
		out.Type = genai.TypeString
	}
	return out
}

// CheckOutput re-validates a parsed model response against the schema:
// required properties present, types matching. Defensive; the model is asked
// for this shape but not trusted to deliver it.
func (s *Schema) CheckOutput(value any) error {
	return s.checkOutput("$", value)
}

func (s *Schema) checkOutput(path string, value any) error {
	if s == nil {
		return nil
	}
	switch s.Type {
	case "object":
		obj, ok := value.(map[string]any)
		if !ok {
			return fmt.Errorf("%w: %s: expected object, got %T", ErrAnalysis, path, value)
		}
		for _, name := range s.Required {
			if _, ok := obj[name]; !ok {
				return fmt.Errorf("%w: %s: missing required property %q", ErrAnalysis, path, name)
			}
		}
		for name, child := range s.Properties {
			if v, ok := obj[name]; ok {
				if err := child.checkOutput(path+"."+name, v); err != nil {
					return err
				}
			}
		}
	case "array":
		arr, ok := value.([]any)
		if !ok {
			return fmt.Errorf("%w: %s: expected array, got %T", ErrAnalysis, path, value)
		}
		for i, v := range arr {
			if err := s.Items.checkOutput(fmt.Sprintf("%s[%d]", path, i), v); err != nil {
				return err
			}
		}
	case "number":
		switch value.(type) {
		case float64, json.Number:
		default:
			return fmt.Errorf("%w: %s: expected number, got %T", ErrAnalysis, path, value)
		}
	case "boolean":
		if _, ok := value.(bool); !ok {
			return fmt.Errorf("%w: %s: expected boolean, got %T", ErrAnalysis, path, value)
		}
	default: // string and unknown types
		if _, ok := value.(string); !ok {
			return fmt.Errorf("%w: %s: expected string, got %T", ErrAnalysis, path, value)
		}
	}
	return nil
}
