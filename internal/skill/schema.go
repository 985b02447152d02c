package skill

import (
	"errors"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// SchemaValidator validates input against a JSON Schema compiled once at
// construction time.
type SchemaValidator struct {
	schema *jsonschema.Schema
}

// NewSchemaValidator compiles the given JSON Schema document (draft 2020-12).
func NewSchemaValidator(ref, schemaJSON string) (*SchemaValidator, error) {
	c := jsonschema.NewCompiler()
	c.Draft = jsonschema.Draft2020

	url := fmt.Sprintf("https://tendo.schemas.local/skills/%s.schema.json", ref)
	if err := c.AddResource(url, strings.NewReader(schemaJSON)); err != nil {
		return nil, fmt.Errorf("loading schema for %s: %w", ref, err)
	}
	schema, err := c.Compile(url)
	if err != nil {
		return nil, fmt.Errorf("compiling schema for %s: %w", ref, err)
	}
	return &SchemaValidator{schema: schema}, nil
}

// Validate returns one Violation per leaf schema failure, or nil when the
// input conforms.
func (v *SchemaValidator) Validate(input map[string]any) []Violation {
	// jsonschema validates any JSON-shaped value; a nil map is an empty object.
	var doc any = input
	if input == nil {
		doc = map[string]any{}
	}

	err := v.schema.Validate(doc)
	if err == nil {
		return nil
	}

	var ve *jsonschema.ValidationError
	if !errors.As(err, &ve) {
		return []Violation{{Field: "", Message: err.Error()}}
	}
	return flatten(ve)
}

// flatten walks the validation error tree and keeps only leaves, which carry
// the specific failed constraints.
func flatten(ve *jsonschema.ValidationError) []Violation {
	if len(ve.Causes) == 0 {
		return []Violation{{
			Field:   ve.InstanceLocation,
			Message: ve.Message,
		}}
	}
	var out []Violation
	for _, cause := range ve.Causes {
		out = append(out, flatten(cause)...)
	}
	return out
}
