package schema

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/xeipuuv/gojsonschema"
)

// entitySchema is the JSON Schema for the canonical entity envelope.
const entitySchema = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "required": ["_key", "_type", "_class"],
  "properties": {
    "_key": { "type": "string", "minLength": 1 },
    "_type": { "type": "string", "minLength": 1 },
    "_class": {
      "type": "array",
      "items": { "type": "string", "minLength": 1 },
      "minItems": 1
    },
    "_rawData": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["name", "rawData"],
        "properties": {
          "name": { "type": "string", "minLength": 1 }
        }
      }
    }
  }
}`

// relationshipSchema is the JSON Schema for the canonical relationship
// envelope. Endpoints are either direct keys or a mapped-endpoint form.
const relationshipSchema = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "required": ["_key", "_type", "_class"],
  "properties": {
    "_key": { "type": "string", "minLength": 1 },
    "_type": { "type": "string", "minLength": 1 },
    "_class": { "type": "string", "minLength": 1 },
    "_fromEntityKey": { "type": "string" },
    "_toEntityKey": { "type": "string" },
    "_mapping": { "type": "object" }
  }
}`

// Validator validates graph objects against the canonical envelope schemas.
// It is the framework's pluggable validation hook; when disabled the
// scheduler forwards objects to the store unvalidated.
type Validator struct {
	entity       *gojsonschema.Schema
	relationship *gojsonschema.Schema
}

// NewValidator compiles the envelope schemas.
func NewValidator() (*Validator, error) {
	entity, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(entitySchema))
	if err != nil {
		return nil, fmt.Errorf("failed to compile entity schema: %w", err)
	}

	relationship, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(relationshipSchema))
	if err != nil {
		return nil, fmt.Errorf("failed to compile relationship schema: %w", err)
	}

	return &Validator{entity: entity, relationship: relationship}, nil
}

// ValidateEntity validates a marshaled entity against the entity envelope.
func (v *Validator) ValidateEntity(entity json.Marshaler) error {
	return v.validate(v.entity, entity, "entity")
}

// ValidateRelationship validates a marshaled relationship against the
// relationship envelope.
func (v *Validator) ValidateRelationship(relationship json.Marshaler) error {
	return v.validate(v.relationship, relationship, "relationship")
}

func (v *Validator) validate(schema *gojsonschema.Schema, object json.Marshaler, kind string) error {
	data, err := object.MarshalJSON()
	if err != nil {
		return fmt.Errorf("failed to marshal %s for validation: %w", kind, err)
	}

	result, err := schema.Validate(gojsonschema.NewBytesLoader(data))
	if err != nil {
		return fmt.Errorf("%s validation error: %w", kind, err)
	}

	if !result.Valid() {
		var details []string
		for _, desc := range result.Errors() {
			details = append(details, fmt.Sprintf("%s: %s", desc.Field(), desc.Description()))
		}
		return fmt.Errorf("%s failed schema validation: %s", kind, strings.Join(details, "; "))
	}

	return nil
}
