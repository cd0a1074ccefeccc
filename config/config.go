// Package config validates and loads integration instance configuration.
// Integrations declare their expected fields; the framework coerces and
// validates supplied values before any step is scheduled, and masks
// sensitive values in log output.
package config

import (
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/JupiterOne/integration-sdk/errors"
)

// FieldType constrains an instance config field's value.
type FieldType string

const (
	// FieldTypeString accepts any string value.
	FieldTypeString FieldType = "string"
	// FieldTypeBoolean accepts booleans, coercing "true"/"false" strings.
	FieldTypeBoolean FieldType = "boolean"
	// FieldTypeNumber accepts numbers, coercing numeric strings.
	FieldTypeNumber FieldType = "number"
)

// InstanceConfigField declares one expected config field.
type InstanceConfigField struct {
	Type FieldType `yaml:"type"`

	// Mask hides the value in rendered config output.
	Mask bool `yaml:"mask"`

	// Optional fields may be absent; everything else is required.
	Optional bool `yaml:"optional"`
}

// InstanceConfigFields maps field name to its declaration.
type InstanceConfigFields map[string]InstanceConfigField

// ValidateInstanceConfig checks values against the declared fields,
// coercing string representations of booleans and numbers. Missing
// required fields and uncoercible values are fatal configuration errors.
// Values for undeclared fields pass through untouched.
func ValidateInstanceConfig(fields InstanceConfigFields, values map[string]any) (map[string]any, error) {
	validated := make(map[string]any, len(values))
	for name, value := range values {
		validated[name] = value
	}

	var missing []string
	for name, field := range fields {
		value, ok := values[name]
		if !ok || value == nil || value == "" {
			if !field.Optional {
				missing = append(missing, name)
			}
			continue
		}

		coerced, err := coerceValue(field.Type, value)
		if err != nil {
			return nil, errors.NewConfigValidationError(
				fmt.Sprintf("config field %q: %s", name, err.Error()))
		}
		validated[name] = coerced
	}

	if len(missing) > 0 {
		sort.Strings(missing)
		return nil, errors.NewConfigValidationError(
			fmt.Sprintf("missing required config fields: %s", strings.Join(missing, ", ")))
	}
	return validated, nil
}

func coerceValue(fieldType FieldType, value any) (any, error) {
	switch fieldType {
	case FieldTypeString, "":
		if s, ok := value.(string); ok {
			return s, nil
		}
		return nil, fmt.Errorf("expected a string, got %T", value)

	case FieldTypeBoolean:
		switch v := value.(type) {
		case bool:
			return v, nil
		case string:
			parsed, err := strconv.ParseBool(v)
			if err != nil {
				return nil, fmt.Errorf("expected a boolean, got %q", v)
			}
			return parsed, nil
		}
		return nil, fmt.Errorf("expected a boolean, got %T", value)

	case FieldTypeNumber:
		switch v := value.(type) {
		case float64:
			return v, nil
		case int:
			return float64(v), nil
		case int64:
			return float64(v), nil
		case string:
			parsed, err := strconv.ParseFloat(v, 64)
			if err != nil {
				return nil, fmt.Errorf("expected a number, got %q", v)
			}
			return parsed, nil
		}
		return nil, fmt.Errorf("expected a number, got %T", value)

	default:
		return nil, fmt.Errorf("unknown field type %q", fieldType)
	}
}

// LoadInstanceConfig reads instance config values from an optional YAML
// file, then applies environment overrides: each declared field reads from
// its SCREAMING_SNAKE_CASE environment variable when set. Pass an empty
// path to load from the environment only.
func LoadInstanceConfig(path string, fields InstanceConfigFields) (map[string]any, error) {
	values := make(map[string]any)

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, errors.NewConfigValidationError(
				fmt.Sprintf("failed to read config file %s: %s", path, err.Error()))
		}
		if err := yaml.Unmarshal(data, &values); err != nil {
			return nil, errors.NewConfigValidationError(
				fmt.Sprintf("failed to parse config file %s: %s", path, err.Error()))
		}
	}

	for name := range fields {
		if env, ok := os.LookupEnv(EnvVarName(name)); ok {
			values[name] = env
		}
	}
	return values, nil
}

// EnvVarName converts a camelCase field name to its environment variable
// form, e.g. "clientId" -> "CLIENT_ID".
func EnvVarName(fieldName string) string {
	var sb strings.Builder
	for i, r := range fieldName {
		if r >= 'A' && r <= 'Z' && i > 0 {
			sb.WriteByte('_')
		}
		sb.WriteRune(r)
	}
	return strings.ToUpper(sb.String())
}

// MaskedConfig renders config values for logging, replacing masked field
// values with a placeholder.
func MaskedConfig(fields InstanceConfigFields, values map[string]any) map[string]any {
	masked := make(map[string]any, len(values))
	for name, value := range values {
		if field, ok := fields[name]; ok && field.Mask {
			masked[name] = "***"
			continue
		}
		masked[name] = value
	}
	return masked
}
