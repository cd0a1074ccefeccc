package graphobject

import (
	"fmt"
	"strings"
	"time"

	"github.com/JupiterOne/integration-sdk/errors"
	"github.com/JupiterOne/integration-sdk/schema"
)

// EntityAssign carries the caller-controlled portion of an entity. Class
// accepts a single class string or a []string; Properties are forced onto
// the entity after all source-derived fields and win on conflict.
type EntityAssign struct {
	Key         string
	Type        string
	Class       any
	DisplayName string
	RawData     []RawDataEntry
	Properties  map[string]any
}

// IntegrationEntityInput is the input to CreateIntegrationEntity.
type IntegrationEntityInput struct {
	Assign EntityAssign
	Source map[string]any

	// TagProperties lists tag keys promoted to top-level properties in
	// addition to the common promotion set.
	TagProperties []string
}

// CreateIntegrationEntity deterministically assembles a canonical entity
// from raw provider data and caller assignments. Precedence, low to high:
// whitelisted source fields, derived status and timestamps, expanded tags,
// display name resolution, then the assign record. All failures are
// canonicalization errors; the function never produces a partial entity.
func CreateIntegrationEntity(input IntegrationEntityInput) (*Entity, error) {
	assign := input.Assign
	source := input.Source

	class, err := normalizeClass(assign.Class)
	if err != nil {
		return nil, err
	}
	if assign.Type == "" {
		return nil, errors.NewCanonicalizationError("entity _type is required")
	}

	props := make(map[string]any)

	// Whitelist fold: only fields in the data-model whitelist for the type
	// survive as top-level properties.
	whitelist := schema.PropertiesFor(assign.Type)
	for name, value := range source {
		if whitelist[name] {
			props[name] = value
		}
	}

	// Provider status maps onto the boolean active flag. Any non-"Active"
	// status unsets it; assign may still force a value below.
	if status, ok := source["status"]; ok {
		if status == "Active" {
			props["active"] = true
		} else {
			delete(props, "active")
		}
	}

	if creationDate, ok := source["creationDate"]; ok {
		if millis, ok := epochMillis(creationDate); ok {
			props["createdOn"] = millis
		}
	}

	expandTags(props, source, input.TagProperties)

	displayName := assign.DisplayName
	if displayName == "" {
		if tagName, ok := props["tag.name"].(string); ok {
			displayName = tagName
		}
	}
	if displayName == "" {
		if sourceName, ok := source["name"].(string); ok {
			displayName = sourceName
		}
	}
	if displayName == "" {
		return nil, errors.NewCanonicalizationError(
			fmt.Sprintf("name required: no displayName for entity of _type %q", assign.Type))
	}
	props["displayName"] = displayName

	for name, value := range assign.Properties {
		if strings.HasPrefix(name, "_") {
			continue
		}
		props[name] = value
	}

	rawData, err := buildRawData(source, assign.RawData)
	if err != nil {
		return nil, err
	}

	key := assign.Key
	if key == "" {
		key = sourceID(source)
	}
	if key == "" {
		return nil, errors.NewCanonicalizationError(
			fmt.Sprintf("entity _key required: no key assigned and no source id for _type %q", assign.Type))
	}

	return &Entity{
		Key:        key,
		Type:       assign.Type,
		Class:      class,
		RawData:    rawData,
		Properties: props,
	}, nil
}

// normalizeClass coerces the assign class to a non-empty list.
func normalizeClass(class any) ([]string, error) {
	switch c := class.(type) {
	case string:
		if c == "" {
			return nil, errors.NewCanonicalizationError("entity _class is required")
		}
		return []string{c}, nil
	case []string:
		if len(c) == 0 {
			return nil, errors.NewCanonicalizationError("entity _class is required")
		}
		out := make([]string, len(c))
		copy(out, c)
		return out, nil
	case []any:
		if len(c) == 0 {
			return nil, errors.NewCanonicalizationError("entity _class is required")
		}
		out := make([]string, 0, len(c))
		for _, v := range c {
			s, ok := v.(string)
			if !ok {
				return nil, errors.NewCanonicalizationError(
					fmt.Sprintf("entity _class entries must be strings, got %T", v))
			}
			out = append(out, s)
		}
		return out, nil
	case nil:
		return nil, errors.NewCanonicalizationError("entity _class is required")
	default:
		return nil, errors.NewCanonicalizationError(
			fmt.Sprintf("entity _class must be a string or list of strings, got %T", class))
	}
}

// expandTags lifts source tags of the {Key, Value} shape into tag.<Key>
// properties, promoting common tag keys and requested tagProperties to
// top-level properties as well. An empty tag list is treated as absent.
func expandTags(props map[string]any, source map[string]any, tagProperties []string) {
	rawTags, ok := source["tags"]
	if !ok {
		return
	}

	entries, ok := rawTags.([]any)
	if !ok {
		if typed, isTyped := rawTags.([]map[string]any); isTyped {
			entries = make([]any, len(typed))
			for i, t := range typed {
				entries[i] = t
			}
		} else {
			return
		}
	}

	promoted := make(map[string]bool, len(tagProperties))
	for _, p := range tagProperties {
		promoted[p] = true
	}

	for _, raw := range entries {
		entry, ok := raw.(map[string]any)
		if !ok {
			continue
		}
		key, ok := entry["Key"].(string)
		if !ok || key == "" {
			continue
		}
		value := entry["Value"]

		props["tag."+key] = value
		if schema.IsCommonTagProperty(key) || promoted[key] {
			props[key] = value
		}
	}
}

// buildRawData prepends the default source entry and appends assigned raw
// data, rejecting duplicate names.
func buildRawData(source map[string]any, assigned []RawDataEntry) ([]RawDataEntry, error) {
	var rawData []RawDataEntry
	if len(source) > 0 {
		rawData = append(rawData, RawDataEntry{Name: "default", RawData: source})
	}
	rawData = append(rawData, assigned...)

	seen := make(map[string]bool, len(rawData))
	for _, entry := range rawData {
		if seen[entry.Name] {
			return nil, errors.NewCanonicalizationError(
				fmt.Sprintf("duplicate rawData name: %q", entry.Name))
		}
		seen[entry.Name] = true
	}
	return rawData, nil
}

// sourceID extracts the provider id from the source record as a string.
func sourceID(source map[string]any) string {
	switch id := source["id"].(type) {
	case string:
		return id
	case float64:
		return fmt.Sprintf("%.0f", id)
	case int:
		return fmt.Sprintf("%d", id)
	case int64:
		return fmt.Sprintf("%d", id)
	default:
		return ""
	}
}

// epochMillis coerces a date-like value to epoch milliseconds. Strings are
// parsed against the layouts providers commonly emit; numbers are taken as
// epoch seconds or milliseconds depending on magnitude.
func epochMillis(value any) (int64, bool) {
	switch v := value.(type) {
	case time.Time:
		return v.UnixMilli(), true
	case string:
		layouts := []string{
			time.RFC3339Nano,
			time.RFC3339,
			"2006-01-02 15:04:05",
			"2006-01-02",
		}
		for _, layout := range layouts {
			if t, err := time.Parse(layout, v); err == nil {
				return t.UnixMilli(), true
			}
		}
		return 0, false
	case float64:
		return numberToMillis(int64(v)), true
	case int:
		return numberToMillis(int64(v)), true
	case int64:
		return numberToMillis(v), true
	default:
		return 0, false
	}
}

// numberToMillis treats values above 1e11 as already being in
// milliseconds; smaller values are taken as epoch seconds.
func numberToMillis(n int64) int64 {
	if n > 1e11 {
		return n
	}
	return n * 1000
}
