// Package graphobject defines the canonical graph object types produced by
// integration steps and the deterministic canonicalization of raw provider
// data into entities.
package graphobject

import "encoding/json"

// RawDataEntry preserves a piece of raw provider data on an entity. Names
// are unique within one entity; when the source record is non-empty, the
// first entry is named "default" and carries that record.
type RawDataEntry struct {
	Name    string `json:"name"`
	RawData any    `json:"rawData"`
}

// Entity is a canonical graph node. The underscore-prefixed envelope fields
// are fixed; everything else is an open property bag of scalars and scalar
// lists, flattened to the top level on the wire.
type Entity struct {
	Key        string
	Type       string
	Class      []string
	RawData    []RawDataEntry
	Properties map[string]any
}

// Relationship is a canonical graph edge. Endpoint descriptors (direct
// _fromEntityKey/_toEntityKey or a mapped-endpoint _mapping form) live in
// the property bag; the framework treats them as opaque.
type Relationship struct {
	Key        string
	Type       string
	Class      string
	Properties map[string]any
}

// MarshalJSON flattens the entity into a single wire object: the envelope
// fields plus every property at the top level.
func (e *Entity) MarshalJSON() ([]byte, error) {
	flat := make(map[string]any, len(e.Properties)+4)
	for k, v := range e.Properties {
		flat[k] = v
	}
	flat["_key"] = e.Key
	flat["_type"] = e.Type
	flat["_class"] = e.Class
	if len(e.RawData) > 0 {
		flat["_rawData"] = e.RawData
	}
	return json.Marshal(flat)
}

// UnmarshalJSON splits a flattened wire object back into envelope fields
// and the property bag.
func (e *Entity) UnmarshalJSON(data []byte) error {
	var flat map[string]json.RawMessage
	if err := json.Unmarshal(data, &flat); err != nil {
		return err
	}

	if raw, ok := flat["_key"]; ok {
		if err := json.Unmarshal(raw, &e.Key); err != nil {
			return err
		}
		delete(flat, "_key")
	}
	if raw, ok := flat["_type"]; ok {
		if err := json.Unmarshal(raw, &e.Type); err != nil {
			return err
		}
		delete(flat, "_type")
	}
	if raw, ok := flat["_class"]; ok {
		if err := json.Unmarshal(raw, &e.Class); err != nil {
			return err
		}
		delete(flat, "_class")
	}
	if raw, ok := flat["_rawData"]; ok {
		if err := json.Unmarshal(raw, &e.RawData); err != nil {
			return err
		}
		delete(flat, "_rawData")
	}

	e.Properties = make(map[string]any, len(flat))
	for k, raw := range flat {
		var v any
		if err := json.Unmarshal(raw, &v); err != nil {
			return err
		}
		e.Properties[k] = v
	}
	return nil
}

// MarshalJSON flattens the relationship into a single wire object.
func (r *Relationship) MarshalJSON() ([]byte, error) {
	flat := make(map[string]any, len(r.Properties)+3)
	for k, v := range r.Properties {
		flat[k] = v
	}
	flat["_key"] = r.Key
	flat["_type"] = r.Type
	flat["_class"] = r.Class
	return json.Marshal(flat)
}

// UnmarshalJSON splits a flattened wire object back into envelope fields
// and the property bag.
func (r *Relationship) UnmarshalJSON(data []byte) error {
	var flat map[string]json.RawMessage
	if err := json.Unmarshal(data, &flat); err != nil {
		return err
	}

	if raw, ok := flat["_key"]; ok {
		if err := json.Unmarshal(raw, &r.Key); err != nil {
			return err
		}
		delete(flat, "_key")
	}
	if raw, ok := flat["_type"]; ok {
		if err := json.Unmarshal(raw, &r.Type); err != nil {
			return err
		}
		delete(flat, "_type")
	}
	if raw, ok := flat["_class"]; ok {
		if err := json.Unmarshal(raw, &r.Class); err != nil {
			return err
		}
		delete(flat, "_class")
	}

	r.Properties = make(map[string]any, len(flat))
	for k, raw := range flat {
		var v any
		if err := json.Unmarshal(raw, &v); err != nil {
			return err
		}
		r.Properties[k] = v
	}
	return nil
}
